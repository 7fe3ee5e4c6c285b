// Package ws pushes album tagging progress to browsers over WebSocket.
//
// Clients connect to /ws/progress?album=<id>. The hub sends the album's
// stats immediately, again on every tick of the interval passed to New, and
// whenever Notify is called for that album (the API does so after each tag
// write).
//
// Message format:
//
//	{
//	  "event": "progress",
//	  "data":  {"id": "...", "title": "...", "totalPhotos": 120, "taggedPhotos": 37, "taggers": 2}
//	}
//
// taggers counts every active tagger of the album, the receiving user
// included. Unknown albums are rejected with 404 before the upgrade.
package ws
