// Package api implements the HTTP REST API of the labeling server.
//
// New(opts) returns a Handler that serves:
//
//	GET  /api/v1/health                 status and store backend
//	POST /api/v1/tag                    tag one photo
//	POST /api/v1/tags                   tag a batch of photos
//	GET  /api/v1/photos/tags?id=..      labels of many photos, request order
//	GET  /api/v1/tagged?album=          every stored entry of an album
//	GET  /api/v1/albums                 album listing (limit, offset)
//	GET  /api/v1/albums/{id}            album progress
//	GET  /api/v1/albums/{id}/photos     photos with labels (limit, offset)
//	GET  /api/v1/next-album             album to tag next (checkTaggers)
//	GET  /api/v1/export/{album}.{fmt}   csv or json download
//	GET  /api/v1/labels                 label vocabulary
//
// The caller is identified by the X-ZT_U header or the ZT_U cookie; tag
// bodies may also carry userId. Unknown albums answer 404, invalid labels
// 400, and storage failures 500 with {"error":"failed to save"}.
//
// JSON types are defined in types.go. No external HTTP framework is used.
package api
