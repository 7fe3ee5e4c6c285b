// Package types defines the tag data shared by the server and the label sync
// agent: photo identifiers, tag sets and the photo → tags map.
//
// A PhotoID is "<albumID><delimiter><filename>". The delimiter is configurable
// (default " ~ ") and must not appear in album or file names. AlbumAll is the
// sentinel album id that selects every album in dumps and exports.
package types
