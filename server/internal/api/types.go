package api

import (
	"github.com/zita-photo/zita/pkg/types"
	"github.com/zita-photo/zita/server/internal/album"
)

// TagRequest is the body of POST /api/v1/tag.
type TagRequest struct {
	PhotoID string       `json:"photoId"`
	Tags    types.TagSet `json:"tags"`
	UserID  string       `json:"userId,omitempty"`
}

// TagsRequest is the body of POST /api/v1/tags.
type TagsRequest struct {
	Photos []PhotoTags `json:"photos"`
	UserID string      `json:"userId,omitempty"`
}

// PhotoTags is one photo id with its labels.
type PhotoTags struct {
	ID   string       `json:"id"`
	Tags types.TagSet `json:"tags"`
}

// TagResponse is the outcome of one tag write.
type TagResponse struct {
	ID       string       `json:"id"`
	Tags     types.TagSet `json:"tags"`
	PrevTags types.TagSet `json:"prevTags"`
	Taggers  int          `json:"taggers"`
	Incr     int          `json:"incr"`

	// Error is set on batch entries that were not saved.
	Error string `json:"error,omitempty"`
}

// TagsError is the body of a POST /api/v1/tags that did not fully succeed.
// Results has one entry per requested photo, in request order; entries
// without Error were saved.
type TagsError struct {
	Error   string        `json:"error"`
	Results []TagResponse `json:"results"`
}

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	Status  string `json:"status"`
	Backend string `json:"backend"`
}

// AlbumsResponse is the payload for GET /api/v1/albums.
type AlbumsResponse struct {
	Albums []album.Album `json:"albums"`
}

// PhotosResponse is the payload for GET /api/v1/albums/{id}/photos.
type PhotosResponse struct {
	Album  string        `json:"album"`
	Photos []album.Photo `json:"photos"`
}

// LabelsResponse is the payload for GET /api/v1/labels.
type LabelsResponse struct {
	Options []string `json:"options"`
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}
