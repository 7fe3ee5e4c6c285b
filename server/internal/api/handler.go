package api

import (
	"context"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/goccy/go-json"

	"github.com/zita-photo/zita/pkg/codec"
	"github.com/zita-photo/zita/pkg/types"
	"github.com/zita-photo/zita/server/internal/album"
	"github.com/zita-photo/zita/server/internal/store"
)

// User identity carriers set by the tagging UI.
const (
	UserHeader = "X-ZT_U"
	UserCookie = "ZT_U"
)

// maxBodyBytes caps request bodies; a full batch of tags fits comfortably.
const maxBodyBytes = 4 << 20

// Albums is the album catalog the handler serves.
type Albums interface {
	List(limit, offset int) ([]album.Album, error)
	Get(ctx context.Context, id, userID string) (album.Stats, error)
	Photos(ctx context.Context, id string, limit, offset int) ([]album.Photo, error)
	Next(ctx context.Context, userID string, checkTaggers bool) (album.Stats, error)
}

// Notifier is told which album changed after a tag write.
type Notifier interface {
	Notify(ctx context.Context, albumID string)
}

// Options wires a Handler.
type Options struct {
	Store  store.Store
	Albums Albums
	Labels []string

	// Backend is reported by the health endpoint.
	Backend string

	// Notifier is optional.
	Notifier Notifier
}

// Handler is the HTTP handler for all /api/v1/* endpoints.
type Handler struct {
	store    store.Store
	albums   Albums
	notifier Notifier
	backend  string
	labels   atomic.Pointer[[]string]
	mux      *http.ServeMux
}

// New creates a Handler and registers all routes.
func New(opts Options) *Handler {
	h := &Handler{
		store:    opts.Store,
		albums:   opts.Albums,
		notifier: opts.Notifier,
		backend:  opts.Backend,
		mux:      http.NewServeMux(),
	}
	h.SetLabels(opts.Labels)

	h.mux.HandleFunc("/api/v1/health", h.health)
	h.mux.HandleFunc("/api/v1/tag", h.tagPhoto)
	h.mux.HandleFunc("/api/v1/tags", h.tagPhotos)
	h.mux.HandleFunc("/api/v1/photos/tags", h.photoTags)
	h.mux.HandleFunc("/api/v1/tagged", h.taggedPhotos)
	h.mux.HandleFunc("/api/v1/albums", h.listAlbums)
	h.mux.HandleFunc("/api/v1/albums/", h.albumRoutes) // subtree: {id}, {id}/photos
	h.mux.HandleFunc("/api/v1/next-album", h.nextAlbum)
	h.mux.HandleFunc("/api/v1/export/", h.export) // subtree: {album}.{format}
	h.mux.HandleFunc("/api/v1/labels", h.listLabels)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// SetLabels replaces the label vocabulary; safe while serving.
func (h *Handler) SetLabels(labels []string) {
	cp := append([]string{}, labels...)
	h.labels.Store(&cp)
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/v1/health.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, HealthResponse{Status: "ok", Backend: h.backend})
}

// tagPhoto handles POST /api/v1/tag.
func (h *Handler) tagPhoto(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req TagRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.PhotoID == "" {
		jsonErr(w, http.StatusBadRequest, "photoId is required")
		return
	}
	user := userID(r, req.UserID)

	resp, err := h.tag(r.Context(), req.PhotoID, req.Tags, user)
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	jsonResp(w, http.StatusOK, resp)
}

// tagPhotos handles POST /api/v1/tags. Photos are tagged in request order
// and every write commits on its own, so a failure does not undo the photos
// before it and does not stop the ones after it. When all writes succeed the
// response is the list of results; otherwise it is a TagsError carrying the
// status of the worst failure and marking each photo saved or failed.
func (h *Handler) tagPhotos(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req TagsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	for _, p := range req.Photos {
		if p.ID == "" {
			jsonErr(w, http.StatusBadRequest, "photo id is required")
			return
		}
	}
	user := userID(r, req.UserID)

	out := make([]TagResponse, 0, len(req.Photos))
	status, worst := http.StatusOK, ""
	for _, p := range req.Photos {
		resp, err := h.tag(r.Context(), p.ID, p.Tags, user)
		if err != nil {
			code, msg := storeErrStatus(err)
			if code > status {
				status, worst = code, msg
			}
			out = append(out, TagResponse{ID: p.ID, Tags: p.Tags, Error: msg})
			continue
		}
		out = append(out, resp)
	}
	if status != http.StatusOK {
		jsonResp(w, status, TagsError{Error: worst, Results: out})
		return
	}
	jsonResp(w, http.StatusOK, out)
}

func (h *Handler) tag(ctx context.Context, photoID string, tags types.TagSet, user string) (TagResponse, error) {
	if tags == nil {
		tags = types.TagSet{}
	}
	res, err := h.store.Tag(ctx, photoID, tags, user)
	if err != nil {
		return TagResponse{}, err
	}
	albumID := h.store.AlbumID(photoID)
	taggers, err := h.store.TaggersCount(ctx, albumID, user)
	if err != nil {
		return TagResponse{}, err
	}
	if h.notifier != nil {
		h.notifier.Notify(ctx, albumID)
	}
	return TagResponse{
		ID:       photoID,
		Tags:     tags,
		PrevTags: res.Prev,
		Taggers:  taggers,
		Incr:     res.Delta,
	}, nil
}

// photoTags returns GET /api/v1/photos/tags?id=...&id=... in request order.
func (h *Handler) photoTags(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	ids := r.URL.Query()["id"]
	tags, err := h.store.MGet(r.Context(), ids)
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	out := make([]PhotoTags, len(ids))
	for i, id := range ids {
		out[i] = PhotoTags{ID: id, Tags: tags[i]}
	}
	jsonResp(w, http.StatusOK, out)
}

// taggedPhotos returns GET /api/v1/tagged?album= as a list ordered by id.
func (h *Handler) taggedPhotos(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	m, err := h.store.Dump(r.Context(), r.URL.Query().Get("album"))
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	out := make([]PhotoTags, 0, len(m))
	for _, e := range m.Entries() {
		out = append(out, PhotoTags{ID: e.PhotoID, Tags: e.Tags})
	}
	jsonResp(w, http.StatusOK, out)
}

// listAlbums returns GET /api/v1/albums?limit=&offset=.
func (h *Handler) listAlbums(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	limit, offset, ok := paging(w, r, album.DefaultAlbumLimit)
	if !ok {
		return
	}
	albums, err := h.albums.List(limit, offset)
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	jsonResp(w, http.StatusOK, AlbumsResponse{Albums: albums})
}

// albumRoutes serves GET /api/v1/albums/{id} and /api/v1/albums/{id}/photos.
func (h *Handler) albumRoutes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/albums/")
	if rest == "" {
		h.listAlbums(w, r)
		return
	}

	id, sub, _ := strings.Cut(rest, "/")
	switch sub {
	case "":
		stats, err := h.albums.Get(r.Context(), id, userID(r, ""))
		if err != nil {
			writeStoreErr(w, err)
			return
		}
		jsonResp(w, http.StatusOK, stats)
	case "photos":
		limit, offset, ok := paging(w, r, album.DefaultPhotoLimit)
		if !ok {
			return
		}
		photos, err := h.albums.Photos(r.Context(), id, limit, offset)
		if err != nil {
			writeStoreErr(w, err)
			return
		}
		jsonResp(w, http.StatusOK, PhotosResponse{Album: id, Photos: photos})
	default:
		jsonErr(w, http.StatusNotFound, "not found")
	}
}

// nextAlbum returns GET /api/v1/next-album?checkTaggers=true.
func (h *Handler) nextAlbum(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	check, _ := strconv.ParseBool(r.URL.Query().Get("checkTaggers"))
	stats, err := h.albums.Next(r.Context(), userID(r, ""), check)
	if err != nil {
		writeStoreErr(w, err)
		return
	}
	jsonResp(w, http.StatusOK, stats)
}

// export serves GET /api/v1/export/{album}.{csv|json} as a download.
func (h *Handler) export(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/api/v1/export/")
	dot := strings.LastIndex(name, ".")
	if dot < 0 {
		jsonErr(w, http.StatusBadRequest, "want /api/v1/export/{album}.{csv|json}")
		return
	}
	albumID := name[:dot]
	if albumID == "" {
		albumID = types.AlbumAll
	}
	format, err := codec.ParseFormat(name[dot+1:])
	if err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}

	content, err := h.store.Export(r.Context(), albumID, format)
	if err != nil {
		slog.Error("api: export failed", "album", albumID, "format", format, "err", err)
		jsonErr(w, http.StatusInternalServerError, "failed to export")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment",
		map[string]string{"filename": DownloadFilename(albumID, format)}))
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(content)) //nolint:errcheck
}

// listLabels returns GET /api/v1/labels.
func (h *Handler) listLabels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, LabelsResponse{Options: *h.labels.Load()})
}

// --- helpers ----------------------------------------------------------------

// DownloadFilename is the attachment name of an export.
func DownloadFilename(albumID string, format codec.Format) string {
	if albumID == "" || albumID == types.AlbumAll {
		return "photo-tags." + string(format)
	}
	return "photo-tags-" + albumID + "." + string(format)
}

// userID picks the caller identity: an explicit value, then the header,
// then the cookie.
func userID(r *http.Request, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if v := r.Header.Get(UserHeader); v != "" {
		return v
	}
	if c, err := r.Cookie(UserCookie); err == nil {
		return c.Value
	}
	return ""
}

func paging(w http.ResponseWriter, r *http.Request, defaultLimit int) (limit, offset int, ok bool) {
	limit, offset = defaultLimit, 0
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			jsonErr(w, http.StatusBadRequest, "limit must be an integer")
			return 0, 0, false
		}
		limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			jsonErr(w, http.StatusBadRequest, "offset must be a non-negative integer")
			return 0, 0, false
		}
		offset = n
	}
	return limit, offset, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		jsonErr(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// writeStoreErr maps store and catalog errors to status codes. Storage
// failures are logged and reported as a failed save.
func writeStoreErr(w http.ResponseWriter, err error) {
	code, msg := storeErrStatus(err)
	jsonErr(w, code, msg)
}

// storeErrStatus maps a store error to an HTTP status and client message.
func storeErrStatus(err error) (int, string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, store.ErrInvalidLabel):
		return http.StatusBadRequest, err.Error()
	default:
		slog.Error("api: store operation failed", "err", err)
		return http.StatusInternalServerError, "failed to save"
	}
}

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
