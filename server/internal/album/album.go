package album

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/zita-photo/zita/pkg/types"
	"github.com/zita-photo/zita/server/internal/store"
)

// Default page sizes when the caller passes no limit.
const (
	DefaultAlbumLimit = 20
	DefaultPhotoLimit = 100
)

var imageFile = regexp.MustCompile(`(?i)\.(jpe?g|png|gif)$`)

// IsImageFile reports whether name has an image extension.
func IsImageFile(name string) bool {
	return imageFile.MatchString(name)
}

// Title is the display name of an album: "Album N" for numeric ids, the id
// itself otherwise.
func Title(id string) string {
	if _, err := strconv.Atoi(leadingDigits(id)); err == nil {
		return "Album " + id
	}
	return id
}

// leadingDigits returns the numeric prefix of s, so "12b" reads as 12 the
// way a lenient integer parse would.
func leadingDigits(s string) string {
	i := 0
	if i < len(s) && (s[i] == '-' || s[i] == '+') {
		i++
	}
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	return s[:i]
}

// Album is one directory under the albums root.
type Album struct {
	ID      string    `json:"id"`
	Title   string    `json:"title"`
	Index   int       `json:"idx"`
	ModTime time.Time `json:"mtime"`
}

// Stats adds the tagging progress of an album.
type Stats struct {
	Album
	TotalPhotos  int `json:"totalPhotos"`
	TaggedPhotos int `json:"taggedPhotos"`
	Taggers      int `json:"taggers"`
}

// Photo is one image file of an album with its current labels.
type Photo struct {
	ID      string       `json:"id"`
	Index   int          `json:"idx"`
	Size    int64        `json:"size"`
	ModTime time.Time    `json:"mtime"`
	Tags    types.TagSet `json:"tags"`
}

// Tags is the part of the tag store the catalog reads.
type Tags interface {
	MGet(ctx context.Context, photoIDs []string) ([]types.TagSet, error)
	TaggedCount(ctx context.Context, albumID string) (int, error)
	TaggersCount(ctx context.Context, albumID, excludeUserID string) (int, error)
}

// Catalog lists albums and photos under a root directory.
type Catalog struct {
	root  string
	delim string
	tags  Tags
	pick  func(n int) int
}

// NewCatalog creates a Catalog over root. delim joins album id and file
// name into photo ids.
func NewCatalog(root, delim string, tags Tags) *Catalog {
	if delim == "" {
		delim = types.DefaultDelimiter
	}
	return &Catalog{root: root, delim: delim, tags: tags, pick: rand.Intn}
}

// WithPicker replaces the random choice used by Next when every album is
// busy or complete.
func (c *Catalog) WithPicker(pick func(n int) int) *Catalog {
	c.pick = pick
	return c
}

// List returns albums in directory order. A limit of zero or less returns
// every album after offset. A missing or empty root is store.ErrNotFound.
func (c *Catalog) List(limit, offset int) ([]Album, error) {
	entries, err := os.ReadDir(c.root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("album: albums folder %s: %w", c.root, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("album: read %s: %w", c.root, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("album: albums folder is empty: %w", store.ErrNotFound)
	}
	if limit <= 0 || limit > len(entries) {
		limit = len(entries)
	}

	out := make([]Album, 0, limit)
	seen := 0
	for i, e := range entries {
		if len(out) >= limit {
			break
		}
		if !e.IsDir() {
			continue
		}
		seen++
		if seen <= offset {
			continue
		}
		a := Album{ID: e.Name(), Title: Title(e.Name()), Index: i}
		if info, err := e.Info(); err == nil {
			a.ModTime = info.ModTime()
		}
		out = append(out, a)
	}
	return out, nil
}

// Get returns one album with its progress. Taggers excludes userID.
func (c *Catalog) Get(ctx context.Context, id, userID string) (Stats, error) {
	dir, err := c.albumDir(id)
	if err != nil {
		return Stats{}, err
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return Stats{}, fmt.Errorf("album: %q: %w", id, store.ErrNotFound)
	}
	return c.stats(ctx, Album{ID: id, Title: Title(id), ModTime: info.ModTime()}, userID)
}

func (c *Catalog) stats(ctx context.Context, a Album, userID string) (Stats, error) {
	total, err := c.countPhotos(a.ID)
	if err != nil {
		return Stats{}, err
	}
	tagged, err := c.tags.TaggedCount(ctx, a.ID)
	if err != nil {
		return Stats{}, err
	}
	taggers, err := c.tags.TaggersCount(ctx, a.ID, userID)
	if err != nil {
		return Stats{}, err
	}
	return Stats{Album: a, TotalPhotos: total, TaggedPhotos: tagged, Taggers: taggers}, nil
}

// Photos lists the image files of an album with their labels. A limit of
// zero or less returns every photo after offset.
func (c *Catalog) Photos(ctx context.Context, id string, limit, offset int) ([]Photo, error) {
	dir, err := c.albumDir(id)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("album: %q: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("album: read %s: %w", dir, err)
	}
	if limit <= 0 || limit > len(entries) {
		limit = len(entries)
	}

	out := make([]Photo, 0)
	seen := 0
	for _, e := range entries {
		if len(out) >= limit {
			break
		}
		if e.IsDir() || !IsImageFile(e.Name()) {
			continue
		}
		seen++
		if seen <= offset {
			continue
		}
		p := Photo{ID: types.PhotoID(id, e.Name(), c.delim), Index: seen - 1}
		if info, err := e.Info(); err == nil {
			p.Size = info.Size()
			p.ModTime = info.ModTime()
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return out, nil
	}

	ids := make([]string, len(out))
	for i, p := range out {
		ids[i] = p.ID
	}
	tags, err := c.tags.MGet(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Tags = tags[i]
	}
	return out, nil
}

// Next picks an album for userID: the first one nobody else is tagging that
// still has untagged photos. When checkTaggers is false, or no album
// qualifies, a random album is returned.
func (c *Catalog) Next(ctx context.Context, userID string, checkTaggers bool) (Stats, error) {
	albums, err := c.List(0, 0)
	if err != nil {
		return Stats{}, err
	}
	if len(albums) == 0 {
		return Stats{}, fmt.Errorf("album: no album directories: %w", store.ErrNotFound)
	}
	if checkTaggers {
		for _, a := range albums {
			s, err := c.stats(ctx, a, userID)
			if err != nil {
				return Stats{}, err
			}
			if s.Taggers == 0 && s.TaggedPhotos < s.TotalPhotos {
				return s, nil
			}
		}
		slog.Debug("album: every album is busy or complete, picking at random", "albums", len(albums))
	}
	return c.stats(ctx, albums[c.pick(len(albums))], userID)
}

func (c *Catalog) countPhotos(id string) (int, error) {
	dir, err := c.albumDir(id)
	if err != nil {
		return 0, err
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, fmt.Errorf("album: %q: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("album: read %s: %w", dir, err)
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() && IsImageFile(e.Name()) {
			n++
		}
	}
	return n, nil
}

// albumDir resolves an album id to its directory, refusing ids that would
// escape the root.
func (c *Catalog) albumDir(id string) (string, error) {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return "", fmt.Errorf("album: invalid id %q: %w", id, store.ErrNotFound)
	}
	return filepath.Join(c.root, id), nil
}
