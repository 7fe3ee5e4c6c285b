package album

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/zita-photo/zita/pkg/types"
	"github.com/zita-photo/zita/server/internal/store"
)

func TestIsImageFile(t *testing.T) {
	cases := map[string]bool{
		"a.jpg":     true,
		"a.JPEG":    true,
		"b.png":     true,
		"c.gif":     true,
		"notes.txt": false,
		"jpg":       false,
		"x.jpg.bak": false,
	}
	for name, want := range cases {
		if got := IsImageFile(name); got != want {
			t.Errorf("IsImageFile(%q): got %v, want %v", name, got, want)
		}
	}
}

func TestTitle(t *testing.T) {
	cases := []struct{ id, want string }{
		{"12", "Album 12"},
		{"2019 trip", "Album 2019 trip"},
		{"beach", "beach"},
		{"-", "-"},
	}
	for _, c := range cases {
		if got := Title(c.id); got != c.want {
			t.Errorf("Title(%q): got %q, want %q", c.id, got, c.want)
		}
	}
}

func TestList(t *testing.T) {
	root := newTree(t, map[string][]string{
		"1":     {"a.jpg"},
		"2":     {"b.jpg"},
		"beach": {"c.png"},
	})
	writeFile(t, filepath.Join(root, "README.txt"))
	c := NewCatalog(root, "", &fakeTags{})

	all, err := c.List(0, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("List: got %d albums, want 3", len(all))
	}
	if all[0].ID != "1" || all[0].Title != "Album 1" || all[2].Title != "beach" {
		t.Errorf("List: got %+v", all)
	}

	page, _ := c.List(1, 1)
	if len(page) != 1 || page[0].ID != "2" {
		t.Errorf("List(1, 1): got %+v, want album 2", page)
	}
}

func TestList_MissingOrEmptyRoot(t *testing.T) {
	empty := t.TempDir()
	for _, root := range []string{filepath.Join(empty, "nope"), empty} {
		_, err := NewCatalog(root, "", &fakeTags{}).List(0, 0)
		if !errors.Is(err, store.ErrNotFound) {
			t.Errorf("List(%s): got %v, want ErrNotFound", root, err)
		}
	}
}

func TestGet_Stats(t *testing.T) {
	root := newTree(t, map[string][]string{"a": {"1.jpg", "2.jpg", "3.gif", "x.txt"}})
	tags := &fakeTags{counts: map[string]int{"a": 2}, taggers: map[string]int{"a": 1}}
	c := NewCatalog(root, "", tags)

	s, err := c.Get(context.Background(), "a", "u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if s.TotalPhotos != 3 || s.TaggedPhotos != 2 || s.Taggers != 1 {
		t.Errorf("Get: got %+v", s)
	}
	if tags.lastExclude != "u1" {
		t.Errorf("TaggersCount exclude: got %q, want u1", tags.lastExclude)
	}

	for _, id := range []string{"missing", "..", "a/../a", ""} {
		if _, err := c.Get(context.Background(), id, ""); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("Get(%q): got %v, want ErrNotFound", id, err)
		}
	}
}

func TestPhotos_PagingAndTags(t *testing.T) {
	root := newTree(t, map[string][]string{"a": {"1.jpg", "2.jpg", "notes.txt", "3.jpg"}})
	tags := &fakeTags{tags: types.TagMap{"a ~ 2.jpg": {"Good"}}}
	c := NewCatalog(root, " ~ ", tags)

	all, err := c.Photos(context.Background(), "a", 0, 0)
	if err != nil {
		t.Fatalf("Photos: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("Photos: got %d, want 3", len(all))
	}
	if all[1].ID != "a ~ 2.jpg" || !all[1].Tags.Equal(types.TagSet{"Good"}) {
		t.Errorf("Photos[1]: got %+v", all[1])
	}
	if !all[0].Tags.Empty() {
		t.Errorf("Photos[0] tags: got %v, want empty", all[0].Tags)
	}

	page, _ := c.Photos(context.Background(), "a", 1, 2)
	if len(page) != 1 || page[0].ID != "a ~ 3.jpg" || page[0].Index != 2 {
		t.Errorf("Photos(1, 2): got %+v", page)
	}

	none, err := c.Photos(context.Background(), "a", 10, 10)
	if err != nil || len(none) != 0 || none == nil {
		t.Errorf("Photos past end: got %#v, %v", none, err)
	}
}

func TestNext(t *testing.T) {
	root := newTree(t, map[string][]string{
		"a": {"1.jpg"},
		"b": {"1.jpg", "2.jpg"},
		"c": {"1.jpg"},
	})

	tests := []struct {
		name  string
		tags  *fakeTags
		check bool
		want  string
	}{
		{
			name:  "first album free and incomplete",
			tags:  &fakeTags{counts: map[string]int{"a": 1}, taggers: map[string]int{}},
			check: true,
			want:  "b",
		},
		{
			name:  "busy album skipped",
			tags:  &fakeTags{counts: map[string]int{"a": 1}, taggers: map[string]int{"b": 2}},
			check: true,
			want:  "c",
		},
		{
			name:  "nothing qualifies falls back to random",
			tags:  &fakeTags{counts: map[string]int{"a": 1, "b": 2, "c": 1}},
			check: true,
			want:  "b",
		},
		{
			name:  "unchecked is random",
			tags:  &fakeTags{},
			check: false,
			want:  "b",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCatalog(root, "", tt.tags).WithPicker(func(n int) int { return 1 })
			got, err := c.Next(context.Background(), "me", tt.check)
			if err != nil {
				t.Fatalf("Next: %v", err)
			}
			if got.ID != tt.want {
				t.Errorf("Next: got %q, want %q", got.ID, tt.want)
			}
		})
	}
}

// --- helpers ---

type fakeTags struct {
	tags        types.TagMap
	counts      map[string]int
	taggers     map[string]int
	lastExclude string
}

func (f *fakeTags) MGet(_ context.Context, ids []string) ([]types.TagSet, error) {
	out := make([]types.TagSet, len(ids))
	for i, id := range ids {
		out[i] = f.tags[id].Sorted()
	}
	return out, nil
}

func (f *fakeTags) TaggedCount(_ context.Context, album string) (int, error) {
	return f.counts[album], nil
}

func (f *fakeTags) TaggersCount(_ context.Context, album, exclude string) (int, error) {
	f.lastExclude = exclude
	return f.taggers[album], nil
}

func newTree(t *testing.T, albums map[string][]string) string {
	t.Helper()
	root := t.TempDir()
	for album, files := range albums {
		dir := filepath.Join(root, album)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		for _, f := range files {
			writeFile(t, filepath.Join(dir, f))
		}
	}
	return root
}

func writeFile(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
}
