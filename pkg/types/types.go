package types

import (
	"sort"
	"strings"
)

// DefaultDelimiter separates the album id from the file name in a PhotoID.
const DefaultDelimiter = " ~ "

// AlbumAll selects every album in Dump and Export.
const AlbumAll = "__all__"

// TagSet is the set of labels attached to one photo. Empty means untagged.
// Order is not significant but is preserved by storage and JSON round-trips.
type TagSet []string

// Empty reports whether the set holds no labels.
func (t TagSet) Empty() bool { return len(t) == 0 }

// Sorted returns a sorted copy of t. A nil set yields an empty, non-nil set.
func (t TagSet) Sorted() TagSet {
	out := make(TagSet, len(t))
	copy(out, t)
	sort.Strings(out)
	return out
}

// Clone returns a copy of t that never aliases the receiver.
func (t TagSet) Clone() TagSet {
	out := make(TagSet, len(t))
	copy(out, t)
	return out
}

// Equal reports set equality, ignoring order.
func (t TagSet) Equal(other TagSet) bool {
	if len(t) != len(other) {
		return false
	}
	a, b := t.Sorted(), other.Sorted()
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// TagMap maps a PhotoID to its TagSet.
type TagMap map[string]TagSet

// Entry is one photo and its tags, used for bulk assignment.
type Entry struct {
	PhotoID string
	Tags    TagSet
}

// Entries returns the map as a slice of entries ordered by PhotoID.
func (m TagMap) Entries() []Entry {
	ids := m.PhotoIDs()
	out := make([]Entry, 0, len(ids))
	for _, id := range ids {
		out = append(out, Entry{PhotoID: id, Tags: m[id]})
	}
	return out
}

// PhotoIDs returns the keys of m in lexicographic order.
func (m TagMap) PhotoIDs() []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// AlbumID returns the album component of photoID: everything before the
// first occurrence of delim, or photoID itself when delim is absent.
func AlbumID(photoID, delim string) string {
	album, _, _ := strings.Cut(photoID, delim)
	return album
}

// PhotoID joins an album id and a file name.
func PhotoID(albumID, filename, delim string) string {
	return albumID + delim + filename
}

// InAlbum reports whether photoID belongs to albumID. The empty album id and
// AlbumAll match every photo.
func InAlbum(photoID, albumID, delim string) bool {
	if albumID == "" || albumID == AlbumAll {
		return true
	}
	return strings.HasPrefix(photoID, albumID+delim)
}
