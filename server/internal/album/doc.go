// Package album reads the album tree served to taggers.
//
// Every subdirectory of the albums root is an album; image files directly
// inside it (.jpg, .jpeg, .png, .gif, any case) are its photos. A photo's id
// is the album id and the file name joined with the configured delimiter,
// which is how the tag store keys it.
//
// Catalog combines the directory listing with the tag store's counters to
// produce album stats and to pick the next album a tagger should work on.
package album
