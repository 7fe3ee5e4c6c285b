package codec

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"

	"github.com/zita-photo/zita/pkg/types"
)

// Separators used by the line-delimited form. LabelSep is also the label
// encoding inside the durable store.
const (
	LabelSep = "||"
	ColDelim = ","
	RowDelim = "\n"
)

// Format names a serialized form.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

var (
	// ErrMalformed is returned when content cannot be decoded.
	ErrMalformed = errors.New("malformed tag content")

	// ErrInvalidLabel is returned for labels that would not survive a CSV
	// round-trip.
	ErrInvalidLabel = errors.New("invalid label")

	// ErrUnknownFormat is returned by ParseFormat for unsupported names.
	ErrUnknownFormat = errors.New("unknown format")
)

// ParseFormat maps "csv" or "json" (any case) to a Format.
func ParseFormat(name string) (Format, error) {
	switch Format(strings.ToLower(name)) {
	case FormatCSV:
		return FormatCSV, nil
	case FormatJSON:
		return FormatJSON, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, name)
}

// FormatForPath selects the format from a file extension: ".json" is JSON,
// anything else is CSV.
func FormatForPath(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FormatJSON
	}
	return FormatCSV
}

// Encode serializes m in format f.
func Encode(m types.TagMap, f Format) (string, error) {
	switch f {
	case FormatJSON:
		return EncodeJSON(m)
	case FormatCSV, "":
		return EncodeCSV(m), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, f)
}

// Decode parses data in format f.
func Decode(data []byte, f Format) (types.TagMap, error) {
	switch f {
	case FormatJSON:
		return DecodeJSON(data)
	case FormatCSV, "":
		return DecodeCSV(string(data)), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, f)
}

// EncodeJSON writes m as an indented JSON object.
func EncodeJSON(m types.TagMap) (string, error) {
	out := make(map[string][]string, len(m))
	for id, tags := range m {
		if tags == nil {
			tags = types.TagSet{}
		}
		out[id] = tags
	}
	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", fmt.Errorf("codec: encode json: %w", err)
	}
	return string(b), nil
}

// DecodeJSON parses an object of label arrays. Null values decode to empty
// tag sets. Any parse failure wraps ErrMalformed.
func DecodeJSON(data []byte) (types.TagMap, error) {
	var raw map[string][]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	m := make(types.TagMap, len(raw))
	for id, tags := range raw {
		if tags == nil {
			tags = []string{}
		}
		m[id] = tags
	}
	return m, nil
}

// EncodeCSV writes one row per photo ordered by photo id.
func EncodeCSV(m types.TagMap) string {
	var b strings.Builder
	for i, id := range m.PhotoIDs() {
		if i > 0 {
			b.WriteString(RowDelim)
		}
		b.WriteString(id)
		b.WriteString(ColDelim)
		b.WriteString(JoinLabels(m[id]))
	}
	return b.String()
}

// DecodeCSV parses rows produced by EncodeCSV. Rows missing a photo id or a
// label list are skipped, so photos with empty tag sets do not survive a CSV
// round-trip; they are indistinguishable from absent photos anyway.
func DecodeCSV(content string) types.TagMap {
	m := make(types.TagMap)
	for _, line := range strings.Split(content, RowDelim) {
		line = strings.TrimSuffix(line, "\r")
		id, labels, ok := strings.Cut(line, ColDelim)
		if !ok || id == "" || labels == "" {
			continue
		}
		m[id] = SplitLabels(labels)
	}
	return m
}

// JoinLabels encodes a tag set as one "||"-joined string.
func JoinLabels(tags types.TagSet) string {
	return strings.Join(tags, LabelSep)
}

// SplitLabels is the inverse of JoinLabels. The empty string is the empty set.
func SplitLabels(s string) types.TagSet {
	if s == "" {
		return types.TagSet{}
	}
	return strings.Split(s, LabelSep)
}

// ValidateTags rejects labels that are empty, contain a separator, or start
// or end with "|" (which would merge with an adjacent "||" when joined).
func ValidateTags(tags types.TagSet) error {
	for _, l := range tags {
		if l == "" || strings.Contains(l, LabelSep) || strings.ContainsAny(l, ColDelim+"\r\n") ||
			strings.HasPrefix(l, "|") || strings.HasSuffix(l, "|") {
			return fmt.Errorf("%w: %q", ErrInvalidLabel, l)
		}
	}
	return nil
}
