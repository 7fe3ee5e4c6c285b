// Package codec converts a types.TagMap to and from its two serialized forms.
//
//   - JSON: an object keyed by photo id whose values are label arrays,
//     pretty-printed with two-space indentation. Label order is preserved and
//     empty tag sets are written as [].
//   - CSV: one "photoId,label1||label2" row per photo, rows joined by "\n"
//     with no trailing newline and ordered by photo id. Decoding skips rows
//     with fewer than two non-empty columns.
//
// The package is stateless. Labels must not contain the column delimiter ",",
// the label separator "||" or a line break; ValidateTags enforces this.
package codec
