// Package manifest parses and validates bulk image manifests.
//
// A manifest is an ordered list of rows, each naming an item and listing the
// source image URLs to compress. CSV, XLSX and JSON encodings are accepted;
// all of them produce the same Row values so Validate can run on any.
package manifest
