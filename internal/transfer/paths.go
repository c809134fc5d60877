/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package transfer

import (
	"path"
	"path/filepath"

	"github.com/friendsincode/objgate/internal/failure"
	"github.com/friendsincode/objgate/internal/fetch"
)

// Paths maps object keys and image descriptors to local files under Dir.
// The suffix is appended to the whole key, so distinct keys never share a path.
type Paths struct {
	Dir string
}

// Source is the file uploaded for key: <dir>/<key>.png.
func (p Paths) Source(key string) (string, error) {
	return p.join(key, ".png")
}

// Destination is the file key is downloaded into: <dir>/<key>-dest.png.
func (p Paths) Destination(key string) (string, error) {
	return p.join(key, "-dest.png")
}

// Image is where a fetched image is saved: <dir>/image-<w>-<h>.png.
func (p Paths) Image(d fetch.Descriptor) string {
	return filepath.Join(p.Dir, d.FileName())
}

func (p Paths) join(key, suffix string) (string, error) {
	if key == "" {
		return "", failure.InvalidInput("resolve path", "key is required")
	}
	// Keys that clean to another key would share its file.
	if path.Clean(key) != key {
		return "", failure.InvalidInput("resolve path", "key %q is not in canonical form", key)
	}
	name := filepath.FromSlash(key + suffix)
	if !filepath.IsLocal(name) {
		return "", failure.InvalidInput("resolve path", "key %q escapes the data directory", key)
	}
	return filepath.Join(p.Dir, name), nil
}
