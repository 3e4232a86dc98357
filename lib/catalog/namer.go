// Copyright 2026 The ComicFS Authors
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// Namer derives a file's display name from its registration position
// and source URL. The position is the zero-based index of the URL in
// the episode's cumulative registration order.
//
// The scheme is injectable because crawl sources differ: some URLs
// carry meaningful basenames, some are opaque CDN paths where only
// the page order matters.
type Namer interface {
	FileName(position int, rawURL string) string
}

// SequenceNamer names files by zero-padded page number plus the URL's
// extension: 000.png, 001.jpg, ... This is the default: page order is
// the one thing a comic crawl always gets right.
type SequenceNamer struct{}

func (SequenceNamer) FileName(position int, rawURL string) string {
	return fmt.Sprintf("%03d%s", position, urlExtension(rawURL))
}

// URLNamer names files by the basename of the URL path (1.png for
// http://x/1.png). URLs without a usable basename fall back to the
// sequence scheme.
type URLNamer struct{}

func (URLNamer) FileName(position int, rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return SequenceNamer{}.FileName(position, rawURL)
	}
	base := path.Base(parsed.Path)
	if base == "." || base == "/" || base == "" || strings.Contains(base, "\x00") {
		return SequenceNamer{}.FileName(position, rawURL)
	}
	return base
}

// urlExtension returns the extension of the URL's path component,
// including the dot. Query strings and fragments are ignored. An
// unparseable URL yields no extension.
func urlExtension(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return path.Ext(parsed.Path)
}
