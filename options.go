// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package unzip

import (
	"log/slog"

	"golang.org/x/text/encoding"
)

// DefaultMaxEntrySize is the largest entry Extract will buffer unless overridden.
const DefaultMaxEntrySize uint64 = 1 << 30

// config holds the settings applied to an Archive at open time.
type config struct {
	inMemory       bool
	logger         *slog.Logger
	maxEntrySize   uint64
	filenameEncode encoding.Encoding
	decompressors  decompressorsMap
}

func newConfig(opts []Option) config {
	c := config{
		logger:        slog.New(slog.DiscardHandler),
		maxEntrySize:  DefaultMaxEntrySize,
		decompressors: defaultDecompressors(),
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// Option configures an Archive.
type Option func(c *config)

// WithInMemory reads the whole archive into memory when opening it,
// so the file is closed before Open returns.
func WithInMemory() Option {
	return func(c *config) {
		c.inMemory = true
	}
}

// WithLogger sets the logger for debug and warning events.
// By default nothing is logged.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMaxEntrySize limits the uncompressed size Extract will allocate for one entry.
// Default: 1 GiB.
func WithMaxEntrySize(n uint64) Option {
	return func(c *config) {
		c.maxEntrySize = n
	}
}

// WithFilenameEncoding decodes names and comments of entries without the UTF-8 flag
// using enc (for example charmap.CodePage437). Without it such names must be valid UTF-8.
func WithFilenameEncoding(enc encoding.Encoding) Option {
	return func(c *config) {
		c.filenameEncode = enc
	}
}

// WithDecompressor registers d for method, replacing any built-in codec.
// A nil d removes the method.
func WithDecompressor(method CompressionMethod, d Decompressor) Option {
	return func(c *config) {
		if d == nil {
			delete(c.decompressors, method)
			return
		}
		c.decompressors[method] = d
	}
}
