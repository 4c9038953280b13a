// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package unzip

import (
	"bytes"
	"compress/bzip2"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"
)

// CompressionMethod represents the compression algorithm code stored in a ZIP record.
// Any code is accepted; codes outside the known set report Known() == false.
type CompressionMethod uint16

// Compression methods according to ZIP specification
const (
	Stored    CompressionMethod = 0  // No compression - file stored as-is
	Deflated  CompressionMethod = 8  // DEFLATE compression (most common)
	BZIP2     CompressionMethod = 12 // BZIP2 compression
	LZMA      CompressionMethod = 14 // LZMA compression
	ZStandard CompressionMethod = 93 // Zstandard compression
	XZ        CompressionMethod = 95 // XZ compression
	AES       CompressionMethod = 99 // WinZip AES marker; real method is in the 0x9901 extra field
)

// Known reports whether m is one of the recognized methods.
func (m CompressionMethod) Known() bool {
	switch m {
	case Stored, Deflated, BZIP2, LZMA, ZStandard, XZ, AES:
		return true
	}
	return false
}

func (m CompressionMethod) String() string {
	switch m {
	case Stored:
		return "Store"
	case Deflated:
		return "Deflate"
	case BZIP2:
		return "BZip2"
	case LZMA:
		return "LZMA"
	case ZStandard:
		return "Zstandard"
	case XZ:
		return "XZ"
	case AES:
		return "AES"
	default:
		return "Unknown(" + strconv.Itoa(int(m)) + ")"
	}
}

// Decompressor opens a decompressing stream over the raw data of one entry.
// e carries the entry metadata for codecs that need the declared size or flags.
type Decompressor interface {
	Decompress(src io.Reader, e Entry) (io.ReadCloser, error)
}

// DecompressorFunc adapts a function to the Decompressor interface.
type DecompressorFunc func(src io.Reader, e Entry) (io.ReadCloser, error)

func (f DecompressorFunc) Decompress(src io.Reader, e Entry) (io.ReadCloser, error) {
	return f(src, e)
}

type decompressorsMap map[CompressionMethod]Decompressor

// defaultDecompressors returns a fresh registry with every built-in codec.
func defaultDecompressors() decompressorsMap {
	return decompressorsMap{
		Stored:    new(StoredDecompressor),
		Deflated:  new(DeflateDecompressor),
		BZIP2:     new(BZIP2Decompressor),
		LZMA:      new(LZMADecompressor),
		XZ:        new(XZDecompressor),
		ZStandard: sharedZstd,
	}
}

// StoredDecompressor implements the "Store" method (no compression)
type StoredDecompressor struct{}

func (sd *StoredDecompressor) Decompress(src io.Reader, _ Entry) (io.ReadCloser, error) {
	return io.NopCloser(src), nil
}

// DeflateDecompressor implements the "Deflate" method
type DeflateDecompressor struct{}

func (dd *DeflateDecompressor) Decompress(src io.Reader, _ Entry) (io.ReadCloser, error) {
	return flate.NewReader(src), nil
}

// BZIP2Decompressor implements the "BZip2" method
type BZIP2Decompressor struct{}

func (bd *BZIP2Decompressor) Decompress(src io.Reader, _ Entry) (io.ReadCloser, error) {
	return io.NopCloser(bzip2.NewReader(src)), nil
}

// LZMADecompressor implements the "LZMA" method.
//
// ZIP stores a 4-byte version/size prefix and the 5 property bytes ahead of the raw
// stream instead of the classic 13-byte .lzma header, so the header is rebuilt here.
type LZMADecompressor struct{}

func (ld *LZMADecompressor) Decompress(src io.Reader, e Entry) (io.ReadCloser, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(src, prefix[:]); err != nil {
		return nil, fmt.Errorf("read lzma prefix: %w", err)
	}
	if propSize := binary.LittleEndian.Uint16(prefix[2:4]); propSize != 5 {
		return nil, fmt.Errorf("%w: lzma properties size %d", ErrFormat, propSize)
	}

	var header [13]byte
	if _, err := io.ReadFull(src, header[:5]); err != nil {
		return nil, fmt.Errorf("read lzma properties: %w", err)
	}
	size := e.UncompressedSize
	if e.Flags&flagLZMAEOS != 0 {
		size = ^uint64(0) // unknown, stream ends with an EOS marker
	}
	binary.LittleEndian.PutUint64(header[5:], size)

	r, err := lzma.NewReader(io.MultiReader(bytes.NewReader(header[:]), src))
	if err != nil {
		return nil, fmt.Errorf("lzma reader: %w", err)
	}
	return io.NopCloser(r), nil
}

// XZDecompressor implements the "XZ" method
type XZDecompressor struct{}

func (xd *XZDecompressor) Decompress(src io.Reader, _ Entry) (io.ReadCloser, error) {
	r, err := xz.NewReader(src)
	if err != nil {
		return nil, fmt.Errorf("xz reader: %w", err)
	}
	return io.NopCloser(r), nil
}

// sharedZstd is the process-wide zstd codec; its pool is safe for concurrent use.
var sharedZstd = NewZstdDecompressor(0)

// ZstdDecompressor implements the "Zstandard" method with reusable decoders.
type ZstdDecompressor struct {
	pool             sync.Pool
	maxDecoderMemory uint64
}

// NewZstdDecompressor creates a pooled zstd codec.
// If maxMemory is 0, no memory limit is applied to decoders.
func NewZstdDecompressor(maxMemory uint64) *ZstdDecompressor {
	return &ZstdDecompressor{maxDecoderMemory: maxMemory}
}

func (zd *ZstdDecompressor) Decompress(src io.Reader, _ Entry) (io.ReadCloser, error) {
	if dec, ok := zd.pool.Get().(*zstd.Decoder); ok {
		if err := dec.Reset(src); err == nil {
			return &zstdReadCloser{dec: dec, release: func() {
				_ = dec.Reset(nil) //nolint:errcheck // clearing state before pool return
				zd.pool.Put(dec)
			}}, nil
		}
		dec.Close()
	}

	dec, err := zd.newDecoder(src)
	if err != nil {
		return nil, fmt.Errorf("zstd reader: %w", err)
	}
	return &zstdReadCloser{dec: dec, release: func() {
		_ = dec.Reset(nil) //nolint:errcheck // clearing state before pool return
		zd.pool.Put(dec)
	}}, nil
}

func (zd *ZstdDecompressor) newDecoder(r io.Reader) (*zstd.Decoder, error) {
	opts := []zstd.DOption{zstd.WithDecoderConcurrency(1)}
	if zd.maxDecoderMemory > 0 {
		opts = append(opts, zstd.WithDecoderMaxMemory(zd.maxDecoderMemory))
	}
	return zstd.NewReader(r, opts...)
}

// zstdReadCloser returns its decoder to the pool exactly once.
type zstdReadCloser struct {
	dec     *zstd.Decoder
	release func()
	once    sync.Once
}

func (z *zstdReadCloser) Read(p []byte) (int, error) { return z.dec.Read(p) }

func (z *zstdReadCloser) Close() error {
	z.once.Do(z.release)
	return nil
}
