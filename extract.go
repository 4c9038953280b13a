// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package unzip

import (
	"fmt"
	"hash"
	"io"
	"log/slog"
	"math"

	"github.com/lemon4ksan/unzip/internal"
)

// ExtractedFile is the verified, decompressed content of one entry.
// len(Data) always equals Entry.UncompressedSize.
type ExtractedFile struct {
	Entry Entry
	Data  []byte
}

// Extract decompresses the entry under the cursor into memory and verifies
// its size and CRC-32. The cursor does not move.
func (a *Archive) Extract() (*ExtractedFile, error) {
	e, err := a.CurrentEntry()
	if err != nil {
		return nil, err
	}

	// The buffer length must also fit in an int.
	limit := min(a.cfg.maxEntrySize, uint64(math.MaxInt))
	if e.UncompressedSize > limit {
		return nil, newOpError("extract", e.Name, CodeMem, ErrEntryTooLarge,
			fmt.Errorf("%d bytes exceeds limit of %d", e.UncompressedSize, limit))
	}

	rc, err := a.openStream(e)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data := make([]byte, e.UncompressedSize)
	if n, err := io.ReadFull(rc, data); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, a.sizeMismatch(e, fmt.Errorf("read %d, want %d", n, e.UncompressedSize))
		}
		return nil, newOpError("extract", e.Name, CodeData, ErrRead, err)
	}

	// The stream must end exactly at the declared size.
	var probe [1]byte
	switch _, err := io.ReadFull(rc, probe[:]); {
	case err == nil:
		return nil, a.sizeMismatch(e, fmt.Errorf("data continues past %d bytes", e.UncompressedSize))
	case err != io.EOF:
		return nil, newOpError("extract", e.Name, CodeData, ErrRead, err)
	}

	if got := Checksum(data); got != e.CRC32 {
		return nil, a.checksumMismatch(e, got)
	}

	a.cfg.logger.Debug("extracted entry",
		slog.String("name", e.Name),
		slog.String("method", e.Method.String()),
		slog.Uint64("size", e.UncompressedSize))

	return &ExtractedFile{Entry: e, Data: data}, nil
}

// FileByName locates name and extracts it. See LocateEntry for the matching rules.
func (a *Archive) FileByName(name string, caseSensitive bool) (*ExtractedFile, error) {
	if err := a.LocateEntry(name, caseSensitive); err != nil {
		return nil, err
	}
	return a.Extract()
}

// OpenEntry returns a stream of the decompressed content of the entry under the cursor.
// Size and CRC-32 are verified when the stream reaches EOF; a mismatch is returned
// from Read in place of io.EOF. The stream reads from the archive source and must
// be closed before the Archive.
func (a *Archive) OpenEntry() (io.ReadCloser, error) {
	e, err := a.CurrentEntry()
	if err != nil {
		return nil, err
	}

	rc, err := a.openStream(e)
	if err != nil {
		return nil, err
	}

	return &checksumReader{
		rc:      rc,
		hash:    NewHash(),
		entry:   e,
		archive: a,
	}, nil
}

// RegisterDecompressor sets the codec used for method on this Archive.
// A nil d removes the method.
func (a *Archive) RegisterDecompressor(method CompressionMethod, d Decompressor) {
	if d == nil {
		delete(a.cfg.decompressors, method)
		return
	}
	a.cfg.decompressors[method] = d
}

// openStream validates the local header and opens a decompressing reader over the entry data.
func (a *Archive) openStream(e Entry) (io.ReadCloser, error) {
	const op = "open entry"

	if e.Encrypted {
		return nil, newOpError(op, e.Name, CodeCrypt, ErrOpenFailed, ErrEncrypted)
	}

	d, ok := a.cfg.decompressors[e.Method]
	if !ok {
		return nil, newOpError(op, e.Name, CodeSupport, ErrOpenFailed, fmt.Errorf("%w: %s", ErrAlgorithm, e.Method))
	}

	if e.LocalHeaderOffset > uint64(a.size) {
		return nil, newOpError(op, e.Name, CodeFormat, ErrOpenFailed,
			fmt.Errorf("%w: local header offset %d beyond end of archive", ErrFormat, e.LocalHeaderOffset))
	}
	offset := int64(e.LocalHeaderOffset)

	header, err := internal.ReadLocalFileHeader(io.NewSectionReader(a.src, offset, a.size-offset))
	if err != nil {
		return nil, newOpError(op, e.Name, CodeFormat, ErrOpenFailed, fmt.Errorf("%w: %w", ErrFormat, err))
	}

	// Sizes in the local header may be zero when a data descriptor follows the data;
	// the central directory values are authoritative.
	dataOffset := offset + header.DataOffset()
	if dataOffset > a.size || e.CompressedSize > uint64(a.size-dataOffset) {
		return nil, newOpError(op, e.Name, CodeFormat, ErrOpenFailed,
			fmt.Errorf("%w: entry data exceeds archive", ErrFormat))
	}

	rc, err := d.Decompress(io.NewSectionReader(a.src, dataOffset, int64(e.CompressedSize)), e)
	if err != nil {
		return nil, newOpError(op, e.Name, CodeData, ErrOpenFailed, err)
	}

	a.cfg.logger.Debug("opened entry stream",
		slog.String("name", e.Name),
		slog.Int64("data_offset", dataOffset),
		slog.Uint64("compressed_size", e.CompressedSize),
		slog.Bool("data_descriptor", e.Flags&flagDataDescriptor != 0))

	return rc, nil
}

func (a *Archive) sizeMismatch(e Entry, err error) error {
	a.cfg.logger.Warn("uncompressed size mismatch",
		slog.String("name", e.Name),
		slog.Uint64("want", e.UncompressedSize))
	return newOpError("extract", e.Name, CodeData, ErrSizeMismatch, err)
}

func (a *Archive) checksumMismatch(e Entry, got uint32) error {
	a.cfg.logger.Warn("checksum mismatch",
		slog.String("name", e.Name),
		slog.String("want", fmt.Sprintf("%08x", e.CRC32)),
		slog.String("got", fmt.Sprintf("%08x", got)))
	return newOpError("extract", e.Name, CodeCRC, ErrChecksum, fmt.Errorf("got %08x, want %08x", got, e.CRC32))
}

// checksumReader wraps an entry stream to verify CRC32 checksum and size during reading.
type checksumReader struct {
	rc      io.ReadCloser
	hash    hash.Hash32
	entry   Entry
	archive *Archive
	read    uint64
	err     error // sticky verification failure
	closed  bool
}

// Read implements io.Reader interface while calculating CRC32 and tracking bytes read
func (cr *checksumReader) Read(p []byte) (int, error) {
	if cr.err != nil {
		return 0, cr.err
	}

	n, err := cr.rc.Read(p)
	if n > 0 {
		cr.read += uint64(n)
		if cr.read > cr.entry.UncompressedSize {
			cr.err = cr.archive.sizeMismatch(cr.entry, fmt.Errorf("data continues past %d bytes", cr.entry.UncompressedSize))
			return n, cr.err
		}
		cr.hash.Write(p[:n])
	}

	switch {
	case err == io.EOF:
		if cr.read != cr.entry.UncompressedSize {
			cr.err = cr.archive.sizeMismatch(cr.entry, fmt.Errorf("read %d, want %d", cr.read, cr.entry.UncompressedSize))
		} else if got := cr.hash.Sum32(); got != cr.entry.CRC32 {
			cr.err = cr.archive.checksumMismatch(cr.entry, got)
		} else {
			cr.err = io.EOF
		}
		return n, cr.err
	case err == io.ErrUnexpectedEOF:
		cr.err = cr.archive.sizeMismatch(cr.entry, fmt.Errorf("read %d, want %d", cr.read, cr.entry.UncompressedSize))
		return n, cr.err
	case err != nil:
		cr.err = newOpError("read", cr.entry.Name, CodeData, ErrRead, err)
		return n, cr.err
	}
	return n, nil
}

// Close releases the decompressor. It reports a verification failure seen by Read.
func (cr *checksumReader) Close() error {
	if cr.closed {
		return nil
	}
	cr.closed = true
	closeErr := cr.rc.Close()

	if cr.err != nil && cr.err != io.EOF {
		return cr.err
	}
	return closeErr
}
