// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package unzip provides read-only access to ZIP archives: entry enumeration,
// lookup by name, metadata and verified extraction.
//
// An Archive holds a single entry cursor and no lock, so it must not be used from
// more than one goroutine at a time. Independent Archives share nothing and may be
// used concurrently.
package unzip

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"math"
	"os"
	"sync/atomic"

	"golang.org/x/text/encoding"

	"github.com/lemon4ksan/unzip/internal"
)

// openHandles counts files opened by Open and not yet released.
var openHandles atomic.Int64

type cursorState uint8

const (
	beforeFirst cursorState = iota
	positioned
	exhausted
)

// directory is the central directory summary taken from the end records.
type directory struct {
	count   uint64
	offset  int64 // absolute offset of the first record
	size    int64
	base    int64 // bytes prepended to the archive (self-extracting stubs)
	comment string
}

// Archive is a read-only handle to a ZIP archive with an entry cursor.
type Archive struct {
	src    io.ReaderAt
	closer io.Closer
	size   int64
	name   string
	cfg    config
	legacy *encoding.Decoder
	dir    directory

	state  cursorState
	index  uint64
	offset int64 // absolute offset of the current record
	record internal.CentralDirectory
	closed bool
}

// fileCloser releases a file opened by Open.
type fileCloser struct{ f *os.File }

func (c fileCloser) Close() error {
	openHandles.Add(-1)
	return c.f.Close()
}

// Open opens the ZIP archive at path.
// On failure no file stays open and the returned error is an *OpError with Kind ErrOpenFailed.
func Open(path string, opts ...Option) (*Archive, error) {
	cfg := newConfig(opts)

	f, err := os.Open(path) //nolint:gosec // path is provided by the caller
	if err != nil {
		return nil, newOpError("open", path, CodeOpen, ErrOpenFailed, err)
	}
	openHandles.Add(1)
	closer := fileCloser{f: f}

	if cfg.inMemory {
		data, err := io.ReadAll(f)
		_ = closer.Close() //nolint:errcheck // read-only file
		if err != nil {
			return nil, newOpError("open", path, CodeOpen, ErrOpenFailed, err)
		}
		return newArchive(bytes.NewReader(data), int64(len(data)), path, cfg, nil)
	}

	stat, err := f.Stat()
	if err != nil {
		_ = closer.Close() //nolint:errcheck // read-only file
		return nil, newOpError("open", path, CodeOpen, ErrOpenFailed, err)
	}

	a, err := newArchive(f, stat.Size(), path, cfg, closer)
	if err != nil {
		_ = closer.Close() //nolint:errcheck // read-only file
		return nil, err
	}
	return a, nil
}

// NewReader returns an Archive reading from r, which is assumed to have the given size in bytes.
// Close does not close r.
func NewReader(r io.ReaderAt, size int64, opts ...Option) (*Archive, error) {
	return newArchive(r, size, "", newConfig(opts), nil)
}

func newArchive(src io.ReaderAt, size int64, name string, cfg config, closer io.Closer) (*Archive, error) {
	a := &Archive{
		src:    src,
		closer: closer,
		size:   size,
		name:   name,
		cfg:    cfg,
	}
	if cfg.filenameEncode != nil {
		a.legacy = cfg.filenameEncode.NewDecoder()
	}

	dir, err := a.readDirectory()
	if err != nil {
		return nil, newOpError("open", name, CodeFormat, ErrOpenFailed, err)
	}
	a.dir = dir

	a.cfg.logger.Debug("opened archive",
		slog.String("name", name),
		slog.Int64("size", size),
		slog.Uint64("entries", dir.count),
		slog.Bool("in_memory", cfg.inMemory))

	return a, nil
}

// readDirectory locates the end records and validates the central directory bounds.
func (a *Archive) readDirectory() (directory, error) {
	end, endOffset, err := a.findEndOfCentralDir()
	if err != nil {
		return directory{}, err
	}

	dir := directory{
		count:   uint64(end.TotalNumberOfEntries),
		offset:  int64(end.CentralDirOffset),
		size:    int64(end.CentralDirSize),
		comment: end.Comment,
	}

	saturated := end.TotalNumberOfEntries == math.MaxUint16 ||
		end.CentralDirSize == math.MaxUint32 ||
		end.CentralDirOffset == math.MaxUint32

	zip64End, err := a.findZip64EndOfCentralDir(endOffset)
	switch {
	case err == nil:
		if zip64End.CentralDirOffset > math.MaxInt64 || zip64End.CentralDirSize > math.MaxInt64 {
			return directory{}, fmt.Errorf("%w: zip64 central directory out of range", ErrFormat)
		}
		dir.count = zip64End.TotalNumberOfEntries
		dir.offset = int64(zip64End.CentralDirOffset)
		dir.size = int64(zip64End.CentralDirSize)
	case saturated:
		return directory{}, err
	default:
		// No usable Zip64 records and none needed. Data may have been prepended to the
		// archive, shifting every stored offset by the same amount.
		if shift := endOffset - (dir.offset + dir.size); shift > 0 && !a.hasSignature(dir.offset, internal.CentralDirectorySignature) {
			dir.base = shift
			dir.offset += shift
		}
	}

	if dir.offset < 0 || dir.size < 0 || dir.offset+dir.size > a.size {
		return directory{}, fmt.Errorf("%w: central directory out of bounds", ErrFormat)
	}
	if dir.count > uint64(dir.size)/internal.CentralDirectoryLen {
		return directory{}, fmt.Errorf("%w: %d entries do not fit in a %d byte central directory", ErrFormat, dir.count, dir.size)
	}
	return dir, nil
}

// findEndOfCentralDir scans backwards for the End of Central Directory record and reads it.
// The record may be followed by a comment of up to 64 KiB.
func (a *Archive) findEndOfCentralDir() (internal.EndOfCentralDirectory, int64, error) {
	var (
		end       internal.EndOfCentralDirectory
		endOffset int64
		found     bool
	)

	if a.size < internal.EndOfCentralDirLen {
		return end, 0, fmt.Errorf("%w: file too small", ErrFormat)
	}

	const bufSize = 1024
	buf := make([]byte, bufSize)

	lowest := a.size - min(math.MaxUint16+internal.EndOfCentralDirLen, a.size)

	for hi := a.size; ; {
		lo := max(hi-bufSize, lowest)

		n, err := a.src.ReadAt(buf[:hi-lo], lo)
		if err != nil && err != io.EOF {
			return end, 0, fmt.Errorf("read at %d: %w", lo, err)
		}

		// The active buffer is valid up to n bytes
		chunk := buf[:n]

		for p := n - 4; p >= 0; p-- {
			if binary.LittleEndian.Uint32(chunk[p:p+4]) != internal.EndOfCentralDirSignature {
				continue
			}
			recordOffset := lo + int64(p)

			// Ensure we can read the full 22-byte EOCD header
			if recordOffset+internal.EndOfCentralDirLen > a.size {
				continue
			}

			// Calculate start of the record (skip signature 4 bytes)
			sr := io.NewSectionReader(a.src, recordOffset+4, a.size-(recordOffset+4))
			candidate, err := internal.ReadEndOfCentralDir(sr)
			if err != nil {
				// A comment running past the end of file means this is not the record.
				continue
			}
			// The signature may also occur inside the comment. A record whose comment
			// ends exactly at the end of file wins over one followed by trailing bytes.
			if recordOffset+internal.EndOfCentralDirLen+int64(candidate.CommentLength) == a.size {
				return candidate, recordOffset, nil
			}
			if !found {
				end, endOffset, found = candidate, recordOffset, true
			}
		}

		if lo == lowest {
			break
		}
		// Overlap by 3 bytes for signatures that cross buffer boundaries
		hi = lo + 3
	}

	if found {
		return end, endOffset, nil
	}
	return end, 0, fmt.Errorf("%w: no end of central directory signature found", ErrFormat)
}

// findZip64EndOfCentralDir reads the Zip64 locator preceding the EOCD record at endOffset
// and the Zip64 End of Central Directory record it points to.
func (a *Archive) findZip64EndOfCentralDir(endOffset int64) (internal.Zip64EndOfCentralDirectory, error) {
	var zip64End internal.Zip64EndOfCentralDirectory

	locatorOffset := endOffset - internal.Zip64EndOfCentralDirLocatorLen
	if locatorOffset < internal.Zip64EndOfCentralDirLen {
		return zip64End, fmt.Errorf("%w: no room for zip64 locator", ErrFormat)
	}

	locReader := io.NewSectionReader(a.src, locatorOffset, internal.Zip64EndOfCentralDirLocatorLen)
	if !verifySignature(locReader, internal.Zip64EndOfCentralDirLocatorSignature) {
		return zip64End, fmt.Errorf("%w: expected zip64 end of central directory locator signature", ErrFormat)
	}

	locator, err := internal.ReadZip64EndOfCentralDirLocator(locReader)
	if err != nil {
		return zip64End, fmt.Errorf("read zip64 end of central dir locator: %w", err)
	}

	if locator.Zip64EndOfCentralDirOffset > uint64(locatorOffset-internal.Zip64EndOfCentralDirLen) {
		return zip64End, fmt.Errorf("%w: invalid zip64 end of central directory offset", ErrFormat)
	}
	recordOffset := int64(locator.Zip64EndOfCentralDirOffset)

	zip64EocdReader := io.NewSectionReader(a.src, recordOffset, locatorOffset-recordOffset)
	if !verifySignature(zip64EocdReader, internal.Zip64EndOfCentralDirSignature) {
		return zip64End, fmt.Errorf("%w: expected zip64 end of central directory signature", ErrFormat)
	}

	return internal.ReadZip64EndOfCentralDir(zip64EocdReader)
}

// hasSignature reports whether the 4 bytes at offset match s.
func (a *Archive) hasSignature(offset int64, s uint32) bool {
	if offset < 0 || offset+4 > a.size {
		return false
	}
	return verifySignature(io.NewSectionReader(a.src, offset, 4), s)
}

// verifySignature checks whether the next 4 bytes match the given signature.
func verifySignature(r io.Reader, s uint32) bool {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return false
	}
	return binary.LittleEndian.Uint32(buf[:]) == s
}

// readRecord reads the central directory record at the absolute offset.
// Reads are bounded by the end of the central directory.
func (a *Archive) readRecord(offset int64) (internal.CentralDirectory, error) {
	cdEnd := a.dir.offset + a.dir.size
	if offset < a.dir.offset || offset+internal.CentralDirectoryLen > cdEnd {
		return internal.CentralDirectory{}, newOpError("read entry", "", CodeFormat, ErrInvalidMetadata,
			fmt.Errorf("record at %d exceeds central directory", offset))
	}

	rec, err := internal.ReadCentralDirEntry(io.NewSectionReader(a.src, offset, cdEnd-offset))
	if err != nil {
		return internal.CentralDirectory{}, newOpError("read entry", "", CodeFormat, ErrInvalidMetadata, err)
	}
	return rec, nil
}

func (a *Archive) errClosed(op string) error {
	return newOpError(op, a.name, CodeParam, ErrClosed, nil)
}

func (a *Archive) moveTo(index uint64, offset int64, rec internal.CentralDirectory) {
	a.state = positioned
	a.index = index
	a.offset = offset
	a.record = rec
}

func (a *Archive) exhaust() {
	a.state = exhausted
	a.record = internal.CentralDirectory{}
}

// EntryCount returns the number of entries declared by the central directory.
func (a *Archive) EntryCount() (uint64, error) {
	if a.closed {
		return 0, a.errClosed("count")
	}
	return a.dir.count, nil
}

// Comment returns the archive comment.
func (a *Archive) Comment() string { return a.dir.comment }

// GotoFirstEntry positions the cursor on the first entry.
// It returns false with a nil error when the archive has no entries.
// On error the cursor is left where it was.
func (a *Archive) GotoFirstEntry() (bool, error) {
	if a.closed {
		return false, a.errClosed("first entry")
	}
	if a.dir.count == 0 {
		a.exhaust()
		return false, nil
	}

	rec, err := a.readRecord(a.dir.offset)
	if err != nil {
		return false, err
	}
	a.moveTo(0, a.dir.offset, rec)
	return true, nil
}

// GotoNextEntry advances the cursor. It returns false with a nil error once the
// last entry has been passed; further calls keep returning false.
// Before the first positioning it behaves like GotoFirstEntry.
func (a *Archive) GotoNextEntry() (bool, error) {
	if a.closed {
		return false, a.errClosed("next entry")
	}

	switch a.state {
	case beforeFirst:
		return a.GotoFirstEntry()
	case exhausted:
		return false, nil
	}

	if a.index+1 >= a.dir.count {
		a.exhaust()
		return false, nil
	}

	offset := a.offset + a.record.RecordLen()
	rec, err := a.readRecord(offset)
	if err != nil {
		return false, err
	}
	a.moveTo(a.index+1, offset, rec)
	return true, nil
}

// LocateEntry positions the cursor on the first entry whose stored name equals name.
// Names are compared byte for byte; when caseSensitive is false ASCII letters are
// folded and all other bytes must match exactly. No path normalization is done.
// If nothing matches the cursor is exhausted and the error matches ErrNotFound.
func (a *Archive) LocateEntry(name string, caseSensitive bool) error {
	if a.closed {
		return a.errClosed("locate")
	}

	offset := a.dir.offset
	for i := range a.dir.count {
		rec, err := a.readRecord(offset)
		if err != nil {
			return err
		}
		if a.nameMatches(rec, name, caseSensitive) {
			a.moveTo(i, offset, rec)
			a.cfg.logger.Debug("located entry", slog.String("name", name), slog.Uint64("index", i))
			return nil
		}
		offset += rec.RecordLen()
	}

	a.exhaust()
	a.cfg.logger.Debug("entry not found", slog.String("name", name), slog.Bool("case_sensitive", caseSensitive))
	return newOpError("locate", name, CodeExist, ErrNotFound, nil)
}

// nameMatches compares against the stored name and, for legacy-encoded
// records, against the decoded name as well.
func (a *Archive) nameMatches(rec internal.CentralDirectory, name string, caseSensitive bool) bool {
	eq := func(s string) bool {
		if caseSensitive {
			return s == name
		}
		return equalFoldASCII(s, name)
	}

	if eq(rec.Filename) {
		return true
	}
	if a.legacy != nil && rec.GeneralPurposeBitFlag&flagUTF8 == 0 {
		if decoded, err := a.legacy.String(rec.Filename); err == nil {
			return eq(decoded)
		}
	}
	return false
}

// equalFoldASCII reports whether s and t are equal under ASCII case folding.
func equalFoldASCII(s, t string) bool {
	if len(s) != len(t) {
		return false
	}
	for i := 0; i < len(s); i++ {
		if lowerASCII(s[i]) != lowerASCII(t[i]) {
			return false
		}
	}
	return true
}

func lowerASCII(b byte) byte {
	if 'A' <= b && b <= 'Z' {
		return b + ('a' - 'A')
	}
	return b
}

// CurrentEntry returns the metadata of the entry under the cursor.
func (a *Archive) CurrentEntry() (Entry, error) {
	if a.closed {
		return Entry{}, a.errClosed("entry")
	}
	if a.state != positioned {
		return Entry{}, newOpError("entry", "", CodeParam, ErrNoCurrentEntry, nil)
	}

	e, err := projectEntry(a.record, a.legacy)
	if err != nil {
		return Entry{}, err
	}
	e.LocalHeaderOffset += uint64(a.dir.base)
	return e, nil
}

// Entries returns an iterator over all entries from the first one.
// It moves the cursor; an error is yielded once and ends iteration
// unless it concerns a single entry's metadata.
func (a *Archive) Entries() iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		ok, err := a.GotoFirstEntry()
		for ; ok && err == nil; ok, err = a.GotoNextEntry() {
			e, entryErr := a.CurrentEntry()
			if !yield(e, entryErr) {
				return
			}
		}
		if err != nil {
			yield(Entry{}, err)
		}
	}
}

// Close releases the underlying file, if the Archive opened one.
// It is safe to call more than once.
func (a *Archive) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true
	a.exhaust()

	if a.closer == nil {
		return nil
	}
	err := a.closer.Close()
	a.closer = nil
	if err != nil {
		return fmt.Errorf("close %s: %w", a.name, err)
	}
	return nil
}
