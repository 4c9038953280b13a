// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package unzip

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding"

	"github.com/lemon4ksan/unzip/internal"
	"github.com/lemon4ksan/unzip/internal/sys"
)

// General purpose bit flags
const (
	flagEncrypted      uint16 = 0x0001
	flagLZMAEOS        uint16 = 0x0002 // LZMA only; deflate uses bits 1-2 for the level
	flagDeflateLevel   uint16 = 0x0006
	flagDataDescriptor uint16 = 0x0008
	flagUTF8           uint16 = 0x0800
)

// Extra field tags
const (
	zip64ExtraTag uint16 = 0x0001
	aesExtraTag   uint16 = 0x9901
)

// DeflateLevel is the compression level hint stored in flag bits 1-2 of deflated entries.
type DeflateLevel uint8

const (
	DeflateNormal DeflateLevel = iota
	DeflateMaximum
	DeflateFast
	DeflateSuperFast
)

// Entry is the metadata of one archive member, decoded from its central directory record.
// It holds no reference to the Archive it came from.
type Entry struct {
	Name              string // UTF-8, as stored (directories keep their trailing slash)
	Comment           string
	UncompressedSize  uint64
	CompressedSize    uint64
	CRC32             uint32
	Method            CompressionMethod
	Flags             uint16 // general purpose bit flag
	Encrypted         bool   // flag bit 0 or the WinZip AES marker
	ExternalAttrs     uint32
	InternalAttrs     uint16
	VersionMadeBy     uint16
	Modified          DOSTime
	LocalHeaderOffset uint64

	// AESMethod is the real compression method of an AES entry, read from the 0x9901 extra field.
	AESMethod CompressionMethod

	modTime time.Time
}

// IsDir reports whether the entry names a directory.
func (e Entry) IsDir() bool { return strings.HasSuffix(e.Name, "/") }

// HostSystem returns the system the entry was created on.
func (e Entry) HostSystem() sys.HostSystem { return sys.HostSystem(e.VersionMadeBy >> 8) }

// Mode returns the file mode derived from the external attributes.
func (e Entry) Mode() fs.FileMode {
	return sys.FileMode(e.HostSystem(), e.ExternalAttrs, e.IsDir())
}

// ModTime returns the most precise modification time available: NTFS extra field,
// then the extended timestamp field, then the DOS date and time.
func (e Entry) ModTime() time.Time {
	if !e.modTime.IsZero() {
		return e.modTime
	}
	return e.Modified.Time()
}

// DeflateLevel returns the level hint of a deflated entry.
func (e Entry) DeflateLevel() DeflateLevel {
	return DeflateLevel((e.Flags & flagDeflateLevel) >> 1)
}

// projectEntry decodes a central directory record into an Entry.
// A nil legacy decoder means names must be valid UTF-8.
func projectEntry(rec internal.CentralDirectory, legacy *encoding.Decoder) (Entry, error) {
	name, comment := rec.Filename, rec.Comment

	if legacy != nil && rec.GeneralPurposeBitFlag&flagUTF8 == 0 {
		var err error
		if name, err = legacy.String(rec.Filename); err != nil {
			return Entry{}, newOpError("entry", rec.Filename, CodeFormat, ErrInvalidPath, err)
		}
		if comment, err = legacy.String(rec.Comment); err != nil {
			comment = rec.Comment
		}
	} else if !utf8.ValidString(name) {
		return Entry{}, newOpError("entry", name, CodeFormat, ErrInvalidPath, errors.New("name is not valid UTF-8"))
	}

	e := Entry{
		Name:              name,
		Comment:           comment,
		UncompressedSize:  uint64(rec.UncompressedSize),
		CompressedSize:    uint64(rec.CompressedSize),
		CRC32:             rec.CRC32,
		Method:            CompressionMethod(rec.CompressionMethod),
		Flags:             rec.GeneralPurposeBitFlag,
		Encrypted:         rec.GeneralPurposeBitFlag&flagEncrypted != 0,
		ExternalAttrs:     rec.ExternalFileAttributes,
		InternalAttrs:     rec.InternalFileAttributes,
		VersionMadeBy:     rec.VersionMadeBy,
		Modified:          decodeDOSTime(rec.LastModFileDate, rec.LastModFileTime),
		LocalHeaderOffset: uint64(rec.LocalHeaderOffset),
	}

	if err := e.applyZip64(rec); err != nil {
		return Entry{}, newOpError("entry", name, CodeFormat, ErrInvalidMetadata, err)
	}

	if e.Method == AES {
		e.Encrypted = true
		// vendor version(2) vendor id(2) strength(1) method(2)
		if data := rec.ExtraField[aesExtraTag]; len(data) >= 7 {
			e.AESMethod = CompressionMethod(binary.LittleEndian.Uint16(data[5:7]))
		}
	}

	if t, ok := extraModTime(rec.ExtraField); ok {
		e.modTime = t
	}

	return e, nil
}

// applyZip64 replaces saturated 32-bit fields with values from the Zip64 extra field.
// Values appear in fixed order and only for the fields that are saturated.
func (e *Entry) applyZip64(rec internal.CentralDirectory) error {
	needUncompressed := rec.UncompressedSize == math.MaxUint32
	needCompressed := rec.CompressedSize == math.MaxUint32
	needOffset := rec.LocalHeaderOffset == math.MaxUint32
	if !needUncompressed && !needCompressed && !needOffset {
		return nil
	}

	data, ok := rec.ExtraField[zip64ExtraTag]
	if !ok {
		return nil
	}

	next := func(field string) (uint64, error) {
		if len(data) < 8 {
			return 0, fmt.Errorf("zip64 extra field is missing %s", field)
		}
		v := binary.LittleEndian.Uint64(data[:8])
		data = data[8:]
		return v, nil
	}

	var err error
	if needUncompressed {
		if e.UncompressedSize, err = next("uncompressed size"); err != nil {
			return err
		}
	}
	if needCompressed {
		if e.CompressedSize, err = next("compressed size"); err != nil {
			return err
		}
	}
	if needOffset {
		if e.LocalHeaderOffset, err = next("local header offset"); err != nil {
			return err
		}
	}
	return nil
}
