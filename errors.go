// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package unzip

import (
	"errors"
	"fmt"
	"strconv"
	"syscall"
)

// Error kinds. Every failure returned by an Archive matches one of these with errors.Is.
var (
	// ErrOpenFailed is returned when the archive or an entry stream cannot be opened.
	ErrOpenFailed = errors.New("zip: open failed")

	// ErrNotFound is returned when a name lookup finds no matching entry.
	ErrNotFound = errors.New("zip: file not found")

	// ErrInvalidMetadata is returned when a central directory record cannot be decoded.
	ErrInvalidMetadata = errors.New("zip: invalid file info")

	// ErrInvalidPath is returned when a stored entry name is not valid UTF-8.
	ErrInvalidPath = errors.New("zip: invalid path")

	// ErrRead is returned when decompressed content fails verification or cannot be read.
	ErrRead = errors.New("zip: read error")

	// ErrEndOfList marks the end of entry iteration. The cursor methods never return it;
	// it is provided for callers that need an error value for the condition.
	ErrEndOfList = errors.New("zip: end of list")
)

var (
	// ErrChecksum is returned when the CRC-32 of extracted content does not match the record.
	ErrChecksum = fmt.Errorf("%w: checksum mismatch", ErrRead)

	// ErrSizeMismatch is returned when the decompressed length differs from the record.
	ErrSizeMismatch = fmt.Errorf("%w: uncompressed size mismatch", ErrRead)

	// ErrFormat is returned when the input is not a valid ZIP archive.
	ErrFormat = errors.New("zip: not a valid zip file")

	// ErrAlgorithm is returned when a compression algorithm is not supported.
	ErrAlgorithm = errors.New("zip: unsupported compression algorithm")

	// ErrEncrypted is returned when extraction of an encrypted entry is attempted.
	ErrEncrypted = errors.New("zip: encrypted entries are not supported")

	// ErrEntryTooLarge is returned when an entry's declared size exceeds the configured limit.
	ErrEntryTooLarge = errors.New("zip: entry too large")

	// ErrClosed is returned when an Archive is used after Close.
	ErrClosed = errors.New("zip: archive is closed")

	// ErrNoCurrentEntry is returned when the cursor is not positioned on an entry.
	ErrNoCurrentEntry = errors.New("zip: no current entry")

	// ErrInsecurePath is returned when an entry would be extracted outside the destination (Zip Slip).
	ErrInsecurePath = errors.New("zip: insecure file path")
)

// Code is a numeric status compatible with the minizip error codes.
type Code int32

const (
	CodeOK          Code = 0
	CodeStream      Code = -1
	CodeData        Code = -3
	CodeMem         Code = -4
	CodeEndOfList   Code = -100
	CodeEndOfStream Code = -101
	CodeParam       Code = -102
	CodeFormat      Code = -103
	CodeInternal    Code = -104
	CodeCRC         Code = -105
	CodeCrypt       Code = -106
	CodeExist       Code = -107
	CodePassword    Code = -108
	CodeSupport     Code = -109
	CodeOpen        Code = -111
	CodeRead        Code = -115
)

var codeNames = map[Code]string{
	CodeOK:          "ok",
	CodeStream:      "stream error",
	CodeData:        "data error",
	CodeMem:         "memory error",
	CodeEndOfList:   "end of list",
	CodeEndOfStream: "end of stream",
	CodeParam:       "parameter error",
	CodeFormat:      "format error",
	CodeInternal:    "internal error",
	CodeCRC:         "crc error",
	CodeCrypt:       "crypt error",
	CodeExist:       "does not exist",
	CodePassword:    "password error",
	CodeSupport:     "not supported",
	CodeOpen:        "open error",
	CodeRead:        "read error",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return "code " + strconv.Itoa(int(c))
}

// OpError describes a failed archive operation.
//
// Kind is one of the package error kinds and Err is the underlying cause, if any.
// Both are reachable through errors.Is and errors.As.
type OpError struct {
	Op   string // operation, e.g. "open", "locate", "extract"
	Name string // archive path or entry name
	Code Code
	Kind error
	Err  error
}

func (e *OpError) Error() string {
	s := e.Op
	if e.Name != "" {
		s += " " + strconv.Quote(e.Name)
	}
	s += ": " + e.Kind.Error()
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	if e.Code != CodeOK {
		s += fmt.Sprintf(" (%d)", e.Code)
	}
	return s
}

func (e *OpError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Errno returns the operating system error number behind the failure, if there is one.
func (e *OpError) Errno() (syscall.Errno, bool) {
	var errno syscall.Errno
	if errors.As(e.Err, &errno) {
		return errno, true
	}
	return 0, false
}

// CodeOf returns the numeric code carried by err.
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}
	var opErr *OpError
	if errors.As(err, &opErr) {
		return opErr.Code
	}
	if errors.Is(err, ErrEndOfList) {
		return CodeEndOfList
	}
	return CodeInternal
}

// IsEndOfList reports whether err marks the end of entry iteration.
func IsEndOfList(err error) bool {
	return errors.Is(err, ErrEndOfList)
}

func newOpError(op, name string, code Code, kind, err error) *OpError {
	return &OpError{Op: op, Name: name, Code: code, Kind: kind, Err: err}
}
