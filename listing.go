// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package unzip

import (
	"fmt"
	"io"
)

const (
	listingHeader = "      Packed     Unpacked Ratio Method   Attribs Date     Time  CRC-32     Name\n" +
		"      ------     -------- ----- ------   ------- ----     ----  ------     ----\n"
	listingRow = "%12d %12d  %3d%% %6s%c %8x %02d-%02d-%02d %02d:%02d %08x   %s\n"
)

// List writes a table of all entries to w, one row per entry.
// Reaching the end of the entry list is success. The cursor is moved.
func (a *Archive) List(w io.Writer) error {
	if a.closed {
		return a.errClosed("list")
	}

	if _, err := io.WriteString(w, listingHeader); err != nil {
		return err
	}

	for e, err := range a.Entries() {
		if err != nil {
			return err
		}
		if _, err := io.WriteString(w, listingLine(e)); err != nil {
			return err
		}
	}
	return nil
}

// ListArchive is List reporting only success.
func (a *Archive) ListArchive(w io.Writer) bool {
	return a.List(w) == nil
}

func listingLine(e Entry) string {
	var ratio uint64
	if e.UncompressedSize > 0 {
		ratio = e.CompressedSize * 100 / e.UncompressedSize
	}

	crypt := ' '
	if e.Encrypted {
		crypt = '*'
	}

	m := e.Modified
	return fmt.Sprintf(listingRow,
		e.CompressedSize, e.UncompressedSize, ratio,
		listingMethod(e), crypt, e.ExternalAttrs,
		m.Month, m.Day, m.Year%100, m.Hour, m.Minute,
		e.CRC32, e.Name)
}

// listingMethod returns the short method label used in listings.
func listingMethod(e Entry) string {
	switch e.Method {
	case Stored:
		return "Stored"
	case Deflated:
		switch e.DeflateLevel() {
		case DeflateNormal:
			return "Defl:N"
		case DeflateMaximum:
			return "Defl:X"
		case DeflateFast, DeflateSuperFast:
			return "Defl:F"
		}
		return "Defl:?"
	case BZIP2:
		return "BZip2"
	case LZMA:
		return "LZMA"
	case ZStandard:
		return "Zstd"
	case XZ:
		return "XZ"
	case AES:
		return "AES"
	default:
		return "?"
	}
}
