// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package unzip

import (
	"archive/zip"
	"bytes"
	"hash/crc32"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"
)

// fixtureTime has an even second so it survives the DOS encoding.
var fixtureTime = time.Date(2024, time.March, 9, 14, 5, 30, 0, time.UTC)

// fixture describes one entry written through archive/zip.
type fixture struct {
	name    string
	body    []byte
	method  uint16
	mode    fs.FileMode
	comment string

	// raw entries are written verbatim with CreateRaw
	raw   bool
	crc   uint32
	usize uint64
	flags uint16
}

func stored(name, body string) fixture {
	return fixture{name: name, body: []byte(body), method: zip.Store}
}

func deflated(name string, body []byte) fixture {
	return fixture{name: name, body: body, method: zip.Deflate}
}

// buildZip writes the fixtures into an in-memory archive.
func buildZip(t *testing.T, comment string, entries ...fixture) []byte {
	t.Helper()

	buf := new(bytes.Buffer)
	w := zip.NewWriter(buf)
	w.RegisterCompressor(uint16(ZStandard), func(out io.Writer) (io.WriteCloser, error) {
		enc, err := zstd.NewWriter(out)
		if err != nil {
			return nil, err
		}
		return enc, nil
	})
	w.RegisterCompressor(uint16(XZ), func(out io.Writer) (io.WriteCloser, error) {
		xw, err := xz.NewWriter(out)
		if err != nil {
			return nil, err
		}
		return xw, nil
	})

	for _, e := range entries {
		if e.raw {
			fh := &zip.FileHeader{
				Name:               e.name,
				Method:             e.method,
				Flags:              e.flags,
				CRC32:              e.crc,
				CompressedSize64:   uint64(len(e.body)),
				UncompressedSize64: e.usize,
				Comment:            e.comment,
			}
			fw, err := w.CreateRaw(fh)
			require.NoError(t, err)
			_, err = fw.Write(e.body)
			require.NoError(t, err)
			continue
		}

		fh := &zip.FileHeader{
			Name:     e.name,
			Method:   e.method,
			Modified: fixtureTime,
			Comment:  e.comment,
		}
		if e.mode != 0 {
			fh.SetMode(e.mode)
		}
		fw, err := w.CreateHeader(fh)
		require.NoError(t, err)
		if len(e.body) > 0 {
			_, err = fw.Write(e.body)
			require.NoError(t, err)
		}
	}

	if comment != "" {
		require.NoError(t, w.SetComment(comment))
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

// writeZip stores data as a file in a temporary directory and returns its path.
func writeZip(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.zip")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

// openBytes opens an in-memory archive and closes it with the test.
func openBytes(t *testing.T, data []byte, opts ...Option) *Archive {
	t.Helper()
	a, err := NewReader(bytes.NewReader(data), int64(len(data)), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

// sampleZip holds a stored text file and a deflated binary of 1000 zero bytes.
func sampleZip(t *testing.T) []byte {
	return buildZip(t, "",
		stored("a.txt", "hello"),
		deflated("b.bin", make([]byte, 1000)),
	)
}

// corruptCRC is a stored entry whose recorded checksum is wrong.
func corruptCRC(name, body string) fixture {
	return fixture{
		name:   name,
		body:   []byte(body),
		method: zip.Store,
		raw:    true,
		crc:    crc32.ChecksumIEEE([]byte(body)) ^ 0xFFFFFFFF,
		usize:  uint64(len(body)),
	}
}

// lzmaEntry compresses body with the classic LZMA encoder and repacks the
// stream in the ZIP layout: version, properties size, properties, data.
func lzmaEntry(t *testing.T, name string, body []byte) fixture {
	t.Helper()

	var classic bytes.Buffer
	lw, err := lzma.NewWriter(&classic)
	require.NoError(t, err)
	_, err = lw.Write(body)
	require.NoError(t, err)
	require.NoError(t, lw.Close())

	out := classic.Bytes()
	require.Greater(t, len(out), 13)

	payload := []byte{9, 20, 5, 0}
	payload = append(payload, out[:5]...)
	payload = append(payload, out[13:]...)

	return fixture{
		name:   name,
		body:   payload,
		method: uint16(LZMA),
		raw:    true,
		crc:    crc32.ChecksumIEEE(body),
		usize:  uint64(len(body)),
		flags:  flagLZMAEOS,
	}
}
