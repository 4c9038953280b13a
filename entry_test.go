// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package unzip

import (
	"encoding/binary"
	"io/fs"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"

	"github.com/lemon4ksan/unzip/internal"
	"github.com/lemon4ksan/unzip/internal/sys"
)

func zip64Extra(values ...uint64) []byte {
	data := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(data[8*i:], v)
	}
	return data
}

func TestProjectEntry(t *testing.T) {
	rec := internal.CentralDirectory{
		VersionMadeBy:          uint16(sys.HostSystemUNIX)<<8 | 20,
		GeneralPurposeBitFlag:  flagUTF8 | 0x4,
		CompressionMethod:      uint16(Deflated),
		LastModFileDate:        0x578F,
		LastModFileTime:        0x73C7,
		CRC32:                  0xCAFEBABE,
		CompressedSize:         10,
		UncompressedSize:       20,
		InternalFileAttributes: 1,
		ExternalFileAttributes: (sys.S_IFREG | 0o640) << 16,
		LocalHeaderOffset:      123,
		Filename:               "docs/naïve.txt",
		Comment:                "note",
	}

	e, err := projectEntry(rec, nil)
	require.NoError(t, err)

	assert.Equal(t, "docs/naïve.txt", e.Name)
	assert.Equal(t, "note", e.Comment)
	assert.Equal(t, uint64(20), e.UncompressedSize)
	assert.Equal(t, uint64(10), e.CompressedSize)
	assert.Equal(t, uint32(0xCAFEBABE), e.CRC32)
	assert.Equal(t, Deflated, e.Method)
	assert.False(t, e.Encrypted)
	assert.Equal(t, uint16(1), e.InternalAttrs)
	assert.Equal(t, uint64(123), e.LocalHeaderOffset)
	assert.Equal(t, DOSTime{Year: 2023, Month: 12, Day: 15, Hour: 14, Minute: 30, Second: 14}, e.Modified)
	assert.True(t, e.ModTime().Equal(time.Date(2023, 12, 15, 14, 30, 14, 0, time.UTC)))
	assert.Equal(t, sys.HostSystemUNIX, e.HostSystem())
	assert.Equal(t, fs.FileMode(0o640), e.Mode())
	assert.Equal(t, DeflateFast, e.DeflateLevel())
	assert.False(t, e.IsDir())
}

func TestProjectEntry_InvalidName(t *testing.T) {
	rec := internal.CentralDirectory{Filename: "bad\xffname"}

	_, err := projectEntry(rec, nil)
	require.ErrorIs(t, err, ErrInvalidPath)
	assert.Equal(t, CodeFormat, CodeOf(err))

	// A legacy decoder accepts any byte for names without the UTF-8 flag.
	e, err := projectEntry(rec, charmap.CodePage437.NewDecoder())
	require.NoError(t, err)
	assert.Equal(t, "bad\u00a0name", e.Name)

	// The UTF-8 flag bypasses the legacy decoder.
	rec.GeneralPurposeBitFlag = flagUTF8
	_, err = projectEntry(rec, charmap.CodePage437.NewDecoder())
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestProjectEntry_AES(t *testing.T) {
	aes := make([]byte, 7)
	binary.LittleEndian.PutUint16(aes[0:], 2) // AE-2
	copy(aes[2:4], "AE")                      // vendor
	aes[4] = 3                                // 256-bit
	binary.LittleEndian.PutUint16(aes[5:], 8) // deflate

	e, err := projectEntry(internal.CentralDirectory{
		Filename:          "secret.txt",
		CompressionMethod: uint16(AES),
		ExtraField:        map[uint16][]byte{aesExtraTag: aes},
	}, nil)
	require.NoError(t, err)
	assert.True(t, e.Encrypted)
	assert.Equal(t, AES, e.Method)
	assert.Equal(t, Deflated, e.AESMethod)
}

func TestApplyZip64(t *testing.T) {
	const big = uint64(1) << 33

	tests := []struct {
		name    string
		rec     internal.CentralDirectory
		want    Entry
		wantErr bool
	}{
		{
			name: "not saturated",
			rec: internal.CentralDirectory{
				UncompressedSize: 1, CompressedSize: 2, LocalHeaderOffset: 3,
				ExtraField: map[uint16][]byte{zip64ExtraTag: zip64Extra(big)},
			},
			want: Entry{UncompressedSize: 1, CompressedSize: 2, LocalHeaderOffset: 3},
		},
		{
			name: "all saturated",
			rec: internal.CentralDirectory{
				UncompressedSize: math.MaxUint32, CompressedSize: math.MaxUint32, LocalHeaderOffset: math.MaxUint32,
				ExtraField: map[uint16][]byte{zip64ExtraTag: zip64Extra(big, big+1, big+2)},
			},
			want: Entry{UncompressedSize: big, CompressedSize: big + 1, LocalHeaderOffset: big + 2},
		},
		{
			name: "only offset saturated",
			rec: internal.CentralDirectory{
				UncompressedSize: 5, CompressedSize: 6, LocalHeaderOffset: math.MaxUint32,
				ExtraField: map[uint16][]byte{zip64ExtraTag: zip64Extra(big)},
			},
			want: Entry{UncompressedSize: 5, CompressedSize: 6, LocalHeaderOffset: big},
		},
		{
			name: "compressed and offset saturated",
			rec: internal.CentralDirectory{
				UncompressedSize: 5, CompressedSize: math.MaxUint32, LocalHeaderOffset: math.MaxUint32,
				ExtraField: map[uint16][]byte{zip64ExtraTag: zip64Extra(7, 9)},
			},
			want: Entry{UncompressedSize: 5, CompressedSize: 7, LocalHeaderOffset: 9},
		},
		{
			name: "saturated without extra field",
			rec: internal.CentralDirectory{
				UncompressedSize: math.MaxUint32, CompressedSize: 4,
			},
			want: Entry{UncompressedSize: math.MaxUint32, CompressedSize: 4},
		},
		{
			name: "extra field too short",
			rec: internal.CentralDirectory{
				UncompressedSize: math.MaxUint32, CompressedSize: math.MaxUint32,
				ExtraField: map[uint16][]byte{zip64ExtraTag: zip64Extra(big)},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := Entry{
				UncompressedSize:  uint64(tt.rec.UncompressedSize),
				CompressedSize:    uint64(tt.rec.CompressedSize),
				LocalHeaderOffset: uint64(tt.rec.LocalHeaderOffset),
			}
			err := e.applyZip64(tt.rec)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, e)
		})
	}
}

func TestProjectEntry_Zip64Error(t *testing.T) {
	_, err := projectEntry(internal.CentralDirectory{
		Filename:         "huge.bin",
		UncompressedSize: math.MaxUint32,
		ExtraField:       map[uint16][]byte{zip64ExtraTag: {1, 2, 3}},
	}, nil)
	assert.ErrorIs(t, err, ErrInvalidMetadata)
	assert.Equal(t, CodeFormat, CodeOf(err))
}

func TestEntryMode(t *testing.T) {
	tests := []struct {
		name  string
		entry Entry
		want  fs.FileMode
	}{
		{
			name:  "fat file",
			entry: Entry{Name: "a.txt"},
			want:  0o644,
		},
		{
			name:  "fat read-only",
			entry: Entry{Name: "a.txt", ExternalAttrs: sys.DOSReadOnly},
			want:  0o444,
		},
		{
			name:  "fat directory",
			entry: Entry{Name: "d/"},
			want:  fs.ModeDir | 0o755,
		},
		{
			name:  "unix symlink",
			entry: Entry{Name: "link", VersionMadeBy: 3 << 8, ExternalAttrs: (sys.S_IFLNK | 0o777) << 16},
			want:  fs.ModeSymlink | 0o777,
		},
		{
			name:  "unix without mode bits",
			entry: Entry{Name: "x", VersionMadeBy: 3 << 8},
			want:  0o644,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.entry.Mode())
		})
	}
}

func TestEntryModTime_PrefersExtraField(t *testing.T) {
	unixTime := time.Date(2021, 7, 4, 8, 30, 1, 0, time.UTC)

	e, err := projectEntry(internal.CentralDirectory{
		Filename:        "t.txt",
		LastModFileDate: 0x0021,
		ExtraField:      map[uint16][]byte{extTimeExtraTag: extTimeExtra(0x01, int32(unixTime.Unix()))},
	}, nil)
	require.NoError(t, err)

	assert.True(t, e.ModTime().Equal(unixTime), "odd seconds survive only in the extra field")
	assert.Equal(t, 1980, e.Modified.Year)
}

func TestDeflateLevel(t *testing.T) {
	for flags, want := range map[uint16]DeflateLevel{
		0x0: DeflateNormal,
		0x2: DeflateMaximum,
		0x4: DeflateFast,
		0x6: DeflateSuperFast,
		0x9: DeflateNormal,
	} {
		assert.Equal(t, want, Entry{Flags: flags}.DeflateLevel(), "flags %#x", flags)
	}
}
