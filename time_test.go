// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package unzip

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDecodeDOSTime(t *testing.T) {
	tests := []struct {
		name     string
		date     uint16
		timeVal  uint16
		fields   DOSTime
		expected time.Time
	}{
		{
			name:     "Epoch",
			date:     0x0021, // 1980-01-01
			timeVal:  0x0000,
			fields:   DOSTime{Year: 1980, Month: 1, Day: 1},
			expected: time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:     "Specific date",
			date:     0x578F, // 2023-12-15
			timeVal:  0x73C7, // 14:30:14, seconds have 2-second resolution
			fields:   DOSTime{Year: 2023, Month: 12, Day: 15, Hour: 14, Minute: 30, Second: 14},
			expected: time.Date(2023, 12, 15, 14, 30, 14, 0, time.UTC),
		},
		{
			name:     "Max time values",
			date:     0x0021,
			timeVal:  0xBF7D, // 23:59:58
			fields:   DOSTime{Year: 1980, Month: 1, Day: 1, Hour: 23, Minute: 59, Second: 58},
			expected: time.Date(1980, 1, 1, 23, 59, 58, 0, time.UTC),
		},
		{
			name:     "Invalid month clamped",
			date:     0x0001, // month=0, day=1
			timeVal:  0x0000,
			fields:   DOSTime{Year: 1980, Month: 0, Day: 1},
			expected: time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:     "Invalid day clamped",
			date:     0x0020, // month=1, day=0
			timeVal:  0x0000,
			fields:   DOSTime{Year: 1980, Month: 1, Day: 0},
			expected: time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:     "Month 13 kept raw",
			date:     0x01A1, // month=13, day=1
			timeVal:  0x0000,
			fields:   DOSTime{Year: 1980, Month: 13, Day: 1},
			expected: time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:     "Last year",
			date:     0xFF9F, // 2107-12-31
			timeVal:  0x0000,
			fields:   DOSTime{Year: 2107, Month: 12, Day: 31},
			expected: time.Date(2107, 12, 31, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := decodeDOSTime(tt.date, tt.timeVal)
			assert.Equal(t, tt.fields, got)
			assert.True(t, got.Time().Equal(tt.expected), "got %v, expected %v", got.Time(), tt.expected)
		})
	}
}

func TestWinFiletimeToTime(t *testing.T) {
	const epoch = 116444736000000000

	tests := []struct {
		name string
		ft   uint64
		want time.Time
	}{
		{"zero", 0, time.Time{}},
		{"unix epoch", epoch, time.Unix(0, 0).UTC()},
		{"one day later", epoch + 864_000_000_000, time.Date(1970, 1, 2, 0, 0, 0, 0, time.UTC)},
		{"sub-second", epoch + 15, time.Unix(0, 1500).UTC()},
		{"before 1970", epoch - 10_000_000, time.Date(1969, 12, 31, 23, 59, 59, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.want.Equal(winFiletimeToTime(tt.ft)), "got %v", winFiletimeToTime(tt.ft))
		})
	}
}

func ntfsExtra(mtime uint64) []byte {
	data := make([]byte, 4+4+24)
	binary.LittleEndian.PutUint16(data[4:], 0x0001)
	binary.LittleEndian.PutUint16(data[6:], 24)
	binary.LittleEndian.PutUint64(data[8:], mtime)
	return data
}

func extTimeExtra(flags byte, unix int32) []byte {
	data := []byte{flags, 0, 0, 0, 0}
	binary.LittleEndian.PutUint32(data[1:], uint32(unix))
	return data
}

func TestExtraModTime(t *testing.T) {
	const epoch = 116444736000000000
	ntfsTime := time.Date(2020, 6, 1, 12, 0, 0, 0, time.UTC)
	ntfsTicks := uint64(epoch + ntfsTime.Unix()*10_000_000)
	unixTime := time.Date(2021, 7, 4, 8, 30, 0, 0, time.UTC)

	tests := []struct {
		name  string
		extra map[uint16][]byte
		want  time.Time
		ok    bool
	}{
		{
			name: "none",
		},
		{
			name:  "ntfs",
			extra: map[uint16][]byte{ntfsExtraTag: ntfsExtra(ntfsTicks)},
			want:  ntfsTime,
			ok:    true,
		},
		{
			name:  "extended timestamp",
			extra: map[uint16][]byte{extTimeExtraTag: extTimeExtra(0x01, int32(unixTime.Unix()))},
			want:  unixTime,
			ok:    true,
		},
		{
			name: "ntfs preferred",
			extra: map[uint16][]byte{
				ntfsExtraTag:    ntfsExtra(ntfsTicks),
				extTimeExtraTag: extTimeExtra(0x01, int32(unixTime.Unix())),
			},
			want: ntfsTime,
			ok:   true,
		},
		{
			name: "zero ntfs falls back",
			extra: map[uint16][]byte{
				ntfsExtraTag:    ntfsExtra(0),
				extTimeExtraTag: extTimeExtra(0x01, int32(unixTime.Unix())),
			},
			want: unixTime,
			ok:   true,
		},
		{
			name:  "extended timestamp without mtime",
			extra: map[uint16][]byte{extTimeExtraTag: extTimeExtra(0x02, int32(unixTime.Unix()))},
		},
		{
			name:  "truncated ntfs",
			extra: map[uint16][]byte{ntfsExtraTag: ntfsExtra(ntfsTicks)[:20]},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := extraModTime(tt.extra)
			assert.Equal(t, tt.ok, ok)
			assert.True(t, tt.want.Equal(got), "got %v, want %v", got, tt.want)
		})
	}
}
