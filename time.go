// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package unzip

import (
	"encoding/binary"
	"time"
)

// DOSTime is a calendar timestamp decoded from the packed MS-DOS date and time fields.
// Values are kept as stored, without range correction.
type DOSTime struct {
	Year   int // full year, 1980-2107
	Month  int // 1-12 in well-formed records
	Day    int // 1-31 in well-formed records
	Hour   int
	Minute int
	Second int // always even
}

// decodeDOSTime unpacks day(5) month(4) year-1980(7) and second/2(5) minute(6) hour(5).
func decodeDOSTime(dosDate, dosTime uint16) DOSTime {
	return DOSTime{
		Year:   int((dosDate>>9)&0x7F) + 1980,
		Month:  int((dosDate >> 5) & 0x0F),
		Day:    int(dosDate & 0x1F),
		Hour:   int((dosTime >> 11) & 0x1F),
		Minute: int((dosTime >> 5) & 0x3F),
		Second: int(dosTime&0x1F) * 2,
	}
}

// Time converts t to a time.Time in UTC. Out-of-range months and days are clamped to 1.
func (t DOSTime) Time() time.Time {
	month, day := t.Month, t.Day
	if month < 1 || month > 12 {
		month = 1
	}
	if day < 1 || day > 31 {
		day = 1
	}
	return time.Date(t.Year, time.Month(month), day, t.Hour, t.Minute, t.Second, 0, time.UTC)
}

// Extra field tags carrying precise timestamps.
const (
	ntfsExtraTag    uint16 = 0x000A
	extTimeExtraTag uint16 = 0x5455
)

// extraModTime returns the modification time from the NTFS or extended timestamp
// extra fields, in that order of preference.
func extraModTime(extra map[uint16][]byte) (time.Time, bool) {
	if data, ok := extra[ntfsExtraTag]; ok {
		// 4 reserved bytes, then tag/size attributes; tag 1 holds mtime, atime, ctime.
		for pos := 4; pos+4 <= len(data); {
			tag := binary.LittleEndian.Uint16(data[pos : pos+2])
			size := int(binary.LittleEndian.Uint16(data[pos+2 : pos+4]))
			pos += 4
			if pos+size > len(data) {
				break
			}
			if tag == 0x0001 && size >= 24 {
				if mtime := winFiletimeToTime(binary.LittleEndian.Uint64(data[pos : pos+8])); !mtime.IsZero() {
					return mtime, true
				}
			}
			pos += size
		}
	}

	if data, ok := extra[extTimeExtraTag]; ok && len(data) >= 5 && data[0]&0x01 != 0 {
		sec := int32(binary.LittleEndian.Uint32(data[1:5]))
		return time.Unix(int64(sec), 0).UTC(), true
	}

	return time.Time{}, false
}

// winFiletimeToTime converts Windows FILETIME (100ns ticks since 1601) to Go time.Time.
func winFiletimeToTime(ft uint64) time.Time {
	if ft == 0 {
		return time.Time{}
	}

	// 116444736000000000 is the number of 100ns intervals between
	// Jan 1, 1601 (UTC) and Jan 1, 1970 (UTC).
	const offset = 116444736000000000
	const ticksPerSecond = 10000000

	if ft < offset {
		diff := int64(offset - ft)
		return time.Unix(-(diff / ticksPerSecond), -(diff%ticksPerSecond)*100).UTC()
	}

	diff := ft - offset
	seconds := int64(diff / ticksPerSecond)
	nanos := int64(diff%ticksPerSecond) * 100

	return time.Unix(seconds, nanos).UTC()
}
