// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package unzip

import (
	"hash"
	"sync"
)

// crcPolynomial is the reflected form of the IEEE 802.3 polynomial used by ZIP and zlib.
const crcPolynomial = 0xEDB88320

var (
	crcTableOnce sync.Once
	crcTable     [256]uint32
)

// checksumTable returns the lookup table, building it on first use.
// The table is never written after the sync.Once completes.
func checksumTable() *[256]uint32 {
	crcTableOnce.Do(func() {
		for i := range crcTable {
			crc := uint32(i)
			for range 8 {
				if crc&1 != 0 {
					crc = (crc >> 1) ^ crcPolynomial
				} else {
					crc >>= 1
				}
			}
			crcTable[i] = crc
		}
	})
	return &crcTable
}

// UpdateChecksum returns the result of adding the bytes in p to crc.
// Pass 0 to start a new checksum; the result of a previous call continues it.
func UpdateChecksum(crc uint32, p []byte) uint32 {
	tab := checksumTable()
	crc = ^crc
	for _, b := range p {
		crc = tab[byte(crc)^b] ^ (crc >> 8)
	}
	return ^crc
}

// Checksum returns the CRC-32 of p as stored in ZIP records.
func Checksum(p []byte) uint32 {
	return UpdateChecksum(0, p)
}

// digest is a streaming hash.Hash32 over UpdateChecksum.
type digest struct {
	crc uint32
}

// NewHash returns a hash.Hash32 computing the same checksum as Checksum.
func NewHash() hash.Hash32 {
	return &digest{}
}

func (d *digest) Write(p []byte) (int, error) {
	d.crc = UpdateChecksum(d.crc, p)
	return len(p), nil
}

func (d *digest) Sum32() uint32 { return d.crc }

func (d *digest) Sum(in []byte) []byte {
	s := d.crc
	return append(in, byte(s>>24), byte(s>>16), byte(s>>8), byte(s))
}

func (d *digest) Reset()         { d.crc = 0 }
func (d *digest) Size() int      { return 4 }
func (d *digest) BlockSize() int { return 1 }
