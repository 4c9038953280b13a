// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sys maps the platform-specific attribute bits stored in ZIP records.
package sys

import "io/fs"

// HostSystem represents the host system on which the ZIP file was created
type HostSystem uint8

// Supported host systems according to ZIP specification
const (
	HostSystemFAT       HostSystem = 0  // MS-DOS and OS/2 (FAT / VFAT / FAT32 file systems)
	HostSystemAmiga     HostSystem = 1  // Amiga
	HostSystemOpenVMS   HostSystem = 2  // OpenVMS
	HostSystemUNIX      HostSystem = 3  // UNIX
	HostSystemVMCMS     HostSystem = 4  // VM/CMS
	HostSystemAtariST   HostSystem = 5  // Atari ST
	HostSystemOS2HPFS   HostSystem = 6  // OS/2 H.P.F.S.
	HostSystemMacintosh HostSystem = 7  // Macintosh
	HostSystemZSystem   HostSystem = 8  // Z-System
	HostSystemCPM       HostSystem = 9  // CP/M
	HostSystemNTFS      HostSystem = 10 // Windows NTFS
	HostSystemMVS       HostSystem = 11 // MVS (OS/390 - Z/OS)
	HostSystemVSE       HostSystem = 12 // VSE
	HostSystemAcornRisc HostSystem = 13 // Acorn Risc
	HostSystemVFAT      HostSystem = 14 // VFAT
	HostSystemAltMVS    HostSystem = 15 // alternate MVS
	HostSystemBeOS      HostSystem = 16 // BeOS
	HostSystemTandem    HostSystem = 17 // Tandem
	HostSystemOS400     HostSystem = 18 // OS/400
	HostSystemDarwin    HostSystem = 19 // OS X (Darwin)
	// 20-255: unused
)

var hostNames = map[HostSystem]string{
	HostSystemFAT:       "MS-DOS/OS2 (FAT)",
	HostSystemAmiga:     "Amiga",
	HostSystemOpenVMS:   "OpenVMS",
	HostSystemUNIX:      "UNIX",
	HostSystemVMCMS:     "VM/CMS",
	HostSystemAtariST:   "Atari ST",
	HostSystemOS2HPFS:   "OS/2 HPFS",
	HostSystemMacintosh: "Macintosh",
	HostSystemZSystem:   "Z-System",
	HostSystemCPM:       "CP/M",
	HostSystemNTFS:      "Windows NTFS",
	HostSystemMVS:       "MVS (OS/390 - Z/OS)",
	HostSystemVSE:       "VSE",
	HostSystemAcornRisc: "Acorn Risc",
	HostSystemVFAT:      "VFAT",
	HostSystemAltMVS:    "Alternate MVS",
	HostSystemBeOS:      "BeOS",
	HostSystemTandem:    "Tandem",
	HostSystemOS400:     "OS/400",
	HostSystemDarwin:    "OS X (Darwin)",
}

// String representation of HostSystem for debugging
func (h HostSystem) String() string {
	if name, exists := hostNames[h]; exists {
		return name
	}
	return "Unknown"
}

// IsUnix reports whether external attributes carry a POSIX mode in their high 16 bits.
func (h HostSystem) IsUnix() bool {
	return h == HostSystemUNIX || h == HostSystemDarwin
}

// IsWindows reports whether external attributes carry MS-DOS attribute bits.
func (h HostSystem) IsWindows() bool {
	return h == HostSystemFAT || h == HostSystemNTFS || h == HostSystemVFAT
}

// Unix constants for file types (standard POSIX)
const (
	S_IFMT   = 0170000 // Type mask
	S_IFSOCK = 0140000 // Socket
	S_IFLNK  = 0120000 // Symlink
	S_IFREG  = 0100000 // Regular file
	S_IFBLK  = 0060000 // Block device
	S_IFDIR  = 0040000 // Directory
	S_IFCHR  = 0020000 // Character device
	S_IFIFO  = 0010000 // FIFO
)

// MS-DOS attribute bits
const (
	DOSReadOnly  = 0x01
	DOSHidden    = 0x02
	DOSSystem    = 0x04
	DOSDirectory = 0x10
	DOSArchive   = 0x20
)

// FileMode converts external file attributes into an fs.FileMode.
// isDir is the caller's view of the entry name (a trailing slash).
func FileMode(host HostSystem, externalAttrs uint32, isDir bool) fs.FileMode {
	if host.IsUnix() {
		unixMode := externalAttrs >> 16
		if unixMode != 0 {
			mode := fs.FileMode(unixMode & 0777)
			switch unixMode & S_IFMT {
			case S_IFDIR:
				mode |= fs.ModeDir
			case S_IFLNK:
				mode |= fs.ModeSymlink
			case S_IFSOCK:
				mode |= fs.ModeSocket
			case S_IFIFO:
				mode |= fs.ModeNamedPipe
			case S_IFCHR:
				mode |= fs.ModeDevice | fs.ModeCharDevice
			case S_IFBLK:
				mode |= fs.ModeDevice
			}
			if isDir {
				mode |= fs.ModeDir
			}
			return mode
		}
	}

	if host.IsWindows() {
		var mode fs.FileMode
		if isDir || externalAttrs&DOSDirectory != 0 {
			mode = 0755 | fs.ModeDir
		} else {
			mode = 0644
		}
		if externalAttrs&DOSReadOnly != 0 {
			mode &^= 0222 // Remove write permission (a-w)
		}
		return mode
	}

	if isDir {
		return 0755 | fs.ModeDir
	}
	return 0644
}
