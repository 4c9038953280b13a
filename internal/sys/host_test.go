// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sys

import (
	"io/fs"
	"testing"
)

func TestFileMode(t *testing.T) {
	tests := []struct {
		name  string
		host  HostSystem
		attrs uint32
		isDir bool
		want  fs.FileMode
	}{
		{"Unix regular", HostSystemUNIX, (S_IFREG | 0640) << 16, false, 0640},
		{"Unix directory", HostSystemUNIX, (S_IFDIR | 0755) << 16, false, fs.ModeDir | 0755},
		{"Unix symlink", HostSystemUNIX, (S_IFLNK | 0777) << 16, false, fs.ModeSymlink | 0777},
		{"Darwin regular", HostSystemDarwin, (S_IFREG | 0600) << 16, false, 0600},
		{"Unix without mode falls back", HostSystemUNIX, 0, false, 0644},
		{"DOS read-only", HostSystemFAT, DOSReadOnly | DOSArchive, false, 0444},
		{"DOS directory bit", HostSystemNTFS, DOSDirectory, false, fs.ModeDir | 0755},
		{"DOS directory by name", HostSystemFAT, 0, true, fs.ModeDir | 0755},
		{"Unknown host", HostSystemAmiga, 0xffffffff, false, 0644},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FileMode(tt.host, tt.attrs, tt.isDir); got != tt.want {
				t.Errorf("FileMode() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHostSystemString(t *testing.T) {
	if got := HostSystemUNIX.String(); got != "UNIX" {
		t.Errorf("String() = %q", got)
	}
	if got := HostSystem(200).String(); got != "Unknown" {
		t.Errorf("String() = %q", got)
	}
}
