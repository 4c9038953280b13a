// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package unzip

import (
	"bytes"
	"errors"
	"io"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"
)

var (
	_ fs.FS         = (*archiveFS)(nil)
	_ fs.StatFS     = (*archiveFS)(nil)
	_ fs.ReadDirFS  = (*archiveFS)(nil)
	_ fs.ReadFileFS = (*archiveFS)(nil)
)

// FS returns a read-only file system view of the archive.
// Names are matched case-sensitively. The view moves the Archive cursor,
// so it shares the Archive's single-goroutine restriction.
// Opened files hold their verified content in memory.
func (a *Archive) FS() fs.FS {
	return &archiveFS{a: a}
}

type archiveFS struct {
	a *Archive
}

// Open implements fs.FS, allowing the archive to be used as a read-only filesystem.
func (afs *archiveFS) Open(name string) (fs.File, error) {
	info, err := afs.stat(name)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}

	if info.IsDir() {
		return &fsDir{info: info, afs: afs}, nil
	}

	f, err := afs.a.Extract()
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}
	return &fsFile{info: info, r: bytes.NewReader(f.Data)}, nil
}

// Stat implements fs.StatFS.
func (afs *archiveFS) Stat(name string) (fs.FileInfo, error) {
	info, err := afs.stat(name)
	if err != nil {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: err}
	}
	return info, nil
}

// ReadFile implements fs.ReadFileFS.
func (afs *archiveFS) ReadFile(name string) ([]byte, error) {
	info, err := afs.stat(name)
	if err != nil {
		return nil, &fs.PathError{Op: "readfile", Path: name, Err: err}
	}
	if info.IsDir() {
		return nil, &fs.PathError{Op: "readfile", Path: name, Err: fs.ErrInvalid}
	}

	f, err := afs.a.Extract()
	if err != nil {
		return nil, &fs.PathError{Op: "readfile", Path: name, Err: err}
	}
	return f.Data, nil
}

// ReadDir implements fs.ReadDirFS.
func (afs *archiveFS) ReadDir(name string) ([]fs.DirEntry, error) {
	info, err := afs.stat(name)
	if err != nil {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: err}
	}
	if !info.IsDir() {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrInvalid}
	}
	return afs.children(name)
}

// stat resolves name to the root, an entry, an explicit directory entry or a
// directory implied by deeper names. For entries the cursor is left on the match.
func (afs *archiveFS) stat(name string) (fileInfo, error) {
	if !fs.ValidPath(name) {
		return fileInfo{}, fs.ErrInvalid
	}

	if name == "." {
		return fileInfo{name: ".", dir: true}, nil
	}

	for _, candidate := range []string{name, name + "/"} {
		err := afs.a.LocateEntry(candidate, true)
		if err == nil {
			e, err := afs.a.CurrentEntry()
			if err != nil {
				return fileInfo{}, err
			}
			return fileInfo{name: name, entry: &e, dir: e.IsDir()}, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return fileInfo{}, err
		}
	}

	prefix := name + "/"
	for e, err := range afs.a.Entries() {
		if err != nil {
			return fileInfo{}, err
		}
		if strings.HasPrefix(e.Name, prefix) {
			return fileInfo{name: name, dir: true}, nil
		}
	}

	return fileInfo{}, fs.ErrNotExist
}

// children lists the direct children of dir, sorted by name.
func (afs *archiveFS) children(dir string) ([]fs.DirEntry, error) {
	prefix := ""
	if dir != "." {
		prefix = dir + "/"
	}

	seen := make(map[string]int)
	var entries []fs.DirEntry

	for e, err := range afs.a.Entries() {
		if err != nil {
			return nil, err
		}
		if !strings.HasPrefix(e.Name, prefix) {
			continue
		}

		rel := strings.TrimPrefix(e.Name, prefix)
		if rel == "" {
			continue
		}

		childName, rest, nested := strings.Cut(rel, "/")
		if childName == "" {
			continue
		}

		var info fileInfo
		if nested && rest != "" {
			// Implied by a deeper name
			info = fileInfo{name: childName, dir: true}
		} else {
			entry := e
			info = fileInfo{name: childName, entry: &entry, dir: entry.IsDir()}
		}

		if i, ok := seen[childName]; ok {
			// An explicit entry replaces an implied directory
			if info.entry != nil {
				entries[i] = dirEntry{info}
			}
			continue
		}
		seen[childName] = len(entries)
		entries = append(entries, dirEntry{info})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	return entries, nil
}

// fsFile serves an extracted entry
type fsFile struct {
	info fileInfo
	r    *bytes.Reader
}

func (f *fsFile) Stat() (fs.FileInfo, error) { return f.info, nil }
func (f *fsFile) Read(b []byte) (int, error) { return f.r.Read(b) }
func (f *fsFile) Close() error               { return nil }

// fsDir wraps a directory to satisfy fs.ReadDirFile
type fsDir struct {
	info    fileInfo
	afs     *archiveFS
	entries []fs.DirEntry
	listed  bool
	offset  int
}

func (d *fsDir) Stat() (fs.FileInfo, error) { return d.info, nil }
func (d *fsDir) Close() error               { return nil }
func (d *fsDir) Read(b []byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: d.info.name, Err: fs.ErrInvalid}
}

// ReadDir lists the directory once and serves it in n-sized batches.
func (d *fsDir) ReadDir(n int) ([]fs.DirEntry, error) {
	if !d.listed {
		entries, err := d.afs.children(d.info.name)
		if err != nil {
			return nil, &fs.PathError{Op: "readdir", Path: d.info.name, Err: err}
		}
		d.entries, d.listed = entries, true
	}

	rest := d.entries[d.offset:]
	if n <= 0 {
		d.offset = len(d.entries)
		return rest, nil
	}
	if len(rest) == 0 {
		return nil, io.EOF
	}

	n = min(n, len(rest))
	d.offset += n
	return rest[:n], nil
}

// fileInfo describes an entry, or a synthesized directory when entry is nil.
type fileInfo struct {
	name  string
	entry *Entry
	dir   bool
}

func (i fileInfo) Name() string { return path.Base(i.name) }

func (i fileInfo) Size() int64 {
	if i.entry == nil || i.dir {
		return 0
	}
	return int64(i.entry.UncompressedSize)
}

func (i fileInfo) Mode() fs.FileMode {
	if i.entry == nil {
		return fs.ModeDir | 0755
	}
	mode := i.entry.Mode()
	if i.dir {
		mode |= fs.ModeDir
	}
	return mode
}

func (i fileInfo) ModTime() time.Time {
	if i.entry == nil {
		return time.Time{}
	}
	return i.entry.ModTime()
}

func (i fileInfo) IsDir() bool { return i.dir }

func (i fileInfo) Sys() any {
	if i.entry == nil {
		return nil
	}
	return *i.entry
}

type dirEntry struct {
	info fileInfo
}

func (e dirEntry) Name() string               { return e.info.Name() }
func (e dirEntry) IsDir() bool                { return e.info.IsDir() }
func (e dirEntry) Type() fs.FileMode          { return e.info.Mode().Type() }
func (e dirEntry) Info() (fs.FileInfo, error) { return e.info, nil }
