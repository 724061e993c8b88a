/*
Copyright 2017 Luke Granger-Brown

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package tree arranges the files named by an install manifest into a
// case-insensitive directory tree.
package tree

import (
	"path"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/w00tzenheimer/blizztools/ngdp"
	"github.com/w00tzenheimer/blizztools/ngdp/manifest"
)

// Error constants
var (
	ErrDirFileNameClash = errors.New(`tree: file and directory have clashing names`)
	ErrExists           = errors.New(`tree: file has clashing name`)
	ErrNotExists        = errors.New(`tree: no such file or directory`)
	ErrNotADirectory    = errors.New(`tree: not a directory`)
)

// Dents is a sort.Interface of Entry structs.
type Dents []*Entry

func (td Dents) Len() int           { return len(td) }
func (td Dents) Less(i, j int) bool { return strings.ToLower(td[i].Name) < strings.ToLower(td[j].Name) }
func (td Dents) Swap(i, j int)      { td[i], td[j] = td[j], td[i] }

// An Entry is a directory entry, either a nested directory or a file.
type Entry struct {
	Name string

	Directory *Directory
	File      *File
}

// A Directory is a container for Directory or File structs, which can be addressed by their name.
type Directory struct {
	dents     map[string]*Entry
	flatDents []*Entry
}

func (td *Directory) flatten() {
	if td.flatDents != nil {
		return
	}

	dents := make(Dents, 0, len(td.dents))
	for _, v := range td.dents {
		dents = append(dents, v)
		if v.Directory != nil {
			v.Directory.flatten()
		}
	}
	sort.Sort(dents)
	td.dents = nil
	td.flatDents = dents
}

func newDirectory() *Directory {
	return &Directory{
		dents: make(map[string]*Entry),
	}
}

// cleanPath turns an install manifest name into a relative /-separated path.
func cleanPath(p string) string {
	return strings.TrimLeft(path.Clean("/"+strings.ReplaceAll(p, `\`, "/")), "/")
}

// Get returns the Entry for a given path. Either / or \ may separate components.
func (td *Directory) Get(filePath string) (Entry, error) {
	filePath = cleanPath(filePath)
	if filePath == "" {
		return Entry{Directory: td}, nil
	}
	tde, err := td.get(strings.Split(filePath, "/"))
	if err != nil {
		return Entry{}, errors.Wrapf(err, "%v", filePath)
	}
	return *tde, nil
}

// List returns the entries of the directory at dirPath, sorted case-insensitively by name.
func (td *Directory) List(dirPath string) ([]Entry, error) {
	dent, err := td.Get(dirPath)
	if err != nil {
		return nil, err
	}
	if dent.Directory == nil {
		return nil, errors.Wrapf(ErrNotADirectory, "%v", dirPath)
	}
	return dent.Directory.Entries(), nil
}

// Entries returns the entries of this directory, sorted case-insensitively by name.
func (td *Directory) Entries() []Entry {
	out := make([]Entry, len(td.flatDents))
	for n, d := range td.flatDents {
		out[n] = *d
	}
	return out
}

// ToContentHash looks up the content hash of the file at fn.
func (td *Directory) ToContentHash(fn string) (ngdp.ContentHash, bool) {
	dent, err := td.Get(fn)
	if err != nil || dent.File == nil {
		return ngdp.ContentHash{}, false
	}
	return dent.File.ContentHash, true
}

func (td *Directory) get(path []string) (*Entry, error) {
	cname := strings.ToLower(path[0])

	n := len(td.flatDents)
	i := sort.Search(n, func(i int) bool {
		return strings.ToLower(td.flatDents[i].Name) >= cname
	})

	if i == n {
		return nil, ErrNotExists
	}
	dent := td.flatDents[i]
	if strings.ToLower(dent.Name) != cname {
		return nil, ErrNotExists
	}

	if len(path) == 1 {
		// if this is the last segment, just return it
		return dent, nil
	}

	if dent.Directory == nil {
		return nil, ErrNotADirectory
	}

	return dent.Directory.get(path[1:])
}

func (td *Directory) asEntry(name string) *Entry {
	return &Entry{
		// the string-of-[]byte is here to ensure that we copy the bit of the string we need and don't retain a reference to the original string
		Name:      string([]byte(name)),
		Directory: td,
	}
}

func (td *Directory) mkdirs(path []string) (*Directory, error) {
	if len(path) == 0 {
		return td, nil
	}

	cname := strings.ToLower(path[0])
	dent, ok := td.dents[cname]
	if !ok {
		dent = newDirectory().asEntry(path[0])
		td.dents[cname] = dent
	}
	if dent.Directory == nil {
		return nil, ErrDirFileNameClash
	}
	return dent.Directory.mkdirs(path[1:])
}

func (td *Directory) addFile(f *File, name string) error {
	cname := strings.ToLower(name)
	if dent, ok := td.dents[cname]; ok {
		if dent.Directory != nil {
			return ErrDirFileNameClash
		}
		return ErrExists
	}

	td.dents[cname] = f.asEntry(name)
	return nil
}

// A File contains the metadata for a file from the install manifest.
type File struct {
	Size        uint32
	ContentHash ngdp.ContentHash

	// Tags lists the names of the install tags that select this file.
	Tags []string
}

func (tf *File) asEntry(name string) *Entry {
	return &Entry{
		Name: string([]byte(name)),
		File: tf,
	}
}

// ToTree takes an install manifest and converts it into a tree structure.
//
// Names which differ only in case collide and produce ErrExists. Entries
// whose names are empty, or only separators, are left out.
func ToTree(m *manifest.InstallManifest) (*Directory, error) {
	root := newDirectory()

	for n, e := range m.Entries {
		filePath := cleanPath(e.Name)
		if filePath == "" {
			// Nothing to name the file by.
			continue
		}
		var dir *Directory
		var err error
		if d := path.Dir(filePath); d == "." {
			dir = root
		} else if dir, err = root.mkdirs(strings.Split(d, "/")); err != nil {
			return nil, errors.Wrapf(err, "%v", e.Name)
		}

		f := &File{Size: e.Size, ContentHash: e.ContentHash}
		for _, t := range m.Tags {
			if t.Contains(n) {
				f.Tags = append(f.Tags, t.Name)
			}
		}
		if err := dir.addFile(f, path.Base(filePath)); err != nil {
			return nil, errors.Wrapf(err, "%v", e.Name)
		}
	}
	root.flatten()

	return root, nil
}
