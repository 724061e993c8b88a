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

package manifest

import (
	"github.com/pkg/errors"

	"github.com/w00tzenheimer/blizztools/ngdp"
	"github.com/w00tzenheimer/blizztools/ngdp/cursor"
)

type InstallEntry struct {
	Name        string
	ContentHash ngdp.ContentHash
	Size        uint32
}

// An InstallManifest lists the files which make up a fresh installation.
type InstallManifest struct {
	Version  uint8
	HashSize uint8

	Tags    []Tag
	Entries []InstallEntry
}

// DecodeInstall decodes a BLTE-decoded install manifest.
//
// Tags are stored before the entries.
func DecodeInstall(b []byte) (*InstallManifest, error) {
	c := cursor.New(b)
	if err := checkMagic(c, installMagic); err != nil {
		return nil, err
	}

	m := &InstallManifest{}
	var err error
	if m.Version, err = c.U8(); err != nil {
		return nil, errors.Wrap(err, "manifest: reading install header")
	}
	if m.HashSize, err = c.U8(); err != nil {
		return nil, errors.Wrap(err, "manifest: reading install header")
	}
	tagCount, err := c.U16()
	if err != nil {
		return nil, errors.Wrap(err, "manifest: reading install header")
	}
	entryCount, err := c.U32()
	if err != nil {
		return nil, errors.Wrap(err, "manifest: reading install header")
	}

	if m.Tags, err = readTags(c, int(tagCount), int(entryCount)); err != nil {
		return nil, err
	}

	m.Entries = make([]InstallEntry, 0, min(int(entryCount), c.Remaining()/(ngdp.HashSize+5)))
	for n := uint32(0); n < entryCount; n++ {
		var e InstallEntry
		if e.Name, err = c.CString(); err != nil {
			return nil, errors.Wrapf(err, "manifest: install entry %d", n)
		}
		if e.ContentHash, err = c.ContentHash(); err != nil {
			return nil, errors.Wrapf(err, "manifest: install entry %d", n)
		}
		if e.Size, err = c.U32(); err != nil {
			return nil, errors.Wrapf(err, "manifest: install entry %d", n)
		}
		m.Entries = append(m.Entries, e)
	}
	return m, nil
}

// ToContentHash returns the content hash of the first file with the given name.
func (m *InstallManifest) ToContentHash(fn string) (ngdp.ContentHash, bool) {
	for _, e := range m.Entries {
		if e.Name == fn {
			return e.ContentHash, true
		}
	}
	return ngdp.ContentHash{}, false
}

// EntriesWithTag returns the entries carrying the named tag.
func (m *InstallManifest) EntriesWithTag(name string) []InstallEntry {
	var out []InstallEntry
	for _, i := range tagged(m.Tags, name, len(m.Entries)) {
		out = append(out, m.Entries[i])
	}
	return out
}
