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

type DownloadEntry struct {
	Hash     ngdp.ContentHash
	FileSize uint64
	Priority uint8
}

// A DownloadManifest lists files in the order the launcher should download them.
type DownloadManifest struct {
	Version         uint8
	HashSize        uint8
	IncludeChecksum uint8

	Entries []DownloadEntry
	Tags    []Tag
}

// DecodeDownload decodes a BLTE-decoded download manifest.
//
// Unlike the install manifest, entries are stored before the tags.
func DecodeDownload(b []byte) (*DownloadManifest, error) {
	c := cursor.New(b)
	if err := checkMagic(c, downloadMagic); err != nil {
		return nil, err
	}

	m := &DownloadManifest{}
	var err error
	if m.Version, err = c.U8(); err != nil {
		return nil, errors.Wrap(err, "manifest: reading download header")
	}
	if m.HashSize, err = c.U8(); err != nil {
		return nil, errors.Wrap(err, "manifest: reading download header")
	}
	if m.IncludeChecksum, err = c.U8(); err != nil {
		return nil, errors.Wrap(err, "manifest: reading download header")
	}
	entryCount, err := c.U32()
	if err != nil {
		return nil, errors.Wrap(err, "manifest: reading download header")
	}
	tagCount, err := c.U16()
	if err != nil {
		return nil, errors.Wrap(err, "manifest: reading download header")
	}

	m.Entries = make([]DownloadEntry, 0, min(int(entryCount), c.Remaining()/(ngdp.HashSize+6)))
	for n := uint32(0); n < entryCount; n++ {
		var e DownloadEntry
		if e.Hash, err = c.ContentHash(); err != nil {
			return nil, errors.Wrapf(err, "manifest: download entry %d", n)
		}
		if e.FileSize, err = c.U40(); err != nil {
			return nil, errors.Wrapf(err, "manifest: download entry %d", n)
		}
		if e.Priority, err = c.U8(); err != nil {
			return nil, errors.Wrapf(err, "manifest: download entry %d", n)
		}
		m.Entries = append(m.Entries, e)
	}

	if m.Tags, err = readTags(c, int(tagCount), int(entryCount)); err != nil {
		return nil, err
	}
	return m, nil
}

// EntriesWithTag returns the entries carrying the named tag.
func (m *DownloadManifest) EntriesWithTag(name string) []DownloadEntry {
	var out []DownloadEntry
	for _, i := range tagged(m.Tags, name, len(m.Entries)) {
		out = append(out, m.Entries[i])
	}
	return out
}
