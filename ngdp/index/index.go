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

// Package index decodes the index files which locate encoded files inside CDN archives.
package index

import (
	"github.com/pkg/errors"

	"github.com/w00tzenheimer/blizztools/ngdp"
	"github.com/w00tzenheimer/blizztools/ngdp/cursor"
)

const (
	// EntrySize is the encoded size of a single Entry.
	EntrySize = 0x18

	archiveBlockSize       = 4096
	archiveEntriesPerBlock = archiveBlockSize / EntrySize
)

// An Entry locates one encoded file: Size bytes starting at Offset.
type Entry struct {
	CDNHash ngdp.CDNHash
	Size    uint32
	Offset  uint32
}

func readEntry(c *cursor.Cursor) (Entry, error) {
	var e Entry
	var err error
	if e.CDNHash, err = c.CDNHash(); err != nil {
		return e, err
	}
	if e.Size, err = c.U32(); err != nil {
		return e, err
	}
	if e.Offset, err = c.U32(); err != nil {
		return e, err
	}
	return e, nil
}

// Decode decodes a flat index file: back-to-back entries filling the whole input.
//
// A trailing partial entry is an error.
func Decode(b []byte) ([]Entry, error) {
	if len(b)%EntrySize != 0 {
		return nil, errors.Wrapf(ngdp.ErrTruncatedInput, "index: %d trailing bytes", len(b)%EntrySize)
	}
	c := cursor.New(b)
	entries := make([]Entry, 0, len(b)/EntrySize)
	for c.Remaining() > 0 {
		e, err := readEntry(c)
		if err != nil {
			return nil, errors.Wrapf(err, "index: entry %d", len(entries))
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// DecodeArchive decodes a CDN archive index.
//
// Archive indices are split into 4096 byte blocks of up to 170 entries, each
// zero padded. An all-zero entry ends its block. The trailing short block is the
// footer, which is ignored.
func DecodeArchive(b []byte) ([]Entry, error) {
	var entries []Entry
	c := cursor.New(b)
	for c.Remaining() >= archiveBlockSize {
		block, _ := c.Bytes(archiveBlockSize)
		bc := cursor.New(block)
		for n := 0; n < archiveEntriesPerBlock; n++ {
			e, err := readEntry(bc)
			if err != nil {
				return nil, errors.Wrapf(err, "index: archive entry %d", len(entries))
			}
			if e == (Entry{}) {
				// This entry has no data; read next block.
				break
			}
			entries = append(entries, e)
		}
	}
	return entries, nil
}
