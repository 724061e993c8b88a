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

// Package manifest decodes the install and download manifests referenced by a build config.
//
// Both manifests list files along with a set of tags. Each tag carries a
// bitmask with one bit per file, most significant bit first, saying which
// files carry the tag.
package manifest

import (
	"bytes"

	"github.com/pkg/errors"

	"github.com/w00tzenheimer/blizztools/ngdp"
	"github.com/w00tzenheimer/blizztools/ngdp/cursor"
)

var (
	installMagic  = []byte("IN")
	downloadMagic = []byte("DL")
)

// A Tag is a named subset of the files in a manifest.
type Tag struct {
	Name string
	Type uint16

	// Mask has entry count / 8 bytes, rounded down. When the entry count is not a
	// multiple of eight the last few entries have no bit; see MaskShort.
	Mask []byte
}

// Contains reports whether the file at index i carries this tag.
//
// Files beyond the end of the mask never carry the tag.
func (t Tag) Contains(i int) bool {
	if i < 0 || i/8 >= len(t.Mask) {
		return false
	}
	return t.Mask[i/8]&(0x80>>uint(i%8)) != 0
}

// MaskShort reports whether masks sized for entryCount files are too short to cover every file.
func MaskShort(entryCount int) bool {
	return entryCount%8 != 0
}

func checkMagic(c *cursor.Cursor, want []byte) error {
	if c.Remaining() < len(want) || !bytes.Equal(c.Rest()[:len(want)], want) {
		return errors.Wrapf(ngdp.ErrInvalidMagic, "manifest: want %q", want)
	}
	return c.Skip(len(want))
}

func readTags(c *cursor.Cursor, tagCount, entryCount int) ([]Tag, error) {
	tags := make([]Tag, tagCount)
	maskSize := entryCount / 8
	for n := range tags {
		var err error
		if tags[n].Name, err = c.CString(); err != nil {
			return nil, errors.Wrapf(err, "manifest: tag %d name", n)
		}
		if tags[n].Type, err = c.U16(); err != nil {
			return nil, errors.Wrapf(err, "manifest: tag %d type", n)
		}
		if tags[n].Mask, err = c.Bytes(maskSize); err != nil {
			return nil, errors.Wrapf(err, "manifest: tag %d mask", n)
		}
	}
	return tags, nil
}

func tagged(tags []Tag, name string, entryCount int) []int {
	var out []int
	for _, t := range tags {
		if t.Name != name {
			continue
		}
		for i := 0; i < entryCount; i++ {
			if t.Contains(i) {
				out = append(out, i)
			}
		}
	}
	return out
}
