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

package encoding

import (
	"bytes"
	"encoding/binary"
	"io"
	"sort"

	"github.com/pkg/errors"

	"github.com/w00tzenheimer/blizztools/ngdp"
	"github.com/w00tzenheimer/blizztools/ngdp/cursor"
)

// Error constants
var (
	ErrBadHashSize        = errors.New("encoding: bad hash size in header")
	ErrUnknownContentHash = errors.New("encoding: unknown content hash")
)

var magic = []byte("EN")

const (
	headerSize = 0x16

	// pageIndexSize is one page index record: first key and checksum.
	pageIndexSize = 32
)

// A Header is the fixed-size header at the start of an encoding file.
type Header struct {
	Version        uint8
	CKeyHashSize   uint8
	EKeyHashSize   uint8
	CEPageSizeKB   uint16
	EPageSizeKB    uint16
	CEPageCount    uint32
	EPageCount     uint32
	Unknown        uint8
	ESpecBlockSize uint32
}

// PageSize returns the size in bytes of each page of the content key table.
func (h Header) PageSize() int { return int(h.CEPageSizeKB) * 1024 }

// A PageIndex describes one page of the content key table.
//
// Checksum is the MD5 of the page; it is not verified.
type PageIndex struct {
	FirstKey ngdp.ContentHash
	Checksum [16]byte
}

// An Entry maps one content hash onto the CDN hashes of its encoded forms.
type Entry struct {
	FileSize    uint64
	ContentHash ngdp.ContentHash
	CDNHashes   []ngdp.CDNHash
}

type pageSpan struct {
	start, end int
}

// A Manifest is a decoded encoding file. It converts file content hashes into their corresponding CDN hashes.
type Manifest struct {
	Header Header
	ESpec  []byte
	Index  []PageIndex

	// Entries holds every entry of every decoded page, in file order.
	Entries []Entry

	pages []pageSpan
}

// NewMapper creates a new Manifest from a provided encoding file.
//
// The encoding file should not be in BLTE format - it should already have been decoded.
func NewMapper(r io.Reader) (*Manifest, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "encoding: reading")
	}
	return Decode(b)
}

// Decode decodes an encoding file held in memory.
func Decode(b []byte) (*Manifest, error) {
	c := cursor.New(b)
	m := &Manifest{}
	if err := m.readHeader(c); err != nil {
		return nil, errors.Wrap(err, "encoding: reading header")
	}

	var err error
	if m.ESpec, err = c.Bytes(int(m.Header.ESpecBlockSize)); err != nil {
		return nil, errors.Wrap(err, "encoding: reading espec block")
	}

	if need := uint64(m.Header.CEPageCount) * pageIndexSize; need > uint64(c.Remaining()) {
		return nil, errors.Wrapf(ngdp.ErrTruncatedInput, "encoding: %d page index entries need %d bytes, have %d", m.Header.CEPageCount, need, c.Remaining())
	}
	m.Index = make([]PageIndex, m.Header.CEPageCount)
	for n := range m.Index {
		if m.Index[n].FirstKey, err = c.ContentHash(); err != nil {
			return nil, errors.Wrapf(err, "encoding: reading %d entry in key table index", n)
		}
		sum, err := c.Bytes(len(m.Index[n].Checksum))
		if err != nil {
			return nil, errors.Wrapf(err, "encoding: reading %d entry in key table index", n)
		}
		copy(m.Index[n].Checksum[:], sum)
	}

	pageSize := m.Header.PageSize()
	for n := uint32(0); n < m.Header.CEPageCount; n++ {
		page, err := c.Bytes(pageSize)
		if err != nil {
			// A short final page marks the end of the table rather than corruption.
			break
		}
		start := len(m.Entries)
		m.Entries = readPage(m.Entries, page)
		m.pages = append(m.pages, pageSpan{start, len(m.Entries)})
	}

	return m, nil
}

func (m *Manifest) readHeader(c *cursor.Cursor) error {
	if c.Remaining() < len(magic) || !bytes.Equal(c.Rest()[:len(magic)], magic) {
		return ngdp.ErrInvalidMagic
	}
	buf, err := c.Bytes(headerSize)
	if err != nil {
		return err
	}

	h := &m.Header
	h.Version = buf[0x02]
	h.CKeyHashSize = buf[0x03]
	h.EKeyHashSize = buf[0x04]
	h.CEPageSizeKB = binary.BigEndian.Uint16(buf[0x05:0x07])
	h.EPageSizeKB = binary.BigEndian.Uint16(buf[0x07:0x09])
	h.CEPageCount = binary.BigEndian.Uint32(buf[0x09:0x0d])
	h.EPageCount = binary.BigEndian.Uint32(buf[0x0d:0x11])
	h.Unknown = buf[0x11]
	h.ESpecBlockSize = binary.BigEndian.Uint32(buf[0x12:0x16])

	if h.CKeyHashSize != ngdp.HashSize || h.EKeyHashSize != ngdp.HashSize {
		return errors.Wrapf(ErrBadHashSize, "ckey %d, ekey %d", h.CKeyHashSize, h.EKeyHashSize)
	}
	return nil
}

// readPage appends the entries in page to entries.
//
// The tail of each page is zero padded. Padding either has a key count of
// zero or is too short to hold an entry; both end the page.
func readPage(entries []Entry, page []byte) []Entry {
	c := cursor.New(page)
	for c.Remaining() > 0 {
		e, ok := readEntry(c)
		if !ok {
			break
		}
		entries = append(entries, e)
	}
	return entries
}

func readEntry(c *cursor.Cursor) (Entry, bool) {
	var e Entry
	count, err := c.U8()
	if err != nil || count == 0 {
		return e, false
	}
	if e.FileSize, err = c.U40(); err != nil {
		return e, false
	}
	if e.ContentHash, err = c.ContentHash(); err != nil {
		return e, false
	}
	e.CDNHashes = make([]ngdp.CDNHash, count)
	for n := range e.CDNHashes {
		if e.CDNHashes[n], err = c.CDNHash(); err != nil {
			return e, false
		}
	}
	return e, true
}

// LookupLinear finds the entry for a content hash by scanning every entry.
func (m *Manifest) LookupLinear(h ngdp.ContentHash) (Entry, bool) {
	return scan(m.Entries, h)
}

// Lookup finds the entry for a content hash.
//
// Pages are sorted by content hash and the index holds each page's first key,
// so only the one page which could hold h is scanned.
func (m *Manifest) Lookup(h ngdp.ContentHash) (Entry, bool) {
	i := sort.Search(len(m.pages), func(n int) bool {
		return h.Less(m.Index[n].FirstKey)
	}) - 1
	if i < 0 {
		return Entry{}, false
	}
	p := m.pages[i]
	return scan(m.Entries[p.start:p.end], h)
}

func scan(entries []Entry, h ngdp.ContentHash) (Entry, bool) {
	for _, e := range entries {
		if e.ContentHash.Equal(h) && len(e.CDNHashes) > 0 {
			return e, true
		}
	}
	return Entry{}, false
}

// ToCDNHash converts a content hash into a single CDN hash.
//
// Where a content hash has several encoded forms, the first one listed is returned.
func (m *Manifest) ToCDNHash(contentHash ngdp.ContentHash) (ngdp.CDNHash, error) {
	e, ok := m.Lookup(contentHash)
	if !ok {
		return ngdp.CDNHash{}, errors.Wrapf(ErrUnknownContentHash, "%v", contentHash)
	}
	return e.CDNHashes[0], nil
}
