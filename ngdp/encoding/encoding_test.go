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
	"crypto/md5"
	"encoding/binary"
	"math/rand"
	"sort"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/w00tzenheimer/blizztools/ngdp"
)

const testPageSizeKB = 1

func entrySize(e Entry) int { return 1 + 5 + ngdp.HashSize + ngdp.HashSize*len(e.CDNHashes) }

func putEntry(buf *bytes.Buffer, e Entry) {
	buf.WriteByte(byte(len(e.CDNHashes)))
	buf.Write([]byte{byte(e.FileSize >> 32), byte(e.FileSize >> 24), byte(e.FileSize >> 16), byte(e.FileSize >> 8), byte(e.FileSize)})
	buf.Write(e.ContentHash[:])
	for _, h := range e.CDNHashes {
		buf.Write(h[:])
	}
}

// buildManifest lays out sorted entries into zero padded pages and returns the encoded file.
func buildManifest(t *testing.T, espec string, entries []Entry) []byte {
	t.Helper()
	pageSize := testPageSizeKB * 1024

	var pages [][]byte
	var firstKeys []ngdp.ContentHash
	var page bytes.Buffer
	flush := func() {
		if page.Len() == 0 {
			return
		}
		pages = append(pages, append(page.Bytes(), make([]byte, pageSize-page.Len())...))
		page = bytes.Buffer{}
	}
	for _, e := range entries {
		require.LessOrEqual(t, entrySize(e), pageSize, "entry does not fit in a page")
		if page.Len()+entrySize(e) > pageSize {
			flush()
		}
		if page.Len() == 0 {
			firstKeys = append(firstKeys, e.ContentHash)
		}
		putEntry(&page, e)
	}
	flush()

	var buf bytes.Buffer
	buf.WriteString("EN")
	buf.Write([]byte{1, ngdp.HashSize, ngdp.HashSize})
	binary.Write(&buf, binary.BigEndian, uint16(testPageSizeKB))
	binary.Write(&buf, binary.BigEndian, uint16(4))
	binary.Write(&buf, binary.BigEndian, uint32(len(pages)))
	binary.Write(&buf, binary.BigEndian, uint32(0))
	buf.WriteByte(0)
	binary.Write(&buf, binary.BigEndian, uint32(len(espec)))
	buf.WriteString(espec)
	for n, p := range pages {
		sum := md5.Sum(p)
		buf.Write(firstKeys[n][:])
		buf.Write(sum[:])
	}
	for _, p := range pages {
		buf.Write(p)
	}
	return buf.Bytes()
}

func randomEntries(r *rand.Rand, n int) []Entry {
	seen := make(map[ngdp.ContentHash]bool)
	var entries []Entry
	for len(entries) < n {
		var e Entry
		r.Read(e.ContentHash[:])
		if seen[e.ContentHash] {
			continue
		}
		seen[e.ContentHash] = true
		e.FileSize = uint64(r.Int63n(1 << 40))
		e.CDNHashes = make([]ngdp.CDNHash, 1+r.Intn(4))
		for x := range e.CDNHashes {
			r.Read(e.CDNHashes[x][:])
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ContentHash.Less(entries[j].ContentHash) })
	return entries
}

func TestDecode(t *testing.T) {
	entries := []Entry{
		{0x0102030405, ngdp.ContentHash{0x01}, []ngdp.CDNHash{{0xaa}}},
		{17, ngdp.ContentHash{0x02}, []ngdp.CDNHash{{0xbb}, {0xcc}}},
	}
	m, err := Decode(buildManifest(t, "b:{*=z}", entries))
	require.NoError(t, err)

	assert.Equal(t, Header{
		Version:        1,
		CKeyHashSize:   16,
		EKeyHashSize:   16,
		CEPageSizeKB:   1,
		EPageSizeKB:    4,
		CEPageCount:    1,
		ESpecBlockSize: 7,
	}, m.Header)
	assert.Equal(t, []byte("b:{*=z}"), m.ESpec)
	require.Len(t, m.Index, 1)
	assert.Equal(t, ngdp.ContentHash{0x01}, m.Index[0].FirstKey)
	assert.Equal(t, entries, m.Entries)

	h, err := m.ToCDNHash(ngdp.ContentHash{0x02})
	require.NoError(t, err)
	assert.Equal(t, ngdp.CDNHash{0xbb}, h)

	_, err = m.ToCDNHash(ngdp.ContentHash{0x03})
	assert.True(t, errors.Is(err, ErrUnknownContentHash), "ToCDNHash: %v", err)
}

func TestNewMapper(t *testing.T) {
	entries := randomEntries(rand.New(rand.NewSource(1)), 10)
	m, err := NewMapper(bytes.NewReader(buildManifest(t, "", entries)))
	require.NoError(t, err)
	assert.Equal(t, entries, m.Entries)
}

func TestLookupStrategiesAgree(t *testing.T) {
	for seed := int64(1); seed <= 5; seed++ {
		r := rand.New(rand.NewSource(seed))
		entries := randomEntries(r, 200+r.Intn(300))
		in := buildManifest(t, "espec", entries)

		m, err := Decode(in)
		require.NoError(t, err)
		require.Greater(t, len(m.Index), 1, "fixture should span several pages")
		require.Equal(t, entries, m.Entries, "seed %d: padding must end each page without dropping entries", seed)

		for _, e := range entries {
			linear, lok := m.LookupLinear(e.ContentHash)
			indexed, iok := m.Lookup(e.ContentHash)
			require.True(t, lok, "seed %d: LookupLinear(%v) not found", seed, e.ContentHash)
			require.True(t, iok, "seed %d: Lookup(%v) not found", seed, e.ContentHash)
			assert.Equal(t, linear, indexed)
			assert.Equal(t, e.CDNHashes[0], indexed.CDNHashes[0])
		}

		var absent []ngdp.ContentHash
		absent = append(absent, ngdp.ContentHash{}, ngdp.ContentHash{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff})
		for n := 0; n < 100; n++ {
			var h ngdp.ContentHash
			r.Read(h[:])
			absent = append(absent, h)
		}
		for _, h := range absent {
			if _, ok := m.LookupLinear(h); ok {
				continue // collided with a real key
			}
			_, ok := m.Lookup(h)
			assert.False(t, ok, "seed %d: Lookup(%v) found an absent key", seed, h)
		}
	}
}

func TestShortFinalPageEndsTable(t *testing.T) {
	entries := randomEntries(rand.New(rand.NewSource(7)), 100)
	in := buildManifest(t, "", entries)

	m, err := Decode(in[:len(in)-100])
	require.NoError(t, err)
	require.Less(t, len(m.Entries), len(entries))
	assert.Equal(t, entries[:len(m.Entries)], m.Entries)

	for _, e := range entries {
		_, lok := m.LookupLinear(e.ContentHash)
		_, iok := m.Lookup(e.ContentHash)
		assert.Equal(t, lok, iok, "strategies disagree on %v", e.ContentHash)
	}
}

func TestDecodeErrors(t *testing.T) {
	good := buildManifest(t, "espec", randomEntries(rand.New(rand.NewSource(3)), 5))

	badHashSize := append([]byte(nil), good...)
	badHashSize[3] = 9

	// A bare header claiming 0xffffffff pages and no espec block.
	hugePageCount := append([]byte(nil), good[:headerSize]...)
	copy(hugePageCount[9:13], []byte{0xff, 0xff, 0xff, 0xff})
	copy(hugePageCount[18:22], []byte{0, 0, 0, 0})

	for _, test := range []struct {
		name string
		in   []byte
		want error
	}{
		{"badmagic", append([]byte("NE"), good[2:]...), ngdp.ErrInvalidMagic},
		{"empty", nil, ngdp.ErrInvalidMagic},
		{"shortheader", good[:10], ngdp.ErrTruncatedInput},
		{"shortespec", good[:0x16+2], ngdp.ErrTruncatedInput},
		{"shortindex", good[:0x16+5+20], ngdp.ErrTruncatedInput},
		{"badhashsize", badHashSize, ErrBadHashSize},
		{"hugepagecount", hugePageCount, ngdp.ErrTruncatedInput},
	} {
		_, err := Decode(test.in)
		assert.True(t, errors.Is(err, test.want), "%s: Decode: %v; want %v", test.name, err, test.want)
	}
}
