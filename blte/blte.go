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

package blte

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/zlib"
	"github.com/pkg/errors"

	"github.com/w00tzenheimer/blizztools/ngdp"
	"github.com/w00tzenheimer/blizztools/ngdp/cursor"
)

// An EncodingMode is the leading byte of every BLTE chunk.
type EncodingMode byte

// The encoding modes known to exist. Only ModePlain and ModeZlib can be decoded.
const (
	ModePlain     EncodingMode = 'N'
	ModeZlib      EncodingMode = 'Z'
	ModeRecursive EncodingMode = 'F'
	ModeEncrypted EncodingMode = 'E'
)

const (
	preambleSize       = 8
	chunkTableHdrSize  = 4
	chunkInfoEntrySize = 24
)

var magic = []byte("BLTE")

// A ChunkInfo describes one chunk of a BLTE file.
//
// For files without a chunk table, a single ChunkInfo is synthesized with only CompressedSize set.
// Checksum is the MD5 of the chunk's encoded bytes; it is not verified.
type ChunkInfo struct {
	CompressedSize   uint32
	DecompressedSize uint32
	Checksum         [16]byte
}

// A Header is the parsed preamble and chunk table of a BLTE file.
type Header struct {
	HeaderSize uint32
	Flags      uint8
	FlagExt    uint8
	Chunks     []ChunkInfo

	// DataOffset is where the first chunk starts.
	DataOffset int
}

// ParseHeader parses the preamble and chunk table of a BLTE file.
func ParseHeader(b []byte) (*Header, error) {
	c := cursor.New(b)
	m, err := c.Bytes(len(magic))
	if err != nil {
		return nil, errors.Wrap(ngdp.ErrInvalidMagic, "blte: file too short")
	}
	if !bytes.Equal(m, magic) {
		return nil, errors.Wrapf(ngdp.ErrInvalidMagic, "blte: got %q", m)
	}
	h := &Header{}
	if h.HeaderSize, err = c.U32(); err != nil {
		return nil, errors.Wrap(err, "blte: reading header size")
	}
	if h.HeaderSize == 0 {
		// no chunk info, just data!
		h.Chunks = []ChunkInfo{{CompressedSize: uint32(c.Remaining())}}
		h.DataOffset = c.Offset()
		return h, nil
	}

	if err := h.readChunkTable(c); err != nil {
		return nil, errors.Wrap(err, "blte: reading chunk table")
	}
	h.DataOffset = c.Offset()
	return h, nil
}

func (h *Header) readChunkTable(c *cursor.Cursor) error {
	var err error
	if h.Flags, err = c.U8(); err != nil {
		return err
	}
	if h.FlagExt, err = c.U8(); err != nil {
		return err
	}
	count, err := c.U16()
	if err != nil {
		return err
	}

	h.Chunks = make([]ChunkInfo, count)
	for n := range h.Chunks {
		ci := &h.Chunks[n]
		if ci.CompressedSize, err = c.U32(); err != nil {
			return err
		}
		if ci.DecompressedSize, err = c.U32(); err != nil {
			return err
		}
		sum, err := c.Bytes(len(ci.Checksum))
		if err != nil {
			return err
		}
		copy(ci.Checksum[:], sum)
	}
	return nil
}

// Decode decodes an entire BLTE file held in memory.
func Decode(b []byte) ([]byte, error) {
	h, err := ParseHeader(b)
	if err != nil {
		return nil, err
	}

	c := cursor.New(b[h.DataOffset:])
	var out bytes.Buffer
	for n, ci := range h.Chunks {
		data, err := c.Bytes(int(ci.CompressedSize))
		if err != nil {
			return nil, errors.Wrapf(err, "blte: chunk %d", n)
		}
		if err := decodeChunk(&out, data); err != nil {
			return nil, errors.Wrapf(err, "blte: chunk %d", n)
		}
	}
	return out.Bytes(), nil
}

// decodeChunk writes the decoded form of a single chunk, mode byte included, to w.
func decodeChunk(w *bytes.Buffer, chunk []byte) error {
	if len(chunk) == 0 {
		return errors.Wrap(ngdp.ErrTruncatedInput, "empty chunk has no encoding mode")
	}
	mode, data := EncodingMode(chunk[0]), chunk[1:]

	switch mode {
	case ModePlain:
		w.Write(data)
	case ModeZlib:
		zr, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return errors.Wrap(ngdp.ErrDecompressionFailure, err.Error())
		}
		defer zr.Close()
		if _, err := io.Copy(w, zr); err != nil {
			return errors.Wrap(ngdp.ErrDecompressionFailure, err.Error())
		}
	default:
		// ModeRecursive and ModeEncrypted are known, but not supported.
		return ngdp.UnsupportedEncodingModeError{Mode: byte(mode)}
	}
	return nil
}

// A Reader decodes a BLTE stream one chunk at a time.
type Reader struct {
	r io.Reader

	header *Header
	err    error

	currentChunk       int
	remainingChunkData []byte
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

func (r *Reader) Read(b []byte) (int, error) {
	if r.err != nil {
		return 0, r.err
	}
	if r.header == nil {
		if r.err = r.readHeader(); r.err != nil {
			return 0, r.err
		}
	}

	// if we have remaining decompressed chunk data, just read that
	for len(r.remainingChunkData) == 0 {
		if r.currentChunk >= len(r.header.Chunks) {
			r.err = io.EOF
			return 0, r.err
		}
		if r.err = r.readChunk(); r.err != nil {
			return 0, r.err
		}
	}

	n := copy(b, r.remainingChunkData)
	r.remainingChunkData = r.remainingChunkData[n:]
	return n, nil
}

func (r *Reader) readHeader() error {
	pre, err := readBytes(r.r, preambleSize)
	if err != nil {
		return err
	}
	if !bytes.Equal(pre[:len(magic)], magic) {
		return errors.Wrapf(ngdp.ErrInvalidMagic, "blte: got %q", pre[:len(magic)])
	}

	if pre[4] == 0 && pre[5] == 0 && pre[6] == 0 && pre[7] == 0 {
		// Without a chunk table the only chunk runs to the end of the stream.
		rest, err := io.ReadAll(r.r)
		if err != nil {
			return err
		}
		r.r = bytes.NewReader(rest)
		r.header, err = ParseHeader(append(pre, rest...))
		return err
	}

	tbl, err := readBytes(r.r, chunkTableHdrSize)
	if err != nil {
		return err
	}
	count := int(tbl[2])<<8 | int(tbl[3])
	entries, err := readBytes(r.r, count*chunkInfoEntrySize)
	if err != nil {
		return err
	}

	hdr := append(append(pre, tbl...), entries...)
	r.header, err = ParseHeader(hdr)
	return err
}

func (r *Reader) readChunk() error {
	ci := r.header.Chunks[r.currentChunk]
	data, err := readBytes(r.r, int(ci.CompressedSize))
	if err != nil {
		return errors.Wrapf(err, "blte: chunk %d", r.currentChunk)
	}

	var out bytes.Buffer
	if err := decodeChunk(&out, data); err != nil {
		return errors.Wrapf(err, "blte: chunk %d", r.currentChunk)
	}
	r.currentChunk++
	r.remainingChunkData = out.Bytes()
	return nil
}

// readBytes reads exactly n bytes from r. The buffer grows with the data
// actually read, so a forged size cannot force a large allocation.
func readBytes(r io.Reader, n int) ([]byte, error) {
	var buf bytes.Buffer
	got, err := io.CopyN(&buf, r, int64(n))
	if err == io.EOF {
		return nil, errors.Wrapf(ngdp.ErrTruncatedInput, "blte: wanted %d bytes, got %d", n, got)
	}
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
