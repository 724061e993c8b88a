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
	"encoding/binary"
	"fmt"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/klauspost/compress/zlib"
	"github.com/pkg/errors"

	"github.com/w00tzenheimer/blizztools/ngdp"
)

type testChunk struct {
	mode byte
	data string
}

func (tc testChunk) encode(t *testing.T) []byte {
	t.Helper()
	if tc.mode != 'Z' {
		return append([]byte{tc.mode}, tc.data...)
	}
	var buf bytes.Buffer
	buf.WriteByte('Z')
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write([]byte(tc.data)); err != nil {
		t.Fatalf("zlib.Write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zlib.Close: %v", err)
	}
	return buf.Bytes()
}

// buildBLTE assembles a BLTE file. With chunkTable false, exactly one chunk is allowed.
func buildBLTE(t *testing.T, chunkTable bool, chunks ...testChunk) []byte {
	t.Helper()
	var encoded [][]byte
	for _, c := range chunks {
		encoded = append(encoded, c.encode(t))
	}

	var buf bytes.Buffer
	buf.WriteString("BLTE")
	if !chunkTable {
		if len(encoded) != 1 {
			t.Fatalf("buildBLTE: %d chunks without a chunk table", len(encoded))
		}
		binary.Write(&buf, binary.BigEndian, uint32(0))
		buf.Write(encoded[0])
		return buf.Bytes()
	}

	binary.Write(&buf, binary.BigEndian, uint32(12+24*len(encoded)))
	buf.Write([]byte{0x0f, 0x00})
	binary.Write(&buf, binary.BigEndian, uint16(len(encoded)))
	for n, e := range encoded {
		binary.Write(&buf, binary.BigEndian, uint32(len(e)))
		binary.Write(&buf, binary.BigEndian, uint32(len(chunks[n].data)))
		buf.Write(make([]byte, 16))
	}
	for _, e := range encoded {
		buf.Write(e)
	}
	return buf.Bytes()
}

func splitChunks(mode func(n int) byte, s string, size int) []testChunk {
	var out []testChunk
	for n := 0; len(s) > 0; n++ {
		l := size
		if l > len(s) {
			l = len(s)
		}
		out = append(out, testChunk{mode(n), s[:l]})
		s = s[l:]
	}
	return out
}

const manyChunksText = "this BLTE file contains an obscene number of chunks - at least, a sufficient number of chunks to make sure that decoding is happening correctly, even where the number of chunks exceeds 255, since it almost certainly will at some point, and thus we should be prepared."

func TestDecode(t *testing.T) {
	plain := func(int) byte { return 'N' }
	zl := func(int) byte { return 'Z' }
	mixed := func(n int) byte {
		if n%3 == 0 {
			return 'Z'
		}
		return 'N'
	}

	for _, test := range []struct {
		name       string
		chunkTable bool
		chunks     []testChunk
	}{
		{"noheader.uncompressed", false, []testChunk{{'N', "this BLTE file contains uncompressed data, with no chunks"}}},
		{"noheader.zlib", false, []testChunk{{'Z', "this BLTE file contains zlib-compressed data, with no chunks"}}},
		{"onechunk.uncompressed", true, []testChunk{{'N', "this BLTE file contains uncompressed data, with a single chunk"}}},
		{"onechunk.zlib", true, []testChunk{{'Z', "this BLTE file contains zlib-compressed data, with a single chunk"}}},
		{"manychunks.uncompressed", true, splitChunks(plain, manyChunksText, 1)},
		{"manychunks.zlib", true, splitChunks(zl, manyChunksText, 1)},
		{"manychunks.mixed", true, splitChunks(mixed, manyChunksText, 1)},
		{"emptychunk.zlib", true, []testChunk{{'N', "before"}, {'Z', ""}, {'N', "after"}}},
	} {
		test := test
		t.Run(test.name, func(t *testing.T) {
			var want strings.Builder
			for _, c := range test.chunks {
				want.WriteString(c.data)
			}

			in := buildBLTE(t, test.chunkTable, test.chunks...)
			got, err := Decode(in)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if string(got) != want.String() {
				t.Errorf("Decode = %q; want %q", got, want.String())
			}

			streamed, err := io.ReadAll(iotest.OneByteReader(NewReader(bytes.NewReader(in))))
			if err != nil {
				t.Fatalf("io.ReadAll(NewReader): %v", err)
			}
			if !bytes.Equal(streamed, got) {
				t.Errorf("NewReader = %q; want %q", streamed, got)
			}
		})
	}
}

func TestParseHeader(t *testing.T) {
	in := buildBLTE(t, true, testChunk{'N', "abc"}, testChunk{'N', "defg"})
	h, err := ParseHeader(in)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if h.Flags != 0x0f {
		t.Errorf("Flags = %#x; want 0x0f", h.Flags)
	}
	if len(h.Chunks) != 2 {
		t.Fatalf("len(Chunks) = %d; want 2", len(h.Chunks))
	}
	if h.Chunks[1].CompressedSize != 5 || h.Chunks[1].DecompressedSize != 4 {
		t.Errorf("Chunks[1] = %+v; want sizes 5/4", h.Chunks[1])
	}
	if h.DataOffset != 12+2*24 {
		t.Errorf("DataOffset = %d; want %d", h.DataOffset, 12+2*24)
	}

	// Chunks are laid out back to back, so the file length is fully accounted for.
	total := h.DataOffset
	for _, c := range h.Chunks {
		total += int(c.CompressedSize)
	}
	if total != len(in) {
		t.Errorf("accounted for %d bytes; file is %d", total, len(in))
	}

	h, err = ParseHeader(buildBLTE(t, false, testChunk{'N', "abc"}))
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if len(h.Chunks) != 1 || h.Chunks[0].CompressedSize != 4 || h.DataOffset != 8 {
		t.Errorf("ParseHeader without chunk table = %+v; want one 4 byte chunk at 8", h)
	}
}

func TestDecodeErrors(t *testing.T) {
	good := buildBLTE(t, true, testChunk{'N', "hello"}, testChunk{'Z', "world"})
	corrupt := buildBLTE(t, true, testChunk{'N', "hello"})
	corrupt = append(corrupt[:len(corrupt)-6], 'Z', 0xde, 0xad, 0xbe, 0xef, 0x00)

	for _, test := range []struct {
		name string
		in   []byte
		want error
	}{
		{"badmagic", []byte("BLTF\x00\x00\x00\x00Nhello"), ngdp.ErrInvalidMagic},
		{"tooshort", []byte("BL"), ngdp.ErrInvalidMagic},
		{"encrypted", buildBLTE(t, true, testChunk{'E', "secret"}), ngdp.ErrUnsupportedEncodingMode},
		{"recursive", buildBLTE(t, false, testChunk{'F', "BLTE"}), ngdp.ErrUnsupportedEncodingMode},
		{"unknownmode", buildBLTE(t, true, testChunk{'X', "what"}), ngdp.ErrUnsupportedEncodingMode},
		{"truncatedchunk", good[:len(good)-3], ngdp.ErrTruncatedInput},
		{"truncatedtable", good[:20], ngdp.ErrTruncatedInput},
		{"emptynoheader", []byte("BLTE\x00\x00\x00\x00"), ngdp.ErrTruncatedInput},
		{"corruptzlib", corrupt, ngdp.ErrDecompressionFailure},
	} {
		test := test
		t.Run(test.name, func(t *testing.T) {
			if _, err := Decode(test.in); !errors.Is(err, test.want) {
				t.Errorf("Decode: %v; want %v", err, test.want)
			}
			if _, err := io.ReadAll(NewReader(bytes.NewReader(test.in))); err == nil {
				t.Errorf("io.ReadAll(NewReader): %v; want error", err)
			}
		})
	}
}

func TestForgedChunkSize(t *testing.T) {
	// One chunk table entry declaring a 4 GiB chunk, followed by two data bytes.
	in := []byte("BLTE\x00\x00\x00\x24\x0f\x00\x00\x01\xff\xff\xff\xf0\xff\xff\xff\xf0")
	in = append(in, make([]byte, 16)...)
	in = append(in, 'N', 'x')

	if _, err := Decode(in); !errors.Is(err, ngdp.ErrTruncatedInput) {
		t.Errorf("Decode: %v; want ErrTruncatedInput", err)
	}
	if _, err := io.ReadAll(NewReader(bytes.NewReader(in))); !errors.Is(err, ngdp.ErrTruncatedInput) {
		t.Errorf("io.ReadAll(NewReader): %v; want ErrTruncatedInput", err)
	}
}

func TestUnsupportedModeIsReported(t *testing.T) {
	for _, mode := range []byte{'E', 'F'} {
		_, err := Decode(buildBLTE(t, true, testChunk{'N', "fine"}, testChunk{mode, "nope"}))
		var uem ngdp.UnsupportedEncodingModeError
		if !errors.As(err, &uem) {
			t.Errorf("%c: Decode: %v; want UnsupportedEncodingModeError", mode, err)
			continue
		}
		if uem.Mode != mode {
			t.Errorf("%c: Mode = %c; want %c", mode, uem.Mode, mode)
		}
		if got := fmt.Sprint(err); !strings.Contains(got, "chunk 1") {
			t.Errorf("%c: error %q does not name the chunk", mode, got)
		}
	}
}
