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

// Package cursor provides a big-endian read cursor over an in-memory buffer.
//
// All NGDP binary formats are decoded through a Cursor. A failed read
// returns an error wrapping ngdp.ErrTruncatedInput and does not move the
// cursor, so callers can treat a failed read as a clean stop.
package cursor

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/w00tzenheimer/blizztools/ngdp"
)

type Cursor struct {
	buf []byte
	off int
}

func New(b []byte) *Cursor {
	return &Cursor{buf: b}
}

// Offset returns the number of bytes consumed so far.
func (c *Cursor) Offset() int { return c.off }

// Remaining returns the number of unread bytes.
func (c *Cursor) Remaining() int { return len(c.buf) - c.off }

// Rest returns the unread bytes without consuming them.
func (c *Cursor) Rest() []byte { return c.buf[c.off:] }

func (c *Cursor) take(n int) ([]byte, error) {
	if n < 0 || n > c.Remaining() {
		return nil, errors.Wrapf(ngdp.ErrTruncatedInput, "want %d bytes at offset %d, have %d", n, c.off, c.Remaining())
	}
	b := c.buf[c.off : c.off+n]
	c.off += n
	return b, nil
}

// Bytes returns the next n bytes. The returned slice aliases the underlying buffer.
func (c *Cursor) Bytes(n int) ([]byte, error) {
	return c.take(n)
}

func (c *Cursor) Skip(n int) error {
	_, err := c.take(n)
	return err
}

func (c *Cursor) U8() (uint8, error) {
	b, err := c.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (c *Cursor) U16() (uint16, error) {
	b, err := c.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (c *Cursor) U32() (uint32, error) {
	b, err := c.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// U40 reads a 5 byte big-endian unsigned integer.
func (c *Cursor) U40() (uint64, error) {
	b, err := c.take(5)
	if err != nil {
		return 0, err
	}
	return uint64(b[0])<<32 | uint64(binary.BigEndian.Uint32(b[1:])), nil
}

func (c *Cursor) ContentHash() (ngdp.ContentHash, error) {
	var h ngdp.ContentHash
	b, err := c.take(ngdp.HashSize)
	if err != nil {
		return h, err
	}
	copy(h[:], b)
	return h, nil
}

func (c *Cursor) CDNHash() (ngdp.CDNHash, error) {
	var h ngdp.CDNHash
	b, err := c.take(ngdp.HashSize)
	if err != nil {
		return h, err
	}
	copy(h[:], b)
	return h, nil
}

// CString reads a NUL-terminated Latin-1 string, consuming the terminator.
func (c *Cursor) CString() (string, error) {
	i := bytes.IndexByte(c.Rest(), 0)
	if i < 0 {
		return "", errors.Wrapf(ngdp.ErrTruncatedInput, "unterminated string at offset %d", c.off)
	}
	b, _ := c.take(i + 1)

	// Latin-1 maps each byte straight onto the rune of the same value.
	rs := make([]rune, i)
	for n, x := range b[:i] {
		rs[n] = rune(x)
	}
	return string(rs), nil
}
