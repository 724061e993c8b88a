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

package keyvalue

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/w00tzenheimer/blizztools/ngdp"
)

const strictSeparator = " = "

// A Cursor walks the attribute lines of a config file in order.
//
// Unlike Decode, every attribute must be the next line in the file.
type Cursor struct {
	lines []string
	pos   int
}

// NewCursor splits b into lines, dropping blank lines and comments.
func NewCursor(b []byte) *Cursor {
	return &Cursor{lines: attributeLines(b)}
}

// Next consumes the next line and returns its value, provided its key is name.
//
// The cursor does not move if the key does not match.
func (c *Cursor) Next(name string) (string, error) {
	if c.pos >= len(c.lines) {
		return "", ngdp.MissingAttributeError{Name: name}
	}
	ln := c.lines[c.pos]
	key, value, err := splitAttribute(ln, strictSeparator)
	if err != nil {
		return "", errors.Wrapf(err, "keyvalue: expected attribute %q", name)
	}
	if key != name {
		return "", ngdp.MissingAttributeError{Name: name, Got: key}
	}
	c.pos++
	return value, nil
}

// Single consumes the attribute name and parses its value.
func Single[T any](c *Cursor, name string, parse func(string) (T, error)) (T, error) {
	var zero T
	s, err := c.Next(name)
	if err != nil {
		return zero, err
	}
	v, err := parse(s)
	if err != nil {
		return zero, errors.Wrapf(err, "keyvalue: attribute %q", name)
	}
	return v, nil
}

// Pair consumes the attribute name, which must have two space separated values, and parses both.
func Pair[T any](c *Cursor, name string, parse func(string) (T, error)) (T, T, error) {
	var zero T
	s, err := c.Next(name)
	if err != nil {
		return zero, zero, err
	}
	bits := strings.SplitN(s, " ", 2)
	if len(bits) != 2 {
		return zero, zero, errors.Wrapf(ngdp.ErrMalformedLine, "keyvalue: attribute %q wants two values, got %q", name, s)
	}
	a, err := parse(bits[0])
	if err != nil {
		return zero, zero, errors.Wrapf(err, "keyvalue: attribute %q", name)
	}
	b, err := parse(bits[1])
	if err != nil {
		return zero, zero, errors.Wrapf(err, "keyvalue: attribute %q", name)
	}
	return a, b, nil
}

// Uint parses a decimal attribute value.
func Uint(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, errors.Wrap(ngdp.ErrMalformedLine, err.Error())
	}
	return v, nil
}

func hashPair(c *Cursor, name string) (ngdp.HashPair, error) {
	ch, cdn, err := Pair(c, name, ngdp.ParseContentHash)
	return ngdp.HashPair{ContentHash: ch, CDNHash: ngdp.CDNHash(cdn)}, err
}

func sizePair(c *Cursor, name string) (ngdp.SizePair, error) {
	u, comp, err := Pair(c, name, Uint)
	return ngdp.SizePair{UncompressedSize: u, CompressedSize: comp}, err
}

// ParseBuildConfig decodes a build config.
//
// The attributes root, install, install-size, download, download-size, size,
// size-size, encoding and encoding-size must appear first, in that order. Any
// attributes after them are ignored.
func ParseBuildConfig(b []byte) (*ngdp.BuildConfig, error) {
	c := NewCursor(b)
	bc := &ngdp.BuildConfig{}

	var err error
	if bc.Root, err = Single(c, "root", ngdp.ParseContentHash); err != nil {
		return nil, err
	}
	for _, p := range []struct {
		hashName, sizeName string
		hash               *ngdp.HashPair
		size               *ngdp.SizePair
	}{
		{"install", "install-size", &bc.Install, &bc.InstallSize},
		{"download", "download-size", &bc.Download, &bc.DownloadSize},
		{"size", "size-size", &bc.Size, &bc.SizeSize},
		{"encoding", "encoding-size", &bc.Encoding, &bc.EncodingSize},
	} {
		if *p.hash, err = hashPair(c, p.hashName); err != nil {
			return nil, err
		}
		if *p.size, err = sizePair(c, p.sizeName); err != nil {
			return nil, err
		}
	}
	return bc, nil
}
