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

package ngdp

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"

	"github.com/pkg/errors"
)

// HashSize is the length in bytes of every key used by NGDP.
const HashSize = md5.Size

// A CDNHash is an encoding key: it names one particular encoded (BLTE) form of some content.
type CDNHash [HashSize]byte

// A ContentHash is a content key: the MD5 of a file's decoded contents.
type ContentHash [HashSize]byte

func parseHash(s string) ([HashSize]byte, error) {
	var h [HashSize]byte
	if len(s) != HashSize*2 {
		return h, errors.Wrapf(ErrMalformedIdentifier, "%q has length %d", s, len(s))
	}
	if _, err := hex.Decode(h[:], []byte(s)); err != nil {
		return h, errors.Wrapf(ErrMalformedIdentifier, "%q: %v", s, err)
	}
	return h, nil
}

func hashFromBytes(b []byte) ([HashSize]byte, error) {
	var h [HashSize]byte
	if len(b) != HashSize {
		return h, errors.Wrapf(ErrMalformedIdentifier, "got %d bytes", len(b))
	}
	copy(h[:], b)
	return h, nil
}

// ParseContentHash parses the 32-character hex form of a content hash.
func ParseContentHash(s string) (ContentHash, error) {
	h, err := parseHash(s)
	return ContentHash(h), err
}

// ContentHashFromBytes builds a content hash from exactly 16 raw bytes.
func ContentHashFromBytes(b []byte) (ContentHash, error) {
	h, err := hashFromBytes(b)
	return ContentHash(h), err
}

// ParseCDNHash parses the 32-character hex form of a CDN hash.
func ParseCDNHash(s string) (CDNHash, error) {
	h, err := parseHash(s)
	return CDNHash(h), err
}

// CDNHashFromBytes builds a CDN hash from exactly 16 raw bytes.
func CDNHashFromBytes(b []byte) (CDNHash, error) {
	h, err := hashFromBytes(b)
	return CDNHash(h), err
}

func (h ContentHash) String() string               { return hex.EncodeToString(h[:]) }
func (h ContentHash) Equal(o ContentHash) bool     { return h == o }
func (h ContentHash) Less(o ContentHash) bool      { return bytes.Compare(h[:], o[:]) < 0 }
func (h ContentHash) IsZero() bool                 { return h == ContentHash{} }
func (h ContentHash) MarshalText() ([]byte, error) { return []byte(h.String()), nil }

func (h *ContentHash) UnmarshalText(b []byte) error {
	v, err := ParseContentHash(string(b))
	if err != nil {
		return err
	}
	*h = v
	return nil
}

func (h CDNHash) String() string               { return hex.EncodeToString(h[:]) }
func (h CDNHash) Equal(o CDNHash) bool         { return h == o }
func (h CDNHash) Less(o CDNHash) bool          { return bytes.Compare(h[:], o[:]) < 0 }
func (h CDNHash) IsZero() bool                 { return h == CDNHash{} }
func (h CDNHash) MarshalText() ([]byte, error) { return []byte(h.String()), nil }

func (h *CDNHash) UnmarshalText(b []byte) error {
	v, err := ParseCDNHash(string(b))
	if err != nil {
		return err
	}
	*h = v
	return nil
}

// CDNPath returns the path fragment under which a hash is stored on the CDN: "ab/cd/abcd...".
func CDNPath(h CDNHash) string {
	s := h.String()
	return s[0:2] + "/" + s[2:4] + "/" + s
}

type CDNInfo struct {
	Name       Region
	Path       string
	Hosts      []string
	Servers    []string
	ConfigPath string // unknown purpose
}

type VersionInfo struct {
	Region        Region
	BuildConfig   CDNHash
	CDNConfig     CDNHash
	KeyRing       *CDNHash
	BuildID       int
	VersionsName  string
	ProductConfig CDNHash
}

// A HashPair is a content hash and the CDN hash of its encoded form, as listed in a build config.
type HashPair struct {
	ContentHash ContentHash
	CDNHash     CDNHash
}

// A SizePair holds the decoded and encoded sizes matching a HashPair.
type SizePair struct {
	UncompressedSize uint64
	CompressedSize   uint64
}

type BuildConfig struct {
	Root ContentHash

	Install     HashPair
	InstallSize SizePair

	Download     HashPair
	DownloadSize SizePair

	Size     HashPair
	SizeSize SizePair

	Encoding     HashPair
	EncodingSize SizePair
}

// A CDNConfig lists the archives holding a build's data files.
//
// The index sizes, when present, line up with Archives and PatchArchives.
type CDNConfig struct {
	Archives          []CDNHash
	ArchivesIndexSize []uint64
	ArchiveGroup      CDNHash

	PatchArchives          []CDNHash
	PatchArchivesIndexSize []uint64
	PatchArchiveGroup      CDNHash

	FileIndex     CDNHash
	FileIndexSize uint64
}

type FilenameMapper interface {
	ToContentHash(fn string) (h ContentHash, ok bool)
}
