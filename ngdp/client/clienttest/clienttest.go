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

// Package clienttest provides an in-memory patch server and CDN for testing
// code built on the client package.
package clienttest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/w00tzenheimer/blizztools/ngdp"
)

// Program and Region are the pair served by New.
const (
	Program ngdp.ProgramCode = "program"
	Region  ngdp.Region      = "region"

	Host = "region.distro.example.com"
	Root = "http://" + Host + "/tpr/Hero-Live-a/"
)

// The files served by New.
var (
	LooseContentHash    = ngdp.ContentHash{0xca, 0xfe, 0xbe, 0xef}
	LooseCDNHash        = ngdp.CDNHash{0xfe, 0xed, 0xbe, 0x11}
	LooseName           = "HeroesSwitcher.exe"
	LooseContents       = "hooray!"
	ArchivedContentHash = ngdp.ContentHash{0xc0, 0xff, 0xee}
	ArchivedCDNHash     = ngdp.CDNHash{0xa1, 0xc4}
	ArchivedName        = `Support\Archived.dat`
	ArchivedContents    = "from an archive"

	ArchiveHash     = mustCDNHash("002b6d5f5f572534f80f1191fadcf199")
	EncodingCDNHash = mustCDNHash("1535a825a3153660397b7fc362db6317")
	InstallCDNHash  = mustCDNHash("5707c55346b2bdffdc12587673ca6e78")
	DownloadCDNHash = mustCDNHash("0ee936e6e1c5eda32dad6e133eb24b02")

	BuildConfigURL = Root + "config/ff/bb/ffbbf430436ce472d8b6815b12e47569"
	CDNsURL        = "http://region.patch.battle.net:1119/program/cdns"
	VersionsURL    = "http://region.patch.battle.net:1119/program/versions"

	// ArchiveOffset is where the archived file starts within its archive.
	ArchiveOffset = 10
	ArchivedBLTE  = PlainBLTE([]byte(ArchivedContents))
)

const (
	CDNs = `Name!STRING:0|Path!STRING:0|Hosts!STRING:0|Servers!STRING:0|ConfigPath!STRING:0
## seqn = 12345
us|tpr/Hero-Live-a|blzddist1-a.akamaihd.net level3.blizzard.com|http://blzddist1-a.akamaihd.net/?maxhosts=4|tpr/configs/data
region|tpr/Hero-Live-a|region.distro.example.com|http://region.distro.example.com/?maxhosts=4|tpr/configs/data
`

	Versions = `Region!STRING:0|BuildConfig!HEX:16|CDNConfig!HEX:16|KeyRing!HEX:16|BuildId!DEC:4|VersionsName!String:0|ProductConfig!HEX:16
## seqn = 12345
us|46bbf430436ce472d8b6815b12e47569|a4bec782d8a2222cbaf38f2968c7ba9c||52008|24.3.52008|53020d32e1a25648c8e1eafd5771935f
region|ffbbf430436ce472d8b6815b12e47569|ffbec782d8a2222cbaf38f2968c7ba9c||52008|24.3.52008|53020d32e1a25648c8e1eafd5771935f
`

	BuildConfig = `
# Build Configuration

root = 566ce180fc2bf98bfd3af30a6ab86275
install = c9c0c7c16b6b0b639526637654ae359c 5707c55346b2bdffdc12587673ca6e78
install-size = 38164 20000
download = 2681d9f0b14f667aa4253640c23d6755 0ee936e6e1c5eda32dad6e133eb24b02
download-size = 19171929 9000000
size = 04b685919f85d762322f635a207d85d2 1a98c149a20d884fe4a6d6ec507b0dcd
size-size = 6043993 5280643
encoding = e0e1a425726210c77158e77636bb8d8f 1535a825a3153660397b7fc362db6317
encoding-size = 44979819 44930354
build-name = B52008
build-product = Hero
build-uid = hero
`

	CDNConfig = `
# CDN Configuration

archives = 002b6d5f5f572534f80f1191fadcf199
archive-group = 6e4b6ac4ba5ef2e1f7c8f0cb1a3b4c5d
patch-archives = 03619da1c909c7a4447f16ac7d093098
`
)

func mustCDNHash(s string) ngdp.CDNHash {
	h, err := ngdp.ParseCDNHash(s)
	if err != nil {
		panic(err)
	}
	return h
}

// A File is a canned response.
type File struct {
	Status int
	Body   []byte
}

// OK is a 200 response carrying s.
func OK(s string) File { return File{http.StatusOK, []byte(s)} }

// A FakeCDN answers requests from a fixed set of files, keyed on URL.
//
// Requests with a Range header are answered with 206 and the requested slice.
type FakeCDN struct {
	mu       sync.Mutex
	files    map[string]File
	requests []string
	ranges   []string
}

// Set replaces the file served at url.
func (f *FakeCDN) Set(url string, file File) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[url] = file
}

// Delete stops url being served.
func (f *FakeCDN) Delete(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.files, url)
}

// Requests returns the URLs requested so far.
func (f *FakeCDN) Requests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requests...)
}

// Ranges returns the Range headers sent so far.
func (f *FakeCDN) Ranges() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ranges...)
}

func (f *FakeCDN) Do(req *http.Request) (*http.Response, error) {
	url := req.URL.String()

	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, url)

	file, ok := f.files[url]
	if !ok {
		return nil, fmt.Errorf("response for %q not stored", url)
	}
	body := file.Body
	status := file.Status
	if rng := req.Header.Get("Range"); rng != "" {
		f.ranges = append(f.ranges, rng)
		bits := strings.SplitN(strings.TrimPrefix(rng, "bytes="), "-", 2)
		from, _ := strconv.Atoi(bits[0])
		to, _ := strconv.Atoi(bits[1])
		body = body[from : to+1]
		status = http.StatusPartialContent
	}
	return response(req, status, body), nil
}

func response(req *http.Request, statusCode int, body []byte) *http.Response {
	hdrs := make(http.Header)
	hdrs.Set("Server", "Protocol HTTP")
	hdrs.Set("Content-Type", "application/octet-stream")
	hdrs.Set("Content-Length", fmt.Sprintf("%d", len(body)))

	return &http.Response{
		Status:     fmt.Sprintf("%d %s", statusCode, http.StatusText(statusCode)),
		StatusCode: statusCode,
		Header:     hdrs,
		Body:       io.NopCloser(bytes.NewReader(body)),
		Request:    req,
	}
}

// PlainBLTE wraps b in a headerless BLTE container holding one plain chunk.
func PlainBLTE(b []byte) []byte {
	return append([]byte("BLTE\x00\x00\x00\x00N"), b...)
}

func u16(v uint16) []byte { return binary.BigEndian.AppendUint16(nil, v) }
func u32(v uint32) []byte { return binary.BigEndian.AppendUint32(nil, v) }
func u40(v uint64) []byte { return binary.BigEndian.AppendUint64(nil, v)[3:] }

// An EncodingEntry maps one content hash to one CDN hash.
type EncodingEntry struct {
	ContentHash ngdp.ContentHash
	CDNHash     ngdp.CDNHash
	Size        uint64
}

// EncodingFile builds an encoding file holding entries on a single 1 KiB page.
func EncodingFile(entries []EncodingEntry) []byte {
	entries = append([]EncodingEntry(nil), entries...)
	sort.Slice(entries, func(i, j int) bool { return entries[i].ContentHash.Less(entries[j].ContentHash) })

	var b bytes.Buffer
	b.WriteString("EN")
	b.Write([]byte{1, ngdp.HashSize, ngdp.HashSize})
	b.Write(u16(1))
	b.Write(u16(1))
	b.Write(u32(1))
	b.Write(u32(0))
	b.WriteByte(0)
	b.Write(u32(0))

	b.Write(entries[0].ContentHash[:])
	b.Write(make([]byte, 16))

	page := make([]byte, 0, 1024)
	for _, e := range entries {
		page = append(page, 1)
		page = append(page, u40(e.Size)...)
		page = append(page, e.ContentHash[:]...)
		page = append(page, e.CDNHash[:]...)
	}
	b.Write(page)
	b.Write(make([]byte, 1024-len(page)))
	return b.Bytes()
}

// An ArchiveEntry places one file within an archive.
type ArchiveEntry struct {
	CDNHash ngdp.CDNHash
	Size    uint32
	Offset  uint32
}

// ArchiveIndex builds a single block archive index followed by a footer.
func ArchiveIndex(entries []ArchiveEntry) []byte {
	block := make([]byte, 0, 4096)
	for _, e := range entries {
		block = append(block, e.CDNHash[:]...)
		block = append(block, u32(e.Size)...)
		block = append(block, u32(e.Offset)...)
	}
	block = append(block, make([]byte, 4096-len(block))...)
	return append(block, make([]byte, 28)...)
}

// An InstallFile is one entry of an install manifest.
type InstallFile struct {
	Name        string
	ContentHash ngdp.ContentHash
	Size        uint32
}

// InstallManifest builds an install manifest with a single tag covering every file.
func InstallManifest(tag string, files []InstallFile) []byte {
	var b bytes.Buffer
	b.WriteString("IN")
	b.Write([]byte{1, ngdp.HashSize})
	b.Write(u16(1))
	b.Write(u32(uint32(len(files))))
	b.WriteString(tag + "\x00")
	b.Write(u16(1))
	mask := make([]byte, len(files)/8)
	for n := range mask {
		mask[n] = 0xff
	}
	b.Write(mask)
	for _, f := range files {
		b.WriteString(f.Name + "\x00")
		b.Write(f.ContentHash[:])
		b.Write(u32(f.Size))
	}
	return b.Bytes()
}

// A DownloadFile is one entry of a download manifest.
type DownloadFile struct {
	Hash     ngdp.ContentHash
	Size     uint64
	Priority uint8
}

// DownloadManifest builds an untagged download manifest.
func DownloadManifest(files []DownloadFile) []byte {
	var b bytes.Buffer
	b.WriteString("DL")
	b.Write([]byte{1, ngdp.HashSize, 0})
	b.Write(u32(uint32(len(files))))
	b.Write(u16(0))
	for _, f := range files {
		b.Write(f.Hash[:])
		b.Write(u40(f.Size))
		b.WriteByte(f.Priority)
	}
	return b.Bytes()
}

// New returns a FakeCDN serving Program in Region: one loose file, one archived file, and the manifests naming them.
func New() *FakeCDN {
	data := func(h ngdp.CDNHash) string { return Root + "data/" + ngdp.CDNPath(h) }
	archiveBody := append(append([]byte("0123456789"), ArchivedBLTE...), "trailing"...)

	return &FakeCDN{
		files: map[string]File{
			CDNsURL:     OK(CDNs),
			VersionsURL: OK(Versions),

			BuildConfigURL: OK(BuildConfig),
			Root + "config/ff/be/ffbec782d8a2222cbaf38f2968c7ba9c": OK(CDNConfig),

			data(EncodingCDNHash): {http.StatusOK, PlainBLTE(EncodingFile([]EncodingEntry{
				{LooseContentHash, LooseCDNHash, uint64(len(LooseContents))},
				{ArchivedContentHash, ArchivedCDNHash, uint64(len(ArchivedContents))},
			}))},
			data(ArchiveHash) + ".index": {http.StatusOK, ArchiveIndex([]ArchiveEntry{
				{ArchivedCDNHash, uint32(len(ArchivedBLTE)), uint32(ArchiveOffset)},
			})},
			data(ArchiveHash):  {http.StatusOK, archiveBody},
			data(LooseCDNHash): {http.StatusOK, PlainBLTE([]byte(LooseContents))},
			data(InstallCDNHash): {http.StatusOK, PlainBLTE(InstallManifest("Windows", []InstallFile{
				{LooseName, LooseContentHash, uint32(len(LooseContents))},
				{ArchivedName, ArchivedContentHash, uint32(len(ArchivedContents))},
			}))},
			data(DownloadCDNHash): {http.StatusOK, PlainBLTE(DownloadManifest([]DownloadFile{
				{ngdp.ContentHash(ArchivedCDNHash), uint64(len(ArchivedBLTE)), 2},
			}))},
		},
	}
}
