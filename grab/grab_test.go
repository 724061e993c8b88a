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

package grab

import (
	"bytes"
	"context"
	"crypto/md5"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/w00tzenheimer/blizztools/ngdp"
	"github.com/w00tzenheimer/blizztools/ngdp/manifest"
)

type fakeFetcher struct {
	files   map[ngdp.ContentHash][]byte
	im      *manifest.InstallManifest
	fetches int
}

func newFakeFetcher(files map[string]string) *fakeFetcher {
	f := &fakeFetcher{
		files: make(map[ngdp.ContentHash][]byte),
		im:    &manifest.InstallManifest{},
	}
	for name, contents := range files {
		h := ngdp.ContentHash(md5.Sum([]byte(contents)))
		f.files[h] = []byte(contents)
		f.im.Entries = append(f.im.Entries, manifest.InstallEntry{Name: name, ContentHash: h, Size: uint32(len(contents))})
	}
	return f
}

func (f *fakeFetcher) InstallManifest(ctx context.Context) (*manifest.InstallManifest, error) {
	return f.im, nil
}

func (f *fakeFetcher) Fetch(ctx context.Context, h ngdp.ContentHash) (io.ReadCloser, error) {
	f.fetches++
	b, ok := f.files[h]
	if !ok {
		return nil, fmt.Errorf("no file %v", h)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func ckeyOf(s string) string {
	return fmt.Sprintf("%x", md5.Sum([]byte(s)))
}

func writeFile(t *testing.T, p, contents string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(contents), 0o644))
}

func readFile(t *testing.T, p string) string {
	t.Helper()
	b, err := os.ReadFile(p)
	require.NoError(t, err)
	return string(b)
}

func TestShouldDownload(t *testing.T) {
	patterns, err := CompilePatterns(nil)
	require.NoError(t, err)

	assert.True(t, ShouldDownload("test.pdb", patterns))
	assert.True(t, ShouldDownload("test_loader.dll", patterns))
	assert.True(t, ShouldDownload("TEST.PDB", patterns))
	assert.True(t, ShouldDownload(`nested\path\to\file.pdb`, patterns))
	assert.False(t, ShouldDownload("file.txt", patterns))
	assert.False(t, ShouldDownload("file.pdb.bak", patterns))
}

func TestCompilePatternsError(t *testing.T) {
	_, err := CompilePatterns([]string{"("})
	assert.Error(t, err)
}

func TestTargetPath(t *testing.T) {
	for _, name := range []string{
		`World of Warcraft.app\Contents\MacOS\World of Warcraft`,
		"World of Warcraft.app/Contents/MacOS/World of Warcraft",
	} {
		p, err := TargetPath("dest", "wow", "11.2.5.64270", name)
		require.NoError(t, err)
		assert.Equal(t,
			filepath.Join("dest", "wow", "11.2.5.64270", "World of Warcraft.app", "Contents", "MacOS", "World of Warcraft"), p)
	}

	p, err := TargetPath("dest", "wow", "1.0", `Debug\..\file.pdb`)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("dest", "wow", "1.0", "file.pdb"), p)
}

func TestTargetPathEscapes(t *testing.T) {
	for _, name := range []string{
		`..\..\..\etc\cron.d\evil`,
		"../sibling.pdb",
		"a/../../b.pdb",
		"..",
		".",
	} {
		_, err := TargetPath("/srv/target", "wow", "1.0", name)
		assert.ErrorIs(t, err, ErrUnsafeName, name)
	}
}

func TestUniquePath(t *testing.T) {
	dir := t.TempDir()
	const ckey = "605f3a545861eac58d1cffec408f7a3a"

	p := filepath.Join(dir, "test.pdb")
	assert.Equal(t, p, UniquePath(p, ckey), "no collision")

	writeFile(t, p, "content1")
	assert.Equal(t, filepath.Join(dir, "test.605f3a54.pdb"), UniquePath(p, ckey), "collision")

	writeFile(t, filepath.Join(dir, "test.605f3a54.pdb"), "content2")
	assert.Equal(t, filepath.Join(dir, "test."+ckey+".pdb"), UniquePath(p, ckey), "double collision")

	noExt := filepath.Join(dir, "World of Warcraft")
	writeFile(t, noExt, "content1")
	assert.Equal(t, noExt+".605f3a54", UniquePath(noExt, ckey), "no extension")
}

func TestMapLoadSave(t *testing.T) {
	dir := t.TempDir()
	assert.Empty(t, LoadMap(dir))

	m := CKeyMap{
		"a0d29fd45804e7e59bd25ffd6f5527e5": {Filename: "wow/11.2.5.64270/file.pdb", Product: "wow", Version: "11.2.5.64270"},
	}
	require.NoError(t, m.Save(dir))
	assert.FileExists(t, filepath.Join(dir, MapFilename))
	assert.Equal(t, m, LoadMap(dir))

	writeFile(t, filepath.Join(dir, MapFilename), "{not json")
	assert.Empty(t, LoadMap(dir))
}

func TestMapExisting(t *testing.T) {
	dir := t.TempDir()
	const ckey = "a0d29fd45804e7e59bd25ffd6f5527e5"
	m := CKeyMap{ckey: {Filename: "wow/11.2.5.64270/file.pdb", Product: "wow", Version: "11.2.5.64270"}}

	_, ok := m.Existing(dir, "nonexistent")
	assert.False(t, ok)

	_, ok = m.Existing(dir, ckey)
	assert.False(t, ok)
	assert.NotContains(t, m, ckey, "entries for missing files are dropped")

	p := filepath.Join(dir, "wow", "11.2.5.64270", "file.pdb")
	writeFile(t, p, "content")
	m[ckey] = FileInfo{Filename: "wow/11.2.5.64270/file.pdb"}
	got, ok := m.Existing(dir, ckey)
	assert.True(t, ok)
	assert.Equal(t, p, got)
}

func TestMapUpdate(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "wow", "11.2.5.64270", "file.pdb")
	m := make(CKeyMap)

	require.NoError(t, m.Update(dir, "old", p, "wow", "11.2.5.64270"))
	assert.Equal(t, FileInfo{"wow/11.2.5.64270/file.pdb", "wow", "11.2.5.64270"}, m["old"])

	require.NoError(t, m.Update(dir, "new", p, "wow", "11.2.5.64270"))
	assert.NotContains(t, m, "old")
	assert.Contains(t, m, "new")

	ckey, ok := m.CKeyFor(filepath.Join("wow", "11.2.5.64270", "file.pdb"))
	assert.True(t, ok)
	assert.Equal(t, "new", ckey)
}

func TestGrab(t *testing.T) {
	dest := t.TempDir()
	f := newFakeFetcher(map[string]string{
		`Debug\Wow.pdb`:     "symbols",
		"Wow_loader.dll":    "loader",
		"Wow.exe":           "binary",
		"Data/readme.txt":   "text",
		"Utils/BlizzUI.PDB": "ui symbols",
	})
	patterns, err := CompilePatterns(nil)
	require.NoError(t, err)
	g := &Grabber{Dest: dest, Patterns: patterns, Map: make(CKeyMap)}

	st, err := g.Grab(context.Background(), f, "wow", "1.0")
	require.NoError(t, err)
	assert.Equal(t, Stats{Downloaded: 3}, st)

	assert.Equal(t, "symbols", readFile(t, filepath.Join(dest, "wow", "1.0", "Debug", "Wow.pdb")))
	assert.Equal(t, "loader", readFile(t, filepath.Join(dest, "wow", "1.0", "Wow_loader.dll")))
	assert.Equal(t, "ui symbols", readFile(t, filepath.Join(dest, "wow", "1.0", "Utils", "BlizzUI.PDB")))
	assert.NoFileExists(t, filepath.Join(dest, "wow", "1.0", "Wow.exe"))
	assert.Equal(t, FileInfo{"wow/1.0/Debug/Wow.pdb", "wow", "1.0"}, g.Map[ckeyOf("symbols")])

	// A second run finds everything in the map.
	fetches := f.fetches
	st, err = g.Grab(context.Background(), f, "wow", "1.0")
	require.NoError(t, err)
	assert.Equal(t, Stats{Skipped: 3}, st)
	assert.Equal(t, fetches, f.fetches)
}

func TestGrabExistingUnmapped(t *testing.T) {
	dest := t.TempDir()
	f := newFakeFetcher(map[string]string{"a.pdb": "same", "b.pdb": "new"})
	patterns, err := CompilePatterns(nil)
	require.NoError(t, err)

	writeFile(t, filepath.Join(dest, "wow", "1.0", "a.pdb"), "same")
	writeFile(t, filepath.Join(dest, "wow", "1.0", "b.pdb"), "old")

	g := &Grabber{Dest: dest, Patterns: patterns, Map: make(CKeyMap)}
	st, err := g.Grab(context.Background(), f, "wow", "1.0")
	require.NoError(t, err)
	assert.Equal(t, Stats{Downloaded: 1, Skipped: 1}, st)

	assert.Equal(t, "wow/1.0/a.pdb", g.Map[ckeyOf("same")].Filename)
	assert.Equal(t, "old", readFile(t, filepath.Join(dest, "wow", "1.0", "b.pdb")))
	renamed := "b." + ckeyOf("new")[:8] + ".pdb"
	assert.Equal(t, "new", readFile(t, filepath.Join(dest, "wow", "1.0", renamed)))
	assert.Equal(t, "wow/1.0/"+renamed, g.Map[ckeyOf("new")].Filename)
}

func TestGrabOverwrite(t *testing.T) {
	dest := t.TempDir()
	f := newFakeFetcher(map[string]string{"b.pdb": "new"})
	patterns, err := CompilePatterns(nil)
	require.NoError(t, err)

	p := filepath.Join(dest, "wow", "1.0", "b.pdb")
	writeFile(t, p, "old")
	m := make(CKeyMap)
	require.NoError(t, m.Update(dest, ckeyOf("old"), p, "wow", "1.0"))

	g := &Grabber{Dest: dest, Patterns: patterns, Overwrite: true, Map: m}
	st, err := g.Grab(context.Background(), f, "wow", "1.0")
	require.NoError(t, err)
	assert.Equal(t, Stats{Downloaded: 1}, st)
	assert.Equal(t, "new", readFile(t, p))
	assert.NotContains(t, m, ckeyOf("old"))
	assert.Equal(t, "wow/1.0/b.pdb", m[ckeyOf("new")].Filename)
}

func TestGrabFetchFailure(t *testing.T) {
	dest := t.TempDir()
	f := newFakeFetcher(map[string]string{"a.pdb": "a", "b.pdb": "b"})
	delete(f.files, ngdp.ContentHash(md5.Sum([]byte("a"))))
	patterns, err := CompilePatterns(nil)
	require.NoError(t, err)

	g := &Grabber{Dest: dest, Patterns: patterns, Map: make(CKeyMap)}
	st, err := g.Grab(context.Background(), f, "wow", "1.0")
	require.NoError(t, err)
	assert.Equal(t, Stats{Downloaded: 1, Failed: 1}, st)
	assert.NoFileExists(t, filepath.Join(dest, "wow", "1.0", "a.pdb"))

	entries, err := os.ReadDir(filepath.Join(dest, "wow", "1.0"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files left behind")
}

func TestGrabUnsafeName(t *testing.T) {
	root := t.TempDir()
	dest := filepath.Join(root, "target")
	f := newFakeFetcher(map[string]string{`..\..\..\evil.pdb`: "evil", "ok.pdb": "ok"})
	patterns, err := CompilePatterns(nil)
	require.NoError(t, err)

	g := &Grabber{Dest: dest, Patterns: patterns, Map: make(CKeyMap)}
	st, err := g.Grab(context.Background(), f, "wow", "1.0")
	require.NoError(t, err)
	assert.Equal(t, Stats{Downloaded: 1, Failed: 1}, st)
	assert.NoFileExists(t, filepath.Join(root, "evil.pdb"))
	assert.Equal(t, "ok", readFile(t, filepath.Join(dest, "wow", "1.0", "ok.pdb")))
}

func TestGrabCancelled(t *testing.T) {
	f := newFakeFetcher(map[string]string{"a.pdb": "a"})
	patterns, err := CompilePatterns(nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	g := &Grabber{Dest: t.TempDir(), Patterns: patterns, Map: make(CKeyMap)}
	_, err = g.Grab(ctx, f, "wow", "1.0")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIndex(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "wow", "11.2.5.64270", "file1.pdb"), "content1")
	writeFile(t, filepath.Join(dir, "wow", "11.2.5.64270", "nested", "file2.pdb"), "content2")
	writeFile(t, filepath.Join(dir, "diablo4", "2.0.0", "file3.dll"), "content3")
	writeFile(t, filepath.Join(dir, "stray.txt"), "stray")

	m := make(CKeyMap)
	indexed, skipped, err := Index(m, dir, dir)
	require.NoError(t, err)
	assert.Equal(t, 3, indexed)
	assert.Equal(t, 1, skipped)

	assert.Equal(t, FileInfo{"wow/11.2.5.64270/file1.pdb", "wow", "11.2.5.64270"}, m[ckeyOf("content1")])
	assert.Equal(t, FileInfo{"wow/11.2.5.64270/nested/file2.pdb", "wow", "11.2.5.64270"}, m[ckeyOf("content2")])
	assert.Equal(t, FileInfo{"diablo4/2.0.0/file3.dll", "diablo4", "2.0.0"}, m[ckeyOf("content3")])
}

func TestIndexFallsBackToDir(t *testing.T) {
	base := t.TempDir()
	dir := filepath.Join(base, "sub")
	writeFile(t, filepath.Join(dir, "wow", "1.0", "file.pdb"), "content")

	m := make(CKeyMap)
	indexed, _, err := Index(m, dir, filepath.Join(base, "elsewhere"))
	require.NoError(t, err)
	assert.Equal(t, 1, indexed)
	assert.Equal(t, FileInfo{"wow/1.0/file.pdb", "wow", "1.0"}, m[ckeyOf("content")])
}

func TestReadProducts(t *testing.T) {
	got, err := ReadProducts(bytes.NewBufferString("wow\n\n  # comment\n diablo4 \n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"wow", "diablo4"}, got)
}
