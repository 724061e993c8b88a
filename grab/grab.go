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

// Package grab downloads the install manifest files whose names match a set of
// patterns into a product/version/path tree, remembering what it has fetched
// by content key so that later runs only fetch what changed.
package grab

import (
	"bufio"
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/w00tzenheimer/blizztools/ngdp"
	"github.com/w00tzenheimer/blizztools/ngdp/manifest"
)

// DefaultPatterns select debug symbols and loader libraries.
var DefaultPatterns = []string{`\.pdb$`, `_loader\.dll$`}

// CompilePatterns compiles raw as case-insensitive regular expressions, or DefaultPatterns if raw is empty.
func CompilePatterns(raw []string) ([]*regexp.Regexp, error) {
	if len(raw) == 0 {
		raw = DefaultPatterns
	}
	out := make([]*regexp.Regexp, 0, len(raw))
	for _, r := range raw {
		re, err := regexp.Compile("(?i)" + r)
		if err != nil {
			return nil, errors.Wrapf(err, "grab: pattern %q", r)
		}
		out = append(out, re)
	}
	return out, nil
}

// ShouldDownload reports whether any pattern matches somewhere in name.
func ShouldDownload(name string, patterns []*regexp.Regexp) bool {
	for _, p := range patterns {
		if p.MatchString(name) {
			return true
		}
	}
	return false
}

// ErrUnsafeName is returned for install manifest names that would resolve
// outside their product/version directory.
var ErrUnsafeName = errors.New("grab: file name escapes the destination")

// TargetPath is where an install manifest file is written: dest/product/version/name.
//
// Either / or \ may separate the components of name. Names that resolve
// outside dest/product/version fail with ErrUnsafeName.
func TargetPath(dest, product, version, name string) (string, error) {
	root := filepath.Join(dest, product, version)
	parts := strings.Split(strings.ReplaceAll(name, `\`, "/"), "/")
	p := filepath.Join(append([]string{root}, parts...)...)

	rel, err := filepath.Rel(root, p)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.Wrapf(ErrUnsafeName, "%q", name)
	}
	return p, nil
}

// UniquePath returns p if nothing exists there yet. Otherwise the first 8
// characters of ckey are inserted before the extension, and if that is taken
// too, the whole of ckey.
func UniquePath(p, ckey string) string {
	if !exists(p) {
		return p
	}
	ext := filepath.Ext(p)
	stem := strings.TrimSuffix(p, ext)

	short := ckey
	if len(short) > 8 {
		short = short[:8]
	}
	if q := stem + "." + short + ext; !exists(q) {
		return q
	}
	return stem + "." + ckey + ext
}

func exists(p string) bool {
	_, err := os.Lstat(p)
	return err == nil
}

// fileMD5 returns the hex MD5 of the file at p, which is also its content key.
func fileMD5(p string) (string, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// A Fetcher provides the files of a single build. *client.Client is a Fetcher.
type Fetcher interface {
	InstallManifest(ctx context.Context) (*manifest.InstallManifest, error)
	Fetch(ctx context.Context, h ngdp.ContentHash) (io.ReadCloser, error)
}

// Save fetches the file with content hash h and writes it to p, creating directories as needed.
//
// The file is written under a temporary name and renamed into place, so p is never left half written.
func Save(ctx context.Context, f Fetcher, h ngdp.ContentHash, p string) error {
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return errors.Wrap(err, "grab: creating directory")
	}

	rc, err := f.Fetch(ctx, h)
	if err != nil {
		return errors.Wrapf(err, "grab: fetching %v", h)
	}
	defer rc.Close()

	tmp, err := os.CreateTemp(filepath.Dir(p), ".grab-*")
	if err != nil {
		return errors.Wrap(err, "grab: creating temporary file")
	}
	if _, err := io.Copy(tmp, rc); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.Wrapf(err, "grab: downloading %v", h)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrapf(err, "grab: writing %v", h)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrapf(err, "grab: moving %v into place", h)
	}
	return nil
}

// Stats counts what a Grab did with each matching file.
type Stats struct {
	Downloaded int
	Skipped    int
	Failed     int
}

// A Grabber downloads matching files into Dest.
type Grabber struct {
	Dest     string
	Patterns []*regexp.Regexp

	// Overwrite replaces files already on disk instead of skipping them or
	// writing alongside them.
	Overwrite bool

	// Map records what has been downloaded. It is updated as files are written; saving it is up to the caller.
	Map CKeyMap
}

// Grab downloads every file of f's install manifest that matches g.Patterns.
//
// A file which cannot be downloaded is logged and counted, and does not stop the others.
func (g *Grabber) Grab(ctx context.Context, f Fetcher, product, version string) (Stats, error) {
	var st Stats

	im, err := f.InstallManifest(ctx)
	if err != nil {
		return st, errors.Wrapf(err, "grab: install manifest for %s", product)
	}

	for _, e := range im.Entries {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		if e.Name == "" || !ShouldDownload(e.Name, g.Patterns) {
			continue
		}
		ckey := e.ContentHash.String()

		if p, ok := g.Map.Existing(g.Dest, ckey); ok && !g.Overwrite {
			glog.V(1).Infof("grab: skipping %s (%s), already at %s", e.Name, ckey, p)
			st.Skipped++
			continue
		}

		target, err := TargetPath(g.Dest, product, version, e.Name)
		if err != nil {
			glog.Warningf("grab: %s (%s): %v", e.Name, ckey, err)
			st.Failed++
			continue
		}
		if !g.Overwrite {
			if sum, err := fileMD5(target); err == nil && sum == ckey {
				glog.V(1).Infof("grab: %s (%s) is already on disk", e.Name, ckey)
				if err := g.Map.Update(g.Dest, ckey, target, product, version); err != nil {
					return st, err
				}
				st.Skipped++
				continue
			}
			target = UniquePath(target, ckey)
		}

		if err := Save(ctx, f, e.ContentHash, target); err != nil {
			glog.Warningf("grab: %s (%s): %v", e.Name, ckey, err)
			st.Failed++
			continue
		}
		if err := g.Map.Update(g.Dest, ckey, target, product, version); err != nil {
			return st, err
		}
		glog.Infof("grab: downloaded %s (%s) for %s", e.Name, ckey, product)
		st.Downloaded++
	}
	return st, nil
}

// productVersion extracts the product and version from a path laid out as base/product/version/file.
func productVersion(base, p string) (product, version string, ok bool) {
	rel, err := filepath.Rel(base, p)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", "", false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) < 3 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// Index records every file under dir in m, keyed by its MD5.
//
// Files are expected to sit at base/product/version/...; those that do not
// are tried against dir instead, and skipped if that fails too.
func Index(m CKeyMap, dir, base string) (indexed, skipped int, err error) {
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() || d.Name() == MapFilename {
			return nil
		}

		mapBase := base
		product, version, ok := productVersion(base, p)
		if !ok {
			mapBase = dir
			if product, version, ok = productVersion(dir, p); !ok {
				glog.Warningf("grab: skipping %s, not laid out as product/version/...", p)
				skipped++
				return nil
			}
		}

		sum, err := fileMD5(p)
		if err != nil {
			glog.Warningf("grab: hashing %s: %v", p, err)
			skipped++
			return nil
		}
		if err := m.Update(mapBase, sum, p, product, version); err != nil {
			return err
		}
		indexed++
		return nil
	})
	return indexed, skipped, errors.Wrap(err, "grab: indexing")
}

// ReadProducts reads a product list, one name per line. Blank lines and lines starting with # are ignored.
func ReadProducts(r io.Reader) ([]string, error) {
	var out []string
	s := bufio.NewScanner(r)
	for s.Scan() {
		ln := strings.TrimSpace(s.Text())
		if ln == "" || strings.HasPrefix(ln, "#") {
			continue
		}
		out = append(out, ln)
	}
	if err := s.Err(); err != nil {
		return nil, errors.Wrap(err, "grab: reading product list")
	}
	return out, nil
}
