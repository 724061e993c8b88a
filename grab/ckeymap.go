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
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/golang/glog"
	"github.com/pkg/errors"
)

// MapFilename is the name of the content key map kept in a destination directory.
const MapFilename = ".ckey_map.json"

// A FileInfo records where a downloaded file was written.
type FileInfo struct {
	// Filename is relative to the destination directory, and always uses forward slashes.
	Filename string `json:"filename"`
	Product  string `json:"product"`
	Version  string `json:"version"`
}

// A CKeyMap maps the hex content key of each downloaded file to where it was written.
type CKeyMap map[string]FileInfo

// LoadMap reads the CKeyMap kept in dir.
//
// A missing or unreadable map yields an empty one.
func LoadMap(dir string) CKeyMap {
	b, err := os.ReadFile(filepath.Join(dir, MapFilename))
	if os.IsNotExist(err) {
		return make(CKeyMap)
	} else if err != nil {
		glog.Warningf("grab: reading %s: %v", MapFilename, err)
		return make(CKeyMap)
	}

	m := make(CKeyMap)
	if err := json.Unmarshal(b, &m); err != nil {
		glog.Warningf("grab: %s is corrupt, starting afresh: %v", MapFilename, err)
		return make(CKeyMap)
	}
	return m
}

// Save writes m to dir.
func (m CKeyMap) Save(dir string) error {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return errors.Wrap(err, "grab: encoding map")
	}
	if err := os.WriteFile(filepath.Join(dir, MapFilename), append(b, '\n'), 0o644); err != nil {
		return errors.Wrap(err, "grab: writing map")
	}
	return nil
}

// Existing returns the path of the file already downloaded for ckey.
//
// Entries whose file has since disappeared are removed.
func (m CKeyMap) Existing(dir, ckey string) (string, bool) {
	info, ok := m[ckey]
	if !ok {
		return "", false
	}
	p := filepath.Join(dir, filepath.FromSlash(info.Filename))
	if fi, err := os.Stat(p); err == nil && fi.Mode().IsRegular() {
		return p, true
	}
	delete(m, ckey)
	return "", false
}

// CKeyFor returns the content key recorded for the file at rel, relative to the destination directory.
func (m CKeyMap) CKeyFor(rel string) (string, bool) {
	rel = filepath.ToSlash(rel)
	for ckey, info := range m {
		if info.Filename == rel {
			return ckey, true
		}
	}
	return "", false
}

// Update records that the file at p, inside dir, holds ckey.
//
// Any other content key recorded for the same file is forgotten.
func (m CKeyMap) Update(dir, ckey, p, product, version string) error {
	rel, err := filepath.Rel(dir, p)
	if err != nil {
		return errors.Wrapf(err, "grab: %s is not inside %s", p, dir)
	}
	rel = filepath.ToSlash(rel)
	for k, info := range m {
		if k != ckey && info.Filename == rel {
			delete(m, k)
		}
	}
	m[ckey] = FileInfo{
		Filename: rel,
		Product:  product,
		Version:  version,
	}
	return nil
}
