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

// Package server serves the program metadata and install manifest files kept
// by a Datastore over HTTP.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/NYTimes/gziphandler"
	"github.com/golang/glog"
	"github.com/gorilla/mux"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"

	"github.com/w00tzenheimer/blizztools/ngdp"
	"github.com/w00tzenheimer/blizztools/ngdp/client"
	"github.com/w00tzenheimer/blizztools/ngdp/tree"
)

type Program struct {
	VersionInfo struct {
		BuildConfig   string `json:"build_config"`
		CDNConfig     string `json:"cdn_config"`
		BuildID       int    `json:"build_id"`
		VersionsName  string `json:"versions_name"`
		ProductConfig string `json:"product_config"`
	} `json:"version_info"`
	CDNInfo struct {
		Path  string   `json:"path"`
		Hosts []string `json:"hosts"`
	} `json:"cdn_info"`
}

func programFromClient(c *client.Client) Program {
	var p Program

	p.VersionInfo.BuildConfig = c.VersionInfo.BuildConfig.String()
	p.VersionInfo.CDNConfig = c.VersionInfo.CDNConfig.String()
	p.VersionInfo.BuildID = c.VersionInfo.BuildID
	p.VersionInfo.VersionsName = c.VersionInfo.VersionsName
	p.VersionInfo.ProductConfig = c.VersionInfo.ProductConfig.String()

	p.CDNInfo.Path = c.CDNInfo.Path
	p.CDNInfo.Hosts = c.CDNInfo.Hosts

	return p
}

func annotateHeadersWithClient(h http.Header, c *client.Client) {
	h.Set("Snowstorm-Build-Config", c.VersionInfo.BuildConfig.String())
	h.Set("Snowstorm-Build-ID", fmt.Sprintf("%d", c.VersionInfo.BuildID))
	h.Set("Snowstorm-Version-Name", c.VersionInfo.VersionsName)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Add("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(v)
}

// Files no larger than this are kept in the Server's cache once fetched.
const maxCachedFileSize = 1 << 20

// A Server answers HTTP requests from a Datastore.
type Server struct {
	ds    *Datastore
	cache *lru.Cache[ngdp.ContentHash, []byte]
}

// New creates a Server backed by ds, caching up to cacheEntries small files.
func New(ds *Datastore, cacheEntries int) (*Server, error) {
	cache, err := lru.New[ngdp.ContentHash, []byte](cacheEntries)
	if err != nil {
		return nil, errors.Wrap(err, "server: creating file cache")
	}
	return &Server{ds: ds, cache: cache}, nil
}

// Handler returns the routes served by s.
func (s *Server) Handler() http.Handler {
	rtr := mux.NewRouter()

	r := rtr.Methods(http.MethodGet).Subrouter()
	r.HandleFunc("/programs", s.ProgramsHandler)
	r.HandleFunc("/programs/{program}/{region}", s.ProgramHandler)
	r.Handle("/programs/{program}/{region}/files", gziphandler.GzipHandler(http.HandlerFunc(s.FileHandler)))
	r.Handle("/programs/{program}/{region}/files/{filePath:.+}", gziphandler.GzipHandler(http.HandlerFunc(s.FileHandler)))
	return rtr
}

func (s *Server) client(w http.ResponseWriter, r *http.Request) (*client.Client, *tree.Directory, bool) {
	vars := mux.Vars(r)
	program := ngdp.ProgramCode(vars["program"])
	region := ngdp.Region(vars["region"])

	c, t, err := s.ds.Client(region, program)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return nil, nil, false
	}
	annotateHeadersWithClient(w.Header(), c)
	return c, t, true
}

func (s *Server) ProgramsHandler(w http.ResponseWriter, r *http.Request) {
	out := make(map[ngdp.ProgramCode]map[ngdp.Region]Program)
	for _, t := range s.ds.Tracking() {
		c, _, err := s.ds.Client(t.Region, t.Program)
		if err != nil {
			// Not loaded yet, or its last update failed.
			glog.V(1).Infof("programs: skipping %q/%q: %v", t.Program, t.Region, err)
			continue
		}
		if _, ok := out[t.Program]; !ok {
			out[t.Program] = make(map[ngdp.Region]Program)
		}
		out[t.Program][t.Region] = programFromClient(c)
	}

	writeJSON(w, out)
}

func (s *Server) ProgramHandler(w http.ResponseWriter, r *http.Request) {
	c, _, ok := s.client(w, r)
	if !ok {
		return
	}
	writeJSON(w, programFromClient(c))
}

type FileDirectory struct {
	Directories map[string]*FileDirectory `json:"directories,omitempty"`
	Files       []string                  `json:"files,omitempty"`
}

func makeDirectory(d *tree.Directory, recurse bool) (*FileDirectory, error) {
	fd := &FileDirectory{
		Directories: make(map[string]*FileDirectory),
	}
	for _, e := range d.Entries() {
		switch {
		case e.Directory != nil && !recurse:
			fd.Directories[e.Name] = &FileDirectory{}
		case e.Directory != nil:
			var err error
			if fd.Directories[e.Name], err = makeDirectory(e.Directory, recurse); err != nil {
				return nil, errors.Wrap(err, e.Name)
			}
		case e.File != nil:
			fd.Files = append(fd.Files, e.Name)
		default:
			return nil, errors.Errorf("somehow %q is neither a directory nor a file", e.Name)
		}
	}
	return fd, nil
}

func (s *Server) FileHandler(w http.ResponseWriter, r *http.Request) {
	c, t, ok := s.client(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	vars := mux.Vars(r)
	fp := vars["filePath"]

	glog.Infof("%s/%s: request file %q", vars["program"], vars["region"], fp)
	tde, err := t.Get(fp)
	if err != nil {
		http.Error(w, "no such file", http.StatusNotFound)
		return
	}

	if tde.File == nil {
		out, err := makeDirectory(tde.Directory, r.FormValue("recurse") == "true")
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, out)
		return
	}

	calcetag := fmt.Sprintf("%q", tde.File.ContentHash.String())
	if etag := r.Header.Get("If-None-Match"); etag == calcetag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	cdnHash, err := c.EncodingMapper.ToCDNHash(tde.File.ContentHash)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	body, err := s.fileBody(ctx, c, tde.File)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Length", fmt.Sprintf("%d", tde.File.Size))
	w.Header().Set("Snowstorm-File-Content-Hash", tde.File.ContentHash.String())
	w.Header().Set("Snowstorm-File-CDN-Hash", cdnHash.String())
	if entry, ok := c.ArchiveMapper.Map(cdnHash); ok {
		w.Header().Set("Snowstorm-Archive-CDN-Hash", entry.Archive.String())
	}
	w.Header().Set("ETag", calcetag)
	if _, err := io.Copy(w, body); err != nil {
		glog.Errorf("%s: copying response: %v", fp, err)
	}
}

func (s *Server) fileBody(ctx context.Context, c *client.Client, f *tree.File) (io.ReadCloser, error) {
	if b, ok := s.cache.Get(f.ContentHash); ok {
		return io.NopCloser(bytes.NewReader(b)), nil
	}
	if uint64(f.Size) > maxCachedFileSize {
		return c.Fetch(ctx, f.ContentHash)
	}

	b, err := c.FetchBytes(ctx, f.ContentHash)
	if err != nil {
		return nil, err
	}
	s.cache.Add(f.ContentHash, b)
	return io.NopCloser(bytes.NewReader(b)), nil
}
