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

package client

import (
	"context"
	"sync"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/w00tzenheimer/blizztools/ngdp"
	"github.com/w00tzenheimer/blizztools/ngdp/index"
)

// maxIndexFetches bounds how many archive indices are downloaded at once.
const maxIndexFetches = 20

// An ArchiveEntry locates a file inside one of a build's archives.
type ArchiveEntry struct {
	Archive ngdp.CDNHash
	Size    uint32
	Offset  uint32
}

// An ArchiveMapper resolves the CDN hash of an archived file to its location.
// It is safe for concurrent reads once built.
type ArchiveMapper struct {
	entries map[ngdp.CDNHash]ArchiveEntry
}

// Len reports how many files the mapper can locate.
func (am *ArchiveMapper) Len() int {
	return len(am.entries)
}

// Map looks up the archive holding file. ok is false when the file is not archived.
func (am *ArchiveMapper) Map(file ngdp.CDNHash) (entry ArchiveEntry, ok bool) {
	entry, ok = am.entries[file]
	return entry, ok
}

func (am *ArchiveMapper) add(archive ngdp.CDNHash, entries []index.Entry) {
	for _, e := range entries {
		am.entries[e.CDNHash] = ArchiveEntry{Archive: archive, Size: e.Size, Offset: e.Offset}
	}
}

// ArchiveIndex downloads and decodes the index of a single archive.
func (c *LowLevelClient) ArchiveIndex(ctx context.Context, cdn ngdp.CDNInfo, archive ngdp.CDNHash) ([]index.Entry, error) {
	b, err := c.Fetch(ctx, cdn, ngdp.ContentTypeData, archive, ".index")
	if err != nil {
		return nil, err
	}
	entries, err := index.DecodeArchive(b)
	if err != nil {
		return nil, errors.Wrapf(err, "client: archive index %v", archive)
	}
	return entries, nil
}

// NewArchiveMapper downloads the index of every archive and merges them into one mapper.
// A file listed by several archives resolves to whichever index was merged last.
func (c *LowLevelClient) NewArchiveMapper(ctx context.Context, cdn ngdp.CDNInfo, archives []ngdp.CDNHash) (*ArchiveMapper, error) {
	am := &ArchiveMapper{entries: make(map[ngdp.CDNHash]ArchiveEntry)}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxIndexFetches)
	for _, archive := range archives {
		archive := archive
		g.Go(func() error {
			entries, err := c.ArchiveIndex(gctx, cdn, archive)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			am.add(archive, entries)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	glog.V(1).Infof("client: %d archives hold %d files", len(archives), am.Len())
	return am, nil
}
