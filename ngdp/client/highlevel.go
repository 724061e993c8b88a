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
	"io"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/w00tzenheimer/blizztools/ngdp"
	"github.com/w00tzenheimer/blizztools/ngdp/encoding"
	"github.com/w00tzenheimer/blizztools/ngdp/manifest"
)

// A Client fetches files from one build of a program, by content hash or by name.
//
// The mappers are read only, so a Client may be shared between goroutines
// once FilenameMapper has been set.
type Client struct {
	LowLevelClient *LowLevelClient

	CDNInfo     *ngdp.CDNInfo
	VersionInfo *ngdp.VersionInfo

	BuildConfig *ngdp.BuildConfig
	CDNConfig   *ngdp.CDNConfig

	ArchiveMapper  *ArchiveMapper
	EncodingMapper *encoding.Manifest
	FilenameMapper ngdp.FilenameMapper
}

// New opens the build of program currently deployed to region, using http.DefaultClient.
func New(ctx context.Context, program ngdp.ProgramCode, region ngdp.Region) (*Client, error) {
	return NewWithLowLevelClient(ctx, &LowLevelClient{}, program, region)
}

// NewWithLowLevelClient is like New, but issues its requests through llc.
func NewWithLowLevelClient(ctx context.Context, llc *LowLevelClient, program ngdp.ProgramCode, region ngdp.Region) (*Client, error) {
	cdn, version, err := llc.Info(ctx, program, region)
	if err != nil {
		return nil, err
	}
	return llc.Open(ctx, cdn, version)
}

// Open builds a Client for a specific version served by cdn.
func (c *LowLevelClient) Open(ctx context.Context, cdn ngdp.CDNInfo, version ngdp.VersionInfo) (*Client, error) {
	glog.V(1).Infof("client: opening build %d from %v", version.BuildID, cdn.Name)

	cdnConfig, buildConfig, err := c.Configs(ctx, cdn, version)
	if err != nil {
		return nil, err
	}
	em, am, err := c.Mappers(ctx, cdn, cdnConfig, buildConfig)
	if err != nil {
		return nil, err
	}

	return &Client{
		LowLevelClient: c,
		CDNInfo:        &cdn,
		VersionInfo:    &version,
		BuildConfig:    &buildConfig,
		CDNConfig:      &cdnConfig,
		ArchiveMapper:  am,
		EncodingMapper: em,
	}, nil
}

// openEncoded returns the BLTE stream for cdnHash, reading it out of its archive where there is one.
func (c *Client) openEncoded(ctx context.Context, cdnHash ngdp.CDNHash) (io.ReadCloser, error) {
	if entry, ok := c.ArchiveMapper.Map(cdnHash); ok && entry.Size > 0 {
		return c.LowLevelClient.FetchRange(ctx, *c.CDNInfo, entry.Archive, entry.Offset, entry.Size)
	}

	resp, err := c.LowLevelClient.get(ctx, *c.CDNInfo, ngdp.ContentTypeData, cdnHash, "")
	if err != nil {
		return nil, errors.Wrapf(err, "client: fetching %v", cdnHash)
	}
	return resp.Body, nil
}

// Fetch opens the file whose content hash is h. The reader yields decoded bytes;
// decoding errors surface from Read.
func (c *Client) Fetch(ctx context.Context, h ngdp.ContentHash) (io.ReadCloser, error) {
	cdnHash, err := c.EncodingMapper.ToCDNHash(h)
	if err != nil {
		return nil, err
	}
	body, err := c.openEncoded(ctx, cdnHash)
	if err != nil {
		return nil, err
	}
	return newDecodedBody(body), nil
}

// FetchBytes is like Fetch, but reads the whole file into memory.
func (c *Client) FetchBytes(ctx context.Context, h ngdp.ContentHash) ([]byte, error) {
	r, err := c.Fetch(ctx, h)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	b, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrapf(err, "client: decoding %v", h)
	}
	return b, nil
}

// FetchFilename is like Fetch, but looks the file up by name in FilenameMapper.
func (c *Client) FetchFilename(ctx context.Context, fn string) (io.ReadCloser, error) {
	if c.FilenameMapper == nil {
		return nil, ErrNoFilenameMapper
	}
	h, ok := c.FilenameMapper.ToContentHash(fn)
	if !ok {
		return nil, errors.Wrapf(ErrNoSuchFile, "%v", fn)
	}
	return c.Fetch(ctx, h)
}

// InstallManifest retrieves the install manifest for the build.
func (c *Client) InstallManifest(ctx context.Context) (*manifest.InstallManifest, error) {
	return c.LowLevelClient.InstallManifest(ctx, *c.CDNInfo, *c.BuildConfig)
}

// DownloadManifest retrieves the download manifest for the build.
func (c *Client) DownloadManifest(ctx context.Context) (*manifest.DownloadManifest, error) {
	return c.LowLevelClient.DownloadManifest(ctx, *c.CDNInfo, *c.BuildConfig)
}

// UseInstallManifest fetches the install manifest and makes it the FilenameMapper.
func (c *Client) UseInstallManifest(ctx context.Context) (*manifest.InstallManifest, error) {
	m, err := c.InstallManifest(ctx)
	if err != nil {
		return nil, err
	}
	c.FilenameMapper = m
	return m, nil
}
