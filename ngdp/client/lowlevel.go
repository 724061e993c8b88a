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
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/w00tzenheimer/blizztools/blte"
	"github.com/w00tzenheimer/blizztools/ngdp"
	"github.com/w00tzenheimer/blizztools/ngdp/configtable"
	"github.com/w00tzenheimer/blizztools/ngdp/encoding"
	"github.com/w00tzenheimer/blizztools/ngdp/keyvalue"
	"github.com/w00tzenheimer/blizztools/ngdp/manifest"
)

var (
	suffixCDNs     = "cdns"
	suffixVersions = "versions"
)

// A Doer sends HTTP requests. *http.Client is a Doer.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// A LowLevelClient provides simple wrappers to make basic NGDP operations easier.
type LowLevelClient struct {
	Client Doer

	// Limiter, if set, throttles every request made by this client.
	Limiter *rate.Limiter
}

// getURL issues a GET for url and fails unless the response has status want.
// The caller owns the returned body.
func (c *LowLevelClient) getURL(ctx context.Context, url string, want int, hdrs http.Header) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	for k, vs := range hdrs {
		req.Header[k] = vs
	}

	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(resp, want); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *LowLevelClient) get(ctx context.Context, cdnInfo ngdp.CDNInfo, contentType ngdp.ContentType, cdnHash ngdp.CDNHash, suffix string) (*http.Response, error) {
	if len(cdnInfo.Hosts) == 0 {
		return nil, errors.Errorf("client: CDN %q has no hosts", cdnInfo.Name)
	}
	return c.getURL(ctx, cdnURL(cdnInfo, contentType, cdnHash, suffix), http.StatusOK, nil)
}

// FetchRange opens size bytes of an archive starting at offset. The body is still BLTE encoded.
func (c *LowLevelClient) FetchRange(ctx context.Context, cdnInfo ngdp.CDNInfo, archive ngdp.CDNHash, offset, size uint32) (io.ReadCloser, error) {
	if len(cdnInfo.Hosts) == 0 {
		return nil, errors.Errorf("client: CDN %q has no hosts", cdnInfo.Name)
	}
	hdrs := http.Header{"Range": {fmt.Sprintf("bytes=%d-%d", offset, uint64(offset)+uint64(size)-1)}}
	resp, err := c.getURL(ctx, cdnURL(cdnInfo, ngdp.ContentTypeData, archive, ""), http.StatusPartialContent, hdrs)
	if err != nil {
		return nil, errors.Wrapf(err, "client: fetching range of archive %v", archive)
	}
	return resp.Body, nil
}

func (c *LowLevelClient) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	req = req.WithContext(ctx)

	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return nil, errors.Wrap(err, "client: waiting for rate limiter")
		}
	}

	cl := c.Client
	if cl == nil {
		cl = http.DefaultClient
	}

	glog.V(2).Infof("client: %s %s", req.Method, req.URL)
	return cl.Do(req)
}

// Fetch retrieves the raw, still encoded, contents of a file from the CDN.
func (c *LowLevelClient) Fetch(ctx context.Context, cdnInfo ngdp.CDNInfo, contentType ngdp.ContentType, cdnHash ngdp.CDNHash, suffix string) ([]byte, error) {
	resp, err := c.get(ctx, cdnInfo, contentType, cdnHash, suffix)
	if err != nil {
		return nil, errors.Wrapf(err, "client: fetching %s %v%s", contentType, cdnHash, suffix)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "client: reading %s %v%s", contentType, cdnHash, suffix)
	}
	return b, nil
}

// FetchBLTE retrieves a BLTE encoded data file from the CDN and decodes it.
func (c *LowLevelClient) FetchBLTE(ctx context.Context, cdnInfo ngdp.CDNInfo, cdnHash ngdp.CDNHash) ([]byte, error) {
	b, err := c.Fetch(ctx, cdnInfo, ngdp.ContentTypeData, cdnHash, "")
	if err != nil {
		return nil, err
	}
	out, err := blte.Decode(b)
	if err != nil {
		return nil, errors.Wrapf(err, "client: decoding %v", cdnHash)
	}
	return out, nil
}

func (c *LowLevelClient) patchTable(ctx context.Context, program ngdp.ProgramCode, region ngdp.Region, suffix string) (*http.Response, error) {
	return c.getURL(ctx, patchURL(program, region, suffix), http.StatusOK, nil)
}

// CDNs returns the CDNs serving program, as listed by the patch server for region.
func (c *LowLevelClient) CDNs(ctx context.Context, program ngdp.ProgramCode, region ngdp.Region) ([]ngdp.CDNInfo, error) {
	resp, err := c.patchTable(ctx, program, region, suffixCDNs)
	if err != nil {
		return nil, errors.Wrap(err, "client: fetching cdns")
	}
	defer resp.Body.Close()

	cdns, err := configtable.ParseCDNTable(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "client: parsing cdns")
	}
	return cdns, nil
}

// Versions returns the deployed version of program in each region, as listed by the patch server for region.
func (c *LowLevelClient) Versions(ctx context.Context, program ngdp.ProgramCode, region ngdp.Region) ([]ngdp.VersionInfo, error) {
	resp, err := c.patchTable(ctx, program, region, suffixVersions)
	if err != nil {
		return nil, errors.Wrap(err, "client: fetching versions")
	}
	defer resp.Body.Close()

	versions, err := configtable.ParseVersionTable(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "client: parsing versions")
	}
	return versions, nil
}

// Info retrieves the CDN and version information for region.
func (c *LowLevelClient) Info(ctx context.Context, program ngdp.ProgramCode, region ngdp.Region) (ngdp.CDNInfo, ngdp.VersionInfo, error) {
	var cdns []ngdp.CDNInfo
	var versions []ngdp.VersionInfo

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		cdns, err = c.CDNs(gctx, program, region)
		return err
	})
	g.Go(func() error {
		var err error
		versions, err = c.Versions(gctx, program, region)
		return err
	})
	if err := g.Wait(); err != nil {
		return ngdp.CDNInfo{}, ngdp.VersionInfo{}, err
	}

	var cdn *ngdp.CDNInfo
	for n := range cdns {
		if cdns[n].Name == region {
			cdn = &cdns[n]
			break
		}
	}
	var version *ngdp.VersionInfo
	for n := range versions {
		if versions[n].Region == region {
			version = &versions[n]
			break
		}
	}
	if cdn == nil || version == nil {
		return ngdp.CDNInfo{}, ngdp.VersionInfo{}, errors.Wrapf(ErrUnknownRegion, "%q for %q", region, program)
	}
	glog.Infof("client: %v %v is build %d (%v)", program, region, version.BuildID, version.VersionsName)
	return *cdn, *version, nil
}

// Configs retrieves the CDN and build configs for a version.
func (c *LowLevelClient) Configs(ctx context.Context, cdn ngdp.CDNInfo, version ngdp.VersionInfo) (ngdp.CDNConfig, ngdp.BuildConfig, error) {
	var cdnConfig *ngdp.CDNConfig
	var buildConfig *ngdp.BuildConfig

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		b, err := c.Fetch(gctx, cdn, ngdp.ContentTypeConfig, version.BuildConfig, "")
		if err != nil {
			return errors.Wrap(err, "client: downloading buildconfig")
		}
		if buildConfig, err = keyvalue.ParseBuildConfig(b); err != nil {
			return errors.Wrap(err, "client: parsing buildconfig")
		}
		return nil
	})
	g.Go(func() error {
		b, err := c.Fetch(gctx, cdn, ngdp.ContentTypeConfig, version.CDNConfig, "")
		if err != nil {
			return errors.Wrap(err, "client: downloading cdnconfig")
		}
		if cdnConfig, err = keyvalue.ParseCDNConfig(bytes.NewReader(b)); err != nil {
			return errors.Wrap(err, "client: parsing cdnconfig")
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return ngdp.CDNConfig{}, ngdp.BuildConfig{}, err
	}
	return *cdnConfig, *buildConfig, nil
}

// Encoding retrieves and decodes the encoding file named by a build config.
func (c *LowLevelClient) Encoding(ctx context.Context, cdn ngdp.CDNInfo, buildConfig ngdp.BuildConfig) (*encoding.Manifest, error) {
	b, err := c.FetchBLTE(ctx, cdn, buildConfig.Encoding.CDNHash)
	if err != nil {
		return nil, errors.Wrap(err, "client: downloading encoding")
	}
	m, err := encoding.Decode(b)
	if err != nil {
		return nil, errors.Wrap(err, "client: parsing encoding")
	}
	glog.V(1).Infof("client: encoding file has %d entries over %d pages", len(m.Entries), len(m.Index))
	return m, nil
}

// Mappers builds the encoding and archive mappers for a build.
func (c *LowLevelClient) Mappers(ctx context.Context, cdn ngdp.CDNInfo, cdnConfig ngdp.CDNConfig, buildConfig ngdp.BuildConfig) (*encoding.Manifest, *ArchiveMapper, error) {
	var encodingMapper *encoding.Manifest
	var archiveMapper *ArchiveMapper

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		encodingMapper, err = c.Encoding(gctx, cdn, buildConfig)
		return err
	})
	g.Go(func() error {
		var err error
		archiveMapper, err = c.NewArchiveMapper(gctx, cdn, cdnConfig.Archives)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return encodingMapper, archiveMapper, nil
}

// InstallManifest retrieves and decodes the install manifest named by a build config.
func (c *LowLevelClient) InstallManifest(ctx context.Context, cdn ngdp.CDNInfo, buildConfig ngdp.BuildConfig) (*manifest.InstallManifest, error) {
	b, err := c.FetchBLTE(ctx, cdn, buildConfig.Install.CDNHash)
	if err != nil {
		return nil, errors.Wrap(err, "client: downloading install manifest")
	}
	m, err := manifest.DecodeInstall(b)
	if err != nil {
		return nil, errors.Wrap(err, "client: parsing install manifest")
	}
	return m, nil
}

// DownloadManifest retrieves and decodes the download manifest named by a build config.
func (c *LowLevelClient) DownloadManifest(ctx context.Context, cdn ngdp.CDNInfo, buildConfig ngdp.BuildConfig) (*manifest.DownloadManifest, error) {
	b, err := c.FetchBLTE(ctx, cdn, buildConfig.Download.CDNHash)
	if err != nil {
		return nil, errors.Wrap(err, "client: downloading download manifest")
	}
	m, err := manifest.DecodeDownload(b)
	if err != nil {
		return nil, errors.Wrap(err, "client: parsing download manifest")
	}
	return m, nil
}

func cdnURL(cdnInfo ngdp.CDNInfo, contentType ngdp.ContentType, cdnHash ngdp.CDNHash, suffix string) string {
	return fmt.Sprintf("http://%s/%s/%s/%s%s", cdnInfo.Hosts[0], cdnInfo.Path, contentType, ngdp.CDNPath(cdnHash), suffix)
}

func patchURL(program ngdp.ProgramCode, region ngdp.Region, suffix string) string {
	return fmt.Sprintf("http://%s.patch.battle.net:1119/%s/%s", region, program, suffix)
}
