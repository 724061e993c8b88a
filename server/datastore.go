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

package server

import (
	"context"
	"runtime"
	"sync"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/w00tzenheimer/blizztools/ngdp"
	"github.com/w00tzenheimer/blizztools/ngdp/client"
	"github.com/w00tzenheimer/blizztools/ngdp/tree"
)

// ErrNotTracked means that a program/region pair has not been loaded yet.
var ErrNotTracked = errors.New("server: program/region not loaded")

// A Tracked names a program/region pair kept up to date by a Datastore.
type Tracked struct {
	Region  ngdp.Region
	Program ngdp.ProgramCode
}

// buildKey identifies a build. Regions deploying the same pair share one build.
type buildKey struct {
	build ngdp.CDNHash
	cdn   ngdp.CDNHash
}

// A build holds everything decoded for one buildKey.
type build struct {
	client *client.Client
	files  *tree.Directory
}

// A deployment is what a region currently serves for a program.
type deployment struct {
	cdn     ngdp.CDNInfo
	version ngdp.VersionInfo
}

func (dep deployment) key() buildKey {
	return buildKey{dep.version.BuildConfig, dep.version.CDNConfig}
}

// A Datastore keeps the decoded metadata for a set of program/region pairs.
type Datastore struct {
	llc *client.LowLevelClient

	mu       sync.RWMutex
	tracking []Tracked
	deployed map[Tracked]deployment
	builds   map[buildKey]*build
}

// NewDatastore creates an empty Datastore which fetches through llc.
func NewDatastore(llc *client.LowLevelClient) *Datastore {
	return &Datastore{
		llc:      llc,
		deployed: make(map[Tracked]deployment),
		builds:   make(map[buildKey]*build),
	}
}

// Client returns a client for a program/region pair, along with the directory tree of its install manifest.
func (d *Datastore) Client(region ngdp.Region, program ngdp.ProgramCode) (*client.Client, *tree.Directory, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	dep, ok := d.deployed[Tracked{region, program}]
	if !ok {
		return nil, nil, errors.Wrapf(ErrNotTracked, "%q/%q", program, region)
	}
	b, ok := d.builds[dep.key()]
	if !ok {
		return nil, nil, errors.Wrapf(ErrNotTracked, "%q/%q: build %v not loaded", program, region, dep.version.BuildConfig)
	}

	c := *b.client
	c.CDNInfo = &dep.cdn
	c.VersionInfo = &dep.version
	return &c, b.files, nil
}

// Update refreshes every tracked pair once, blocking until done.
//
// A failing pair keeps serving its previous build and does not stop the others
// updating; the last error seen is returned.
func (d *Datastore) Update(ctx context.Context) error {
	var lastErr error
	for _, t := range d.Tracking() {
		if err := d.update(ctx, t); err != nil {
			glog.Errorf("%q/%q: update failed: %v", t.Program, t.Region, err)
			lastErr = err
		}
	}

	if n := d.dropUnused(); n > 0 {
		glog.Infof("Dropped %d unused builds", n)
		runtime.GC()
	}
	return lastErr
}

// dropUnused forgets builds no tracked pair deploys and reports how many there were.
func (d *Datastore) dropUnused() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	used := make(map[buildKey]bool, len(d.deployed))
	for _, dep := range d.deployed {
		used[dep.key()] = true
	}
	n := 0
	for k := range d.builds {
		if !used[k] {
			delete(d.builds, k)
			n++
		}
	}
	return n
}

func (d *Datastore) update(ctx context.Context, t Tracked) error {
	cdn, version, err := d.llc.Info(ctx, t.Program, t.Region)
	if err != nil {
		return errors.Wrap(err, "retrieving info")
	}
	dep := deployment{cdn, version}

	d.mu.RLock()
	old, hadOld := d.deployed[t]
	_, haveBuild := d.builds[dep.key()]
	d.mu.RUnlock()

	if hadOld && old.version.BuildID != version.BuildID {
		glog.Infof("%q/%q: build %d (%v) replaces %d (%v)", t.Program, t.Region, version.BuildID, version.VersionsName, old.version.BuildID, old.version.VersionsName)
	}

	if !haveBuild {
		b, err := d.load(ctx, dep)
		if err != nil {
			return err
		}
		d.mu.Lock()
		d.builds[dep.key()] = b
		d.mu.Unlock()
	}

	d.mu.Lock()
	d.deployed[t] = dep
	d.mu.Unlock()
	return nil
}

// load fetches and decodes the configs, mappers and file tree of a build.
func (d *Datastore) load(ctx context.Context, dep deployment) (*build, error) {
	glog.Infof("Loading build %d (%v, CDN config %v)", dep.version.BuildID, dep.version.BuildConfig, dep.version.CDNConfig)

	c, err := d.llc.Open(ctx, dep.cdn, dep.version)
	if err != nil {
		return nil, errors.Wrap(err, "opening build")
	}
	im, err := c.InstallManifest(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "fetching install manifest")
	}
	files, err := tree.ToTree(im)
	if err != nil {
		return nil, errors.Wrap(err, "building file tree")
	}
	c.FilenameMapper = files
	return &build{client: c, files: files}, nil
}

// Track adds a program/region pair to the set kept up to date by Update.
// Tracking a pair twice has no effect.
func (d *Datastore) Track(region ngdp.Region, program ngdp.ProgramCode) {
	d.mu.Lock()
	defer d.mu.Unlock()

	t := Tracked{Region: region, Program: program}
	for _, have := range d.tracking {
		if have == t {
			return
		}
	}
	d.tracking = append(d.tracking, t)
}

// Tracking returns the tracked program/region pairs.
func (d *Datastore) Tracking() []Tracked {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]Tracked(nil), d.tracking...)
}
