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
	"io"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/w00tzenheimer/blizztools/ngdp"
)

// A Config describes what a server tracks and how it serves it.
//
//	listen: ":8080"
//	update_interval: 30m
//	track:
//	  - program: hero
//	    regions: [eu, us]
type Config struct {
	Listen         string        `yaml:"listen"`
	UpdateInterval time.Duration `yaml:"update_interval"`
	CacheEntries   int           `yaml:"cache_entries"`
	Track          []TrackConfig `yaml:"track"`
}

// A TrackConfig names a program and the regions to track it in.
type TrackConfig struct {
	Program ngdp.ProgramCode `yaml:"program"`
	Regions []ngdp.Region    `yaml:"regions"`
}

// DefaultConfig is used for any setting a config file leaves out.
var DefaultConfig = Config{
	Listen:         ":8080",
	UpdateInterval: 30 * time.Minute,
	CacheEntries:   1024,
}

// LoadConfig reads a YAML config, filling unset fields from DefaultConfig.
func LoadConfig(r io.Reader) (*Config, error) {
	cfg := DefaultConfig
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "server: parsing config")
	}
	for _, t := range cfg.Track {
		if t.Program == "" {
			return nil, errors.New("server: config tracks an empty program")
		}
		if len(t.Regions) == 0 {
			return nil, errors.Errorf("server: config tracks %q in no regions", t.Program)
		}
	}
	if cfg.UpdateInterval <= 0 {
		return nil, errors.Errorf("server: update_interval must be positive, got %v", cfg.UpdateInterval)
	}
	return &cfg, nil
}

// Apply starts ds tracking every program/region pair in c.
func (c *Config) Apply(ds *Datastore) {
	for _, t := range c.Track {
		for _, region := range t.Regions {
			ds.Track(region, t.Program)
		}
	}
}
