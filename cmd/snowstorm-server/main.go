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

// Command snowstorm-server keeps a set of programs up to date and serves
// their metadata and installed files over HTTP.
package main

import (
	"context"
	goflag "flag"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/golang/glog"
	flag "github.com/spf13/pflag"
	"golang.org/x/time/rate"

	"github.com/w00tzenheimer/blizztools/ngdp"
	"github.com/w00tzenheimer/blizztools/ngdp/client"
	"github.com/w00tzenheimer/blizztools/server"
)

var (
	configPath = flag.String("config", "", "YAML config file; overrides the --track-* flags")

	trackRegions  = flag.StringSlice("track-regions", []string{"eu", "us"}, "comma-separated list of regions to track")
	trackPrograms = flag.StringSlice("track-programs", []string{"hero", "herot"}, "comma-separated list of programs to track")

	listen         = flag.String("listen", server.DefaultConfig.Listen, "HTTP listen address")
	updateInterval = flag.Duration("update-interval", server.DefaultConfig.UpdateInterval, "how often to check for new builds")
	cacheEntries   = flag.Int("cache-entries", server.DefaultConfig.CacheEntries, "number of small files to keep in memory")
	maxRPS         = flag.Float64("max-rps", 0, "maximum requests per second to the patch servers and CDNs; 0 is unlimited")
)

func loadConfig() (*server.Config, error) {
	if *configPath == "" {
		cfg := server.DefaultConfig
		cfg.Listen = *listen
		cfg.UpdateInterval = *updateInterval
		cfg.CacheEntries = *cacheEntries
		for _, program := range *trackPrograms {
			t := server.TrackConfig{Program: ngdp.ProgramCode(program)}
			for _, region := range *trackRegions {
				t.Regions = append(t.Regions, ngdp.Region(region))
			}
			cfg.Track = append(cfg.Track, t)
		}
		return &cfg, nil
	}

	f, err := os.Open(*configPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return server.LoadConfig(f)
}

func main() {
	flag.CommandLine.AddGoFlagSet(goflag.CommandLine)
	flag.Parse()
	defer glog.Flush()

	cfg, err := loadConfig()
	if err != nil {
		glog.Exitf("Loading config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	llc := &client.LowLevelClient{
		Client: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}
	if *maxRPS > 0 {
		llc.Limiter = rate.NewLimiter(rate.Limit(*maxRPS), 1)
	}

	ds := server.NewDatastore(llc)
	cfg.Apply(ds)

	srv, err := server.New(ds, cfg.CacheEntries)
	if err != nil {
		glog.Exit(err)
	}

	glog.Info("Performing initial datastore update...")
	if err := ds.Update(ctx); err != nil {
		glog.Warningf("Initial update incomplete: %v", err)
	}
	go func() {
		t := time.NewTicker(cfg.UpdateInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				glog.Info("Performing datastore update")
				if err := ds.Update(ctx); err != nil {
					glog.Warningf("Update incomplete: %v", err)
				}
			}
		}
	}()

	hs := &http.Server{
		Addr:    cfg.Listen,
		Handler: srv.Handler(),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := hs.Shutdown(shutdownCtx); err != nil {
			glog.Errorf("Shutting down: %v", err)
		}
	}()

	glog.Infof("Listening on %q", cfg.Listen)
	if err := hs.ListenAndServe(); err != http.ErrServerClosed {
		glog.Exit(err)
	}
}
