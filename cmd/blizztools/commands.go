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

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/golang/glog"
	"github.com/pkg/errors"
	flag "github.com/spf13/pflag"

	"github.com/w00tzenheimer/blizztools/grab"
	"github.com/w00tzenheimer/blizztools/ngdp"
	"github.com/w00tzenheimer/blizztools/ngdp/manifest"
)

var errUsage = errors.New("wrong number of arguments")

func newTable(w io.Writer, columns ...string) *tabwriter.Writer {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(columns, "\t"))
	return tw
}

// parseArgs parses the flags of a subcommand and checks it was left with n positional arguments.
func parseArgs(fs *flag.FlagSet, args []string, n int) error {
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != n {
		fs.Usage()
		return errUsage
	}
	return nil
}

// entryTags names the tags carrying the file at index i.
func entryTags(tags []manifest.Tag, i int) []string {
	var out []string
	for _, t := range tags {
		if t.Contains(i) {
			out = append(out, t.Name)
		}
	}
	return out
}

// selected reports whether the file at index i should be listed when filtering on tag.
func selected(tags []manifest.Tag, i int, tag string) bool {
	if tag == "" {
		return true
	}
	for _, t := range tags {
		if strings.EqualFold(t.Name, tag) && t.Contains(i) {
			return true
		}
	}
	return false
}

func versionsCommand(ctx context.Context, fs *flag.FlagSet, args []string) error {
	if err := parseArgs(fs, args, 1); err != nil {
		return err
	}
	versions, err := lowLevelClient().Versions(ctx, resolveProduct(fs.Arg(0)), ngdp.Region(*region))
	if err != nil {
		return err
	}

	tw := newTable(os.Stdout, "REGION", "BUILD", "VERSION", "BUILD CONFIG", "CDN CONFIG", "PRODUCT CONFIG")
	for _, v := range versions {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%v\t%v\t%v\n", v.Region, v.BuildID, v.VersionsName, v.BuildConfig, v.CDNConfig, v.ProductConfig)
	}
	return tw.Flush()
}

func cdnsCommand(ctx context.Context, fs *flag.FlagSet, args []string) error {
	if err := parseArgs(fs, args, 1); err != nil {
		return err
	}
	cdns, err := lowLevelClient().CDNs(ctx, resolveProduct(fs.Arg(0)), ngdp.Region(*region))
	if err != nil {
		return err
	}

	tw := newTable(os.Stdout, "NAME", "PATH", "CONFIG PATH", "HOSTS")
	for _, c := range cdns {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.Name, c.Path, c.ConfigPath, strings.Join(c.Hosts, " "))
	}
	return tw.Flush()
}

func installManifestCommand(ctx context.Context, fs *flag.FlagSet, args []string) error {
	tag := fs.String("tag", "", "only list files carrying this tag")
	if err := parseArgs(fs, args, 1); err != nil {
		return err
	}
	c, err := newClient(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	m, err := c.InstallManifest(ctx)
	if err != nil {
		return err
	}

	var files int
	var total uint64
	tw := newTable(os.Stdout, "NAME", "SIZE", "CONTENT HASH", "TAGS")
	for i, e := range m.Entries {
		if !selected(m.Tags, i, *tag) {
			continue
		}
		files++
		total += uint64(e.Size)
		fmt.Fprintf(tw, "%s\t%s\t%v\t%s\n", e.Name, humanize.IBytes(uint64(e.Size)), e.ContentHash, strings.Join(entryTags(m.Tags, i), ","))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if manifest.MaskShort(len(m.Entries)) {
		glog.Warningf("install manifest has %d entries, so the last %d carry no tags", len(m.Entries), len(m.Entries)%8)
	}
	fmt.Printf("\n%s files, %s, version %s\n", humanize.Comma(int64(files)), humanize.IBytes(total), c.VersionInfo.VersionsName)
	return nil
}

func downloadManifestCommand(ctx context.Context, fs *flag.FlagSet, args []string) error {
	tag := fs.String("tag", "", "only list files carrying this tag")
	if err := parseArgs(fs, args, 1); err != nil {
		return err
	}
	c, err := newClient(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	m, err := c.DownloadManifest(ctx)
	if err != nil {
		return err
	}

	var files int
	var total uint64
	tw := newTable(os.Stdout, "HASH", "SIZE", "PRIORITY", "TAGS")
	for i, e := range m.Entries {
		if !selected(m.Tags, i, *tag) {
			continue
		}
		files++
		total += e.FileSize
		fmt.Fprintf(tw, "%v\t%s\t%d\t%s\n", e.Hash, humanize.IBytes(e.FileSize), e.Priority, strings.Join(entryTags(m.Tags, i), ","))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Printf("\n%s files, %s, version %s\n", humanize.Comma(int64(files)), humanize.IBytes(total), c.VersionInfo.VersionsName)
	return nil
}

func downloadCommand(ctx context.Context, fs *flag.FlagSet, args []string) error {
	output := fs.StringP("output", "o", ".", "directory to write the file to")
	if err := parseArgs(fs, args, 2); err != nil {
		return err
	}
	h, err := ngdp.ParseContentHash(fs.Arg(1))
	if err != nil {
		return err
	}
	c, err := newClient(ctx, fs.Arg(0))
	if err != nil {
		return err
	}

	p := filepath.Join(*output, h.String())
	if err := grab.Save(ctx, c, h, p); err != nil {
		return err
	}
	fmt.Printf("Downloaded %v to %s\n", h, p)
	return nil
}

func grabCommand(ctx context.Context, fs *flag.FlagSet, args []string) error {
	patterns := fs.StringArrayP("pattern", "p", nil, "case-insensitive regular expression selecting files to download; may be repeated (default \\.pdb$ and _loader\\.dll$)")
	dest := fs.StringP("dest", "d", "./target", "directory to download into")
	productFile := fs.StringP("file", "f", "", "file listing one product per line")
	product := fs.String("product", "", "single product to grab")
	overwrite := fs.Bool("overwrite", false, "replace files already downloaded instead of skipping them")
	if err := parseArgs(fs, args, 0); err != nil {
		return err
	}

	res, err := grab.CompilePatterns(*patterns)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(*dest, 0o755); err != nil {
		return errors.Wrap(err, "creating destination")
	}

	var products []string
	switch {
	case *product != "":
		products = []string{*product}
	case *productFile != "":
		f, err := os.Open(*productFile)
		if err != nil {
			return err
		}
		products, err = grab.ReadProducts(f)
		f.Close()
		if err != nil {
			return err
		}
	default:
		products = productNames()
	}

	g := &grab.Grabber{
		Dest:      *dest,
		Patterns:  res,
		Overwrite: *overwrite,
		Map:       grab.LoadMap(*dest),
	}
	var total grab.Stats
	for _, name := range products {
		if err := ctx.Err(); err != nil {
			return err
		}
		fmt.Printf("▶ %s\n", name)

		c, err := newClient(ctx, name)
		if err != nil {
			glog.Errorf("grab: %s: %v", name, err)
			fmt.Printf("  failed: %v\n", err)
			continue
		}
		st, err := g.Grab(ctx, c, name, c.VersionInfo.VersionsName)
		if serr := g.Map.Save(*dest); serr != nil {
			glog.Warningf("grab: %v", serr)
		}
		if err != nil {
			glog.Errorf("grab: %s: %v", name, err)
			fmt.Printf("  failed: %v\n", err)
			continue
		}
		fmt.Printf("  %s: %d downloaded, %d skipped, %d failed\n", c.VersionInfo.VersionsName, st.Downloaded, st.Skipped, st.Failed)
		total.Downloaded += st.Downloaded
		total.Skipped += st.Skipped
		total.Failed += st.Failed
	}
	fmt.Printf("\n%d downloaded, %d skipped, %d failed\n", total.Downloaded, total.Skipped, total.Failed)
	return nil
}

func indexCommand(ctx context.Context, fs *flag.FlagSet, args []string) error {
	destFlag := fs.String("dest", "", "directory to save "+grab.MapFilename+" in; should match grab --dest (default the indexed directory)")
	baseFlag := fs.String("base-dir", "", "directory that paths in the map are relative to (default --dest)")
	if err := parseArgs(fs, args, 1); err != nil {
		return err
	}

	dir, err := filepath.Abs(fs.Arg(0))
	if err != nil {
		return err
	}
	if fi, err := os.Stat(dir); err != nil {
		return err
	} else if !fi.IsDir() {
		return errors.Errorf("%s is not a directory", dir)
	}
	dest := dir
	if *destFlag != "" {
		if dest, err = filepath.Abs(*destFlag); err != nil {
			return err
		}
	}
	base := dest
	if *baseFlag != "" {
		if base, err = filepath.Abs(*baseFlag); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}

	m := grab.LoadMap(dest)
	indexed, skipped, err := grab.Index(m, dir, base)
	if err != nil {
		return err
	}
	if err := m.Save(dest); err != nil {
		return err
	}
	fmt.Printf("Indexed %s files, skipped %s; map saved to %s\n", humanize.Comma(int64(indexed)), humanize.Comma(int64(skipped)), filepath.Join(dest, grab.MapFilename))
	return nil
}
