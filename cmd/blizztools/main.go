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

// Command blizztools inspects and downloads builds from Blizzard's patch servers and CDNs.
//
// Usage:
//
//	blizztools [global flags] <command> [flags] [args]
//
// Commands:
//
//	versions <product>                  list the deployed build in each region
//	cdns <product>                      list the CDNs serving a product
//	install-manifest <product>          list the files of a fresh installation
//	download-manifest <product>         list the files in launcher download order
//	download <product> <content key>    download one file by content key
//	grab                                download matching files for many products
//	index <directory>                   record already downloaded files for grab
package main

import (
	"context"
	goflag "flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"time"

	"github.com/golang/glog"
	flag "github.com/spf13/pflag"
	"golang.org/x/time/rate"

	"github.com/w00tzenheimer/blizztools/ngdp"
	"github.com/w00tzenheimer/blizztools/ngdp/client"
)

var (
	region  = flag.String("region", string(ngdp.DefaultRegion), "patch server region to query")
	timeout = flag.Duration("timeout", 5*time.Minute, "timeout for each HTTP request")
	maxRPS  = flag.Float64("max-rps", 0, "maximum requests per second to the patch servers and CDNs; 0 is unlimited")
)

type command struct {
	usage string
	run   func(ctx context.Context, fs *flag.FlagSet, args []string) error
}

var commands = map[string]command{
	"versions":          {"<product>", versionsCommand},
	"cdns":              {"<product>", cdnsCommand},
	"install-manifest":  {"<product> [--tag name]", installManifestCommand},
	"download-manifest": {"<product> [--tag name]", downloadManifestCommand},
	"download":          {"<product> <content key> [--output dir]", downloadCommand},
	"grab":              {"[-p pattern]... [-d dest] [-f product file | --product name] [--overwrite]", grabCommand},
	"index":             {"<directory> [--dest dir] [--base-dir dir]", indexCommand},
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [global flags] <command> [flags] [args]\n\nCommands:\n", os.Args[0])
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(os.Stderr, "  %s %s\n", name, commands[name].usage)
	}
	fmt.Fprintf(os.Stderr, "\nGlobal flags:\n")
	flag.PrintDefaults()
}

// resolveProduct accepts either a long product name, such as wow-classic, or a raw program code.
func resolveProduct(name string) ngdp.ProgramCode {
	if code, ok := ngdp.Programs[strings.ToLower(name)]; ok {
		return code
	}
	return ngdp.ProgramCode(name)
}

// productNames returns the long names of every known product, sorted.
func productNames() []string {
	names := make([]string, 0, len(ngdp.Programs))
	for name := range ngdp.Programs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func lowLevelClient() *client.LowLevelClient {
	llc := &client.LowLevelClient{
		Client: &http.Client{Timeout: *timeout},
	}
	if *maxRPS > 0 {
		llc.Limiter = rate.NewLimiter(rate.Limit(*maxRPS), 1)
	}
	return llc
}

func newClient(ctx context.Context, product string) (*client.Client, error) {
	return client.NewWithLowLevelClient(ctx, lowLevelClient(), resolveProduct(product), ngdp.Region(*region))
}

// subcommandFlags returns a flag set for a subcommand.
func subcommandFlags(name, args string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s %s %s\n", os.Args[0], name, args)
		fs.PrintDefaults()
	}
	return fs
}

func main() {
	flag.CommandLine.AddGoFlagSet(goflag.CommandLine)
	flag.CommandLine.SetInterspersed(false)
	flag.Usage = usage
	flag.Parse()
	defer glog.Flush()

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}
	cmd, ok := commands[flag.Arg(0)]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", flag.Arg(0))
		usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	name := flag.Arg(0)
	if err := cmd.run(ctx, subcommandFlags(name, cmd.usage), flag.Args()[1:]); err != nil {
		glog.Errorf("%s: %v", name, err)
		fmt.Fprintf(os.Stderr, "%s: %v\n", name, err)
		glog.Flush()
		os.Exit(1)
	}
}
