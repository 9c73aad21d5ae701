// Command eztex is the native CLI entry point: compile, watch, init, and
// generate-format subcommands over the compiler driver, per spec.md §6's
// CLI surface table.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/eztex/eztex/internal/bundle"
	"github.com/eztex/eztex/internal/cache"
	"github.com/eztex/eztex/internal/compiler"
	"github.com/eztex/eztex/internal/config"
	"github.com/eztex/eztex/internal/diag"
	"github.com/eztex/eztex/internal/engine"
	"github.com/eztex/eztex/internal/formatcache"
	"github.com/eztex/eztex/internal/host"
	"github.com/eztex/eztex/internal/logx"
	"github.com/eztex/eztex/internal/metrics"
	"github.com/eztex/eztex/internal/project"
	"github.com/eztex/eztex/internal/status"
	"github.com/eztex/eztex/internal/watcher"
)

const version = "0.1.0"

const defaultBundleURL = "https://relay.fullyjustified.net/default_bundle.tar"
const defaultIndexURL = "https://relay.fullyjustified.net/default_bundle.tar.index.gz"
const engineVersion uint32 = 1

var log = logx.Scope("cli")

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 1
	}

	switch args[0] {
	case "help", "--help", "-h":
		printUsage()
		return 0
	case "version", "--version":
		fmt.Println("eztex", version)
		return 0
	case "init":
		return runInit()
	case "compile":
		return runCompile(args[1:], false)
	case "watch":
		return runCompile(args[1:], true)
	case "generate-format":
		return runGenerateFormat(args[1:])
	default:
		if len(args[0]) > 0 && args[0][0] == '-' {
			fmt.Fprintf(os.Stderr, "eztex: unknown option %s\n", args[0])
			printUsage()
			return 1
		}
		// Bare non-option argument with no subcommand: treated as compile.
		return runCompile(args, false)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `usage: eztex <command> [arguments]

commands:
  compile <path>        compile a .tex file, directory, or .zip project
  watch <path>           compile, then recompile on file changes
  init                   write a starter eztex.zon
  generate-format        generate and cache a format file
  help, --help, -h       show this message
  version, --version     print the version`)
}

func runInit() int {
	if _, err := os.Stat("eztex.zon"); err == nil {
		fmt.Fprintln(os.Stderr, "eztex: eztex.zon already exists")
		return 1
	}
	if err := os.WriteFile("eztex.zon", []byte(config.StarterContent), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "eztex: %v\n", err)
		return 1
	}
	fmt.Println("wrote eztex.zon")
	return 0
}

type compileFlags struct {
	output            string
	format            string
	synctex           bool
	deterministic     bool
	keepIntermediates bool
	cacheDir          string
	verbose           bool
	bundleURL         string
	indexURL          string
	watchAddr         string
}

func parseCompileFlags(args []string) (*compileFlags, []string, error) {
	fs := pflag.NewFlagSet("compile", pflag.ContinueOnError)
	cf := &compileFlags{}
	fs.StringVarP(&cf.output, "output", "o", "", "output PDF path")
	fs.StringVar(&cf.format, "format", "", "engine format: xelatex or plain")
	fs.BoolVar(&cf.synctex, "synctex", false, "emit a synctex sidecar")
	fs.BoolVar(&cf.deterministic, "deterministic", false, "use a fixed build timestamp")
	fs.BoolVar(&cf.keepIntermediates, "keep-intermediates", false, "keep .aux/.log/.xdv and friends")
	fs.StringVar(&cf.cacheDir, "cache-dir", "", "override the default persistent cache root")
	fs.BoolVar(&cf.verbose, "verbose", false, "enable debug-level logging")
	fs.StringVar(&cf.bundleURL, "bundle-url", "", "bundle blob URL")
	fs.StringVar(&cf.indexURL, "index-url", "", "bundle index URL")
	fs.StringVar(&cf.watchAddr, "status-addr", "", "address for the watch-mode status/metrics server")
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	return cf, fs.Args(), nil
}

func runCompile(args []string, watch bool) int {
	cf, rest, err := parseCompileFlags(args)
	if err != nil {
		printUsage()
		return 1
	}
	if len(rest) == 0 {
		fmt.Fprintln(os.Stderr, "eztex: missing <path>")
		printUsage()
		return 1
	}
	logx.SetVerbose(cf.verbose)

	input, err := project.Resolve(rest[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "eztex: %v\n", err)
		return 1
	}
	defer input.Cleanup()

	fileCfg := loadProjectConfig(input)
	merged := config.Merge(config.Config{
		Output:            cf.output,
		Format:            cf.format,
		Synctex:           cf.synctex,
		Deterministic:     cf.deterministic,
		KeepIntermediates: cf.keepIntermediates,
		BundleURL:         cf.bundleURL,
		BundleIndex:       cf.indexURL,
	}, fileCfg)

	driver, cleanup, err := buildDriver(cf.cacheDir, merged)
	if err != nil {
		fmt.Fprintf(os.Stderr, "eztex: %v\n", err)
		return 1
	}
	defer cleanup()

	var statusServer *status.Server
	if watch && cf.watchAddr != "" {
		statusServer = status.New(cf.watchAddr, driver.Metrics)
		statusServer.Start()
		defer func() {
			_ = statusServer.Shutdown(context.Background())
		}()
	}

	req := compiler.Request{
		InputFile:         input.TexFile,
		OutputFile:        merged.Output,
		Format:            formatName(merged.Format),
		KeepIntermediates: merged.KeepIntermediates,
		Deterministic:     merged.Deterministic,
		Synctex:           merged.Synctex,
	}

	lastExit := 0
	runOnce := func() {
		res := driver.Compile(context.Background(), req)
		if statusServer != nil {
			statusServer.LastCompile().Record(res.ExitCode == 0, res.Passes, driver.Engine.LastErrorMessage())
		}
		if res.ExitCode == 0 {
			fmt.Printf("wrote %s\n", res.PDFPath)
			lastExit = 0
		} else {
			lastExit = 1
		}
	}

	if !watch {
		runOnce()
		return lastExit
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := input.ProjectDir
	if root == "" {
		root = filepath.Dir(input.TexFile)
	}
	w, err := watcher.New(root, runOnce)
	if err != nil {
		fmt.Fprintf(os.Stderr, "eztex: %v\n", err)
		return 1
	}
	if err := w.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "eztex: watch: %v\n", err)
		return 1
	}
	return 0
}

func formatName(f string) string {
	if f == "latex" {
		return "xelatex"
	}
	return f
}

func loadProjectConfig(input *project.Input) config.Config {
	dir := input.ProjectDir
	if dir == "" {
		dir = filepath.Dir(input.TexFile)
	}
	data, err := os.ReadFile(filepath.Join(dir, "eztex.zon"))
	if err != nil {
		return config.Config{}
	}
	return config.Parse(string(data))
}

func buildDriver(cacheDirOverride string, cfg config.Config) (*compiler.Driver, func(), error) {
	cacheDir := cacheDirOverride
	if cacheDir == "" {
		root, err := cache.DefaultRoot()
		if err != nil {
			return nil, nil, fmt.Errorf("resolve cache root: %w", err)
		}
		cacheDir = root
	}

	bundleURL := cfg.BundleURL
	if bundleURL == "" {
		bundleURL = defaultBundleURL
	}
	indexURL := cfg.BundleIndex
	if indexURL == "" {
		indexURL = defaultIndexURL
	}
	digest := bundleDigest(bundleURL)

	nativeHost, err := host.NewNativeHost(cacheDir, bundleURL, indexURL, digest)
	if err != nil {
		return nil, nil, fmt.Errorf("open cache: %w", err)
	}

	formatStore, err := formatcache.Open(nativeHost.CacheStore().FormatsDir())
	if err != nil {
		return nil, nil, fmt.Errorf("open format cache: %w", err)
	}

	reg := metrics.New()
	eng := engine.NewSubprocessEngine("")

	d := &compiler.Driver{
		Engine: eng,
		BundleFactory: func() *bundle.Store {
			return bundle.New(nativeHost, bundleURL, digest, reg)
		},
		FormatCache:   formatStore,
		BundleDigest:  digest,
		EngineVersion: engineVersion,
		Sink:          diag.NewSink(os.Stderr, term.IsTerminal(int(os.Stderr.Fd()))),
		Metrics:       reg,
	}
	return d, func() {}, nil
}

// bundleDigest derives the cache-partition digest from the bundle URL
// itself when no separate digest is configured; the real distribution
// pins a digest out of band, but the CLI has no such side channel.
func bundleDigest(bundleURL string) string {
	return fmt.Sprintf("%x", simpleHash(bundleURL))
}

func simpleHash(s string) uint64 {
	var h uint64 = 14695981039346656037
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= 1099511628211
	}
	return h
}

func runGenerateFormat(args []string) int {
	fs := pflag.NewFlagSet("generate-format", pflag.ContinueOnError)
	format := fs.String("format", "xelatex", "format to generate: xelatex or plain")
	bundleURL := fs.String("bundle-url", defaultBundleURL, "bundle blob URL")
	indexURL := fs.String("index-url", defaultIndexURL, "bundle index URL")
	cacheDir := fs.String("cache-dir", "", "override the default persistent cache root")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	driver, cleanup, err := buildDriver(*cacheDir, config.Config{BundleURL: *bundleURL, BundleIndex: *indexURL})
	if err != nil {
		fmt.Fprintf(os.Stderr, "eztex: %v\n", err)
		return 1
	}
	defer cleanup()

	key := formatcache.Key{BundleDigest: driver.BundleDigest, EngineVersion: driver.EngineVersion, FormatType: *format}
	if driver.FormatCache.Has(key) {
		fmt.Println("format already cached")
		return 0
	}

	log.Infof("generating format %s", *format)
	workDir, err := os.MkdirTemp("", "eztex-generate-format")
	if err != nil {
		fmt.Fprintf(os.Stderr, "eztex: %v\n", err)
		return 1
	}
	defer os.RemoveAll(workDir)

	if err := driver.GenerateFormat(context.Background(), *format, workDir); err != nil {
		fmt.Fprintf(os.Stderr, "eztex: %v\n", err)
		return 1
	}
	fmt.Println("format cached")
	return 0
}
