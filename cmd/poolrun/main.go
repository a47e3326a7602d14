package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/runtime-pool/image"
	_ "github.com/wippyai/runtime-pool/image/embedded"
	"github.com/wippyai/runtime-pool/pool"
)

// fileConfig mirrors the optional TOML configuration file. Flags override
// anything set here.
type fileConfig struct {
	Size           int               `toml:"size"`
	KeepTempImages bool              `toml:"keep_temp_images"`
	LogLevel       string            `toml:"log_level"`
	Modules        map[string]string `toml:"modules"`
	Packages       []string          `toml:"packages"`
}

func main() {
	var (
		configFile  = flag.String("config", "", "Path to TOML config file")
		size        = flag.Int("size", 0, "Number of runtime instances")
		pkgFile     = flag.String("package", "", "Package archive to load into the pool")
		moduleSpec  = flag.String("module", "", "Module sources to register (name=file,name2=file2)")
		callSpec    = flag.String("call", "", "Function to call (module.function)")
		callArgs    = flag.String("args", "", "Call arguments (comma-separated)")
		keepTemp    = flag.Bool("keep-temp", false, "Keep staged image files on disk")
		logLevel    = flag.String("log", "", "Log level (debug, info, off)")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
	)
	flag.Parse()

	cfg := fileConfig{Size: 2, LogLevel: "off"}
	if *configFile != "" {
		if _, err := toml.DecodeFile(*configFile, &cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error: config %s: %v\n", *configFile, err)
			os.Exit(1)
		}
	}
	if *size > 0 {
		cfg.Size = *size
	}
	if *keepTemp {
		cfg.KeepTempImages = true
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *pkgFile != "" {
		cfg.Packages = append(cfg.Packages, *pkgFile)
	}
	if *moduleSpec != "" {
		if cfg.Modules == nil {
			cfg.Modules = make(map[string]string)
		}
		for _, kv := range strings.Split(*moduleSpec, ",") {
			parts := strings.SplitN(kv, "=", 2)
			if len(parts) != 2 {
				fmt.Fprintf(os.Stderr, "Error: bad -module entry %q, want name=file\n", kv)
				os.Exit(1)
			}
			cfg.Modules[parts[0]] = parts[1]
		}
	}

	if err := setupLogging(cfg.LogLevel); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if *interactive {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			fmt.Fprintln(os.Stderr, "Error: interactive mode needs a terminal")
			os.Exit(1)
		}
		if err := runInteractive(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(cfg, *callSpec, *callArgs); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func setupLogging(level string) error {
	var logger *zap.Logger
	var err error
	switch level {
	case "", "off":
		return nil
	case "debug":
		logger, err = zap.NewDevelopment()
	case "info":
		logger, err = zap.NewProduction()
	default:
		return fmt.Errorf("unknown log level %q", level)
	}
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	image.SetLogger(logger)
	pool.SetLogger(logger)
	return nil
}

// buildPool brings up a pool per cfg: instances first, then module sources
// from files, then package archives.
func buildPool(ctx context.Context, cfg fileConfig) (*pool.Pool, error) {
	p, err := pool.New(ctx, cfg.Size,
		pool.WithImageOptions(image.Options{KeepTempFile: cfg.KeepTempImages}))
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	for name, file := range cfg.Modules {
		src, err := os.ReadFile(file)
		if err != nil {
			_ = p.Close(ctx)
			return nil, fmt.Errorf("read module %s: %w", name, err)
		}
		p.RegisterModuleSource(name, string(src))
	}

	for _, uri := range cfg.Packages {
		pkg, err := p.LoadPackage(ctx, uri)
		if err != nil {
			_ = p.Close(ctx)
			return nil, fmt.Errorf("load package %s: %w", uri, err)
		}
		m, err := pkg.Load(ctx)
		if err != nil {
			_ = p.Close(ctx)
			return nil, fmt.Errorf("load package %s: %w", uri, err)
		}
		// The archive's modules stay registered; the payload handle is not
		// needed after verification.
		m.Close()
	}

	return p, nil
}

func run(cfg fileConfig, callSpec, argsStr string) error {
	ctx := context.Background()

	p, err := buildPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer p.Close(ctx)

	fmt.Printf("Pool: %d instances\n", p.Size())
	for i := 0; i < p.Size(); i++ {
		fmt.Printf("  instance %d: %d active sessions\n", i, p.Balancer().Users(i))
	}

	if callSpec == "" {
		fmt.Println("\nNo -call given. Use -call module.function [-args a,b] or -i for interactive mode.")
		return nil
	}

	module, fn, ok := strings.Cut(callSpec, ".")
	if !ok {
		return fmt.Errorf("bad -call %q, want module.function", callSpec)
	}

	var args []any
	if argsStr != "" {
		for _, a := range strings.Split(argsStr, ",") {
			args = append(args, a)
		}
	}

	sess := p.AcquireSession()
	defer sess.Close()

	f, err := sess.Lookup(ctx, module, fn)
	if err != nil {
		return fmt.Errorf("lookup %s: %w", callSpec, err)
	}

	fmt.Printf("\nCalling %s on instance %d...\n", callSpec, sess.Instance().Index())
	result, err := f.Call(ctx, args...)
	if err != nil {
		return fmt.Errorf("call %s: %w", callSpec, err)
	}
	fmt.Printf("Result: %v\n", result)

	return nil
}
