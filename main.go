package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/aerth/contactd/config"
	"github.com/aerth/contactd/logging"
	"github.com/aerth/contactd/system"
)

// Version is set at build time with -ldflags "-X main.Version=..."
var Version = "dev"

var logo = "" +
	"                 __             __      __\n" +
	"  _________  ___/ /____ _____/ /_____/ /\n" +
	" / __/ _ \\/ _ \\/ __/ _ `/ __/ __/ __  /   contact form relay\n" +
	" \\__/\\___/_//_/\\__/\\_,_/\\__/\\__/\\_,_/\n\n"

func main() {
	// defaults
	var (
		devmode     = false
		addr        = ""
		configpath  = "config.json"
		envfile     = ".env"
		showVersion = false
	)

	// flags
	flag.StringVar(&addr, "addr", addr, "address to serve (default "+config.DefaultListenAddr+")")
	flag.BoolVar(&devmode, "dev", devmode, "development mode (insecure)")
	flag.StringVar(&configpath, "conf", configpath, "path to config.json (use - for stdin)")
	flag.StringVar(&envfile, "env", envfile, "dotenv file read before the config, if it exists")
	flag.BoolVar(&showVersion, "version", false, "show version and exit")
	doConfigDump := flag.Bool("dumpconfig", false, "dump config and exit")
	flag.Parse()

	if showVersion {
		fmt.Print(logo)
		fmt.Println("contactd", Version)
		return
	}

	if err := godotenv.Load(envfile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "error reading env file:", err)
		os.Exit(1)
	}

	// read config file or stdin
	cfg, err := config.Load(configpath, os.Stdin)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg.Meta.Version = "contactd " + Version

	// override config with flag
	if devmode {
		cfg.Meta.DevelopmentMode = devmode
	}
	if addr != "" {
		cfg.Meta.ListenAddr = addr
	}

	level := cfg.Meta.LogLevel
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		level = v
	}
	logger, err := logging.New(cfg.Meta.DevelopmentMode, level)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error creating logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()
	log := logger.Sugar()
	if configpath == "-" {
		log.Infow("read config from stdin")
	} else {
		log.Infow("read config", "path", configpath)
	}

	if err := config.CheckConfig(cfg, log.Named("config")); err != nil {
		log.Fatalw("bad config", "error", err)
	}
	if cfg.Meta.DevelopmentMode {
		log.Warnw("DEV MODE")
	}

	if *doConfigDump {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent(" ", " ")
		if err := enc.Encode(cfg); err != nil {
			log.Fatalw("dumping config", "error", err)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	boot, cancel := context.WithTimeout(ctx, 30*time.Second)
	s, err := system.New(boot, cfg, logger)
	cancel()
	if err != nil {
		log.Fatalw("boot error", "error", err)
	}
	defer s.Close()

	if err := s.Run(ctx); err != nil {
		log.Errorw("server stopped", "error", err)
		logger.Sync()
		s.Close()
		os.Exit(1)
	}
	log.Infow("bye", "uptime", time.Duration(s.Status().Uptime)*time.Second)
}
