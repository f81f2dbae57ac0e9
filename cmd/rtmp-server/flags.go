package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
)

// version is injected at build time with -ldflags "-X main.version=...". Defaults to dev.
var version = "dev"

// cliConfig holds user supplied flag values prior to translation into
// connmgr.Config so main.go can validate and map.
type cliConfig struct {
	listenAddr  string
	logLevel    string
	chunkSize   uint
	showVersion bool

	// Pipeline configuration (decode -> blur -> sink).
	sinkDir             string
	faceModelPath       string
	bytesQueueCapacity  uint
	containerChunkSize  uint
	containerFormatHint string
}

func parseFlags(args []string) (*cliConfig, error) {
	fs := flag.NewFlagSet("rtmp-server", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	cfg := &cliConfig{}

	fs.StringVar(&cfg.listenAddr, "listen", "0.0.0.0:8899", "TCP listen address (e.g. 0.0.0.0:8899)")
	fs.StringVar(&cfg.logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	fs.UintVar(&cfg.chunkSize, "chunk-size", 4096, "Initial outbound chunk size")
	fs.BoolVar(&cfg.showVersion, "version", false, "Print version and exit")

	fs.StringVar(&cfg.sinkDir, "sink-dir", "./out", "Root directory for blurred-frame output, one subdirectory per connection")
	fs.StringVar(&cfg.faceModelPath, "face-model", "haarcascade_frontalface_default.xml", "Path to the Haar cascade XML used for face detection")
	fs.UintVar(&cfg.bytesQueueCapacity, "bytes-queue-capacity", 1000, "Bounded container-bytes queue capacity, in chunks")
	fs.UintVar(&cfg.containerChunkSize, "container-chunk-size", 1024, "Fixed chunk size, in bytes, for the custom input adapter")
	fs.StringVar(&cfg.containerFormatHint, "container-format-hint", "flv", "Container format name passed to the demuxer")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if cfg.chunkSize == 0 || cfg.chunkSize > 65536 {
		return nil, errors.New("chunk-size must be between 1 and 65536")
	}

	switch cfg.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("invalid log-level %q", cfg.logLevel)
	}

	if cfg.containerChunkSize == 0 {
		return nil, errors.New("container-chunk-size must be > 0")
	}

	return cfg, nil
}
