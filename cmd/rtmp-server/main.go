package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alxayo/go-rtmp/internal/logger"
	"github.com/alxayo/go-rtmp/internal/pipeline"
	"github.com/alxayo/go-rtmp/internal/rtmp/connmgr"
)

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		// flag package already printed usage/error
		os.Exit(2)
	}
	if cfg.showVersion {
		fmt.Println(version)
		return
	}

	// Initialize global logger and set level based on flag
	logger.Init()
	if err := logger.SetLevel(cfg.logLevel); err != nil {
		fmt.Printf("Warning: invalid log level %q, using default\n", cfg.logLevel)
	}
	log := logger.Logger().With("component", "cli")

	// The face detector is process-wide and loaded exactly once, before the
	// listener starts accepting connections (spec §4.7/§9).
	detector := &pipeline.FaceDetector{}
	if err := detector.Load(cfg.faceModelPath); err != nil {
		log.Error("failed to load face detection model", "error", err, "path", cfg.faceModelPath)
		os.Exit(1)
	}
	defer detector.Close()

	mgr := connmgr.New(connmgr.Config{
		SinkDirRoot:         cfg.sinkDir,
		BytesQueueCapacity:  int(cfg.bytesQueueCapacity),
		ContainerChunkSize:  int(cfg.containerChunkSize),
		ContainerFormatHint: cfg.containerFormatHint,
		Detector:            detector,
	}, log)

	listener, err := connmgr.NewListener(cfg.listenAddr, mgr, log)
	if err != nil {
		log.Error("failed to start server", "error", err)
		os.Exit(1)
	}
	listener.Start()

	log.Info("server started", "addr", listener.Addr().String(), "version", version)

	// Set up signal handling for graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		if err := listener.Stop(); err != nil {
			log.Error("server stop error", "error", err)
		}
		close(done)
	}()

	select {
	case <-done:
		log.Info("server stopped cleanly")
	case <-shutdownCtx.Done():
		log.Error("forced exit after timeout")
	}
}
