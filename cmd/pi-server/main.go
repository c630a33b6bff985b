package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/uwindsorrover2025/base-cams-from-pi5/internal/config"
	"github.com/uwindsorrover2025/base-cams-from-pi5/internal/device"
	"github.com/uwindsorrover2025/base-cams-from-pi5/internal/journal"
	"github.com/uwindsorrover2025/base-cams-from-pi5/internal/server"
	"github.com/uwindsorrover2025/base-cams-from-pi5/internal/stream"
)

func main() {
	var (
		configF   = flag.String("config", "config.json", "Configuration file path")
		httpPortF = flag.String("http-port", "", "HTTP port (overrides port from config)")
	)
	flag.Parse()

	logger := log.New(os.Stderr, "[pi-server] ", log.Ltime)

	cfg, err := config.Load(*configF)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Fatalf("invalid configuration: %v", err)
		}
		logger.Printf("config %s not found, using defaults", *configF)
	}
	if *httpPortF != "" {
		port, err := strconv.Atoi(*httpPortF)
		if err != nil {
			logger.Fatalf("invalid http port %q: %v", *httpPortF, err)
		}
		cfg.Server.HTTPPort = port
	}

	// Stream lifecycle journal. The engine runs without it if the
	// database cannot be opened.
	var events *journal.Journal
	if cfg.Journal.Path != "" {
		events, err = journal.Open(cfg.Journal.Path)
		if err != nil {
			logger.Printf("event journal disabled: %v", err)
		} else {
			defer events.Close()
		}
	}

	var recorder stream.Recorder
	if events != nil {
		recorder = events
	}
	streams := stream.NewManager(cfg.StreamConfig(), recorder)

	width, height, err := config.ParseResolution(cfg.Cameras.Resolution)
	if err != nil {
		logger.Fatalf("invalid camera resolution: %v", err)
	}
	devices := device.NewManager(streams, device.Settings{
		Width:      width,
		Height:     height,
		FPS:        cfg.Cameras.FPS,
		MaxCameras: cfg.Cameras.MaxCameras,
	})

	results := devices.InitializeAll()
	if len(results) == 0 {
		logger.Fatal("no cameras detected")
	}
	logger.Printf("initialization results: %v", results)

	// Map mount points to cameras in detection order.
	mounts := make(map[string]int)
	for i, id := range streams.IDs() {
		if i >= len(cfg.Server.MountPoints) {
			break
		}
		mounts[cfg.Server.MountPoints[i]] = id
		logger.Printf("camera %d mounted at http://%s:%d%s", id, cfg.Server.Host, cfg.Server.HTTPPort, cfg.Server.MountPoints[i])
	}

	var eventStore server.EventStore
	if events != nil {
		eventStore = events
	}
	srv := server.New(streams, eventStore, server.Options{
		Mounts:       mounts,
		FPS:          cfg.Cameras.FPS,
		OverlayLabel: "CAM",
	})

	httpSrv := &http.Server{
		Addr:    net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.HTTPPort)),
		Handler: srv.Routes(),
	}

	// Channel used by the signal handler and server goroutine to notify
	// the main goroutine when to stop.
	errc := make(chan error)

	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	go func() {
		logger.Printf("HTTP server listening on %s", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	// Periodic health re-validation.
	monitorStop := make(chan struct{})
	go devices.Monitor(monitorStop, cfg.MonitorInterval())

	logger.Printf("exiting (%v)", <-errc)

	close(monitorStop)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.Printf("HTTP shutdown: %v", err)
	}
	streams.DisconnectAll()
	logger.Println("exited")
}
