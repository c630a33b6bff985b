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
	"github.com/uwindsorrover2025/base-cams-from-pi5/internal/journal"
	"github.com/uwindsorrover2025/base-cams-from-pi5/internal/server"
	"github.com/uwindsorrover2025/base-cams-from-pi5/internal/source"
	"github.com/uwindsorrover2025/base-cams-from-pi5/internal/stream"
)

func main() {
	var (
		configF = flag.String("config", "base_station.json", "Configuration file path")
		serveF  = flag.Bool("serve", true, "Expose the JSON health and snapshot API")
	)
	flag.Parse()

	logger := log.New(os.Stderr, "[base-station] ", log.Ltime)

	cfg, err := config.Load(*configF)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Fatalf("invalid configuration: %v", err)
		}
		logger.Printf("config %s not found, using defaults", *configF)
	}
	if len(cfg.Streams) == 0 {
		logger.Fatal("no remote streams configured")
	}

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
		logger.Fatalf("invalid resolution: %v", err)
	}

	connected := 0
	for _, rs := range cfg.Streams {
		fps := rs.FPS
		if fps <= 0 {
			fps = cfg.Cameras.FPS
		}
		src := source.Network{
			Address: rs.Address,
			Port:    rs.Port,
			Path:    rs.Path,
			Width:   width,
			Height:  height,
			FPS:     fps,
		}
		if streams.Connect(rs.ID, src) {
			connected++
		} else {
			logger.Printf("stream %d unavailable: %s", rs.ID, src.Describe())
		}
	}
	if connected == 0 {
		logger.Fatal("failed to connect any stream")
	}
	logger.Printf("connected %d/%d streams", connected, len(cfg.Streams))

	errc := make(chan error)

	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	var httpSrv *http.Server
	if *serveF {
		var eventStore server.EventStore
		if events != nil {
			eventStore = events
		}
		srv := server.New(streams, eventStore, server.Options{FPS: cfg.Cameras.FPS})
		httpSrv = &http.Server{
			Addr:    net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.HTTPPort)),
			Handler: srv.Routes(),
		}
		go func() {
			logger.Printf("HTTP server listening on %s", httpSrv.Addr)
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errc <- err
			}
		}()
	}

	// Periodic stream health report.
	reportStop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(cfg.MonitorInterval())
		defer ticker.Stop()
		for {
			select {
			case <-reportStop:
				return
			case <-ticker.C:
				for id, info := range streams.AllStreamInfo() {
					logger.Printf("stream %d: %s, %d fps, %d frames, %d errors",
						id, info.State, info.FPS, info.FrameCount, info.ErrorCount)
				}
			}
		}
	}()

	logger.Printf("exiting (%v)", <-errc)

	close(reportStop)
	if httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(ctx); err != nil {
			logger.Printf("HTTP shutdown: %v", err)
		}
	}
	streams.DisconnectAll()
	logger.Println("exited")
}
