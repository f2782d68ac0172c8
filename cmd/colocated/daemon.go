package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/banshee-data/colocate/internal/api"
	"github.com/banshee-data/colocate/internal/calibration"
	"github.com/banshee-data/colocate/internal/config"
	"github.com/banshee-data/colocate/internal/journal"
	"github.com/banshee-data/colocate/internal/sensor"
	"github.com/banshee-data/colocate/internal/serialmux"
	"github.com/banshee-data/colocate/internal/status"
	"github.com/banshee-data/colocate/internal/timeutil"
	"github.com/banshee-data/colocate/internal/transport"
)

// options wires a daemon. A nil source reads pose lines from serial.
type options struct {
	cfg         *config.SessionConfig
	listen      string
	grpcListen  string
	network     transport.Network
	serial      serialmux.SerialMuxInterface
	source      sensor.Source
	journalPath string
	clock       timeutil.Clock
}

type daemon struct {
	opts    options
	adapter *transport.Adapter
	tap     *transport.Tap
	feed    *sensor.Feed
	lines   *sensor.LineSource
	coord   *calibration.Coordinator
	journal *journal.Journal
	status  *status.Server
	mux     *http.ServeMux
}

func newDaemon(opts options) (*daemon, error) {
	if opts.clock == nil {
		opts.clock = timeutil.RealClock{}
	}
	if opts.serial == nil {
		opts.serial = serialmux.NewDisabledSerialMux()
	}
	cfg := opts.cfg
	d := &daemon{opts: opts}

	tcfg := transport.ConfigFromSession(cfg)
	tcfg.Network = opts.network
	tcfg.Clock = opts.clock
	if path := cfg.GetCapturePath(); path != "" {
		tap, err := transport.CreateTap(path)
		if err != nil {
			return nil, err
		}
		d.tap = tap
		tcfg.Tap = tap
		log.Printf("capturing transport datagrams to %s", path)
	}
	d.adapter = transport.New(tcfg)

	d.feed = sensor.NewFeed(cfg.GetSensorStaleAfter(), opts.clock)
	if opts.source == nil {
		d.lines = sensor.NewLineSource(opts.serial, opts.clock)
		d.opts.source = d.lines
	}

	sinks := []calibration.Sink{calibration.LogSink()}
	var rounds api.RoundLister
	if opts.journalPath != "" {
		j, err := journal.Open(opts.journalPath)
		if err != nil {
			d.close()
			return nil, fmt.Errorf("failed to open journal: %w", err)
		}
		d.journal = j
		sinks = append(sinks, j)
		rounds = j
	}

	ccfg := calibration.ConfigFromSession(cfg)
	ccfg.Clock = opts.clock
	d.coord = calibration.New(d.adapter, d.feed, ccfg, sinks...)
	d.status = status.New(d.coord)

	// mount the API handlers, then the debug routes alongside them
	d.mux = api.NewServer(d.coord, d.adapter, rounds).ServeMux()
	d.adapter.AttachAdminRoutes(d.mux)
	d.coord.AttachAdminRoutes(d.mux)
	opts.serial.AttachAdminRoutes(d.mux)
	if d.journal != nil {
		d.journal.AttachAdminRoutes(d.mux)
	}
	return d, nil
}

// run blocks until ctx is done, then shuts everything down.
func (d *daemon) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	// Create a wait group for the serial monitor, sensor feed, coordinator,
	// status follower and HTTP server routines
	var wg sync.WaitGroup
	defer d.close()
	defer wg.Wait()
	defer cancel()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := d.opts.serial.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("failed to monitor serial port: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := d.feed.Run(ctx, d.opts.source); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("sensor feed stopped: %v", err)
		}
		log.Print("sensor routine terminated")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := d.coord.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("coordinator stopped: %v", err)
		}
		log.Print("coordinator routine terminated")
	}()

	if err := d.adapter.Start(ctx); err != nil {
		return fmt.Errorf("failed to start transport: %w", err)
	}
	defer d.adapter.Stop()
	if err := d.coord.MarkSearching(ctx); err != nil {
		return err
	}
	log.Printf("advertising as %s", d.adapter.Self())

	wg.Add(1)
	go func() {
		defer wg.Done()
		d.status.Follow(ctx)
	}()
	if d.opts.grpcListen != "" {
		if err := d.status.Start(d.opts.grpcListen); err != nil {
			return err
		}
		defer d.status.Stop()
	}

	if d.opts.listen != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.serveHTTP(ctx)
		}()
	}

	<-ctx.Done()
	// Peers hear Bye before the health server drains its streams.
	d.adapter.Stop()
	return nil
}

func (d *daemon) serveHTTP(ctx context.Context) {
	server := &http.Server{
		Addr:    d.opts.listen,
		Handler: api.LoggingMiddleware(d.mux),
	}

	// Start server in a goroutine so it doesn't block
	go func() {
		log.Printf("HTTP listening on %s", d.opts.listen)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	// Wait for context cancellation to shut down server
	<-ctx.Done()
	log.Println("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		// Force close the server if graceful shutdown fails
		if err := server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}
	log.Printf("HTTP server routine stopped")
}

// close releases resources that outlive the goroutines.
func (d *daemon) close() {
	if d.lines != nil {
		d.lines.Close()
	}
	if d.journal != nil {
		if err := d.journal.Close(); err != nil {
			log.Printf("failed to close journal: %v", err)
		}
	}
	if d.tap != nil {
		if err := d.tap.Close(); err != nil {
			log.Printf("failed to close capture: %v", err)
		}
	}
	if err := d.opts.serial.Close(); err != nil {
		log.Printf("failed to close serial port: %v", err)
	}
}
