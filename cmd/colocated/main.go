// Command colocated runs the colocation handshake on one device: peer
// discovery, the tracker feed, the calibration coordinator, and the operator
// API.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"github.com/banshee-data/colocate/internal/config"
	"github.com/banshee-data/colocate/internal/sensor"
	"github.com/banshee-data/colocate/internal/serialmux"
	"github.com/banshee-data/colocate/internal/transport"
	"github.com/banshee-data/colocate/internal/version"
)

var (
	devMode     = flag.Bool("dev", false, "Run in dev mode: replay -script instead of reading the tracker bridge")
	configPath  = flag.String("config", "", "Session config JSON file (optional)")
	listen      = flag.String("listen", ":8080", "HTTP listen address for the operator API and /debug/")
	grpcListen  = flag.String("grpc-listen", ":50051", "gRPC health listen address (empty disables)")
	name        = flag.String("name", "", "Display name advertised to peers (overrides config)")
	port        = flag.String("port", "", "Tracker bridge serial port (overrides config; ignored in dev mode)")
	script      = flag.String("script", "sensor.script", "Pose script replayed in dev mode")
	journalPath = flag.String("journal", "", "Round journal database (overrides config)")
	noJournal   = flag.Bool("no-journal", false, "Do not record calibration rounds")
	capturePath = flag.String("capture", "", "Write every transport datagram to this pcap file (overrides config)")
	iface       = flag.String("iface", "", "Network interface for multicast discovery")
)

// loadConfig reads -config and applies the command-line overrides.
func loadConfig() (*config.SessionConfig, error) {
	cfg := config.EmptySessionConfig()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadSessionConfig(*configPath); err != nil {
			return nil, err
		}
	}
	if *name != "" {
		cfg.DisplayName = name
	}
	if *port != "" {
		cfg.SensorDevice = port
	}
	if *journalPath != "" {
		cfg.JournalPath = journalPath
	}
	if *capturePath != "" {
		cfg.CapturePath = capturePath
	}
	return cfg, nil
}

func main() {
	flag.Parse()
	log.Printf("colocated %s", version.String())

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	opts := options{
		cfg:        cfg,
		listen:     *listen,
		grpcListen: *grpcListen,
		network:    transport.UDPNetwork{Interface: *iface},
	}
	if !*noJournal {
		opts.journalPath = cfg.GetJournalPath()
	}

	if *devMode {
		src, err := sensor.LoadScript(*script, true, nil)
		if err != nil {
			log.Fatalf("failed to load pose script: %v", err)
		}
		log.Printf("dev mode: replaying %d samples from %s", src.Len(), *script)
		opts.serial = serialmux.NewDisabledSerialMux()
		opts.source = src
	} else {
		device := cfg.GetSensorDevice()
		if device == "" {
			log.Fatal("Tracker bridge serial port is required (-port or sensor_device)")
		}
		mux, err := serialmux.Open(device, serialmux.PortOptionsFromSession(cfg))
		if err != nil {
			log.Fatalf("failed to open tracker bridge: %v", err)
		}
		if err := mux.Initialise(); err != nil {
			log.Fatalf("failed to initialise tracker bridge: %v", err)
		}
		log.Printf("initialised tracker bridge on %s", device)
		opts.serial = mux
	}

	d, err := newDaemon(opts)
	if err != nil {
		log.Fatalf("failed to start: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := d.run(ctx); err != nil {
		log.Fatalf("colocated: %v", err)
	}
	log.Printf("Graceful shutdown complete")
}
