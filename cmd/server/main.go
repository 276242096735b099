package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	_ "image/png" // Synthetic camera images
	"log"
	"net/http"
	_ "net/http/pprof" // Enable pprof
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cloudacy/barcode-scanner/internal/bridge"
	"github.com/cloudacy/barcode-scanner/internal/camera"
	"github.com/cloudacy/barcode-scanner/internal/config"
	"github.com/cloudacy/barcode-scanner/internal/detect"
	"github.com/cloudacy/barcode-scanner/internal/logger"
	"github.com/cloudacy/barcode-scanner/internal/metrics"
	"github.com/cloudacy/barcode-scanner/internal/permission"
	"github.com/cloudacy/barcode-scanner/internal/pipeline"
	"github.com/cloudacy/barcode-scanner/internal/scan"
	"github.com/cloudacy/barcode-scanner/internal/shm"
	"github.com/cloudacy/barcode-scanner/internal/texture"
	"github.com/cloudacy/barcode-scanner/internal/webmonitor"
	"github.com/cloudacy/barcode-scanner/internal/webrtc"
	"github.com/cloudacy/barcode-scanner/pkg/types"
)

var (
	// Command-line flags; when set they override the config file
	configPath  = flag.String("config", "", "YAML config file")
	httpAddr    = flag.String("http", ":8080", "HTTP server address")
	metricsAddr = flag.String("metrics", ":9090", "Metrics server address")
	pprofAddr   = flag.String("pprof", ":6060", "pprof server address")
	source      = flag.String("source", "synthetic", "Camera source (synthetic, shm, gocv)")
	shmName     = flag.String("shm", "/pet_camera_stream", "Shared memory name")
	device      = flag.Int("device", 0, "OpenCV device index")
	permMode    = flag.String("permission", "granted", "Camera permission (granted, denied, prompt)")
	formats     = flag.String("formats", "", "Default symbologies (comma-separated, empty for all)")
	maxClients  = flag.Int("max-clients", 10, "Maximum WebRTC clients")
	stunServers = flag.String("stun", "stun:stun.l.google.com:19302", "STUN server URLs (comma-separated)")
	assetsDir   = flag.String("assets", "", "Extra web assets directory for the monitor page")
	logLevel    = flag.String("log-level", "info", "Log level (debug, info, warn, error, silent)")
	logColor    = flag.Bool("log-color", true, "Enable colored log output")
)

// openGoCV is set by gocv.go when built with the gocv tag
var openGoCV func(cfg config.CameraConfig) camera.Provider

// Server is the scanner bridge server
type Server struct {
	cfg        config.Config
	metrics    *metrics.Metrics
	hub        *bridge.Hub
	session    *scan.Session
	webrtc     *webrtc.Server
	httpServer *http.Server
}

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, cfg.Log.Color)

	logger.Info("Main", "Barcode scanner starting...")
	logger.Info("Main", "Log level: %s", level)

	srv, err := NewServer(cfg)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	if err := srv.Start(); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Main", "Shutting down...")

	if err := srv.Shutdown(); err != nil {
		logger.Error("Main", "Error during shutdown: %v", err)
	}

	logger.Info("Main", "Server stopped")
}

// loadConfig reads the config file and applies explicitly set flags on top
func loadConfig() (config.Config, error) {
	loaded, err := config.Load(*configPath)
	if err != nil {
		return config.Config{}, err
	}
	cfg := *loaded

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "http":
			cfg.HTTPAddr = *httpAddr
		case "metrics":
			cfg.MetricsAddr = *metricsAddr
		case "pprof":
			cfg.PprofAddr = *pprofAddr
		case "source":
			cfg.Camera.Source = *source
		case "shm":
			cfg.Camera.ShmName = *shmName
		case "device":
			cfg.Camera.Device = *device
		case "permission":
			cfg.Camera.Permission = *permMode
		case "formats":
			cfg.Scan.Formats = splitList(*formats)
		case "max-clients":
			cfg.WebRTC.MaxClients = *maxClients
		case "stun":
			cfg.WebRTC.STUNServers = splitList(*stunServers)
		case "log-level":
			cfg.Log.Level = *logLevel
		case "log-color":
			cfg.Log.Color = *logColor
		}
	})

	if err := config.Validate(&cfg); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// textureAdapter hands registry entries to the session
type textureAdapter struct{ reg *texture.Registry }

func (a textureAdapter) Create() scan.TextureEntry { return a.reg.Create() }

// NewServer wires the scanner from cfg
func NewServer(cfg config.Config) (*Server, error) {
	m := metrics.New()
	hub := bridge.NewHub(m)

	var prompter *bridge.RemotePrompter
	platform := permission.FromMode(cfg.Camera.Permission)
	if platform == nil {
		prompter = bridge.NewRemotePrompter(hub)
		platform = prompter
	}

	provider, err := newProvider(cfg.Camera)
	if err != nil {
		return nil, err
	}

	resolution, err := camera.ParseResolution(cfg.Scan.Resolution)
	if err != nil {
		return nil, err
	}
	mode, err := scan.ParseMode(cfg.Scan.Mode, scan.ModeContinuous)
	if err != nil {
		return nil, err
	}

	defaultFormats := make([]types.Symbology, 0, len(cfg.Scan.Formats))
	for _, name := range cfg.Scan.Formats {
		s, _ := types.ParseSymbology(name) // checked by config.Validate
		defaultFormats = append(defaultFormats, s)
	}
	detectOpts := detect.Options{TryHarder: cfg.Scan.TryHarder}

	textures := texture.NewRegistry(texture.Options{
		JPEGQuality: cfg.Texture.JPEGQuality,
		MaxWidth:    cfg.Texture.MaxWidth,
		Metrics:     m,
	})

	session := scan.New(scan.Config{
		Provider: provider,
		Gate:     permission.NewGate(platform),
		Textures: textureAdapter{textures},
		Detectors: func(formats []types.Symbology) (pipeline.Detector, error) {
			if len(formats) == 0 {
				formats = defaultFormats
			}
			return detect.New(formats, detectOpts)
		},
		Events:          hub,
		Metrics:         m,
		Resolution:      resolution,
		Mode:            mode,
		TypedEvents:     cfg.Scan.TypedEvents,
		SuppressRepeats: cfg.Scan.SuppressRepeats,
		DetectInterval:  cfg.Scan.DetectInterval,
		DetectTimeout:   cfg.Scan.DetectTimeout,
	})

	dispatcher := bridge.NewDispatcher(session, prompter)
	rtc := webrtc.NewServer(dispatcher, hub, webrtc.Options{
		STUNServers: cfg.WebRTC.STUNServers,
		MaxClients:  cfg.WebRTC.MaxClients,
	})

	api := bridge.NewServer(dispatcher, hub)
	api.Mount("/texture/", textures.Handler())
	api.Mount("/api/webrtc/", rtc.Handler())
	api.Mount("/", webmonitor.Handler(*assetsDir))

	return &Server{
		cfg:     cfg,
		metrics: m,
		hub:     hub,
		session: session,
		webrtc:  rtc,
		httpServer: &http.Server{
			Addr:    cfg.HTTPAddr,
			Handler: corsMiddleware(api.Handler()),
		},
	}, nil
}

func newProvider(cfg config.CameraConfig) (camera.Provider, error) {
	switch cfg.Source {
	case "shm":
		return shm.NewProvider(shm.Options{Name: cfg.ShmName, OpenWait: 30 * time.Second}), nil
	case "gocv":
		if openGoCV == nil {
			return nil, errors.New("gocv source needs a build with -tags gocv")
		}
		return openGoCV(cfg), nil
	}

	images := make([]image.Image, 0, len(cfg.Images))
	for _, path := range cfg.Images {
		img, err := loadImage(path)
		if err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return camera.DefaultSynthetic(cfg.FPS, images...), nil
}

func loadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return img, nil
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start starts all server components
func (s *Server) Start() error {
	logger.Info("Main", "Starting scanner bridge...")
	logger.Info("Main", "  Camera source: %s (permission: %s)", s.cfg.Camera.Source, s.cfg.Camera.Permission)
	logger.Info("Main", "  HTTP server: %s", s.cfg.HTTPAddr)
	logger.Info("Main", "  Metrics server: %s", s.cfg.MetricsAddr)
	logger.Info("Main", "  pprof server: %s", s.cfg.PprofAddr)

	if s.cfg.PprofAddr != "" {
		go func() {
			logger.Info("Main", "Starting pprof server on %s", s.cfg.PprofAddr)
			if err := http.ListenAndServe(s.cfg.PprofAddr, nil); err != nil {
				logger.Warn("Main", "pprof server error: %v", err)
			}
		}()
	}

	if s.cfg.MetricsAddr != "" {
		go func() {
			logger.Info("Main", "Starting metrics server on %s", s.cfg.MetricsAddr)
			if err := s.metrics.StartServer(s.cfg.MetricsAddr); err != nil {
				logger.Warn("Main", "Metrics server error: %v", err)
			}
		}()
	}

	go func() {
		logger.Info("Main", "Starting HTTP server on %s", s.cfg.HTTPAddr)
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("Main", "HTTP server error: %v", err)
		}
	}()

	logger.Info("Main", "Server started successfully")
	return nil
}

// Shutdown stops scanning and closes every connection
func (s *Server) Shutdown() error {
	s.session.Stop()
	s.hub.Close()
	_ = s.webrtc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
