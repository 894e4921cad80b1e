// Package main provides the CLI entrypoint for the ANPR processing daemon.
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anpr-core/anpr/internal/api"
	"github.com/anpr-core/anpr/internal/config"
	"github.com/anpr-core/anpr/pkg/anpr"
)

var version = "0.1.0"

func main() {
	configPath := flag.String("config", "", "Path to YAML configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	apiAddr := flag.String("api-addr", "", "HTTP/WebSocket listen address (overrides config, e.g. 0.0.0.0:8000)")
	verbose := flag.Bool("verbose", false, "Enable verbose output")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "anprd - real-time vehicle tracking and plate recognition pipeline\n\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s                          # Run with default settings\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -config config.yaml      # Run with custom config\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -api-addr :9000          # Override the API listen address\n", os.Args[0])
	}

	flag.Parse()

	if *showVersion {
		fmt.Printf("anprd version %s\n", version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if *verbose {
		log.Printf("configuration: mode=%s cameras=%d frame_queue=%d",
			cfg.System.Mode, len(cfg.EnabledCameras()), cfg.System.FrameQueueSize)
	}

	pipelineCfg := buildPipelineConfig(cfg)

	// The CNN vehicle detector and OCR inference engine are external
	// collaborators this daemon does not ship; without them the pipeline
	// still acquires and buffers frames, it simply never creates tracks.
	pipeline, err := anpr.NewPipeline(pipelineCfg, nil, nil)
	if err != nil {
		log.Fatalf("failed to construct pipeline: %v", err)
	}
	defer pipeline.Close()

	if err := pipeline.Start(); err != nil {
		log.Fatalf("failed to start pipeline: %v", err)
	}
	log.Println("pipeline started")

	addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
	if *apiAddr != "" {
		addr = *apiAddr
	}

	server := api.NewServer(pipeline)
	httpServer := &http.Server{Addr: addr, Handler: server.Handler()}

	go func() {
		log.Printf("api listening on %s", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("api server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %v, shutting down...", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("api shutdown error: %v", err)
	}

	if err := pipeline.Stop(); err != nil {
		log.Printf("pipeline stop error: %v", err)
	}
}

func buildPipelineConfig(cfg *config.Config) anpr.PipelineConfig {
	var specs []anpr.CameraSpec
	for _, c := range cfg.EnabledCameras() {
		specs = append(specs, anpr.CameraSpec{
			ID:         c.ID,
			Name:       c.Name,
			Descriptor: c.Source,
			FPS:        c.FPS,
			Width:      c.Width,
			Height:     c.Height,
		})
	}

	pc := anpr.PipelineConfig{
		Cameras:        specs,
		FrameQueueSize: cfg.System.FrameQueueSize,
		Tracking: anpr.TrackerConfig{
			MinHits:       cfg.Tracking.MinHits,
			MaxLostFrames: cfg.Tracking.MaxLostFrames,
			IoUThreshold:  cfg.Tracking.IoU,
		},
		OCR: anpr.OCRConfig{
			Enabled:            cfg.OCR.Enabled,
			ThrottleFrames:     cfg.OCR.ThrottleFrames,
			MaxConcurrent:      cfg.OCR.MaxConcurrent,
			MinPlateConfidence: cfg.OCR.MinPlateConfidence,
			FusionMinSamples:   cfg.OCR.FusionMinSamples,
			MaxSamples:         cfg.OCR.MaxSamples,
		},
		Events: anpr.FSMConfig{
			EntryYThreshold:      cfg.Events.EntryYThreshold,
			ExitYThreshold:       cfg.Events.ExitYThreshold,
			MinDwellTime:         time.Duration(cfg.Events.MinDwellTime * float64(time.Second)),
			DedupWindow:          time.Duration(cfg.Events.DedupWindow * float64(time.Second)),
			RequirePlateForEntry: cfg.Events.RequirePlateForEntry,
			RequirePlateForExit:  cfg.Events.RequirePlateForExit,
		},
		DatabasePath: cfg.Database.Path,
	}
	pc.Detection.Confidence = cfg.Detection.Confidence
	pc.Detection.IoU = cfg.Detection.IoU
	pc.Detection.Classes = cfg.Detection.Classes
	return pc
}
