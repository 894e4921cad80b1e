// Package config provides YAML configuration loading for the ANPR core.
//
// The configuration file supports the following structure:
//
//	system:
//	  mode: demo
//	  log_level: info
//	cameras:
//	  - id: 1
//	    name: "Front Gate"
//	    source: "0"
//	    fps: 20
//	detection:
//	  confidence: 0.4
//	tracking:
//	  max_lost_frames: 30
//	ocr:
//	  enabled: true
//	events:
//	  entry_y_threshold: 0.6
//	database:
//	  type: sqlite
//	  path: anpr.db
//	api:
//	  host: 0.0.0.0
//	  port: 8000
//
// Example usage:
//
//	cfg, err := config.Load("config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Cameras configured: %d\n", len(cfg.Cameras))
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/anpr-core/anpr/internal/errkind"
)

// SystemMode selects the overall run mode.
type SystemMode string

const (
	ModeDemo       SystemMode = "demo"
	ModeProduction SystemMode = "production"
	ModeHeadless   SystemMode = "headless"
)

// Config is the complete, immutable configuration for one process.
// Construct it once at startup via Load and pass it by reference into
// each component; nothing in this repo mutates a *Config after Load returns.
type Config struct {
	System    SystemConfig    `yaml:"system"`
	Cameras   []CameraConfig  `yaml:"cameras"`
	Detection DetectionConfig `yaml:"detection"`
	Tracking  TrackingConfig  `yaml:"tracking"`
	OCR       OCRConfig       `yaml:"ocr"`
	Events    EventConfig     `yaml:"events"`
	Database  DatabaseConfig  `yaml:"database"`
	API       APIConfig       `yaml:"api"`
}

// SystemConfig holds process-wide settings.
type SystemConfig struct {
	Mode            SystemMode `yaml:"mode"`
	LogLevel        string     `yaml:"log_level"`
	LogFile         string     `yaml:"log_file"`
	FrameQueueSize  int        `yaml:"frame_queue_size"`
	EventBufferSize int        `yaml:"event_buffer_size"`
	MetricsEnabled  bool       `yaml:"metrics_enabled"`
}

// CameraConfig describes one camera source.
type CameraConfig struct {
	ID      int    `yaml:"id"`
	Name    string `yaml:"name"`
	Source  string `yaml:"source"`
	FPS     int    `yaml:"fps"`
	Width   int    `yaml:"width"`
	Height  int    `yaml:"height"`
	Enabled bool   `yaml:"enabled"`
}

// DetectionConfig configures the detector adapter.
type DetectionConfig struct {
	Model      string  `yaml:"model"`
	Confidence float64 `yaml:"confidence"`
	IoU        float64 `yaml:"iou_threshold"`
	Device     string  `yaml:"device"`
	FP16       bool    `yaml:"fp16"`
	Classes    []int   `yaml:"classes"`
}

// TrackingConfig configures the per-camera tracker.
type TrackingConfig struct {
	MaxLostFrames int     `yaml:"max_lost_frames"`
	MinHits       int     `yaml:"min_hits"`
	IoU           float64 `yaml:"iou_threshold"`
	MaxAge        int     `yaml:"max_age"`
}

// OCRConfig configures the OCR adapter and fusion.
type OCRConfig struct {
	Enabled            bool    `yaml:"enabled"`
	Language           string  `yaml:"language"`
	ThrottleFrames     int     `yaml:"throttle_frames"`
	MinPlateConfidence float64 `yaml:"min_plate_confidence"`
	MaxConcurrent      int     `yaml:"max_concurrent"`
	Timeout            float64 `yaml:"timeout"`
	FusionMinSamples   int     `yaml:"fusion_min_samples"`
	MaxSamples         int     `yaml:"max_samples"`
}

// EventConfig configures the entry/exit FSM.
type EventConfig struct {
	EntryYThreshold      float64 `yaml:"entry_y_threshold"`
	ExitYThreshold       float64 `yaml:"exit_y_threshold"`
	MinDwellTime         float64 `yaml:"min_dwell_time"`
	DedupWindow          float64 `yaml:"dedup_window"`
	RequirePlateForEntry bool    `yaml:"require_plate_for_entry"`
	RequirePlateForExit  bool    `yaml:"require_plate_for_exit"`
}

// DatabaseConfig configures the durable writer.
type DatabaseConfig struct {
	Type     string `yaml:"type"`
	Path     string `yaml:"path"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	PoolSize int    `yaml:"pool_size"`
}

// APIConfig configures the read-only HTTP/WebSocket surface.
type APIConfig struct {
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	Workers     int      `yaml:"workers"`
	Reload      bool     `yaml:"reload"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// Default returns the demo-mode default configuration.
func Default() *Config {
	return &Config{
		System: SystemConfig{
			Mode:            ModeDemo,
			LogLevel:        "info",
			FrameQueueSize:  2,
			EventBufferSize: 1000,
			MetricsEnabled:  true,
		},
		Cameras: []CameraConfig{
			{ID: 1, Name: "Demo Camera", Source: "0", FPS: 20, Width: 1280, Height: 720, Enabled: true},
		},
		Detection: DetectionConfig{
			Model:      "yolov8n.pt",
			Confidence: 0.4,
			IoU:        0.5,
			Device:     "cpu",
			Classes:    []int{2, 3, 5, 7},
		},
		Tracking: TrackingConfig{
			MaxLostFrames: 30,
			MinHits:       3,
			IoU:           0.3,
			MaxAge:        60,
		},
		OCR: OCRConfig{
			Enabled:            true,
			Language:           "en",
			ThrottleFrames:     10,
			MinPlateConfidence: 0.6,
			MaxConcurrent:      2,
			Timeout:            0.5,
			FusionMinSamples:   3,
			MaxSamples:         5,
		},
		Events: EventConfig{
			EntryYThreshold:      0.6,
			ExitYThreshold:       0.9,
			MinDwellTime:         1.0,
			DedupWindow:          60,
			RequirePlateForEntry: false,
			RequirePlateForExit:  true,
		},
		Database: DatabaseConfig{
			Type: "sqlite",
			Path: "anpr.db",
		},
		API: APIConfig{
			Host:        "0.0.0.0",
			Port:        8000,
			Workers:     1,
			CORSOrigins: []string{"*"},
		},
	}
}

// Load reads and parses a YAML configuration file at path.
// If the file does not exist, a demo default configuration is written to
// path and returned, mirroring the original system's first-run behavior.
func Load(path string) (*Config, error) {
	if path == "" {
		cfg := Default()
		if err := cfg.Validate(); err != nil {
			return nil, errkind.New(errkind.Config, "validating default config", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := Default()
			if werr := writeDefault(path, cfg); werr != nil {
				return nil, errkind.New(errkind.Config, "writing default config", werr)
			}
			if verr := cfg.Validate(); verr != nil {
				return nil, errkind.New(errkind.Config, "validating default config", verr)
			}
			return cfg, nil
		}
		return nil, errkind.New(errkind.Config, "reading config file", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errkind.New(errkind.Config, "parsing config file", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, errkind.New(errkind.Config, "validating config", err)
	}

	return cfg, nil
}

// writeDefault serializes cfg as YAML to path, creating parent directories.
func writeDefault(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling default config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks the configuration for invalid values. This is the only
// place configuration errors are raised; once Load returns successfully
// the configuration is assumed valid for the process's lifetime.
func (c *Config) Validate() error {
	switch c.System.Mode {
	case ModeDemo, ModeProduction, ModeHeadless:
	default:
		return fmt.Errorf("system.mode must be demo, production or headless, got %q", c.System.Mode)
	}
	switch c.Database.Type {
	case "sqlite", "postgresql":
	default:
		return fmt.Errorf("database.type must be sqlite or postgresql, got %q", c.Database.Type)
	}
	if c.Detection.Confidence < 0 || c.Detection.Confidence > 1 {
		return fmt.Errorf("detection.confidence must be in [0,1], got %f", c.Detection.Confidence)
	}
	if c.Detection.IoU < 0 || c.Detection.IoU > 1 {
		return fmt.Errorf("detection.iou_threshold must be in [0,1], got %f", c.Detection.IoU)
	}
	if c.Tracking.IoU < 0 || c.Tracking.IoU > 1 {
		return fmt.Errorf("tracking.iou_threshold must be in [0,1], got %f", c.Tracking.IoU)
	}
	if c.Tracking.MinHits <= 0 {
		return fmt.Errorf("tracking.min_hits must be positive, got %d", c.Tracking.MinHits)
	}
	if c.Tracking.MaxLostFrames <= 0 {
		return fmt.Errorf("tracking.max_lost_frames must be positive, got %d", c.Tracking.MaxLostFrames)
	}
	if c.Events.EntryYThreshold < 0 || c.Events.EntryYThreshold > 1 {
		return fmt.Errorf("events.entry_y_threshold must be in [0,1], got %f", c.Events.EntryYThreshold)
	}
	if c.Events.ExitYThreshold < 0 || c.Events.ExitYThreshold > 1 {
		return fmt.Errorf("events.exit_y_threshold must be in [0,1], got %f", c.Events.ExitYThreshold)
	}
	if c.Events.DedupWindow < 0 {
		return fmt.Errorf("events.dedup_window must be non-negative, got %f", c.Events.DedupWindow)
	}
	if c.System.FrameQueueSize <= 0 {
		return fmt.Errorf("system.frame_queue_size must be positive, got %d", c.System.FrameQueueSize)
	}
	if c.OCR.Enabled && c.OCR.MaxConcurrent <= 0 {
		return fmt.Errorf("ocr.max_concurrent must be positive when ocr is enabled, got %d", c.OCR.MaxConcurrent)
	}
	if c.OCR.FusionMinSamples <= 0 {
		return fmt.Errorf("ocr.fusion_min_samples must be positive, got %d", c.OCR.FusionMinSamples)
	}
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("api.port must be between 1 and 65535, got %d", c.API.Port)
	}
	for _, cam := range c.Cameras {
		if cam.Enabled && cam.FPS <= 0 {
			return fmt.Errorf("camera %d: fps must be positive, got %d", cam.ID, cam.FPS)
		}
	}
	return nil
}

// EnabledCameras returns the subset of Cameras with Enabled set.
func (c *Config) EnabledCameras() []CameraConfig {
	var out []CameraConfig
	for _, cam := range c.Cameras {
		if cam.Enabled {
			out = append(out, cam)
		}
	}
	return out
}
