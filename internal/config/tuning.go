package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig holds the calibration constants of the tracker. Every field is
// optional; the Get* accessors return the calibrated default for anything the
// file leaves out, so partial configs are safe.
type TuningConfig struct {
	// Frame geometry
	FrameWidth  *int `json:"frame_width,omitempty"`
	FrameHeight *int `json:"frame_height,omitempty"`

	// Send gate intervals, duration strings like "30ms"
	AimSendInterval      *string `json:"aim_send_interval,omitempty"`
	TrackingSendInterval *string `json:"tracking_send_interval,omitempty"`

	// Trajectory
	ScanPeriod      *string  `json:"scan_period,omitempty"`
	PhaseGain       *float64 `json:"phase_gain,omitempty"`
	SmoothingFactor *float64 `json:"smoothing_factor,omitempty"`
	RadiusScale     *float64 `json:"radius_scale,omitempty"`

	// Candidate validation
	MinRectArea       *float64 `json:"min_rect_area,omitempty"`
	MaxAreaFraction   *float64 `json:"max_area_fraction,omitempty"`
	LargeAreaFraction *float64 `json:"large_area_fraction,omitempty"`
	MaxLargeDensity   *float64 `json:"max_large_density,omitempty"`
	MaxAspectRatio    *float64 `json:"max_aspect_ratio,omitempty"`
	MinShapeFactor    *float64 `json:"min_shape_factor,omitempty"`

	// Blob extraction (camera detector)
	DarkThreshold *int `json:"dark_threshold,omitempty"`
	MinBlobPixels *int `json:"min_blob_pixels,omitempty"`
	MinBlobArea   *int `json:"min_blob_area,omitempty"`

	// Control loop
	ErrorBackoff   *string `json:"error_backoff,omitempty"`
	ReinitBackoff  *string `json:"reinit_backoff,omitempty"`
	IdlePoll       *string `json:"idle_poll,omitempty"`
	DrainTimeout   *string `json:"drain_timeout,omitempty"`
	DegradeAfter   *int    `json:"degrade_after,omitempty"`
	StatusLogEvery *int    `json:"status_log_every,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil, which
// resolves every accessor to its default.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a TuningConfig with every field populated with
// its calibrated default. It is what config/tuning.defaults.json contains.
func DefaultTuningConfig() *TuningConfig {
	return &TuningConfig{
		FrameWidth:           ptrInt(240),
		FrameHeight:          ptrInt(160),
		AimSendInterval:      ptrString("30ms"),
		TrackingSendInterval: ptrString("50ms"),
		ScanPeriod:           ptrString("15s"),
		PhaseGain:            ptrFloat64(0.3),
		SmoothingFactor:      ptrFloat64(0.7),
		RadiusScale:          ptrFloat64(0.2891),
		MinRectArea:          ptrFloat64(1000),
		MaxAreaFraction:      ptrFloat64(0.95),
		LargeAreaFraction:    ptrFloat64(0.75),
		MaxLargeDensity:      ptrFloat64(0.6),
		MaxAspectRatio:       ptrFloat64(4),
		MinShapeFactor:       ptrFloat64(1.1),
		DarkThreshold:        ptrInt(20),
		MinBlobPixels:        ptrInt(300),
		MinBlobArea:          ptrInt(2000),
		ErrorBackoff:         ptrString("500ms"),
		ReinitBackoff:        ptrString("1s"),
		IdlePoll:             ptrString("50ms"),
		DrainTimeout:         ptrString("200ms"),
		DegradeAfter:         ptrInt(1),
		StatusLogEvery:       ptrInt(5),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file must have a .json extension and be at most 1 MiB.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from internal/vision/gocvcam/
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	for name, p := range map[string]*int{
		"frame_width":  c.FrameWidth,
		"frame_height": c.FrameHeight,
	} {
		if p != nil && *p <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, *p)
		}
	}

	for name, p := range map[string]*string{
		"aim_send_interval":      c.AimSendInterval,
		"tracking_send_interval": c.TrackingSendInterval,
		"scan_period":            c.ScanPeriod,
		"error_backoff":          c.ErrorBackoff,
		"reinit_backoff":         c.ReinitBackoff,
		"idle_poll":              c.IdlePoll,
		"drain_timeout":          c.DrainTimeout,
	} {
		if p == nil || *p == "" {
			continue
		}
		d, err := time.ParseDuration(*p)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *p, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must not be negative, got %s", name, *p)
		}
	}
	if c.ScanPeriod != nil && *c.ScanPeriod != "" {
		if d, _ := time.ParseDuration(*c.ScanPeriod); d == 0 {
			return fmt.Errorf("scan_period must be positive")
		}
	}

	if c.PhaseGain != nil && (*c.PhaseGain <= 0 || *c.PhaseGain > 1) {
		return fmt.Errorf("phase_gain must be in (0, 1], got %f", *c.PhaseGain)
	}
	if c.SmoothingFactor != nil && (*c.SmoothingFactor < 0 || *c.SmoothingFactor >= 1) {
		return fmt.Errorf("smoothing_factor must be in [0, 1), got %f", *c.SmoothingFactor)
	}
	if c.RadiusScale != nil && *c.RadiusScale <= 0 {
		return fmt.Errorf("radius_scale must be positive, got %f", *c.RadiusScale)
	}

	for name, p := range map[string]*float64{
		"max_area_fraction":   c.MaxAreaFraction,
		"large_area_fraction": c.LargeAreaFraction,
		"max_large_density":   c.MaxLargeDensity,
	} {
		if p != nil && (*p <= 0 || *p > 1) {
			return fmt.Errorf("%s must be in (0, 1], got %f", name, *p)
		}
	}
	if c.MinRectArea != nil && *c.MinRectArea < 0 {
		return fmt.Errorf("min_rect_area must be non-negative, got %f", *c.MinRectArea)
	}
	if c.MaxAspectRatio != nil && *c.MaxAspectRatio < 1 {
		return fmt.Errorf("max_aspect_ratio must be at least 1, got %f", *c.MaxAspectRatio)
	}
	if c.MinShapeFactor != nil && *c.MinShapeFactor < 0 {
		return fmt.Errorf("min_shape_factor must be non-negative, got %f", *c.MinShapeFactor)
	}

	if c.DarkThreshold != nil && (*c.DarkThreshold < 0 || *c.DarkThreshold > 255) {
		return fmt.Errorf("dark_threshold must be between 0 and 255, got %d", *c.DarkThreshold)
	}
	for name, p := range map[string]*int{
		"min_blob_pixels":  c.MinBlobPixels,
		"min_blob_area":    c.MinBlobArea,
		"degrade_after":    c.DegradeAfter,
		"status_log_every": c.StatusLogEvery,
	} {
		if p != nil && *p < 0 {
			return fmt.Errorf("%s must be non-negative, got %d", name, *p)
		}
	}

	return nil
}

func getDuration(p *string, def time.Duration) time.Duration {
	if p == nil || *p == "" {
		return def
	}
	d, err := time.ParseDuration(*p)
	if err != nil {
		return def // default on parse error
	}
	return d
}

func getInt(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func getFloat(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

// GetFrameWidth returns the frame width in pixels (default 240).
func (c *TuningConfig) GetFrameWidth() int { return getInt(c.FrameWidth, 240) }

// GetFrameHeight returns the frame height in pixels (default 160).
func (c *TuningConfig) GetFrameHeight() int { return getInt(c.FrameHeight, 160) }

// GetAimSendInterval returns the send gate interval in aim mode.
func (c *TuningConfig) GetAimSendInterval() time.Duration {
	return getDuration(c.AimSendInterval, 30*time.Millisecond)
}

// GetTrackingSendInterval returns the send gate interval in tracking mode.
func (c *TuningConfig) GetTrackingSendInterval() time.Duration {
	return getDuration(c.TrackingSendInterval, 50*time.Millisecond)
}

// GetScanPeriod returns the duration of one scan revolution.
func (c *TuningConfig) GetScanPeriod() time.Duration {
	return getDuration(c.ScanPeriod, 15*time.Second)
}

func (c *TuningConfig) GetPhaseGain() float64       { return getFloat(c.PhaseGain, 0.3) }
func (c *TuningConfig) GetSmoothingFactor() float64 { return getFloat(c.SmoothingFactor, 0.7) }
func (c *TuningConfig) GetRadiusScale() float64     { return getFloat(c.RadiusScale, 0.2891) }

func (c *TuningConfig) GetMinRectArea() float64       { return getFloat(c.MinRectArea, 1000) }
func (c *TuningConfig) GetMaxAreaFraction() float64   { return getFloat(c.MaxAreaFraction, 0.95) }
func (c *TuningConfig) GetLargeAreaFraction() float64 { return getFloat(c.LargeAreaFraction, 0.75) }
func (c *TuningConfig) GetMaxLargeDensity() float64   { return getFloat(c.MaxLargeDensity, 0.6) }
func (c *TuningConfig) GetMaxAspectRatio() float64    { return getFloat(c.MaxAspectRatio, 4) }
func (c *TuningConfig) GetMinShapeFactor() float64    { return getFloat(c.MinShapeFactor, 1.1) }

func (c *TuningConfig) GetDarkThreshold() int { return getInt(c.DarkThreshold, 20) }
func (c *TuningConfig) GetMinBlobPixels() int { return getInt(c.MinBlobPixels, 300) }
func (c *TuningConfig) GetMinBlobArea() int   { return getInt(c.MinBlobArea, 2000) }

// GetErrorBackoff returns the pause after a failed cycle.
func (c *TuningConfig) GetErrorBackoff() time.Duration {
	return getDuration(c.ErrorBackoff, 500*time.Millisecond)
}

// GetReinitBackoff returns the pause between detector re-initialization attempts.
func (c *TuningConfig) GetReinitBackoff() time.Duration {
	return getDuration(c.ReinitBackoff, time.Second)
}

// GetIdlePoll returns the poll interval while idle.
func (c *TuningConfig) GetIdlePoll() time.Duration {
	return getDuration(c.IdlePoll, 50*time.Millisecond)
}

// GetDrainTimeout bounds how long the inbound backlog is drained after a command.
func (c *TuningConfig) GetDrainTimeout() time.Duration {
	return getDuration(c.DrainTimeout, 200*time.Millisecond)
}

// GetDegradeAfter returns the number of consecutive detector failures that
// mark the detector degraded. Zero is treated as 1.
func (c *TuningConfig) GetDegradeAfter() int {
	if n := getInt(c.DegradeAfter, 1); n > 0 {
		return n
	}
	return 1
}

// GetStatusLogEvery returns the sampling rate of the per-frame status log.
func (c *TuningConfig) GetStatusLogEvery() int { return getInt(c.StatusLogEvery, 5) }
