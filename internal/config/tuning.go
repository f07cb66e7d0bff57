package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for tuning parameters.
// The schema matches the /api/params endpoint so the same JSON can be
// used for both startup configuration and runtime inspection.
type TuningConfig struct {
	// Acceleration estimator params
	MinAcc *float64 `json:"min_acc,omitempty"` // clamp lower bound, m/s²
	MaxAcc *float64 `json:"max_acc,omitempty"` // clamp upper bound, m/s²

	// History params
	MaxFeatureHistory *int `json:"max_feature_history,omitempty"` // 0 = unbounded

	// Container params
	ObstacleTTL  *string `json:"obstacle_ttl,omitempty"` // duration string like "30s"
	MaxObstacles *int    `json:"max_obstacles,omitempty"`

	// Filter params (optional)
	FrameDT                *float64 `json:"frame_dt,omitempty"` // nominal perception frame step, seconds
	MotionAccelNoise       *float64 `json:"motion_accel_noise,omitempty"`
	MotionMeasurementNoise *float64 `json:"motion_measurement_noise,omitempty"`
	LaneProcessNoise       *float64 `json:"lane_process_noise,omitempty"`
	LaneMeasurementNoise   *float64 `json:"lane_measurement_noise,omitempty"`

	// Lane layout params
	LaneCount *int     `json:"lane_count,omitempty"`
	LaneWidth *float64 `json:"lane_width,omitempty"` // metres

	// Persistence params
	FlushInterval   *string `json:"flush_interval,omitempty"` // duration string like "5s"
	PersistFeatures *bool   `json:"persist_features,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	// Validate the config file path.
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
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

	// Parse JSON into empty config. The Get* methods provide fallback
	// defaults for any fields not specified in the JSON.
	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	// Try paths from current dir up to repo root
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/obstacle/ etc.
		"../../../../" + DefaultConfigPath, // deeper packages
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
	// The clamp band must be a real interval
	if c.GetMinAcc() >= c.GetMaxAcc() {
		return fmt.Errorf("min_acc (%f) must be less than max_acc (%f)", c.GetMinAcc(), c.GetMaxAcc())
	}

	// Validate MaxFeatureHistory if set
	if c.MaxFeatureHistory != nil {
		if *c.MaxFeatureHistory < 0 {
			return fmt.Errorf("max_feature_history must be non-negative, got %d", *c.MaxFeatureHistory)
		}
	}

	// Validate ObstacleTTL can be parsed if set
	if c.ObstacleTTL != nil && *c.ObstacleTTL != "" {
		if _, err := time.ParseDuration(*c.ObstacleTTL); err != nil {
			return fmt.Errorf("invalid obstacle_ttl '%s': %w", *c.ObstacleTTL, err)
		}
	}

	// Validate MaxObstacles if set
	if c.MaxObstacles != nil {
		if *c.MaxObstacles < 0 {
			return fmt.Errorf("max_obstacles must be non-negative, got %d", *c.MaxObstacles)
		}
	}

	// Validate FrameDT if set
	if c.FrameDT != nil {
		if *c.FrameDT <= 0 {
			return fmt.Errorf("frame_dt must be positive, got %f", *c.FrameDT)
		}
	}

	// Validate lane layout if set
	if c.LaneCount != nil {
		if *c.LaneCount < 1 {
			return fmt.Errorf("lane_count must be at least 1, got %d", *c.LaneCount)
		}
	}
	if c.LaneWidth != nil {
		if *c.LaneWidth <= 0 {
			return fmt.Errorf("lane_width must be positive, got %f", *c.LaneWidth)
		}
	}

	// Validate FlushInterval can be parsed if set
	if c.FlushInterval != nil && *c.FlushInterval != "" {
		if _, err := time.ParseDuration(*c.FlushInterval); err != nil {
			return fmt.Errorf("invalid flush_interval '%s': %w", *c.FlushInterval, err)
		}
	}

	return nil
}

// GetMinAcc returns the min_acc value or the default.
func (c *TuningConfig) GetMinAcc() float64 {
	if c.MinAcc == nil {
		return -10.0 // default, m/s²
	}
	return *c.MinAcc
}

// GetMaxAcc returns the max_acc value or the default.
func (c *TuningConfig) GetMaxAcc() float64 {
	if c.MaxAcc == nil {
		return 10.0 // default, m/s²
	}
	return *c.MaxAcc
}

// GetMaxFeatureHistory returns the max_feature_history value or the default.
func (c *TuningConfig) GetMaxFeatureHistory() int {
	if c.MaxFeatureHistory == nil {
		return 0 // default: unbounded
	}
	return *c.MaxFeatureHistory
}

// GetObstacleTTL parses and returns the ObstacleTTL as a time.Duration.
func (c *TuningConfig) GetObstacleTTL() time.Duration {
	if c.ObstacleTTL == nil || *c.ObstacleTTL == "" {
		return 30 * time.Second // default
	}
	d, err := time.ParseDuration(*c.ObstacleTTL)
	if err != nil {
		return 30 * time.Second // default on parse error
	}
	return d
}

// GetMaxObstacles returns the max_obstacles value or the default.
func (c *TuningConfig) GetMaxObstacles() int {
	if c.MaxObstacles == nil {
		return 512
	}
	return *c.MaxObstacles
}

// GetFrameDT returns the frame_dt value or the default.
func (c *TuningConfig) GetFrameDT() float64 {
	if c.FrameDT == nil {
		return 0.1 // default: 10Hz perception
	}
	return *c.FrameDT
}

// GetMotionAccelNoise returns the motion_accel_noise value or the default.
func (c *TuningConfig) GetMotionAccelNoise() float64 {
	if c.MotionAccelNoise == nil {
		return 2.0
	}
	return *c.MotionAccelNoise
}

// GetMotionMeasurementNoise returns the motion_measurement_noise value or the default.
func (c *TuningConfig) GetMotionMeasurementNoise() float64 {
	if c.MotionMeasurementNoise == nil {
		return 0.1
	}
	return *c.MotionMeasurementNoise
}

// GetLaneProcessNoise returns the lane_process_noise value or the default.
func (c *TuningConfig) GetLaneProcessNoise() float64 {
	if c.LaneProcessNoise == nil {
		return 0.05
	}
	return *c.LaneProcessNoise
}

// GetLaneMeasurementNoise returns the lane_measurement_noise value or the default.
func (c *TuningConfig) GetLaneMeasurementNoise() float64 {
	if c.LaneMeasurementNoise == nil {
		return 0.3
	}
	return *c.LaneMeasurementNoise
}

// GetLaneCount returns the lane_count value or the default.
func (c *TuningConfig) GetLaneCount() int {
	if c.LaneCount == nil {
		return 4
	}
	return *c.LaneCount
}

// GetLaneWidth returns the lane_width value or the default.
func (c *TuningConfig) GetLaneWidth() float64 {
	if c.LaneWidth == nil {
		return 3.7 // metres, standard lane
	}
	return *c.LaneWidth
}

// GetFlushInterval parses and returns the FlushInterval as a time.Duration.
func (c *TuningConfig) GetFlushInterval() time.Duration {
	if c.FlushInterval == nil || *c.FlushInterval == "" {
		return 5 * time.Second // default
	}
	d, err := time.ParseDuration(*c.FlushInterval)
	if err != nil {
		return 5 * time.Second // default on parse error
	}
	return d
}

// GetPersistFeatures returns the persist_features value or the default.
func (c *TuningConfig) GetPersistFeatures() bool {
	if c.PersistFeatures == nil {
		return false // default: persistence disabled
	}
	return *c.PersistFeatures
}
