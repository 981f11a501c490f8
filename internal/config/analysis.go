package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/banshee-data/brv.report/internal/cpet"
	"github.com/banshee-data/brv.report/internal/units"
)

// DefaultConfigPath is the path to the canonical analysis defaults file.
// The Get* accessors fall back to the same values.
const DefaultConfigPath = "config/analysis.defaults.json"

// AnalysisConfig represents the root configuration of an analysis run.
// Every field is optional; nil means "use the default".
type AnalysisConfig struct {
	// Conditioning
	EffortAxis *string `json:"effort_axis,omitempty"` // "time" or "work"
	Channel    *string `json:"channel,omitempty"`
	MinSamples *int    `json:"min_samples,omitempty"`

	// Trend fit
	MinDegree       *int    `json:"min_degree,omitempty"`
	MaxDegree       *int    `json:"max_degree,omitempty"`
	DegreeCriterion *string `json:"degree_criterion,omitempty"` // "loocv" or "adjusted_r2"

	// Curvature profile and candidates
	GridPoints       *int     `json:"grid_points,omitempty"`
	WindowFraction   *float64 `json:"window_fraction,omitempty"`
	LocalDegree      *int     `json:"local_degree,omitempty"`
	EdgeFraction     *float64 `json:"edge_fraction,omitempty"`
	MinRelativeScore *float64 `json:"min_relative_score,omitempty"`
	MinScore         *float64 `json:"min_score,omitempty"`

	// Selection
	CalibrateTies *bool `json:"calibrate_ties,omitempty"`

	// BRV
	IntervalSource *string `json:"interval_source,omitempty"` // "ttot" or "rr"

	// Agreement
	NormalityAlpha     *float64 `json:"normality_alpha,omitempty"`
	CILevel            *float64 `json:"ci_level,omitempty"`
	CIMethod           *string  `json:"ci_method,omitempty"` // "fisher" or "bootstrap"
	BootstrapResamples *int     `json:"bootstrap_resamples,omitempty"`
	BootstrapSeed      *int64   `json:"bootstrap_seed,omitempty"`
	MinCohort          *int     `json:"min_cohort,omitempty"`

	// Run
	Workers         *int        `json:"workers,omitempty"`
	// AugmentChannels keeps an explicit empty list on the wire; nil
	// encodes as null and selects the defaults.
	AugmentChannels []string    `json:"augment_channels"`
	LiteratureRMSSD *ZoneValues `json:"literature_rmssd_ms,omitempty"`
}

// ZoneValues holds one optional value per metabolic zone.
type ZoneValues struct {
	Zone1 *float64 `json:"zone1,omitempty"`
	Zone2 *float64 `json:"zone2,omitempty"`
	Zone3 *float64 `json:"zone3,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }
func ptrInt64(v int64) *int64       { return &v }

// EmptyAnalysisConfig returns an AnalysisConfig with all fields set to nil.
func EmptyAnalysisConfig() *AnalysisConfig {
	return &AnalysisConfig{}
}

// DefaultAnalysisConfig returns a config with every field populated with
// its default, as written to config/analysis.defaults.json.
func DefaultAnalysisConfig() *AnalysisConfig {
	return &AnalysisConfig{
		EffortAxis:         ptrString(string(cpet.AxisTime)),
		Channel:            ptrString(cpet.ChannelRR.String()),
		MinSamples:         ptrInt(cpet.DefaultMinSamples),
		MinDegree:          ptrInt(2),
		MaxDegree:          ptrInt(5),
		DegreeCriterion:    ptrString("loocv"),
		GridPoints:         ptrInt(501),
		WindowFraction:     ptrFloat64(0.2),
		LocalDegree:        ptrInt(3),
		EdgeFraction:       ptrFloat64(0.25),
		MinRelativeScore:   ptrFloat64(0.2),
		MinScore:           ptrFloat64(0),
		CalibrateTies:      ptrBool(false),
		IntervalSource:     ptrString(units.IntervalTtot),
		NormalityAlpha:     ptrFloat64(0.05),
		CILevel:            ptrFloat64(0.95),
		CIMethod:           ptrString("fisher"),
		BootstrapResamples: ptrInt(2000),
		BootstrapSeed:      ptrInt64(1),
		MinCohort:          ptrInt(3),
		Workers:            ptrInt(4),
		AugmentChannels:    defaultAugmentChannels(),
	}
}

func defaultAugmentChannels() []string {
	return []string{cpet.ChannelVt.String(), cpet.ChannelVe.String()}
}

// LoadAnalysisConfig loads an AnalysisConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file fall back to their defaults, so
// partial configs are safe.
func LoadAnalysisConfig(path string) (*AnalysisConfig, error) {
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

	cfg := EmptyAnalysisConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *AnalysisConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from cmd/brv/
	}
	for _, path := range candidates {
		if cfg, err := LoadAnalysisConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *AnalysisConfig) Validate() error {
	if c.EffortAxis != nil {
		if _, err := cpet.ParseAxis(*c.EffortAxis); err != nil {
			return err
		}
	}
	if c.Channel != nil {
		if _, err := cpet.ParseChannel(*c.Channel); err != nil {
			return err
		}
	}
	if c.MinSamples != nil && *c.MinSamples < 2 {
		return fmt.Errorf("min_samples must be at least 2, got %d", *c.MinSamples)
	}
	if c.GetMinDegree() < 1 || c.GetMaxDegree() < c.GetMinDegree() {
		return fmt.Errorf("degree range [%d, %d] is invalid", c.GetMinDegree(), c.GetMaxDegree())
	}
	if c.MaxDegree != nil && *c.MaxDegree > 10 {
		return fmt.Errorf("max_degree must be at most 10, got %d", *c.MaxDegree)
	}
	if c.DegreeCriterion != nil && *c.DegreeCriterion != "loocv" && *c.DegreeCriterion != "adjusted_r2" {
		return fmt.Errorf("degree_criterion must be loocv or adjusted_r2, got %q", *c.DegreeCriterion)
	}
	if c.GridPoints != nil && *c.GridPoints < 3 {
		return fmt.Errorf("grid_points must be at least 3, got %d", *c.GridPoints)
	}
	if c.WindowFraction != nil && (*c.WindowFraction <= 0 || *c.WindowFraction > 1) {
		return fmt.Errorf("window_fraction must be in (0, 1], got %f", *c.WindowFraction)
	}
	if c.LocalDegree != nil && (*c.LocalDegree < 2 || *c.LocalDegree > 5) {
		return fmt.Errorf("local_degree must be between 2 and 5, got %d", *c.LocalDegree)
	}
	if c.EdgeFraction != nil && (*c.EdgeFraction < 0 || *c.EdgeFraction > 1) {
		return fmt.Errorf("edge_fraction must be between 0 and 1, got %f", *c.EdgeFraction)
	}
	if c.MinRelativeScore != nil && (*c.MinRelativeScore < 0 || *c.MinRelativeScore > 1) {
		return fmt.Errorf("min_relative_score must be between 0 and 1, got %f", *c.MinRelativeScore)
	}
	if c.MinScore != nil && *c.MinScore < 0 {
		return fmt.Errorf("min_score must be non-negative, got %f", *c.MinScore)
	}
	if c.IntervalSource != nil && !units.IsValidIntervalSource(*c.IntervalSource) {
		return fmt.Errorf("interval_source must be one of %s, got %q", units.GetValidIntervalSourcesString(), *c.IntervalSource)
	}
	if c.NormalityAlpha != nil && (*c.NormalityAlpha <= 0 || *c.NormalityAlpha >= 1) {
		return fmt.Errorf("normality_alpha must be in (0, 1), got %f", *c.NormalityAlpha)
	}
	if c.CILevel != nil && (*c.CILevel <= 0 || *c.CILevel >= 1) {
		return fmt.Errorf("ci_level must be in (0, 1), got %f", *c.CILevel)
	}
	if c.CIMethod != nil && *c.CIMethod != "fisher" && *c.CIMethod != "bootstrap" {
		return fmt.Errorf("ci_method must be fisher or bootstrap, got %q", *c.CIMethod)
	}
	if c.BootstrapResamples != nil && *c.BootstrapResamples < 100 {
		return fmt.Errorf("bootstrap_resamples must be at least 100, got %d", *c.BootstrapResamples)
	}
	if c.MinCohort != nil && *c.MinCohort < 3 {
		return fmt.Errorf("min_cohort must be at least 3, got %d", *c.MinCohort)
	}
	if c.Workers != nil && *c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", *c.Workers)
	}
	for _, name := range c.AugmentChannels {
		if _, err := cpet.ParseChannel(name); err != nil {
			return fmt.Errorf("augment_channels: %w", err)
		}
	}
	if z := c.LiteratureRMSSD; z != nil {
		for i, v := range []*float64{z.Zone1, z.Zone2, z.Zone3} {
			if v != nil && !(*v > 0) {
				return fmt.Errorf("literature_rmssd_ms zone%d must be positive, got %f", i+1, *v)
			}
		}
	}
	return nil
}

// GetEffortAxis returns the effort axis or the default.
func (c *AnalysisConfig) GetEffortAxis() cpet.Axis {
	if c.EffortAxis == nil {
		return cpet.AxisTime
	}
	a, err := cpet.ParseAxis(*c.EffortAxis)
	if err != nil {
		return cpet.AxisTime
	}
	return a
}

// GetChannel returns the analysed channel or the default.
func (c *AnalysisConfig) GetChannel() cpet.Channel {
	if c.Channel == nil {
		return cpet.ChannelRR
	}
	ch, err := cpet.ParseChannel(*c.Channel)
	if err != nil {
		return cpet.ChannelRR
	}
	return ch
}

// GetMinSamples returns the min_samples value or the default.
func (c *AnalysisConfig) GetMinSamples() int {
	if c.MinSamples == nil {
		return cpet.DefaultMinSamples
	}
	return *c.MinSamples
}

// GetMinDegree returns the min_degree value or the default.
func (c *AnalysisConfig) GetMinDegree() int {
	if c.MinDegree == nil {
		return 2
	}
	return *c.MinDegree
}

// GetMaxDegree returns the max_degree value or the default.
func (c *AnalysisConfig) GetMaxDegree() int {
	if c.MaxDegree == nil {
		return 5
	}
	return *c.MaxDegree
}

// GetDegreeCriterion returns the degree_criterion value or the default.
func (c *AnalysisConfig) GetDegreeCriterion() string {
	if c.DegreeCriterion == nil || *c.DegreeCriterion == "" {
		return "loocv"
	}
	return *c.DegreeCriterion
}

// GetGridPoints returns the grid_points value or the default.
func (c *AnalysisConfig) GetGridPoints() int {
	if c.GridPoints == nil {
		return 501
	}
	return *c.GridPoints
}

// GetWindowFraction returns the window_fraction value or the default.
func (c *AnalysisConfig) GetWindowFraction() float64 {
	if c.WindowFraction == nil {
		return 0.2
	}
	return *c.WindowFraction
}

// GetLocalDegree returns the local_degree value or the default.
func (c *AnalysisConfig) GetLocalDegree() int {
	if c.LocalDegree == nil {
		return 3
	}
	return *c.LocalDegree
}

// GetEdgeFraction returns the edge_fraction value or the default.
func (c *AnalysisConfig) GetEdgeFraction() float64 {
	if c.EdgeFraction == nil {
		return 0.25
	}
	return *c.EdgeFraction
}

// GetMinRelativeScore returns the min_relative_score value or the default.
func (c *AnalysisConfig) GetMinRelativeScore() float64 {
	if c.MinRelativeScore == nil {
		return 0.2
	}
	return *c.MinRelativeScore
}

// GetMinScore returns the min_score value or the default.
func (c *AnalysisConfig) GetMinScore() float64 {
	if c.MinScore == nil {
		return 0
	}
	return *c.MinScore
}

// GetCalibrateTies returns the calibrate_ties value or the default.
func (c *AnalysisConfig) GetCalibrateTies() bool {
	if c.CalibrateTies == nil {
		return false
	}
	return *c.CalibrateTies
}

// GetIntervalSource returns the interval_source value or the default.
func (c *AnalysisConfig) GetIntervalSource() string {
	if c.IntervalSource == nil || *c.IntervalSource == "" {
		return units.IntervalTtot
	}
	return *c.IntervalSource
}

// GetNormalityAlpha returns the normality_alpha value or the default.
func (c *AnalysisConfig) GetNormalityAlpha() float64 {
	if c.NormalityAlpha == nil {
		return 0.05
	}
	return *c.NormalityAlpha
}

// GetCILevel returns the ci_level value or the default.
func (c *AnalysisConfig) GetCILevel() float64 {
	if c.CILevel == nil {
		return 0.95
	}
	return *c.CILevel
}

// GetCIMethod returns the ci_method value or the default.
func (c *AnalysisConfig) GetCIMethod() string {
	if c.CIMethod == nil || *c.CIMethod == "" {
		return "fisher"
	}
	return *c.CIMethod
}

// GetBootstrapResamples returns the bootstrap_resamples value or the default.
func (c *AnalysisConfig) GetBootstrapResamples() int {
	if c.BootstrapResamples == nil {
		return 2000
	}
	return *c.BootstrapResamples
}

// GetBootstrapSeed returns the bootstrap_seed value or the default.
func (c *AnalysisConfig) GetBootstrapSeed() int64 {
	if c.BootstrapSeed == nil {
		return 1
	}
	return *c.BootstrapSeed
}

// GetMinCohort returns the min_cohort value or the default.
func (c *AnalysisConfig) GetMinCohort() int {
	if c.MinCohort == nil {
		return 3
	}
	return *c.MinCohort
}

// GetWorkers returns the workers value or the default.
func (c *AnalysisConfig) GetWorkers() int {
	if c.Workers == nil {
		return 4
	}
	return *c.Workers
}

// GetAugmentChannels returns the auxiliary channels of the augmented pass.
// An omitted list selects Vt and Ve; an explicit empty list disables the
// pass.
func (c *AnalysisConfig) GetAugmentChannels() []cpet.Channel {
	names := c.AugmentChannels
	if names == nil {
		names = defaultAugmentChannels()
	}
	var out []cpet.Channel
	for _, n := range names {
		if ch, err := cpet.ParseChannel(n); err == nil {
			out = append(out, ch)
		}
	}
	return out
}

// GetLiteratureRMSSD returns the per-zone literature RMSSD in ms, NaN
// where no value is configured.
func (c *AnalysisConfig) GetLiteratureRMSSD() [3]float64 {
	out := [3]float64{math.NaN(), math.NaN(), math.NaN()}
	if z := c.LiteratureRMSSD; z != nil {
		for i, v := range []*float64{z.Zone1, z.Zone2, z.Zone3} {
			if v != nil {
				out[i] = *v
			}
		}
	}
	return out
}
