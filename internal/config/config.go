// Package config loads and validates the detection engine configuration.
//
// Every detection threshold lives here on purpose: which accounts get
// flagged is a policy decision, not an algorithmic one, and the engine
// refuses to start with a configuration outside its valid domain.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// ErrInvalidConfiguration indicates a threshold outside its valid domain.
// It is returned before any transaction is processed.
var ErrInvalidConfiguration = errors.New("invalid configuration")

// KingpinMode selects how centrality candidates are cut from the ranked
// population.
type KingpinMode string

const (
	// KingpinModePercentile flags accounts at or above the p-th
	// percentile of the in-degree centrality distribution.
	KingpinModePercentile KingpinMode = "percentile"
	// KingpinModeTopN flags the N highest-ranked accounts.
	KingpinModeTopN KingpinMode = "topn"
)

// Config is the complete engine configuration.
type Config struct {
	Loader      LoaderConfig      `yaml:"loader" mapstructure:"loader"`
	Kingpin     KingpinConfig     `yaml:"kingpin" mapstructure:"kingpin"`
	Structuring StructuringConfig `yaml:"structuring" mapstructure:"structuring"`
	Rings       RingConfig        `yaml:"rings" mapstructure:"rings"`
	Risk        RiskConfig        `yaml:"risk" mapstructure:"risk"`
	// WindowSize enables windowed batch mode when positive: the ledger is
	// analyzed one time slice at a time and only account-level summaries
	// are merged across slices.
	WindowSize  time.Duration `yaml:"window_size" mapstructure:"window_size"`
	LogLevel    string        `yaml:"log_level" mapstructure:"log_level"`
	MetricsAddr string        `yaml:"metrics_addr" mapstructure:"metrics_addr"`
}

// LoaderConfig controls ledger ingestion.
type LoaderConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
	// MaxRows caps the number of ledger rows read; 0 means unlimited.
	MaxRows int `yaml:"max_rows" mapstructure:"max_rows" validate:"gte=0"`
	// Kinds restricts ingestion to the listed transfer kinds. Laundering
	// flows move money between accounts, so payments and top-ups are
	// excluded by default.
	Kinds []string `yaml:"kinds" mapstructure:"kinds"`
}

// KingpinConfig selects aggregation-hub candidates from the centrality
// ranking.
type KingpinConfig struct {
	Mode KingpinMode `yaml:"mode" mapstructure:"mode" validate:"oneof=percentile topn"`
	// Percentile is the cut for KingpinModePercentile, in (0, 100].
	Percentile float64 `yaml:"percentile" mapstructure:"percentile" validate:"gt=0,lte=100"`
	// TopN is the cut for KingpinModeTopN.
	TopN int `yaml:"top_n" mapstructure:"top_n" validate:"gte=1"`
}

// StructuringConfig holds the smurfing-detection thresholds. These trade
// recall for precision: tightening them misses more real structuring but
// flags fewer legitimate high-activity accounts. Choosing them is policy,
// not detection.
type StructuringConfig struct {
	// HighFrequencyCount is the outbound transaction count above which an
	// account is considered high frequency within a window.
	HighFrequencyCount int `yaml:"high_frequency_count" mapstructure:"high_frequency_count" validate:"gte=1"`
	// LowVolumeMean is the mean outbound amount below which high-frequency
	// activity looks like a split-up large sum.
	LowVolumeMean float64 `yaml:"low_volume_mean" mapstructure:"low_volume_mean" validate:"gt=0"`
	// ReportingThreshold is the regulatory reporting limit amounts cluster
	// under (10,000 in most jurisdictions).
	ReportingThreshold float64 `yaml:"reporting_threshold" mapstructure:"reporting_threshold" validate:"gt=0"`
	// Margin widens the reporting-threshold clustering check to amounts in
	// [ReportingThreshold-Margin, ReportingThreshold). Zero disables the
	// clustering condition.
	Margin float64 `yaml:"margin" mapstructure:"margin" validate:"gte=0"`
	// Window is the time slice over which outbound statistics are
	// computed; zero evaluates the whole run as one window.
	Window time.Duration `yaml:"window" mapstructure:"window"`
}

// RingConfig controls ego-graph extraction around kingpin candidates.
type RingConfig struct {
	// Depth of the inbound traversal: 1 captures direct senders, 2 also
	// captures one layering hop through mule accounts.
	Depth int `yaml:"depth" mapstructure:"depth" validate:"oneof=1 2"`
	// MinEdgeWeight drops noise edges below this aggregate flow.
	MinEdgeWeight float64 `yaml:"min_edge_weight" mapstructure:"min_edge_weight" validate:"gte=0"`
	// MinMembers drops rings with fewer sender members than this.
	MinMembers int `yaml:"min_members" mapstructure:"min_members" validate:"gte=2"`
}

// RiskConfig weights the composite score. The two weights must sum to 1.
type RiskConfig struct {
	WeightCentrality  float64 `yaml:"weight_centrality" mapstructure:"weight_centrality" validate:"gte=0,lte=1"`
	WeightStructuring float64 `yaml:"weight_structuring" mapstructure:"weight_structuring" validate:"gte=0,lte=1"`
}

// Default returns the configuration used when no file is supplied. The
// detection thresholds mirror the original forensic prototype: fan-in of
// five or more senders, mean inbound amount under 50,000, and the 10,000
// reporting limit.
func Default() Config {
	return Config{
		Loader: LoaderConfig{
			Kinds: []string{"TRANSFER", "CASH_OUT"},
		},
		Kingpin: KingpinConfig{
			Mode:       KingpinModePercentile,
			Percentile: 99,
			TopN:       10,
		},
		Structuring: StructuringConfig{
			HighFrequencyCount: 5,
			LowVolumeMean:      50000,
			ReportingThreshold: 10000,
			Margin:             0,
		},
		Rings: RingConfig{
			Depth:      1,
			MinMembers: 2,
		},
		Risk: RiskConfig{
			WeightCentrality:  0.6,
			WeightStructuring: 0.4,
		},
		LogLevel: "info",
	}
}

// Load reads configuration from the given YAML file (optional) and
// LEDGERSIFT_* environment variables, env winning over file over
// defaults, then validates the result. Load fails fast: a bad threshold
// is a caller error and no data is touched before it is caught.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("LEDGERSIFT")

	// Every key must be registered for AutomaticEnv to see it during
	// Unmarshal, so the defaults go through viper rather than a struct
	// literal.
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("loader.path", d.Loader.Path)
	v.SetDefault("loader.max_rows", d.Loader.MaxRows)
	v.SetDefault("loader.kinds", d.Loader.Kinds)
	v.SetDefault("kingpin.mode", string(d.Kingpin.Mode))
	v.SetDefault("kingpin.percentile", d.Kingpin.Percentile)
	v.SetDefault("kingpin.top_n", d.Kingpin.TopN)
	v.SetDefault("structuring.high_frequency_count", d.Structuring.HighFrequencyCount)
	v.SetDefault("structuring.low_volume_mean", d.Structuring.LowVolumeMean)
	v.SetDefault("structuring.reporting_threshold", d.Structuring.ReportingThreshold)
	v.SetDefault("structuring.margin", d.Structuring.Margin)
	v.SetDefault("structuring.window", d.Structuring.Window)
	v.SetDefault("rings.depth", d.Rings.Depth)
	v.SetDefault("rings.min_edge_weight", d.Rings.MinEdgeWeight)
	v.SetDefault("rings.min_members", d.Rings.MinMembers)
	v.SetDefault("risk.weight_centrality", d.Risk.WeightCentrality)
	v.SetDefault("risk.weight_structuring", d.Risk.WeightStructuring)
	v.SetDefault("window_size", d.WindowSize)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("metrics_addr", d.MetricsAddr)
}

// Validate checks every threshold against its valid domain.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	}

	// Cross-field checks the tag validator cannot express.
	if sum := c.Risk.WeightCentrality + c.Risk.WeightStructuring; !almostOne(sum) {
		return fmt.Errorf("%w: risk weights must sum to 1, got %v", ErrInvalidConfiguration, sum)
	}
	if c.Structuring.Margin >= c.Structuring.ReportingThreshold {
		return fmt.Errorf("%w: structuring margin %v must be below the reporting threshold %v",
			ErrInvalidConfiguration, c.Structuring.Margin, c.Structuring.ReportingThreshold)
	}
	if c.WindowSize < 0 {
		return fmt.Errorf("%w: window_size must not be negative", ErrInvalidConfiguration)
	}
	return nil
}

func almostOne(v float64) bool {
	const eps = 1e-9
	return v > 1-eps && v < 1+eps
}
