// Package config loads application configuration from config.yaml and the
// environment, and initializes the global logger.
package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ConfigurationError marks invalid or missing settings detected at startup.
// It is always fatal: the process exits non-zero before touching any invoice.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %v", e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// IsConfigurationError reports whether err is (or wraps) a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return eris.As(err, &ce)
}

// Config holds the full application configuration.
type Config struct {
	CatalogPath string           `yaml:"catalog_path" mapstructure:"catalog_path"`
	InvoicesDir string           `yaml:"invoices_dir" mapstructure:"invoices_dir"`
	OutputDir   string           `yaml:"output_dir" mapstructure:"output_dir"`
	OCR         OCRConfig        `yaml:"ocr" mapstructure:"ocr"`
	Anthropic   AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Extraction  ExtractionConfig `yaml:"extraction" mapstructure:"extraction"`
	Thresholds  Thresholds       `yaml:"thresholds" mapstructure:"thresholds"`
	Reasoning   ReasoningConfig  `yaml:"reasoning" mapstructure:"reasoning"`
	Batch       BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Log         LogConfig        `yaml:"log" mapstructure:"log"`
}

// OCRConfig configures PDF text extraction.
type OCRConfig struct {
	Provider      string `yaml:"provider" mapstructure:"provider"`
	PdfToTextPath string `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
	MistralKey    string `yaml:"mistral_api_key" mapstructure:"mistral_api_key"`
	MistralModel  string `yaml:"mistral_ocr_model" mapstructure:"mistral_ocr_model"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// ExtractionConfig bounds the LLM extraction calls.
type ExtractionConfig struct {
	TimeoutSecs       int `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxAttempts       int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMS  int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	RequestsPerMinute int `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// ReasoningConfig selects how resolution reasoning text is produced.
type ReasoningConfig struct {
	Provider string `yaml:"provider" mapstructure:"provider"`
}

// Thresholds holds every tolerance and confidence gate used by the
// reconciliation stages.
type Thresholds struct {
	PriceVarianceLowPct    float64 `yaml:"price_variance_low_pct" mapstructure:"price_variance_low_pct"`
	PriceVarianceMediumPct float64 `yaml:"price_variance_medium_pct" mapstructure:"price_variance_medium_pct"`
	PriceVarianceHighPct   float64 `yaml:"price_variance_high_pct" mapstructure:"price_variance_high_pct"`

	TotalTolerancePct float64 `yaml:"total_tolerance_pct" mapstructure:"total_tolerance_pct"`
	TotalToleranceAbs float64 `yaml:"total_tolerance_abs" mapstructure:"total_tolerance_abs"`

	ExtractionMinConfidence  float64 `yaml:"extraction_min_confidence" mapstructure:"extraction_min_confidence"`
	ExtractionHighConfidence float64 `yaml:"extraction_high_confidence" mapstructure:"extraction_high_confidence"`

	MatchMinConfidence  float64 `yaml:"match_min_confidence" mapstructure:"match_min_confidence"`
	MatchHighConfidence float64 `yaml:"match_high_confidence" mapstructure:"match_high_confidence"`

	SupplierMatchFloor   float64 `yaml:"supplier_match_floor" mapstructure:"supplier_match_floor"`
	CombinedMatchFloor   float64 `yaml:"combined_match_floor" mapstructure:"combined_match_floor"`
	ProductOnlyFloor     float64 `yaml:"product_only_floor" mapstructure:"product_only_floor"`
	LineItemPairingFloor float64 `yaml:"line_item_pairing_floor" mapstructure:"line_item_pairing_floor"`
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	MaxConcurrentInvoices int `yaml:"max_concurrent_invoices" mapstructure:"max_concurrent_invoices"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("RECONCILE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("catalog_path", "data/purchase_orders.json")
	v.SetDefault("invoices_dir", "data/invoices")
	v.SetDefault("output_dir", "output")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("ocr.provider", "local")
	v.SetDefault("ocr.pdftotext_path", "pdftotext")
	v.SetDefault("ocr.mistral_ocr_model", "pixtral-large-latest")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("extraction.timeout_secs", 120)
	v.SetDefault("extraction.max_attempts", 3)
	v.SetDefault("extraction.initial_backoff_ms", 500)
	v.SetDefault("extraction.requests_per_minute", 50)
	v.SetDefault("reasoning.provider", "template")
	v.SetDefault("batch.max_concurrent_invoices", 5)
	v.SetDefault("thresholds.price_variance_low_pct", 2.0)
	v.SetDefault("thresholds.price_variance_medium_pct", 5.0)
	v.SetDefault("thresholds.price_variance_high_pct", 15.0)
	v.SetDefault("thresholds.total_tolerance_pct", 1.0)
	v.SetDefault("thresholds.total_tolerance_abs", 5.0)
	v.SetDefault("thresholds.extraction_min_confidence", 0.70)
	v.SetDefault("thresholds.extraction_high_confidence", 0.90)
	v.SetDefault("thresholds.match_min_confidence", 0.50)
	v.SetDefault("thresholds.match_high_confidence", 0.85)
	v.SetDefault("thresholds.supplier_match_floor", 0.5)
	v.SetDefault("thresholds.combined_match_floor", 0.6)
	v.SetDefault("thresholds.product_only_floor", 0.7)
	v.SetDefault("thresholds.line_item_pairing_floor", 0.6)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, &ConfigurationError{Err: eris.Wrap(err, "config: read file")}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &ConfigurationError{Err: eris.Wrap(err, "config: unmarshal")}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks settings that would otherwise fail mid-batch.
func (c *Config) Validate() error {
	if c.CatalogPath == "" {
		return &ConfigurationError{Err: eris.New("catalog_path is required")}
	}
	switch c.OCR.Provider {
	case "local":
	case "mistral":
		if c.OCR.MistralKey == "" {
			return &ConfigurationError{Err: eris.New("ocr.mistral_api_key is required for the mistral provider")}
		}
	default:
		return &ConfigurationError{Err: eris.Errorf("unknown ocr.provider %q", c.OCR.Provider)}
	}
	switch c.Reasoning.Provider {
	case "template", "llm":
	default:
		return &ConfigurationError{Err: eris.Errorf("unknown reasoning.provider %q", c.Reasoning.Provider)}
	}
	if c.Extraction.TimeoutSecs <= 0 {
		return &ConfigurationError{Err: eris.New("extraction.timeout_secs must be positive")}
	}
	if c.Extraction.MaxAttempts <= 0 {
		return &ConfigurationError{Err: eris.New("extraction.max_attempts must be positive")}
	}
	if c.Batch.MaxConcurrentInvoices <= 0 {
		return &ConfigurationError{Err: eris.New("batch.max_concurrent_invoices must be positive")}
	}

	t := c.Thresholds
	if !(t.PriceVarianceLowPct < t.PriceVarianceMediumPct && t.PriceVarianceMediumPct < t.PriceVarianceHighPct) {
		return &ConfigurationError{Err: eris.New("price variance thresholds must be strictly increasing")}
	}
	for name, val := range map[string]float64{
		"extraction_min_confidence":  t.ExtractionMinConfidence,
		"extraction_high_confidence": t.ExtractionHighConfidence,
		"match_min_confidence":       t.MatchMinConfidence,
		"match_high_confidence":      t.MatchHighConfidence,
		"supplier_match_floor":       t.SupplierMatchFloor,
		"combined_match_floor":       t.CombinedMatchFloor,
		"product_only_floor":         t.ProductOnlyFloor,
		"line_item_pairing_floor":    t.LineItemPairingFloor,
	} {
		if val < 0 || val > 1 {
			return &ConfigurationError{Err: eris.Errorf("thresholds.%s must be in [0, 1]", name)}
		}
	}

	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
