package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chtemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chtemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "data/purchase_orders.json", cfg.CatalogPath)
	assert.Equal(t, "data/invoices", cfg.InvoicesDir)
	assert.Equal(t, "output", cfg.OutputDir)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "local", cfg.OCR.Provider)
	assert.Equal(t, "pdftotext", cfg.OCR.PdfToTextPath)
	assert.Equal(t, "claude-sonnet-4-5-20250929", cfg.Anthropic.Model)
	assert.Equal(t, 4096, cfg.Anthropic.MaxTokens)
	assert.Equal(t, 120, cfg.Extraction.TimeoutSecs)
	assert.Equal(t, 3, cfg.Extraction.MaxAttempts)
	assert.Equal(t, 50, cfg.Extraction.RequestsPerMinute)
	assert.Equal(t, "template", cfg.Reasoning.Provider)
	assert.Equal(t, 5, cfg.Batch.MaxConcurrentInvoices)
	assert.InDelta(t, 2.0, cfg.Thresholds.PriceVarianceLowPct, 0.001)
	assert.InDelta(t, 5.0, cfg.Thresholds.PriceVarianceMediumPct, 0.001)
	assert.InDelta(t, 15.0, cfg.Thresholds.PriceVarianceHighPct, 0.001)
	assert.InDelta(t, 1.0, cfg.Thresholds.TotalTolerancePct, 0.001)
	assert.InDelta(t, 5.0, cfg.Thresholds.TotalToleranceAbs, 0.001)
	assert.InDelta(t, 0.70, cfg.Thresholds.ExtractionMinConfidence, 0.001)
	assert.InDelta(t, 0.90, cfg.Thresholds.ExtractionHighConfidence, 0.001)
	assert.InDelta(t, 0.50, cfg.Thresholds.MatchMinConfidence, 0.001)
	assert.InDelta(t, 0.85, cfg.Thresholds.MatchHighConfidence, 0.001)
	assert.InDelta(t, 0.5, cfg.Thresholds.SupplierMatchFloor, 0.001)
	assert.InDelta(t, 0.6, cfg.Thresholds.CombinedMatchFloor, 0.001)
	assert.InDelta(t, 0.7, cfg.Thresholds.ProductOnlyFloor, 0.001)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chtemp(t)

	yaml := `
catalog_path: /data/pos.yaml
invoices_dir: /data/in
log:
  level: debug
  format: console
batch:
  max_concurrent_invoices: 10
thresholds:
  price_variance_low_pct: 1.0
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/data/pos.yaml", cfg.CatalogPath)
	assert.Equal(t, "/data/in", cfg.InvoicesDir)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 10, cfg.Batch.MaxConcurrentInvoices)
	assert.InDelta(t, 1.0, cfg.Thresholds.PriceVarianceLowPct, 0.001)
	// Defaults still apply for unset values
	assert.InDelta(t, 5.0, cfg.Thresholds.PriceVarianceMediumPct, 0.001)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chtemp(t)

	yaml := `
log:
  level: debug
ocr:
  provider: local
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("RECONCILE_LOG_LEVEL", "warn")
	t.Setenv("RECONCILE_CATALOG_PATH", "/env/pos.json")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "/env/pos.json", cfg.CatalogPath)
}

func TestLoadInvalidConfigIsConfigurationError(t *testing.T) {
	dir := chtemp(t)

	yaml := `
ocr:
  provider: nonsense
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	_, err := Load()
	require.Error(t, err)
	assert.True(t, IsConfigurationError(err))
}

// validDefaults returns a Config that passes validation for mutation tests.
func validDefaults() *Config {
	return &Config{
		CatalogPath: "data/purchase_orders.json",
		OCR:         OCRConfig{Provider: "local", PdfToTextPath: "pdftotext"},
		Extraction:  ExtractionConfig{TimeoutSecs: 120, MaxAttempts: 3, InitialBackoffMS: 500, RequestsPerMinute: 50},
		Reasoning:   ReasoningConfig{Provider: "template"},
		Batch:       BatchConfig{MaxConcurrentInvoices: 5},
		Thresholds: Thresholds{
			PriceVarianceLowPct:      2.0,
			PriceVarianceMediumPct:   5.0,
			PriceVarianceHighPct:     15.0,
			TotalTolerancePct:        1.0,
			TotalToleranceAbs:        5.0,
			ExtractionMinConfidence:  0.70,
			ExtractionHighConfidence: 0.90,
			MatchMinConfidence:       0.50,
			MatchHighConfidence:      0.85,
			SupplierMatchFloor:       0.5,
			CombinedMatchFloor:       0.6,
			ProductOnlyFloor:         0.7,
			LineItemPairingFloor:     0.6,
		},
	}
}

func TestValidateOK(t *testing.T) {
	assert.NoError(t, validDefaults().Validate())
}

func TestValidateMissingCatalogPath(t *testing.T) {
	cfg := validDefaults()
	cfg.CatalogPath = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, IsConfigurationError(err))
	assert.Contains(t, err.Error(), "catalog_path")
}

func TestValidateMistralRequiresKey(t *testing.T) {
	cfg := validDefaults()
	cfg.OCR.Provider = "mistral"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mistral_api_key")

	cfg.OCR.MistralKey = "key"
	assert.NoError(t, cfg.Validate())
}

func TestValidateUnknownReasoningProvider(t *testing.T) {
	cfg := validDefaults()
	cfg.Reasoning.Provider = "oracle"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reasoning.provider")
}

func TestValidateNonIncreasingPriceBands(t *testing.T) {
	cfg := validDefaults()
	cfg.Thresholds.PriceVarianceMediumPct = 20.0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "strictly increasing")
}

func TestValidateConfidenceRange(t *testing.T) {
	cfg := validDefaults()
	cfg.Thresholds.MatchHighConfidence = 1.5

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "match_high_confidence")
}

func TestValidateConcurrencyBounds(t *testing.T) {
	cfg := validDefaults()
	cfg.Batch.MaxConcurrentInvoices = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_concurrent_invoices")
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}
