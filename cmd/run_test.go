package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/reconcile-cli/internal/config"
	"github.com/sells-group/reconcile-cli/internal/model"
)

func TestListInvoicesFiltersAndSorts(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b_invoice.pdf", "a_invoice.PDF", "notes.txt", "catalog.json"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "archive.pdf"), 0o755))

	paths, err := listInvoices(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a_invoice.PDF"),
		filepath.Join(dir, "b_invoice.pdf"),
	}, paths)
}

func TestListInvoicesMissingDir(t *testing.T) {
	_, err := listInvoices(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestWriteResultUsesFilenameStem(t *testing.T) {
	prev := cfg
	cfg = &config.Config{OutputDir: t.TempDir()}
	t.Cleanup(func() { cfg = prev })

	result := &model.PipelineResult{
		InvoiceID: "INV-9",
		Document:  model.InvoiceDocument{Filename: "invoice_9.pdf"},
	}
	require.NoError(t, writeResult(result))

	data, err := os.ReadFile(filepath.Join(cfg.OutputDir, "invoice_9_result.json"))
	require.NoError(t, err)

	var got model.PipelineResult
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "INV-9", got.InvoiceID)
}

func TestWriteResultFallsBackToInvoiceID(t *testing.T) {
	prev := cfg
	cfg = &config.Config{OutputDir: t.TempDir()}
	t.Cleanup(func() { cfg = prev })

	result := &model.PipelineResult{InvoiceID: "INV-10"}
	require.NoError(t, writeResult(result))

	_, err := os.Stat(filepath.Join(cfg.OutputDir, "INV-10_result.json"))
	assert.NoError(t, err)
}
