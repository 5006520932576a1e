package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/reconcile-cli/internal/catalog"
	"github.com/sells-group/reconcile-cli/internal/cost"
	"github.com/sells-group/reconcile-cli/internal/extraction"
	"github.com/sells-group/reconcile-cli/internal/model"
	"github.com/sells-group/reconcile-cli/internal/ocr"
	"github.com/sells-group/reconcile-cli/internal/pipeline"
	anthropicpkg "github.com/sells-group/reconcile-cli/pkg/anthropic"
)

var (
	runFile    string
	runInvoice int
	runAll     bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Reconcile one invoice or the whole invoices directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		selected := 0
		for _, on := range []bool{runFile != "", runInvoice > 0, runAll} {
			if on {
				selected++
			}
		}
		if selected != 1 {
			return eris.New("exactly one of --file, --invoice, or --all is required")
		}

		// Catalog problems abort before any invoice is touched.
		cat, err := catalog.Load(cfg.CatalogPath)
		if err != nil {
			return eris.Wrap(err, "load catalog")
		}
		zap.L().Info("catalog loaded",
			zap.String("path", cfg.CatalogPath),
			zap.Int("purchase_orders", cat.Len()),
		)

		p, err := buildPipeline(cat)
		if err != nil {
			return err
		}

		if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
			return eris.Wrapf(err, "create output dir %s", cfg.OutputDir)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		switch {
		case runFile != "":
			return runSingle(ctx, p, runFile)
		case runInvoice > 0:
			path := filepath.Join(cfg.InvoicesDir, fmt.Sprintf("invoice_%d.pdf", runInvoice))
			if _, err := os.Stat(path); err != nil {
				return eris.Wrapf(err, "invoice %d", runInvoice)
			}
			return runSingle(ctx, p, path)
		default:
			return runBatch(ctx, p)
		}
	},
}

func buildPipeline(cat *catalog.Catalog) (*pipeline.Pipeline, error) {
	ocrExt, err := ocr.NewExtractor(cfg.OCR)
	if err != nil {
		return nil, eris.Wrap(err, "init ocr")
	}

	client := anthropicpkg.NewClient(cfg.Anthropic.Key)
	calc := cost.NewCalculator(cost.DefaultRates())
	extractor := extraction.NewLLMExtractor(ocrExt, client, calc, cfg.Extraction, cfg.Anthropic)

	return pipeline.New(extractor, cat, client, calc, cfg), nil
}

func runSingle(ctx context.Context, p *pipeline.Pipeline, path string) error {
	result := p.Run(ctx, path)

	if err := writeResult(result); err != nil {
		return err
	}
	fmt.Print(pipeline.Summary(result))
	return nil
}

func runBatch(ctx context.Context, p *pipeline.Pipeline) error {
	paths, err := listInvoices(cfg.InvoicesDir)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return eris.Errorf("no invoice PDFs found in %s", cfg.InvoicesDir)
	}

	zap.L().Info("batch started",
		zap.Int("invoices", len(paths)),
		zap.Int("max_concurrent", cfg.Batch.MaxConcurrentInvoices),
	)

	var (
		mu      sync.Mutex
		results []*model.PipelineResult
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Batch.MaxConcurrentInvoices)

	for _, path := range paths {
		g.Go(func() error {
			// A shutdown signal stops new launches; invoices already in
			// flight run to completion on a detached context.
			if gctx.Err() != nil {
				return nil
			}
			result := p.Run(context.WithoutCancel(gctx), path)

			mu.Lock()
			results = append(results, result)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		zap.L().Warn("batch interrupted, writing completed results",
			zap.Int("completed", len(results)),
		)
	}

	sort.Slice(results, func(a, b int) bool {
		return results[a].Document.Filename < results[b].Document.Filename
	})

	var tally pipeline.BatchTally
	for _, result := range results {
		if err := writeResult(result); err != nil {
			return err
		}
		fmt.Print(pipeline.Summary(result))
		tally.Add(result)
	}

	combined := filepath.Join(cfg.OutputDir, "all_results.json")
	if err := writeJSON(combined, results); err != nil {
		return err
	}

	fmt.Print(tally.String())
	return nil
}

func listInvoices(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "read invoices dir %s", dir)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".pdf") {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

func writeResult(result *model.PipelineResult) error {
	stem := strings.TrimSuffix(result.Document.Filename, filepath.Ext(result.Document.Filename))
	if stem == "" {
		stem = result.InvoiceID
	}
	return writeJSON(filepath.Join(cfg.OutputDir, stem+"_result.json"), result)
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "create %s", path)
	}
	defer f.Close() //nolint:errcheck

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return eris.Wrapf(err, "encode %s", path)
	}
	return nil
}

func init() {
	runCmd.Flags().StringVar(&runFile, "file", "", "path to a single invoice PDF")
	runCmd.Flags().IntVar(&runInvoice, "invoice", 0, "process invoice_<n>.pdf from the invoices directory")
	runCmd.Flags().BoolVar(&runAll, "all", false, "process every PDF in the invoices directory")
	rootCmd.AddCommand(runCmd)
}
