// Package ocr turns invoice PDFs into text, with a quality assessment the
// downstream extraction stage reports on its results.
package ocr

import (
	"context"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"

	"github.com/sells-group/reconcile-cli/internal/config"
	"github.com/sells-group/reconcile-cli/internal/model"
)

// Result is the raw text recovered from an invoice document.
type Result struct {
	Text    string
	Quality string
	Pages   int
}

// Extractor extracts text content from PDF files.
type Extractor interface {
	Extract(ctx context.Context, pdfPath string) (Result, error)
}

// NewExtractor creates an Extractor based on config.
func NewExtractor(cfg config.OCRConfig) (Extractor, error) {
	switch cfg.Provider {
	case "local", "":
		return NewPdfToText(cfg.PdfToTextPath), nil
	case "mistral":
		if cfg.MistralKey == "" {
			return nil, eris.New("ocr: mistral provider requires mistral_api_key")
		}
		return NewMistralOCR(cfg.MistralKey, cfg.MistralModel), nil
	default:
		return nil, eris.Errorf("ocr: unknown provider %q", cfg.Provider)
	}
}

// AssessQuality grades extracted text by how much of it looks like words.
// Scanned or corrupted documents yield mostly non-alphabetic noise.
func AssessQuality(text string) string {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < 20 {
		return model.QualityUnreadable
	}

	tokens := strings.Fields(trimmed)
	if len(tokens) == 0 {
		return model.QualityUnreadable
	}

	recognizable := 0
	for _, tok := range tokens {
		if isWordLike(tok) {
			recognizable++
		}
	}
	ratio := float64(recognizable) / float64(len(tokens))

	switch {
	case ratio >= 0.85:
		return model.QualityExcellent
	case ratio >= 0.70:
		return model.QualityGood
	case ratio >= 0.50:
		return model.QualityAcceptable
	case ratio >= 0.30:
		return model.QualityPoor
	default:
		return model.QualityUnreadable
	}
}

// isWordLike accepts tokens that are mostly letters or digits. Invoice text
// is full of amounts and codes, so digits count as signal, not noise.
func isWordLike(tok string) bool {
	if len(tok) == 0 {
		return false
	}
	alnum := 0
	for _, r := range tok {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			alnum++
		}
	}
	return float64(alnum)/float64(len([]rune(tok))) >= 0.5
}
