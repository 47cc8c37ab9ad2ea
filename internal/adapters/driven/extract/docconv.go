// Package extract provides text extraction adapters: document formats through
// docconv, web pages and online video transcripts.
package extract

import (
	"bytes"
	"context"
	"fmt"

	"code.sajari.com/docconv"

	"github.com/zahidkhandev/flopods-sub000/internal/core/ports/driven"
	"github.com/zahidkhandev/flopods-sub000/internal/extractors"
)

// Verify interface compliance
var _ driven.TextExtractor = (*DocconvExtractor)(nil)

// DocumentMIMETypes are the binary and markup formats handled by docconv.
// PDF needs pdftotext and RTF needs unrtf on the worker host.
var DocumentMIMETypes = []string{
	"application/pdf",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation",
	"application/vnd.oasis.opendocument.text",
	"application/vnd.apple.pages",
	"application/rtf",
	"text/rtf",
	"text/html",
	"application/xhtml+xml",
}

// DocconvExtractor extracts text from office documents, PDFs and HTML.
type DocconvExtractor struct {
	useReadability bool
}

// NewDocconvExtractor creates an extractor. With useReadability, HTML is
// reduced to its main article content.
func NewDocconvExtractor(useReadability bool) *DocconvExtractor {
	return &DocconvExtractor{useReadability: useReadability}
}

func (e *DocconvExtractor) Name() string { return "docconv" }

func (e *DocconvExtractor) SupportedMIMETypes() []string { return DocumentMIMETypes }

func (e *DocconvExtractor) Priority() int {
	return 50 // Format-specific
}

// Extract converts data to plain text.
func (e *DocconvExtractor) Extract(ctx context.Context, data []byte, mimeType string) (string, error) {
	mimeType = extractors.NormalizeMIMEType(mimeType)

	var text string
	switch mimeType {
	case "text/html", "application/xhtml+xml":
		body, _, err := docconv.ConvertHTML(bytes.NewReader(data), e.useReadability)
		if err != nil {
			return "", fmt.Errorf("convert html: %w", err)
		}
		text = body
	default:
		res, err := docconv.Convert(bytes.NewReader(data), mimeType, e.useReadability)
		if err != nil {
			return "", fmt.Errorf("convert %s: %w", mimeType, err)
		}
		text = res.Body
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}
	return text, nil
}
