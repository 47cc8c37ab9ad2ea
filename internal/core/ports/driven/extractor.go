package driven

import (
	"context"
)

// TextExtractor converts document bytes of a mime type into text.
type TextExtractor interface {
	// Name returns the extractor identifier recorded as extraction source
	Name() string

	// SupportedMIMETypes returns mime types handled, "*" for any,
	// or a "type/*" wildcard
	SupportedMIMETypes() []string

	// Priority orders extractors for the same mime type (higher wins)
	Priority() int

	// Extract returns the raw text of data
	Extract(ctx context.Context, data []byte, mimeType string) (string, error)
}

// TranscriptFetcher fetches the transcript of an online video.
type TranscriptFetcher interface {
	FetchTranscript(ctx context.Context, videoURL string) (string, error)
}

// WebScraper fetches a web page and returns its readable text.
type WebScraper interface {
	Scrape(ctx context.Context, pageURL string) (string, error)
}

// ExtractorRegistry manages text extractors.
// When multiple extractors match a MIME type, the highest priority one is tried first.
type ExtractorRegistry interface {
	// Get retrieves the best-matching extractor for a MIME type, or nil
	Get(mimeType string) TextExtractor

	// GetAll retrieves all extractors that match a MIME type, sorted by priority (highest first)
	GetAll(mimeType string) []TextExtractor

	// Register registers an extractor
	Register(extractor TextExtractor)

	// List returns all registered MIME types
	List() []string

	// Extract tries matching extractors in priority order and returns the
	// text with the name of the extractor that produced it
	Extract(ctx context.Context, data []byte, mimeType string) (text, extractor string, err error)
}
