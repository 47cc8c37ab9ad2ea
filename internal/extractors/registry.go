package extractors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/zahidkhandev/flopods-sub000/internal/core/domain"
	"github.com/zahidkhandev/flopods-sub000/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.ExtractorRegistry = (*Registry)(nil)

// Registry implements ExtractorRegistry with priority-based selection.
// When multiple extractors match a MIME type, the highest priority one is used.
type Registry struct {
	mu         sync.RWMutex
	extractors []driven.TextExtractor
}

// NewRegistry creates a new extractor registry.
func NewRegistry() *Registry {
	return &Registry{
		extractors: make([]driven.TextExtractor, 0),
	}
}

// Register registers an extractor.
func (r *Registry) Register(extractor driven.TextExtractor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.extractors = append(r.extractors, extractor)
}

// Get retrieves the best-matching extractor for a MIME type.
// Returns nil if no extractor is registered for the type.
func (r *Registry) Get(mimeType string) driven.TextExtractor {
	matches := r.GetAll(mimeType)
	if len(matches) == 0 {
		return nil
	}
	return matches[0] // Already sorted by priority (highest first)
}

// GetAll retrieves all extractors that match a MIME type, sorted by priority (highest first).
func (r *Registry) GetAll(mimeType string) []driven.TextExtractor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matches []driven.TextExtractor
	for _, e := range r.extractors {
		if MatchesMIMEType(e.SupportedMIMETypes(), mimeType) {
			matches = append(matches, e)
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Priority() > matches[j].Priority()
	})
	return matches
}

// List returns all registered MIME types.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	typeSet := make(map[string]struct{})
	for _, e := range r.extractors {
		for _, t := range e.SupportedMIMETypes() {
			typeSet[t] = struct{}{}
		}
	}

	types := make([]string, 0, len(typeSet))
	for t := range typeSet {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Extract runs the matching extractors in priority order and returns the
// first non-empty text with the name of the extractor that produced it.
func (r *Registry) Extract(ctx context.Context, data []byte, mimeType string) (string, string, error) {
	candidates := r.GetAll(mimeType)
	if len(candidates) == 0 {
		return "", "", fmt.Errorf("%w: no extractor for %q", domain.ErrUnsupportedSource, mimeType)
	}

	var errs []error
	for _, e := range candidates {
		text, err := e.Extract(ctx, data, mimeType)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.Name(), err))
			continue
		}
		if strings.TrimSpace(text) == "" {
			errs = append(errs, fmt.Errorf("%s: no text found", e.Name()))
			continue
		}
		return text, e.Name(), nil
	}
	return "", "", fmt.Errorf("%w: %w", domain.ErrExtractionFailed, errors.Join(errs...))
}

// MatchesMIMEType checks if any of the supported types match the given MIME type.
// Supports wildcard matching (e.g., "text/*" matches "text/plain").
func MatchesMIMEType(supportedTypes []string, mimeType string) bool {
	mimeType = NormalizeMIMEType(mimeType)

	for _, supported := range supportedTypes {
		supported = strings.ToLower(strings.TrimSpace(supported))

		if supported == mimeType || supported == "*/*" || supported == "*" {
			return true
		}

		// Wildcard match (e.g., "text/*" matches "text/plain")
		if strings.HasSuffix(supported, "/*") {
			prefix := supported[:len(supported)-1]
			if strings.HasPrefix(mimeType, prefix) {
				return true
			}
		}
	}
	return false
}

// NormalizeMIMEType lowercases a MIME type and strips its parameters.
func NormalizeMIMEType(mimeType string) string {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if idx := strings.Index(mimeType, ";"); idx != -1 {
		mimeType = strings.TrimSpace(mimeType[:idx])
	}
	return mimeType
}

// DefaultRegistry creates a registry with the built-in text extractors.
// Binary formats are registered by the extract adapters.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(&PlaintextExtractor{})
	r.Register(&MarkdownExtractor{})
	r.Register(&JSONExtractor{})
	return r
}

// PlaintextExtractor passes text content through.
type PlaintextExtractor struct{}

func (e *PlaintextExtractor) Name() string { return "plaintext" }

func (e *PlaintextExtractor) SupportedMIMETypes() []string {
	return []string{"text/*", "application/xml", "application/x-yaml"}
}

func (e *PlaintextExtractor) Priority() int {
	return 10 // Generic
}

func (e *PlaintextExtractor) Extract(_ context.Context, data []byte, _ string) (string, error) {
	if !utf8.Valid(data) {
		return "", errors.New("content is not valid UTF-8")
	}
	return normalizeNewlines(string(data)), nil
}

// MarkdownExtractor passes Markdown through with collapsed blank lines.
type MarkdownExtractor struct{}

func (e *MarkdownExtractor) Name() string { return "markdown" }

func (e *MarkdownExtractor) SupportedMIMETypes() []string {
	return []string{"text/markdown", "text/x-markdown"}
}

func (e *MarkdownExtractor) Priority() int {
	return 50 // Format-specific
}

func (e *MarkdownExtractor) Extract(_ context.Context, data []byte, _ string) (string, error) {
	content := normalizeNewlines(string(data))

	// Remove excessive blank lines (more than 2 consecutive)
	for strings.Contains(content, "\n\n\n") {
		content = strings.ReplaceAll(content, "\n\n\n", "\n\n")
	}
	return content, nil
}

// JSONExtractor re-indents JSON so keys and values split into readable lines.
type JSONExtractor struct{}

func (e *JSONExtractor) Name() string { return "json" }

func (e *JSONExtractor) SupportedMIMETypes() []string {
	return []string{"application/json"}
}

func (e *JSONExtractor) Priority() int {
	return 50
}

func (e *JSONExtractor) Extract(_ context.Context, data []byte, _ string) (string, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return "", fmt.Errorf("invalid JSON: %w", err)
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func normalizeNewlines(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\r", "\n")
	return strings.TrimSpace(content)
}
