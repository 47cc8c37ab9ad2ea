package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"code.sajari.com/docconv"

	"github.com/zahidkhandev/flopods-sub000/internal/core/domain"
	"github.com/zahidkhandev/flopods-sub000/internal/core/ports/driven"
	"github.com/zahidkhandev/flopods-sub000/internal/extractors"
)

// Verify interface compliance
var _ driven.WebScraper = (*WebScraper)(nil)

const (
	defaultUserAgent    = "flopods-ingest/1.0"
	defaultMaxPageBytes = 10 << 20
)

// WebScraperConfig holds web scraper settings.
type WebScraperConfig struct {
	Timeout        time.Duration
	UserAgent      string
	MaxBytes       int64
	UseReadability bool
}

// WebScraper fetches pages over HTTP and reduces them to readable text.
type WebScraper struct {
	client      *http.Client
	userAgent   string
	maxBytes    int64
	readability bool
}

// NewWebScraper creates a scraper.
func NewWebScraper(cfg WebScraperConfig) *WebScraper {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaultMaxPageBytes
	}
	return &WebScraper{
		client:      &http.Client{Timeout: cfg.Timeout},
		userAgent:   cfg.UserAgent,
		maxBytes:    cfg.MaxBytes,
		readability: cfg.UseReadability,
	}
}

// Scrape downloads pageURL and returns its text.
func (s *WebScraper) Scrape(ctx context.Context, pageURL string) (string, error) {
	u, err := url.Parse(pageURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: invalid page url %q", domain.ErrInvalidInput, pageURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: fetch %s: %v", domain.ErrExtractionFailed, u.Host, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: fetch %s: status %d", domain.ErrExtractionFailed, u.Host, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBytes))
	if err != nil {
		return "", fmt.Errorf("%w: read page: %v", domain.ErrExtractionFailed, err)
	}

	var text string
	contentType := extractors.NormalizeMIMEType(resp.Header.Get("Content-Type"))
	switch {
	case contentType == "text/plain":
		text = string(body)
	case contentType == "" || strings.Contains(contentType, "html"):
		text, _, err = docconv.ConvertHTML(bytes.NewReader(body), s.readability)
		if err != nil {
			return "", fmt.Errorf("%w: convert page: %v", domain.ErrExtractionFailed, err)
		}
	default:
		return "", fmt.Errorf("%w: page content type %q", domain.ErrUnsupportedSource, contentType)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: page has no readable text", domain.ErrExtractionFailed)
	}
	return text, nil
}
