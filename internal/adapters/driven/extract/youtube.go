package extract

import (
	"context"
	"encoding/xml"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/zahidkhandev/flopods-sub000/internal/core/domain"
	"github.com/zahidkhandev/flopods-sub000/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.TranscriptFetcher = (*YouTubeTranscripts)(nil)

const defaultYouTubeBaseURL = "https://www.youtube.com"

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// YouTubeConfig holds transcript fetcher settings.
type YouTubeConfig struct {
	BaseURL  string // timedtext host, overridable in tests
	Language string
	Timeout  time.Duration
}

// YouTubeTranscripts fetches video captions from the timedtext endpoint.
type YouTubeTranscripts struct {
	client   *http.Client
	baseURL  string
	language string
}

// NewYouTubeTranscripts creates a transcript fetcher.
func NewYouTubeTranscripts(cfg YouTubeConfig) *YouTubeTranscripts {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultYouTubeBaseURL
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &YouTubeTranscripts{
		client:   &http.Client{Timeout: cfg.Timeout},
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		language: cfg.Language,
	}
}

type timedText struct {
	Lines []struct {
		Start string `xml:"start,attr"`
		Text  string `xml:",chardata"`
	} `xml:"text"`
}

// FetchTranscript returns the caption text of videoURL, one line per cue.
func (y *YouTubeTranscripts) FetchTranscript(ctx context.Context, videoURL string) (string, error) {
	id, err := VideoID(videoURL)
	if err != nil {
		return "", err
	}

	q := url.Values{}
	q.Set("lang", y.language)
	q.Set("v", id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, y.baseURL+"/api/timedtext?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	resp, err := y.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: fetch transcript: %v", domain.ErrExtractionFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: fetch transcript: status %d", domain.ErrExtractionFailed, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, defaultMaxPageBytes))
	if err != nil {
		return "", fmt.Errorf("%w: read transcript: %v", domain.ErrExtractionFailed, err)
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return "", fmt.Errorf("%w: video %s has no %s captions", domain.ErrExtractionFailed, id, y.language)
	}

	var tt timedText
	if err := xml.Unmarshal(body, &tt); err != nil {
		return "", fmt.Errorf("%w: parse transcript: %v", domain.ErrExtractionFailed, err)
	}

	lines := make([]string, 0, len(tt.Lines))
	for _, l := range tt.Lines {
		// Captions are HTML-escaped a second time inside the XML
		text := strings.TrimSpace(html.UnescapeString(l.Text))
		if text != "" {
			lines = append(lines, text)
		}
	}
	if len(lines) == 0 {
		return "", fmt.Errorf("%w: video %s has an empty transcript", domain.ErrExtractionFailed, id)
	}
	return strings.Join(lines, "\n"), nil
}

// VideoID extracts the 11-character video ID from watch, short, embed and
// youtu.be URLs.
func VideoID(videoURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(videoURL))
	if err != nil {
		return "", fmt.Errorf("%w: invalid video url %q", domain.ErrInvalidInput, videoURL)
	}

	var id string
	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	host = strings.TrimPrefix(host, "m.")
	path := strings.Trim(u.Path, "/")

	switch host {
	case "youtu.be":
		id, _, _ = strings.Cut(path, "/")
	case "youtube.com", "music.youtube.com":
		switch {
		case path == "watch":
			id = u.Query().Get("v")
		case strings.HasPrefix(path, "embed/"), strings.HasPrefix(path, "shorts/"), strings.HasPrefix(path, "live/"):
			_, rest, _ := strings.Cut(path, "/")
			id, _, _ = strings.Cut(rest, "/")
		}
	}

	if !videoIDPattern.MatchString(id) {
		return "", fmt.Errorf("%w: no video id in %q", domain.ErrInvalidInput, videoURL)
	}
	return id, nil
}
