package extractors

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/zahidkhandev/flopods-sub000/internal/core/domain"
)

// Mock extractor for testing
type mockExtractor struct {
	name     string
	types    []string
	priority int
	text     string
	err      error
}

func (m *mockExtractor) Name() string { return m.name }

func (m *mockExtractor) SupportedMIMETypes() []string { return m.types }

func (m *mockExtractor) Priority() int { return m.priority }

func (m *mockExtractor) Extract(_ context.Context, data []byte, _ string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	if m.text != "" {
		return m.text, nil
	}
	return string(data) + "-" + m.name, nil
}

func TestRegistry_Get(t *testing.T) {
	r := NewRegistry()
	r.Register(&mockExtractor{name: "test", types: []string{"application/pdf"}, priority: 50})

	if r.Get("application/pdf") == nil {
		t.Fatal("expected to find extractor")
	}
	if r.Get("application/json") != nil {
		t.Error("expected nil for unregistered type")
	}
}

func TestRegistry_Get_PrioritySelection(t *testing.T) {
	r := NewRegistry()

	// Register in random order
	r.Register(&mockExtractor{name: "low", types: []string{"text/plain"}, priority: 10})
	r.Register(&mockExtractor{name: "high", types: []string{"text/plain"}, priority: 90})
	r.Register(&mockExtractor{name: "medium", types: []string{"text/plain"}, priority: 50})

	e := r.Get("text/plain")
	if e == nil {
		t.Fatal("expected to find extractor")
	}
	if e.Name() != "high" {
		t.Errorf("expected high priority extractor, got %s", e.Name())
	}
}

func TestRegistry_GetAll(t *testing.T) {
	r := NewRegistry()
	r.Register(&mockExtractor{name: "e1", types: []string{"text/plain"}, priority: 10})
	r.Register(&mockExtractor{name: "e2", types: []string{"text/plain"}, priority: 90})
	r.Register(&mockExtractor{name: "e3", types: []string{"text/html"}, priority: 50})

	all := r.GetAll("text/plain")
	if len(all) != 2 {
		t.Fatalf("expected 2 extractors, got %d", len(all))
	}
	if all[0].Priority() != 90 || all[1].Priority() != 10 {
		t.Errorf("expected priorities 90, 10; got %d, %d", all[0].Priority(), all[1].Priority())
	}
}

func TestRegistry_List(t *testing.T) {
	r := NewRegistry()
	r.Register(&mockExtractor{name: "e1", types: []string{"text/plain", "text/csv"}, priority: 50})
	r.Register(&mockExtractor{name: "e2", types: []string{"text/html"}, priority: 50})

	types := r.List()
	expected := []string{"text/csv", "text/html", "text/plain"}
	if len(types) != len(expected) {
		t.Fatalf("expected %d types, got %d", len(expected), len(types))
	}
	for i, exp := range expected {
		if types[i] != exp {
			t.Errorf("expected type %s at index %d, got %s", exp, i, types[i])
		}
	}
}

func TestRegistry_Extract(t *testing.T) {
	ctx := context.Background()

	t.Run("first success wins", func(t *testing.T) {
		r := NewRegistry()
		r.Register(&mockExtractor{name: "fallback", types: []string{"*/*"}, priority: 1})
		r.Register(&mockExtractor{name: "pdf", types: []string{"application/pdf"}, priority: 50})

		text, name, err := r.Extract(ctx, []byte("body"), "application/pdf")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if text != "body-pdf" || name != "pdf" {
			t.Errorf("expected pdf extractor output, got %q from %s", text, name)
		}
	})

	t.Run("falls back after failure", func(t *testing.T) {
		r := NewRegistry()
		r.Register(&mockExtractor{name: "broken", types: []string{"application/pdf"}, priority: 90, err: errors.New("boom")})
		r.Register(&mockExtractor{name: "empty", types: []string{"application/pdf"}, priority: 50, text: "   "})
		r.Register(&mockExtractor{name: "ok", types: []string{"application/pdf"}, priority: 10})

		_, name, err := r.Extract(ctx, []byte("body"), "application/pdf")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if name != "ok" {
			t.Errorf("expected fallback extractor, got %s", name)
		}
	})

	t.Run("all fail", func(t *testing.T) {
		r := NewRegistry()
		r.Register(&mockExtractor{name: "broken", types: []string{"application/pdf"}, priority: 90, err: errors.New("boom")})

		_, _, err := r.Extract(ctx, []byte("body"), "application/pdf")
		if !errors.Is(err, domain.ErrExtractionFailed) {
			t.Fatalf("expected ErrExtractionFailed, got %v", err)
		}
		if !strings.Contains(err.Error(), "broken: boom") {
			t.Errorf("expected extractor error in message, got %v", err)
		}
	})

	t.Run("unsupported", func(t *testing.T) {
		_, _, err := NewRegistry().Extract(ctx, []byte("body"), "video/mp4")
		if !errors.Is(err, domain.ErrUnsupportedSource) {
			t.Errorf("expected ErrUnsupportedSource, got %v", err)
		}
	})
}

func TestMatchesMIMEType(t *testing.T) {
	tests := []struct {
		name      string
		supported []string
		mimeType  string
		expected  bool
	}{
		{"exact match", []string{"text/plain"}, "text/plain", true},
		{"case insensitive", []string{"TEXT/PLAIN"}, "text/plain", true},
		{"with charset", []string{"text/plain"}, "text/plain; charset=utf-8", true},
		{"wildcard subtype", []string{"text/*"}, "text/plain", true},
		{"wildcard no match", []string{"text/*"}, "application/json", false},
		{"universal wildcard", []string{"*/*"}, "anything/here", true},
		{"star", []string{"*"}, "image/png", true},
		{"no match", []string{"text/plain"}, "text/html", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MatchesMIMEType(tt.supported, tt.mimeType); got != tt.expected {
				t.Errorf("MatchesMIMEType(%v, %s) = %v, want %v", tt.supported, tt.mimeType, got, tt.expected)
			}
		})
	}
}

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry()

	for mime, want := range map[string]string{
		"text/plain":       "plaintext",
		"text/csv":         "plaintext",
		"text/markdown":    "markdown",
		"application/json": "json",
	} {
		e := r.Get(mime)
		if e == nil {
			t.Errorf("expected extractor for %s", mime)
			continue
		}
		if e.Name() != want {
			t.Errorf("expected %s for %s, got %s", want, mime, e.Name())
		}
	}

	if r.Get("application/pdf") != nil {
		t.Error("binary formats are registered by the extract adapters")
	}
}

func TestPlaintextExtractor(t *testing.T) {
	e := &PlaintextExtractor{}

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"simple text", "hello world", "hello world"},
		{"windows line endings", "hello\r\nworld", "hello\nworld"},
		{"old mac line endings", "hello\rworld", "hello\nworld"},
		{"trim whitespace", "  hello  ", "hello"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := e.Extract(context.Background(), []byte(tt.input), "text/plain")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, result)
			}
		})
	}

	if _, err := e.Extract(context.Background(), []byte{0xff, 0xfe, 0x00}, "text/plain"); err == nil {
		t.Error("expected error for invalid UTF-8")
	}
}

func TestMarkdownExtractor(t *testing.T) {
	e := &MarkdownExtractor{}

	result, err := e.Extract(context.Background(), []byte("# Title\r\n\n\n\nBody"), "text/markdown")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "# Title\n\nBody" {
		t.Errorf("unexpected markdown output %q", result)
	}
}

func TestJSONExtractor(t *testing.T) {
	e := &JSONExtractor{}

	result, err := e.Extract(context.Background(), []byte(`{"a":1}`), "application/json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "{\n  \"a\": 1\n}" {
		t.Errorf("unexpected json output %q", result)
	}

	if _, err := e.Extract(context.Background(), []byte(`{"a":`), "application/json"); err == nil {
		t.Error("expected error for invalid JSON")
	}
}
