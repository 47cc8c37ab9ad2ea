package domain

import "testing"

func TestDocument_IsImage(t *testing.T) {
	tests := []struct {
		mime string
		want bool
	}{
		{"image/png", true},
		{"image/jpeg", true},
		{"application/pdf", false},
		{"text/plain", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.mime, func(t *testing.T) {
			d := &Document{MimeType: tt.mime}
			if got := d.IsImage(); got != tt.want {
				t.Errorf("IsImage(%q) = %v, want %v", tt.mime, got, tt.want)
			}
		})
	}
}

func TestDocument_SetMetaAllocates(t *testing.T) {
	d := &Document{}

	d.SetMeta(MetaError, "boom")

	if d.Metadata[MetaError] != "boom" {
		t.Errorf("expected metadata to be set, got %v", d.Metadata)
	}
}

func TestDocument_EmbeddingGeneration(t *testing.T) {
	tests := []struct {
		name string
		meta map[string]string
		want int
	}{
		{"unset", nil, 0},
		{"set", map[string]string{MetaEmbeddingGeneration: "4"}, 4},
		{"malformed", map[string]string{MetaEmbeddingGeneration: "x"}, 0},
		{"negative", map[string]string{MetaEmbeddingGeneration: "-2"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &Document{Metadata: tt.meta}
			if got := d.EmbeddingGeneration(); got != tt.want {
				t.Errorf("EmbeddingGeneration() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestObjectKeys(t *testing.T) {
	if got := ExtractedTextKey("ws-1", "doc-1"); got != "documents/ws-1/doc-1/extracted.txt" {
		t.Errorf("unexpected extracted text key %s", got)
	}
	if got := EmbeddingBackupKey("ws-1", "doc-1", 7); got != "embeddings/ws-1/doc-1/7.json" {
		t.Errorf("unexpected backup key %s", got)
	}
}

func TestSanitizeText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "hello world", "hello world"},
		{"null bytes", "hel\x00lo", "hello"},
		{"control chars", "a\x01b\x1fc\x7fd", "abcd"},
		{"keeps line breaks and tabs", "a\nb\r\nc\td", "a\nb\r\nc\td"},
		{"replacement char", "caf�e", "cafe"},
		{"invalid utf8", "ab\xffcd", "abcd"},
		{"trims", "  \n text \t ", "text"},
		{"only junk", "\x00\x01�", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeText(tt.in); got != tt.want {
				t.Errorf("SanitizeText(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
