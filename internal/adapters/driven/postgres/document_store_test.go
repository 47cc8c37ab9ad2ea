package postgres

import (
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zahidkhandev/flopods-sub000/internal/core/domain"
)

func TestMarshalMetadata(t *testing.T) {
	b, err := marshalMetadata(nil)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(b))

	b, err = marshalMetadata(map[string]string{domain.MetaEmbeddingStatus: domain.EmbeddingStatusQueued})
	require.NoError(t, err)
	var decoded map[string]string
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, domain.EmbeddingStatusQueued, decoded[domain.MetaEmbeddingStatus])
}

type fakeRow struct {
	values []any
}

func (r fakeRow) Scan(dest ...any) error {
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = r.values[i].(string)
		case *int64:
			*p = r.values[i].(int64)
		case *[]byte:
			*p = r.values[i].([]byte)
		case *time.Time:
			*p = r.values[i].(time.Time)
		case *bool:
			*p = r.values[i].(bool)
		case *sql.NullTime:
			*p = r.values[i].(sql.NullTime)
		}
	}
	return nil
}

func TestScanDocument(t *testing.T) {
	now := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	row := fakeRow{values: []any{
		"doc-1", "ws-1", "user-1", "clip.png", "INTERNAL", "",
		"uploads/clip.png", "", "image/png", int64(2048), "PROCESSING",
		[]byte(`{"extraction_status":"extracting"}`), now, now,
	}}

	doc, err := scanDocument(row)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceTypeInternal, doc.SourceType)
	assert.Equal(t, domain.DocumentStatusProcessing, doc.Status)
	assert.Equal(t, int64(2048), doc.SizeBytes)
	assert.Equal(t, "extracting", doc.Metadata[domain.MetaExtractionStatus])
	assert.True(t, doc.IsImage())
}

func TestScanScheduledTask(t *testing.T) {
	now := time.Now()
	row := fakeRow{values: []any{
		"sweep-stale-documents", "Sweep stale documents", "sweep_stale_documents", "",
		int64(15 * time.Minute), true, now, sql.NullTime{}, "",
	}}

	task, err := scanScheduledTask(row)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskTypeSweepStaleDocuments, task.Type)
	assert.Equal(t, 15*time.Minute, task.Interval)
	assert.Nil(t, task.LastRun)
}
