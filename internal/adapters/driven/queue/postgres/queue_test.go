package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/zahidkhandev/flopods-sub000/internal/core/domain"
	"github.com/zahidkhandev/flopods-sub000/internal/core/ports/driven"
)

func TestRetryBackoff(t *testing.T) {
	assert.Equal(t, time.Second, retryBackoff(0))
	assert.Equal(t, 2*time.Second, retryBackoff(1))
	assert.Equal(t, 8*time.Second, retryBackoff(3))
	assert.Equal(t, 256*time.Second, retryBackoff(8))
	assert.Equal(t, 5*time.Minute, retryBackoff(9))
	assert.Equal(t, 5*time.Minute, retryBackoff(40))
	assert.Equal(t, time.Second, retryBackoff(-1))
}

func TestListTasksQuery(t *testing.T) {
	query, args := listTasksQuery(driven.TaskFilter{})
	assert.NotContains(t, query, "$1")
	assert.Empty(t, args)

	query, args = listTasksQuery(driven.TaskFilter{
		WorkspaceID: "ws-1",
		Type:        domain.TaskTypeGenerateEmbeddings,
		Limit:       20,
		Offset:      40,
	})
	assert.Contains(t, query, "workspace_id = $1")
	assert.Contains(t, query, "type = $2")
	assert.Contains(t, query, "LIMIT $3")
	assert.Contains(t, query, "OFFSET $4")
	assert.NotContains(t, query, "status =")
	assert.Equal(t, []any{"ws-1", "generate_embeddings", 20, 40}, args)
}
