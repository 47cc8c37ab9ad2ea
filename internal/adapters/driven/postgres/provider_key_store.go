package postgres

import (
	"context"
	"fmt"

	"github.com/zahidkhandev/flopods-sub000/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.ProviderKeyStore = (*ProviderKeyStore)(nil)

// ProviderKeyStore keeps workspace API keys encrypted at rest.
// Each blob is bound to its (workspace, provider) row.
type ProviderKeyStore struct {
	db        *DB
	encryptor *SecretEncryptor
}

// NewProviderKeyStore creates a new ProviderKeyStore
func NewProviderKeyStore(db *DB, encryptor *SecretEncryptor) *ProviderKeyStore {
	return &ProviderKeyStore{db: db, encryptor: encryptor}
}

func keyBinding(workspaceID, provider string) []byte {
	return []byte(workspaceID + "/" + provider)
}

func (s *ProviderKeyStore) GetProviderKey(ctx context.Context, workspaceID, provider string) (string, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT secret_blob FROM workspace_provider_keys WHERE workspace_id = $1 AND provider = $2`,
		workspaceID, provider,
	).Scan(&blob)
	if err != nil {
		return "", mapError(fmt.Sprintf("provider key %s/%s", workspaceID, provider), err)
	}

	plaintext, err := s.encryptor.Open(blob, keyBinding(workspaceID, provider))
	if err != nil {
		return "", fmt.Errorf("provider key %s/%s: %w", workspaceID, provider, err)
	}
	return string(plaintext), nil
}

func (s *ProviderKeyStore) SaveProviderKey(ctx context.Context, workspaceID, provider, apiKey string) error {
	blob, err := s.encryptor.Seal([]byte(apiKey), keyBinding(workspaceID, provider))
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workspace_provider_keys (workspace_id, provider, secret_blob)
		VALUES ($1, $2, $3)
		ON CONFLICT (workspace_id, provider) DO UPDATE SET
			secret_blob = EXCLUDED.secret_blob,
			updated_at = NOW()
	`, workspaceID, provider, blob)
	return mapError("save provider key", err)
}

func (s *ProviderKeyStore) DeleteProviderKey(ctx context.Context, workspaceID, provider string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM workspace_provider_keys WHERE workspace_id = $1 AND provider = $2`,
		workspaceID, provider,
	)
	if err != nil {
		return mapError("delete provider key", err)
	}
	return expectRow(result, fmt.Sprintf("provider key %s/%s", workspaceID, provider))
}
