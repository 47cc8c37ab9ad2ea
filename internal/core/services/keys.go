package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/zahidkhandev/flopods-sub000/internal/core/domain"
	"github.com/zahidkhandev/flopods-sub000/internal/core/ports/driven"
	"github.com/zahidkhandev/flopods-sub000/internal/ratelimit"
)

// ResolvedKey is the API key chosen for one workspace and provider.
type ResolvedKey struct {
	APIKey      string
	Provider    string
	Source      domain.KeySource
	Tier        ratelimit.Tier
	Fingerprint string
}

// KeyResolver picks the API key for a provider call.
// A workspace's own key wins over the platform key while the workspace's
// subscription has BYOK enabled.
type KeyResolver struct {
	workspaceKeys driven.ProviderKeyStore
	subscriptions driven.CreditStore
	platformKeys  map[string]string // provider -> key
}

// NewKeyResolver creates a resolver. workspaceKeys may be nil when workspace
// keys are not configured. With a nil subscriptions store every stored
// workspace key is used.
func NewKeyResolver(workspaceKeys driven.ProviderKeyStore, subscriptions driven.CreditStore, platformKeys map[string]string) *KeyResolver {
	keys := make(map[string]string, len(platformKeys))
	for provider, key := range platformKeys {
		if key != "" {
			keys[provider] = key
		}
	}
	return &KeyResolver{workspaceKeys: workspaceKeys, subscriptions: subscriptions, platformKeys: keys}
}

// Resolve returns the workspace key for provider if BYOK is enabled and one
// is stored, else the platform key, else domain.ErrNoProviderKey.
func (r *KeyResolver) Resolve(ctx context.Context, workspaceID, provider string) (*ResolvedKey, error) {
	byok, err := r.byokEnabled(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	if byok {
		key, err := r.workspaceKeys.GetProviderKey(ctx, workspaceID, provider)
		switch {
		case err == nil && key != "":
			return newResolvedKey(key, provider, domain.KeySourceBYOK), nil
		case err != nil && !errors.Is(err, domain.ErrNotFound):
			return nil, fmt.Errorf("load workspace key: %w", err)
		}
	}

	if key, ok := r.platformKeys[provider]; ok {
		return newResolvedKey(key, provider, domain.KeySourcePlatform), nil
	}
	return nil, fmt.Errorf("%w: provider %s, workspace %s", domain.ErrNoProviderKey, provider, workspaceID)
}

// SaveWorkspaceKey stores a workspace's own key for provider and enables
// BYOK on its subscription.
func (r *KeyResolver) SaveWorkspaceKey(ctx context.Context, workspaceID, provider, apiKey string) error {
	if workspaceID == "" || provider == "" || apiKey == "" {
		return fmt.Errorf("%w: workspace, provider and key are required", domain.ErrInvalidInput)
	}
	if r.workspaceKeys == nil {
		return fmt.Errorf("%w: workspace keys are not configured", domain.ErrInvalidInput)
	}
	if err := r.workspaceKeys.SaveProviderKey(ctx, workspaceID, provider, apiKey); err != nil {
		return fmt.Errorf("save workspace key: %w", err)
	}
	if r.subscriptions == nil {
		return nil
	}
	return r.SetBYOK(ctx, workspaceID, true)
}

// SetBYOK switches between the workspace's stored keys and the platform keys.
func (r *KeyResolver) SetBYOK(ctx context.Context, workspaceID string, enabled bool) error {
	if r.subscriptions == nil {
		return fmt.Errorf("%w: subscriptions are not configured", domain.ErrInvalidInput)
	}
	if err := r.subscriptions.SetBYOK(ctx, workspaceID, enabled); err != nil {
		return fmt.Errorf("set byok for workspace %s: %w", workspaceID, err)
	}
	return nil
}

func (r *KeyResolver) byokEnabled(ctx context.Context, workspaceID string) (bool, error) {
	if r.workspaceKeys == nil {
		return false, nil
	}
	if r.subscriptions == nil {
		return true, nil
	}
	sub, err := r.subscriptions.GetSubscription(ctx, workspaceID)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load subscription: %w", err)
	}
	return sub.BYOKEnabled, nil
}

func newResolvedKey(apiKey, provider string, source domain.KeySource) *ResolvedKey {
	tier := ratelimit.TierFree
	if source == domain.KeySourceBYOK {
		tier = ratelimit.TierPaid
	}
	return &ResolvedKey{
		APIKey:      apiKey,
		Provider:    provider,
		Source:      source,
		Tier:        tier,
		Fingerprint: ratelimit.Fingerprint(apiKey),
	}
}
