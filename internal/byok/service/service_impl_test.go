package service_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/opsbase/tally/internal/byok/domain"
	byokrepo "github.com/opsbase/tally/internal/byok/repository"
	"github.com/opsbase/tally/internal/byok/service"
	"github.com/opsbase/tally/internal/cache"
	"github.com/opsbase/tally/internal/clock"
	"github.com/opsbase/tally/internal/config"
	"github.com/opsbase/tally/internal/orgcontext"
)

const byokTestSchema = `
CREATE TABLE byok_credentials (
	id INTEGER PRIMARY KEY,
	org_id INTEGER NOT NULL,
	user_id INTEGER NOT NULL,
	provider TEXT NOT NULL,
	encrypted_value TEXT NOT NULL,
	enabled BOOLEAN NOT NULL DEFAULT TRUE,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE UNIQUE INDEX ux_byok_credentials_user_provider
	ON byok_credentials (org_id, user_id, provider);
`

const byokSealKey = "6368616e676520746869732070617373776f726420746f206120736563726574"

type byokFixture struct {
	db     *gorm.DB
	svc    domain.Service
	node   *snowflake.Node
	orgID  snowflake.ID
	userID snowflake.ID
	ctx    context.Context
}

func newBYOKFixture(t *testing.T, sealKey string) *byokFixture {
	t.Helper()
	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.Exec(byokTestSchema).Error; err != nil {
		t.Fatalf("create schema: %v", err)
	}
	node, err := snowflake.NewNode(4)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	svc, err := service.New(service.Params{
		Config: config.Config{BYOKSealKey: sealKey},
		DB:     db,
		Log:    zap.NewNop(),
		GenID:  node,
		Clock:  clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		Repo:   byokrepo.Provide(),
		Cache:  cache.NewRouteResolverCache(),
	})
	if err != nil {
		t.Fatalf("byok service: %v", err)
	}
	orgID := node.Generate()
	return &byokFixture{
		db:     db,
		svc:    svc,
		node:   node,
		orgID:  orgID,
		userID: node.Generate(),
		ctx:    orgcontext.WithOrgID(context.Background(), orgID),
	}
}

func (f *byokFixture) storeKey(t *testing.T, provider string) {
	t.Helper()
	_, err := f.svc.UpsertCredential(f.ctx, domain.UpsertCredentialRequest{
		UserID:   f.userID.String(),
		Provider: provider,
		Value:    "sk-test-" + provider,
	})
	require.NoError(t, err)
}

func (f *byokFixture) resolve(t *testing.T, model string) *domain.ResolveResponse {
	t.Helper()
	resp, err := f.svc.Resolve(f.ctx, domain.ResolveRequest{
		UserID: f.userID.String(),
		Model:  model,
	})
	require.NoError(t, err)
	return resp
}

func TestResolveDefaultsToPlatform(t *testing.T) {
	f := newBYOKFixture(t, byokSealKey)

	resp := f.resolve(t, "gpt-4o")
	assert.Equal(t, domain.RoutePlatform, resp.Route)
	assert.Empty(t, resp.Provider)
	assert.Empty(t, resp.CredentialRef)
}

func TestResolveMatchesProviderKey(t *testing.T) {
	f := newBYOKFixture(t, byokSealKey)
	f.storeKey(t, "anthropic")

	resp := f.resolve(t, "claude-sonnet-4")
	assert.Equal(t, domain.RouteBYOK, resp.Route)
	assert.Equal(t, "anthropic", resp.Provider)
	assert.NotEmpty(t, resp.CredentialRef)

	// A key for one provider never routes another provider's model.
	resp = f.resolve(t, "gpt-4o")
	assert.Equal(t, domain.RoutePlatform, resp.Route)
}

func TestResolveOpenRouterCoversAllModels(t *testing.T) {
	f := newBYOKFixture(t, byokSealKey)
	f.storeKey(t, "anthropic")
	f.storeKey(t, "openrouter")

	for _, model := range []string{"gpt-4o", "claude-sonnet-4", "some-unknown-model"} {
		resp := f.resolve(t, model)
		assert.Equal(t, domain.RouteBYOK, resp.Route, model)
		assert.Equal(t, "openrouter", resp.Provider, model)
	}
}

func TestResolveIgnoresDisabledKeys(t *testing.T) {
	f := newBYOKFixture(t, byokSealKey)
	f.storeKey(t, "openai")

	resp := f.resolve(t, "gpt-4o")
	require.Equal(t, domain.RouteBYOK, resp.Route)

	_, err := f.svc.SetEnabled(f.ctx, f.userID.String(), "openai", false)
	require.NoError(t, err)

	resp = f.resolve(t, "gpt-4o")
	assert.Equal(t, domain.RoutePlatform, resp.Route)

	_, err = f.svc.SetEnabled(f.ctx, f.userID.String(), "openai", true)
	require.NoError(t, err)

	resp = f.resolve(t, "gpt-4o")
	assert.Equal(t, domain.RouteBYOK, resp.Route)
}

func TestResolveUnknownModelPrefix(t *testing.T) {
	f := newBYOKFixture(t, byokSealKey)
	f.storeKey(t, "openai")

	resp := f.resolve(t, "some-unknown-model")
	assert.Equal(t, domain.RoutePlatform, resp.Route)
}

func TestResolveScopedToUser(t *testing.T) {
	f := newBYOKFixture(t, byokSealKey)
	f.storeKey(t, "openai")

	other := f.node.Generate()
	resp, err := f.svc.Resolve(f.ctx, domain.ResolveRequest{UserID: other.String(), Model: "gpt-4o"})
	require.NoError(t, err)
	assert.Equal(t, domain.RoutePlatform, resp.Route, "another user's key must not apply")
}

func TestUpsertCredential(t *testing.T) {
	f := newBYOKFixture(t, byokSealKey)

	resp, err := f.svc.UpsertCredential(f.ctx, domain.UpsertCredentialRequest{
		UserID:   f.userID.String(),
		Provider: "OpenAI",
		Value:    "sk-first",
	})
	require.NoError(t, err)
	assert.Equal(t, "openai", resp.Provider)
	assert.True(t, resp.Enabled)

	// Raw value is sealed at rest.
	var stored string
	require.NoError(t, f.db.Raw(
		`SELECT encrypted_value FROM byok_credentials WHERE org_id = ? AND user_id = ?`,
		f.orgID, f.userID,
	).Scan(&stored).Error)
	assert.NotContains(t, stored, "sk-first")

	// Second upsert replaces the row instead of adding one.
	_, err = f.svc.UpsertCredential(f.ctx, domain.UpsertCredentialRequest{
		UserID:   f.userID.String(),
		Provider: "openai",
		Value:    "sk-second",
	})
	require.NoError(t, err)

	var rows int64
	require.NoError(t, f.db.Raw(
		`SELECT COUNT(*) FROM byok_credentials WHERE org_id = ? AND user_id = ?`,
		f.orgID, f.userID,
	).Scan(&rows).Error)
	assert.Equal(t, int64(1), rows)
}

func TestUpsertCredentialValidation(t *testing.T) {
	f := newBYOKFixture(t, byokSealKey)

	_, err := f.svc.UpsertCredential(f.ctx, domain.UpsertCredentialRequest{
		UserID:   "nope",
		Provider: "openai",
		Value:    "sk-x",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidUser)

	_, err = f.svc.UpsertCredential(f.ctx, domain.UpsertCredentialRequest{
		UserID:   f.userID.String(),
		Provider: "unknown-vendor",
		Value:    "sk-x",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidProvider)

	_, err = f.svc.UpsertCredential(f.ctx, domain.UpsertCredentialRequest{
		UserID:   f.userID.String(),
		Provider: "openai",
		Value:    "   ",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidValue)
}

func TestUpsertWithoutSealKey(t *testing.T) {
	f := newBYOKFixture(t, "")

	_, err := f.svc.UpsertCredential(f.ctx, domain.UpsertCredentialRequest{
		UserID:   f.userID.String(),
		Provider: "openai",
		Value:    "sk-x",
	})
	assert.ErrorIs(t, err, domain.ErrSealKeyMissing)

	// Resolution still works without a seal key.
	resp := f.resolve(t, "gpt-4o")
	assert.Equal(t, domain.RoutePlatform, resp.Route)
}

func TestSetEnabledUnknownCredential(t *testing.T) {
	f := newBYOKFixture(t, byokSealKey)

	_, err := f.svc.SetEnabled(f.ctx, f.userID.String(), "openai", false)
	assert.ErrorIs(t, err, domain.ErrCredentialNotFound)
}

func TestDetectProvider(t *testing.T) {
	tests := []struct {
		model string
		want  string
	}{
		{"gpt-4o", "openai"},
		{"o3-mini", "openai"},
		{"claude-sonnet-4", "anthropic"},
		{"gemini-2.0-flash", "google"},
		{"mistral-large", "mistral"},
		{"deepseek-r1", "deepseek"},
		{"llama-3.3-70b", "meta"},
		{"grok-3", "xai"},
		{"totally-unknown", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, domain.DetectProvider(tt.model), tt.model)
	}
}
