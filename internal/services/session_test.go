package services

import (
	"context"
	"testing"
	"time"

	"councilboard/internal/models"
	"councilboard/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const sessionTTL = 30 * 24 * time.Hour

func nopLogger() *zap.Logger { return zap.NewNop() }

func TestSessionService_CreateAndGet(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := NewSessionService(db, nopLogger(), sessionTTL)
	ctx := context.Background()

	token, err := svc.Create(ctx, "alice", "https://cdn.example.com/alice.jpg")
	require.NoError(t, err)
	assert.Len(t, token, 43, "32 random bytes, base64url without padding")

	data := svc.Get(ctx, token)
	require.NotNil(t, data)
	assert.Equal(t, "alice", data.Login)
	assert.Equal(t, models.RoleUser, data.Role)
	assert.NotEmpty(t, data.SessionID)
	assert.False(t, data.CreatedAt.IsZero())

	other, err := svc.Create(ctx, "alice", "")
	require.NoError(t, err)
	assert.NotEqual(t, token, other)
	assert.NotEqual(t, data.SessionID, svc.Get(ctx, other).SessionID)
}

func TestSessionService_UnknownAndEmptyTokens(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := NewSessionService(db, nopLogger(), sessionTTL)

	assert.Nil(t, svc.Get(context.Background(), ""))
	assert.Nil(t, svc.Get(context.Background(), "does-not-exist"))
}

func TestSessionService_SignInKeepsRole(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := NewSessionService(db, nopLogger(), sessionTTL)
	ctx := context.Background()

	_, err := svc.Create(ctx, "gina", "old.jpg")
	require.NoError(t, err)
	require.NoError(t, db.Model(&models.User{}).Where("login = ?", "gina").Update("role", models.RoleAdmin).Error)

	token, err := svc.Create(ctx, "gina", "new.jpg")
	require.NoError(t, err)

	data := svc.Get(ctx, token)
	require.NotNil(t, data)
	assert.Equal(t, models.RoleAdmin, data.Role)

	var user models.User
	require.NoError(t, db.First(&user, "login = ?", "gina").Error)
	assert.Equal(t, "new.jpg", user.Picture)
}

func TestSessionService_Expiry(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := NewSessionService(db, nopLogger(), time.Hour)
	ctx := context.Background()

	token, err := svc.Create(ctx, "alice", "")
	require.NoError(t, err)

	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	assert.Nil(t, svc.Get(ctx, token))

	var rows int64
	require.NoError(t, db.Model(&models.Session{}).Count(&rows).Error)
	assert.Zero(t, rows, "expired session is deleted on read")
}

func TestSessionService_DestroyAndPurge(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := NewSessionService(db, nopLogger(), time.Hour)
	ctx := context.Background()

	keep, err := svc.Create(ctx, "alice", "")
	require.NoError(t, err)
	gone, err := svc.Create(ctx, "bob", "")
	require.NoError(t, err)

	require.NoError(t, svc.Destroy(ctx, gone))
	require.NoError(t, svc.Destroy(ctx, gone), "destroy is idempotent")
	assert.Nil(t, svc.Get(ctx, gone))
	assert.NotNil(t, svc.Get(ctx, keep))

	n, err := svc.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	n, err = svc.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
