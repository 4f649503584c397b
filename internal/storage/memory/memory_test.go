package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/pribylovaa/accounts-auth/internal/models"
	"github.com/pribylovaa/accounts-auth/internal/storage"
)

func seed(t *testing.T, st *Storage, email string) *models.User {
	t.Helper()
	now := time.Now().UTC()
	u := &models.User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: "hash",
		Role:         models.RoleUser,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, st.SaveUser(context.Background(), u))
	return u
}

func TestUsers_CRUD(t *testing.T) {
	t.Parallel()

	st := New()
	ctx := context.Background()
	u := seed(t, st, "Alice@Example.com")

	got, err := st.UserByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	require.Equal(t, u.ID, got.ID)

	// Возвращается копия: изменение не влияет на хранилище.
	got.Name = "mutated"
	again, err := st.UserByID(ctx, u.ID)
	require.NoError(t, err)
	require.Empty(t, again.Name)

	err = st.SaveUser(ctx, &models.User{ID: uuid.New(), Email: "ALICE@example.com"})
	require.ErrorIs(t, err, storage.ErrAlreadyExists)

	name := "Alice"
	upd, err := st.UpdateUser(ctx, u.ID, models.UserUpdate{Name: &name, BumpTokenVersion: true})
	require.NoError(t, err)
	require.Equal(t, "Alice", upd.Name)
	require.EqualValues(t, 1, upd.TokenVersion)

	require.NoError(t, st.DeleteUser(ctx, u.ID))
	_, err = st.UserByEmail(ctx, "alice@example.com")
	require.ErrorIs(t, err, storage.ErrNotFound)
	require.ErrorIs(t, st.DeleteUser(ctx, u.ID), storage.ErrNotFound)
}

func TestUsers_CanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New().UserByID(ctx, uuid.New())
	require.ErrorIs(t, err, context.Canceled)
}

func TestListUsers_Pagination(t *testing.T) {
	t.Parallel()

	st := New()
	ctx := context.Background()
	base := time.Now().UTC()

	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		u := &models.User{
			ID:        uuid.New(),
			Email:     fmt.Sprintf("u%d@example.com", i),
			Role:      models.RoleUser,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, st.SaveUser(ctx, u))
		ids = append(ids, u.ID)
	}

	page, err := st.ListUsers(ctx, 2, 1)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, ids[1], page[0].ID)
	require.Equal(t, ids[2], page[1].ID)

	page, err = st.ListUsers(ctx, 10, 4)
	require.NoError(t, err)
	require.Len(t, page, 1)

	page, err = st.ListUsers(ctx, 10, 10)
	require.NoError(t, err)
	require.Empty(t, page)
}

func TestCodes_Lifecycle(t *testing.T) {
	t.Parallel()

	st := New()
	ctx := context.Background()
	u := seed(t, st, "c@example.com")
	now := time.Now().UTC()

	code := &models.OneTimeCode{
		CodeHash: "h1", UserID: u.ID, Purpose: models.PurposePasswordReset,
		ExpiresAt: now.Add(time.Hour), CreatedAt: now,
	}
	require.NoError(t, st.SaveCode(ctx, code))

	_, err := st.ConsumeCode(ctx, "h1", models.PurposeEmailConfirmation, now)
	require.ErrorIs(t, err, storage.ErrNotFound)

	got, err := st.ConsumeCode(ctx, "h1", models.PurposePasswordReset, now)
	require.NoError(t, err)
	require.Equal(t, u.ID, got.UserID)

	_, err = st.ConsumeCode(ctx, "h1", models.PurposePasswordReset, now.Add(2*time.Hour))
	require.ErrorIs(t, err, storage.ErrAlreadyUsed)

	require.NoError(t, st.SaveCode(ctx, &models.OneTimeCode{
		CodeHash: "h2", UserID: u.ID, Purpose: models.PurposePasswordReset,
		ExpiresAt: now.Add(time.Minute), CreatedAt: now,
	}))
	_, err = st.ConsumeCode(ctx, "h2", models.PurposePasswordReset, now.Add(time.Minute))
	require.ErrorIs(t, err, storage.ErrExpired)
}

func TestCodes_SaveSupersedesAndStaleCleanup(t *testing.T) {
	t.Parallel()

	st := New()
	ctx := context.Background()
	u := seed(t, st, "s@example.com")
	now := time.Now().UTC()

	for _, h := range []string{"a", "b"} {
		require.NoError(t, st.SaveCode(ctx, &models.OneTimeCode{
			CodeHash: h, UserID: u.ID, Purpose: models.PurposeEmailConfirmation,
			ExpiresAt: now.Add(time.Hour), CreatedAt: now,
		}))
	}
	require.Equal(t, 1, st.OutstandingCodes(u.ID, models.PurposeEmailConfirmation))

	_, err := st.ConsumeCode(ctx, "a", models.PurposeEmailConfirmation, now)
	require.ErrorIs(t, err, storage.ErrNotFound)

	err = st.SaveCode(ctx, &models.OneTimeCode{CodeHash: "x", UserID: uuid.New(), Purpose: models.PurposeEmailConfirmation})
	require.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, st.InvalidateCodes(ctx, u.ID, models.PurposeEmailConfirmation))
	require.Zero(t, st.OutstandingCodes(u.ID, models.PurposeEmailConfirmation))

	require.NoError(t, st.SaveCode(ctx, &models.OneTimeCode{
		CodeHash: "old", UserID: u.ID, Purpose: models.PurposePasswordReset,
		ExpiresAt: now.Add(-48 * time.Hour), CreatedAt: now,
	}))
	require.NoError(t, st.DeleteStaleCodes(ctx, now.Add(-24*time.Hour)))
	require.Zero(t, st.CodeCount())
}

func TestCodes_ConcurrentConsume_SingleWinner(t *testing.T) {
	t.Parallel()

	st := New()
	ctx := context.Background()
	u := seed(t, st, "race@example.com")
	now := time.Now().UTC()
	require.NoError(t, st.SaveCode(ctx, &models.OneTimeCode{
		CodeHash: "race", UserID: u.ID, Purpose: models.PurposeEmailConfirmation,
		ExpiresAt: now.Add(time.Hour), CreatedAt: now,
	}))

	const workers = 32
	var (
		wg      sync.WaitGroup
		success atomic.Int32
		used    atomic.Int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := st.ConsumeCode(ctx, "race", models.PurposeEmailConfirmation, now)
			switch {
			case err == nil:
				success.Add(1)
			case errors.Is(err, storage.ErrAlreadyUsed):
				used.Add(1)
			}
		}()
	}
	wg.Wait()

	require.EqualValues(t, 1, success.Load())
	require.EqualValues(t, workers-1, used.Load())
}

func TestRefreshTokens_RevokeAndCleanup(t *testing.T) {
	t.Parallel()

	st := New()
	ctx := context.Background()
	u := seed(t, st, "r@example.com")
	now := time.Now().UTC()

	live := uuid.New()
	dead := uuid.New()
	require.NoError(t, st.SaveRefreshToken(ctx, &models.RefreshToken{TokenID: live, UserID: u.ID, IssuedAt: now, ExpiresAt: now.Add(time.Hour)}))
	require.NoError(t, st.SaveRefreshToken(ctx, &models.RefreshToken{TokenID: dead, UserID: u.ID, IssuedAt: now, ExpiresAt: now}))

	err := st.SaveRefreshToken(ctx, &models.RefreshToken{TokenID: live, UserID: u.ID})
	require.ErrorIs(t, err, storage.ErrAlreadyExists)

	ok, err := st.RevokeRefreshToken(ctx, live)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = st.RevokeRefreshToken(ctx, live)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, st.DeleteExpiredTokens(ctx, now))
	_, err = st.RevokeRefreshToken(ctx, dead)
	require.ErrorIs(t, err, storage.ErrNotFound)
}
