package redis

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/pribylovaa/accounts-auth/internal/models"
	"github.com/pribylovaa/accounts-auth/internal/storage"
)

// Интеграционные тесты CodeStore на реальном Redis (redis:7-alpine).
//
// Запуск локально:
//   GO_TEST_INTEGRATION=1 go test ./internal/storage/redis -v -race -count=1

func startRedis(t *testing.T) (*CodeStore, func()) {
	t.Helper()
	if os.Getenv("GO_TEST_INTEGRATION") == "" {
		t.Skip("integration tests are disabled (set GO_TEST_INTEGRATION=1)")
	}

	ctx := context.Background()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
	}
	c, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err)

	host, _ := c.Host(ctx)
	port, _ := c.MappedPort(ctx, "6379/tcp")

	st, err := New(ctx, fmt.Sprintf("redis://%s:%s/0", host, port.Port()), "", time.Hour)
	require.NoError(t, err)

	return st, func() {
		_ = st.Close()
		_ = c.Terminate(context.Background())
	}
}

func code(userID uuid.UUID, hash string, purpose models.CodePurpose, exp time.Time) *models.OneTimeCode {
	return &models.OneTimeCode{
		CodeHash:  hash,
		UserID:    userID,
		Purpose:   purpose,
		ExpiresAt: exp,
		CreatedAt: time.Now().UTC(),
	}
}

func TestIntegration_Redis_ConsumeCode_Lifecycle(t *testing.T) {
	st, cleanup := startRedis(t)
	defer cleanup()

	ctx := context.Background()
	uid := uuid.New()
	now := time.Now().UTC()

	require.NoError(t, st.SaveCode(ctx, code(uid, "h1", models.PurposeEmailConfirmation, now.Add(time.Hour))))
	require.ErrorIs(t, st.SaveCode(ctx, code(uid, "h1", models.PurposeEmailConfirmation, now.Add(time.Hour))), storage.ErrAlreadyExists)

	_, err := st.ConsumeCode(ctx, "h1", models.PurposePasswordReset, now)
	require.ErrorIs(t, err, storage.ErrNotFound)

	got, err := st.ConsumeCode(ctx, "h1", models.PurposeEmailConfirmation, now)
	require.NoError(t, err)
	require.Equal(t, uid, got.UserID)
	require.WithinDuration(t, now.Add(time.Hour), got.ExpiresAt, time.Millisecond)

	_, err = st.ConsumeCode(ctx, "h1", models.PurposeEmailConfirmation, now.Add(2*time.Hour))
	require.ErrorIs(t, err, storage.ErrAlreadyUsed)

	_, err = st.ConsumeCode(ctx, "missing", models.PurposeEmailConfirmation, now)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestIntegration_Redis_ConsumeCode_Expired(t *testing.T) {
	st, cleanup := startRedis(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, st.SaveCode(ctx, code(uuid.New(), "exp", models.PurposePasswordReset, now.Add(-time.Minute))))

	_, err := st.ConsumeCode(ctx, "exp", models.PurposePasswordReset, now)
	require.ErrorIs(t, err, storage.ErrExpired)
}

func TestIntegration_Redis_SaveCode_SupersedesOutstanding(t *testing.T) {
	st, cleanup := startRedis(t)
	defer cleanup()

	ctx := context.Background()
	uid := uuid.New()
	now := time.Now().UTC()

	require.NoError(t, st.SaveCode(ctx, code(uid, "old", models.PurposePasswordReset, now.Add(time.Hour))))
	require.NoError(t, st.SaveCode(ctx, code(uid, "new", models.PurposePasswordReset, now.Add(time.Hour))))

	_, err := st.ConsumeCode(ctx, "old", models.PurposePasswordReset, now)
	require.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, st.InvalidateCodes(ctx, uid, models.PurposePasswordReset))
	_, err = st.ConsumeCode(ctx, "new", models.PurposePasswordReset, now)
	require.ErrorIs(t, err, storage.ErrNotFound)

	// Инвалидация без выпущенных кодов не ошибка.
	require.NoError(t, st.InvalidateCodes(ctx, uuid.New(), models.PurposePasswordReset))
}

func TestIntegration_Redis_ConsumeCode_ConcurrentSingleWinner(t *testing.T) {
	st, cleanup := startRedis(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, st.SaveCode(ctx, code(uuid.New(), "race", models.PurposeEmailConfirmation, now.Add(time.Hour))))

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
