package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pribylovaa/accounts-auth/internal/models"
	"github.com/pribylovaa/accounts-auth/internal/storage"
)

// SaveCode сохраняет одноразовый код и в той же транзакции удаляет
// непогашенные коды пользователя с тем же назначением.
// Строка пользователя блокируется (FOR UPDATE), чтобы конкурентные выпуски
// для одного пользователя не оставили два действующих кода.
func (s *Storage) SaveCode(ctx context.Context, code *models.OneTimeCode) error {
	const op = "storage.postgres.SaveCode"

	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		var id uuid.UUID
		err := tx.QueryRow(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, code.UserID).Scan(&id)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return storage.ErrNotFound
			}

			return err
		}

		_, err = tx.Exec(ctx, `
			DELETE FROM one_time_codes
			WHERE user_id = $1 AND purpose = $2 AND consumed_at IS NULL
		`, code.UserID, string(code.Purpose))
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO one_time_codes(code_hash, user_id, purpose, expires_at, consumed_at, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`,
			code.CodeHash,
			code.UserID,
			string(code.Purpose),
			code.ExpiresAt,
			code.ConsumedAt,
			code.CreatedAt,
		)

		return err
	})

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// ConsumeCode атомарно гасит код: UPDATE срабатывает только для
// непогашенного и неистёкшего кода. Если строка не обновилась,
// повторное чтение классифицирует причину отказа.
func (s *Storage) ConsumeCode(ctx context.Context, hash string, purpose models.CodePurpose, now time.Time) (*models.OneTimeCode, error) {
	const op = "storage.postgres.ConsumeCode"

	const upd = `
		UPDATE one_time_codes
		SET consumed_at = $3
		WHERE code_hash = $1 AND purpose = $2 AND consumed_at IS NULL AND expires_at > $3
		RETURNING user_id, expires_at, created_at
	`

	code := models.OneTimeCode{CodeHash: hash, Purpose: purpose}

	err := s.db.QueryRow(ctx, upd, hash, string(purpose), now).Scan(&code.UserID, &code.ExpiresAt, &code.CreatedAt)
	if err == nil {
		consumedAt := now
		code.ConsumedAt = &consumedAt
		return &code, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	const sel = `
		SELECT consumed_at
		FROM one_time_codes
		WHERE code_hash = $1 AND purpose = $2
	`

	var consumedAt *time.Time
	err = s.db.QueryRow(ctx, sel, hash, string(purpose)).Scan(&consumedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if consumedAt != nil {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrAlreadyUsed)
	}

	return nil, fmt.Errorf("%s: %w", op, storage.ErrExpired)
}

// InvalidateCodes удаляет непогашенные коды пользователя с данным назначением.
func (s *Storage) InvalidateCodes(ctx context.Context, userID uuid.UUID, purpose models.CodePurpose) error {
	const op = "storage.postgres.InvalidateCodes"

	_, err := s.db.Exec(ctx, `
		DELETE FROM one_time_codes
		WHERE user_id = $1 AND purpose = $2 AND consumed_at IS NULL
	`, userID, string(purpose))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// DeleteStaleCodes удаляет коды, истёкшие раньше before.
func (s *Storage) DeleteStaleCodes(ctx context.Context, before time.Time) error {
	const op = "storage.postgres.DeleteStaleCodes"

	_, err := s.db.Exec(ctx, `DELETE FROM one_time_codes WHERE expires_at < $1`, before)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}
