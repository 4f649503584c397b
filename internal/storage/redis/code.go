// redis реализует storage.CodeStorage поверх Redis.
//
// Код хранится как Redis Hash по ключу <prefix>code:<hash> с полями
// uid, purpose, exp, created (unix ms) и used (0 или момент погашения, unix ms).
// Ключ <prefix>idx:<uid>:<purpose> указывает на последний выпущенный код,
// что позволяет инвалидировать его при перевыпуске.
// TTL ключей = expires_at + retention, поэтому просроченные коды какое-то время
// продолжают отвечать «истёк», а затем удаляются самим Redis.
//
// Составные операции выполняются Lua-скриптами и атомарны. Скрипты
// обращаются к ключам, вычисленным внутри, и рассчитаны на одиночный
// экземпляр Redis (не Cluster).
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/pribylovaa/accounts-auth/internal/models"
	"github.com/pribylovaa/accounts-auth/internal/storage"
)

const defaultPrefix = "auth:otc:"

var saveScript = goredis.NewScript(`
local old = redis.call('GET', KEYS[2])
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 'exists'
end
if old then
	local k = ARGV[7] .. old
	if redis.call('HGET', k, 'used') == '0' then
		redis.call('DEL', k)
	end
end
redis.call('HSET', KEYS[1], 'uid', ARGV[2], 'purpose', ARGV[3], 'exp', ARGV[4], 'created', ARGV[5], 'used', '0')
redis.call('PEXPIRE', KEYS[1], ARGV[6])
redis.call('SET', KEYS[2], ARGV[1], 'PX', ARGV[6])
return 'ok'
`)

var consumeScript = goredis.NewScript(`
local d = redis.call('HMGET', KEYS[1], 'uid', 'purpose', 'exp', 'created', 'used')
if not d[1] or d[2] ~= ARGV[1] then
	return {'not_found'}
end
if d[5] ~= '0' then
	return {'used'}
end
if tonumber(ARGV[2]) >= tonumber(d[3]) then
	return {'expired'}
end
redis.call('HSET', KEYS[1], 'used', ARGV[2])
return {'ok', d[1], d[3], d[4]}
`)

var invalidateScript = goredis.NewScript(`
local old = redis.call('GET', KEYS[1])
if old then
	local k = ARGV[1] .. old
	if redis.call('HGET', k, 'used') == '0' then
		redis.call('DEL', k)
	end
	redis.call('DEL', KEYS[1])
end
return 1
`)

// CodeStore — хранилище одноразовых кодов в Redis.
type CodeStore struct {
	rdb       *goredis.Client
	prefix    string
	retention time.Duration
}

// New создаёт клиент Redis из URL (например, redis://:pass@host:6379/0).
// Если prefix пустой — используется "auth:otc:".
func New(ctx context.Context, redisURL, prefix string, retention time.Duration) (*CodeStore, error) {
	const op = "storage.redis.New"

	if prefix == "" {
		prefix = defaultPrefix
	}

	opt, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	rdb := goredis.NewClient(opt)

	// Fail-fast на старте.
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &CodeStore{rdb: rdb, prefix: prefix, retention: retention}, nil
}

func (c *CodeStore) codePrefix() string { return c.prefix + "code:" }

func (c *CodeStore) codeKey(hash string) string { return c.codePrefix() + hash }

func (c *CodeStore) indexKey(userID uuid.UUID, purpose models.CodePurpose) string {
	return c.prefix + "idx:" + userID.String() + ":" + string(purpose)
}

// SaveCode сохраняет код и удаляет предыдущий непогашенный код пользователя с тем же назначением.
func (c *CodeStore) SaveCode(ctx context.Context, code *models.OneTimeCode) error {
	const op = "storage.redis.SaveCode"

	ttl := time.Until(code.ExpiresAt.Add(c.retention))
	if ttl <= 0 {
		ttl = time.Millisecond
	}

	res, err := saveScript.Run(ctx, c.rdb,
		[]string{c.codeKey(code.CodeHash), c.indexKey(code.UserID, code.Purpose)},
		code.CodeHash,
		code.UserID.String(),
		string(code.Purpose),
		code.ExpiresAt.UnixMilli(),
		code.CreatedAt.UnixMilli(),
		ttl.Milliseconds(),
		c.codePrefix(),
	).Text()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if res == "exists" {
		return fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
	}

	return nil
}

// ConsumeCode атомарно гасит код.
func (c *CodeStore) ConsumeCode(ctx context.Context, hash string, purpose models.CodePurpose, now time.Time) (*models.OneTimeCode, error) {
	const op = "storage.redis.ConsumeCode"

	res, err := consumeScript.Run(ctx, c.rdb, []string{c.codeKey(hash)}, string(purpose), now.UnixMilli()).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if len(res) == 0 {
		return nil, fmt.Errorf("%s: empty script reply", op)
	}

	switch res[0] {
	case "not_found":
		return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	case "used":
		return nil, fmt.Errorf("%s: %w", op, storage.ErrAlreadyUsed)
	case "expired":
		return nil, fmt.Errorf("%s: %w", op, storage.ErrExpired)
	case "ok":
	default:
		return nil, fmt.Errorf("%s: unexpected script reply %q", op, res[0])
	}

	if len(res) != 4 {
		return nil, fmt.Errorf("%s: malformed script reply", op)
	}

	uid, err := uuid.Parse(res[1])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	exp, err := parseMillis(res[2])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	created, err := parseMillis(res[3])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	consumedAt := now
	return &models.OneTimeCode{
		CodeHash:   hash,
		UserID:     uid,
		Purpose:    purpose,
		ExpiresAt:  exp,
		ConsumedAt: &consumedAt,
		CreatedAt:  created,
	}, nil
}

// InvalidateCodes удаляет последний непогашенный код пользователя с данным назначением.
func (c *CodeStore) InvalidateCodes(ctx context.Context, userID uuid.UUID, purpose models.CodePurpose) error {
	const op = "storage.redis.InvalidateCodes"

	err := invalidateScript.Run(ctx, c.rdb, []string{c.indexKey(userID, purpose)}, c.codePrefix()).Err()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// DeleteStaleCodes ничего не делает: устаревшие коды удаляются по TTL.
func (c *CodeStore) DeleteStaleCodes(context.Context, time.Time) error {
	return nil
}

// Close закрывает клиент Redis.
func (c *CodeStore) Close() error { return c.rdb.Close() }

func parseMillis(s string) (time.Time, error) {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}

	return time.UnixMilli(ms).UTC(), nil
}

var _ storage.CodeStorage = (*CodeStore)(nil)
