// hasher реализует одностороннее хэширование паролей.
//
// Поддерживаются два алгоритма: bcrypt (по умолчанию) и argon2id (PHC-строка).
// Проверка выбирает алгоритм по префиксу сохранённого хэша, поэтому смена
// настроенного алгоритма не ломает вход пользователей со старыми хэшами;
// такие хэши помечаются NeedsRehash и пересчитываются при следующем входе.
package hasher

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

const (
	AlgorithmBcrypt   = "bcrypt"
	AlgorithmArgon2id = "argon2id"
)

// Параметры argon2id (рекомендации OWASP).
const (
	argon2Time    = 1
	argon2Memory  = 64 * 1024
	argon2Threads = 4
	argon2SaltLen = 16
	argon2KeyLen  = 32
)

const argon2Prefix = "$argon2id$"

// MaxPasswordBytes — предел длины пароля в байтах, который учитывает bcrypt.
const MaxPasswordBytes = 72

var (
	// ErrEmptyPassword — попытка захэшировать пустую строку.
	ErrEmptyPassword = errors.New("password is empty")
	// ErrPasswordTooLong — пароль длиннее MaxPasswordBytes для bcrypt.
	ErrPasswordTooLong = errors.New("password is too long")
	// ErrUnknownAlgorithm — алгоритм не поддерживается.
	ErrUnknownAlgorithm = errors.New("unknown hashing algorithm")
)

// Hasher — контракт хэширования паролей, используемый сервисным слоем.
type Hasher interface {
	// Hash возвращает солёный хэш; результат различается от вызова к вызову.
	Hash(plain string) (string, error)
	// Verify сверяет пароль с хэшем. Несовпадение и битый хэш дают false.
	Verify(plain, hash string) bool
	// VerifyDummy выполняет проверку против фиктивного хэша, чтобы
	// ветка «пользователь не найден» занимала столько же времени.
	VerifyDummy(plain string)
	// NeedsRehash сообщает, что хэш построен не текущим алгоритмом.
	NeedsRehash(hash string) bool
}

// Service — реализация Hasher.
type Service struct {
	algorithm  string
	bcryptCost int

	dummyOnce sync.Once
	dummyHash string
}

// New создаёт Service для указанного алгоритма.
// bcryptCost вне допустимого диапазона заменяется на bcrypt.DefaultCost.
func New(algorithm string, bcryptCost int) (*Service, error) {
	const op = "hasher.New"

	switch algorithm {
	case AlgorithmBcrypt, AlgorithmArgon2id:
	default:
		return nil, fmt.Errorf("%s: %w: %q", op, ErrUnknownAlgorithm, algorithm)
	}

	if bcryptCost < bcrypt.MinCost || bcryptCost > bcrypt.MaxCost {
		bcryptCost = bcrypt.DefaultCost
	}

	return &Service{algorithm: algorithm, bcryptCost: bcryptCost}, nil
}

// Hash хэширует пароль настроенным алгоритмом.
func (s *Service) Hash(plain string) (string, error) {
	const op = "hasher.Hash"

	if plain == "" {
		return "", fmt.Errorf("%s: %w", op, ErrEmptyPassword)
	}

	if s.algorithm == AlgorithmArgon2id {
		h, err := hashArgon2id(plain)
		if err != nil {
			return "", fmt.Errorf("%s: %w", op, err)
		}

		return h, nil
	}

	if len(plain) > MaxPasswordBytes {
		return "", fmt.Errorf("%s: %w", op, ErrPasswordTooLong)
	}

	b, err := bcrypt.GenerateFromPassword([]byte(plain), s.bcryptCost)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return string(b), nil
}

// Verify сверяет пароль с хэшем любого поддерживаемого алгоритма.
func (s *Service) Verify(plain, hash string) bool {
	switch {
	case strings.HasPrefix(hash, argon2Prefix):
		ok, err := verifyArgon2id(plain, hash)
		return err == nil && ok
	case isBcrypt(hash):
		return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
	default:
		return false
	}
}

// VerifyDummy сверяет пароль с заранее посчитанным хэшем и отбрасывает результат.
func (s *Service) VerifyDummy(plain string) {
	s.dummyOnce.Do(func() {
		h, err := s.Hash("dummy-password-for-timing")
		if err == nil {
			s.dummyHash = h
		}
	})

	_ = s.Verify(plain, s.dummyHash)
}

// NeedsRehash сообщает, что хэш следует пересчитать текущим алгоритмом.
func (s *Service) NeedsRehash(hash string) bool {
	switch s.algorithm {
	case AlgorithmArgon2id:
		return !strings.HasPrefix(hash, argon2Prefix)
	default:
		if !isBcrypt(hash) {
			return true
		}

		cost, err := bcrypt.Cost([]byte(hash))
		return err != nil || cost < s.bcryptCost
	}
}

func isBcrypt(hash string) bool {
	return strings.HasPrefix(hash, "$2a$") ||
		strings.HasPrefix(hash, "$2b$") ||
		strings.HasPrefix(hash, "$2y$")
}

// hashArgon2id возвращает PHC-строку вида
// $argon2id$v=19$m=65536,t=1,p=4$<salt>$<hash>.
func hashArgon2id(plain string) (string, error) {
	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}

	key := argon2.IDKey([]byte(plain), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)

	return fmt.Sprintf("%sv=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2Prefix,
		argon2.Version,
		argon2Memory,
		argon2Time,
		argon2Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

func verifyArgon2id(plain, encoded string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false, errors.New("invalid argon2id hash format")
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return false, err
	}
	if version != argon2.Version {
		return false, fmt.Errorf("unsupported argon2 version %d", version)
	}

	var memory, time, threads uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &threads); err != nil {
		return false, err
	}
	if threads == 0 || threads > 255 || time == 0 {
		return false, errors.New("invalid argon2id parameters")
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, err
	}

	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, err
	}
	if len(expected) == 0 || len(expected) > 1024 {
		return false, errors.New("invalid argon2id key length")
	}

	computed := argon2.IDKey([]byte(plain), salt, time, memory, uint8(threads), uint32(len(expected)))

	return subtle.ConstantTimeCompare(computed, expected) == 1, nil
}

var _ Hasher = (*Service)(nil)
