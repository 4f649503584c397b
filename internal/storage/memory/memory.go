// memory реализует storage.Storage в памяти процесса.
// Используется для локального запуска без БД (db.driver=memory) и в тестах
// сервисного и транспортного слоёв. Все операции выполняются под одним
// мьютексом, поэтому составные операции (погашение кода, обновление
// пароля вместе с token_version) атомарны.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pribylovaa/accounts-auth/internal/models"
	"github.com/pribylovaa/accounts-auth/internal/storage"
)

type Storage struct {
	mu      sync.RWMutex
	users   map[uuid.UUID]models.User
	byEmail map[string]uuid.UUID
	codes   map[string]models.OneTimeCode
	refresh map[uuid.UUID]models.RefreshToken
}

// New создаёт пустое хранилище.
func New() *Storage {
	return &Storage{
		users:   make(map[uuid.UUID]models.User),
		byEmail: make(map[string]uuid.UUID),
		codes:   make(map[string]models.OneTimeCode),
		refresh: make(map[uuid.UUID]models.RefreshToken),
	}
}

// Close ничего не освобождает; нужен для соответствия storage.Storage.
func (s *Storage) Close() {}

func emailKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SaveUser создает нового пользователя.
func (s *Storage) SaveUser(ctx context.Context, user *models.User) error {
	const op = "storage.memory.SaveUser"

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := emailKey(user.Email)
	if _, ok := s.users[user.ID]; ok {
		return fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
	}
	if _, ok := s.byEmail[key]; ok {
		return fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
	}

	s.users[user.ID] = *user
	s.byEmail[key] = user.ID

	return nil
}

// UserByEmail находит пользователя по email без учёта регистра.
func (s *Storage) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	const op = "storage.memory.UserByEmail"

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[emailKey(email)]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	user := s.users[id]
	return &user, nil
}

// UserByID находит пользователя по ID.
func (s *Storage) UserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	const op = "storage.memory.UserByID"

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	return &user, nil
}

// UpdateUser атомарно применяет изменения.
func (s *Storage) UpdateUser(ctx context.Context, id uuid.UUID, upd models.UserUpdate) (*models.User, error) {
	const op = "storage.memory.UpdateUser"

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	if upd.Empty() {
		return &user, nil
	}

	if upd.Name != nil {
		user.Name = *upd.Name
	}
	if upd.PasswordHash != nil {
		user.PasswordHash = *upd.PasswordHash
	}
	if upd.IsVerified != nil {
		user.IsVerified = *upd.IsVerified
	}
	if upd.Role != nil {
		user.Role = *upd.Role
	}
	if upd.BumpTokenVersion {
		user.TokenVersion++
	}
	user.UpdatedAt = time.Now().UTC()

	s.users[id] = user

	return &user, nil
}

// ListUsers возвращает страницу пользователей по возрастанию даты создания.
func (s *Storage) ListUsers(ctx context.Context, limit, offset int) ([]*models.User, error) {
	const op = "storage.memory.ListUsers"

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.mu.RLock()
	all := make([]models.User, 0, len(s.users))
	for _, u := range s.users {
		all = append(all, u)
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID.String() < all[j].ID.String()
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})

	if offset < 0 {
		offset = 0
	}
	if offset >= len(all) || limit <= 0 {
		return []*models.User{}, nil
	}

	end := offset + limit
	if end > len(all) {
		end = len(all)
	}

	out := make([]*models.User, 0, end-offset)
	for i := offset; i < end; i++ {
		u := all[i]
		out = append(out, &u)
	}

	return out, nil
}

// DeleteUser удаляет пользователя вместе с его кодами и refresh-токенами.
func (s *Storage) DeleteUser(ctx context.Context, id uuid.UUID) error {
	const op = "storage.memory.DeleteUser"

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	delete(s.users, id)
	delete(s.byEmail, emailKey(user.Email))

	for h, c := range s.codes {
		if c.UserID == id {
			delete(s.codes, h)
		}
	}
	for tid, t := range s.refresh {
		if t.UserID == id {
			delete(s.refresh, tid)
		}
	}

	return nil
}

var _ storage.Storage = (*Storage)(nil)
