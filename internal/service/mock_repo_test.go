package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"avatar-api/internal/domain"
	"avatar-api/internal/repository"
)

// mockUserRepo aplica las mismas restricciones de unicidad que la tabla users.
type mockUserRepo struct {
	mu    sync.Mutex
	users map[string]domain.User

	// beforeCreate corre antes de cada Create, fuera del lock, para simular carreras.
	beforeCreate func(call int)
	createErr    error
	lookupErr    error

	createCalls   int
	providerCalls int
	idCalls       int
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{users: make(map[string]domain.User)}
}

func (m *mockUserRepo) seed(u domain.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

func (m *mockUserRepo) conflictsLocked(id string, provider domain.Provider, providerID, email string) bool {
	for _, u := range m.users {
		if u.ID == id {
			continue
		}
		if strings.EqualFold(u.Email, email) {
			return true
		}
		if providerID != "" && u.Provider == provider && u.ProviderID == providerID {
			return true
		}
	}
	return false
}

func (m *mockUserRepo) Create(_ context.Context, user domain.User) error {
	m.mu.Lock()
	m.createCalls++
	call := m.createCalls
	hook := m.beforeCreate
	m.mu.Unlock()
	if hook != nil {
		hook(call)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	if m.conflictsLocked(user.ID, user.Provider, user.ProviderID, user.Email) {
		return repository.ErrConflict
	}
	m.users[user.ID] = user
	return nil
}

func (m *mockUserRepo) GetByID(_ context.Context, id string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.idCalls++
	if m.lookupErr != nil {
		return domain.User{}, m.lookupErr
	}
	u, ok := m.users[id]
	if !ok {
		return domain.User{}, repository.ErrNotFound
	}
	return u, nil
}

func (m *mockUserRepo) GetByProvider(_ context.Context, provider domain.Provider, providerID string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providerCalls++
	if m.lookupErr != nil {
		return domain.User{}, m.lookupErr
	}
	for _, u := range m.users {
		if u.Provider == provider && u.ProviderID == providerID {
			return u, nil
		}
	}
	return domain.User{}, repository.ErrNotFound
}

func (m *mockUserRepo) GetByProviderID(_ context.Context, providerID string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providerCalls++
	if m.lookupErr != nil {
		return domain.User{}, m.lookupErr
	}
	var found []domain.User
	for _, u := range m.users {
		if u.ProviderID == providerID {
			found = append(found, u)
		}
	}
	switch len(found) {
	case 0:
		return domain.User{}, repository.ErrNotFound
	case 1:
		return found[0], nil
	default:
		return domain.User{}, repository.ErrAmbiguous
	}
}

func (m *mockUserRepo) GetByEmail(_ context.Context, email string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return domain.User{}, repository.ErrNotFound
}

func (m *mockUserRepo) UpdateIdentity(_ context.Context, id string, update repository.IdentityUpdate) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return domain.User{}, repository.ErrNotFound
	}
	if m.conflictsLocked(id, update.Provider, update.ProviderID, u.Email) {
		return domain.User{}, repository.ErrConflict
	}
	u.Provider = update.Provider
	u.ProviderID = update.ProviderID
	if update.Name != "" {
		u.Name = update.Name
	}
	if update.PhotoURL != "" {
		u.PhotoURL = update.PhotoURL
	}
	m.users[id] = u
	return u, nil
}

func (m *mockUserRepo) SetActive(_ context.Context, id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.IsActive = active
	m.users[id] = u
	return nil
}

func (m *mockUserRepo) Count(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.users)), nil
}

type recordingCache struct {
	IdentityCache
	mu          sync.Mutex
	invalidated []string
}

func newRecordingCache() *recordingCache {
	return &recordingCache{IdentityCache: newRedisIdentityCache(newMockRedisKV(), nil, time.Minute)}
}

func (c *recordingCache) Invalidate(ctx context.Context, providerIDs ...string) {
	c.mu.Lock()
	c.invalidated = append(c.invalidated, providerIDs...)
	c.mu.Unlock()
	c.IdentityCache.Invalidate(ctx, providerIDs...)
}
