package auth

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"decisiongate.org/internal/ids"
)

var _ Store = (*InMemory)(nil)

// InMemory implements Store for tests and local development.
type InMemory struct {
	mu      sync.RWMutex
	tenants map[string]*Tenant
	users   map[string]*User
}

// NewInMemory creates an empty in-memory auth store.
func NewInMemory() *InMemory {
	return &InMemory{
		tenants: make(map[string]*Tenant),
		users:   make(map[string]*User),
	}
}

func (s *InMemory) Tenants(ctx context.Context) TenantStore { return (*memTenantStore)(s) }
func (s *InMemory) Users(ctx context.Context) UserStore     { return (*memUserStore)(s) }

type memTenantStore InMemory

func (s *memTenantStore) Create(ctx context.Context, t *Tenant) error {
	if strings.TrimSpace(t.Name) == "" {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == "" {
		t.ID = ids.New()
	}
	if _, ok := s.tenants[t.ID]; ok {
		return ErrAlreadyExists
	}
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	cp := *t
	s.tenants[t.ID] = &cp
	return nil
}

func (s *memTenantStore) Find(ctx context.Context, id string) (*Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tenants[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *memTenantStore) List(ctx context.Context) ([]*Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]*Tenant, 0, len(s.tenants))
	for _, t := range s.tenants {
		cp := *t
		res = append(res, &cp)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	return res, nil
}

type memUserStore InMemory

func (s *memUserStore) Create(ctx context.Context, u *User) error {
	if u.TenantID == "" || strings.TrimSpace(u.Email) == "" || !u.Role.Valid() {
		return ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == "" {
		u.ID = ids.New()
	}
	if _, ok := s.users[u.ID]; ok {
		return ErrAlreadyExists
	}
	if u.Status == "" {
		u.Status = "active"
	}
	u.Email = strings.ToLower(u.Email)
	now := time.Now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *memUserStore) Find(ctx context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *memUserStore) FindByEmail(ctx context.Context, tenantID, email string) (*User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.TenantID == tenantID && u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memUserStore) ListByTenant(ctx context.Context, tenantID string) ([]*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []*User
	for _, u := range s.users {
		if u.TenantID == tenantID {
			cp := *u
			res = append(res, &cp)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	return res, nil
}

func (s *memUserStore) ListByRole(ctx context.Context, tenantID string, roles ...Role) ([]*User, error) {
	wanted := make(map[Role]bool, len(roles))
	for _, r := range roles {
		wanted[r] = true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []*User
	for _, u := range s.users {
		if u.TenantID == tenantID && u.Active() && wanted[u.Role] {
			cp := *u
			res = append(res, &cp)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		ri, rj := roleRank(res[i].Role), roleRank(res[j].Role)
		if ri != rj {
			return ri < rj
		}
		return res[i].CreatedAt.Before(res[j].CreatedAt)
	})
	return res, nil
}

func roleRank(r Role) int {
	switch r {
	case RoleOwner:
		return 0
	case RoleAdmin:
		return 1
	case RoleManager:
		return 2
	default:
		return 3
	}
}
