package auth

import "context"

// Store describes persistence operations required by the auth subsystem.
type Store interface {
	Tenants(ctx context.Context) TenantStore
	Users(ctx context.Context) UserStore
}

// TenantStore manages tenants.
type TenantStore interface {
	Create(ctx context.Context, t *Tenant) error
	Find(ctx context.Context, id string) (*Tenant, error)
	List(ctx context.Context) ([]*Tenant, error)
}

// UserStore manages users. All lookups are tenant-scoped except Find, which
// resolves token subjects.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, tenantID, email string) (*User, error)
	ListByTenant(ctx context.Context, tenantID string) ([]*User, error)
	// ListByRole returns active users holding any of the given roles,
	// ordered by role authority (owner first) then creation time.
	ListByRole(ctx context.Context, tenantID string, roles ...Role) ([]*User, error)
}
