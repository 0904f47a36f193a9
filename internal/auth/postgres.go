package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"decisiongate.org/internal/ids"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Tenants(ctx context.Context) TenantStore { return &tenantStore{db: s.db} }
func (s *PGStore) Users(ctx context.Context) UserStore     { return &userStore{db: s.db} }

// Tenant store ------------------------------------------------------------

type tenantStore struct{ db *sql.DB }

func (s *tenantStore) Create(ctx context.Context, t *Tenant) error {
	if strings.TrimSpace(t.Name) == "" {
		return ErrInvalidInput
	}
	if t.ID == "" {
		t.ID = ids.New()
	}
	meta, _ := json.Marshal(t.Metadata)
	_, err := s.db.ExecContext(ctx,
		`insert into tenants(id, name, metadata) values($1,$2,$3)`,
		t.ID, t.Name, meta,
	)
	return err
}

func (s *tenantStore) Find(ctx context.Context, id string) (*Tenant, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, name, created_at, updated_at, metadata from tenants where id=$1`, id,
	)
	var (
		t        Tenant
		metadata []byte
	)
	if err := row.Scan(&t.ID, &t.Name, &t.CreatedAt, &t.UpdatedAt, &metadata); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	_ = json.Unmarshal(metadata, &t.Metadata)
	return &t, nil
}

func (s *tenantStore) List(ctx context.Context) ([]*Tenant, error) {
	rows, err := s.db.QueryContext(ctx,
		`select id, name, created_at, updated_at, metadata from tenants order by created_at asc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*Tenant
	for rows.Next() {
		var (
			t        Tenant
			metadata []byte
		)
		if err := rows.Scan(&t.ID, &t.Name, &t.CreatedAt, &t.UpdatedAt, &metadata); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(metadata, &t.Metadata)
		res = append(res, &t)
	}
	return res, rows.Err()
}

// User store --------------------------------------------------------------

type userStore struct{ db *sql.DB }

const userColumns = `id, tenant_id, email, name, password_hash, role, status, created_at, updated_at`

func (s *userStore) Create(ctx context.Context, u *User) error {
	if u.TenantID == "" || strings.TrimSpace(u.Email) == "" || !u.Role.Valid() {
		return ErrInvalidInput
	}
	if u.ID == "" {
		u.ID = ids.New()
	}
	if u.Status == "" {
		u.Status = "active"
	}
	_, err := s.db.ExecContext(ctx,
		`insert into users(id, tenant_id, email, name, password_hash, role, status)
		 values($1,$2,lower($3),$4,$5,$6,$7)`,
		u.ID, u.TenantID, u.Email, u.Name, u.PasswordHash, string(u.Role), u.Status,
	)
	return err
}

func (s *userStore) Find(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where id=$1`, id)
	return scanUser(row)
}

func (s *userStore) FindByEmail(ctx context.Context, tenantID, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where tenant_id=$1 and email=lower($2)`,
		tenantID, email)
	return scanUser(row)
}

func (s *userStore) ListByTenant(ctx context.Context, tenantID string) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+userColumns+` from users where tenant_id=$1 order by created_at asc`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectUsers(rows)
}

func (s *userStore) ListByRole(ctx context.Context, tenantID string, roles ...Role) ([]*User, error) {
	if len(roles) == 0 {
		return nil, nil
	}
	placeholders := make([]string, 0, len(roles))
	args := []any{tenantID}
	for i, r := range roles {
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+2))
		args = append(args, string(r))
	}
	query := `select ` + userColumns + ` from users
		where tenant_id=$1 and status='active' and role in (` + strings.Join(placeholders, ",") + `)
		order by case role
			when 'owner' then 0
			when 'admin' then 1
			when 'manager' then 2
			else 3
		end, created_at asc`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectUsers(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var (
		u    User
		role string
	)
	err := row.Scan(&u.ID, &u.TenantID, &u.Email, &u.Name, &u.PasswordHash, &role, &u.Status, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.Role = Role(role)
	return &u, nil
}

func collectUsers(rows *sql.Rows) ([]*User, error) {
	var res []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}
