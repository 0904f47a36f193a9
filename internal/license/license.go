// Package license gates tenant access to billable feature modules.
// A failed check carries the module identifier so the HTTP layer can
// translate it ahead of generic error handling.
package license

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ModuleAIDecisions is the module id covering the AI decision workflow.
const ModuleAIDecisions = "ai_decisions"

// Error reports a licensing failure for a specific module.
type Error struct {
	ModuleID string
	TenantID string
	Reason   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("license: module %s not available for tenant %s: %s", e.ModuleID, e.TenantID, e.Reason)
}

// AsError unwraps a licensing error if err carries one.
func AsError(err error) (*Error, bool) {
	var le *Error
	if errors.As(err, &le) {
		return le, true
	}
	return nil, false
}

// Checker verifies a tenant's access to a module.
type Checker interface {
	Licensed(ctx context.Context, tenantID, moduleID string) error
}

// PGChecker reads module licenses from PostgreSQL.
type PGChecker struct {
	db *sql.DB
}

func NewPGChecker(db *sql.DB) *PGChecker { return &PGChecker{db: db} }

func (c *PGChecker) Licensed(ctx context.Context, tenantID, moduleID string) error {
	var expires sql.NullTime
	err := c.db.QueryRowContext(ctx, `
		select expires_at from module_licenses
		where tenant_id=$1 and module_id=$2 and active
	`, tenantID, moduleID).Scan(&expires)
	if errors.Is(err, sql.ErrNoRows) {
		return &Error{ModuleID: moduleID, TenantID: tenantID, Reason: "not licensed"}
	}
	if err != nil {
		return err
	}
	if expires.Valid && time.Now().UTC().After(expires.Time) {
		return &Error{ModuleID: moduleID, TenantID: tenantID, Reason: "license expired"}
	}
	return nil
}

// StaticChecker serves tests and single-tenant deployments from a fixed map.
type StaticChecker struct {
	mu       sync.RWMutex
	licensed map[string]map[string]bool // tenant -> module -> ok
}

func NewStaticChecker() *StaticChecker {
	return &StaticChecker{licensed: make(map[string]map[string]bool)}
}

// Grant enables a module for a tenant.
func (c *StaticChecker) Grant(tenantID, moduleID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	mods := c.licensed[tenantID]
	if mods == nil {
		mods = make(map[string]bool)
		c.licensed[tenantID] = mods
	}
	mods[moduleID] = true
}

// Revoke disables a module for a tenant.
func (c *StaticChecker) Revoke(tenantID, moduleID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if mods := c.licensed[tenantID]; mods != nil {
		delete(mods, moduleID)
	}
}

func (c *StaticChecker) Licensed(ctx context.Context, tenantID, moduleID string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.licensed[tenantID][moduleID] {
		return nil
	}
	return &Error{ModuleID: moduleID, TenantID: tenantID, Reason: "not licensed"}
}
