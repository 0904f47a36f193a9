package decision

import (
	"context"

	"decisiongate.org/internal/auth"
)

// maxExecutiveApprovers caps the required-approver list for the strictest
// tier so quorum stays reachable.
const maxExecutiveApprovers = 2

// ApproverResolver turns an approval tier into the tenant's required
// approver identities.
type ApproverResolver struct {
	users auth.Store
}

func NewApproverResolver(users auth.Store) *ApproverResolver {
	return &ApproverResolver{users: users}
}

// Resolve returns the ordered approver ids for a tier. An empty result means
// the tenant has no path to approval; the caller decides the fallback.
func (r *ApproverResolver) Resolve(ctx context.Context, tenantID string, level Level) ([]string, error) {
	if !level.RequiresApproval() {
		return nil, nil
	}
	users := r.users.Users(ctx)

	switch level {
	case LevelExecutiveApproval:
		list, err := users.ListByRole(ctx, tenantID, auth.RoleOwner, auth.RoleAdmin)
		if err != nil {
			return nil, err
		}
		return userIDs(list, maxExecutiveApprovers), nil
	default:
		list, err := users.ListByRole(ctx, tenantID, auth.RoleManager)
		if err != nil {
			return nil, err
		}
		if len(list) == 0 {
			// No manager on file: escalate to owners/admins rather than
			// leaving the tier unreachable.
			list, err = users.ListByRole(ctx, tenantID, auth.RoleOwner, auth.RoleAdmin)
			if err != nil {
				return nil, err
			}
		}
		return userIDs(list, 1), nil
	}
}

func userIDs(users []*auth.User, max int) []string {
	if len(users) > max {
		users = users[:max]
	}
	out := make([]string, 0, len(users))
	for _, u := range users {
		out = append(out, u.ID)
	}
	return out
}
