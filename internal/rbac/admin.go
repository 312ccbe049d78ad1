package rbac

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/openshelf/openshelf/internal/shared"
)

// ErrNotAdmin rejects role mutations from actors without the admin role.
var ErrNotAdmin = errors.New("rbac: actor lacks admin role")

// ErrUnknownRole rejects role tags outside the closed enumeration.
var ErrUnknownRole = errors.New("rbac: unknown role")

// Admin performs grant and revoke operations on role assignments. The guard
// on the administrative page is defense in depth; the actor check here is the
// authoritative one.
type Admin struct {
	repo     Repository
	resolver *Resolver
	audit    *shared.AuditLogger
	logger   *slog.Logger
}

// NewAdmin constructs an Admin service.
func NewAdmin(repo Repository, resolver *Resolver, audit *shared.AuditLogger, logger *slog.Logger) *Admin {
	return &Admin{repo: repo, resolver: resolver, audit: audit, logger: logger}
}

// Grant assigns a role to the target identity. Granting an already-held role
// succeeds without creating a duplicate. The cached role set is invalidated
// only after the database confirms, never optimistically, so a failed grant
// cannot surface a permission that does not exist.
func (a *Admin) Grant(ctx context.Context, actor Actor, targetID int64, role Role) error {
	if err := a.authorize(actor, targetID, role); err != nil {
		return err
	}
	if err := a.repo.InsertAssignment(ctx, targetID, role); err != nil {
		return &RoleMutationError{IdentityID: targetID, Role: role, Err: err}
	}
	a.resolver.Invalidate(targetID)
	a.recordAudit(ctx, actor, "role.grant", targetID, role)
	return nil
}

// Revoke removes a role from the target identity. Revoking an absent role is
// a no-op success. Self-revocation downgrades the acting session on its next
// check via the same invalidation.
func (a *Admin) Revoke(ctx context.Context, actor Actor, targetID int64, role Role) error {
	if err := a.authorize(actor, targetID, role); err != nil {
		return err
	}
	if err := a.repo.DeleteAssignment(ctx, targetID, role); err != nil {
		return &RoleMutationError{IdentityID: targetID, Role: role, Err: err}
	}
	a.resolver.Invalidate(targetID)
	a.recordAudit(ctx, actor, "role.revoke", targetID, role)
	return nil
}

func (a *Admin) authorize(actor Actor, targetID int64, role Role) error {
	if _, ok := ParseRole(string(role)); !ok {
		return &RoleMutationError{IdentityID: targetID, Role: role, Err: ErrUnknownRole}
	}
	if !actor.IsAdmin() {
		return &RoleMutationError{IdentityID: targetID, Role: role, Err: ErrNotAdmin}
	}
	return nil
}

func (a *Admin) recordAudit(ctx context.Context, actor Actor, action string, targetID int64, role Role) {
	if a.audit == nil {
		return
	}
	err := a.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.IdentityID,
		Action:   action,
		Entity:   "identity_role",
		EntityID: strconv.FormatInt(targetID, 10),
		Meta:     map[string]any{"role": string(role)},
	})
	if err != nil && a.logger != nil {
		a.logger.Warn("audit role mutation", slog.Any("error", err))
	}
}
