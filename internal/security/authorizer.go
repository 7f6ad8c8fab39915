package security

import (
	"context"
	"log/slog"

	"dphub/internal/domain"
)

// Authorizer enforces the per-product authPolicy and, for required-auth
// products, the entitlement check behind it.
type Authorizer struct {
	enabled bool
	ent     EntitlementsBackend
	log     *slog.Logger
}

// NewAuthorizer creates an Authorizer. When enabled is false every check
// passes, matching a deployment without an identity provider.
func NewAuthorizer(enabled bool, ent EntitlementsBackend, log *slog.Logger) *Authorizer {
	if ent == nil {
		ent = NoopBackend{}
	}
	return &Authorizer{enabled: enabled, ent: ent, log: log}
}

// CheckAccess enforces the product's authPolicy:
//
//   - none or optional: always allowed, with or without a principal
//   - required: a validated principal must be present, and the principal's
//     app must be entitled to the product
//
// An unrecognized policy denies by default.
func (a *Authorizer) CheckAccess(ctx context.Context, decl *domain.Declaration, p *Principal) error {
	if !a.enabled {
		return nil
	}

	switch decl.Security.Policy() {
	case domain.AuthNone, domain.AuthOptional:
		return nil
	case domain.AuthRequired:
		if p == nil {
			return domain.ErrAuthRequired(
				"access token is required for data product %q", decl.ID)
		}
		if !a.ent.IsAllowed(ctx, p.EntitlementID(), decl.ID) {
			return domain.ErrAccessDenied(
				"application %q is not entitled to data product %q", p.EntitlementID(), decl.ID)
		}
		return nil
	default:
		a.log.Warn("unknown authPolicy, denying", "policy", decl.Security.AuthPolicy, "id", decl.ID)
		return domain.ErrAccessDenied("access to data product %q is forbidden", decl.ID)
	}
}
