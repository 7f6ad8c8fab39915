// Package security enforces per-product access policy: auth requirements
// declared on the product and app-level entitlements behind them.
package security

// Principal is the authenticated caller, extracted from a validated token.
type Principal struct {
	// Subject is the token's sub claim.
	Subject string
	// AppID identifies the calling application for entitlement checks.
	// Read from a configurable claim (azp by default); falls back to
	// Subject when the claim is absent.
	AppID string
	// Claims holds the full validated claim set.
	Claims map[string]interface{}
}

// EntitlementID returns the identifier used for entitlement lookups.
func (p *Principal) EntitlementID() string {
	if p.AppID != "" {
		return p.AppID
	}
	return p.Subject
}
