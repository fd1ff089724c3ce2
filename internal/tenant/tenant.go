package tenant

import "github.com/google/uuid"

// Mode discriminates how a request is bound to a tenant.
type Mode string

const (
	// ModeCentral marks requests arriving at the apex domain with no
	// institution binding.
	ModeCentral Mode = "central"
	// ModeSubdomain marks requests whose host resolved to exactly one
	// institution.
	ModeSubdomain Mode = "subdomain"
)

// Context is the per-request tenant binding. It is constructed once by the
// Resolver and carried down the call stack unchanged.
type Context struct {
	Mode          Mode
	InstitutionID uuid.UUID
}

// Central returns an unbound tenant context.
func Central() Context {
	return Context{Mode: ModeCentral}
}

// Subdomain returns a context bound to the given institution.
func Subdomain(institutionID uuid.UUID) Context {
	return Context{Mode: ModeSubdomain, InstitutionID: institutionID}
}

// Bound reports whether the context carries an institution binding.
func (c Context) Bound() bool {
	return c.Mode == ModeSubdomain
}

// RequestMetadata is the host/header data produced by the routing layer.
type RequestMetadata struct {
	Host          string
	ForwardedHost string
}
