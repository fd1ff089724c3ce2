package tenant

import (
	"net"
	"strings"
)

// Resolver derives the tenant binding for a request from its host metadata.
// Resolution is total: anything unresolved or malformed yields central mode,
// never a fabricated institution id.
type Resolver struct {
	directory  Directory
	baseDomain string
}

// NewResolver constructs a Resolver for the given apex domain.
func NewResolver(directory Directory, baseDomain string) *Resolver {
	return &Resolver{
		directory:  directory,
		baseDomain: canonicalHost(baseDomain),
	}
}

// Resolve maps request host metadata to a tenant Context.
func (r *Resolver) Resolve(meta RequestMetadata) Context {
	host := meta.ForwardedHost
	if host == "" {
		host = meta.Host
	}
	host = canonicalHost(host)
	if host == "" || host == r.baseDomain || host == "www."+r.baseDomain {
		return Central()
	}

	suffix := "." + r.baseDomain
	if !strings.HasSuffix(host, suffix) {
		return Central()
	}
	slug := strings.TrimSuffix(host, suffix)
	if slug == "" || strings.Contains(slug, ".") {
		return Central()
	}

	id, ok := r.directory.InstitutionBySlug(slug)
	if !ok {
		return Central()
	}
	return Subdomain(id)
}

// canonicalHost lowercases and strips port and trailing dot.
func canonicalHost(host string) string {
	host = strings.TrimSpace(strings.ToLower(host))
	if host == "" {
		return ""
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.TrimSuffix(host, ".")
}
