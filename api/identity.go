/*
identity.go - Request identity resolution

PURPOSE:
  Resolves the acting user for each request. The engine only needs four
  facts about a user (ID, email, superuser, org membership); how tokens
  map to those facts is the deployment's concern, abstracted behind
  IdentityProvider.

HEADER PROVIDER:
  The bundled provider trusts an upstream auth proxy: it reads the
  authenticated email from X-User-Email and derives org membership from
  the configured email domain. Superusers are a fixed allowlist. Absent
  header means anonymous (public access only).

SEE ALSO:
  - core/access.go: What the resolved user may do
*/
package api

import (
	"net/http"
	"strings"

	"github.com/warp/indicator-engine/core"
)

// IdentityProvider resolves the user behind a request. A nil user with a
// nil error is an anonymous request.
type IdentityProvider interface {
	UserFromRequest(r *http.Request) (*core.User, error)
}

// =============================================================================
// HEADER PROVIDER
// =============================================================================

// HeaderIdentity trusts the X-User-Email header set by an upstream
// authentication proxy.
type HeaderIdentity struct {
	// OrgDomain marks organization members: any email under this domain.
	OrgDomain string

	// Superusers is the set of emails with unconditional access.
	Superusers map[string]bool
}

func NewHeaderIdentity(orgDomain string, superusers ...string) *HeaderIdentity {
	set := make(map[string]bool, len(superusers))
	for _, s := range superusers {
		set[strings.ToLower(s)] = true
	}
	return &HeaderIdentity{OrgDomain: orgDomain, Superusers: set}
}

func (p *HeaderIdentity) UserFromRequest(r *http.Request) (*core.User, error) {
	email := strings.ToLower(strings.TrimSpace(r.Header.Get("X-User-Email")))
	if email == "" {
		return nil, nil
	}
	return &core.User{
		ID:          core.UserID(email),
		Email:       email,
		IsSuperuser: p.Superusers[email],
		OrgMember:   p.OrgDomain != "" && strings.HasSuffix(email, "@"+strings.ToLower(p.OrgDomain)),
	}, nil
}

// =============================================================================
// STATIC PROVIDER - tests and single-user deployments
// =============================================================================

// StaticIdentity returns the same user for every request.
type StaticIdentity struct {
	User *core.User
}

func (p *StaticIdentity) UserFromRequest(*http.Request) (*core.User, error) {
	return p.User, nil
}
