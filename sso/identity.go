package sso

import (
	"maps"
	"slices"

	"github.com/smnsjas/go-negotiate/auth"
)

// Identity describes an authenticated user. An Identity placed in a cache is
// never modified; use Clone before changing a copy.
type Identity struct {
	Name        string         `json:"name,omitempty"`
	SID         string         `json:"sid,omitempty"`
	Domain      string         `json:"domain,omitempty"`
	DisplayName string         `json:"displayName,omitempty"`
	Groups      []string       `json:"groups,omitempty"`
	Attributes  map[string]any `json:"attributes,omitempty"`
}

// Clone returns a copy that shares no slices or maps with id.
func (id *Identity) Clone() *Identity {
	if id == nil {
		return nil
	}
	cp := *id
	cp.Groups = slices.Clone(id.Groups)
	cp.Attributes = maps.Clone(id.Attributes)
	return &cp
}

// QualifiedName returns DOMAIN\name, or name without a domain.
func (id *Identity) QualifiedName() string {
	if id.Domain == "" {
		return id.Name
	}
	return id.Domain + `\` + id.Name
}

// HasGroup reports whether id is a member of group (exact match).
func (id *Identity) HasGroup(group string) bool {
	return slices.Contains(id.Groups, group)
}

func identityFromPeer(p auth.PeerInfo) *Identity {
	return &Identity{
		Name:        p.Name,
		SID:         p.SID,
		Domain:      p.Domain,
		DisplayName: p.DisplayName,
		Groups:      slices.Clone(p.Groups),
	}
}

// Object is what the middleware attaches to an authenticated request.
type Object struct {
	User   *Identity   `json:"user,omitempty"`
	Owner  *Identity   `json:"owner,omitempty"`
	Method auth.Method `json:"method,omitempty"`

	// Cached is true when User came from the session cache or the
	// application session instead of a handshake on this request.
	Cached bool `json:"cached"`
}
