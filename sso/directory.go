package sso

import (
	"context"
	"fmt"
	"os/user"
	"strings"
)

// DirectoryEntry is what a directory knows about a user.
type DirectoryEntry struct {
	DisplayName string
	Attributes  map[string]any
}

// Directory looks users up in a directory service such as Active Directory.
type Directory interface {
	LookupUser(ctx context.Context, id *Identity) (*DirectoryEntry, error)
}

// DirectoryFunc adapts a function to Directory.
type DirectoryFunc func(ctx context.Context, id *Identity) (*DirectoryEntry, error)

// LookupUser implements Directory.
func (f DirectoryFunc) LookupUser(ctx context.Context, id *Identity) (*DirectoryEntry, error) {
	return f(ctx, id)
}

// OwnerFunc resolves the identity the server process runs as.
type OwnerFunc func(ctx context.Context) (*Identity, error)

// ProcessOwner resolves the current process user from the operating system.
// On Windows the user id is the account SID.
func ProcessOwner(context.Context) (*Identity, error) {
	u, err := user.Current()
	if err != nil {
		return nil, fmt.Errorf("resolve process owner: %w", err)
	}
	id := &Identity{
		Name:        u.Username,
		SID:         u.Uid,
		DisplayName: u.Name,
	}
	if domain, name, ok := strings.Cut(u.Username, `\`); ok {
		id.Domain, id.Name = domain, name
	}
	return id, nil
}

// mergeDirectoryEntry applies e to a freshly built identity.
func mergeDirectoryEntry(id *Identity, e *DirectoryEntry) {
	if e == nil {
		return
	}
	if e.DisplayName != "" {
		id.DisplayName = e.DisplayName
	}
	if len(e.Attributes) == 0 {
		return
	}
	if id.Attributes == nil {
		id.Attributes = make(map[string]any, len(e.Attributes))
	}
	for k, v := range e.Attributes {
		id.Attributes[k] = v
	}
}
