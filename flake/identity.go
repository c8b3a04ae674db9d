package flake

import "strings"

// Identity names the test unit being guarded. It is used verbatim in reports
// and never influences rerun or classification decisions.
type Identity struct {
	Group string `json:"group,omitempty"`
	Name  string `json:"name"`
}

// String returns "group.name", or whichever part is set.
func (id Identity) String() string {
	switch {
	case id.Group == "":
		return id.Name
	case id.Name == "":
		return id.Group
	default:
		return id.Group + "." + id.Name
	}
}

// DisplayName renders the identity as "name(group)".
func (id Identity) DisplayName() string {
	if id.Group == "" {
		return id.Name
	}
	return id.Name + "(" + id.Group + ")"
}

// ParseIdentity parses "group.name" into an Identity.
// The first dot separates group from name; a string without a usable group is
// treated as a bare name.
func ParseIdentity(s string) Identity {
	s = strings.TrimSpace(s)
	if s == "" {
		return Identity{}
	}
	group, name, ok := strings.Cut(s, ".")
	if !ok {
		return Identity{Name: s}
	}
	group = strings.TrimSpace(group)
	name = strings.TrimSpace(name)
	if name == "" {
		return Identity{Name: s}
	}
	return Identity{Group: group, Name: name}
}
