// Package scopes normalizes and compares OAuth scope sets.
//
// Every function here is total: unexpected input normalizes to an empty set
// and no operation returns an error.
package scopes

import (
	"sort"
	"strings"
)

// OfflineAccess is a protocol artifact requested to obtain refresh tokens.
// It is never treated as a permission when comparing scope sets.
const OfflineAccess = "offline_access"

// Set is an unordered collection of scope names. Scope names are case
// preserving.
type Set map[string]struct{}

// NewSet builds a set from the given scope names, dropping empty values.
func NewSet(values ...string) Set {
	s := make(Set, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		s[v] = struct{}{}
	}
	return s
}

// Normalize turns raw scope input into a set. Strings are split on commas and
// whitespace; string slices and generic slices are flattened the same way.
// Any other input yields an empty set.
func Normalize(raw any) Set {
	switch v := raw.(type) {
	case string:
		return NewSet(split(v)...)
	case []string:
		out := make(Set, len(v))
		for _, item := range v {
			for _, scope := range split(item) {
				out[scope] = struct{}{}
			}
		}
		return out
	case []any:
		out := make(Set, len(v))
		for _, item := range v {
			str, ok := item.(string)
			if !ok {
				continue
			}
			for _, scope := range split(str) {
				out[scope] = struct{}{}
			}
		}
		return out
	case Set:
		return v.Clone()
	default:
		return Set{}
	}
}

func split(raw string) []string {
	return strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
}

// Has reports whether scope is a member of s.
func (s Set) Has(scope string) bool {
	_, ok := s[scope]
	return ok
}

// Clone returns a copy of s.
func (s Set) Clone() Set {
	out := make(Set, len(s))
	for k := range s {
		out[k] = struct{}{}
	}
	return out
}

// Union returns s ∪ other.
func (s Set) Union(other Set) Set {
	out := s.Clone()
	for k := range other {
		out[k] = struct{}{}
	}
	return out
}

// Slice returns the members of s in lexical order.
func (s Set) Slice() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// String joins the members with single spaces, the wire format of the OAuth
// scope parameter.
func (s Set) String() string {
	return strings.Join(s.Slice(), " ")
}

// Equal reports whether s and other contain exactly the same scopes.
func (s Set) Equal(other Set) bool {
	if len(s) != len(other) {
		return false
	}
	for k := range s {
		if !other.Has(k) {
			return false
		}
	}
	return true
}

// Ignored reports whether scope is excluded from mismatch comparisons.
func Ignored(scope string) bool {
	return strings.EqualFold(scope, OfflineAccess)
}

// Missing returns required - ignored - granted.
func Missing(granted, required Set) Set {
	out := Set{}
	for scope := range required {
		if Ignored(scope) || granted.Has(scope) {
			continue
		}
		out[scope] = struct{}{}
	}
	return out
}

// Changed reports whether the selection differs from the previous one.
func Changed(previous, current Set) bool {
	return !previous.Equal(current)
}

// MergeSelected toggles membership of scope in current. Mandatory scopes are
// always present in the result and cannot be removed.
func MergeSelected(mandatory, current Set, toggled string) Set {
	out := current.Union(mandatory)
	toggled = strings.TrimSpace(toggled)
	if toggled == "" || mandatory.Has(toggled) {
		return out
	}
	if out.Has(toggled) {
		delete(out, toggled)
	} else {
		out[toggled] = struct{}{}
	}
	return out
}

// Selection is the scope picklist state of one credential editor.
type Selection struct {
	Mandatory Set
	Optional  Set
	Selected  Set
}

// NewSelection builds a selection whose selected set always includes every
// mandatory scope.
func NewSelection(mandatory, optional, selected Set) Selection {
	if mandatory == nil {
		mandatory = Set{}
	}
	if optional == nil {
		optional = Set{}
	}
	return Selection{
		Mandatory: mandatory.Clone(),
		Optional:  optional.Clone(),
		Selected:  selected.Union(mandatory),
	}
}

// Toggle returns a new selection with scope toggled.
func (s Selection) Toggle(scope string) Selection {
	return Selection{
		Mandatory: s.Mandatory,
		Optional:  s.Optional,
		Selected:  MergeSelected(s.Mandatory, s.Selected, scope),
	}
}

// Available returns every scope the user may pick from.
func (s Selection) Available() Set {
	return s.Mandatory.Union(s.Optional)
}
