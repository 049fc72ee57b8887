package repository

import (
	"fmt"
	"strings"

	"bldr/internal/errors"
)

// ParseReference parses the `@name//path:target` / `//path:target` syntax.
func ParseReference(s string) (Reference, error) {
	if s == "" {
		return Reference{}, errors.New(errors.CodeRepoInvalidReference, "empty reference")
	}

	rest := s
	var ref Reference
	if strings.HasPrefix(rest, "@") {
		ref.External = true
		rest = rest[1:]
		idx := strings.Index(rest, "//")
		if idx < 0 {
			// @name with no path component names the external root itself.
			ref.Name = rest
			return ref, nil
		}
		ref.Name = rest[:idx]
		rest = rest[idx:]
		if ref.Name == "" {
			return Reference{}, errors.Newf(errors.CodeRepoInvalidReference, "reference %q is missing an external name", s)
		}
	}

	if !strings.HasPrefix(rest, "//") {
		return Reference{}, errors.Newf(errors.CodeRepoInvalidReference, "reference %q must contain a //path", s)
	}
	rest = rest[2:]

	colon := strings.LastIndex(rest, ":")
	if colon < 0 {
		return Reference{}, errors.Newf(errors.CodeRepoInvalidReference, "reference %q is missing a :target", s)
	}
	ref.Path = rest[:colon]
	ref.Target = rest[colon+1:]
	if ref.Target == "" {
		return Reference{}, errors.Newf(errors.CodeRepoInvalidReference, "reference %q has an empty target name", s)
	}
	return ref, nil
}

// String renders a Reference back to its canonical syntax.
func (r Reference) String() string {
	if r.External {
		return fmt.Sprintf("@%s//%s:%s", r.Name, r.Path, r.Target)
	}
	return fmt.Sprintf("//%s:%s", r.Path, r.Target)
}
