// Package images resolves machine-image selectors to concrete image IDs.
package images

import (
	"context"
	"fmt"
	"strings"
)

// Well-known image aliases.
const (
	LatestAmazonLinux2    = "latest-amazon-linux-2"
	LatestAmazonLinux2023 = "latest-amazon-linux-2023"
)

var aliases = map[string]Selector{
	LatestAmazonLinux2: {
		Name:         LatestAmazonLinux2,
		Owners:       []string{"amazon"},
		NamePattern:  "amzn2-ami-hvm-*-x86_64-gp2",
		Architecture: "x86_64",
	},
	LatestAmazonLinux2023: {
		Name:         LatestAmazonLinux2023,
		Owners:       []string{"amazon"},
		NamePattern:  "al2023-ami-2023.*-x86_64",
		Architecture: "x86_64",
	},
}

// Selector identifies an image either directly by ID or as the newest image of a family.
type Selector struct {
	// Name is the selector as written, used in logs and error messages.
	Name string

	// ID pins a specific image; the family fields are ignored when set.
	ID string

	Owners       []string
	NamePattern  string
	Architecture string
}

// String returns the selector as written.
func (s Selector) String() string {
	if s.Name != "" {
		return s.Name
	}
	if s.ID != "" {
		return s.ID
	}
	return strings.Join(s.Owners, ",") + ":" + s.NamePattern
}

// Pinned reports whether the selector names a specific image.
func (s Selector) Pinned() bool {
	return s.ID != ""
}

// ParseSelector accepts an alias (latest-amazon-linux-2), an image ID (ami-...) or
// an owner:name-pattern family (amazon:amzn2-ami-hvm-*-x86_64-gp2).
func ParseSelector(s string) (Selector, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Selector{}, fmt.Errorf("empty image selector")
	}
	if sel, ok := aliases[s]; ok {
		return sel, nil
	}
	if strings.HasPrefix(s, "ami-") {
		return Selector{Name: s, ID: s}, nil
	}
	owner, pattern, ok := strings.Cut(s, ":")
	if !ok || owner == "" || pattern == "" {
		return Selector{}, fmt.Errorf("invalid image selector %q: want an alias, ami-<id> or <owner>:<name-pattern>", s)
	}
	return Selector{Name: s, Owners: []string{owner}, NamePattern: pattern}, nil
}

// Resolver turns a selector into an image ID. Family lookups are non-deterministic:
// the newest matching image can change between calls.
type Resolver interface {
	Resolve(ctx context.Context, sel Selector) (string, error)
}

// StaticResolver resolves selectors from a fixed table keyed by Selector.String().
// Pinned selectors resolve to themselves.
type StaticResolver map[string]string

// Resolve implements Resolver.
func (r StaticResolver) Resolve(_ context.Context, sel Selector) (string, error) {
	if sel.Pinned() {
		return sel.ID, nil
	}
	id, ok := r[sel.String()]
	if !ok {
		return "", fmt.Errorf("no image registered for %s", sel)
	}
	return id, nil
}
