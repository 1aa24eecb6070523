package graph

import (
	"fmt"

	tierstack "github.com/lex00/tierstack-go"
)

// AttrRef is the pseudo-attribute for a resource's physical identifier (what Ref returns).
const AttrRef = "Ref"

// Deferred is a value known only after the named resource has been created.
type Deferred struct {
	Resource  ID
	Attribute string
}

// RefTo defers to the physical identifier of a resource.
func RefTo(id ID) Deferred {
	return Deferred{Resource: id, Attribute: AttrRef}
}

// Attr defers to a named attribute of a resource.
func Attr(id ID, attribute string) Deferred {
	return Deferred{Resource: id, Attribute: attribute}
}

// IsZero reports whether the value names no resource.
func (d Deferred) IsZero() bool {
	return d.Resource == ""
}

// Verbatim keeps the value intact through property serialization.
func (Deferred) Verbatim() {}

func (d Deferred) String() string {
	if d.Attribute == AttrRef || d.Attribute == "" {
		return string(d.Resource)
	}
	return string(d.Resource) + "." + d.Attribute
}

// Zone is a placeholder for the i-th availability zone of the deployment region.
type Zone struct {
	Index int
}

// Verbatim keeps the value intact through property serialization.
func (Zone) Verbatim() {}

// IsZero always reports false; the first zone has index 0.
func (Zone) IsZero() bool { return false }

// Tag is a resource tag.
type Tag struct {
	Key   string `json:"Key"`
	Value string `json:"Value"`
}

// Resolved maps each created resource to its known attribute values.
// The physical identifier is stored under AttrRef.
type Resolved map[ID]map[string]string

// Set records an attribute value.
func (r Resolved) Set(id ID, attribute, value string) {
	attrs, ok := r[id]
	if !ok {
		attrs = make(map[string]string)
		r[id] = attrs
	}
	attrs[attribute] = value
}

// Lookup returns the value a Deferred refers to.
func (r Resolved) Lookup(d Deferred) (string, error) {
	attrs, ok := r[d.Resource]
	if !ok {
		return "", fmt.Errorf("%w: resource %s was not created", tierstack.ErrUnresolvedOutput, d.Resource)
	}
	attribute := d.Attribute
	if attribute == "" {
		attribute = AttrRef
	}
	v, ok := attrs[attribute]
	if !ok {
		return "", fmt.Errorf("%w: %s has no attribute %s", tierstack.ErrUnresolvedOutput, d.Resource, attribute)
	}
	return v, nil
}

// Substitute returns a copy of v with every Deferred replaced by its resolved value.
// Zones are rendered with zoneName.
func (r Resolved) Substitute(v any, zoneName func(int) string) (any, error) {
	switch val := v.(type) {
	case Deferred:
		return r.Lookup(val)
	case Zone:
		return zoneName(val.Index), nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			s, err := r.Substitute(elem, zoneName)
			if err != nil {
				return nil, err
			}
			out[k] = s
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			s, err := r.Substitute(elem, zoneName)
			if err != nil {
				return nil, err
			}
			out[i] = s
		}
		return out, nil
	default:
		return v, nil
	}
}
