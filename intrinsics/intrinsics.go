// Package intrinsics renders graph references as CloudFormation intrinsic functions.
//
// The core intrinsic types are re-exported from cloudformation-schema-go:
//
//	Ref{"VPC"} → {"Ref": "VPC"}
//	GetAtt{"LoadBalancer", "DNSName"} → {"Fn::GetAtt": ["LoadBalancer", "DNSName"]}
//	Select{1, GetAZs{}} → {"Fn::Select": [1, {"Fn::GetAZs": ""}]}
//
// FromGraph walks a property tree and replaces every graph.Deferred and graph.Zone
// with the matching intrinsic.
package intrinsics

import (
	"github.com/lex00/cloudformation-schema-go/intrinsics"

	"github.com/lex00/tierstack-go/internal/graph"
)

type (
	// Ref represents a CloudFormation Ref intrinsic function.
	Ref = intrinsics.Ref

	// GetAtt represents a CloudFormation Fn::GetAtt intrinsic function.
	GetAtt = intrinsics.GetAtt

	// Select represents a CloudFormation Fn::Select intrinsic function.
	Select = intrinsics.Select

	// GetAZs represents a CloudFormation Fn::GetAZs intrinsic function.
	GetAZs = intrinsics.GetAZs
)

// Reference converts a deferred value into Ref or Fn::GetAtt.
func Reference(d graph.Deferred) any {
	if d.Attribute == "" || d.Attribute == graph.AttrRef {
		return Ref{LogicalName: string(d.Resource)}
	}
	return GetAtt{LogicalName: string(d.Resource), Attribute: d.Attribute}
}

// AvailabilityZone selects the n-th zone of the stack's region.
func AvailabilityZone(index int) any {
	return Select{Index: index, List: GetAZs{}}
}

// FromGraph returns a copy of v with graph references replaced by intrinsics.
func FromGraph(v any) any {
	switch val := v.(type) {
	case graph.Deferred:
		return Reference(val)
	case *graph.Deferred:
		if val == nil {
			return nil
		}
		return Reference(*val)
	case graph.Zone:
		return AvailabilityZone(val.Index)
	case []graph.Deferred:
		out := make([]any, len(val))
		for i, d := range val {
			out[i] = Reference(d)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = FromGraph(elem)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = FromGraph(elem)
		}
		return out
	default:
		return v
	}
}
