// Package template renders a resource graph as a CloudFormation template.
package template

import (
	"encoding/json"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	tierstack "github.com/lex00/tierstack-go"
	"github.com/lex00/tierstack-go/internal/graph"
	"github.com/lex00/tierstack-go/internal/topology"
	"github.com/lex00/tierstack-go/intrinsics"
)

// FormatVersion is the only CloudFormation template format version.
const FormatVersion = "2010-09-09"

type output struct {
	description string
	value       graph.Deferred
	exportName  string
}

// Builder constructs CloudFormation templates from a graph.
type Builder struct {
	graph       *graph.Graph
	order       []graph.ID
	description string
	outputs     map[string]output
}

// NewBuilder creates a template builder for g. A nil order is computed from the graph.
func NewBuilder(g *graph.Graph, order []graph.ID) *Builder {
	return &Builder{
		graph:   g,
		order:   order,
		outputs: make(map[string]output),
	}
}

// FromPlan creates a builder holding the plan's resources and output bindings.
func FromPlan(plan *topology.Plan) *Builder {
	b := NewBuilder(plan.Graph, plan.Order)
	b.SetDescription(fmt.Sprintf("%s: three-tier web stack (%d instances behind an application load balancer, %s database)",
		plan.Inputs.Stack, len(plan.Pool.Instances), plan.Inputs.Database.Engine))
	for _, binding := range plan.Bindings {
		b.AddOutput(binding.Name, binding.Description, binding.Value, binding.ExportName)
	}
	return b
}

// SetDescription sets the template description.
func (b *Builder) SetDescription(description string) {
	b.description = description
}

// AddOutput adds a named output. An empty exportName leaves the output unexported.
func (b *Builder) AddOutput(name, description string, value graph.Deferred, exportName string) {
	b.outputs[name] = output{description: description, value: value, exportName: exportName}
}

// Build constructs the CloudFormation template.
func (b *Builder) Build() (*tierstack.Template, error) {
	order := b.order
	if order == nil {
		var err error
		if order, err = b.graph.Order(); err != nil {
			return nil, err
		}
	}

	template := &tierstack.Template{
		AWSTemplateFormatVersion: FormatVersion,
		Description:              b.description,
		Resources:                make(map[string]tierstack.ResourceDef, len(order)),
	}

	for _, id := range order {
		node, ok := b.graph.Node(id)
		if !ok {
			return nil, fmt.Errorf("resource %s is in the order but not in the graph", id)
		}
		props, err := normalize(intrinsics.FromGraph(node.Properties))
		if err != nil {
			return nil, fmt.Errorf("serializing %s: %w", id, err)
		}
		def := tierstack.ResourceDef{
			Type:                string(node.Kind),
			DeletionPolicy:      node.DeletionPolicy,
			UpdateReplacePolicy: node.UpdateReplacePolicy,
		}
		if m, ok := props.(map[string]any); ok && len(m) > 0 {
			def.Properties = m
		}
		for _, dep := range node.DependsOn {
			def.DependsOn = append(def.DependsOn, string(dep))
		}
		sort.Strings(def.DependsOn)
		template.Resources[string(id)] = def
	}

	if len(b.outputs) > 0 {
		template.Outputs = make(map[string]tierstack.Output, len(b.outputs))
		for name, o := range b.outputs {
			if _, ok := template.Resources[string(o.value.Resource)]; !ok {
				return nil, fmt.Errorf("output %s references unknown resource %s", name, o.value.Resource)
			}
			value, err := normalize(intrinsics.Reference(o.value))
			if err != nil {
				return nil, fmt.Errorf("serializing output %s: %w", name, err)
			}
			out := tierstack.Output{Description: o.description, Value: value}
			if o.exportName != "" {
				out.Export = &tierstack.Export{Name: o.exportName}
			}
			template.Outputs[name] = out
		}
	}

	return template, nil
}

// normalize round-trips v through JSON so intrinsic types become plain maps and
// render the same way in JSON and YAML.
func normalize(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ToJSON serializes the template to JSON.
func ToJSON(t *tierstack.Template) ([]byte, error) {
	return json.MarshalIndent(t, "", "  ")
}

// ToYAML serializes the template to YAML.
func ToYAML(t *tierstack.Template) ([]byte, error) {
	return yaml.Marshal(t)
}

// Parse reads a JSON or YAML template.
func Parse(data []byte) (*tierstack.Template, error) {
	var t tierstack.Template
	if err := json.Unmarshal(data, &t); err == nil {
		return &t, nil
	}
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parsing template: %w", err)
	}
	return &t, nil
}
