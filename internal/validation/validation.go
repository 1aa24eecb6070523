// Package validation checks assembled plans against the topology invariants and runs
// cfn-lint-go over rendered templates.
//
// Three layers are checked:
//   - plan invariants: address layout, zone spread, port agreement and access paths
//   - offline schema: required properties, value types and enumerations per resource type
//   - cfn-lint-go: CloudFormation schema and best-practice rules on the rendered template
package validation

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/lex00/cfn-lint-go/pkg/lint"

	tierstack "github.com/lex00/tierstack-go"
	"github.com/lex00/tierstack-go/internal/access"
	"github.com/lex00/tierstack-go/internal/graph"
	"github.com/lex00/tierstack-go/internal/network"
	"github.com/lex00/tierstack-go/internal/template"
	"github.com/lex00/tierstack-go/internal/topology"
)

// CfnLintResult contains the result of running cfn-lint.
type CfnLintResult struct {
	Passed        bool     `json:"passed"`
	Errors        []string `json:"errors"`
	Warnings      []string `json:"warnings"`
	Informational []string `json:"informational"`
}

// TotalIssues returns the total number of issues found.
func (r CfnLintResult) TotalIssues() int {
	return len(r.Errors) + len(r.Warnings) + len(r.Informational)
}

// Options selects the checks Validate runs.
type Options struct {
	// Lint renders the plan and runs cfn-lint-go over it.
	Lint bool
	// Strict promotes lint warnings to errors and reports unknown properties.
	Strict bool
}

// Validate checks a plan and reports every problem found.
func Validate(plan *topology.Plan, opts Options) tierstack.ValidateResult {
	result := tierstack.ValidateResult{Resources: plan.Graph.Len()}
	for _, err := range CheckPlan(plan) {
		result.Errors = append(result.Errors, err.Error())
	}

	tmpl, err := template.FromPlan(plan).Build()
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("rendering template: %v", err))
		return result
	}

	schema := CheckSchema(tmpl, opts.Strict)
	for _, issue := range schema.Errors {
		result.Errors = append(result.Errors, issue.String())
	}
	for _, issue := range schema.Warnings {
		result.Warnings = append(result.Warnings, issue.String())
	}

	if opts.Lint {
		lintResult, err := LintTemplate(tmpl)
		switch {
		case err != nil:
			result.Errors = append(result.Errors, err.Error())
		default:
			result.Errors = append(result.Errors, lintResult.Errors...)
			if opts.Strict {
				result.Errors = append(result.Errors, lintResult.Warnings...)
			} else {
				result.Warnings = append(result.Warnings, lintResult.Warnings...)
			}
		}
	}

	result.Success = len(result.Errors) == 0
	return result
}

// CheckPlan verifies the invariants the composition stages promise each other.
func CheckPlan(plan *topology.Plan) []error {
	var errs []error
	if err := plan.Graph.Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(plan.Order) != plan.Graph.Len() {
		errs = append(errs, fmt.Errorf("order covers %d of %d resources", len(plan.Order), plan.Graph.Len()))
	}
	errs = append(errs, checkLayout(plan.Layout)...)
	errs = append(errs, checkPool(plan)...)
	errs = append(errs, checkRouter(plan)...)
	errs = append(errs, checkDatabase(plan)...)
	errs = append(errs, checkAccess(plan)...)
	for _, b := range plan.Bindings {
		if _, ok := plan.Graph.Node(b.Value.Resource); !ok {
			errs = append(errs, fmt.Errorf("output %s: %w: %s", b.Name, tierstack.ErrUnresolvedOutput, b.Value))
		}
	}
	return errs
}

func checkLayout(layout network.Layout) []error {
	var errs []error
	subnets := layout.Subnets()
	for i, s := range subnets {
		if !layout.Space.Base.Contains(s.CIDR.Addr()) || s.CIDR.Bits() < layout.Space.Base.Bits() {
			errs = append(errs, fmt.Errorf("subnet %s (%s) is outside %s", s.ID, s.CIDR, layout.Space.Base))
		}
		if s.CIDR.Bits() > network.MaxSubnetMask {
			errs = append(errs, fmt.Errorf("subnet %s (%s) is smaller than /%d", s.ID, s.CIDR, network.MaxSubnetMask))
		}
		for _, other := range subnets[i+1:] {
			if s.CIDR.Overlaps(other.CIDR) {
				errs = append(errs, fmt.Errorf("subnets %s and %s overlap", s.ID, other.ID))
			}
		}
	}
	for _, group := range layout.Groups {
		zones := make(map[int]bool, len(group.Subnets))
		for _, s := range group.Subnets {
			zones[s.Zone] = true
		}
		if len(zones) != layout.Space.Zones {
			errs = append(errs, fmt.Errorf("tier %s spans %d of %d zones", group.Tier, len(zones), layout.Space.Zones))
		}
	}
	return errs
}

func checkPool(plan *topology.Plan) []error {
	var errs []error
	zones := plan.Layout.Space.Zones
	if zones == 0 {
		return nil
	}
	for i, inst := range plan.Pool.Instances {
		if inst.Zone != i%zones {
			errs = append(errs, fmt.Errorf("instance %s is in zone %d, want %d", inst.ID, inst.Zone, i%zones))
		}
	}
	return errs
}

func checkRouter(plan *topology.Plan) []error {
	var errs []error
	tg := plan.Router.TargetGroup
	if tg == nil {
		return append(errs, fmt.Errorf("router has no target group"))
	}
	if tg.Port != plan.Pool.Port {
		errs = append(errs, fmt.Errorf("target group port %d, pool port %d: %w", tg.Port, plan.Pool.Port, tierstack.ErrPortMismatch))
	}
	registered := make(map[graph.ID]bool)
	for _, m := range tg.Members() {
		registered[m.ID] = true
	}
	for _, inst := range plan.Pool.Instances {
		if !registered[inst.ID] {
			errs = append(errs, fmt.Errorf("instance %s is not registered with %s", inst.ID, tg.ID))
		}
	}
	return errs
}

func checkDatabase(plan *topology.Plan) []error {
	var errs []error
	node, ok := plan.Graph.Node(plan.Database.SubnetGroup)
	if !ok {
		return append(errs, fmt.Errorf("database subnet group %s is missing", plan.Database.SubnetGroup))
	}
	zones := make(map[string]bool)
	for _, ref := range node.References() {
		subnet, ok := plan.Graph.Node(ref)
		if !ok || subnet.Kind != graph.KindSubnet {
			continue
		}
		if tier := subnet.Label(graph.LabelTier); tier != plan.Inputs.Database.Tier {
			errs = append(errs, fmt.Errorf("database subnet %s is in tier %q, want %q", ref, tier, plan.Inputs.Database.Tier))
		}
		zones[subnet.Label(graph.LabelZone)] = true
	}
	if len(zones) < 2 {
		errs = append(errs, fmt.Errorf("database subnets span %d zones, need at least 2", len(zones)))
	}
	return errs
}

func checkAccess(plan *topology.Plan) []error {
	var errs []error
	in := plan.Inputs
	if !plan.Policy.Permits(access.AnyIPv4, access.BoundaryEdge, access.TCP, in.ListenerPort) {
		errs = append(errs, fmt.Errorf("edge does not admit the internet on port %d", in.ListenerPort))
	}
	if !plan.Policy.Permits(access.BoundaryEdge, access.BoundaryCompute, access.TCP, plan.Pool.Port) {
		errs = append(errs, fmt.Errorf("compute does not admit edge on port %d", plan.Pool.Port))
	}
	if !plan.Policy.Permits(access.BoundaryCompute, access.BoundaryData, access.TCP, plan.Database.Port) {
		errs = append(errs, fmt.Errorf("data does not admit compute on port %d", plan.Database.Port))
	}
	for _, r := range plan.Policy.Inbound(access.BoundaryData) {
		if r.External() {
			errs = append(errs, fmt.Errorf("data tier is reachable from %s", r.Source))
		}
	}
	for _, r := range plan.Policy.Inbound(access.BoundaryCompute) {
		if r.External() {
			errs = append(errs, fmt.Errorf("compute tier is reachable from %s", r.Source))
		}
	}
	return errs
}

// LintTemplate writes tmpl to a scratch file and runs cfn-lint-go over it.
func LintTemplate(tmpl *tierstack.Template) (*CfnLintResult, error) {
	data, err := template.ToJSON(tmpl)
	if err != nil {
		return nil, fmt.Errorf("serializing template: %w", err)
	}
	dir, err := os.MkdirTemp("", "tierstack-lint-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "template.json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return nil, fmt.Errorf("writing template: %w", err)
	}
	return RunCfnLint(path)
}

// RunCfnLint runs cfn-lint-go on the given template file.
func RunCfnLint(templatePath string) (*CfnLintResult, error) {
	if _, err := os.Stat(templatePath); err != nil {
		return &CfnLintResult{
			Passed: false,
			Errors: []string{fmt.Sprintf("Template file not found: %s", templatePath)},
		}, nil
	}

	linter := lint.New(lint.Options{})
	matches, err := linter.LintFile(templatePath)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("linting %s", filepath.Base(templatePath)), err)
	}

	result := &CfnLintResult{
		Errors:        []string{},
		Warnings:      []string{},
		Informational: []string{},
	}
	for _, match := range matches {
		formatted := formatMatch(match)
		switch match.Level {
		case "Error":
			result.Errors = append(result.Errors, formatted)
		case "Warning":
			result.Warnings = append(result.Warnings, formatted)
		default:
			result.Informational = append(result.Informational, formatted)
		}
	}

	// Warnings are acceptable.
	result.Passed = len(result.Errors) == 0
	return result, nil
}

// formatMatch formats a cfn-lint-go match for display.
func formatMatch(match lint.Match) string {
	if len(match.Location.Path) > 0 {
		parts := make([]string, len(match.Location.Path))
		for i, p := range match.Location.Path {
			parts[i] = fmt.Sprintf("%v", p)
		}
		return fmt.Sprintf("%s: %s (at %s)", match.Rule.ID, match.Message, strings.Join(parts, "/"))
	}
	return fmt.Sprintf("%s: %s", match.Rule.ID, match.Message)
}
