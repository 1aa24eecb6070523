// Package tierstack composes a three-tier AWS topology (VPC, public load balancer,
// compute pool, isolated database) into a single resource graph.
//
// The composition is declarative: stages derive subnets, security-group rules,
// load-balancer routing and database placement from a handful of inputs and return
// graph fragments that the assembler merges and orders:
//
//	plan, err := topology.Assemble(ctx, topology.DefaultInputs(), resolver)
//	tmpl, err := template.FromPlan(plan).Build()
//
// The tierstack CLI renders plans as CloudFormation templates, dependency graphs,
// or applies them through a provisioning backend.
package tierstack

// Template represents a CloudFormation template.
type Template struct {
	AWSTemplateFormatVersion string                 `json:"AWSTemplateFormatVersion" yaml:"AWSTemplateFormatVersion"`
	Description              string                 `json:"Description,omitempty" yaml:"Description,omitempty"`
	Resources                map[string]ResourceDef `json:"Resources" yaml:"Resources"`
	Outputs                  map[string]Output      `json:"Outputs,omitempty" yaml:"Outputs,omitempty"`
}

// ResourceDef is a single resource in the CloudFormation template.
type ResourceDef struct {
	Type                string         `json:"Type" yaml:"Type"`
	Properties          map[string]any `json:"Properties,omitempty" yaml:"Properties,omitempty"`
	DependsOn           []string       `json:"DependsOn,omitempty" yaml:"DependsOn,omitempty"`
	DeletionPolicy      string         `json:"DeletionPolicy,omitempty" yaml:"DeletionPolicy,omitempty"`
	UpdateReplacePolicy string         `json:"UpdateReplacePolicy,omitempty" yaml:"UpdateReplacePolicy,omitempty"`
}

// Output is a CloudFormation template output.
type Output struct {
	Description string  `json:"Description,omitempty" yaml:"Description,omitempty"`
	Value       any     `json:"Value" yaml:"Value"`
	Export      *Export `json:"Export,omitempty" yaml:"Export,omitempty"`
}

// Export names an output for cross-stack import.
type Export struct {
	Name string `json:"Name" yaml:"Name"`
}

// BuildResult is the JSON output from `tierstack build` on failure.
type BuildResult struct {
	Success   bool     `json:"success"`
	Template  Template `json:"template,omitempty"`
	Resources []string `json:"resources,omitempty"`
	Errors    []string `json:"errors,omitempty"`
}

// ValidateResult is the JSON output from `tierstack validate`.
type ValidateResult struct {
	Success   bool     `json:"success"`
	Resources int      `json:"resources"`
	Errors    []string `json:"errors,omitempty"`
	Warnings  []string `json:"warnings,omitempty"`
}

// ListResult is the JSON output from `tierstack list`.
type ListResult struct {
	Resources []ListResource `json:"resources"`
}

// ListResource is a single resource in the list output.
type ListResource struct {
	Name       string   `json:"name"`
	Type       string   `json:"type"`
	Tier       string   `json:"tier,omitempty"`
	References []string `json:"references,omitempty"`
}

// DeployResult is the JSON output from `tierstack deploy`.
type DeployResult struct {
	Success      bool              `json:"success"`
	DeploymentID string            `json:"deployment_id"`
	Resources    []DeployResource  `json:"resources"`
	Outputs      map[string]string `json:"outputs,omitempty"`
	Errors       []string          `json:"errors,omitempty"`
}

// DeployResource is the per-resource status in a deploy result.
type DeployResource struct {
	Name       string         `json:"name"`
	Status     ResourceStatus `json:"status"`
	PhysicalID string         `json:"physical_id,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// TemplateDiff lists resource-level differences between two templates.
type TemplateDiff struct {
	Added    []DiffEntry `json:"added,omitempty"`
	Removed  []DiffEntry `json:"removed,omitempty"`
	Modified []DiffEntry `json:"modified,omitempty"`
}

// DiffEntry is one changed resource.
type DiffEntry struct {
	Resource string   `json:"resource"`
	Type     string   `json:"type"`
	Changes  []string `json:"changes,omitempty"`
}

// DiffSummary counts the entries of a TemplateDiff.
type DiffSummary struct {
	Added    int `json:"added"`
	Removed  int `json:"removed"`
	Modified int `json:"modified"`
	Total    int `json:"total"`
}
