package tierstack

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Fatal composition errors. All of them are returned before any provisioning call.
var (
	// ErrAddressSpaceExhausted means the base block cannot hold every (zone x tier) subnet.
	ErrAddressSpaceExhausted = errors.New("address space exhausted")

	// ErrPolicyCycle means a declared traffic path cannot be satisfied under default-deny.
	ErrPolicyCycle = errors.New("unsatisfiable traffic path")

	// ErrCyclicDependency means the resource reference graph is not a DAG.
	ErrCyclicDependency = errors.New("circular dependency detected")

	// ErrInvalidAllocation means a storage allocation violates initial <= max.
	ErrInvalidAllocation = errors.New("invalid storage allocation")

	// ErrPortMismatch means a target was registered on a port other than the group's.
	ErrPortMismatch = errors.New("target port does not match target group port")

	// ErrInvalidHealthCheck means a health-check policy has a non-positive threshold or interval.
	ErrInvalidHealthCheck = errors.New("invalid health check policy")
)

// Post-build errors. These are reported without unwinding created resources.
var (
	// ErrUnresolvedOutput means an output references an attribute that is not resolved.
	ErrUnresolvedOutput = errors.New("unresolved output")

	// ErrPartialProvisioning is matched by every *PartialProvisioningFailure.
	ErrPartialProvisioning = errors.New("partial provisioning failure")
)

// ResourceStatus is the provisioning outcome of a single resource.
type ResourceStatus string

const (
	// StatusPending means the resource was never attempted (e.g. the build was cancelled).
	StatusPending ResourceStatus = "pending"
	// StatusCreated means the backend created the resource.
	StatusCreated ResourceStatus = "created"
	// StatusFailed means the backend returned an error for the resource.
	StatusFailed ResourceStatus = "failed"
	// StatusSkipped means a resource it references did not get created.
	StatusSkipped ResourceStatus = "skipped"
)

// ResourceFailure ties a backend error to the resource that produced it.
type ResourceFailure struct {
	Resource string
	Err      error
}

// PartialProvisioningFailure reports per-resource status after a build in which one
// or more resources were not created. Created siblings are left standing.
type PartialProvisioningFailure struct {
	Statuses map[string]ResourceStatus
	Failures []ResourceFailure
}

// Error implements the error interface.
func (e *PartialProvisioningFailure) Error() string {
	var parts []string
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Resource, f.Err))
	}
	created := len(e.Succeeded())
	msg := fmt.Sprintf("%s: %d of %d resources created", ErrPartialProvisioning, created, len(e.Statuses))
	if len(parts) > 0 {
		msg += " (" + strings.Join(parts, "; ") + ")"
	}
	return msg
}

// Unwrap exposes the sentinel and every per-resource error to errors.Is/As.
func (e *PartialProvisioningFailure) Unwrap() []error {
	errs := []error{ErrPartialProvisioning}
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// Succeeded returns the sorted names of resources that were created.
func (e *PartialProvisioningFailure) Succeeded() []string {
	return e.withStatus(StatusCreated)
}

// NotCreated returns the sorted names of resources that failed, were skipped, or never ran.
func (e *PartialProvisioningFailure) NotCreated() []string {
	var names []string
	for name, status := range e.Statuses {
		if status != StatusCreated {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (e *PartialProvisioningFailure) withStatus(status ResourceStatus) []string {
	var names []string
	for name, s := range e.Statuses {
		if s == status {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
