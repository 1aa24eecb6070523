// Package topology assembles the network, access, compute, edge and data stages into
// one ordered resource graph and applies it through a provisioning backend.
package topology

import (
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/lex00/tierstack-go/internal/access"
	"github.com/lex00/tierstack-go/internal/compute"
	"github.com/lex00/tierstack-go/internal/datatier"
	"github.com/lex00/tierstack-go/internal/edge"
	"github.com/lex00/tierstack-go/internal/images"
	"github.com/lex00/tierstack-go/internal/network"
)

// HTTPSPort is opened on the edge in addition to the listener port when HTTPS is enabled.
const HTTPSPort = 443

// Inputs are everything the assembler needs.
type Inputs struct {
	Stack string

	CIDR     netip.Prefix
	Zones    int
	TierMask int

	// AllowAllOutbound grants every boundary unrestricted egress.
	AllowAllOutbound bool

	ListenerPort int
	EnableHTTPS  bool
	Health       edge.HealthCheck

	Compute  compute.PoolSpec
	Database datatier.Spec
}

// DefaultInputs returns a two-zone, two-instance web stack on port 80 backed by a
// small MySQL database.
func DefaultInputs() Inputs {
	sel, _ := images.ParseSelector(images.LatestAmazonLinux2)
	return Inputs{
		Stack:            "TierStack",
		CIDR:             netip.MustParsePrefix("10.0.0.0/16"),
		Zones:            2,
		TierMask:         24,
		AllowAllOutbound: true,
		ListenerPort:     80,
		EnableHTTPS:      true,
		Health: edge.HealthCheck{
			Path:               "/",
			Interval:           30 * time.Second,
			Timeout:            5 * time.Second,
			HealthyThreshold:   5,
			UnhealthyThreshold: 2,
		},
		Compute: compute.PoolSpec{
			Count:    2,
			Tier:     network.TierPrivateEgress,
			Boundary: access.BoundaryCompute,
			Bootstrap: []string{
				"yum update -y",
				"yum install -y httpd",
				"systemctl start httpd",
				"systemctl enable httpd",
			},
			InstanceType: "t2.micro",
			Image:        sel,
			Port:         80,
		},
		Database: datatier.DefaultSpec(),
	}
}

// Validate checks every stage's inputs that can be checked without composing. It
// runs before any external lookup.
func (in Inputs) Validate() error {
	var errs []error
	if in.Stack == "" {
		errs = append(errs, fmt.Errorf("stack name is required"))
	}
	if !in.CIDR.IsValid() {
		errs = append(errs, fmt.Errorf("base CIDR is required"))
	}
	if in.ListenerPort < 1 || in.ListenerPort > 65535 {
		errs = append(errs, fmt.Errorf("listener port %d out of range", in.ListenerPort))
	}
	if err := in.Health.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := in.Compute.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("compute: %w", err))
	}
	if err := in.Database.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("database: %w", err))
	}
	return errors.Join(errs...)
}

// Boundaries returns the security boundaries of the three tiers.
func (in Inputs) Boundaries() []access.Boundary {
	return []access.Boundary{
		{Name: access.BoundaryEdge, Description: "Load balancer", RequiresExternal: true, AllowAllOutbound: in.AllowAllOutbound},
		{Name: access.BoundaryCompute, Description: "Web servers", AllowAllOutbound: in.AllowAllOutbound},
		{Name: access.BoundaryData, Description: "Database", AllowAllOutbound: in.AllowAllOutbound},
	}
}

// Paths returns the traffic the stack needs: internet to edge, edge to compute on the
// instance port and compute to data on the engine port.
func (in Inputs) Paths() []access.Path {
	paths := []access.Path{{
		Source: access.AnyIPv4, Destination: access.BoundaryEdge, Protocol: access.TCP,
		Port: in.ListenerPort, Description: "Allow HTTP traffic from anywhere",
	}}
	if in.EnableHTTPS && in.ListenerPort != HTTPSPort {
		paths = append(paths, access.Path{
			Source: access.AnyIPv4, Destination: access.BoundaryEdge, Protocol: access.TCP,
			Port: HTTPSPort, Description: "Allow HTTPS traffic from anywhere",
		})
	}
	paths = append(paths, access.Path{
		Source: access.BoundaryEdge, Destination: access.BoundaryCompute, Protocol: access.TCP,
		Port: in.Compute.Port, Description: "Allow traffic from the load balancer",
	})
	if port, ok := datatier.EnginePort(in.Database.Engine); ok {
		paths = append(paths, access.Path{
			Source: access.BoundaryCompute, Destination: access.BoundaryData, Protocol: access.TCP,
			Port: port, Description: "Allow database traffic from the web servers",
		})
	}
	return paths
}
