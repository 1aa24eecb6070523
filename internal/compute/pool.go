// Package compute declares a pool of identical instances spread across a tier's subnets.
package compute

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/lex00/tierstack-go/internal/access"
	"github.com/lex00/tierstack-go/internal/graph"
	"github.com/lex00/tierstack-go/internal/images"
	"github.com/lex00/tierstack-go/internal/network"
	"github.com/lex00/tierstack-go/internal/serialize"
)

// PoolSpec describes the pool.
type PoolSpec struct {
	Count        int
	Tier         string
	Boundary     string
	Bootstrap    []string
	InstanceType string
	Image        images.Selector

	// Port is the port the instances serve traffic on.
	Port int
}

// Validate checks the pool settings without looking at the network.
func (s PoolSpec) Validate() error {
	if s.Count < 1 {
		return fmt.Errorf("instance count must be at least 1, got %d", s.Count)
	}
	if s.Tier == "" {
		return fmt.Errorf("placement tier is required")
	}
	if s.Boundary == "" {
		return fmt.Errorf("security boundary is required")
	}
	if s.InstanceType == "" {
		return fmt.Errorf("instance type is required")
	}
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("instance port %d out of range", s.Port)
	}
	return nil
}

// Instance is one declared pool member.
type Instance struct {
	ID           graph.ID
	Subnet       graph.ID
	Zone         int
	Boundary     string
	InstanceType string
	ImageID      string
	Port         int
}

// Pool is the declared set of instances.
type Pool struct {
	Fragment  graph.Fragment
	Instances []Instance
	Port      int
	ImageID   string
	UserData  string
}

// IDs returns the instance IDs in declaration order.
func (p Pool) IDs() []graph.ID {
	ids := make([]graph.ID, len(p.Instances))
	for i, inst := range p.Instances {
		ids[i] = inst.ID
	}
	return ids
}

// InstanceID returns the logical ID of the n-th instance, counting from 1.
func InstanceID(n int) graph.ID {
	return graph.ID(fmt.Sprintf("Instance%d", n))
}

type instanceProps struct {
	InstanceType     string           `json:"InstanceType"`
	ImageId          string           `json:"ImageId"`
	SubnetId         graph.Deferred   `json:"SubnetId"`
	AvailabilityZone graph.Zone       `json:"AvailabilityZone"`
	SecurityGroupIds []graph.Deferred `json:"SecurityGroupIds"`
	UserData         string           `json:"UserData,omitempty"`
	Tags             []graph.Tag      `json:"Tags,omitempty"`
}

// Declare resolves the image once and declares Count instances, assigning subnets
// round-robin so the pool spreads across zones. Instances in routed subnets depend on
// the subnet's default route so bootstrap commands can reach package mirrors.
func Declare(ctx context.Context, bc graph.BuildContext, spec PoolSpec, nw network.Network, groups access.Groups, resolver images.Resolver) (Pool, error) {
	if err := spec.Validate(); err != nil {
		return Pool{}, err
	}
	group, ok := nw.Layout.Group(spec.Tier)
	if !ok || len(group.Subnets) == 0 {
		return Pool{}, fmt.Errorf("placement tier %q has no subnets", spec.Tier)
	}
	if group.Reachability != network.NAT {
		return Pool{}, fmt.Errorf("placement tier %q is %s; instances need NAT egress to bootstrap", spec.Tier, group.Reachability)
	}
	securityGroup, err := groups.GroupID(spec.Boundary)
	if err != nil {
		return Pool{}, err
	}

	imageID, err := resolver.Resolve(ctx, spec.Image)
	if err != nil {
		return Pool{}, fmt.Errorf("resolving image %s: %w", spec.Image, err)
	}

	pool := Pool{Port: spec.Port, ImageID: imageID, UserData: UserData(spec.Bootstrap)}
	encoded := ""
	if len(spec.Bootstrap) > 0 {
		encoded = base64.StdEncoding.EncodeToString([]byte(pool.UserData))
	}

	var nodes []graph.Node
	for i := 0; i < spec.Count; i++ {
		subnet := group.Subnets[i%len(group.Subnets)]
		inst := Instance{
			ID:           InstanceID(i + 1),
			Subnet:       subnet.ID,
			Zone:         subnet.Zone,
			Boundary:     spec.Boundary,
			InstanceType: spec.InstanceType,
			ImageID:      imageID,
			Port:         spec.Port,
		}
		pool.Instances = append(pool.Instances, inst)

		n := graph.Node{
			ID:   inst.ID,
			Kind: graph.KindInstance,
			Properties: serialize.MustResource(instanceProps{
				InstanceType:     spec.InstanceType,
				ImageId:          imageID,
				SubnetId:         graph.RefTo(subnet.ID),
				AvailabilityZone: graph.Zone{Index: subnet.Zone},
				SecurityGroupIds: []graph.Deferred{securityGroup},
				UserData:         encoded,
				Tags:             bc.Tags(inst.ID),
			}),
			Labels: map[string]string{
				graph.LabelComponent: "compute",
				graph.LabelTier:      spec.Tier,
				graph.LabelZone:      fmt.Sprint(subnet.Zone + 1),
			},
		}
		if route, ok := nw.DefaultRoute(subnet.ID); ok {
			n.DependsOn = []graph.ID{route}
		}
		nodes = append(nodes, n)
	}

	pool.Fragment = graph.NewFragment(nodes...)
	return pool, nil
}

// UserData renders bootstrap commands as a Linux user-data script.
func UserData(commands []string) string {
	if len(commands) == 0 {
		return ""
	}
	return "#!/bin/bash\n" + strings.Join(commands, "\n")
}
