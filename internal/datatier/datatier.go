// Package datatier declares the managed relational database and its subnet group.
package datatier

import (
	"fmt"
	"regexp"

	tierstack "github.com/lex00/tierstack-go"
	"github.com/lex00/tierstack-go/internal/access"
	"github.com/lex00/tierstack-go/internal/graph"
	"github.com/lex00/tierstack-go/internal/network"
	"github.com/lex00/tierstack-go/internal/serialize"
)

// Logical IDs of the data-tier resources.
const (
	SubnetGroupID graph.ID = "DatabaseSubnetGroup"
	DatabaseID    graph.ID = "Database"
)

// Endpoint attributes available once the database exists.
const (
	EndpointAddressAttribute = "Endpoint.Address"
	EndpointPortAttribute    = "Endpoint.Port"
)

// Removal policies.
const (
	RemovalDestroy  = "destroy"
	RemovalRetain   = "retain"
	RemovalSnapshot = "snapshot"
)

var removalPolicies = map[string]string{
	RemovalDestroy:  "Delete",
	RemovalRetain:   "Retain",
	RemovalSnapshot: "Snapshot",
}

var enginePorts = map[string]int{
	"mysql":    3306,
	"mariadb":  3306,
	"postgres": 5432,
}

var databaseName = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{0,63}$`)

// EnginePort returns the default listener port of a database engine.
func EnginePort(engine string) (int, bool) {
	p, ok := enginePorts[engine]
	return p, ok
}

// Spec configures the database.
type Spec struct {
	Engine        string
	EngineVersion string
	InstanceClass string
	DatabaseName  string

	AllocatedStorageGiB int
	// MaxAllocatedStorageGiB is the storage autoscaling ceiling; 0 disables autoscaling.
	MaxAllocatedStorageGiB int

	Tier     string
	Boundary string

	BackupRetentionDays    int
	DeleteAutomatedBackups bool
	DeletionProtection     bool
	RemovalPolicy          string
}

// DefaultSpec returns a small single-instance MySQL database in the isolated tier.
func DefaultSpec() Spec {
	return Spec{
		Engine:                 "mysql",
		EngineVersion:          "5.7",
		InstanceClass:          "db.t2.micro",
		DatabaseName:           "mydb",
		AllocatedStorageGiB:    20,
		MaxAllocatedStorageGiB: 1000,
		Tier:                   network.TierIsolated,
		Boundary:               access.BoundaryData,
		BackupRetentionDays:    1,
		DeleteAutomatedBackups: true,
		RemovalPolicy:          RemovalDestroy,
	}
}

// Validate checks the database settings. Storage errors wrap ErrInvalidAllocation.
func (s Spec) Validate() error {
	if s.AllocatedStorageGiB <= 0 {
		return fmt.Errorf("%w: allocated storage must be > 0 GiB, got %d", tierstack.ErrInvalidAllocation, s.AllocatedStorageGiB)
	}
	if s.MaxAllocatedStorageGiB < 0 {
		return fmt.Errorf("%w: maximum storage must be >= 0 GiB (0 disables autoscaling), got %d",
			tierstack.ErrInvalidAllocation, s.MaxAllocatedStorageGiB)
	}
	if s.MaxAllocatedStorageGiB > 0 && s.AllocatedStorageGiB > s.MaxAllocatedStorageGiB {
		return fmt.Errorf("%w: allocated storage %d GiB exceeds maximum %d GiB",
			tierstack.ErrInvalidAllocation, s.AllocatedStorageGiB, s.MaxAllocatedStorageGiB)
	}
	if _, ok := enginePorts[s.Engine]; !ok {
		return fmt.Errorf("unsupported engine %q", s.Engine)
	}
	if s.InstanceClass == "" {
		return fmt.Errorf("instance class is required")
	}
	if !databaseName.MatchString(s.DatabaseName) {
		return fmt.Errorf("invalid database name %q", s.DatabaseName)
	}
	if s.BackupRetentionDays < 0 || s.BackupRetentionDays > 35 {
		return fmt.Errorf("backup retention must be 0-35 days, got %d", s.BackupRetentionDays)
	}
	if _, ok := removalPolicies[s.RemovalPolicy]; !ok {
		return fmt.Errorf("unknown removal policy %q", s.RemovalPolicy)
	}
	if s.Tier == "" || s.Boundary == "" {
		return fmt.Errorf("tier and boundary are required")
	}
	return nil
}

// Database is the declared data tier.
type Database struct {
	Fragment    graph.Fragment
	ID          graph.ID
	SubnetGroup graph.ID
	Port        int
}

// Address returns a deferred reference to the endpoint host name.
func (d Database) Address() graph.Deferred {
	return graph.Attr(d.ID, EndpointAddressAttribute)
}

// EndpointPort returns a deferred reference to the endpoint port.
func (d Database) EndpointPort() graph.Deferred {
	return graph.Attr(d.ID, EndpointPortAttribute)
}

type subnetGroupProps struct {
	DBSubnetGroupDescription string           `json:"DBSubnetGroupDescription"`
	SubnetIds                []graph.Deferred `json:"SubnetIds"`
	Tags                     []graph.Tag      `json:"Tags,omitempty"`
}

type dbInstanceProps struct {
	Engine                   string           `json:"Engine"`
	EngineVersion            string           `json:"EngineVersion,omitempty"`
	DBInstanceClass          string           `json:"DBInstanceClass"`
	DBName                   string           `json:"DBName"`
	AllocatedStorage         string           `json:"AllocatedStorage"`
	MaxAllocatedStorage      int              `json:"MaxAllocatedStorage,omitempty"`
	StorageType              string           `json:"StorageType"`
	DBSubnetGroupName        graph.Deferred   `json:"DBSubnetGroupName"`
	VPCSecurityGroups        []graph.Deferred `json:"VPCSecurityGroups"`
	MasterUsername           string           `json:"MasterUsername"`
	ManageMasterUserPassword bool             `json:"ManageMasterUserPassword"`
	PubliclyAccessible       *bool            `json:"PubliclyAccessible"`
	BackupRetentionPeriod    *int             `json:"BackupRetentionPeriod"`
	DeleteAutomatedBackups   *bool            `json:"DeleteAutomatedBackups"`
	DeletionProtection       *bool            `json:"DeletionProtection"`
	CopyTagsToSnapshot       bool             `json:"CopyTagsToSnapshot"`
	Tags                     []graph.Tag      `json:"Tags,omitempty"`
}

// Declare validates the settings and emits a subnet group over the tier's subnets and a
// single database instance guarded by the boundary's security group.
func Declare(bc graph.BuildContext, spec Spec, nw network.Network, groups access.Groups) (Database, error) {
	if err := spec.Validate(); err != nil {
		return Database{}, err
	}
	group, ok := nw.Layout.Group(spec.Tier)
	if !ok || len(group.Subnets) == 0 {
		return Database{}, fmt.Errorf("data tier %q has no subnets", spec.Tier)
	}
	if len(group.Subnets) < 2 {
		return Database{}, fmt.Errorf("data tier %q needs subnets in at least two zones, got %d", spec.Tier, len(group.Subnets))
	}
	securityGroup, err := groups.GroupID(spec.Boundary)
	if err != nil {
		return Database{}, err
	}

	subnets := make([]graph.Deferred, len(group.Subnets))
	for i, s := range group.Subnets {
		subnets[i] = graph.RefTo(s.ID)
	}
	labels := func() map[string]string {
		return map[string]string{graph.LabelComponent: "data", graph.LabelTier: spec.Tier}
	}

	subnetGroup := graph.Node{
		ID:   SubnetGroupID,
		Kind: graph.KindDBSubnetGroup,
		Properties: serialize.MustResource(subnetGroupProps{
			DBSubnetGroupDescription: fmt.Sprintf("Subnets of the %s tier", spec.Tier),
			SubnetIds:                subnets,
			Tags:                     bc.Tags(SubnetGroupID),
		}),
		Labels: labels(),
	}

	public := false
	retention := spec.BackupRetentionDays
	deleteBackups := spec.DeleteAutomatedBackups
	protection := spec.DeletionProtection
	policy := removalPolicies[spec.RemovalPolicy]
	db := graph.Node{
		ID:   DatabaseID,
		Kind: graph.KindDBInstance,
		Properties: serialize.MustResource(dbInstanceProps{
			Engine:                   spec.Engine,
			EngineVersion:            spec.EngineVersion,
			DBInstanceClass:          spec.InstanceClass,
			DBName:                   spec.DatabaseName,
			AllocatedStorage:         fmt.Sprint(spec.AllocatedStorageGiB),
			MaxAllocatedStorage:      spec.MaxAllocatedStorageGiB,
			StorageType:              "gp2",
			DBSubnetGroupName:        graph.RefTo(SubnetGroupID),
			VPCSecurityGroups:        []graph.Deferred{securityGroup},
			MasterUsername:           "admin",
			ManageMasterUserPassword: true,
			PubliclyAccessible:       &public,
			BackupRetentionPeriod:    &retention,
			DeleteAutomatedBackups:   &deleteBackups,
			DeletionProtection:       &protection,
			CopyTagsToSnapshot:       true,
			Tags:                     bc.Tags(DatabaseID),
		}),
		DeletionPolicy:      policy,
		UpdateReplacePolicy: policy,
		Labels:              labels(),
	}

	port, _ := EnginePort(spec.Engine)
	return Database{
		Fragment:    graph.NewFragment(subnetGroup, db),
		ID:          DatabaseID,
		SubnetGroup: SubnetGroupID,
		Port:        port,
	}, nil
}
