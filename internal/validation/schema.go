package validation

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	tierstack "github.com/lex00/tierstack-go"
)

// SchemaIssue is one finding of the offline schema check.
type SchemaIssue struct {
	Resource string
	Property string
	Message  string
}

func (i SchemaIssue) String() string {
	if i.Property == "" {
		return fmt.Sprintf("%s: %s", i.Resource, i.Message)
	}
	return fmt.Sprintf("%s.%s: %s", i.Resource, i.Property, i.Message)
}

// SchemaResult holds the findings of CheckSchema.
type SchemaResult struct {
	Errors   []SchemaIssue
	Warnings []SchemaIssue
}

// Valid reports whether no errors were found.
func (r SchemaResult) Valid() bool { return len(r.Errors) == 0 }

type propertyType string

const (
	typeString  propertyType = "String"
	typeInteger propertyType = "Integer"
	typeBoolean propertyType = "Boolean"
	typeList    propertyType = "List"
	typeMap     propertyType = "Map"
	typeAny     propertyType = "Json"
)

type propertySchema struct {
	Type    propertyType
	Allowed []string
}

type resourceSchema struct {
	Required   []string
	Properties map[string]propertySchema
}

var tags = propertySchema{Type: typeList}

// resourceSchemas covers the resource types a topology renders.
var resourceSchemas = map[string]resourceSchema{
	"AWS::EC2::VPC": {
		Required: []string{"CidrBlock"},
		Properties: map[string]propertySchema{
			"CidrBlock":          {Type: typeString},
			"EnableDnsHostnames": {Type: typeBoolean},
			"EnableDnsSupport":   {Type: typeBoolean},
			"InstanceTenancy":    {Type: typeString, Allowed: []string{"default", "dedicated", "host"}},
			"Tags":               tags,
		},
	},
	"AWS::EC2::InternetGateway": {
		Properties: map[string]propertySchema{"Tags": tags},
	},
	"AWS::EC2::VPCGatewayAttachment": {
		Required: []string{"VpcId"},
		Properties: map[string]propertySchema{
			"VpcId":             {Type: typeString},
			"InternetGatewayId": {Type: typeString},
		},
	},
	"AWS::EC2::Subnet": {
		Required: []string{"VpcId", "CidrBlock"},
		Properties: map[string]propertySchema{
			"VpcId":               {Type: typeString},
			"CidrBlock":           {Type: typeString},
			"AvailabilityZone":    {Type: typeString},
			"MapPublicIpOnLaunch": {Type: typeBoolean},
			"Tags":                tags,
		},
	},
	"AWS::EC2::RouteTable": {
		Required: []string{"VpcId"},
		Properties: map[string]propertySchema{
			"VpcId": {Type: typeString},
			"Tags":  tags,
		},
	},
	"AWS::EC2::Route": {
		Required: []string{"RouteTableId"},
		Properties: map[string]propertySchema{
			"RouteTableId":         {Type: typeString},
			"DestinationCidrBlock": {Type: typeString},
			"GatewayId":            {Type: typeString},
			"NatGatewayId":         {Type: typeString},
		},
	},
	"AWS::EC2::SubnetRouteTableAssociation": {
		Required: []string{"RouteTableId", "SubnetId"},
		Properties: map[string]propertySchema{
			"RouteTableId": {Type: typeString},
			"SubnetId":     {Type: typeString},
		},
	},
	"AWS::EC2::EIP": {
		Properties: map[string]propertySchema{
			"Domain": {Type: typeString, Allowed: []string{"vpc", "standard"}},
			"Tags":   tags,
		},
	},
	"AWS::EC2::NatGateway": {
		Required: []string{"SubnetId"},
		Properties: map[string]propertySchema{
			"AllocationId": {Type: typeString},
			"SubnetId":     {Type: typeString},
			"Tags":         tags,
		},
	},
	"AWS::EC2::SecurityGroup": {
		Required: []string{"GroupDescription"},
		Properties: map[string]propertySchema{
			"GroupDescription":     {Type: typeString},
			"VpcId":                {Type: typeString},
			"SecurityGroupIngress": {Type: typeList},
			"SecurityGroupEgress":  {Type: typeList},
			"Tags":                 tags,
		},
	},
	"AWS::EC2::SecurityGroupIngress": {
		Required: []string{"IpProtocol"},
		Properties: map[string]propertySchema{
			"GroupId":               {Type: typeString},
			"IpProtocol":            {Type: typeString},
			"FromPort":              {Type: typeInteger},
			"ToPort":                {Type: typeInteger},
			"CidrIp":                {Type: typeString},
			"SourceSecurityGroupId": {Type: typeString},
			"Description":           {Type: typeString},
		},
	},
	"AWS::EC2::Instance": {
		Properties: map[string]propertySchema{
			"InstanceType":     {Type: typeString},
			"ImageId":          {Type: typeString},
			"SubnetId":         {Type: typeString},
			"AvailabilityZone": {Type: typeString},
			"SecurityGroupIds": {Type: typeList},
			"UserData":         {Type: typeString},
			"Tags":             tags,
		},
	},
	"AWS::ElasticLoadBalancingV2::LoadBalancer": {
		Properties: map[string]propertySchema{
			"Scheme":         {Type: typeString, Allowed: []string{"internet-facing", "internal"}},
			"Type":           {Type: typeString, Allowed: []string{"application", "network", "gateway"}},
			"Subnets":        {Type: typeList},
			"SecurityGroups": {Type: typeList},
			"Tags":           tags,
		},
	},
	"AWS::ElasticLoadBalancingV2::TargetGroup": {
		Properties: map[string]propertySchema{
			"Port":                       {Type: typeInteger},
			"Protocol":                   {Type: typeString, Allowed: []string{"HTTP", "HTTPS", "TCP", "TLS", "UDP", "TCP_UDP", "GENEVE"}},
			"TargetType":                 {Type: typeString, Allowed: []string{"instance", "ip", "lambda", "alb"}},
			"VpcId":                      {Type: typeString},
			"Targets":                    {Type: typeList},
			"HealthCheckEnabled":         {Type: typeBoolean},
			"HealthCheckPath":            {Type: typeString},
			"HealthCheckProtocol":        {Type: typeString, Allowed: []string{"HTTP", "HTTPS", "TCP"}},
			"HealthCheckIntervalSeconds": {Type: typeInteger},
			"HealthCheckTimeoutSeconds":  {Type: typeInteger},
			"HealthyThresholdCount":      {Type: typeInteger},
			"UnhealthyThresholdCount":    {Type: typeInteger},
			"Matcher":                    {Type: typeMap},
			"Tags":                       tags,
		},
	},
	"AWS::ElasticLoadBalancingV2::Listener": {
		Required: []string{"LoadBalancerArn", "DefaultActions"},
		Properties: map[string]propertySchema{
			"LoadBalancerArn": {Type: typeString},
			"Port":            {Type: typeInteger},
			"Protocol":        {Type: typeString, Allowed: []string{"HTTP", "HTTPS", "TCP", "TLS", "UDP", "TCP_UDP", "GENEVE"}},
			"DefaultActions":  {Type: typeList},
			"Certificates":    {Type: typeList},
		},
	},
	"AWS::RDS::DBSubnetGroup": {
		Required: []string{"DBSubnetGroupDescription", "SubnetIds"},
		Properties: map[string]propertySchema{
			"DBSubnetGroupDescription": {Type: typeString},
			"SubnetIds":                {Type: typeList},
			"Tags":                     tags,
		},
	},
	"AWS::RDS::DBInstance": {
		Properties: map[string]propertySchema{
			"Engine":                   {Type: typeString, Allowed: []string{"mysql", "mariadb", "postgres"}},
			"EngineVersion":            {Type: typeString},
			"DBInstanceClass":          {Type: typeString},
			"DBName":                   {Type: typeString},
			"AllocatedStorage":         {Type: typeString},
			"MaxAllocatedStorage":      {Type: typeInteger},
			"StorageType":              {Type: typeString, Allowed: []string{"standard", "gp2", "gp3", "io1", "io2"}},
			"DBSubnetGroupName":        {Type: typeString},
			"VPCSecurityGroups":        {Type: typeList},
			"MasterUsername":           {Type: typeString},
			"ManageMasterUserPassword": {Type: typeBoolean},
			"PubliclyAccessible":       {Type: typeBoolean},
			"BackupRetentionPeriod":    {Type: typeInteger},
			"DeleteAutomatedBackups":   {Type: typeBoolean},
			"DeletionProtection":       {Type: typeBoolean},
			"CopyTagsToSnapshot":       {Type: typeBoolean},
			"Tags":                     tags,
		},
	},
}

var policies = []string{"Delete", "Retain", "Snapshot", "RetainExceptOnCreate"}

// CheckSchema checks every resource of tmpl against the known resource schemas
// without calling out to any service. Unknown resource types are warnings; with
// strict set, unknown properties are warnings too.
func CheckSchema(tmpl *tierstack.Template, strict bool) SchemaResult {
	var result SchemaResult
	names := make([]string, 0, len(tmpl.Resources))
	for name := range tmpl.Resources {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		errs, warns := checkResource(name, tmpl.Resources[name], strict)
		result.Errors = append(result.Errors, errs...)
		result.Warnings = append(result.Warnings, warns...)
	}
	return result
}

func checkResource(name string, res tierstack.ResourceDef, strict bool) (errs, warns []SchemaIssue) {
	if !validResourceType(res.Type) {
		errs = append(errs, SchemaIssue{name, "Type", fmt.Sprintf("invalid resource type format: %s", res.Type)})
	}
	for attr, policy := range map[string]string{"DeletionPolicy": res.DeletionPolicy, "UpdateReplacePolicy": res.UpdateReplacePolicy} {
		if policy != "" && !slices.Contains(policies, policy) {
			errs = append(errs, SchemaIssue{name, attr, fmt.Sprintf("invalid policy %q", policy)})
		}
	}

	schema, ok := resourceSchemas[res.Type]
	if !ok {
		warns = append(warns, SchemaIssue{name, "Type", fmt.Sprintf("unknown resource type: %s", res.Type)})
		return errs, warns
	}

	for _, required := range schema.Required {
		if _, ok := res.Properties[required]; !ok {
			errs = append(errs, SchemaIssue{name, required, "missing required property"})
		}
	}

	props := make([]string, 0, len(res.Properties))
	for prop := range res.Properties {
		props = append(props, prop)
	}
	sort.Strings(props)

	for _, prop := range props {
		ps, ok := schema.Properties[prop]
		if !ok {
			if strict {
				warns = append(warns, SchemaIssue{name, prop, "unknown property"})
			}
			continue
		}
		value := res.Properties[prop]
		if !matchesType(value, ps.Type) {
			errs = append(errs, SchemaIssue{name, prop, fmt.Sprintf("expected type %s", ps.Type)})
			continue
		}
		if s, ok := value.(string); ok && len(ps.Allowed) > 0 && !slices.Contains(ps.Allowed, s) {
			errs = append(errs, SchemaIssue{name, prop, fmt.Sprintf("value %q not in allowed values: %v", s, ps.Allowed)})
		}
	}
	return errs, warns
}

// validResourceType accepts AWS::Service::Resource and Custom::Name.
func validResourceType(t string) bool {
	if strings.HasPrefix(t, "Custom::") {
		return len(t) > len("Custom::")
	}
	parts := strings.Split(t, "::")
	return len(parts) == 3 && parts[0] == "AWS" && parts[1] != "" && parts[2] != ""
}

// matchesType checks a rendered property value. Intrinsic functions stand in
// for any type since they only resolve at deploy time.
func matchesType(value any, want propertyType) bool {
	if m, ok := value.(map[string]any); ok && len(m) == 1 {
		for key := range m {
			if key == "Ref" || strings.HasPrefix(key, "Fn::") {
				return true
			}
		}
	}

	switch want {
	case typeString:
		_, ok := value.(string)
		return ok
	case typeInteger:
		switch value.(type) {
		case int, int32, int64, uint, uint64, float64:
			return true
		}
		return false
	case typeBoolean:
		_, ok := value.(bool)
		return ok
	case typeList:
		_, ok := value.([]any)
		return ok
	case typeMap:
		_, ok := value.(map[string]any)
		return ok
	default:
		return true
	}
}
