// Package config loads tierstack inputs from defaults, an optional YAML file,
// TIERSTACK_* environment variables and command-line flags, in that order of
// increasing precedence.
package config

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/lex00/tierstack-go/internal/access"
	"github.com/lex00/tierstack-go/internal/compute"
	"github.com/lex00/tierstack-go/internal/datatier"
	"github.com/lex00/tierstack-go/internal/edge"
	"github.com/lex00/tierstack-go/internal/images"
	"github.com/lex00/tierstack-go/internal/topology"
)

// EnvPrefix prefixes every environment variable, e.g. TIERSTACK_LISTENER_PORT.
const EnvPrefix = "TIERSTACK"

// Image resolvers.
const (
	ResolverStatic = "static"
	ResolverEC2    = "ec2"
)

// Config is the complete tierstack configuration.
type Config struct {
	Region string `mapstructure:"region" yaml:"region" validate:"required"`
	Log    Log    `mapstructure:"log" yaml:"log"`
	Images Images `mapstructure:"images" yaml:"images"`
	Inputs `mapstructure:",squash" yaml:",inline"`
}

// Log configures logging.
type Log struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"omitempty,oneof=trace debug info warn error"`
	Format string `mapstructure:"format" yaml:"format" validate:"oneof=json text"`
}

// Images selects how image selectors are resolved.
type Images struct {
	Resolver string `mapstructure:"resolver" yaml:"resolver" validate:"oneof=static ec2"`
	// Static maps selectors to image IDs for the static resolver.
	Static map[string]string `mapstructure:"static" yaml:"static,omitempty"`
}

// Inputs are the topology inputs as written in configuration.
type Inputs struct {
	Stack            string   `mapstructure:"stack" yaml:"stack" validate:"required,stackname"`
	CIDR             string   `mapstructure:"cidr" yaml:"cidr" validate:"required,cidrv4"`
	Zones            int      `mapstructure:"zones" yaml:"zones" validate:"min=1,max=6"`
	TierMask         int      `mapstructure:"tier_mask" yaml:"tier_mask" validate:"min=16,max=28"`
	AllowAllOutbound bool     `mapstructure:"allow_all_outbound" yaml:"allow_all_outbound"`
	ListenerPort     int      `mapstructure:"listener_port" yaml:"listener_port" validate:"min=1,max=65535"`
	EnableHTTPS      bool     `mapstructure:"enable_https" yaml:"enable_https"`
	Health           Health   `mapstructure:"health" yaml:"health"`
	Compute          Compute  `mapstructure:"compute" yaml:"compute"`
	Database         Database `mapstructure:"database" yaml:"database"`
}

// Health is the load balancer health check.
type Health struct {
	Path               string        `mapstructure:"path" yaml:"path" validate:"required,startswith=/"`
	Interval           time.Duration `mapstructure:"interval" yaml:"interval" validate:"min=5s,max=300s"`
	Timeout            time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"min=2s,max=120s,ltfield=Interval"`
	HealthyThreshold   int           `mapstructure:"healthy_threshold" yaml:"healthy_threshold" validate:"min=1"`
	UnhealthyThreshold int           `mapstructure:"unhealthy_threshold" yaml:"unhealthy_threshold" validate:"min=1"`
}

// Compute is the instance pool.
type Compute struct {
	Count        int      `mapstructure:"count" yaml:"count" validate:"min=1"`
	Tier         string   `mapstructure:"tier" yaml:"tier" validate:"oneof=private-egress"`
	InstanceType string   `mapstructure:"instance_type" yaml:"instance_type" validate:"required"`
	Image        string   `mapstructure:"image" yaml:"image" validate:"required"`
	Port         int      `mapstructure:"port" yaml:"port" validate:"min=1,max=65535"`
	Bootstrap    []string `mapstructure:"bootstrap" yaml:"bootstrap,omitempty"`
}

// Database is the data tier. Storage sizes are GiB integers or quantities such as 20Gi.
type Database struct {
	Engine              string `mapstructure:"engine" yaml:"engine" validate:"oneof=mysql mariadb postgres"`
	EngineVersion       string `mapstructure:"engine_version" yaml:"engine_version"`
	InstanceClass       string `mapstructure:"instance_class" yaml:"instance_class" validate:"required"`
	Name                string `mapstructure:"name" yaml:"name" validate:"required"`
	Storage             string `mapstructure:"storage" yaml:"storage" validate:"required"`
	MaxStorage          string `mapstructure:"max_storage" yaml:"max_storage"`
	BackupRetentionDays int    `mapstructure:"backup_retention_days" yaml:"backup_retention_days" validate:"min=0,max=35"`
	DeletionProtection  bool   `mapstructure:"deletion_protection" yaml:"deletion_protection"`
	RemovalPolicy       string `mapstructure:"removal_policy" yaml:"removal_policy" validate:"oneof=destroy retain snapshot"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	in := topology.DefaultInputs()
	db := in.Database
	return Config{
		Region: "us-east-1",
		Log:    Log{Level: "info", Format: "text"},
		Images: Images{
			Resolver: ResolverStatic,
			Static:   map[string]string{images.LatestAmazonLinux2: "ami-0c02fb55956c7d316"},
		},
		Inputs: Inputs{
			Stack:            in.Stack,
			CIDR:             in.CIDR.String(),
			Zones:            in.Zones,
			TierMask:         in.TierMask,
			AllowAllOutbound: in.AllowAllOutbound,
			ListenerPort:     in.ListenerPort,
			EnableHTTPS:      in.EnableHTTPS,
			Health: Health{
				Path:               in.Health.Path,
				Interval:           in.Health.Interval,
				Timeout:            in.Health.Timeout,
				HealthyThreshold:   in.Health.HealthyThreshold,
				UnhealthyThreshold: in.Health.UnhealthyThreshold,
			},
			Compute: Compute{
				Count:        in.Compute.Count,
				Tier:         in.Compute.Tier,
				InstanceType: in.Compute.InstanceType,
				Image:        in.Compute.Image.String(),
				Port:         in.Compute.Port,
				Bootstrap:    in.Compute.Bootstrap,
			},
			Database: Database{
				Engine:              db.Engine,
				EngineVersion:       db.EngineVersion,
				InstanceClass:       db.InstanceClass,
				Name:                db.DatabaseName,
				Storage:             FormatGiB(db.AllocatedStorageGiB),
				MaxStorage:          FormatGiB(db.MaxAllocatedStorageGiB),
				BackupRetentionDays: db.BackupRetentionDays,
				DeletionProtection:  db.DeletionProtection,
				RemovalPolicy:       db.RemovalPolicy,
			},
		},
	}
}

// flagKeys maps command-line flags onto configuration keys.
var flagKeys = map[string]string{
	"region":           "region",
	"log-level":        "log.level",
	"log-format":       "log.format",
	"image-resolver":   "images.resolver",
	"stack":            "stack",
	"cidr":             "cidr",
	"zones":            "zones",
	"tier-mask":        "tier_mask",
	"listener-port":    "listener_port",
	"https":            "enable_https",
	"instances":        "compute.count",
	"instance-type":    "compute.instance_type",
	"image":            "compute.image",
	"instance-port":    "compute.port",
	"db-engine":        "database.engine",
	"db-storage":       "database.storage",
	"db-max-storage":   "database.max_storage",
	"db-removal":       "database.removal_policy",
	"allow-all-egress": "allow_all_outbound",
}

// RegisterFlags adds the configuration flags to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("region", d.Region, "AWS region")
	fs.String("log-level", d.Log.Level, "Log level (trace, debug, info, warn, error)")
	fs.String("log-format", d.Log.Format, "Log format (json, text)")
	fs.String("image-resolver", d.Images.Resolver, "Image resolver (static, ec2)")
	fs.String("stack", d.Stack, "Stack name")
	fs.String("cidr", d.CIDR, "VPC address space")
	fs.Int("zones", d.Zones, "Number of availability zones")
	fs.Int("tier-mask", d.TierMask, "Prefix length of every subnet")
	fs.Int("listener-port", d.ListenerPort, "Load balancer listener port")
	fs.Bool("https", d.EnableHTTPS, "Also admit HTTPS on the load balancer")
	fs.Int("instances", d.Compute.Count, "Number of web server instances")
	fs.String("instance-type", d.Compute.InstanceType, "EC2 instance type")
	fs.String("image", d.Compute.Image, "Image alias, ami-<id> or <owner>:<name-pattern>")
	fs.Int("instance-port", d.Compute.Port, "Port the instances serve on")
	fs.String("db-engine", d.Database.Engine, "Database engine")
	fs.String("db-storage", d.Database.Storage, "Initial database storage (GiB or quantity, e.g. 20Gi)")
	fs.String("db-max-storage", d.Database.MaxStorage, "Maximum database storage for autoscaling")
	fs.String("db-removal", d.Database.RemovalPolicy, "Database removal policy (destroy, retain, snapshot)")
	fs.Bool("allow-all-egress", d.AllowAllOutbound, "Allow all outbound traffic from every tier")
}

// LoadOptions configures Load.
type LoadOptions struct {
	// File is an optional YAML configuration file.
	File string
	// Flags are bound over file and environment values when set.
	Flags *pflag.FlagSet
}

// Load reads and validates the configuration.
func Load(opts LoadOptions) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.File != "" {
		v.SetConfigFile(opts.File)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", opts.File, err)
		}
	}

	if opts.Flags != nil {
		var bindErr error
		opts.Flags.VisitAll(func(f *pflag.Flag) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return
			}
			if err := v.BindPFlag(key, f); err != nil {
				bindErr = errors.Join(bindErr, err)
			}
		})
		if bindErr != nil {
			return nil, bindErr
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("region", d.Region)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("images.resolver", d.Images.Resolver)
	v.SetDefault("images.static", d.Images.Static)
	v.SetDefault("stack", d.Stack)
	v.SetDefault("cidr", d.CIDR)
	v.SetDefault("zones", d.Zones)
	v.SetDefault("tier_mask", d.TierMask)
	v.SetDefault("allow_all_outbound", d.AllowAllOutbound)
	v.SetDefault("listener_port", d.ListenerPort)
	v.SetDefault("enable_https", d.EnableHTTPS)
	v.SetDefault("health.path", d.Health.Path)
	v.SetDefault("health.interval", d.Health.Interval)
	v.SetDefault("health.timeout", d.Health.Timeout)
	v.SetDefault("health.healthy_threshold", d.Health.HealthyThreshold)
	v.SetDefault("health.unhealthy_threshold", d.Health.UnhealthyThreshold)
	v.SetDefault("compute.count", d.Compute.Count)
	v.SetDefault("compute.tier", d.Compute.Tier)
	v.SetDefault("compute.instance_type", d.Compute.InstanceType)
	v.SetDefault("compute.image", d.Compute.Image)
	v.SetDefault("compute.port", d.Compute.Port)
	v.SetDefault("compute.bootstrap", d.Compute.Bootstrap)
	v.SetDefault("database.engine", d.Database.Engine)
	v.SetDefault("database.engine_version", d.Database.EngineVersion)
	v.SetDefault("database.instance_class", d.Database.InstanceClass)
	v.SetDefault("database.name", d.Database.Name)
	v.SetDefault("database.storage", d.Database.Storage)
	v.SetDefault("database.max_storage", d.Database.MaxStorage)
	v.SetDefault("database.backup_retention_days", d.Database.BackupRetentionDays)
	v.SetDefault("database.deletion_protection", d.Database.DeletionProtection)
	v.SetDefault("database.removal_policy", d.Database.RemovalPolicy)
}

var (
	validate  = validator.New()
	stackName = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9-]{0,127}$`)
)

func init() {
	validate.RegisterValidation("stackname", func(fl validator.FieldLevel) bool {
		return stackName.MatchString(fl.Field().String())
	})
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("mapstructure"), ",")
		if name == "" {
			return f.Name
		}
		return name
	})
}

// ValidationError lists every invalid field.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

// Validate checks the field-level constraints. Cross-stage checks happen when the
// inputs are assembled.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	verr := &ValidationError{}
	for _, fe := range fieldErrs {
		verr.Problems = append(verr.Problems, describe(fe))
	}
	return verr
}

func describe(fe validator.FieldError) string {
	// Drop the root type name; squashed Inputs fields sit at the top level.
	key := fe.Namespace()
	if _, rest, ok := strings.Cut(key, "."); ok {
		key = rest
	}
	key = strings.TrimPrefix(key, "Inputs.")
	if fe.Param() != "" {
		return fmt.Sprintf("%s: must satisfy %s=%s (got %v)", key, fe.Tag(), fe.Param(), fe.Value())
	}
	return fmt.Sprintf("%s: must satisfy %s (got %v)", key, fe.Tag(), fe.Value())
}

// Topology converts the configuration into assembler inputs.
func (c *Config) Topology() (topology.Inputs, error) {
	prefix, err := netip.ParsePrefix(c.CIDR)
	if err != nil {
		return topology.Inputs{}, fmt.Errorf("cidr: %w", err)
	}
	sel, err := images.ParseSelector(c.Compute.Image)
	if err != nil {
		return topology.Inputs{}, fmt.Errorf("compute.image: %w", err)
	}
	storage, err := ParseGiB(c.Database.Storage)
	if err != nil {
		return topology.Inputs{}, fmt.Errorf("database.storage: %w", err)
	}
	maxStorage := 0
	if c.Database.MaxStorage != "" {
		if maxStorage, err = ParseGiB(c.Database.MaxStorage); err != nil {
			return topology.Inputs{}, fmt.Errorf("database.max_storage: %w", err)
		}
	}

	spec := datatier.DefaultSpec()
	spec.Engine = c.Database.Engine
	spec.EngineVersion = c.Database.EngineVersion
	spec.InstanceClass = c.Database.InstanceClass
	spec.DatabaseName = c.Database.Name
	spec.AllocatedStorageGiB = storage
	spec.MaxAllocatedStorageGiB = maxStorage
	spec.BackupRetentionDays = c.Database.BackupRetentionDays
	spec.DeletionProtection = c.Database.DeletionProtection
	spec.RemovalPolicy = c.Database.RemovalPolicy

	return topology.Inputs{
		Stack:            c.Stack,
		CIDR:             prefix.Masked(),
		Zones:            c.Zones,
		TierMask:         c.TierMask,
		AllowAllOutbound: c.AllowAllOutbound,
		ListenerPort:     c.ListenerPort,
		EnableHTTPS:      c.EnableHTTPS,
		Health: edge.HealthCheck{
			Path:               c.Health.Path,
			Interval:           c.Health.Interval,
			Timeout:            c.Health.Timeout,
			HealthyThreshold:   c.Health.HealthyThreshold,
			UnhealthyThreshold: c.Health.UnhealthyThreshold,
		},
		Compute: compute.PoolSpec{
			Count:        c.Compute.Count,
			Tier:         c.Compute.Tier,
			Boundary:     access.BoundaryCompute,
			Bootstrap:    c.Compute.Bootstrap,
			InstanceType: c.Compute.InstanceType,
			Image:        sel,
			Port:         c.Compute.Port,
		},
		Database: spec,
	}, nil
}

// Resolver returns the image resolver the configuration selects.
func (c *Config) Resolver(ctx context.Context) (images.Resolver, error) {
	switch c.Images.Resolver {
	case ResolverEC2:
		return images.NewEC2Resolver(ctx, c.Region)
	default:
		return images.StaticResolver(c.Images.Static), nil
	}
}

// YAML renders the configuration as a YAML document.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// WriteFile writes the configuration to path.
func (c *Config) WriteFile(path string) error {
	data, err := c.YAML()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
