// Package config loads the settings that shape the pipeline stack.
package config

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Source kinds.
const (
	SourceGitHub = "github"
	SourceS3     = "s3"
)

// Deploy kinds.
const (
	DeployManualApproval   = "manual-approval"
	DeployCodeBuild        = "codebuild"
	DeployCodeDeploy       = "codedeploy"
	DeployLambdaCodeDeploy = "lambda-codedeploy"
)

// Config holds everything needed to declare the pipeline stack.
type Config struct {
	Project   string `yaml:"project" toml:"project"`
	StackName string `yaml:"stack_name" toml:"stack_name"`
	Account   string `yaml:"account" toml:"account"`
	Region    string `yaml:"region" toml:"region"`
	// Qualifier selects a non-default bootstrap environment.
	Qualifier string `yaml:"qualifier" toml:"qualifier"`
	// Literal disables CloudFormation parameters; names are baked into the template.
	Literal bool `yaml:"literal" toml:"literal"`

	Pipeline   PipelineConfig   `yaml:"pipeline" toml:"pipeline"`
	Source     SourceConfig     `yaml:"source" toml:"source"`
	Build      BuildConfig      `yaml:"build" toml:"build"`
	Deploy     DeployConfig     `yaml:"deploy" toml:"deploy"`
	Monitoring MonitoringConfig `yaml:"monitoring" toml:"monitoring"`
}

type PipelineConfig struct {
	Name            string       `yaml:"name" toml:"name"`
	ManagedPolicies []string     `yaml:"managed_policies" toml:"managed_policies"`
	Stages          StageNames   `yaml:"stages" toml:"stages"`
	ArtifactBucket  BucketConfig `yaml:"artifact_bucket" toml:"artifact_bucket"`
}

type StageNames struct {
	Source string `yaml:"source" toml:"source"`
	Build  string `yaml:"build" toml:"build"`
	Deploy string `yaml:"deploy" toml:"deploy"`
}

type BucketConfig struct {
	Name string `yaml:"name" toml:"name"`
	// RemovalPolicy is "destroy" or "retain".
	RemovalPolicy string `yaml:"removal_policy" toml:"removal_policy"`
}

type SourceConfig struct {
	Kind   string         `yaml:"kind" toml:"kind"`
	GitHub GitHubConfig   `yaml:"github" toml:"github"`
	S3     S3SourceConfig `yaml:"s3" toml:"s3"`
}

type GitHubConfig struct {
	Owner      string `yaml:"owner" toml:"owner"`
	Repo       string `yaml:"repo" toml:"repo"`
	Branch     string `yaml:"branch" toml:"branch"`
	SecretName string `yaml:"secret_name" toml:"secret_name"`
	// SecretJSONField picks a key when the secret stores JSON.
	SecretJSONField string `yaml:"secret_json_field" toml:"secret_json_field"`
	// Trigger is "webhook", "poll" or "none".
	Trigger string `yaml:"trigger" toml:"trigger"`
}

type S3SourceConfig struct {
	Bucket string `yaml:"bucket" toml:"bucket"`
	Key    string `yaml:"key" toml:"key"`
	// Trigger is "events", "poll" or "none".
	Trigger string `yaml:"trigger" toml:"trigger"`
}

type BuildConfig struct {
	ProjectName     string            `yaml:"project_name" toml:"project_name"`
	BuildspecFile   string            `yaml:"buildspec_file" toml:"buildspec_file"`
	InstallCommands []string          `yaml:"install_commands" toml:"install_commands"`
	BuildCommands   []string          `yaml:"build_commands" toml:"build_commands"`
	ArtifactFiles   []string          `yaml:"artifact_files" toml:"artifact_files"`
	ComputeType     string            `yaml:"compute_type" toml:"compute_type"`
	TimeoutMinutes  int               `yaml:"timeout_minutes" toml:"timeout_minutes"`
	Environment     map[string]string `yaml:"environment" toml:"environment"`
}

type DeployConfig struct {
	Kind       string              `yaml:"kind" toml:"kind"`
	RoleName   string              `yaml:"role_name" toml:"role_name"`
	Approval   ApprovalConfig      `yaml:"approval" toml:"approval"`
	CodeBuild  RedeployConfig      `yaml:"codebuild" toml:"codebuild"`
	CodeDeploy CodeDeployConfig    `yaml:"codedeploy" toml:"codedeploy"`
	Lambda     LambdaHandlerConfig `yaml:"lambda" toml:"lambda"`
}

type ApprovalConfig struct {
	Emails         []string `yaml:"emails" toml:"emails"`
	ExternalLink   string   `yaml:"external_link" toml:"external_link"`
	AdditionalInfo string   `yaml:"additional_info" toml:"additional_info"`
}

type RedeployConfig struct {
	ProjectName   string   `yaml:"project_name" toml:"project_name"`
	BuildspecFile string   `yaml:"buildspec_file" toml:"buildspec_file"`
	Commands      []string `yaml:"commands" toml:"commands"`
}

type CodeDeployConfig struct {
	ApplicationName     string `yaml:"application_name" toml:"application_name"`
	DeploymentGroupName string `yaml:"deployment_group_name" toml:"deployment_group_name"`
	// DeploymentConfig is "one-at-a-time", "half-at-a-time" or "all-at-once".
	DeploymentConfig string            `yaml:"deployment_config" toml:"deployment_config"`
	InstanceTags     map[string]string `yaml:"instance_tags" toml:"instance_tags"`
}

type LambdaHandlerConfig struct {
	// AssetDir holds the compiled bootstrap binary; defaults to bin/lambda.
	AssetDir        string `yaml:"asset_dir" toml:"asset_dir"`
	ApplicationName string `yaml:"application_name" toml:"application_name"`
	MaxWaitSeconds  int    `yaml:"max_wait_seconds" toml:"max_wait_seconds"`
}

type MonitoringConfig struct {
	TopicName string   `yaml:"topic_name" toml:"topic_name"`
	Emails    []string `yaml:"emails" toml:"emails"`
}

// Load reads the configuration file at path, decoding TOML or YAML by
// extension. A missing file yields the defaults. Environment variables
// take precedence over file values.
func Load(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := decode(path, data, &cfg); err != nil {
			return Config{}, errors.Wrapf(err, "decoding %s", path)
		}
	case os.IsNotExist(err):
	default:
		return Config{}, errors.Wrapf(err, "reading %s", path)
	}
	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		md, err := toml.Decode(string(data), cfg)
		if err != nil {
			return err
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, 0, len(undecoded))
			for _, key := range undecoded {
				keys = append(keys, key.String())
			}
			return errors.Errorf("unknown keys %s", strings.Join(keys, ", "))
		}
		return nil
	case ".yaml", ".yml", "":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && err != io.EOF {
			return err
		}
		return nil
	default:
		return errors.Errorf("unsupported config format %q", filepath.Ext(path))
	}
}

// Default returns the configuration used when no file is present.
func Default() Config {
	var cfg Config
	applyDefaults(&cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	setDefault(&cfg.Project, "aws-codepipeline")
	setDefault(&cfg.StackName, "AwsCodepipelineStack")
	setDefault(&cfg.Region, "us-east-1")

	p := &cfg.Pipeline
	setDefault(&p.Name, "MyCodePipeline")
	if p.ManagedPolicies == nil {
		p.ManagedPolicies = []string{"AdministratorAccess"}
	}
	setDefault(&p.Stages.Source, "Source")
	setDefault(&p.Stages.Build, "Build")
	setDefault(&p.Stages.Deploy, "Deploy")
	setDefault(&p.ArtifactBucket.RemovalPolicy, "destroy")

	s := &cfg.Source
	setDefault(&s.Kind, SourceGitHub)
	setDefault(&s.GitHub.Owner, "your-github-username")
	setDefault(&s.GitHub.Repo, "your-repository")
	setDefault(&s.GitHub.Branch, "main")
	setDefault(&s.GitHub.SecretName, "github-token")
	setDefault(&s.GitHub.Trigger, "webhook")
	setDefault(&s.S3.Trigger, "poll")

	b := &cfg.Build
	setDefault(&b.ProjectName, p.Name+"Build")
	if b.BuildspecFile == "" {
		if len(b.InstallCommands) == 0 {
			b.InstallCommands = []string{"npm install"}
		}
		if len(b.BuildCommands) == 0 {
			b.BuildCommands = []string{"npm run build"}
		}
	}
	if len(b.ArtifactFiles) == 0 {
		b.ArtifactFiles = []string{"**/*"}
	}
	setDefault(&b.ComputeType, "small")
	if b.TimeoutMinutes == 0 {
		b.TimeoutMinutes = 15
	}

	d := &cfg.Deploy
	setDefault(&d.Kind, DeployCodeBuild)
	setDefault(&d.RoleName, p.Name+"DeployRole")
	setDefault(&d.CodeBuild.ProjectName, p.Name+"Redeploy")
	if d.CodeBuild.BuildspecFile == "" && len(d.CodeBuild.Commands) == 0 {
		d.CodeBuild.BuildspecFile = "deployspec.yml"
	}
	setDefault(&d.CodeDeploy.ApplicationName, p.Name+"App")
	setDefault(&d.CodeDeploy.DeploymentGroupName, p.Name+"DeploymentGroup")
	setDefault(&d.CodeDeploy.DeploymentConfig, "one-at-a-time")
	setDefault(&d.Lambda.ApplicationName, p.Name+"DeployHandler")
	if d.Lambda.MaxWaitSeconds == 0 {
		d.Lambda.MaxWaitSeconds = 600
	}

	setDefault(&cfg.Monitoring.TopicName, "pipeline-alarms")
}

func setDefault(field *string, value string) {
	if *field == "" {
		*field = value
	}
}
