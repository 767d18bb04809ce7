// Package plan describes the pipeline as plain descriptors: stages, actions
// and the artifacts passed between them. The stack code turns a Pipeline into
// CDK constructs; the CLI prints and validates it before anything is synthesized.
package plan

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"

	"github.com/30Piraten/codepipeline-stack/config"
)

// Artifact names shared by every layout.
const (
	SourceArtifact = "SourceArtifact"
	BuildArtifact  = "BuildArtifact"
)

// AccountPrincipal marks a role assumed from within the account, which is how
// the pipeline role takes on an action role.
const AccountPrincipal = "account"

type ActionKind string

const (
	GitHubSource     ActionKind = "github-source"
	S3Source         ActionKind = "s3-source"
	CodeBuild        ActionKind = "codebuild"
	CodeDeploy       ActionKind = "codedeploy"
	LambdaCodeDeploy ActionKind = "lambda-codedeploy"
	ManualApproval   ActionKind = "manual-approval"
)

// IsSource reports whether the action fetches source.
func (k ActionKind) IsSource() bool {
	return k == GitHubSource || k == S3Source
}

type StageKind string

const (
	SourceStage StageKind = "source"
	BuildStage  StageKind = "build"
	DeployStage StageKind = "deploy"
)

type Artifact struct {
	Name string
}

type Action struct {
	Name    string
	Kind    ActionKind
	Inputs  []Artifact
	Outputs []Artifact
	// Details holds the variant fields (owner, bucket, project...) for display.
	Details map[string]string
}

type Stage struct {
	Name    string
	Kind    StageKind
	Actions []Action
}

// Role is an IAM role together with the policies attached to it.
type Role struct {
	Name            string
	Principal       string
	ManagedPolicies []string
}

type Pipeline struct {
	Name       string
	Stages     []Stage
	Role       Role
	DeployRole Role

	// BuildProject names the CodeBuild project of the build stage.
	BuildProject string
	// HandlerWaitSeconds bounds how long the deploy handler polls a
	// deployment. Zero when there is no handler.
	HandlerWaitSeconds int
}

// FromConfig derives the pipeline layout from cfg.
func FromConfig(cfg config.Config) (*Pipeline, error) {
	source, err := sourceAction(cfg.Source)
	if err != nil {
		return nil, err
	}
	deploy, deployRole, err := deployAction(cfg.Deploy)
	if err != nil {
		return nil, err
	}
	deployRole.Name = cfg.Deploy.RoleName

	build := Action{
		Name:    "CodeBuild",
		Kind:    CodeBuild,
		Inputs:  artifacts(SourceArtifact),
		Outputs: artifacts(BuildArtifact),
		Details: map[string]string{"project": cfg.Build.ProjectName},
	}
	if cfg.Build.BuildspecFile != "" {
		build.Details["buildspec"] = cfg.Build.BuildspecFile
	}

	p := &Pipeline{
		Name: cfg.Pipeline.Name,
		Stages: []Stage{
			{Name: cfg.Pipeline.Stages.Source, Kind: SourceStage, Actions: []Action{source}},
			{Name: cfg.Pipeline.Stages.Build, Kind: BuildStage, Actions: []Action{build}},
			{Name: cfg.Pipeline.Stages.Deploy, Kind: DeployStage, Actions: []Action{deploy}},
		},
		Role: Role{
			Principal:       "codepipeline.amazonaws.com",
			ManagedPolicies: cfg.Pipeline.ManagedPolicies,
		},
		DeployRole:   deployRole,
		BuildProject: cfg.Build.ProjectName,
	}
	if deploy.Kind == LambdaCodeDeploy {
		p.HandlerWaitSeconds = cfg.Deploy.Lambda.MaxWaitSeconds
	}
	return p, nil
}

func sourceAction(cfg config.SourceConfig) (Action, error) {
	switch cfg.Kind {
	case config.SourceGitHub:
		details := map[string]string{
			"owner":   cfg.GitHub.Owner,
			"repo":    cfg.GitHub.Repo,
			"branch":  cfg.GitHub.Branch,
			"secret":  cfg.GitHub.SecretName,
			"trigger": cfg.GitHub.Trigger,
		}
		return Action{Name: "GitHub_Source", Kind: GitHubSource, Outputs: artifacts(SourceArtifact), Details: details}, nil
	case config.SourceS3:
		details := map[string]string{
			"bucket":  cfg.S3.Bucket,
			"key":     cfg.S3.Key,
			"trigger": cfg.S3.Trigger,
		}
		return Action{Name: "S3_Source", Kind: S3Source, Outputs: artifacts(SourceArtifact), Details: details}, nil
	default:
		return Action{}, errors.Errorf("unknown source kind %q", cfg.Kind)
	}
}

func deployAction(cfg config.DeployConfig) (Action, Role, error) {
	switch cfg.Kind {
	case config.DeployManualApproval:
		details := map[string]string{}
		if len(cfg.Approval.Emails) > 0 {
			details["notify"] = fmt.Sprint(cfg.Approval.Emails)
		}
		if cfg.Approval.ExternalLink != "" {
			details["link"] = cfg.Approval.ExternalLink
		}
		return Action{Name: "Approve", Kind: ManualApproval, Details: details},
			Role{Principal: AccountPrincipal}, nil
	case config.DeployCodeBuild:
		details := map[string]string{"project": cfg.CodeBuild.ProjectName}
		if cfg.CodeBuild.BuildspecFile != "" {
			details["buildspec"] = cfg.CodeBuild.BuildspecFile
		}
		return Action{Name: "Redeploy", Kind: CodeBuild, Inputs: artifacts(BuildArtifact), Details: details},
			Role{Principal: "codebuild.amazonaws.com"}, nil
	case config.DeployCodeDeploy:
		details := map[string]string{
			"application":      cfg.CodeDeploy.ApplicationName,
			"deployment-group": cfg.CodeDeploy.DeploymentGroupName,
			"config":           cfg.CodeDeploy.DeploymentConfig,
		}
		return Action{Name: "CodeDeploy", Kind: CodeDeploy, Inputs: artifacts(BuildArtifact), Details: details},
			Role{
				Principal:       "codedeploy.amazonaws.com",
				ManagedPolicies: []string{"service-role/AWSCodeDeployRole"},
			}, nil
	case config.DeployLambdaCodeDeploy:
		details := map[string]string{
			"application":      cfg.CodeDeploy.ApplicationName,
			"deployment-group": cfg.CodeDeploy.DeploymentGroupName,
			"max-wait":         fmt.Sprintf("%ds", cfg.Lambda.MaxWaitSeconds),
		}
		return Action{Name: "DeployLambda", Kind: LambdaCodeDeploy, Inputs: artifacts(BuildArtifact), Details: details},
			Role{Principal: AccountPrincipal}, nil
	default:
		return Action{}, Role{}, errors.Errorf("unknown deploy kind %q", cfg.Kind)
	}
}

func artifacts(names ...string) []Artifact {
	out := make([]Artifact, 0, len(names))
	for _, name := range names {
		out = append(out, Artifact{Name: name})
	}
	return out
}

// Artifacts returns every produced artifact in declaration order.
func (p *Pipeline) Artifacts() []Artifact {
	var out []Artifact
	for _, stage := range p.Stages {
		for _, action := range stage.Actions {
			out = append(out, action.Outputs...)
		}
	}
	return out
}

// Stage returns the first stage of the given kind.
func (p *Pipeline) Stage(kind StageKind) (Stage, bool) {
	for _, stage := range p.Stages {
		if stage.Kind == kind {
			return stage, true
		}
	}
	return Stage{}, false
}

// SortedDetails returns the detail keys of an action in stable order.
func (a Action) SortedDetails() []string {
	keys := make([]string, 0, len(a.Details))
	for key := range a.Details {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
