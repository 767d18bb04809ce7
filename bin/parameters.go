package main

import (
	"github.com/aws/aws-cdk-go/awscdk/v2"
	"github.com/aws/jsii-runtime-go"

	"github.com/30Piraten/codepipeline-stack/config"
	"github.com/30Piraten/codepipeline-stack/plan"
)

// stackValues holds the names supplied at deploy time. Each field is either a
// CloudFormation parameter reference or, for literal stacks, the plain value.
type stackValues struct {
	pipelineName     *string
	stageNames       map[plan.StageKind]*string
	buildProjectName *string
	deployRoleName   *string
	githubOwner      *string
	githubRepo       *string
	githubBranch     *string
	secretName       *string
}

type parameterSpec struct {
	id          string
	value       string
	description string
	pattern     string
	maxLength   float64
}

func declareParameters(stack awscdk.Stack, cfg config.Config) *stackValues {
	declare := func(spec parameterSpec) *string {
		if cfg.Literal {
			return jsii.String(spec.value)
		}
		props := &awscdk.CfnParameterProps{
			Type:        jsii.String("String"),
			Default:     jsii.String(spec.value),
			Description: jsii.String(spec.description),
			MinLength:   jsii.Number(1),
		}
		if spec.pattern != "" {
			props.AllowedPattern = jsii.String("^" + spec.pattern + "$")
			props.ConstraintDescription = jsii.String("must match " + spec.pattern)
		}
		if spec.maxLength > 0 {
			props.MaxLength = jsii.Number(spec.maxLength)
		}
		return awscdk.NewCfnParameter(stack, jsii.String(spec.id), props).ValueAsString()
	}

	stages := cfg.Pipeline.Stages
	values := &stackValues{
		pipelineName: declare(parameterSpec{
			id: "PipelineName", value: cfg.Pipeline.Name,
			description: "Name of the CodePipeline pipeline",
			pattern:     plan.NamePattern, maxLength: 100,
		}),
		stageNames: map[plan.StageKind]*string{
			plan.SourceStage: declare(parameterSpec{
				id: "SourceStageName", value: stages.Source,
				description: "Name of the source stage",
				pattern:     plan.NamePattern, maxLength: 100,
			}),
			plan.BuildStage: declare(parameterSpec{
				id: "BuildStageName", value: stages.Build,
				description: "Name of the build stage",
				pattern:     plan.NamePattern, maxLength: 100,
			}),
			plan.DeployStage: declare(parameterSpec{
				id: "DeployStageName", value: stages.Deploy,
				description: "Name of the deploy stage",
				pattern:     plan.NamePattern, maxLength: 100,
			}),
		},
		buildProjectName: declare(parameterSpec{
			id: "BuildProjectName", value: cfg.Build.ProjectName,
			description: "Name of the CodeBuild project run by the build stage",
			pattern:     plan.ProjectNamePattern, maxLength: 255,
		}),
		deployRoleName: declare(parameterSpec{
			id: "DeployRoleName", value: cfg.Deploy.RoleName,
			description: "Name of the IAM role used by the deploy stage",
			pattern:     plan.RoleNamePattern, maxLength: 64,
		}),
	}

	if cfg.Source.Kind == config.SourceGitHub {
		gh := cfg.Source.GitHub
		values.githubOwner = declare(parameterSpec{
			id: "GitHubOwner", value: gh.Owner,
			description: "GitHub user or organization owning the repository",
		})
		values.githubRepo = declare(parameterSpec{
			id: "GitHubRepo", value: gh.Repo,
			description: "GitHub repository name",
		})
		values.githubBranch = declare(parameterSpec{
			id: "GitHubBranch", value: gh.Branch,
			description: "Branch that triggers the pipeline",
		})
		values.secretName = declare(parameterSpec{
			id: "GitHubTokenSecretName", value: gh.SecretName,
			description: "Secrets Manager secret holding the GitHub OAuth token",
		})
	}
	return values
}
