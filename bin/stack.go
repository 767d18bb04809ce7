package main

import (
	"github.com/aws/aws-cdk-go/awscdk/v2"
	"github.com/aws/aws-cdk-go/awscdk/v2/awscodepipeline"
	"github.com/aws/constructs-go/constructs/v10"

	"github.com/30Piraten/codepipeline-stack/config"
	"github.com/30Piraten/codepipeline-stack/plan"
)

type CodePipelineStackProps struct {
	awscdk.StackProps
	Config config.Config
	// Plan is the validated layout derived from Config.
	Plan *plan.Pipeline
}

func NewCodePipelineStack(scope constructs.Construct, id string, props *CodePipelineStackProps) awscdk.Stack {
	stack := initializeStack(scope, id, props)
	cfg := props.Config

	resources := &PipelineResources{
		stack:     stack,
		cfg:       cfg,
		plan:      props.Plan,
		values:    declareParameters(stack, cfg),
		artifacts: map[string]awscodepipeline.Artifact{},
	}

	if cfg.Source.Kind == config.SourceGitHub {
		resources.githubSecret = createGithubSecret(stack, resources.values.secretName)
	}
	resources.artifactBucket = createArtifactBucket(stack, cfg.Pipeline.ArtifactBucket)
	resources.alarmTopic = createMonitoringResources(stack, cfg.Monitoring)

	resources.buildProject = createCodeBuildResources(resources)
	createDeployResources(resources)

	pipeline := createPipelineResources(resources)
	createStackOutputs(resources, pipeline)

	applyTags(stack, cfg.Project)

	return stack
}
