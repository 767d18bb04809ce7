package main

import (
	"fmt"

	"github.com/aws/aws-cdk-go/awscdk/v2"
	"github.com/aws/aws-cdk-go/awscdk/v2/awscodepipeline"
	"github.com/aws/jsii-runtime-go"

	"github.com/30Piraten/codepipeline-stack/plan"
)

// Pipeline related resources
func createPipelineResources(resources *PipelineResources) awscodepipeline.Pipeline {
	pipelineRole := createRole(resources.stack, "CodePipelineRole", resources.plan.Role, nil)

	pipeline := awscodepipeline.NewPipeline(resources.stack, jsii.String("Pipeline"),
		&awscodepipeline.PipelineProps{
			PipelineName:     resources.values.pipelineName,
			ArtifactBucket:   resources.artifactBucket,
			Role:             pipelineRole,
			Stages:           createStages(resources),
			CrossAccountKeys: jsii.Bool(false),
		})

	overrideStageNames(resources, pipeline)
	notifyOnPipelineFailure(pipeline, resources.alarmTopic)

	return pipeline
}

func createStages(resources *PipelineResources) *[]*awscodepipeline.StageProps {
	stages := make([]*awscodepipeline.StageProps, 0, len(resources.plan.Stages))
	for _, stage := range resources.plan.Stages {
		actions := make([]awscodepipeline.IAction, 0, len(stage.Actions))
		for _, action := range stage.Actions {
			actions = append(actions, createAction(resources, stage.Kind, action))
		}

		stages = append(stages, &awscodepipeline.StageProps{
			StageName: jsii.String(stage.Name),
			Actions:   &actions,
		})
	}
	return &stages
}

// overrideStageNames swaps the configured stage names for their stack
// parameters. Stage names become construct IDs, so the L2 pipeline only ever
// sees literals and the parameters go onto the L1 resource.
func overrideStageNames(resources *PipelineResources, pipeline awscodepipeline.Pipeline) {
	cfn := pipeline.Node().DefaultChild().(awscodepipeline.CfnPipeline)
	for i, stage := range resources.plan.Stages {
		name, ok := resources.values.stageNames[stage.Kind]
		if !ok || !*awscdk.Token_IsUnresolved(name) {
			continue
		}
		cfn.AddPropertyOverride(jsii.String(fmt.Sprintf("Stages.%d.Name", i)), name)
	}
}

// createAction maps a plan action onto its CDK action. CodeBuild actions
// run the build project in the build stage and the redeploy project after it.
func createAction(resources *PipelineResources, stage plan.StageKind, action plan.Action) awscodepipeline.IAction {
	switch action.Kind {
	case plan.GitHubSource:
		return createGitHubSourceAction(resources, action)
	case plan.S3Source:
		return createS3SourceAction(resources, action)
	case plan.CodeBuild:
		if stage == plan.DeployStage {
			return createCodeBuildAction(resources, action, resources.deployProject)
		}
		return createCodeBuildAction(resources, action, resources.buildProject)
	case plan.CodeDeploy:
		return createCodeDeployAction(resources, action)
	case plan.LambdaCodeDeploy:
		return createLambdaInvokeAction(resources, action)
	case plan.ManualApproval:
		return createManualApprovalAction(resources, action)
	default:
		panic(fmt.Sprintf("unsupported action kind %q", action.Kind))
	}
}
