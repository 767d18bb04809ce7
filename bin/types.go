package main

import (
	"github.com/aws/aws-cdk-go/awscdk/v2"
	"github.com/aws/aws-cdk-go/awscdk/v2/awscodebuild"
	"github.com/aws/aws-cdk-go/awscdk/v2/awscodedeploy"
	"github.com/aws/aws-cdk-go/awscdk/v2/awscodepipeline"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsiam"
	"github.com/aws/aws-cdk-go/awscdk/v2/awslambda"
	"github.com/aws/aws-cdk-go/awscdk/v2/awss3"
	"github.com/aws/aws-cdk-go/awscdk/v2/awssecretsmanager"
	"github.com/aws/aws-cdk-go/awscdk/v2/awssns"

	"github.com/30Piraten/codepipeline-stack/config"
	"github.com/30Piraten/codepipeline-stack/plan"
)

type PipelineResources struct {
	stack  awscdk.Stack
	cfg    config.Config
	plan   *plan.Pipeline
	values *stackValues

	githubSecret   awssecretsmanager.ISecret // nil for S3 sources
	artifactBucket awss3.IBucket
	alarmTopic     awssns.ITopic
	artifacts      map[string]awscodepipeline.Artifact

	buildProject    awscodebuild.IProject
	deployRole      awsiam.IRole
	deployProject   awscodebuild.IProject
	deploymentGroup awscodedeploy.IServerDeploymentGroup
	deployHandler   awslambda.IFunction
}

// artifact returns the pipeline artifact with the given name, declaring it
// on first use so producer and consumers share one handle.
func (r *PipelineResources) artifact(name string) awscodepipeline.Artifact {
	if a, ok := r.artifacts[name]; ok {
		return a
	}
	a := awscodepipeline.NewArtifact(&name)
	r.artifacts[name] = a
	return a
}
