package main

import (
	"github.com/aws/aws-cdk-go/awscdk/v2"
	"github.com/aws/aws-cdk-go/awscdk/v2/awscodepipeline"
	"github.com/aws/aws-cdk-go/awscdk/v2/awscodepipelineactions"
	"github.com/aws/aws-cdk-go/awscdk/v2/awss3"
	"github.com/aws/jsii-runtime-go"

	"github.com/30Piraten/codepipeline-stack/plan"
)

func createGitHubSourceAction(resources *PipelineResources, action plan.Action) awscodepipeline.IAction {
	return awscodepipelineactions.NewGitHubSourceAction(&awscodepipelineactions.GitHubSourceActionProps{
		ActionName: jsii.String(action.Name),
		Owner:      resources.values.githubOwner,
		Repo:       resources.values.githubRepo,
		Branch:     resources.values.githubBranch,
		OauthToken: githubToken(resources),
		Output:     resources.artifact(action.Outputs[0].Name),
		Trigger:    githubTrigger(resources.cfg.Source.GitHub.Trigger),
	})
}

func githubToken(resources *PipelineResources) awscdk.SecretValue {
	if field := resources.cfg.Source.GitHub.SecretJSONField; field != "" {
		return resources.githubSecret.SecretValueFromJson(jsii.String(field))
	}
	return resources.githubSecret.SecretValue()
}

func githubTrigger(trigger string) awscodepipelineactions.GitHubTrigger {
	switch trigger {
	case "poll":
		return awscodepipelineactions.GitHubTrigger_POLL
	case "none":
		return awscodepipelineactions.GitHubTrigger_NONE
	default:
		return awscodepipelineactions.GitHubTrigger_WEBHOOK
	}
}

func createS3SourceAction(resources *PipelineResources, action plan.Action) awscodepipeline.IAction {
	s3cfg := resources.cfg.Source.S3
	bucket := awss3.Bucket_FromBucketName(resources.stack, jsii.String("SourceBucket"), jsii.String(s3cfg.Bucket))

	return awscodepipelineactions.NewS3SourceAction(&awscodepipelineactions.S3SourceActionProps{
		ActionName: jsii.String(action.Name),
		Bucket:     bucket,
		BucketKey:  jsii.String(s3cfg.Key),
		Output:     resources.artifact(action.Outputs[0].Name),
		Trigger:    s3Trigger(s3cfg.Trigger),
	})
}

func s3Trigger(trigger string) awscodepipelineactions.S3Trigger {
	switch trigger {
	case "events":
		return awscodepipelineactions.S3Trigger_EVENTS
	case "none":
		return awscodepipelineactions.S3Trigger_NONE
	default:
		return awscodepipelineactions.S3Trigger_POLL
	}
}
