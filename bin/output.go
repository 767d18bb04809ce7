package main

import (
	"github.com/aws/aws-cdk-go/awscdk/v2"
	"github.com/aws/aws-cdk-go/awscdk/v2/awscodepipeline"
	"github.com/aws/jsii-runtime-go"
)

func createStackOutputs(resources *PipelineResources, pipeline awscodepipeline.Pipeline) {
	stack := resources.stack

	awscdk.NewCfnOutput(stack, jsii.String("PipelineNameOutput"), &awscdk.CfnOutputProps{
		Value:       pipeline.PipelineName(),
		Description: jsii.String("CodePipeline pipeline name"),
	})

	awscdk.NewCfnOutput(stack, jsii.String("CodeBuildProjectOutput"), &awscdk.CfnOutputProps{
		Value:       resources.buildProject.ProjectName(),
		Description: jsii.String("Build stage CodeBuild project"),
	})

	awscdk.NewCfnOutput(stack, jsii.String("ArtifactBucketOutput"), &awscdk.CfnOutputProps{
		Value:       resources.artifactBucket.BucketName(),
		Description: jsii.String("Bucket holding pipeline artifacts"),
	})

	awscdk.NewCfnOutput(stack, jsii.String("AlarmTopicOutput"), &awscdk.CfnOutputProps{
		Value:       resources.alarmTopic.TopicArn(),
		Description: jsii.String("SNS topic receiving pipeline alarms"),
	})

	if resources.deployHandler != nil {
		awscdk.NewCfnOutput(stack, jsii.String("DeployHandlerOutput"), &awscdk.CfnOutputProps{
			Value:       resources.deployHandler.FunctionName(),
			Description: jsii.String("Lambda invoked by the deploy stage"),
		})
	}
}
