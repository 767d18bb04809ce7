package main

import (
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/aws/aws-cdk-go/awscdk/v2"
	"github.com/aws/aws-cdk-go/awscdk/v2/awscloudwatch"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsiam"
	"github.com/aws/aws-cdk-go/awscdk/v2/awslambda"
	"github.com/aws/aws-cdk-go/awscdk/v2/awss3assets"
	"github.com/aws/aws-cdk-go/awscdk/v2/awssqs"
	"github.com/aws/jsii-runtime-go"
)

// Lambda related resources
func createLambdaResources(resources *PipelineResources) (awslambda.Function, awslambda.Alias) {
	deadLetterQueue := createDeadLetterQueue(resources.stack)
	lambdaFunction := createLambdaFunction(resources, deadLetterQueue)

	lambdaAlias := awslambda.NewAlias(resources.stack, jsii.String("DeployHandlerAlias"), &awslambda.AliasProps{
		AliasName:   jsii.String("Live"),
		Description: jsii.String("Version invoked by the deploy stage"),
		Version:     lambdaFunction.CurrentVersion(),
	})

	configureLambdaIAM(resources, lambdaFunction)

	return lambdaFunction, lambdaAlias
}

func createDeadLetterQueue(stack awscdk.Stack) awssqs.IQueue {
	return awssqs.NewQueue(stack, jsii.String("DeployHandlerDLQ"), &awssqs.QueueProps{
		RetentionPeriod: awscdk.Duration_Days(jsii.Number(7)),
		Encryption:      awssqs.QueueEncryption_SQS_MANAGED,
		EnforceSSL:      jsii.Bool(true),
	})
}

// lambdaAssetDir is where the bootstrap binary is built, next to this file
// unless the config points elsewhere.
func lambdaAssetDir(configured string) string {
	if configured != "" {
		return configured
	}
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		panic("could not resolve the deploy handler directory")
	}
	return filepath.Join(filepath.Dir(filename), "lambda")
}

func createLambdaFunction(resources *PipelineResources, dlq awssqs.IQueue) awslambda.Function {
	cfg := resources.cfg.Deploy
	maxWait := cfg.Lambda.MaxWaitSeconds

	// The function has to outlive its own polling so it can still report back.
	timeout := maxWait + 60
	if timeout > 900 {
		timeout = 900
	}

	return awslambda.NewFunction(resources.stack, jsii.String("DeployHandler"), &awslambda.FunctionProps{
		Runtime:         awslambda.Runtime_PROVIDED_AL2023(),
		Handler:         jsii.String("bootstrap"),
		RetryAttempts:   jsii.Number(0),
		MemorySize:      jsii.Number(256),
		Timeout:         awscdk.Duration_Seconds(jsii.Number(float64(timeout))),
		Architecture:    awslambda.Architecture_X86_64(),
		DeadLetterQueue: dlq,
		CurrentVersionOptions: &awslambda.VersionOptions{
			RemovalPolicy: awscdk.RemovalPolicy_RETAIN,
			Description:   jsii.String("Automated Version"),
		},
		Code: awslambda.Code_FromAsset(jsii.String(lambdaAssetDir(cfg.Lambda.AssetDir)), &awss3assets.AssetOptions{}),
		Environment: &map[string]*string{
			"APPLICATION_NAME":         jsii.String(cfg.CodeDeploy.ApplicationName),
			"DEPLOYMENT_GROUP_NAME":    jsii.String(cfg.CodeDeploy.DeploymentGroupName),
			"MAX_DEPLOYMENT_WAIT_TIME": jsii.String(strconv.Itoa(maxWait)),
		},
		Tracing: awslambda.Tracing_ACTIVE,
	})
}

func createLambdaErrorAlarm(stack awscdk.Stack, lambdaFunction awslambda.Function) awscloudwatch.Alarm {
	return failureAlarm(stack, "DeployHandlerErrorsAlarm", "Alarm for deploy handler errors",
		lambdaFunction.MetricErrors(&awscloudwatch.MetricOptions{
			Statistic: jsii.String("Sum"),
			Period:    awscdk.Duration_Minutes(jsii.Number(1)),
		}))
}

// configureLambdaIAM lets the handler start and watch deployments, read the
// build artifact and report the job result.
func configureLambdaIAM(resources *PipelineResources, lambdaFunction awslambda.Function) {
	lambdaFunction.AddToRolePolicy(awsiam.NewPolicyStatement(&awsiam.PolicyStatementProps{
		Effect: awsiam.Effect_ALLOW,
		Actions: jsii.Strings(
			"codedeploy:CreateDeployment",
			"codedeploy:GetDeployment",
			"codedeploy:GetDeploymentConfig",
			"codedeploy:GetApplicationRevision",
			"codedeploy:RegisterApplicationRevision",
		),
		Resources: jsii.Strings("*"),
	}))

	// The job result calls carry no resource scope.
	lambdaFunction.AddToRolePolicy(awsiam.NewPolicyStatement(&awsiam.PolicyStatementProps{
		Effect: awsiam.Effect_ALLOW,
		Actions: jsii.Strings(
			"codepipeline:PutJobSuccessResult",
			"codepipeline:PutJobFailureResult",
		),
		Resources: jsii.Strings("*"),
	}))

	resources.artifactBucket.GrantRead(lambdaFunction, nil)
}
