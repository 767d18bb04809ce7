package main

import (
	"github.com/aws/aws-cdk-go/awscdk/v2"
	"github.com/aws/aws-cdk-go/awscdk/v2/awscloudwatch"
	"github.com/aws/aws-cdk-go/awscdk/v2/awscodedeploy"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsiam"
	"github.com/aws/aws-cdk-go/awscdk/v2/awslambda"
	"github.com/aws/jsii-runtime-go"
)

// createServerDeployment declares the EC2/on-premises deployment group that
// receives the build artifact. A nil role lets CDK create the service role.
func createServerDeployment(resources *PipelineResources, role awsiam.IRole) awscodedeploy.ServerDeploymentGroup {
	cfg := resources.cfg.Deploy.CodeDeploy

	app := awscodedeploy.NewServerApplication(resources.stack, jsii.String("ServerApplication"), &awscodedeploy.ServerApplicationProps{
		ApplicationName: jsii.String(cfg.ApplicationName),
	})

	props := &awscodedeploy.ServerDeploymentGroupProps{
		Application:         app,
		DeploymentGroupName: jsii.String(cfg.DeploymentGroupName),
		DeploymentConfig:    serverDeploymentConfig(cfg.DeploymentConfig),
		Role:                role,
		InstallAgent:        jsii.Bool(true),
		AutoRollback: &awscodedeploy.AutoRollbackConfig{
			FailedDeployment:  jsii.Bool(true),
			StoppedDeployment: jsii.Bool(true),
		},
	}
	if len(cfg.InstanceTags) > 0 {
		tags := map[string]*[]*string{}
		for key, value := range cfg.InstanceTags {
			tags[key] = jsii.Strings(value)
		}
		props.Ec2InstanceTags = awscodedeploy.NewInstanceTagSet(&tags)
	}

	return awscodedeploy.NewServerDeploymentGroup(resources.stack, jsii.String("ServerDeploymentGroup"), props)
}

func serverDeploymentConfig(name string) awscodedeploy.IServerDeploymentConfig {
	switch name {
	case "all-at-once":
		return awscodedeploy.ServerDeploymentConfig_ALL_AT_ONCE()
	case "half-at-a-time":
		return awscodedeploy.ServerDeploymentConfig_HALF_AT_A_TIME()
	default:
		return awscodedeploy.ServerDeploymentConfig_ONE_AT_A_TIME()
	}
}

// createCodeDeployResources shifts traffic to new versions of the deploy
// handler itself, rolling back when the handler starts erroring.
func createCodeDeployResources(resources *PipelineResources, lambdaAlias awslambda.Alias, lambdaFunction awslambda.Function) (awscodedeploy.LambdaApplication, awscodedeploy.LambdaDeploymentGroup) {
	codeDeployApp := awscodedeploy.NewLambdaApplication(resources.stack, jsii.String("DeployHandlerApplication"), &awscodedeploy.LambdaApplicationProps{
		ApplicationName: jsii.String(resources.cfg.Deploy.Lambda.ApplicationName),
	})

	lambdaErrorsAlarm := createLambdaErrorAlarm(resources.stack, lambdaFunction)
	notify(lambdaErrorsAlarm, resources.alarmTopic)
	deploymentGroup := createDeploymentGroup(resources.stack, codeDeployApp, lambdaAlias, lambdaErrorsAlarm)

	return codeDeployApp, deploymentGroup
}

func createDeploymentGroup(stack awscdk.Stack, app awscodedeploy.LambdaApplication,
	alias awslambda.Alias, errorAlarm awscloudwatch.IAlarm) awscodedeploy.LambdaDeploymentGroup {
	return awscodedeploy.NewLambdaDeploymentGroup(stack, jsii.String("DeployHandlerDeployment"),
		&awscodedeploy.LambdaDeploymentGroupProps{
			Application:      app,
			Alias:            alias,
			DeploymentConfig: awscodedeploy.LambdaDeploymentConfig_CANARY_10PERCENT_5MINUTES(),
			AutoRollback: &awscodedeploy.AutoRollbackConfig{
				FailedDeployment:  jsii.Bool(true),
				StoppedDeployment: jsii.Bool(true),
				DeploymentInAlarm: jsii.Bool(true),
			},
			Alarms: &[]awscloudwatch.IAlarm{errorAlarm},
		})
}
