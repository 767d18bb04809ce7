package main

import (
	"github.com/aws/aws-cdk-go/awscdk/v2/awscodebuild"
	"github.com/aws/aws-cdk-go/awscdk/v2/awscodepipeline"
	"github.com/aws/aws-cdk-go/awscdk/v2/awscodepipelineactions"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsiam"
	"github.com/aws/jsii-runtime-go"

	"github.com/30Piraten/codepipeline-stack/config"
	"github.com/30Piraten/codepipeline-stack/plan"
)

// Deploy stage resources. The deploy role is created for every kind; what
// assumes it depends on the kind.
func createDeployResources(resources *PipelineResources) {
	deployRole := createRole(resources.stack, "DeployRole", resources.plan.DeployRole, resources.values.deployRoleName)
	resources.deployRole = deployRole

	switch resources.cfg.Deploy.Kind {
	case config.DeployCodeBuild:
		resources.deployProject = createRedeployProject(resources, deployRole)
	case config.DeployCodeDeploy:
		resources.deploymentGroup = createServerDeployment(resources, deployRole)
	case config.DeployLambdaCodeDeploy:
		// The handler drives the server deployment group, which keeps its own
		// service role.
		resources.deploymentGroup = createServerDeployment(resources, nil)
		function, alias := createLambdaResources(resources)
		createCodeDeployResources(resources, alias, function)
		resources.deployHandler = alias
	}
}

func createRedeployProject(resources *PipelineResources, role awsiam.IRole) awscodebuild.PipelineProject {
	cfg := resources.cfg.Deploy.CodeBuild

	return awscodebuild.NewPipelineProject(resources.stack, jsii.String("RedeployProject"), &awscodebuild.PipelineProjectProps{
		ProjectName: jsii.String(cfg.ProjectName),
		BuildSpec:   redeployBuildSpec(cfg),
		Role:        role,
		Environment: &awscodebuild.BuildEnvironment{
			ComputeType: awscodebuild.ComputeType_SMALL,
			BuildImage:  awscodebuild.LinuxBuildImage_STANDARD_7_0(),
		},
	})
}

func createManualApprovalAction(resources *PipelineResources, action plan.Action) awscodepipeline.IAction {
	approval := resources.cfg.Deploy.Approval

	props := &awscodepipelineactions.ManualApprovalActionProps{
		ActionName:        jsii.String(action.Name),
		NotificationTopic: resources.alarmTopic,
		Role:              resources.deployRole,
	}
	if len(approval.Emails) > 0 {
		props.NotifyEmails = jsii.Strings(approval.Emails...)
	}
	if approval.ExternalLink != "" {
		props.ExternalEntityLink = jsii.String(approval.ExternalLink)
	}
	if approval.AdditionalInfo != "" {
		props.AdditionalInformation = jsii.String(approval.AdditionalInfo)
	}
	return awscodepipelineactions.NewManualApprovalAction(props)
}

func createCodeDeployAction(resources *PipelineResources, action plan.Action) awscodepipeline.IAction {
	return awscodepipelineactions.NewCodeDeployServerDeployAction(&awscodepipelineactions.CodeDeployServerDeployActionProps{
		ActionName:      jsii.String(action.Name),
		Input:           resources.artifact(action.Inputs[0].Name),
		DeploymentGroup: resources.deploymentGroup,
	})
}

func createLambdaInvokeAction(resources *PipelineResources, action plan.Action) awscodepipeline.IAction {
	inputs := make([]awscodepipeline.Artifact, 0, len(action.Inputs))
	for _, in := range action.Inputs {
		inputs = append(inputs, resources.artifact(in.Name))
	}

	return awscodepipelineactions.NewLambdaInvokeAction(&awscodepipelineactions.LambdaInvokeActionProps{
		ActionName: jsii.String(action.Name),
		Inputs:     &inputs,
		Lambda:     resources.deployHandler,
		Role:       resources.deployRole,
	})
}
