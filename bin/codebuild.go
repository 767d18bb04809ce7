package main

import (
	"strings"

	"github.com/aws/aws-cdk-go/awscdk/v2"
	"github.com/aws/aws-cdk-go/awscdk/v2/awscloudwatch"
	"github.com/aws/aws-cdk-go/awscdk/v2/awscodebuild"
	"github.com/aws/aws-cdk-go/awscdk/v2/awscodepipeline"
	"github.com/aws/aws-cdk-go/awscdk/v2/awscodepipelineactions"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsiam"
	"github.com/aws/aws-cdk-go/awscdk/v2/awssecretsmanager"
	"github.com/aws/jsii-runtime-go"

	"github.com/30Piraten/codepipeline-stack/config"
	"github.com/30Piraten/codepipeline-stack/plan"
)

// CodeBuild related resources
func createCodeBuildResources(resources *PipelineResources) awscodebuild.PipelineProject {
	codeBuildRole := createCodeBuildRole(resources.stack, resources.githubSecret)
	codeBuildProject := createCodeBuildProject(resources, codeBuildRole)

	codeBuildAlarm := createCodeBuildAlarm(resources.stack, codeBuildProject)
	notify(codeBuildAlarm, resources.alarmTopic)

	return codeBuildProject
}

func createCodeBuildRole(stack awscdk.Stack, githubSecret awssecretsmanager.ISecret) awsiam.Role {
	role := awsiam.NewRole(stack, jsii.String("CodeBuildRole"), &awsiam.RoleProps{
		AssumedBy: awsiam.NewServicePrincipal(jsii.String("codebuild.amazonaws.com"), nil),
	})

	if githubSecret != nil {
		githubSecret.GrantRead(role, nil)
	}

	return role
}

func createCodeBuildProject(resources *PipelineResources, role awsiam.IRole) awscodebuild.PipelineProject {
	build := resources.cfg.Build

	return awscodebuild.NewPipelineProject(resources.stack, jsii.String("BuildProject"), &awscodebuild.PipelineProjectProps{
		ProjectName: resources.values.buildProjectName,
		BuildSpec:   buildSpec(build.BuildspecFile, build.InstallCommands, build.BuildCommands, build.ArtifactFiles),
		Role:        role,
		Environment: &awscodebuild.BuildEnvironment{
			ComputeType:          computeType(build.ComputeType),
			BuildImage:           awscodebuild.LinuxBuildImage_STANDARD_7_0(),
			EnvironmentVariables: buildEnvironment(build.Environment, tokenSecretRef(resources)),
		},
		Timeout: awscdk.Duration_Minutes(jsii.Number(float64(build.TimeoutMinutes))),
	})
}

// buildSpec reads the named file from the source when set, otherwise it
// declares the phases inline.
func buildSpec(file string, install, build, files []string) awscodebuild.BuildSpec {
	if file != "" {
		return awscodebuild.BuildSpec_FromSourceFilename(jsii.String(file))
	}

	phases := map[string]interface{}{}
	if len(install) > 0 {
		phases["install"] = map[string]interface{}{"commands": install}
	}
	if len(build) > 0 {
		phases["build"] = map[string]interface{}{"commands": build}
	}
	spec := map[string]interface{}{
		"version": "0.2",
		"phases":  phases,
	}
	if len(files) > 0 {
		spec["artifacts"] = map[string]interface{}{"files": files}
	}
	return awscodebuild.BuildSpec_FromObject(&spec)
}

// tokenSecretRef is the token secret's ARN, suffixed with the JSON key when
// one is set. CodeBuild also scopes its IAM policy to this value, so it must
// not be a bare name. Nil for S3 sources.
func tokenSecretRef(resources *PipelineResources) *string {
	if resources.githubSecret == nil {
		return nil
	}
	ref := *resources.githubSecret.SecretArn()
	if field := resources.cfg.Source.GitHub.SecretJSONField; field != "" {
		ref += ":" + field
	}
	return jsii.String(ref)
}

func buildEnvironment(plain map[string]string, secretRef *string) *map[string]*awscodebuild.BuildEnvironmentVariable {
	vars := map[string]*awscodebuild.BuildEnvironmentVariable{}

	for key, value := range plain {
		vars[key] = &awscodebuild.BuildEnvironmentVariable{
			Value: jsii.String(value),
			Type:  awscodebuild.BuildEnvironmentVariableType_PLAINTEXT,
		}
	}

	if secretRef != nil {
		vars["GITHUB_TOKEN"] = &awscodebuild.BuildEnvironmentVariable{
			Value: secretRef,
			Type:  awscodebuild.BuildEnvironmentVariableType_SECRETS_MANAGER,
		}
	}
	return &vars
}

func computeType(size string) awscodebuild.ComputeType {
	switch strings.ToLower(size) {
	case "medium":
		return awscodebuild.ComputeType_MEDIUM
	case "large":
		return awscodebuild.ComputeType_LARGE
	case "2xlarge":
		return awscodebuild.ComputeType_X2_LARGE
	default:
		return awscodebuild.ComputeType_SMALL
	}
}

func createCodeBuildAction(resources *PipelineResources, action plan.Action, project awscodebuild.IProject) awscodepipeline.IAction {
	props := &awscodepipelineactions.CodeBuildActionProps{
		ActionName: jsii.String(action.Name),
		Project:    project,
		Input:      resources.artifact(action.Inputs[0].Name),
	}
	if len(action.Outputs) > 0 {
		outputs := make([]awscodepipeline.Artifact, 0, len(action.Outputs))
		for _, out := range action.Outputs {
			outputs = append(outputs, resources.artifact(out.Name))
		}
		props.Outputs = &outputs
	}
	return awscodepipelineactions.NewCodeBuildAction(props)
}

func createCodeBuildAlarm(stack awscdk.Stack, project awscodebuild.IProject) awscloudwatch.Alarm {
	return failureAlarm(stack, "CodeBuildFailureAlarm", "Alert when CodeBuild project fails",
		awscloudwatch.NewMetric(&awscloudwatch.MetricProps{
			Namespace:  jsii.String("AWS/CodeBuild"),
			MetricName: jsii.String("FailedBuilds"),
			Statistic:  jsii.String("Sum"),
			Period:     awscdk.Duration_Minutes(jsii.Number(5)),
			DimensionsMap: &map[string]*string{
				"ProjectName": project.ProjectName(),
			},
			Unit: awscloudwatch.Unit_COUNT,
		}))
}

// redeployBuildSpec is the buildspec for the deploy stage's CodeBuild project.
func redeployBuildSpec(cfg config.RedeployConfig) awscodebuild.BuildSpec {
	return buildSpec(cfg.BuildspecFile, nil, cfg.Commands, nil)
}
