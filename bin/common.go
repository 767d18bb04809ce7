package main

import (
	"github.com/aws/aws-cdk-go/awscdk/v2"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsiam"
	"github.com/aws/aws-cdk-go/awscdk/v2/awss3"
	"github.com/aws/aws-cdk-go/awscdk/v2/awssecretsmanager"
	"github.com/aws/constructs-go/constructs/v10"
	"github.com/aws/jsii-runtime-go"

	"github.com/30Piraten/codepipeline-stack/config"
	"github.com/30Piraten/codepipeline-stack/plan"
)

func initializeStack(scope constructs.Construct, id string, props *CodePipelineStackProps) awscdk.Stack {
	sprops := props.StackProps

	// The synthesizer has to be set before the stack exists.
	if props.Config.Qualifier != "" {
		sprops.Synthesizer = awscdk.NewDefaultStackSynthesizer(&awscdk.DefaultStackSynthesizerProps{
			Qualifier: jsii.String(props.Config.Qualifier),
		})
	}
	if sprops.Description == nil {
		sprops.Description = jsii.String(stackDescription(props.Config))
	}

	return awscdk.NewStack(scope, &id, &sprops)
}

// stackDescription names the pipeline only when the name cannot be
// overridden by the PipelineName parameter.
func stackDescription(cfg config.Config) string {
	if cfg.Literal {
		return "CodePipeline " + cfg.Pipeline.Name + " with source, build and deploy stages"
	}
	return "CodePipeline with source, build and deploy stages for " + cfg.Project
}

func createGithubSecret(stack awscdk.Stack, secretName *string) awssecretsmanager.ISecret {
	return awssecretsmanager.Secret_FromSecretNameV2(stack,
		jsii.String("GitHubTokenSecret"),
		secretName)
}

func createArtifactBucket(stack awscdk.Stack, cfg config.BucketConfig) awss3.IBucket {
	props := &awss3.BucketProps{
		Encryption:        awss3.BucketEncryption_S3_MANAGED,
		BlockPublicAccess: awss3.BlockPublicAccess_BLOCK_ALL(),
		EnforceSSL:        jsii.Bool(true),
		Versioned:         jsii.Bool(true),
		RemovalPolicy:     awscdk.RemovalPolicy_RETAIN,
	}
	if cfg.Name != "" {
		props.BucketName = jsii.String(cfg.Name)
	}
	if cfg.RemovalPolicy == "destroy" {
		props.RemovalPolicy = awscdk.RemovalPolicy_DESTROY
		props.AutoDeleteObjects = jsii.Bool(true)
	}
	return awss3.NewBucket(stack, jsii.String("PipelineArtifactBucket"), props)
}

// createRole declares an IAM role for role, named name when name is set.
func createRole(stack awscdk.Stack, id string, role plan.Role, name *string) awsiam.Role {
	var principal awsiam.IPrincipal
	if role.Principal == plan.AccountPrincipal {
		principal = awsiam.NewAccountRootPrincipal()
	} else {
		principal = awsiam.NewServicePrincipal(jsii.String(role.Principal), nil)
	}

	policies := make([]awsiam.IManagedPolicy, 0, len(role.ManagedPolicies))
	for _, policy := range role.ManagedPolicies {
		policies = append(policies, awsiam.ManagedPolicy_FromAwsManagedPolicyName(jsii.String(policy)))
	}

	return awsiam.NewRole(stack, jsii.String(id), &awsiam.RoleProps{
		AssumedBy:       principal,
		RoleName:        name,
		ManagedPolicies: &policies,
	})
}

func applyTags(stack awscdk.Stack, project string) {
	awscdk.Tags_Of(stack).Add(jsii.String("Project"), jsii.String(project), nil)
	awscdk.Tags_Of(stack).Add(jsii.String("ManagedBy"), jsii.String("cdk"), nil)
}
