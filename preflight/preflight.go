// Package preflight runs read-only AWS checks before a deploy: the pieces the
// stack references but does not create must already exist.
package preflight

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/codepipeline"
	cptypes "github.com/aws/aws-sdk-go-v2/service/codepipeline/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/aws/smithy-go"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/30Piraten/codepipeline-stack/config"
)

// SecretDescriber reads secret metadata. It never needs the secret value.
type SecretDescriber interface {
	DescribeSecret(ctx context.Context, params *secretsmanager.DescribeSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DescribeSecretOutput, error)
}

type ObjectHeader interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

type PipelineGetter interface {
	GetPipeline(ctx context.Context, params *codepipeline.GetPipelineInput, optFns ...func(*codepipeline.Options)) (*codepipeline.GetPipelineOutput, error)
}

// Result is the outcome of one check.
type Result struct {
	Check   string
	Target  string
	OK      bool
	Message string
}

type Report struct {
	Results []Result
}

// Failed reports whether any check failed.
func (r Report) Failed() bool {
	for _, res := range r.Results {
		if !res.OK {
			return true
		}
	}
	return false
}

type Checker struct {
	Secrets   SecretDescriber
	Objects   ObjectHeader
	Pipelines PipelineGetter
	Log       logrus.FieldLogger
}

// NewChecker builds a Checker on the SDK clients for awsCfg.
func NewChecker(awsCfg aws.Config, log logrus.FieldLogger) *Checker {
	return &Checker{
		Secrets:   secretsmanager.NewFromConfig(awsCfg),
		Objects:   s3.NewFromConfig(awsCfg),
		Pipelines: codepipeline.NewFromConfig(awsCfg),
		Log:       log,
	}
}

// Run executes the checks that apply to cfg. Individual failures are
// recorded in the report rather than returned.
func (c *Checker) Run(ctx context.Context, cfg config.Config) Report {
	var report Report
	switch cfg.Source.Kind {
	case config.SourceGitHub:
		report.Results = append(report.Results, c.checkSecret(ctx, cfg.Source.GitHub.SecretName))
	case config.SourceS3:
		report.Results = append(report.Results, c.checkObject(ctx, cfg.Source.S3.Bucket, cfg.Source.S3.Key))
	}
	report.Results = append(report.Results, c.checkPipeline(ctx, cfg.Pipeline.Name))
	return report
}

func (c *Checker) checkSecret(ctx context.Context, name string) Result {
	res := Result{Check: "token secret", Target: name}
	c.Log.WithField("secret", name).Debug("describing secret")

	out, err := c.Secrets.DescribeSecret(ctx, &secretsmanager.DescribeSecretInput{
		SecretId: aws.String(name),
	})
	var notFound *smtypes.ResourceNotFoundException
	switch {
	case errors.As(err, &notFound):
		res.Message = "secret does not exist"
	case err != nil:
		res.Message = describeError(err)
	case out.DeletedDate != nil:
		res.Message = "secret is scheduled for deletion"
	default:
		res.OK = true
		res.Message = "found " + aws.ToString(out.ARN)
	}
	return res
}

func (c *Checker) checkObject(ctx context.Context, bucket, key string) Result {
	target := fmt.Sprintf("s3://%s/%s", bucket, key)
	res := Result{Check: "source object", Target: target}
	if bucket == "" || key == "" {
		res.Message = "bucket and key must both be set"
		return res
	}
	c.Log.WithField("object", target).Debug("heading source object")

	out, err := c.Objects.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	var notFound *s3types.NotFound
	switch {
	case errors.As(err, &notFound):
		res.Message = "object does not exist"
	case err != nil:
		res.Message = describeError(err)
	default:
		res.OK = true
		res.Message = fmt.Sprintf("found, %d bytes", aws.ToInt64(out.ContentLength))
		if out.VersionId == nil {
			res.Message += "; bucket is not versioned, polling will not detect changes"
		}
	}
	return res
}

func (c *Checker) checkPipeline(ctx context.Context, name string) Result {
	res := Result{Check: "pipeline", Target: name}
	c.Log.WithField("pipeline", name).Debug("looking up pipeline")

	out, err := c.Pipelines.GetPipeline(ctx, &codepipeline.GetPipelineInput{
		Name: aws.String(name),
	})
	var notFound *cptypes.PipelineNotFoundException
	switch {
	case errors.As(err, &notFound):
		res.OK = true
		res.Message = "will be created"
	case err != nil:
		res.Message = describeError(err)
	default:
		res.OK = true
		res.Message = "will be updated"
		if out.Pipeline != nil && out.Pipeline.Version != nil {
			res.Message = fmt.Sprintf("will be updated (current version %d)", aws.ToInt32(out.Pipeline.Version))
		}
	}
	return res
}

func describeError(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return fmt.Sprintf("%s: %s", apiErr.ErrorCode(), apiErr.ErrorMessage())
	}
	return err.Error()
}
