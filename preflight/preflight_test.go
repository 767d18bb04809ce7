package preflight

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/codepipeline"
	cptypes "github.com/aws/aws-sdk-go-v2/service/codepipeline/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/aws/smithy-go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/30Piraten/codepipeline-stack/config"
)

type fakeSecrets struct {
	out *secretsmanager.DescribeSecretOutput
	err error
	ids []string
}

func (f *fakeSecrets) DescribeSecret(_ context.Context, in *secretsmanager.DescribeSecretInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.DescribeSecretOutput, error) {
	f.ids = append(f.ids, aws.ToString(in.SecretId))
	return f.out, f.err
}

type fakeObjects struct {
	out *s3.HeadObjectOutput
	err error
}

func (f *fakeObjects) HeadObject(context.Context, *s3.HeadObjectInput, ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	return f.out, f.err
}

type fakePipelines struct {
	out *codepipeline.GetPipelineOutput
	err error
}

func (f *fakePipelines) GetPipeline(context.Context, *codepipeline.GetPipelineInput, ...func(*codepipeline.Options)) (*codepipeline.GetPipelineOutput, error) {
	return f.out, f.err
}

func quietLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newChecker(secrets *fakeSecrets, objects *fakeObjects, pipelines *fakePipelines) *Checker {
	return &Checker{Secrets: secrets, Objects: objects, Pipelines: pipelines, Log: quietLogger()}
}

func TestRun_GitHubSourceAllGood(t *testing.T) {
	secrets := &fakeSecrets{out: &secretsmanager.DescribeSecretOutput{ARN: aws.String("arn:aws:secretsmanager:us-east-1:123456789012:secret:github-token-AbCdEf")}}
	pipelines := &fakePipelines{err: &cptypes.PipelineNotFoundException{Message: aws.String("not found")}}
	c := newChecker(secrets, &fakeObjects{}, pipelines)

	report := c.Run(context.Background(), config.Default())

	require.Len(t, report.Results, 2)
	assert.False(t, report.Failed())
	assert.Equal(t, []string{"github-token"}, secrets.ids)
	assert.Equal(t, "token secret", report.Results[0].Check)
	assert.Contains(t, report.Results[0].Message, "github-token-AbCdEf")
	assert.Equal(t, "will be created", report.Results[1].Message)
}

func TestRun_SecretProblems(t *testing.T) {
	tests := []struct {
		name    string
		secrets *fakeSecrets
		want    string
	}{
		{
			name:    "missing",
			secrets: &fakeSecrets{err: &smtypes.ResourceNotFoundException{Message: aws.String("nope")}},
			want:    "secret does not exist",
		},
		{
			name:    "scheduled for deletion",
			secrets: &fakeSecrets{out: &secretsmanager.DescribeSecretOutput{DeletedDate: aws.Time(time.Now())}},
			want:    "scheduled for deletion",
		},
		{
			name:    "access denied",
			secrets: &fakeSecrets{err: &smithy.GenericAPIError{Code: "AccessDeniedException", Message: "not allowed"}},
			want:    "AccessDeniedException: not allowed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pipelines := &fakePipelines{out: &codepipeline.GetPipelineOutput{}}
			report := newChecker(tt.secrets, &fakeObjects{}, pipelines).Run(context.Background(), config.Default())

			assert.True(t, report.Failed())
			assert.False(t, report.Results[0].OK)
			assert.Equal(t, tt.want, report.Results[0].Message)
		})
	}
}

func TestRun_S3Source(t *testing.T) {
	cfg := config.Default()
	cfg.Source.Kind = config.SourceS3
	cfg.Source.S3.Bucket = "sources"
	cfg.Source.S3.Key = "app/source.zip"

	pipelines := &fakePipelines{out: &codepipeline.GetPipelineOutput{
		Pipeline: &cptypes.PipelineDeclaration{Version: aws.Int32(4)},
	}}

	t.Run("object found", func(t *testing.T) {
		objects := &fakeObjects{out: &s3.HeadObjectOutput{ContentLength: aws.Int64(2048), VersionId: aws.String("v1")}}
		secrets := &fakeSecrets{}
		report := newChecker(secrets, objects, pipelines).Run(context.Background(), cfg)

		require.Len(t, report.Results, 2)
		assert.False(t, report.Failed())
		assert.Empty(t, secrets.ids, "s3 sources need no token secret")
		assert.Equal(t, "s3://sources/app/source.zip", report.Results[0].Target)
		assert.Equal(t, "found, 2048 bytes", report.Results[0].Message)
		assert.Equal(t, "will be updated (current version 4)", report.Results[1].Message)
	})

	t.Run("unversioned bucket is a warning", func(t *testing.T) {
		objects := &fakeObjects{out: &s3.HeadObjectOutput{ContentLength: aws.Int64(1)}}
		report := newChecker(&fakeSecrets{}, objects, pipelines).Run(context.Background(), cfg)

		assert.True(t, report.Results[0].OK)
		assert.Contains(t, report.Results[0].Message, "not versioned")
	})

	t.Run("object missing", func(t *testing.T) {
		objects := &fakeObjects{err: &s3types.NotFound{}}
		report := newChecker(&fakeSecrets{}, objects, pipelines).Run(context.Background(), cfg)

		assert.True(t, report.Failed())
		assert.Equal(t, "object does not exist", report.Results[0].Message)
	})

	t.Run("key unset", func(t *testing.T) {
		cfg := cfg
		cfg.Source.S3.Key = ""
		report := newChecker(&fakeSecrets{}, &fakeObjects{}, pipelines).Run(context.Background(), cfg)

		assert.True(t, report.Failed())
		assert.Equal(t, "bucket and key must both be set", report.Results[0].Message)
	})
}

func TestRun_PipelineLookupError(t *testing.T) {
	secrets := &fakeSecrets{out: &secretsmanager.DescribeSecretOutput{ARN: aws.String("arn")}}
	pipelines := &fakePipelines{err: &smithy.GenericAPIError{Code: "ThrottlingException", Message: "slow down"}}

	report := newChecker(secrets, &fakeObjects{}, pipelines).Run(context.Background(), config.Default())

	assert.True(t, report.Failed())
	assert.Equal(t, "ThrottlingException: slow down", report.Results[1].Message)
}
