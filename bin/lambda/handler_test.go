package main

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/codedeploy"
	"github.com/aws/aws-sdk-go-v2/service/codedeploy/types"
	"github.com/aws/aws-sdk-go-v2/service/codepipeline"
	cptypes "github.com/aws/aws-sdk-go-v2/service/codepipeline/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDeployments struct {
	createErr error
	created   []*codedeploy.CreateDeploymentInput
	statuses  []types.DeploymentStatus
	polls     int
}

func (f *fakeDeployments) CreateDeployment(_ context.Context, in *codedeploy.CreateDeploymentInput, _ ...func(*codedeploy.Options)) (*codedeploy.CreateDeploymentOutput, error) {
	f.created = append(f.created, in)
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &codedeploy.CreateDeploymentOutput{DeploymentId: aws.String("d-123")}, nil
}

func (f *fakeDeployments) GetDeployment(context.Context, *codedeploy.GetDeploymentInput, ...func(*codedeploy.Options)) (*codedeploy.GetDeploymentOutput, error) {
	status := types.DeploymentStatusInProgress
	if f.polls < len(f.statuses) {
		status = f.statuses[f.polls]
	}
	f.polls++
	return &codedeploy.GetDeploymentOutput{DeploymentInfo: &types.DeploymentInfo{Status: status}}, nil
}

type fakeJobs struct {
	successes []string
	failures  []*codepipeline.PutJobFailureResultInput
	err       error
}

func (f *fakeJobs) PutJobSuccessResult(ctx context.Context, in *codepipeline.PutJobSuccessResultInput, _ ...func(*codepipeline.Options)) (*codepipeline.PutJobSuccessResultOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.successes = append(f.successes, aws.ToString(in.JobId))
	return &codepipeline.PutJobSuccessResultOutput{}, f.err
}

func (f *fakeJobs) PutJobFailureResult(ctx context.Context, in *codepipeline.PutJobFailureResultInput, _ ...func(*codepipeline.Options)) (*codepipeline.PutJobFailureResultOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.failures = append(f.failures, in)
	return &codepipeline.PutJobFailureResultOutput{}, f.err
}

type fakeObjects struct {
	err error
}

func (f *fakeObjects) HeadObject(context.Context, *s3.HeadObjectInput, ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	return &s3.HeadObjectOutput{}, f.err
}

func testHandler(d *fakeDeployments, j *fakeJobs, o *fakeObjects) *Handler {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return &Handler{
		deployments:         d,
		jobs:                j,
		objects:             o,
		applicationName:     "OrdersApp",
		deploymentGroupName: "OrdersGroup",
		maxWait:             200 * time.Millisecond,
		pollInterval:        time.Millisecond,
		reportMargin:        20 * time.Millisecond,
		log:                 log,
	}
}

func jobEvent(id, bucket, key string) events.CodePipelineJobEvent {
	var event events.CodePipelineJobEvent
	event.CodePipelineJob.ID = id
	if bucket != "" {
		var artifact events.CodePipelineInputArtifact
		artifact.Name = "BuildArtifact"
		artifact.Location.S3Location.BucketName = bucket
		artifact.Location.S3Location.ObjectKey = key
		event.CodePipelineJob.Data.InputArtifacts = []events.CodePipelineInputArtifact{artifact}
	}
	return event
}

func TestHandle_Succeeds(t *testing.T) {
	d := &fakeDeployments{statuses: []types.DeploymentStatus{types.DeploymentStatusInProgress, types.DeploymentStatusSucceeded}}
	j := &fakeJobs{}

	err := testHandler(d, j, &fakeObjects{}).Handle(context.Background(), jobEvent("job-1", "artifacts", "Build/out.zip"))
	require.NoError(t, err)

	require.Len(t, d.created, 1)
	in := d.created[0]
	assert.Equal(t, "OrdersApp", aws.ToString(in.ApplicationName))
	assert.Equal(t, "OrdersGroup", aws.ToString(in.DeploymentGroupName))
	require.NotNil(t, in.Revision)
	assert.Equal(t, types.RevisionLocationTypeS3, in.Revision.RevisionType)
	assert.Equal(t, "artifacts", aws.ToString(in.Revision.S3Location.Bucket))
	assert.Equal(t, "Build/out.zip", aws.ToString(in.Revision.S3Location.Key))
	assert.Equal(t, types.BundleTypeZip, in.Revision.S3Location.BundleType)

	assert.Equal(t, 2, d.polls)
	assert.Equal(t, []string{"job-1"}, j.successes)
	assert.Empty(t, j.failures)
}

func TestHandle_MissingJobID(t *testing.T) {
	j := &fakeJobs{}
	err := testHandler(&fakeDeployments{}, j, &fakeObjects{}).Handle(context.Background(), jobEvent("", "", ""))

	assert.EqualError(t, err, "job ID not found in event")
	assert.Empty(t, j.failures)
	assert.Empty(t, j.successes)
}

func TestHandle_ReportsFailures(t *testing.T) {
	tests := []struct {
		name        string
		deployments *fakeDeployments
		objects     *fakeObjects
		target      func(h *Handler)
		wantMessage string
		wantCreated int
	}{
		{
			name:        "missing deployment target",
			deployments: &fakeDeployments{},
			objects:     &fakeObjects{},
			target:      func(h *Handler) { h.deploymentGroupName = "" },
			wantMessage: "missing deployment target",
		},
		{
			name:        "unreadable artifact",
			deployments: &fakeDeployments{},
			objects:     &fakeObjects{err: errors.New("access denied")},
			wantMessage: "input artifact is not readable: access denied",
		},
		{
			name:        "create fails",
			deployments: &fakeDeployments{createErr: errors.New("group not found")},
			objects:     &fakeObjects{},
			wantMessage: "failed to create deployment: group not found",
			wantCreated: 1,
		},
		{
			name:        "deployment failed",
			deployments: &fakeDeployments{statuses: []types.DeploymentStatus{types.DeploymentStatusFailed}},
			objects:     &fakeObjects{},
			wantMessage: "deployment d-123 ended with status Failed",
			wantCreated: 1,
		},
		{
			name:        "deployment stopped",
			deployments: &fakeDeployments{statuses: []types.DeploymentStatus{types.DeploymentStatusInProgress, types.DeploymentStatusStopped}},
			objects:     &fakeObjects{},
			wantMessage: "deployment d-123 ended with status Stopped",
			wantCreated: 1,
		},
		{
			name:        "times out",
			deployments: &fakeDeployments{},
			objects:     &fakeObjects{},
			wantMessage: "timed out waiting for deployment d-123",
			wantCreated: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := &fakeJobs{}
			h := testHandler(tt.deployments, j, tt.objects)
			if tt.target != nil {
				tt.target(h)
			}

			err := h.Handle(context.Background(), jobEvent("job-2", "artifacts", "Build/out.zip"))
			require.NoError(t, err, "a reported failure is not an invocation error")

			assert.Len(t, tt.deployments.created, tt.wantCreated)
			assert.Empty(t, j.successes)
			require.Len(t, j.failures, 1)
			failure := j.failures[0]
			assert.Equal(t, "job-2", aws.ToString(failure.JobId))
			require.NotNil(t, failure.FailureDetails)
			assert.Equal(t, cptypes.FailureTypeJobFailed, failure.FailureDetails.Type)
			assert.Contains(t, aws.ToString(failure.FailureDetails.Message), tt.wantMessage)
		})
	}
}

func TestHandle_NoArtifactDeploysWithoutRevision(t *testing.T) {
	d := &fakeDeployments{statuses: []types.DeploymentStatus{types.DeploymentStatusSucceeded}}
	j := &fakeJobs{}

	require.NoError(t, testHandler(d, j, &fakeObjects{}).Handle(context.Background(), jobEvent("job-3", "", "")))

	require.Len(t, d.created, 1)
	assert.Nil(t, d.created[0].Revision)
	assert.Equal(t, []string{"job-3"}, j.successes)
}

func TestHandle_ReportDeliveryErrorIsReturned(t *testing.T) {
	d := &fakeDeployments{statuses: []types.DeploymentStatus{types.DeploymentStatusSucceeded}}
	j := &fakeJobs{err: errors.New("throttled")}

	err := testHandler(d, j, &fakeObjects{}).Handle(context.Background(), jobEvent("job-4", "", ""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to report success to CodePipeline")
}

func TestMaxWaitFromEnv(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)

	t.Setenv("MAX_DEPLOYMENT_WAIT_TIME", "")
	assert.Equal(t, defaultMaxWait, maxWaitFromEnv(log))

	t.Setenv("MAX_DEPLOYMENT_WAIT_TIME", "600")
	assert.Equal(t, 10*time.Minute, maxWaitFromEnv(log))

	t.Setenv("MAX_DEPLOYMENT_WAIT_TIME", "soon")
	assert.Equal(t, defaultMaxWait, maxWaitFromEnv(log))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab", truncate("abc", 2))
	// "é" is two bytes; cutting inside it drops the whole rune.
	assert.Equal(t, "ab", truncate("abé", 3))
	assert.Equal(t, "abé", truncate("abéd", 4))
	assert.Equal(t, "", truncate("日本", 2))
}

func TestHandle_InvocationDeadlineStillReportsFailure(t *testing.T) {
	d := &fakeDeployments{}
	j := &fakeJobs{}
	h := testHandler(d, j, &fakeObjects{})
	h.maxWait = 10 * time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	require.NoError(t, h.Handle(ctx, jobEvent("job-5", "", "")))
	assert.Less(t, time.Since(start), time.Second)

	require.Len(t, j.failures, 1)
	assert.Contains(t, aws.ToString(j.failures[0].FailureDetails.Message), "timed out waiting for deployment d-123")
	assert.Empty(t, j.successes)
}

func TestHandle_CancelledInvocationStillReportsFailure(t *testing.T) {
	d := &fakeDeployments{}
	j := &fakeJobs{}
	h := testHandler(d, j, &fakeObjects{})
	h.maxWait = 10 * time.Second

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, h.Handle(ctx, jobEvent("job-6", "", "")))
	require.Len(t, j.failures, 1)
	assert.Equal(t, cptypes.FailureTypeJobFailed, j.failures[0].FailureDetails.Type)
}
