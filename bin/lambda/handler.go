package main

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/codedeploy"
	"github.com/aws/aws-sdk-go-v2/service/codedeploy/types"
	"github.com/aws/aws-sdk-go-v2/service/codepipeline"
	cptypes "github.com/aws/aws-sdk-go-v2/service/codepipeline/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type deploymentAPI interface {
	CreateDeployment(ctx context.Context, params *codedeploy.CreateDeploymentInput, optFns ...func(*codedeploy.Options)) (*codedeploy.CreateDeploymentOutput, error)
	GetDeployment(ctx context.Context, params *codedeploy.GetDeploymentInput, optFns ...func(*codedeploy.Options)) (*codedeploy.GetDeploymentOutput, error)
}

type jobResultAPI interface {
	PutJobSuccessResult(ctx context.Context, params *codepipeline.PutJobSuccessResultInput, optFns ...func(*codepipeline.Options)) (*codepipeline.PutJobSuccessResultOutput, error)
	PutJobFailureResult(ctx context.Context, params *codepipeline.PutJobFailureResultInput, optFns ...func(*codepipeline.Options)) (*codepipeline.PutJobFailureResultOutput, error)
}

type objectAPI interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Handler turns a CodePipeline job into a CodeDeploy deployment of the job's
// input artifact and reports the outcome back to the pipeline.
type Handler struct {
	deployments deploymentAPI
	jobs        jobResultAPI
	objects     objectAPI

	applicationName     string
	deploymentGroupName string
	maxWait             time.Duration
	pollInterval        time.Duration

	// reportMargin is kept free before the invocation deadline to deliver
	// the job result.
	reportMargin time.Duration

	log logrus.FieldLogger
}

func (h *Handler) Handle(ctx context.Context, event events.CodePipelineJobEvent) error {
	jobID := event.CodePipelineJob.ID
	if jobID == "" {
		h.log.Error("missing job id")
		return errors.New("job ID not found in event")
	}
	log := h.log.WithField("job", jobID)

	if h.applicationName == "" || h.deploymentGroupName == "" {
		return h.reportFailure(ctx, log, jobID, fmt.Sprintf(
			"missing deployment target: APPLICATION_NAME=%q DEPLOYMENT_GROUP_NAME=%q",
			h.applicationName, h.deploymentGroupName))
	}

	input := &codedeploy.CreateDeploymentInput{
		ApplicationName:     aws.String(h.applicationName),
		DeploymentGroupName: aws.String(h.deploymentGroupName),
		Description:         aws.String(fmt.Sprintf("Deployment triggered by CodePipeline job %s", jobID)),
	}

	if artifacts := event.CodePipelineJob.Data.InputArtifacts; len(artifacts) > 0 {
		location := artifacts[0].Location.S3Location
		log = log.WithFields(logrus.Fields{"bucket": location.BucketName, "key": location.ObjectKey})
		if location.BucketName != "" && location.ObjectKey != "" {
			if _, err := h.objects.HeadObject(ctx, &s3.HeadObjectInput{
				Bucket: aws.String(location.BucketName),
				Key:    aws.String(location.ObjectKey),
			}); err != nil {
				return h.reportFailure(ctx, log, jobID, fmt.Sprintf("input artifact is not readable: %v", err))
			}
			input.Revision = &types.RevisionLocation{
				RevisionType: types.RevisionLocationTypeS3,
				S3Location: &types.S3Location{
					Bucket:     aws.String(location.BucketName),
					Key:        aws.String(location.ObjectKey),
					BundleType: types.BundleTypeZip,
				},
			}
			log.Info("deploying input artifact")
		}
	} else {
		log.Warn("no input artifacts in event, deploying without a revision")
	}

	resp, err := h.deployments.CreateDeployment(ctx, input)
	if err != nil {
		return h.reportFailure(ctx, log, jobID, fmt.Sprintf("failed to create deployment: %v", err))
	}
	deploymentID := aws.ToString(resp.DeploymentId)
	log = log.WithField("deployment", deploymentID)
	log.Info("deployment created")

	if err := h.waitForDeployment(ctx, log, deploymentID); err != nil {
		return h.reportFailure(ctx, log, jobID, err.Error())
	}
	return h.reportSuccess(ctx, log, jobID)
}

// waitForDeployment polls until the deployment succeeds, fails, stops or the
// maximum wait elapses.
func (h *Handler) waitForDeployment(ctx context.Context, log logrus.FieldLogger, deploymentID string) error {
	wait := h.maxWait
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline) - h.reportMargin; left < wait {
			wait = left
		}
	}
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()

	for {
		result, err := h.deployments.GetDeployment(ctx, &codedeploy.GetDeploymentInput{
			DeploymentId: aws.String(deploymentID),
		})
		if err != nil {
			if ctx.Err() != nil {
				return errors.Errorf("timed out waiting for deployment %s", deploymentID)
			}
			return errors.Wrap(err, "failed to get deployment status")
		}

		var status types.DeploymentStatus
		if result.DeploymentInfo != nil {
			status = result.DeploymentInfo.Status
		}
		log.WithField("status", status).Debug("deployment status")

		switch status {
		case types.DeploymentStatusSucceeded:
			log.Info("deployment succeeded")
			return nil
		case types.DeploymentStatusFailed, types.DeploymentStatusStopped:
			return errors.Errorf("deployment %s ended with status %s", deploymentID, status)
		}

		select {
		case <-ctx.Done():
			return errors.Errorf("timed out waiting for deployment %s", deploymentID)
		case <-ticker.C:
		}
	}
}

// reportContext outlives the invocation's cancellation so the job result is
// still delivered after the wait ran out.
func reportContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), reportTimeout)
}

const reportTimeout = 10 * time.Second

func (h *Handler) reportSuccess(ctx context.Context, log logrus.FieldLogger, jobID string) error {
	ctx, cancel := reportContext(ctx)
	defer cancel()
	_, err := h.jobs.PutJobSuccessResult(ctx, &codepipeline.PutJobSuccessResultInput{
		JobId: aws.String(jobID),
	})
	if err != nil {
		return errors.Wrap(err, "failed to report success to CodePipeline")
	}
	log.Info("reported job success")
	return nil
}

// reportFailure marks the job failed. The invocation itself succeeds unless
// the report cannot be delivered, so Lambda does not retry a failed deploy.
func (h *Handler) reportFailure(ctx context.Context, log logrus.FieldLogger, jobID, message string) error {
	log.WithField("reason", message).Error("deployment failed")
	ctx, cancel := reportContext(ctx)
	defer cancel()
	_, err := h.jobs.PutJobFailureResult(ctx, &codepipeline.PutJobFailureResultInput{
		JobId: aws.String(jobID),
		FailureDetails: &cptypes.FailureDetails{
			Type:    cptypes.FailureTypeJobFailed,
			Message: aws.String(truncate(message, maxFailureMessage)),
		},
	})
	if err != nil {
		return errors.Wrap(err, "failed to report failure to CodePipeline")
	}
	return nil
}

// CodePipeline rejects failure messages longer than this.
const maxFailureMessage = 5000

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
