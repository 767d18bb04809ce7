package main

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/codedeploy"
	"github.com/aws/aws-sdk-go-v2/service/codepipeline"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"

	"github.com/30Piraten/codepipeline-stack/config"
)

const (
	defaultMaxWait = 5 * time.Minute
	pollInterval   = 15 * time.Second
	reportMargin   = 15 * time.Second
)

func newHandler(ctx context.Context, log *logrus.Logger) (*Handler, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}

	h := &Handler{
		deployments:  codedeploy.NewFromConfig(cfg),
		jobs:         codepipeline.NewFromConfig(cfg),
		objects:      s3.NewFromConfig(cfg),
		maxWait:      maxWaitFromEnv(log),
		pollInterval: pollInterval,
		reportMargin: reportMargin,
		log:          log,
	}

	// Missing names are reported per job, so the pipeline shows why it failed.
	if h.applicationName, err = config.Require("APPLICATION_NAME"); err != nil {
		log.WithError(err).Warn("deployment target incomplete")
	}
	if h.deploymentGroupName, err = config.Require("DEPLOYMENT_GROUP_NAME"); err != nil {
		log.WithError(err).Warn("deployment target incomplete")
	}
	return h, nil
}

func maxWaitFromEnv(log logrus.FieldLogger) time.Duration {
	raw := os.Getenv("MAX_DEPLOYMENT_WAIT_TIME")
	if raw == "" {
		return defaultMaxWait
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds <= 0 {
		log.WithField("value", raw).Warn("invalid MAX_DEPLOYMENT_WAIT_TIME, using default")
		return defaultMaxWait
	}
	return time.Duration(seconds) * time.Second
}

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetOutput(os.Stdout)

	h, err := newHandler(context.Background(), log)
	if err != nil {
		log.WithError(err).Fatal("failed to load AWS config")
	}
	lambda.Start(h.Handle)
}
