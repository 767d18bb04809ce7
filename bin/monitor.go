package main

import (
	"github.com/aws/aws-cdk-go/awscdk/v2"
	"github.com/aws/aws-cdk-go/awscdk/v2/awscodepipeline"
	"github.com/aws/aws-cdk-go/awscdk/v2/awsevents"
	"github.com/aws/aws-cdk-go/awscdk/v2/awseventstargets"
	"github.com/aws/aws-cdk-go/awscdk/v2/awssns"
	"github.com/aws/aws-cdk-go/awscdk/v2/awssnssubscriptions"
	"github.com/aws/jsii-runtime-go"

	"github.com/30Piraten/codepipeline-stack/config"
)

// Monitoring resources
func createMonitoringResources(stack awscdk.Stack, cfg config.MonitoringConfig) awssns.ITopic {
	topic := awssns.NewTopic(stack, jsii.String("PipelineAlarmTopic"), &awssns.TopicProps{
		TopicName:   jsii.String(cfg.TopicName),
		DisplayName: jsii.String("Pipeline Alarms"),
	})

	for _, email := range cfg.Emails {
		topic.AddSubscription(awssnssubscriptions.NewEmailSubscription(jsii.String(email), nil))
	}

	return topic
}

// notifyOnPipelineFailure publishes failed executions to the alarm topic.
// CodePipeline emits no failure metric, so this listens for state changes.
func notifyOnPipelineFailure(pipeline awscodepipeline.Pipeline, topic awssns.ITopic) {
	pipeline.OnStateChange(jsii.String("PipelineFailed"), &awsevents.OnEventOptions{
		Description: jsii.String("Pipeline execution failed"),
		EventPattern: &awsevents.EventPattern{
			Detail: &map[string]interface{}{
				"state": []string{"FAILED"},
			},
		},
		Target: awseventstargets.NewSnsTopic(topic, nil),
	})
}
