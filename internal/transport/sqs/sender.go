// Package sqs implements a BatchSender that publishes event batches to an
// SQS queue instead of the HTTP batch endpoint. Server-side deployments
// that already route telemetry through SQS plug this in via
// Config.SQS.Enabled.
package sqs

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"go.uber.org/zap"

	"github.com/mfclarke-cnx/posthog-go/internal/config"
	"github.com/mfclarke-cnx/posthog-go/internal/event"
)

// Sender publishes event batches as single SQS messages.
type Sender struct {
	client *awssqs.Client
	config config.SQS
	log    *zap.Logger
}

// NewSender creates the SQS client. A non-empty Endpoint switches to
// static dummy credentials for local development against ElasticMQ.
func NewSender(ctx context.Context, sqsConfig config.SQS, log *zap.Logger) (*Sender, error) {
	configOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(sqsConfig.Region),
	}

	var clientOpts []func(*awssqs.Options)

	if sqsConfig.Endpoint != "" {
		log.Info("Configuring SQS for local development",
			zap.String("endpoint", sqsConfig.Endpoint))
		configOpts = append(configOpts,
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("dummy", "dummy", "")))

		clientOpts = append(clientOpts, func(o *awssqs.Options) {
			o.BaseEndpoint = aws.String(sqsConfig.Endpoint)
		})
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	log.Info("SQS sender created",
		zap.String("region", sqsConfig.Region),
		zap.String("queue_url", sqsConfig.QueueURL))

	return &Sender{
		client: awssqs.NewFromConfig(cfg, clientOpts...),
		config: sqsConfig,
		log:    log,
	}, nil
}

type batchMessage struct {
	Batch []*event.Event `json:"batch"`
}

// SendBatch implements transport.BatchSender.
func (s *Sender) SendBatch(ctx context.Context, events []*event.Event) error {
	if len(events) == 0 {
		return nil
	}

	bodyJSON, err := json.Marshal(batchMessage{Batch: events})
	if err != nil {
		return fmt.Errorf("failed to marshal batch: %w", err)
	}

	_, err = s.client.SendMessage(ctx, &awssqs.SendMessageInput{
		QueueUrl:    aws.String(s.config.QueueURL),
		MessageBody: aws.String(string(bodyJSON)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"EventCount": {
				DataType:    aws.String("Number"),
				StringValue: aws.String(strconv.Itoa(len(events))),
			},
		},
	})
	if err != nil {
		s.log.Error("Failed to send batch to SQS",
			zap.Int("event_count", len(events)),
			zap.Error(err))
		return fmt.Errorf("failed to send batch to SQS: %w", err)
	}

	s.log.Debug("Batch published to SQS",
		zap.Int("event_count", len(events)))
	return nil
}
