// internal/common/aws/sns.go
package aws

import (
	"context"
	"encoding/json"
	"fmt"

	"propiq-billing/internal/common/logger"
	"propiq-billing/internal/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// Notifier announces committed subscription changes to downstream consumers.
type Notifier interface {
	SubscriptionChanged(ctx context.Context, ev models.SubscriptionChanged) error
}

// PublishAPI is the slice of the SNS client used here.
type PublishAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSNotifier publishes subscription changes to one SNS topic.
type SNSNotifier struct {
	client   PublishAPI
	topicARN string
	logger   logger.Logger
}

// NewSNSNotifier loads the default AWS credential chain for region.
func NewSNSNotifier(ctx context.Context, region, topicARN string, log logger.Logger) (*SNSNotifier, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, err
	}
	return NewSNSNotifierWithClient(sns.NewFromConfig(cfg), topicARN, log), nil
}

func NewSNSNotifierWithClient(client PublishAPI, topicARN string, log logger.Logger) *SNSNotifier {
	return &SNSNotifier{client: client, topicARN: topicARN, logger: log}
}

func (s *SNSNotifier) SubscriptionChanged(ctx context.Context, ev models.SubscriptionChanged) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal subscription change: %w", err)
	}

	out, err := s.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(s.topicARN),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"eventType": {DataType: aws.String("String"), StringValue: aws.String("subscription.changed")},
			"tier":      {DataType: aws.String("String"), StringValue: aws.String(string(ev.Tier))},
			"source":    {DataType: aws.String("String"), StringValue: aws.String(ev.Source)},
		},
	})
	if err != nil {
		return err
	}

	s.logger.Debug("subscription change published", map[string]interface{}{
		"userId":    ev.UserID,
		"messageId": aws.ToString(out.MessageId),
	})
	return nil
}

// NoopNotifier drops every notification. Used when SNS is disabled.
type NoopNotifier struct{}

func (NoopNotifier) SubscriptionChanged(context.Context, models.SubscriptionChanged) error {
	return nil
}
