package aws

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"propiq-billing/internal/common/logger"
	"propiq-billing/internal/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSNS struct {
	input *sns.PublishInput
	err   error
}

func (f *fakeSNS) Publish(_ context.Context, in *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &sns.PublishOutput{MessageId: aws.String("msg-1")}, nil
}

func TestSNSNotifier_SubscriptionChanged(t *testing.T) {
	client := &fakeSNS{}
	n := NewSNSNotifierWithClient(client, "arn:aws:sns:us-east-1:123:billing", logger.NewTestLogger(t))

	err := n.SubscriptionChanged(context.Background(), models.SubscriptionChanged{
		UserID: "user-1", Source: "webhook", Tier: models.TierPro, Status: models.StatusActive, AnalysesLimit: 100,
	})
	require.NoError(t, err)

	require.NotNil(t, client.input)
	assert.Equal(t, "arn:aws:sns:us-east-1:123:billing", aws.ToString(client.input.TopicArn))
	assert.Equal(t, "pro", aws.ToString(client.input.MessageAttributes["tier"].StringValue))

	var body models.SubscriptionChanged
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(client.input.Message)), &body))
	assert.Equal(t, "user-1", body.UserID)
	assert.Equal(t, 100, body.AnalysesLimit)
}

func TestSNSNotifier_PublishError(t *testing.T) {
	client := &fakeSNS{err: errors.New("throttled")}
	n := NewSNSNotifierWithClient(client, "arn", logger.NewNoOpLogger())

	err := n.SubscriptionChanged(context.Background(), models.SubscriptionChanged{UserID: "user-1"})
	assert.EqualError(t, err, "throttled")
}
