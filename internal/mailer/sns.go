package mailer

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// SNSAPI is the subset of *sns.Client used by SNSMailer.
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSMailer publishes alerts to a topic. The recipient travels as the "to"
// message attribute so email subscriptions can filter on it.
type SNSMailer struct {
	api      SNSAPI
	topicARN string
}

func NewSNSMailer(ctx context.Context, region, topicARN string) (*SNSMailer, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}
	return NewSNSMailerWithClient(sns.NewFromConfig(cfg), topicARN), nil
}

func NewSNSMailerWithClient(api SNSAPI, topicARN string) *SNSMailer {
	return &SNSMailer{api: api, topicARN: topicARN}
}

func (m *SNSMailer) SendEmail(ctx context.Context, e Email) error {
	if e.To == "" {
		return ErrNoRecipient
	}

	_, err := m.api.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(m.topicARN),
		Subject:  aws.String(e.Subject),
		Message:  aws.String(e.Text),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"to": {
				DataType:    aws.String("String"),
				StringValue: aws.String(e.To),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("sns publish to %s: %w", e.To, err)
	}
	return nil
}
