package cloud

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/rs/zerolog/log"
)

type snsAPI interface {
	Publish(ctx context.Context, in *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSClient publishes operator alerts to an SNS topic.
type SNSClient struct {
	svc      snsAPI
	topicArn string
}

func NewSNSClient(ctx context.Context, region, topicArn string) (*SNSClient, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	return &SNSClient{
		svc:      sns.NewFromConfig(cfg),
		topicArn: topicArn,
	}, nil
}

func (c *SNSClient) SendAlert(ctx context.Context, subject, message string) error {
	input := &sns.PublishInput{
		TopicArn: aws.String(c.topicArn),
		Subject:  aws.String(subject),
		Message:  aws.String(message),
	}

	result, err := c.svc.Publish(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to publish to SNS: %w", err)
	}

	log.Info().Str("message_id", aws.ToString(result.MessageId)).Str("subject", subject).Msg("alert sent")
	return nil
}

// SendInverterOffline reports an inverter that has not answered since since.
func (c *SNSClient) SendInverterOffline(ctx context.Context, addr string, since time.Time, cause error) error {
	subject := "Solar inverter offline"
	message := fmt.Sprintf(
		"Solar Inverter Unreachable\n\n"+
			"Inverter: %s\n"+
			"Offline since: %s\n"+
			"Last error: %v\n\n"+
			"No solar samples are being recorded.",
		addr,
		since.UTC().Format(time.RFC3339),
		cause,
	)

	return c.SendAlert(ctx, subject, message)
}

func (c *SNSClient) SendInverterOnline(ctx context.Context, addr string, downtime time.Duration) error {
	subject := "Solar inverter back online"
	message := fmt.Sprintf(
		"Solar Inverter Recovered\n\n"+
			"Inverter: %s\n"+
			"Downtime: %s\n",
		addr,
		downtime.Round(time.Second),
	)

	return c.SendAlert(ctx, subject, message)
}
