package notifier

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/prohmpiriya/eventhub-booking/pkg/logger"
	"github.com/prohmpiriya/eventhub-booking/pkg/retry"
	"go.uber.org/zap"
)

// SESAPI is the subset of the SES client used for sending
type SESAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESConfig holds AWS SES settings
type SESConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	FromAddress     string
	FromName        string
}

// SESEmailNotifier emails booking confirmations through AWS SES
type SESEmailNotifier struct {
	client      SESAPI
	fromAddress string
	fromName    string
}

// NewSESEmailNotifier builds an SES client with static credentials
func NewSESEmailNotifier(cfg *SESConfig) (*SESEmailNotifier, error) {
	if cfg.FromAddress == "" {
		return nil, fmt.Errorf("ses from address is required")
	}

	awsCfg := aws.Config{
		Region: cfg.Region,
		Credentials: aws.NewCredentialsCache(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		),
	}

	return NewSESEmailNotifierWithClient(ses.NewFromConfig(awsCfg), cfg.FromAddress, cfg.FromName), nil
}

// NewSESEmailNotifierWithClient creates a notifier around an existing client
func NewSESEmailNotifierWithClient(client SESAPI, fromAddress, fromName string) *SESEmailNotifier {
	return &SESEmailNotifier{client: client, fromAddress: fromAddress, fromName: fromName}
}

// NotifyBookingConfirmed sends the confirmation email; buyers without an email are skipped
func (n *SESEmailNotifier) NotifyBookingConfirmed(ctx context.Context, c Confirmation) error {
	if c.Email == "" {
		return nil
	}

	msg, err := renderEmail("booking_confirmed", c)
	if err != nil {
		return retry.Permanent(fmt.Errorf("failed to render confirmation email: %w", err))
	}

	source := n.fromAddress
	if n.fromName != "" {
		source = fmt.Sprintf("%s <%s>", n.fromName, n.fromAddress)
	}

	input := &ses.SendEmailInput{
		Source: aws.String(source),
		Destination: &types.Destination{
			ToAddresses: []string{c.Email},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
			Body: &types.Body{
				Html: &types.Content{Data: aws.String(msg.HTML), Charset: aws.String("UTF-8")},
				Text: &types.Content{Data: aws.String(msg.Text), Charset: aws.String("UTF-8")},
			},
		},
	}

	result, err := n.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to send email via SES: %w", err)
	}

	logger.Get().Info("confirmation email sent",
		zap.String("booking_code", c.BookingCode),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)
	return nil
}

var _ Notifier = (*SESEmailNotifier)(nil)
