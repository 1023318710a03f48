package notifier

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/prohmpiriya/eventhub-booking/pkg/logger"
	"github.com/prohmpiriya/eventhub-booking/pkg/retry"
	"github.com/twilio/twilio-go"
	twclient "github.com/twilio/twilio-go/client"
	twapi "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"
)

// TwilioConfig holds Twilio SMS settings.
// BaseURL replaces the API origin, for regional edges or a local stub.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string
	BaseURL    string
	Timeout    time.Duration
}

// TwilioSMSNotifier texts booking confirmations through the Twilio SDK
type TwilioSMSNotifier struct {
	from   string
	client *twilio.RestClient
}

// NewTwilioSMSNotifier creates a new Twilio notifier
func NewTwilioSMSNotifier(cfg *TwilioConfig) (*TwilioSMSNotifier, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" || cfg.FromNumber == "" {
		return nil, fmt.Errorf("twilio account sid, auth token and from number are required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	httpClient := &http.Client{Timeout: timeout}
	if cfg.BaseURL != "" {
		origin, err := url.Parse(cfg.BaseURL)
		if err != nil || origin.Host == "" {
			return nil, fmt.Errorf("invalid twilio base url %q", cfg.BaseURL)
		}
		httpClient.Transport = &originTransport{origin: origin, next: http.DefaultTransport}
	}

	base := &twclient.Client{
		Credentials: twclient.NewCredentials(cfg.AccountSID, cfg.AuthToken),
		HTTPClient:  httpClient,
	}
	base.SetAccountSid(cfg.AccountSID)

	return &TwilioSMSNotifier{
		from:   cfg.FromNumber,
		client: twilio.NewRestClientWithParams(twilio.ClientParams{Client: base}),
	}, nil
}

// NotifyBookingConfirmed sends the confirmation SMS; buyers without a phone are skipped
func (n *TwilioSMSNotifier) NotifyBookingConfirmed(ctx context.Context, c Confirmation) error {
	if c.Phone == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	params := &twapi.CreateMessageParams{}
	params.SetTo(c.Phone)
	params.SetFrom(n.from)
	params.SetBody(fmt.Sprintf("Booking %s confirmed: %d ticket(s) for %s. Total %s.",
		c.BookingCode, c.NumberOfTickets, c.EventTitle, c.FormattedAmount()))

	msg, err := n.client.Api.CreateMessage(params)
	if err != nil {
		return classifyTwilioError(err)
	}

	sid := ""
	if msg.Sid != nil {
		sid = *msg.Sid
	}
	logger.Get().Info("confirmation sms sent",
		zap.String("booking_code", c.BookingCode),
		zap.String("sid", sid),
	)
	return nil
}

// classifyTwilioError marks client errors other than 429 as permanent
func classifyTwilioError(err error) error {
	var apiErr *twclient.TwilioRestError
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("twilio request failed: %w", err)
	}
	wrapped := fmt.Errorf("twilio returned %d (code %d): %s", apiErr.Status, apiErr.Code, apiErr.Message)
	if apiErr.Status >= 400 && apiErr.Status < 500 && apiErr.Status != http.StatusTooManyRequests {
		return retry.Permanent(wrapped)
	}
	return wrapped
}

// originTransport sends every request to origin, keeping the SDK's path
type originTransport struct {
	origin *url.URL
	next   http.RoundTripper
}

func (t *originTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	out.URL.Scheme = t.origin.Scheme
	out.URL.Host = t.origin.Host
	out.Host = t.origin.Host
	return t.next.RoundTrip(out)
}

var _ Notifier = (*TwilioSMSNotifier)(nil)
