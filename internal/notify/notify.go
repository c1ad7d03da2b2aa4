// Package notify sends crisis SMS notifications via the Twilio API when
// Emergency Escalation activates for a user with a registered emergency
// contact. Sending is strictly best-effort: callers log failures and never
// block the escalation path on delivery.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/SteadyPath/CoachPipe/internal/models"
)

// Opts holds configuration options for the Twilio notifier.
type Opts struct {
	AccountSID string
	AuthToken  string
	FromNumber string
}

// Option defines a configuration option for the Twilio notifier.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFromNumber sets the sending phone number.
func WithFromNumber(from string) Option {
	return func(o *Opts) { o.FromNumber = from }
}

// Notifier sends SMS crisis notifications through Twilio.
type Notifier struct {
	client *twilio.RestClient
	from   string
}

// NewNotifier creates a Twilio-backed notifier. Credentials fall back to the
// TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN, and TWILIO_FROM_NUMBER environment
// variables when not provided via options.
func NewNotifier(opts ...Option) (*Notifier, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.FromNumber == "" {
		cfg.FromNumber = os.Getenv("TWILIO_FROM_NUMBER")
	}
	slog.Debug("Twilio notifier config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"FromNumber_set", cfg.FromNumber != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.FromNumber == "" {
		return nil, fmt.Errorf("from number must be provided")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &Notifier{client: client, from: cfg.FromNumber}, nil
}

// NotifyEmergencyContact sends the crisis SMS to the user's registered
// emergency contact. The message deliberately carries no journal or chat
// content, only that the user may need support.
func (n *Notifier) NotifyEmergencyContact(ctx context.Context, userID, contact string, severity models.Severity) error {
	body := "Someone who listed you as their emergency contact may be going through a crisis and could use your support. Please reach out to them when you can."
	if severity == models.SeverityCritical {
		body = "Someone who listed you as their emergency contact may be in crisis right now. Please check on them as soon as possible. If you believe they are in immediate danger, call 911."
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(contact)
	params.SetFrom(n.from)
	params.SetBody(body)

	if _, err := n.client.Api.CreateMessage(params); err != nil {
		slog.Error("Twilio notifier send failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to send crisis SMS: %w", err)
	}
	slog.Info("Twilio crisis notification sent", "userID", userID)
	return nil
}
