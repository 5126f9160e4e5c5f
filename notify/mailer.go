package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/wneessen/go-mail"

	"timesheets/hours"
)

// FinalApproval is the content of the email sent when HR approves a timesheet.
type FinalApproval struct {
	TimesheetID  uint
	To           string
	OwnerName    string
	Period       string
	ApproverName string
	Summary      hours.Summary
}

func (f FinalApproval) Subject() string {
	return "Timesheet approved: " + f.Period
}

func (f FinalApproval) Body() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\n", f.OwnerName)
	fmt.Fprintf(&b, "Your timesheet for %s was approved by %s.\n\n", f.Period, f.ApproverName)
	fmt.Fprintf(&b, "Regular hours: %s\n", f.Summary.Regular.StringFixed(2))
	fmt.Fprintf(&b, "Adjustments:   %s\n", f.Summary.Adjustment.StringFixed(2))
	fmt.Fprintf(&b, "Total hours:   %s\n", f.Summary.Total.StringFixed(2))
	return b.String()
}

type Mailer interface {
	SendFinalApproval(ctx context.Context, msg FinalApproval) error
}

// SMTPConfig configures SMTPMailer. Username empty disables auth.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type SMTPMailer struct {
	cfg SMTPConfig
}

func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg}
}

func (m *SMTPMailer) SendFinalApproval(ctx context.Context, msg FinalApproval) error {
	if msg.To == "" {
		return fmt.Errorf("timesheet %d: owner has no email address", msg.TimesheetID)
	}
	message := mail.NewMsg()
	if err := message.From(m.cfg.From); err != nil {
		return fmt.Errorf("set from: %w", err)
	}
	if err := message.To(msg.To); err != nil {
		return fmt.Errorf("set to: %w", err)
	}
	message.Subject(msg.Subject())
	message.SetBodyString(mail.TypeTextPlain, msg.Body())

	opts := []mail.Option{
		mail.WithPort(m.cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if m.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(m.cfg.Username),
			mail.WithPassword(m.cfg.Password),
		)
	}
	client, err := mail.NewClient(m.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, message); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

// LogMailer writes emails to the log instead of sending them.
type LogMailer struct {
	log zerolog.Logger
}

func NewLogMailer(log zerolog.Logger) *LogMailer {
	return &LogMailer{log: log}
}

func (m *LogMailer) SendFinalApproval(_ context.Context, msg FinalApproval) error {
	m.log.Info().
		Uint("timesheet_id", msg.TimesheetID).
		Str("to", msg.To).
		Str("subject", msg.Subject()).
		Str("total", msg.Summary.Total.StringFixed(2)).
		Msg("mail: final approval (log only)")
	return nil
}
