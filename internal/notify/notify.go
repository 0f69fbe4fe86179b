// Package notify composes the emails sent when jobs finish or fail and hands
// them to a Mailer.
package notify

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/ptmscout/internal/model"
)

// Message is one outgoing email.
type Message struct {
	To      []string
	Subject string
	Body    string
}

// Mailer delivers messages.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// LogMailer writes messages to the log instead of sending them.
type LogMailer struct {
	log zerolog.Logger
}

// NewLogMailer constructs a LogMailer.
func NewLogMailer(log zerolog.Logger) *LogMailer {
	return &LogMailer{log: log}
}

// Send logs msg.
func (m *LogMailer) Send(_ context.Context, msg Message) error {
	m.log.Info().Strs("to", msg.To).Str("subject", msg.Subject).Str("body", msg.Body).Msg("email")
	return nil
}

// SMTPMailer sends plain text mail through an SMTP relay.
type SMTPMailer struct {
	addr string
	from string
	auth smtp.Auth
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPMailer constructs an SMTPMailer for the relay at addr. auth may be nil.
func NewSMTPMailer(addr, from string, auth smtp.Auth) *SMTPMailer {
	return &SMTPMailer{addr: addr, from: from, auth: auth, send: smtp.SendMail}
}

// NewMailer returns an SMTPMailer for the relay at addr, authenticating with
// PLAIN when user is set. Without a relay messages only go to log.
func NewMailer(addr, from, user, password string, log zerolog.Logger) (Mailer, error) {
	if addr == "" {
		return NewLogMailer(log), nil
	}
	var auth smtp.Auth
	if user != "" {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, fmt.Errorf("parse smtp address: %w", err)
		}
		auth = smtp.PlainAuth("", user, password, host)
	}
	return NewSMTPMailer(addr, from, auth), nil
}

// Send delivers msg.
func (m *SMTPMailer) Send(_ context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", m.from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(msg.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(msg.Body)
	if err := m.send(m.addr, m.auth, m.from, msg.To, []byte(b.String())); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

// Subjects of the emails the notifier sends.
const (
	JobFailedSubject      = "ProteomeScout job failed"
	UploadFinishedSubject = "ProteomeScout experiment upload completed"
	ExportFinishedSubject = "ProteomeScout Experiment Export Finished"
)

const jobFailedBody = `Processing of your job '%s' failure during '%s' with the following error message:

    %s

You may retry your job at any time.

The ProteomeScout administrator has been notified of this error. If problems persist please contribute a bug report at our issue tracker: %s

-The ProteomeScout Team`

const uploadFinishedBody = `ProteomeScout has finished processing the upload of your experiment: '%s'

Upload Results:

Peptides: %d
Proteins: %d
Errors: %d

You may view the error log for this upload here: %s

Thanks for using ProteomeScout,
-The ProteomeScout Team`

const exportFinishedBody = `Processing of your job '%s' succeeded.

You may download the results of this export here: %s

This file will be available for 24 hours.

-The ProteomeScout Team`

// ImportCounts summarizes a finished experiment load.
type ImportCounts struct {
	Peptides int
	Proteins int
	Errors   int
}

// Notifier turns job outcomes into emails. Users are addressed by their
// user id, which is their email address.
type Notifier struct {
	mailer       Mailer
	admin        string
	issueTracker string
	log          zerolog.Logger
}

// NewNotifier constructs a Notifier.
func NewNotifier(mailer Mailer, admin, issueTracker string, log zerolog.Logger) *Notifier {
	return &Notifier{mailer: mailer, admin: admin, issueTracker: issueTracker, log: log}
}

func recipients(addrs ...string) []string {
	var out []string
	seen := map[string]bool{}
	for _, a := range addrs {
		a = strings.TrimSpace(a)
		if !strings.Contains(a, "@") || seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	return out
}

func (n *Notifier) send(ctx context.Context, msg Message) {
	if len(msg.To) == 0 {
		return
	}
	if err := n.mailer.Send(ctx, msg); err != nil {
		n.log.Error().Err(err).Str("subject", msg.Subject).Msg("notification not delivered")
	}
}

// JobFailedMessage builds the failure email for job.
func (n *Notifier) JobFailedMessage(job *model.Job, cause error) Message {
	return Message{
		To:      recipients(job.UserID, n.admin),
		Subject: JobFailedSubject,
		Body:    fmt.Sprintf(jobFailedBody, job.Name, job.Stage, "Exception: "+cause.Error(), n.issueTracker),
	}
}

// JobFailed tells the submitter and the administrator that job failed.
func (n *Notifier) JobFailed(ctx context.Context, job *model.Job, cause error) {
	n.send(ctx, n.JobFailedMessage(job, cause))
}

// ImportFinishedMessage builds the completion email of an experiment load.
func (n *Notifier) ImportFinishedMessage(job *model.Job, exp *model.Experiment, counts ImportCounts) Message {
	return Message{
		To:      recipients(job.UserID),
		Subject: UploadFinishedSubject,
		Body:    fmt.Sprintf(uploadFinishedBody, exp.Name, counts.Peptides, counts.Proteins, counts.Errors, job.ResultURL+"/errors"),
	}
}

// ImportFinished tells the submitter an experiment load completed.
func (n *Notifier) ImportFinished(ctx context.Context, job *model.Job, exp *model.Experiment, counts ImportCounts) {
	n.send(ctx, n.ImportFinishedMessage(job, exp, counts))
}

// ExportFinishedMessage builds the completion email of an export.
func (n *Notifier) ExportFinishedMessage(job *model.Job, url string) Message {
	return Message{
		To:      recipients(job.UserID),
		Subject: ExportFinishedSubject,
		Body:    fmt.Sprintf(exportFinishedBody, job.Name, url),
	}
}

// ExportFinished sends the download link of a finished export.
func (n *Notifier) ExportFinished(ctx context.Context, job *model.Job, url string) {
	n.send(ctx, n.ExportFinishedMessage(job, url))
}
