package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/smtp"

	log "github.com/sirupsen/logrus"
)

// EmailJob is one store-and-forward delivery on the email topic.
type EmailJob struct {
	UserID  string `json:"user_id"`
	To      string `json:"to,omitempty"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// RecipientLookup resolves a user id to an email address.
type RecipientLookup interface {
	UserEmail(ctx context.Context, userID string) (string, error)
}

// SMTPConfig holds outbound mail settings. An empty User disables
// sending, which keeps local setups working without mail credentials.
type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
}

// Enabled reports whether credentials are configured.
func (c SMTPConfig) Enabled() bool {
	return c.User != "" && c.Password != ""
}

// EmailWorker consumes email jobs from the bus and sends them over
// SMTP.
type EmailWorker struct {
	cfg    SMTPConfig
	lookup RecipientLookup
	send   func(cfg SMTPConfig, to, subject, body string) error
}

// NewEmailWorker wires an email worker. lookup may be nil; jobs
// without a resolvable recipient are dropped with a log line.
// TODO: resolve recipients from the user profile store once one
// exists; events only carry the user id.
func NewEmailWorker(cfg SMTPConfig, lookup RecipientLookup) *EmailWorker {
	return &EmailWorker{cfg: cfg, lookup: lookup, send: sendSMTP}
}

// Handle processes one email job payload.
func (w *EmailWorker) Handle(ctx context.Context, payload []byte) error {
	var job EmailJob
	if err := json.Unmarshal(payload, &job); err != nil {
		log.WithError(err).Error("discarding malformed email job")
		return nil
	}
	to := job.To
	if to == "" && w.lookup != nil {
		addr, err := w.lookup.UserEmail(ctx, job.UserID)
		if err != nil {
			return err
		}
		to = addr
	}
	if to == "" {
		log.WithField("user", job.UserID).Warn("no recipient address for email reminder, dropped")
		return nil
	}
	if !w.cfg.Enabled() {
		log.WithField("user", job.UserID).Warn("smtp credentials not configured, skipping email")
		return nil
	}
	if err := w.send(w.cfg, to, job.Subject, job.Body); err != nil {
		return err
	}
	log.WithFields(log.Fields{"user": job.UserID, "to": to}).Info("reminder email sent")
	return nil
}

func sendSMTP(cfg SMTPConfig, to, subject, body string) error {
	from := cfg.From
	if from == "" {
		from = cfg.User
	}
	msg := fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/html; charset=utf-8\r\n\r\n%s",
		from, to, subject, body)
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	auth := smtp.PlainAuth("", cfg.User, cfg.Password, cfg.Host)
	return smtp.SendMail(addr, auth, from, []string{to}, []byte(msg))
}
