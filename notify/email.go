/*
Package notify provides loan.Notifier implementations.

PURPOSE:
  The engine notifies borrowers when their application is received,
  approved, rejected, disbursed or closed. Delivery must never block a
  workflow operation, so the email notifier queues messages and a single
  background worker sends them over SMTP.

IMPLEMENTATIONS:
  EmailNotifier: SMTP via github.com/jordan-wright/email, asynchronous
  LogNotifier:   Writes notifications to the log (development)

DELIVERY:
  Best effort. A full queue drops the message and Notify returns
  ErrQueueFull, which the engine logs and ignores. Close drains the queue.
*/
package notify

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"sync"

	"github.com/jordan-wright/email"
	"github.com/sirupsen/logrus"
)

var (
	// ErrQueueFull is returned when the send queue cannot take another message.
	ErrQueueFull = errors.New("notification queue full")

	// ErrClosed is returned by Notify after Close.
	ErrClosed = errors.New("notifier closed")
)

// SMTPConfig holds the SMTP connection settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

func (c SMTPConfig) addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c SMTPConfig) auth() smtp.Auth {
	if c.Username == "" {
		return nil
	}
	return smtp.PlainAuth("", c.Username, c.Password, c.Host)
}

// SendFunc delivers one message.
type SendFunc func(e *email.Email) error

// EmailNotifier implements loan.Notifier over SMTP.
type EmailNotifier struct {
	cfg   SMTPConfig
	log   logrus.FieldLogger
	send  SendFunc
	queue chan *email.Email

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// EmailOption configures an EmailNotifier.
type EmailOption func(*EmailNotifier)

// WithSendFunc replaces SMTP delivery, e.g. in tests.
func WithSendFunc(send SendFunc) EmailOption {
	return func(n *EmailNotifier) { n.send = send }
}

// NewEmailNotifier starts the delivery worker. queueSize <= 0 uses 100.
func NewEmailNotifier(cfg SMTPConfig, logger logrus.FieldLogger, queueSize int, opts ...EmailOption) *EmailNotifier {
	if queueSize <= 0 {
		queueSize = 100
	}
	n := &EmailNotifier{
		cfg:   cfg,
		log:   logger.WithField("component", "email_notifier"),
		queue: make(chan *email.Email, queueSize),
		done:  make(chan struct{}),
	}
	n.send = func(e *email.Email) error {
		return e.Send(cfg.addr(), cfg.auth())
	}
	for _, opt := range opts {
		opt(n)
	}

	go n.run()
	return n
}

// Notify queues a plain-text email. It never waits for delivery.
func (n *EmailNotifier) Notify(_ context.Context, recipientEmail, subject, body string) error {
	e := email.NewEmail()
	e.From = n.cfg.From
	e.To = []string{recipientEmail}
	e.Subject = subject
	e.Text = []byte(body)

	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return ErrClosed
	}

	select {
	case n.queue <- e:
		return nil
	default:
		n.log.WithField("to", recipientEmail).WithField("subject", subject).Warn("notification dropped, queue full")
		return ErrQueueFull
	}
}

func (n *EmailNotifier) run() {
	defer close(n.done)
	for e := range n.queue {
		fields := logrus.Fields{"to": e.To, "subject": e.Subject}
		if err := n.send(e); err != nil {
			n.log.WithFields(fields).WithError(err).Error("failed to send email")
			continue
		}
		n.log.WithFields(fields).Info("email sent")
	}
}

// Close stops accepting messages and waits for the queue to drain or ctx to end.
func (n *EmailNotifier) Close(ctx context.Context) error {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.queue)
	}
	n.mu.Unlock()

	select {
	case <-n.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
