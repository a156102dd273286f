package notify

import (
	"context"

	"github.com/sirupsen/logrus"
)

// LogNotifier writes notifications to the log instead of sending them.
type LogNotifier struct {
	log logrus.FieldLogger
}

func NewLogNotifier(logger logrus.FieldLogger) *LogNotifier {
	return &LogNotifier{log: logger.WithField("component", "log_notifier")}
}

func (n *LogNotifier) Notify(_ context.Context, recipientEmail, subject, body string) error {
	n.log.WithFields(logrus.Fields{
		"to":      recipientEmail,
		"subject": subject,
	}).Info(body)
	return nil
}
