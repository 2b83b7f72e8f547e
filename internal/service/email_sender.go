package service

import (
	"crypto/tls"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-mail/mail/v2"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// ContractNotifier sends the fire-and-forget notification emitted after the
// contracted transition. Failures never roll back the transition.
type ContractNotifier interface {
	SendContractNotification(email, contractNumber string, amount decimal.Decimal, firstDueDate time.Time) error
}

type EmailSender struct {
	dialer  *mail.Dialer
	logger  *logrus.Logger
	enabled bool
}

func NewEmailSender(logger *logrus.Logger) *EmailSender {
	enabled := os.Getenv("EMAIL_SENDER_ENABLED") == "true"
	if !enabled {
		return &EmailSender{logger: logger, enabled: false}
	}

	smtpHost := os.Getenv("SMTP_HOST")
	smtpUser := os.Getenv("SMTP_USER")
	smtpPass := os.Getenv("SMTP_PASS")
	isInsecureSkipVerify := os.Getenv("INSECURE_SKIP_VERIFY") == "true"

	smtpPort, err := strconv.Atoi(os.Getenv("SMTP_PORT"))
	if err != nil {
		logger.Fatalf("Failed to parse SMTP_PORT: %v", err)
	}

	d := mail.NewDialer(smtpHost, smtpPort, smtpUser, smtpPass)
	d.TLSConfig = &tls.Config{
		ServerName:         smtpHost,
		InsecureSkipVerify: isInsecureSkipVerify,
	}
	return &EmailSender{
		dialer:  d,
		logger:  logger,
		enabled: enabled,
	}
}

func (es *EmailSender) SendContractNotification(email, contractNumber string, amount decimal.Decimal, firstDueDate time.Time) error {
	if !es.enabled {
		es.logger.Warn("Email notifications are disabled")
		return nil
	}

	subject := fmt.Sprintf("Financing contract %s issued", contractNumber)
	content := fmt.Sprintf(`
		<h1>Financing contract issued</h1>
		<p>Contract number: <strong>%s</strong></p>
		<p>Financed amount: <strong>R$ %s</strong></p>
		<p>First installment due: <strong>%s</strong></p>
		<p>Date: <strong>%s</strong></p>
		<small>This is an automated notification, please do not reply</small>
	`, contractNumber, amount.StringFixed(2), firstDueDate.Format("02/01/2006"), time.Now().Format("02/01/2006 15:04"))

	return es.sendEmail(email, subject, content)
}

func (es *EmailSender) sendEmail(to, subject, body string) error {
	m := mail.NewMessage()
	m.SetHeader("From", os.Getenv("SMTP_USER"))
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", body)

	if err := es.dialer.DialAndSend(m); err != nil {
		es.logger.WithError(err).Error("Failed to send email")
		return fmt.Errorf("failed to send email: %w", err)
	}

	es.logger.Infof("Email sent to %s", to)
	return nil
}
