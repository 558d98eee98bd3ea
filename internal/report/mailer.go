package report

import (
	"fmt"
	"net/smtp"
	"time"
)

// CycleSummary describes one finished (or aborted) reconciliation cycle
type CycleSummary struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Checked    int
	Drifted    int
	Skipped    int
	Aborted    bool
	Reason     string
}

// ImportSummary describes one bulk import run
type ImportSummary struct {
	Checksum string
	Created  int
	Updated  int
	Enqueued int
	Rejected int
}

// Mailer sends operational summary emails over SMTP
type Mailer struct {
	host       string
	port       string
	from       string
	recipients []string
}

func NewMailer(host, port, from string, recipients []string) *Mailer {
	return &Mailer{
		host:       host,
		port:       port,
		from:       from,
		recipients: recipients,
	}
}

// SendCycleSummary mails the outcome of a reconciliation cycle
func (m *Mailer) SendCycleSummary(s CycleSummary) error {
	subject := fmt.Sprintf("[inventory-sync] reconciliation %s: %d drifted of %d checked",
		s.StartedAt.UTC().Format("2006-01-02"), s.Drifted, s.Checked)
	if s.Aborted {
		subject = fmt.Sprintf("[inventory-sync] reconciliation %s ABORTED",
			s.StartedAt.UTC().Format("2006-01-02"))
	}
	return m.send(subject, BuildCycleSummaryBody(s))
}

// SendImportSummary mails the outcome of a bulk import
func (m *Mailer) SendImportSummary(s ImportSummary) error {
	subject := fmt.Sprintf("[inventory-sync] import %s: %d created, %d updated, %d rejected",
		shortChecksum(s.Checksum), s.Created, s.Updated, s.Rejected)
	return m.send(subject, BuildImportSummaryBody(s))
}

func (m *Mailer) send(subject, body string) error {
	if len(m.recipients) == 0 {
		return nil
	}
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n%s",
		m.from, m.recipients[0], subject, body)
	addr := fmt.Sprintf("%s:%s", m.host, m.port)
	return smtp.SendMail(addr, nil, m.from, m.recipients, []byte(msg))
}

func shortChecksum(checksum string) string {
	if len(checksum) > 12 {
		return checksum[:12]
	}
	return checksum
}
