package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net"
	"net/smtp"
	"net/textproto"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SMTPConfig addresses an SMTP relay.
type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

// SMTPMailer delivers multipart/alternative messages through an SMTP relay.
type SMTPMailer struct {
	cfg    SMTPConfig
	dialer net.Dialer
	now    func() time.Time
}

func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	return &SMTPMailer{
		cfg:    cfg,
		dialer: net.Dialer{Timeout: 10 * time.Second},
		now:    time.Now,
	}
}

func (m *SMTPMailer) Send(ctx context.Context, msg Message) (SendResult, error) {
	sentAt := m.now().UTC()
	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), senderDomain(m.cfg.From))

	raw, err := buildMessage(m.cfg.From, msg, messageID, sentAt)
	if err != nil {
		return SendResult{}, err
	}

	conn, err := m.dialer.DialContext(ctx, "tcp", net.JoinHostPort(m.cfg.Host, m.cfg.Port))
	if err != nil {
		return SendResult{}, fmt.Errorf("dialing smtp: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		conn.Close()
		return SendResult{}, fmt.Errorf("smtp handshake: %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: m.cfg.Host}); err != nil {
			return SendResult{}, fmt.Errorf("smtp starttls: %w", err)
		}
	}
	if m.cfg.Username != "" {
		if ok, _ := client.Extension("AUTH"); ok {
			auth := smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
			if err := client.Auth(auth); err != nil {
				return SendResult{}, fmt.Errorf("smtp auth: %w", err)
			}
		}
	}

	if err := client.Mail(m.cfg.From); err != nil {
		return SendResult{}, fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	if err := client.Rcpt(msg.To); err != nil {
		return SendResult{}, fmt.Errorf("smtp RCPT TO: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return SendResult{}, fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		w.Close()
		return SendResult{}, fmt.Errorf("writing message: %w", err)
	}
	if err := w.Close(); err != nil {
		return SendResult{}, fmt.Errorf("finishing message: %w", err)
	}
	// The relay has accepted the message at this point.
	client.Quit()

	return SendResult{MessageID: messageID, SentAt: sentAt}, nil
}

// buildMessage renders an RFC 5322 message with text and HTML alternatives.
func buildMessage(from string, msg Message, messageID string, date time.Time) ([]byte, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	parts := []struct {
		contentType string
		content     string
	}{
		{"text/plain; charset=utf-8", msg.Text},
		{"text/html; charset=utf-8", msg.HTML},
	}
	for _, part := range parts {
		pw, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {part.contentType},
			"Content-Transfer-Encoding": {"quoted-printable"},
		})
		if err != nil {
			return nil, fmt.Errorf("creating mime part: %w", err)
		}
		qp := quotedprintable.NewWriter(pw)
		if _, err := qp.Write([]byte(part.content)); err != nil {
			return nil, fmt.Errorf("encoding mime part: %w", err)
		}
		if err := qp.Close(); err != nil {
			return nil, fmt.Errorf("encoding mime part: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("closing multipart body: %w", err)
	}

	var out bytes.Buffer
	writeHeader := func(key, value string) {
		fmt.Fprintf(&out, "%s: %s\r\n", key, value)
	}
	writeHeader("From", from)
	writeHeader("To", msg.To)
	writeHeader("Subject", mime.QEncoding.Encode("utf-8", msg.Subject))
	writeHeader("Date", date.Format(time.RFC1123Z))
	writeHeader("Message-ID", messageID)

	keys := make([]string, 0, len(msg.Headers))
	for k := range msg.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		writeHeader(textproto.CanonicalMIMEHeaderKey(k), sanitizeHeader(msg.Headers[k]))
	}

	writeHeader("MIME-Version", "1.0")
	writeHeader("Content-Type", fmt.Sprintf("multipart/alternative; boundary=%q", mw.Boundary()))
	out.WriteString("\r\n")
	out.Write(body.Bytes())
	return out.Bytes(), nil
}

func sanitizeHeader(v string) string {
	return strings.NewReplacer("\r", "", "\n", "").Replace(v)
}

func senderDomain(from string) string {
	if at := strings.LastIndex(from, "@"); at >= 0 {
		return strings.Trim(from[at+1:], "> ")
	}
	return "restock.local"
}
