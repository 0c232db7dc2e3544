package contact

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"mime/quotedprintable"
	"net/mail"
	"time"
)

// Message is a composed outbound mail, independent of how it is delivered.
type Message struct {
	ID      string
	Date    time.Time
	From    mail.Address
	To      string
	ReplyTo mail.Address
	Subject string
	Body    string
	Mailer  string
}

// EncodedSubject is the RFC 2047 form of the subject; plain ASCII is left as is.
func (m *Message) EncodedSubject() string {
	return mime.BEncoding.Encode("UTF-8", m.Subject)
}

// WriteTo renders m as an RFC 5322 message with a quoted-printable UTF-8 body.
func (m *Message) WriteTo(w io.Writer) (int64, error) {
	var buf bytes.Buffer
	header := func(k, v string) {
		fmt.Fprintf(&buf, "%s: %s\r\n", k, v)
	}
	header("MIME-Version", "1.0")
	header("Date", m.Date.Format(time.RFC1123Z))
	if m.ID != "" {
		header("Message-ID", m.ID)
	}
	header("From", m.From.String())
	header("To", m.To)
	if m.ReplyTo.Address != "" {
		header("Reply-To", m.ReplyTo.String())
	}
	header("Subject", m.EncodedSubject())
	header("Content-Type", "text/plain; charset=UTF-8")
	header("Content-Transfer-Encoding", "quoted-printable")
	if m.Mailer != "" {
		header("X-Mailer", m.Mailer)
	}
	buf.WriteString("\r\n")

	qp := quotedprintable.NewWriter(&buf)
	if _, err := io.WriteString(qp, m.Body); err != nil {
		return 0, err
	}
	if err := qp.Close(); err != nil {
		return 0, err
	}
	buf.WriteString("\r\n")
	return buf.WriteTo(w)
}

// Bytes is WriteTo into memory. Writes to a bytes.Buffer cannot fail.
func (m *Message) Bytes() []byte {
	var buf bytes.Buffer
	_, _ = m.WriteTo(&buf)
	return buf.Bytes()
}
