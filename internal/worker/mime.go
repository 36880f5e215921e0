package worker

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"html"
	"mime"
	"mime/quotedprintable"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/campaign-engine/internal/campaign"
)

// mimeAttachment is an attachment with its bytes already fetched from
// the blob store.
type mimeAttachment struct {
	Filename    string
	ContentType string
	ContentID   string
	Inline      bool
	Data        []byte
}

// outgoingMessage is one fully personalized message ready for MIME
// composition.
type outgoingMessage struct {
	From       string
	Recipient  string
	Role       campaign.Role
	CampaignID string
	Subject    string
	HTMLBody   string
	TextBody   string
	// HeaderCC and HeaderBCC are the campaign-level lists shown in the
	// headers of regular sends. They never widen the envelope; every
	// list member gets its own copy through its own work item.
	HeaderCC    []string
	HeaderBCC   []string
	Attachments []mimeAttachment
}

// headerRecipients resolves the To/Cc/Bcc headers and the envelope for
// the message's role. A cc or bcc role is a solo send addressed to the
// sender with the recipient on the matching list; an explicit to role
// addresses the recipient alone. Only regular sends carry the
// campaign-level Cc/Bcc lists. The envelope is the one recipient in
// every case.
func (m *outgoingMessage) headerRecipients() (to string, cc, bcc, envelope []string) {
	switch m.Role {
	case campaign.RoleCC:
		return m.From, []string{m.Recipient}, nil, []string{m.Recipient}
	case campaign.RoleBCC:
		return m.From, nil, []string{m.Recipient}, []string{m.Recipient}
	case campaign.RoleTo:
		return m.Recipient, nil, nil, []string{m.Recipient}
	default:
		return m.Recipient, m.HeaderCC, m.HeaderBCC, []string{m.Recipient}
	}
}

// composeMIME builds the raw RFC 5322 message and its envelope
// recipients. Structure, outermost first: multipart/mixed when there
// are non-inline attachments, multipart/related when there are inline
// images, multipart/alternative with text and HTML inside.
func composeMIME(msg *outgoingMessage) ([]byte, []string, error) {
	to, cc, bcc, envelope := msg.headerRecipients()

	var buf bytes.Buffer
	buf.WriteString(fmt.Sprintf("From: %s\r\n", msg.From))
	buf.WriteString(fmt.Sprintf("To: %s\r\n", to))
	if len(cc) > 0 {
		buf.WriteString(fmt.Sprintf("Cc: %s\r\n", strings.Join(cc, ", ")))
	}
	if len(bcc) > 0 {
		buf.WriteString(fmt.Sprintf("Bcc: %s\r\n", strings.Join(bcc, ", ")))
	}
	buf.WriteString(fmt.Sprintf("Subject: %s\r\n", mime.QEncoding.Encode("UTF-8", msg.Subject)))
	buf.WriteString(fmt.Sprintf("Message-ID: <%s@campaign-engine>\r\n", uuid.New().String()))
	buf.WriteString(fmt.Sprintf("Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z)))
	buf.WriteString(fmt.Sprintf("X-Campaign-ID: %s\r\n", msg.CampaignID))
	buf.WriteString("MIME-Version: 1.0\r\n")

	var inline, regular []mimeAttachment
	for _, att := range msg.Attachments {
		if att.Inline {
			inline = append(inline, att)
		} else {
			regular = append(regular, att)
		}
	}

	var mixedBoundary, relatedBoundary string
	if len(regular) > 0 {
		mixedBoundary = newBoundary()
		buf.WriteString(fmt.Sprintf("Content-Type: multipart/mixed; boundary=\"%s\"\r\n\r\n", mixedBoundary))
		buf.WriteString(fmt.Sprintf("--%s\r\n", mixedBoundary))
	}
	if len(inline) > 0 {
		relatedBoundary = newBoundary()
		buf.WriteString(fmt.Sprintf("Content-Type: multipart/related; boundary=\"%s\"\r\n\r\n", relatedBoundary))
		buf.WriteString(fmt.Sprintf("--%s\r\n", relatedBoundary))
	}

	if err := writeAlternative(&buf, msg); err != nil {
		return nil, nil, err
	}

	for _, att := range inline {
		buf.WriteString(fmt.Sprintf("--%s\r\n", relatedBoundary))
		writeAttachment(&buf, att)
	}
	if len(inline) > 0 {
		buf.WriteString(fmt.Sprintf("--%s--\r\n", relatedBoundary))
	}

	for _, att := range regular {
		buf.WriteString(fmt.Sprintf("--%s\r\n", mixedBoundary))
		writeAttachment(&buf, att)
	}
	if len(regular) > 0 {
		buf.WriteString(fmt.Sprintf("--%s--\r\n", mixedBoundary))
	}

	return buf.Bytes(), envelope, nil
}

// writeAlternative emits the multipart/alternative section holding the
// text and HTML renditions. When there are no attachments its
// Content-Type header doubles as the message's.
func writeAlternative(buf *bytes.Buffer, msg *outgoingMessage) error {
	boundary := newBoundary()
	buf.WriteString(fmt.Sprintf("Content-Type: multipart/alternative; boundary=\"%s\"\r\n\r\n", boundary))

	text := msg.TextBody
	if text == "" {
		text = stripHTML(msg.HTMLBody)
	}
	if text != "" {
		buf.WriteString(fmt.Sprintf("--%s\r\n", boundary))
		buf.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
		buf.WriteString("Content-Transfer-Encoding: quoted-printable\r\n\r\n")
		if err := writeQuotedPrintable(buf, text); err != nil {
			return err
		}
	}

	buf.WriteString(fmt.Sprintf("--%s\r\n", boundary))
	buf.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	buf.WriteString("Content-Transfer-Encoding: quoted-printable\r\n\r\n")
	if err := writeQuotedPrintable(buf, msg.HTMLBody); err != nil {
		return err
	}
	buf.WriteString(fmt.Sprintf("--%s--\r\n", boundary))
	return nil
}

func writeAttachment(buf *bytes.Buffer, att mimeAttachment) {
	contentType := att.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	buf.WriteString(fmt.Sprintf("Content-Type: %s; name=\"%s\"\r\n", contentType, att.Filename))
	buf.WriteString("Content-Transfer-Encoding: base64\r\n")
	if att.Inline {
		buf.WriteString(fmt.Sprintf("Content-ID: <%s>\r\n", att.ContentID))
		buf.WriteString(fmt.Sprintf("Content-Disposition: inline; filename=\"%s\"\r\n\r\n", att.Filename))
	} else {
		buf.WriteString(fmt.Sprintf("Content-Disposition: attachment; filename=\"%s\"\r\n\r\n", att.Filename))
	}
	writeBase64(buf, att.Data)
}

func writeQuotedPrintable(buf *bytes.Buffer, s string) error {
	w := quotedprintable.NewWriter(buf)
	if _, err := w.Write([]byte(s)); err != nil {
		return fmt.Errorf("encoding message part: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("encoding message part: %w", err)
	}
	buf.WriteString("\r\n")
	return nil
}

// writeBase64 emits base64 content wrapped at the RFC 2045 76-column
// limit.
func writeBase64(buf *bytes.Buffer, data []byte) {
	enc := base64.StdEncoding.EncodeToString(data)
	for len(enc) > 76 {
		buf.WriteString(enc[:76])
		buf.WriteString("\r\n")
		enc = enc[76:]
	}
	buf.WriteString(enc)
	buf.WriteString("\r\n")
}

func newBoundary() string {
	return fmt.Sprintf("=_%s", strings.ReplaceAll(uuid.New().String(), "-", "")[:16])
}

var (
	htmlHiddenBlock = regexp.MustCompile(`(?is)<(?:style|script)\b[^>]*>.*?</(?:style|script)>`)
	htmlBlockEnd    = regexp.MustCompile(`(?i)</(p|div|h[1-6]|li|tr|br)>|<br\s*/?>`)
	htmlTag         = regexp.MustCompile(`<[^>]*>`)
	blankRuns       = regexp.MustCompile(`[ \t]+`)
	newlineRuns     = regexp.MustCompile(`\n{3,}`)
)

// stripHTML derives the plain-text rendition shown by clients that do
// not render HTML. Style and script elements go away with their
// contents; their text is never visible in the rendered message.
func stripHTML(s string) string {
	s = htmlHiddenBlock.ReplaceAllString(s, "")
	s = htmlBlockEnd.ReplaceAllString(s, "\n")
	s = htmlTag.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	s = blankRuns.ReplaceAllString(s, " ")
	s = newlineRuns.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
