package webhooks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	gomessage "github.com/emersion/go-message"
	gomail "github.com/emersion/go-message/mail"
	"github.com/goliatone/go-outreach/core"
	htmlcharset "golang.org/x/net/html/charset"
)

const maxBodyBytes = 1 << 20

func init() {
	gomessage.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		return htmlcharset.NewReaderLabel(charset, input)
	}
}

// RFC822Normalizer treats the request body as one raw MIME message.
type RFC822Normalizer struct{}

func (RFC822Normalizer) Normalize(_ context.Context, req Request) ([]core.InboundEmail, error) {
	email, err := ParseRFC822(req.Body)
	if err != nil {
		return nil, err
	}
	email.Provider = req.Provider
	email.TenantID = req.TenantID
	return []core.InboundEmail{email}, nil
}

// ParseRFC822 extracts the threading headers and the first text/plain and
// text/html bodies from a raw message. The Message-ID doubles as the provider
// message id since generic MIME sources carry no other stable identifier.
func ParseRFC822(raw []byte) (core.InboundEmail, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return core.InboundEmail{}, fmt.Errorf("webhooks: raw message is required")
	}
	reader, err := gomail.CreateReader(bytes.NewReader(raw))
	if err != nil && reader == nil {
		return core.InboundEmail{}, fmt.Errorf("webhooks: parse message: %w", err)
	}

	header := &reader.Header
	email := core.InboundEmail{
		Channel:        core.ChannelEmail,
		Subject:        subjectFromHeader(header),
		FromEmail:      addressFromHeader(header, "From"),
		ToEmail:        addressFromHeader(header, "To"),
		MessageID:      messageIDFromHeader(header),
		InReplyTo:      firstMessageID(header, "In-Reply-To"),
		References:     strings.Join(header.Values("References"), " "),
		ConversationID: strings.TrimSpace(header.Get("Thread-Index")),
		ThreadID:       strings.TrimSpace(header.Get("X-GM-THRID")),
	}
	email.ProviderMessageID = core.NormalizeMessageID(email.MessageID)
	if date, dateErr := header.Date(); dateErr == nil && !date.IsZero() {
		email.ReceivedAt = date.UTC()
	}
	if mediaType, _, ctErr := header.ContentType(); ctErr == nil {
		email.Raw = map[string]any{"content_type": strings.ToLower(mediaType)}
	}

	email.BodyText, email.BodyHTML = readBodies(reader)
	if email.FromEmail == "" {
		return core.InboundEmail{}, fmt.Errorf("webhooks: message has no From address")
	}
	return email, nil
}

func subjectFromHeader(header *gomail.Header) string {
	if subject, err := header.Subject(); err == nil {
		return strings.TrimSpace(subject)
	}
	return strings.TrimSpace(header.Get("Subject"))
}

func addressFromHeader(header *gomail.Header, key string) string {
	if list, err := header.AddressList(key); err == nil && len(list) > 0 {
		return strings.ToLower(strings.TrimSpace(list[0].Address))
	}
	return ""
}

func messageIDFromHeader(header *gomail.Header) string {
	if id, err := header.MessageID(); err == nil && id != "" {
		return id
	}
	return core.NormalizeMessageID(header.Get("Message-Id"))
}

func firstMessageID(header *gomail.Header, key string) string {
	if ids, err := header.MsgIDList(key); err == nil && len(ids) > 0 {
		return ids[0]
	}
	return core.NormalizeMessageID(header.Get(key))
}

func readBodies(reader *gomail.Reader) (string, string) {
	var plain, html string
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			break
		}
		inline, ok := part.Header.(*gomail.InlineHeader)
		if !ok {
			continue
		}
		mediaType, _, ctErr := inline.ContentType()
		if ctErr != nil || mediaType == "" {
			mediaType = "text/plain"
		}
		body, readErr := io.ReadAll(io.LimitReader(part.Body, maxBodyBytes))
		if readErr != nil {
			continue
		}
		switch {
		case strings.HasPrefix(strings.ToLower(mediaType), "text/html"):
			if html == "" {
				html = string(body)
			}
		default:
			if plain == "" {
				plain = string(body)
			}
		}
	}
	return plain, html
}
