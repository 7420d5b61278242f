package outreach

import (
	"github.com/goliatone/go-outreach/core"
	"github.com/goliatone/go-outreach/providers/google/gmail"
	"github.com/goliatone/go-outreach/providers/microsoft/graph"
	"github.com/goliatone/go-outreach/webhooks"
)

func GmailProvider(cfg gmail.Config) (core.MailboxProvider, error) {
	return gmail.New(cfg)
}

func GraphProvider(cfg graph.Config) (core.MailboxProvider, error) {
	return graph.New(cfg)
}

// MIMEWebhook accepts raw RFC 822 deliveries signed with secret.
func MIMEWebhook(provider string, secret string) webhooks.ProviderWebhookTemplate {
	return webhooks.NewMIMEWebhookTemplate(provider, secret)
}

// JSONWebhook accepts JSON inbound deliveries authenticated by a token header.
func JSONWebhook(provider string, header string, token string) webhooks.ProviderWebhookTemplate {
	return webhooks.NewJSONWebhookTemplate(provider, header, token)
}
