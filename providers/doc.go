// Package providers groups the built-in mailbox push-notification providers.
//
// Each provider implements core.MailboxProvider on top of transport.RESTAdapter:
// google/gmail registers users.watch channels and microsoft/graph manages
// Graph change-notification subscriptions. Register them with
// core.WithRegistry or outreach.ExtensionHooks.
package providers
