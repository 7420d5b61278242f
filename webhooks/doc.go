// Package webhooks turns provider mail callbacks into core.InboundEmail values
// and hands them to reply attribution.
//
// A callback is verified, normalized, then processed message by message. Dedupe of
// redelivered messages happens in the inbound store, so a 5xx result is always
// safe for the provider to retry.
package webhooks
