// Package auth provides cached transport.TokenSource implementations for the
// mailbox providers: OAuth2 client credentials for Microsoft Graph app-only
// access and service-account JWT assertions for Gmail domain-wide delegation.
package auth
