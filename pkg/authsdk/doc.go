/*
Package authsdk provides a client SDK for the tenantgate session API.

# Overview

The package is organized around two types:

  - SDKClient: unauthenticated operations (login, refresh, logout, health)
  - Session: tenant-bound operations with automatic token refresh

Create an SDKClient and authenticate against a tenant:

	client := authsdk.NewSDKClient("https://gateway.example.com")

	session, err := client.AuthenticateWithPassword(ctx, "acme", "alice", password)
	if err != nil {
		return err
	}

	me, err := session.Me(ctx)

# Refresh Tokens

Refresh tokens are single use. Every refresh returns a new pair and the
presented token is spent. Presenting a spent token is treated as theft and
revokes the whole token family, which also ends any Session holding a newer
token from that family.

Sessions refresh on demand when the access token is within 30 seconds of
expiry, so callers should not share one refresh token between two Sessions.

# Error Handling

Non-2xx responses are returned as *APIError. The predefined errors compare
by code, so errors.Is works on parsed responses:

	_, err := client.Refresh(ctx, "acme", token)
	if errors.Is(err, authsdk.ErrUnauthenticated) {
		// log in again
	}

The server writes the same APIError values, which keeps the status and code
mapping in one place.
*/
package authsdk
