// Package auth provides authentication middleware for the labeling server.
//
// APIKey(mode, header, key, open...) wraps an http.Handler and validates the
// API key from the named request header or a Bearer Authorization header.
// The label sync agent uses it to pull exports from a shared server.
//
// When mode != "apikey" or key == "", all requests pass through (useful for
// local development with auth disabled). Paths under one of the open
// prefixes, such as health checks, are never checked.
package auth
