// Package security inspects the TLS certificate of the zita server the agent
// pulls from, so an expiring certificate shows up in the agent log before
// syncs start failing.
package security
