// Package gateway wires the credential resolver, quota policy, and admin gate
// behind an HTTP API.
//
// # Request flow
//
// Every /api route except /api/health passes through the bearer-credential
// middleware, which resolves a Principal and registers it in the principal
// directory. POST /api/chat then runs the admission protocol:
//
//	estimate := policy.Estimate(CountUnits(message))
//	admission := policy.Admit(principal, estimate)    // 429 on denial
//	completion := completer.Complete(ctx, message)   // bounded by quota.request_timeout
//	policy.Settle(admission, actual)                 // always, even on failure
//
// # Scheduled jobs
//
// A cron scheduler running in UTC refreshes the identity provider's signing
// keys every auth.identity_provider.refresh_interval and logs a usage summary
// for the month just ended at 00:05 on the 1st.
package gateway
