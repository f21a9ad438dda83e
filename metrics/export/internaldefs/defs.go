package internaldefs

import (
	"github.com/MrEthical07/chatauth"
)

// CounterDef names one engine counter for export.
type CounterDef struct {
	ID   chatauth.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram for export.
type HistogramDef struct {
	ID   chatauth.MetricID
	Name string
	Help string
}

// AuditDroppedName is the counter exported for dispatcher drops.
const AuditDroppedName = "chatauth_audit_dropped_total"

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: chatauth.MetricLoginSuccess, Name: "chatauth_login_success_total", Help: "Successful logins."},
	{ID: chatauth.MetricLoginFailure, Name: "chatauth_login_failure_total", Help: "Failed login attempts."},
	{ID: chatauth.MetricLoginRateLimited, Name: "chatauth_login_rate_limited_total", Help: "Login attempts rejected by the rate limiter."},
	{ID: chatauth.MetricLoginLocked, Name: "chatauth_login_locked_total", Help: "Login attempts rejected because the account was locked."},
	{ID: chatauth.MetricAccountLocked, Name: "chatauth_account_locked_total", Help: "Accounts locked after repeated failures."},
	{ID: chatauth.MetricRefreshSuccess, Name: "chatauth_refresh_success_total", Help: "Successful token refreshes."},
	{ID: chatauth.MetricRefreshFailure, Name: "chatauth_refresh_failure_total", Help: "Failed token refreshes."},
	{ID: chatauth.MetricRefreshReuseDetected, Name: "chatauth_refresh_reuse_detected_total", Help: "Rotated refresh tokens presented again."},
	{ID: chatauth.MetricRefreshRateLimited, Name: "chatauth_refresh_rate_limited_total", Help: "Refreshes rejected by the rate limiter."},
	{ID: chatauth.MetricValidateSuccess, Name: "chatauth_validate_success_total", Help: "Accepted access tokens."},
	{ID: chatauth.MetricValidateFailure, Name: "chatauth_validate_failure_total", Help: "Rejected access tokens."},
	{ID: chatauth.MetricRevokedTokenRejected, Name: "chatauth_revoked_token_rejected_total", Help: "Tokens rejected because their session was revoked."},
	{ID: chatauth.MetricRateLimitHit, Name: "chatauth_rate_limit_hit_total", Help: "Rate-limit checks that denied the attempt."},
	{ID: chatauth.MetricRateLimitFailOpen, Name: "chatauth_rate_limit_fail_open_total", Help: "Rate-limit checks allowed because the store was unavailable."},
	{ID: chatauth.MetricStoreUnavailable, Name: "chatauth_store_unavailable_total", Help: "Operations rejected because the store was unavailable."},
	{ID: chatauth.MetricSessionCreated, Name: "chatauth_session_created_total", Help: "Created sessions."},
	{ID: chatauth.MetricSessionInvalidated, Name: "chatauth_session_invalidated_total", Help: "Revoked sessions."},
	{ID: chatauth.MetricLogout, Name: "chatauth_logout_total", Help: "Single-session logouts."},
	{ID: chatauth.MetricLogoutAll, Name: "chatauth_logout_all_total", Help: "Logout-all and terminate-others operations."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: chatauth.MetricValidateLatency, Name: "chatauth_validate_latency_seconds", Help: "Access token validation latency."},
}

// HistogramBounds are the upper bounds of the eight latency buckets, in
// seconds, as Prometheus le labels.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix is HistogramBounds spelled for instrument names.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed eight-bucket array, padding
// missing buckets with zero.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
