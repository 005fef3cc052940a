package internaldefs

import (
	"github.com/MrEthical07/otpgate"
)

// CounterDef names one engine counter for exporters.
type CounterDef struct {
	ID   otpgate.MetricID
	Name string
	Help string
}

// HistogramDef names one engine latency histogram for exporters.
type HistogramDef struct {
	ID   otpgate.MetricID
	Name string
	Help string
}

// AuditDroppedName is the counter for events the audit dispatcher dropped.
const (
	AuditDroppedName = "otpgate_audit_dropped_total"
	AuditDroppedHelp = "Dropped audit events due to dispatcher backpressure."
)

var CounterDefs = []CounterDef{
	{ID: otpgate.MetricOTPIssued, Name: "otpgate_otp_issued_total", Help: "One-time codes issued and handed to the notifier."},
	{ID: otpgate.MetricOTPIssueFailure, Name: "otpgate_otp_issue_failure_total", Help: "Issue attempts that failed before a code was stored."},
	{ID: otpgate.MetricOTPNotifyFailure, Name: "otpgate_otp_notify_failure_total", Help: "Codes stored but not delivered by the notifier."},
	{ID: otpgate.MetricOTPResent, Name: "otpgate_otp_resent_total", Help: "Codes reissued through resend."},
	{ID: otpgate.MetricOTPResendCooldown, Name: "otpgate_otp_resend_cooldown_total", Help: "Resend requests refused by the cooldown."},
	{ID: otpgate.MetricOTPVerifySuccess, Name: "otpgate_otp_verify_success_total", Help: "Successful code verifications."},
	{ID: otpgate.MetricOTPVerifyMismatch, Name: "otpgate_otp_verify_mismatch_total", Help: "Verifications with a wrong code."},
	{ID: otpgate.MetricOTPVerifyExpired, Name: "otpgate_otp_verify_expired_total", Help: "Verifications against an expired challenge."},
	{ID: otpgate.MetricOTPVerifyNoChallenge, Name: "otpgate_otp_verify_no_challenge_total", Help: "Verifications with no active challenge."},
	{ID: otpgate.MetricOTPLockedOut, Name: "otpgate_otp_locked_out_total", Help: "Verifications refused after the attempt cap."},
	{ID: otpgate.MetricRateLimitHit, Name: "otpgate_rate_limit_hit_total", Help: "Rate-limit checks that denied requests."},
	{ID: otpgate.MetricSessionCreated, Name: "otpgate_session_created_total", Help: "Created sessions."},
	{ID: otpgate.MetricRefreshSuccess, Name: "otpgate_refresh_success_total", Help: "Successful refresh operations."},
	{ID: otpgate.MetricRefreshFailure, Name: "otpgate_refresh_failure_total", Help: "Failed refresh operations."},
	{ID: otpgate.MetricRefreshReuseDetected, Name: "otpgate_refresh_reuse_detected_total", Help: "Detected refresh token reuses."},
	{ID: otpgate.MetricRefreshRateLimited, Name: "otpgate_refresh_rate_limited_total", Help: "Rate-limited refresh attempts."},
	{ID: otpgate.MetricValidateFailure, Name: "otpgate_validate_failure_total", Help: "Access tokens rejected by Validate."},
	{ID: otpgate.MetricLogout, Name: "otpgate_logout_total", Help: "Single-session logout operations."},
	{ID: otpgate.MetricLogoutAll, Name: "otpgate_logout_all_total", Help: "Logout-all operations."},
}

var HistogramDefs = []HistogramDef{
	{ID: otpgate.MetricVerifyLatency, Name: "otpgate_verify_latency_seconds", Help: "Verify latency histogram."},
	{ID: otpgate.MetricValidateLatency, Name: "otpgate_validate_latency_seconds", Help: "Validate latency histogram."},
}

// HistogramUpperBounds are the finite bucket bounds in seconds. The eighth
// bucket is +Inf.
var HistogramUpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBucketLabels are the Prometheus-style "le" values of the eight
// buckets, +Inf included.
var HistogramBucketLabels = []string{"0.005", "0.01", "0.025", "0.05", "0.1", "0.25", "0.5", "+Inf"}

// NormalizeBuckets pads or truncates raw to the eight engine buckets.
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
