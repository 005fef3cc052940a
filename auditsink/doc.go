// Package auditsink provides durable destinations for otpgate audit events.
//
// [KafkaSink] publishes JSON events keyed by attempt id, [PostgresSink]
// inserts rows into otp_audit_events, and [Fanout] combines sinks. All of
// them satisfy otpgate.AuditSink and are meant to sit behind the engine's
// audit dispatcher, which calls Emit from its own goroutine. Delivery
// failures are logged with zap and dropped.
package auditsink
