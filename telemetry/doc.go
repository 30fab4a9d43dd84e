// Package telemetry keeps client-observed request metrics and turns them into
// the header attached to the next outgoing request.
//
// Metrics are scoped to an execution context identified by a Key carried on
// the request's context.Context. Each key holds at most one pending value:
// Record overwrites it and Take consumes it, so concurrent callers using
// distinct keys never see each other's measurements. A context without a Key
// neither sends nor records metrics. Recorder.Forget releases a key whose
// caller has finished.
package telemetry
