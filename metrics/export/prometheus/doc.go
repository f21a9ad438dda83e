// Package prometheus renders chatauth engine metrics in Prometheus text
// exposition format.
//
// [NewExporter] reads from any [Source] (normally *chatauth.Engine) and
// exposes an [http.Handler] for the scrape endpoint. Counters are named
// chatauth_*_total; the one histogram is chatauth_validate_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry; callers mount the Handler.
//   - Mutate engine state.
package prometheus
