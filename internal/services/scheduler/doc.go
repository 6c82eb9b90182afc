// Package scheduler runs named background jobs on a cron or interval schedule.
//
// # Schedule formats
//
//   - Cron expressions: 5-field (min hour dom mon dow), e.g. "0 */6 * * *".
//   - Cron descriptors: "@hourly", "@daily", "@every 55m".
//   - Interval durations: Go duration strings like "55m" or "2h30m".
//   - Interval HH:MM: "00:50" means every 50 minutes, "02:30" every 2h30m.
//
// Prefix with "cron:", "interval:" or "every:" to force interpretation.
//
// # Overlap
//
// A job never overlaps itself: a tick that fires while the previous run is
// still executing is skipped and logged.
package scheduler
