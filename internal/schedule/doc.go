// Package schedule implements the trigger-time arithmetic for notifyd.
//
// It has three parts:
//   - DateMatch: a sparse calendar pattern (any subset of
//     year/month/day/weekday/hour/minute/second) with next-trigger
//     computation and a flat string codec used for persistence
//   - Every: the fixed-width repeat units ("every N days" style)
//   - Schedule: the tagged union (at / interval / every) carried by
//     a notification payload
//
// Everything here is pure: no clocks, no I/O, no shared state. Callers
// pass the reference instant explicitly, so the package is safe for
// concurrent use and trivially testable.
package schedule
