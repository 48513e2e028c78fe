// Package dispatch arms timers for scheduled notifications and fires
// them into the delivery pipeline.
//
// Each pending notification gets its own runtime timer; a per-ID version
// counter makes replaced or canceled timers ignore their stale callbacks.
// Repeating schedules are re-armed after every fire, one-shot schedules
// are deleted from storage once fired.
//
// A cron-driven janitor sweeps storage for records whose fire instant was
// missed by more than the grace window (for example across a long
// downtime) and either catches them up or drops them.
package dispatch
