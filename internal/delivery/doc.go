// Package delivery turns fired notifications into visible ones.
//
// The dispatcher hands each due notification to the Service, which runs an
// async pipeline: queue + worker pool + rate limit + retry + dedup. Workers
// fan the notification out to every configured Sink; a sink is any terminal
// surface (structured log, Telegram chat, a future platform bridge).
//
// # Active set
//
// Successfully delivered notifications are tracked in an in-memory active
// set until a client removes them, mirroring a platform notification tray.
//
// # Dedup
//
// Two notifications with the same channel, payload and schedule pattern
// inside the dedup window collapse into one delivery. The key is content
// based, not ID based, so re-submitting the same reminder under a fresh ID
// does not double-notify.
package delivery
