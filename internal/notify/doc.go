// Package notify holds the notification domain model: payloads, channels,
// action types, and the registry that persists channel and action-type
// definitions. The wire shapes (camelCase JSON) are fixed by the webview
// clients and must not drift.
package notify
