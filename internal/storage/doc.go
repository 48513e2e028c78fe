package storage

// Package storage persists notifyd's durable state:
//   - Pending notifications (payload + serialized calendar pattern +
//     armed trigger instant), so scheduled notifications survive restarts
//   - Channel definitions
//   - Action-type definitions
