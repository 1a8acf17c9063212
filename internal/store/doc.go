// Package store provides persistent storage for glass-gateway using SQLite.
//
// # Data Model
//
// One Conversation exists per (user, calendar day). The day key is computed
// in the user's reporting timezone, so a conversation rolls over at local
// midnight rather than UTC midnight.
//
//   - Conversation: per-day message log with an unread flag and a derived
//     display title
//   - Message: a single turn, numbered 1..n within its conversation
//
// # Ordering
//
// Message numbers are assigned by a per-conversation sequence counter that is
// advanced and read in the same transaction as the message insert. Two
// concurrent appends for the same user therefore never observe the same
// number, and the numbers within a conversation form a gap-free sequence
// starting at 1. A UNIQUE(conversation_id, message_number) constraint
// backstops this at the schema level.
//
// # Failure Semantics
//
// Append failures are returned to the caller as wrapped errors; they are
// never swallowed. Lookups for absent rows return ErrNotFound.
package store
