// Package chat coordinates the conversation lifecycle for each user.
//
// Each user is either IDLE or PROCESSING. A new message moves the user to
// PROCESSING, is persisted, and triggers a `processing` broadcast; the
// assistant's reply is persisted and broadcast as `message`; an `idle`
// broadcast closes the cycle. Events for one user are always observed in
// that order.
//
// A message that arrives while the user is still PROCESSING is rejected
// with ErrBusy instead of being queued or interleaved. Glasses clients
// send one utterance at a time, so a concurrent send is almost always a
// duplicate; rejecting keeps the per-turn ordering trivial to reason
// about and lets the client surface a "still thinking" state.
package chat
