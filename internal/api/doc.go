// Package api is the HTTP boundary of the gateway.
//
// Chat endpoints accept messages and serve the per-day history; the stream
// endpoint is a long-lived Server-Sent Events connection carrying history,
// message, message_update, processing, and idle events. Conversation
// endpoints expose the per-day archive with its unread flags.
//
// All endpoints identify the caller by an explicit userId parameter; there
// is no authentication layer here, the gateway is expected to sit behind
// one.
package api
