// Package agent defines the boundary to the external assistant.
//
// The conversation core treats the assistant as a black box: it sends a
// (user, query) pair and eventually gets reply text, plus a small status
// snapshot (ready, has-photo). Everything else about the assistant — tools,
// search, LLM invocation — lives outside this repository.
//
// Two implementations are provided: HTTPResponder for a real assistant
// service, and StaticResponder for tests and local development.
package agent
