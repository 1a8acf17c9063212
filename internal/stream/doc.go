// Package stream provides the live event fan-out layer for glass-gateway.
//
// # Overview
//
// A user may have several SSE connections open at once (phone, glasses, a
// browser tab). The Registry tracks them per user and delivers each event to
// all of them. Events are serialized once per broadcast, not per connection.
//
// # Slow Consumers
//
// Every connection has a bounded outbound buffer (64 events). A connection
// that cannot keep up has events dropped for it alone; a stuck client never
// delays delivery to the user's other connections or to other users. Clients
// recover missed events through the history snapshot on reconnect.
//
// # Lifecycle
//
// Register and Unregister are paired by the HTTP stream handler: register on
// connect, unregister when the request context ends. Unregister closes the
// connection's channel, which terminates the handler's drain loop, and the
// per-user entry is removed when its last connection goes away.
package stream
