// Package gateway serves the client WebSocket API. Each connection is a
// session multiplexing logical streams keyed by client guids: market and
// portfolio subscriptions backed by upstream feed channels, and order
// commands executed through the order service.
//
// Every outbound frame of a session goes through one queue drained by a
// single writer. A subscription stops delivering the moment it is replaced
// or unsubscribed; order failures close the connection.
package gateway
