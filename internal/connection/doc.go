// Package connection implements the upstream WebSocket plumbing.
//
// It provides:
//   - Client: one WebSocket connection with a read loop, a text ping/pong
//     keepalive and a single error report on failure
//   - Login: the signed login handshake used by private connections
//   - Session: the one authenticated trading connection, created lazily,
//     torn down on I/O failure and re-established on demand
//   - SendCommand: id-correlated command/reply with one retry on a fresh
//     session, and the PlaceOrder/CancelOrder calls built on it
//   - DecodeFrame: classification of inbound frames into event, reply and
//     data variants
package connection
