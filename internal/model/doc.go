// Package model defines the client-facing records sent over the gateway
// WebSocket and REST facade.
//
// Every record exists in two shapes: a Simple form with descriptive JSON
// keys and a Slim form with short keys. Heavy requests are served Simple.
//
// Conventions:
//   - Prices and quantities: decimal.Decimal, serialized as JSON strings
//   - Timestamps: Unix seconds unless the key says ms
//   - Times in order and trade records: RFC 3339 UTC strings
package model
