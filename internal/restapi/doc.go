// Package restapi is the request/response side of the gateway: instrument
// lookups, quote snapshots, bar history and order placement in the client
// dialect, served from the upstream REST API and the shared order service.
package restapi
