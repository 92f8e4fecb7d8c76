// Package session holds per-connection transport policy shared by the
// hackd listeners and the hackctl client: timeouts, heartbeat deadlines,
// reconnect backoff and the TLS security policy. It also adapts TCP and
// websocket connections to whole-frame reads and writes.
package session
