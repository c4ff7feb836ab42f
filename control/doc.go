// Package control
// Author: momentics <momentics@gmail.com>
//
// Configuration, logging, metrics and debug introspection for hioload-tcp.
//
// Provides:
//   - Config, the immutable transport snapshot shared by server and client,
//     with TOML file loading
//   - a zap logger constructor
//   - Prometheus collectors for sessions, traffic and the buffer pool
//   - debug probe registration
package control
