// Package server manages the HTTP server lifecycle: non-blocking start,
// signal-driven graceful shutdown, and asynchronous error reporting.
package server
