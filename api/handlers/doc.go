// Package handlers implements the HTTP endpoints: conversation, memory
// search, and health, plus the shared JSON and middleware plumbing.
package handlers
