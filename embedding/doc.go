// Package embedding turns text into fixed-dimensional vectors for the
// long-term memory index.
package embedding
