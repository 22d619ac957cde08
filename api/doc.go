// Package api defines the request and response DTOs of the HTTP surface.
package api
