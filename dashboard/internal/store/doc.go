// Package store keeps the most recent snapshot published by the dashboard
// so it can be read over REST. An entry older than the TTL is treated as
// absent and evicted by Run.
package store
