// Package types defines the shared Go types used by both the api and the
// dashboard: Target, Status, Metric, Snapshot and the websocket Message
// envelope.
//
// The JSON tags on Metric and Snapshot are the wire contract consumed by
// existing dashboard clients and must not change.
//
// Validate methods (ozzo-validation) guard every publish path so that a
// malformed snapshot never reaches a subscriber.
package types
