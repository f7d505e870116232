// Package collect fans a set of fetchers out concurrently and assembles
// their scored results into one Snapshot, in configuration order.
package collect
