// Package broadcast fans snapshots out to registered subscribers.
//
// Publish encodes the metricsUpdate envelope once and enqueues it on every
// subscriber's mailbox without blocking. Each subscriber is served by its
// own goroutine that calls Send sequentially, so a slow or dead subscriber
// never delays the others. A full mailbox drops its oldest message.
//
// The transport owns subscriber lifetime: it calls Register when a client
// connects and Unregister when it goes away. Send failures are logged and
// counted but never unregister a subscriber.
package broadcast
