// Package channel maintains the duplex connection to the execution backend.
//
// The Manager dials through a Dialer, sends a handshake as soon as the
// connection opens and keeps it alive with timestamped pings. Unexpected
// closes are retried with capped exponential backoff until the attempt
// budget is spent. Inbound messages are decoded and handed to OnMessage
// listeners from a single reader goroutine, in arrival order.
package channel
