// Package protocol defines the JSON messages exchanged with the execution
// backend over the duplex channel. Every message is an object whose "type"
// field selects its shape.
package protocol
