// Package ports declares the interfaces between the application layer and
// its adapters: event bus, stores and metrics.
package ports
