// Package studio holds the explicit context object of the service. A Studio
// owns the workflow being edited, the session controller and the channel to
// the execution backend, and bridges their change notifications to the
// event bus and the execution store.
package studio
