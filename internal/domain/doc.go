// Package domain holds the studio's data model: workflow graphs, execution
// plans, execution state and per-node results, and the connection record of
// the channel to the execution backend.
//
// Types in this package carry no behaviour beyond small helpers. Ownership is
// decided elsewhere: the session controller owns execution state, the channel
// manager owns the connection record, and validator and planner only read
// graph snapshots.
package domain
