// Package orchestrator validates workflow graphs, plans their execution and
// drives remote runs.
//
// The Validator runs every structural and semantic check in one pass and
// returns its findings as data. The Planner levels a validated graph into
// parallel groups with Kahn's algorithm. The Session controller owns the run
// state machine (pending, running, paused and the terminal states), sends
// run-control commands over a CommandSender and folds the backend's status
// pushes into results, progress and an execution log.
package orchestrator
