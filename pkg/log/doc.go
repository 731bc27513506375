/*
Package log wraps zerolog to give every component in the control plane the
same structured logger: a package-level Logger initialized once via Init,
plus WithComponent/WithJobID/WithExecutionID/WithWorkerID/WithPoolID
helpers for attaching context fields without
threading a logger through every call.

JSONOutput controls JSON vs. console formatting; Level filters below a
threshold (Debug < Info < Warn < Error). Fatal logs and exits the process,
so it is reserved for unrecoverable startup failures (e.g. Raft init).
*/
package log
