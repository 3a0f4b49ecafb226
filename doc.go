// Package daemonocle turns an ordinary worker function into a
// well-behaved Unix daemon.
//
// A Daemon couples a worker with the usual daemon plumbing: detaching
// from the terminal into its own session, recording its pid in a locked
// pid file, dropping privileges, redirecting the standard streams, and
// shutting down cleanly on SIGINT, SIGQUIT, or SIGTERM. The built-in
// start, stop, restart, and status actions (plus any custom actions)
// can be invoked programmatically through DoAction or exposed as a
// command-line interface via the cli subpackage.
//
// Because a Go process cannot fork without exec, a detached start
// re-executes the current binary with the same arguments. Programs must
// therefore reach Start through a stable entry point, which is the case
// for any program whose main dispatches to a daemon action.
package daemonocle
