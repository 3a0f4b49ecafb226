// Package procprobe is the read side of the process table: liveness waits,
// process-group membership, per-process resource sampling, and open file
// descriptor enumeration.
//
// Group queries exclude the calling process's ancestor chain up to the
// original session leader, so a foreground supervisor polling its group does
// not count the shell that launched it. Field collection across a group runs
// in parallel because CPU-percent sampling blocks for about a second per
// process.
package procprobe
