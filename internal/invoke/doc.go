// Package invoke spawns exactly one worker process per call.
//
// The invocation depth travels two ways: as a context value inside a
// process and as the CONDUCTOR_DEPTH environment variable across process
// boundaries. Each hop adds one. An Invoker refuses to spawn when the
// current depth has reached the maximum and returns
// [exitcode.DepthExceeded], which no caller may absorb.
//
// Workers run in their own process group. When the invocation deadline
// passes or the caller cancels, the whole group is signalled so
// grandchildren do not outlive the call.
package invoke
