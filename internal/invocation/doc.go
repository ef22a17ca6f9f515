// Package invocation keeps a journal of asynchronous tool calls. Records are
// executed at most once; failed calls are stored, never re-queued.
package invocation
