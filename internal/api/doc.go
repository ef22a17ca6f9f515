// Package api exposes the wallet toolkit over REST: tool listing, synchronous
// tool invocation, the asynchronous invocation journal and Prometheus metrics.
package api
