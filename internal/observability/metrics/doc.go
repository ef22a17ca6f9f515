// Package metrics 提供 Prometheus 指标。
package metrics
