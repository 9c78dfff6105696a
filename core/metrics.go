package core

import "time"

// Metrics records service level events. Implementations must be safe for concurrent use.
type Metrics interface {
	ChunkReceived(result string, bytes int64)
	MergeFinished(result string, duration time.Duration)
	RowsIngested(n int)
	IngestFinished(result string)
	RowsExported(n int)
	RowsDeleted(n int)
}

// NopMetrics discards everything.
type NopMetrics struct{}

var _ Metrics = NopMetrics{}

func (NopMetrics) ChunkReceived(string, int64)         {}
func (NopMetrics) MergeFinished(string, time.Duration) {}
func (NopMetrics) RowsIngested(int)                    {}
func (NopMetrics) IngestFinished(string)               {}
func (NopMetrics) RowsExported(int)                    {}
func (NopMetrics) RowsDeleted(int)                     {}
