package ui

import "sync/atomic"

type Stats struct {
	TotalBatches   atomic.Int64
	TotalImages    atomic.Int64
	TotalFallbacks atomic.Int64
	TotalDropped   atomic.Int64
	TotalBytes     atomic.Int64
}
