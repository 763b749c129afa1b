package metrics

import (
	"sync/atomic"
)

type Collector struct {
	ordersCreated      int64
	validationRejected int64
	lockContention     int64
	partialSettlements int64
	persistFailures    int64
}

func New() *Collector {
	return &Collector{}
}

func (c *Collector) RecordOrderCreated() {
	atomic.AddInt64(&c.ordersCreated, 1)
}

func (c *Collector) RecordValidationRejected() {
	atomic.AddInt64(&c.validationRejected, 1)
}

func (c *Collector) RecordLockContention() {
	atomic.AddInt64(&c.lockContention, 1)
}

func (c *Collector) RecordPartialSettlement() {
	atomic.AddInt64(&c.partialSettlements, 1)
}

func (c *Collector) RecordPersistFailure() {
	atomic.AddInt64(&c.persistFailures, 1)
}

type Stats struct {
	OrdersCreated      int64 `json:"orders_created"`
	ValidationRejected int64 `json:"validation_rejected"`
	LockContention     int64 `json:"lock_contention"`
	PartialSettlements int64 `json:"partial_settlements"`
	PersistFailures    int64 `json:"persist_failures"`
}

func (c *Collector) GetStats() Stats {
	return Stats{
		OrdersCreated:      atomic.LoadInt64(&c.ordersCreated),
		ValidationRejected: atomic.LoadInt64(&c.validationRejected),
		LockContention:     atomic.LoadInt64(&c.lockContention),
		PartialSettlements: atomic.LoadInt64(&c.partialSettlements),
		PersistFailures:    atomic.LoadInt64(&c.persistFailures),
	}
}
