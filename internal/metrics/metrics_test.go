package metrics

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCollector_ConcurrentRecording(t *testing.T) {
	c := New()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.RecordOrderCreated()
			c.RecordPartialSettlement()
		}()
	}
	wg.Wait()
	c.RecordLockContention()
	c.RecordValidationRejected()
	c.RecordPersistFailure()

	assert.Equal(t, Stats{
		OrdersCreated:      50,
		ValidationRejected: 1,
		LockContention:     1,
		PartialSettlements: 50,
		PersistFailures:    1,
	}, c.GetStats())
}
