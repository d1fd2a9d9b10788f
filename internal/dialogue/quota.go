package dialogue

import (
	"sync"
	"time"
)

// DailyQuota tracks each device's assistant-output byte count for the
// current calendar day, per §5's shared-resource note ("counters for
// per-device daily budgets, individually mutex-protected") and
// SUPPLEMENTED FEATURES' daily output-size cap.
type DailyQuota struct {
	mu   sync.Mutex
	day  string
	used map[string]int
}

// NewDailyQuota creates an empty quota tracker.
func NewDailyQuota() *DailyQuota {
	return &DailyQuota{used: make(map[string]int)}
}

func (q *DailyQuota) rolloverLocked() {
	today := time.Now().Format("2006-01-02")
	if q.day != today {
		q.day = today
		q.used = make(map[string]int)
	}
}

// Exceeded reports whether deviceID has already used at least maxSize
// bytes of assistant output today.
func (q *DailyQuota) Exceeded(deviceID string, maxSize int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.rolloverLocked()
	return q.used[deviceID] >= maxSize
}

// Add records n more bytes of assistant output for deviceID today.
func (q *DailyQuota) Add(deviceID string, n int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.rolloverLocked()
	q.used[deviceID] += n
}
