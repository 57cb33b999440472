package monitor

import (
	"sync"
	"time"
)

// Stats tracks engine counters across cycles. Safe for concurrent reads by
// the status API while the cycle loop writes.
type Stats struct {
	mu sync.Mutex

	startedAt         time.Time
	cycles            int64
	totalSales        int64
	totalSaleValue    int64
	totalAlerts       int64
	lastCycleStart    time.Time
	lastCycleDuration time.Duration
	lastCycleSales    int
	lastCycleErr      string
}

// NewStats returns stats anchored at the current time.
func NewStats() *Stats {
	return &Stats{startedAt: time.Now().UTC()}
}

func (s *Stats) cycleStarted(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastCycleStart = at
}

func (s *Stats) cycleFinished(d time.Duration, sales int, saleValue int64, alerts int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cycles++
	s.totalSales += int64(sales)
	s.totalSaleValue += saleValue
	s.totalAlerts += int64(alerts)
	s.lastCycleDuration = d
	s.lastCycleSales = sales
	if err != nil {
		s.lastCycleErr = err.Error()
	} else {
		s.lastCycleErr = ""
	}
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	StartedAt       time.Time `json:"started_at"`
	UptimeSecs      int64     `json:"uptime_secs"`
	Cycles          int64     `json:"cycles"`
	TotalSales      int64     `json:"total_sales"`
	TotalSaleValue  int64     `json:"total_sale_value"`
	TotalAlerts     int64     `json:"total_alerts"`
	LastCycleStart  time.Time `json:"last_cycle_start"`
	LastCycleMillis int64     `json:"last_cycle_millis"`
	LastCycleSales  int       `json:"last_cycle_sales"`
	LastCycleError  string    `json:"last_cycle_error,omitempty"`
}

// Snapshot returns a copy of the current counters.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		StartedAt:       s.startedAt,
		UptimeSecs:      int64(time.Since(s.startedAt).Seconds()),
		Cycles:          s.cycles,
		TotalSales:      s.totalSales,
		TotalSaleValue:  s.totalSaleValue,
		TotalAlerts:     s.totalAlerts,
		LastCycleStart:  s.lastCycleStart,
		LastCycleMillis: s.lastCycleDuration.Milliseconds(),
		LastCycleSales:  s.lastCycleSales,
		LastCycleError:  s.lastCycleErr,
	}
}
