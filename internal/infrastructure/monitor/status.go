package monitor

import "time"

// Status is the last observed health of the event log and snapshot cache.
type Status struct {
	EventLog    bool      `json:"event_log"`
	StoreDriver string    `json:"store_driver"`
	Cache       bool      `json:"cache"`
	CacheDriver string    `json:"cache_driver"`
	LastCheck   time.Time `json:"last_check"`
}
