package worker

import (
	"context"
	"time"
)

// DNSRefresher periodically refreshes cached tenant host lookups.
type DNSRefresher struct {
	refresh  func()
	interval time.Duration
}

// NewDNSRefresher creates a refresher calling refresh every interval.
func NewDNSRefresher(refresh func(), interval time.Duration) *DNSRefresher {
	return &DNSRefresher{refresh: refresh, interval: interval}
}

// Name returns the worker identifier.
func (w *DNSRefresher) Name() string { return "dns_refresh" }

// Run refreshes on every interval until ctx is cancelled.
func (w *DNSRefresher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.refresh()
		case <-ctx.Done():
			return nil
		}
	}
}
