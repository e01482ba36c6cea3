package common

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// TimeSync keeps the offset between local and exchange clocks so signed
// requests stay inside recvWindow.
type TimeSync struct {
	serverTime   func(ctx context.Context) (int64, error)
	log          zerolog.Logger
	syncInterval time.Duration

	mu       sync.RWMutex
	offset   int64 // server - local, ms
	lastSync time.Time
}

func NewTimeSync(serverTime func(ctx context.Context) (int64, error), log zerolog.Logger) *TimeSync {
	return &TimeSync{
		serverTime:   serverTime,
		log:          log,
		syncInterval: 30 * time.Minute,
	}
}

// Start syncs once and then periodically until ctx is done.
func (ts *TimeSync) Start(ctx context.Context) {
	if err := ts.Sync(ctx); err != nil {
		ts.log.Warn().Err(err).Msg("initial time sync failed")
	}

	go func() {
		ticker := time.NewTicker(ts.syncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := ts.Sync(ctx); err != nil {
					ts.log.Warn().Err(err).Msg("time sync failed")
				}
			}
		}
	}()
}

// Sync measures the offset assuming symmetric latency.
func (ts *TimeSync) Sync(ctx context.Context) error {
	before := time.Now().UnixMilli()
	server, err := ts.serverTime(ctx)
	if err != nil {
		return err
	}
	after := time.Now().UnixMilli()
	local := before + (after-before)/2

	ts.mu.Lock()
	ts.offset = server - local
	ts.lastSync = time.Now()
	ts.mu.Unlock()

	ts.log.Debug().Int64("offset_ms", server-local).Msg("time sync")
	return nil
}

// Now returns the exchange-adjusted time in ms.
func (ts *TimeSync) Now() int64 {
	if ts == nil {
		return time.Now().UnixMilli()
	}
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return time.Now().UnixMilli() + ts.offset
}

func (ts *TimeSync) Offset() int64 {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return ts.offset
}
