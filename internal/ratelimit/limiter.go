// Package ratelimit caps report submissions per reporter fingerprint.
// Counters live in memory and are flushed to the store periodically so
// a restart does not reset the windows.
package ratelimit

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketRateLimits = []byte("rate_limits")

// Config contains per-reporter submission limits. Zero values disable
// the corresponding window.
type Config struct {
	ReportsPerHour int           `yaml:"reports_per_hour"`
	ReportsPerDay  int           `yaml:"reports_per_day"`
	FlushInterval  time.Duration `yaml:"flush_interval,omitempty"`
}

// Counter tracks one reporter's submission counts.
type Counter struct {
	HourlyCount int       `json:"hourly_count"`
	DailyCount  int       `json:"daily_count"`
	HourStart   time.Time `json:"hour_start"`
	DayStart    time.Time `json:"day_start"`
}

// Limiter enforces per-reporter submission caps.
type Limiter struct {
	db     *bolt.DB
	config Config

	mu       sync.Mutex
	counters map[string]*Counter
	stopCh   chan struct{}
}

// NewLimiter creates a limiter backed by db and starts the flush loop.
func NewLimiter(db *bolt.DB, cfg Config) (*Limiter, error) {
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = 10 * time.Second
	}

	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRateLimits)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limits bucket: %w", err)
	}

	l := &Limiter{
		db:       db,
		config:   cfg,
		counters: make(map[string]*Counter),
		stopCh:   make(chan struct{}),
	}

	if err := l.loadCounters(); err != nil {
		return nil, fmt.Errorf("failed to load counters: %w", err)
	}

	go l.flushLoop()

	return l, nil
}

// Allow reports whether reporterHash may submit now, incrementing the
// counters when it may.
func (l *Limiter) Allow(reporterHash string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	counter, ok := l.counters[reporterHash]
	if !ok {
		counter = &Counter{HourStart: now, DayStart: now}
		l.counters[reporterHash] = counter
	}

	if now.Sub(counter.HourStart) >= time.Hour {
		counter.HourlyCount = 0
		counter.HourStart = now
	}
	if now.Sub(counter.DayStart) >= 24*time.Hour {
		counter.DailyCount = 0
		counter.DayStart = now
	}

	if l.config.ReportsPerHour > 0 && counter.HourlyCount >= l.config.ReportsPerHour {
		return false
	}
	if l.config.ReportsPerDay > 0 && counter.DailyCount >= l.config.ReportsPerDay {
		return false
	}

	counter.HourlyCount++
	counter.DailyCount++
	return true
}

// Stop stops the flush loop and persists counters.
func (l *Limiter) Stop() error {
	close(l.stopCh)
	return l.flush()
}

func (l *Limiter) flushLoop() {
	ticker := time.NewTicker(l.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.flush()
		case <-l.stopCh:
			return
		}
	}
}

func (l *Limiter) flush() error {
	l.mu.Lock()
	snapshot := make(map[string]Counter, len(l.counters))
	now := time.Now()
	for key, c := range l.counters {
		// Drop counters whose windows are fully expired.
		if now.Sub(c.DayStart) >= 24*time.Hour {
			delete(l.counters, key)
			continue
		}
		snapshot[key] = *c
	}
	l.mu.Unlock()

	return l.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketRateLimits); err != nil {
			return err
		}
		bucket, err := tx.CreateBucket(bucketRateLimits)
		if err != nil {
			return err
		}
		for key, c := range snapshot {
			data, err := json.Marshal(c)
			if err != nil {
				return err
			}
			if err := bucket.Put([]byte(key), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (l *Limiter) loadCounters() error {
	return l.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketRateLimits)
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			var c Counter
			if err := json.Unmarshal(v, &c); err != nil {
				return nil
			}
			l.counters[string(k)] = &c
			return nil
		})
	})
}
