package ratelimit

import (
	"path/filepath"
	"testing"
	"time"

	bolt "go.etcd.io/bbolt"
)

func testDB(t *testing.T) *bolt.DB {
	t.Helper()
	db, err := bolt.Open(filepath.Join(t.TempDir(), "test.db"), 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestAllowHourlyLimit(t *testing.T) {
	db := testDB(t)
	l, err := NewLimiter(db, Config{ReportsPerHour: 3, FlushInterval: time.Hour})
	if err != nil {
		t.Fatalf("NewLimiter failed: %v", err)
	}
	defer l.Stop()

	for i := 0; i < 3; i++ {
		if !l.Allow("r-aaa") {
			t.Fatalf("submission %d blocked below the limit", i+1)
		}
	}
	if l.Allow("r-aaa") {
		t.Error("submission above the hourly limit allowed")
	}
	// Other reporters are unaffected.
	if !l.Allow("r-bbb") {
		t.Error("unrelated reporter blocked")
	}
}

func TestAllowDailyLimit(t *testing.T) {
	db := testDB(t)
	l, err := NewLimiter(db, Config{ReportsPerDay: 2, FlushInterval: time.Hour})
	if err != nil {
		t.Fatalf("NewLimiter failed: %v", err)
	}
	defer l.Stop()

	if !l.Allow("r-aaa") || !l.Allow("r-aaa") {
		t.Fatal("submissions below the daily limit blocked")
	}
	if l.Allow("r-aaa") {
		t.Error("submission above the daily limit allowed")
	}
}

func TestAllowUnlimited(t *testing.T) {
	db := testDB(t)
	l, err := NewLimiter(db, Config{FlushInterval: time.Hour})
	if err != nil {
		t.Fatalf("NewLimiter failed: %v", err)
	}
	defer l.Stop()

	for i := 0; i < 100; i++ {
		if !l.Allow("r-aaa") {
			t.Fatalf("zero-value limits blocked submission %d", i+1)
		}
	}
}

func TestWindowReset(t *testing.T) {
	db := testDB(t)
	l, err := NewLimiter(db, Config{ReportsPerHour: 1, FlushInterval: time.Hour})
	if err != nil {
		t.Fatalf("NewLimiter failed: %v", err)
	}
	defer l.Stop()

	if !l.Allow("r-aaa") {
		t.Fatal("first submission blocked")
	}
	if l.Allow("r-aaa") {
		t.Fatal("second submission in the window allowed")
	}

	// Age the window out manually.
	l.mu.Lock()
	l.counters["r-aaa"].HourStart = time.Now().Add(-2 * time.Hour)
	l.mu.Unlock()

	if !l.Allow("r-aaa") {
		t.Error("submission blocked after the window reset")
	}
}

func TestCountersSurviveRestart(t *testing.T) {
	db := testDB(t)
	cfg := Config{ReportsPerHour: 2, FlushInterval: time.Hour}

	l, err := NewLimiter(db, cfg)
	if err != nil {
		t.Fatalf("NewLimiter failed: %v", err)
	}
	l.Allow("r-aaa")
	l.Allow("r-aaa")
	if err := l.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	restarted, err := NewLimiter(db, cfg)
	if err != nil {
		t.Fatalf("NewLimiter after restart failed: %v", err)
	}
	defer restarted.Stop()

	if restarted.Allow("r-aaa") {
		t.Error("limit forgotten across restart")
	}
}

func TestFlushDropsExpiredCounters(t *testing.T) {
	db := testDB(t)
	l, err := NewLimiter(db, Config{ReportsPerHour: 5, FlushInterval: time.Hour})
	if err != nil {
		t.Fatalf("NewLimiter failed: %v", err)
	}
	defer l.Stop()

	l.Allow("r-stale")
	l.mu.Lock()
	l.counters["r-stale"].DayStart = time.Now().Add(-25 * time.Hour)
	l.mu.Unlock()

	if err := l.flush(); err != nil {
		t.Fatalf("flush failed: %v", err)
	}
	l.mu.Lock()
	_, ok := l.counters["r-stale"]
	l.mu.Unlock()
	if ok {
		t.Error("expired counter kept after flush")
	}
}
