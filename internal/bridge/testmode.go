package bridge

import (
	"sync"
	"time"
)

// TestModeStatus is the public view of test mode.
type TestModeStatus struct {
	Enabled bool       `json:"enabled"`
	Expires *time.Time `json:"expires"`
}

// testMode suppresses outbound frames for SET until it expires. Expiry is
// applied lazily on read.
type testMode struct {
	mu      sync.Mutex
	enabled bool
	expires time.Time
	ttl     time.Duration
	now     func() time.Time
}

func newTestMode(ttl time.Duration) *testMode {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &testMode{ttl: ttl, now: time.Now}
}

func (t *testMode) active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.expireLocked()
	return t.enabled
}

func (t *testMode) set(enabled bool) TestModeStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
	if enabled {
		t.expires = t.now().UTC().Add(t.ttl)
	} else {
		t.expires = time.Time{}
	}
	return t.statusLocked()
}

func (t *testMode) status() TestModeStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.expireLocked()
	return t.statusLocked()
}

func (t *testMode) expireLocked() {
	if t.enabled && t.now().After(t.expires) {
		t.enabled = false
		t.expires = time.Time{}
	}
}

func (t *testMode) statusLocked() TestModeStatus {
	st := TestModeStatus{Enabled: t.enabled}
	if t.enabled {
		exp := t.expires
		st.Expires = &exp
	}
	return st
}
