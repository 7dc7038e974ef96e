package state

import (
	"fmt"
	"sync"
	"time"

	"github.com/KevinKickass/xkop-gateway/internal/utmc"
	"go.uber.org/zap"
)

// Change describes one value update.
type Change struct {
	Key       string         `json:"key"`
	Direction utmc.Direction `json:"direction"`
	Value     *int           `json:"value"`
	Row       Row            `json:"row"`
	At        time.Time      `json:"at"`
}

// Store holds the row set. All access goes through one lock; readers get
// copies.
type Store struct {
	mu         sync.RWMutex
	rows       []Row
	byKey      map[string]int
	lastUpdate time.Time
	generation uint64

	observersMu sync.RWMutex
	observers   []func(Change)

	logger *zap.Logger
	now    func() time.Time
}

func NewStore(logger *zap.Logger) *Store {
	return &Store{
		byKey:      make(map[string]int),
		lastUpdate: time.Now(),
		logger:     logger,
		now:        time.Now,
	}
}

// Seed atomically replaces the row set. On error the previous rows stay.
func (s *Store) Seed(configs []RowConfig) error {
	rows := make([]Row, 0, len(configs))
	byKey := make(map[string]int, len(configs))

	for i, cfg := range configs {
		row, err := NewRow(cfg)
		if err != nil {
			return fmt.Errorf("row %d: %w", i+1, err)
		}
		row.Key = rowKey(row, i)
		if prev, dup := byKey[row.Key]; dup {
			return fmt.Errorf("%w: %q used by rows %d and %d", ErrDuplicateKey, row.Key, prev+1, i+1)
		}
		byKey[row.Key] = i
		rows = append(rows, row)
	}

	s.mu.Lock()
	s.rows = rows
	s.byKey = byKey
	s.lastUpdate = s.now()
	s.generation++
	gen := s.generation
	s.mu.Unlock()

	s.logger.Info("Seeded rows from config",
		zap.Int("rows", len(rows)),
		zap.Uint64("generation", gen))
	return nil
}

// Snapshot returns a copy of the current rows.
func (s *Store) Snapshot() []Row {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Row, len(s.rows))
	copy(out, s.rows)
	return out
}

// State returns a copy of the rows together with the last modification time.
func (s *Store) State() ([]Row, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Row, len(s.rows))
	copy(out, s.rows)
	return out, s.lastUpdate
}

// Configs returns the row configuration currently seeded.
func (s *Store) Configs() []RowConfig {
	rows := s.Snapshot()
	out := make([]RowConfig, len(rows))
	for i, r := range rows {
		out[i] = r.Config()
	}
	return out
}

func (s *Store) Row(key string) (Row, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.byKey[key]
	if !ok {
		return Row{}, false
	}
	return s.rows[i], true
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// RowsMatching returns rows whose function and site code for dir equal fn
// and site. Rows with function "-" or empty never match.
func (s *Store) RowsMatching(dir utmc.Direction, fn, site string) []Row {
	rows := s.Snapshot()
	out := make([]Row, 0, 4)
	for _, r := range rows {
		rf := r.Function(dir)
		if rf == "-" || rf == "" {
			continue
		}
		if rf == fn && r.SiteCode(dir) == site {
			out = append(out, r)
		}
	}
	return out
}

// UpdateValue replaces the value of key for dir. A nil value clears it.
func (s *Store) UpdateValue(key string, dir utmc.Direction, value *int) error {
	s.mu.Lock()
	i, ok := s.byKey[key]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrRowNotFound, key)
	}
	var v *int
	if value != nil {
		v = intPtr(*value)
	}
	if dir == utmc.In {
		s.rows[i].InValue = v
	} else {
		s.rows[i].OutValue = v
	}
	s.lastUpdate = s.now()
	change := Change{Key: key, Direction: dir, Value: v, Row: s.rows[i], At: s.lastUpdate}
	s.mu.Unlock()

	s.notify(change)
	return nil
}

func (s *Store) UpdateInValue(key string, value int) error {
	return s.UpdateValue(key, utmc.In, &value)
}

func (s *Store) UpdateOutValue(key string, value int) error {
	return s.UpdateValue(key, utmc.Out, &value)
}

// ApplyOutputIndex sets the output value of every row whose canonical
// output index equals index and returns the keys it touched.
func (s *Store) ApplyOutputIndex(index, value int) []string {
	s.mu.Lock()
	var (
		keys    []string
		changes []Change
	)
	now := s.now()
	for i := range s.rows {
		ridx, ok := s.rows[i].Index(utmc.Out)
		if !ok || ridx != index {
			continue
		}
		s.rows[i].OutValue = intPtr(value)
		keys = append(keys, s.rows[i].Key)
		changes = append(changes, Change{
			Key:       s.rows[i].Key,
			Direction: utmc.Out,
			Value:     s.rows[i].OutValue,
			Row:       s.rows[i],
			At:        now,
		})
	}
	if len(keys) > 0 {
		s.lastUpdate = now
	}
	s.mu.Unlock()

	for _, c := range changes {
		s.notify(c)
	}
	return keys
}

// OnChange registers fn to be called after every value update. Observers
// run outside the store lock.
func (s *Store) OnChange(fn func(Change)) {
	s.observersMu.Lock()
	defer s.observersMu.Unlock()
	s.observers = append(s.observers, fn)
}

func (s *Store) notify(c Change) {
	s.observersMu.RLock()
	observers := s.observers
	s.observersMu.RUnlock()
	for _, fn := range observers {
		fn(c)
	}
}
