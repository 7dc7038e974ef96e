package bridge

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/KevinKickass/xkop-gateway/internal/logbuf"
	"github.com/KevinKickass/xkop-gateway/internal/state"
	"github.com/KevinKickass/xkop-gateway/internal/utmc"
	"github.com/KevinKickass/xkop-gateway/internal/xkop"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// FrameSender transmits frames to the controller.
type FrameSender interface {
	Send(ctx context.Context, frames ...xkop.Frame) error
}

// MaxValueBits bounds the magnitude of a SET value. Bitmask rows address
// at most 256 indexes and scalar rows carry an int64.
const MaxValueBits = 256

type Options struct {
	// LenientPreIndex lets GET accept output preIndex 1 as well as 0.
	LenientPreIndex bool
	TestModeExpiry  time.Duration
}

// Bridge translates control-plane GET/SET into row updates and XKOP
// frames, and applies inbound frames to the row set.
type Bridge struct {
	store    *state.Store
	sender   FrameSender
	opts     Options
	testMode *testMode

	control  *zap.Logger
	protocol *zap.Logger

	auditMu sync.RWMutex
	audit   AuditSink
}

func New(store *state.Store, sender FrameSender, opts Options, logger *zap.Logger) *Bridge {
	return &Bridge{
		store:    store,
		sender:   sender,
		opts:     opts,
		testMode: newTestMode(opts.TestModeExpiry),
		control:  logger.Named(logbuf.Control),
		protocol: logger.Named(logbuf.Protocol),
	}
}

// SetAuditSink installs a journal for SET requests; nil disables it.
func (b *Bridge) SetAuditSink(sink AuditSink) {
	b.auditMu.Lock()
	defer b.auditMu.Unlock()
	b.audit = sink
}

func (b *Bridge) acceptsOutputPreIndex(pre int) bool {
	return pre == 0 || (b.opts.LenientPreIndex && pre == 1)
}

// bitFor maps an XKOP index to its bitmask position.
func bitFor(idx int) int {
	if idx < 1 {
		return 0
	}
	return idx - 1
}

// Get answers a GET for an output object. Anything that cannot be answered
// yields a zero integer reading.
func (b *Bridge) Get(oid string) Reading {
	res, err := utmc.Resolve(oid)
	if err != nil {
		b.control.Debug("GET ignored", zap.String("oid", oid), zap.Error(err))
		return zeroReading(oid)
	}
	if res.Direction != utmc.Out || !b.acceptsOutputPreIndex(res.PreIndex) || !res.Known {
		b.control.Debug("GET not answerable",
			zap.String("oid", oid),
			zap.String("direction", string(res.Direction)),
			zap.Int("pre_index", res.PreIndex),
			zap.String("function", res.Function))
		return zeroReading(oid)
	}

	rows := b.store.RowsMatching(utmc.Out, res.Function, res.SiteCode)
	if len(rows) == 0 {
		return zeroReading(oid)
	}

	if res.Kind == utmc.Bitmask {
		mask := new(big.Int)
		for _, r := range rows {
			idx, ok := r.Index(utmc.Out)
			if !ok {
				continue
			}
			if v := r.OutValue; v != nil && *v != 0 {
				mask.SetBit(mask, bitFor(idx), 1)
			}
		}
		b.control.Info("GET",
			zap.String("oid", oid),
			zap.String("function", res.Function),
			zap.String("scn", res.SiteCode),
			zap.String("value", mask.String()),
			zap.String("hex", fmt.Sprintf("0x%02X", mask)))
		return Reading{OID: oid, Value: mask, Kind: utmc.Bitmask}
	}

	val := 0
	if v := rows[0].OutValue; v != nil {
		val = *v
	}
	b.control.Info("GET",
		zap.String("oid", oid),
		zap.String("function", res.Function),
		zap.String("scn", res.SiteCode),
		zap.Int("value", val))
	return Reading{OID: oid, Value: big.NewInt(int64(val)), Kind: utmc.Scalar}
}

// Set applies a SET to an input object and transmits the resulting
// records unless test mode is active.
func (b *Bridge) Set(ctx context.Context, oid string, value *big.Int) SetResult {
	res, err := utmc.Resolve(oid)
	result := b.set(ctx, oid, res, err, value)
	b.journal(ctx, res, value, result)
	return result
}

func (b *Bridge) set(ctx context.Context, oid string, res utmc.Resolution, resolveErr error, value *big.Int) SetResult {
	if value == nil || value.BitLen() > MaxValueBits {
		return refused(oid, ReasonInvalidValue)
	}
	if resolveErr != nil {
		return refused(oid, ReasonNotUTMC)
	}
	if res.Direction != utmc.In {
		return refused(oid, ReasonWrongDirection)
	}
	if res.PreIndex != 1 {
		b.control.Info("SET ignored, inputs require preIndex 1",
			zap.String("oid", oid),
			zap.Int("pre_index", res.PreIndex))
		return refused(oid, ReasonInvalidPreIndex)
	}
	if !res.Known {
		return refused(oid, ReasonUnknownFunction)
	}

	rows := b.store.RowsMatching(utmc.In, res.Function, res.SiteCode)
	if len(rows) == 0 {
		return refused(oid, ReasonNotConfigured)
	}

	b.control.Info("SET",
		zap.String("oid", oid),
		zap.String("function", res.Function),
		zap.String("scn", res.SiteCode),
		zap.String("value", value.String()),
		zap.Int("rows", len(rows)))

	var records []xkop.Record
	if res.Kind == utmc.Bitmask {
		for _, r := range rows {
			idx, ok := r.Index(utmc.In)
			if !ok {
				b.control.Warn("Row has no input index", zap.String("row", r.Key))
				continue
			}
			bit := int(value.Bit(bitFor(idx)))
			if err := b.store.UpdateInValue(r.Key, bit); err != nil {
				b.control.Warn("Row vanished during SET", zap.String("row", r.Key), zap.Error(err))
			}
			records = append(records, xkop.NewRecord(idx, bit))
		}
	} else {
		if !value.IsInt64() {
			return refused(oid, ReasonInvalidValue)
		}
		r := rows[0]
		idx, ok := r.Index(utmc.In)
		if ok {
			v := int(value.Int64())
			if err := b.store.UpdateInValue(r.Key, v); err != nil {
				b.control.Warn("Row vanished during SET", zap.String("row", r.Key), zap.Error(err))
			}
			records = append(records, xkop.NewRecord(idx, v))
		}
	}
	if len(records) == 0 {
		return refused(oid, ReasonNoIndex)
	}

	result := SetResult{
		OK:       true,
		OID:      oid,
		Value:    new(big.Int).Set(value),
		Function: res.Function,
		Rows:     len(rows),
	}

	if b.testMode.active() {
		result.TestMode = true
		b.protocol.Info("TX suppressed, test mode active",
			zap.String("function", res.Function),
			zap.Any("records", records))
		return result
	}

	frames := xkop.Batch(records)
	if err := b.sender.Send(ctx, frames...); err != nil {
		b.protocol.Warn("TX incomplete", zap.String("function", res.Function), zap.Error(err))
	}
	result.Frames = len(frames)
	b.protocol.Info("TX "+res.Kind.String(),
		zap.String("function", res.Function),
		zap.Any("records", records),
		zap.Int("frames", len(frames)))
	return result
}

func (b *Bridge) journal(ctx context.Context, res utmc.Resolution, value *big.Int, result SetResult) {
	b.auditMu.RLock()
	sink := b.audit
	b.auditMu.RUnlock()
	if sink == nil {
		return
	}

	ev := SetEvent{
		ID:       uuid.New(),
		OID:      result.OID,
		Function: res.Function,
		SiteCode: res.SiteCode,
		OK:       result.OK,
		Reason:   string(result.Reason),
		Frames:   result.Frames,
		TestMode: result.TestMode,
		At:       time.Now().UTC(),
	}
	if value != nil && value.BitLen() <= MaxValueBits {
		ev.Value = value.String()
	}
	if err := sink.RecordSet(ctx, ev); err != nil {
		b.control.Warn("Failed to journal SET", zap.String("oid", result.OID), zap.Error(err))
	}
}

// HandleRecords applies records received from the controller to every row
// whose canonical output index matches.
func (b *Bridge) HandleRecords(source string, records []xkop.Record) {
	for _, rec := range records {
		keys := b.store.ApplyOutputIndex(int(rec.Index), int(rec.Value))
		for _, k := range keys {
			b.protocol.Info("Updated output row",
				zap.String("row", k),
				zap.Int("idx", int(rec.Index)),
				zap.Int("value", int(rec.Value)),
				zap.String("from", source))
		}
	}
}

// TestInputResult reports the record TestInput transmitted.
type TestInputResult struct {
	Index int `json:"idx"`
	Value int `json:"value"`
}

// TestInput sets a row's input value by key and transmits it as a single
// record, regardless of test mode.
func (b *Bridge) TestInput(ctx context.Context, key string, value int) (TestInputResult, error) {
	row, ok := b.store.Row(key)
	if !ok {
		return TestInputResult{}, fmt.Errorf("%w: %q", state.ErrRowNotFound, key)
	}

	idx := testIndex(row)
	if err := b.store.UpdateInValue(key, value); err != nil {
		return TestInputResult{}, err
	}

	frame := xkop.Build([]xkop.Record{xkop.NewRecord(idx, value)})
	if err := b.sender.Send(ctx, frame); err != nil {
		b.protocol.Warn("Test TX incomplete", zap.String("row", key), zap.Error(err))
	}
	b.protocol.Info("Test TX", zap.String("row", key), zap.Int("idx", idx), zap.Int("value", value))
	return TestInputResult{Index: idx, Value: value}, nil
}

// testIndex uses the canonical input index, then nr, then 0.
func testIndex(row state.Row) int {
	if idx, ok := row.Index(utmc.In); ok {
		return idx
	}
	v, err := strconv.Atoi(strings.TrimSpace(row.Nr))
	if err != nil {
		return 0
	}
	return v & 0xFF
}

// TestOutput sets a row's output value by key without touching the wire.
func (b *Bridge) TestOutput(key string, value int) error {
	if err := b.store.UpdateOutValue(key, value); err != nil {
		return err
	}
	b.control.Info("Test output", zap.String("row", key), zap.Int("value", value))
	return nil
}

func (b *Bridge) SetTestMode(enabled bool) TestModeStatus {
	st := b.testMode.set(enabled)
	b.control.Info("Test mode changed", zap.Bool("enabled", st.Enabled))
	return st
}

func (b *Bridge) TestMode() TestModeStatus {
	return b.testMode.status()
}
