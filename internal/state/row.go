package state

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/KevinKickass/xkop-gateway/internal/utmc"
)

var (
	ErrRowNotFound  = errors.New("row not found")
	ErrDuplicateKey = errors.New("duplicate row key")
	ErrInvalidIndex = errors.New("invalid XKOP index")
)

// Field is a row attribute that may arrive as a JSON string or number.
type Field string

func (f *Field) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = Field(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("row field must be a string or number: %w", err)
	}
	*f = Field(n.String())
	return nil
}

// UnmarshalTOML lets TOML row tables use bare integers for indexes.
func (f *Field) UnmarshalTOML(v any) error {
	switch t := v.(type) {
	case string:
		*f = Field(t)
	case int64:
		*f = Field(strconv.FormatInt(t, 10))
	case nil:
		*f = ""
	default:
		return fmt.Errorf("row field must be a string or integer, got %T", v)
	}
	return nil
}

func (f Field) String() string { return strings.TrimSpace(string(f)) }

// RowConfig is one configured mapping between a control-plane object and
// an XKOP index pair.
type RowConfig struct {
	Nr      Field `json:"nr" yaml:"nr" toml:"nr"`
	Input   Field `json:"input" yaml:"input" toml:"input"`
	InSCN   Field `json:"in_scn" yaml:"in_scn" toml:"in_scn"`
	InFunc  Field `json:"in_func" yaml:"in_func" toml:"in_func"`
	InIdx   Field `json:"in_idx" yaml:"in_idx" toml:"in_idx"`
	Output  Field `json:"output" yaml:"output" toml:"output"`
	OutSCN  Field `json:"out_scn" yaml:"out_scn" toml:"out_scn"`
	OutFunc Field `json:"out_func" yaml:"out_func" toml:"out_func"`
	OutIdx  Field `json:"out_idx" yaml:"out_idx" toml:"out_idx"`
}

// Row is the runtime form of a RowConfig plus the last known values.
// Values are replaced, never written through, so copies are safe to share.
type Row struct {
	Key      string `json:"key"`
	Nr       string `json:"nr"`
	Input    string `json:"input"`
	InSCN    string `json:"in_scn"`
	InFunc   string `json:"in_func"`
	InIdx    string `json:"in_idx"`
	InValue  *int   `json:"in_value"`
	Output   string `json:"output"`
	OutSCN   string `json:"out_scn"`
	OutFunc  string `json:"out_func"`
	OutIdx   string `json:"out_idx"`
	OutValue *int   `json:"out_value"`

	inIndexes  []int
	outIndexes []int
}

// NewRow validates cfg and parses its index lists once.
func NewRow(cfg RowConfig) (Row, error) {
	r := Row{
		Nr:      cfg.Nr.String(),
		Input:   cfg.Input.String(),
		InSCN:   cfg.InSCN.String(),
		InFunc:  defaultFunc(cfg.InFunc.String()),
		InIdx:   cfg.InIdx.String(),
		Output:  cfg.Output.String(),
		OutSCN:  cfg.OutSCN.String(),
		OutFunc: defaultFunc(cfg.OutFunc.String()),
		OutIdx:  cfg.OutIdx.String(),
	}

	var err error
	if r.inIndexes, err = parseIndexes(r.InIdx); err != nil {
		return Row{}, fmt.Errorf("in_idx: %w", err)
	}
	if r.outIndexes, err = parseIndexes(r.OutIdx); err != nil {
		return Row{}, fmt.Errorf("out_idx: %w", err)
	}
	return r, nil
}

func defaultFunc(fn string) string {
	if fn == "" {
		return "-"
	}
	return fn
}

// parseIndexes accepts "", "7" or "7,8,9". The first entry is canonical.
func parseIndexes(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := strconv.Atoi(p)
		if err != nil || v < 0 || v > 255 {
			return nil, fmt.Errorf("%w: %q", ErrInvalidIndex, p)
		}
		out = append(out, v)
	}
	return out, nil
}

// Config returns the configuration the row was built from.
func (r Row) Config() RowConfig {
	return RowConfig{
		Nr: Field(r.Nr), Input: Field(r.Input),
		InSCN: Field(r.InSCN), InFunc: Field(r.InFunc), InIdx: Field(r.InIdx),
		Output: Field(r.Output),
		OutSCN: Field(r.OutSCN), OutFunc: Field(r.OutFunc), OutIdx: Field(r.OutIdx),
	}
}

// Index returns the canonical XKOP index for dir.
func (r Row) Index(dir utmc.Direction) (int, bool) {
	idx := r.outIndexes
	if dir == utmc.In {
		idx = r.inIndexes
	}
	if len(idx) == 0 {
		return 0, false
	}
	return idx[0], true
}

// Indexes returns every configured index for dir, canonical first.
func (r Row) Indexes(dir utmc.Direction) []int {
	src := r.outIndexes
	if dir == utmc.In {
		src = r.inIndexes
	}
	out := make([]int, len(src))
	copy(out, src)
	return out
}

func (r Row) Function(dir utmc.Direction) string {
	if dir == utmc.In {
		return r.InFunc
	}
	return r.OutFunc
}

func (r Row) SiteCode(dir utmc.Direction) string {
	if dir == utmc.In {
		return r.InSCN
	}
	return r.OutSCN
}

func (r Row) Value(dir utmc.Direction) *int {
	if dir == utmc.In {
		return r.InValue
	}
	return r.OutValue
}

// rowKey picks nr, then the input label, then the 1-based position.
func rowKey(r Row, position int) string {
	if r.Nr != "" {
		return r.Nr
	}
	if r.Input != "" {
		return r.Input
	}
	return strconv.Itoa(position + 1)
}

func intPtr(v int) *int { return &v }
