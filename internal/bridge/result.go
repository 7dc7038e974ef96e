package bridge

import (
	"encoding/json"
	"math/big"

	"github.com/KevinKickass/xkop-gateway/internal/utmc"
)

// Reason explains why a SET was refused.
type Reason string

const (
	ReasonNotUTMC         Reason = "not_utmc_oid"
	ReasonWrongDirection  Reason = "wrong_direction"
	ReasonInvalidPreIndex Reason = "invalid_preindex"
	ReasonUnknownFunction Reason = "unknown_function"
	ReasonNotConfigured   Reason = "not_configured"
	ReasonNoIndex         Reason = "no_index"
	ReasonInvalidValue    Reason = "invalid_value"
)

// Message is the operator-facing text for r.
func (r Reason) Message() string {
	switch r {
	case ReasonNotUTMC:
		return "not UTMC OID"
	case ReasonWrongDirection:
		return "wrong direction"
	case ReasonInvalidPreIndex:
		return "invalid preIndex"
	case ReasonUnknownFunction:
		return "unknown function"
	case ReasonNotConfigured:
		return "not configured"
	case ReasonNoIndex:
		return "no XKOP index configured"
	case ReasonInvalidValue:
		return "invalid value"
	default:
		return string(r)
	}
}

// SetResult is the outcome of a SET.
type SetResult struct {
	OK       bool     `json:"ok"`
	OID      string   `json:"oid"`
	Value    *big.Int `json:"value,omitempty"`
	Reason   Reason   `json:"code,omitempty"`
	Function string   `json:"function,omitempty"`
	Rows     int      `json:"rows"`
	Frames   int      `json:"frames"`
	TestMode bool     `json:"test_mode"`
}

func (r SetResult) MarshalJSON() ([]byte, error) {
	type alias SetResult
	out := struct {
		alias
		Error string `json:"error,omitempty"`
	}{alias: alias(r)}
	if !r.OK {
		out.Error = r.Reason.Message()
	}
	return json.Marshal(out)
}

func refused(oid string, reason Reason) SetResult {
	return SetResult{OID: oid, Reason: reason}
}

// Reading is the value a GET produced.
type Reading struct {
	OID   string
	Value *big.Int
	Kind  utmc.Kind
}

func zeroReading(oid string) Reading {
	return Reading{OID: oid, Value: new(big.Int), Kind: utmc.Scalar}
}

// Type reports the wire type: bitmasks travel as strings, scalars as integers.
func (r Reading) Type() string {
	if r.Kind == utmc.Bitmask {
		return "string"
	}
	return "integer"
}

func (r Reading) MarshalJSON() ([]byte, error) {
	var value any = r.Value
	if r.Kind == utmc.Bitmask {
		value = r.Value.String()
	}
	return json.Marshal(struct {
		OID   string `json:"oid"`
		Value any    `json:"value"`
		Type  string `json:"type"`
	}{r.OID, value, r.Type()})
}
