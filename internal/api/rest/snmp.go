package rest

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"strings"

	"github.com/KevinKickass/xkop-gateway/internal/bridge"
	"github.com/KevinKickass/xkop-gateway/internal/types"
	"github.com/gin-gonic/gin"
)

type SetRequest struct {
	OID   string          `json:"oid"`
	Value json.RawMessage `json:"value"`
}

// GET /api/v1/snmp/get?oid=
func (s *Server) snmpGet(c *gin.Context) {
	oid := strings.TrimSpace(c.Query("oid"))
	c.JSON(http.StatusOK, s.gw.Bridge().Get(oid))
}

// POST /api/v1/snmp/set
func (s *Server) snmpSet(c *gin.Context) {
	var req SetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeSnmpInvalid, "Invalid request body", types.Detail(err)))
		return
	}

	value, _ := parseValue(req.Value)
	c.JSON(http.StatusOK, s.gw.Bridge().Set(c.Request.Context(), strings.TrimSpace(req.OID), value))
}

// maxValueText bounds the textual form of a SET value before parsing.
const maxValueText = 128

// parseValue accepts a JSON number, a decimal string or a boolean. A
// missing value is 0. Fractions are truncated toward zero. Values wider
// than bridge.MaxValueBits are rejected.
func parseValue(raw json.RawMessage) (*big.Int, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return new(big.Int), true
	}

	text := string(raw)
	switch {
	case text == "true":
		return big.NewInt(1), true
	case text == "false":
		return new(big.Int), true
	case raw[0] == '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, false
		}
		text = strings.TrimSpace(s)
	}

	if len(text) > maxValueText {
		return nil, false
	}
	if v, ok := new(big.Int).SetString(text, 10); ok {
		if v.BitLen() > bridge.MaxValueBits {
			return nil, false
		}
		return v, true
	}
	f, _, err := big.ParseFloat(text, 10, bridge.MaxValueBits, big.ToZero)
	if err != nil || f.IsInf() || f.MantExp(nil) > bridge.MaxValueBits {
		return nil, false
	}
	v, _ := f.Int(nil)
	return v, true
}
