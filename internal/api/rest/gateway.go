package rest

import (
	"errors"
	"net"
	"net/http"
	"os"
	"strconv"

	"github.com/KevinKickass/xkop-gateway/internal/api/websocket"
	"github.com/KevinKickass/xkop-gateway/internal/config"
	"github.com/KevinKickass/xkop-gateway/internal/logbuf"
	"github.com/KevinKickass/xkop-gateway/internal/state"
	"github.com/KevinKickass/xkop-gateway/internal/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const logTailLines = 400

// ConfigRequest is the POST /config body. Numbers may arrive as strings.
type ConfigRequest struct {
	IP          string            `json:"ip"`
	InstationIP string            `json:"instation_ip"`
	XKOP        state.Field       `json:"xkop"`
	SNMPPort    state.Field       `json:"snmp_port"`
	Rows        []state.RowConfig `json:"rows"`
}

func (r ConfigRequest) gateway() config.Gateway {
	return config.Gateway{
		ControllerIP: r.IP,
		InstationIP:  r.InstationIP,
		XKOP:         atoiOr(r.XKOP.String(), 1),
		SNMPPort:     atoiOr(r.SNMPPort.String(), 161),
		Rows:         r.Rows,
	}.Normalize()
}

func atoiOr(s string, def int) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

type TestValueRequest struct {
	Key   state.Field `json:"key"`
	Value *int        `json:"value"`
}

func (r TestValueRequest) value() int {
	if r.Value == nil {
		return 1
	}
	return *r.Value
}

// GET /api/v1/config
func (s *Server) getConfig(c *gin.Context) {
	c.JSON(http.StatusOK, s.gw.CurrentGateway())
}

// POST /api/v1/config
func (s *Server) saveConfig(c *gin.Context) {
	var req ConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeConfigInvalid, "Invalid request body", types.Detail(err)))
		return
	}

	result, err := s.gw.Reconfigure(c.Request.Context(), req.gateway())
	if err != nil {
		if errors.Is(err, state.ErrDuplicateKey) || errors.Is(err, state.ErrInvalidIndex) {
			c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeConfigInvalid, "Invalid row table", types.Detail(err)))
			return
		}
		s.logger.Error("Reconfigure failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse(types.CodeConfigApply, "Failed to apply configuration", types.Detail(err)))
		return
	}

	s.wsHub.Broadcast(websocket.NewMessage(websocket.MessageTypeReconfigured, websocket.ReconfiguredData{
		Rows:   result.Rows,
		Listen: result.Listen.String(),
		TX:     result.TX.String(),
	}))

	c.JSON(http.StatusOK, gin.H{
		"ok":     true,
		"listen": result.Listen,
		"tx":     result.TX,
		"xkop":   result.XKOP,
	})
}

// GET /api/v1/state
func (s *Server) getState(c *gin.Context) {
	rows, lastUpdate := s.gw.Store().State()
	mode := s.gw.Bridge().TestMode()
	c.JSON(http.StatusOK, gin.H{
		"rows":        rows,
		"last_update": lastUpdate,
		"test_mode":   mode.Enabled,
		"expires":     mode.Expires,
	})
}

// GET /api/v1/test/mode
func (s *Server) getTestMode(c *gin.Context) {
	c.JSON(http.StatusOK, s.gw.Bridge().TestMode())
}

// POST /api/v1/test/mode
func (s *Server) setTestMode(c *gin.Context) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeTestInvalid, "Invalid request body", types.Detail(err)))
		return
	}

	st := s.gw.Bridge().SetTestMode(req.Enabled)
	s.wsHub.Broadcast(websocket.NewMessage(websocket.MessageTypeTestMode, websocket.TestModeData{
		Enabled: st.Enabled,
		Expires: st.Expires,
	}))

	c.JSON(http.StatusOK, gin.H{
		"ok":      true,
		"enabled": st.Enabled,
		"expires": st.Expires,
	})
}

// POST /api/v1/test/input
func (s *Server) testInput(c *gin.Context) {
	var req TestValueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeTestInvalid, "Invalid request body", types.Detail(err)))
		return
	}

	res, err := s.gw.Bridge().TestInput(c.Request.Context(), req.Key.String(), req.value())
	if err != nil {
		s.rowError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":    true,
		"idx":   res.Index,
		"value": res.Value,
	})
}

// POST /api/v1/test/output
func (s *Server) testOutput(c *gin.Context) {
	var req TestValueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeTestInvalid, "Invalid request body", types.Detail(err)))
		return
	}

	if err := s.gw.Bridge().TestOutput(req.Key.String(), req.value()); err != nil {
		s.rowError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":    true,
		"value": req.value(),
	})
}

func (s *Server) rowError(c *gin.Context, err error) {
	if errors.Is(err, state.ErrRowNotFound) {
		c.JSON(http.StatusNotFound, types.NewErrorResponse(types.CodeRowNotFound, "Row not found", types.Detail(err)))
		return
	}
	c.JSON(http.StatusInternalServerError, types.NewErrorResponse(types.CodeRowUpdate, "Failed to update row", types.Detail(err)))
}

// logAliases maps the historical log names onto buffer names.
var logAliases = map[string]string{
	"snmp": logbuf.Control,
	"xkop": logbuf.Protocol,
	"app":  logbuf.General,
}

// GET /api/v1/logs/:subsystem
func (s *Server) getLog(c *gin.Context) {
	name := c.Param("subsystem")
	if alias, ok := logAliases[name]; ok {
		name = alias
	}

	buf, ok := s.gw.LogBuffers().Get(name)
	if !ok {
		c.JSON(http.StatusNotFound, types.NewErrorResponse(types.CodeLogUnknown, "Unknown log", gin.H{
			"available": s.gw.LogBuffers().Names(),
		}))
		return
	}

	c.JSON(http.StatusOK, buf.Tail(logTailLines))
}

// GET /api/v1/diag
func (s *Server) diag(c *gin.Context) {
	listen, tx := s.gw.ListenAddrs()
	status := s.gw.GetCurrentStatus()
	c.JSON(http.StatusOK, gin.H{
		"listen_addrs": gin.H{
			"xkop":    listen,
			"xkop_tx": tx,
		},
		"config":       s.gw.CurrentGateway(),
		"test_mode":    status.TestMode,
		"rows_count":   status.Rows,
		"stream_state": status.StreamState,
		"transport":    status.Transport,
	})
}

// GET /api/v1/diag/network
func (s *Server) diagNetwork(c *gin.Context) {
	status := s.gw.GetCurrentStatus()
	results := gin.H{
		"xkop_listener_active": status.ListenerActive,
		"xkop_stream_state":    status.StreamState,
	}

	hostname, err := os.Hostname()
	if err != nil {
		results["hostname_error"] = err.Error()
		c.JSON(http.StatusOK, results)
		return
	}
	results["hostname"] = hostname

	if addrs, err := net.LookupHost(hostname); err != nil {
		results["local_ip_error"] = err.Error()
	} else {
		results["local_ip"] = firstIPv4(addrs)
	}

	c.JSON(http.StatusOK, results)
}

func firstIPv4(addrs []string) string {
	for _, a := range addrs {
		if ip := net.ParseIP(a); ip != nil && ip.To4() != nil {
			return a
		}
	}
	if len(addrs) > 0 {
		return addrs[0]
	}
	return ""
}
