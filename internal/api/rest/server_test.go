package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/KevinKickass/xkop-gateway/internal/api/websocket"
	"github.com/KevinKickass/xkop-gateway/internal/auth"
	"github.com/KevinKickass/xkop-gateway/internal/bridge"
	"github.com/KevinKickass/xkop-gateway/internal/config"
	"github.com/KevinKickass/xkop-gateway/internal/interfaces"
	"github.com/KevinKickass/xkop-gateway/internal/logbuf"
	"github.com/KevinKickass/xkop-gateway/internal/state"
	"github.com/KevinKickass/xkop-gateway/internal/storage"
	"github.com/KevinKickass/xkop-gateway/internal/utmc"
	"github.com/KevinKickass/xkop-gateway/internal/xkop"
	"go.uber.org/zap/zaptest"
)

type nullSender struct {
	mu     sync.Mutex
	frames []xkop.Frame
}

func (n *nullSender) Send(_ context.Context, frames ...xkop.Frame) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.frames = append(n.frames, frames...)
	return nil
}

// fakeGateway is an in-process gateway without transports.
type fakeGateway struct {
	cfg     *config.Config
	store   *state.Store
	bridge  *bridge.Bridge
	buffers *logbuf.Set
	sender  *nullSender

	mu      sync.Mutex
	current config.Gateway
}

func newFakeGateway(t *testing.T) *fakeGateway {
	t.Helper()
	logger := zaptest.NewLogger(t)
	cfg := config.Default()
	store := state.NewStore(logger)
	sender := &nullSender{}
	g := &fakeGateway{
		cfg:     cfg,
		store:   store,
		bridge:  bridge.New(store, sender, bridge.Options{TestModeExpiry: time.Hour}, logger),
		buffers: logbuf.NewSet(100, 10),
		sender:  sender,
	}
	_, err := g.Reconfigure(context.Background(), config.Gateway{
		ControllerIP: "192.0.2.10",
		XKOP:         3,
		Rows: []state.RowConfig{
			{Nr: "1", InSCN: "J01", InFunc: "Dn", InIdx: "1", OutSCN: "J01", OutFunc: "Gn", OutIdx: "1"},
			{Nr: "2", InSCN: "J01", InFunc: "Dn", InIdx: "2", OutSCN: "J01", OutFunc: "Gn", OutIdx: "2"},
		},
	}.Normalize())
	if err != nil {
		t.Fatalf("Reconfigure: %v", err)
	}
	return g
}

func (g *fakeGateway) Config() *config.Config             { return g.cfg }
func (g *fakeGateway) Bridge() *bridge.Bridge             { return g.bridge }
func (g *fakeGateway) Store() *state.Store                { return g.store }
func (g *fakeGateway) LogBuffers() *logbuf.Set            { return g.buffers }
func (g *fakeGateway) Storage() *storage.PostgresClient   { return nil }
func (g *fakeGateway) Shutdown(ctx context.Context) error { return nil }

func (g *fakeGateway) CurrentGateway() config.Gateway {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current
}

func (g *fakeGateway) Reconfigure(_ context.Context, gw config.Gateway) (interfaces.ReconfigureResult, error) {
	if err := g.store.Seed(gw.Rows); err != nil {
		return interfaces.ReconfigureResult{}, err
	}
	g.mu.Lock()
	g.current = gw
	g.mu.Unlock()
	listen, tx := g.ListenAddrs()
	return interfaces.ReconfigureResult{Listen: listen, TX: tx, XKOP: gw.XKOP, Rows: g.store.Len()}, nil
}

func (g *fakeGateway) ListenAddrs() (interfaces.Addr, interfaces.Addr) {
	gw := g.CurrentGateway()
	port := g.cfg.XKOP.Port(gw.XKOP)
	return interfaces.Addr{Host: "0.0.0.0", Port: port}, interfaces.Addr{Host: gw.ControllerIP, Port: port}
}

func (g *fakeGateway) GetCurrentStatus() interfaces.GatewayStatus {
	listen, tx := g.ListenAddrs()
	return interfaces.GatewayStatus{
		State:    "RUNNING",
		Rows:     g.store.Len(),
		TestMode: g.bridge.TestMode().Enabled,
		Listen:   listen,
		TX:       tx,
	}
}

func newTestServer(t *testing.T, authCfg config.AuthConfig) (*Server, *fakeGateway) {
	t.Helper()
	gw := newFakeGateway(t)
	logger := zaptest.NewLogger(t)
	hub := websocket.NewHub(logger, nil)
	srv := NewServer(gw.cfg, gw, logger, hub, auth.NewAuthService(authCfg, logger))
	return srv, gw
}

func do(t *testing.T, srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func oid(t *testing.T, dir utmc.Direction, mnemonic string, pre int) string {
	t.Helper()
	fn, _ := utmc.LookupMnemonic(dir, mnemonic)
	o, err := utmc.Encode(fn.Path, pre, "J01")
	if err != nil {
		t.Fatal(err)
	}
	return o
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, config.AuthConfig{})
	if w := do(t, srv, http.MethodGet, "/health", nil); w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestSnmpSetThenGet(t *testing.T) {
	srv, gw := newTestServer(t, config.AuthConfig{})

	for _, prefix := range []string{"", "/api/v1"} {
		w := do(t, srv, http.MethodPost, prefix+"/snmp/set", fmt.Sprintf(`{"oid":%q,"value":"3"}`, oid(t, utmc.In, "Dn", 1)))
		if w.Code != http.StatusOK {
			t.Fatalf("%s set status = %d", prefix, w.Code)
		}
		if out := decode(t, w); out["ok"] != true || out["value"] != float64(3) {
			t.Fatalf("%s set = %v", prefix, out)
		}
	}
	if len(gw.sender.frames) != 2 {
		t.Fatalf("frames sent = %d, want 2", len(gw.sender.frames))
	}

	gw.bridge.HandleRecords("test", []xkop.Record{xkop.NewRecord(1, 1), xkop.NewRecord(2, 1)})
	w := do(t, srv, http.MethodGet, "/api/v1/snmp/get?oid="+oid(t, utmc.Out, "Gn", 0), nil)
	out := decode(t, w)
	if out["value"] != "3" || out["type"] != "string" {
		t.Fatalf("get = %v", out)
	}
}

func TestSnmpSetRefusal(t *testing.T) {
	srv, _ := newTestServer(t, config.AuthConfig{})
	w := do(t, srv, http.MethodPost, "/api/v1/snmp/set", fmt.Sprintf(`{"oid":%q,"value":1}`, oid(t, utmc.In, "Dn", 0)))
	out := decode(t, w)
	if w.Code != http.StatusOK || out["ok"] != false || out["error"] != "invalid preIndex" || out["code"] != "invalid_preindex" {
		t.Fatalf("refusal = %d %v", w.Code, out)
	}

	for _, value := range []string{`"abc"`, `"1e3000000"`, `1e3000000`} {
		w = do(t, srv, http.MethodPost, "/api/v1/snmp/set", fmt.Sprintf(`{"oid":%q,"value":%s}`, oid(t, utmc.In, "Dn", 1), value))
		if out := decode(t, w); w.Code != http.StatusOK || out["ok"] != false || out["code"] != "invalid_value" {
			t.Fatalf("value %s = %d %v", value, w.Code, out)
		}
	}
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{``, "0"},
		{`null`, "0"},
		{`12`, "12"},
		{`"-4"`, "-4"},
		{`2.9`, "2"},
		{`true`, "1"},
		{`"1e3"`, "1000"},
		{`123456789012345678901234567890`, "123456789012345678901234567890"},
	}
	for _, tt := range tests {
		v, ok := parseValue(json.RawMessage(tt.raw))
		if !ok || v.Cmp(mustBig(tt.want)) != 0 {
			t.Errorf("parseValue(%s) = %v, %v; want %s", tt.raw, v, ok, tt.want)
		}
	}
	for _, raw := range []string{`"x"`, `"1e3000000"`, `1e100000000`, `"-1e78"`, `"` + strings.Repeat("9", 200) + `"`} {
		if v, ok := parseValue(json.RawMessage(raw)); ok {
			t.Errorf("parseValue(%.20s) = %v, want rejection", raw, v.BitLen())
		}
	}
	// widest accepted value
	if v, ok := parseValue(json.RawMessage(`"1e77"`)); !ok || v.BitLen() > 256 {
		t.Errorf("parseValue(1e77) = %v, %v", v, ok)
	}
}

func mustBig(s string) *big.Int {
	v, _ := new(big.Int).SetString(s, 10)
	return v
}

func TestConfigRoundTrip(t *testing.T) {
	srv, gw := newTestServer(t, config.AuthConfig{})

	w := do(t, srv, http.MethodPost, "/api/v1/config", `{"ip":"10.0.0.5","xkop":"4","rows":[{"nr":7,"in_func":"DX","in_idx":"9"}]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", w.Code, w.Body)
	}
	out := decode(t, w)
	if fmt.Sprint(out["listen"]) != "[0.0.0.0 8004]" || fmt.Sprint(out["tx"]) != "[10.0.0.5 8004]" {
		t.Fatalf("addresses = %v / %v", out["listen"], out["tx"])
	}
	if gw.store.Len() != 1 {
		t.Fatalf("rows = %d", gw.store.Len())
	}

	cfg := decode(t, do(t, srv, http.MethodGet, "/api/v1/config", nil))
	if cfg["ip"] != "10.0.0.5" || cfg["instation_ip"] != "127.0.0.1" || cfg["snmp_port"] != float64(161) {
		t.Fatalf("config = %v", cfg)
	}

	w = do(t, srv, http.MethodPost, "/api/v1/config", `{"rows":[{"nr":"1"},{"nr":"1"}]}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("duplicate rows status = %d", w.Code)
	}
	if gw.store.Len() != 1 {
		t.Fatal("failed reconfigure replaced the rows")
	}
}

func TestStateAndTestMode(t *testing.T) {
	srv, gw := newTestServer(t, config.AuthConfig{})

	w := do(t, srv, http.MethodPost, "/api/v1/test/mode", `{"enabled":true}`)
	if out := decode(t, w); out["enabled"] != true || out["expires"] == nil {
		t.Fatalf("test mode = %v", out)
	}

	do(t, srv, http.MethodPost, "/api/v1/snmp/set", fmt.Sprintf(`{"oid":%q,"value":1}`, oid(t, utmc.In, "Dn", 1)))
	if len(gw.sender.frames) != 0 {
		t.Fatal("SET transmitted in test mode")
	}

	st := decode(t, do(t, srv, http.MethodGet, "/api/v1/state", nil))
	rows := st["rows"].([]interface{})
	if len(rows) != 2 || st["test_mode"] != true {
		t.Fatalf("state = %v", st)
	}
	if rows[0].(map[string]interface{})["in_value"] != float64(1) {
		t.Fatalf("row 1 = %v", rows[0])
	}
}

func TestTestInputOutput(t *testing.T) {
	srv, gw := newTestServer(t, config.AuthConfig{})

	out := decode(t, do(t, srv, http.MethodPost, "/api/v1/test/input", `{"key":"2","value":5}`))
	if out["ok"] != true || out["idx"] != float64(2) || out["value"] != float64(5) {
		t.Fatalf("test input = %v", out)
	}
	if len(gw.sender.frames) != 1 {
		t.Fatal("test input did not transmit")
	}

	out = decode(t, do(t, srv, http.MethodPost, "/api/v1/test/output", `{"key":1}`))
	if out["ok"] != true || out["value"] != float64(1) {
		t.Fatalf("test output = %v", out)
	}

	if w := do(t, srv, http.MethodPost, "/api/v1/test/input", `{"key":"nope"}`); w.Code != http.StatusNotFound {
		t.Fatalf("missing row status = %d", w.Code)
	}
	if w := do(t, srv, http.MethodPost, "/test/output", `{"key":"nope"}`); w.Code != http.StatusNotFound {
		t.Fatalf("missing row status = %d", w.Code)
	}
}

func TestLogs(t *testing.T) {
	srv, gw := newTestServer(t, config.AuthConfig{})
	buf, _ := gw.buffers.Get(logbuf.Protocol)
	buf.Append("[12:00:00] RX frame")

	w := do(t, srv, http.MethodGet, "/log/xkop", nil)
	var lines []string
	if err := json.Unmarshal(w.Body.Bytes(), &lines); err != nil || len(lines) != 1 {
		t.Fatalf("lines = %v, %v", lines, err)
	}
	if w := do(t, srv, http.MethodGet, "/api/v1/logs/bogus", nil); w.Code != http.StatusNotFound {
		t.Fatalf("unknown log status = %d", w.Code)
	}
}

func TestDiag(t *testing.T) {
	srv, _ := newTestServer(t, config.AuthConfig{})
	out := decode(t, do(t, srv, http.MethodGet, "/api/v1/diag", nil))
	addrs := out["listen_addrs"].(map[string]interface{})
	if fmt.Sprint(addrs["xkop"]) != "[0.0.0.0 8003]" || out["rows_count"] != float64(2) {
		t.Fatalf("diag = %v", out)
	}

	network := decode(t, do(t, srv, http.MethodGet, "/api/v1/diag/network", nil))
	if _, ok := network["xkop_listener_active"]; !ok {
		t.Fatalf("diag/network = %v", network)
	}
}

func TestHVIProxy(t *testing.T) {
	var (
		mu        sync.Mutex
		requested []string
	)
	controller := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		file := r.URL.Query().Get("file")
		mu.Lock()
		requested = append(requested, file)
		mu.Unlock()
		if file != "XKOPMV5.hvi" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte{'S', 't', 'r', 0xE4, 'e'})
	}))
	defer controller.Close()

	srv, _ := newTestServer(t, config.AuthConfig{})
	host := strings.TrimPrefix(controller.URL, "http://")

	w := do(t, srv, http.MethodGet, "/api/v1/hvi?ip="+host+"&n=3", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got := w.Header().Get("X-HVI-File"); got != "XKOPMV5.hvi" {
		t.Fatalf("X-HVI-File = %q", got)
	}
	if w.Body.String() != "Sträe" {
		t.Fatalf("body = %q", w.Body.String())
	}
	mu.Lock()
	got := strings.Join(requested, ",")
	mu.Unlock()
	if got != "XKOPMV3.hvi,XKOPMV1.hvi,XKOPMV5.hvi" {
		t.Fatalf("requested = %v", got)
	}

	if w := do(t, srv, http.MethodGet, "/api/v1/hvi", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("missing ip status = %d", w.Code)
	}

	controller.Close()
	if w := do(t, srv, http.MethodGet, "/api/v1/hvi?ip="+host, nil); w.Code != http.StatusBadGateway {
		t.Fatalf("unreachable status = %d", w.Code)
	}
}

func TestAuthEnforced(t *testing.T) {
	hash, err := auth.NewPasswordHasher().HashPassword("pw")
	if err != nil {
		t.Fatal(err)
	}
	srv, _ := newTestServer(t, config.AuthConfig{
		Enabled:        true,
		AccessTokenTTL: time.Minute,
		Users:          []config.UserConfig{{Username: "op", PasswordHash: hash, Role: "operator"}},
	})

	if w := do(t, srv, http.MethodGet, "/api/v1/state", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous status = %d", w.Code)
	}

	w := do(t, srv, http.MethodPost, "/api/v1/auth/login", `{"username":"op","password":"pw"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d", w.Code)
	}
	token := decode(t, w)["access_token"].(string)

	call := func(method, path, body string) int {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		return rec.Code
	}
	if code := call(http.MethodGet, "/api/v1/state", ""); code != http.StatusOK {
		t.Fatalf("operator read status = %d", code)
	}
	if code := call(http.MethodPost, "/api/v1/snmp/set", `{"oid":"x"}`); code != http.StatusForbidden {
		t.Fatalf("operator set status = %d", code)
	}
}
