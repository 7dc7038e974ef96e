package rest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/KevinKickass/xkop-gateway/internal/config"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxHVISize = 4 << 20

// hviFetcher pulls controller HVI files over plain HTTP.
type hviFetcher struct {
	client    *http.Client
	fallbacks []int
}

func newHVIFetcher(cfg config.HVIConfig) *hviFetcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 6 * time.Second
	}
	return &hviFetcher{
		client:    &http.Client{Timeout: timeout},
		fallbacks: cfg.Fallbacks,
	}
}

// candidates lists the file names to try for n, without repeats.
func (h *hviFetcher) candidates(n int) []string {
	seen := make(map[int]bool)
	var names []string
	for _, v := range append([]int{n}, h.fallbacks...) {
		if seen[v] {
			continue
		}
		seen[v] = true
		names = append(names, fmt.Sprintf("XKOPMV%d.hvi", v))
	}
	return names
}

func (h *hviFetcher) fetch(ctx context.Context, host, file string) (string, error) {
	u := url.URL{
		Scheme:   "http",
		Host:     host,
		Path:     "/hvi",
		RawQuery: url.Values{"file": {file}}.Encode(),
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return "", fmt.Errorf("controller returned %s", resp.Status)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxHVISize))
	if err != nil {
		return "", err
	}
	return decodeHVI(raw), nil
}

// decodeHVI returns raw as UTF-8, reading it as Latin-1 when it is not valid UTF-8.
func decodeHVI(raw []byte) string {
	if utf8.Valid(raw) {
		return string(raw)
	}
	var sb strings.Builder
	sb.Grow(len(raw))
	for _, b := range raw {
		sb.WriteRune(rune(b))
	}
	return sb.String()
}

// GET /api/v1/hvi?ip=&n=
func (s *Server) getHVI(c *gin.Context) {
	host := strings.TrimSpace(c.Query("ip"))
	if host == "" {
		c.String(http.StatusBadRequest, "Missing ip")
		return
	}
	n, err := strconv.Atoi(c.DefaultQuery("n", "1"))
	if err != nil {
		n = 1
	}

	for _, file := range s.hvi.candidates(n) {
		text, err := s.hvi.fetch(c.Request.Context(), host, file)
		if err != nil {
			s.logger.Debug("HVI fetch failed",
				zap.String("host", host),
				zap.String("file", file),
				zap.Error(err))
			continue
		}
		c.Header("X-HVI-File", file)
		c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(text))
		return
	}

	s.logger.Warn("HVI fetch exhausted all candidates", zap.String("host", host), zap.Int("n", n))
	c.String(http.StatusBadGateway, "ERROR: could not fetch")
}
