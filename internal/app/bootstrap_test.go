package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ratekeeper/internal/domain"
)

func newFeedServer(t *testing.T) *httptest.Server {
	t.Helper()
	bodies := map[string]string{
		"/tracker":    `[{"symbol":"KNC","rateETH":0.002,"rateUSD":4,"change24hETH":0,"change24hUSD":0}]`,
		"/rates/eth":  `{"data":[{"source":"DAI","dest":"ETH","rate":"500000000000000","decimals":18}]}`,
		"/rates/usd":  `{"data":[{"source":"DAI","dest":"USD","rate":"1000000000000000000","decimals":18}]}`,
		"/production": `{"data":[{"source":"KNC","dest":"DAI","rate":"4000000000000000000"}]}`,
		"/gas":        `{"gasPrice":{"default":"20","low":"10","standard":"15","fast":"25"}}`,
		"/gas/max":    `{"data":"90000000000"}`,
	}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := bodies[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(body))
	}))
}

func writeConfig(t *testing.T, feedURL string) string {
	t.Helper()
	dir := t.TempDir()
	yaml := strings.NewReplacer("{{feed}}", feedURL, "{{dir}}", dir).Replace(`
feeds:
  tracker_url: {{feed}}/tracker
  exchange_eth_url: {{feed}}/rates/eth
  exchange_usd_url: {{feed}}/rates/usd
  production_url: {{feed}}/production
  gas_current_url: {{feed}}/gas
  gas_max_url: {{feed}}/gas/max
tokens:
  overrides:
    knc: { leg: 400000 }
storage:
  path: {{dir}}/test.db
server:
  addr: 127.0.0.1:0
logging:
  level: error
  dir: {{dir}}/logs
`)
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestBootstrap_EndToEnd(t *testing.T) {
	feeds := newFeedServer(t)
	defer feeds.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := NewBootstrap()
	if err := b.Initialize(ctx, writeConfig(t, feeds.URL)); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	if b.Node != nil {
		t.Fatal("No node should be dialed without an RPC URL")
	}

		done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	deadline := time.Now().Add(3 * time.Second)
	for {
		_, okTracker := b.Rates.Cache().TrackerRate("KNC")
		_, okRate := b.Rates.Cache().CachedProductionRate("KNC", "DAI")
		gasReady := b.Gas.Max().String() == "90000000000" && !b.Gas.LastSuccess().IsZero()
		if okTracker && okRate && gasReady {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Timeout waiting for first refresh")
		}
		time.Sleep(10 * time.Millisecond)
	}

	w := httptest.NewRecorder()
	b.Server.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/rates/KNC/ETH", nil))
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 from rates API, got %d: %s", w.Code, w.Body.String())
	}

	if got := b.Limits.LegLimit("KNC"); got != 400000 {
		t.Errorf("Expected configured KNC leg, got %d", got)
	}

	w = httptest.NewRecorder()
	b.Server.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(w.Body.String(), `ratekeeper_feed_fetch_total{feed="`+domain.FeedTracker+`",result="success"}`) {
		t.Error("Expected tracker fetch metric to be exported")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
