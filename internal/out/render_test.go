package out

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"

	"github.com/ggonzalez94/cdp-cli/internal/config"
	"github.com/ggonzalez94/cdp-cli/internal/model"
)

func TestRenderJSONSelectResultsOnly(t *testing.T) {
	env := model.Envelope{
		Version: "v1",
		Success: true,
		Data:    []map[string]any{{"a": 1, "b": 2}},
		Meta:    model.EnvelopeMeta{Timestamp: time.Now()},
	}
	settings := config.Settings{OutputMode: "json", SelectFields: []string{"a"}, ResultsOnly: true}
	var buf bytes.Buffer
	if err := Render(&buf, env, settings); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	var out []map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	if len(out) != 1 || out[0]["a"].(float64) != 1 {
		t.Fatalf("unexpected output: %s", buf.String())
	}
	if _, ok := out[0]["b"]; ok {
		t.Fatalf("field projection failed: %s", buf.String())
	}
}

func TestRenderSelectKeepsLargeIntegers(t *testing.T) {
	const maxUint = "115792089237316195423570985008687907853269984665640564039457584007913129639935"
	env := model.Envelope{
		Version: "v1",
		Success: true,
		Data:    map[string]any{"amount": json.Number(maxUint), "other": 1},
	}
	settings := config.Settings{OutputMode: "json", SelectFields: []string{"amount"}, ResultsOnly: true}
	var buf bytes.Buffer
	if err := Render(&buf, env, settings); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if strings.TrimSpace(buf.String()) != `{
  "amount": `+maxUint+`
}` {
		t.Fatalf("unexpected output: %s", buf.String())
	}
}

func TestRenderPlain(t *testing.T) {
	env := model.Envelope{
		Version: "v1",
		Success: true,
		Data:    []map[string]any{{"name": "x", "score": 42}},
		Meta:    model.EnvelopeMeta{Timestamp: time.Now()},
	}
	settings := config.Settings{OutputMode: "plain", ResultsOnly: true}
	var buf bytes.Buffer
	if err := Render(&buf, env, settings); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !strings.Contains(buf.String(), "name=x") {
		t.Fatalf("unexpected plain output: %s", buf.String())
	}
}

func TestRenderPlainColorsStatus(t *testing.T) {
	prev := color.NoColor
	color.NoColor = false
	t.Cleanup(func() { color.NoColor = prev })

	env := model.Envelope{
		Version: "v1",
		Success: true,
		Data:    []map[string]any{{"id": "a", "status": "completed"}, {"id": "b", "status": "failed"}},
	}
	settings := config.Settings{OutputMode: "plain", ResultsOnly: true}
	var buf bytes.Buffer
	if err := Render(&buf, env, settings); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected two lines, got %q", buf.String())
	}
	if !strings.Contains(lines[0], color.GreenString("completed")) {
		t.Fatalf("expected green completed status, got %q", lines[0])
	}
	if !strings.Contains(lines[1], color.RedString("failed")) {
		t.Fatalf("expected red failed status, got %q", lines[1])
	}
}

func TestRenderPlainOrdersSwapFields(t *testing.T) {
	noColor(t)
	env := model.Envelope{
		Success: true,
		Data: map[string]any{
			"user_op_hash": "0xop",
			"created_at":   "2026-01-01T00:00:00Z",
			"status":       "pending",
			"id":           "swp_1",
			"quote_id":     "0123456789abcdef",
			"tx":           "",
			"permit2":      map[string]any{"hash": "0xabc"},
		},
	}
	var buf bytes.Buffer
	if err := Render(&buf, env, config.Settings{OutputMode: "plain", ResultsOnly: true}); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	want := `id=swp_1 quote_id=0123456789abcdef status=pending user_op_hash=0xop created_at=2026-01-01T00:00:00Z permit2={"hash":"0xabc"}`
	if got := strings.TrimSpace(buf.String()); got != want {
		t.Fatalf("unexpected line:\n got %s\nwant %s", got, want)
	}
}

func TestRenderPlainEnvelope(t *testing.T) {
	noColor(t)
	env := model.Envelope{
		Success:  true,
		Data:     map[string]any{"quote_id": "q1"},
		Warnings: []string{"quote not cached"},
		Meta:     model.EnvelopeMeta{RequestID: "r1", Command: "swap quote", Network: "base", Cache: model.CacheStatus{Status: "write"}},
	}
	var buf bytes.Buffer
	if err := Render(&buf, env, config.Settings{OutputMode: "plain"}); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 || lines[0] != "quote_id=q1" || !strings.HasSuffix(lines[1], "warning: quote not cached") {
		t.Fatalf("unexpected plain envelope: %q", buf.String())
	}
	if lines[2] != `# command="swap quote" network=base cache=write request_id=r1` {
		t.Fatalf("unexpected meta line: %q", lines[2])
	}

	failed := model.Envelope{
		Error: &model.ErrorBody{Code: 17, Type: "liquidity_unavailable", Message: "no route"},
		Meta:  model.EnvelopeMeta{RequestID: "r2", Command: "swap quote"},
	}
	buf.Reset()
	if err := Render(&buf, failed, config.Settings{OutputMode: "plain"}); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !strings.Contains(buf.String(), "error: liquidity_unavailable (exit 17): no route") {
		t.Fatalf("unexpected error output: %q", buf.String())
	}
}

func noColor(t *testing.T) {
	t.Helper()
	prev := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = prev })
}
