package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandler_ExposesCollectors(t *testing.T) {
	BlockProcessed(42, 5*time.Millisecond)
	ActionExecuted("token_transfer", true)
	ActionExecuted("token_transfer", false)
	HeadHeight(50)
	FetchFailed("safe")
	QueueDepth(3)
	Submission("ok")
	PluginError("redis")
	Peers(2)
	HashCheck("mismatch")

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	text := string(body)

	for _, want := range []string{
		"ledger_processor_height 42",
		`ledger_processor_actions_total{action="token_transfer",outcome="failed"} 1`,
		"ledger_stream_head_height 50",
		`ledger_stream_fetch_failures_total{strategy="safe"} 1`,
		"ledger_stream_queue_depth 3",
		`ledger_validator_submissions_total{result="ok"} 1`,
		`ledger_plugin_errors_total{plugin="redis"} 1`,
		"ledger_p2p_peers 2",
		`ledger_p2p_hash_checks_total{result="mismatch"} 1`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
