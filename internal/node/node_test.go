package node

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Klingon-tech/hive-ledger-validator/config"
	klog "github.com/Klingon-tech/hive-ledger-validator/internal/log"
	"github.com/Klingon-tech/hive-ledger-validator/internal/processor"
	"github.com/Klingon-tech/hive-ledger-validator/internal/storage"
	"github.com/Klingon-tech/hive-ledger-validator/pkg/block"
)

const testHead = 1005

func blockID(height uint64) string {
	return fmt.Sprintf("%08x%032x", height, height)
}

// fakeHive serves dynamic global properties and empty blocks up to head.
func fakeHive(t *testing.T, head uint64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req struct {
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			t.Errorf("bad request body: %v", err)
			return
		}
		var result string
		switch req.Method {
		case "condenser_api.get_dynamic_global_properties":
			result = fmt.Sprintf(`{"head_block_number":%d,"head_block_id":%q,"time":"2024-01-02T03:04:05","last_irreversible_block_num":%d}`,
				head, blockID(head), head-2)
		case "condenser_api.get_block":
			var h uint64
			if len(req.Params) != 1 || json.Unmarshal(req.Params[0], &h) != nil {
				t.Errorf("bad get_block params: %s", body)
				return
			}
			if h > head {
				result = "null"
				break
			}
			result = fmt.Sprintf(`{"previous":%q,"timestamp":"2024-01-02T03:04:05","witness":"w","block_id":%q,"transactions":[],"transaction_ids":[]}`,
				blockID(h-1), blockID(h))
		default:
			w.Write([]byte(`{"jsonrpc":"2.0","error":{"code":-32601,"message":"method not found"},"id":1}`))
			return
		}
		w.Write([]byte(`{"jsonrpc":"2.0","result":` + result + `,"id":1}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, endpoint string) *config.Config {
	t.Helper()
	cfg := config.Default(config.Testnet)
	cfg.DataDir = t.TempDir()
	cfg.Hive.Nodes = []string{endpoint}
	cfg.Hive.Timeout = time.Second
	cfg.Stream.StartBlock = 1000
	cfg.Stream.LagBlocks = 0
	cfg.Stream.Irreversible = false
	cfg.Stream.HeadPollInterval = 20 * time.Millisecond
	cfg.RPC.Enabled = false
	cfg.P2P.Enabled = false
	cfg.Redis.Enabled = false
	cfg.Report.Schedule = ""
	return cfg
}

func buildTestNode(t *testing.T, cfg *config.Config) (*Node, *storage.MemoryDB) {
	t.Helper()
	db := storage.NewMemory()
	n, err := build(cfg, config.ProtocolFor(cfg.Network), db, klog.WithComponent("node"))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return n, db
}

func testBlock(height uint64) *block.Block {
	return &block.Block{
		Height:    height,
		ID:        blockID(height),
		Previous:  blockID(height - 1),
		Timestamp: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Witness:   "w",
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir")
	}
	tests := []struct {
		input, want string
	}{
		{"~/foo/bar", filepath.Join(home, "foo/bar")},
		{"~/.hive-ledger/ledgerd.log", filepath.Join(home, ".hive-ledger/ledgerd.log")},
		{"/absolute/path", "/absolute/path"},
		{"relative/path", "relative/path"},
		{"", ""},
	}
	for _, tt := range tests {
		got := expandHome(tt.input)
		if got != tt.want {
			t.Errorf("expandHome(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestNode_FollowsHead(t *testing.T) {
	srv := fakeHive(t, testHead)
	n, db := buildTestNode(t, testConfig(t, srv.URL))

	if err := n.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := n.Start(); err == nil {
		t.Fatal("second Start should fail")
	}
	waitFor(t, "head block", func() bool { return n.Height() == testHead })
	if got := n.Head(); got != testHead {
		t.Errorf("Head() = %d, want %d", got, testHead)
	}

	var prev, rec1003 string
	err := db.View(func(r storage.Reader) error {
		b, err := n.ledger.Blocks.Get(r, 1003)
		if err != nil {
			return err
		}
		rec1003 = b.BlockID
		p, err := n.ledger.Blocks.Get(r, 1002)
		if err != nil {
			return err
		}
		if b.PrevHash != p.Hash {
			t.Errorf("block 1003 prev hash = %s, want %s", b.PrevHash, p.Hash)
		}
		prev = p.BlockID
		return nil
	})
	if err != nil {
		t.Fatalf("View: %v", err)
	}
	if rec1003 != blockID(1003) || prev != blockID(1002) {
		t.Errorf("stored ids = %s, %s", rec1003, prev)
	}

	select {
	case err := <-n.Errors():
		t.Fatalf("unexpected fatal error: %v", err)
	default:
	}
	n.Stop()
	n.Stop()
}

func TestNode_IrreversibleLag(t *testing.T) {
	srv := fakeHive(t, testHead)
	cfg := testConfig(t, srv.URL)
	cfg.Stream.Irreversible = true
	cfg.Stream.LagBlocks = 1
	n, _ := buildTestNode(t, cfg)
	defer n.Stop()

	if err := n.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	want := uint64(testHead - 2 - 1)
	waitFor(t, "lagged block", func() bool { return n.Height() == want })

	time.Sleep(100 * time.Millisecond)
	if got := n.Height(); got != want {
		t.Errorf("Height() = %d, want %d", got, want)
	}
}

func TestNode_ResumeHeight(t *testing.T) {
	srv := fakeHive(t, testHead)
	cfg := testConfig(t, srv.URL)

	cfg.Stream.StartBlock = 0
	n, _ := buildTestNode(t, cfg)
	defer n.Stop()
	if got, want := n.resumeHeight(), n.proto.StartBlock; got != want {
		t.Errorf("empty ledger resume = %d, want protocol start %d", got, want)
	}

	cfg.Stream.StartBlock = 1000
	if got := n.resumeHeight(); got != 1000 {
		t.Errorf("override resume = %d, want 1000", got)
	}

	if _, err := n.proc.Process(context.Background(), testBlock(1000), 1000); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if got := n.resumeHeight(); got != 1001 {
		t.Errorf("resume after 1000 = %d, want 1001", got)
	}
}

func TestNode_FatalProcessingError(t *testing.T) {
	srv := fakeHive(t, testHead)
	n, _ := buildTestNode(t, testConfig(t, srv.URL))
	defer n.Stop()

	if _, err := n.proc.Process(context.Background(), testBlock(1000), 1000); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if err := n.queue.Enqueue(context.Background(), testBlock(1002)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.runProcessLoop()
	}()

	select {
	case err := <-n.Errors():
		if !errors.Is(err, processor.ErrOutOfOrder) {
			t.Fatalf("error = %v, want ErrOutOfOrder", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no fatal error reported")
	}
	if got := n.Height(); got != 1000 {
		t.Errorf("Height() = %d, want 1000", got)
	}
}

func TestNode_StopBetweenBlocks(t *testing.T) {
	srv := fakeHive(t, testHead)
	n, _ := buildTestNode(t, testConfig(t, srv.URL))

	for h := uint64(1000); h <= 1002; h++ {
		if err := n.queue.Enqueue(context.Background(), testBlock(h)); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	n.cancel()
	n.runProcessLoop()
	if got := n.Height(); got != 0 {
		t.Errorf("Height() = %d after stop, want 0", got)
	}
	n.Stop()
}

func TestNode_SafeModeNeedsThreeNodes(t *testing.T) {
	srv := fakeHive(t, testHead)
	cfg := testConfig(t, srv.URL)
	cfg.Hive.SafeMode = true

	_, err := build(cfg, config.ProtocolFor(cfg.Network), storage.NewMemory(), klog.WithComponent("node"))
	if err == nil {
		t.Fatal("expected safe mode error with a single node")
	}

	cfg.Hive.SafeModeNodes = []string{srv.URL, srv.URL + "/b", srv.URL + "/c"}
	n, _ := buildTestNode(t, cfg)
	defer n.Stop()
	if got := n.source.Strategy(); got != "safe" {
		t.Errorf("Strategy() = %q, want safe", got)
	}
}

func TestNode_LogStatus(t *testing.T) {
	srv := fakeHive(t, testHead)
	cfg := testConfig(t, srv.URL)
	cfg.Report.Schedule = "*/1 * * * * *"
	n, _ := buildTestNode(t, cfg)
	defer n.Stop()

	if n.report == nil {
		t.Fatal("report scheduler not created")
	}
	n.logStatus()
}

func TestNode_BadReportSchedule(t *testing.T) {
	srv := fakeHive(t, testHead)
	cfg := testConfig(t, srv.URL)
	cfg.Report.Schedule = "not a schedule"

	_, err := build(cfg, config.ProtocolFor(cfg.Network), storage.NewMemory(), klog.WithComponent("node"))
	if err == nil {
		t.Fatal("expected error for bad schedule")
	}
}
