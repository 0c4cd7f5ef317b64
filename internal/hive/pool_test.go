package hive

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Klingon-tech/hive-ledger-validator/pkg/block"
)

func brokenNode(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewPool_Dedup(t *testing.T) {
	p, err := NewPool([]string{"http://a", "http://a", "", "http://b"}, PoolOptions{})
	if err != nil {
		t.Fatalf("NewPool() error: %v", err)
	}
	if len(p.Clients()) != 2 {
		t.Fatalf("clients = %d, want 2", len(p.Clients()))
	}
	if _, err := NewPool(nil, PoolOptions{}); !errors.Is(err, ErrNoEndpoints) {
		t.Fatalf("NewPool(nil) error = %v, want ErrNoEndpoints", err)
	}
}

func TestPool_Failover(t *testing.T) {
	bad := brokenNode(t)
	good, goodCalls := fakeNode(t, map[string]string{
		"condenser_api.get_dynamic_global_properties": propsJSON,
	})

	p, err := NewPool([]string{bad.URL, good.URL}, PoolOptions{Timeout: time.Second, BreakerFailures: 2})
	if err != nil {
		t.Fatalf("NewPool() error: %v", err)
	}
	head, err := p.HeadHeight(context.Background(), false)
	if err != nil {
		t.Fatalf("HeadHeight() error: %v", err)
	}
	if head != 1005 {
		t.Fatalf("head = %d, want 1005", head)
	}
	if goodCalls.Load() != 1 {
		t.Fatalf("good node calls = %d, want 1", goodCalls.Load())
	}

	st := p.Status()
	if st[0].Failures != 1 || st[0].Open {
		t.Fatalf("bad node status = %+v, want 1 failure, closed", st[0])
	}

	// Second failure opens the breaker; the third call skips the bad node.
	p.HeadHeight(context.Background(), false)
	if !p.Status()[0].Open {
		t.Fatal("breaker should be open after 2 failures")
	}
}

func TestPool_AllFail(t *testing.T) {
	p, _ := NewPool([]string{brokenNode(t).URL}, PoolOptions{Timeout: time.Second, BreakerFailures: 1, BreakerCooldown: time.Hour})
	if _, err := p.GetBlock(context.Background(), 1000); err == nil {
		t.Fatal("expected error when every endpoint fails")
	}
	if _, err := p.GetBlock(context.Background(), 1000); !errors.Is(err, ErrNoEndpoints) {
		t.Fatalf("GetBlock() with open breaker error = %v, want ErrNoEndpoints", err)
	}
}

func TestPool_EmptyBlockDoesNotTripBreaker(t *testing.T) {
	srv, _ := fakeNode(t, map[string]string{"condenser_api.get_block": `null`})
	p, _ := NewPool([]string{srv.URL}, PoolOptions{BreakerFailures: 1})
	_, err := p.GetBlock(context.Background(), 1000)
	if !errors.Is(err, block.ErrEmptyBlock) {
		t.Fatalf("GetBlock() error = %v, want ErrEmptyBlock", err)
	}
	if p.Status()[0].Open {
		t.Fatal("missing block should not open the breaker")
	}
}
