package ethrpc

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/archon-research/stl-logfeed/internal/domain/entity"
	"github.com/archon-research/stl-logfeed/internal/pkg/networks"
	"github.com/archon-research/stl-logfeed/internal/pkg/retry"
)

type fakeLog struct {
	block, index uint64
	removed      bool
}

// fakeNode is a minimal JSON-RPC node serving eth_blockNumber and eth_getLogs.
type fakeNode struct {
	mu         sync.Mutex
	head       uint64
	logs       []fakeLog
	maxRange   uint64
	failFirst  int
	status     int
	rpcError   *jsonRPCError
	calls      map[string]int
	ranges     [][2]uint64
	lastFilter map[string]json.RawMessage
}

func newFakeNode(head uint64, logs ...fakeLog) *fakeNode {
	return &fakeNode{head: head, logs: logs, calls: make(map[string]int)}
}

func logJSON(l fakeLog) map[string]any {
	return map[string]any{
		"address":          "0x0000000000000000000000000000000000000001",
		"topics":           []string{common.Hash{0xaa}.Hex()},
		"data":             "0x01",
		"blockNumber":      hexutil.EncodeUint64(l.block),
		"blockHash":        common.BigToHash(new(big.Int).SetUint64(l.block)).Hex(),
		"transactionHash":  common.Hash{0xbb}.Hex(),
		"transactionIndex": "0x0",
		"logIndex":         hexutil.EncodeUint64(l.index),
		"removed":          l.removed,
	}
}

func (n *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     int64             `json:"id"`
		Method string            `json:"method"`
		Params []json.RawMessage `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls[req.Method]++

	if n.failFirst > 0 {
		n.failFirst--
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	if n.status != 0 {
		w.WriteHeader(n.status)
		return
	}

	resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
	if n.rpcError != nil {
		resp["error"] = n.rpcError
		_ = json.NewEncoder(w).Encode(resp)
		return
	}

	switch req.Method {
	case "eth_blockNumber":
		resp["result"] = hexutil.EncodeUint64(n.head)
	case "eth_getLogs":
		var filter map[string]json.RawMessage
		_ = json.Unmarshal(req.Params[0], &filter)
		n.lastFilter = filter

		var fromHex, toHex string
		_ = json.Unmarshal(filter["fromBlock"], &fromHex)
		_ = json.Unmarshal(filter["toBlock"], &toHex)
		from, _ := hexutil.DecodeUint64(fromHex)
		to, _ := hexutil.DecodeUint64(toHex)
		n.ranges = append(n.ranges, [2]uint64{from, to})

		if n.maxRange > 0 && to-from+1 > n.maxRange {
			resp["error"] = &jsonRPCError{Code: -32005, Message: "query exceeds max block range"}
			break
		}
		result := []map[string]any{}
		for _, l := range n.logs {
			if l.block >= from && l.block <= to {
				result = append(result, logJSON(l))
			}
		}
		resp["result"] = result
	default:
		resp["error"] = &jsonRPCError{Code: -32601, Message: "method not found"}
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func (n *fakeNode) callCount(method string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[method]
}

func newTestClient(t *testing.T, node *fakeNode, mutate func(*ClientConfig), filter networks.Filter) *Client {
	t.Helper()
	srv := httptest.NewServer(node)
	t.Cleanup(srv.Close)

	reg, err := networks.NewRegistry(networks.Network{Name: "test", HTTPURL: srv.URL, Filter: filter})
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}

	cfg := ClientConfig{
		Networks:          reg,
		BlockRange:        10,
		MaxScanBlocks:     1_000,
		RequestsPerSecond: 1_000,
		Burst:             100,
		Retry: retry.Config{
			MaxRetries:     3,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     5 * time.Millisecond,
		},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	client, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	return client
}

func pageKeys(records []entity.LogRecord) []entity.LogKey {
	out := make([]entity.LogKey, len(records))
	for i, r := range records {
		out[i] = r.Key()
	}
	return out
}

func TestNewClient_RequiresNetworks(t *testing.T) {
	if _, err := NewClient(ClientConfig{}); err == nil {
		t.Error("expected error without Networks")
	}
}

func TestClient_GetLogsPaginatesBackwards(t *testing.T) {
	node := newFakeNode(100,
		fakeLog{block: 100, index: 0}, fakeLog{block: 100, index: 1},
		fakeLog{block: 95, index: 0},
		fakeLog{block: 50, index: 0},
		fakeLog{block: 10, index: 0}, fakeLog{block: 10, index: 1}, fakeLog{block: 10, index: 2},
	)
	client := newTestClient(t, node, nil, networks.Filter{})

	var pages [][]entity.LogKey
	cursor := ""
	for range 10 {
		page, err := client.GetLogs(context.Background(), "test", 3, cursor)
		if err != nil {
			t.Fatalf("GetLogs failed: %v", err)
		}
		pages = append(pages, pageKeys(page.Records))
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	want := [][]entity.LogKey{
		{{BlockNumber: 100, LogIndex: 1}, {BlockNumber: 100, LogIndex: 0}, {BlockNumber: 95, LogIndex: 0}},
		{{BlockNumber: 50, LogIndex: 0}, {BlockNumber: 10, LogIndex: 2}, {BlockNumber: 10, LogIndex: 1}},
		{{BlockNumber: 10, LogIndex: 0}},
	}
	if len(pages) != len(want) {
		t.Fatalf("expected %d pages, got %d: %v", len(want), len(pages), pages)
	}
	for i := range want {
		if !slices.Equal(pages[i], want[i]) {
			t.Errorf("page %d: expected %v, got %v", i, want[i], pages[i])
		}
	}
	if node.callCount("eth_blockNumber") != 1 {
		t.Errorf("expected head lookup only for the first page, got %d", node.callCount("eth_blockNumber"))
	}
}

func TestClient_GetLogsDecodesPayload(t *testing.T) {
	node := newFakeNode(5, fakeLog{block: 5, index: 2})
	client := newTestClient(t, node, nil, networks.Filter{})

	page, err := client.GetLogs(context.Background(), "test", 10, "")
	if err != nil {
		t.Fatalf("GetLogs failed: %v", err)
	}
	if len(page.Records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(page.Records))
	}
	r := page.Records[0]
	if r.Address != common.HexToAddress("0x0000000000000000000000000000000000000001") {
		t.Errorf("unexpected address %s", r.Address.Hex())
	}
	if len(r.Topics) != 1 || r.Topics[0] != (common.Hash{0xaa}) {
		t.Errorf("unexpected topics %v", r.Topics)
	}
	if len(r.Data) != 1 || r.Data[0] != 0x01 {
		t.Errorf("unexpected data %x", r.Data)
	}
	if page.NextCursor != "" {
		t.Errorf("expected final page, got cursor %q", page.NextCursor)
	}
}

func TestClient_GetLogsSkipsRemovedLogs(t *testing.T) {
	node := newFakeNode(20,
		fakeLog{block: 20, index: 0, removed: true},
		fakeLog{block: 19, index: 0},
	)
	client := newTestClient(t, node, nil, networks.Filter{})

	page, err := client.GetLogs(context.Background(), "test", 10, "")
	if err != nil {
		t.Fatalf("GetLogs failed: %v", err)
	}
	if got := pageKeys(page.Records); !slices.Equal(got, []entity.LogKey{{BlockNumber: 19, LogIndex: 0}}) {
		t.Errorf("expected only the live log, got %v", got)
	}
}

func TestClient_GetLogsScanBudget(t *testing.T) {
	node := newFakeNode(1000, fakeLog{block: 995, index: 0}, fakeLog{block: 100, index: 0})
	client := newTestClient(t, node, func(c *ClientConfig) { c.MaxScanBlocks = 50 }, networks.Filter{})

	page, err := client.GetLogs(context.Background(), "test", 10, "")
	if err != nil {
		t.Fatalf("GetLogs failed: %v", err)
	}
	if len(page.Records) != 1 {
		t.Fatalf("expected the one log in budget, got %d", len(page.Records))
	}
	if want := entity.CursorBeforeBlock(951).String(); page.NextCursor != want {
		t.Errorf("expected boundary cursor %q, got %q", want, page.NextCursor)
	}

	// A scan that finds nothing within budget ends pagination.
	page, err = client.GetLogs(context.Background(), "test", 10, page.NextCursor)
	if err != nil {
		t.Fatalf("GetLogs failed: %v", err)
	}
	if len(page.Records) != 0 || page.NextCursor != "" {
		t.Errorf("expected empty final page, got %d records and cursor %q", len(page.Records), page.NextCursor)
	}
}

func TestClient_GetLogsAtGenesisMakesNoCall(t *testing.T) {
	node := newFakeNode(10)
	client := newTestClient(t, node, nil, networks.Filter{})

	page, err := client.GetLogs(context.Background(), "test", 10, entity.LogCursor{}.String())
	if err != nil {
		t.Fatalf("GetLogs failed: %v", err)
	}
	if len(page.Records) != 0 || page.NextCursor != "" {
		t.Errorf("expected empty final page, got %+v", page)
	}
	if node.callCount("eth_getLogs") != 0 {
		t.Errorf("expected no eth_getLogs call, got %d", node.callCount("eth_getLogs"))
	}
}

func TestClient_GetLogsShrinksWindowOnRangeError(t *testing.T) {
	node := newFakeNode(40, fakeLog{block: 38, index: 0}, fakeLog{block: 31, index: 0})
	node.maxRange = 5
	client := newTestClient(t, node, func(c *ClientConfig) { c.BlockRange = 20 }, networks.Filter{})

	page, err := client.GetLogs(context.Background(), "test", 2, "")
	if err != nil {
		t.Fatalf("GetLogs failed: %v", err)
	}
	want := []entity.LogKey{{BlockNumber: 38, LogIndex: 0}, {BlockNumber: 31, LogIndex: 0}}
	if got := pageKeys(page.Records); !slices.Equal(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}

	node.mu.Lock()
	defer node.mu.Unlock()
	last := node.ranges[len(node.ranges)-1]
	if last[1]-last[0]+1 > 5 {
		t.Errorf("expected final window within 5 blocks, got %v", last)
	}
}

func TestClient_RetriesServerErrors(t *testing.T) {
	node := newFakeNode(42)
	node.failFirst = 2
	client := newTestClient(t, node, nil, networks.Filter{})

	head, err := client.BlockNumber(context.Background(), "test")
	if err != nil {
		t.Fatalf("BlockNumber failed: %v", err)
	}
	if head != 42 {
		t.Errorf("expected head 42, got %d", head)
	}
	if node.callCount("eth_blockNumber") != 3 {
		t.Errorf("expected 3 attempts, got %d", node.callCount("eth_blockNumber"))
	}
}

func TestClient_DoesNotRetryPermanentFailures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*fakeNode)
		check func(t *testing.T, err error)
	}{
		{
			name:  "client error status",
			setup: func(n *fakeNode) { n.status = http.StatusUnauthorized },
			check: func(t *testing.T, err error) {
				var statusErr *httpStatusError
				if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusUnauthorized {
					t.Errorf("expected HTTP 401 error, got %v", err)
				}
			},
		},
		{
			name:  "rpc error",
			setup: func(n *fakeNode) { n.rpcError = &jsonRPCError{Code: -32000, Message: "boom"} },
			check: func(t *testing.T, err error) {
				var rpcErr *jsonRPCError
				if !errors.As(err, &rpcErr) || rpcErr.Code != -32000 {
					t.Errorf("expected RPC error -32000, got %v", err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node := newFakeNode(1)
			tt.setup(node)
			client := newTestClient(t, node, nil, networks.Filter{})

			_, err := client.BlockNumber(context.Background(), "test")
			if err == nil {
				t.Fatal("expected error")
			}
			tt.check(t, err)
			if node.callCount("eth_blockNumber") != 1 {
				t.Errorf("expected a single attempt, got %d", node.callCount("eth_blockNumber"))
			}
		})
	}
}

func TestClient_GetLogsValidation(t *testing.T) {
	node := newFakeNode(10)
	client := newTestClient(t, node, nil, networks.Filter{})

	if _, err := client.GetLogs(context.Background(), "test", 0, ""); err == nil {
		t.Error("expected error for zero limit")
	}

	_, err := client.GetLogs(context.Background(), "test", 10, "garbage")
	if !errors.Is(err, entity.ErrInvalidCursor) {
		t.Errorf("expected ErrInvalidCursor, got %v", err)
	}

	_, err = client.GetLogs(context.Background(), "nope", 10, "")
	if !errors.Is(err, ErrUnknownNetwork) || !errors.Is(err, networks.ErrUnknownNetwork) {
		t.Errorf("expected unknown network error, got %v", err)
	}

	if node.callCount("eth_blockNumber")+node.callCount("eth_getLogs") != 0 {
		t.Error("expected no calls for invalid input")
	}
}

func TestClient_SendsNetworkFilter(t *testing.T) {
	addr := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	topic := common.Hash{0x01}
	node := newFakeNode(5)
	client := newTestClient(t, node, nil, networks.Filter{
		Addresses: []common.Address{addr},
		Topics:    [][]common.Hash{{topic}, nil},
	})

	if _, err := client.FilterLogs(context.Background(), "test", 1, 5); err != nil {
		t.Fatalf("FilterLogs failed: %v", err)
	}

	node.mu.Lock()
	defer node.mu.Unlock()

	var addresses []common.Address
	if err := json.Unmarshal(node.lastFilter["address"], &addresses); err != nil || len(addresses) != 1 || addresses[0] != addr {
		t.Errorf("unexpected address filter %s", node.lastFilter["address"])
	}
	var topics []*[]common.Hash
	if err := json.Unmarshal(node.lastFilter["topics"], &topics); err != nil {
		t.Fatalf("failed to decode topics: %v", err)
	}
	if len(topics) != 2 || topics[0] == nil || (*topics[0])[0] != topic || topics[1] != nil {
		t.Errorf("unexpected topics filter %s", node.lastFilter["topics"])
	}
	if string(node.lastFilter["fromBlock"]) != `"0x1"` || string(node.lastFilter["toBlock"]) != `"0x5"` {
		t.Errorf("unexpected range %s-%s", node.lastFilter["fromBlock"], node.lastFilter["toBlock"])
	}
}
