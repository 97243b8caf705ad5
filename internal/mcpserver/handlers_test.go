package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zapspay/settlement/internal/auth"
)

const testAddress = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

// --- Test helpers ---

func newTestSetup(handler http.Handler) (*Handlers, func()) {
	ts := httptest.NewServer(handler)
	client := NewClient(Config{APIURL: ts.URL, Address: testAddress})
	return NewHandlers(client), ts.Close
}

func makeRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	if args == nil {
		args = map[string]any{}
	}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content, "expected at least one content block")
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ============================================================
// Client tests
// ============================================================

func TestClient_HeaderModeSendsAddressOnly(t *testing.T) {
	var got http.Header
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	client := NewClient(Config{APIURL: ts.URL, Address: "0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"})
	_, err := client.GetBalance(context.Background(), "USDC", "")
	require.NoError(t, err)
	assert.Equal(t, testAddress, got.Get(auth.HeaderAddress))
	assert.Empty(t, got.Get(auth.HeaderSignature))
}

func TestClient_SignsRequests(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	now := time.Unix(1_700_000_000, 0)

	var verifyErr error
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		stamp, _ := strconv.ParseInt(r.Header.Get(auth.HeaderTimestamp), 10, 64)
		msg := auth.RequestMessage(r.Method, r.URL.Path, stamp, body)
		verifyErr = auth.VerifySignature(msg, r.Header.Get(auth.HeaderSignature), r.Header.Get(auth.HeaderAddress))
		writeJSON(w, http.StatusOK, map[string]any{"settled": 1, "settled_amount": "1.0000000"})
	}))
	defer ts.Close()

	client := NewClient(Config{APIURL: ts.URL, Key: key})
	client.now = func() time.Time { return now }
	assert.Equal(t, auth.AddressOf(key), client.Address())

	_, err = client.Pay(context.Background(), "m1", "USDC", "1", "1")
	require.NoError(t, err)
	assert.NoError(t, verifyErr)
}

func TestClient_HTTPError_WithAPIMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusForbidden, map[string]any{"error": "unauthorized", "message": "caller not authorized"})
	}))
	defer ts.Close()

	client := NewClient(Config{APIURL: ts.URL, Address: testAddress})
	_, err := client.GetMerchant(context.Background(), "m1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Contains(t, err.Error(), "caller not authorized")
}

func TestClient_HTTPError_RawBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer ts.Close()

	client := NewClient(Config{APIURL: ts.URL, Address: testAddress})
	_, err := client.GetMerchant(context.Background(), "m1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream down")
}

func TestClient_ListEventsQuery(t *testing.T) {
	var gotQuery string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/events", r.URL.Path)
		gotQuery = r.URL.RawQuery
		writeJSON(w, http.StatusOK, map[string]any{"events": []any{}, "count": 0})
	}))
	defer ts.Close()

	client := NewClient(Config{APIURL: ts.URL + "/", Address: testAddress})
	_, err := client.ListEvents(context.Background(), "router/", testAddress, true, 5)
	require.NoError(t, err)
	assert.Contains(t, gotQuery, "topic=router%2F")
	assert.Contains(t, gotQuery, "audit=true")
	assert.Contains(t, gotQuery, "limit=5")
}

// ============================================================
// Handler tests
// ============================================================

func TestHandleCheckBalance_DefaultsToOwnAddress(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/assets/USDC/balances/"+testAddress, r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]any{
			"asset": "USDC", "holder": testAddress, "balance": "15000000", "formatted": "1.5000000",
		})
	}))
	defer cleanup()

	result, err := h.HandleCheckBalance(context.Background(), makeRequest(map[string]any{"asset": "usdc"}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), "1.5000000 USDC")
}

func TestHandleCheckBalance_RequiresAsset(t *testing.T) {
	h, cleanup := newTestSetup(http.NotFoundHandler())
	defer cleanup()

	result, err := h.HandleCheckBalance(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "asset is required")
}

func TestHandleQuoteFX(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "XLM", r.URL.Query().Get("src"))
		writeJSON(w, http.StatusOK, map[string]any{
			"src": "XLM", "dst": "USDC", "amount": "100000000", "receive": "11880000", "formatted": "1.1880000",
		})
	}))
	defer cleanup()

	result, err := h.HandleQuoteFX(context.Background(), makeRequest(map[string]any{
		"src": "xlm", "dst": "usdc", "amount": "10",
	}))
	require.NoError(t, err)
	assert.Equal(t, "10 XLM buys 1.1880000 USDC (after fees)", resultText(t, result))
}

func TestHandlePayMerchant_DefaultMinReceive(t *testing.T) {
	var body map[string]string
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		writeJSON(w, http.StatusOK, map[string]any{"settled": 100000000, "settled_amount": "10.0000000"})
	}))
	defer cleanup()

	result, err := h.HandlePayMerchant(context.Background(), makeRequest(map[string]any{
		"merchant_id": "coffee", "send_asset": "usdc", "send_amount": "10",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, "10", body["min_receive"])
	assert.Equal(t, "USDC", body["send_asset"])
	assert.Contains(t, resultText(t, result), "Merchant credited 10.0000000")
}

func TestHandlePayMerchant_Failure(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error": "slippage_exceeded", "message": "settlement below minimum",
		})
	}))
	defer cleanup()

	result, err := h.HandlePayMerchant(context.Background(), makeRequest(map[string]any{
		"merchant_id": "coffee", "send_asset": "XLM", "send_amount": "10", "min_receive": "5",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "no funds moved")
	assert.Contains(t, resultText(t, result), "settlement below minimum")
}

func TestHandleGetMerchant(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"merchant": map[string]any{
			"merchantId": "coffee", "name": "Corner Coffee", "settlementAsset": "USDC",
			"vault": "0xvault", "active": false,
		}})
	}))
	defer cleanup()

	result, err := h.HandleGetMerchant(context.Background(), makeRequest(map[string]any{"merchant_id": "coffee"}))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "Merchant coffee (Corner Coffee)")
	assert.Contains(t, text, "Settlement asset: USDC")
	assert.Contains(t, text, "inactive")
}

func TestHandleLockEscrow_GeneratesID(t *testing.T) {
	var body LockEscrowRequest
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		writeJSON(w, http.StatusCreated, map[string]any{"escrow": map[string]any{
			"id": body.ID, "state": "locked", "amount": 15000000, "asset": body.Asset,
			"buyer": testAddress, "seller": body.Seller,
		}})
	}))
	defer cleanup()

	result, err := h.HandleLockEscrow(context.Background(), makeRequest(map[string]any{
		"seller": "0xbbbb", "asset": "usdc", "amount": "1.5",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Len(t, body.ID, 64)
	assert.Equal(t, "USDC", body.Asset)
	text := resultText(t, result)
	assert.Contains(t, text, "Funds locked.")
	assert.Contains(t, text, "State: locked")
	assert.Contains(t, text, "Amount: 15000000 USDC")
}

func TestHandleReleaseAndRefund(t *testing.T) {
	var paths []string
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		state := "released"
		if r.URL.Path == "/v1/escrow/e2/refund" {
			state = "refunded"
		}
		writeJSON(w, http.StatusOK, map[string]any{"escrow": map[string]any{"id": "e", "state": state}})
	}))
	defer cleanup()

	result, err := h.HandleReleaseEscrow(context.Background(), makeRequest(map[string]any{"escrow_id": "e1"}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "Escrow released.")

	result, err = h.HandleRefundEscrow(context.Background(), makeRequest(map[string]any{"escrow_id": "e2"}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "State: refunded")

	assert.Equal(t, []string{"/v1/escrow/e1/release", "/v1/escrow/e2/refund"}, paths)
}

func TestHandleGetEscrow_RequiresID(t *testing.T) {
	h, cleanup := newTestSetup(http.NotFoundHandler())
	defer cleanup()

	result, err := h.HandleGetEscrow(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleListEvents(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "20", r.URL.Query().Get("limit"))
		writeJSON(w, http.StatusOK, map[string]any{"events": []any{
			map[string]any{"topic": "router/payment_failed", "audit": true, "createdAt": "2025-01-01T00:00:00Z",
				"payload": map[string]any{"reason": "slippage"}},
			map[string]any{"topic": "escrow/locked", "audit": false, "createdAt": "2025-01-01T00:00:00Z"},
		}, "count": 2})
	}))
	defer cleanup()

	result, err := h.HandleListEvents(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "Found 2 event(s)")
	assert.Contains(t, text, "1. router/payment_failed [audit]")
	assert.Contains(t, text, `{"reason":"slippage"}`)
	assert.Contains(t, text, "2. escrow/locked at")
}

func TestHandleListEvents_Empty(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"events": []any{}, "count": 0})
	}))
	defer cleanup()

	result, err := h.HandleListEvents(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.Equal(t, "No events found.", resultText(t, result))
}

func TestNewMCPServer(t *testing.T) {
	s := NewMCPServer(Config{APIURL: "http://localhost:8080", Address: testAddress}, "test")
	require.NotNil(t, s)
}
