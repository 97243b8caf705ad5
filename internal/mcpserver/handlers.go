package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/zapspay/settlement/internal/idgen"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *Client
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *Client) *Handlers {
	return &Handlers{client: client}
}

// required returns the named string argument or a tool error result.
func required(req mcp.CallToolRequest, names ...string) (map[string]string, *mcp.CallToolResult) {
	out := make(map[string]string, len(names))
	for _, n := range names {
		v := strings.TrimSpace(req.GetString(n, ""))
		if v == "" {
			return nil, mcp.NewToolResultError(n + " is required")
		}
		out[n] = v
	}
	return out, nil
}

// HandleCheckBalance returns a ledger balance.
func (h *Handlers) HandleCheckBalance(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, errResult := required(req, "asset")
	if errResult != nil {
		return errResult, nil
	}
	raw, err := h.client.GetBalance(ctx, strings.ToUpper(args["asset"]), req.GetString("holder", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to check balance: %v", err)), nil
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse balance: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Balance of %s: %s %s",
		getString(m, "holder"), getString(m, "formatted"), getString(m, "asset"))), nil
}

// HandleQuoteFX previews a swap.
func (h *Handlers) HandleQuoteFX(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, errResult := required(req, "src", "dst", "amount")
	if errResult != nil {
		return errResult, nil
	}
	raw, err := h.client.Quote(ctx, strings.ToUpper(args["src"]), strings.ToUpper(args["dst"]), args["amount"])
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to quote: %v", err)), nil
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse quote: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("%s %s buys %s %s (after fees)",
		args["amount"], getString(m, "src"), getString(m, "formatted"), getString(m, "dst"))), nil
}

// HandleGetMerchant shows a registry record.
func (h *Handlers) HandleGetMerchant(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, errResult := required(req, "merchant_id")
	if errResult != nil {
		return errResult, nil
	}
	raw, err := h.client.GetMerchant(ctx, args["merchant_id"])
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get merchant: %v", err)), nil
	}
	text, err := formatMerchant(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse merchant: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandlePayMerchant routes a payment.
func (h *Handlers) HandlePayMerchant(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, errResult := required(req, "merchant_id", "send_asset", "send_amount")
	if errResult != nil {
		return errResult, nil
	}
	minReceive := req.GetString("min_receive", args["send_amount"])

	raw, err := h.client.Pay(ctx, args["merchant_id"], strings.ToUpper(args["send_asset"]), args["send_amount"], minReceive)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Payment failed, no funds moved: %v", err)), nil
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse payment: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Paid %s %s to %s. Merchant credited %s.",
		args["send_amount"], strings.ToUpper(args["send_asset"]), args["merchant_id"], getString(m, "settled_amount"))), nil
}

// HandleLockEscrow locks funds for a seller.
func (h *Handlers) HandleLockEscrow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, errResult := required(req, "seller", "asset", "amount")
	if errResult != nil {
		return errResult, nil
	}
	id := req.GetString("escrow_id", "")
	if id == "" {
		id = idgen.Tag()
	}

	raw, err := h.client.LockEscrow(ctx, LockEscrowRequest{
		ID:         id,
		Seller:     args["seller"],
		Arbitrator: req.GetString("arbitrator", ""),
		Asset:      strings.ToUpper(args["asset"]),
		Amount:     args["amount"],
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Escrow lock failed: %v", err)), nil
	}
	text, err := formatEscrow(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse escrow: %v", err)), nil
	}
	return mcp.NewToolResultText("Funds locked.\n" + text), nil
}

// HandleGetEscrow shows an escrow.
func (h *Handlers) HandleGetEscrow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return h.escrowCall(ctx, req, "", h.client.GetEscrow)
}

// HandleReleaseEscrow releases an escrow to its seller.
func (h *Handlers) HandleReleaseEscrow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return h.escrowCall(ctx, req, "Escrow released.\n", h.client.ReleaseEscrow)
}

// HandleRefundEscrow refunds an escrow to its buyer.
func (h *Handlers) HandleRefundEscrow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return h.escrowCall(ctx, req, "Escrow refunded.\n", h.client.RefundEscrow)
}

func (h *Handlers) escrowCall(ctx context.Context, req mcp.CallToolRequest, header string,
	call func(context.Context, string) (json.RawMessage, error)) (*mcp.CallToolResult, error) {
	args, errResult := required(req, "escrow_id")
	if errResult != nil {
		return errResult, nil
	}
	raw, err := call(ctx, args["escrow_id"])
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Escrow request failed: %v", err)), nil
	}
	text, err := formatEscrow(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse escrow: %v", err)), nil
	}
	return mcp.NewToolResultText(header + text), nil
}

// HandleListEvents reads the event log.
func (h *Handlers) HandleListEvents(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", 20)
	raw, err := h.client.ListEvents(ctx,
		req.GetString("topic", ""),
		req.GetString("address", ""),
		req.GetBool("audit_only", false),
		limit,
	)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list events: %v", err)), nil
	}
	text, err := formatEvents(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse events: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// --- Formatting helpers ---

func formatMerchant(raw json.RawMessage) (string, error) {
	var resp struct {
		Merchant map[string]any `json:"merchant"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil || resp.Merchant == nil {
		return "", fmt.Errorf("unexpected merchant response format")
	}
	m := resp.Merchant

	var sb strings.Builder
	fmt.Fprintf(&sb, "Merchant %s", getString(m, "merchantId"))
	if name := getString(m, "name"); name != "" {
		fmt.Fprintf(&sb, " (%s)", name)
	}
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "  Settlement asset: %s\n", getString(m, "settlementAsset"))
	fmt.Fprintf(&sb, "  Vault: %s\n", getString(m, "vault"))
	if fx := getString(m, "fxRouter"); fx != "" {
		fmt.Fprintf(&sb, "  FX router: %s\n", fx)
	}
	if active, ok := m["active"].(bool); ok && !active {
		sb.WriteString("  Status: inactive (payments rejected)\n")
	} else {
		sb.WriteString("  Status: active\n")
	}
	return sb.String(), nil
}

func formatEscrow(raw json.RawMessage) (string, error) {
	var resp struct {
		Escrow map[string]any `json:"escrow"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil || resp.Escrow == nil {
		return "", fmt.Errorf("unexpected escrow response format")
	}
	e := resp.Escrow

	var sb strings.Builder
	fmt.Fprintf(&sb, "Escrow ID: %s\n", getString(e, "id"))
	fmt.Fprintf(&sb, "  State: %s\n", getString(e, "state"))
	fmt.Fprintf(&sb, "  Amount: %s %s (base units)\n", getString(e, "amount"), getString(e, "asset"))
	fmt.Fprintf(&sb, "  Buyer: %s\n", getString(e, "buyer"))
	fmt.Fprintf(&sb, "  Seller: %s\n", getString(e, "seller"))
	if a := getString(e, "arbitrator"); a != "" {
		fmt.Fprintf(&sb, "  Arbitrator: %s\n", a)
	}
	return sb.String(), nil
}

func formatEvents(raw json.RawMessage) (string, error) {
	var resp struct {
		Events []map[string]any `json:"events"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("unexpected events response format")
	}
	if len(resp.Events) == 0 {
		return "No events found.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d event(s):\n\n", len(resp.Events))
	for i, ev := range resp.Events {
		marker := ""
		if audit, _ := ev["audit"].(bool); audit {
			marker = " [audit]"
		}
		fmt.Fprintf(&sb, "%d. %s%s at %s\n", i+1, getString(ev, "topic"), marker, getString(ev, "createdAt"))
		if payload, ok := ev["payload"]; ok {
			data, _ := json.Marshal(payload)
			fmt.Fprintf(&sb, "   %s\n", formatJSON(data))
		}
	}
	return sb.String(), nil
}

func formatJSON(raw json.RawMessage) string {
	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err != nil {
		return string(raw)
	}
	return compact.String()
}

// getString extracts a string value from a map, trying multiple key names.
func getString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
			if f, ok := v.(float64); ok {
				return fmt.Sprintf("%.0f", f)
			}
		}
	}
	return ""
}
