package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the settlement MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolCheckBalance = mcp.NewTool("check_balance",
	mcp.WithDescription(
		"Check a token balance on the settlement ledger. "+
			"Defaults to your own address."),
	mcp.WithString("asset",
		mcp.Required(),
		mcp.Description("Asset code (e.g. 'USDC', 'XLM')")),
	mcp.WithString("holder",
		mcp.Description("Address to check (e.g. '0x1234...'). Omit for your own balance.")),
)

var ToolQuoteFX = mcp.NewTool("quote_fx",
	mcp.WithDescription(
		"Preview how much of one asset an FX swap would deliver for an amount of another. "+
			"Quotes include the swap fee and never move funds."),
	mcp.WithString("src", mcp.Required(), mcp.Description("Asset you send (e.g. 'XLM')")),
	mcp.WithString("dst", mcp.Required(), mcp.Description("Asset the merchant settles in (e.g. 'USDC')")),
	mcp.WithString("amount", mcp.Required(), mcp.Description("Amount of src in decimal units (e.g. '12.5')")),
)

var ToolGetMerchant = mcp.NewTool("get_merchant",
	mcp.WithDescription(
		"Look up a merchant: settlement asset, vault and whether it accepts payments."),
	mcp.WithString("merchant_id", mcp.Required(), mcp.Description("Merchant identifier")),
)

var ToolPayMerchant = mcp.NewTool("pay_merchant",
	mcp.WithDescription(
		"Pay a merchant. The payment is converted to the merchant's settlement asset when needed "+
			"and credited to its vault. Fails without moving funds if the merchant would receive less than min_receive."),
	mcp.WithString("merchant_id", mcp.Required(), mcp.Description("Merchant identifier")),
	mcp.WithString("send_asset", mcp.Required(), mcp.Description("Asset you pay with (e.g. 'USDC')")),
	mcp.WithString("send_amount", mcp.Required(), mcp.Description("Amount to send in decimal units (e.g. '10')")),
	mcp.WithString("min_receive",
		mcp.Description("Minimum the merchant must receive in its settlement asset. Defaults to send_amount.")),
)

var ToolLockEscrow = mcp.NewTool("lock_escrow",
	mcp.WithDescription(
		"Hold funds in escrow for a seller. The seller (or arbitrator) releases them to the seller; "+
			"you (or the arbitrator) can refund them to yourself while they are still locked."),
	mcp.WithString("seller", mcp.Required(), mcp.Description("Seller address (e.g. '0x1234...')")),
	mcp.WithString("asset", mcp.Required(), mcp.Description("Asset code (e.g. 'USDC')")),
	mcp.WithString("amount", mcp.Required(), mcp.Description("Amount in decimal units (e.g. '1.50')")),
	mcp.WithString("arbitrator", mcp.Description("Optional third party allowed to release or refund")),
	mcp.WithString("escrow_id", mcp.Description("Optional 32-byte hex id. Generated when omitted.")),
)

var ToolGetEscrow = mcp.NewTool("get_escrow",
	mcp.WithDescription("Show the state of an escrow."),
	mcp.WithString("escrow_id", mcp.Required(), mcp.Description("Escrow id from lock_escrow")),
)

var ToolReleaseEscrow = mcp.NewTool("release_escrow",
	mcp.WithDescription("Release an escrow to its seller. Only the seller or arbitrator may do this."),
	mcp.WithString("escrow_id", mcp.Required(), mcp.Description("Escrow id from lock_escrow")),
)

var ToolRefundEscrow = mcp.NewTool("refund_escrow",
	mcp.WithDescription(
		"Refund an escrow to its buyer. The buyer or arbitrator may refund at any time; "+
			"anyone else only after the refund timeout."),
	mcp.WithString("escrow_id", mcp.Required(), mcp.Description("Escrow id from lock_escrow")),
)

var ToolListEvents = mcp.NewTool("list_events",
	mcp.WithDescription(
		"Read the settlement event log, newest first. Useful to confirm a payment or trace a failure."),
	mcp.WithString("topic", mcp.Description("Topic prefix (e.g. 'router/', 'escrow/locked')")),
	mcp.WithString("address", mcp.Description("Only events mentioning this address")),
	mcp.WithBoolean("audit_only", mcp.Description("Only failure and audit records")),
	mcp.WithNumber("limit", mcp.Description("Maximum events to return (default 20)")),
)
