package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all settlement tools registered.
func NewMCPServer(cfg Config, version string) *server.MCPServer {
	s := server.NewMCPServer("zaps-settlement", version)
	h := NewHandlers(NewClient(cfg))

	s.AddTool(ToolCheckBalance, h.HandleCheckBalance)
	s.AddTool(ToolQuoteFX, h.HandleQuoteFX)
	s.AddTool(ToolGetMerchant, h.HandleGetMerchant)
	s.AddTool(ToolPayMerchant, h.HandlePayMerchant)
	s.AddTool(ToolLockEscrow, h.HandleLockEscrow)
	s.AddTool(ToolGetEscrow, h.HandleGetEscrow)
	s.AddTool(ToolReleaseEscrow, h.HandleReleaseEscrow)
	s.AddTool(ToolRefundEscrow, h.HandleRefundEscrow)
	s.AddTool(ToolListEvents, h.HandleListEvents)

	return s
}
