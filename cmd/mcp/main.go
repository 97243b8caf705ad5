// Zaps MCP server - exposes settlement operations as MCP tools for LLMs
package main

import (
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"

	"github.com/zapspay/settlement/internal/mcpserver"
)

// Version is set by ldflags.
var Version = "dev"

func main() {
	_ = godotenv.Load()

	cfg := mcpserver.Config{
		APIURL:  envOrDefault("ZAPS_API_URL", "http://localhost:8080"),
		Address: os.Getenv("ZAPS_ADDRESS"),
	}

	if hexKey := os.Getenv("ZAPS_PRIVATE_KEY"); hexKey != "" {
		key, err := crypto.HexToECDSA(trim0x(hexKey))
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid ZAPS_PRIVATE_KEY: %v\n", err)
			os.Exit(1)
		}
		cfg.Key = key
	}
	if cfg.Key == nil && cfg.Address == "" {
		fmt.Fprintln(os.Stderr, "ZAPS_PRIVATE_KEY or ZAPS_ADDRESS is required")
		os.Exit(1)
	}

	s := mcpserver.NewMCPServer(cfg, Version)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}

func trim0x(s string) string {
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		return s[2:]
	}
	return s
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
