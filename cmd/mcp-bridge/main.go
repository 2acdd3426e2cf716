// Command mcp-bridge exposes the gateway's tool passthrough to desktop MCP
// clients over stdio. Every call is made with GATEWAY_TOKEN, so the
// gateway's role routing and confirmation rules apply unchanged.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"mcpgateway/pkg/gatewayclient"
)

// Version is set at build time via ldflags.
var Version = "dev"

var (
	logFatalf               = log.Fatalf
	transport mcp.Transport = &mcp.StdioTransport{}
)

func main() {
	if err := runBridge(context.Background(), transport); err != nil {
		logFatalf("mcp-bridge: %v", err)
	}
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func newClientFromEnv() (*gatewayclient.Client, error) {
	token := os.Getenv("GATEWAY_TOKEN")
	if token == "" {
		return nil, errors.New("GATEWAY_TOKEN is required")
	}
	timeout := 60
	if v, err := strconv.Atoi(env("GATEWAY_TIMEOUT_SEC", "60")); err == nil && v > 0 {
		timeout = v
	}
	return &gatewayclient.Client{
		BaseURL:    env("GATEWAY_URL", "http://localhost:8080"),
		Token:      token,
		HTTPClient: &http.Client{Timeout: time.Duration(timeout) * time.Second},
		Retries:    1,
		RetryDelay: 200 * time.Millisecond,
	}, nil
}

func runBridge(ctx context.Context, t mcp.Transport) error {
	client, err := newClientFromEnv()
	if err != nil {
		return err
	}
	server := newBridgeServer(client)
	log.Printf("mcp-bridge: serving %s", client.BaseURL)
	return server.Run(ctx, t)
}

func newBridgeServer(client *gatewayclient.Client) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: "mcp-gateway-bridge", Version: Version}, nil)
	b := &bridge{client: client}

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_tools",
		Description: "List the gateway tools your roles can reach, with their kind (read or write) and parameter schema.",
	}, b.listTools)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "query_tool",
		Description: "Call one tool on one MCP server through the gateway. Read tools return data directly; write tools return a pending_confirmation with a confirmationId that must be resolved with confirm_action.",
	}, b.queryTool)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "confirm_action",
		Description: "Approve or deny a pending write action by its confirmationId. A confirmation can be resolved once and expires after its TTL.",
	}, b.confirmAction)
	return server
}

type bridge struct {
	client *gatewayclient.Client
}

type emptyInput struct{}

type queryInput struct {
	Server    string         `json:"server" jsonschema:"MCP server name, e.g. mcp-hr"`
	Tool      string         `json:"tool" jsonschema:"Tool name on that server"`
	Arguments map[string]any `json:"arguments,omitempty" jsonschema:"Tool arguments as a JSON object"`
}

type confirmInput struct {
	ConfirmationID string `json:"confirmationId" jsonschema:"Identifier returned in pending_confirmation"`
	Approved       bool   `json:"approved" jsonschema:"true to execute the action, false to deny it"`
}

func (b *bridge) listTools(ctx context.Context, _ *mcp.CallToolRequest, _ emptyInput) (*mcp.CallToolResult, any, error) {
	return replyResult(b.client.Tools(ctx))
}

func (b *bridge) queryTool(ctx context.Context, _ *mcp.CallToolRequest, in queryInput) (*mcp.CallToolResult, any, error) {
	return replyResult(b.client.Invoke(ctx, in.Server, in.Tool, in.Arguments))
}

func (b *bridge) confirmAction(ctx context.Context, _ *mcp.CallToolRequest, in confirmInput) (*mcp.CallToolResult, any, error) {
	return replyResult(b.client.Confirm(ctx, in.ConfirmationID, in.Approved))
}

// replyResult turns gateway failures into tool-level errors so the client
// model sees the gateway's message and suggested action.
func replyResult(reply gatewayclient.Reply, err error) (*mcp.CallToolResult, any, error) {
	if err != nil {
		msg := err.Error()
		var apiErr *gatewayclient.APIError
		if errors.As(err, &apiErr) && apiErr.Body.SuggestedAction != "" {
			msg = fmt.Sprintf("%s (%s)", msg, apiErr.Body.SuggestedAction)
		}
		return &mcp.CallToolResult{IsError: true, Content: []mcp.Content{&mcp.TextContent{Text: msg}}}, nil, nil
	}
	text := string(reply.Body)
	var pretty any
	if json.Unmarshal(reply.Body, &pretty) == nil {
		if out, mErr := json.MarshalIndent(pretty, "", "  "); mErr == nil {
			text = string(out)
		}
	}
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}, nil, nil
}
