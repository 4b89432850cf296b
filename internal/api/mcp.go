package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/ollamaup/internal/catalog"
	"github.com/kalambet/ollamaup/internal/models"
	"github.com/kalambet/ollamaup/internal/provision"
)

// MCPStatus computes status snapshots for the MCP layer.
type MCPStatus interface {
	Snapshot(ctx context.Context, names []string) models.Snapshot
}

// MCPInstalled lists the models present on the server.
type MCPInstalled interface {
	ListInstalled(ctx context.Context) ([]models.InstalledModel, error)
}

// MCPProvisioner runs a provisioning request.
type MCPProvisioner interface {
	Provision(ctx context.Context, sel provision.Selections, onProgress func(models.ProgressEvent)) error
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Status      MCPStatus
	Catalog     catalog.Resolver
	Installed   MCPInstalled   // optional; if nil, installed_models returns an error
	Provisioner MCPProvisioner // optional; if nil, provision_models returns an error
	// Watched are the models reported when model_status gets no names.
	Watched []string
	Version string
}

// NewMCPServer creates an MCP server with all provisioning tools and
// resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"ollamaup",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("ollamaup provisions local Ollama models and wires them into the Continue assistant."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("model_status",
			mcp.WithDescription("Report the Ollama server status and the install status of models (installed, missing, stale, installing, unknown)."),
			mcp.WithArray("models", mcp.Description("Model names to check; defaults to the configured models")),
		),
		mcpModelStatus(deps),
	)

	s.AddTool(
		mcp.NewTool("model_info",
			mcp.WithDescription("Look up the download size and digest of a model in the public library."),
			mcp.WithString("model", mcp.Required(), mcp.Description("Model name, e.g. granite3.3:8b")),
		),
		mcpModelInfo(deps),
	)

	s.AddTool(
		mcp.NewTool("installed_models",
			mcp.WithDescription("List models present on the local Ollama server."),
		),
		mcpInstalledModels(deps),
	)

	s.AddTool(
		mcp.NewTool("provision_models",
			mcp.WithDescription("Pull any missing models and configure Continue to use them. Blocks until every pull finishes."),
			mcp.WithString("chat", mcp.Description("Chat model")),
			mcp.WithString("tab", mcp.Description("Tab autocomplete model")),
			mcp.WithString("embeddings", mcp.Description("Embeddings model")),
		),
		mcpProvision(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"ollama://status",
			"Model Status",
			mcp.WithResourceDescription("Server and configured model statuses as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceStatus(deps),
	)

	return s
}

func mcpModelStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		names := req.GetStringSlice("models", nil)
		if len(names) == 0 {
			names = deps.Watched
		}
		if len(names) == 0 {
			return mcpError("no models given and none configured"), nil
		}

		b, err := json.Marshal(deps.Status.Snapshot(ctx, names))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal status: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpModelInfo(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("model")
		if err != nil || strings.TrimSpace(id) == "" {
			return mcpError("model is required"), nil
		}

		b, err := json.Marshal(catalog.Lookup(ctx, deps.Catalog, id))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal info: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpInstalledModels(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.Installed == nil {
			return mcpError("installed model listing is not available"), nil
		}
		tags, err := deps.Installed.ListInstalled(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list models: %v", err)), nil
		}
		if len(tags) == 0 {
			return mcpText("No models installed."), nil
		}

		var sb strings.Builder
		for _, t := range tags {
			fmt.Fprintf(&sb, "%s\t%s\n", t.Name, shortDigest(t.Digest))
		}
		return mcpText(sb.String()), nil
	}
}

func mcpProvision(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.Provisioner == nil {
			return mcpError("provisioning is not available"), nil
		}
		sel := provision.Selections{
			Chat:       req.GetString("chat", ""),
			Tab:        req.GetString("tab", ""),
			Embeddings: req.GetString("embeddings", ""),
		}
		if len(sel.Models()) == 0 {
			return mcpError("at least one of chat, tab, embeddings is required"), nil
		}

		err := deps.Provisioner.Provision(ctx, sel, func(ev models.ProgressEvent) {
			slog.Debug("mcp: pull progress", "model", ev.Key, "status", ev.Status, "increment", ev.Increment)
		})
		switch provision.OutcomeOf(err) {
		case provision.OutcomeSuccess:
			return mcpText(fmt.Sprintf("Provisioned %s and updated the Continue configuration.", strings.Join(sel.Models(), ", "))), nil
		case provision.OutcomeCancelled:
			return mcpError("provisioning cancelled"), nil
		default:
			if model := provision.FailedModel(err); model != "" {
				return mcpError(fmt.Sprintf("failed to install %s: %v", model, err)), nil
			}
			return mcpError(fmt.Sprintf("provisioning failed: %v", err)), nil
		}
	}
}

func mcpResourceStatus(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(deps.Status.Snapshot(ctx, deps.Watched))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal status: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func shortDigest(d string) string {
	d = strings.TrimPrefix(d, "sha256:")
	if len(d) > 12 {
		return d[:12]
	}
	return d
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
