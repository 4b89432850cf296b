package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/ollamaup/internal/api"
	"github.com/kalambet/ollamaup/internal/catalog"
	"github.com/kalambet/ollamaup/internal/config"
	"github.com/kalambet/ollamaup/internal/install"
	"github.com/kalambet/ollamaup/internal/models"
	"github.com/kalambet/ollamaup/internal/provision"
)

// loadApp loads config, configures logging and wires the components.
var loadApp = func(withHistory bool) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	setupLogging(cfg.Log.Level, os.Stderr)
	return newApp(cfg, withHistory)
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status [model...]",
	Short: "Show server and model status",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(false)
		if err != nil {
			return err
		}

		names := args
		if len(names) == 0 {
			names = a.watched()
		}
		snap := a.resolver.Snapshot(cmd.Context(), names)

		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(snap)
		}

		printStatus("Ollama", "%s at %s", serverStatusColor(snap.ServerStatus), a.cfg.Ollama.BaseURL)
		printStatus("Panel API", "%s", panelAPIState(a.cfg.Server.Port))
		for _, name := range slices.Sorted(maps.Keys(snap.ModelStatuses)) {
			printStatus(name, "%s", modelStatusColor(snap.ModelStatuses[name]))
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().Bool("json", false, "print the snapshot as JSON")
}

func panelAPIState(port int) string {
	client, err := newAPIClient()
	if err != nil {
		return "unknown"
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := client.get(ctx, "/health")
	if err != nil {
		return "stopped"
	}
	resp.Body.Close()
	return fmt.Sprintf("running on port %d", port)
}

// --- install-server ---

var installServerCmd = &cobra.Command{
	Use:   "install-server [mode]",
	Short: "Install the Ollama server",
	Long: `Install the Ollama server using one of the modes offered on this host.

Modes open a terminal running the installer, or the download page for the
manual mode. Without a mode the available modes are listed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(false)
		if err != nil {
			return err
		}

		if len(args) == 0 {
			for _, m := range a.orch.Modes() {
				printStatus(string(m.ID), "%s", m.Label)
			}
			return nil
		}

		mode := install.Mode(args[0])
		if err := a.orch.InstallServer(cmd.Context(), mode); err != nil {
			if errors.Is(err, install.ErrUnknownMode) {
				return fmt.Errorf("%w %q on this host", err, mode)
			}
			return err
		}
		printSuccess("Started %s install", mode)

		wait, _ := cmd.Flags().GetBool("wait")
		if !wait || mode == install.ModeManual {
			return nil
		}
		return waitForServer(cmd.Context(), a)
	},
}

func init() {
	installServerCmd.Flags().Bool("wait", false, "wait until the server is running")
}

// waitForServer polls until the server starts or the install is no longer
// considered in progress.
func waitForServer(ctx context.Context, a *app) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	printStep("Waiting for the Ollama server to start...")
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		switch s := a.resolver.ServerStatus(ctx); s {
		case models.ServerStarted:
			printSuccess("Ollama server is running")
			return nil
		case models.ServerInstalling:
		default:
			return fmt.Errorf("server install did not complete (status %s)", s)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// --- setup ---

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Pull the selected models and configure Continue",
	Long: `Pull any missing models and configure Continue to use them.

Flags default to the configured models; pass an empty value to skip a slot.

Examples:
  ollamaup setup
  ollamaup setup --chat granite-code:20b --tab ""`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(true)
		if err != nil {
			return err
		}
		defer a.close()

		sel := a.defaults()
		if cmd.Flags().Changed("chat") {
			sel.Chat, _ = cmd.Flags().GetString("chat")
		}
		if cmd.Flags().Changed("tab") {
			sel.Tab, _ = cmd.Flags().GetString("tab")
		}
		if cmd.Flags().Changed("embeddings") {
			sel.Embeddings, _ = cmd.Flags().GetString("embeddings")
		}
		if len(sel.Models()) == 0 {
			return fmt.Errorf("no models selected")
		}

		if s := a.resolver.ServerStatus(cmd.Context()); s != models.ServerStarted {
			return fmt.Errorf("ollama server is %s; run ollamaup install-server first", s)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		pp := newProgressPrinter(os.Stderr)
		err = a.coordinator.Provision(ctx, sel, pp.handle)
		pp.finish()

		switch provision.OutcomeOf(err) {
		case provision.OutcomeSuccess:
			printSuccess("Configured Continue at %s", a.cfg.Assistant.ConfigPath)
			return nil
		case provision.OutcomeCancelled:
			printWarning("Setup cancelled")
			return nil
		default:
			return err
		}
	},
}

func init() {
	setupCmd.Flags().String("chat", "", "chat model (default from models.chat)")
	setupCmd.Flags().String("tab", "", "tab autocomplete model (default from models.tab)")
	setupCmd.Flags().String("embeddings", "", "embeddings model (default from models.embeddings)")
}

// --- cancel ---

var cancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Cancel the setup running in the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/api/setup")
		if err != nil {
			return err
		}
		var result struct {
			Cancelled bool `json:"cancelled"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if !result.Cancelled {
			printWarning("No setup is running")
			return nil
		}
		printSuccess("Setup cancel requested")
		return nil
	},
}

// --- info ---

var infoCmd = &cobra.Command{
	Use:   "info <model>",
	Short: "Show the download size and digest of a model",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(false)
		if err != nil {
			return err
		}

		info := catalog.Lookup(cmd.Context(), a.library, args[0])
		printStatus("Model", "%s", info.ID)
		printStatus("Size", "%s", sizeLabel(info.Size))
		if info.Digest != "" {
			printStatus("Digest", "%s", info.Digest)
		}

		ids, err := a.client.ModelIDs(cmd.Context())
		if err != nil {
			printStatus("Installed", "unknown (server not reachable)")
			return nil
		}
		installed := slices.ContainsFunc(ids, func(id string) bool { return models.Same(id, info.ID) })
		printStatus("Installed", "%t", installed)
		return nil
	},
}

// --- history ---

type runSummary struct {
	ID          string   `json:"id"`
	StartedAt   string   `json:"started_at"`
	Models      []string `json:"models"`
	Pulled      []string `json:"pulled"`
	Outcome     string   `json:"outcome"`
	FailedModel string   `json:"failed_model"`
	Error       string   `json:"error"`
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent provisioning runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/api/history?limit=%d", limit))
		if err != nil {
			return err
		}
		var runs []runSummary
		if err := decodeJSON(resp, &runs); err != nil {
			return err
		}

		if len(runs) == 0 {
			fmt.Println("No provisioning runs recorded.")
			return nil
		}
		printRuns(runs)
		return nil
	},
}

func init() {
	historyCmd.Flags().Int("limit", 20, "number of runs to show")
}

func printRuns(runs []runSummary) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tOUTCOME\tMODELS\tPULLED\tERROR")
	for _, r := range runs {
		outcome := r.Outcome
		if r.FailedModel != "" {
			outcome += " (" + r.FailedModel + ")"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			r.StartedAt, outcome, strings.Join(r.Models, ","), len(r.Pulled), truncate(r.Error, 48))
	}
	w.Flush()
}

// --- mcp ---

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the MCP tools over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(true)
		if err != nil {
			return err
		}
		defer a.close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		err = server.NewStdioServer(newMCPServer(a)).Listen(ctx, os.Stdin, os.Stdout)
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("mcp stdio server: %w", err)
		}
		return nil
	},
}

func newMCPServer(a *app) *server.MCPServer {
	return api.NewMCPServer(api.MCPDeps{
		Status:      a.resolver,
		Catalog:     a.library,
		Installed:   a.registry,
		Provisioner: a.coordinator,
		Watched:     a.watched(),
		Version:     version,
	})
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		fmt.Printf("\n  file: %s\n", config.FilePath())
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Restore a configuration value to its default",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
}

// --- token ---

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Print the API bearer token",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		rotate, _ := cmd.Flags().GetBool("rotate")
		var tok string
		if rotate {
			tok, err = config.RotateAPIToken(cfg.Storage.DataDir)
		} else {
			tok, err = config.APIToken(cfg.Storage.DataDir)
		}
		if err != nil {
			return err
		}
		fmt.Println(tok)
		if rotate {
			printWarning("Restart the server for the new token to take effect")
		}
		return nil
	},
}

func init() {
	tokenCmd.Flags().Bool("rotate", false, "replace the token with a new one")
}
