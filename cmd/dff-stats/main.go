// Command dff-stats collects dialogue statistics and serves them back
// through a JSON API, a web dashboard, or a terminal report.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/deeppavlovteam/dialog-flow-node-stats/internal/api"
	"github.com/deeppavlovteam/dialog-flow-node-stats/internal/collector"
	"github.com/deeppavlovteam/dialog-flow-node-stats/internal/config"
	"github.com/deeppavlovteam/dialog-flow-node-stats/internal/dashboard"
	"github.com/deeppavlovteam/dialog-flow-node-stats/internal/dialog"
	"github.com/deeppavlovteam/dialog-flow-node-stats/internal/saver"
	"github.com/deeppavlovteam/dialog-flow-node-stats/internal/stats"
)

var (
	version = "dev"
	commit  = "unknown"
)

const usage = `Usage: dff-stats [flags] <command>

Commands:
  collect     Run the demo dialogue script and flush stats to storage
  api         Serve the stats JSON API
  dashboard   Serve the web dashboard
  report      Print a stats report to stdout

Flags:
`

func main() {
	configPath := flag.String("config", "", "Path to config file")
	dsn := flag.String("dsn", "", "Storage DSN (overrides config)")
	table := flag.String("table", "", "Storage table name (overrides config)")
	listenAddr := flag.String("listen", "", "Listen address (overrides config)")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Printf("dff-stats %s (%s)\n", version, commit)
		os.Exit(0)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// CLI overrides
	if *dsn != "" {
		cfg.Storage.DSN = *dsn
	}
	if *table != "" {
		cfg.Storage.Table = *table
	}

	cmd := flag.Arg(0)
	if cmd == "" {
		flag.Usage()
		os.Exit(2)
	}

	sv, err := saver.Open(cfg.Storage.DSN, cfg.Storage.Table)
	if err != nil {
		slog.Error("failed to open storage", "dsn", cfg.Storage.DSN, "error", err)
		os.Exit(1)
	}
	defer sv.Close()
	slog.Info("storage opened", "dsn", cfg.Storage.DSN, "table", cfg.Storage.Table)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	switch cmd {
	case "collect":
		err = runCollect(ctx, sv)
	case "api":
		if *listenAddr != "" {
			cfg.API.Listen = *listenAddr
		}
		err = runAPI(ctx, sv, cfg.API.Listen, logger)
	case "dashboard":
		if *listenAddr != "" {
			cfg.Dashboard.Listen = *listenAddr
		}
		err = runDashboard(ctx, sv, cfg.Dashboard.Listen, logger)
	case "report":
		err = runReport(ctx, sv)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		flag.Usage()
		os.Exit(2)
	}

	if err != nil && err != context.Canceled {
		slog.Error("command failed", "command", cmd, "error", err)
		os.Exit(1)
	}
}

// runCollect drives the demo dialogue script over two interleaved sessions
// and flushes the collected rows to storage.
func runCollect(ctx context.Context, sv saver.Saver) error {
	eng := demoEngine()

	st, err := stats.New(sv, collector.NodeLabel{}, collector.Request{}, collector.Response{})
	if err != nil {
		return err
	}
	st.RegisterHandlers(eng)

	sessions := []*dialog.Context{dialog.NewContext(), dialog.NewContext()}
	requests := []string{
		"start", "left", "left", "123", "asd", "right", "fallback",
		"left", "forward", "forward", "forward", "right",
		"back", "back", "back", "start",
	}

	for _, req := range requests {
		for _, session := range sessions {
			resp := eng.Turn(session, req)
			slog.Debug("turn", "session", session.ID, "request", req, "response", resp)
		}
	}

	if err := st.Flush(ctx); err != nil {
		return err
	}
	slog.Info("stats collected", "sessions", len(sessions), "turns", len(requests)*len(sessions))
	return nil
}

func runAPI(ctx context.Context, sv saver.Saver, listen string, logger *slog.Logger) error {
	st, err := stats.New(sv)
	if err != nil {
		return err
	}
	table, err := st.DataFrame(ctx)
	if err != nil {
		return fmt.Errorf("loading stats table: %w", err)
	}

	server := api.NewServer(table, logger)
	slog.Info("starting stats API", "listen", listen, "rows", table.Len())
	return serve(ctx, listen, server.Handler())
}

func runDashboard(ctx context.Context, sv saver.Saver, listen string, logger *slog.Logger) error {
	st, err := stats.New(sv)
	if err != nil {
		return err
	}
	loader := func(ctx context.Context) (*saver.Table, error) {
		return sv.Load(ctx, st.Schema())
	}

	hub := dashboard.NewHub(loader, logger)
	go hub.Run(ctx)

	server := dashboard.NewServer(loader, hub, logger)
	slog.Info("starting dashboard", "listen", listen)
	fmt.Fprintf(os.Stderr, "\n  Dashboard:  http://%s\n\n", listen)
	return serve(ctx, listen, server.Handler())
}

func runReport(ctx context.Context, sv saver.Saver) error {
	st, err := stats.New(sv)
	if err != nil {
		return err
	}
	table, err := st.DataFrame(ctx)
	if err != nil {
		return fmt.Errorf("loading stats table: %w", err)
	}
	return dashboard.TerminalReport(os.Stdout, table)
}

// serve runs an HTTP server until the context is cancelled.
func serve(ctx context.Context, listen string, handler http.Handler) error {
	srv := &http.Server{Addr: listen, Handler: handler}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		_ = srv.Shutdown(context.Background())
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// demoEngine builds the root/left/right demo dialogue graph.
func demoEngine() *dialog.Engine {
	root := func(node string) dialog.NodeLabel { return dialog.NodeLabel{Flow: "root", Node: node} }
	left := func(node string) dialog.NodeLabel { return dialog.NodeLabel{Flow: "left", Node: node} }
	right := func(node string) dialog.NodeLabel { return dialog.NodeLabel{Flow: "right", Node: node} }

	script := map[dialog.NodeLabel]dialog.ScriptNode{
		root("start"):    {Response: "s"},
		root("fallback"): {Response: "f"},
	}
	for flow, label := range map[string]func(string) dialog.NodeLabel{"left": left, "right": right} {
		for i := 0; i <= 4; i++ {
			node := fmt.Sprintf("step_%d", i)
			sn := dialog.ScriptNode{
				Response:    fmt.Sprintf("%c%d", flow[0], i),
				Transitions: map[string]dialog.NodeLabel{},
			}
			if i > 0 {
				sn.Transitions["back"] = label(fmt.Sprintf("step_%d", i-1))
			}
			if i < 4 {
				sn.Transitions["forward"] = label(fmt.Sprintf("step_%d", i+1))
			}
			script[label(node)] = sn
		}
	}

	// Global transitions available from every node
	for key, node := range script {
		if node.Transitions == nil {
			node.Transitions = map[string]dialog.NodeLabel{}
		}
		node.Transitions["left"] = left("step_2")
		node.Transitions["right"] = right("step_2")
		node.Transitions["start"] = root("start")
		node.Transitions["fallback"] = root("fallback")
		script[key] = node
	}

	return &dialog.Engine{
		StartLabel:    root("start"),
		FallbackLabel: root("fallback"),
		Script:        script,
	}
}
