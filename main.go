package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/nyviadk/nexus/internal/actions"
	"github.com/nyviadk/nexus/internal/applog"
	"github.com/nyviadk/nexus/internal/bridge"
	"github.com/nyviadk/nexus/internal/browser"
	"github.com/nyviadk/nexus/internal/bus"
	"github.com/nyviadk/nexus/internal/classify"
	"github.com/nyviadk/nexus/internal/engine"
	"github.com/nyviadk/nexus/internal/queue"
	"github.com/nyviadk/nexus/internal/session"
	"github.com/nyviadk/nexus/internal/store"
	"github.com/nyviadk/nexus/internal/track"
)

const drainInterval = 30 * time.Second

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "inbox":
			runInbox(os.Args[2:])
			return
		case "workspaces":
			runWorkspaces(os.Args[2:])
			return
		case "import-session":
			runImportSession(os.Args[2:])
			return
		case "profiles":
			runProfiles()
			return
		case "help", "--help", "-h":
			printHelp()
			return
		}
	}
	runDaemon(os.Args[1:])
}

func runDaemon(args []string) {
	fs := flag.NewFlagSet("nexusd", flag.ExitOnError)
	dbPath := fs.String("db", "", "Database path (env: NEXUS_DB)")
	port := fs.Int("port", defaultPort(), "WebSocket port for the extension bridge (env: NEXUS_PORT)")
	model := fs.String("model", defaultModel(), "Ollama model for classification (env: NEXUS_MODEL)")
	dashPrefix := fs.String("dashboard-prefix", os.Getenv("NEXUS_DASHBOARD_PREFIX"), "URL prefix of the extension's own pages")
	loaderURL := fs.String("loader-url", os.Getenv("NEXUS_LOADER_URL"), "URL of the loader page pinned into restored windows")
	fs.Parse(args)

	db, err := openDB(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := applog.Init(filepath.Dir(dbFileOf(*dbPath))); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: logging disabled: %v\n", err)
	}
	defer applog.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	br := bridge.New(*port)
	co := track.New(db, br)
	bu := bus.New()
	cl := &classify.Ollama{Model: *model, Host: ollamaHost()}
	q := queue.New(db, br, cl, bu, co)
	act := actions.New(db, co)
	eng := engine.New(db, br, co, q, bu, act, engine.Config{
		DashboardPrefix: *dashPrefix,
		LoaderURL:       *loaderURL,
	})

	q.SetScheduler(func(d time.Duration) {
		time.AfterFunc(d, func() {
			if err := q.Drain(ctx); err != nil {
				applog.Error("queue.drain", err)
			}
		})
	})

	go func() {
		ticker := time.NewTicker(drainInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := q.Drain(ctx); err != nil {
					applog.Error("queue.drain", err)
				}
			}
		}
	}()

	go func() {
		if err := br.ListenAndServe(ctx); err != nil && ctx.Err() == nil {
			applog.Error("bridge.serve", err)
			fmt.Fprintf(os.Stderr, "Error: bridge server: %v\n", err)
			stop()
		}
	}()

	busCh, cancelBus := bu.Subscribe()
	defer cancelBus()

	applog.Info("daemon.start", "port", *port, "model", *model)
	fmt.Printf("nexusd listening on 127.0.0.1:%d\n", *port)

	for {
		select {
		case <-ctx.Done():
			applog.Info("daemon.stop")
			return

		case ev := <-br.Events():
			if _, ok := ev.(browser.Connected); ok {
				// Fresh browser attach: re-validate bindings against live
				// windows and correlate tabs before reacting to anything.
				if err := eng.Start(ctx); err != nil {
					applog.Error("engine.start", err)
				}
				continue
			}
			eng.HandleEvent(ctx, ev)

		case req := <-br.Requests():
			go handleRequest(ctx, eng, br, req)

		case msg := <-busCh:
			br.Push(msg.Type, msg)
		}
	}
}

func handleRequest(ctx context.Context, eng *engine.Engine, br *bridge.Bridge, req bridge.UIRequest) {
	var parsed engine.Request
	if err := json.Unmarshal(req.Payload, &parsed); err != nil {
		br.Reply(req.ID, nil, fmt.Errorf("bad request: %w", err))
		return
	}
	reply, err := eng.HandleRequest(ctx, parsed)
	if err != nil {
		applog.Error("request.failed", err, "type", parsed.Type)
	}
	br.Reply(req.ID, reply, err)
}

func runInbox(args []string) {
	fs := flag.NewFlagSet("inbox", flag.ExitOnError)
	dbPath := fs.String("db", "", "Database path (env: NEXUS_DB)")
	fs.Parse(args)

	db, err := openDB(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	tabs, err := store.InboxTabs(db)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if len(tabs) == 0 {
		fmt.Println("Inbox is empty.")
		return
	}
	for _, t := range tabs {
		status := t.AI.Status
		if t.AI.Status == store.AICompleted {
			status = fmt.Sprintf("%s (%d%%)", t.AI.Category, t.AI.Confidence)
		}
		if t.AI.Locked {
			status += " [locked]"
		}
		title := t.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Printf("%-40.40s  %-24s  %s\n", title, status, t.URL)
	}
	fmt.Printf("\n%d tab(s)\n", len(tabs))
}

func runWorkspaces(args []string) {
	fs := flag.NewFlagSet("workspaces", flag.ExitOnError)
	dbPath := fs.String("db", "", "Database path (env: NEXUS_DB)")
	fs.Parse(args)

	db, err := openDB(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	items, err := store.ListWorkspaces(db)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if len(items) == 0 {
		fmt.Println("No workspaces.")
		return
	}
	for _, w := range items {
		if w.Type == store.TypeFolder {
			fmt.Printf("%-36s  folder     %s\n", w.ID, w.Name)
			continue
		}
		n, err := store.CountWindows(db, w.ID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%-36s  workspace  %s (%d window(s))\n", w.ID, w.Name, n)
	}
}

func runImportSession(args []string) {
	fs := flag.NewFlagSet("import-session", flag.ExitOnError)
	dbPath := fs.String("db", "", "Database path (env: NEXUS_DB)")
	profileName := fs.String("profile", "", "Firefox profile name (default: the only importable one)")
	fs.Parse(args)

	profiles, err := session.DiscoverProfiles()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if len(profiles) == 0 {
		fmt.Fprintln(os.Stderr, "No importable Firefox profiles found.")
		os.Exit(1)
	}

	var chosen *session.Profile
	if *profileName == "" {
		if len(profiles) > 1 {
			fmt.Fprintln(os.Stderr, "Multiple profiles found; pick one with --profile:")
			for _, p := range profiles {
				fmt.Fprintf(os.Stderr, "  - %s\n", p.Name)
			}
			os.Exit(1)
		}
		chosen = &profiles[0]
	} else {
		for i := range profiles {
			if profiles[i].Name == *profileName {
				chosen = &profiles[i]
				break
			}
		}
		if chosen == nil {
			fmt.Fprintf(os.Stderr, "Profile %q not found.\n", *profileName)
			os.Exit(1)
		}
	}

	db, err := openDB(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	added, err := session.ImportInbox(db, chosen.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Imported %d tab(s) from profile %s.\n", added, chosen.Name)
}

func runProfiles() {
	profiles, err := session.DiscoverProfiles()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if len(profiles) == 0 {
		fmt.Println("No importable Firefox profiles found.")
		return
	}
	for _, p := range profiles {
		mark := " "
		if p.IsDefault {
			mark = "*"
		}
		fmt.Printf("%s %-20s %s\n", mark, p.Name, p.Path)
	}
}

func printHelp() {
	fmt.Print(`nexusd — workspace coordination daemon

Usage:
  nexusd                                  Run the daemon (default)
    --db <path>            Database path (env: NEXUS_DB)
    --port <n>             Extension bridge port (env: NEXUS_PORT, default: 19333)
    --model <name>         Ollama model (env: NEXUS_MODEL, default: llama3.2)
    --dashboard-prefix <u> URL prefix of the extension's own pages
    --loader-url <u>       Loader page pinned into restored windows

  nexusd inbox [--db <path>]              List inbox tabs and their classification
  nexusd workspaces [--db <path>]         List workspaces and window counts
  nexusd import-session [--profile <name>] [--db <path>]
                                          Import tabs from a Firefox session file
  nexusd profiles                         List importable Firefox profiles

Environment:
  NEXUS_DB       Database path (default: ~/.local/share/nexusd/nexus.db)
  NEXUS_PORT     Extension bridge port (default: 19333)
  NEXUS_MODEL    Ollama model (default: llama3.2)
  OLLAMA_HOST    Ollama server URL (default: http://localhost:11434)
`)
}

func openDB(flagPath string) (*sql.DB, error) {
	path := resolveDBPath(flagPath)
	if path == "" {
		var err error
		path, err = store.DefaultDBPath()
		if err != nil {
			return nil, err
		}
	}
	return store.OpenDB(path)
}

func resolveDBPath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	return os.Getenv("NEXUS_DB")
}

func dbFileOf(flagPath string) string {
	if path := resolveDBPath(flagPath); path != "" {
		return path
	}
	path, err := store.DefaultDBPath()
	if err != nil {
		return "."
	}
	return path
}

func defaultPort() int {
	if v := os.Getenv("NEXUS_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return 19333
}

func defaultModel() string {
	if v := os.Getenv("NEXUS_MODEL"); v != "" {
		return v
	}
	return "llama3.2"
}

func ollamaHost() string {
	if v := os.Getenv("OLLAMA_HOST"); v != "" {
		return v
	}
	return "http://localhost:11434"
}
