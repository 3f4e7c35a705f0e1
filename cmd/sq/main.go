package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"squadboard/internal/app"
	"squadboard/internal/config"
	"squadboard/internal/domain"
	"squadboard/internal/engine"
	"squadboard/internal/engine/auth"
	mcpadapter "squadboard/internal/mcp"
	"squadboard/internal/repo"
	"squadboard/internal/server"
	"squadboard/internal/source"
	"squadboard/internal/watch"
)

const version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:   "sq",
	Short: "Squadboard CLI",
	Long: `Squadboard reads a squad folder (.squad or the legacy .ai-team) and shows who is
working on what.
- Roster: team.md lists members and roles.
- Active logs: orchestration-log/ entries drive working/idle status and tasks.
- Narrative logs: log/ entries are listed but never change status.
- Decisions: decisions.md plus decisions/*.md, newest first.
- Issues: closed issues from the configured tracker, cached for a few minutes and
  grouped per member by squad:<name> labels or assignees.
- Event log: refreshes, root switches and fetches, view with 'sq log tail'.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("SQUADBOARD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory holding squadboard.yml and .squadboard/")
	flags.String("config", "", "config file (default <workspace>/squadboard.yml)")
	flags.String("root", "", "source root containing the squad folder (overrides config)")
	flags.String("folder", "", "squad folder name, e.g. .squad or .ai-team (overrides config)")
	flags.Bool("json", false, "output JSON")
	flags.Bool("no-store", false, "do not open the state store; disables persistence and the event log")
	flags.String("actor-id", "local-user", "actor recorded in the event log")
	for _, name := range []string{"workspace", "config", "root", "folder", "json", "no-store", "actor-id"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(membersCmd())
	rootCmd.AddCommand(tasksCmd())
	rootCmd.AddCommand(workCmd())
	rootCmd.AddCommand(decisionsCmd())
	rootCmd.AddCommand(logsCmd())
	rootCmd.AddCommand(issuesCmd())
	rootCmd.AddCommand(refreshCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(mcpCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apiKeyCmd())
}

func membersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "members",
		Short: "List squad members with status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				members, err := e.ListMembers(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(members)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Name", "Role", "Status", "Current Task"})
				for _, m := range members {
					current := ""
					if m.CurrentTask != nil {
						current = fmt.Sprintf("#%s %s", m.CurrentTask.ID, m.CurrentTask.Title)
					}
					tw.AppendRow(table.Row{m.Name, m.Role, m.Status, current})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func tasksCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "tasks [member]",
		Short: "List tasks, optionally for one member",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				var tasks []domain.Task
				var err error
				if len(args) == 1 {
					tasks, err = e.ListTasksForMember(ctx, args[0])
				} else {
					tasks, err = e.ListTasks(ctx)
				}
				if err != nil {
					return err
				}
				if status != "" {
					filtered := []domain.Task{}
					for _, t := range tasks {
						if string(t.Status) == status {
							filtered = append(filtered, t)
						}
					}
					tasks = filtered
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Assignee", "Started", "Completed"})
				for _, t := range tasks {
					completed := ""
					if t.CompletedAt != nil {
						completed = humanize.Time(*t.CompletedAt)
					}
					tw.AppendRow(table.Row{"#" + t.ID, t.Title, t.Status, t.Assignee, humanize.Time(t.StartedAt), completed})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter (pending, in_progress, completed)")
	return cmd
}

func workCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "work <task-id>",
		Short: "Show a task with its member and related logs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				wd, ok, err := e.GetWorkDetails(ctx, args[0])
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("task %s not found", args[0])
				}
				if viper.GetBool("json") {
					return printJSON(wd)
				}
				fmt.Printf("Task #%s: %s [%s]\n", wd.Task.ID, wd.Task.Title, wd.Task.Status)
				fmt.Printf("Member: %s (%s, %s)\n", wd.Member.Name, wd.Member.Role, wd.Member.Status)
				fmt.Printf("Started: %s\n", humanize.Time(wd.Task.StartedAt))
				if wd.Task.CompletedAt != nil {
					fmt.Printf("Completed: %s\n", humanize.Time(*wd.Task.CompletedAt))
				}
				if wd.Task.Description != "" {
					fmt.Printf("\n%s\n", wd.Task.Description)
				}
				if len(wd.Logs) == 0 {
					return nil
				}
				fmt.Println()
				tw := newTable()
				tw.AppendHeader(table.Row{"Date", "Stream", "Title", "Participants"})
				for _, l := range wd.Logs {
					tw.AppendRow(table.Row{l.Date, l.Stream, l.Title, strings.Join(l.Participants, ", ")})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func decisionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decisions",
		Short: "List decisions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				ds, err := e.ListDecisions(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(ds)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Date", "Title", "Author", "Location"})
				for _, d := range ds {
					tw.AppendRow(table.Row{d.Date, d.Title, d.Author, fmt.Sprintf("%s:%d", d.FilePath, d.LineNumber)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func logsCmd() *cobra.Command {
	var stream string
	var limit int
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "List session log entries, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				entries, err := e.ListLogEntries(ctx, domain.Stream(stream))
				if err != nil {
					return err
				}
				if limit > 0 && len(entries) > limit {
					entries = entries[:limit]
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Date", "Topic", "Participants", "Related"})
				for _, l := range entries {
					tw.AppendRow(table.Row{l.Date, l.Topic, strings.Join(l.Participants, ", "), strings.Join(l.RelatedIssues, " ")})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&stream, "stream", string(domain.StreamActive), "log stream (active or narrative)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum entries (0 = all)")
	return cmd
}

func issuesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "issues",
		Short: "Tracker issues, cached and correlated to members",
	}
	cmd.AddCommand(issuesListCmd("closed", "List closed issues"))
	cmd.AddCommand(issuesListCmd("open", "List open issues"))
	cmd.AddCommand(issuesByMemberCmd())
	return cmd
}

func issuesListCmd(state, short string) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   state,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				list, err := e.Issues(ctx, state, force)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(list)
				}
				printIssueHeader(list)
				tw := newTable()
				tw.AppendHeader(table.Row{"#", "Title", "Assignee", "Labels", "Updated"})
				for _, is := range list.Issues {
					tw.AppendRow(table.Row{is.Number, is.Title, is.Assignee, strings.Join(is.Labels, ", "), humanize.Time(is.UpdatedAt)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "bypass the cache")
	return cmd
}

func issuesByMemberCmd() *cobra.Command {
	var state string
	var force bool
	cmd := &cobra.Command{
		Use:   "by-member",
		Short: "Group issues by the member they correlate to",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				byMember, err := e.IssuesByMember(ctx, state, force)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(byMember)
				}
				members, err := e.ListMembers(ctx)
				if err != nil {
					return err
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Member", "#", "Title"})
				for _, name := range engine.MemberNames(byMember, members) {
					for i, is := range byMember[name] {
						label := name
						if i > 0 {
							label = ""
						}
						tw.AppendRow(table.Row{label, is.Number, is.Title})
					}
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&state, "state", "closed", "issue state (open or closed)")
	cmd.Flags().BoolVar(&force, "force", false, "bypass the cache")
	return cmd
}

func printIssueHeader(list engine.IssueList) {
	switch {
	case list.Degraded:
		fmt.Fprintln(os.Stderr, "warning: issue source unavailable; showing no issues")
	case list.Cached:
		fmt.Printf("Cached, fetched %s\n", humanize.Time(list.FetchedAt))
	case !list.FetchedAt.IsZero():
		fmt.Printf("Fetched %s\n", humanize.Time(list.FetchedAt))
	}
}

func refreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Discard cached state and re-read the squad folder",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				if err := e.Refresh(ctx, viper.GetString("actor-id")); err != nil {
					return err
				}
				s, err := e.Snapshot(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"generation": s.Generation, "root": s.Layout.Root, "folder": s.Layout.Folder})
				}
				fmt.Printf("Refreshed %s (generation %s)\n", s.Layout.Dir(), s.Generation)
				return nil
			})
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var authRequired, watchFiles bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if addr == "" {
					addr = a.Config.Server.Addr
				}
				if basePath == "" {
					basePath = a.Config.Server.BasePath
				}
				authCfg := server.AuthConfig{Required: authRequired, Logger: a.Logger}
				if env := a.Config.Server.JWTSecretEnv; env != "" {
					authCfg.JWTSecret = os.Getenv(env)
				}
				if authRequired && authCfg.JWTSecret == "" && a.DB == nil {
					return errors.New("auth required but neither a JWT secret nor a state store for API keys is available")
				}
				handler, err := server.New(server.Config{Engine: a.Engine, BasePath: basePath, Auth: authCfg})
				if err != nil {
					return err
				}
				server.StartWebhooks(ctx, a.Engine.Repo, a.Config.Server.Webhooks, a.Logger)
				if watchFiles {
					go func() {
						if err := newWatcher(a).Run(ctx); err != nil {
							a.Logger.Printf("watch: stopped: %v", err)
						}
					}()
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(sctx)
				}()
				fmt.Printf("Serving Squadboard API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default from config)")
	cmd.Flags().BoolVar(&authRequired, "auth-required", false, "reject requests without a bearer token or API key")
	cmd.Flags().BoolVar(&watchFiles, "watch", false, "refresh automatically when the squad folder changes")
	return cmd
}

func mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the read tools over MCP stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				return mcpserver.ServeStdio(mcpadapter.NewServer(e, version))
			})
		},
	}
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Refresh whenever the squad folder changes and print member status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				w := newWatcher(a)
				inner := w.OnChange
				w.OnChange = func(ctx context.Context) {
					inner(ctx)
					members, err := a.Engine.ListMembers(ctx)
					if err != nil {
						a.Logger.Printf("watch: %v", err)
						return
					}
					working := 0
					for _, m := range members {
						if m.Status == domain.StatusWorking {
							working++
						}
					}
					fmt.Printf("%s  %d members, %d working\n", time.Now().Format(time.Kitchen), len(members), working)
				}
				fmt.Printf("Watching %s\n", a.Engine.Layout().Dir())
				return w.Run(ctx)
			})
		},
	}
}

// newWatcher follows the engine across root switches.
func newWatcher(a *app.App) *watch.Watcher {
	layout := a.Engine.Layout()
	w := &watch.Watcher{
		Root:     layout.Root,
		Dir:      layout.Dir(),
		Debounce: a.Config.Debounce(),
		Logger:   a.Logger,
		OnChange: func(ctx context.Context) {
			if err := a.Engine.Refresh(ctx, "watch"); err != nil {
				a.Logger.Printf("watch: refresh failed: %v", err)
			}
		},
	}
	a.Engine.OnRootSwitch(func(l source.Layout) { w.Retarget(l.Root, l.Dir()) })
	return w
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect and create squadboard.yml",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	cfg.AddCommand(configInitCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig(viper.GetString("workspace"), overrides())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			out, err := cfg.YAML()
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate squadboard.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if path := viper.GetString("config"); path != "" {
				_, err = config.FromFile(path)
			} else {
				_, err = config.Load(viper.GetString("workspace"))
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default squadboard.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.Template()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func logCmd() *cobra.Command {
	l := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Refreshes, root switches, issue fetches and API key grants recorded in the state store.",
	}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, root string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if a.DB == nil {
					return errors.New("the event log needs the state store; drop --no-store")
				}
				evts, err := a.Engine.Repo.LatestEvents(ctx, n, repo.EventFilter{Type: evtType, Root: root})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(evts)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "When", "Type", "Actor", "Root", "Payload"})
				for _, evt := range evts {
					when := evt.TS
					if ts, err := time.Parse(time.RFC3339, evt.TS); err == nil {
						when = humanize.Time(ts)
					}
					tw.AppendRow(table.Row{evt.ID, when, evt.Type, evt.ActorID, evt.Root, evt.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&root, "root-filter", "", "only events for this root")
	return cmd
}

func apiKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys for the HTTP server",
	}
	cmd.AddCommand(apiKeyCreateCmd())
	return cmd
}

func apiKeyCreateCmd() *cobra.Command {
	var actorID, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key; the plaintext is printed once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if a.DB == nil {
					return errors.New("api keys need the state store; drop --no-store")
				}
				svc := auth.Service{Repo: a.Engine.Repo, Events: a.Engine.Events, Now: a.Engine.Now}
				if actorID == "" {
					actorID = viper.GetString("actor-id")
				}
				plain, key, err := svc.Issue(ctx, actorID, name)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": key.ID, "actor_id": key.ActorID, "name": key.Name, "key": plain})
				}
				fmt.Printf("API key %s for %s:\n%s\n", key.ID, key.ActorID, plain)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "actor the key authenticates as (default --actor-id)")
	cmd.Flags().StringVar(&name, "name", "", "label for the key")
	return cmd
}

// --- helpers ---

func overrides() app.Overrides {
	return app.Overrides{
		ConfigPath: viper.GetString("config"),
		Root:       viper.GetString("root"),
		Folder:     viper.GetString("folder"),
		NoStore:    viper.GetBool("no-store"),
	}
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.Open(ctx, viper.GetString("workspace"), overrides(), log.New(os.Stderr, "", log.LstdFlags))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func withEngine(ctx context.Context, fn func(context.Context, *engine.Engine) error) error {
	return withApp(ctx, func(ctx context.Context, a *app.App) error {
		return fn(ctx, a.Engine)
	})
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	return tw
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
