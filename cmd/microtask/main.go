package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/andrewauclair/Task-Glacier-sub000/internal/app"
	"github.com/andrewauclair/Task-Glacier-sub000/internal/config"
	"github.com/andrewauclair/Task-Glacier-sub000/internal/domain"
	"github.com/andrewauclair/Task-Glacier-sub000/internal/logging"
	"github.com/andrewauclair/Task-Glacier-sub000/internal/server"
	microtasksdk "github.com/andrewauclair/Task-Glacier-sub000/sdk/go"
)

var rootCmd = &cobra.Command{
	Use:   "microtask <ip> <port> <database-path> <logfile-path> [hidden]",
	Short: "MicroTask time tracking server",
	Long: `MicroTask keeps a tree of tasks and the time spent on them.
Clients connect over TCP and speak the binary packet protocol; every
change is stored in a sqlite database and answered to the client that
asked for it. Issue tracker (Bugzilla) assignments become tasks.

The positional arguments override the config file. Pass "hidden" last to
keep log records off the console.`,
	Args:         cobra.MaximumNArgs(5),
	SilenceUsage: true,
	RunE:         runServer,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("MICROTASK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (yaml)")
	rootCmd.PersistentFlags().String("db", "", "database path (overrides config)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("db", rootCmd.PersistentFlags().Lookup("db"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))

	rootCmd.Flags().String("http-addr", "", "admin HTTP API listen address, empty to disable")
	rootCmd.Flags().String("log-level", "", "log level: debug, info, warn, error")
	rootCmd.Flags().String("jwt-secret", "", "HS256 secret guarding the admin HTTP API")
	rootCmd.Flags().Duration("refresh-interval", 0, "Bugzilla refresh interval, 0 to disable")
	_ = viper.BindPFlag("http-addr", rootCmd.Flags().Lookup("http-addr"))
	_ = viper.BindPFlag("log-level", rootCmd.Flags().Lookup("log-level"))
	_ = viper.BindPFlag("jwt-secret", rootCmd.Flags().Lookup("jwt-secret"))
	_ = viper.BindPFlag("refresh-interval", rootCmd.Flags().Lookup("refresh-interval"))
}

func registerCommands() {
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(categoriesCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(statusCmd())
}

// serverConfig merges the config file, the positional arguments and the
// bound flags, in increasing precedence.
func serverConfig(args []string) (*config.Config, error) {
	cfg, err := config.LoadOptional(viper.GetString("config"))
	if err != nil {
		return nil, err
	}
	if len(args) > 0 {
		cfg.Server.IP = args[0]
	}
	if len(args) > 1 {
		port, err := strconv.Atoi(args[1])
		if err != nil {
			return nil, fmt.Errorf("invalid port %q", args[1])
		}
		cfg.Server.Port = port
	}
	if len(args) > 2 {
		cfg.Storage.Database = args[2]
	}
	if len(args) > 3 {
		cfg.Logging.File = args[3]
	}
	if len(args) > 4 {
		if args[4] != "hidden" {
			return nil, fmt.Errorf("unexpected argument %q, expected \"hidden\"", args[4])
		}
		cfg.Logging.Hidden = true
	}
	if viper.IsSet("db") {
		cfg.Storage.Database = viper.GetString("db")
	}
	if viper.IsSet("http-addr") {
		cfg.Server.HTTPAddr = viper.GetString("http-addr")
	}
	if viper.IsSet("log-level") {
		cfg.Logging.Level = viper.GetString("log-level")
	}
	if viper.IsSet("jwt-secret") {
		cfg.Server.JWTSecret = viper.GetString("jwt-secret")
	}
	if viper.IsSet("refresh-interval") {
		cfg.Bugzilla.RefreshInterval = viper.GetDuration("refresh-interval")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := serverConfig(args)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Logging.File, logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Hidden, os.Stdout)
	if err != nil {
		return err
	}
	defer logger.Close()
	log := logger.Logger

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := app.Open(ctx, app.Options{DatabasePath: cfg.Storage.Database, Config: cfg, Logger: log})
	if err != nil {
		log.Error("open database", "path", cfg.Storage.Database, "err", err)
		return err
	}
	defer c.Close()

	ln, err := net.Listen("tcp", net.JoinHostPort(cfg.Server.IP, strconv.Itoa(cfg.Server.Port)))
	if err != nil {
		return err
	}
	tcp := server.NewTCP(c.API, log)
	go tcp.RunRefresh(ctx, cfg.Bugzilla.RefreshInterval)

	if cfg.Server.HTTPAddr != "" {
		handler, err := server.New(server.Config{
			API:    c.API,
			Events: c.Repo,
			Hub:    tcp.Hub,
			Auth:   server.AuthConfig{JWTSecret: cfg.Server.JWTSecret, Logger: log},
		})
		if err != nil {
			ln.Close()
			return err
		}
		srv := &http.Server{Addr: cfg.Server.HTTPAddr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
		go func() {
			log.Info("admin api listening", "addr", cfg.Server.HTTPAddr, "openapi", "/openapi.json", "docs", "/docs")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("admin api stopped", "err", err)
			}
		}()
	}

	err = tcp.Serve(ctx, ln)
	log.Info("server stopped")
	return err
}

func reportCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "report", Short: "Print time reports from a database"}
	cmd.AddCommand(reportDailyCmd())
	cmd.AddCommand(reportWeeklyCmd())
	return cmd
}

func reportDailyCmd() *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "daily",
		Short: "Sessions and totals of one day",
		RunE: func(cmd *cobra.Command, args []string) error {
			y, m, d, err := parseDay(date)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, c *app.Context) error {
				r, err := c.API.DailyReport(m, d, y)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(r)
				}
				printDaily(c, r)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "day to report, YYYY-MM-DD (default today)")
	return cmd
}

func reportWeeklyCmd() *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "weekly",
		Short: "Daily totals of the Sunday to Saturday week holding a day",
		RunE: func(cmd *cobra.Command, args []string) error {
			y, m, d, err := parseDay(date)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, c *app.Context) error {
				r, err := c.API.WeeklyReport(m, d, y)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(r)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Day", "Date", "Start", "End", "Total"})
				for _, day := range r.Days {
					when := time.Date(day.Year, time.Month(day.Month), day.Day, 0, 0, 0, 0, time.Local)
					start, end := "", ""
					if day.Found {
						start = day.StartTime.Format(time.TimeOnly)
						end = formatStop(day.EndTime)
					}
					tw.AppendRow(table.Row{when.Weekday(), when.Format(time.DateOnly), start, end, formatDuration(day.TotalTime)})
				}
				tw.AppendFooter(table.Row{"", "", "", "Week", formatDuration(r.TotalTime())})
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "any day of the week, YYYY-MM-DD (default today)")
	return cmd
}

func printDaily(c *app.Context, r domain.DailyReport) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Task", "Name", "Start", "Stop"})
	for _, s := range r.Times {
		t, ok := c.API.Task(s.TaskID)
		if !ok || int(s.Index) >= len(t.Times) {
			continue
		}
		tt := t.Times[s.Index]
		tw.AppendRow(table.Row{t.ID, t.Name, tt.Start.Format(time.DateTime), formatStop(tt.Stop)})
	}
	tw.AppendFooter(table.Row{"", "", "Total", formatDuration(r.TotalTime)})
	tw.Render()

	if len(r.TimePerTimeEntry) == 0 {
		return
	}
	categories := c.API.TimeCategories()
	et := table.NewWriter()
	et.SetOutputMirror(os.Stdout)
	et.AppendHeader(table.Row{"Category", "Code", "Time"})
	for _, cat := range categories {
		for entry, d := range r.TimePerTimeEntry {
			if entry.CategoryID != cat.ID {
				continue
			}
			code := "unknown"
			if tc, ok := cat.Code(entry.CodeID); ok {
				code = tc.Name
			}
			et.AppendRow(table.Row{cat.Name, code, formatDuration(d)})
		}
	}
	et.SortBy([]table.SortBy{{Name: "Category", Mode: table.Asc}, {Name: "Code", Mode: table.Asc}})
	et.Render()
}

func categoriesCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "categories", Short: "Manage time categories"}
	cmd.AddCommand(categoriesImportCmd())
	cmd.AddCommand(categoriesListCmd())
	return cmd
}

func categoriesImportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Add time categories and codes from a yaml file",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			seeds, err := config.CategoriesFromYAML(data)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, c *app.Context) error {
				added, err := app.ImportCategories(ctx, c.API, seeds)
				if err != nil {
					return err
				}
				fmt.Printf("Imported %d categories and codes from %s\n", added, file)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "yaml file with time_categories")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func categoriesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List time categories and codes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, c *app.Context) error {
				categories := c.API.TimeCategories()
				if viper.GetBool("json") {
					return printJSON(categories)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Category", "Label", "Code ID", "Code", "Archived", "Tasks"})
				for _, cat := range categories {
					tw.AppendRow(table.Row{cat.ID, cat.Name, cat.Label, "", "", cat.Archived, ""})
					for _, code := range cat.Codes {
						tw.AppendRow(table.Row{"", "", "", code.ID, code.Name, code.Archived, code.TaskCount})
					}
				}
				tw.Render()
				return nil
			})
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Server configuration"}
	cmd.AddCommand(&cobra.Command{
		Use:   "default",
		Short: "Print the default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Print(config.GenerateDefault())
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := viper.GetString("config")
			if path == "" {
				return fmt.Errorf("--config required")
			}
			if _, err := config.FromFile(path); err != nil {
				return err
			}
			fmt.Println("config ok")
			return nil
		},
	})
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Persistence event log",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var kind string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the most recent writes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, c *app.Context) error {
				items, err := c.Repo.RecentEvents(ctx, kind, n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Time", "Type", "Entity"})
				for _, e := range items {
					entity := e.EntityKind
					if e.EntityID != nil {
						entity += " " + *e.EntityID
					}
					tw.AppendRow(table.Row{e.ID, e.TS, e.Type, entity})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&kind, "kind", "", "entity kind filter")
	return cmd
}

func statusCmd() *cobra.Command {
	var addr, token string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Query a running server through its admin HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := microtasksdk.New("http://" + addr)
			client.BearerToken = token
			health, err := client.Health(cmd.Context())
			if err != nil {
				return err
			}
			active, err := client.Tasks(cmd.Context(), "active")
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"health": health, "active": active})
			}
			fmt.Printf("status %s, %d clients connected, %d tasks\n", health.Status, health.Connections, health.Tasks)
			for _, t := range active {
				fmt.Printf("active: %d %s\n", t.ID, t.Name)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "admin HTTP API address")
	cmd.Flags().StringVar(&token, "token", os.Getenv("MICROTASK_TOKEN"), "bearer token")
	return cmd
}

// --- helpers ---

func withApp(ctx context.Context, fn func(context.Context, *app.Context) error) error {
	cfg, err := config.LoadOptional(viper.GetString("config"))
	if err != nil {
		return err
	}
	path := cfg.Storage.Database
	if viper.IsSet("db") {
		path = viper.GetString("db")
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("database %s: %w", path, err)
	}
	// an existing database is never seeded; keep the config's categories out
	cfg.TimeCategories = nil
	c, err := app.Open(ctx, app.Options{DatabasePath: path, Config: cfg, Logger: logging.Discard()})
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(ctx, c)
}

// parseDay splits a YYYY-MM-DD value. The report builder rejects days that
// do not exist.
func parseDay(s string) (year, month, day int, err error) {
	if s == "" {
		now := time.Now()
		return now.Year(), int(now.Month()), now.Day(), nil
	}
	if _, err := fmt.Sscanf(s, "%d-%d-%d", &year, &month, &day); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid date %q, want YYYY-MM-DD", s)
	}
	return year, month, day, nil
}

func formatStop(t *time.Time) string {
	if t == nil {
		return "running"
	}
	return t.Format(time.TimeOnly)
}

func formatDuration(d time.Duration) string {
	return d.Truncate(time.Second).String()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
