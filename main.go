package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"prodcount/internal/backend"
	"prodcount/internal/config"
	"prodcount/internal/devbackend"
	"prodcount/internal/form"
	"prodcount/internal/shift"
)

const appVersion = "0.2.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app carries what every subcommand shares once flags are parsed.
type app struct {
	out io.Writer

	configPath string
	backendURL string
	verbose    bool

	cfg *config.Config
	log *zap.Logger
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{out: out}
	var port int

	cmd := &cobra.Command{
		Use:           "prodcount",
		Short:         "Production count entry form (web or CLI)",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if ok, _ := cmd.Flags().GetBool("version"); ok {
				fmt.Fprintf(a.out, "prodcount v%s\n", appVersion)
				return nil
			}
			if !cmd.Flags().Changed("port") {
				port = a.cfg.Web.Port
			}
			if port <= 0 {
				return fmt.Errorf("--port must be > 0")
			}
			printListenAddrs(a.out, port)
			ui, err := newWebUI(a.client(), a.log.Named("web"), form.WithLogger(a.log.Named("form")))
			if err != nil {
				return err
			}
			return runServer(cmd.Context(), fmt.Sprintf(":%d", port), ui.routes(), a.log)
		},
	}

	cmd.Version = appVersion
	cmd.SetVersionTemplate("prodcount v{{.Version}}\n")
	cmd.Flags().BoolP("version", "v", false, "Show version and exit")
	cmd.Flags().IntVar(&port, "port", 0, "Run web UI on this port (default from config, 8484)")

	cmd.PersistentFlags().StringVar(&a.configPath, "config", config.DefaultPath, "Config file (YAML)")
	cmd.PersistentFlags().StringVar(&a.backendURL, "backend", "", "Backend base URL (overrides config and "+config.EnvBackendURL+")")
	cmd.PersistentFlags().BoolVar(&a.verbose, "verbose", false, "Debug logging")

	cmd.AddCommand(a.shiftCmd(), a.submitCmd(), a.exportCmd(), a.devBackendCmd(), a.configCmd())
	return cmd
}

func (a *app) setup() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.backendURL != "" {
		cfg.Backend.BaseURL = a.backendURL
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	zc := zap.NewProductionConfig()
	lvl, err := zapcore.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("invalid logging level: %w", err)
	}
	if a.verbose {
		lvl = zapcore.DebugLevel
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	a.log, err = zc.Build()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

func (a *app) client() *backend.Client {
	return backend.New(a.cfg.Backend.BaseURL,
		backend.WithTimeout(a.cfg.BackendTimeout()),
		backend.WithLogger(a.log.Named("backend")))
}

/* ---------------- CLI ---------------- */

func (a *app) shiftCmd() *cobra.Command {
	var timeStr string
	cmd := &cobra.Command{
		Use:   "shift",
		Short: "Print the shift (A, B or empty) for a time of day",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("time") {
				timeStr = time.Now().Format(form.TimeLayout)
			}
			fmt.Fprintln(a.out, shift.Resolve(timeStr))
			return nil
		},
	}
	cmd.Flags().StringVar(&timeStr, "time", "", "Time HH:MM (default now)")
	return cmd
}

func (a *app) submitCmd() *cobra.Command {
	values := map[form.Field]*string{}
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Save one production entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctrl := form.New(a.client(), form.WithLogger(a.log.Named("form")))
			var edits []form.Edit
			for _, f := range form.EditableFields {
				if cmd.Flags().Changed(string(f)) {
					edits = append(edits, form.Edit{Field: f, Value: *values[f]})
				}
			}
			err := ctrl.Submit(cmd.Context(), edits...)
			return a.report(ctrl.View(), err)
		},
	}
	for _, f := range form.EditableFields {
		values[f] = new(string)
		cmd.Flags().StringVar(values[f], string(f), "", submitFlagUsage[f])
	}
	_ = cmd.MarkFlagRequired(string(form.FieldCount))
	return cmd
}

var submitFlagUsage = map[form.Field]string{
	form.FieldDate:     "Date YYYY-MM-DD (default today)",
	form.FieldTime:     "Time HH:MM, decides the shift (default now)",
	form.FieldLine:     "Line/machine",
	form.FieldProduct:  "Part number",
	form.FieldOperator: "Operator name or ID",
	form.FieldCount:    "Good count",
	form.FieldDefects:  "Defects (default 0)",
	form.FieldNotes:    "Notes",
}

func (a *app) exportCmd() *cobra.Command {
	var (
		date, timeStr, label, dir string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Download the spreadsheet for a date and shift",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctrl := form.New(a.client(), form.WithLogger(a.log.Named("form")))
			if cmd.Flags().Changed("date") {
				if err := ctrl.Update(form.FieldDate, date); err != nil {
					return err
				}
			}
			if cmd.Flags().Changed("shift") {
				start, err := shiftStart(label)
				if err != nil {
					return err
				}
				timeStr = start
			}
			if timeStr != "" {
				if err := ctrl.Update(form.FieldTime, timeStr); err != nil {
					return err
				}
			}
			if dir == "" {
				dir = a.cfg.Export.Dir
			}
			dl := &form.DirDownloader{Dir: dir}
			if err := a.report(ctrl.View(), ctrl.Export(cmd.Context(), dl)); err != nil {
				return err
			}
			fmt.Fprintln(a.out, dl.Saved)
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "Date YYYY-MM-DD (default today)")
	cmd.Flags().StringVar(&timeStr, "time", "", "Any time inside the shift, HH:MM (default now)")
	cmd.Flags().StringVar(&label, "shift", "", "Shift A or B (instead of --time)")
	cmd.Flags().StringVar(&dir, "out", "", "Directory to save into (default from config)")
	cmd.MarkFlagsMutuallyExclusive("time", "shift")
	return cmd
}

// shiftStart returns the first minute of the named shift.
func shiftStart(label string) (string, error) {
	label = strings.ToUpper(strings.TrimSpace(label))
	for _, w := range shift.Windows {
		if w.Label == label {
			return fmt.Sprintf("%02d:%02d", w.Start/60, w.Start%60), nil
		}
	}
	return "", fmt.Errorf("unknown shift %q (valid: A, B)", label)
}

// report prints the form's banner. An error banner becomes the command's
// error so the process exits non-zero with the same text the page would show.
func (a *app) report(v form.View, err error) error {
	if v.Message != nil {
		if v.Message.Kind == form.MessageError {
			return errors.New(v.Message.Text)
		}
		fmt.Fprintln(a.out, v.Message.Text)
	}
	return err
}

func (a *app) configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the config file",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with the default settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(a.configPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", a.configPath)
			}
			cfg := config.DefaultConfig()
			if a.backendURL != "" {
				cfg.Backend.BaseURL = a.backendURL
			}
			if err := cfg.Save(a.configPath); err != nil {
				return err
			}
			a.log.Debug("config written", zap.String("path", a.configPath))
			fmt.Fprintf(a.out, "Wrote %s\n", a.configPath)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")

	cmd.AddCommand(initCmd)
	return cmd
}

func (a *app) devBackendCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "devbackend",
		Short: "Run an in-memory records backend for local development",
		RunE: func(cmd *cobra.Command, args []string) error {
			if port <= 0 {
				return fmt.Errorf("--port must be > 0")
			}
			srv := devbackend.New(devbackend.WithLogger(a.log.Named("devbackend")))
			fmt.Fprintf(a.out, "Dev backend on http://127.0.0.1:%d%s\n", port, backend.RecordsPath)
			return runServer(cmd.Context(), fmt.Sprintf(":%d", port), srv.Handler(), a.log)
		},
	}
	cmd.Flags().IntVar(&port, "port", 8000, "Listen port")
	return cmd
}

/* ---------------- server lifecycle ---------------- */

// runServer serves h on addr until ctx is cancelled, then drains connections.
func runServer(ctx context.Context, addr string, h http.Handler, log *zap.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		log.Info("shutting down", zap.String("addr", addr))
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func printListenAddrs(out io.Writer, port int) {
	fmt.Fprintln(out, "Listening on:")
	fmt.Fprintf(out, "  http://127.0.0.1:%d/\n", port)

	ifaces, _ := net.Interfaces()
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, _ := iface.Addrs()
		for _, addr := range addrs {
			ip, _, err := net.ParseCIDR(addr.String())
			if err != nil || ip == nil || ip.IsLoopback() || ip.To4() == nil {
				continue
			}
			fmt.Fprintf(out, "  http://%s:%d/\n", ip.String(), port)
		}
	}
	fmt.Fprintln(out)
}
