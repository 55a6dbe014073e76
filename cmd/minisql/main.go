// Command minisql is the CLI entry point for the engine.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/minisql/minisql/internal/config"
	"github.com/minisql/minisql/internal/engine"
	"github.com/minisql/minisql/internal/executor"
	"github.com/minisql/minisql/internal/shell"
)

// GroupCore groups the main subcommands in --help output.
const GroupCore = "core"

var (
	dbPath             string
	bufferPoolCapacity int
	defaultIsolation   string
	metricsEnabled     bool
)

var rootCmd = &cobra.Command{
	Use:   "minisql",
	Short: "A single-file relational database engine",
	Long: `minisql opens one database file and runs SQL against it, either
interactively (shell) or as a single statement (exec).`,
}

func init() {
	rootCmd.AddGroup(&cobra.Group{ID: GroupCore, Title: "Core:"})

	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database file path (default: from minisql.toml or minisql.db)")
	rootCmd.PersistentFlags().IntVar(&bufferPoolCapacity, "buffer-pool-capacity", 0, "resident page count for the buffer pool (default: from config)")
	rootCmd.PersistentFlags().StringVar(&defaultIsolation, "isolation", "", "default isolation level (default: from config)")
	rootCmd.PersistentFlags().BoolVar(&metricsEnabled, "metrics", false, "export buffer pool / transaction metrics to stdout")

	rootCmd.AddCommand(shellCmd, execCmd, initCmd)
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return config.Config{}, err
	}
	if dbPath != "" {
		cfg.DataFile = dbPath
	}
	if bufferPoolCapacity > 0 {
		cfg.BufferPoolCapacity = bufferPoolCapacity
	}
	if defaultIsolation != "" {
		cfg.DefaultIsolation = defaultIsolation
	}
	if metricsEnabled {
		cfg.MetricsEnabled = true
	}
	return cfg, nil
}

func openEngine(cmd *cobra.Command) (*engine.Engine, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	opts := engine.Options{BufferPoolCapacity: cfg.BufferPoolCapacity}
	if level, err := cfg.Isolation(); err == nil {
		opts.DefaultIsolation = level
		opts.HasDefaultIsolation = true
	}
	if cfg.MetricsEnabled {
		exporter, err := stdoutmetric.New(stdoutmetric.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("minisql: failed to create metrics exporter: %w", err)
		}
		provider := sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(5*time.Second))),
		)
		opts.Meter = provider.Meter("minisql")
	}

	return engine.Open(cfg.DataFile, opts)
}

var shellCmd = &cobra.Command{
	Use:     "shell",
	GroupID: GroupCore,
	Short:   "Start an interactive SQL shell",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer eng.Close()

		sh := shell.New(eng, os.Stdin, os.Stdout)
		return sh.Run()
	},
}

var execCmd = &cobra.Command{
	Use:     "exec <sql>",
	GroupID: GroupCore,
	Short:   "Execute a single SQL statement, or read statements from stdin when no argument is given",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer eng.Close()

		session := eng.NewSession()

		if len(args) > 0 {
			return runOne(session, strings.Join(args, " "), cmd)
		}

		scanner := bufio.NewScanner(os.Stdin)
		var buf strings.Builder
		for scanner.Scan() {
			buf.WriteString(scanner.Text())
			buf.WriteByte(' ')
			trimmed := strings.TrimSpace(buf.String())
			if !strings.HasSuffix(trimmed, ";") {
				continue
			}
			if err := runOne(session, trimmed, cmd); err != nil {
				return err
			}
			buf.Reset()
		}
		return scanner.Err()
	},
}

func runOne(session *executor.Session, sql string, cmd *cobra.Command) error {
	res, err := session.Exec(sql)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", err)
		return nil
	}
	if res == nil {
		return nil
	}
	if len(res.Columns) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), res.Message)
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), strings.Join(res.Columns, "\t"))
	for _, row := range res.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			if v.IsNull() {
				cells[i] = "NULL"
			} else {
				cells[i] = v.String()
			}
		}
		fmt.Fprintln(cmd.OutOrStdout(), strings.Join(cells, "\t"))
	}
	return nil
}

var initCmd = &cobra.Command{
	Use:     "init",
	GroupID: GroupCore,
	Short:   "Create a new, empty database file",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine(cmd)
		if err != nil {
			return err
		}
		defer eng.Close()
		fmt.Fprintf(cmd.OutOrStdout(), "initialized %s\n", eng.Path)
		return nil
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
