package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/ngaut/log"
	"github.com/pingcap-incubator/tinyrecord/kv/config"
	"github.com/pingcap-incubator/tinyrecord/kv/lock"
	"github.com/pingcap-incubator/tinyrecord/kv/schema"
	"github.com/spf13/cobra"
)

var (
	configPath  string
	catalogPath string

	globalContext context.Context
	globalCancel  context.CancelFunc
)

func loadConfig() (*config.Config, error) {
	conf := config.NewDefaultConfig()
	if configPath != "" {
		var err error
		if conf, err = config.LoadFile(configPath); err != nil {
			return nil, err
		}
	} else if err := conf.Validate(); err != nil {
		return nil, err
	}
	log.SetLevelByString(conf.LogLevel)
	return conf, nil
}

// withClient opens a client, runs fn and commits. A failing fn rolls the transaction back.
func withClient(out io.Writer, fn func(ctx context.Context, c *client) error) error {
	conf, err := loadConfig()
	if err != nil {
		return err
	}
	catalog, err := schema.LoadCatalogFile(catalogPath)
	if err != nil {
		return err
	}
	c, err := openClient(conf, catalog, out)
	if err != nil {
		return err
	}
	defer c.close()
	if err = fn(globalContext, c); err != nil {
		return err
	}
	return c.session.Commit(globalContext)
}

func newGetCommand(out io.Writer) *cobra.Command {
	var fields []string
	m := &cobra.Command{
		Use:   "get table key...",
		Short: "Read one record by primary key",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(out, func(ctx context.Context, c *client) error {
				return c.get(ctx, args[0], args[1:], fields)
			})
		},
	}
	m.Flags().StringSliceVarP(&fields, "fields", "f", nil, "Load only these fields")
	return m
}

func newScanCommand(out io.Writer) *cobra.Command {
	var opt scanOptions
	m := &cobra.Command{
		Use:   "scan table",
		Short: "Iterate the records of a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(out, func(ctx context.Context, c *client) error {
				return c.scan(ctx, args[0], opt)
			})
		},
	}
	flags := m.Flags()
	flags.StringArrayVar(&opt.filters, "filter", nil, "Only rows whose field equals a value, as name=value")
	flags.StringSliceVar(&opt.sort, "sort", nil, "Sort by these fields")
	flags.BoolVar(&opt.desc, "desc", false, "Sort descending")
	flags.StringSliceVarP(&opt.fields, "fields", "f", nil, "Load only these fields")
	flags.IntVarP(&opt.limit, "limit", "n", 0, "Stop after this many rows")
	flags.BoolVar(&opt.lock, "lock", false, "Lock the table before reading")
	return m
}

func newInsertCommand(out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "insert table key... [-- field=value...]",
		Short: "Insert a record",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, values := splitArgs(cmd, args)
			return withClient(out, func(ctx context.Context, c *client) error {
				return c.insert(ctx, args[0], keys, values)
			})
		},
	}
}

func newModifyCommand(out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "modify table key... -- field=value...",
		Short: "Modify fields of a record",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, values := splitArgs(cmd, args)
			return withClient(out, func(ctx context.Context, c *client) error {
				return c.modify(ctx, args[0], keys, values)
			})
		},
	}
}

func newDeleteCommand(out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "delete table key...",
		Short: "Delete a record",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(out, func(ctx context.Context, c *client) error {
				return c.remove(ctx, args[0], args[1:])
			})
		},
	}
}

// splitArgs separates the key values after the table name from the field assignments that follow "--".
func splitArgs(cmd *cobra.Command, args []string) (keys, values []string) {
	if at := cmd.ArgsLenAtDash(); at > 0 {
		return args[1:at], args[at:]
	}
	return args[1:], nil
}

func newLocksCommand(out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "locks",
		Short: "Print the lock compatibility matrix and the read hints of every table state",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			printLocks(out)
		},
	}
}

func printLocks(out io.Writer) {
	strengths := []lock.Strength{lock.None, lock.Shared, lock.Update, lock.Exclusive}
	fmt.Fprintf(out, "%-10s", "")
	for _, b := range strengths {
		fmt.Fprintf(out, "%-10s", b)
	}
	fmt.Fprintln(out)
	for _, a := range strengths {
		fmt.Fprintf(out, "%-10s", a)
		for _, b := range strengths {
			mark := "ok"
			if !lock.Compatible(a, b) {
				mark = "X"
			}
			fmt.Fprintf(out, "%-10s", mark)
		}
		fmt.Fprintln(out)
	}
	fmt.Fprintln(out)

	const table schema.TableID = 1
	for _, mode := range []lock.Mode{lock.TriState, lock.TwoState} {
		fmt.Fprintf(out, "%s:\n", mode)
		steps := []struct {
			name  string
			apply func(*lock.Tracker)
		}{
			{"no access", func(*lock.Tracker) {}},
			{"after write", func(t *lock.Tracker) { t.OnWrite(table) }},
			{"after lock", func(t *lock.Tracker) { t.OnExplicitLock(table) }},
		}
		for _, step := range steps {
			t := lock.NewTracker(mode)
			step.apply(t)
			fmt.Fprintf(out, "  %-12s %-18s reads use %s\n", step.name, t.State(table), t.OnRead(table))
		}
	}
}

func newRootCommand(out io.Writer) *cobra.Command {
	rc := &cobra.Command{
		Use:           "tinyrecord-ctl",
		Short:         "Inspect and edit the records of a tinyrecord store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rc.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Configuration file to read from")
	rc.PersistentFlags().StringVar(&catalogPath, "catalog", "tables.toml", "Table definitions")

	rc.AddCommand(
		newGetCommand(out),
		newScanCommand(out),
		newInsertCommand(out),
		newModifyCommand(out),
		newDeleteCommand(out),
		newLocksCommand(out),
		newShellCommand(out),
	)
	rc.SetOutput(out)
	return rc
}

func main() {
	globalContext, globalCancel = context.WithCancel(context.Background())

	sc := make(chan os.Signal, 1)
	signal.Notify(sc,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)
	go func() {
		sig := <-sc
		log.Infof("Got signal [%s] to exit.", sig)
		globalCancel()
	}()

	if err := newRootCommand(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
