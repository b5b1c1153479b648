package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	shellwords "github.com/mattn/go-shellwords"
	"github.com/pingcap-incubator/tinyrecord/kv/schema"
	"github.com/spf13/cobra"
)

func newShellCommand(out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Run commands in one session; a transaction lasts until commit or rollback",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
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
			return shellLoop(c)
		},
	}
}

// runShellCommand runs one shell line against c. Errors are printed, not returned, so the shell keeps going.
func runShellCommand(ctx context.Context, c *client, args []string) {
	cmd := &cobra.Command{
		Use:           "shell",
		Short:         "tinyrecord shell command",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	run := func(fn func(args []string) error) func(*cobra.Command, []string) error {
		return func(_ *cobra.Command, args []string) error {
			return fn(args)
		}
	}
	var fields []string
	get := &cobra.Command{
		Use:   "get table key...",
		Short: "Read a record",
		Args:  cobra.MinimumNArgs(2),
		RunE: run(func(args []string) error {
			return c.get(ctx, args[0], args[1:], fields)
		}),
	}
	get.Flags().StringSliceVarP(&fields, "fields", "f", nil, "Load only these fields")

	var opt scanOptions
	scan := &cobra.Command{
		Use:   "scan table",
		Short: "Iterate the records of a table",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(args []string) error {
			return c.scan(ctx, args[0], opt)
		}),
	}
	flags := scan.Flags()
	flags.StringArrayVar(&opt.filters, "filter", nil, "Only rows whose field equals a value, as name=value")
	flags.StringSliceVar(&opt.sort, "sort", nil, "Sort by these fields")
	flags.BoolVar(&opt.desc, "desc", false, "Sort descending")
	flags.StringSliceVarP(&opt.fields, "fields", "f", nil, "Load only these fields")
	flags.IntVarP(&opt.limit, "limit", "n", 0, "Stop after this many rows")

	cmd.AddCommand(
		get,
		scan,
		&cobra.Command{
			Use:                   "insert table key... -- field=value...",
			Short:                 "Insert a record",
			Args:                  cobra.MinimumNArgs(2),
			DisableFlagsInUseLine: true,
			RunE: func(cmd *cobra.Command, args []string) error {
				keys, values := splitArgs(cmd, args)
				return c.insert(ctx, args[0], keys, values)
			},
		},
		&cobra.Command{
			Use:                   "modify table key... -- field=value...",
			Short:                 "Modify a record",
			Args:                  cobra.MinimumNArgs(2),
			DisableFlagsInUseLine: true,
			RunE: func(cmd *cobra.Command, args []string) error {
				keys, values := splitArgs(cmd, args)
				return c.modify(ctx, args[0], keys, values)
			},
		},
		&cobra.Command{
			Use:                   "delete table key...",
			Short:                 "Delete a record",
			Args:                  cobra.MinimumNArgs(2),
			DisableFlagsInUseLine: true,
			RunE: run(func(args []string) error {
				return c.remove(ctx, args[0], args[1:])
			}),
		},
		&cobra.Command{
			Use:                   "lock table",
			Short:                 "Lock a table for the rest of the transaction",
			Args:                  cobra.ExactArgs(1),
			DisableFlagsInUseLine: true,
			RunE: run(func(args []string) error {
				return c.lockTable(ctx, args[0])
			}),
		},
		&cobra.Command{
			Use:   "commit",
			Short: "Commit the transaction",
			Args:  cobra.NoArgs,
			RunE: run(func([]string) error {
				return c.session.Commit(ctx)
			}),
		},
		&cobra.Command{
			Use:   "rollback",
			Short: "Roll the transaction back",
			Args:  cobra.NoArgs,
			RunE: run(func([]string) error {
				return c.session.Rollback(ctx)
			}),
		},
		&cobra.Command{
			Use:   "state",
			Short: "Print the lock state of the tables touched by the transaction",
			Args:  cobra.NoArgs,
			Run: func(*cobra.Command, []string) {
				c.printStates()
			},
		},
	)
	cmd.SetArgs(args)
	cmd.SetOutput(c.out)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(c.out, "%s failed: %v\n", args[0], err)
	}
}

func shellLoop(c *client) error {
	l, err := readline.NewEx(&readline.Config{
		Prompt:            "\033[31m»\033[0m ",
		HistoryFile:       "/tmp/tinyrecord-ctl.history",
		InterruptPrompt:   "^C",
		EOFPrompt:         "^D",
		HistorySearchFold: true,
	})
	if err != nil {
		return err
	}
	defer l.Close()

	for {
		line, err := l.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				return nil
			}
			continue
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" {
			return nil
		}
		args, err := shellwords.Parse(line)
		if err != nil {
			fmt.Fprintf(c.out, "bad command line: %v\n", err)
			continue
		}
		runShellCommand(globalContext, c, args)
	}
}
