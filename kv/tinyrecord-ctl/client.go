package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/ngaut/log"
	"github.com/pingcap-incubator/tinyrecord/kv/config"
	"github.com/pingcap-incubator/tinyrecord/kv/lock"
	"github.com/pingcap-incubator/tinyrecord/kv/record"
	"github.com/pingcap-incubator/tinyrecord/kv/schema"
	"github.com/pingcap-incubator/tinyrecord/kv/storage"
	"github.com/pingcap-incubator/tinyrecord/kv/storage/badger_storage"
	"github.com/pingcap-incubator/tinyrecord/kv/storage/sql_storage"
	"github.com/pingcap-incubator/tinyrecord/kv/transaction"
	"github.com/pingcap/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func newStorage(conf *config.Config) storage.Storage {
	switch conf.Engine {
	case config.EngineBadger:
		return badger_storage.NewBadgerStorage(conf)
	case config.EngineMSSQL:
		return sql_storage.NewSQLStorage(conf)
	}
	ms := storage.NewMemStorage()
	ms.LockTimeout = time.Duration(conf.LockTimeout)
	return ms
}

// client runs record operations for the command line. All operations share one session, so in the shell a
// transaction spans commands until commit or rollback.
type client struct {
	catalog *schema.Catalog
	store   storage.Storage
	session *transaction.Session
	opts    record.Options
	out     io.Writer
}

func openClient(conf *config.Config, catalog *schema.Catalog, out io.Writer) (*client, error) {
	widening, err := record.ParseWidening(conf.JITWidening)
	if err != nil {
		return nil, err
	}
	store := newStorage(conf)
	if err = store.Start(); err != nil {
		return nil, err
	}
	log.Debugf("opened %s store, locking mode %s", conf.Engine, conf.LockingMode)
	return newClient(store, conf.Mode(), catalog, record.Options{Widening: widening}, out), nil
}

func newClient(store storage.Storage, mode lock.Mode, catalog *schema.Catalog, opts record.Options, out io.Writer) *client {
	return &client{
		catalog: catalog,
		store:   store,
		session: transaction.NewSession(store, mode),
		opts:    opts,
		out:     out,
	}
}

func (c *client) close() {
	if err := c.session.Close(); err != nil {
		log.Warnf("close session: %v", err)
	}
	if err := c.store.Stop(); err != nil {
		log.Warnf("stop store: %v", err)
	}
}

func (c *client) handle(tableName string) (*record.Handle, error) {
	t, ok := c.catalog.TableByName(tableName)
	if !ok {
		return nil, errors.Errorf("unknown table %s", tableName)
	}
	return record.NewHandle(c.session, t, c.opts), nil
}

func parseKey(t *schema.Table, args []string) ([]interface{}, error) {
	if len(args) != len(t.PrimaryKey) {
		return nil, errors.Errorf("table %s expects %d key values, got %d", t.Name, len(t.PrimaryKey), len(args))
	}
	key := make([]interface{}, len(args))
	for i, col := range t.PrimaryKey {
		c, _ := t.Column(col)
		v, err := schema.ParseValue(c, args[i])
		if err != nil {
			return nil, err
		}
		key[i] = v
	}
	return key, nil
}

func parseColumns(t *schema.Table, names []string) ([]schema.ColumnID, error) {
	cols := make([]schema.ColumnID, 0, len(names))
	for _, name := range names {
		c, ok := t.ColumnByName(name)
		if !ok {
			return nil, errors.Errorf("table %s has no column %s", t.Name, name)
		}
		cols = append(cols, c.ID)
	}
	return cols, nil
}

// parseAssignment parses name=value for a column of t.
func parseAssignment(t *schema.Table, s string) (schema.ColumnID, interface{}, error) {
	seps := strings.SplitN(s, "=", 2)
	if len(seps) != 2 {
		return 0, nil, errors.Errorf("bad assignment `%s`, expected format `name=value`", s)
	}
	c, ok := t.ColumnByName(seps[0])
	if !ok {
		return 0, nil, errors.Errorf("table %s has no column %s", t.Name, seps[0])
	}
	v, err := schema.ParseValue(c, seps[1])
	return c.ID, v, err
}

// printRow writes the loaded fields of h as one JSON object.
func (c *client) printRow(ctx context.Context, h *record.Handle) error {
	out := make(map[string]interface{})
	for _, col := range h.LoadSpec().Columns() {
		v, err := h.Value(ctx, col)
		if err != nil {
			return err
		}
		column, _ := h.Table().Column(col)
		out[column.Name] = v
	}
	data, err := json.Marshal(out)
	if err != nil {
		return errors.Trace(err)
	}
	_, err = fmt.Fprintln(c.out, string(data))
	return err
}

func (c *client) get(ctx context.Context, table string, keyArgs []string, fields []string) error {
	h, err := c.handle(table)
	if err != nil {
		return err
	}
	key, err := parseKey(h.Table(), keyArgs)
	if err != nil {
		return err
	}
	cols, err := parseColumns(h.Table(), fields)
	if err != nil {
		return err
	}
	if err = h.SetLoadFields(cols...); err != nil {
		return err
	}
	ok, err := h.Get(ctx, key...)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintf(c.out, "%s %v not found\n", table, keyArgs)
		return nil
	}
	return c.printRow(ctx, h)
}

type scanOptions struct {
	filters []string
	sort    []string
	desc    bool
	fields  []string
	limit   int
	lock    bool
}

func (c *client) scan(ctx context.Context, table string, opt scanOptions) error {
	h, err := c.handle(table)
	if err != nil {
		return err
	}
	t := h.Table()
	for _, f := range opt.filters {
		col, v, err := parseAssignment(t, f)
		if err != nil {
			return err
		}
		if err = h.SetFilter(col, v); err != nil {
			return err
		}
	}
	sortCols, err := parseColumns(t, opt.sort)
	if err != nil {
		return err
	}
	if err = h.SetCurrentKey(sortCols...); err != nil {
		return err
	}
	h.SetAscending(!opt.desc)
	cols, err := parseColumns(t, opt.fields)
	if err != nil {
		return err
	}
	if err = h.SetLoadFields(cols...); err != nil {
		return err
	}
	if opt.lock {
		if err = h.LockTable(ctx); err != nil {
			return err
		}
	}

	n := 0
	ok, err := h.FindSet(ctx)
	for ; ok && err == nil; ok, err = h.Next(ctx) {
		if err = c.printRow(ctx, h); err != nil {
			return err
		}
		n++
		if opt.limit > 0 && n >= opt.limit {
			break
		}
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%d rows\n", n)
	return nil
}

func (c *client) insert(ctx context.Context, table string, keyArgs, assignments []string) error {
	h, err := c.handle(table)
	if err != nil {
		return err
	}
	key, err := parseKey(h.Table(), keyArgs)
	if err != nil {
		return err
	}
	h.Init()
	for i, col := range h.Table().PrimaryKey {
		if err = h.SetValue(col, key[i]); err != nil {
			return err
		}
	}
	if err = assign(h, assignments); err != nil {
		return err
	}
	return h.Insert(ctx)
}

func (c *client) modify(ctx context.Context, table string, keyArgs, assignments []string) error {
	h, err := c.find(ctx, table, keyArgs)
	if err != nil {
		return err
	}
	if err = assign(h, assignments); err != nil {
		return err
	}
	return h.Modify(ctx)
}

func (c *client) remove(ctx context.Context, table string, keyArgs []string) error {
	h, err := c.find(ctx, table, keyArgs)
	if err != nil {
		return err
	}
	return h.Delete(ctx)
}

func (c *client) lockTable(ctx context.Context, table string) error {
	h, err := c.handle(table)
	if err != nil {
		return err
	}
	return h.LockTable(ctx)
}

func (c *client) find(ctx context.Context, table string, keyArgs []string) (*record.Handle, error) {
	h, err := c.handle(table)
	if err != nil {
		return nil, err
	}
	key, err := parseKey(h.Table(), keyArgs)
	if err != nil {
		return nil, err
	}
	ok, err := h.Get(ctx, key...)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Errorf("%s %v not found", table, keyArgs)
	}
	return h, nil
}

func assign(h *record.Handle, assignments []string) error {
	for _, a := range assignments {
		col, v, err := parseAssignment(h.Table(), a)
		if err != nil {
			return err
		}
		if err = h.SetValue(col, v); err != nil {
			return err
		}
	}
	return nil
}

// printStates writes the table state of every catalog table touched by the current transaction.
func (c *client) printStates() {
	tx := c.session.Current()
	if tx == nil {
		fmt.Fprintln(c.out, "no active transaction")
		return
	}
	fmt.Fprintf(c.out, "transaction %d, %s locking\n", tx.ID(), tx.Mode())
	tables := c.catalog.Tables()
	sort.Slice(tables, func(i, j int) bool { return tables[i].Name < tables[j].Name })
	for _, t := range tables {
		if s := tx.State(t.ID); s != lock.Unlocked {
			fmt.Fprintf(c.out, "%s: %s, reads use %s\n", t.Name, s, tx.ReadHint(t.ID))
		}
	}
}
