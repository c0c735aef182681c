package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/goliatone/go-store-cache/cache"
	"github.com/goliatone/go-store-cache/schema"
	"github.com/goliatone/go-store-cache/storage/memstore"
	"github.com/goliatone/go-store-cache/storecache"
)

type rootOptions struct {
	schemaPath  string
	tableNaming string
	verbose     bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "flushplan",
		Short: "Inspect how records of a schema are flushed",
		Long: `flushplan loads a YAML schema and reports the order in which entity
classes are persisted, which foreign keys are written in a second pass,
and which store calls a flush of a given record set would issue.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.schemaPath, "schema", "s", "schema.yaml", "YAML schema file")
	rootCmd.PersistentFlags().StringVar(&opts.tableNaming, "table-naming", "", "Override table naming: snake or plural")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log engine activity to stderr")

	rootCmd.AddCommand(
		newOrderCmd(opts),
		newClosureCmd(opts),
		newCheckCmd(opts),
		newSimulateCmd(opts),
	)
	return rootCmd
}

func (o *rootOptions) loadSchema() (*schema.Schema, error) {
	var opts []schema.Option
	switch o.tableNaming {
	case "":
	case "snake":
		opts = append(opts, schema.WithTableNamer(schema.SnakeTables))
	case "plural":
		opts = append(opts, schema.WithTableNamer(schema.PluralTables))
	default:
		return nil, fmt.Errorf("unknown table naming %q", o.tableNaming)
	}
	return schema.LoadFile(o.schemaPath, opts...)
}

func (o *rootOptions) logf(cmd *cobra.Command) storecache.Logf {
	if !o.verbose {
		return nil
	}
	logger := log.New(cmd.ErrOrStderr(), "flushplan: ", 0)
	return func(_ context.Context, format string, args ...any) {
		logger.Printf(format, args...)
	}
}

func newOrderCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "order",
		Short: "Print the flush order",
		Long: `Print the classes in flush order with their tables. Nullable keys that
point at a class flushed at the same time or later are listed under their
class: new records are inserted with those keys cleared and restored once
every class has been written.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.loadSchema()
			if err != nil {
				return err
			}
			writeOrder(cmd.OutOrStdout(), s)
			return nil
		},
	}
}

func writeOrder(w io.Writer, s *schema.Schema) {
	plan := s.FullPlan()
	for i, id := range plan.Order {
		cls := s.Class(id)
		fmt.Fprintf(w, "%d. %s (%s)\n", i+1, cls.Name, cls.Table)
		for _, fk := range cls.NullableKeys() {
			if plan.Position(fk.TargetID()) >= i {
				fmt.Fprintf(w, "   %s -> %s, restored after insert\n", fk.Field, fk.Target)
			}
		}
	}
}

func newClosureCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "closure [class...]",
		Short: "Print the classes each class depends on",
		Long: `Print, for each given class or every class when none is given, the
classes reachable through its foreign keys in flush order. Flushing a
single class also flushes these.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.loadSchema()
			if err != nil {
				return err
			}

			ids := s.Order()
			if len(args) > 0 {
				ids = ids[:0]
				for _, name := range args {
					cls, ok := s.Lookup(name)
					if !ok {
						return fmt.Errorf("%w: %q", cache.ErrUnknownClass, name)
					}
					ids = append(ids, cls.ID)
				}
			}

			w := cmd.OutOrStdout()
			for _, id := range ids {
				deps := s.Names(s.Closure(id))
				if len(deps) == 0 {
					fmt.Fprintf(w, "%s: -\n", s.Class(id).Name)
					continue
				}
				fmt.Fprintf(w, "%s: %s\n", s.Class(id).Name, strings.Join(deps, ", "))
			}
			return nil
		},
	}
}

func newCheckCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the schema",
		Long:  "Validate the schema and fail when classes form a cycle of non-nullable foreign keys.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.loadSchema()
			if err != nil {
				var cycle *schema.CycleError
				if errors.As(err, &cycle) {
					return fmt.Errorf("make one of the foreign keys between %s nullable: %w",
						strings.Join(cycle.Classes, ", "), err)
				}
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "ok: %d classes\n", s.Len())
			fmt.Fprintf(w, "order: %s\n", strings.Join(s.Names(s.Order()), ", "))
			return nil
		},
	}
}

type simulateOptions struct {
	records   string
	seed      string
	removals  []string
	batchSize int
}

func newSimulateCmd(opts *rootOptions) *cobra.Command {
	simOpts := &simulateOptions{}

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Dry run a flush against an in-memory store",
		Long: `Stage the records of a YAML file for upsert, flush them into an
in-memory store that enforces foreign keys, and print the store calls the
flush issued followed by the row count of every class.

Records listed in --seed are written to the store first and loaded into
the cache, so they are updated instead of inserted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.loadSchema()
			if err != nil {
				return err
			}
			return simulate(cmd.Context(), cmd.OutOrStdout(), s, simOpts, opts.logf(cmd))
		},
	}
	cmd.Flags().StringVarP(&simOpts.records, "records", "r", "", "YAML file with the records to upsert")
	cmd.Flags().StringVar(&simOpts.seed, "seed", "", "YAML file with records already in the store")
	cmd.Flags().StringSliceVar(&simOpts.removals, "remove", nil, "Records to remove, as Class:id")
	cmd.Flags().IntVar(&simOpts.batchSize, "batch-size", cache.DefaultBatchSize, "Records per store call")
	return cmd
}

func readRecords(s *schema.Schema, path string) ([]*cache.Record, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return cache.DecodeRecords(s, f)
}

func simulate(ctx context.Context, w io.Writer, s *schema.Schema, opts *simulateOptions, logf storecache.Logf) error {
	if ctx == nil {
		ctx = context.Background()
	}

	records, err := readRecords(s, opts.records)
	if err != nil {
		return fmt.Errorf("records: %w", err)
	}
	seed, err := readRecords(s, opts.seed)
	if err != nil {
		return fmt.Errorf("seed: %w", err)
	}

	store := memstore.New(s)
	c := storecache.New(s, store, storecache.WithBatchSize(opts.batchSize), storecache.WithLogf(logf))

	if len(seed) > 0 {
		seeder := storecache.New(s, store)
		for _, rec := range seed {
			if err := seeder.DeferredUpsert(rec); err != nil {
				return fmt.Errorf("seed: %w", err)
			}
		}
		if err := seeder.Flush(ctx); err != nil {
			return fmt.Errorf("seed: %w", err)
		}

		for _, cls := range s.Classes() {
			if err := c.DeferredLoad(cls.Name); err != nil {
				return err
			}
		}
		if err := c.Load(ctx); err != nil {
			return err
		}
		store.ResetCalls()
	}

	for _, rec := range records {
		if err := c.DeferredUpsert(rec); err != nil {
			return err
		}
	}
	for _, r := range opts.removals {
		class, id, ok := strings.Cut(r, ":")
		if !ok || id == "" {
			return fmt.Errorf("invalid removal %q, want Class:id", r)
		}
		if err := c.DeferredRemove(class, id); err != nil {
			return err
		}
	}

	if err := c.Flush(ctx); err != nil {
		return err
	}

	for _, call := range store.Calls() {
		fmt.Fprintln(w, call)
	}
	fmt.Fprintln(w, "stored:")
	for _, id := range s.Order() {
		name := s.Class(id).Name
		fmt.Fprintf(w, "  %s: %d\n", name, store.Len(name))
	}
	return nil
}
