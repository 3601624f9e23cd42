package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/martijn-on-fhir/fhir-server-sub000/internal/config"
	"github.com/martijn-on-fhir/fhir-server-sub000/internal/operation"
	"github.com/martijn-on-fhir/fhir-server-sub000/internal/platform/db"
	"github.com/martijn-on-fhir/fhir-server-sub000/internal/platform/docstore"
	"github.com/martijn-on-fhir/fhir-server-sub000/internal/query"
	"github.com/martijn-on-fhir/fhir-server-sub000/internal/searchparam"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "fhir-server",
		Short:        "FHIR REST server backed by a JSON document store",
		SilenceUsage: true,
	}
	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(registryCmd())
	root.AddCommand(queryCmd())
	return root
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the FHIR server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runServer(cfg, newLogger(cfg.Env))
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the PostgreSQL schema",
	}

	withMigrator := func(cmd *cobra.Command, fn func(context.Context, *db.Migrator, string) error) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required")
		}
		schema, _ := cmd.Flags().GetString("schema")
		if schema == "" {
			schema = cfg.DBSchema
		}

		ctx := cmd.Context()
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, 2, 0)
		if err != nil {
			return err
		}
		defer pool.Close()
		return fn(ctx, db.NewMigrator(pool, db.Migrations(), schema), schema)
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator, schema string) error {
				fmt.Fprintf(cmd.OutOrStdout(), "Running migrations on schema: %s\n", schema)
				count, err := m.Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator, schema string) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Migration status for schema: %s\n", schema)
				printStatuses(cmd.OutOrStdout(), statuses)
				return nil
			})
		},
	}

	for _, c := range []*cobra.Command{upCmd, statusCmd} {
		c.Flags().String("schema", "", "Target schema (defaults to DB_SCHEMA)")
		cmd.AddCommand(c)
	}
	return cmd
}

func printStatuses(w io.Writer, statuses []db.MigrationStatus) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tNAME\tSTATUS\tAPPLIED AT")
	for _, s := range statuses {
		status, appliedAt := "pending", ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", s.Version, s.Name, status, appliedAt)
	}
	tw.Flush()
}

func registryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "registry",
		Short: "Inspect the search parameter registry",
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "List reference search parameters",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			if file == "" {
				cfg, err := config.Load()
				if err != nil {
					return err
				}
				file = cfg.SearchParametersFile
			}
			reg, err := searchparam.Load(file, zerolog.Nop())
			if err != nil {
				return err
			}
			printRegistry(cmd.OutOrStdout(), reg)
			return nil
		},
	}
	list.Flags().String("file", "", "YAML registry file (defaults to SEARCH_PARAMETERS_FILE or the embedded registry)")
	cmd.AddCommand(list)
	return cmd
}

func printRegistry(w io.Writer, reg *searchparam.Registry) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tPATH\tTARGETS")
	for _, key := range reg.Keys() {
		sourceType, param, _ := strings.Cut(key, ":")
		entry, _ := reg.Lookup(sourceType, param)
		fmt.Fprintf(tw, "%s\t%s\t%s\n", key, entry.Path, strings.Join(entry.Target, ","))
	}
	tw.Flush()
}

func queryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Inspect how search parameters are translated",
	}
	explain := &cobra.Command{
		Use:   "explain <type> [params]",
		Short: "Print the store condition and SQL for a search",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := ""
			if len(args) == 2 {
				raw = args[1]
			}
			params, err := url.ParseQuery(raw)
			if err != nil {
				return fmt.Errorf("parse params: %w", err)
			}
			schema, _ := cmd.Flags().GetString("schema")
			return explainQuery(cmd.OutOrStdout(), args[0], params, schema)
		},
	}
	explain.Flags().String("schema", "public", "Schema used when rendering SQL")
	cmd.AddCommand(explain)
	return cmd
}

func explainQuery(w io.Writer, resourceType string, params url.Values, schema string) error {
	q := query.Build([]string{resourceType}, params, "",
		query.WithSearchFields(operation.DefaultSearchFields.Names(resourceType)...))

	cond := operation.Visible(q.Condition())
	sql, args, err := docstore.NewPostgres(nil, schema).Explain(cond, q.FindOptions())
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "condition:  %v\n", cond)
	fmt.Fprintf(w, "projection: %v\n", q.Projection())
	fmt.Fprintf(w, "sql:        %s\n", sql)
	for i, a := range args {
		fmt.Fprintf(w, "  $%d = %v\n", i+1, a)
	}
	return nil
}
