package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"golang.org/x/term"

	"github.com/Strob0t/syncbridge/internal/adapter/postgres"
	"github.com/Strob0t/syncbridge/internal/config"
	"github.com/Strob0t/syncbridge/internal/domain/conflict"
	"github.com/Strob0t/syncbridge/internal/domain/entity"
	"github.com/Strob0t/syncbridge/internal/domain/syncrecord"
	"github.com/Strob0t/syncbridge/internal/port/adapter"
	"github.com/Strob0t/syncbridge/internal/secrets"
	"github.com/Strob0t/syncbridge/internal/service"
)

// runAdmin dispatches admin subcommands.
func runAdmin(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printAdminHelp()
		return nil
	}

	switch args[0] {
	case "test-connection":
		return runAdminTestConnection(args[1:])
	case "list-conflicts":
		return runAdminListConflicts(args[1:])
	case "resolve-conflict":
		return runAdminResolveConflict(args[1:])
	case "show-records":
		return runAdminShowRecords(args[1:])
	case "run-pass":
		return runAdminRunPass(args[1:])
	default:
		printAdminHelp()
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

func printAdminHelp() {
	fmt.Fprintf(os.Stderr, `Usage: syncbridge admin <command> [options]

Commands:
  test-connection   Check that an external system is reachable
  list-conflicts    List conflicts awaiting resolution
  resolve-conflict  Resolve a conflict
  show-records      Show sync records of an entity
  run-pass          Run one sync pass and exit
  help              Show this help message

Output is a table on a terminal and JSON otherwise; --json forces JSON.

Examples:
  syncbridge admin test-connection --system 7f3c...
  syncbridge admin list-conflicts --state all
  syncbridge admin resolve-conflict --id 91ab... --resolution use_external --by alice
  syncbridge admin resolve-conflict --id 91ab... --resolution merge --data '{"amount":120.5}'
  syncbridge admin show-records --entity-type payment --entity-id 1042
  syncbridge admin run-pass
`)
}

// adminDeps is the subset of the server wiring the admin commands need.
// Nothing here publishes events; operators watching /ws will not see
// changes made from the CLI.
type adminDeps struct {
	systems   *service.SystemService
	conflicts *service.ConflictService
	records   *service.RecordService
	orch      *service.Orchestrator
	cleanup   func()
}

func loadAdminDeps(ctx context.Context) (*adminDeps, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	vault, err := secrets.NewVault(secrets.PrefixEnvLoader(cfg.Secrets.EnvPrefix))
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("secrets: %w", err)
	}

	store := postgres.NewStore(pool)
	entities := postgres.NewEntityRepository(pool, cfg.Entities)
	breakers := service.NewSystemBreakers(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	catalog := adapter.NewCatalog()
	registerVendors(catalog)
	registry := adapter.NewRegistry(catalog, vault.Resolve, service.NewAdapterGuard(breakers, cfg.Sync.CallTimeout, nil).Wrap)

	systems := service.NewSystemService(store, registry, breakers, nil)
	if err := systems.LoadRegistry(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("load systems: %w", err)
	}

	orch := service.NewOrchestrator(store, entities, registry, conflict.NewDetector(entity.BuiltinSchemas()), cfg.Sync)
	orch.SetRedactor(vault)

	return &adminDeps{
		systems:   systems,
		conflicts: service.NewConflictService(store, nil, nil),
		records:   service.NewRecordService(store),
		orch:      orch,
		cleanup:   pool.Close,
	}, nil
}

func runAdminTestConnection(args []string) error {
	fs := flag.NewFlagSet("test-connection", flag.ContinueOnError)
	systemID := fs.String("system", "", "external system id (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *systemID == "" {
		return fmt.Errorf("--system is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	deps, err := loadAdminDeps(ctx)
	if err != nil {
		return err
	}
	defer deps.cleanup()

	ok, err := deps.systems.TestConnection(ctx, *systemID)
	if err != nil {
		return fmt.Errorf("test connection: %w", err)
	}
	if !ok {
		return fmt.Errorf("system %s is not reachable", *systemID)
	}
	fmt.Fprintf(os.Stderr, "System %s is reachable\n", *systemID)
	return nil
}

func runAdminListConflicts(args []string) error {
	fs := flag.NewFlagSet("list-conflicts", flag.ContinueOnError)
	state := fs.String("state", "open", "open, resolved or all")
	systemID := fs.String("system", "", "only conflicts of this external system")
	limit := fs.Int("limit", 100, "max conflicts to show")
	asJSON := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	st, err := conflict.ParseState(*state)
	if err != nil {
		return err
	}

	ctx := context.Background()
	deps, err := loadAdminDeps(ctx)
	if err != nil {
		return err
	}
	defer deps.cleanup()

	list, err := deps.conflicts.List(ctx, conflict.ListFilter{State: st, ExternalSystemID: *systemID, Limit: *limit})
	if err != nil {
		return fmt.Errorf("list conflicts: %w", err)
	}
	if wantJSON(*asJSON) {
		return printJSON(os.Stdout, list)
	}
	if len(list) == 0 {
		fmt.Println("No conflicts found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSYNC_RECORD\tFIELDS\tCREATED\tRESOLUTION")
	for i := range list {
		c := &list[i]
		_, _ = fmt.Fprintf(w, "%s\t%s\t%v\t%s\t%s\n",
			c.ID, c.SyncRecordID, c.ConflictFields, c.CreatedAt.Format(time.RFC3339), c.Resolution)
	}
	return w.Flush()
}

func runAdminResolveConflict(args []string) error {
	fs := flag.NewFlagSet("resolve-conflict", flag.ContinueOnError)
	id := fs.String("id", "", "conflict id (required)")
	resolution := fs.String("resolution", "", "use_local, use_external, merge or manual (required)")
	data := fs.String("data", "", "resolved data as a JSON object (merge and manual)")
	by := fs.String("by", os.Getenv("USER"), "operator name recorded on the conflict")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return fmt.Errorf("--id is required")
	}

	req := conflict.ResolveRequest{Resolution: conflict.Resolution(*resolution), ResolvedBy: *by}
	if *data != "" {
		if err := json.Unmarshal([]byte(*data), &req.ResolvedData); err != nil {
			return fmt.Errorf("--data: %w", err)
		}
	}
	if err := req.Validate(); err != nil {
		return err
	}

	ctx := context.Background()
	deps, err := loadAdminDeps(ctx)
	if err != nil {
		return err
	}
	defer deps.cleanup()

	c, err := deps.conflicts.Resolve(ctx, *id, req)
	if err != nil {
		return fmt.Errorf("resolve conflict: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Conflict %s resolved (%s); sync record %s requeued\n", c.ID, c.Resolution, c.SyncRecordID)
	return nil
}

func runAdminShowRecords(args []string) error {
	fs := flag.NewFlagSet("show-records", flag.ContinueOnError)
	entityType := fs.String("entity-type", "", "entity type")
	entityID := fs.String("entity-id", "", "entity id")
	status := fs.String("status", "", "only records in this status")
	limit := fs.Int("limit", 100, "max records to show")
	asJSON := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	deps, err := loadAdminDeps(ctx)
	if err != nil {
		return err
	}
	defer deps.cleanup()

	list, err := deps.records.List(ctx, syncrecord.ListFilter{
		EntityType: *entityType,
		EntityID:   *entityID,
		Status:     syncrecord.Status(*status),
		Limit:      *limit,
	})
	if err != nil {
		return fmt.Errorf("list records: %w", err)
	}
	if wantJSON(*asJSON) {
		return printJSON(os.Stdout, list)
	}
	if len(list) == 0 {
		fmt.Println("No sync records found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tENTITY\tSYSTEM\tSTATUS\tEXTERNAL_ID\tRETRIES\tERROR")
	for i := range list {
		r := &list[i]
		_, _ = fmt.Fprintf(w, "%s\t%s/%s\t%s\t%s\t%s\t%d\t%s\n",
			r.ID, r.EntityType, r.EntityID, r.ExternalSystemID, r.Status, r.ExternalID, r.RetryCount, r.ErrorMessage)
	}
	return w.Flush()
}

func runAdminRunPass(args []string) error {
	fs := flag.NewFlagSet("run-pass", flag.ContinueOnError)
	timeout := fs.Duration("timeout", 5*time.Minute, "abort the pass after this long")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	deps, err := loadAdminDeps(ctx)
	if err != nil {
		return err
	}
	defer deps.cleanup()

	res, err := deps.orch.RunPass(ctx)
	if err != nil {
		return fmt.Errorf("run pass: %w", err)
	}
	return printJSON(os.Stdout, res)
}

// wantJSON reports whether output should be JSON: forced, or stdout is not
// a terminal.
func wantJSON(forced bool) bool {
	return forced || !term.IsTerminal(int(os.Stdout.Fd())) //nolint:gosec // fd fits in int
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
