package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/gofrs/flock"

	"github.com/cascadehq/cascade/internal/audit"
	"github.com/cascadehq/cascade/internal/config"
	"github.com/cascadehq/cascade/internal/engine"
	"github.com/cascadehq/cascade/internal/gateway"
	"github.com/cascadehq/cascade/internal/graph"
	"github.com/cascadehq/cascade/internal/sheet"
	"github.com/cascadehq/cascade/internal/store"
	"github.com/cascadehq/cascade/internal/value"
	"github.com/cascadehq/cascade/internal/workbook"
)

// lockTimeout bounds the wait for the workbook lock. Commands are
// short-lived, so a stuck lock means another writer crashed or hangs.
const lockTimeout = 5 * time.Second

// app is one opened workbook: the database, its file lock, the
// in-memory model, and the gateway wired on top.
type app struct {
	cfg   config.Config
	store *store.Store
	lock  *flock.Flock
	wb    *sheet.Workbook
	grid  *sheet.Grid
	graph *graph.Graph
	gw    *gateway.Gateway
}

// openApp loads config, takes the workbook lock, opens the database,
// and rebuilds the model, graph, and gateway from it.
func openApp(ctx context.Context, opts *RootOptions) (*app, error) {
	setupLogging(opts)

	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "loading config", err)
	}
	if opts.Database != "" {
		cfg.Database.Path = opts.Database
	}

	lock, err := acquireLock(ctx, cfg.Database.Path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "locking workbook", err)
	}

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		lock.Unlock()
		return nil, WrapExitError(ExitCommandError, "opening database", err)
	}

	wb, grid, err := st.LoadWorkbook(ctx)
	if err != nil {
		st.Close()
		lock.Unlock()
		return nil, WrapExitError(ExitCommandError, "loading workbook", err)
	}
	if len(wb.Sheets) == 0 {
		st.Close()
		lock.Unlock()
		return nil, WrapExitError(ExitCommandError,
			fmt.Sprintf("database %s holds no workbook; run cascade init first", cfg.Database.Path), nil)
	}

	g, err := workbook.Register(wb)
	if err != nil {
		st.Close()
		lock.Unlock()
		return nil, WrapExitError(ExitCommandError, "rebuilding dependency graph", err)
	}

	// Resume the logical clock past every committed pass.
	maxSeq, err := st.MaxPassSeq(ctx)
	if err != nil {
		st.Close()
		lock.Unlock()
		return nil, WrapExitError(ExitCommandError, "reading pass history", err)
	}

	sched := engine.NewScheduler(g, grid, st, engine.UUIDv7Generator{},
		engine.WithBudget(cfg.Budget()),
		engine.WithMaxNodes(cfg.Eval.MaxNodesPerPass),
		engine.WithClock(engine.NewClockAt(maxSeq)),
	)
	gw := gateway.New(wb, grid, g, sched, st, engine.UUIDv7Generator{})

	return &app{cfg: cfg, store: st, lock: lock, wb: wb, grid: grid, graph: g, gw: gw}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		slog.Error("closing database", "error", err)
	}
	if err := a.lock.Unlock(); err != nil {
		slog.Error("releasing workbook lock", "error", err)
	}
}

// acquireLock takes an exclusive advisory lock next to the database
// file so only one cascade process writes a workbook at a time.
func acquireLock(ctx context.Context, dbPath string) (*flock.Flock, error) {
	lock := flock.New(dbPath + ".lock")
	lockCtx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()

	locked, err := lock.TryLockContext(lockCtx, 100*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("acquiring lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("workbook %s is locked by another process", dbPath)
	}
	return lock, nil
}

func setupLogging(opts *RootOptions) {
	level := slog.LevelWarn
	if opts.Verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

// decision builds the pre-resolved scope decision for this invocation.
// The CLI operates on a local workbook, so access is always permitted;
// the role still gates privileged operations.
func decision(opts *RootOptions) gateway.ScopeDecision {
	name := opts.ActorName
	if name == "" {
		name = opts.ActorID
	}
	role := audit.RoleUser
	if opts.Role == "superadmin" {
		role = audit.RoleSuperadmin
	}
	return gateway.ScopeDecision{
		Actor:      audit.Actor{ID: opts.ActorID, Name: name, Role: role},
		Permit:     true,
		Privileged: role == audit.RoleSuperadmin,
	}
}

// parseLiteral turns a command-line argument into a cell value. An
// empty string clears the cell; quoting forces text ("42" the string
// vs 42 the number).
func parseLiteral(s string) value.Value {
	switch s {
	case "":
		return value.Null{}
	case "true":
		return value.Bool(true)
	case "false":
		return value.Bool(false)
	}
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return value.String(s[1 : len(s)-1])
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return value.Number(n)
	}
	return value.String(s)
}

// parseRowID parses a row argument.
func parseRowID(s string) (sheet.RowID, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid row id %q", s)
	}
	return sheet.RowID(n), nil
}
