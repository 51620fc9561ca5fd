// Package gateway is the sole entry point for mutations: raw cell
// edits, row lifecycle, formula authoring, and manual recompute. It
// enforces pre-resolved scope decisions, appends one audit entry per
// mutation, and serializes all mutations per sheet.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cascadehq/cascade/internal/audit"
	"github.com/cascadehq/cascade/internal/engine"
	"github.com/cascadehq/cascade/internal/formula"
	"github.com/cascadehq/cascade/internal/graph"
	"github.com/cascadehq/cascade/internal/sheet"
	"github.com/cascadehq/cascade/internal/value"
)

// ScopeDecision is the caller's pre-resolved authorization for one
// mutation. The gateway performs no policy evaluation: an upstream
// layer (or the CLI's trust-the-operator default) resolves the actor's
// rights and hands the verdict down. The gateway enforces the verdict
// and records the actor in the audit trail.
type ScopeDecision struct {
	Actor audit.Actor
	// Permit allows mutating the target sheet at all.
	Permit bool
	// Privileged additionally allows formula authoring and hard row
	// deletion.
	Privileged bool
}

// Superadmin is a convenience decision carrying full rights.
func Superadmin(actor audit.Actor) ScopeDecision {
	return ScopeDecision{Actor: actor, Permit: true, Privileged: true}
}

// Gateway owns the per-sheet write locks. Holding the lock across
// validate + persist + recompute is what makes the single-writer rule
// hold: no observer with the lock ever sees a half-applied pass.
type Gateway struct {
	wb     *sheet.Workbook
	grid   *sheet.Grid
	graph  *graph.Graph
	sched  *engine.Scheduler
	store  Persister
	tokens engine.TokenGenerator
	exec   engine.Executor
	now    func() time.Time
	log    *slog.Logger

	mu    sync.Mutex
	locks map[sheet.SheetID]*sync.Mutex
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithNow overrides the timestamp source (tests).
func WithNow(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.log = l }
}

// WithExecutor sets the executor for whole-workbook recomputes. The
// default runs one goroutine per sheet; engine.InlineExecutor runs the
// passes sequentially on the calling goroutine.
func WithExecutor(e engine.Executor) Option {
	return func(g *Gateway) { g.exec = e }
}

// New creates a gateway over a workbook's model, grid, graph, and
// scheduler. tokens generates both audit entry IDs and pass tokens.
func New(wb *sheet.Workbook, grid *sheet.Grid, gr *graph.Graph, sched *engine.Scheduler, store Persister, tokens engine.TokenGenerator, opts ...Option) *Gateway {
	g := &Gateway{
		wb:     wb,
		grid:   grid,
		graph:  gr,
		sched:  sched,
		store:  store,
		tokens: tokens,
		exec:   &engine.GoroutineExecutor{},
		now:    time.Now,
		log:    slog.Default(),
		locks:  make(map[sheet.SheetID]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// sheetLock returns the mutex serializing writes to one sheet.
func (g *Gateway) sheetLock(id sheet.SheetID) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.locks[id]
	if !ok {
		l = &sync.Mutex{}
		g.locks[id] = l
	}
	return l
}

func (g *Gateway) entry(dec ScopeDecision, action audit.Action, id sheet.SheetID) *audit.Entry {
	return &audit.Entry{
		ID:     g.tokens.Generate(),
		Time:   g.now(),
		Actor:  dec.Actor,
		Action: action,
		Sheet:  id,
	}
}

// ApplyEdit writes one raw cell value and runs the resulting recompute
// pass. The raw value is not checked against the column type; a
// mismatch surfaces as a TYPE_MISMATCH error value in dependent cells
// at evaluation time.
//
// The returned PassResult may carry State FAILED with a non-nil Err
// when the recompute could not complete; the edit itself is still
// durable and audited in that case.
func (g *Gateway) ApplyEdit(ctx context.Context, dec ScopeDecision, ref sheet.CellRef, v value.Value) (engine.PassResult, error) {
	if !dec.Permit {
		return engine.PassResult{}, forbidden(ref.Sheet, fmt.Sprintf("actor %s may not edit sheet %s", dec.Actor.ID, ref.Sheet))
	}
	sh := g.wb.Sheet(ref.Sheet)
	if sh == nil {
		return engine.PassResult{}, notFound(ref.Sheet, 0, "", fmt.Sprintf("sheet %s does not exist", ref.Sheet))
	}

	lock := g.sheetLock(ref.Sheet)
	lock.Lock()
	defer lock.Unlock()

	col := sh.Column(ref.Col)
	if col == nil {
		return engine.PassResult{}, notFound(ref.Sheet, ref.Row, ref.Col, fmt.Sprintf("column %s does not exist in sheet %s", ref.Col, ref.Sheet))
	}
	if col.Derived() {
		return engine.PassResult{}, readOnly(ref.Sheet, ref.Row, ref.Col)
	}
	row := sh.Row(ref.Row)
	if row == nil || row.Deleted {
		return engine.PassResult{}, notFound(ref.Sheet, ref.Row, ref.Col, fmt.Sprintf("row %d does not exist in sheet %s", ref.Row, ref.Sheet))
	}

	token := g.tokens.Generate()
	e := g.entry(dec, audit.ActionEditCell, ref.Sheet)
	e.Row, e.Col = ref.Row, ref.Col
	e.Before = g.grid.Cell(ref).Raw
	e.After = v
	e.PassToken = token

	if err := g.store.WriteCellRaw(ctx, ref, v, e); err != nil {
		return engine.PassResult{}, fmt.Errorf("persist edit %s: %w", ref, err)
	}
	g.grid.SetRaw(ref, v)

	res := g.sched.RunToken(ctx, token, sh, []sheet.CellRef{ref}, sheet.TriggerRow, graph.ClosureOptions{})
	return res, nil
}

// InsertRow appends a row to a sheet and evaluates its derived cells.
func (g *Gateway) InsertRow(ctx context.Context, dec ScopeDecision, id sheet.SheetID) (sheet.RowID, engine.PassResult, error) {
	if !dec.Permit {
		return 0, engine.PassResult{}, forbidden(id, fmt.Sprintf("actor %s may not edit sheet %s", dec.Actor.ID, id))
	}
	sh := g.wb.Sheet(id)
	if sh == nil {
		return 0, engine.PassResult{}, notFound(id, 0, "", fmt.Sprintf("sheet %s does not exist", id))
	}

	lock := g.sheetLock(id)
	lock.Lock()
	defer lock.Unlock()

	row := sh.InsertRow()
	token := g.tokens.Generate()
	e := g.entry(dec, audit.ActionInsertRow, id)
	e.Row = row.ID
	e.PassToken = token

	if err := g.store.UpsertRow(ctx, id, row.ID, false, e); err != nil {
		sh.HardDeleteRow(row.ID)
		return 0, engine.PassResult{}, fmt.Errorf("persist row insert in %s: %w", id, err)
	}

	res := g.sched.RunToken(ctx, token, sh, nil, sheet.TriggerRow, graph.ClosureOptions{
		ShapeChanged: true,
		NewRows:      []sheet.RowID{row.ID},
	})
	return row.ID, res, nil
}

// DeleteRow logically deletes a row. Its cells survive in storage and
// can be restored; aggregates stop seeing it immediately.
func (g *Gateway) DeleteRow(ctx context.Context, dec ScopeDecision, id sheet.SheetID, row sheet.RowID) (engine.PassResult, error) {
	if !dec.Permit {
		return engine.PassResult{}, forbidden(id, fmt.Sprintf("actor %s may not edit sheet %s", dec.Actor.ID, id))
	}
	sh := g.wb.Sheet(id)
	if sh == nil {
		return engine.PassResult{}, notFound(id, 0, "", fmt.Sprintf("sheet %s does not exist", id))
	}

	lock := g.sheetLock(id)
	lock.Lock()
	defer lock.Unlock()

	r := sh.Row(row)
	if r == nil || r.Deleted {
		return engine.PassResult{}, notFound(id, row, "", fmt.Sprintf("row %d does not exist in sheet %s", row, id))
	}

	token := g.tokens.Generate()
	e := g.entry(dec, audit.ActionDeleteRow, id)
	e.Row = row
	e.PassToken = token

	if err := g.store.UpsertRow(ctx, id, row, true, e); err != nil {
		return engine.PassResult{}, fmt.Errorf("persist row delete in %s: %w", id, err)
	}
	sh.DeleteRow(row)

	res := g.sched.RunToken(ctx, token, sh, nil, sheet.TriggerSheet, graph.ClosureOptions{ShapeChanged: true})
	return res, nil
}

// HardDeleteRow permanently removes a row and its cells. Requires a
// privileged scope decision.
func (g *Gateway) HardDeleteRow(ctx context.Context, dec ScopeDecision, id sheet.SheetID, row sheet.RowID) (engine.PassResult, error) {
	if !dec.Permit || !dec.Privileged {
		return engine.PassResult{}, forbidden(id, fmt.Sprintf("actor %s lacks privilege to hard-delete rows in sheet %s", dec.Actor.ID, id))
	}
	sh := g.wb.Sheet(id)
	if sh == nil {
		return engine.PassResult{}, notFound(id, 0, "", fmt.Sprintf("sheet %s does not exist", id))
	}

	lock := g.sheetLock(id)
	lock.Lock()
	defer lock.Unlock()

	if sh.Row(row) == nil {
		return engine.PassResult{}, notFound(id, row, "", fmt.Sprintf("row %d does not exist in sheet %s", row, id))
	}

	token := g.tokens.Generate()
	e := g.entry(dec, audit.ActionHardDeleteRow, id)
	e.Row = row
	e.PassToken = token

	if err := g.store.DeleteRowHard(ctx, id, row, e); err != nil {
		return engine.PassResult{}, fmt.Errorf("persist hard delete in %s: %w", id, err)
	}
	sh.HardDeleteRow(row)
	g.grid.DropRow(id, row)

	res := g.sched.RunToken(ctx, token, sh, nil, sheet.TriggerSheet, graph.ClosureOptions{ShapeChanged: true})
	return res, nil
}

// SetColumnFormula creates or replaces a derived column's formula.
// Requires a privileged scope decision. Registration is atomic: a
// formula that would close a cycle is rejected with a CycleError and
// nothing changes. On success the column's cells are recomputed across
// all rows, whatever the trigger kind.
func (g *Gateway) SetColumnFormula(ctx context.Context, dec ScopeDecision, id sheet.SheetID, col sheet.ColumnID, source string, trigger sheet.TriggerKind) (engine.PassResult, error) {
	if !dec.Permit || !dec.Privileged {
		return engine.PassResult{}, forbidden(id, fmt.Sprintf("actor %s lacks privilege to author formulas in sheet %s", dec.Actor.ID, id))
	}
	sh := g.wb.Sheet(id)
	if sh == nil {
		return engine.PassResult{}, notFound(id, 0, "", fmt.Sprintf("sheet %s does not exist", id))
	}

	lock := g.sheetLock(id)
	lock.Lock()
	defer lock.Unlock()

	c := sh.Column(col)
	if c == nil {
		return engine.PassResult{}, notFound(id, 0, col, fmt.Sprintf("column %s does not exist in sheet %s", col, id))
	}

	parsed, err := formula.Parse(source)
	if err != nil {
		return engine.PassResult{}, fmt.Errorf("parse formula for %s.%s: %w", id, col, err)
	}
	if err := g.graph.AddOrReplaceColumnFormula(sh, col, parsed, trigger); err != nil {
		return engine.PassResult{}, err
	}

	def := &sheet.FormulaDef{Source: source, Trigger: trigger}
	token := g.tokens.Generate()
	e := g.entry(dec, audit.ActionSetFormula, id)
	e.Col = col
	if c.Formula != nil {
		e.Before = value.String(c.Formula.Source)
	}
	e.After = value.String(source)
	e.PassToken = token

	if err := g.store.PutColumnFormula(ctx, id, col, def, e); err != nil {
		// Roll the registration back so graph and store agree.
		g.restoreColumnFormula(sh, col, c.Formula)
		return engine.PassResult{}, fmt.Errorf("persist formula for %s.%s: %w", id, col, err)
	}
	c.Formula = def

	res := g.sched.RunToken(ctx, token, sh, nil, sheet.TriggerManual, graph.ClosureOptions{ManualCols: []sheet.ColumnID{col}})
	return res, nil
}

// restoreColumnFormula reinstates the previous registration after a
// failed persist. prev may be nil (the column had no formula).
func (g *Gateway) restoreColumnFormula(sh *sheet.Sheet, col sheet.ColumnID, prev *sheet.FormulaDef) {
	if prev == nil {
		g.graph.RemoveColumnFormula(sh.ID, col)
		return
	}
	parsed, err := formula.Parse(prev.Source)
	if err == nil {
		// The previous formula was registered once already; re-parse
		// and re-register cannot cycle.
		_ = g.graph.AddOrReplaceColumnFormula(sh, col, parsed, prev.Trigger)
	}
}

// RemoveColumnFormula unregisters a derived column's formula, turning
// the column back into an input column. Requires privilege.
func (g *Gateway) RemoveColumnFormula(ctx context.Context, dec ScopeDecision, id sheet.SheetID, col sheet.ColumnID) error {
	if !dec.Permit || !dec.Privileged {
		return forbidden(id, fmt.Sprintf("actor %s lacks privilege to author formulas in sheet %s", dec.Actor.ID, id))
	}
	sh := g.wb.Sheet(id)
	if sh == nil {
		return notFound(id, 0, "", fmt.Sprintf("sheet %s does not exist", id))
	}

	lock := g.sheetLock(id)
	lock.Lock()
	defer lock.Unlock()

	c := sh.Column(col)
	if c == nil || c.Formula == nil {
		return notFound(id, 0, col, fmt.Sprintf("column %s has no formula in sheet %s", col, id))
	}

	e := g.entry(dec, audit.ActionRemoveFormula, id)
	e.Col = col
	e.Before = value.String(c.Formula.Source)

	if err := g.store.PutColumnFormula(ctx, id, col, nil, e); err != nil {
		return fmt.Errorf("persist formula removal for %s.%s: %w", id, col, err)
	}
	g.graph.RemoveColumnFormula(id, col)
	c.Formula = nil
	return nil
}

// SetAggregateFormula creates or replaces a sheet aggregate's formula.
// Requires privilege; row triggers are rejected by the graph.
func (g *Gateway) SetAggregateFormula(ctx context.Context, dec ScopeDecision, id sheet.SheetID, name, source string, trigger sheet.TriggerKind) (engine.PassResult, error) {
	if !dec.Permit || !dec.Privileged {
		return engine.PassResult{}, forbidden(id, fmt.Sprintf("actor %s lacks privilege to author formulas in sheet %s", dec.Actor.ID, id))
	}
	sh := g.wb.Sheet(id)
	if sh == nil {
		return engine.PassResult{}, notFound(id, 0, "", fmt.Sprintf("sheet %s does not exist", id))
	}

	lock := g.sheetLock(id)
	lock.Lock()
	defer lock.Unlock()

	agg := sh.Aggregate(name)
	if agg == nil {
		return engine.PassResult{}, notFound(id, 0, "", fmt.Sprintf("aggregate %s does not exist in sheet %s", name, id))
	}

	parsed, err := formula.Parse(source)
	if err != nil {
		return engine.PassResult{}, fmt.Errorf("parse formula for %s!%s: %w", id, name, err)
	}
	if err := g.graph.AddOrReplaceAggregate(sh, name, parsed, trigger); err != nil {
		return engine.PassResult{}, err
	}

	def := sheet.FormulaDef{Source: source, Trigger: trigger}
	token := g.tokens.Generate()
	e := g.entry(dec, audit.ActionSetFormula, id)
	e.Aggregate = name
	e.Before = value.String(agg.Formula.Source)
	e.After = value.String(source)
	e.PassToken = token

	if err := g.store.PutAggregateFormula(ctx, id, name, &def, e); err != nil {
		prev := agg.Formula
		if prevParsed, perr := formula.Parse(prev.Source); perr == nil {
			_ = g.graph.AddOrReplaceAggregate(sh, name, prevParsed, prev.Trigger)
		}
		return engine.PassResult{}, fmt.Errorf("persist formula for %s!%s: %w", id, name, err)
	}
	agg.Formula = def

	res := g.sched.RunToken(ctx, token, sh, nil, sheet.TriggerManual, graph.ClosureOptions{ManualAggs: []string{name}})
	return res, nil
}

// Recompute runs a manual recompute pass: the named manual-trigger
// columns and aggregates, or the whole sheet when none are named.
func (g *Gateway) Recompute(ctx context.Context, dec ScopeDecision, id sheet.SheetID, cols []sheet.ColumnID, aggs []string) (engine.PassResult, error) {
	if !dec.Permit {
		return engine.PassResult{}, forbidden(id, fmt.Sprintf("actor %s may not recompute sheet %s", dec.Actor.ID, id))
	}
	sh := g.wb.Sheet(id)
	if sh == nil {
		return engine.PassResult{}, notFound(id, 0, "", fmt.Sprintf("sheet %s does not exist", id))
	}

	lock := g.sheetLock(id)
	lock.Lock()
	defer lock.Unlock()

	// Validated under the sheet lock: a concurrent SetColumnFormula or
	// RemoveColumnFormula must not slip in between check and pass.
	for _, col := range cols {
		c := sh.Column(col)
		if c == nil || c.Formula == nil {
			return engine.PassResult{}, notFound(id, 0, col, fmt.Sprintf("column %s has no formula in sheet %s", col, id))
		}
	}
	for _, name := range aggs {
		if sh.Aggregate(name) == nil {
			return engine.PassResult{}, notFound(id, 0, "", fmt.Sprintf("aggregate %s does not exist in sheet %s", name, id))
		}
	}

	token := g.tokens.Generate()
	e := g.entry(dec, audit.ActionRecompute, id)
	e.PassToken = token
	if err := g.store.AppendAudit(ctx, e); err != nil {
		return engine.PassResult{}, fmt.Errorf("persist recompute audit for %s: %w", id, err)
	}

	opts := graph.ClosureOptions{ManualCols: cols, ManualAggs: aggs}
	if len(cols) == 0 && len(aggs) == 0 {
		opts = graph.ClosureOptions{RecomputeAll: true}
	}
	res := g.sched.RunToken(ctx, token, sh, nil, sheet.TriggerManual, opts)
	return res, nil
}

// RecomputeAll runs a whole-sheet manual recompute on every sheet in
// the workbook. Sheets are independent writers, so their passes run on
// the gateway's executor, concurrently by default; results come back
// in workbook sheet order. A sheet whose pass could not start reports
// State FAILED with the error in Err.
func (g *Gateway) RecomputeAll(ctx context.Context, dec ScopeDecision) ([]engine.PassResult, error) {
	if !dec.Permit {
		return nil, forbidden("", fmt.Sprintf("actor %s may not recompute the workbook", dec.Actor.ID))
	}

	handles := make([]*engine.PassHandle, len(g.wb.Sheets))
	for i, sh := range g.wb.Sheets {
		id := sh.ID
		h := engine.NewPassHandle()
		handles[i] = h
		g.exec.Go(func() {
			res, err := g.Recompute(ctx, dec, id, nil, nil)
			if err != nil {
				res = engine.PassResult{Sheet: id, State: engine.StateFailed, Err: err}
			}
			h.Resolve(res)
		})
	}

	results := make([]engine.PassResult, len(handles))
	for i, h := range handles {
		results[i] = h.Wait()
	}
	return results, nil
}
