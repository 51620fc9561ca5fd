package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cascadehq/cascade/internal/formula"
	"github.com/cascadehq/cascade/internal/graph"
	"github.com/cascadehq/cascade/internal/sheet"
	"github.com/cascadehq/cascade/internal/value"
)

// Committer persists the result of a completed pass atomically: all of
// the commit's cell and aggregate values become durable together, or
// none do. Implemented by the sqlite store; tests use MemCommitter.
type Committer interface {
	CommitPass(ctx context.Context, commit PassCommit) error
}

// MemCommitter accepts every commit and remembers it. Test double for
// the store.
type MemCommitter struct {
	Commits []PassCommit
}

func (m *MemCommitter) CommitPass(_ context.Context, commit PassCommit) error {
	m.Commits = append(m.Commits, commit)
	return nil
}

// Scheduler runs recompute passes: trigger in, closure out, evaluate in
// topological order, commit.
//
// Single-writer rule: callers serialize passes per sheet. The gateway
// holds the sheet lock across edit+pass, so the scheduler itself takes
// no locks beyond the grid's internal one.
type Scheduler struct {
	graph     *graph.Graph
	grid      *sheet.Grid
	committer Committer
	clock     *Clock
	tokens    TokenGenerator
	budget    formula.Budget
	maxNodes  int
	log       *slog.Logger
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithBudget sets the per-formula evaluation budget (steps and wall
// time). Zero fields fall back to the evaluator defaults.
func WithBudget(b formula.Budget) SchedulerOption {
	return func(s *Scheduler) { s.budget = b }
}

// WithMaxNodes sets the ceiling on closure size for one pass.
func WithMaxNodes(n int) SchedulerOption {
	return func(s *Scheduler) { s.maxNodes = n }
}

// WithClock sets a pre-positioned clock, used when reopening a
// workbook that already has committed passes.
func WithClock(c *Clock) SchedulerOption {
	return func(s *Scheduler) { s.clock = c }
}

// WithLogger sets the structured logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) SchedulerOption {
	return func(s *Scheduler) { s.log = l }
}

// NewScheduler creates a scheduler over a graph and grid.
func NewScheduler(g *graph.Graph, grid *sheet.Grid, committer Committer, tokens TokenGenerator, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		graph:     g,
		grid:      grid,
		committer: committer,
		clock:     NewClock(),
		tokens:    tokens,
		maxNodes:  DefaultMaxNodes,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Clock returns the scheduler's logical clock.
func (s *Scheduler) Clock() *Clock {
	return s.clock
}

// Run executes one recompute pass for a set of changed cells.
//
// The pass walks RECEIVED -> CLOSURE_COMPUTED -> EVALUATING and ends
// in COMMITTED or FAILED. Formula errors do not fail the pass: the
// error value is committed as the cell's result and flows downstream
// as data. The pass FAILS only on closure quota, cancellation, or a
// commit error.
//
// On cancellation mid-pass, cells already evaluated keep their new
// values in the grid and the remainder of the closure is marked stale;
// nothing is committed. On a commit error the grid is rolled back to
// its pre-pass snapshot, so memory never gets ahead of disk.
func (s *Scheduler) Run(ctx context.Context, sh *sheet.Sheet, changed []sheet.CellRef, trigger sheet.TriggerKind, opts graph.ClosureOptions) PassResult {
	return s.RunToken(ctx, s.tokens.Generate(), sh, changed, trigger, opts)
}

// RunToken is Run with a caller-supplied pass token. The gateway
// generates the token up front so the audit entry for the triggering
// mutation can carry it before the pass starts.
func (s *Scheduler) RunToken(ctx context.Context, token string, sh *sheet.Sheet, changed []sheet.CellRef, trigger sheet.TriggerKind, opts graph.ClosureOptions) PassResult {
	pass := &Pass{
		Token:   token,
		Sheet:   sh.ID,
		Trigger: trigger,
		State:   StateReceived,
	}
	log := s.log.With("pass", pass.Token, "sheet", sh.ID, "trigger", trigger.String())
	log.Debug("pass received", "changed_cells", len(changed))

	pass.Nodes = s.graph.AffectedClosure(sh, changed, opts)
	pass.transition(StateClosureComputed)
	log.Debug("closure computed", "nodes", len(pass.Nodes))

	if len(pass.Nodes) == 0 {
		// Nothing derived depends on the change. Still a committed
		// pass: the caller's raw edit is durable and the seq advances.
		pass.Seq = s.clock.Next()
		pass.transition(StateEvaluating)
		return s.commit(ctx, sh, pass, log)
	}

	if len(pass.Nodes) > s.maxNodes {
		err := &NodesExceededError{Token: pass.Token, Nodes: len(pass.Nodes), Limit: s.maxNodes}
		log.Error("closure exceeds node limit", "nodes", len(pass.Nodes), "limit", s.maxNodes)
		pass.transition(StateFailed)
		return s.result(pass, err)
	}

	snap := s.grid.SnapshotSheet(sh.ID)
	pass.transition(StateEvaluating)

	for i, node := range pass.Nodes {
		if err := ctx.Err(); err != nil {
			// Keep what was evaluated, flag the rest as stale so
			// readers can tell fresh values from abandoned ones.
			s.markStale(pass.Nodes[i:])
			log.Warn("pass cancelled", "evaluated", pass.Evaluated, "remaining", len(pass.Nodes)-i)
			pass.transition(StateFailed)
			return s.result(pass, fmt.Errorf("pass %s cancelled: %w", pass.Token, err))
		}
		s.evalNode(sh, node, pass, log)
	}

	pass.Seq = s.clock.Next()
	res := s.commit(ctx, sh, pass, log)
	if res.State == StateFailed {
		s.grid.Restore(snap)
	}
	return res
}

// evalNode evaluates one closure node against the current grid and
// writes the result (value or error value) back to the grid. Later
// nodes of the same pass read this node's freshest value.
func (s *Scheduler) evalNode(sh *sheet.Sheet, node graph.Node, pass *Pass, log *slog.Logger) {
	switch node.Kind {
	case graph.NodeCell:
		col := sh.Column(node.Cell.Col)
		parsed := s.graph.ColumnFormula(sh.ID, node.Cell.Col)
		if col == nil || parsed == nil {
			// Formula removed between closure and evaluation cannot
			// happen under the per-sheet writer lock.
			panic(fmt.Sprintf("closure node %s has no registered formula", node))
		}
		env := s.cellEnv(sh, node.Cell.Row, parsed)
		v, evalErr := formula.Eval(parsed, env, s.budget)
		if evalErr == nil {
			if err := value.CheckType(v, col.Type); err != nil {
				evalErr = &formula.EvalError{Code: value.CodeTypeMismatch, Message: err.Error()}
			}
		}
		pass.Evaluated++
		if evalErr != nil {
			pass.Errored++
			s.grid.SetError(node.Cell, evalErr.Value())
			logEvalError(log, "cell errored", "cell", node.Cell.String(), evalErr)
			return
		}
		s.grid.SetComputed(node.Cell, v)

	case graph.NodeAggregate:
		parsed := s.graph.AggregateFormula(sh.ID, node.Agg.Name)
		if parsed == nil {
			panic(fmt.Sprintf("closure node %s has no registered formula", node))
		}
		env := s.aggEnv(sh, parsed)
		v, evalErr := formula.Eval(parsed, env, s.budget)
		pass.Evaluated++
		if evalErr != nil {
			pass.Errored++
			s.grid.SetAggError(node.Agg, evalErr.Value())
			logEvalError(log, "aggregate errored", "aggregate", node.Agg.String(), evalErr)
			return
		}
		s.grid.SetAggComputed(node.Agg, v)
	}
}

// logEvalError records one errored node. Most evaluation errors are
// data problems and stay at Debug; an unknown reference means the
// graph handed the evaluator a formula it never validated, which is a
// bug worth surfacing.
func logEvalError(log *slog.Logger, msg, refKey, ref string, evalErr *formula.EvalError) {
	if evalErr.Code == value.CodeUnknownReference {
		log.Error(msg, refKey, ref, "code", evalErr.Code, "error", evalErr.Message)
		return
	}
	log.Debug(msg, refKey, ref, "code", evalErr.Code, "error", evalErr.Message)
}

// cellEnv binds a row formula's references: a column name resolves to
// the same-row cell, an aggregate name to the sheet aggregate. Input
// columns contribute their raw value, derived columns their effective
// value (error values flow through so downstream formulas inherit the
// upstream error).
func (s *Scheduler) cellEnv(sh *sheet.Sheet, row sheet.RowID, parsed *formula.Parsed) formula.Context {
	env := make(formula.Context, len(parsed.Refs))
	for _, ref := range parsed.Refs {
		if col := sh.Column(sheet.ColumnID(ref)); col != nil {
			env[ref] = s.readCell(sh, sheet.CellRef{Sheet: sh.ID, Row: row, Col: col.ID}, col)
			continue
		}
		if sh.Aggregate(ref) != nil {
			env[ref] = s.grid.Agg(sheet.AggRef{Sheet: sh.ID, Name: ref}).Effective()
		}
		// Unknown names are impossible here: registration validated
		// them. The evaluator reports UNKNOWN_REFERENCE if one slips
		// through unbound.
	}
	return env
}

// aggEnv binds a sheet formula's references: a column name resolves to
// the list of that column's values over active rows, in ascending row
// order, an aggregate name to the aggregate's effective value.
func (s *Scheduler) aggEnv(sh *sheet.Sheet, parsed *formula.Parsed) formula.Context {
	env := make(formula.Context, len(parsed.Refs))
	for _, ref := range parsed.Refs {
		if col := sh.Column(sheet.ColumnID(ref)); col != nil {
			rows := sh.ActiveRows()
			list := make(value.List, 0, len(rows))
			for _, row := range rows {
				list = append(list, s.readCell(sh, sheet.CellRef{Sheet: sh.ID, Row: row, Col: col.ID}, col))
			}
			env[ref] = list
			continue
		}
		if sh.Aggregate(ref) != nil {
			env[ref] = s.grid.Agg(sheet.AggRef{Sheet: sh.ID, Name: ref}).Effective()
		}
	}
	return env
}

// readCell returns the value downstream formulas see for one cell.
func (s *Scheduler) readCell(sh *sheet.Sheet, ref sheet.CellRef, col *sheet.Column) value.Value {
	c := s.grid.Cell(ref)
	if col.Derived() {
		return c.Effective()
	}
	if c.Raw == nil {
		return value.Null{}
	}
	return c.Raw
}

// markStale flags the unevaluated remainder of a cancelled pass.
func (s *Scheduler) markStale(nodes []graph.Node) {
	for _, node := range nodes {
		switch node.Kind {
		case graph.NodeCell:
			s.grid.MarkStale(node.Cell)
		case graph.NodeAggregate:
			s.grid.MarkAggStale(node.Agg)
		}
	}
}

// commit builds the pass payload from the grid and hands it to the
// committer. Error values commit like any other value.
func (s *Scheduler) commit(ctx context.Context, sh *sheet.Sheet, pass *Pass, log *slog.Logger) PassResult {
	payload := PassCommit{
		Sheet:   sh.ID,
		Token:   pass.Token,
		Seq:     pass.Seq,
		Trigger: pass.Trigger,
	}
	for _, node := range pass.Nodes {
		switch node.Kind {
		case graph.NodeCell:
			payload.Cells = append(payload.Cells, CellUpdate{
				Ref: node.Cell,
				Val: s.grid.Cell(node.Cell).Effective(),
			})
		case graph.NodeAggregate:
			payload.Aggs = append(payload.Aggs, AggUpdate{
				Ref: node.Agg,
				Val: s.grid.Agg(node.Agg).Effective(),
			})
		}
	}

	if err := s.committer.CommitPass(ctx, payload); err != nil {
		log.Error("pass commit failed", "error", err, "seq", pass.Seq)
		pass.transition(StateFailed)
		return s.result(pass, fmt.Errorf("commit pass %s: %w", pass.Token, err))
	}

	pass.transition(StateCommitted)
	log.Info("pass committed",
		"seq", pass.Seq,
		"nodes", len(pass.Nodes),
		"evaluated", pass.Evaluated,
		"errored", pass.Errored,
	)
	res := s.result(pass, nil)
	res.Updates = payload.Cells
	res.AggUpdates = payload.Aggs
	return res
}

func (s *Scheduler) result(pass *Pass, err error) PassResult {
	return PassResult{
		Token:     pass.Token,
		Sheet:     pass.Sheet,
		Trigger:   pass.Trigger,
		State:     pass.State,
		Seq:       pass.Seq,
		Nodes:     len(pass.Nodes),
		Evaluated: pass.Evaluated,
		Errored:   pass.Errored,
		Err:       err,
	}
}
