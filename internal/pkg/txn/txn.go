// Package txn provides the REQUIRES_NEW transaction helper and post-commit
// hook mechanism the ingestion core relies on to keep failure semantics
// durable across retry storms: every state mutation that must survive a
// rolled-back outer transaction runs through Run, and every outbound side
// effect (a queue send, an async upload) is registered via Hooks.After so
// it never fires against a row that ends up rolled back.
package txn

import (
	"context"
	"database/sql"
	"fmt"
)

// Runner begins, commits, and rolls back independent transactions against
// a single *sql.DB. Every call to Run is its own connection-level
// transaction — there is no nesting and no ambient transaction propagated
// through context, by design: REQUIRES_NEW means exactly that.
type Runner struct {
	db *sql.DB
}

// NewRunner wraps db for REQUIRES_NEW-style transaction execution.
func NewRunner(db *sql.DB) *Runner {
	return &Runner{db: db}
}

// Run executes fn inside a fresh transaction, committing on success and
// rolling back if fn returns an error or panics. Hooks registered on the
// Hooks passed into fn fire only after a successful commit.
func (r *Runner) Run(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx, hooks *Hooks) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("txn: begin: %w", err)
	}

	hooks := &Hooks{}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(ctx, tx, hooks); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("txn: commit: %w", err)
	}
	committed = true

	hooks.fire(ctx)
	return nil
}

// Hooks accumulates after-commit callbacks for a single Run invocation.
// Callbacks are invoked in registration order, and only if the owning
// transaction commits successfully.
type Hooks struct {
	callbacks []func(ctx context.Context)
}

// After registers fn to run once the surrounding transaction has
// committed. fn must not assume it runs inside any transaction — register
// further REQUIRES_NEW work inside fn via the Runner if it needs to
// persist state.
func (h *Hooks) After(fn func(ctx context.Context)) {
	h.callbacks = append(h.callbacks, fn)
}

func (h *Hooks) fire(ctx context.Context) {
	for _, cb := range h.callbacks {
		cb(ctx)
	}
}
