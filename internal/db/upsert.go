package db

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// UpsertConfig names the target table, the columns each row carries, the
// unique column rows collide on, and the columns a collision overwrites.
type UpsertConfig struct {
	Table      string
	Columns    []string
	ConflictOn string
	Update     []string
}

// BulkUpsert COPYs rows into a transaction-scoped staging table shaped
// like cfg.Table, then merges them with a single INSERT ... ON CONFLICT.
// It returns the number of rows inserted or updated.
func BulkUpsert(ctx context.Context, pool Pool, cfg UpsertConfig, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(cfg.Columns) == 0 || cfg.ConflictOn == "" || len(cfg.Update) == 0 {
		return 0, eris.Errorf("db: upsert %s: columns, conflict column and update columns are required", cfg.Table)
	}

	stage := "_stage_" + cfg.Table
	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrapf(err, "db: upsert %s: begin", cfg.Table)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "CREATE TEMP TABLE "+ident(stage)+" (LIKE "+ident(cfg.Table)+" INCLUDING DEFAULTS) ON COMMIT DROP"); err != nil {
		return 0, eris.Wrapf(err, "db: upsert %s: create staging table", cfg.Table)
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{stage}, cfg.Columns, pgx.CopyFromRows(rows)); err != nil {
		return 0, eris.Wrapf(err, "db: upsert %s: copy", cfg.Table)
	}

	tag, err := tx.Exec(ctx, mergeSQL(cfg, stage))
	if err != nil {
		return 0, eris.Wrapf(err, "db: upsert %s: merge", cfg.Table)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrapf(err, "db: upsert %s: commit", cfg.Table)
	}
	return tag.RowsAffected(), nil
}

func mergeSQL(cfg UpsertConfig, stage string) string {
	cols := identList(cfg.Columns)
	sets := make([]string, len(cfg.Update))
	for i, c := range cfg.Update {
		sets[i] = ident(c) + " = EXCLUDED." + ident(c)
	}

	var b strings.Builder
	b.WriteString("INSERT INTO " + ident(cfg.Table) + " (" + cols + ")")
	b.WriteString(" SELECT " + cols + " FROM " + ident(stage))
	b.WriteString(" ON CONFLICT (" + ident(cfg.ConflictOn) + ")")
	b.WriteString(" DO UPDATE SET " + strings.Join(sets, ", "))
	return b.String()
}

func ident(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func identList(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = ident(n)
	}
	return strings.Join(quoted, ", ")
}
