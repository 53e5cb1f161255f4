package executor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/INLOpen/atundo/core"
)

type statement struct {
	query string
	args  []any
}

type mysqlUndoExecutor struct {
	entry    *core.SQLUndoLog
	meta     *core.TableMeta
	validate bool
	logger   *slog.Logger
}

func (e *mysqlUndoExecutor) ExecuteOn(ctx context.Context, ex core.Executor) error {
	if e.validate {
		goOn, err := e.dataValidationAndGoOn(ctx, ex)
		if err != nil {
			return err
		}
		if !goOn {
			return nil
		}
	}

	stmts, err := e.buildStatements()
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := ex.ExecContext(ctx, stmt.query, stmt.args...); err != nil {
			return fmt.Errorf("undo %s on %s: %w", e.entry.SQLType, e.entry.TableName, err)
		}
	}
	e.logger.Debug("Inverse statements applied", "statements", len(stmts))
	return nil
}

// buildStatements returns one statement per undo row.
func (e *mysqlUndoExecutor) buildStatements() ([]statement, error) {
	undoRows := e.entry.UndoRows()
	if undoRows.Len() == 0 {
		return nil, nil
	}
	table := quoteIdent(e.entry.TableName)
	stmts := make([]statement, 0, undoRows.Len())

	for i, row := range undoRows.Rows {
		where, pkArgs, err := e.primaryKeyCondition(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		switch e.entry.SQLType {
		case core.SQLTypeInsert:
			stmts = append(stmts, statement{
				query: "DELETE FROM " + table + " WHERE " + where,
				args:  pkArgs,
			})
		case core.SQLTypeUpdate:
			sets := make([]string, 0, len(row.Fields))
			args := make([]any, 0, len(row.Fields)+len(pkArgs))
			for _, f := range row.Fields {
				if e.meta.IsPrimaryKey(f.Name) {
					continue
				}
				sets = append(sets, quoteIdent(f.Name)+" = ?")
				args = append(args, f.Value)
			}
			if len(sets) == 0 {
				return nil, fmt.Errorf("row %d: before image of %s has no non-key columns to restore", i, e.entry.TableName)
			}
			stmts = append(stmts, statement{
				query: "UPDATE " + table + " SET " + strings.Join(sets, ", ") + " WHERE " + where,
				args:  append(args, pkArgs...),
			})
		case core.SQLTypeDelete:
			cols := make([]string, 0, len(row.Fields))
			args := make([]any, 0, len(row.Fields))
			for _, f := range row.Fields {
				cols = append(cols, quoteIdent(f.Name))
				args = append(args, f.Value)
			}
			stmts = append(stmts, statement{
				query: "INSERT INTO " + table + " (" + strings.Join(cols, ", ") + ") VALUES (" +
					strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ") + ")",
				args: args,
			})
		}
	}
	return stmts, nil
}

// primaryKeyCondition returns "`pk1` = ? AND `pk2` = ?" and its arguments.
func (e *mysqlUndoExecutor) primaryKeyCondition(row *core.Row) (string, []any, error) {
	conds := make([]string, 0, len(e.meta.PrimaryKeys))
	args := make([]any, 0, len(e.meta.PrimaryKeys))
	for _, pk := range e.meta.PrimaryKeys {
		f, ok := row.Field(pk)
		if !ok {
			return "", nil, fmt.Errorf("primary key column %s missing from image of %s", pk, e.entry.TableName)
		}
		if f.Value == nil {
			return "", nil, fmt.Errorf("primary key column %s of %s is null", pk, e.entry.TableName)
		}
		conds = append(conds, quoteIdent(pk)+" = ?")
		args = append(args, f.Value)
	}
	return strings.Join(conds, " AND "), args, nil
}

func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}
