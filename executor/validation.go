package executor

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/INLOpen/atundo/core"
)

// dataValidationAndGoOn compares the locked current rows with the images.
// It returns true when the rows still hold the after image, false when they
// already hold the before image, and core.ErrDirtyUndo otherwise.
func (e *mysqlUndoExecutor) dataValidationAndGoOn(ctx context.Context, ex core.Executor) (bool, error) {
	before, after := e.entry.BeforeImage, e.entry.AfterImage
	if e.recordsEqual(before, after) {
		e.logger.Debug("Before and after images are equal, nothing to undo")
		return false, nil
	}

	keyImage := after
	if keyImage.Len() == 0 {
		keyImage = before
	}
	current, err := e.queryCurrentRecords(ctx, ex, keyImage)
	if err != nil {
		return false, err
	}

	if e.recordsEqual(after, current) {
		return true, nil
	}
	if e.recordsEqual(before, current) {
		e.logger.Info("Current rows already match the before image, skipping inverse statement")
		return false, nil
	}
	return false, fmt.Errorf("%w: table %s, %d current rows differ from the after image",
		core.ErrDirtyUndo, e.entry.TableName, current.Len())
}

// queryCurrentRecords locks and reads the rows keyed by image, one SELECT per row.
func (e *mysqlUndoExecutor) queryCurrentRecords(ctx context.Context, ex core.Executor, image *core.TableRecords) (*core.TableRecords, error) {
	current := &core.TableRecords{TableName: e.entry.TableName, TableMeta: e.meta}
	for i, row := range image.Rows {
		where, args, err := e.primaryKeyCondition(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		cols := make([]string, len(row.Fields))
		for j, f := range row.Fields {
			cols[j] = quoteIdent(f.Name)
		}
		query := "SELECT " + strings.Join(cols, ", ") + " FROM " + quoteIdent(e.entry.TableName) +
			" WHERE " + where + " FOR UPDATE"

		found, err := e.selectRows(ctx, ex, query, args, row)
		if err != nil {
			return nil, err
		}
		current.Rows = append(current.Rows, found...)
	}
	return current, nil
}

func (e *mysqlUndoExecutor) selectRows(ctx context.Context, ex core.Executor, query string, args []any, like *core.Row) (out []*core.Row, err error) {
	rows, err := ex.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("lock current rows of %s: %w", e.entry.TableName, err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			e.logger.Warn("Failed to close current rows", "error", closeErr)
		}
	}()

	for rows.Next() {
		vals := make([]any, len(like.Fields))
		ptrs := make([]any, len(vals))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan current row of %s: %w", e.entry.TableName, err)
		}
		r := &core.Row{Fields: make([]*core.Field, len(vals))}
		for i, f := range like.Fields {
			r.Fields[i] = &core.Field{Name: f.Name, KeyType: f.KeyType, Type: f.Type, Value: vals[i]}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate current rows of %s: %w", e.entry.TableName, err)
	}
	return out, nil
}

// recordsEqual matches rows by primary key and compares every column of a.
func (e *mysqlUndoExecutor) recordsEqual(a, b *core.TableRecords) bool {
	if a.Len() != b.Len() {
		return false
	}
	if a.Len() == 0 {
		return true
	}
	byKey := make(map[string]*core.Row, b.Len())
	for _, row := range b.Rows {
		byKey[e.rowKey(row)] = row
	}
	for _, want := range a.Rows {
		got, ok := byKey[e.rowKey(want)]
		if !ok {
			return false
		}
		for _, wf := range want.Fields {
			gf, ok := got.Field(wf.Name)
			if !ok || !fieldEqual(wf, gf) {
				return false
			}
		}
	}
	return true
}

func (e *mysqlUndoExecutor) rowKey(row *core.Row) string {
	var sb strings.Builder
	for _, pk := range e.meta.PrimaryKeys {
		f, ok := row.Field(pk)
		if ok {
			sb.WriteString(fmt.Sprint(normalizedAs(f.Type, f.Value)))
		}
		sb.WriteByte(0)
	}
	return sb.String()
}

func fieldEqual(want, got *core.Field) bool {
	w := normalizedAs(want.Type, want.Value)
	g := normalizedAs(want.Type, got.Value)
	switch wv := w.(type) {
	case nil:
		return g == nil
	case []byte:
		gv, ok := g.([]byte)
		return ok && bytes.Equal(wv, gv)
	case time.Time:
		gv, ok := g.(time.Time)
		return ok && wv.Equal(gv)
	default:
		return w == g
	}
}

// normalizedAs coerces v to the canonical type for t, keeping v when it cannot.
func normalizedAs(t core.FieldType, v any) any {
	f := &core.Field{Type: t, Value: v}
	if err := f.Normalize(); err != nil {
		return v
	}
	return f.Value
}
