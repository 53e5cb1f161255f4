package tablemeta

import (
	"context"
	"fmt"
	"strings"

	"github.com/INLOpen/atundo/core"
)

// Loader reads the schema of one table through the given executor.
type Loader interface {
	Load(ctx context.Context, ex core.Executor, tableName string) (*core.TableMeta, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, ex core.Executor, tableName string) (*core.TableMeta, error)

func (f LoaderFunc) Load(ctx context.Context, ex core.Executor, tableName string) (*core.TableMeta, error) {
	return f(ctx, ex, tableName)
}

const (
	mysqlColumnsQuery = "SELECT COLUMN_NAME, DATA_TYPE, IS_NULLABLE FROM information_schema.COLUMNS" +
		" WHERE TABLE_SCHEMA = %s AND TABLE_NAME = ? ORDER BY ORDINAL_POSITION"
	mysqlPrimaryKeyQuery = "SELECT COLUMN_NAME FROM information_schema.KEY_COLUMN_USAGE" +
		" WHERE TABLE_SCHEMA = %s AND TABLE_NAME = ? AND CONSTRAINT_NAME = 'PRIMARY' ORDER BY ORDINAL_POSITION"
)

// MySQLLoader reads table meta from information_schema. Unqualified table
// names resolve against the connection's current database.
type MySQLLoader struct{}

var _ Loader = MySQLLoader{}

func (MySQLLoader) Load(ctx context.Context, ex core.Executor, tableName string) (*core.TableMeta, error) {
	schema, table := splitTableName(tableName)
	schemaExpr := "DATABASE()"
	args := []any{table}
	if schema != "" {
		schemaExpr = "?"
		args = []any{schema, table}
	}

	meta := &core.TableMeta{TableName: tableName}
	if err := queryEach(ctx, ex, fmt.Sprintf(mysqlColumnsQuery, schemaExpr), args, func(scan func(...any) error) error {
		var col core.ColumnMeta
		var nullable string
		if err := scan(&col.Name, &col.DataType, &nullable); err != nil {
			return err
		}
		col.Nullable = strings.EqualFold(nullable, "YES")
		meta.Columns = append(meta.Columns, col)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("load columns of %s: %w", tableName, err)
	}
	if len(meta.Columns) == 0 {
		return nil, fmt.Errorf("table %s not found", tableName)
	}

	if err := queryEach(ctx, ex, fmt.Sprintf(mysqlPrimaryKeyQuery, schemaExpr), args, func(scan func(...any) error) error {
		var name string
		if err := scan(&name); err != nil {
			return err
		}
		meta.PrimaryKeys = append(meta.PrimaryKeys, name)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("load primary key of %s: %w", tableName, err)
	}
	return meta, nil
}

func queryEach(ctx context.Context, ex core.Executor, query string, args []any, fn func(scan func(...any) error) error) error {
	rows, err := ex.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := fn(rows.Scan); err != nil {
			return err
		}
	}
	return rows.Err()
}

// splitTableName splits "db.table", dropping identifier quotes.
func splitTableName(name string) (schema, table string) {
	name = strings.ReplaceAll(name, "`", "")
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[:i], name[i+1:]
	}
	return "", name
}
