package core

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// SQLType is the kind of statement an undo entry compensates for.
type SQLType int

const (
	SQLTypeInsert SQLType = iota + 1
	SQLTypeUpdate
	SQLTypeDelete
)

func (t SQLType) String() string {
	switch t {
	case SQLTypeInsert:
		return "INSERT"
	case SQLTypeUpdate:
		return "UPDATE"
	case SQLTypeDelete:
		return "DELETE"
	default:
		return "SQLType(" + strconv.Itoa(int(t)) + ")"
	}
}

// FieldType is the declared type of a captured column value. Decoders use it to
// restore values that a serializer widened (numbers to float64, bytes to base64).
type FieldType uint8

const (
	FieldTypeNull FieldType = iota
	FieldTypeInt
	FieldTypeFloat
	FieldTypeString
	FieldTypeBytes
	FieldTypeBool
	FieldTypeTime
	// FieldTypeUint holds uint and uint64 values, which may not fit an int64
	// (BIGINT UNSIGNED).
	FieldTypeUint
)

// KeyType marks whether a captured column belongs to the primary key.
type KeyType uint8

const (
	KeyTypeNone KeyType = iota
	KeyTypePrimary
)

// Field is one captured column value of a row image.
type Field struct {
	Name    string    `json:"name" msgpack:"name"`
	KeyType KeyType   `json:"key_type" msgpack:"key_type"`
	Type    FieldType `json:"type" msgpack:"type"`
	Value   any       `json:"value" msgpack:"value"`
}

// NewField builds a field with its type inferred from value.
// Signed and narrow unsigned integers are widened to int64, uint and uint64 to
// uint64, and times are stored in UTC. A value that cannot be normalized is
// kept as given and rejected by SQLUndoLog.Validate.
func NewField(name string, value any) *Field {
	f := &Field{Name: name, Type: FieldTypeOf(value), Value: value}
	_ = f.Normalize()
	return f
}

// NewPrimaryKeyField is NewField for a primary key column.
func NewPrimaryKeyField(name string, value any) *Field {
	f := NewField(name, value)
	f.KeyType = KeyTypePrimary
	return f
}

// FieldTypeOf infers the FieldType of a Go value.
func FieldTypeOf(v any) FieldType {
	switch v.(type) {
	case nil:
		return FieldTypeNull
	case int, int8, int16, int32, int64, uint8, uint16, uint32:
		return FieldTypeInt
	case uint, uint64:
		return FieldTypeUint
	case float32, float64:
		return FieldTypeFloat
	case string:
		return FieldTypeString
	case []byte:
		return FieldTypeBytes
	case bool:
		return FieldTypeBool
	case time.Time:
		return FieldTypeTime
	default:
		return FieldTypeString
	}
}

// Normalize coerces Value to the canonical Go type for Type.
func (f *Field) Normalize() error {
	v, err := normalizeValue(f.Type, f.Value)
	if err != nil {
		return fmt.Errorf("field %s: %w", f.Name, err)
	}
	f.Value = v
	return nil
}

func normalizeValue(t FieldType, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	// Drivers hand back text-protocol values as []byte.
	if b, ok := v.([]byte); ok && t != FieldTypeBytes {
		v = string(b)
	}
	switch t {
	case FieldTypeNull:
		return nil, nil
	case FieldTypeInt:
		return toInt64(v)
	case FieldTypeUint:
		return toUint64(v)
	case FieldTypeFloat:
		return toFloat64(v)
	case FieldTypeString:
		switch x := v.(type) {
		case string:
			return x, nil
		case []byte:
			return string(x), nil
		default:
			return fmt.Sprint(x), nil
		}
	case FieldTypeBytes:
		switch x := v.(type) {
		case []byte:
			return x, nil
		case string:
			b, err := base64.StdEncoding.DecodeString(x)
			if err != nil {
				return nil, fmt.Errorf("invalid base64 bytes value: %w", err)
			}
			return b, nil
		}
	case FieldTypeBool:
		switch x := v.(type) {
		case bool:
			return x, nil
		case string:
			b, err := strconv.ParseBool(x)
			if err != nil {
				return nil, fmt.Errorf("invalid bool value: %w", err)
			}
			return b, nil
		default:
			// TINYINT(1) columns scan as integers.
			if i, err := toInt64(v); err == nil {
				return i != 0, nil
			}
		}
	case FieldTypeTime:
		switch x := v.(type) {
		case time.Time:
			return x.UTC(), nil
		case string:
			ts, err := time.Parse(time.RFC3339Nano, x)
			if err != nil {
				return nil, fmt.Errorf("invalid time value: %w", err)
			}
			return ts.UTC(), nil
		}
	}
	return nil, fmt.Errorf("cannot convert %T to field type %d", v, t)
}

func toInt64(v any) (int64, error) {
	switch x := v.(type) {
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case uint:
		return int64(x), nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint64:
		if x > math.MaxInt64 {
			return 0, fmt.Errorf("integer %d overflows int64", x)
		}
		return int64(x), nil
	case float64:
		if x != math.Trunc(x) {
			return 0, fmt.Errorf("non-integral value %v for integer field", x)
		}
		return int64(x), nil
	case json.Number:
		return x.Int64()
	case string:
		return strconv.ParseInt(x, 10, 64)
	default:
		return 0, fmt.Errorf("cannot convert %T to int64", v)
	}
}

func toUint64(v any) (uint64, error) {
	switch x := v.(type) {
	case uint:
		return uint64(x), nil
	case uint8:
		return uint64(x), nil
	case uint16:
		return uint64(x), nil
	case uint32:
		return uint64(x), nil
	case uint64:
		return x, nil
	case float64:
		if x < 0 || x != math.Trunc(x) || x >= math.MaxUint64 {
			return 0, fmt.Errorf("value %v out of range for unsigned field", x)
		}
		return uint64(x), nil
	case json.Number:
		return strconv.ParseUint(x.String(), 10, 64)
	case string:
		return strconv.ParseUint(x, 10, 64)
	default:
		i, err := toInt64(v)
		if err != nil {
			return 0, fmt.Errorf("cannot convert %T to uint64", v)
		}
		if i < 0 {
			return 0, fmt.Errorf("negative value %d for unsigned field", i)
		}
		return uint64(i), nil
	}
}

func toFloat64(v any) (float64, error) {
	switch x := v.(type) {
	case float32:
		return float64(x), nil
	case float64:
		return x, nil
	case json.Number:
		return x.Float64()
	case string:
		return strconv.ParseFloat(x, 64)
	default:
		i, err := toInt64(v)
		if err != nil {
			return 0, fmt.Errorf("cannot convert %T to float64", v)
		}
		return float64(i), nil
	}
}

// Row is an ordered list of captured column values.
type Row struct {
	Fields []*Field `json:"fields" msgpack:"fields"`
}

// Field returns the field with the given column name.
func (r *Row) Field(name string) (*Field, bool) {
	for _, f := range r.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return nil, false
}

// ColumnMeta describes one column of a table.
type ColumnMeta struct {
	Name     string
	DataType string
	Nullable bool
}

// TableMeta is the resolved schema of a table. It is looked up at undo time and
// never persisted with the undo log.
type TableMeta struct {
	TableName   string
	Columns     []ColumnMeta
	PrimaryKeys []string
}

// IsPrimaryKey reports whether column is part of the primary key.
func (m *TableMeta) IsPrimaryKey(column string) bool {
	for _, pk := range m.PrimaryKeys {
		if pk == column {
			return true
		}
	}
	return false
}

// TableRecords is a row-set image of one table.
type TableRecords struct {
	TableName string     `json:"table_name" msgpack:"table_name"`
	Rows      []*Row     `json:"rows" msgpack:"rows"`
	TableMeta *TableMeta `json:"-" msgpack:"-"`
}

// Len is nil-safe.
func (tr *TableRecords) Len() int {
	if tr == nil {
		return 0
	}
	return len(tr.Rows)
}

// SQLUndoLog is the undo entry of one executed statement.
type SQLUndoLog struct {
	SQLType     SQLType       `json:"sql_type" msgpack:"sql_type"`
	TableName   string        `json:"table_name" msgpack:"table_name"`
	BeforeImage *TableRecords `json:"before_image,omitempty" msgpack:"before_image,omitempty"`
	AfterImage  *TableRecords `json:"after_image,omitempty" msgpack:"after_image,omitempty"`
}

// SetTableMeta attaches resolved metadata to both images.
func (l *SQLUndoLog) SetTableMeta(meta *TableMeta) {
	if l.BeforeImage != nil {
		l.BeforeImage.TableMeta = meta
	}
	if l.AfterImage != nil {
		l.AfterImage.TableMeta = meta
	}
}

// TableMeta returns the metadata attached by SetTableMeta, if any.
func (l *SQLUndoLog) TableMeta() *TableMeta {
	if l.BeforeImage != nil && l.BeforeImage.TableMeta != nil {
		return l.BeforeImage.TableMeta
	}
	if l.AfterImage != nil {
		return l.AfterImage.TableMeta
	}
	return nil
}

// UndoRows returns the image the inverse statement is built from: the after
// image for inserts, the before image for updates and deletes.
func (l *SQLUndoLog) UndoRows() *TableRecords {
	switch l.SQLType {
	case SQLTypeUpdate, SQLTypeDelete:
		return l.BeforeImage
	case SQLTypeInsert:
		return l.AfterImage
	default:
		return nil
	}
}

// Validate checks that the images match the statement type.
func (l *SQLUndoLog) Validate() error {
	if l.TableName == "" {
		return &ValidationError{Field: "table_name", Message: "table name cannot be empty"}
	}
	switch l.SQLType {
	case SQLTypeInsert:
		if l.BeforeImage.Len() != 0 {
			return &ValidationError{Field: "before_image", Value: l.TableName, Message: "insert must not carry a before image"}
		}
		if l.AfterImage.Len() == 0 {
			return &ValidationError{Field: "after_image", Value: l.TableName, Message: "insert requires an after image"}
		}
	case SQLTypeDelete:
		if l.AfterImage.Len() != 0 {
			return &ValidationError{Field: "after_image", Value: l.TableName, Message: "delete must not carry an after image"}
		}
		if l.BeforeImage.Len() == 0 {
			return &ValidationError{Field: "before_image", Value: l.TableName, Message: "delete requires a before image"}
		}
	case SQLTypeUpdate:
		if l.BeforeImage.Len() == 0 || l.AfterImage.Len() == 0 {
			return &ValidationError{Field: "before_image", Value: l.TableName, Message: "update requires before and after images"}
		}
		if l.BeforeImage.Len() != l.AfterImage.Len() {
			return &ValidationError{
				Field:   "after_image",
				Value:   l.TableName,
				Message: fmt.Sprintf("before image has %d rows but after image has %d", l.BeforeImage.Len(), l.AfterImage.Len()),
			}
		}
	default:
		return &ValidationError{Field: "sql_type", Value: l.SQLType.String(), Message: "unknown statement type"}
	}
	for _, img := range []*TableRecords{l.BeforeImage, l.AfterImage} {
		if img == nil {
			continue
		}
		if img.TableName != "" && img.TableName != l.TableName {
			return &ValidationError{Field: "table_name", Value: img.TableName, Message: "image belongs to table " + l.TableName}
		}
		for _, row := range img.Rows {
			if row == nil {
				continue
			}
			for _, f := range row.Fields {
				if f == nil {
					continue
				}
				if _, err := normalizeValue(f.Type, f.Value); err != nil {
					return &ValidationError{Field: f.Name, Value: l.TableName, Message: err.Error()}
				}
			}
		}
	}
	return nil
}

// Normalize restores canonical value types in both images after decoding.
func (l *SQLUndoLog) Normalize() error {
	for _, img := range []*TableRecords{l.BeforeImage, l.AfterImage} {
		if img == nil {
			continue
		}
		for _, row := range img.Rows {
			for _, f := range row.Fields {
				if err := f.Normalize(); err != nil {
					return fmt.Errorf("table %s: %w", l.TableName, err)
				}
			}
		}
	}
	return nil
}

// BranchUndoLog is the undo record set of one branch transaction. SQLUndoLogs are
// kept in forward execution order; compensation replays them newest first.
type BranchUndoLog struct {
	XID         string        `json:"xid" msgpack:"xid"`
	BranchID    int64         `json:"branch_id" msgpack:"branch_id"`
	SQLUndoLogs []*SQLUndoLog `json:"sql_undo_logs" msgpack:"sql_undo_logs"`
}

// Validate checks identity fields and every entry.
func (b *BranchUndoLog) Validate() error {
	if b.XID == "" {
		return &ValidationError{Field: "xid", Message: "xid cannot be empty"}
	}
	for i, l := range b.SQLUndoLogs {
		if l == nil {
			return &ValidationError{Field: "sql_undo_logs", Value: strconv.Itoa(i), Message: "nil undo entry"}
		}
		if err := l.Validate(); err != nil {
			return fmt.Errorf("undo entry %d: %w", i, err)
		}
	}
	return nil
}

// Normalize runs SQLUndoLog.Normalize over every entry.
func (b *BranchUndoLog) Normalize() error {
	for i, l := range b.SQLUndoLogs {
		if l == nil {
			continue
		}
		if err := l.Normalize(); err != nil {
			return fmt.Errorf("undo entry %d: %w", i, err)
		}
	}
	return nil
}
