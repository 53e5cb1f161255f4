package core

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func updateEntry() *SQLUndoLog {
	return &SQLUndoLog{
		SQLType:   SQLTypeUpdate,
		TableName: "account",
		BeforeImage: &TableRecords{TableName: "account", Rows: []*Row{
			{Fields: []*Field{NewPrimaryKeyField("id", 1), NewField("val", "a")}},
		}},
		AfterImage: &TableRecords{TableName: "account", Rows: []*Row{
			{Fields: []*Field{NewPrimaryKeyField("id", 1), NewField("val", "b")}},
		}},
	}
}

func TestNewField_Normalizes(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 500, time.FixedZone("X", 3600))

	testCases := []struct {
		name     string
		value    any
		wantType FieldType
		want     any
	}{
		{"int widened", int32(7), FieldTypeInt, int64(7)},
		{"uint widened", uint16(9), FieldTypeInt, int64(9)},
		{"uint64 kept unsigned", uint64(math.MaxInt64) + 1, FieldTypeUint, uint64(math.MaxInt64) + 1},
		{"float", float32(1.5), FieldTypeFloat, float64(1.5)},
		{"string", "abc", FieldTypeString, "abc"},
		{"bytes", []byte{1, 2}, FieldTypeBytes, []byte{1, 2}},
		{"bool", true, FieldTypeBool, true},
		{"time to utc", ts, FieldTypeTime, ts.UTC()},
		{"nil", nil, FieldTypeNull, nil},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := NewField("c", tc.value)
			assert.Equal(t, tc.wantType, f.Type)
			assert.Equal(t, tc.want, f.Value)
			assert.Equal(t, KeyTypeNone, f.KeyType)
		})
	}

	pk := NewPrimaryKeyField("id", 1)
	assert.Equal(t, KeyTypePrimary, pk.KeyType)
}

func TestField_Normalize_WidenedValues(t *testing.T) {
	t.Run("json number to int64", func(t *testing.T) {
		f := &Field{Name: "id", Type: FieldTypeInt, Value: json.Number("9007199254740993")}
		require.NoError(t, f.Normalize())
		assert.Equal(t, int64(9007199254740993), f.Value)
	})

	t.Run("float64 to int64", func(t *testing.T) {
		f := &Field{Name: "id", Type: FieldTypeInt, Value: float64(42)}
		require.NoError(t, f.Normalize())
		assert.Equal(t, int64(42), f.Value)
	})

	t.Run("non integral float rejected", func(t *testing.T) {
		f := &Field{Name: "id", Type: FieldTypeInt, Value: 1.25}
		assert.Error(t, f.Normalize())
	})

	t.Run("base64 string to bytes", func(t *testing.T) {
		f := &Field{Name: "blob", Type: FieldTypeBytes, Value: "AQI="}
		require.NoError(t, f.Normalize())
		assert.Equal(t, []byte{1, 2}, f.Value)
	})

	t.Run("rfc3339 string to time", func(t *testing.T) {
		f := &Field{Name: "at", Type: FieldTypeTime, Value: "2024-05-01T12:00:00.5Z"}
		require.NoError(t, f.Normalize())
		assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 500000000, time.UTC), f.Value)
	})

	t.Run("driver text values", func(t *testing.T) {
		i := &Field{Name: "id", Type: FieldTypeInt, Value: []byte("17")}
		require.NoError(t, i.Normalize())
		assert.Equal(t, int64(17), i.Value)

		f := &Field{Name: "amount", Type: FieldTypeFloat, Value: []byte("12.75")}
		require.NoError(t, f.Normalize())
		assert.Equal(t, 12.75, f.Value)

		b := &Field{Name: "paid", Type: FieldTypeBool, Value: int64(1)}
		require.NoError(t, b.Normalize())
		assert.Equal(t, true, b.Value)
	})

	t.Run("json number to uint64 above int64", func(t *testing.T) {
		f := &Field{Name: "id", Type: FieldTypeUint, Value: json.Number("18446744073709551615")}
		require.NoError(t, f.Normalize())
		assert.Equal(t, uint64(math.MaxUint64), f.Value)
	})

	t.Run("negative unsigned rejected", func(t *testing.T) {
		f := &Field{Name: "id", Type: FieldTypeUint, Value: int8(-1)}
		assert.Error(t, f.Normalize())
	})

	t.Run("bool mismatch rejected", func(t *testing.T) {
		f := &Field{Name: "flag", Type: FieldTypeBool, Value: "yes"}
		assert.Error(t, f.Normalize())
	})
}

func TestSQLUndoLog_UndoRows(t *testing.T) {
	entry := updateEntry()
	assert.Same(t, entry.BeforeImage, entry.UndoRows())

	entry.SQLType = SQLTypeDelete
	assert.Same(t, entry.BeforeImage, entry.UndoRows())

	entry.SQLType = SQLTypeInsert
	assert.Same(t, entry.AfterImage, entry.UndoRows())

	entry.SQLType = SQLType(99)
	assert.Nil(t, entry.UndoRows())
}

func TestSQLUndoLog_SetTableMeta(t *testing.T) {
	entry := updateEntry()
	assert.Nil(t, entry.TableMeta())

	meta := &TableMeta{TableName: "account", PrimaryKeys: []string{"id"}}
	entry.SetTableMeta(meta)
	assert.Same(t, meta, entry.BeforeImage.TableMeta)
	assert.Same(t, meta, entry.AfterImage.TableMeta)
	assert.Same(t, meta, entry.TableMeta())
	assert.True(t, meta.IsPrimaryKey("id"))
	assert.False(t, meta.IsPrimaryKey("val"))
}

func TestSQLUndoLog_Validate(t *testing.T) {
	rows := func() *TableRecords {
		return &TableRecords{Rows: []*Row{{Fields: []*Field{NewPrimaryKeyField("id", 1)}}}}
	}

	testCases := []struct {
		name    string
		entry   *SQLUndoLog
		wantErr bool
	}{
		{"valid update", updateEntry(), false},
		{"valid insert", &SQLUndoLog{SQLType: SQLTypeInsert, TableName: "t", AfterImage: rows()}, false},
		{"valid delete", &SQLUndoLog{SQLType: SQLTypeDelete, TableName: "t", BeforeImage: rows()}, false},
		{"missing table", &SQLUndoLog{SQLType: SQLTypeInsert, AfterImage: rows()}, true},
		{"insert with before image", &SQLUndoLog{SQLType: SQLTypeInsert, TableName: "t", BeforeImage: rows(), AfterImage: rows()}, true},
		{"insert without after image", &SQLUndoLog{SQLType: SQLTypeInsert, TableName: "t"}, true},
		{"delete with after image", &SQLUndoLog{SQLType: SQLTypeDelete, TableName: "t", BeforeImage: rows(), AfterImage: rows()}, true},
		{"update missing after image", &SQLUndoLog{SQLType: SQLTypeUpdate, TableName: "t", BeforeImage: rows()}, true},
		{"unknown type", &SQLUndoLog{SQLType: 0, TableName: "t"}, true},
		{"image of other table", &SQLUndoLog{SQLType: SQLTypeInsert, TableName: "t", AfterImage: &TableRecords{TableName: "u", Rows: rows().Rows}}, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.entry.Validate()
			if tc.wantErr {
				require.Error(t, err)
				assert.True(t, IsValidationError(err))
				return
			}
			require.NoError(t, err)
		})
	}

	t.Run("value that does not fit its type", func(t *testing.T) {
		entry := &SQLUndoLog{SQLType: SQLTypeInsert, TableName: "t", AfterImage: &TableRecords{Rows: []*Row{{Fields: []*Field{
			{Name: "id", KeyType: KeyTypePrimary, Type: FieldTypeInt, Value: uint64(math.MaxInt64) + 1},
		}}}}}
		err := entry.Validate()
		require.Error(t, err)
		assert.True(t, IsValidationError(err))
		assert.Contains(t, err.Error(), "overflows int64")
	})

	t.Run("update row count mismatch", func(t *testing.T) {
		entry := updateEntry()
		entry.AfterImage.Rows = append(entry.AfterImage.Rows, entry.AfterImage.Rows[0])
		assert.True(t, IsValidationError(entry.Validate()))
	})
}

func TestBranchUndoLog_Validate(t *testing.T) {
	valid := &BranchUndoLog{XID: "X1", BranchID: 42, SQLUndoLogs: []*SQLUndoLog{updateEntry()}}
	require.NoError(t, valid.Validate())

	noXID := &BranchUndoLog{BranchID: 42}
	assert.True(t, IsValidationError(noXID.Validate()))

	nilEntry := &BranchUndoLog{XID: "X1", SQLUndoLogs: []*SQLUndoLog{nil}}
	assert.True(t, IsValidationError(nilEntry.Validate()))

	badEntry := &BranchUndoLog{XID: "X1", SQLUndoLogs: []*SQLUndoLog{{SQLType: SQLTypeInsert, TableName: "t"}}}
	err := badEntry.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "undo entry 0")
}

func TestLogStatus(t *testing.T) {
	assert.True(t, LogStatusNormal.CanUndo())
	assert.False(t, LogStatusGlobalFinished.CanUndo())
	assert.Equal(t, "GlobalFinished", LogStatusGlobalFinished.String())

	s, err := ParseLogStatus(1)
	require.NoError(t, err)
	assert.Equal(t, LogStatusGlobalFinished, s)

	_, err = ParseLogStatus(7)
	assert.Error(t, err)
}

func TestAssertSupportedDBType(t *testing.T) {
	require.NoError(t, AssertSupportedDBType(ParseDBType(" MySQL ")))

	err := AssertSupportedDBType(DBType("postgresql"))
	require.Error(t, err)
	assert.True(t, IsUnsupportedDBType(err))
	assert.Contains(t, err.Error(), "postgresql")
}
