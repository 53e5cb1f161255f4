package parser

import (
	"fmt"

	"github.com/INLOpen/atundo/core"
	"github.com/vmihailenco/msgpack/v5"
)

// MsgpackParser is a compact binary serializer for large record sets.
type MsgpackParser struct{}

var _ UndoLogParser = MsgpackParser{}

func (MsgpackParser) Name() string              { return "msgpack" }
func (MsgpackParser) Type() core.SerializerType { return core.SerializerMsgpack }

func (MsgpackParser) Encode(log *core.BranchUndoLog) ([]byte, error) {
	data, err := msgpack.Marshal(log)
	if err != nil {
		return nil, fmt.Errorf("msgpack encode undo log: %w", err)
	}
	return data, nil
}

func (MsgpackParser) Decode(data []byte) (*core.BranchUndoLog, error) {
	var log core.BranchUndoLog
	if err := msgpack.Unmarshal(data, &log); err != nil {
		return nil, fmt.Errorf("msgpack decode undo log: %w", err)
	}
	if err := log.Normalize(); err != nil {
		return nil, fmt.Errorf("msgpack decode undo log: %w", err)
	}
	return &log, nil
}
