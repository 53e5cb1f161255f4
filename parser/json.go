package parser

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/INLOpen/atundo/core"
)

// JSONParser is the default serializer. Numbers are decoded as json.Number so
// 64-bit keys survive the round trip.
type JSONParser struct{}

var _ UndoLogParser = JSONParser{}

func (JSONParser) Name() string              { return "json" }
func (JSONParser) Type() core.SerializerType { return core.SerializerJSON }

func (JSONParser) Encode(log *core.BranchUndoLog) ([]byte, error) {
	data, err := json.Marshal(log)
	if err != nil {
		return nil, fmt.Errorf("json encode undo log: %w", err)
	}
	return data, nil
}

func (JSONParser) Decode(data []byte) (*core.BranchUndoLog, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var log core.BranchUndoLog
	if err := dec.Decode(&log); err != nil {
		return nil, fmt.Errorf("json decode undo log: %w", err)
	}
	if err := log.Normalize(); err != nil {
		return nil, fmt.Errorf("json decode undo log: %w", err)
	}
	return &log, nil
}
