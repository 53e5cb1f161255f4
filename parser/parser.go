package parser

import (
	"fmt"
	"strings"

	"github.com/INLOpen/atundo/core"
)

// UndoLogParser serializes undo record sets. Implementations must restore
// typed field values on Decode (see core.BranchUndoLog.Normalize).
type UndoLogParser interface {
	// Name is the configuration name of the parser.
	Name() string
	// Type is the identifier written into the rollback info header.
	Type() core.SerializerType
	Encode(log *core.BranchUndoLog) ([]byte, error)
	Decode(data []byte) (*core.BranchUndoLog, error)
}

var parsers = []UndoLogParser{
	JSONParser{},
	MsgpackParser{},
}

// ByName resolves a configured serialization name. An empty name selects JSON.
func ByName(name string) (UndoLogParser, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		n = JSONParser{}.Name()
	}
	for _, p := range parsers {
		if p.Name() == n {
			return p, nil
		}
	}
	return nil, fmt.Errorf("unsupported undo log serialization %q", name)
}

// ByType resolves the parser recorded in a rollback info header.
func ByType(t core.SerializerType) (UndoLogParser, error) {
	for _, p := range parsers {
		if p.Type() == t {
			return p, nil
		}
	}
	return nil, fmt.Errorf("unknown undo log serializer type %d", t)
}
