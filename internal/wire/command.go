package wire

import "fmt"

// Verb identifies a command frame's purpose. Values are pinned by
// spec.md section 6.1 and must never be renumbered.
type Verb uint64

const (
	VerbQuit             Verb = 0
	VerbOpen             Verb = 1
	VerbRows             Verb = 2
	VerbHash             Verb = 3
	VerbRowsAndHashNext  Verb = 4
	VerbRange            Verb = 5
	VerbProtocol         Verb = 32
	VerbExportSnapshot   Verb = 33
	VerbImportSnapshot   Verb = 34
	VerbUnholdSnapshot   Verb = 35
	VerbWithoutSnapshot  Verb = 36
	VerbSchema           Verb = 37
	VerbHashAlgorithm    Verb = 38
	VerbTargetBlockSize  Verb = 39
	VerbFilters          Verb = 40
	VerbTypes            Verb = 41
	VerbIdle             Verb = 42
)

func (v Verb) String() string {
	switch v {
	case VerbQuit:
		return "QUIT"
	case VerbOpen:
		return "OPEN"
	case VerbRows:
		return "ROWS"
	case VerbHash:
		return "HASH"
	case VerbRowsAndHashNext:
		return "ROWS_AND_HASH_NEXT"
	case VerbRange:
		return "RANGE"
	case VerbProtocol:
		return "PROTOCOL"
	case VerbExportSnapshot:
		return "EXPORT_SNAPSHOT"
	case VerbImportSnapshot:
		return "IMPORT_SNAPSHOT"
	case VerbUnholdSnapshot:
		return "UNHOLD_SNAPSHOT"
	case VerbWithoutSnapshot:
		return "WITHOUT_SNAPSHOT"
	case VerbSchema:
		return "SCHEMA"
	case VerbHashAlgorithm:
		return "HASH_ALGORITHM"
	case VerbTargetBlockSize:
		return "TARGET_BLOCK_SIZE"
	case VerbFilters:
		return "FILTERS"
	case VerbTypes:
		return "TYPES"
	case VerbIdle:
		return "IDLE"
	default:
		return fmt.Sprintf("VERB(%d)", uint64(v))
	}
}

// WriteCommand writes a command frame: an outer array of [verb] ++ args.
func WriteCommand(w *Writer, verb Verb, args ...Value) error {
	if err := w.WriteArrayHeader(len(args) + 1); err != nil {
		return err
	}
	if err := w.WriteUint(uint64(verb)); err != nil {
		return err
	}
	for _, a := range args {
		if err := w.WriteValue(a); err != nil {
			return err
		}
	}
	return nil
}

// Command is a decoded command frame: the verb plus its arguments still
// in wire-encoded form.
type Command struct {
	Verb Verb
	Args []Value
}

// ReadCommand reads one complete command frame.
func ReadCommand(r *Reader) (Command, error) {
	n, err := r.ReadArrayHeader()
	if err != nil {
		return Command{}, err
	}
	if n < 1 {
		return Command{}, fmt.Errorf("wire: command frame has no verb")
	}
	verbValue, err := r.ReadValue()
	if err != nil {
		return Command{}, err
	}
	verbNum, ok := verbValue.AsUint64()
	if !ok {
		return Command{}, fmt.Errorf("wire: command verb is not an integer")
	}
	args := make([]Value, n-1)
	for i := range args {
		v, err := r.ReadValue()
		if err != nil {
			return Command{}, err
		}
		args[i] = v
	}
	return Command{Verb: Verb(verbNum), Args: args}, nil
}

// WriteRowsHeader writes the 4-element header array that precedes a
// streaming rows response: [verb, table_id, prev_key, last_key].
func WriteRowsHeader(w *Writer, verb Verb, tableID string, prevKey, lastKey []Value) error {
	if err := w.WriteArrayHeader(4); err != nil {
		return err
	}
	if err := w.WriteUint(uint64(verb)); err != nil {
		return err
	}
	if err := w.WriteString(tableID); err != nil {
		return err
	}
	if err := w.WriteRow(prevKey); err != nil {
		return err
	}
	return w.WriteRow(lastKey)
}

// ReadRowsHeader reads the header array that precedes a streaming rows
// response.
func ReadRowsHeader(r *Reader) (verb Verb, tableID string, prevKey, lastKey []Value, err error) {
	n, err := r.ReadArrayHeader()
	if err != nil {
		return 0, "", nil, nil, err
	}
	if n != 4 {
		return 0, "", nil, nil, fmt.Errorf("wire: expected 4-element rows header, got %d", n)
	}
	verbValue, err := r.ReadValue()
	if err != nil {
		return 0, "", nil, nil, err
	}
	verbNum, _ := verbValue.AsUint64()
	tableValue, err := r.ReadValue()
	if err != nil {
		return 0, "", nil, nil, err
	}
	tableBytes, _ := tableValue.AsBytes()
	prevKey, err = r.ReadRow()
	if err != nil {
		return 0, "", nil, nil, err
	}
	lastKey, err = r.ReadRow()
	if err != nil {
		return 0, "", nil, nil, err
	}
	return Verb(verbNum), string(tableBytes), prevKey, lastKey, nil
}
