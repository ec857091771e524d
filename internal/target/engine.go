// Package target implements the target side of the Kitchen Sync protocol
// (spec.md section 4.7), grounded in
// _examples/original_source/src/sync_to.h and sync_to_algorithm.h. Engine
// drives one worker's connection to the source: handshake and negotiation,
// then per-table synchronization via the adaptive hash-comparison ladder in
// algorithm.go.
package target

import (
	"context"
	"fmt"

	"github.com/willbryant/kitchen-sync/internal/applier"
	"github.com/willbryant/kitchen-sync/internal/driver"
	"github.com/willbryant/kitchen-sync/internal/klog"
	"github.com/willbryant/kitchen-sync/internal/rowhash"
	"github.com/willbryant/kitchen-sync/internal/schema"
	"github.com/willbryant/kitchen-sync/internal/wire"
)

// ProtocolVersion is this build's wire protocol version, negotiated down to
// whichever end reports the lower value (spec.md section 4.8).
const ProtocolVersion = 1

// Block-size defaults from spec.md section 4.7's adaptive ladder: doubling
// stops once an estimated request would exceed maxBlockSize of encoded row
// data, and a mismatched range is never subdivided below minBlockSize.
const (
	defaultMaxBlockSize = 64 * 1024 * 1024
	defaultMinBlockSize = 16 * 1024
)

// maxCommandsToPipeline bounds how many HASH commands the writer keeps
// outstanding at once (spec.md section 4.7's pipelining note).
const maxCommandsToPipeline = 2

// Engine is one worker's connection to the source: a wire reader/writer
// pair, the local database connection DML is applied through, and the
// negotiated protocol state. One Engine is created per worker and reused
// across every table that worker handles.
type Engine struct {
	w    *wire.Writer
	r    *wire.Reader
	conn driver.Conn
	log  klog.Logger

	algorithm       rowhash.Algorithm
	protocolVersion uint64
	minBlockSize    int64
	maxBlockSize    int64
	insertOnly      bool
	commitLevel     applier.CommitLevel

	// Notify, if set, is called after a table finishes so the scheduler's
	// FindTableJob waiters re-check for shareable work. The cmd/ entrypoint
	// leaves it unset; its worker loop calls
	// scheduler.SyncQueue.NotifyWorkChanged itself after each SyncTable.
	Notify func()
}

// New creates an Engine that speaks the protocol over rw and applies DML
// through conn.
func New(w *wire.Writer, r *wire.Reader, conn driver.Conn, log klog.Logger, commitLevel applier.CommitLevel, insertOnly bool) *Engine {
	return &Engine{
		w:            w,
		r:            r,
		conn:         conn,
		log:          log,
		algorithm:    rowhash.BLAKE3,
		minBlockSize: defaultMinBlockSize,
		maxBlockSize: defaultMaxBlockSize,
		commitLevel:  commitLevel,
		insertOnly:   insertOnly,
	}
}

// SetAlgorithm overrides the default hash algorithm before Handshake.
func (e *Engine) SetAlgorithm(alg rowhash.Algorithm) { e.algorithm = alg }

// SetBlockSizes overrides the adaptive ladder's bounds before syncing any
// table.
func (e *Engine) SetBlockSizes(min, max int64) {
	e.minBlockSize = min
	e.maxBlockSize = max
}

// roundTripAck writes a command and expects a reply of the same verb,
// carrying the value the source echoed (possibly clamped, for negotiation
// verbs like PROTOCOL and HASH_ALGORITHM).
func (e *Engine) roundTripAck(verb wire.Verb, args ...wire.Value) (wire.Command, error) {
	if err := wire.WriteCommand(e.w, verb, args...); err != nil {
		return wire.Command{}, err
	}
	if err := e.w.Flush(); err != nil {
		return wire.Command{}, err
	}
	cmd, err := wire.ReadCommand(e.r)
	if err != nil {
		return wire.Command{}, err
	}
	if cmd.Verb != verb {
		return wire.Command{}, fmt.Errorf("target: expected %s reply, got %s", verb, cmd.Verb)
	}
	return cmd, nil
}

// Handshake negotiates the protocol version, taking the lower of the two
// ends' supported versions (spec.md section 4.8).
func (e *Engine) Handshake(ctx context.Context) error {
	cmd, err := e.roundTripAck(wire.VerbProtocol, wire.Uint(ProtocolVersion))
	if err != nil {
		return err
	}
	version, ok := cmd.Args[0].AsUint64()
	if !ok {
		return fmt.Errorf("target: malformed PROTOCOL reply")
	}
	e.protocolVersion = version
	return nil
}

// SendHashAlgorithm negotiates which row-hash algorithm both ends will use.
func (e *Engine) SendHashAlgorithm(ctx context.Context) error {
	cmd, err := e.roundTripAck(wire.VerbHashAlgorithm, wire.String(string(e.algorithm)))
	if err != nil {
		return err
	}
	name, ok := cmd.Args[0].AsBytes()
	if !ok {
		return fmt.Errorf("target: malformed HASH_ALGORITHM reply")
	}
	e.algorithm = rowhash.Algorithm(name)
	return nil
}

// SendTargetBlockSize tells the source the maximum block size this target
// wants to hash in one round trip, letting it size its own buffers.
func (e *Engine) SendTargetBlockSize(ctx context.Context) error {
	_, err := e.roundTripAck(wire.VerbTargetBlockSize, wire.Uint(uint64(e.maxBlockSize)))
	return err
}

// SendTypes tells the source which column types this target's driver
// understands, carried as a single nested array argument since
// wire.WriteCommand only supports scalar args.
func (e *Engine) SendTypes(types []string) error {
	if err := e.w.WriteArrayHeader(2); err != nil {
		return err
	}
	if err := e.w.WriteUint(uint64(wire.VerbTypes)); err != nil {
		return err
	}
	if err := e.w.WriteArrayHeader(len(types)); err != nil {
		return err
	}
	for _, t := range types {
		if err := e.w.WriteString(t); err != nil {
			return err
		}
	}
	return e.w.Flush()
}

// SendFilters delivers a table's parsed WHERE condition and column
// replacement expressions to the source (spec.md section 4.8's FILTERS
// verb), expecting no reply.
func (e *Engine) SendFilters(ctx context.Context, tableName string, filter driver.Filter) error {
	if err := e.w.WriteArrayHeader(2); err != nil {
		return err
	}
	if err := e.w.WriteUint(uint64(wire.VerbFilters)); err != nil {
		return err
	}
	if err := e.w.WriteArrayHeader(3); err != nil {
		return err
	}
	if err := e.w.WriteString(tableName); err != nil {
		return err
	}
	if err := e.w.WriteString(filter.Where); err != nil {
		return err
	}
	if err := e.w.WriteMapHeader(len(filter.ColumnExpressions)); err != nil {
		return err
	}
	for col, expr := range filter.ColumnExpressions {
		if err := e.w.WriteString(col); err != nil {
			return err
		}
		if err := e.w.WriteString(expr); err != nil {
			return err
		}
	}
	return e.w.Flush()
}

// ExportSnapshot, ImportSnapshot, UnholdSnapshot, and WithoutSnapshot
// implement scheduler.SnapshotCoordinator by driving the source through the
// matching wire verbs (spec.md section 4.6/4.8).
func (e *Engine) ExportSnapshot(ctx context.Context) (string, error) {
	cmd, err := e.roundTripAck(wire.VerbExportSnapshot)
	if err != nil {
		return "", err
	}
	if len(cmd.Args) == 0 {
		return "", fmt.Errorf("target: malformed EXPORT_SNAPSHOT reply")
	}
	token, ok := cmd.Args[0].AsBytes()
	if !ok {
		return "", fmt.Errorf("target: malformed EXPORT_SNAPSHOT token")
	}
	return string(token), nil
}

func (e *Engine) ImportSnapshot(ctx context.Context, token string) error {
	_, err := e.roundTripAck(wire.VerbImportSnapshot, wire.String(token))
	return err
}

func (e *Engine) UnholdSnapshot(ctx context.Context) error {
	_, err := e.roundTripAck(wire.VerbUnholdSnapshot)
	return err
}

func (e *Engine) WithoutSnapshot(ctx context.Context) error {
	_, err := e.roundTripAck(wire.VerbWithoutSnapshot)
	return err
}

// Quit sends the QUIT verb; no reply is expected, matching a connection
// teardown rather than a negotiated exchange.
func (e *Engine) Quit() error {
	if err := wire.WriteCommand(e.w, wire.VerbQuit); err != nil {
		return err
	}
	return e.w.Flush()
}

// sendIdle sends IDLE and waits for the source's IDLE echo, the liveness
// round trip a helper performs when it finds nothing to do (spec.md section
// 4.5's "Idle helpers pop a shareable job... or send IDLE if nothing to
// pop").
func (e *Engine) sendIdle() error {
	_, err := e.roundTripAck(wire.VerbIdle)
	return err
}

// FetchSchema requests and decodes every table definition the source
// knows about (spec.md section 4.8's SCHEMA verb).
func (e *Engine) FetchSchema(ctx context.Context) ([]*schema.Table, error) {
	if err := wire.WriteCommand(e.w, wire.VerbSchema); err != nil {
		return nil, err
	}
	if err := e.w.Flush(); err != nil {
		return nil, err
	}
	n, err := e.r.ReadArrayHeader()
	if err != nil {
		return nil, err
	}
	tables := make([]*schema.Table, n)
	for i := 0; i < n; i++ {
		t, err := schema.DecodeTable(e.r)
		if err != nil {
			return nil, err
		}
		tables[i] = t
	}
	return tables, nil
}

// sendRange requests the source's current first and last primary keys for
// a table (spec.md section 4.7's bootstrap step).
func (e *Engine) sendRange(tableID string) (first, last schema.Row, err error) {
	if err := wire.WriteCommand(e.w, wire.VerbRange, wire.String(tableID)); err != nil {
		return nil, nil, err
	}
	if err := e.w.Flush(); err != nil {
		return nil, nil, err
	}
	n, err := e.r.ReadArrayHeader()
	if err != nil {
		return nil, nil, err
	}
	if n != 2 {
		return nil, nil, fmt.Errorf("target: expected 2-element RANGE reply, got %d", n)
	}
	firstRow, err := e.r.ReadRow()
	if err != nil {
		return nil, nil, err
	}
	lastRow, err := e.r.ReadRow()
	if err != nil {
		return nil, nil, err
	}
	return schema.NilIfEmpty(firstRow), schema.NilIfEmpty(lastRow), nil
}

// sendHash requests a hash of up to rowsToHash rows starting just after
// prev, bounded above by last (spec.md section 4.7's HASH command).
func (e *Engine) sendHash(tableID string, prev, last schema.Row, rowsToHash int64) error {
	if err := e.w.WriteArrayHeader(5); err != nil {
		return err
	}
	if err := e.w.WriteUint(uint64(wire.VerbHash)); err != nil {
		return err
	}
	if err := e.w.WriteString(tableID); err != nil {
		return err
	}
	if err := e.w.WriteRow([]wire.Value(prev)); err != nil {
		return err
	}
	if err := e.w.WriteRow([]wire.Value(last)); err != nil {
		return err
	}
	return e.w.WriteUint(uint64(rowsToHash))
}

// hashResult is the decoded reply to a HASH command.
type hashResult struct {
	lastKeyActuallyHashed schema.Row
	rowsToHash            int64
	rowCount              int64
	digest                []byte
}

func (e *Engine) readHashResponse() (hashResult, error) {
	n, err := e.r.ReadArrayHeader()
	if err != nil {
		return hashResult{}, err
	}
	if n != 6 {
		return hashResult{}, fmt.Errorf("target: expected 6-element HASH reply, got %d", n)
	}
	if _, err := e.r.ReadValue(); err != nil { // table id, echoed
		return hashResult{}, err
	}
	if _, err := e.r.ReadRow(); err != nil { // prev key, echoed
		return hashResult{}, err
	}
	lastHashed, err := e.r.ReadRow()
	if err != nil {
		return hashResult{}, err
	}
	rowsToHashV, err := e.r.ReadValue()
	if err != nil {
		return hashResult{}, err
	}
	rowsToHash, ok := rowsToHashV.AsUint64()
	if !ok {
		return hashResult{}, fmt.Errorf("target: malformed HASH reply rows_to_hash")
	}
	rowCountV, err := e.r.ReadValue()
	if err != nil {
		return hashResult{}, err
	}
	rowCount, ok := rowCountV.AsUint64()
	if !ok {
		return hashResult{}, fmt.Errorf("target: malformed HASH reply row_count")
	}
	digestV, err := e.r.ReadValue()
	if err != nil {
		return hashResult{}, err
	}
	digest, ok := digestV.AsBytes()
	if !ok {
		return hashResult{}, fmt.Errorf("target: malformed HASH reply digest")
	}
	return hashResult{
		lastKeyActuallyHashed: schema.NilIfEmpty(lastHashed),
		rowsToHash:            int64(rowsToHash),
		rowCount:              int64(rowCount),
		digest:                digest,
	}, nil
}

// computeLocalHash hashes up to rowsToHash local rows in (prev, last], the
// target side of the same comparison the source computes for its matching
// HASH request. last must be the same bound the source was sent in
// send_hash_command (spec.md section 4.7), or the two ends hash different
// row sets whenever the range has fewer than rowsToHash rows left in it.
func (e *Engine) computeLocalHash(ctx context.Context, table *schema.Table, prev, last schema.Row, rowsToHash int64) (rowCount int64, size int, lastKey schema.Row, digest []byte, err error) {
	h, err := rowhash.New(e.algorithm, table)
	if err != nil {
		return 0, 0, nil, nil, err
	}
	err = e.conn.RetrieveRows(ctx, table, prev, last, int(rowsToHash), h.AddRow)
	if err != nil {
		return 0, 0, nil, nil, err
	}
	return int64(h.RowCount), h.Size, h.LastKey, h.Finish(), nil
}

// streamRows requests rows in (prev, last] and feeds each to onRow,
// terminating on the empty-row end-of-rows sentinel (spec.md section
// 4.1/4.8's ROWS verb).
func (e *Engine) streamRows(ctx context.Context, tableID string, prev, last schema.Row, onRow func(context.Context, schema.Row) error) error {
	if err := wire.WriteRowsHeader(e.w, wire.VerbRows, tableID, []wire.Value(prev), []wire.Value(last)); err != nil {
		return err
	}
	if err := e.w.Flush(); err != nil {
		return err
	}
	for {
		row, err := e.r.ReadRow()
		if err != nil {
			return err
		}
		if len(row) == 0 {
			return nil
		}
		if err := onRow(ctx, schema.Row(row)); err != nil {
			return err
		}
	}
}
