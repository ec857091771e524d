// Package source implements the source side of the Kitchen Sync protocol
// (spec.md section 4.8), grounded in
// _examples/original_source/src/sync_from_protocol.h's command dispatch
// loop. Engine reads one command frame at a time from a target connection
// and replies in place, never initiating a request of its own.
package source

import (
	"context"
	"fmt"
	"io"

	"github.com/willbryant/kitchen-sync/internal/driver"
	"github.com/willbryant/kitchen-sync/internal/klog"
	"github.com/willbryant/kitchen-sync/internal/rowhash"
	"github.com/willbryant/kitchen-sync/internal/schema"
	"github.com/willbryant/kitchen-sync/internal/wire"
)

// ProtocolVersion is this build's wire protocol version; see
// target.ProtocolVersion for the negotiation rule.
const ProtocolVersion = 1

// Engine serves one target connection: it owns the database connection DML
// reads are run through, and the negotiated/declared state that arrives
// over the wire before any table is synced.
type Engine struct {
	w    *wire.Writer
	r    *wire.Reader
	conn driver.Conn
	log  klog.Logger

	algorithm       rowhash.Algorithm
	protocolVersion uint64
	targetBlockSize uint64
	acceptedTypes   []string

	tables  map[string]*schema.Table
	filters map[string]driver.Filter
}

// New creates an Engine serving rw against conn.
func New(w *wire.Writer, r *wire.Reader, conn driver.Conn, log klog.Logger) *Engine {
	return &Engine{
		w:         w,
		r:         r,
		conn:      conn,
		log:       log,
		algorithm: rowhash.BLAKE3,
		tables:    make(map[string]*schema.Table),
		filters:   make(map[string]driver.Filter),
	}
}

// Serve reads and dispatches command frames until the target disconnects or
// sends QUIT. It returns nil on either clean ending.
func (e *Engine) Serve(ctx context.Context) error {
	for {
		n, err := e.r.ReadArrayHeader()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if n < 1 {
			return fmt.Errorf("source: command frame has no verb")
		}
		verbV, err := e.r.ReadValue()
		if err != nil {
			return err
		}
		verbNum, ok := verbV.AsUint64()
		if !ok {
			return fmt.Errorf("source: command verb is not an integer")
		}
		verb := wire.Verb(verbNum)
		remaining := n - 1

		if verb == wire.VerbQuit {
			return nil
		}

		if err := e.dispatch(ctx, verb, remaining); err != nil {
			return err
		}
		if err := e.w.Flush(); err != nil {
			return err
		}
	}
}

func (e *Engine) dispatch(ctx context.Context, verb wire.Verb, remaining int) error {
	switch verb {
	case wire.VerbProtocol:
		return e.handleProtocol(remaining)
	case wire.VerbHashAlgorithm:
		return e.handleHashAlgorithm(remaining)
	case wire.VerbTargetBlockSize:
		return e.handleTargetBlockSize(remaining)
	case wire.VerbTypes:
		return e.handleTypes(remaining)
	case wire.VerbFilters:
		return e.handleFilters(remaining)
	case wire.VerbExportSnapshot:
		return e.handleExportSnapshot(ctx, remaining)
	case wire.VerbImportSnapshot:
		return e.handleImportSnapshot(ctx, remaining)
	case wire.VerbUnholdSnapshot:
		return e.handleUnholdSnapshot(ctx, remaining)
	case wire.VerbWithoutSnapshot:
		return e.handleWithoutSnapshot(ctx, remaining)
	case wire.VerbSchema:
		return e.handleSchema(ctx, remaining)
	case wire.VerbRange:
		return e.handleRange(ctx, remaining)
	case wire.VerbHash:
		return e.handleHash(ctx, remaining)
	case wire.VerbRows:
		return e.handleRows(ctx, remaining)
	case wire.VerbIdle:
		return e.handleIdle(remaining)
	default:
		return fmt.Errorf("source: unsupported verb %s", verb)
	}
}

func (e *Engine) drainArgs(n int) error {
	for i := 0; i < n; i++ {
		if _, err := e.r.ReadValue(); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) handleProtocol(remaining int) error {
	theirsV, err := e.r.ReadValue()
	if err != nil {
		return err
	}
	if err := e.drainArgs(remaining - 1); err != nil {
		return err
	}
	theirs, ok := theirsV.AsUint64()
	if !ok {
		return fmt.Errorf("source: malformed PROTOCOL argument")
	}
	version := theirs
	if ProtocolVersion < version {
		version = ProtocolVersion
	}
	e.protocolVersion = version
	return wire.WriteCommand(e.w, wire.VerbProtocol, wire.Uint(version))
}

func (e *Engine) handleHashAlgorithm(remaining int) error {
	nameV, err := e.r.ReadValue()
	if err != nil {
		return err
	}
	if err := e.drainArgs(remaining - 1); err != nil {
		return err
	}
	name, ok := nameV.AsBytes()
	if !ok {
		return fmt.Errorf("source: malformed HASH_ALGORITHM argument")
	}
	e.algorithm = rowhash.Algorithm(name)
	return wire.WriteCommand(e.w, wire.VerbHashAlgorithm, wire.String(string(e.algorithm)))
}

func (e *Engine) handleTargetBlockSize(remaining int) error {
	sizeV, err := e.r.ReadValue()
	if err != nil {
		return err
	}
	if err := e.drainArgs(remaining - 1); err != nil {
		return err
	}
	size, ok := sizeV.AsUint64()
	if !ok {
		return fmt.Errorf("source: malformed TARGET_BLOCK_SIZE argument")
	}
	e.targetBlockSize = size
	return wire.WriteCommand(e.w, wire.VerbTargetBlockSize, wire.Uint(size))
}

// handleTypes reads the nested array of type names the target declares it
// understands; no reply is expected (spec.md section 4.8).
func (e *Engine) handleTypes(remaining int) error {
	n, err := e.r.ReadArrayHeader()
	if err != nil {
		return err
	}
	types := make([]string, n)
	for i := 0; i < n; i++ {
		v, err := e.r.ReadValue()
		if err != nil {
			return err
		}
		b, ok := v.AsBytes()
		if !ok {
			return fmt.Errorf("source: malformed TYPES entry")
		}
		types[i] = string(b)
	}
	e.acceptedTypes = types
	return e.drainArgs(remaining - 1)
}

// handleFilters reads a per-table WHERE condition and column replacement
// map and records it against the named table's driver connection, so every
// later RetrieveRows/CountRows/FirstKey/LastKey call against it is
// filtered. No reply is expected.
func (e *Engine) handleFilters(remaining int) error {
	m, err := e.r.ReadArrayHeader()
	if err != nil {
		return err
	}
	if m != 3 {
		return fmt.Errorf("source: expected 3-element FILTERS payload, got %d", m)
	}
	tableV, err := e.r.ReadValue()
	if err != nil {
		return err
	}
	tableName, ok := tableV.AsBytes()
	if !ok {
		return fmt.Errorf("source: malformed FILTERS table name")
	}
	whereV, err := e.r.ReadValue()
	if err != nil {
		return err
	}
	where, ok := whereV.AsBytes()
	if !ok {
		return fmt.Errorf("source: malformed FILTERS where clause")
	}
	mapLen, err := e.r.ReadMapHeader()
	if err != nil {
		return err
	}
	cols := make(map[string]string, mapLen)
	for i := 0; i < mapLen; i++ {
		colV, err := e.r.ReadValue()
		if err != nil {
			return err
		}
		exprV, err := e.r.ReadValue()
		if err != nil {
			return err
		}
		col, _ := colV.AsBytes()
		expr, _ := exprV.AsBytes()
		cols[string(col)] = string(expr)
	}
	if err := e.drainArgs(remaining - 1); err != nil {
		return err
	}

	filter := driver.Filter{Where: string(where), ColumnExpressions: cols}
	e.filters[string(tableName)] = filter
	if table, ok := e.tables[string(tableName)]; ok {
		e.conn.SetFilter(table, filter)
	}
	return nil
}

func (e *Engine) handleExportSnapshot(ctx context.Context, remaining int) error {
	if err := e.drainArgs(remaining); err != nil {
		return err
	}
	token, err := e.conn.ExportSnapshot(ctx)
	if err != nil {
		return err
	}
	return wire.WriteCommand(e.w, wire.VerbExportSnapshot, wire.String(token))
}

func (e *Engine) handleImportSnapshot(ctx context.Context, remaining int) error {
	tokenV, err := e.r.ReadValue()
	if err != nil {
		return err
	}
	if err := e.drainArgs(remaining - 1); err != nil {
		return err
	}
	token, ok := tokenV.AsBytes()
	if !ok {
		return fmt.Errorf("source: malformed IMPORT_SNAPSHOT token")
	}
	if err := e.conn.ImportSnapshot(ctx, string(token)); err != nil {
		return err
	}
	return wire.WriteCommand(e.w, wire.VerbImportSnapshot)
}

func (e *Engine) handleUnholdSnapshot(ctx context.Context, remaining int) error {
	if err := e.drainArgs(remaining); err != nil {
		return err
	}
	if err := e.conn.UnholdSnapshot(ctx); err != nil {
		return err
	}
	return wire.WriteCommand(e.w, wire.VerbUnholdSnapshot)
}

func (e *Engine) handleWithoutSnapshot(ctx context.Context, remaining int) error {
	if err := e.drainArgs(remaining); err != nil {
		return err
	}
	if err := e.conn.StartReadTransaction(ctx); err != nil {
		return err
	}
	return wire.WriteCommand(e.w, wire.VerbWithoutSnapshot)
}

func (e *Engine) handleIdle(remaining int) error {
	if err := e.drainArgs(remaining); err != nil {
		return err
	}
	return wire.WriteCommand(e.w, wire.VerbIdle)
}
