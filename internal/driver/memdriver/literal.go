package memdriver

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/willbryant/kitchen-sync/internal/schema"
	"github.com/willbryant/kitchen-sync/internal/wire"
)

// unescapeLiteral turns a SQL string literal produced by Conn.EscapeValue
// ('it''s') back into its raw text, or returns isNull=true for the bare NULL
// keyword.
func unescapeLiteral(tok string) (text string, isNull bool) {
	tok = strings.TrimSpace(tok)
	if strings.EqualFold(tok, "NULL") {
		return "", true
	}
	inner := strings.TrimPrefix(strings.TrimSuffix(tok, "'"), "'")
	return strings.ReplaceAll(inner, "''", "'"), false
}

// literalToValue converts one parsed SQL literal token into the wire.Value
// shape column expects, the inverse of Applier's value-to-literal
// formatting.
func literalToValue(tok string, column schema.Column) (wire.Value, error) {
	text, isNull := unescapeLiteral(tok)
	if isNull {
		return wire.Nil(), nil
	}
	switch column.Type {
	case schema.ColumnTypeSignedInt:
		n, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return wire.Value{}, fmt.Errorf("memdriver: bad signed int literal %q: %w", tok, err)
		}
		return wire.Int(n), nil
	case schema.ColumnTypeUnsignedInt:
		n, err := strconv.ParseUint(text, 10, 64)
		if err != nil {
			return wire.Value{}, fmt.Errorf("memdriver: bad unsigned int literal %q: %w", tok, err)
		}
		return wire.Uint(n), nil
	case schema.ColumnTypeFloat:
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return wire.Value{}, fmt.Errorf("memdriver: bad float literal %q: %w", tok, err)
		}
		return wire.Float64(f), nil
	case schema.ColumnTypeBoolean:
		return wire.Bool(text == "1" || strings.EqualFold(text, "true")), nil
	case schema.ColumnTypeBinary:
		return wire.Bytes([]byte(text)), nil
	default: // String, UUID
		return wire.String(text), nil
	}
}
