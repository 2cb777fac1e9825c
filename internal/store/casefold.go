package store

import (
	"database/sql/driver"

	"golang.org/x/text/cases"
	"modernc.org/sqlite"
)

// casefold(x) gives SQL the same Unicode-aware comparison key the service
// uses, which the built-in lower() and NOCASE do not provide outside ASCII.
func init() {
	_ = sqlite.RegisterDeterministicScalarFunction("casefold", 1, casefoldFunc)
}

func casefoldFunc(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	switch v := args[0].(type) {
	case nil:
		return nil, nil
	case string:
		return Fold(v), nil
	case []byte:
		return Fold(string(v)), nil
	default:
		return v, nil
	}
}

// Fold returns the case-insensitive comparison key for s.
func Fold(s string) string {
	// A Caser keeps state, so each call gets its own.
	return cases.Fold().String(s)
}
