package spreadsheet

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSpreadsheet(t *testing.T, opts ...Option) *Spreadsheet {
	t.Helper()
	s := NewSpreadsheet(opts...)
	require.NoError(t, s.AddWorksheet("Sheet1"))
	return s
}

func mustGet(t *testing.T, s *Spreadsheet, address string) Primitive {
	t.Helper()
	value, err := s.Get(address)
	require.NoError(t, err)
	return value
}

func errorCodeOf(value Primitive) ErrorCode {
	if err, ok := value.(*SpreadsheetError); ok {
		return err.ErrorCode
	}
	return 0
}

func TestRecomputeEvaluatesEachCellOnce(t *testing.T) {
	var calls atomic.Int32
	s := newTestSpreadsheet(t, WithFunction("TICK", func(args ...any) (Primitive, error) {
		calls.Add(1)
		return args[0], nil
	}))

	require.NoError(t, s.Set("Sheet1.A1", 1.0))
	require.NoError(t, s.Set("Sheet1.B1", "=TICK(A1)+1"))
	require.NoError(t, s.Set("Sheet1.C1", "=A1*2"))
	require.NoError(t, s.Set("Sheet1.D1", "=B1+C1"))

	stats, err := s.Recompute()
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Evaluated)
	assert.Equal(t, 0, stats.Errors)
	assert.Equal(t, 0, stats.Cycles)
	assert.EqualValues(t, 1, calls.Load())
	assert.Equal(t, 4.0, mustGet(t, s, "Sheet1.D1"))

	require.NoError(t, s.Set("Sheet1.A1", 2.0))
	stats, err = s.Recompute()
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Evaluated)
	assert.EqualValues(t, 2, calls.Load())
	assert.Equal(t, 7.0, mustGet(t, s, "Sheet1.D1"))

	stats, err = s.Recompute()
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Evaluated, "nothing is dirty")
}

func TestRecomputeOnlyTouchesReaders(t *testing.T) {
	s := newTestSpreadsheet(t)
	require.NoError(t, s.Set("Sheet1.A1", 1.0))
	require.NoError(t, s.Set("Sheet1.A2", 1.0))
	require.NoError(t, s.Set("Sheet1.B1", "=A1+1"))
	require.NoError(t, s.Set("Sheet1.B2", "=A2+1"))
	_, err := s.Recompute()
	require.NoError(t, err)

	require.NoError(t, s.Set("Sheet1.A1", 5.0))
	assert.Equal(t, 1, s.DirtyCount())

	stats, err := s.Recompute()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Evaluated)
	assert.Equal(t, 6.0, mustGet(t, s, "Sheet1.B1"))
	assert.Equal(t, 2.0, mustGet(t, s, "Sheet1.B2"))
	assert.Equal(t, 0, s.DirtyCount())
}

func TestRecomputeReportsErrorsAndCycles(t *testing.T) {
	s := newTestSpreadsheet(t)
	require.NoError(t, s.Set("Sheet1.A1", "=B1"))
	require.NoError(t, s.Set("Sheet1.B1", "=A1"))
	require.NoError(t, s.Set("Sheet1.C1", "=1/0"))

	stats, err := s.Recompute()
	require.NoError(t, err, "cycles and error values never fail a pass")
	assert.Equal(t, 1, stats.Cycles)
	assert.Equal(t, 3, stats.Errors)
	assert.Equal(t, ErrorCodeCircular, errorCodeOf(mustGet(t, s, "Sheet1.A1")))
	assert.Equal(t, ErrorCodeCircular, errorCodeOf(mustGet(t, s, "Sheet1.B1")))
	assert.Equal(t, ErrorCodeDiv0, errorCodeOf(mustGet(t, s, "Sheet1.C1")))

	info, err := s.CellInfo("Sheet1.A1")
	require.NoError(t, err)
	assert.Equal(t, CellError, info.State)

	// a later pass leaves the cycle alone until a member changes
	stats, err = s.Recompute()
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Evaluated)

	require.NoError(t, s.Set("Sheet1.B1", 3.0))
	_, err = s.Recompute()
	require.NoError(t, err)
	assert.Equal(t, 3.0, mustGet(t, s, "Sheet1.A1"))
}

func TestCycleReaderIsNotACycleMember(t *testing.T) {
	s := newTestSpreadsheet(t)
	require.NoError(t, s.Set("Sheet1.A1", "=B1"))
	require.NoError(t, s.Set("Sheet1.B1", "=A1"))
	require.NoError(t, s.Set("Sheet1.C1", "=A1+1"))
	require.NoError(t, s.Set("Sheet1.D1", 1.0))
	require.NoError(t, s.Set("Sheet1.E1", "=D1*10"))

	stats, err := s.Recompute()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Cycles)
	assert.Equal(t, ErrorCodeCircular, errorCodeOf(mustGet(t, s, "Sheet1.C1")))
	assert.Equal(t, 10.0, mustGet(t, s, "Sheet1.E1"))
}

func TestRecomputeBusy(t *testing.T) {
	var s *Spreadsheet
	var setErr, getErr error
	s = newTestSpreadsheet(t, WithFunction("REENTER", func(args ...any) (Primitive, error) {
		setErr = s.Set("Sheet1.Z1", 1.0)
		_, getErr = s.Get("Sheet1.Z1")
		return 1.0, nil
	}))

	require.NoError(t, s.Set("Sheet1.A1", "=REENTER()"))
	_, err := s.Recompute()
	require.NoError(t, err)

	assert.ErrorIs(t, setErr, ErrBusy)
	assert.ErrorIs(t, getErr, ErrBusy)

	var appErr *AppError
	require.ErrorAs(t, setErr, &appErr)
	assert.Equal(t, Aborted, appErr.Code)
	assert.Equal(t, 1.0, mustGet(t, s, "Sheet1.A1"))
	assert.Nil(t, mustGet(t, s, "Sheet1.Z1"))
}

func TestStaleValues(t *testing.T) {
	s := newTestSpreadsheet(t)
	require.NoError(t, s.Set("Sheet1.A1", 2.0))
	require.NoError(t, s.Set("Sheet1.B1", "=A1*3"))

	info, err := s.CellInfo("Sheet1.B1")
	require.NoError(t, err)
	assert.True(t, info.Stale)
	assert.Equal(t, CellDirty, info.State)
	assert.Nil(t, info.Value, "Get does not recompute")

	_, err = s.Recompute()
	require.NoError(t, err)

	info, err = s.CellInfo("Sheet1.B1")
	require.NoError(t, err)
	assert.False(t, info.Stale)
	assert.Equal(t, CellClean, info.State)
	assert.Equal(t, 6.0, info.Value)
	assert.Equal(t, ContentExpression, info.Kind)
	assert.Equal(t, "=A1*3", info.Content)

	require.NoError(t, s.Set("Sheet1.A1", 4.0))
	info, err = s.CellInfo("Sheet1.B1")
	require.NoError(t, err)
	assert.Equal(t, CellDirty, info.State)
	assert.Equal(t, 6.0, info.Value, "the previous value stays visible until the next pass")
}

func TestRecomputeAll(t *testing.T) {
	s := newTestSpreadsheet(t)
	require.NoError(t, s.Set("Sheet1.A1", 1.0))
	require.NoError(t, s.Set("Sheet1.B1", "=A1+1"))
	require.NoError(t, s.Set("Sheet1.B2", "=B1+1"))
	require.NoError(t, s.Set("Sheet1.C1", "=C2"))
	require.NoError(t, s.Set("Sheet1.C2", "=C1"))
	_, err := s.Recompute()
	require.NoError(t, err)

	stats, err := s.RecomputeAll()
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Evaluated)
	assert.Equal(t, 1, stats.Cycles, "known cycles are found again")
	assert.Equal(t, 3.0, mustGet(t, s, "Sheet1.B2"))
}

func TestTouch(t *testing.T) {
	var calls atomic.Int32
	s := newTestSpreadsheet(t, WithFunction("COUNTED", func(args ...any) (Primitive, error) {
		return float64(calls.Add(1)), nil
	}))
	require.NoError(t, s.Set("Sheet1.A1", "=COUNTED()"))
	require.NoError(t, s.Set("Sheet1.B1", "=A1*10"))
	_, err := s.Recompute()
	require.NoError(t, err)
	assert.Equal(t, 10.0, mustGet(t, s, "Sheet1.B1"))

	require.NoError(t, s.Touch("Sheet1.A1"))
	assert.Equal(t, 2, s.DirtyCount())
	_, err = s.Recompute()
	require.NoError(t, err)
	assert.Equal(t, 20.0, mustGet(t, s, "Sheet1.B1"))

	assert.ErrorIs(t, s.Touch("A1"), ErrMalformedAddress)
	assert.ErrorIs(t, s.Touch("Nope.A1"), ErrNotFound)
}

func TestEvaluate(t *testing.T) {
	s := newTestSpreadsheet(t)
	require.NoError(t, s.Set("Sheet1.A1", 4.0))
	require.NoError(t, s.Set("Sheet1.A2", 6.0))
	require.NoError(t, s.SetAlias("Sheet1.A2", "rate"))

	value, err := s.Evaluate("Sheet1", "SUM(A1:A2)*2")
	require.NoError(t, err)
	assert.Equal(t, 20.0, value)

	value, err = s.Evaluate("Sheet1", "=rate/A1")
	require.NoError(t, err)
	assert.Equal(t, 1.5, value)

	value, err = s.Evaluate("Sheet1", "A1:A2")
	require.NoError(t, err)
	assert.Equal(t, ErrorCodeValue, errorCodeOf(value))

	_, err = s.Evaluate("Sheet1", "1+")
	assert.ErrorIs(t, err, ErrSyntax)

	_, err = s.Evaluate("Nope", "1")
	assert.ErrorIs(t, err, ErrNotFound)

	content, err := s.Content("Sheet1.B1")
	require.NoError(t, err)
	assert.Empty(t, content, "Evaluate stores nothing")
}

func TestRegisterFunction(t *testing.T) {
	s := newTestSpreadsheet(t)
	require.NoError(t, s.Set("Sheet1.A1", "=DOUBLE(21)"))
	_, err := s.Recompute()
	require.NoError(t, err)
	assert.Equal(t, ErrorCodeName, errorCodeOf(mustGet(t, s, "Sheet1.A1")))

	require.NoError(t, s.RegisterFunction("double", func(args ...any) (Primitive, error) {
		if len(args) != 1 {
			return nil, NewSpreadsheetError(ErrorCodeNA, "DOUBLE takes one argument")
		}
		num, ok := args[0].(float64)
		if !ok {
			return nil, NewSpreadsheetError(ErrorCodeValue, "DOUBLE takes a number")
		}
		return num * 2, nil
	}))
	assert.Equal(t, 1, s.DirtyCount())

	_, err = s.Recompute()
	require.NoError(t, err)
	assert.Equal(t, 42.0, mustGet(t, s, "Sheet1.A1"))

	require.NoError(t, s.Set("Sheet1.A2", "=DOUBLE(1, 2)"))
	_, err = s.Recompute()
	require.NoError(t, err)
	assert.Equal(t, ErrorCodeNA, errorCodeOf(mustGet(t, s, "Sheet1.A2")))

	fn := func(args ...any) (Primitive, error) { return nil, nil }
	assert.ErrorIs(t, s.RegisterFunction("SUM", fn), ErrAlreadyExists)
	assert.ErrorIs(t, s.RegisterFunction("two words", fn), ErrInvalidName)
	assert.Error(t, s.RegisterFunction("NOTHING", nil))
}

func TestCustomFunctionsSeeRanges(t *testing.T) {
	s := newTestSpreadsheet(t, WithFunction("CELLS", func(args ...any) (Primitive, error) {
		r, ok := args[0].(Range)
		if !ok {
			return nil, NewSpreadsheetError(ErrorCodeValue, "CELLS takes a range")
		}
		return float64(r.GetBounds().Size()), nil
	}))
	require.NoError(t, s.Set("Sheet1.A1", "=CELLS(B1:C4)"))
	_, err := s.Recompute()
	require.NoError(t, err)
	assert.Equal(t, 8.0, mustGet(t, s, "Sheet1.A1"))
}
