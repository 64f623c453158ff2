package spreadsheet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestColumnName(t *testing.T) {
	cases := map[uint32]string{
		0:     "A",
		25:    "Z",
		26:    "AA",
		51:    "AZ",
		52:    "BA",
		701:   "ZZ",
		702:   "AAA",
		16383: "XFD",
	}
	for col, want := range cases {
		assert.Equal(t, want, ColumnName(col), "column %d", col)
	}
}

func TestParseA1(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		cases := []struct {
			ref      string
			row, col uint32
		}{
			{"A1", 0, 0},
			{"b2", 1, 1},
			{"Z10", 9, 25},
			{"AA1", 0, 26},
			{"XFD1048576", 1048575, 16383},
		}
		for _, c := range cases {
			row, col, err := ParseA1(c.ref)
			require.NoError(t, err, c.ref)
			assert.Equal(t, c.row, row, c.ref)
			assert.Equal(t, c.col, col, c.ref)
			assert.True(t, IsA1(c.ref), c.ref)
		}
	})

	t.Run("invalid", func(t *testing.T) {
		for _, ref := range []string{"", "A", "1", "A0", "XFE1", "A1048577", "ABCD1", "A1B", "Sheet1", "1A"} {
			_, _, err := ParseA1(ref)
			assert.ErrorIs(t, err, ErrMalformedAddress, ref)
			assert.False(t, IsA1(ref), ref)
		}
	})

	t.Run("round trip", func(t *testing.T) {
		for _, pos := range [][2]uint32{{0, 0}, {41, 3}, {999, 999}, {MaxRows - 1, MaxColumns - 1}} {
			row, col, err := ParseA1(FormatA1(pos[0], pos[1]))
			require.NoError(t, err)
			assert.Equal(t, pos[0], row)
			assert.Equal(t, pos[1], col)
		}
	})
}

func TestParseA1Range(t *testing.T) {
	r, err := ParseA1Range("C3:A1")
	require.NoError(t, err)
	assert.Equal(t, RangeAddress{StartRow: 0, StartColumn: 0, EndRow: 2, EndColumn: 2}, r)
	assert.Equal(t, "A1:C3", r.A1())
	assert.Equal(t, 9, r.Size())
	assert.EqualValues(t, 3, r.Rows())
	assert.EqualValues(t, 3, r.Columns())

	single, err := ParseA1Range("B2")
	require.NoError(t, err)
	assert.True(t, single.IsSingleCell())
	assert.Equal(t, "B2", single.A1())

	_, err = ParseA1Range("A1:")
	assert.ErrorIs(t, err, ErrMalformedAddress)
}

func TestRangeIteration(t *testing.T) {
	r, err := ParseA1Range("A1:B2")
	require.NoError(t, err)

	var got []string
	for addr := range r.Cells() {
		got = append(got, addr.A1())
	}
	assert.Equal(t, []string{"A1", "B1", "A2", "B2"}, got)

	for i := 0; i < r.Size(); i++ {
		idx, ok := r.IndexOf(r.At(i))
		require.True(t, ok)
		assert.Equal(t, i, idx)
	}
	_, ok := r.IndexOf(CellAddress{Row: 5, Column: 5})
	assert.False(t, ok)
}

func TestRangeGeometry(t *testing.T) {
	a, _ := ParseA1Range("A1:B2")
	b, _ := ParseA1Range("B2:C3")
	c, _ := ParseA1Range("C1:D1")
	d, _ := ParseA1Range("E5:F6")

	assert.True(t, a.Intersects(b))
	assert.False(t, a.Intersects(c))
	assert.True(t, a.SameShape(d))
	assert.False(t, a.SameShape(c))
	assert.True(t, a.Contains(CellAddress{Row: 1, Column: 1}))
	assert.False(t, a.Contains(CellAddress{Row: 2, Column: 0}))

	other := a
	other.WorksheetID = 7
	assert.False(t, a.Intersects(other), "ranges on different worksheets never intersect")
}

func TestOffsetRange(t *testing.T) {
	r, _ := ParseA1Range("B2:C3")

	moved, err := OffsetRange(r, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, "C4:D5", moved.A1())

	back, err := OffsetRange(moved, -2, -1)
	require.NoError(t, err)
	assert.Equal(t, r, back)

	_, err = OffsetRange(r, -2, 0)
	assert.ErrorIs(t, err, ErrMalformedAddress)

	_, err = OffsetRange(r, 0, int(MaxColumns))
	assert.ErrorIs(t, err, ErrMalformedAddress)
}

func TestValidateAliasName(t *testing.T) {
	for _, name := range []string{"total", "_tmp", "rate2", "ABCD1", "débit", "Total_Price"} {
		normalized, err := ValidateAliasName(name)
		require.NoError(t, err, name)
		assert.Equal(t, NormalizeName(name), normalized)
	}

	for _, name := range []string{"", "2x", "A1", "xfd10", "XFE1", "A1048577", "true", "False", "a b", "a.b", "a-b"} {
		_, err := ValidateAliasName(name)
		assert.ErrorIs(t, err, ErrInvalidName, name)
	}
}

func TestNormalizeName(t *testing.T) {
	decomposed := "de\u0301bit"
	composed := "d\u00e9bit"
	assert.Equal(t, composed, NormalizeName(decomposed))
	assert.Equal(t, composed, NormalizeName(composed))
}

func TestValidateWorksheetName(t *testing.T) {
	name, err := ValidateWorksheetName("  My Sheet ")
	require.NoError(t, err)
	assert.Equal(t, "My Sheet", name)

	_, err = ValidateWorksheetName("   ")
	assert.ErrorIs(t, err, ErrInvalidName)

	_, err = ValidateWorksheetName("bad\tname")
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestQualify(t *testing.T) {
	assert.Equal(t, "Sheet1.A1", Qualify("Sheet1", "A1"))
	assert.Equal(t, "'My Sheet'.B2", Qualify("My Sheet", "B2"))
	assert.Equal(t, "'It''s'.C3", Qualify("It's", "C3"))
	assert.Equal(t, "'AB1'.A1", Qualify("AB1", "A1"))
	assert.Equal(t, "A1", Qualify("", "A1"))

	assert.Equal(t, "A1:B2", Unqualify("'My.Sheet'.A1:B2"))
	assert.Equal(t, "C3", Unqualify(Qualify("It's", "C3")))
	assert.Equal(t, "D4", Unqualify("D4"))
}
