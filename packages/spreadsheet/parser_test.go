package spreadsheet

import (
	"errors"
	"testing"
)

func parseFormula(formula string) bool {
	_, err := ParseExpression(formula)
	return err == nil
}

func TestParserBasicFormulas(t *testing.T) {
	validFormulas := []string{
		"=1+2",
		"=A1",
		"=a1",
		"=SUM(A1:A10)",
		"=Sheet2.A1",
		"=Sheet2.A1:B2",
		"=SUM(Sheet2.A1:A10)",
		"=SUM(Sheet2.A1:Sheet2.B10)",
		"=Sheet2.A1 + Sheet3.B1",
		"='My Data'.A1",
		"='It''s'.A1",
		"=SUM(B2:A1)",
		"=SUM(A1:A1)",
		"=SUM(A1:Z1000)",
		"=SUM(first:last)",
		"=total*rate",
		"=Data.total",
		"=Pump.Mode",
		"=-2^2",
		"=1++2",
		"=!TRUE",
		"=1<>2 || 1!=2 && 3==3",
		"=10%3",
		`="a"&"b"`,
		"=IF(A1>0, \"yes\", \"no\")",
		"=PI()",
		"=1.5e3",
		`="Hello 世界"`,
		`="Test 😀 emoji"`,
		`=CONCATENATE("Hello ", "世界")`,
		"=#REF!",
		"=#ref!+1",
		"=IF(A1, #N/A, #DIV/0!)",
	}

	for _, formula := range validFormulas {
		t.Run(formula, func(t *testing.T) {
			if !parseFormula(formula) {
				_, err := ParseExpression(formula)
				t.Errorf("Failed to parse valid formula: %s: %v", formula, err)
			}
		})
	}
}

func TestParserInvalidFormulas(t *testing.T) {
	invalidFormulas := []string{
		"",
		"1+2",
		"=#FOO!",
		"=#REF!A1",
		"=",
		"=SUM(",
		"=SUM(1,)",
		"=A1:",
		`="hello`,
		"=(1+2",
		"=1+2)",
		"=50%",
		"=1+",
		"=*2",
		"='My Data'",
		"=Sheet1.A1:Sheet2.B2",
		"=Sheet1.",
	}

	for _, formula := range invalidFormulas {
		t.Run(formula, func(t *testing.T) {
			if parseFormula(formula) {
				t.Errorf("Expected formula to fail but it succeeded: %s", formula)
			}
		})
	}
}

func TestParserSyntaxErrors(t *testing.T) {
	testCases := []struct {
		formula string
		pos     int
	}{
		{"1+2", 0},
		{`="hello`, 1},
	}

	for _, tc := range testCases {
		t.Run(tc.formula, func(t *testing.T) {
			_, err := ParseExpression(tc.formula)
			if !errors.Is(err, ErrSyntax) {
				t.Fatalf("ParseExpression(%q) error = %v, want a syntax error", tc.formula, err)
			}
			var appErr *AppError
			if !errors.As(err, &appErr) {
				t.Fatalf("ParseExpression(%q) error is %T, want *AppError", tc.formula, err)
			}
			if appErr.Pos != tc.pos {
				t.Errorf("ParseExpression(%q) error position = %d, want %d", tc.formula, appErr.Pos, tc.pos)
			}
			if appErr.Code != InvalidArgument {
				t.Errorf("ParseExpression(%q) error code = %v, want %v", tc.formula, appErr.Code, InvalidArgument)
			}
		})
	}
}

func TestParserToString(t *testing.T) {
	testCases := []struct {
		formula  string
		expected string
	}{
		{"=1+2*3", "(1+(2*3))"},
		{"=(1+2)*3", "((1+2)*3)"},
		{"=2^3^2", "(2^(3^2))"},
		{"=-2^2", "(-2^2)"},
		{"=1-2-3", "((1-2)-3)"},
		{"=1.5", "1.5"},
		{`="a""b"`, `"a""b"`},
		{`="n="&1+2`, `("n="&(1+2))`},
		{"=sum(A1:B2, 3)", "SUM(A1:B2,3)"},
		{"=Sheet2.A1", "Sheet2.A1"},
		{"='My Data'.B2", "'My Data'.B2"},
		{"=Data.A1:A3", "Data.A1:A3"},
		{"=first:last", "first:last"},
		{"=Pump.Mode", "Pump.Mode"},
		{"=!TRUE", "!TRUE"},
		{"=1!=2", "(1<>2)"},
		{"=1==2", "(1=2)"},
		{"=TRUE||FALSE&&TRUE", "(TRUE||(FALSE&&TRUE))"},
		{"=1<2=TRUE", "((1<2)=TRUE)"},
	}

	for _, tc := range testCases {
		t.Run(tc.formula, func(t *testing.T) {
			node, err := ParseExpression(tc.formula)
			if err != nil {
				t.Fatalf("ParseExpression(%q) failed: %v", tc.formula, err)
			}
			if got := node.ToString(); got != tc.expected {
				t.Errorf("ParseExpression(%q).ToString() = %q, want %q", tc.formula, got, tc.expected)
			}
		})
	}
}

func TestParserFunctionNames(t *testing.T) {
	node, err := ParseExpression("=average(1, 2)")
	if err != nil {
		t.Fatalf("ParseExpression failed: %v", err)
	}
	call, ok := node.(*FunctionCallNode)
	if !ok {
		t.Fatalf("got %T, want *FunctionCallNode", node)
	}
	if call.Name != "AVERAGE" {
		t.Errorf("function name = %q, want AVERAGE", call.Name)
	}
	if len(call.Args) != 2 {
		t.Errorf("got %d arguments, want 2", len(call.Args))
	}
}

func TestParseReference(t *testing.T) {
	t.Run("Cell", func(t *testing.T) {
		node, err := ParseReference("Sheet1.B3")
		if err != nil {
			t.Fatalf("ParseReference failed: %v", err)
		}
		cell, ok := node.(*CellRefNode)
		if !ok {
			t.Fatalf("got %T, want *CellRefNode", node)
		}
		if cell.Sheet != "Sheet1" || cell.Row != 2 || cell.Col != 1 {
			t.Errorf("got %+v, want Sheet1 row 2 column 1", cell)
		}
	})

	t.Run("QuotedRange", func(t *testing.T) {
		node, err := ParseReference("'My sheet'.B2:C4")
		if err != nil {
			t.Fatalf("ParseReference failed: %v", err)
		}
		r, ok := node.(*RangeNode)
		if !ok {
			t.Fatalf("got %T, want *RangeNode", node)
		}
		if r.Sheet != "My sheet" {
			t.Errorf("sheet = %q, want %q", r.Sheet, "My sheet")
		}
		if r.Start.String() != "B2" || r.End.String() != "C4" {
			t.Errorf("range = %s:%s, want B2:C4", r.Start, r.End)
		}
	})

	t.Run("Alias", func(t *testing.T) {
		node, err := ParseReference("Sheet1.total")
		if err != nil {
			t.Fatalf("ParseReference failed: %v", err)
		}
		name, ok := node.(*NameNode)
		if !ok {
			t.Fatalf("got %T, want *NameNode", node)
		}
		if name.Sheet != "Sheet1" || name.Name != "total" {
			t.Errorf("got %+v, want Sheet1.total", name)
		}
	})

	t.Run("Unqualified", func(t *testing.T) {
		node, err := ParseReference("total")
		if err != nil {
			t.Fatalf("ParseReference failed: %v", err)
		}
		if name, ok := node.(*NameNode); !ok || name.Sheet != "" {
			t.Errorf("got %#v, want an unqualified name", node)
		}
	})

	for _, input := range []string{"", "Sheet1.", "=A1", "A1 B1", "Sheet1.A1:", "1+2"} {
		t.Run("Invalid "+input, func(t *testing.T) {
			if _, err := ParseReference(input); err == nil {
				t.Errorf("ParseReference(%q) succeeded, want an error", input)
			}
		})
	}
}
