package spreadsheet

import (
	"errors"
	"reflect"
	"testing"
)

type printRecorder struct {
	lines []string
}

func (p *printRecorder) printLn(line string) {
	p.lines = append(p.lines, line)
}

func TestRunnableSpreadsheetChain(t *testing.T) {
	out := &printRecorder{}
	s, err := NewRunnableSpreadsheet(out.printLn).
		AddWorksheet("Sheet1").
		Set("Sheet1.A1", 10).
		Set("Sheet1.A2", 32).
		Set("Sheet1.A3", "=SUM(A1:A2)").
		SetAlias("Sheet1.A3", "total").
		Set("Sheet1.B1", "=total/2").
		Run()
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	value, err := s.Get("Sheet1.B1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if value != 21.0 {
		t.Errorf("Sheet1.B1 = %v, want 21", value)
	}
}

func TestRunnableSpreadsheetStopsAtFirstError(t *testing.T) {
	out := &printRecorder{}
	r := NewRunnableSpreadsheet(out.printLn).
		AddWorksheet("Sheet1").
		Set("A1", 1).
		Set("Sheet1.A2", 2)

	if !errors.Is(r.Error(), ErrMalformedAddress) {
		t.Fatalf("Error() = %v, want a malformed address error", r.Error())
	}
	if value, _ := r.Spreadsheet().Get("Sheet1.A2"); value != nil {
		t.Errorf("Sheet1.A2 = %v, want nil since the chain stopped", value)
	}
	if _, err := r.Run(); err == nil {
		t.Error("Run succeeded after a failed step")
	}

	r.CheckError()
	if len(out.lines) != 1 || out.lines[0][:6] != "ERROR:" {
		t.Errorf("CheckError printed %q, want one ERROR line", out.lines)
	}

	r.Reset().Set("Sheet1.A2", 2).CheckError()
	if out.lines[len(out.lines)-1] != "No errors" {
		t.Errorf("CheckError printed %q after Reset, want %q", out.lines[len(out.lines)-1], "No errors")
	}
}

func TestRunnableSpreadsheetOnErrorAndThen(t *testing.T) {
	out := &printRecorder{}
	thenCalled := false
	r := NewRunnableSpreadsheet(out.printLn).
		AddWorksheet("Sheet1").
		AddWorksheet("Sheet1").
		Then(func(r *RunnableSpreadsheet) *RunnableSpreadsheet {
			thenCalled = true
			return r
		}).
		OnError(func(err error) error {
			if errors.Is(err, ErrAlreadyExists) {
				return nil
			}
			return err
		})

	if thenCalled {
		t.Error("Then ran after a failed step")
	}
	if r.Error() != nil {
		t.Fatalf("OnError did not clear the error: %v", r.Error())
	}

	r.Then(func(r *RunnableSpreadsheet) *RunnableSpreadsheet {
		thenCalled = true
		return r.Set("Sheet1.A1", 5)
	}).Recompute()
	if !thenCalled {
		t.Error("Then did not run on a clean chain")
	}
	if value := r.Value("Sheet1.A1"); value != 5.0 {
		t.Errorf("Sheet1.A1 = %v, want 5", value)
	}
}

func TestRunnableSpreadsheetMust(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Must did not panic on a failed chain")
		}
	}()
	NewRunnableSpreadsheet(func(string) {}).RemoveWorksheet("Nope").Must()
}

func TestRunnableSpreadsheetRunOrPanic(t *testing.T) {
	s := NewRunnableSpreadsheet(func(string) {}).
		WithWorksheet("Data").
		WithWorksheet("Data").
		Set("Data.A1", "=2^10").
		RunOrPanic()

	value, _ := s.Get("Data.A1")
	if value != 1024.0 {
		t.Errorf("Data.A1 = %v, want 1024", value)
	}
}

func TestRunnableSpreadsheetBatches(t *testing.T) {
	out := &printRecorder{}
	r := NewRunnableSpreadsheet(out.printLn).
		AddWorksheet("Sheet1").
		SetBatch(map[string]Primitive{
			"Sheet1.A1": 1,
			"Sheet1.A2": 2,
			"Sheet1.A3": "=A1+A2",
			"Sheet1.B1": "text",
		}).
		Recompute()

	_, values := r.GetBatch("Sheet1.A1", "Sheet1.A3", "Sheet1.B1")
	want := map[string]Primitive{"Sheet1.A1": 1.0, "Sheet1.A3": 3.0, "Sheet1.B1": "text"}
	if !reflect.DeepEqual(values, want) {
		t.Errorf("GetBatch = %v, want %v", values, want)
	}

	got := r.Values("Sheet1.A2", "Sheet1.C9")
	if !reflect.DeepEqual(got, []Primitive{2.0, nil}) {
		t.Errorf("Values = %v, want [2 <nil>]", got)
	}

	if _, values := r.GetBatch("Sheet1.A1", "bad"); values != nil || r.Error() == nil {
		t.Errorf("GetBatch with a bad address = %v, %v; want nil and an error", values, r.Error())
	}
	if r.Values("Sheet1.A1") != nil {
		t.Error("Values ran on a failed chain")
	}
}

func TestRunnableSpreadsheetForEachAndIf(t *testing.T) {
	out := &printRecorder{}
	var visited []string
	r := NewRunnableSpreadsheet(out.printLn).
		AddWorksheet("My Sheet").
		ForEach("My Sheet", 0, 1, 0, 1, func(address string, r *RunnableSpreadsheet) {
			visited = append(visited, address)
			r.Set(address, 1)
		}).
		If(false, func(r *RunnableSpreadsheet) *RunnableSpreadsheet {
			return r.Set("'My Sheet'.C1", "skipped")
		}).
		If(true, func(r *RunnableSpreadsheet) *RunnableSpreadsheet {
			return r.Set("'My Sheet'.C1", "=SUM(A1:B2)")
		}).
		Recompute()

	want := []string{"'My Sheet'.A1", "'My Sheet'.B1", "'My Sheet'.A2", "'My Sheet'.B2"}
	if !reflect.DeepEqual(visited, want) {
		t.Errorf("ForEach visited %v, want %v", visited, want)
	}
	if value := r.Value("'My Sheet'.C1"); value != 4.0 {
		t.Errorf("'My Sheet'.C1 = %v, want 4", value)
	}

	visited = nil
	r.ForEach("Missing", 0, 2, 0, 0, func(address string, r *RunnableSpreadsheet) {
		visited = append(visited, address)
		r.Set(address, 1)
	})
	if len(visited) != 1 {
		t.Errorf("ForEach kept going after an error: visited %v", visited)
	}
}

func TestRunnableSpreadsheetLog(t *testing.T) {
	out := &printRecorder{}
	NewRunnableSpreadsheet(out.printLn).
		AddWorksheet("Sheet1").
		Set("Sheet1.A1", 2.5).
		Set("Sheet1.A2", "=1/0").
		Set("Sheet1.A3", "=A1>1").
		Recompute().
		Log("Sheet1.A1").
		Log("Sheet1.A2").
		Log("Sheet1.A3").
		Log("Sheet1.A4")

	want := []string{
		"Sheet1.A1: 2.5",
		"Sheet1.A2: #DIV/0!",
		"Sheet1.A3: TRUE",
		"Sheet1.A4: <empty>",
	}
	if !reflect.DeepEqual(out.lines, want) {
		t.Errorf("Log printed %q, want %q", out.lines, want)
	}
}

func TestRunnableSpreadsheetStructure(t *testing.T) {
	r := NewRunnableSpreadsheet(func(string) {}).
		AddWorksheet("Sheet1").
		AddWorksheet("Other").
		Set("Sheet1.A1", 1).
		Set("Sheet1.A2", "=Other.A1+A1").
		Bind("Sheet1.C1", "Sheet1.A1", false).
		Merge("Sheet1.D1:E1").
		Split("Sheet1.D1:E1").
		RenameWorksheet("Other", "Inputs").
		Set("Inputs.A1", 5).
		Remove("Sheet1.A1").
		RemoveWorksheet("Inputs").
		Recompute()
	if err := r.Error(); err != nil {
		t.Fatalf("chain failed: %v", err)
	}

	value := r.Value("Sheet1.A2")
	if err, ok := value.(*SpreadsheetError); !ok || err.ErrorCode != ErrorCodeRef {
		t.Errorf("Sheet1.A2 = %v, want #REF!", value)
	}
	if value := r.Value("Sheet1.C1"); value != nil {
		t.Errorf("Sheet1.C1 = %v, want nil mirrored from the removed cell", value)
	}
}
