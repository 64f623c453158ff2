package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/viant/afs"

	"github.com/vogtb/go-sheetcalc/packages/document"
	"github.com/vogtb/go-sheetcalc/packages/spreadsheet"
)

// propertyHost registers every object a workbook's configuration tables
// refer to
func propertyHost(wb *document.Workbook) *spreadsheet.MemoryPropertyHost {
	host := spreadsheet.NewMemoryPropertyHost()
	for _, c := range wb.Configurations {
		if object, _, found := strings.Cut(c.Property, "."); found {
			host.AddObject(object)
		}
	}
	return host
}

// restore builds and recomputes the spreadsheet of a workbook
func restore(wb *document.Workbook, location string) (*spreadsheet.Spreadsheet, error) {
	s, err := document.Restore(wb,
		spreadsheet.WithLogger(logger.With("workbook", location)),
		spreadsheet.WithPropertyHost(propertyHost(wb)),
	)
	if err != nil {
		return nil, err
	}
	stats, err := s.Recompute()
	if err != nil {
		return nil, err
	}
	logger.Info("workbook evaluated",
		"workbook", location,
		"evaluated", stats.Evaluated,
		"errors", stats.Errors,
		"cycles", stats.Cycles,
		"duration", stats.Duration,
	)
	return s, nil
}

// openWorkbook loads a workbook and evaluates it
func openWorkbook(ctx context.Context, location string) (*document.Workbook, *spreadsheet.Spreadsheet, error) {
	wb, err := store.Load(ctx, location)
	if err != nil {
		return nil, nil, err
	}
	s, err := restore(wb, location)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", location, err)
	}
	return wb, s, nil
}

// openOrCreate is openWorkbook, starting an empty workbook when none exists
func openOrCreate(ctx context.Context, location string) (*document.Workbook, *spreadsheet.Spreadsheet, error) {
	wb, s, err := openWorkbook(ctx, location)
	if errors.Is(err, document.ErrNotFound) {
		logger.Info("creating workbook", "workbook", location)
		wb = document.New()
		s, err = restore(wb, location)
	}
	return wb, s, err
}

// saveWorkbook captures s and saves it under the identity of wb
func saveWorkbook(ctx context.Context, location string, wb *document.Workbook, s *spreadsheet.Spreadsheet) error {
	captured, err := document.Capture(s)
	if err != nil {
		return err
	}
	captured.ID = wb.ID
	return store.Save(ctx, location, captured)
}

// readInput reads a local path or URL, or stdin for "-"
func readInput(ctx context.Context, location string, stdin io.Reader) ([]byte, error) {
	if location == "-" {
		return io.ReadAll(stdin)
	}
	data, err := afs.New().DownloadWithURL(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", location, err)
	}
	return data, nil
}

// writeOutput writes to a local path or URL, or stdout for "-"
func writeOutput(ctx context.Context, location string, data []byte, stdout io.Writer) error {
	if location == "-" {
		_, err := stdout.Write(data)
		return err
	}
	if err := afs.New().Upload(ctx, location, os.FileMode(0o644), bytes.NewReader(data)); err != nil {
		return fmt.Errorf("writing %s: %w", location, err)
	}
	return nil
}
