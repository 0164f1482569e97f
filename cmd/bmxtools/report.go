// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/bmxtools/ml/data"
	"github.com/gomlx/bmxtools/ml/data/recordio"
	"github.com/gomlx/bmxtools/models/binarized"
	"github.com/gomlx/bmxtools/pkg/support/fsutil"
	"github.com/gomlx/bmxtools/pkg/support/xslices"
	"github.com/pkg/errors"
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)

	oddRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFF")).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#999")).
			PaddingLeft(1).PaddingRight(1)

	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)
)

func newPlainTable(withHeader bool) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if withHeader && row == lgtable.HeaderRow {
				return headerRowStyle
			}
			if row%2 == 0 {
				s = oddRowStyle
			} else {
				s = evenRowStyle
			}
			if col == 0 {
				s = s.Align(lipgloss.Right)
			} else {
				s = s.Align(lipgloss.Left)
			}
			return
		})
}

// optionsTable renders the options sorted by name.
func optionsTable(opts data.Options) string {
	table := newPlainTable(true).Headers("option", "value")
	for _, key := range xslices.SortedKeys(opts) {
		value := opts[key]
		if value == nil {
			table.Row(key, "(default)")
			continue
		}
		table.Row(key, fmt.Sprintf("%v", value))
	}
	return table.Render()
}

// inspect prints a summary of a RecordIO file, its first records, and optionally its per-channel statistics.
func inspect(path string, cfg data.AugmentConfig) error {
	path, err := fsutil.ReplaceTildeInDir(path)
	if err != nil {
		return err
	}
	info, err := os.Stat(path)
	if err != nil {
		return errors.Wrapf(err, "failed to inspect %q", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "failed to open %q", path)
	}
	defer func() { _ = f.Close() }()
	reader, err := recordio.NewReader(f)
	if err != nil {
		return err
	}
	records, numRecords, err := readRecords(reader, *flagMaxRecords)
	if err != nil {
		return err
	}

	fmt.Println(titleStyle.Render("RecordIO file"))
	summary := newPlainTable(false)
	summary.Row("file", path)
	summary.Row("size", humanize.IBytes(uint64(info.Size())))
	summary.Row("# records", humanize.Comma(int64(numRecords)))
	listingPath := strings.TrimSuffix(path, ".rec") + ".lst"
	if exists, _ := fsutil.FileExists(listingPath); exists {
		entries, err := recordio.ReadListing(listingPath)
		if err != nil {
			return err
		}
		summary.Row("listing", listingPath)
		summary.Row("# listed", humanize.Comma(int64(len(entries))))
	}
	fmt.Println(summary.Render())
	fmt.Println(recordsTable(records))

	if !*flagMean {
		return nil
	}
	opts := data.Options{
		"path_imgrec":        path,
		"data_shape":         cfg.DataShape,
		"batch_size":         cfg.BatchSize,
		"preprocess_threads": cfg.NumWorkers,
		"round_batch":        false,
	}
	it, err := recordio.NewImageRecordIter(opts)
	if err != nil {
		return err
	}
	if closer, ok := it.(io.Closer); ok {
		defer func() { _ = closer.Close() }()
	}
	stats, err := recordio.ComputeChannelStats(it, 0)
	if err != nil {
		return err
	}
	fmt.Println(titleStyle.Render("Channel statistics"))
	fmt.Println(statsTable(stats))
	return nil
}

// readRecords returns the first maxRecords image records, and the total number of records.
func readRecords(reader *recordio.Reader, maxRecords int) (records []*recordio.ImageRecord, numRecords int, err error) {
	for {
		payload, err := reader.Next()
		if err == io.EOF {
			return records, numRecords, nil
		}
		if err != nil {
			return nil, 0, err
		}
		numRecords++
		if len(records) >= maxRecords {
			continue
		}
		rec, err := recordio.UnpackImageRecord(payload)
		if err != nil {
			return nil, 0, errors.WithMessagef(err, "record #%d", numRecords-1)
		}
		records = append(records, rec)
	}
}

func recordsTable(records []*recordio.ImageRecord) string {
	table := newPlainTable(true).Headers("id", "labels", "image")
	for _, rec := range records {
		imageDesc := humanize.IBytes(uint64(len(rec.Image)))
		if img, err := rec.DecodeImage(); err == nil {
			imageDesc = fmt.Sprintf("%dx%d, %s", img.Bounds().Dx(), img.Bounds().Dy(), imageDesc)
		} else {
			imageDesc += " (undecodable)"
		}
		table.Row(fmt.Sprintf("%d", rec.Header.ID), fmt.Sprintf("%v", rec.Labels), imageDesc)
	}
	return table.Render()
}

func statsTable(stats *recordio.ChannelStats) string {
	table := newPlainTable(true).Headers("channel", "mean", "stddev")
	for c := range stats.Mean {
		table.Row(fmt.Sprintf("%d", c), fmt.Sprintf("%.3f", stats.Mean[c]), fmt.Sprintf("%.3f", stats.StdDev[c]))
	}
	table.Row("# examples", humanize.Comma(int64(stats.NumExamples)), "")
	return table.Render()
}

// summarizeSymbol prints what the conversion of the model would change.
func summarizeSymbol(path string) error {
	sym, err := binarized.LoadSymbol(path)
	if err != nil {
		return err
	}
	s := sym.Summarize()
	fmt.Println(titleStyle.Render("Symbol " + path))
	table := newPlainTable(false)
	table.Row("converted file", binarized.BinarizedFileName(path))
	table.Row("# nodes", humanize.Comma(int64(s.NumNodes)))
	table.Row("# arg nodes", humanize.Comma(int64(s.NumArgNodes)))
	table.Row("# forward ops", humanize.Comma(int64(s.NumForwardOps)))
	table.Row("# quantized activations", humanize.Comma(int64(s.NumQuantizedActivations)))
	for _, op := range xslices.SortedKeys(s.Replaceable) {
		replacement, _ := binarized.ReplacementOp(op)
		table.Row(fmt.Sprintf("%s -> %s", op, replacement), humanize.Comma(int64(s.Replaceable[op])))
	}
	table.Row("# weights to binarize", humanize.Comma(int64(len(s.QuantizedWeights))))
	table.Row("# dropped nodes", humanize.Comma(int64(len(s.Dropped))))
	fmt.Println(table.Render())
	return nil
}
