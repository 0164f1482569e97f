// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package recordio

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/pkg/errors"
)

// ListEntry is one line of a ".lst" listing: `index<TAB>label...<TAB>path`.
type ListEntry struct {
	Index  uint64
	Labels []float32
	Path   string
}

// ReadListing reads a ".lst" listing file.
func ReadListing(path string) ([]ListEntry, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "recordio: failed to read listing %q", path)
	}
	entries, err := ParseListing(bytes.NewReader(contents))
	if err != nil {
		return nil, errors.WithMessagef(err, "listing %q", path)
	}
	return entries, nil
}

// ParseListing parses the lines of a ".lst" listing. All lines must have the same number of labels.
func ParseListing(r io.Reader) ([]ListEntry, error) {
	contents, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "recordio: failed to read listing")
	}
	if len(bytes.TrimSpace(contents)) == 0 {
		return nil, nil
	}
	df := dataframe.ReadCSV(bytes.NewReader(contents),
		dataframe.HasHeader(false),
		dataframe.DetectTypes(false),
		dataframe.DefaultType(series.String),
		dataframe.WithDelimiter('\t'),
		dataframe.WithLazyQuotes(true))
	if df.Err != nil {
		return nil, errors.Wrap(df.Err, "recordio: failed to parse listing")
	}
	if df.Ncol() < 3 {
		return nil, errors.Errorf("recordio: listing lines must have at least 3 tab separated columns (index, label, path), got %d",
			df.Ncol())
	}
	numLabels := df.Ncol() - 2
	entries := make([]ListEntry, df.Nrow())
	for row := range entries {
		entry := &entries[row]
		indexStr := strings.TrimSpace(df.Elem(row, 0).String())
		entry.Index, err = strconv.ParseUint(indexStr, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "recordio: listing line %d has an invalid index %q", row+1, indexStr)
		}
		entry.Labels = make([]float32, numLabels)
		for ii := range numLabels {
			labelStr := strings.TrimSpace(df.Elem(row, 1+ii).String())
			label, err := strconv.ParseFloat(labelStr, 32)
			if err != nil {
				return nil, errors.Wrapf(err, "recordio: listing line %d has an invalid label %q", row+1, labelStr)
			}
			entry.Labels[ii] = float32(label)
		}
		entry.Path = df.Elem(row, df.Ncol()-1).String()
	}
	return entries, nil
}

// WriteListing writes the entries in the ".lst" format.
func WriteListing(w io.Writer, entries []ListEntry) error {
	bw := bufio.NewWriter(w)
	for _, entry := range entries {
		_, _ = fmt.Fprintf(bw, "%d", entry.Index)
		for _, label := range entry.Labels {
			_, _ = fmt.Fprintf(bw, "\t%s", strconv.FormatFloat(float64(label), 'f', -1, 32))
		}
		_, _ = fmt.Fprintf(bw, "\t%s\n", entry.Path)
	}
	return errors.Wrap(bw.Flush(), "recordio: failed to write listing")
}
