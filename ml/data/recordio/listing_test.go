// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package recordio

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseListing(t *testing.T) {
	entries, err := ParseListing(strings.NewReader("0\t6.000000\tairplane/a.png\n1\t9\ttruck/b c.png\n"))
	require.NoError(t, err)
	require.Equal(t, []ListEntry{
		{Index: 0, Labels: []float32{6}, Path: "airplane/a.png"},
		{Index: 1, Labels: []float32{9}, Path: "truck/b c.png"},
	}, entries)

	entries, err = ParseListing(strings.NewReader("5\t1\t0.5\tx.jpg\n"))
	require.NoError(t, err)
	require.Equal(t, []ListEntry{{Index: 5, Labels: []float32{1, 0.5}, Path: "x.jpg"}}, entries)

	entries, err = ParseListing(strings.NewReader(""))
	require.NoError(t, err)
	require.Empty(t, entries)

	_, err = ParseListing(strings.NewReader("a\t1\tx.png\n"))
	require.ErrorContains(t, err, "invalid index")
	_, err = ParseListing(strings.NewReader("1\tcat\tx.png\n"))
	require.ErrorContains(t, err, "invalid label")
	_, err = ParseListing(strings.NewReader("1\tx.png\n"))
	require.Error(t, err)
}

func TestListingRoundTrip(t *testing.T) {
	entries := []ListEntry{
		{Index: 0, Labels: []float32{3}, Path: "cat/0001.png"},
		{Index: 10, Labels: []float32{0.25}, Path: "dog/0002.png"},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteListing(&buf, entries))
	assert.Equal(t, "0\t3\tcat/0001.png\n10\t0.25\tdog/0002.png\n", buf.String())

	path := filepath.Join(t.TempDir(), "train.lst")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
	got, err := ReadListing(path)
	require.NoError(t, err)
	assert.Equal(t, entries, got)

	_, err = ReadListing(filepath.Join(t.TempDir(), "missing.lst"))
	require.Error(t, err)
}
