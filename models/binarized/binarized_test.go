// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package binarized

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstants(t *testing.T) {
	assert.Equal(t, map[int]string{32: "uint32", 64: "uint64"}, DTypeNames)
	assert.Len(t, DTypeNames, 2)
	assert.Equal(t, "binarized_", PrefixBinarizedFile)
	assert.Equal(t, "-symbol.json", PostfixSymJSON)
	assert.Equal(t, "qactivation", PrefixQActivation)
	assert.Equal(t, "qconv", PrefixQConv)
	assert.Equal(t, "qdense", PrefixQDense)
	assert.Equal(t, "_weight", PrefixWeight)
	assert.Equal(t, []string{"nodes", "node_row_ptr", "attrs", "heads", "arg_nodes"},
		[]string{SymJSONNodes, SymJSONNodeRowPtr, SymJSONAttrs, SymJSONHeads, SymJSONArgNodes})
	assert.Equal(t, map[string]string{
		"Convolution":    "BinaryInferenceConvolution",
		"FullyConnected": "BinaryInferenceFullyConnected",
	}, BinaryLayerReplacements)
	assert.Equal(t, []string{"weight", "bias", "fwd"}, RetainedOpsPatternsInConvDense)
	assert.Equal(t, "_fwd", FwdOpPattern)
}

func TestStorageDType(t *testing.T) {
	name, dtype, err := StorageDType(32)
	require.NoError(t, err)
	assert.Equal(t, "uint32", name)
	assert.Equal(t, dtypes.Uint32, dtype)
	name, dtype, err = StorageDType(64)
	require.NoError(t, err)
	assert.Equal(t, "uint64", name)
	assert.Equal(t, dtypes.Uint64, dtype)
	for bits, name := range DTypeNames {
		_, dtype, err := StorageDType(bits)
		require.NoError(t, err)
		assert.Equal(t, bits, 8*int(dtype.Size()), name)
	}
	_, _, err = StorageDType(16)
	require.Error(t, err)
}

func TestNamePredicates(t *testing.T) {
	assert.True(t, IsQuantizedLayer("resnet_stage1_qconv0_weight"))
	assert.True(t, IsQuantizedLayer("qdense1_fwd"))
	assert.False(t, IsQuantizedLayer("conv0_weight"))
	assert.True(t, IsQuantizedActivation("qactivation3_fwd"))
	assert.True(t, IsWeight("qconv0_weight"))
	assert.False(t, IsWeight("qconv0_bias"))

	assert.True(t, IsRetainedInConvDense("qconv0_weight"))
	assert.True(t, IsRetainedInConvDense("qconv0_bias"))
	assert.True(t, IsRetainedInConvDense("qconv0_fwd"))
	assert.False(t, IsRetainedInConvDense("qconv0_det_sign"))
	assert.True(t, IsForwardOp("qdense0_fwd"))
	assert.False(t, IsForwardOp("qdense0_weight"))

	op, found := ReplacementOp("Convolution")
	assert.True(t, found)
	assert.Equal(t, "BinaryInferenceConvolution", op)
	_, found = ReplacementOp("Activation")
	assert.False(t, found)

	assert.Equal(t, filepath.Join("models", "binarized_resnet-0010.params"), BinarizedFileName(filepath.Join("models", "resnet-0010.params")))
	assert.Equal(t, "models/resnet-symbol.json", SymbolFileName("models/resnet"))
}

const testSymbol = `{
  "nodes": [
    {"op": "null", "name": "data", "inputs": []},
    {"op": "null", "name": "qconv0_weight", "attrs": {"kernel": "(3, 3)"}, "inputs": []},
    {"op": "det_sign", "name": "qconv0_det_sign", "inputs": [[1, 0, 0]]},
    {"op": "Convolution", "name": "qconv0_fwd", "attrs": {"kernel": "(3, 3)", "num_filter": "16"}, "inputs": [[0, 0, 0], [2, 0, 0]]},
    {"op": "QActivation", "name": "qactivation0_fwd", "inputs": [[3, 0, 0]]},
    {"op": "null", "name": "qdense0_weight", "inputs": []},
    {"op": "null", "name": "qdense0_bias", "inputs": []},
    {"op": "FullyConnected", "name": "qdense0_fwd", "inputs": [[4, 0, 0], [5, 0, 0], [6, 0, 0]]}
  ],
  "arg_nodes": [0, 1, 5, 6],
  "node_row_ptr": [0, 1, 2, 3, 4, 5, 6, 7, 8],
  "heads": [[7, 0, 0]],
  "attrs": {"mxnet_version": ["int", 10500]}
}`

func TestLoadSymbol(t *testing.T) {
	path := filepath.Join(t.TempDir(), SymbolFileName("model"))
	require.NoError(t, os.WriteFile(path, []byte(testSymbol), 0644))
	sym, err := LoadSymbol(path)
	require.NoError(t, err)
	require.Len(t, sym.Nodes, 8)
	assert.Equal(t, "Convolution", sym.Nodes[3].Op)
	assert.Equal(t, "16", sym.Nodes[3].Attrs["num_filter"])
	assert.Equal(t, [][]int{{0, 0, 0}, {2, 0, 0}}, sym.Nodes[3].Inputs)
	assert.Equal(t, []int{0, 1, 5, 6}, sym.ArgNodes)
	assert.Equal(t, [][]int{{7, 0, 0}}, sym.Heads)
	assert.Len(t, sym.NodeRowPtr, 9)
	assert.Contains(t, sym.Attrs, "mxnet_version")

	s := sym.Summarize()
	assert.Equal(t, 8, s.NumNodes)
	assert.Equal(t, 4, s.NumArgNodes)
	assert.Equal(t, 3, s.NumForwardOps)
	assert.Equal(t, 1, s.NumQuantizedActivations)
	assert.Equal(t, map[string]int{"Convolution": 1, "FullyConnected": 1}, s.Replaceable)
	assert.Equal(t, []string{"qconv0_weight", "qdense0_weight"}, s.QuantizedWeights)
	assert.Equal(t, []string{"qconv0_det_sign"}, s.Dropped)
	assert.Equal(t, map[string]int{"null": 3, "det_sign": 1, "Convolution": 1, "FullyConnected": 1}, s.QuantizedLayers)

	_, err = LoadSymbol(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestParseSymbolErrors(t *testing.T) {
	_, err := ParseSymbol([]byte(`not json`))
	require.Error(t, err)
	_, err = ParseSymbol([]byte(`{"nodes": [], "heads": []}`))
	require.ErrorContains(t, err, "arg_nodes")
	_, err = ParseSymbol([]byte(`{"nodes": [], "arg_nodes": [0], "heads": []}`))
	require.ErrorContains(t, err, "only 0 nodes")
	_, err = ParseSymbol([]byte(`{"nodes": "x", "arg_nodes": [], "heads": []}`))
	require.ErrorContains(t, err, "nodes")
	sym, err := ParseSymbol([]byte(`{"nodes": [], "arg_nodes": [], "heads": []}`))
	require.NoError(t, err)
	assert.Empty(t, sym.Nodes)
}
