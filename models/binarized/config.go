// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package binarized holds the configuration used to convert trained models with quantized (binary)
// layers into models using the binary inference operators, and small helpers around it.
package binarized

import (
	"path/filepath"
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// DTypeNames maps the number of bits of the words used to store binarized weights to the name of their type.
var DTypeNames = map[int]string{
	32: "uint32",
	64: "uint64",
}

// Layer and file naming.
const (
	PrefixBinarizedFile = "binarized_"
	PostfixSymJSON      = "-symbol.json"
	PrefixQActivation   = "qactivation"
	PrefixQConv         = "qconv"
	PrefixQDense        = "qdense"
	PrefixWeight        = "_weight"
)

// Keys of the symbol JSON file.
const (
	SymJSONNodes      = "nodes"
	SymJSONNodeRowPtr = "node_row_ptr"
	SymJSONAttrs      = "attrs"
	SymJSONHeads      = "heads"
	SymJSONArgNodes   = "arg_nodes"
)

// Operators of the convolution and dense layers.
const (
	PrefixDense       = "FullyConnected"
	PrefixConvolution = "Convolution"
)

// BinaryLayerReplacements maps the operators of quantized layers to their binary inference counterparts.
var BinaryLayerReplacements = map[string]string{
	PrefixConvolution: "BinaryInferenceConvolution",
	PrefixDense:       "BinaryInferenceFullyConnected",
}

// RetainedOpsPatternsInConvDense are the patterns of the operators kept in quantized convolution and
// dense layers. All others are dropped.
var RetainedOpsPatternsInConvDense = []string{"weight", "bias", "fwd"}

// FwdOpPattern marks the forward operators, used to tell them apart from the argument nodes.
const FwdOpPattern = "_fwd"

// StorageDType returns the name and dtype of the words used to store binarized weights with the given number of bits.
func StorageDType(bits int) (name string, dtype dtypes.DType, err error) {
	name, found := DTypeNames[bits]
	if !found {
		return "", dtypes.InvalidDType, errors.Errorf("binarized weights can be stored in 32 or 64 bits, not %d", bits)
	}
	switch bits {
	case 32:
		dtype = dtypes.Uint32
	case 64:
		dtype = dtypes.Uint64
	}
	return name, dtype, nil
}

// IsQuantizedLayer returns whether the node name belongs to a quantized convolution or dense layer.
func IsQuantizedLayer(name string) bool {
	return strings.Contains(name, PrefixQConv) || strings.Contains(name, PrefixQDense)
}

// IsQuantizedActivation returns whether the node name belongs to a quantized activation.
func IsQuantizedActivation(name string) bool {
	return strings.Contains(name, PrefixQActivation)
}

// IsWeight returns whether the node name is the weight of a layer.
func IsWeight(name string) bool {
	return strings.HasSuffix(name, PrefixWeight)
}

// IsRetainedInConvDense returns whether an operator of a quantized convolution or dense layer is kept.
func IsRetainedInConvDense(name string) bool {
	for _, pattern := range RetainedOpsPatternsInConvDense {
		if strings.Contains(name, pattern) {
			return true
		}
	}
	return false
}

// IsForwardOp returns whether the node name is of a forward operator.
func IsForwardOp(name string) bool {
	return strings.Contains(name, FwdOpPattern)
}

// ReplacementOp returns the binary inference operator replacing op, if there is one.
func ReplacementOp(op string) (replacement string, found bool) {
	replacement, found = BinaryLayerReplacements[op]
	return
}

// BinarizedFileName returns the name of the converted file: PrefixBinarizedFile is prepended to the base name,
// and the directory is preserved.
func BinarizedFileName(path string) string {
	return filepath.Join(filepath.Dir(path), PrefixBinarizedFile+filepath.Base(path))
}

// SymbolFileName returns the symbol JSON file name for a model prefix.
func SymbolFileName(prefix string) string {
	return prefix + PostfixSymJSON
}
