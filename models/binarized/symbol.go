// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package binarized

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
)

// Node of a symbol graph.
type Node struct {
	Op     string            `json:"op"`
	Name   string            `json:"name"`
	Attrs  map[string]string `json:"attrs,omitempty"`
	Inputs [][]int           `json:"inputs"`
}

// Symbol is the graph stored in a symbol JSON file.
type Symbol struct {
	Nodes      []Node
	ArgNodes   []int
	NodeRowPtr []int
	Heads      [][]int
	Attrs      map[string]any
}

// LoadSymbol reads and parses a symbol JSON file.
func LoadSymbol(path string) (*Symbol, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read symbol file %q", path)
	}
	sym, err := ParseSymbol(contents)
	if err != nil {
		return nil, errors.WithMessagef(err, "symbol file %q", path)
	}
	return sym, nil
}

// ParseSymbol parses the contents of a symbol JSON file. The keys "nodes", "arg_nodes" and "heads" are
// required, "node_row_ptr" and "attrs" are optional.
func ParseSymbol(contents []byte) (*Symbol, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(contents, &fields); err != nil {
		return nil, errors.Wrap(err, "failed to parse symbol JSON")
	}
	sym := &Symbol{}
	for _, field := range []struct {
		key      string
		target   any
		required bool
	}{
		{SymJSONNodes, &sym.Nodes, true},
		{SymJSONArgNodes, &sym.ArgNodes, true},
		{SymJSONHeads, &sym.Heads, true},
		{SymJSONNodeRowPtr, &sym.NodeRowPtr, false},
		{SymJSONAttrs, &sym.Attrs, false},
	} {
		raw, found := fields[field.key]
		if !found {
			if field.required {
				return nil, errors.Errorf("symbol JSON is missing the key %q", field.key)
			}
			continue
		}
		if err := json.Unmarshal(raw, field.target); err != nil {
			return nil, errors.Wrapf(err, "failed to parse symbol JSON key %q", field.key)
		}
	}
	for _, idx := range sym.ArgNodes {
		if idx < 0 || idx >= len(sym.Nodes) {
			return nil, errors.Errorf("symbol JSON %q has index %d, but there are only %d nodes",
				SymJSONArgNodes, idx, len(sym.Nodes))
		}
	}
	return sym, nil
}

// Summary of the nodes of a symbol relevant to the conversion.
type Summary struct {
	NumNodes, NumArgNodes, NumForwardOps int

	// QuantizedLayers counts nodes of quantized convolution and dense layers, by operator.
	QuantizedLayers map[string]int

	// Replaceable counts the operators that would be replaced by binary inference operators.
	Replaceable map[string]int

	// QuantizedWeights lists the weights of quantized layers, which would be binarized.
	QuantizedWeights []string

	// Dropped lists the nodes of quantized layers that are not retained.
	Dropped []string

	NumQuantizedActivations int
}

// Summarize the nodes of the symbol relevant to the conversion.
func (sym *Symbol) Summarize() *Summary {
	s := &Summary{
		NumNodes:        len(sym.Nodes),
		NumArgNodes:     len(sym.ArgNodes),
		QuantizedLayers: make(map[string]int),
		Replaceable:     make(map[string]int),
	}
	for _, node := range sym.Nodes {
		if IsForwardOp(node.Name) {
			s.NumForwardOps++
		}
		if IsQuantizedActivation(node.Name) {
			s.NumQuantizedActivations++
		}
		if !IsQuantizedLayer(node.Name) {
			continue
		}
		s.QuantizedLayers[node.Op]++
		if _, found := ReplacementOp(node.Op); found {
			s.Replaceable[node.Op]++
		}
		if IsWeight(node.Name) {
			s.QuantizedWeights = append(s.QuantizedWeights, node.Name)
		}
		if !IsRetainedInConvDense(node.Name) {
			s.Dropped = append(s.Dropped, node.Name)
		}
	}
	return s
}
