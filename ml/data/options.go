// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package data

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gomlx/bmxtools/pkg/support/xslices"
	"github.com/gomlx/bmxtools/types/shapes"
	"github.com/pkg/errors"
)

// Options is a mapping of option names to values used to configure a record iterator.
//
// A nil value means the option is unset, and the iterator uses its default.
type Options map[string]any

// Clone returns a shallow copy of the options. Slice values are copied.
func (o Options) Clone() Options {
	o2 := make(Options, len(o))
	for key, value := range o {
		if dims, ok := value.([]int); ok {
			value = append([]int(nil), dims...)
		}
		o2[key] = value
	}
	return o2
}

// Update sets all values from other into o, overriding existing keys. It returns o.
func (o Options) Update(other Options) Options {
	for key, value := range other {
		if dims, ok := value.([]int); ok {
			value = append([]int(nil), dims...)
		}
		o[key] = value
	}
	return o
}

// IsSet returns whether the option key is present with a non-nil value.
func (o Options) IsSet(key string) bool {
	value, found := o[key]
	return found && value != nil
}

// String returns the options sorted by key, one per line.
func (o Options) String() string {
	var sb strings.Builder
	for _, key := range xslices.SortedKeys(o) {
		_, _ = fmt.Fprintf(&sb, "%s=%v\n", key, o[key])
	}
	return sb.String()
}

// Int returns the option as an int, or defaultValue if it is not set.
// Numeric values and numeric strings are accepted.
func (o Options) Int(key string, defaultValue int) (int, error) {
	if !o.IsSet(key) {
		return defaultValue, nil
	}
	switch v := o[key].(type) {
	case int:
		return v, nil
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case float64:
		if v != float64(int(v)) {
			return 0, errors.Errorf("option %q=%v is not an integer", key, v)
		}
		return int(v), nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, errors.Wrapf(err, "option %q=%q is not an integer", key, v)
		}
		return i, nil
	default:
		return 0, errors.Errorf("option %q has unsupported type %T for an integer", key, v)
	}
}

// Float returns the option as a float64, or defaultValue if it is not set.
func (o Options) Float(key string, defaultValue float64) (float64, error) {
	if !o.IsSet(key) {
		return defaultValue, nil
	}
	switch v := o[key].(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, errors.Wrapf(err, "option %q=%q is not a number", key, v)
		}
		return f, nil
	default:
		return 0, errors.Errorf("option %q has unsupported type %T for a number", key, v)
	}
}

// Bool returns the option as a bool, or defaultValue if it is not set.
func (o Options) Bool(key string, defaultValue bool) (bool, error) {
	if !o.IsSet(key) {
		return defaultValue, nil
	}
	switch v := o[key].(type) {
	case bool:
		return v, nil
	case int:
		return v != 0, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return false, errors.Wrapf(err, "option %q=%q is not a boolean", key, v)
		}
		return b, nil
	default:
		return false, errors.Errorf("option %q has unsupported type %T for a boolean", key, v)
	}
}

// Str returns the option as a string, or defaultValue if it is not set.
func (o Options) Str(key, defaultValue string) (string, error) {
	if !o.IsSet(key) {
		return defaultValue, nil
	}
	switch v := o[key].(type) {
	case string:
		return v, nil
	case fmt.Stringer:
		return v.String(), nil
	default:
		return "", errors.Errorf("option %q has unsupported type %T for a string", key, v)
	}
}

// Dimensions returns the option as a list of positive dimensions, or nil if it is not set.
// It accepts []int or a string like "3,32,32" or "(3, 32, 32)".
func (o Options) Dimensions(key string) ([]int, error) {
	if !o.IsSet(key) {
		return nil, nil
	}
	switch v := o[key].(type) {
	case []int:
		for _, dim := range v {
			if dim <= 0 {
				return nil, errors.Errorf("option %q=%v has a non-positive dimension", key, v)
			}
		}
		return append([]int(nil), v...), nil
	case []any:
		dims := make([]int, 0, len(v))
		for ii, e := range v {
			dim, err := Options{"d": e}.Int("d", 0)
			if err != nil || dim <= 0 {
				return nil, errors.Errorf("option %q has an invalid dimension #%d: %v", key, ii, e)
			}
			dims = append(dims, dim)
		}
		return dims, nil
	case string:
		dims, err := shapes.ParseDimensions(v)
		if err != nil {
			return nil, errors.WithMessagef(err, "option %q", key)
		}
		return dims, nil
	default:
		return nil, errors.Errorf("option %q has unsupported type %T for dimensions", key, v)
	}
}
