// Copyright 2024 The scenestore Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package store

import (
	"encoding/binary"
	"fmt"
	"math"
	"slices"
)

// TimeSamples is a time-indexed series of values.  Samples built in memory
// set Times and Values directly.  Samples read from a store share their
// Times with every other field that has the same sample times, and read
// values lazily through ValueAt.
type TimeSamples struct {
	Times  []float64
	Values []any

	src          *Store
	rep          ValueRep
	valuesOffset int64
}

// Len returns the number of samples.
func (ts TimeSamples) Len() int {
	return len(ts.Times)
}

// FileBacked reports whether values are read lazily from a store.
func (ts TimeSamples) FileBacked() bool {
	return ts.src != nil
}

// ValueAt returns the i'th sample value.
func (ts TimeSamples) ValueAt(i int) (any, error) {
	if i < 0 || i >= len(ts.Times) {
		return nil, fmt.Errorf("sample %d out of range [0, %d)", i, len(ts.Times))
	}
	if ts.src == nil {
		return ts.Values[i], nil
	}
	b, err := ts.src.valueBytes(ts.valuesOffset+int64(i)*8, 8)
	if err != nil {
		return nil, err
	}
	return ts.src.Value(ValueRep(binary.LittleEndian.Uint64(b)))
}

// All reads every sample value.
func (ts TimeSamples) All() ([]any, error) {
	if ts.src == nil {
		return ts.Values, nil
	}
	out := make([]any, len(ts.Times))
	for i := range out {
		v, err := ts.ValueAt(i)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

type timeSample struct {
	Time  float64 `yaml:"time"`
	Value any     `yaml:"value"`
}

// MarshalYAML encodes the samples as a sequence of time/value pairs.
func (ts TimeSamples) MarshalYAML() (any, error) {
	values, err := ts.All()
	if err != nil {
		return nil, err
	}
	out := make([]timeSample, len(values))
	for i, v := range values {
		out[i] = timeSample{Time: ts.Times[i], Value: v}
	}
	return out, nil
}

// clone copies ts into memory so later changes by the caller, or a closed
// source store, cannot affect a pending write.
func (ts TimeSamples) clone() (TimeSamples, error) {
	values, err := ts.All()
	if err != nil {
		return TimeSamples{}, err
	}
	return TimeSamples{Times: slices.Clone(ts.Times), Values: slices.Clone(values)}, nil
}

func (ts TimeSamples) validate() error {
	if ts.src == nil && len(ts.Times) != len(ts.Values) {
		return fmt.Errorf("time samples have %d times but %d values", len(ts.Times), len(ts.Values))
	}
	for i, t := range ts.Times {
		if math.IsNaN(t) {
			return fmt.Errorf("time sample %d is NaN", i)
		}
		if i > 0 && !(ts.Times[i-1] < t) {
			return fmt.Errorf("sample times must be strictly increasing (%v then %v)", ts.Times[i-1], t)
		}
	}
	return nil
}
