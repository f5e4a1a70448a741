// Copyright 2024 The scenestore Authors. All rights reserved.
// Use of this source code is governed by the MIT License
// that can be found in the LICENSE file.

package store

import (
	"fmt"
	"slices"
)

// addDeferredSpecs packs every pending time sample value grouped by
// ascending sample time, so a reader scrubbing through time touches
// contiguous bytes, then adds the deferred specs in the order they were
// added.
func (w *Writer) addDeferredSpecs() error {
	if len(w.deferred) == 0 {
		return nil
	}

	byTime := make(map[float64][]*any)
	for _, d := range w.deferred {
		for _, f := range d.pending {
			// pending samples were cloned by AddSpec, so packing in place
			// cannot disturb the caller's values
			ts := f.Value.(TimeSamples)
			for i, t := range ts.Times {
				byTime[t] = append(byTime[t], &ts.Values[i])
			}
		}
	}
	times := make([]float64, 0, len(byTime))
	for t := range byTime {
		times = append(times, t)
	}
	slices.Sort(times)

	for _, t := range times {
		for _, v := range byTime[t] {
			rep, err := w.pack(*v)
			if err != nil {
				return fmt.Errorf("sample at time %v: %w", t, err)
			}
			*v = packedValue(rep)
		}
	}

	for _, d := range w.deferred {
		fields := d.ordinary
		for _, f := range d.pending {
			idx, err := w.addField(f)
			if err != nil {
				return fmt.Errorf("field %q: %w", f.Name, err)
			}
			fields = append(fields, idx)
		}
		w.specs = append(w.specs, specEntry{path: d.path, fieldSet: w.addFieldSet(fields), kind: d.kind})
	}
	w.deferred = nil
	return nil
}
