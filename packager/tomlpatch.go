// Copyright 2024 The Taskkernel Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package packager implements the §4.L toml-patch + image-layout
// tooling: merging board-specific TOML overlays into a base app
// descriptor configuration, and allocating non-overlapping memory
// ranges for the kernel and tasks it describes.
package packager

import "fmt"

// MergeTOML deep-merges patch into a copy of original, following
// original_source/build/toml-patch/src/lib.rs's merge_toml_tables
// semantics: matching scalar keys are replaced by the patch's value,
// matching array keys are extended (original elements first), matching
// table keys are merged recursively, and a type mismatch between the
// two documents' values for the same key is an error. original and
// patch are both the generic map[string]interface{} shape
// BurntSushi/toml decodes a document into.
//
// Unlike the original's toml_edit-based merge, this does not preserve
// source table ordering/formatting — BurntSushi/toml has no document-
// editing API, only decode-to-struct/map and encode-from-struct/map, so
// there is no position information to shift in the first place. The
// merged *values* match; the original's gap-insertion bookkeeping has
// no analog here.
func MergeTOML(original, patch map[string]interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(original))
	for k, v := range original {
		out[k] = v
	}
	for k, pv := range patch {
		ov, exists := out[k]
		if !exists {
			out[k] = pv
			continue
		}
		merged, err := mergeValue(k, ov, pv)
		if err != nil {
			return nil, err
		}
		out[k] = merged
	}
	return out, nil
}

func mergeValue(key string, orig, patch interface{}) (interface{}, error) {
	switch o := orig.(type) {
	case map[string]interface{}:
		p, ok := patch.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("packager: type mismatch for %q: table vs %T", key, patch)
		}
		return MergeTOML(o, p)
	case []interface{}:
		p, ok := patch.([]interface{})
		if !ok {
			return nil, fmt.Errorf("packager: type mismatch for %q: array vs %T", key, patch)
		}
		merged := make([]interface{}, 0, len(o)+len(p))
		merged = append(merged, o...)
		merged = append(merged, p...)
		return merged, nil
	default:
		if !sameScalarKind(orig, patch) {
			return nil, fmt.Errorf("packager: type mismatch for %q: %T vs %T", key, orig, patch)
		}
		return patch, nil
	}
}

// sameScalarKind reports whether a and b are the same concrete Go type
// as BurntSushi/toml decodes them (string, bool, int64, float64,
// time.Time), mirroring the original's toml_edit type_name() check for
// the leaf-value case.
func sameScalarKind(a, b interface{}) bool {
	switch a.(type) {
	case map[string]interface{}, []interface{}:
		return false
	}
	switch b.(type) {
	case map[string]interface{}, []interface{}:
		return false
	}
	return fmt.Sprintf("%T", a) == fmt.Sprintf("%T", b)
}
