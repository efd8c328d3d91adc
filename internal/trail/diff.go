package trail

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
)

// GenerateDiff compares the top-level keys of two snapshots. Nested values
// that differ produce one modification on the parent key. Values are
// compared by value, not identity. Results are ordered by field name.
func GenerateDiff(oldData, newData any) []FieldChange {
	before := fieldMap(oldData)
	after := fieldMap(newData)

	keys := make([]string, 0, len(before)+len(after))
	for k := range before {
		keys = append(keys, k)
	}
	for k := range after {
		if _, ok := before[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	changes := make([]FieldChange, 0)
	for _, k := range keys {
		oldValue, hadOld := before[k]
		newValue, hasNew := after[k]
		if hadOld && hasNew && reflect.DeepEqual(oldValue, newValue) {
			continue
		}
		change := FieldChange{Field: k, OldValue: oldValue, NewValue: newValue}
		switch {
		case !hadOld:
			change.ChangeType = ChangeAddition
			change.Diff = fmt.Sprintf("+ %v", newValue)
		case !hasNew:
			change.ChangeType = ChangeDeletion
			change.Diff = fmt.Sprintf("- %v", oldValue)
		default:
			change.ChangeType = ChangeModification
			change.Diff = fmt.Sprintf("- %v\n+ %v", oldValue, newValue)
		}
		changes = append(changes, change)
	}
	return changes
}

// fieldMap views a snapshot as a JSON object detached from the caller.
// Non-object values are reported under the "value" key.
func fieldMap(v any) map[string]any {
	if v == nil {
		return map[string]any{}
	}
	generic, err := detachValue(v)
	if err != nil {
		return map[string]any{"value": fmt.Sprint(v)}
	}
	if m, ok := generic.(map[string]any); ok {
		return m
	}
	return map[string]any{"value": generic}
}

// detachValue re-decodes v from its JSON form, numbers as json.Number, so
// the result shares no maps or slices with v and matches a reloaded event.
func detachValue(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// copyValue deep-copies a value produced by detachValue.
func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, x := range t {
			out[k] = copyValue(x)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = copyValue(x)
		}
		return out
	}
	return v
}
