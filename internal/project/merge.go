package project

import "fmt"

// ListMode tags how a child config's list value combines with its
// parent's value along an extends chain.
type ListMode string

// MapMode tags how a child config's map value combines with its
// parent's value along an extends chain.
type MapMode string

const (
	ListReplace          ListMode = "replace"
	ListAppend           ListMode = "append"
	ListPrepend          ListMode = "prepend"
	ListPrependAndAppend ListMode = "prepend-and-append"

	MapReplace MapMode = "replace"
	MapMerge   MapMode = "merge"
)

// ErrUnknownMergeTag is returned when a config value is tagged with a
// mode this implementation does not recognize.
type ErrUnknownMergeTag struct {
	Tag string
}

func (e *ErrUnknownMergeTag) Error() string {
	return fmt.Sprintf("unknown merge tag %q", e.Tag)
}

// taggedNode is the wrapper shape a config author uses to request
// non-default merge behavior for a single field:
//
//	dependencies: {mode: append, value: [...]}
//	dependencies: {mode: prepend-and-append, prepend: [...], append: [...]}
//
// Every mode except prepend-and-append carries a single value;
// prepend-and-append carries two distinct lists, one for each end of
// the parent's list. A field left untagged gets the default for its
// kind: maps default to MapMerge (deep, recursive), lists default to
// ListReplace (the child wins outright): an untagged list behaves like
// a scalar, while nested object configuration (cache, meta, tasks) is
// far more often meant to layer than to be clobbered wholesale.
type taggedNode struct {
	Mode    string      `mapstructure:"mode"`
	Value   interface{} `mapstructure:"value"`
	Prepend interface{} `mapstructure:"prepend"`
	Append  interface{} `mapstructure:"append"`
}

func asTaggedNode(v interface{}) (taggedNode, bool) {
	m, ok := v.(map[string]interface{})
	if !ok {
		return taggedNode{}, false
	}
	modeRaw, hasMode := m["mode"]
	if !hasMode {
		return taggedNode{}, false
	}
	mode, ok := modeRaw.(string)
	if !ok {
		return taggedNode{}, false
	}
	value, hasValue := m["value"]
	prepend, hasPrepend := m["prepend"]
	appendV, hasAppend := m["append"]
	if !hasValue && !hasPrepend && !hasAppend {
		return taggedNode{}, false
	}
	return taggedNode{Mode: mode, Value: value, Prepend: prepend, Append: appendV}, true
}

// MergeConfig merges a child raw config over its parent's raw config
// along one link of an extends chain. Both maps are the generic,
// already-decoded (YAML/JSON/TOML-agnostic) representation of a project
// config; the result is the same shape, ready to be decoded (via
// mapstructure) into typed config structs or merged again with the next
// parent in the chain.
func MergeConfig(parent, child map[string]interface{}) (map[string]interface{}, error) {
	result := make(map[string]interface{}, len(parent)+len(child))
	for k, v := range parent {
		result[k] = v
	}
	for k, childVal := range child {
		parentVal, existed := result[k]
		if !existed {
			result[k] = childVal
			continue
		}
		merged, err := mergeValue(parentVal, childVal)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		result[k] = merged
	}
	return result, nil
}

func mergeValue(parentVal, childVal interface{}) (interface{}, error) {
	if tagged, ok := asTaggedNode(childVal); ok {
		return mergeTagged(parentVal, tagged)
	}

	switch cv := childVal.(type) {
	case map[string]interface{}:
		pv, ok := parentVal.(map[string]interface{})
		if !ok {
			return cv, nil
		}
		return mergeMaps(pv, cv, MapMerge)
	case []interface{}:
		_, ok := parentVal.([]interface{})
		if !ok {
			return cv, nil
		}
		return mergeLists(nil, cv, ListReplace), nil
	default:
		// scalar: child replaces parent
		return childVal, nil
	}
}

func mergeTagged(parentVal interface{}, tagged taggedNode) (interface{}, error) {
	switch tagged.Mode {
	case string(MapReplace):
		// "replace" is shared by MapReplace and ListReplace: for maps
		// and lists alike the tagged value wins verbatim.
		return tagged.Value, nil
	case string(MapMerge):
		pv, _ := parentVal.(map[string]interface{})
		cv, ok := tagged.Value.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("mode %q requires a map value", tagged.Mode)
		}
		return mergeMaps(pv, cv, MapMerge)
	case string(ListAppend), string(ListPrepend):
		pv, _ := parentVal.([]interface{})
		cv, ok := tagged.Value.([]interface{})
		if !ok {
			return nil, fmt.Errorf("mode %q requires a list value", tagged.Mode)
		}
		return mergeLists(pv, cv, ListMode(tagged.Mode)), nil
	case string(ListPrependAndAppend):
		if tagged.Value != nil {
			return nil, fmt.Errorf("mode %q takes prepend/append lists, not a value", tagged.Mode)
		}
		pre, ok := asListOrNil(tagged.Prepend)
		if !ok {
			return nil, fmt.Errorf("mode %q requires a list prepend value", tagged.Mode)
		}
		app, ok := asListOrNil(tagged.Append)
		if !ok {
			return nil, fmt.Errorf("mode %q requires a list append value", tagged.Mode)
		}
		pv, _ := parentVal.([]interface{})
		out := make([]interface{}, 0, len(pre)+len(pv)+len(app))
		out = append(out, pre...)
		out = append(out, pv...)
		out = append(out, app...)
		return out, nil
	default:
		return nil, &ErrUnknownMergeTag{Tag: tagged.Mode}
	}
}

// asListOrNil accepts an absent (nil) list as empty; any other
// non-list value is rejected.
func asListOrNil(v interface{}) ([]interface{}, bool) {
	if v == nil {
		return nil, true
	}
	l, ok := v.([]interface{})
	return l, ok
}

func mergeMaps(parent, child map[string]interface{}, mode MapMode) (map[string]interface{}, error) {
	if mode == MapReplace {
		return child, nil
	}
	result := make(map[string]interface{}, len(parent)+len(child))
	for k, v := range parent {
		result[k] = v
	}
	for k, cv := range child {
		pv, existed := result[k]
		if !existed {
			result[k] = cv
			continue
		}
		merged, err := mergeValue(pv, cv)
		if err != nil {
			return nil, err
		}
		result[k] = merged
	}
	return result, nil
}

func mergeLists(parent, child []interface{}, mode ListMode) []interface{} {
	switch mode {
	case ListAppend:
		return append(append([]interface{}{}, parent...), child...)
	case ListPrepend:
		return append(append([]interface{}{}, child...), parent...)
	case ListReplace:
		fallthrough
	default:
		return child
	}
}
