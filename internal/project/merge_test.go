package project

import (
	"reflect"
	"testing"
)

func TestMergeConfigScalarChildReplacesParent(t *testing.T) {
	parent := map[string]interface{}{"name": "base"}
	child := map[string]interface{}{"name": "app"}

	merged, err := MergeConfig(parent, child)
	if err != nil {
		t.Fatal(err)
	}
	if merged["name"] != "app" {
		t.Errorf("expected child scalar to win, got %v", merged["name"])
	}
}

func TestMergeConfigMapsDeepMergeByDefault(t *testing.T) {
	parent := map[string]interface{}{
		"env": map[string]interface{}{"A": "1", "B": "2"},
	}
	child := map[string]interface{}{
		"env": map[string]interface{}{"B": "override", "C": "3"},
	}

	merged, err := MergeConfig(parent, child)
	if err != nil {
		t.Fatal(err)
	}
	env := merged["env"].(map[string]interface{})
	want := map[string]interface{}{"A": "1", "B": "override", "C": "3"}
	if !reflect.DeepEqual(env, want) {
		t.Errorf("expected %#v, got %#v", want, env)
	}
}

func TestMergeConfigListsReplaceByDefault(t *testing.T) {
	parent := map[string]interface{}{
		"dependencies": []interface{}{"a", "b"},
	}
	child := map[string]interface{}{
		"dependencies": []interface{}{"c"},
	}

	merged, err := MergeConfig(parent, child)
	if err != nil {
		t.Fatal(err)
	}
	deps := merged["dependencies"].([]interface{})
	if len(deps) != 1 || deps[0] != "c" {
		t.Errorf("expected child's list to replace the parent's by default, got %v", deps)
	}
}

func TestMergeConfigTaggedListAppend(t *testing.T) {
	parent := map[string]interface{}{
		"dependencies": []interface{}{"a", "b"},
	}
	child := map[string]interface{}{
		"dependencies": map[string]interface{}{
			"mode":  "append",
			"value": []interface{}{"c"},
		},
	}

	merged, err := MergeConfig(parent, child)
	if err != nil {
		t.Fatal(err)
	}
	deps := merged["dependencies"].([]interface{})
	want := []interface{}{"a", "b", "c"}
	if !reflect.DeepEqual(deps, want) {
		t.Errorf("expected %v, got %v", want, deps)
	}
}

func TestMergeConfigTaggedListPrepend(t *testing.T) {
	parent := map[string]interface{}{
		"dependencies": []interface{}{"a", "b"},
	}
	child := map[string]interface{}{
		"dependencies": map[string]interface{}{
			"mode":  "prepend",
			"value": []interface{}{"c"},
		},
	}

	merged, err := MergeConfig(parent, child)
	if err != nil {
		t.Fatal(err)
	}
	deps := merged["dependencies"].([]interface{})
	want := []interface{}{"c", "a", "b"}
	if !reflect.DeepEqual(deps, want) {
		t.Errorf("expected %v, got %v", want, deps)
	}
}

func TestMergeConfigTaggedListPrependAndAppend(t *testing.T) {
	parent := map[string]interface{}{
		"dependencies": []interface{}{"a", "b"},
	}
	child := map[string]interface{}{
		"dependencies": map[string]interface{}{
			"mode":    "prepend-and-append",
			"prepend": []interface{}{"pre"},
			"append":  []interface{}{"post"},
		},
	}

	merged, err := MergeConfig(parent, child)
	if err != nil {
		t.Fatal(err)
	}
	deps := merged["dependencies"].([]interface{})
	want := []interface{}{"pre", "a", "b", "post"}
	if !reflect.DeepEqual(deps, want) {
		t.Errorf("expected %v, got %v", want, deps)
	}
}

func TestMergeConfigTaggedListPrependAndAppendHalves(t *testing.T) {
	parent := map[string]interface{}{
		"dependencies": []interface{}{"a"},
	}
	child := map[string]interface{}{
		"dependencies": map[string]interface{}{
			"mode":   "prepend-and-append",
			"append": []interface{}{"post"},
		},
	}

	merged, err := MergeConfig(parent, child)
	if err != nil {
		t.Fatal(err)
	}
	deps := merged["dependencies"].([]interface{})
	want := []interface{}{"a", "post"}
	if !reflect.DeepEqual(deps, want) {
		t.Errorf("expected an absent prepend half to merge as empty, got %v", deps)
	}
}

func TestMergeConfigTaggedListPrependAndAppendRejectsValue(t *testing.T) {
	parent := map[string]interface{}{
		"dependencies": []interface{}{"a"},
	}
	child := map[string]interface{}{
		"dependencies": map[string]interface{}{
			"mode":  "prepend-and-append",
			"value": []interface{}{"b"},
		},
	}

	_, err := MergeConfig(parent, child)
	if err == nil {
		t.Fatal("expected a value field under prepend-and-append to be rejected")
	}
}

func TestMergeConfigTaggedMapReplace(t *testing.T) {
	parent := map[string]interface{}{
		"env": map[string]interface{}{"A": "1", "B": "2"},
	}
	child := map[string]interface{}{
		"env": map[string]interface{}{
			"mode":  "replace",
			"value": map[string]interface{}{"C": "3"},
		},
	}

	merged, err := MergeConfig(parent, child)
	if err != nil {
		t.Fatal(err)
	}
	env := merged["env"].(map[string]interface{})
	want := map[string]interface{}{"C": "3"}
	if !reflect.DeepEqual(env, want) {
		t.Errorf("expected the parent's map to be fully replaced, got %v", env)
	}
}

func TestMergeConfigUnknownTagIsRejected(t *testing.T) {
	parent := map[string]interface{}{
		"dependencies": []interface{}{"a"},
	}
	child := map[string]interface{}{
		"dependencies": map[string]interface{}{
			"mode":  "bogus",
			"value": []interface{}{"b"},
		},
	}

	_, err := MergeConfig(parent, child)
	if err == nil {
		t.Fatal("expected an unknown merge tag to be rejected")
	}
	var tagErr *ErrUnknownMergeTag
	if !asErrUnknownMergeTag(err, &tagErr) {
		t.Errorf("expected an error wrapping *ErrUnknownMergeTag, got %v", err)
	}
}

func asErrUnknownMergeTag(err error, target **ErrUnknownMergeTag) bool {
	for err != nil {
		if e, ok := err.(*ErrUnknownMergeTag); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func TestMergeConfigFieldAbsentFromParentIsAdded(t *testing.T) {
	parent := map[string]interface{}{}
	child := map[string]interface{}{"meta": map[string]interface{}{"team": "platform"}}

	merged, err := MergeConfig(parent, child)
	if err != nil {
		t.Fatal(err)
	}
	meta := merged["meta"].(map[string]interface{})
	if meta["team"] != "platform" {
		t.Errorf("expected meta to be added wholesale, got %v", meta)
	}
}
