package filter

import (
	"testing"

	"gotest.tools/v3/assert"
)

func TestParseTruthy(t *testing.T) {
	expr, err := Parse("owner")
	assert.NilError(t, err)
	assert.Assert(t, expr.Eval(map[string]interface{}{"owner": "platform"}))
	assert.Assert(t, !expr.Eval(map[string]interface{}{"owner": ""}))
	assert.Assert(t, !expr.Eval(map[string]interface{}{}))
}

func TestParseEquality(t *testing.T) {
	expr, err := Parse(`team == "platform"`)
	assert.NilError(t, err)
	assert.Assert(t, expr.Eval(map[string]interface{}{"team": "platform"}))
	assert.Assert(t, !expr.Eval(map[string]interface{}{"team": "web"}))
	assert.Assert(t, !expr.Eval(map[string]interface{}{}))
}

func TestParseInequality(t *testing.T) {
	expr, err := Parse(`team != "platform"`)
	assert.NilError(t, err)
	assert.Assert(t, !expr.Eval(map[string]interface{}{"team": "platform"}))
	assert.Assert(t, expr.Eval(map[string]interface{}{"team": "web"}))
	assert.Assert(t, expr.Eval(map[string]interface{}{}))
}

func TestParseAndOrNot(t *testing.T) {
	expr, err := Parse(`(team == "web" || team == "platform") && !deprecated`)
	assert.NilError(t, err)
	assert.Assert(t, expr.Eval(map[string]interface{}{"team": "web"}))
	assert.Assert(t, expr.Eval(map[string]interface{}{"team": "platform"}))
	assert.Assert(t, !expr.Eval(map[string]interface{}{"team": "infra"}))
	assert.Assert(t, !expr.Eval(map[string]interface{}{"team": "web", "deprecated": true}))
}

func TestParseDottedKey(t *testing.T) {
	expr, err := Parse(`owner.team == "platform"`)
	assert.NilError(t, err)
	meta := map[string]interface{}{
		"owner": map[string]interface{}{"team": "platform"},
	}
	assert.Assert(t, expr.Eval(meta))
	assert.Assert(t, !expr.Eval(map[string]interface{}{"owner": "not-a-map"}))
}

func TestParseTrailingGarbageFails(t *testing.T) {
	_, err := Parse("team == \"x\" )")
	assert.ErrorContains(t, err, "meta expression")
}

func TestParseUnterminatedQuoteFails(t *testing.T) {
	_, err := Parse(`team == "x`)
	assert.ErrorContains(t, err, "unterminated")
}

func TestParseMissingIdentifierFails(t *testing.T) {
	_, err := Parse("&& team")
	assert.ErrorContains(t, err, "expected identifier")
}
