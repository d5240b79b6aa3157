package engine

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"querygate/internal/domain"
)

func TestParseQueryDotCall(t *testing.T) {
	op, err := ParseQuery(`db.orders.find({"status": "open"})`)
	require.NoError(t, err)

	assert.Equal(t, "orders", op.Collection)
	assert.Equal(t, "find", op.Method)
	require.Len(t, op.Args, 1)
	assert.Equal(t, map[string]any{"status": "open"}, op.Args[0])
	assert.Nil(t, op.RawCommand)
}

func TestParseQueryRelaxedJSONKeys(t *testing.T) {
	op, err := ParseQuery(`db.orders.find({status: "open"})`)
	require.NoError(t, err)

	require.Len(t, op.Args, 1)
	assert.Equal(t, map[string]any{"status": "open"}, op.Args[0])
}

func TestParseQuerySingleQuotedStrings(t *testing.T) {
	op, err := ParseQuery(`db.orders.find({status: 'open'})`)
	require.NoError(t, err)

	require.Len(t, op.Args, 1)
	assert.Equal(t, map[string]any{"status": "open"}, op.Args[0])
}

func TestParseQueryBracketCollection(t *testing.T) {
	for _, text := range []string{
		`db["user events"].countDocuments({})`,
		`db['user events'].countDocuments({})`,
	} {
		op, err := ParseQuery(text)
		require.NoError(t, err, text)
		assert.Equal(t, "user events", op.Collection)
		assert.Equal(t, "countDocuments", op.Method)
	}
}

func TestParseQueryDottedCollectionName(t *testing.T) {
	op, err := ParseQuery(`db.audit.log.find({})`)
	require.NoError(t, err)

	// The last dotted segment is the method; everything before it is the
	// namespaced collection.
	assert.Equal(t, "audit.log", op.Collection)
	assert.Equal(t, "find", op.Method)
}

func TestParseQueryMultiplePositionalArgs(t *testing.T) {
	op, err := ParseQuery(`db.users.updateOne({name: "ada"}, {"$set": {active: true}})`)
	require.NoError(t, err)

	assert.Equal(t, "updateOne", op.Method)
	require.Len(t, op.Args, 2)
	assert.Equal(t, map[string]any{"name": "ada"}, op.Args[0])
	assert.Equal(t, map[string]any{"$set": map[string]any{"active": true}}, op.Args[1])
}

func TestParseQueryNoArgs(t *testing.T) {
	op, err := ParseQuery(`db.sessions.drop()`)
	require.NoError(t, err)

	assert.Equal(t, "drop", op.Method)
	assert.Empty(t, op.Args)
}

func TestParseQueryTrailingSemicolonAndWhitespace(t *testing.T) {
	op, err := ParseQuery("  db.orders.find({}) ;\n")
	require.NoError(t, err)

	assert.Equal(t, "orders", op.Collection)
	assert.Equal(t, "find", op.Method)
}

func TestParseQueryRawCommand(t *testing.T) {
	op, err := ParseQuery(`{"ping": 1}`)
	require.NoError(t, err)

	assert.Empty(t, op.Collection)
	assert.Equal(t, map[string]any{"ping": float64(1)}, op.RawCommand)
}

func TestParseQueryRawCommandRelaxedKeys(t *testing.T) {
	op, err := ParseQuery(`{serverStatus: 1}`)
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"serverStatus": float64(1)}, op.RawCommand)
}

func TestParseQueryRejectsUnrecognizedSyntax(t *testing.T) {
	for _, text := range []string{
		"show collections",
		"use analytics",
		"db.orders.find({)", // unbalanced parens survive the regex, args fail
		"orders.find({})",
	} {
		_, err := ParseQuery(text)
		var verr *domain.ValidationError
		require.ErrorAs(t, err, &verr, text)
	}
}

func TestParseQueryRejectsEmpty(t *testing.T) {
	_, err := ParseQuery("   ")
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestParseQueryAggregatePipeline(t *testing.T) {
	op, err := ParseQuery(`db.orders.aggregate([{$match: {status: "open"}}, {$group: {_id: "$region", n: {$sum: 1}}}])`)
	require.NoError(t, err)

	assert.Equal(t, "aggregate", op.Method)
	require.Len(t, op.Args, 1)
	pipeline, ok := op.Args[0].([]any)
	require.True(t, ok)
	assert.Len(t, pipeline, 2)
}

func TestNormalizeRelaxedJSON(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{`{status: "open"}`, `{"status": "open"}`},
		{`{status: 'open'}`, `{"status": "open"}`},
		{`{"already": "strict"}`, `{"already": "strict"}`},
		{`{a: 1, b: true}`, `{"a": 1, "b": true}`},
		{`{$match: {x: null}}`, `{"$match": {"x": null}}`},
		{`{note: 'it\'s fine'}`, `{"note": "it's fine"}`},
		{`{note: 'say "hi"'}`, `{"note": "say \"hi\""}`},
		// Bare words outside key position, like literals, pass through.
		{`{a: true}`, `{"a": true}`},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, normalizeRelaxedJSON(tc.in), tc.in)
	}
}

func TestNormalizeRelaxedJSONLeavesStringContentAlone(t *testing.T) {
	in := `{"text": "keys like {inner: 1} stay intact"}`
	assert.Equal(t, in, normalizeRelaxedJSON(in))
}

func TestParseCallArgsMalformed(t *testing.T) {
	_, err := parseCallArgs(`{status: }`)
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.True(t, strings.Contains(verr.Error(), "malformed"), verr.Error())
}
