package dialect

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConditions(t *testing.T) {
	d := postgres(t)
	sub := d.Select().Fields("s1").From("t1")

	tests := []struct {
		name string
		tree any
		want string
	}{
		{"equality", M("field1", "value", "field2", 10), `"field1" = 'value' AND "field2" = 10`},
		{"field equality", M("field1", Name("field2")), `"field1" = "field2"`},
		{
			"explicit equality between fields",
			[]any{
				M("=", []any{Name("field1"), Name("field2")}),
				M("=", []any{Name("field3"), Name("field4")}),
			},
			`"field1" = "field2" AND "field3" = "field4"`,
		},
		{
			"comparison",
			[]any{
				M(">", []any{Name("field"), 10}),
				M("<=", []any{Name("field"), 15}),
			},
			`"field" > 10 AND "field" <= 15`,
		},
		{"between", M(":between", []any{Name("score"), []int{90, 100}}), `"score" BETWEEN 90 AND 100`},
		{"not between", M(":not between", []any{Name("score"), []int{90, 100}}), `"score" NOT BETWEEN 90 AND 100`},
		{"in short syntax", M("score", []int{1, 2, 3, 4, 5}), `"score" IN (1, 2, 3, 4, 5)`},
		{"in", M(":in", []any{Name("score"), []int{1, 2, 3, 4, 5}}), `"score" IN (1, 2, 3, 4, 5)`},
		{"not in", M(":not in", []any{Name("score"), []int{1, 2, 3, 4, 5}}), `"score" NOT IN (1, 2, 3, 4, 5)`},
		{"empty in", M("score", []int{}), `1=0`},
		{"empty not in", M(":not in", []any{Name("score"), []any{}}), `1=1`},
		{
			"any with plain subquery",
			M(":any", []any{Name("score"), Plain(`SELECT "s1" FROM "t1"`)}),
			`"score" ANY (SELECT "s1" FROM "t1")`,
		},
		{
			"any with statement",
			M(":any", []any{Name("score"), Plain(sub)}),
			`"score" ANY (SELECT "s1" FROM "t1")`,
		},
		{
			"function",
			M(":concat()", []any{Name("table.firstname"), Value(" "), Name("table.lastname")}),
			`CONCAT("table"."firstname", ' ', "table"."lastname")`,
		},
		{"alternative between", M("score", M(":between", []int{90, 100})), `"score" BETWEEN 90 AND 100`},
		{"alternative comparison", M("age", M(">=", 18, "<", 65)), `"age" >= 18 AND "age" < 65`},
		{"null", M("deleted_at", nil), `"deleted_at" IS NULL`},
		{"is not null", M("<>", []any{Name("deleted_at"), nil}), `"deleted_at" IS NOT NULL`},
		{"boolean", []any{true}, `TRUE`},
		{"quote escaping", M("title", "it's"), `"title" = 'it''s'`},
		{"like", M("title", M(":like", "%cat%")), `"title" LIKE '%cat%'`},
		{
			"or",
			M(":or", M("a", 1, "b", 2)),
			`("a" = 1 OR "b" = 2)`,
		},
		{
			"or inside and",
			[]any{M("active", true), M(":or", []any{M("a", 1), M("b", []int{2, 3})})},
			`"active" = TRUE AND ("a" = 1 OR "b" IN (2, 3))`,
		},
		{"not", M(":not", M("a", 1)), `NOT ("a" = 1)`},
		{"exists", M(":exists", sub), `EXISTS (SELECT "s1" FROM "t1")`},
		{"in subquery", M("id", sub), `"id" IN (SELECT "s1" FROM "t1")`},
		{
			"time literal",
			M("created_at", M(">", time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))),
			`"created_at" > '2024-01-02T03:04:05Z'`,
		},
		{"sorted go map", map[string]any{"b": 2, "a": 1}, `"a" = 1 AND "b" = 2`},
		{"empty", nil, ``},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := d.Conditions(tt.tree)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			again, err := d.Conditions(tt.tree)
			require.NoError(t, err)
			assert.Equal(t, got, again)
		})
	}
}

func TestConditionsMalformed(t *testing.T) {
	d := postgres(t)

	tests := []struct {
		name string
		tree any
	}{
		{"unknown operator", M(":frobnicate", []any{Name("a"), 1})},
		{"wrong arity", M("=", []any{Name("a")})},
		{"between without bounds", M(":between", []any{Name("a"), 1})},
		{"unknown key under field", M("a", M("b", 1))},
		{"empty mapping under field", []any{M("a", 1), M("b", M())}},
		{"empty object under field", M("b", map[string]any{})},
		{"scalar tree", "a = 1"},
		{"unsupported literal", M("a", struct{}{})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.Conditions(tt.tree)
			assert.ErrorIs(t, err, ErrMalformedCondition)
		})
	}
}

func TestConditionErrorCarriesFragment(t *testing.T) {
	d := postgres(t)

	_, err := d.Conditions(M("a", 1, ":nope", 2))
	var ce *ConditionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, M(":nope", 2), ce.Fragment)
	assert.Contains(t, err.Error(), ":nope")
}

func TestPrefix(t *testing.T) {
	d := postgres(t)

	t.Run("field keys", func(t *testing.T) {
		got, err := d.Conditions(d.Prefix(M("field1", "value", "field2", 10), "prefix"))
		require.NoError(t, err)
		assert.Equal(t, `"prefix"."field1" = 'value' AND "prefix"."field2" = 10`, got)
	})

	t.Run("nested names", func(t *testing.T) {
		tree := []any{
			M("=", []any{Name("field1"), Name("field2")}),
			M("=", []any{Name("field3"), Name("field4")}),
		}
		got, err := d.Conditions(d.Prefix(tree, "prefix"))
		require.NoError(t, err)
		assert.Equal(t, `"prefix"."field1" = "prefix"."field2" AND "prefix"."field3" = "prefix"."field4"`, got)
	})

	t.Run("leaves values and qualified names alone", func(t *testing.T) {
		tree := M("other.id", 1, "title", Value("title"), "body", Plain("NULL"))
		got, err := d.Conditions(d.Prefix(tree, "p"))
		require.NoError(t, err)
		assert.Equal(t, `"other"."id" = 1 AND "p"."title" = 'title' AND "p"."body" = NULL`, got)
	})

	t.Run("input is not mutated", func(t *testing.T) {
		tree := M("a", 1, ":or", []any{M("b", 2), M("=", []any{Name("c"), 3})})
		_ = d.Prefix(tree, "p")
		assert.Equal(t, M("a", 1, ":or", []any{M("b", 2), M("=", []any{Name("c"), 3})}), tree)
	})
}

func TestQueryParameters(t *testing.T) {
	tests := []struct {
		dialect string
		want    string
	}{
		{Postgres, `SELECT * FROM "image" WHERE "gallery_id" IN ($1, $2) AND "title" = $3`},
		{SQLite, `SELECT * FROM "image" WHERE "gallery_id" IN (?1, ?2) AND "title" = ?3`},
		{MySQL, "SELECT * FROM `image` WHERE `gallery_id` IN (?, ?) AND `title` = ?"},
	}
	for _, tt := range tests {
		t.Run(tt.dialect, func(t *testing.T) {
			d, err := New(tt.dialect)
			require.NoError(t, err)

			sql, args, err := d.Select().From("image").Where(M("gallery_id", []int{1, 2}, "title", "x")).Query()
			require.NoError(t, err)
			assert.Equal(t, tt.want, sql)
			assert.Equal(t, []any{1, 2, "x"}, args)
		})
	}
}

func TestMySQLEscapesBackslashes(t *testing.T) {
	d, err := New(MySQL)
	require.NoError(t, err)

	got, err := d.Conditions(M("path", `C:\tmp\it's`))
	require.NoError(t, err)
	assert.Equal(t, "`path` = 'C:\\\\tmp\\\\it''s'", got)
}

func TestParseTree(t *testing.T) {
	d := postgres(t)
	tree, err := ParseTree([]byte(`
score: {":between": [90, 100]}
title: hello
":or":
  - {a: 1}
  - {b: [2, 3]}
`))
	require.NoError(t, err)

	got, err := d.Conditions(tree)
	require.NoError(t, err)
	assert.Equal(t, `"score" BETWEEN 90 AND 100 AND "title" = 'hello' AND ("a" = 1 OR "b" IN (2, 3))`, got)

	_, err = ParseTree([]byte("a: [1, 2"))
	assert.Error(t, err)
}
