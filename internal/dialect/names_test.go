package dialect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func postgres(t *testing.T) *Dialect {
	t.Helper()
	d, err := New(Postgres)
	require.NoError(t, err)
	return d
}

func TestNames(t *testing.T) {
	d := postgres(t)

	tests := []struct {
		name   string
		fields []any
		want   string
	}{
		{"schema prefix", []any{"schema.tablename"}, `"schema"."tablename"`},
		{"table prefix", []any{"tablename.fieldname"}, `"tablename"."fieldname"`},
		{"alias", []any{M("tablename.fieldname", "F1")}, `"tablename"."fieldname" AS "F1"`},
		{
			"prefixed aliases",
			[]any{M(
				"name1", M("field1", "F1", "field2", "F2"),
				"name2", M("field3", "F3", "field4", "F4"),
			)},
			`"name1"."field1" AS "F1", "name1"."field2" AS "F2", "name2"."field3" AS "F3", "name2"."field4" AS "F4"`,
		},
		{
			"mixed syntax",
			[]any{
				"prefix.field1",
				M("prefix.field1", "F1"),
				M("prefix", []any{"field2", M("field3", "F3"), []any{M("field3", "F33")}}),
			},
			`"prefix"."field1", "prefix"."field1" AS "F1", "prefix"."field2", "prefix"."field3" AS "F3", "prefix"."field3" AS "F33"`,
		},
		{
			"count distinct",
			[]any{M(":count()", M(":distinct", []any{Name("table.firstname")}))},
			`COUNT(DISTINCT "table"."firstname")`,
		},
		{"plain", []any{Plain("COUNT(*)")}, "COUNT(*)"},
		{
			"duplicates",
			[]any{
				"prefix.field1", "prefix.field1", "prefix.field2", "prefix.field2",
				M("prefix", []any{
					"field1", "field2", "field1", "field2",
					M("field3", "F3"), M("field4", "F4"),
					M("field3", "F5"), M("field4", "F6"),
				}),
			},
			`"prefix"."field1", "prefix"."field2", "prefix"."field3" AS "F3", "prefix"."field4" AS "F4", "prefix"."field3" AS "F5", "prefix"."field4" AS "F6"`,
		},
		{
			"deeply nested",
			[]any{[]any{[]any{[]any{[]any{M("tablename.fieldname", "F1")}}}}},
			`"tablename"."fieldname" AS "F1"`,
		},
		{
			"nested arrays keep prefix",
			[]any{M("prefix", []any{"field1", M("field1", "F1"), M("field1", "F11")})},
			`"prefix"."field1", "prefix"."field1" AS "F1", "prefix"."field1" AS "F11"`,
		},
		{
			"distinct aliases are kept",
			[]any{M("p", []any{"f1", M("f1", "A"), M("f1", "B")})},
			`"p"."f1", "p"."f1" AS "A", "p"."f1" AS "B"`,
		},
		{
			"dedup keeps first-seen order",
			[]any{"a.f", "a.f", M("a.f", "X")},
			`"a"."f", "a"."f" AS "X"`,
		},
		{"star", []any{"prefix.*"}, `"prefix".*`},
		{"star under prefix", []any{M("prefix", []any{"*"})}, `"prefix".*`},
		{"nearest prefix wins", []any{M("outer", M("inner", []any{"f"}))}, `"inner"."f"`},
		{"qualified leaf keeps qualifier", []any{M("p", []any{"q.f"})}, `"q"."f"`},
		{"go map", []any{map[string]any{"t.b": "B", "t.a": "A"}}, `"t"."a" AS "A", "t"."b" AS "B"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := d.Names(tt.fields...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNamesSubquery(t *testing.T) {
	d := postgres(t)
	sub := d.Select().From("table2").Alias("t2")

	got, err := d.Names(sub, M("name2", M("field2", "F2")))
	require.NoError(t, err)
	assert.Equal(t, `(SELECT * FROM "table2") AS "t2", "name2"."field2" AS "F2"`, got)

	got, err = d.Names(M("cnt", d.Select().Fields(Plain("COUNT(*)")).From("image")))
	require.NoError(t, err)
	assert.Equal(t, `(SELECT COUNT(*) FROM "image") AS "cnt"`, got)
}

func TestNamesMalformed(t *testing.T) {
	d := postgres(t)

	_, err := d.Names(M("field", 42))
	require.ErrorIs(t, err, ErrMalformedCondition)

	var ce *ConditionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, M("field", 42), ce.Fragment)

	_, err = d.Names(M(":bogus", []any{"a"}))
	assert.ErrorIs(t, err, ErrMalformedCondition)
}

func TestNamesMySQLQuoting(t *testing.T) {
	d, err := New(MySQL)
	require.NoError(t, err)

	got, err := d.Names(M("image.title", "T"), "image.*")
	require.NoError(t, err)
	assert.Equal(t, "`image`.`title` AS `T`, `image`.*", got)
}
