package schema

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duckmesh/text2sql/internal/query"
)

func fixtureTables() []Table {
	return []Table{
		{
			Schema: "public",
			Name:   "users",
			Columns: []Column{
				{Name: "id", Type: "integer", PrimaryKey: true},
				{Name: "email", Type: "text"},
				{Name: "created_at", Type: "timestamp with time zone", Nullable: true},
			},
			Indexes: []Index{{Name: "users_email_key", Unique: true}, {Name: "users_pkey", Unique: true}},
			SampleRows: []query.Record{
				{Columns: []string{"id", "email"}, Values: []any{int64(1), "ada@example.com"}},
			},
		},
		{
			Schema: "public",
			Name:   "orders",
			Columns: []Column{
				{Name: "id", Type: "integer", PrimaryKey: true},
				{Name: "user_id", Type: "integer", ForeignKey: true, Ref: "public.users.id", Nullable: true},
			},
		},
	}
}

func TestFormatRendersTableBlocks(t *testing.T) {
	want := strings.Join([]string{
		"- public.users",
		"  - id: integer (PK, NOT NULL)",
		"  - email: text (NOT NULL)",
		"  - created_at: timestamp with time zone",
		"  Indexes (2):",
		"    - users_email_key (UNIQUE)",
		"    - users_pkey (UNIQUE)",
		"  Sample data:",
		`    1. {"id":1,"email":"ada@example.com"}`,
		"",
		"- public.orders",
		"  - id: integer (PK, NOT NULL)",
		"  - user_id: integer (FK) -> public.users.id",
	}, "\n")
	assert.Equal(t, want, Format(fixtureTables()))
}

func TestSplitProducesOneChunkPerTable(t *testing.T) {
	tables := fixtureTables()
	chunks := Split(Format(tables))
	require.Len(t, chunks, 2)

	assert.Equal(t, "table:public.users", chunks[0].ID)
	assert.Equal(t, "public", chunks[0].Schema)
	assert.Equal(t, "users", chunks[0].Table)
	assert.Equal(t, formatTable(tables[0]), chunks[0].Content)
	assert.Equal(t, map[string]string{"type": "schema", "schema": "public", "table": "orders"}, chunks[1].Metadata())
	assert.Equal(t, formatTable(tables[1]), chunks[1].Content)
}

func TestFormatSeparatesEveryBlockWithOneBlankLine(t *testing.T) {
	tables := []Table{
		{Schema: "public", Name: "a", Columns: []Column{{Name: "id", Type: "integer"}}},
		{Schema: "public", Name: "b", Columns: []Column{{Name: "id", Type: "integer"}}, Indexes: []Index{{Name: "b_pkey"}}},
		{Schema: "public", Name: "c", Columns: []Column{{Name: "id", Type: "integer"}}},
	}
	text := Format(tables)
	assert.Equal(t, "- public.a\n  - id: integer (NOT NULL)\n\n- public.b\n  - id: integer (NOT NULL)\n  Indexes (1):\n    - b_pkey\n\n- public.c\n  - id: integer (NOT NULL)", text)
	assert.NotContains(t, text, "\n\n\n")

	chunks := Split(text)
	require.Len(t, chunks, 3)
	for i, chunk := range chunks {
		assert.Equal(t, formatTable(tables[i]), chunk.Content)
	}
}

func TestSplitDropsPreambleAndIgnoresIndentedDashes(t *testing.T) {
	text := "Database schema:\n- sales.invoices\n  - id: integer\n  - total: numeric\n- not a table\n- sales.lines\n  - invoice_id: integer"
	chunks := Split(text)
	require.Len(t, chunks, 2)
	assert.Equal(t, "- sales.invoices\n  - id: integer\n  - total: numeric\n- not a table", chunks[0].Content)
	assert.Equal(t, "table:sales.lines", chunks[1].ID)
	assert.Empty(t, Split("no tables here"))
}

func TestHashIsContentAddressed(t *testing.T) {
	text := Format(fixtureTables())
	assert.Equal(t, Hash(text), Hash(strings.Clone(text)))
	assert.Len(t, Hash(text), 64)
	assert.NotEqual(t, Hash(text), Hash(text+" "))
}
