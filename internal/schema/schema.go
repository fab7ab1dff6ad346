// Package schema describes the connected database as prompt-ready text and
// splits that text into per-table chunks for semantic retrieval.
package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/duckmesh/text2sql/internal/query"
)

// ChunkType tags schema chunks in the semantic index.
const ChunkType = "schema"

type Column struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Nullable   bool   `json:"nullable"`
	PrimaryKey bool   `json:"primary_key"`
	ForeignKey bool   `json:"foreign_key"`
	// Ref is the referenced schema.table.column for foreign keys, if known.
	Ref string `json:"ref,omitempty"`
}

type Index struct {
	Name   string `json:"name"`
	Unique bool   `json:"unique"`
}

type Table struct {
	Schema     string         `json:"schema"`
	Name       string         `json:"name"`
	Columns    []Column       `json:"columns"`
	Indexes    []Index        `json:"indexes,omitempty"`
	SampleRows []query.Record `json:"-"`
}

func (t Table) QualifiedName() string {
	return t.Schema + "." + t.Name
}

// Snapshot is one textual rendering of the database schema and its hash.
type Snapshot struct {
	Text    string    `json:"text"`
	Hash    string    `json:"hash"`
	Tables  []Table   `json:"tables"`
	TakenAt time.Time `json:"taken_at"`
}

func NewSnapshot(tables []Table, takenAt time.Time) Snapshot {
	text := Format(tables)
	return Snapshot{Text: text, Hash: Hash(text), Tables: tables, TakenAt: takenAt}
}

// Hash is the content address of a schema text.
func Hash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Format renders tables in the layout expected by the prompts and by Split.
// Table blocks are separated by one blank line.
func Format(tables []Table) string {
	blocks := make([]string, 0, len(tables))
	for _, table := range tables {
		blocks = append(blocks, formatTable(table))
	}
	return strings.Join(blocks, "\n\n")
}

// formatTable renders one block without a trailing newline.
func formatTable(table Table) string {
	lines := make([]string, 0, 1+len(table.Columns)+len(table.Indexes)+len(table.SampleRows)+2)
	lines = append(lines, "- "+table.QualifiedName())

	for _, column := range table.Columns {
		line := fmt.Sprintf("  - %s: %s", column.Name, column.Type)
		flags := make([]string, 0, 3)
		if column.PrimaryKey {
			flags = append(flags, "PK")
		}
		if column.ForeignKey {
			flags = append(flags, "FK")
		}
		if !column.Nullable {
			flags = append(flags, "NOT NULL")
		}
		if len(flags) > 0 {
			line += " (" + strings.Join(flags, ", ") + ")"
		}
		if column.ForeignKey && column.Ref != "" {
			line += " -> " + column.Ref
		}
		lines = append(lines, line)
	}

	if len(table.Indexes) > 0 {
		lines = append(lines, fmt.Sprintf("  Indexes (%d):", len(table.Indexes)))
		for _, index := range table.Indexes {
			unique := ""
			if index.Unique {
				unique = " (UNIQUE)"
			}
			lines = append(lines, fmt.Sprintf("    - %s%s", index.Name, unique))
		}
	}

	if len(table.SampleRows) > 0 {
		lines = append(lines, "  Sample data:")
		for i, row := range table.SampleRows {
			encoded, err := json.Marshal(row)
			if err != nil {
				encoded = []byte(fmt.Sprintf("%q", err.Error()))
			}
			lines = append(lines, fmt.Sprintf("    %d. %s", i+1, encoded))
		}
	}
	return strings.Join(lines, "\n")
}

// Chunk is the indexed description of one table.
type Chunk struct {
	ID      string
	Content string
	Schema  string
	Table   string
}

func (c Chunk) Metadata() map[string]string {
	return map[string]string{
		"type":   ChunkType,
		"schema": c.Schema,
		"table":  c.Table,
	}
}

var tableHeaderPattern = regexp.MustCompile(`^- [a-zA-Z_][a-zA-Z0-9_]*\.[a-zA-Z_][a-zA-Z0-9_]*`)

// Split cuts schema text into one chunk per table. A line matching
// "- schema.table" opens a chunk; lines before the first header are dropped
// and blank separator lines are trimmed from each chunk.
func Split(text string) []Chunk {
	var (
		chunks  []Chunk
		current string
		lines   []string
	)
	flush := func() {
		if current == "" || len(lines) == 0 {
			return
		}
		schemaName, tableName, _ := strings.Cut(current, ".")
		chunks = append(chunks, Chunk{
			ID:      "table:" + current,
			Content: strings.TrimRight(strings.Join(lines, "\n"), "\n"),
			Schema:  schemaName,
			Table:   tableName,
		})
	}

	for _, line := range strings.Split(text, "\n") {
		if tableHeaderPattern.MatchString(line) {
			flush()
			current = strings.TrimSpace(line[2:])
			lines = []string{line}
			continue
		}
		if current != "" {
			lines = append(lines, line)
		}
	}
	flush()
	return chunks
}
