package nl2sql

import (
	"strconv"
	"strings"
)

const writeTemplate = `You write SQL for a read-only analytics assistant. Decide whether the user's latest question can be answered from the tables below, then either write one query or explain why not.

Tables you may use:
{{tables}}

When the question cannot be answered from these tables, asks for anything other than reading data, or is not a data question at all:
- set query to an empty string
- set rejectionReason to a short explanation, for example "The requested table does not exist"

Otherwise:
- write a single syntactically correct {{dialect}} SELECT statement
- return at most {{limit}} rows unless the user asks for a specific number
- order the rows by a column that makes the result meaningful
- select only the columns the question needs, never every column of a table
- use only tables and columns listed above and keep each column with its own table
- set rejectionReason to an empty string`

const fixTemplate = `The following {{dialect}} query was rejected by the database. Rewrite it so it runs.

Tables:
{{tables}}

Query:
{{query}}

Database error:
{{error}}

Correct syntax, identifiers and dialect problems while keeping the intent of the original query. If it cannot be fixed with these tables, return an empty query and a rejectionReason.`

func writePrompt(dialect, tableInfo string, limit int) string {
	return strings.NewReplacer(
		"{{tables}}", tableInfo,
		"{{dialect}}", dialect,
		"{{limit}}", strconv.Itoa(limit),
	).Replace(writeTemplate)
}

func fixPrompt(dialect, tableInfo, invalidQuery, errorMessage string) string {
	return strings.NewReplacer(
		"{{tables}}", tableInfo,
		"{{dialect}}", dialect,
		"{{query}}", invalidQuery,
		"{{error}}", errorMessage,
	).Replace(fixTemplate)
}
