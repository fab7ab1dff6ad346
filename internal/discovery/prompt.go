package discovery

import (
	"strings"
	"time"
)

const pregenerateTemplate = `You are preparing onboarding content for a natural language interface to a SQL database.

Database schema:
{{schema}}

Current date: {{date}}

Produce a JSON object with two fields:
- "description": one or two sentences describing the available data in business terms. Infer the domain from the schema and do not mention table or column names.
- "exampleQuestions": between 10 and 15 questions a user could paste in verbatim.

Rules for the questions:
- Use concrete concepts from the schema, never placeholders such as [category].
- Never mention table or column names.
- Mix text filters, counts and totals, relationships across tables, numeric comparisons and plain listings.
- At most two questions may depend on dates. Compare the sample data with the current date: when the data is years old, use specific years that appear in it; otherwise relative periods are fine. Skip date questions when the range is unknown.

Return only the JSON object.`

func pregeneratePrompt(schemaText string, now time.Time) string {
	return strings.NewReplacer(
		"{{schema}}", schemaText,
		"{{date}}", now.Format("Mon Jan 02 2006"),
	).Replace(pregenerateTemplate)
}
