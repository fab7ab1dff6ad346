package query

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

var ErrNotReadOnly = errors.New("only a single SELECT statement is allowed")

var mutatingKeywords = map[string]bool{
	"ALTER": true, "ATTACH": true, "COPY": true, "CREATE": true, "DELETE": true,
	"DETACH": true, "DROP": true, "GRANT": true, "INSERT": true, "MERGE": true,
	"REVOKE": true, "TRUNCATE": true, "UPDATE": true,
}

// CheckReadOnly accepts exactly one statement that starts with SELECT or WITH
// and names no mutating keyword outside literals and comments. Trailing
// semicolons are allowed.
func CheckReadOnly(sqlText string) error {
	words, statements := scanStatement(sqlText)
	if len(words) == 0 {
		return ErrEmptySQL
	}
	if statements > 1 {
		return fmt.Errorf("%w: found %d statements", ErrNotReadOnly, statements)
	}
	if first := words[0]; first != "SELECT" && first != "WITH" {
		return fmt.Errorf("%w: statement starts with %s", ErrNotReadOnly, first)
	}
	for _, word := range words {
		if mutatingKeywords[word] {
			return fmt.Errorf("%w: contains %s", ErrNotReadOnly, word)
		}
	}
	return nil
}

// scanStatement returns the bare upper-cased words of sqlText and the number
// of non-empty statements separated by semicolons. Quoted strings, quoted
// identifiers, dollar-quoted bodies and comments are skipped.
func scanStatement(sqlText string) ([]string, int) {
	var (
		words      []string
		statements int
		pending    bool
	)
	runes := []rune(sqlText)
	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case r == '-' && i+1 < len(runes) && runes[i+1] == '-':
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
		case r == '/' && i+1 < len(runes) && runes[i+1] == '*':
			end := indexFrom(runes, i+2, "*/")
			if end < 0 {
				i = len(runes)
			} else {
				i = end + 2
			}
		case r == '\'' || r == '"' || r == '`':
			i = skipQuoted(runes, i, r)
			pending = true
		case r == '$':
			i = skipDollarQuoted(runes, i)
			pending = true
		case r == ';':
			if pending {
				statements++
				pending = false
			}
			i++
		case unicode.IsLetter(r) || r == '_':
			start := i
			for i < len(runes) && (unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i]) || runes[i] == '_') {
				i++
			}
			words = append(words, strings.ToUpper(string(runes[start:i])))
			pending = true
		case unicode.IsSpace(r):
			i++
		default:
			pending = true
			i++
		}
	}
	if pending {
		statements++
	}
	return words, statements
}

// skipQuoted returns the index after the literal opened at start; doubled
// quotes are escapes.
func skipQuoted(runes []rune, start int, quote rune) int {
	for i := start + 1; i < len(runes); i++ {
		if runes[i] != quote {
			continue
		}
		if i+1 < len(runes) && runes[i+1] == quote {
			i++
			continue
		}
		return i + 1
	}
	return len(runes)
}

func skipDollarQuoted(runes []rune, start int) int {
	end := start + 1
	for end < len(runes) && (unicode.IsLetter(runes[end]) || unicode.IsDigit(runes[end]) || runes[end] == '_') {
		end++
	}
	if end >= len(runes) || runes[end] != '$' {
		// positional parameter such as $1
		return end
	}
	tag := string(runes[start : end+1])
	closing := indexFrom(runes, end+1, tag)
	if closing < 0 {
		return len(runes)
	}
	return closing + len([]rune(tag))
}

func indexFrom(runes []rune, from int, needle string) int {
	if from > len(runes) {
		return -1
	}
	idx := strings.Index(string(runes[from:]), needle)
	if idx < 0 {
		return -1
	}
	return from + len([]rune(string(runes[from:])[:idx]))
}
