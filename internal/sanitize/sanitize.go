// Package sanitize normalizes and screens user text before it reaches a
// prompt or a SQL generation context.
package sanitize

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// ClassificationMaxLength bounds messages stored in a thread.
	ClassificationMaxLength = 1000
	// GenerationMaxLength bounds the question handed to SQL generation and discovery.
	GenerationMaxLength = 500

	safeLogLength = 100
)

type Options struct {
	MaxLength     int
	AllowEmpty    bool
	LogSuspicious bool
}

type Result struct {
	Input    string
	Modified bool
	Warnings []string
}

type pattern struct {
	family string
	re     *regexp.Regexp
}

var suspiciousPatterns = []pattern{
	{family: "sql keyword", re: regexp.MustCompile(`(?i)\b(UNION|SELECT|DROP|DELETE|UPDATE|INSERT|ALTER)\b`)},
	{family: "prompt override", re: regexp.MustCompile(`(?i)\b(ignore\s+previous|forget\s+instructions|new\s+instructions)\b`)},
	{family: "role marker", re: regexp.MustCompile(`(?i)\brole\s*:\s*(system|assistant|user)\b`)},
	{family: "script injection", re: regexp.MustCompile(`(?i)(<script\b|javascript:|data:|vbscript:)`)},
	{family: "command substitution", re: regexp.MustCompile("(?i)(\\$\\(|`|eval\\(|exec\\(|system\\()")},
	{family: "special character run", re: regexp.MustCompile(`[!@#$%^&*()+=\[\]{};':"\\|,.<>/?]{10,}`)},
}

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	newlineRun    = regexp.MustCompile(`\n{3,}`)
)

type Sanitizer struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Sanitizer {
	return &Sanitizer{logger: logger}
}

// Sanitize never rejects input. Problems are reported through Result.Warnings
// and the caller decides what to do with them.
func (s *Sanitizer) Sanitize(input string, opts Options) Result {
	maxLength := opts.MaxLength
	if maxLength <= 0 {
		maxLength = ClassificationMaxLength
	}

	out := strings.ToValidUTF8(input, "")
	result := Result{Modified: out != input}

	if utf8.RuneCountInString(out) > maxLength {
		out = truncateRunes(out, maxLength)
		result.Modified = true
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("input must not exceed %d characters", maxLength),
			fmt.Sprintf("input truncated to %d characters", maxLength),
		)
	}

	if cleaned := stripControl(out); cleaned != out {
		out = cleaned
		result.Modified = true
		result.Warnings = append(result.Warnings, "removed dangerous control characters")
	}

	if families := Screen(out); len(families) > 0 {
		for _, family := range families {
			result.Warnings = append(result.Warnings, "suspicious pattern detected: "+family)
		}
		if opts.LogSuspicious && s != nil && s.logger != nil {
			s.logger.Warn("suspicious_input",
				slog.String("preview", SafeLogVersion(input, safeLogLength)),
				slog.Any("patterns", families),
			)
		}
	}

	if normalized := normalizeWhitespace(out); normalized != out {
		out = normalized
		result.Modified = true
	}

	if !opts.AllowEmpty && out == "" {
		result.Warnings = append(result.Warnings, "input resulted in empty string after sanitization")
	}

	result.Input = out
	return result
}

// Screen returns the names of the suspicious pattern families found in text.
func Screen(text string) []string {
	var families []string
	for _, p := range suspiciousPatterns {
		if p.re.MatchString(text) {
			families = append(families, p.family)
		}
	}
	return families
}

// stripControl removes C0 controls other than tab, newline and carriage return, and DEL.
func stripControl(text string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\t' || r == '\n' || r == '\r':
			return r
		case r < 0x20 || r == 0x7F:
			return -1
		default:
			return r
		}
	}, text)
}

// normalizeWhitespace collapses every whitespace run to one space, so the
// newline cap only matters for text that bypassed the collapse.
func normalizeWhitespace(text string) string {
	text = whitespaceRun.ReplaceAllString(text, " ")
	text = newlineRun.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

func truncateRunes(text string, limit int) string {
	if limit <= 0 {
		return ""
	}
	count := 0
	for i := range text {
		if count == limit {
			return text[:i]
		}
		count++
	}
	return text
}

var (
	promptEscaper   = strings.NewReplacer(`\`, `\\`, `"`, `\"`, `'`, `\'`, "\n", `\n`, "\r", `\r`, "\t", `\t`)
	promptUnescapes = map[byte]byte{'\\': '\\', '"': '"', '\'': '\'', 'n': '\n', 'r': '\r', 't': '\t'}
)

// EscapeForPrompt escapes backslash, both quotes, newline, carriage return and tab.
func EscapeForPrompt(text string) string {
	return promptEscaper.Replace(text)
}

// UnescapePrompt reverses EscapeForPrompt. Unknown escape sequences are kept as is.
func UnescapePrompt(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for i := 0; i < len(text); i++ {
		c := text[i]
		if c == '\\' && i+1 < len(text) {
			if replacement, ok := promptUnescapes[text[i+1]]; ok {
				b.WriteByte(replacement)
				i++
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

// SafeLogVersion truncates text to maxLength runes, appending "...", then escapes it.
func SafeLogVersion(text string, maxLength int) string {
	if maxLength <= 0 {
		maxLength = safeLogLength
	}
	if utf8.RuneCountInString(text) > maxLength {
		text = truncateRunes(text, maxLength) + "..."
	}
	return EscapeForPrompt(text)
}
