// Package redaction scrubs sensitive values out of exported session
// artifacts (asset manifest, session-state snapshot) before they reach
// disk. Adapted from the teacher's internal/redaction/redaction.go, which
// scrubbed MCP tool responses before they reached an AI client; here the
// same compiled-pattern engine guards the crawler's own persisted state
// instead, since a session's cookie snapshot or a captured `Set-Cookie`/
// `Authorization` response header can carry real secrets from the
// mirrored site.
package redaction

import (
	"regexp"
	"strings"
)

// Pattern is a single redaction rule; Name becomes the placeholder token
// ("[REDACTED:name]") unless Replacement is set explicitly.
type Pattern struct {
	Name        string
	Regex       string
	Replacement string
	Validate    func(match string) bool
}

type compiledPattern struct {
	name        string
	regex       *regexp.Regexp
	replacement string
	validate    func(match string) bool
}

// Engine applies a set of compiled patterns to text; safe for concurrent
// use once constructed, since compiled regexps are immutable.
type Engine struct {
	patterns []compiledPattern
}

// builtinPatterns are the always-active rules: cookie/auth-header values,
// AWS/GitHub tokens, JWTs, and private-key blocks that a mirrored site's
// responses might carry into a session's cookie snapshot or error log.
var builtinPatterns = []Pattern{
	{Name: "aws-key", Regex: `AKIA[0-9A-Z]{16}`},
	{Name: "bearer-token", Regex: `Bearer [A-Za-z0-9\-._~+/]+=*`},
	{Name: "basic-auth", Regex: `Basic [A-Za-z0-9+/]+=*`},
	{Name: "jwt", Regex: `eyJ[A-Za-z0-9_-]*\.eyJ[A-Za-z0-9_-]*\.[A-Za-z0-9_-]+`},
	{Name: "github-pat", Regex: `(ghp_[A-Za-z0-9]{36,}|github_pat_[A-Za-z0-9_]{36,})`},
	{Name: "private-key", Regex: `-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`},
	{Name: "set-cookie", Regex: `(?i)set-cookie:\s*[^;\r\n]+`},
	{Name: "session-cookie", Regex: `(?i)(session|sid|token)\s*=\s*[A-Za-z0-9+/=_-]{16,}`},
	{Name: "api-key", Regex: `(?i)(api[_-]?key|apikey|secret[_-]?key)\s*[:=]\s*\S+`},
}

// NewEngine builds an Engine from the built-ins plus any extra patterns
// supplied (e.g. loaded from a project config). Invalid regexes among the
// extras are skipped rather than failing construction.
func NewEngine(extra ...Pattern) *Engine {
	e := &Engine{}
	for _, p := range append(append([]Pattern{}, builtinPatterns...), extra...) {
		re, err := regexp.Compile(p.Regex)
		if err != nil {
			continue
		}
		replacement := p.Replacement
		if replacement == "" {
			replacement = "[REDACTED:" + p.Name + "]"
		}
		e.patterns = append(e.patterns, compiledPattern{
			name:        p.Name,
			regex:       re,
			replacement: replacement,
			validate:    p.Validate,
		})
	}
	return e
}

// Redact applies every pattern to input and returns the scrubbed result.
func (e *Engine) Redact(input string) string {
	if input == "" {
		return ""
	}
	result := input
	for _, p := range e.patterns {
		if p.validate != nil {
			result = p.regex.ReplaceAllStringFunc(result, func(match string) string {
				if p.validate(match) {
					return p.replacement
				}
				return match
			})
		} else {
			result = p.regex.ReplaceAllString(result, p.replacement)
		}
	}
	return result
}

// RedactBytes redacts cookie-snapshot bytes, treating them as opaque
// newline-delimited Set-Cookie/header text (spec §4.11 "opaque" snapshot).
func (e *Engine) RedactBytes(data []byte) []byte {
	if len(data) == 0 {
		return data
	}
	return []byte(e.Redact(string(data)))
}

// RedactStrings redacts each entry of a string slice in place, e.g. a
// session's error log before it's written to session-state.json.
func (e *Engine) RedactStrings(entries []string) []string {
	out := make([]string, len(entries))
	for i, s := range entries {
		out[i] = e.Redact(s)
	}
	return out
}

func luhnValid(number string) bool {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, number)
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}
	sum := 0
	alt := false
	for i := len(digits) - 1; i >= 0; i-- {
		n := int(digits[i] - '0')
		if alt {
			n *= 2
			if n > 9 {
				n -= 9
			}
		}
		sum += n
		alt = !alt
	}
	return sum%10 == 0
}

// CreditCardPattern is offered separately (not in builtinPatterns) since
// it needs the Luhn validator wired in; callers append it via NewEngine's
// extra parameter when manifest text might embed payment data.
func CreditCardPattern() Pattern {
	return Pattern{
		Name:     "credit-card",
		Regex:    `\b([0-9]{4}[- ]?[0-9]{4}[- ]?[0-9]{4}[- ]?[0-9]{4})\b`,
		Validate: luhnValid,
	}
}
