// guard.go post-processes model-generated Cypher before it can touch the
// graph store. Model output is treated as untrusted input: read queries get a
// hard result bound, mutation batches get split with a quote-aware tokenizer
// and validated statement by statement.
package rag

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// EnforceBound guarantees the query carries an explicit LIMIT of at most
// maxResults. An existing bound ≤ maxResults is kept; a missing or oversized
// bound is rewritten to exactly maxResults. Queries whose structure cannot be
// parsed return a *MalformedQueryError and must be discarded by the caller.
func EnforceBound(query string, maxResults int) (string, error) {
	if maxResults <= 0 {
		return "", fmt.Errorf("enforce bound: non-positive max results %d", maxResults)
	}

	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return "", &MalformedQueryError{Query: query, Reason: "empty query"}
	}
	if err := checkBalanced(trimmed); err != nil {
		return "", &MalformedQueryError{Query: query, Reason: err.Error()}
	}

	clauses, err := findLimitClauses(trimmed)
	if err != nil {
		return "", &MalformedQueryError{Query: query, Reason: err.Error()}
	}

	if len(clauses) == 0 {
		trimmed = strings.TrimRight(trimmed, "; \t\n")
		return fmt.Sprintf("%s LIMIT %d", trimmed, maxResults), nil
	}

	// Rewrite back to front so byte offsets stay valid.
	out := trimmed
	for i := len(clauses) - 1; i >= 0; i-- {
		c := clauses[i]
		if c.value <= maxResults {
			continue
		}
		out = out[:c.numStart] + strconv.Itoa(maxResults) + out[c.numEnd:]
	}
	return out, nil
}

// limitClause locates the integer of one LIMIT clause inside a query.
type limitClause struct {
	numStart int
	numEnd   int
	value    int
}

// findLimitClauses scans the query outside string literals for LIMIT keywords
// and their integer arguments. A LIMIT keyword without a plain integer
// argument is an error: the guard cannot prove the bound.
func findLimitClauses(query string) ([]limitClause, error) {
	var clauses []limitClause
	scan := newCypherScanner(query)
	for {
		word, ok := scan.nextWord()
		if !ok {
			break
		}
		if !strings.EqualFold(word, "limit") {
			continue
		}
		numStart, numEnd := scan.nextInteger()
		if numStart < 0 {
			return nil, fmt.Errorf("LIMIT clause without integer bound")
		}
		value, err := strconv.Atoi(query[numStart:numEnd])
		if err != nil {
			return nil, fmt.Errorf("unparseable LIMIT bound %q", query[numStart:numEnd])
		}
		clauses = append(clauses, limitClause{numStart: numStart, numEnd: numEnd, value: value})
	}
	return clauses, nil
}

// SplitBatch splits generation output into individually-appliable statements
// on the pipe delimiter. Pipes inside single- or double-quoted string
// literals do not split; backslash escapes inside literals are honored.
// Segments are trimmed and empty segments dropped. Order is preserved and is
// significant: the applier must execute statements in the returned order.
func SplitBatch(text string) []string {
	var parts []string
	var b strings.Builder

	inSingle, inDouble, escaped := false, false, false
	for _, r := range text {
		if escaped {
			b.WriteRune(r)
			escaped = false
			continue
		}
		switch {
		case r == '\\' && (inSingle || inDouble):
			b.WriteRune(r)
			escaped = true
		case r == '\'' && !inDouble:
			inSingle = !inSingle
			b.WriteRune(r)
		case r == '"' && !inSingle:
			inDouble = !inDouble
			b.WriteRune(r)
		case r == '|' && !inSingle && !inDouble:
			if s := strings.TrimSpace(b.String()); s != "" {
				parts = append(parts, s)
			}
			b.Reset()
		default:
			b.WriteRune(r)
		}
	}
	if s := strings.TrimSpace(b.String()); s != "" {
		parts = append(parts, s)
	}
	return parts
}

// ValidateStatement accepts only structurally sound mutation statements.
func ValidateStatement(stmt string) error {
	trimmed := strings.TrimSpace(stmt)
	if trimmed == "" {
		return &MalformedQueryError{Query: stmt, Reason: "empty statement"}
	}
	upper := strings.ToUpper(trimmed)
	if !strings.HasPrefix(upper, "MERGE") && !strings.HasPrefix(upper, "CREATE") {
		return &MalformedQueryError{Query: stmt, Reason: "statement must begin with MERGE or CREATE"}
	}
	if err := checkBalanced(trimmed); err != nil {
		return &MalformedQueryError{Query: stmt, Reason: err.Error()}
	}
	return nil
}

// UniqueVariables rewrites node variables that are re-declared across a batch
// so every declaration is globally unique. Statements are rewritten in place;
// references inside the same statement follow the rename, string literals are
// left untouched. The rewrite is deterministic for a given input batch.
func UniqueVariables(stmts []string) []string {
	seen := make(map[string]struct{})
	out := make([]string, len(stmts))
	for i, stmt := range stmts {
		declared := declaredVariables(stmt)
		for _, name := range declared {
			if _, taken := seen[name]; !taken {
				seen[name] = struct{}{}
				continue
			}
			replacement := name
			for n := 2; ; n++ {
				replacement = fmt.Sprintf("%s_%d", name, n)
				if _, taken := seen[replacement]; !taken {
					break
				}
			}
			seen[replacement] = struct{}{}
			stmt = renameVariable(stmt, name, replacement)
		}
		out[i] = stmt
	}
	return out
}

// declaredVariables returns variables declared with a label, i.e. the name in
// "(name:Label", in order of first appearance, outside string literals.
func declaredVariables(stmt string) []string {
	var names []string
	seen := make(map[string]struct{})

	inSingle, inDouble, escaped := false, false, false
	runes := []rune(stmt)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case r == '\\' && (inSingle || inDouble):
			escaped = true
		case r == '\'' && !inDouble:
			inSingle = !inSingle
		case r == '"' && !inSingle:
			inDouble = !inDouble
		case r == '(' && !inSingle && !inDouble:
			j := i + 1
			for j < len(runes) && unicode.IsSpace(runes[j]) {
				j++
			}
			start := j
			for j < len(runes) && isIdentRune(runes[j]) {
				j++
			}
			if j == start {
				continue
			}
			k := j
			for k < len(runes) && unicode.IsSpace(runes[k]) {
				k++
			}
			if k < len(runes) && runes[k] == ':' {
				name := string(runes[start:j])
				if _, dup := seen[name]; !dup {
					seen[name] = struct{}{}
					names = append(names, name)
				}
			}
		}
	}
	return names
}

// renameVariable replaces identifier tokens equal to old with replacement,
// outside string literals only.
func renameVariable(stmt, old, replacement string) string {
	var b strings.Builder
	inSingle, inDouble, escaped := false, false, false
	runes := []rune(stmt)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if escaped {
			b.WriteRune(r)
			escaped = false
			continue
		}
		switch {
		case r == '\\' && (inSingle || inDouble):
			b.WriteRune(r)
			escaped = true
		case r == '\'' && !inDouble:
			inSingle = !inSingle
			b.WriteRune(r)
		case r == '"' && !inSingle:
			inDouble = !inDouble
			b.WriteRune(r)
		case !inSingle && !inDouble && isIdentRune(r):
			j := i
			for j < len(runes) && isIdentRune(runes[j]) {
				j++
			}
			token := string(runes[i:j])
			if token == old {
				b.WriteString(replacement)
			} else {
				b.WriteString(token)
			}
			i = j - 1
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isIdentRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// checkBalanced verifies parentheses, brackets, and braces nest correctly and
// every string literal is closed. Quoted content is skipped entirely.
func checkBalanced(s string) error {
	var stack []rune
	inSingle, inDouble, escaped := false, false, false
	for _, r := range s {
		if escaped {
			escaped = false
			continue
		}
		switch {
		case r == '\\' && (inSingle || inDouble):
			escaped = true
		case r == '\'' && !inDouble:
			inSingle = !inSingle
		case r == '"' && !inSingle:
			inDouble = !inDouble
		case inSingle || inDouble:
		case r == '(' || r == '[' || r == '{':
			stack = append(stack, r)
		case r == ')' || r == ']' || r == '}':
			if len(stack) == 0 {
				return fmt.Errorf("unbalanced %q", r)
			}
			open := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if (r == ')' && open != '(') || (r == ']' && open != '[') || (r == '}' && open != '{') {
				return fmt.Errorf("mismatched %q", r)
			}
		}
	}
	if inSingle || inDouble {
		return fmt.Errorf("unterminated string literal")
	}
	if len(stack) > 0 {
		return fmt.Errorf("unbalanced %q", stack[len(stack)-1])
	}
	return nil
}

// cypherScanner walks a query yielding identifier words and integers that sit
// outside string literals.
type cypherScanner struct {
	runes []rune
	pos   int
	// byte offset of each rune, so callers can slice the original string
	offsets []int

	// quote state persists across nextWord calls so words inside string
	// literals are never yielded
	inSingle bool
	inDouble bool
	escaped  bool
}

func newCypherScanner(s string) *cypherScanner {
	runes := []rune(s)
	offsets := make([]int, len(runes)+1)
	off := 0
	for i, r := range runes {
		offsets[i] = off
		off += len(string(r))
	}
	offsets[len(runes)] = off
	return &cypherScanner{runes: runes, offsets: offsets}
}

// nextWord returns the next identifier word outside quotes, or ok=false at
// end of input.
func (s *cypherScanner) nextWord() (word string, ok bool) {
	for s.pos < len(s.runes) {
		r := s.runes[s.pos]
		if s.escaped {
			s.escaped = false
			s.pos++
			continue
		}
		switch {
		case r == '\\' && (s.inSingle || s.inDouble):
			s.escaped = true
			s.pos++
		case r == '\'' && !s.inDouble:
			s.inSingle = !s.inSingle
			s.pos++
		case r == '"' && !s.inSingle:
			s.inDouble = !s.inDouble
			s.pos++
		case s.inSingle || s.inDouble:
			s.pos++
		case unicode.IsLetter(r) || r == '_':
			begin := s.pos
			for s.pos < len(s.runes) && isIdentRune(s.runes[s.pos]) {
				s.pos++
			}
			return string(s.runes[begin:s.pos]), true
		default:
			s.pos++
		}
	}
	return "", false
}

// nextInteger skips whitespace and returns the byte range of an immediately
// following integer, or (-1, -1) when the next token is not an integer.
func (s *cypherScanner) nextInteger() (start, end int) {
	for s.pos < len(s.runes) && unicode.IsSpace(s.runes[s.pos]) {
		s.pos++
	}
	begin := s.pos
	for s.pos < len(s.runes) && unicode.IsDigit(s.runes[s.pos]) {
		s.pos++
	}
	if s.pos == begin {
		return -1, -1
	}
	return s.offsets[begin], s.offsets[s.pos]
}
