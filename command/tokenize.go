package command

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/shlex"

	"pkt.systems/rshell/schema"
)

// Token is one option occurrence on a line. Name has its dashes stripped.
type Token struct {
	Name  string
	Value string
	// Long is set when the option was written with two dashes.
	Long bool
}

// Line is a tokenized input line.
type Line struct {
	Raw     string
	Command string
	Tokens  []Token
	// Positionals holds words that did not follow any option.
	Positionals []string
}

// ParseLine splits raw with shell quoting rules. The first word is the
// command name; every following word either names an option or extends the
// value of the option before it, so "-l a, b" yields a single value "a, b".
func ParseLine(raw string) (Line, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Line{}, schema.ErrEmptyLine
	}
	words, err := shlex.Split(trimmed)
	if err != nil {
		return Line{}, fmt.Errorf("tokenize line: %w", err)
	}
	if len(words) == 0 {
		return Line{}, schema.ErrEmptyLine
	}
	line := Line{Raw: trimmed, Command: words[0]}
	current := -1
	for _, word := range words[1:] {
		if isOptionWord(word) {
			tok := Token{Long: strings.HasPrefix(word, "--")}
			name := strings.TrimLeft(word, "-")
			if n, v, ok := strings.Cut(name, "="); ok {
				name = n
				tok.Value = v
			}
			tok.Name = name
			line.Tokens = append(line.Tokens, tok)
			current = len(line.Tokens) - 1
			continue
		}
		if current < 0 {
			line.Positionals = append(line.Positionals, word)
			continue
		}
		tok := &line.Tokens[current]
		if tok.Value == "" {
			tok.Value = word
		} else {
			tok.Value += " " + word
		}
	}
	return line, nil
}

// isOptionWord reports whether word names an option rather than a value.
// Negative numbers are values.
func isOptionWord(word string) bool {
	if len(word) < 2 || word[0] != '-' {
		return false
	}
	if strings.Trim(word, "-") == "" {
		return false
	}
	if _, err := strconv.ParseFloat(word, 64); err == nil {
		return false
	}
	return true
}

// Option looks up the first token matching opt.
func (l Line) Option(opt Option) (Token, bool) {
	for _, tok := range l.Tokens {
		if opt.matches(tok.Name) {
			return tok, true
		}
	}
	return Token{}, false
}

// HasHelpFlag reports whether the line asks for help on its command.
func (l Line) HasHelpFlag() bool {
	for _, tok := range l.Tokens {
		if tok.Long && tok.Name == "help" {
			return true
		}
	}
	return false
}
