package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// parseBool accepts the usual spellings of "on" found in env files.
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on" || s == "enabled"
}

func trimQuotes(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// inlineCommentIndex returns the index of a # that starts an inline comment.
// A # inside quotes or escaped with a backslash is ignored.
func inlineCommentIndex(line string) int {
	inQuote := false
	var quoteChar byte
	escaped := false

	for i := 0; i < len(line); i++ {
		ch := line[i]
		switch {
		case escaped:
			escaped = false
		case ch == '\\':
			escaped = true
		case inQuote:
			if ch == quoteChar {
				inQuote = false
			}
		case ch == '"' || ch == '\'':
			inQuote = true
			quoteChar = ch
		case ch == '#':
			return i
		}
	}
	return -1
}

func closingQuoteIndex(s string, quote byte) int {
	escaped := false
	for i := 1; i < len(s); i++ {
		switch {
		case escaped:
			escaped = false
		case s[i] == '\\':
			escaped = true
		case s[i] == quote:
			return i
		}
	}
	return -1
}

// splitKeyValue splits KEY=value, honoring quotes, inline comments and an
// optional leading "export".
func splitKeyValue(line string) (string, string, bool) {
	key, valuePart, ok := strings.Cut(line, "=")
	if !ok {
		return "", "", false
	}
	key = strings.TrimSpace(key)
	key = strings.TrimSpace(strings.TrimPrefix(key, "export "))
	if key == "" {
		return "", "", false
	}
	valuePart = strings.TrimSpace(valuePart)

	if strings.HasPrefix(valuePart, "\"") || strings.HasPrefix(valuePart, "'") {
		if end := closingQuoteIndex(valuePart, valuePart[0]); end >= 0 {
			valuePart = valuePart[:end+1]
		}
	} else if idx := inlineCommentIndex(valuePart); idx >= 0 {
		valuePart = strings.TrimSpace(valuePart[:idx])
	}

	return key, trimQuotes(valuePart), true
}

func parseEnvFile(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open config file: %w", err)
	}
	defer file.Close()

	raw := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		key, value, ok := splitKeyValue(trimmed)
		if !ok {
			continue
		}
		raw[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	return raw, nil
}
