package cli

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

var errUsage = errors.New("usage")

func usage(text string) error {
	return fmt.Errorf("%w: %s", errUsage, text)
}

// splitArgs splits a command line on spaces. Double quotes group words and
// may appear inside a token: name="Ada Lovelace" is one argument.
func splitArgs(line string) ([]string, error) {
	var (
		args    []string
		cur     strings.Builder
		inQuote bool
		started bool
	)

	for _, r := range line {
		switch {
		case r == '"':
			inQuote = !inQuote
			started = true
		case (r == ' ' || r == '\t') && !inQuote:
			if started {
				args = append(args, cur.String())
				cur.Reset()
				started = false
			}
		default:
			cur.WriteRune(r)
			started = true
		}
	}
	if inQuote {
		return nil, errors.New("unterminated quote")
	}
	if started {
		args = append(args, cur.String())
	}
	return args, nil
}

// keyValues parses key=value arguments. Keys are case-insensitive.
func keyValues(args []string, allowed ...string) (map[string]string, error) {
	out := make(map[string]string, len(args))
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok {
			return nil, fmt.Errorf("expected key=value, got %q", arg)
		}
		k = strings.ToLower(strings.TrimSpace(k))
		if !slices.Contains(allowed, k) {
			return nil, fmt.Errorf("unknown field %q (want %s)", k, strings.Join(allowed, ", "))
		}
		out[k] = v
	}
	return out, nil
}

// splitList splits a comma separated list, dropping empty items.
func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
