package executor

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

const safeModeSystem = "Safe mode is enabled. Do not modify files, commit, push or deploy. " +
	"Describe the changes you would make instead."

var refPattern = regexp.MustCompile(`\$\{([A-Za-z0-9_.-]+)\}`)

// substitute replaces ${id} references in string arguments with the output of
// step id. A string that is exactly one reference takes the output's value
// unchanged.
func substitute(v any, vars map[string]any) any {
	switch t := v.(type) {
	case string:
		if m := refPattern.FindStringSubmatch(t); m != nil && m[0] == t {
			if out, ok := vars[m[1]]; ok {
				return out
			}
			return t
		}
		return refPattern.ReplaceAllStringFunc(t, func(ref string) string {
			id := ref[2 : len(ref)-1]
			if out, ok := vars[id]; ok {
				return render(out)
			}
			return ref
		})
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = substitute(e, vars)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = substitute(e, vars)
		}
		return out
	}
	return v
}

func substituteArgs(args map[string]any, vars map[string]any) map[string]any {
	if args == nil {
		return map[string]any{}
	}
	return substitute(args, vars).(map[string]any)
}

// buildPrompt renders the user prompt for a model step.
func buildPrompt(s ModelStep, vars map[string]any) string {
	var b strings.Builder

	action := s.Action
	if action == "" {
		action = "default"
	}
	fmt.Fprintf(&b, "Action: %s. Please perform this step and return a concise result.\n", action)

	if s.Input != nil {
		b.WriteString("\n## Input\n\n")
		b.WriteString(render(substitute(s.Input, vars)))
		b.WriteString("\n")
	}

	keys := s.Uses
	if len(keys) == 0 {
		for k := range vars {
			keys = append(keys, k)
		}
		sort.Strings(keys)
	}
	var ctx strings.Builder
	for _, k := range keys {
		out, ok := vars[k]
		if !ok {
			continue
		}
		fmt.Fprintf(&ctx, "### Output from %s\n\n%s\n\n", k, render(out))
	}
	if ctx.Len() > 0 {
		b.WriteString("\n## Context from previous steps\n\n")
		b.WriteString(ctx.String())
	}
	return strings.TrimRight(b.String(), "\n")
}

func render(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

// estimateTokens approximates prompt size at four characters per token.
func estimateTokens(s string) int {
	return (len(s) + 3) / 4
}
