// Package intent decides whether an utterance is answered by a local tool
// instead of the remote model.
package intent

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/PipeOpsHQ/sai/tools"
)

var (
	arithmeticPattern = regexp.MustCompile(`\d+[+\-*/]\d+`)
	expressionPattern = regexp.MustCompile(`[\d+\-*/().\s]+`)
	digitPattern      = regexp.MustCompile(`\d`)
)

// Dispatch names the tool an utterance resolves to and the arguments to call
// it with.
type Dispatch struct {
	Tool string          `json:"tool"`
	Args json.RawMessage `json:"args"`
}

// Classify applies the fixed keyword policy. Checks run in order and the first
// match wins; matching is plain substring containment on the lower-cased text.
func Classify(utterance string) (Dispatch, bool) {
	lower := strings.ToLower(utterance)

	if strings.Contains(lower, "calculate") || strings.Contains(lower, "math") || arithmeticPattern.MatchString(utterance) {
		if expr, ok := extractExpression(utterance); ok {
			args, _ := json.Marshal(map[string]string{"expression": expr})
			return Dispatch{Tool: tools.Calculator, Args: args}, true
		}
	}

	if strings.Contains(lower, "time") || strings.Contains(lower, "date") || strings.Contains(lower, "now") {
		return Dispatch{Tool: tools.DateTime, Args: json.RawMessage(`{}`)}, true
	}

	if strings.Contains(lower, "random") || strings.Contains(lower, "pick") || strings.Contains(lower, "choose") {
		return Dispatch{Tool: tools.Random, Args: json.RawMessage(`{}`)}, true
	}

	return Dispatch{}, false
}

// extractExpression returns the first arithmetic run holding a digit. When
// only whitespace runs exist the first one is used, which the calculator then
// reports as an invalid expression.
func extractExpression(utterance string) (string, bool) {
	matches := expressionPattern.FindAllString(utterance, -1)
	if len(matches) == 0 {
		return "", false
	}
	for _, m := range matches {
		if digitPattern.MatchString(m) {
			return strings.TrimSpace(m), true
		}
	}
	return strings.TrimSpace(matches[0]), true
}

// Executor is the part of tools.Registry the router needs.
type Executor interface {
	Execute(ctx context.Context, id string, args json.RawMessage) string
}

type Router struct {
	tools Executor
}

func NewRouter(exec Executor) *Router {
	return &Router{tools: exec}
}

// Route classifies the utterance and, on a match, runs the tool and returns
// its text.
func (r *Router) Route(ctx context.Context, utterance string) (string, bool) {
	d, ok := Classify(utterance)
	if !ok {
		return "", false
	}
	return r.tools.Execute(ctx, d.Tool, d.Args), true
}

// RouteDispatch is Route that also reports which tool answered.
func (r *Router) RouteDispatch(ctx context.Context, utterance string) (Dispatch, string, bool) {
	d, ok := Classify(utterance)
	if !ok {
		return Dispatch{}, "", false
	}
	return d, r.tools.Execute(ctx, d.Tool, d.Args), true
}
