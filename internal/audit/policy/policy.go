// Package policy decides which fields and message content may reach the
// customer stream. The forbidden tables are static configuration, not a
// complete model of every way sensitive data could leak; extend them as new
// vendors and cost shapes appear.
package policy

import (
	"strings"

	derrors "chronicle/pkg/domain-errors"
)

// defaultForbiddenKeys are dropped from customer-bound field bags, matched
// case-insensitively at any nesting depth. Dropped, not masked: the value
// must not appear in any form.
var defaultForbiddenKeys = []string{
	"internal_cost",
	"customer_charge",
	"margin_percent",
	"provider_name",
	"model_name",
	"error_details",
	"provider_response",
	"api_key",
	"api_secret",
	"secret",
	"token",
	"credential",
	"access_token",
	"refresh_token",
	"password",
	"private_key",
	"webhook_secret",
}

// defaultForbiddenPatterns reject a customer message outright when found in
// its lower-cased form: price-like tokens, margin/cost mentions, vendor and
// model names, credential mentions.
var defaultForbiddenPatterns = []string{
	"$0.0",
	"cost:",
	"internal cost",
	"margin:",
	"margin %",
	"provider:",
	"deepgram",
	"elevenlabs",
	"openrouter",
	"gpt-4",
	"gpt4",
	"claude",
	"api_key",
	"api key",
	"secret",
}

// Policy holds the forbidden-field and forbidden-pattern tables. The zero
// value is unusable; construct via Default or New.
type Policy struct {
	forbiddenKeys map[string]struct{}
	patterns      []string
}

// Default returns the policy with the platform's standard tables.
func Default() *Policy {
	return New(defaultForbiddenKeys, defaultForbiddenPatterns)
}

// New builds a policy from explicit tables. Keys are matched
// case-insensitively; patterns are matched as substrings of the lower-cased
// message.
func New(forbiddenKeys, forbiddenPatterns []string) *Policy {
	keys := make(map[string]struct{}, len(forbiddenKeys))
	for _, k := range forbiddenKeys {
		keys[strings.ToLower(k)] = struct{}{}
	}
	patterns := make([]string, len(forbiddenPatterns))
	for i, p := range forbiddenPatterns {
		patterns[i] = strings.ToLower(p)
	}
	return &Policy{forbiddenKeys: keys, patterns: patterns}
}

// Extend returns a policy with additional keys and patterns on top of the
// receiver's tables.
func (p *Policy) Extend(keys, patterns []string) *Policy {
	mergedKeys := make([]string, 0, len(p.forbiddenKeys)+len(keys))
	for k := range p.forbiddenKeys {
		mergedKeys = append(mergedKeys, k)
	}
	mergedKeys = append(mergedKeys, keys...)
	return New(mergedKeys, append(append([]string{}, p.patterns...), patterns...))
}

// Classify partitions a field bag for the customer stream: forbidden keys are
// dropped at every nesting depth, everything else passes through unchanged.
// Total function: never errors, nil in means nil out.
func (p *Policy) Classify(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	return p.classifyMap(fields)
}

// classifyValue walks the closed set of container shapes: map, list, scalar.
// Anything that is not a map or a list is a leaf and passes through.
func (p *Policy) classifyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return p.classifyMap(val)
	case []any:
		return p.classifyList(val)
	default:
		return v
	}
}

func (p *Policy) classifyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if _, forbidden := p.forbiddenKeys[strings.ToLower(k)]; forbidden {
			continue
		}
		out[k] = p.classifyValue(v)
	}
	return out
}

func (p *Policy) classifyList(l []any) []any {
	out := make([]any, len(l))
	for i, v := range l {
		out[i] = p.classifyValue(v)
	}
	return out
}

// Violation returns the first forbidden pattern found in the message, if any.
func (p *Policy) Violation(message string) (string, bool) {
	lowered := strings.ToLower(message)
	for _, pattern := range p.patterns {
		if strings.Contains(lowered, pattern) {
			return pattern, true
		}
	}
	return "", false
}

// ValidateMessage rejects customer messages containing forbidden content.
// The offending pattern is named in the error so callers can fix their input;
// this runs before any write begins, so rejection has no storage side effect.
func (p *Policy) ValidateMessage(message string) error {
	if pattern, found := p.Violation(message); found {
		return derrors.Newf(derrors.CodeContentPolicy,
			"message contains forbidden pattern %q; use customer-safe language", pattern)
	}
	return nil
}
