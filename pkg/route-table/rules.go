// Package routetable classifies requests with an ordered table of
// (method, path pattern) rules. Patterns use chi syntax, e.g. `/api/book/{id}`.
package routetable

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

// Strategy names how the worker handles a request.
type Strategy string

const (
	// CacheFirst serves stored responses and falls back to the network.
	CacheFirst Strategy = "cache-first"
	// Mutate always goes to the network and refreshes the cache afterwards.
	Mutate Strategy = "mutate"
)

type Rules []Rule

type Rule struct {
	// Method to match. Empty or "*" matches any method.
	Method string `yaml:"method"`
	// Path pattern to match, e.g. `/api/book/{id}`.
	Pattern  string   `yaml:"pattern"`
	Strategy Strategy `yaml:"strategy"`
}

// Table is a compiled, immutable set of rules.
// It is safe for concurrent use.
type Table struct {
	rules    []compiledRule
	fallback Strategy
}

type compiledRule struct {
	Rule
	mux *chi.Mux
}

var noop = http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})

// Compile validates the rules and prepares them for matching.
// Requests matching no rule get the fallback strategy.
func Compile(rules Rules, fallback Strategy) (*Table, error) {
	t := &Table{fallback: fallback}
	for i, rule := range rules {
		switch rule.Strategy {
		case CacheFirst, Mutate:
		case "":
			return nil, fmt.Errorf("rule %d (%s %s): no strategy", i, rule.Method, rule.Pattern)
		default:
			return nil, fmt.Errorf("rule %d (%s %s): unknown strategy %q", i, rule.Method, rule.Pattern, rule.Strategy)
		}
		mux, err := compileRule(rule)
		if err != nil {
			return nil, fmt.Errorf("rule %d (%s %s): %w", i, rule.Method, rule.Pattern, err)
		}
		t.rules = append(t.rules, compiledRule{Rule: rule, mux: mux})
	}
	return t, nil
}

// MustCompile is like Compile but panics on invalid rules.
func MustCompile(rules Rules, fallback Strategy) *Table {
	t, err := Compile(rules, fallback)
	if err != nil {
		panic(err)
	}
	return t
}

// compileRule registers the rule on its own router, so that rules keep
// their order and the first matching one wins.
// chi panics on invalid methods or patterns, which is turned into an error.
func compileRule(rule Rule) (mux *chi.Mux, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	if !strings.HasPrefix(rule.Pattern, "/") {
		return nil, fmt.Errorf("pattern must begin with '/'")
	}
	mux = chi.NewRouter()
	if rule.Method == "" || rule.Method == "*" {
		mux.Handle(rule.Pattern, noop)
	} else {
		mux.Method(strings.ToUpper(rule.Method), rule.Pattern, noop)
	}
	return mux, nil
}

// Find returns the first rule matching the method and path.
func (t *Table) Find(method, path string) (Rule, bool) {
	if path == "" {
		path = "/"
	}
	for _, rule := range t.rules {
		if rule.mux.Match(chi.NewRouteContext(), method, path) {
			return rule.Rule, true
		}
	}
	return Rule{}, false
}

// Strategy returns the strategy for the request.
func (t *Table) Strategy(r *http.Request) Strategy {
	if rule, ok := t.Find(r.Method, r.URL.Path); ok {
		return rule.Strategy
	}
	return t.fallback
}

// Rules returns the rules of the table in evaluation order.
func (t *Table) Rules() Rules {
	rules := make(Rules, 0, len(t.rules))
	for _, rule := range t.rules {
		rules = append(rules, rule.Rule)
	}
	return rules
}
