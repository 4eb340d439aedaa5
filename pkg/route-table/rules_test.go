package routetable

import (
	"net/http"
	"reflect"
	"testing"
)

var testRules = Rules{
	{Method: "POST", Pattern: "/api/addbook", Strategy: Mutate},
	{Method: "DELETE", Pattern: "/api/book/{id}", Strategy: Mutate},
}

func TestStrategy(t *testing.T) {
	table := MustCompile(testRules, CacheFirst)
	for _, test := range []struct {
		method   string
		url      string
		strategy Strategy
	}{
		{"POST", "/api/addbook", Mutate},
		{"DELETE", "/api/book/12", Mutate},
		{"GET", "/api/book/12", CacheFirst},
		{"GET", "/api/books/15", CacheFirst},
		{"GET", "/catalogue", CacheFirst},
		{"POST", "/api/upload", CacheFirst},
		{"DELETE", "/api/book/12/cover", CacheFirst},
		{"GET", "/api/addbook?x=1", CacheFirst},
	} {
		req, _ := http.NewRequest(test.method, test.url, nil)
		if s := table.Strategy(req); s != test.strategy {
			t.Fatalf("%s %s has strategy %s, expected %s", test.method, test.url, s, test.strategy)
		}
	}
}

func TestFirstRuleWins(t *testing.T) {
	table := MustCompile(Rules{
		{Method: "*", Pattern: "/api/book/{id}", Strategy: CacheFirst},
		{Method: "DELETE", Pattern: "/api/book/{id}", Strategy: Mutate},
	}, Mutate)
	rule, ok := table.Find("DELETE", "/api/book/3")
	if !ok || rule.Strategy != CacheFirst {
		t.Fatalf("Found %+v ok=%v", rule, ok)
	}
	if _, ok := table.Find("GET", "/api/books/0"); ok {
		t.Fatalf("Unexpected match")
	}
}

func TestRulesKeepOrder(t *testing.T) {
	table := MustCompile(testRules, CacheFirst)
	if rules := table.Rules(); !reflect.DeepEqual(rules, testRules) {
		t.Fatalf("Rules are %+v", rules)
	}
}

func TestCompileErrors(t *testing.T) {
	for _, rule := range []Rule{
		{Method: "FETCH", Pattern: "/api/addbook", Strategy: Mutate},
		{Method: "POST", Pattern: "api/addbook", Strategy: Mutate},
		{Method: "POST", Pattern: "/api/addbook"},
		{Method: "POST", Pattern: "/api/addbook", Strategy: "network-only"},
	} {
		if _, err := Compile(Rules{rule}, CacheFirst); err == nil {
			t.Fatalf("Rule %+v compiled", rule)
		}
	}
}
