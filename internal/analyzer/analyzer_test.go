package analyzer

import (
	"strings"
	"testing"
)

func TestAnalyzeGreeting(t *testing.T) {
	a := Analyze("hi")

	if a.Complexity != ComplexitySimple {
		t.Fatalf("complexity = %s, want simple", a.Complexity)
	}
	if a.Domain != "general" {
		t.Fatalf("domain = %s, want general", a.Domain)
	}
	if a.NeedsRealtime {
		t.Fatal("greeting should not need realtime data")
	}
	if a.EstimatedTokens != 1 {
		t.Fatalf("estimated tokens = %d, want 1", a.EstimatedTokens)
	}
	if a.Confidence <= 0 || a.Confidence > 1 {
		t.Fatalf("confidence = %v, want (0, 1]", a.Confidence)
	}
	if a.Reasoning == "" {
		t.Fatal("reasoning must not be empty")
	}
}

func TestAnalyzeExpertQuery(t *testing.T) {
	query := "Design a distributed architecture and optimize performance for high throughput and scalability"
	a := Analyze(query)

	if a.Complexity != ComplexityExpert {
		t.Fatalf("complexity = %s, want expert", a.Complexity)
	}
	if a.Domain != "technical" {
		t.Fatalf("domain = %s, want technical", a.Domain)
	}
}

func TestAnalyzeCodingDomain(t *testing.T) {
	a := Analyze("There is a bug in this python function, the code does not compile")
	if a.Domain != "coding" {
		t.Fatalf("domain = %s, want coding", a.Domain)
	}
}

func TestAnalyzeRealtime(t *testing.T) {
	cases := []struct {
		query string
		want  bool
	}{
		{"what is the weather today", true},
		{"latest news about the election", true},
		{"give me the stock price right now", true},
		{"explain how TCP works", false},
	}
	for _, tc := range cases {
		if got := Analyze(tc.query).NeedsRealtime; got != tc.want {
			t.Errorf("NeedsRealtime(%q) = %v, want %v", tc.query, got, tc.want)
		}
	}
}

func TestAnalyzeTieGoesToHigherTier(t *testing.T) {
	// 仅有一个 simple 关键词命中, 加上超长文本给 expert 档 +1:
	// 两档并列时取更高档
	query := "hello " + strings.Repeat("lorem ipsum dolor sit amet consectetur ", 20)
	a := Analyze(query)

	if a.Complexity != ComplexityExpert {
		t.Fatalf("complexity = %s, want expert on tie", a.Complexity)
	}
}

func TestAnalyzeDeterministic(t *testing.T) {
	query := "Compare the pros and cons of several caching strategies for a database-backed API"
	first := Analyze(query)
	for i := 0; i < 10; i++ {
		got := Analyze(query)
		if *got != *first {
			t.Fatalf("analysis not deterministic: %+v vs %+v", got, first)
		}
	}
}

func TestEstimateTokens(t *testing.T) {
	cases := []struct {
		text string
		want int
	}{
		{"", 0},
		{"hi", 1},
		{"one two three", 4},          // round(3 × 1.3) = 4
		{"a b c d e f g h i j", 13},   // round(10 × 1.3)
		{"   spaced    words   ", 3},  // round(2 × 1.3)
	}
	for _, tc := range cases {
		if got := EstimateTokens(tc.text); got != tc.want {
			t.Errorf("EstimateTokens(%q) = %d, want %d", tc.text, got, tc.want)
		}
	}
}
