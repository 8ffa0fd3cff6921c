package tokens

import (
	"testing"

	"backend/pkg/aiinterface"
)

func TestEstimate(t *testing.T) {
	cases := []struct {
		text string
		want int
	}{
		{"", 0},
		{"hello", 1},
		{"one two three", 4}, // round(3 × 1.3)
	}
	for _, tc := range cases {
		if got := Estimate(tc.text); got != tc.want {
			t.Errorf("Estimate(%q) = %d, want %d", tc.text, got, tc.want)
		}
	}
}

func TestCountNonEmpty(t *testing.T) {
	// 无论走 tiktoken 还是估算退化, 非空文本都必须计出正数
	if got := Count("hello world"); got <= 0 {
		t.Fatalf("Count = %d, want > 0", got)
	}
	if got := Count(""); got != 0 {
		t.Fatalf("Count(\"\") = %d, want 0", got)
	}
}

func TestCountMessagesIncludesOverhead(t *testing.T) {
	messages := []aiinterface.Message{
		{Role: "system", Content: "you are helpful"},
		{Role: "user", Content: "hello"},
	}

	total := CountMessages(messages)
	sum := Count(messages[0].Content) + Count(messages[1].Content)
	if total != sum+2*perMessageOverhead {
		t.Fatalf("CountMessages = %d, want %d", total, sum+2*perMessageOverhead)
	}
}

func TestCountMessagesEmpty(t *testing.T) {
	if got := CountMessages(nil); got != 0 {
		t.Fatalf("CountMessages(nil) = %d, want 0", got)
	}
}
