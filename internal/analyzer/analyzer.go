package analyzer

import (
	"fmt"
	"math"
	"regexp"
	"strings"
)

// Complexity 查询复杂度档位
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
	ComplexityExpert   Complexity = "expert"
)

// complexityOrder 档位从低到高的固定顺序, 得分并列时取更高档
// （宁可高配, 不冒低配质量风险）
var complexityOrder = []Complexity{
	ComplexitySimple,
	ComplexityModerate,
	ComplexityComplex,
	ComplexityExpert,
}

// Analysis 查询分析结果, 纯函数输出, 每次请求临时生成
type Analysis struct {
	Complexity      Complexity `json:"complexity"`
	Domain          string     `json:"domain"`
	NeedsRealtime   bool       `json:"needsRealtime"`
	EstimatedTokens int        `json:"estimatedTokens"`
	Confidence      float64    `json:"confidence"`
	Reasoning       string     `json:"reasoning"`
}

// 复杂度关键词表, 全部小写匹配
var complexityKeywords = map[Complexity][]string{
	ComplexitySimple: {
		"hi", "hello", "hey", "thanks", "thank you", "ok", "yes", "no",
		"what is", "who is", "define", "translate",
		"你好", "谢谢",
	},
	ComplexityModerate: {
		"explain", "summarize", "describe", "compare", "list",
		"how to", "how do", "why", "difference between", "example",
		"解释", "总结", "对比",
	},
	ComplexityComplex: {
		"analyze", "implement", "design", "debug", "refactor",
		"write a", "build a", "create a", "step by step", "in detail",
		"trade-off", "tradeoffs", "evaluate",
		"分析", "实现", "设计",
	},
	ComplexityExpert: {
		"architecture", "optimize", "optimization", "performance",
		"distributed", "concurrency", "scalability", "algorithm",
		"proof", "formal", "benchmark", "profiling", "throughput",
		"架构", "优化", "性能",
	},
}

// 复杂度正则表, 与关键词同权计分
var complexityPatterns = map[Complexity][]*regexp.Regexp{
	ComplexitySimple: {
		regexp.MustCompile(`^\s*\w{1,12}\s*[?!.]?\s*$`), // 单词级寒暄
	},
	ComplexityModerate: {
		regexp.MustCompile(`(?i)\bcan you\b`),
		regexp.MustCompile(`(?i)\bwhat are the\b`),
	},
	ComplexityComplex: {
		regexp.MustCompile(`(?i)\b(pros and cons|multiple|several)\b`),
		regexp.MustCompile("```"),
	},
	ComplexityExpert: {
		regexp.MustCompile(`(?i)\b(big-?o|latency|p9[59])\b`),
		regexp.MustCompile(`(?i)\bend-to-end\b`),
	},
}

// 消息长度分桶（字符数）, 每个查询恰好给一个档位 +1
var lengthBuckets = []struct {
	limit int
	tier  Complexity
}{
	{40, ComplexitySimple},
	{200, ComplexityModerate},
	{600, ComplexityComplex},
	{math.MaxInt32, ComplexityExpert},
}

// 领域关键词表, 最多匹配者胜出, 无匹配时归入 general
var domainKeywords = map[string][]string{
	"coding": {
		"code", "function", "bug", "compile", "debug", "api", "library",
		"python", "golang", " go ", "javascript", "java ", "rust", "sql",
		"代码", "函数",
	},
	"business": {
		"market", "revenue", "strategy", "customer", "sales", "roi",
		"business", "finance", "invest", "budget",
		"市场", "营收",
	},
	"creative": {
		"story", "poem", "novel", "lyrics", "creative", "fiction",
		"character", "plot", "write a story",
		"故事", "小说",
	},
	"technical": {
		"architecture", "system", "infrastructure", "deploy", "server",
		"database", "network", "performance", "kubernetes", "docker",
		"架构", "系统",
	},
	"research": {
		"research", "paper", "study", "hypothesis", "literature",
		"citation", "experiment", "dataset",
		"研究", "论文",
	},
}

// 实时性关键词, 命中任意一个即标记 needsRealtime
var realtimeKeywords = []string{
	"today", "now", "current", "latest", "recent", "breaking",
	"this week", "this month", "news", "weather", "stock price",
	"real-time", "realtime", "live",
	"今天", "现在", "最新", "实时",
}

var realtimePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bas of (today|now)\b`),
	regexp.MustCompile(`(?i)\bright now\b`),
	regexp.MustCompile(`\b20(2[5-9]|3\d)\b`), // 提及近年份多半需要新数据
}

// Analyze 对原始查询做确定性启发式分析
// 同一输入永远产生同一输出, 不做任何 I/O
func Analyze(query string) *Analysis {
	lower := strings.ToLower(query)

	complexity, confidence, matched := classifyComplexity(lower, query)
	domain := classifyDomain(lower)
	realtime := detectRealtime(lower)
	tokens := EstimateTokens(query)

	reasoning := fmt.Sprintf(
		"复杂度 %s（%d 项特征命中, 置信度 %.2f）, 领域 %s, 实时性 %v, 预估 %d tokens",
		complexity, matched, confidence, domain, realtime, tokens,
	)

	return &Analysis{
		Complexity:      complexity,
		Domain:          domain,
		NeedsRealtime:   realtime,
		EstimatedTokens: tokens,
		Confidence:      confidence,
		Reasoning:       reasoning,
	}
}

// classifyComplexity 对各档位计分取最大者
// 计分 = 关键词命中数 + 正则命中数 + 长度分桶(+1)
func classifyComplexity(lower, raw string) (Complexity, float64, int) {
	scores := make(map[Complexity]int, len(complexityOrder))

	for tier, words := range complexityKeywords {
		for _, w := range words {
			if strings.Contains(lower, w) {
				scores[tier]++
			}
		}
	}
	for tier, patterns := range complexityPatterns {
		for _, p := range patterns {
			if p.MatchString(raw) {
				scores[tier]++
			}
		}
	}

	length := len([]rune(raw))
	for _, bucket := range lengthBuckets {
		if length <= bucket.limit {
			scores[bucket.tier]++
			break
		}
	}

	// 固定顺序遍历: 得分并列时后出现的更高档覆盖前者
	best := ComplexitySimple
	bestScore := -1
	for _, tier := range complexityOrder {
		if scores[tier] >= bestScore {
			best = tier
			bestScore = scores[tier]
		}
	}

	patternCount := len(complexityKeywords[best]) + len(complexityPatterns[best]) + 1
	confidence := float64(bestScore) / float64(patternCount)
	if confidence > 1 {
		confidence = 1
	}
	return best, confidence, bestScore
}

// classifyDomain 领域分类, 最大计数胜出, 并列按固定顺序取先者
func classifyDomain(lower string) string {
	// 固定遍历顺序保证确定性
	order := []string{"coding", "business", "creative", "technical", "research"}

	best := "general"
	bestScore := 0
	for _, domain := range order {
		score := 0
		for _, w := range domainKeywords[domain] {
			if strings.Contains(lower, w) {
				score++
			}
		}
		if score > bestScore {
			best = domain
			bestScore = score
		}
	}
	return best
}

// detectRealtime 检测查询是否依赖实时数据
func detectRealtime(lower string) bool {
	for _, w := range realtimeKeywords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	for _, p := range realtimePatterns {
		if p.MatchString(lower) {
			return true
		}
	}
	return false
}

// EstimateTokens 粗略 Token 估算: round(词数 × 1.3)
func EstimateTokens(text string) int {
	words := len(strings.Fields(text))
	return int(math.Round(float64(words) * 1.3))
}
