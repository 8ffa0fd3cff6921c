package tokens

import (
	"math"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"backend/pkg/aiinterface"
)

// 每条消息的封装开销（角色标记等）, 取 OpenAI chat 格式的经验值
const perMessageOverhead = 4

var (
	once sync.Once
	enc  *tiktoken.Tiktoken
)

// encoding 懒加载 cl100k_base 编码器
// 加载失败（如离线环境缺 BPE 数据）时返回 nil, 调用方退化为估算
func encoding() *tiktoken.Tiktoken {
	once.Do(func() {
		e, err := tiktoken.GetEncoding(tiktoken.MODEL_CL100K_BASE)
		if err == nil {
			enc = e
		}
	})
	return enc
}

// Count 统计文本 Token 数, 编码器不可用时退化为 Estimate
func Count(text string) int {
	if e := encoding(); e != nil {
		return len(e.Encode(text, nil, nil))
	}
	return Estimate(text)
}

// CountMessages 统计一组消息的 Token 总数, 含每条消息的固定开销
func CountMessages(messages []aiinterface.Message) int {
	total := 0
	for _, m := range messages {
		total += Count(m.Content) + perMessageOverhead
	}
	return total
}

// Estimate 粗略估算: round(词数 × 1.3)
func Estimate(text string) int {
	return int(math.Round(float64(len(strings.Fields(text))) * 1.3))
}
