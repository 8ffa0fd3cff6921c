package ai

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"backend/internal/ai/anthropic"
	"backend/internal/ai/google"
	"backend/internal/ai/ollama"
	"backend/internal/ai/openai"
	"backend/internal/config"
	"backend/pkg/aiinterface"
)

// ClientFactory 模型客户端工厂
// 启动时根据配置构建显式的 提供商 -> 客户端 静态映射, 运行期只读
type ClientFactory struct {
	clients       map[string]aiinterface.ModelClient     // key: 提供商名称
	models        map[string]*aiinterface.ModelDescriptor // key: 模型 ID
	modelOrder    []string                               // 模型声明顺序
	providerOrder []string                               // 提供商声明顺序, 即跨提供商降级顺序
	mu            sync.RWMutex
}

// NewClientFactory 根据路由配置创建客户端工厂
func NewClientFactory(cfg *config.RouterConfig) (*ClientFactory, error) {
	f := &ClientFactory{
		clients: make(map[string]aiinterface.ModelClient, len(cfg.Providers)),
		models:  make(map[string]*aiinterface.ModelDescriptor, len(cfg.Models)),
	}

	for _, pc := range cfg.Providers {
		client, err := createClient(&pc)
		if err != nil {
			return nil, fmt.Errorf("创建提供商 %s 客户端失败: %w", pc.Name, err)
		}
		f.clients[pc.Name] = client
		f.providerOrder = append(f.providerOrder, pc.Name)
	}

	for _, mc := range cfg.Models {
		desc := &aiinterface.ModelDescriptor{
			ID:                mc.ID,
			Provider:          mc.Provider,
			DisplayName:       mc.DisplayName,
			MaxTokens:         mc.MaxTokens,
			SupportsStreaming: mc.SupportsStreaming,
			InputCostPer1K:    mc.InputCostPer1K,
			OutputCostPer1K:   mc.OutputCostPer1K,
			Tier:              aiinterface.ModelTier(mc.Tier),
			Available:         mc.Enabled,
		}
		f.models[mc.ID] = desc
		f.modelOrder = append(f.modelOrder, mc.ID)
	}

	return f, nil
}

// NewStaticFactory 使用现成的客户端与模型描述构建工厂, 供测试与嵌入场景使用
func NewStaticFactory(clients map[string]aiinterface.ModelClient, models []*aiinterface.ModelDescriptor, providerOrder []string) *ClientFactory {
	f := &ClientFactory{
		clients:       clients,
		models:        make(map[string]*aiinterface.ModelDescriptor, len(models)),
		providerOrder: providerOrder,
	}
	for _, m := range models {
		f.models[m.ID] = m
		f.modelOrder = append(f.modelOrder, m.ID)
	}
	return f
}

// createClient 按驱动创建客户端
// deepseek/qwen 等 OpenAI 兼容提供商复用 openai 驱动
func createClient(pc *config.ProviderConfig) (aiinterface.ModelClient, error) {
	cc := &aiinterface.ClientConfig{
		Provider: pc.Name,
		APIKey:   resolveAPIKey(pc),
		BaseURL:  pc.BaseURL,
		OrgID:    pc.OrgID,
		Timeout:  pc.Timeout,
		Headers:  pc.Headers,
	}

	driver := pc.Driver
	if driver == "" {
		driver = "openai"
	}

	switch driver {
	case "openai", "deepseek", "qwen":
		return openai.NewClient(cc)
	case "anthropic", "claude":
		return anthropic.NewClient(cc)
	case "gemini", "google":
		return google.NewClient(cc)
	case "ollama":
		return ollama.NewClient(cc)
	default:
		return nil, fmt.Errorf("不支持的驱动: %s", driver)
	}
}

// resolveAPIKey 解析 API Key, 配置为空时回退到 Provider 默认环境变量
func resolveAPIKey(pc *config.ProviderConfig) string {
	if key := strings.TrimSpace(pc.APIKey); key != "" {
		return key
	}
	envKeyMap := map[string]string{
		"openai":    "OPENAI_API_KEY",
		"anthropic": "ANTHROPIC_API_KEY",
		"gemini":    "GEMINI_API_KEY",
		"google":    "GOOGLE_API_KEY",
		"deepseek":  "DEEPSEEK_API_KEY",
		"qwen":      "QWEN_API_KEY",
	}
	if envVar, ok := envKeyMap[pc.Name]; ok {
		return strings.TrimSpace(os.Getenv(envVar))
	}
	return ""
}

// ClientFor 获取指定模型的客户端及其描述
func (f *ClientFactory) ClientFor(modelID string) (aiinterface.ModelClient, *aiinterface.ModelDescriptor, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	desc, ok := f.models[modelID]
	if !ok {
		return nil, nil, fmt.Errorf("模型不存在: %s", modelID)
	}
	client, ok := f.clients[desc.Provider]
	if !ok {
		return nil, nil, fmt.Errorf("提供商未注册: %s", desc.Provider)
	}
	return client, desc, nil
}

// ClientByProvider 按提供商名称获取客户端
func (f *ClientFactory) ClientByProvider(name string) (aiinterface.ModelClient, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	client, ok := f.clients[name]
	return client, ok
}

// Descriptor 查询模型描述
func (f *ClientFactory) Descriptor(modelID string) (*aiinterface.ModelDescriptor, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	desc, ok := f.models[modelID]
	return desc, ok
}

// Models 返回全部模型描述（按声明顺序）
func (f *ClientFactory) Models() []*aiinterface.ModelDescriptor {
	f.mu.RLock()
	defer f.mu.RUnlock()
	result := make([]*aiinterface.ModelDescriptor, 0, len(f.modelOrder))
	for _, id := range f.modelOrder {
		result = append(result, f.models[id])
	}
	return result
}

// ProviderOrder 返回提供商声明顺序
func (f *ClientFactory) ProviderOrder() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]string(nil), f.providerOrder...)
}

// Close 关闭所有客户端
func (f *ClientFactory) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, client := range f.clients {
		_ = client.Close()
	}
}
