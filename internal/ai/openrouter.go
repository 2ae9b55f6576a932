package ai

import "strings"

const defaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"

type openrouterConfig struct {
	APIKey      string `json:"api_key"`
	BaseURL     string `json:"base_url"`
	HTTPReferer string `json:"http_referer"`
	XTitle      string `json:"x_title"`
	Timeout     int    `json:"timeout"`
}

// OpenRouter speaks the OpenAI chat wire format, so only the endpoint and
// attribution headers differ.
func createOpenRouterFactory(args interface{}) (IStreamProvider, error) {
	cfg := &openrouterConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultOpenRouterBaseURL
	}
	return newOpenAIClient("openrouter", OpenAIConfig{
		APIKey:  cfg.APIKey,
		BaseURL: baseURL,
		Timeout: cfg.Timeout,
		Headers: map[string]string{
			"HTTP-Referer": strings.TrimSpace(cfg.HTTPReferer),
			"X-Title":      strings.TrimSpace(cfg.XTitle),
		},
	}), nil
}

func init() {
	Register("openrouter", createOpenRouterFactory)
}
