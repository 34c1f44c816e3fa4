package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:  "info",
			StoreName: "TechTrend Store",
		},
		Completion: CompletionConfig{
			Enabled:     true,
			APIBase:     "https://api.openai.com/v1",
			Model:       "gpt-4o-mini",
			MaxTokens:   800,
			Temperature: 0.7,
		},
		Catalog: CatalogConfig{
			BaseURL: "http://localhost:8090/api/catalog",
		},
		Cart: CartConfig{
			BaseURL: "http://localhost:8090/api/cart",
		},
		Speech: SpeechConfig{
			Enabled:        false,
			CaptureAPIBase: "https://api.openai.com/v1",
			CaptureModel:   "whisper-1",
			SynthAPIBase:   "https://api.openai.com/v1",
			SynthModel:     "tts-1",
		},
		History: HistoryConfig{
			DBPath: "~/.shopassist/history.db",
		},
		Assistant: AssistantConfig{
			MaxCandidates:      5,
			SuggestionChance:   0.3,
			SuggestionDelayMs:  4000,
			HistoryLimit:       30,
			RateLimitPerMinute: 30,
			RateLimitBurst:     5,
		},
		Channel: ChannelConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8082,
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
	}
}
