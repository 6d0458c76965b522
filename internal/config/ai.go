package config

import (
	"os"
	"time"
)

// AIConfig holds the question generator settings
type AIConfig struct {
	APIKey  string        `json:"-"` // Never serialize
	BaseURL string        `json:"baseUrl"`
	Model   string        `json:"model"`
	Timeout time.Duration `json:"timeout"`
}

// DefaultAIConfig returns the generator configuration from GEMINI_* variables
func DefaultAIConfig() AIConfig {
	return AIConfig{
		APIKey:  os.Getenv("GEMINI_API_KEY"),
		BaseURL: getEnvOrDefault("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta/models"),
		Model:   getEnvOrDefault("GEMINI_MODEL", "gemini-2.0-flash"),
		Timeout: 30 * time.Second,
	}
}

// IsEnabled returns true if the AI API is configured
func (c AIConfig) IsEnabled() bool {
	return c.APIKey != ""
}

// ModelEndpoint returns the generateContent endpoint of the configured model
func (c AIConfig) ModelEndpoint() string {
	return c.BaseURL + "/" + c.Model + ":generateContent"
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
