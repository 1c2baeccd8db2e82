package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds everything the ligai process needs at startup.
// All values come from environment variables; Load applies defaults and
// rejects configurations that cannot possibly run.
type Config struct {
	AudioSocket AudioSocketConfig
	AMI         AMIConfig
	API         APIConfig
	AI          AIConfig
	Groq        GroqConfig
	OpenRouter  OpenRouterConfig
	Murf        MurfConfig
	Gemini      GeminiConfig
	DB          DBConfig
	Media       MediaConfig
}

// AudioSocketConfig configures the TCP server Asterisk streams call audio to.
type AudioSocketConfig struct {
	Host string
	Port int
}

// AMIConfig configures the Asterisk Manager Interface client.
type AMIConfig struct {
	Host     string
	Port     int
	Username string
	Password string
}

// APIConfig configures the REST/WebSocket façade.
type APIConfig struct {
	Port          int
	JWTSecret     string
	AdminUser     string
	AdminPassword string
}

// AIConfig selects which conversational backend drives the calls.
type AIConfig struct {
	Provider string // "openrouter" or "gemini"
}

type GroqConfig struct {
	APIKey string
}

type OpenRouterConfig struct {
	APIKey string
	Model  string
}

type MurfConfig struct {
	APIKey  string
	VoiceID string
	Style   string
	Model   string
}

type GeminiConfig struct {
	APIKey string
	Model  string
}

// DBConfig configures the Postgres store. An empty DSN disables persistence.
type DBConfig struct {
	DSN string
}

// MediaConfig locates local audio assets.
type MediaConfig struct {
	GreetingPath  string
	RecordingsDir string
}

// Load reads the configuration from the environment.
func Load() (Config, error) {
	c := Config{
		AudioSocket: AudioSocketConfig{
			Host: getenv("AUDIOSOCKET_HOST", "0.0.0.0"),
			Port: getint("AUDIOSOCKET_PORT", 9092),
		},
		AMI: AMIConfig{
			Host:     getenv("AMI_HOST", "127.0.0.1"),
			Port:     getint("AMI_PORT", 5038),
			Username: getenv("AMI_USERNAME", "ligai"),
			Password: getenv("AMI_PASSWORD", "ligai2025"),
		},
		API: APIConfig{
			Port:          getint("API_PORT", 3001),
			JWTSecret:     getenv("JWT_SECRET", "ligai-secret-key-change-in-production"),
			AdminUser:     getenv("ADMIN_USERNAME", "admin"),
			AdminPassword: getenv("ADMIN_PASSWORD", "admin123"),
		},
		AI: AIConfig{
			Provider: strings.ToLower(getenv("AI_PROVIDER", "openrouter")),
		},
		Groq: GroqConfig{
			APIKey: os.Getenv("GROQ_API_KEY"),
		},
		OpenRouter: OpenRouterConfig{
			APIKey: os.Getenv("OPENROUTER_API_KEY"),
			Model:  getenv("AI_MODEL", "anthropic/claude-3.5-sonnet"),
		},
		Murf: MurfConfig{
			APIKey:  os.Getenv("MURF_API_KEY"),
			VoiceID: getenv("MURF_VOICE_ID", "Isadora"),
			Style:   getenv("MURF_STYLE", "Conversational"),
			Model:   getenv("MURF_MODEL", "GEN2"),
		},
		Gemini: GeminiConfig{
			APIKey: os.Getenv("GEMINI_API_KEY"),
			Model:  getenv("GEMINI_MODEL", "gemini-2.0-flash"),
		},
		DB: DBConfig{
			DSN: os.Getenv("DATABASE_URL"),
		},
		Media: MediaConfig{
			GreetingPath:  getenv("GREETING_PATH", "greeting.pcm"),
			RecordingsDir: getenv("RECORDINGS_DIR", "data/recordings"),
		},
	}

	if err := c.validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) validate() error {
	var missing []string

	if c.Groq.APIKey == "" {
		missing = append(missing, "GROQ_API_KEY")
	}
	if c.Murf.APIKey == "" {
		missing = append(missing, "MURF_API_KEY")
	}
	switch c.AI.Provider {
	case "openrouter":
		if c.OpenRouter.APIKey == "" {
			missing = append(missing, "OPENROUTER_API_KEY")
		}
	case "gemini":
		if c.Gemini.APIKey == "" {
			missing = append(missing, "GEMINI_API_KEY")
		}
	default:
		return fmt.Errorf("config: unknown AI_PROVIDER %q (want openrouter or gemini)", c.AI.Provider)
	}

	if len(missing) > 0 {
		return fmt.Errorf("config: missing required environment variables: %s", strings.Join(missing, ", "))
	}

	if c.AudioSocket.Port <= 0 || c.AudioSocket.Port > 65535 {
		return fmt.Errorf("config: invalid AUDIOSOCKET_PORT %d", c.AudioSocket.Port)
	}
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("config: invalid API_PORT %d", c.API.Port)
	}
	return nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getint(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
