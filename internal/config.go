package internal

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

type Config struct {
	Host     string `env:"HOST,default=0.0.0.0"`
	Port     int    `env:"PORT,default=8080"`
	LogLevel string `env:"LOG_LEVEL,default=INFO"`

	JWTSecret         string        `env:"JWT_SECRET,required=true"`
	JWTIssuer         string        `env:"JWT_ISSUER,default=live-queue"`
	AuthTokenDuration time.Duration `env:"AUTH_TOKEN_DURATION,default=24h"`
	VerifyTimeout     time.Duration `env:"VERIFY_TIMEOUT,default=5s"`

	BadgerFilepath string `env:"BADGER_FILEPATH,required=true"`
	FrontendURL    string `env:"FRONTEND_URL,default=*"`

	BufferSize           int           `env:"BUFFER_SIZE,default=1024"`
	ConnectionBufferSize int           `env:"CONNECTION_BUFFER_SIZE,default=256"`
	SinkTimeout          time.Duration `env:"SINK_TIMEOUT,default=100ms"`
	WriteTimeout         time.Duration `env:"WRITE_TIMEOUT,default=10s"`
	PongWait             time.Duration `env:"PONG_WAIT,default=60s"`
	MetricInterval       time.Duration `env:"METRIC_INTERVAL,default=10s"`
	RestartInterval      time.Duration `env:"RESTART_INTERVAL,default=1s"`

	ModerationEnabled bool   `env:"MODERATION_ENABLED,default=true"`
	CharReplacement   string `env:"CHARACTER_REPLACEMENT,default=*"`
}

// Load reads an optional .env file, then the environment.
func Load() (Config, error) {
	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}
	return config, nil
}

func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// AllowedOrigins splits FRONTEND_URL on commas.
func (c Config) AllowedOrigins() []string {
	var origins []string
	for _, o := range strings.Split(c.FrontendURL, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

func CharacterRune(str string) (rune, error) {
	r := []rune(str)
	if len(r) != 1 {
		return 0, fmt.Errorf(
			"CHARACTER_REPLACEMENT must be a single character, got %q",
			str,
		)
	}
	return r[0], nil
}
