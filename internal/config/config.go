// Package config 從環境變數載入服務配置。
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Prefix 環境變數前綴，例如 PLATFORMER_PORT。
const Prefix = "PLATFORMER"

// Config 服務配置
type Config struct {
	Port  int  `envconfig:"PORT" default:"3000"`
	Debug bool `envconfig:"DEBUG" default:"false"`

	// 房間
	GracePeriod     time.Duration `envconfig:"GRACE_PERIOD" default:"30s"`
	RoomIdleTimeout time.Duration `envconfig:"ROOM_IDLE_TIMEOUT" default:"2h"`
	CleanupInterval time.Duration `envconfig:"CLEANUP_INTERVAL" default:"1m"`

	// 對外資訊
	PublicHost      string   `envconfig:"PUBLIC_HOST"`
	SocketServerURL string   `envconfig:"SOCKET_SERVER_URL"`
	StaticDir       string   `envconfig:"STATIC_DIR"`
	AllowedOrigins  []string `envconfig:"ALLOWED_ORIGINS"`

	// WebSocket
	SendBuffer        int           `envconfig:"SEND_BUFFER" default:"256"`
	VolatileThreshold int           `envconfig:"VOLATILE_THRESHOLD" default:"64"`
	MaxMessageBytes   int64         `envconfig:"MAX_MESSAGE_BYTES" default:"65536"`
	MessageRate       float64       `envconfig:"MESSAGE_RATE" default:"240"`
	MessageBurst      int           `envconfig:"MESSAGE_BURST" default:"480"`
	PongWait          time.Duration `envconfig:"PONG_WAIT" default:"60s"`

	// QR code
	QRCacheSize int `envconfig:"QR_CACHE_SIZE" default:"128"`
	QRSize      int `envconfig:"QR_SIZE" default:"320"`

	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`
}

// Load 讀取並驗證配置。
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("processing the config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate 檢查配置值範圍。
func (c Config) Validate() error {
	switch {
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("invalid port: %d", c.Port)
	case c.GracePeriod <= 0:
		return fmt.Errorf("grace period must be positive: %s", c.GracePeriod)
	case c.SendBuffer <= 0:
		return fmt.Errorf("send buffer must be positive: %d", c.SendBuffer)
	case c.VolatileThreshold <= 0 || c.VolatileThreshold > c.SendBuffer:
		return fmt.Errorf("volatile threshold must be in (0, %d]: %d", c.SendBuffer, c.VolatileThreshold)
	case c.MessageRate <= 0 || c.MessageBurst <= 0:
		return fmt.Errorf("message rate and burst must be positive")
	case c.QRCacheSize <= 0:
		return fmt.Errorf("qr cache size must be positive: %d", c.QRCacheSize)
	}
	return nil
}

// Addr 回傳監聽地址。
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
