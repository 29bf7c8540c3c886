package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server  ServerConfig
	World   WorldConfig
	Rooms   RoomConfig
	Voice   VoiceConfig
	ICE     ICEConfig
	Redis   RedisConfig
	Metrics MetricsConfig
	Logging LoggingConfig
}

type ServerConfig struct {
	Host            string
	Port            int
	MaxClients      int
	ShutdownTimeout time.Duration

	WSReadLimit    int64
	WSWriteTimeout time.Duration
	WSPongTimeout  time.Duration
	WSPingInterval time.Duration

	// Per-connection inbound message throttle, independent of the
	// sliding-window creation limits kept in Redis.
	RateLimitPerSec float64
	RateLimitBurst  int
}

type WorldConfig struct {
	SpawnDistanceBase     float64
	SpawnDistanceVariance float64
	PositionFlushInterval time.Duration
	SessionTTL            time.Duration
}

type RoomConfig struct {
	MaxCapacity       int
	BaseRadius        float64
	GrowthRatio       float64
	CreationLimit     int
	CreationWindow    time.Duration
	PasswordMinLength int
	NameMinLength     int
	NameMaxLength     int
	RoleMax           int
	RoleNameMaxLength int
}

type VoiceConfig struct {
	TTL        time.Duration
	Radius     float64
	DailyLimit int
	Window     time.Duration
	MaxBytes   int
}

type ICEConfig struct {
	STUNServers  []string
	TURNHost     string
	TURNPort     int
	TURNUsername string
	TURNPassword string
}

type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	Namespace     string
	WorldChannel  string
	SignalChannel string
}

type MetricsConfig struct {
	Enabled bool
	Port    int
	Path    string
}

type LoggingConfig struct {
	Level  string
	Format string
}

func LoadConfig() *Config {
	namespace := getEnv("REDIS_NAMESPACE", "plaza")
	return &Config{
		Server: ServerConfig{
			Host:            getEnv("PLAZA_HOST", "0.0.0.0"),
			Port:            getEnvInt("PLAZA_PORT", 3000),
			MaxClients:      getEnvInt("MAX_CLIENTS", 100),
			ShutdownTimeout: time.Duration(getEnvInt("PLAZA_SHUTDOWN_TIMEOUT", 10)) * time.Second,
			WSReadLimit:     int64(getEnvInt("PLAZA_WS_READ_LIMIT", 1<<20)),
			WSWriteTimeout:  time.Duration(getEnvInt("PLAZA_WS_WRITE_TIMEOUT", 10)) * time.Second,
			WSPongTimeout:   time.Duration(getEnvInt("PLAZA_WS_PONG_TIMEOUT", 60)) * time.Second,
			WSPingInterval:  time.Duration(getEnvInt("PLAZA_WS_PING_INTERVAL", 54)) * time.Second,
			RateLimitPerSec: getEnvFloat("PLAZA_RATE_LIMIT_PER_SEC", 60),
			RateLimitBurst:  getEnvInt("PLAZA_RATE_LIMIT_BURST", 120),
		},
		World: WorldConfig{
			SpawnDistanceBase:     getEnvFloat("SPAWN_DISTANCE_BASE", 280),
			SpawnDistanceVariance: getEnvFloat("SPAWN_DISTANCE_VARIANCE", 180),
			PositionFlushInterval: time.Duration(getEnvInt("POSITION_FLUSH_INTERVAL_MS", 80)) * time.Millisecond,
			SessionTTL:            time.Duration(getEnvInt("SESSION_TTL_SECONDS", 6*60*60)) * time.Second,
		},
		Rooms: RoomConfig{
			MaxCapacity:       getEnvInt("MAX_ROOM_CAPACITY", 100),
			BaseRadius:        getEnvFloat("CALL_ROOM_BASE_RADIUS", 180),
			GrowthRatio:       getEnvFloat("CALL_ROOM_GROWTH_RATIO", 0.45),
			CreationLimit:     getEnvInt("ROOM_CREATION_LIMIT", 3),
			CreationWindow:    time.Duration(getEnvInt("ROOM_CREATION_WINDOW_MS", 60*1000)) * time.Millisecond,
			PasswordMinLength: getEnvInt("ROOM_PASSWORD_MIN_LENGTH", 4),
			NameMinLength:     getEnvInt("ROOM_NAME_MIN_LENGTH", 2),
			NameMaxLength:     getEnvInt("ROOM_NAME_MAX_LENGTH", 40),
			RoleMax:           getEnvInt("ROOM_ROLE_MAX", 8),
			RoleNameMaxLength: getEnvInt("ROOM_ROLE_NAME_MAX_LENGTH", 30),
		},
		Voice: VoiceConfig{
			TTL:        time.Duration(getEnvInt("VOICE_MESSAGE_TTL_MS", 24*60*60*1000)) * time.Millisecond,
			Radius:     getEnvFloat("VOICE_MESSAGE_RADIUS", 70),
			DailyLimit: getEnvInt("VOICE_MESSAGE_DAILY_LIMIT", 3),
			Window:     time.Duration(getEnvInt("VOICE_MESSAGE_WINDOW_MS", 24*60*60*1000)) * time.Millisecond,
			MaxBytes:   getEnvInt("VOICE_MESSAGE_MAX_BYTES", 650000),
		},
		ICE: ICEConfig{
			STUNServers:  getEnvList("STUN_SERVERS"),
			TURNHost:     getEnv("TURN_HOST", ""),
			TURNPort:     getEnvInt("TURN_PORT", 3478),
			TURNUsername: getEnv("TURN_USERNAME", "plaza"),
			TURNPassword: getEnv("TURN_PASSWORD", "plaza"),
		},
		Redis: RedisConfig{
			Addr:          getEnv("REDIS_ADDR", "localhost:6379"),
			Password:      getEnv("REDIS_PASSWORD", ""),
			DB:            getEnvInt("REDIS_DB", 0),
			Namespace:     namespace,
			WorldChannel:  getEnv("REDIS_WORLD_CHANNEL", namespace+":world-events"),
			SignalChannel: getEnv("REDIS_SIGNAL_CHANNEL", namespace+":signal-events"),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("METRICS_ENABLED", true),
			Port:    getEnvInt("METRICS_PORT", 9090),
			Path:    getEnv("METRICS_PATH", "/metrics"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var list []string
	for _, entry := range strings.Split(value, ",") {
		entry = strings.TrimSpace(entry)
		if entry != "" {
			list = append(list, entry)
		}
	}
	return list
}
