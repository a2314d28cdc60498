package config

import (
	"os"
	"strconv"
	"time"
)

type TransferConfig struct {
	PendingTTL        time.Duration
	VelocityWindow    time.Duration
	VelocityThreshold int
	CallbacksEnabled  bool
	CallbackTimeout   time.Duration
	AdminChatID       int64
	BotUsername       string
	QueueSize         int
}

func LoadTransferConfig() *TransferConfig {
	return &TransferConfig{
		PendingTTL:        getEnvAsDuration("TRANSFER_PENDING_TTL", 60*time.Second),
		VelocityWindow:    getEnvAsDuration("TRANSFER_VELOCITY_WINDOW", 10*time.Minute),
		VelocityThreshold: getEnvAsInt("TRANSFER_VELOCITY_THRESHOLD", 50),
		CallbacksEnabled:  getEnvAsBool("TRANSFER_CALLBACKS_ENABLED", true),
		CallbackTimeout:   getEnvAsDuration("TRANSFER_CALLBACK_TIMEOUT", 5*time.Second),
		AdminChatID:       getEnvAsInt64("ADMIN_CHAT_ID", 0),
		BotUsername:       getEnv("BOT_USERNAME", "coinclub_bot"),
		QueueSize:         getEnvAsInt("TRANSFER_QUEUE_SIZE", 256),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.ParseInt(val, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if boolVal, err := strconv.ParseBool(val); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			return duration
		}
	}
	return defaultVal
}
