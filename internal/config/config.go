package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type AppConfig struct {
	HTTPPort    string
	PostgresDSN string
	RedisURL    string

	// Telegram 通知
	BotToken string
	AdminID  int64

	// Marzban 面板
	MarzbanURL  string
	MarzbanUser string
	MarzbanPass string
	DNS1        string
	DNS2        string

	// YooKassa 支付
	YooAccountID string
	YooSecretKey string
	YooReturnURL string

	TrialDays     int
	PricePerMonth int

	// 夜间缓存刷新
	RefreshCron string
	Timezone    string
}

func Load() AppConfig {
	// 本地开发时载入 .env（环境变量优先）
	_ = godotenv.Load()

	port := os.Getenv("HTTP_PORT")
	if port == "" {
		port = "8080"
	}

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		dsn = "host=localhost port=5432 user=tddbot dbname=tddbot sslmode=disable"
	}

	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		redisURL = "redis://localhost:6379"
	}

	trialDays := 3
	if v := os.Getenv("TRIAL_DAYS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			trialDays = parsed
		}
	}

	price := 50
	if v := os.Getenv("PRICE_PER_MONTH"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			price = parsed
		}
	}

	var adminID int64
	if v := os.Getenv("ADMIN_ID"); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			adminID = parsed
		}
	}

	dns1 := os.Getenv("DNS1_URL")
	if dns1 == "" {
		dns1 = "dns1"
	}
	dns2 := os.Getenv("DNS2_URL")
	if dns2 == "" {
		dns2 = "dns2"
	}

	refreshCron := os.Getenv("REFRESH_CRON")
	if refreshCron == "" {
		refreshCron = "0 0 3 * * *"
	}
	tz := os.Getenv("TZ_NAME")
	if tz == "" {
		tz = "Europe/Moscow"
	}

	return AppConfig{
		HTTPPort:      port,
		PostgresDSN:   dsn,
		RedisURL:      redisURL,
		BotToken:      os.Getenv("BOT_TOKEN"),
		AdminID:       adminID,
		MarzbanURL:    os.Getenv("M_DIGITAL_URL"),
		MarzbanUser:   os.Getenv("M_DIGITAL_U"),
		MarzbanPass:   os.Getenv("M_DIGITAL_P"),
		DNS1:          dns1,
		DNS2:          dns2,
		YooAccountID:  os.Getenv("YOO_ACCOUNT_ID"),
		YooSecretKey:  os.Getenv("YOO_SECRET_KEY"),
		YooReturnURL:  os.Getenv("YOO_RETURN_URL"),
		TrialDays:     trialDays,
		PricePerMonth: price,
		RefreshCron:   refreshCron,
		Timezone:      tz,
	}
}
