package config

import (
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

var once sync.Once

func InitConfig() {
	once.Do(func() {
		// a missing .env is fine, the environment may already be populated
		_ = godotenv.Load()

		viper.AutomaticEnv()

		viper.BindEnv("api_base_url", "API_BASE_URL")
		viper.BindEnv("api_token", "API_TOKEN")
		viper.BindEnv("api_category_param", "API_CATEGORY_PARAM")
		viper.BindEnv("api_timeout_seconds", "API_TIMEOUT_SECONDS")
		viper.BindEnv("alert_threshold_positive", "ALERT_THRESHOLD_POSITIVE")
		viper.BindEnv("alert_threshold_negative", "ALERT_THRESHOLD_NEGATIVE")
		viper.BindEnv("cron_schedule_1", "CRON_SCHEDULE_1")
		viper.BindEnv("cron_schedule_2", "CRON_SCHEDULE_2")
		viper.BindEnv("cleanup_schedule", "CLEANUP_SCHEDULE")
		viper.BindEnv("alert_schedule", "ALERT_SCHEDULE")
		viper.BindEnv("timezone", "TIMEZONE")
		viper.BindEnv("data_retention_days", "DATA_RETENTION_DAYS")
		viper.BindEnv("db_path", "DB_PATH")
		viper.BindEnv("smtp_host", "SMTP_HOST")
		viper.BindEnv("smtp_port", "SMTP_PORT")
		viper.BindEnv("smtp_user", "SMTP_USER")
		viper.BindEnv("smtp_pass", "SMTP_PASS")
		viper.BindEnv("email_to", "EMAIL_TO")
		viper.BindEnv("telegram_bot_token", "TELEGRAM_BOT_TOKEN")
		viper.BindEnv("telegram_chat_id", "TELEGRAM_CHAT_ID")
		viper.BindEnv("telegram_chart", "TELEGRAM_CHART")
		viper.BindEnv("telegram_commands", "TELEGRAM_COMMANDS")
		viper.BindEnv("chart_font", "CHART_FONT")
		viper.BindEnv("port", "PORT")
		viper.BindEnv("debug", "DEBUG")
		viper.BindEnv("log_level", "LOG_LEVEL")
		viper.BindEnv("log_file", "LOG_FILE")
		viper.BindEnv("lang", "LANG")

		setDefaults(viper.GetViper())
	})
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api_base_url", "http://xiaoyudecqg.cn/htl/mp/api/arbitrage/list")
	v.SetDefault("api_category_param", "type")
	v.SetDefault("api_timeout_seconds", 30)
	v.SetDefault("alert_threshold_positive", 3.0)
	v.SetDefault("alert_threshold_negative", -3.0)
	v.SetDefault("cron_schedule_1", "0 10 * * *")
	v.SetDefault("cron_schedule_2", "0 15 * * *")
	v.SetDefault("cleanup_schedule", "0 23 * * *")
	v.SetDefault("alert_schedule", "0 * * * *")
	v.SetDefault("timezone", "Asia/Shanghai")
	v.SetDefault("data_retention_days", 90)
	v.SetDefault("db_path", "data/funds.db")
	v.SetDefault("smtp_port", 587)
	v.SetDefault("telegram_chart", true)
	v.SetDefault("telegram_commands", false)
	v.SetDefault("port", 3000)
	v.SetDefault("debug", false)
	v.SetDefault("lang", "en")
}

func GetString(key string) string {
	InitConfig()
	return viper.GetString(key)
}

func GetInt(key string) int {
	InitConfig()
	return viper.GetInt(key)
}

func GetBool(key string) bool {
	InitConfig()
	return viper.GetBool(key)
}

func GetFloat64(key string) float64 {
	InitConfig()
	return viper.GetFloat64(key)
}

// Upstream holds the settings of the listing source
type Upstream struct {
	BaseURL       string
	Token         string
	CategoryParam string
	Timeout       time.Duration
}

// Thresholds are the inclusive alert bounds; Negative is expected to be below zero
type Thresholds struct {
	Positive float64
	Negative float64
}

// Schedule holds the cron timetables of the recurring tasks
type Schedule struct {
	CrawlMorning   string
	CrawlAfternoon string
	Cleanup        string
	AlertSweep     string
	Timezone       string
}

type SMTP struct {
	Host string
	Port int
	User string
	Pass string
	To   string
}

type Telegram struct {
	Token  string
	ChatID int64
	Chart  bool
	// Commands enables answering fund queries sent to the bot
	Commands bool
	// ChartFont is an optional TrueType file used for chart labels
	ChartFont string
}

// Notify groups the per-channel connection settings
type Notify struct {
	SMTP     SMTP
	Telegram Telegram
}

// Config is the typed view over the process configuration
type Config struct {
	Upstream      Upstream
	Thresholds    Thresholds
	Schedule      Schedule
	RetentionDays int
	DBPath        string
	Notify        Notify
	Port          int
	Debug         bool
	LogLevel      string
	LogFile       string
	Lang          string
}

// Load assembles the typed configuration from the initialized viper state
func Load() Config {
	InitConfig()
	return fromViper(viper.GetViper())
}

func fromViper(v *viper.Viper) Config {
	return Config{
		Upstream: Upstream{
			BaseURL:       v.GetString("api_base_url"),
			Token:         v.GetString("api_token"),
			CategoryParam: v.GetString("api_category_param"),
			Timeout:       time.Duration(v.GetInt("api_timeout_seconds")) * time.Second,
		},
		Thresholds: Thresholds{
			Positive: v.GetFloat64("alert_threshold_positive"),
			Negative: v.GetFloat64("alert_threshold_negative"),
		},
		Schedule: Schedule{
			CrawlMorning:   v.GetString("cron_schedule_1"),
			CrawlAfternoon: v.GetString("cron_schedule_2"),
			Cleanup:        v.GetString("cleanup_schedule"),
			AlertSweep:     v.GetString("alert_schedule"),
			Timezone:       v.GetString("timezone"),
		},
		RetentionDays: v.GetInt("data_retention_days"),
		DBPath:        v.GetString("db_path"),
		Notify: Notify{
			SMTP: SMTP{
				Host: v.GetString("smtp_host"),
				Port: v.GetInt("smtp_port"),
				User: v.GetString("smtp_user"),
				Pass: v.GetString("smtp_pass"),
				To:   v.GetString("email_to"),
			},
			Telegram: Telegram{
				Token:     v.GetString("telegram_bot_token"),
				ChatID:    v.GetInt64("telegram_chat_id"),
				Chart:     v.GetBool("telegram_chart"),
				Commands:  v.GetBool("telegram_commands"),
				ChartFont: v.GetString("chart_font"),
			},
		},
		Port:     v.GetInt("port"),
		Debug:    v.GetBool("debug"),
		LogLevel: strings.ToLower(v.GetString("log_level")),
		LogFile:  v.GetString("log_file"),
		Lang:     strings.ToLower(v.GetString("lang")),
	}
}
