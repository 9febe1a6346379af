package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Browser  BrowserConfig  `mapstructure:"browser"`
	Publish  PublishConfig  `mapstructure:"publish"`
	Media    MediaConfig    `mapstructure:"media"`
	Tasks    TasksConfig    `mapstructure:"tasks"`
	Log      LogConfig      `mapstructure:"log"`
	Security SecurityConfig `mapstructure:"security"`
}

type ServerConfig struct {
	Port             int           `mapstructure:"port"`
	ReadTimeout      time.Duration `mapstructure:"readTimeout"`
	WriteTimeout     time.Duration `mapstructure:"writeTimeout"`
	IdleTimeout      time.Duration `mapstructure:"idleTimeout"`
	RateLimitPerHour int           `mapstructure:"rateLimitPerHour"` // submissions per client, 0 disables
	RateBurst        int           `mapstructure:"rateBurst"`
}

type BrowserConfig struct {
	ExecutablePath  string        `mapstructure:"executablePath"`
	Headless        bool          `mapstructure:"headless"`
	UserDataDir     string        `mapstructure:"userDataDir"`
	ActionTimeout   time.Duration `mapstructure:"actionTimeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout"`
	AcquireTimeout  time.Duration `mapstructure:"acquireTimeout"` // max wait for the session lease
	PlatformURL     string        `mapstructure:"platformURL"`    // origin cookies are bound to
	PublishURL      string        `mapstructure:"publishURL"`
	CookiesFile     string        `mapstructure:"cookiesFile"`
	CookieDomain    string        `mapstructure:"cookieDomain"`
}

// Selectors locate the composer controls. They may be CSS or XPath.
type Selectors struct {
	ImageTab       string   `mapstructure:"imageTab"`
	VideoTab       string   `mapstructure:"videoTab"`
	FileInput      string   `mapstructure:"fileInput"`
	TitleInput     string   `mapstructure:"titleInput"`
	ContentEditor  string   `mapstructure:"contentEditor"`
	TopicSuggest   string   `mapstructure:"topicSuggest"`
	PublishButtons []string `mapstructure:"publishButtons"`
	UploadSuccess  string   `mapstructure:"uploadSuccess"`
	UploadError    string   `mapstructure:"uploadError"`
	VideoComplete  string   `mapstructure:"videoComplete"`
	VideoProgress  string   `mapstructure:"videoProgress"`
	PublishSuccess string   `mapstructure:"publishSuccess"`
	PublishError   string   `mapstructure:"publishError"`
}

type PublishConfig struct {
	Selectors         Selectors     `mapstructure:"selectors"`
	PollInterval      time.Duration `mapstructure:"pollInterval"`
	VideoMaxWait      time.Duration `mapstructure:"videoMaxWait"`
	ConfirmTimeout    time.Duration `mapstructure:"confirmTimeout"`
	TopicDropdownWait time.Duration `mapstructure:"topicDropdownWait"`
	SuccessURLMarkers []string      `mapstructure:"successURLMarkers"`
}

type MediaConfig struct {
	TempDir       string        `mapstructure:"tempDir"` // empty means a fresh OS temp dir
	FetchAttempts int           `mapstructure:"fetchAttempts"`
	FetchBackoff  time.Duration `mapstructure:"fetchBackoff"`
	FetchTimeout  time.Duration `mapstructure:"fetchTimeout"`
	MaxBytes      int64         `mapstructure:"maxBytes"`
	CacheSize     int           `mapstructure:"cacheSize"`
	CacheTTL      time.Duration `mapstructure:"cacheTTL"`
	MaxImages     int           `mapstructure:"maxImages"`
	MaxVideos     int           `mapstructure:"maxVideos"`
}

type TasksConfig struct {
	ExecutionTimeout time.Duration `mapstructure:"executionTimeout"`
	Retention        time.Duration `mapstructure:"retention"`
	SweepInterval    time.Duration `mapstructure:"sweepInterval"`
	BatchMaxItems    int           `mapstructure:"batchMaxItems"`
	CallbackTimeout  time.Duration `mapstructure:"callbackTimeout"`
	CallbackAttempts int           `mapstructure:"callbackAttempts"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"` // debug, info, warn, error
	Development bool   `mapstructure:"development"`
}

type SecurityConfig struct {
	AllowedOrigins []string `mapstructure:"allowedOrigins"`
	ApiKey         string   `mapstructure:"apiKey"`
	CallbackToken  string   `mapstructure:"callbackToken"` // sent as a bearer token to callback URLs
}

func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.postscry")
		v.AddConfigPath("/etc/postscry")
	}

	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("POSTSCRY")

	err := v.ReadInConfig()
	if err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	err = v.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns the configuration LoadConfig produces with no file and no
// environment overrides.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(err) // defaults are static
	}
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", "15s")
	v.SetDefault("server.writeTimeout", "15s")
	v.SetDefault("server.idleTimeout", "60s")
	v.SetDefault("server.rateLimitPerHour", 60)
	v.SetDefault("server.rateBurst", 5)

	v.SetDefault("browser.executablePath", "") // Attempt auto-detect if empty
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.userDataDir", "") // Empty means temporary profile
	v.SetDefault("browser.actionTimeout", "30s")
	v.SetDefault("browser.shutdownTimeout", "10s")
	v.SetDefault("browser.acquireTimeout", "5m") // must stay below tasks.executionTimeout
	v.SetDefault("browser.platformURL", "https://creator.xiaohongshu.com")
	v.SetDefault("browser.publishURL", "https://creator.xiaohongshu.com/publish/publish?from=menu")
	v.SetDefault("browser.cookiesFile", "cookies.json")
	v.SetDefault("browser.cookieDomain", ".xiaohongshu.com")

	v.SetDefault("publish.selectors.imageTab", `//*[contains(@class,"creator-tab")][contains(., "上传图文")]`)
	v.SetDefault("publish.selectors.videoTab", `//*[contains(@class,"creator-tab")][contains(., "上传视频")]`)
	v.SetDefault("publish.selectors.fileInput", "input[type='file']")
	v.SetDefault("publish.selectors.titleInput", "input.d-text, input[placeholder*='标题']")
	v.SetDefault("publish.selectors.contentEditor", ".ql-editor, [contenteditable='true']")
	v.SetDefault("publish.selectors.topicSuggest", "#creator-editor-topic-container .item")
	v.SetDefault("publish.selectors.publishButtons", []string{".publishBtn", `//button[contains(., "发布")]`})
	v.SetDefault("publish.selectors.uploadSuccess", ".upload-success")
	v.SetDefault("publish.selectors.uploadError", ".upload-error")
	v.SetDefault("publish.selectors.videoComplete", ".video-complete")
	v.SetDefault("publish.selectors.videoProgress", ".upload-progress, .video-processing")
	v.SetDefault("publish.selectors.publishSuccess", ".success-container, .publish-success")
	v.SetDefault("publish.selectors.publishError", ".publish-error, .d-toast-error")
	v.SetDefault("publish.pollInterval", "5s")
	v.SetDefault("publish.videoMaxWait", "2m")
	v.SetDefault("publish.confirmTimeout", "20s")
	v.SetDefault("publish.topicDropdownWait", "1500ms")
	v.SetDefault("publish.successURLMarkers", []string{"success", "published=true"})

	v.SetDefault("media.tempDir", "")
	v.SetDefault("media.fetchAttempts", 3)
	v.SetDefault("media.fetchBackoff", "1s")
	v.SetDefault("media.fetchTimeout", "60s")
	v.SetDefault("media.maxBytes", 50<<20)
	v.SetDefault("media.cacheSize", 64)
	v.SetDefault("media.cacheTTL", "30m")
	v.SetDefault("media.maxImages", 9)
	v.SetDefault("media.maxVideos", 1)

	v.SetDefault("tasks.executionTimeout", "10m")
	v.SetDefault("tasks.retention", "1h")
	v.SetDefault("tasks.sweepInterval", "5m")
	v.SetDefault("tasks.batchMaxItems", 5)
	v.SetDefault("tasks.callbackTimeout", "10s")
	v.SetDefault("tasks.callbackAttempts", 3)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("security.allowedOrigins", []string{"*"}) // Be more specific in production
	v.SetDefault("security.apiKey", "")                    // Should be set via env or secure means
	v.SetDefault("security.callbackToken", "")
}
