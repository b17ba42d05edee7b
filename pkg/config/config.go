package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Twitch struct {
		Channel      string  `yaml:"channel"`
		Address      string  `yaml:"address"`
		PollInterval float64 `yaml:"poll_interval"`
		LoginTimeout float64 `yaml:"login_timeout"`
		ClosedDelay  float64 `yaml:"closed_delay"`
		ErrorDelay   float64 `yaml:"error_delay"`
		PongToken    string  `yaml:"pong_token"`
	} `yaml:"twitch"`
	Persona struct {
		Name                  string  `yaml:"name"`
		Source                string  `yaml:"source"`
		QuietPeriod           float64 `yaml:"quiet_period"`
		IdlePoll              float64 `yaml:"idle_poll"`
		SpeechTokensPerSecond float64 `yaml:"speech_tokens_per_second"`
		HistoryLimit          int     `yaml:"history_limit"`
		EventsLimit           int     `yaml:"events_limit"`
		FailureBackoff        float64 `yaml:"failure_backoff"`
	} `yaml:"persona"`
	ModelSettings struct {
		Models              []string `yaml:"models"`
		BaseURL             string   `yaml:"base_url"`
		Temperature         float64  `yaml:"temperature"`
		TopP                float64  `yaml:"top_p"`
		IdleTemperature     float64  `yaml:"idle_temperature"`
		MetadataTemperature float64  `yaml:"metadata_temperature"`
	} `yaml:"model_settings"`
	MemorySettings struct {
		RetentionDays int    `yaml:"retention_days"`
		PruneSchedule string `yaml:"prune_schedule"`
	} `yaml:"memory"`
	Comlink struct {
		Listen      string `yaml:"listen"`
		NATSSubject string `yaml:"nats_subject"`
	} `yaml:"comlink"`
	Files struct {
		Dir      string `yaml:"dir"`
		MaxBytes int64  `yaml:"max_bytes"`
	} `yaml:"files"`
	Tasks struct {
		File string `yaml:"file"`
	} `yaml:"tasks"`
	Log struct {
		Level       string `yaml:"level"`
		Development bool   `yaml:"development"`
	} `yaml:"log"`
}

// Default returns the configuration used when no config file exists.
// Values present in a config file override these field by field.
func Default() *Config {
	config := &Config{}

	config.Twitch.Channel = "isekai_citrine"
	config.Twitch.Address = "irc.chat.twitch.tv:6667"
	config.Twitch.PollInterval = 1.0 / 60.0
	config.Twitch.LoginTimeout = 3
	config.Twitch.ClosedDelay = 5
	config.Twitch.ErrorDelay = 1
	config.Twitch.PongToken = "tmi.twitch.tv"

	config.Persona.Name = "Citrine"
	config.Persona.Source = "use_chat"
	config.Persona.QuietPeriod = 30
	config.Persona.IdlePoll = 0.1
	config.Persona.SpeechTokensPerSecond = 3
	config.Persona.HistoryLimit = 20
	config.Persona.EventsLimit = 10
	config.Persona.FailureBackoff = 1

	config.ModelSettings.Models = []string{"gpt-4o-mini"}
	config.ModelSettings.BaseURL = "https://api.openai.com/v1"
	config.ModelSettings.Temperature = 1
	config.ModelSettings.TopP = 1
	config.ModelSettings.IdleTemperature = 1
	config.ModelSettings.MetadataTemperature = 0.3

	config.MemorySettings.RetentionDays = 7
	config.MemorySettings.PruneSchedule = "@daily"

	config.Comlink.Listen = ":8765"
	config.Comlink.NATSSubject = "citrine"

	config.Files.Dir = "./files"
	config.Files.MaxBytes = 25 * 1024 * 1024

	config.Tasks.File = "tasks.yml"

	config.Log.Level = "info"

	return config
}

func LoadConfig(path string) (*Config, error) {
	config := Default()

	_, err := os.Stat(path)
	if os.IsNotExist(err) {
		return config, nil
	}

	file, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	err = yaml.Unmarshal(file, config)
	if err != nil {
		return nil, err
	}

	return config, nil
}

// Seconds converts a float seconds setting to a duration.
func Seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
