package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the monitoring agent.
type Config struct {
	Agent         AgentConfig         `yaml:"agent"`
	Telemetry     TelemetryConfig     `yaml:"telemetry"`
	Reasoner      ReasonerConfig      `yaml:"reasoner"`
	Knowledge     KnowledgeConfig     `yaml:"knowledge"`
	Tickets       TicketsConfig       `yaml:"tickets"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Rules         RulesConfig         `yaml:"rules"`
	Cache         CacheConfig         `yaml:"cache"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// AgentConfig controls the pipeline loop.
type AgentConfig struct {
	Interval       time.Duration `yaml:"interval"`
	Continuous     bool          `yaml:"continuous"`
	Workers        int           `yaml:"workers"`
	CycleTimeout   time.Duration `yaml:"cycleTimeout"`
	MetricsAddress string        `yaml:"metricsAddress"`
}

// TelemetryConfig configures access to the telemetry provider's event feeds.
type TelemetryConfig struct {
	BaseURL      string        `yaml:"baseURL"`
	AlarmsPath   string        `yaml:"alarmsPath"`
	MetricsPath  string        `yaml:"metricsPath"`
	LogsPath     string        `yaml:"logsPath"`
	InsightsPath string        `yaml:"insightsPath"`
	Timeout      time.Duration `yaml:"timeout"`
	Sources      SourceToggles `yaml:"sources"`
}

// SourceToggles enables or disables individual event feeds.
type SourceToggles struct {
	Alarms   bool `yaml:"alarms"`
	Metrics  bool `yaml:"metrics"`
	Logs     bool `yaml:"logs"`
	Insights bool `yaml:"insights"`
}

// ReasonerConfig configures the AI reasoning service.
type ReasonerConfig struct {
	BaseURL             string        `yaml:"baseURL"`
	APIKey              string        `yaml:"apiKey"`
	Model               string        `yaml:"model"`
	Timeout             time.Duration `yaml:"timeout"`
	UseAIClassification bool          `yaml:"useAIClassification"`
	PromotionFloor      float64       `yaml:"promotionFloor"`
}

// KnowledgeConfig configures the vector knowledge store.
type KnowledgeConfig struct {
	Endpoint string        `yaml:"endpoint"`
	APIKey   string        `yaml:"apiKey"`
	Timeout  time.Duration `yaml:"timeout"`
}

// TicketsConfig configures the ticket-system client.
type TicketsConfig struct {
	BaseURL         string        `yaml:"baseURL"`
	Email           string        `yaml:"email"`
	APIToken        string        `yaml:"apiToken"`
	Project         string        `yaml:"project"`
	IssueType       string        `yaml:"issueType"`
	Labels          []string      `yaml:"labels"`
	CloseTransition string        `yaml:"closeTransition"`
	Timeout         time.Duration `yaml:"timeout"`
}

// NotificationsConfig configures notification delivery.
type NotificationsConfig struct {
	WebhookURL       string                  `yaml:"webhookURL"`
	EmailGatewayURL  string                  `yaml:"emailGatewayURL"`
	FromAddress      string                  `yaml:"fromAddress"`
	DistributionList []string                `yaml:"distributionList"`
	Timeout          time.Duration           `yaml:"timeout"`
	Routes           map[string]ChannelRoute `yaml:"routes"`
}

// ChannelRoute lists the channels for one priority level.
type ChannelRoute struct {
	Immediate bool     `yaml:"immediate"`
	Channels  []string `yaml:"channels"`
}

// RulesConfig controls classification rule-pack loading.
type RulesConfig struct {
	Path string `yaml:"path"`
}

// CacheConfig controls Redis-backed caching of knowledge lookups.
type CacheConfig struct {
	Enabled             bool          `yaml:"enabled"`
	Addr                string        `yaml:"addr"`
	Username            string        `yaml:"username"`
	Password            string        `yaml:"password"`
	DB                  int           `yaml:"db"`
	DialTimeout         time.Duration `yaml:"dialTimeout"`
	ReadTimeout         time.Duration `yaml:"readTimeout"`
	WriteTimeout        time.Duration `yaml:"writeTimeout"`
	MaxRetries          int           `yaml:"maxRetries"`
	TLS                 bool          `yaml:"tls"`
	RunbooksTTL         time.Duration `yaml:"runbooksTTL"`
	SimilarIncidentsTTL time.Duration `yaml:"similarIncidentsTTL"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("VIGIL_AGENT_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Agent: AgentConfig{
			Interval:       time.Minute,
			Continuous:     true,
			Workers:        4,
			MetricsAddress: ":2112",
		},
		Telemetry: TelemetryConfig{
			AlarmsPath:   "/api/v1/events/alarms",
			MetricsPath:  "/api/v1/events/metrics",
			LogsPath:     "/api/v1/events/logs",
			InsightsPath: "/api/v1/events/insights",
			Timeout:      10 * time.Second,
			Sources:      SourceToggles{Alarms: true, Metrics: true, Logs: true, Insights: true},
		},
		Reasoner: ReasonerConfig{
			Model:               "claude-3-sonnet",
			Timeout:             30 * time.Second,
			UseAIClassification: true,
			PromotionFloor:      0.5,
		},
		Knowledge: KnowledgeConfig{Timeout: 5 * time.Second},
		Tickets: TicketsConfig{
			Project:         "OPS",
			IssueType:       "Incident",
			Labels:          []string{"monitoring-bot", "automated"},
			CloseTransition: "Done",
			Timeout:         30 * time.Second,
		},
		Notifications: NotificationsConfig{
			Timeout: 10 * time.Second,
			Routes: map[string]ChannelRoute{
				"P1": {Immediate: true, Channels: []string{"webhook", "email"}},
				"P2": {Immediate: true, Channels: []string{"webhook", "email"}},
				"P3": {Immediate: true, Channels: []string{"webhook"}},
				"P4": {Immediate: false, Channels: []string{"webhook"}},
				"P5": {Immediate: false, Channels: []string{}},
				"P6": {Immediate: false, Channels: []string{}},
			},
		},
		Rules:   RulesConfig{Path: "configs/rules/default.yaml"},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Cache: CacheConfig{
			Enabled:             false,
			DialTimeout:         2 * time.Second,
			ReadTimeout:         500 * time.Millisecond,
			WriteTimeout:        500 * time.Millisecond,
			MaxRetries:          2,
			RunbooksTTL:         5 * time.Minute,
			SimilarIncidentsTTL: 2 * time.Minute,
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("VIGIL_AGENT_METRICS_ADDRESS"); v != "" {
		cfg.Agent.MetricsAddress = v
	}
	if v := os.Getenv("VIGIL_AGENT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Agent.Interval = d
		}
	}
	if v := os.Getenv("VIGIL_AGENT_CONTINUOUS"); v != "" {
		cfg.Agent.Continuous = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("VIGIL_AGENT_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Agent.Workers = n
		}
	}
	if v := os.Getenv("VIGIL_AGENT_CYCLE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Agent.CycleTimeout = d
		}
	}
	if v := os.Getenv("VIGIL_TELEMETRY_BASE_URL"); v != "" {
		cfg.Telemetry.BaseURL = v
	}
	if v := os.Getenv("VIGIL_REASONER_BASE_URL"); v != "" {
		cfg.Reasoner.BaseURL = v
	}
	if v := os.Getenv("VIGIL_REASONER_API_KEY"); v != "" {
		cfg.Reasoner.APIKey = v
	}
	if v := os.Getenv("VIGIL_REASONER_MODEL"); v != "" {
		cfg.Reasoner.Model = v
	}
	if v := os.Getenv("VIGIL_KNOWLEDGE_URL"); v != "" {
		cfg.Knowledge.Endpoint = v
	}
	if v := os.Getenv("VIGIL_KNOWLEDGE_API_KEY"); v != "" {
		cfg.Knowledge.APIKey = v
	}
	if v := os.Getenv("VIGIL_TICKETS_BASE_URL"); v != "" {
		cfg.Tickets.BaseURL = v
	}
	if v := os.Getenv("VIGIL_TICKETS_EMAIL"); v != "" {
		cfg.Tickets.Email = v
	}
	if v := os.Getenv("VIGIL_TICKETS_API_TOKEN"); v != "" {
		cfg.Tickets.APIToken = v
	}
	if v := os.Getenv("VIGIL_TICKETS_PROJECT"); v != "" {
		cfg.Tickets.Project = v
	}
	if v := os.Getenv("VIGIL_NOTIFY_WEBHOOK_URL"); v != "" {
		cfg.Notifications.WebhookURL = v
	}
	if v := os.Getenv("VIGIL_NOTIFY_EMAIL_GATEWAY_URL"); v != "" {
		cfg.Notifications.EmailGatewayURL = v
	}
	if v := os.Getenv("VIGIL_NOTIFY_FROM"); v != "" {
		cfg.Notifications.FromAddress = v
	}
	if v := os.Getenv("VIGIL_NOTIFY_DISTRIBUTION_LIST"); v != "" {
		list := make([]string, 0)
		for _, addr := range strings.Split(v, ",") {
			if addr = strings.TrimSpace(addr); addr != "" {
				list = append(list, addr)
			}
		}
		cfg.Notifications.DistributionList = list
	}
	if v := os.Getenv("VIGIL_AGENT_RULES_PATH"); v != "" {
		cfg.Rules.Path = v
	}
	if v := os.Getenv("VIGIL_AGENT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("VIGIL_AGENT_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("VIGIL_AGENT_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("VIGIL_AGENT_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("VIGIL_AGENT_CACHE_USERNAME"); v != "" {
		cfg.Cache.Username = v
	}
	if v := os.Getenv("VIGIL_AGENT_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("VIGIL_AGENT_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("VIGIL_AGENT_CACHE_TLS"); strings.EqualFold(v, "true") || v == "1" {
		cfg.Cache.TLS = true
	}
}
