// internal/pkg/bootstrap/config.go
package bootstrap

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration 让配置里能写 "72h"、"10s" 这样的人类可读时长。
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config 是所有服务共享的配置结构，从 YAML 文件加载，
// 环境变量可以覆盖其中与部署环境相关的字段。
type Config struct {
	App struct {
		// 托管资金的自动放款窗口，默认 7 天
		EscrowHoldDays int `yaml:"escrowHoldDays"`
		// 大宗报价多久无动作后过期
		QuoteInactivityWindow Duration `yaml:"quoteInactivityWindow"`
		// 数量超过该值必须走报价协商
		NegotiationThreshold int `yaml:"negotiationThreshold"`
		// 税率（基点），价格均为最小货币单位
		TaxBasisPoints int64 `yaml:"taxBasisPoints"`
	} `yaml:"app"`

	Infra struct {
		MysqlDSN  string `yaml:"mysqlDsn"`
		RedisAddr string `yaml:"redisAddr"`
		Kafka     struct {
			Brokers []string `yaml:"brokers"`
		} `yaml:"kafka"`
		Zookeeper struct {
			Servers []string `yaml:"servers"`
		} `yaml:"zookeeper"`
		Jaeger struct {
			Endpoint string `yaml:"endpoint"`
		} `yaml:"jaeger"`
		Nacos struct {
			ServerAddrs string `yaml:"serverAddrs"`
			Namespace   string `yaml:"namespace"`
			Group       string `yaml:"group"`
		} `yaml:"nacos"`
	} `yaml:"infra"`

	Gateway struct {
		BaseURL       string        `yaml:"baseUrl"`
		WebhookSecret string        `yaml:"webhookSecret"`
		SessionTTL    Duration      `yaml:"sessionTtl"`
		Timeout       Duration      `yaml:"timeout"`
	} `yaml:"gateway"`

	Collaborators struct {
		CatalogBaseURL string        `yaml:"catalogBaseUrl"`
		DisputeBaseURL string        `yaml:"disputeBaseUrl"`
		Timeout        Duration      `yaml:"timeout"`
	} `yaml:"collaborators"`
}

var (
	currentConfig Config
	configOnce    sync.Once
)

// GetCurrentConfig 返回进程级配置。第一次调用时从 CONFIG_PATH 加载。
func GetCurrentConfig() *Config {
	configOnce.Do(func() {
		path := getEnv("CONFIG_PATH", "configs/config.yaml")
		cfg, err := loadConfig(path)
		if err != nil {
			// 配置文件缺失时退回默认值 + 环境变量，方便本地起服务
			cfg = &Config{}
		}
		applyDefaults(cfg)
		applyEnvOverrides(cfg)
		currentConfig = *cfg
	})
	return &currentConfig
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.App.EscrowHoldDays == 0 {
		cfg.App.EscrowHoldDays = 7
	}
	if cfg.App.QuoteInactivityWindow == 0 {
		cfg.App.QuoteInactivityWindow = Duration(72 * time.Hour)
	}
	if cfg.App.NegotiationThreshold == 0 {
		cfg.App.NegotiationThreshold = 1000
	}
	if cfg.App.TaxBasisPoints == 0 {
		cfg.App.TaxBasisPoints = 1800 // 18% GST
	}
	if cfg.Gateway.SessionTTL == 0 {
		cfg.Gateway.SessionTTL = Duration(30 * time.Minute)
	}
	if cfg.Gateway.Timeout == 0 {
		cfg.Gateway.Timeout = Duration(10 * time.Second)
	}
	if len(cfg.Infra.Kafka.Brokers) == 0 {
		cfg.Infra.Kafka.Brokers = []string{"localhost:9092"}
	}
	if cfg.Infra.RedisAddr == "" {
		cfg.Infra.RedisAddr = "localhost:6379"
	}
	if cfg.Infra.Jaeger.Endpoint == "" {
		cfg.Infra.Jaeger.Endpoint = "http://localhost:14268/api/traces"
	}
	if len(cfg.Infra.Zookeeper.Servers) == 0 {
		cfg.Infra.Zookeeper.Servers = []string{"localhost:2181"}
	}
	if cfg.Collaborators.CatalogBaseURL == "" {
		cfg.Collaborators.CatalogBaseURL = "http://localhost:8180"
	}
	if cfg.Collaborators.DisputeBaseURL == "" {
		cfg.Collaborators.DisputeBaseURL = "http://localhost:8181"
	}
	if cfg.Collaborators.Timeout == 0 {
		cfg.Collaborators.Timeout = Duration(5 * time.Second)
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MYSQL_DSN"); v != "" {
		cfg.Infra.MysqlDSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Infra.RedisAddr = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Infra.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("ZOOKEEPER_SERVERS"); v != "" {
		cfg.Infra.Zookeeper.Servers = strings.Split(v, ",")
	}
	if v := os.Getenv("JAEGER_ENDPOINT"); v != "" {
		cfg.Infra.Jaeger.Endpoint = v
	}
	if v := os.Getenv("NACOS_SERVER_ADDRS"); v != "" {
		cfg.Infra.Nacos.ServerAddrs = v
	}
	if v := os.Getenv("NACOS_NAMESPACE"); v != "" {
		cfg.Infra.Nacos.Namespace = v
	}
	if v := os.Getenv("NACOS_GROUP"); v != "" {
		cfg.Infra.Nacos.Group = v
	}
	if v := os.Getenv("GATEWAY_BASE_URL"); v != "" {
		cfg.Gateway.BaseURL = v
	}
	if v := os.Getenv("GATEWAY_WEBHOOK_SECRET"); v != "" {
		cfg.Gateway.WebhookSecret = v
	}
	if v := os.Getenv("CATALOG_BASE_URL"); v != "" {
		cfg.Collaborators.CatalogBaseURL = v
	}
	if v := os.Getenv("DISPUTE_BASE_URL"); v != "" {
		cfg.Collaborators.DisputeBaseURL = v
	}
}

// getEnv 从环境变量中读取配置，读不到时返回默认值。
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
