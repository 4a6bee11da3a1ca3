// internal/pkg/bootstrap/config.go
package bootstrap

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config 是 order-service 的全部配置，先读 YAML 文件，再由环境变量覆盖。
type Config struct {
	App     AppConfig     `yaml:"app"`
	Storage StorageConfig `yaml:"storage"`
	Infra   InfraConfig   `yaml:"infra"`
}

type AppConfig struct {
	Name                 string        `yaml:"name"`
	Port                 int           `yaml:"port"`
	LogLevel             string        `yaml:"logLevel"`
	FanoutLimit          int           `yaml:"fanoutLimit"`
	PartialFailurePolicy string        `yaml:"partialFailurePolicy"` // release | retain
	AdmissionPolicy      string        `yaml:"admissionPolicy"`      // CEL 表达式，可为空
	NotificationTimeout  time.Duration `yaml:"notificationTimeout"`
	LockBackend          string        `yaml:"lockBackend"` // memory | zookeeper
	PushEnabled          bool          `yaml:"pushEnabled"`
}

type StorageConfig struct {
	Ledger string `yaml:"ledger"` // memory | mysql | redis | mongo
	Orders string `yaml:"orders"` // memory | mysql | mongo
}

type InfraConfig struct {
	Jaeger    JaegerConfig    `yaml:"jaeger"`
	MySQL     MySQLConfig     `yaml:"mysql"`
	Redis     RedisConfig     `yaml:"redis"`
	Mongo     MongoConfig     `yaml:"mongo"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Zookeeper ZookeeperConfig `yaml:"zookeeper"`
	Nacos     NacosConfig     `yaml:"nacos"`
}

type JaegerConfig struct {
	Endpoint string `yaml:"endpoint"`
}

type MySQLConfig struct {
	Addr     string `yaml:"addr"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// DSN 通过驱动自带的 Config 拼装连接串，避免手写转义。
func (c MySQLConfig) DSN() string {
	cfg := mysql.NewConfig()
	cfg.User = c.User
	cfg.Passwd = c.Password
	cfg.Net = "tcp"
	cfg.Addr = c.Addr
	cfg.DBName = c.Database
	cfg.ParseTime = true
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	return cfg.FormatDSN()
}

type RedisConfig struct {
	Addrs string `yaml:"addrs"` // "host1:port1,host2:port2"
}

type MongoConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

// KafkaConfig 中 Brokers 为空表示不启用 Kafka（通知与取消消费者都不启动）。
type KafkaConfig struct {
	Brokers           string `yaml:"brokers"`
	NotificationTopic string `yaml:"notificationTopic"`
	CancellationTopic string `yaml:"cancellationTopic"`
	ConsumerGroup     string `yaml:"consumerGroup"`
	DeadLetterTopic   string `yaml:"deadLetterTopic"`
}

// BrokerList 把逗号分隔的 broker 地址拆成切片。
func (c KafkaConfig) BrokerList() []string {
	return splitList(c.Brokers)
}

type ZookeeperConfig struct {
	Servers        string        `yaml:"servers"`
	SessionTimeout time.Duration `yaml:"sessionTimeout"`
	LockTimeout    time.Duration `yaml:"lockTimeout"`
}

func (c ZookeeperConfig) ServerList() []string {
	return splitList(c.Servers)
}

type NacosConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServerAddrs string `yaml:"serverAddrs"`
	Namespace   string `yaml:"namespace"`
	Group       string `yaml:"group"`
}

var (
	currentConfig *Config
	configMu      sync.RWMutex
)

// DefaultConfig 返回本地运行所需的默认值：内存存储、release 策略。
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:                 "order-service",
			Port:                 8080,
			LogLevel:             "info",
			FanoutLimit:          16,
			PartialFailurePolicy: "release",
			NotificationTimeout:  5 * time.Second,
			LockBackend:          "memory",
		},
		Storage: StorageConfig{Ledger: "memory", Orders: "memory"},
		Infra: InfraConfig{
			Jaeger:    JaegerConfig{Endpoint: "http://localhost:14268/api/traces"},
			MySQL:     MySQLConfig{Addr: "localhost:3306", User: "root", Database: "fulfillment"},
			Redis:     RedisConfig{Addrs: "localhost:6379"},
			Mongo:     MongoConfig{URI: "mongodb://localhost:27017", Database: "fulfillment"},
			Zookeeper: ZookeeperConfig{Servers: "localhost:2181", SessionTimeout: 5 * time.Second, LockTimeout: 30 * time.Second},
			Nacos:     NacosConfig{ServerAddrs: "localhost:8848", Group: "DEFAULT_GROUP"},
			Kafka: KafkaConfig{
				NotificationTopic: "order-notifications",
				CancellationTopic: "order-cancellation-requests",
				ConsumerGroup:     "order-service-cancellations",
				DeadLetterTopic:   "order-cancellation-requests.dlt",
			},
		},
	}
}

// LoadConfig 读取配置文件（文件不存在时使用默认值），应用环境变量并校验。
// 成功后该配置成为 GetCurrentConfig 的返回值。
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "parse config file %s", path)
		}
	case os.IsNotExist(err):
	default:
		return nil, errors.Wrapf(err, "read config file %s", path)
	}

	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	configMu.Lock()
	currentConfig = cfg
	configMu.Unlock()
	return cfg, nil
}

// GetCurrentConfig 返回最近一次成功加载的配置，尚未加载时返回默认值。
func GetCurrentConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	if currentConfig == nil {
		return DefaultConfig()
	}
	return currentConfig
}

func (c *Config) Validate() error {
	if c.App.Port <= 0 {
		return errors.Errorf("app.port must be positive, got %d", c.App.Port)
	}
	if c.App.FanoutLimit <= 0 {
		return errors.Errorf("app.fanoutLimit must be positive, got %d", c.App.FanoutLimit)
	}
	if !oneOf(c.App.PartialFailurePolicy, "release", "retain") {
		return errors.Errorf("unknown app.partialFailurePolicy %q", c.App.PartialFailurePolicy)
	}
	if !oneOf(c.App.LockBackend, "memory", "zookeeper") {
		return errors.Errorf("unknown app.lockBackend %q", c.App.LockBackend)
	}
	if !oneOf(c.Storage.Ledger, "memory", "mysql", "redis", "mongo") {
		return errors.Errorf("unknown storage.ledger %q", c.Storage.Ledger)
	}
	if !oneOf(c.Storage.Orders, "memory", "mysql", "mongo") {
		return errors.Errorf("unknown storage.orders %q", c.Storage.Orders)
	}
	if c.App.NotificationTimeout <= 0 {
		return errors.New("app.notificationTimeout must be positive")
	}
	return nil
}

func applyEnv(c *Config) {
	c.App.Name = getEnv("APP_NAME", c.App.Name)
	c.App.Port = getEnvInt("APP_PORT", c.App.Port)
	c.App.LogLevel = getEnv("LOG_LEVEL", c.App.LogLevel)
	c.App.FanoutLimit = getEnvInt("FANOUT_LIMIT", c.App.FanoutLimit)
	c.App.PartialFailurePolicy = getEnv("PARTIAL_FAILURE_POLICY", c.App.PartialFailurePolicy)
	c.App.AdmissionPolicy = getEnv("ADMISSION_POLICY", c.App.AdmissionPolicy)
	c.App.LockBackend = getEnv("LOCK_BACKEND", c.App.LockBackend)

	c.Storage.Ledger = getEnv("STORAGE_LEDGER", c.Storage.Ledger)
	c.Storage.Orders = getEnv("STORAGE_ORDERS", c.Storage.Orders)

	c.Infra.Jaeger.Endpoint = getEnv("JAEGER_ENDPOINT", c.Infra.Jaeger.Endpoint)
	c.Infra.MySQL.Addr = getEnv("MYSQL_ADDR", c.Infra.MySQL.Addr)
	c.Infra.MySQL.User = getEnv("MYSQL_USER", c.Infra.MySQL.User)
	c.Infra.MySQL.Password = getEnv("MYSQL_PASSWORD", c.Infra.MySQL.Password)
	c.Infra.MySQL.Database = getEnv("MYSQL_DATABASE", c.Infra.MySQL.Database)
	c.Infra.Redis.Addrs = getEnv("REDIS_ADDRS", c.Infra.Redis.Addrs)
	c.Infra.Mongo.URI = getEnv("MONGO_URI", c.Infra.Mongo.URI)
	c.Infra.Mongo.Database = getEnv("MONGO_DATABASE", c.Infra.Mongo.Database)
	c.Infra.Kafka.Brokers = getEnv("KAFKA_BROKERS", c.Infra.Kafka.Brokers)
	c.Infra.Zookeeper.Servers = getEnv("ZK_SERVERS", c.Infra.Zookeeper.Servers)

	c.Infra.Nacos.ServerAddrs = getEnv("NACOS_SERVER_ADDRS", c.Infra.Nacos.ServerAddrs)
	c.Infra.Nacos.Namespace = getEnv("NACOS_NAMESPACE", c.Infra.Nacos.Namespace)
	c.Infra.Nacos.Group = getEnv("NACOS_GROUP", c.Infra.Nacos.Group)
	if v, err := strconv.ParseBool(getEnv("NACOS_ENABLED", "")); err == nil {
		c.Infra.Nacos.Enabled = v
	}
}

// getEnv 是一个内部辅助函数，从环境变量中读取配置。
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return v
}

func oneOf(v string, options ...string) bool {
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
