package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/downfa11-org/packrat/util"
)

const (
	BackendMemory = "memory"
	BackendMongo  = "mongo"

	FormatJSON  = "json"
	FormatLines = "lines"
)

// SourceConfig describes one message source: a set of topics sharing a
// payload format and a worker pool.
type SourceConfig struct {
	Name        string   `yaml:"name" json:"name"`
	Format      string   `yaml:"format" json:"format"`
	Topics      []string `yaml:"topics" json:"topics"`
	PoolSize    int      `yaml:"pool_size" json:"pool.size"`
	QueueSize   int      `yaml:"queue_size" json:"queue.size"`
	Compression string   `yaml:"compression" json:"compression"`
}

type StoreConfig struct {
	Backend       string `yaml:"backend" json:"backend"`
	URI           string `yaml:"uri" json:"uri"`
	Database      string `yaml:"database" json:"database"`
	Username      string `yaml:"username" json:"username"`
	Password      string `yaml:"password" json:"password"`
	AuthSource    string `yaml:"auth_source" json:"auth.source"`
	AutoProvision bool   `yaml:"auto_provision" json:"auto.provision"`
	TimeoutMS     int    `yaml:"timeout_ms" json:"timeout.ms"`
}

// Config represents the collector configuration.
type Config struct {
	// Broker
	BootstrapServers    []string `yaml:"bootstrap_servers" json:"bootstrap.servers"`
	GroupID             string   `yaml:"group_id" json:"group.id"`
	ClientID            string   `yaml:"client_id" json:"client.id"`
	PollTimeoutMS       int      `yaml:"poll_timeout_ms" json:"poll.timeout.ms"`
	SessionTimeoutMS    int      `yaml:"session_timeout_ms" json:"session.timeout.ms"`
	HeartbeatIntervalMS int      `yaml:"heartbeat_interval_ms" json:"heartbeat.interval.ms"`
	MaxPollRecords      int      `yaml:"max_poll_records" json:"max.poll.records"`

	Sources []SourceConfig `yaml:"sources" json:"sources"`
	Store   StoreConfig    `yaml:"store" json:"store"`

	// Server settings
	EnableExporter bool          `yaml:"enable_exporter" json:"enable.exporter"`
	ExporterPort   int           `yaml:"exporter_port" json:"exporter.port"`
	APIPort        int           `yaml:"api_port" json:"api.port"`
	LogLevel       util.LogLevel `yaml:"log_level" json:"log_level"`
}

// Topics returns every topic named by any source, in source order, without duplicates.
func (cfg *Config) Topics() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, src := range cfg.Sources {
		for _, t := range src.Topics {
			if _, ok := seen[t]; !ok {
				seen[t] = struct{}{}
				out = append(out, t)
			}
		}
	}
	return out
}

type flagValues struct {
	configPath       string
	bootstrapServers string
	groupID          string
	logLevel         string
	pollTimeoutMS    int
	storeBackend     string
	storeURI         string
	exporter         bool
	exporterPort     int
	apiPort          int
}

func LoadConfig() (*Config, error) {
	return Load(os.Args[1:])
}

// Load builds the configuration from defaults, then the config file, then
// PACKRAT_* environment variables, then flags given explicitly on the command line.
func Load(args []string) (*Config, error) {
	fs := flag.NewFlagSet("packrat", flag.ContinueOnError)
	fv := &flagValues{}

	fs.StringVar(&fv.configPath, "config", "", "Path to YAML/JSON config file")
	fs.StringVar(&fv.bootstrapServers, "bootstrap-servers", "localhost:9092", "Comma-separated broker addresses")
	fs.StringVar(&fv.groupID, "group-id", "packrat", "Consumer group id")
	fs.StringVar(&fv.logLevel, "log-level", "info", "Log Level (debug, info, warn, error)")
	fs.IntVar(&fv.pollTimeoutMS, "poll-timeout-ms", 1000, "Poll timeout in milliseconds")
	fs.StringVar(&fv.storeBackend, "store-backend", BackendMemory, "Record store backend (memory, mongo)")
	fs.StringVar(&fv.storeURI, "store-uri", "mongodb://localhost:27017", "Record store connection URI")
	fs.BoolVar(&fv.exporter, "exporter", true, "Enable Prometheus exporter")
	fs.IntVar(&fv.exporterPort, "exporter-port", 9100, "Exporter port")
	fs.IntVar(&fv.apiPort, "api-port", 8080, "REST API port")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" && fv.configPath == "" {
		fv.configPath = envPath
	}

	cfg := &Config{}
	applyDefaults(cfg, fv)

	if fv.configPath != "" {
		if err := cfg.loadFile(fv.configPath); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)
	applyExplicitFlags(cfg, fs, fv)

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if strings.HasSuffix(path, ".json") {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func applyDefaults(cfg *Config, fv *flagValues) {
	cfg.BootstrapServers = util.ParseList(fv.bootstrapServers)
	cfg.GroupID = fv.groupID
	cfg.PollTimeoutMS = fv.pollTimeoutMS
	cfg.EnableExporter = fv.exporter
	cfg.ExporterPort = fv.exporterPort
	cfg.APIPort = fv.apiPort
	cfg.LogLevel = util.ParseLogLevel(fv.logLevel)

	cfg.Store.Backend = fv.storeBackend
	cfg.Store.URI = fv.storeURI
	cfg.Store.AutoProvision = true
}

func applyExplicitFlags(cfg *Config, fs *flag.FlagSet, fv *flagValues) {
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "bootstrap-servers":
			cfg.BootstrapServers = util.ParseList(fv.bootstrapServers)
		case "group-id":
			cfg.GroupID = fv.groupID
		case "log-level":
			cfg.LogLevel = util.ParseLogLevel(fv.logLevel)
		case "poll-timeout-ms":
			cfg.PollTimeoutMS = fv.pollTimeoutMS
		case "store-backend":
			cfg.Store.Backend = fv.storeBackend
		case "store-uri":
			cfg.Store.URI = fv.storeURI
		case "exporter":
			cfg.EnableExporter = fv.exporter
		case "exporter-port":
			cfg.ExporterPort = fv.exporterPort
		case "api-port":
			cfg.APIPort = fv.apiPort
		}
	})
}

func applyEnv(cfg *Config) {
	overrideEnvStringSlice(&cfg.BootstrapServers, "PACKRAT_BOOTSTRAP_SERVERS")
	overrideEnvString(&cfg.GroupID, "PACKRAT_GROUP_ID")
	overrideEnvString(&cfg.ClientID, "PACKRAT_CLIENT_ID")
	overrideEnvInt(&cfg.PollTimeoutMS, "PACKRAT_POLL_TIMEOUT_MS")
	overrideEnvString(&cfg.Store.Backend, "PACKRAT_STORE_BACKEND")
	overrideEnvString(&cfg.Store.URI, "PACKRAT_STORE_URI")
	overrideEnvString(&cfg.Store.Database, "PACKRAT_STORE_DATABASE")
	overrideEnvString(&cfg.Store.Username, "PACKRAT_STORE_USERNAME")
	overrideEnvString(&cfg.Store.Password, "PACKRAT_STORE_PASSWORD")
	overrideEnvBool(&cfg.Store.AutoProvision, "PACKRAT_STORE_AUTO_PROVISION")
	overrideEnvBool(&cfg.EnableExporter, "PACKRAT_EXPORTER")
	overrideEnvInt(&cfg.ExporterPort, "PACKRAT_EXPORTER_PORT")
	overrideEnvInt(&cfg.APIPort, "PACKRAT_API_PORT")
}
