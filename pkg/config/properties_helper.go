package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/downfa11-org/packrat/util"
)

func DefaultSources() []SourceConfig {
	return []SourceConfig{
		{Name: "JSONMessageConsumer", Format: FormatJSON},
		{Name: "FileMessageConsumer", Format: FormatLines},
	}
}

func (cfg *Config) Normalize() {
	if len(cfg.BootstrapServers) == 0 {
		cfg.BootstrapServers = []string{"localhost:9092"}
	}
	if strings.TrimSpace(cfg.GroupID) == "" {
		cfg.GroupID = "packrat"
	}
	if cfg.PollTimeoutMS <= 0 {
		cfg.PollTimeoutMS = 1000
	}
	if cfg.SessionTimeoutMS <= 0 {
		cfg.SessionTimeoutMS = 30000
	}
	if cfg.HeartbeatIntervalMS <= 0 {
		cfg.HeartbeatIntervalMS = cfg.SessionTimeoutMS / 3
	}
	if cfg.HeartbeatIntervalMS >= cfg.SessionTimeoutMS {
		cfg.HeartbeatIntervalMS = cfg.SessionTimeoutMS / 3
	}
	if cfg.MaxPollRecords < 0 {
		cfg.MaxPollRecords = 0
	}

	if cfg.ExporterPort <= 0 {
		cfg.ExporterPort = 9100
	}
	if cfg.APIPort <= 0 {
		cfg.APIPort = 8080
	}

	// sources
	if len(cfg.Sources) == 0 {
		cfg.Sources = DefaultSources()
	}
	for i := range cfg.Sources {
		src := &cfg.Sources[i]
		if strings.TrimSpace(src.Name) == "" {
			src.Name = fmt.Sprintf("source-%d", i)
		}
		src.Format = strings.ToLower(strings.TrimSpace(src.Format))
		if src.Format == "" {
			src.Format = FormatJSON
		}
		if src.PoolSize <= 0 {
			src.PoolSize = 4
		}
		if src.QueueSize <= 0 {
			src.QueueSize = 2 * src.PoolSize
		}
		src.Compression = strings.ToLower(strings.TrimSpace(src.Compression))
		if src.Compression == "" {
			src.Compression = "none"
		}
	}

	// store
	cfg.Store.Backend = strings.ToLower(strings.TrimSpace(cfg.Store.Backend))
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = BackendMemory
	}
	if strings.TrimSpace(cfg.Store.Database) == "" {
		cfg.Store.Database = "packrat"
	}
	if cfg.Store.TimeoutMS <= 0 {
		cfg.Store.TimeoutMS = 5000
	}
}

// Validate rejects settings Normalize cannot repair.
func (cfg *Config) Validate() error {
	var errs []error
	names := make(map[string]struct{}, len(cfg.Sources))
	for _, src := range cfg.Sources {
		if _, dup := names[src.Name]; dup {
			errs = append(errs, fmt.Errorf("source %q: duplicate name", src.Name))
		}
		names[src.Name] = struct{}{}

		switch src.Format {
		case FormatJSON, FormatLines:
		default:
			errs = append(errs, fmt.Errorf("source %q: unknown format %q", src.Name, src.Format))
		}
		if !util.ValidCompression(src.Compression) {
			errs = append(errs, fmt.Errorf("source %q: %w: %q", src.Name, util.ErrUnsupportedCompression, src.Compression))
		}
	}

	switch cfg.Store.Backend {
	case BackendMemory:
	case BackendMongo:
		if strings.TrimSpace(cfg.Store.URI) == "" {
			errs = append(errs, errors.New("store: mongo backend requires a uri"))
		}
	default:
		errs = append(errs, fmt.Errorf("store: unknown backend %q", cfg.Store.Backend))
	}
	return errors.Join(errs...)
}

func overrideEnvInt(target *int, key string) {
	if v := os.Getenv(key); v != "" {
		*target = util.ParseInt(v, *target)
	}
}

func overrideEnvBool(target *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*target = util.ParseBool(v, *target)
	}
}

func overrideEnvString(target *string, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

func overrideEnvStringSlice(target *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		*target = util.ParseList(v)
	}
}
