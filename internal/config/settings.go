package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"simhost/server/internal/observability"
	"simhost/server/internal/sim"
	"simhost/server/internal/simerr"
	"simhost/server/internal/world"
	"simhost/server/logging"
)

const (
	// DefaultMasterPort is used when the master URI omits a port.
	DefaultMasterPort = 11345
	DefaultMasterURI  = "http://localhost:11345"

	envSettingsFile  = "SIMHOST_CONFIG"
	envMasterURI     = "GAZEBO_MASTER_URI"
	envResourcePath  = "GAZEBO_RESOURCE_PATH"
	envBrokerSecret  = "SIMHOST_BROKER_SECRET"
	envLoopInterval  = "SIMHOST_LOOP_INTERVAL"
	envRecordDir     = "SIMHOST_RECORD_DIR"
	envLogSinks      = "SIMHOST_LOG_SINKS"
	envEnablePprof   = "ENABLE_PPROF_TRACE"
	defaultRecordDir = "logs"
)

// Settings are the tunables that are not command line options. They come
// from defaults, then the YAML file named by SIMHOST_CONFIG, then the
// environment.
type Settings struct {
	MasterURI string `yaml:"masterUri"`
	Broker    struct {
		Secret             string  `yaml:"secret"`
		InboundRate        float64 `yaml:"inboundRate"`
		InboundBurst       int     `yaml:"inboundBurst"`
		SubscriptionBuffer int     `yaml:"subscriptionBuffer"`
	} `yaml:"broker"`
	Loop struct {
		Interval        time.Duration `yaml:"interval"`
		CommandCapacity int           `yaml:"commandCapacity"`
		CommandLimit    int           `yaml:"commandLimit"`
	} `yaml:"loop"`
	Physics struct {
		MaxModels int `yaml:"maxModels"`
	} `yaml:"physics"`
	Sensors struct {
		UpdatePeriod time.Duration `yaml:"updatePeriod"`
	} `yaml:"sensors"`
	Record struct {
		Dir string `yaml:"dir"`
		// Every samples one frame per this many loop iterations.
		Every int `yaml:"every"`
	} `yaml:"record"`
	ResourcePaths []string             `yaml:"resourcePaths"`
	Logging       logging.Config       `yaml:"logging"`
	Observability observability.Config `yaml:"observability"`
}

func DefaultSettings() Settings {
	var s Settings
	s.MasterURI = DefaultMasterURI
	s.Broker.InboundRate = 50
	s.Broker.InboundBurst = 100
	s.Broker.SubscriptionBuffer = 64
	s.Loop.Interval = sim.DefaultLoopInterval
	s.Loop.CommandCapacity = 16
	s.Record.Dir = defaultRecordDir
	s.Record.Every = 100
	s.Logging = logging.DefaultConfig()
	return s
}

// LoadSettings builds Settings from getenv, reading the settings file if
// one is named. A nil getenv reads the process environment.
func LoadSettings(getenv func(string) string) (Settings, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	s := DefaultSettings()
	if path := strings.TrimSpace(getenv(envSettingsFile)); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Settings{}, simerr.IO("read settings", path, err)
		}
		if err := yaml.UnmarshalStrict(data, &s); err != nil {
			return Settings{}, simerr.Parse("parse settings", path, err)
		}
	}
	if err := s.applyEnv(getenv); err != nil {
		return Settings{}, err
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func (s *Settings) applyEnv(getenv func(string) string) error {
	if v := strings.TrimSpace(getenv(envMasterURI)); v != "" {
		s.MasterURI = v
	}
	if v := getenv(envResourcePath); v != "" {
		s.ResourcePaths = append(world.SplitPathList(v), s.ResourcePaths...)
	}
	if v := getenv(envBrokerSecret); v != "" {
		s.Broker.Secret = v
	}
	if v := strings.TrimSpace(getenv(envLoopInterval)); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return simerr.Argument("parse settings", fmt.Errorf("invalid %s=%q: %w", envLoopInterval, v, err))
		}
		s.Loop.Interval = d
	}
	if v := strings.TrimSpace(getenv(envRecordDir)); v != "" {
		s.Record.Dir = v
	}
	if v := strings.TrimSpace(getenv(envLogSinks)); v != "" {
		s.Logging.EnabledSinks = strings.Split(v, ",")
	}
	if v := strings.TrimSpace(getenv(envEnablePprof)); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return simerr.Argument("parse settings", fmt.Errorf("invalid %s=%q: %w", envEnablePprof, v, err))
		}
		s.Observability.EnablePprofTrace = enabled
	}
	return nil
}

// Validate rejects settings the server cannot run with.
func (s Settings) Validate() error {
	if _, _, err := s.MasterHostPort(); err != nil {
		return err
	}
	if s.Loop.Interval <= 0 {
		return simerr.Argument("validate settings", fmt.Errorf("loop interval must be positive"))
	}
	if s.Loop.CommandLimit < 0 || s.Loop.CommandCapacity < 0 {
		return simerr.Argument("validate settings", fmt.Errorf("command buffer sizes must not be negative"))
	}
	if s.Broker.InboundRate < 0 || s.Broker.InboundBurst < 0 {
		return simerr.Argument("validate settings", fmt.Errorf("broker rate limits must not be negative"))
	}
	if s.Record.Every < 0 {
		return simerr.Argument("validate settings", fmt.Errorf("record.every must not be negative"))
	}
	return nil
}

// MasterHostPort splits MasterURI into the host and port the broker binds.
func (s Settings) MasterHostPort() (string, int, error) {
	raw := s.MasterURI
	if raw == "" {
		raw = DefaultMasterURI
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", 0, simerr.Argument("parse master uri", err)
	}
	host, portText, err := net.SplitHostPort(u.Host)
	if err != nil {
		return u.Hostname(), DefaultMasterPort, nil
	}
	port, err := strconv.Atoi(portText)
	if err != nil || port < 0 || port > 65535 {
		return "", 0, simerr.Argument("parse master uri", fmt.Errorf("invalid port %q", portText))
	}
	return host, port, nil
}
