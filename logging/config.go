package logging

import "time"

// Config selects sinks and tunes the router queue.
type Config struct {
	EnabledSinks     []string       `yaml:"enabledSinks"`
	BufferSize       int            `yaml:"bufferSize"`
	MinimumSeverity  Severity       `yaml:"minimumSeverity"`
	Fields           map[string]any `yaml:"fields"`
	JSON             JSONConfig     `yaml:"json"`
	Console          ConsoleConfig  `yaml:"console"`
	DropWarnInterval time.Duration  `yaml:"dropWarnInterval"`
}

// JSONConfig configures the newline-delimited JSON sink. An empty FilePath
// writes to stdout; otherwise the file is rotated by size.
type JSONConfig struct {
	FilePath      string        `yaml:"filePath"`
	MaxSizeMB     int           `yaml:"maxSizeMB"`
	MaxBackups    int           `yaml:"maxBackups"`
	MaxAgeDays    int           `yaml:"maxAgeDays"`
	Compress      bool          `yaml:"compress"`
	FlushInterval time.Duration `yaml:"flushInterval"`
}

type ConsoleConfig struct {
	Prefix string `yaml:"prefix"`
}

func DefaultConfig() Config {
	return Config{
		EnabledSinks:     []string{"console"},
		BufferSize:       512,
		MinimumSeverity:  SeverityInfo,
		DropWarnInterval: 5 * time.Second,
		JSON: JSONConfig{
			MaxSizeMB:     64,
			MaxBackups:    4,
			MaxAgeDays:    14,
			FlushInterval: 2 * time.Second,
		},
	}
}

func (c Config) HasSink(name string) bool {
	for _, s := range c.EnabledSinks {
		if s == name {
			return true
		}
	}
	return false
}

func (c Config) CloneFields() map[string]any {
	if len(c.Fields) == 0 {
		return nil
	}
	cloned := make(map[string]any, len(c.Fields))
	for k, v := range c.Fields {
		cloned[k] = v
	}
	return cloned
}
