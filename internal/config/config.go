package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kkyr/fig"
	"github.com/spf13/pflag"
)

const EnvPrefix = "COWATCH"

const (
	EngineHertz = "hertz"
	EngineEcho  = "echo"
)

type Config struct {
	Relay      Relay
	Heartbeat  Heartbeat
	Reflection Reflection
	Storage    Storage
	Bridge     Bridge
	Log        Log
}

type Relay struct {
	URL              string        `fig:"url" default:"ws://localhost:8080/ws"`
	RetryInterval    time.Duration `fig:"retryInterval" default:"5s"`
	MaxAttempts      int           `fig:"maxAttempts"`
	HandshakeTimeout time.Duration `fig:"handshakeTimeout" default:"10s"`
	WriteTimeout     time.Duration `fig:"writeTimeout" default:"10s"`
}

type Heartbeat struct {
	Interval               time.Duration `fig:"interval" default:"5s"`
	ResponseTimeMultiplier float64       `fig:"responseTimeMultiplier" default:"3"`
	MinimumTimeout         time.Duration `fig:"minimumTimeout" default:"1s"`
	InitialTimeout         time.Duration `fig:"initialTimeout" default:"10s"`
	DroppedThreshold       int           `fig:"droppedThreshold" default:"3"`
	Window                 int           `fig:"window" default:"10"`
}

type Reflection struct {
	SampleInterval  time.Duration `fig:"sampleInterval" default:"200ms"`
	DetailsInterval time.Duration `fig:"detailsInterval" default:"2s"`
	DeadBand        time.Duration `fig:"deadBand" default:"2s"`
	RateLimit       float64       `fig:"rateLimit" default:"20"`
	RateBurst       int           `fig:"rateBurst" default:"5"`
}

// Storage keeps the identity in memory when Dir is empty.
type Storage struct {
	Dir string `fig:"dir"`
}

type Bridge struct {
	Addr   string `fig:"addr" default:"127.0.0.1:8094"`
	Engine string `fig:"engine" default:"hertz"`
}

// Log.Console defaults to true through newConfig; fig cannot default bool fields.
type Log struct {
	Level   string `fig:"level" default:"info"`
	Console bool   `fig:"console"`
}

// newConfig seeds the values fig tags cannot express. fig only fills zero-valued fields.
func newConfig() Config {
	return Config{Log: Log{Console: true}}
}

// Load reads cowatch.yaml from dir (or the usual places when dir is empty) and COWATCH_*
// environment variables. A missing file is not an error. Flags that were set on fs win.
func Load(dir string, fs *pflag.FlagSet) (Config, error) {
	conf := newConfig()
	dirs := []string{dir}
	if dir == "" {
		dirs = []string{".", "configs"}
		if home, err := os.UserHomeDir(); err == nil {
			dirs = append(dirs, home+"/.cowatch")
		}
	}
	err := fig.Load(&conf, fig.File("cowatch.yaml"), fig.Dirs(dirs...), fig.UseEnv(EnvPrefix))
	if errors.Is(err, fig.ErrFileNotFound) {
		conf = newConfig()
		err = fig.Load(&conf, fig.IgnoreFile(), fig.UseEnv(EnvPrefix))
	}
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if fs != nil {
		if err := conf.applyFlags(fs); err != nil {
			return Config{}, err
		}
	}
	if err := conf.validate(); err != nil {
		return Config{}, err
	}
	return conf, nil
}

// AddFlags registers the overridable subset of the configuration.
func AddFlags(fs *pflag.FlagSet) {
	fs.String("relay.url", "", "relay websocket url")
	fs.Int("relay.maxAttempts", 0, "give up connecting after this many attempts (0 retries forever)")
	fs.String("storage.dir", "", "pebble directory for the persisted identity (empty keeps it in memory)")
	fs.String("bridge.addr", "", "local bridge listen address")
	fs.String("bridge.engine", "", "bridge http engine: hertz or echo")
	fs.String("log.level", "", "log level")
	fs.Bool("log.console", true, "human readable console logs")
}

func (c *Config) applyFlags(fs *pflag.FlagSet) error {
	var err error
	str := func(name string, dst *string) {
		if err == nil && fs.Changed(name) {
			*dst, err = fs.GetString(name)
		}
	}
	str("relay.url", &c.Relay.URL)
	str("storage.dir", &c.Storage.Dir)
	str("bridge.addr", &c.Bridge.Addr)
	str("bridge.engine", &c.Bridge.Engine)
	str("log.level", &c.Log.Level)
	if err == nil && fs.Changed("relay.maxAttempts") {
		c.Relay.MaxAttempts, err = fs.GetInt("relay.maxAttempts")
	}
	if err == nil && fs.Changed("log.console") {
		c.Log.Console, err = fs.GetBool("log.console")
	}
	if err != nil {
		return fmt.Errorf("read flags: %w", err)
	}
	return nil
}

func (c *Config) validate() error {
	switch c.Bridge.Engine {
	case EngineHertz, EngineEcho:
	default:
		return fmt.Errorf("unknown bridge engine %q", c.Bridge.Engine)
	}
	if c.Relay.MaxAttempts < 0 {
		return fmt.Errorf("relay.maxAttempts must not be negative")
	}
	if c.Heartbeat.DroppedThreshold < 1 || c.Heartbeat.Window < 1 {
		return fmt.Errorf("heartbeat threshold and window must be positive")
	}
	if c.Heartbeat.ResponseTimeMultiplier <= 0 {
		return fmt.Errorf("heartbeat.responseTimeMultiplier must be positive")
	}
	positive := []struct {
		name string
		d    time.Duration
	}{
		{"relay.retryInterval", c.Relay.RetryInterval},
		{"relay.handshakeTimeout", c.Relay.HandshakeTimeout},
		{"relay.writeTimeout", c.Relay.WriteTimeout},
		{"heartbeat.interval", c.Heartbeat.Interval},
		{"heartbeat.minimumTimeout", c.Heartbeat.MinimumTimeout},
		{"heartbeat.initialTimeout", c.Heartbeat.InitialTimeout},
		{"reflection.sampleInterval", c.Reflection.SampleInterval},
		{"reflection.detailsInterval", c.Reflection.DetailsInterval},
	}
	for _, p := range positive {
		if p.d <= 0 {
			return fmt.Errorf("%s must be positive, got %v", p.name, p.d)
		}
	}
	if c.Reflection.DeadBand < 0 {
		return fmt.Errorf("reflection.deadBand must not be negative")
	}
	if c.Reflection.RateLimit <= 0 || c.Reflection.RateBurst < 1 {
		return fmt.Errorf("reflection rate limit and burst must be positive")
	}
	return nil
}
