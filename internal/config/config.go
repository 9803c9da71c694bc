// Package config loads the command line tools' configuration from a YAML
// file with environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"tinygo.org/x/hrband"
	"tinygo.org/x/hrband/blelink"
)

// Config holds all configuration for the tools.
type Config struct {
	Device    Device    `yaml:"device"`
	Channels  Channels  `yaml:"channels"`
	Retrieval Retrieval `yaml:"retrieval"`
	Handshake Handshake `yaml:"handshake"`
	NATS      NATS      `yaml:"nats"`
	Log       Log       `yaml:"log"`
}

type Device struct {
	Address     string `yaml:"address"`
	HCI         string `yaml:"hci"`
	ScanTimeout string `yaml:"scan_timeout"`
}

// Channels are 16-bit UUIDs written as hex, e.g. "fc21" or "0xfc21".
type Channels struct {
	Service string `yaml:"service"`
	Notify  string `yaml:"notify"`
	Write   string `yaml:"write"`
}

type Retrieval struct {
	StallTimeout   string `yaml:"stall_timeout"`
	RequestCommand uint8  `yaml:"request_command"`
	QueueSize      int    `yaml:"queue_size"`
}

type Handshake struct {
	Policy  string  `yaml:"policy"`
	Profile Profile `yaml:"profile"`
}

type Profile struct {
	WeightKg     float64 `yaml:"weight_kg"`
	AgeYears     uint8   `yaml:"age"`
	HeightCm     uint8   `yaml:"height_cm"`
	StepLengthCm uint8   `yaml:"step_cm"`
	Gender       string  `yaml:"gender"`
}

// NATS publishing is disabled when URL is empty.
type NATS struct {
	URL    string `yaml:"url"`
	Prefix string `yaml:"prefix"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // auto, text or json
}

var errInvalid = errors.New("config: invalid value")

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Device: Device{
			HCI:         "hci0",
			ScanTimeout: blelink.DefaultScanTimeout.String(),
		},
		Channels: Channels{
			Service: hex(hrband.ServiceBand),
			Notify:  hex(hrband.ChannelNotify),
			Write:   hex(hrband.ChannelWrite),
		},
		Retrieval: Retrieval{
			StallTimeout:   hrband.DefaultStallTimeout.String(),
			RequestCommand: hrband.CmdReadHistory,
			QueueSize:      hrband.DefaultQueueSize,
		},
		Handshake: Handshake{
			Policy: hrband.PolicyAcknowledge.String(),
			Profile: Profile{
				WeightKg:     hrband.DefaultProfile.WeightKg,
				AgeYears:     hrband.DefaultProfile.AgeYears,
				HeightCm:     hrband.DefaultProfile.HeightCm,
				StepLengthCm: hrband.DefaultProfile.StepLengthCm,
				Gender:       "male",
			},
		},
		NATS: NATS{Prefix: "hrband"},
		Log:  Log{Level: "info", Format: "auto"},
	}
}

func hex(c hrband.ChannelID) string {
	return fmt.Sprintf("%04x", uint16(c))
}

// Load reads the file at path on top of the defaults, applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.UnmarshalStrict(data, cfg); err != nil {
			return nil, fmt.Errorf("config: %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Device.Address = getEnv("HRBAND_DEVICE", c.Device.Address)
	c.Device.HCI = getEnv("HRBAND_HCI", c.Device.HCI)
	c.NATS.URL = getEnv("HRBAND_NATS_URL", c.NATS.URL)
	c.Log.Level = getEnv("HRBAND_LOG_LEVEL", c.Log.Level)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// Validate checks every field that needs parsing.
func (c *Config) Validate() error {
	if _, err := c.LinkConfig(); err != nil {
		return err
	}
	if _, err := c.ClientOptions(); err != nil {
		return err
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	switch c.Log.Format {
	case "", "auto", "text", "json":
	default:
		return fmt.Errorf("%w: log format %q", errInvalid, c.Log.Format)
	}
	return nil
}

// LinkConfig returns the transport configuration.
func (c *Config) LinkConfig() (blelink.Config, error) {
	service, err := parseChannel("service", c.Channels.Service)
	if err != nil {
		return blelink.Config{}, err
	}
	notify, err := parseChannel("notify", c.Channels.Notify)
	if err != nil {
		return blelink.Config{}, err
	}
	write, err := parseChannel("write", c.Channels.Write)
	if err != nil {
		return blelink.Config{}, err
	}
	scan, err := parseDuration("scan_timeout", c.Device.ScanTimeout)
	if err != nil {
		return blelink.Config{}, err
	}
	return blelink.Config{
		Address:     c.Device.Address,
		HCI:         c.Device.HCI,
		Service:     service,
		Notify:      notify,
		Write:       write,
		ScanTimeout: scan,
	}, nil
}

// ClientOptions returns the hrband options described by the configuration.
func (c *Config) ClientOptions() ([]hrband.Option, error) {
	link, err := c.LinkConfig()
	if err != nil {
		return nil, err
	}
	stall, err := parseDuration("stall_timeout", c.Retrieval.StallTimeout)
	if err != nil {
		return nil, err
	}
	policy, err := hrband.ParsePolicy(c.Handshake.Policy)
	if err != nil {
		return nil, err
	}
	profile, err := c.Handshake.Profile.ToProfile()
	if err != nil {
		return nil, err
	}
	opts := []hrband.Option{
		hrband.WithChannels(link.Notify, link.Write),
		hrband.WithPolicy(policy),
		hrband.WithProfile(profile),
		hrband.WithRequestCommand(c.Retrieval.RequestCommand),
	}
	if stall > 0 {
		opts = append(opts, hrband.WithStallTimeout(stall))
	}
	if c.Retrieval.QueueSize > 0 {
		opts = append(opts, hrband.WithQueueSize(c.Retrieval.QueueSize))
	}
	return opts, nil
}

// LogLevel returns the parsed log level.
func (c *Config) LogLevel() (logrus.Level, error) {
	if c.Log.Level == "" {
		return logrus.InfoLevel, nil
	}
	return logrus.ParseLevel(c.Log.Level)
}

// ToProfile converts the configured profile.
func (p Profile) ToProfile() (hrband.Profile, error) {
	var g hrband.Gender
	switch strings.ToLower(p.Gender) {
	case "", "male", "m":
		g = hrband.GenderMale
	case "female", "f":
		g = hrband.GenderFemale
	default:
		return hrband.Profile{}, fmt.Errorf("%w: gender %q", errInvalid, p.Gender)
	}
	return hrband.Profile{
		WeightKg:     p.WeightKg,
		AgeYears:     p.AgeYears,
		HeightCm:     p.HeightCm,
		StepLengthCm: p.StepLengthCm,
		Gender:       g,
	}, nil
}

func parseChannel(name, s string) (hrband.ChannelID, error) {
	if s == "" {
		return 0, nil
	}
	id, err := hrband.ParseChannelID(s)
	if err != nil {
		return 0, fmt.Errorf("%w: channel %s: %v", errInvalid, name, err)
	}
	return id, nil
}

func parseDuration(name, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("%w: %s %q", errInvalid, name, s)
	}
	return d, nil
}
