package config

import (
	"net"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/IRFAN-KHAN-git/fingerprint-attendance-system/internal/env"
	"github.com/IRFAN-KHAN-git/fingerprint-attendance-system/pkg/device"
)

// Environment overrides, applied after the YAML file.
const (
	EnvArduinoPort       = "ARDUINO_PORT"
	EnvArduinoBaudRate   = "ARDUINO_BAUD_RATE"
	EnvConnectDelay      = "DEVICE_CONNECT_DELAY"
	EnvReconnectInterval = "DEVICE_RECONNECT_INTERVAL"
	EnvEnrollTimeout     = "DEVICE_ENROLL_TIMEOUT"
	EnvVerifyTimeout     = "DEVICE_VERIFY_TIMEOUT"
	EnvDeleteWindow      = "DEVICE_DELETE_WINDOW"
	EnvSettleWindow      = "DEVICE_SETTLE_WINDOW"
	EnvServerHost        = "SERVER_HOST"
	EnvServerPort        = "SERVER_PORT"
	EnvDBPath            = "FPATTEND_DB_PATH"
	EnvAuthToken         = "FPATTEND_AUTH_TOKEN"
	EnvCORSOrigin        = "CORS_ORIGIN"
)

type Config struct {
	Device  DeviceConfig  `yaml:"device"`
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
}

type DeviceConfig struct {
	Port              string        `yaml:"port"`
	BaudRate          int           `yaml:"baud_rate"`
	ConnectDelay      time.Duration `yaml:"connect_delay"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
	EnrollTimeout     time.Duration `yaml:"enroll_timeout"`
	VerifyTimeout     time.Duration `yaml:"verify_timeout"`
	DeleteWindow      time.Duration `yaml:"delete_window"`
	SettleWindow      time.Duration `yaml:"settle_window"`
}

type ServerConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	AuthToken  string `yaml:"auth_token"`
	CORSOrigin string `yaml:"cors_origin"`
}

type StorageConfig struct {
	Path string `yaml:"path"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			Port:              "COM3",
			BaudRate:          9600,
			ConnectDelay:      time.Second,
			ReconnectInterval: 5 * time.Second,
			EnrollTimeout:     60 * time.Second,
			VerifyTimeout:     15 * time.Second,
			DeleteWindow:      5 * time.Second,
			SettleWindow:      2 * time.Second,
		},
		Server: ServerConfig{
			Host:       "0.0.0.0",
			Port:       5000,
			CORSOrigin: "*",
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (when
// path is not empty) and the environment, in that order.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "parse config %s", path)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	d := &c.Device
	d.Port = env.String(EnvArduinoPort, d.Port)
	d.BaudRate = env.Int(EnvArduinoBaudRate, d.BaudRate)
	d.ConnectDelay = env.Duration(EnvConnectDelay, d.ConnectDelay)
	d.ReconnectInterval = env.Duration(EnvReconnectInterval, d.ReconnectInterval)
	d.EnrollTimeout = env.Duration(EnvEnrollTimeout, d.EnrollTimeout)
	d.VerifyTimeout = env.Duration(EnvVerifyTimeout, d.VerifyTimeout)
	d.DeleteWindow = env.Duration(EnvDeleteWindow, d.DeleteWindow)
	d.SettleWindow = env.Duration(EnvSettleWindow, d.SettleWindow)

	s := &c.Server
	s.Host = env.String(EnvServerHost, s.Host)
	s.Port = env.Int(EnvServerPort, s.Port)
	s.AuthToken = env.String(EnvAuthToken, s.AuthToken)
	s.CORSOrigin = env.String(EnvCORSOrigin, s.CORSOrigin)

	c.Storage.Path = env.String(EnvDBPath, c.Storage.Path)
}

// Validate rejects values the device or server cannot run with.
func (c *Config) Validate() error {
	if c.Device.Port == "" {
		return errors.New("config: device.port is required")
	}
	if c.Device.BaudRate <= 0 {
		return errors.Errorf("config: invalid baud rate %d", c.Device.BaudRate)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.Errorf("config: invalid server port %d", c.Server.Port)
	}
	for name, d := range map[string]time.Duration{
		"connect_delay":      c.Device.ConnectDelay,
		"reconnect_interval": c.Device.ReconnectInterval,
		"enroll_timeout":     c.Device.EnrollTimeout,
		"verify_timeout":     c.Device.VerifyTimeout,
		"delete_window":      c.Device.DeleteWindow,
		"settle_window":      c.Device.SettleWindow,
	} {
		if d < 0 {
			return errors.Errorf("config: device.%s cannot be negative", name)
		}
	}
	return nil
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// Serial returns the transport settings.
func (c *Config) Serial() device.SerialConfig {
	return device.SerialConfig{Address: c.Device.Port, BaudRate: c.Device.BaudRate}
}

// Session returns the device session timing.
func (c *Config) Session() device.Config {
	return device.Config{
		ConnectDelay:      c.Device.ConnectDelay,
		ReconnectInterval: c.Device.ReconnectInterval,
		EnrollTimeout:     c.Device.EnrollTimeout,
		VerifyTimeout:     c.Device.VerifyTimeout,
		DeleteWindow:      c.Device.DeleteWindow,
		SettleWindow:      c.Device.SettleWindow,
	}
}
