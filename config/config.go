// Copyright 2019-2021 VMware, Inc.
// SPDX-License-Identifier: BSD-2-Clause

package config

import (
	"errors"
	"fmt"
	"github.com/spf13/viper"
	"github.com/vmware/stompgate/model"
	"strings"
)

const EnvPrefix = "STOMPGATE"

const (
	KeyTcpAddress         = "tcp-address"
	KeyWebSocketAddress   = "ws-address"
	KeyWebSocketEndpoint  = "ws-endpoint"
	KeyAllowedOrigins     = "allowed-origins"
	KeyHeartbeat          = "heartbeat"
	KeyMaxFrameSize       = "max-frame-size"
	KeyMaxConnections     = "max-connections"
	KeyCloseOnNotLoggedIn = "close-on-not-logged-in"
	KeyAdminAddress       = "admin-address"
	KeyLogLevel           = "log-level"
	KeyLogFormat          = "log-format"
	KeyUsers              = "users"
	KeyAmqpUrl            = "amqp.url"
	KeyAmqpExchange       = "amqp.exchange"
	KeyAmqpTypes          = "amqp.types"
)

// UserConfig is a login accepted by the static login handler.
type UserConfig struct {
	Login        string `mapstructure:"login"`
	PasscodeHash string `mapstructure:"passcode-hash"`
}

// AmqpConfig enables the audit trail when Url is set.
type AmqpConfig struct {
	Url      string   `mapstructure:"url"`
	Exchange string   `mapstructure:"exchange"`
	Types    []string `mapstructure:"types"`
}

// Config is the complete gateway configuration.
type Config struct {
	TcpAddress           string       `mapstructure:"tcp-address"`
	WebSocketAddress     string       `mapstructure:"ws-address"`
	WebSocketEndpoint    string       `mapstructure:"ws-endpoint"`
	AllowedOrigins       []string     `mapstructure:"allowed-origins"`
	HeartbeatMs          int64        `mapstructure:"heartbeat"`
	MaxFrameBytes        int          `mapstructure:"max-frame-size"`
	MaxConnections       int          `mapstructure:"max-connections"`
	CloseUnauthenticated bool         `mapstructure:"close-on-not-logged-in"`
	AdminAddress         string       `mapstructure:"admin-address"`
	LogLevel             string       `mapstructure:"log-level"`
	LogFormat            string       `mapstructure:"log-format"`
	Users                []UserConfig `mapstructure:"users"`
	Amqp                 AmqpConfig   `mapstructure:"amqp"`
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyTcpAddress, ":61613")
	v.SetDefault(KeyWebSocketAddress, "")
	v.SetDefault(KeyWebSocketEndpoint, "/stomp")
	v.SetDefault(KeyAllowedOrigins, []string{})
	v.SetDefault(KeyHeartbeat, 10000)
	v.SetDefault(KeyMaxFrameSize, 1<<20)
	v.SetDefault(KeyMaxConnections, 0)
	v.SetDefault(KeyCloseOnNotLoggedIn, true)
	v.SetDefault(KeyAdminAddress, ":8080")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "text")
	v.SetDefault(KeyUsers, []UserConfig{})
	v.SetDefault(KeyAmqpUrl, "")
	v.SetDefault(KeyAmqpExchange, "stompgate.audit")
	v.SetDefault(KeyAmqpTypes, []string{string(model.Send)})
}

// Load reads the configuration from defaults, the optional file and
// STOMPGATE_ prefixed environment variables, in increasing precedence.
// Flags bound to v with BindPFlag take precedence over all of them.
func Load(v *viper.Viper, file string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("unable to read config file %s: %w", file, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks values viper cannot check by itself.
func (c *Config) Validate() error {
	if c.TcpAddress == "" && c.WebSocketAddress == "" {
		return errors.New("at least one of tcp-address and ws-address must be set")
	}
	if c.WebSocketAddress != "" && !strings.HasPrefix(c.WebSocketEndpoint, "/") {
		return fmt.Errorf("ws-endpoint must start with '/', got %q", c.WebSocketEndpoint)
	}
	if c.HeartbeatMs < 0 {
		return fmt.Errorf("heartbeat must not be negative, got %d", c.HeartbeatMs)
	}
	if c.MaxFrameBytes < 0 {
		return fmt.Errorf("max-frame-size must not be negative, got %d", c.MaxFrameBytes)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("log-format must be text or json, got %q", c.LogFormat)
	}
	for _, u := range c.Users {
		if u.Login == "" || u.PasscodeHash == "" {
			return errors.New("every user needs a login and a passcode-hash")
		}
	}
	types, err := c.AuditedTypes()
	if err != nil {
		return err
	}
	if c.AuditEnabled() && len(types) == 0 {
		return errors.New("amqp.types must name at least one frame type when amqp.url is set")
	}
	return nil
}

// UserTable maps each configured login to its passcode hash.
func (c *Config) UserTable() map[string]string {
	users := make(map[string]string, len(c.Users))
	for _, u := range c.Users {
		users[u.Login] = u.PasscodeHash
	}
	return users
}

// AuditedTypes returns the frame types published to the audit exchange.
func (c *Config) AuditedTypes() ([]model.MessageType, error) {
	types := make([]model.MessageType, 0, len(c.Amqp.Types))
	for _, name := range c.Amqp.Types {
		t, ok := model.ParseMessageType(strings.ToUpper(strings.TrimSpace(name)))
		if !ok {
			return nil, fmt.Errorf("invalid audited frame type %q", name)
		}
		types = append(types, t)
	}
	return types, nil
}

func (c *Config) AuditEnabled() bool {
	return c.Amqp.Url != ""
}

func (c *Config) HeartBeat() int64 {
	return c.HeartbeatMs
}

func (c *Config) MaxFrameSize() int {
	return c.MaxFrameBytes
}

func (c *Config) CloseOnNotLoggedIn() bool {
	return c.CloseUnauthenticated
}
