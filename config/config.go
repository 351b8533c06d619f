// Package config loads client configuration from flags, environment and .env files,
// and converts it to options of redispool, redisshard and redissub.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/joomcode/errorx"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joomcode/redispool/redis"
	"github.com/joomcode/redispool/redisconn"
	"github.com/joomcode/redispool/redispool"
	"github.com/joomcode/redispool/redisshard"
	"github.com/joomcode/redispool/redissub"
)

// EnvPrefix is a prefix of environment variables: REDISPOOL_POOL_SIZE sets "pool-size".
const EnvPrefix = "redispool"

// Configuration keys. They are flag names as well.
const (
	KeyEndpoints       = "endpoints"
	KeyDB              = "db"
	KeyPoolSize        = "pool-size"
	KeyPassword        = "password"
	KeyReconnect       = "reconnect"
	KeyReconnectMin    = "reconnect-min"
	KeyReconnectMax    = "reconnect-max"
	KeyReconnectJitter = "reconnect-jitter"
	KeyEncoding        = "encoding"
	KeyIOTimeout       = "io-timeout"
	KeyDialTimeout     = "dial-timeout"
	KeyReplicas        = "replicas"
	KeyLazy            = "lazy"
)

var (
	// ErrInvalid - configuration value is wrong
	ErrInvalid = redis.ErrOpts.NewType("invalid_config")
	// EKKey - configuration key of wrong value
	EKKey = errorx.RegisterPrintableProperty("config_key")
)

var defaults = map[string]interface{}{
	KeyEndpoints:       []string{"127.0.0.1:6379"},
	KeyDB:              0,
	KeyPoolSize:        4,
	KeyPassword:        "",
	KeyReconnect:       true,
	KeyReconnectMin:    50 * time.Millisecond,
	KeyReconnectMax:    5 * time.Second,
	KeyReconnectJitter: 0.1,
	KeyEncoding:        "text",
	KeyIOTimeout:       time.Second,
	KeyDialTimeout:     time.Duration(0),
	KeyReplicas:        redisshard.DefaultReplicas,
	KeyLazy:            false,
}

// Config is a client configuration.
type Config struct {
	// Endpoints are server addresses. More than one endpoint means sharded client.
	Endpoints []string
	DB        int
	PoolSize  int
	Password  string

	// Reconnect enables re-establishing of broken connections.
	Reconnect       bool
	ReconnectMin    time.Duration
	ReconnectMax    time.Duration
	ReconnectJitter float64

	// Encoding is "text" or "raw".
	Encoding    string
	IOTimeout   time.Duration
	DialTimeout time.Duration

	// Replicas is a number of points per node on hash ring.
	Replicas int
	// Lazy makes single endpoint client connect in background.
	Lazy bool
}

// SetupFlags registers persistent flags of all configuration keys on command.
// Flags are bound to viper with BindFlags.
func SetupFlags(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.String(KeyEndpoints, "127.0.0.1:6379", WrapString("Server addresses as comma separated list. Keys are sharded among several endpoints with consistent hashing"))
	f.Int(KeyDB, 0, WrapString("Database number"))
	f.Int(KeyPoolSize, 4, WrapString("Connections per endpoint"))
	f.String(KeyPassword, "", WrapString("Password for AUTH"))
	f.Bool(KeyReconnect, true, WrapString("Re-establish broken connections"))
	f.Duration(KeyReconnectMin, 50*time.Millisecond, WrapString("Pause before first reconnection attempt"))
	f.Duration(KeyReconnectMax, 5*time.Second, WrapString("Maximum pause between reconnection attempts"))
	f.Float64(KeyReconnectJitter, 0.1, WrapString("Random deviation of reconnection pause, as fraction"))
	f.String(KeyEncoding, "text", WrapString("Reply encoding (text, raw)"))
	f.Duration(KeyIOTimeout, time.Second, WrapString("Socket read/write timeout, negative disables it"))
	f.Duration(KeyDialTimeout, 0, WrapString("Dial timeout, defaults to io-timeout"))
	f.Int(KeyReplicas, redisshard.DefaultReplicas, WrapString("Hash ring points per endpoint"))
	f.Bool(KeyLazy, false, WrapString("Connect in background (single endpoint only)"))
}

// BindFlags binds command's flags to global viper.
func BindFlags(cmd *cobra.Command) error {
	if err := viper.BindPFlags(cmd.PersistentFlags()); err != nil {
		return err
	}
	return viper.BindPFlags(cmd.Flags())
}

// Init loads .env and .env.local files, and makes global viper read REDISPOOL_* variables.
func Init() {
	initEnv(viper.GetViper(), ".env", ".env.local")
}

func initEnv(v *viper.Viper, files ...string) {
	for _, f := range files {
		// missing files are fine
		_ = godotenv.Load(f)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
}

// Load reads and validates configuration. Unset keys get default values.
func Load(v *viper.Viper) (Config, error) {
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	c := Config{
		Endpoints:       endpoints(v.GetStringSlice(KeyEndpoints)),
		DB:              v.GetInt(KeyDB),
		PoolSize:        v.GetInt(KeyPoolSize),
		Password:        v.GetString(KeyPassword),
		Reconnect:       v.GetBool(KeyReconnect),
		ReconnectMin:    v.GetDuration(KeyReconnectMin),
		ReconnectMax:    v.GetDuration(KeyReconnectMax),
		ReconnectJitter: v.GetFloat64(KeyReconnectJitter),
		Encoding:        strings.ToLower(strings.TrimSpace(v.GetString(KeyEncoding))),
		IOTimeout:       v.GetDuration(KeyIOTimeout),
		DialTimeout:     v.GetDuration(KeyDialTimeout),
		Replicas:        v.GetInt(KeyReplicas),
		Lazy:            v.GetBool(KeyLazy),
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// endpoints accepts both lists and comma separated strings.
func endpoints(raw []string) []string {
	var res []string
	for _, e := range raw {
		for _, part := range strings.Split(e, ",") {
			if part = strings.TrimSpace(part); part != "" {
				res = append(res, part)
			}
		}
	}
	return res
}

// Validate checks configuration values.
func (c Config) Validate() error {
	switch {
	case len(c.Endpoints) == 0:
		return invalid(KeyEndpoints, "at least one endpoint is required")
	case c.DB < 0:
		return invalid(KeyDB, "should not be negative")
	case c.PoolSize <= 0:
		return invalid(KeyPoolSize, "should be positive")
	case c.ReconnectMin <= 0:
		return invalid(KeyReconnectMin, "should be positive")
	case c.ReconnectMax < c.ReconnectMin:
		return invalid(KeyReconnectMax, "should not be less than "+KeyReconnectMin)
	case c.ReconnectJitter < 0 || c.ReconnectJitter > 1:
		return invalid(KeyReconnectJitter, "should be in [0, 1]")
	case c.Replicas <= 0:
		return invalid(KeyReplicas, "should be positive")
	case c.Lazy && len(c.Endpoints) > 1:
		return invalid(KeyLazy, "lazy connect is not supported for several endpoints")
	}
	if _, err := ParseEncoding(c.Encoding); err != nil {
		return err
	}
	return nil
}

func invalid(key, msg string) *errorx.Error {
	return ErrInvalid.New("%s %s", key, msg).WithProperty(EKKey, key)
}

// ParseEncoding converts "text" or "raw" to redisconn.Encoding. Empty string means text.
func ParseEncoding(s string) (redisconn.Encoding, error) {
	switch s {
	case "", "text":
		return redisconn.EncodingText, nil
	case "raw":
		return redisconn.EncodingRaw, nil
	default:
		return 0, invalid(KeyEncoding, "should be text or raw, got "+strconv.Quote(s))
	}
}

// ConnOpts returns options of single connection.
func (c Config) ConnOpts() redisconn.Opts {
	enc, _ := ParseEncoding(c.Encoding)
	return redisconn.Opts{
		DB:          c.DB,
		Password:    c.Password,
		IOTimeout:   c.IOTimeout,
		DialTimeout: c.DialTimeout,
		Encoding:    enc,
	}
}

// Retry returns reconnection policy.
func (c Config) Retry() redispool.RetryPolicy {
	jitter := c.ReconnectJitter
	if jitter == 0 {
		jitter = -1
	}
	return redispool.RetryPolicy{
		Initial:  c.ReconnectMin,
		Max:      c.ReconnectMax,
		Jitter:   jitter,
		Disabled: !c.Reconnect,
	}
}

// PoolOpts returns options of pool to single endpoint.
func (c Config) PoolOpts() redispool.Opts {
	return redispool.Opts{
		Size:  c.PoolSize,
		Conn:  c.ConnOpts(),
		Retry: c.Retry(),
	}
}

// ShardOpts returns options of sharded client.
func (c Config) ShardOpts() redisshard.Opts {
	return redisshard.Opts{
		Pool:     c.PoolOpts(),
		Replicas: c.Replicas,
	}
}

// SubscriberOpts returns options of subscriber.
func (c Config) SubscriberOpts() redissub.Opts {
	return redissub.Opts{
		Conn:  c.ConnOpts(),
		Retry: c.Retry(),
	}
}

// String returns a formatted representation of configuration. Password is masked.
func (c Config) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}
	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Endpoints")
	for i, e := range c.Endpoints {
		addField(strconv.Itoa(i), e)
	}
	if len(c.Endpoints) > 1 {
		addField("Ring Replicas", strconv.Itoa(c.Replicas))
	}

	addSection("Connection")
	addField("DB", strconv.Itoa(c.DB))
	password := "<none>"
	if c.Password != "" {
		password = "********"
	}
	addField("Password", password)
	addField("Encoding", c.Encoding)
	addField("IO Timeout", c.IOTimeout.String())
	addField("Dial Timeout", c.DialTimeout.String())

	addSection("Pool")
	addField("Size", strconv.Itoa(c.PoolSize))
	addField("Lazy", strconv.FormatBool(c.Lazy))
	addField("Reconnect", strconv.FormatBool(c.Reconnect))
	if c.Reconnect {
		addField("Reconnect Pause", fmt.Sprintf("%s .. %s", c.ReconnectMin, c.ReconnectMax))
		addField("Reconnect Jitter", strconv.FormatFloat(c.ReconnectJitter, 'f', -1, 64))
	}
	return sb.String()
}
