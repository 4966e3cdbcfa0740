package config

import (
	"reflect"
	"strconv"
	"strings"
	"time"

	"codeberg.org/mutker/hwtelemetry/internal/alerts"
	"codeberg.org/mutker/hwtelemetry/internal/errors"
	"codeberg.org/mutker/hwtelemetry/internal/monitor"
	"codeberg.org/mutker/hwtelemetry/internal/sensors"
	"codeberg.org/mutker/hwtelemetry/internal/transport"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const (
	DefaultEnvPrefix  = "HWTELEMETRY"
	DefaultConfigName = "hwtelemetry"
	DefaultConfigDir  = "/etc"
	DefaultLogLevel   = LogLevelInfo
)

type Config struct {
	LogLevel LogLevel `mapstructure:"log_level" validate:"oneof=debug info warning error"`
	LogFile  string   `mapstructure:"log_file"`

	Sender   SenderConfig      `mapstructure:"sender"`
	Receiver ReceiverConfig    `mapstructure:"receiver"`
	Alerts   alerts.Thresholds `mapstructure:"alerts"`
	Notify   NotifyConfig      `mapstructure:"notify"`
}

type SenderConfig struct {
	Mode        string        `mapstructure:"mode" validate:"oneof=broadcast unicast"`
	DestIP      string        `mapstructure:"dest_ip" validate:"required_if=Mode unicast,omitempty,ip4_addr"`
	Port        int           `mapstructure:"port" validate:"min=1,max=65535"`
	Interval    time.Duration `mapstructure:"interval" validate:"min=100ms,max=60s"`
	BindIP      string        `mapstructure:"bind_ip" validate:"omitempty,ip4_addr"`
	Ping        bool          `mapstructure:"ping"`
	PingTarget  string        `mapstructure:"ping_target" validate:"hostname_port"`
	PingTimeout time.Duration `mapstructure:"ping_timeout" validate:"min=10ms,max=5s"`
	GPUIndex    int           `mapstructure:"gpu_index" validate:"min=0"`
	RichSensors bool          `mapstructure:"rich_sensors"`
	GPU         bool          `mapstructure:"gpu"`
}

type ReceiverConfig struct {
	Port        int           `mapstructure:"port" validate:"min=1,max=65535"`
	BindIP      string        `mapstructure:"bind_ip" validate:"omitempty,ip4_addr"`
	SenderIP    string        `mapstructure:"sender_ip" validate:"omitempty,ip"`
	ReadTimeout time.Duration `mapstructure:"read_timeout" validate:"min=10ms,max=10s"`
	BindRetry   time.Duration `mapstructure:"bind_retry" validate:"min=10ms,max=5m"`
	QueueSize   int           `mapstructure:"queue_size" validate:"min=1,max=4096"`
	Tick        time.Duration `mapstructure:"tick" validate:"min=10ms,max=10s"`
	StaleAfter  time.Duration `mapstructure:"stale_after" validate:"min=100ms"`
	HistorySize int           `mapstructure:"history_size" validate:"min=1,max=100000"`
}

type NotifyConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	Cooldown          time.Duration `mapstructure:"cooldown" validate:"min=1s"`
	MinLevel          string        `mapstructure:"min_level" validate:"oneof=warning critical"`
	DiscordWebhookURL string        `mapstructure:"discord_webhook_url" validate:"omitempty,url"`
	NtfyServer        string        `mapstructure:"ntfy_server" validate:"omitempty,url"`
	NtfyTopic         string        `mapstructure:"ntfy_topic"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", string(DefaultLogLevel))
	v.SetDefault("log_file", "")

	v.SetDefault("sender.mode", transport.ModeBroadcast)
	v.SetDefault("sender.dest_ip", "255.255.255.255")
	v.SetDefault("sender.port", transport.DefaultPort)
	v.SetDefault("sender.interval", transport.DefaultInterval)
	v.SetDefault("sender.bind_ip", "")
	v.SetDefault("sender.ping", true)
	v.SetDefault("sender.ping_target", sensors.DefaultPingTarget)
	v.SetDefault("sender.ping_timeout", sensors.DefaultPingTimeout)
	v.SetDefault("sender.gpu_index", 0)
	v.SetDefault("sender.rich_sensors", true)
	v.SetDefault("sender.gpu", true)

	v.SetDefault("receiver.port", transport.DefaultPort)
	v.SetDefault("receiver.bind_ip", "0.0.0.0")
	v.SetDefault("receiver.sender_ip", "")
	v.SetDefault("receiver.read_timeout", transport.DefaultReadTimeout)
	v.SetDefault("receiver.bind_retry", transport.DefaultBindRetry)
	v.SetDefault("receiver.queue_size", transport.DefaultQueueSize)
	v.SetDefault("receiver.tick", monitor.DefaultTick)
	v.SetDefault("receiver.stale_after", monitor.DefaultStaleAfter)
	v.SetDefault("receiver.history_size", monitor.DefaultHistorySize)

	th := alerts.DefaultThresholds()
	v.SetDefault("alerts.cpu_temp_warning", th.CPUTempWarning)
	v.SetDefault("alerts.cpu_temp_critical", th.CPUTempCritical)
	v.SetDefault("alerts.cpu_usage_warning", th.CPUUsageWarning)
	v.SetDefault("alerts.cpu_usage_critical", th.CPUUsageCritical)
	v.SetDefault("alerts.gpu_temp_warning", th.GPUTempWarning)
	v.SetDefault("alerts.gpu_temp_critical", th.GPUTempCritical)
	v.SetDefault("alerts.gpu_usage_warning", th.GPUUsageWarning)
	v.SetDefault("alerts.gpu_usage_critical", th.GPUUsageCritical)
	v.SetDefault("alerts.ram_warning", th.RAMWarning)
	v.SetDefault("alerts.ram_critical", th.RAMCritical)
	v.SetDefault("alerts.storage_temp_warning", th.StorageTempWarning)
	v.SetDefault("alerts.storage_temp_critical", th.StorageTempCritical)
	v.SetDefault("alerts.storage_usage_warning", th.StorageUsageWarning)
	v.SetDefault("alerts.storage_usage_critical", th.StorageUsageCritical)
	v.SetDefault("alerts.ping_warning", th.PingWarning)
	v.SetDefault("alerts.ping_critical", th.PingCritical)

	v.SetDefault("notify.enabled", false)
	v.SetDefault("notify.cooldown", alerts.DefaultCooldown)
	v.SetDefault("notify.min_level", alerts.Warning.String())
	v.SetDefault("notify.discord_webhook_url", "")
	v.SetDefault("notify.ntfy_server", "https://ntfy.sh")
	v.SetDefault("notify.ntfy_topic", "")
}

// Load reads defaults, the TOML file, the environment and bound flags, in
// increasing order of precedence, and validates the result.
func Load(opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := options{envPrefix: DefaultEnvPrefix}
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, errFactory.Wrap(errors.ErrInvalidArgument, err)
		}
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigType("toml")
	if o.configPath != "" {
		v.SetConfigFile(o.configPath)
	} else {
		v.SetConfigName(DefaultConfigName)
		v.AddConfigPath(DefaultConfigDir)
	}

	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, flag := range o.flags {
		if err := v.BindPFlag(key, flag); err != nil {
			return nil, errFactory.Wrap(errors.ErrBindFlags, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if o.configPath != "" || !errors.As(err, &notFound) {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err)
		}
	}

	cfg := &Config{}
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		secondsToDurationHook(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(cfg, hook); err != nil {
		return nil, errFactory.Wrap(errors.ErrReadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// secondsToDurationHook lets durations be written as plain numbers of
// seconds, e.g. interval = 0.5 in the file or HWTELEMETRY_SENDER_INTERVAL=0.5
// in the environment.
func secondsToDurationHook() mapstructure.DecodeHookFuncType {
	durationType := reflect.TypeOf(time.Duration(0))

	return func(from, to reflect.Type, data any) (any, error) {
		if to != durationType {
			return data, nil
		}

		switch from.Kind() {
		case reflect.String:
			secs, err := strconv.ParseFloat(strings.TrimSpace(reflect.ValueOf(data).String()), 64)
			if err != nil {
				// Left for the duration string hook, e.g. "500ms".
				return data, nil
			}
			return time.Duration(secs * float64(time.Second)), nil
		case reflect.Float32, reflect.Float64:
			return time.Duration(reflect.ValueOf(data).Float() * float64(time.Second)), nil
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			// Defaults are already time.Duration and pass through untouched.
			if from == durationType {
				return data, nil
			}
			return time.Duration(reflect.ValueOf(data).Int()) * time.Second, nil
		default:
			return data, nil
		}
	}
}

// Validate checks every field against its constraints.
func (c *Config) Validate() error {
	errFactory := errors.New()

	if !c.LogLevel.IsValid() {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel.String())
	}

	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			msgs := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				msgs = append(msgs, fe.Namespace()+" failed "+fe.Tag())
			}
			return errFactory.Wrap(errors.ErrInvalidConfig, err).WithData(strings.Join(msgs, "; "))
		}
		return errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	return nil
}

// SenderTransport maps the sender section onto the transport settings.
func (c *Config) SenderTransport() transport.SenderConfig {
	return transport.SenderConfig{
		Mode:     c.Sender.Mode,
		DestIP:   c.Sender.DestIP,
		Port:     c.Sender.Port,
		Interval: c.Sender.Interval,
		BindIP:   c.Sender.BindIP,
	}
}

// SensorOptions maps the sender section onto the sensor hub options.
func (c *Config) SensorOptions() sensors.HubOptions {
	return sensors.HubOptions{
		PingTarget:  c.Sender.PingTarget,
		PingTimeout: c.Sender.PingTimeout,
		DisablePing: !c.Sender.Ping,
		DisableRich: !c.Sender.RichSensors,
		DisableGPU:  !c.Sender.GPU,
	}
}

// ReceiverTransport maps the receiver section onto the transport settings.
func (c *Config) ReceiverTransport() transport.ReceiverConfig {
	return transport.ReceiverConfig{
		BindIP:      c.Receiver.BindIP,
		Port:        c.Receiver.Port,
		SenderIP:    c.Receiver.SenderIP,
		ReadTimeout: c.Receiver.ReadTimeout,
		BindRetry:   c.Receiver.BindRetry,
		QueueSize:   c.Receiver.QueueSize,
	}
}

// Monitor maps the receiver and alert sections onto the consumer settings.
func (c *Config) Monitor() monitor.Config {
	return monitor.Config{
		Tick:        c.Receiver.Tick,
		StaleAfter:  c.Receiver.StaleAfter,
		HistorySize: c.Receiver.HistorySize,
		Thresholds:  c.Alerts,
	}
}

// Notifications maps the notify section onto the alert dispatcher settings.
func (c *Config) Notifications() alerts.NotifyConfig {
	level, err := alerts.ParseLevel(c.Notify.MinLevel)
	if err != nil {
		level = alerts.Warning
	}

	return alerts.NotifyConfig{
		Enabled:           c.Notify.Enabled,
		Cooldown:          c.Notify.Cooldown,
		MinLevel:          level,
		DiscordWebhookURL: c.Notify.DiscordWebhookURL,
		NtfyServer:        c.Notify.NtfyServer,
		NtfyTopic:         c.Notify.NtfyTopic,
	}
}
