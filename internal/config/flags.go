package config

import (
	"errors"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// NotificationFlags gate the notification emission paths.
type NotificationFlags struct {
	SingleEmitterEnabled         bool `mapstructure:"singleEmitterEnabled"`
	DisableLegacyPathForPayments bool `mapstructure:"disableLegacyPathForPayments"`
	KillSwitch                   bool `mapstructure:"killSwitch"`
	ShadowMode                   bool `mapstructure:"shadowMode"`
}

// FlagsHolder serves the current flags and swaps them when notifications.yml changes.
type FlagsHolder struct {
	current atomic.Value // holds NotificationFlags
}

// NewStaticFlags returns a holder that only changes through Set.
func NewStaticFlags(flags NotificationFlags) *FlagsHolder {
	holder := &FlagsHolder{}
	holder.current.Store(flags)
	return holder
}

func NewFlagsHolder(cfg Config) (*FlagsHolder, error) {
	v := viper.New()

	v.SetConfigName("notifications")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/gigledger")
	v.AddConfigPath(".")

	v.SetDefault("notifications.singleEmitterEnabled", cfg.Flags.SingleEmitterEnabled)
	v.SetDefault("notifications.disableLegacyPathForPayments", cfg.Flags.DisableLegacyPathForPayments)
	v.SetDefault("notifications.killSwitch", cfg.Flags.KillSwitch)
	v.SetDefault("notifications.shadowMode", cfg.Flags.ShadowMode)

	// environment always wins over the file
	_ = v.BindEnv("notifications.singleEmitterEnabled", "SINGLE_EMITTER_ENABLED")
	_ = v.BindEnv("notifications.disableLegacyPathForPayments", "DISABLE_LEGACY_PATH_FOR_PAYMENTS")
	_ = v.BindEnv("notifications.killSwitch", "NOTIFICATIONS_KILL_SWITCH")
	_ = v.BindEnv("notifications.shadowMode", "NOTIFICATIONS_SHADOW_MODE")

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileFound = false
	}

	var flags NotificationFlags
	if err := v.UnmarshalKey("notifications", &flags); err != nil {
		return nil, err
	}

	holder := NewStaticFlags(flags)

	if fileFound {
		v.OnConfigChange(func(e fsnotify.Event) {
			var updated NotificationFlags
			if err := v.UnmarshalKey("notifications", &updated); err != nil {
				zap.L().Warn("notification flags reload failed", zap.Error(err))
				return
			}
			holder.Set(updated)
			zap.L().Info("notification flags reloaded",
				zap.String("file", e.Name),
				zap.Bool("single_emitter_enabled", updated.SingleEmitterEnabled),
				zap.Bool("disable_legacy_path_for_payments", updated.DisableLegacyPathForPayments),
				zap.Bool("kill_switch", updated.KillSwitch),
				zap.Bool("shadow_mode", updated.ShadowMode),
			)
		})
		v.WatchConfig()
	}

	return holder, nil
}

func (h *FlagsHolder) Get() NotificationFlags {
	if h == nil {
		return NotificationFlags{}
	}
	flags, _ := h.current.Load().(NotificationFlags)
	return flags
}

func (h *FlagsHolder) Set(flags NotificationFlags) {
	if h == nil {
		return
	}
	h.current.Store(flags)
}
