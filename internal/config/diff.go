package config

import "reflect"

// ConfigDiff describes what changed between two static configs. Only log
// level changes are hot-applied; everything else requires a restart and is
// surfaced so the operator hears about it.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// ProvidersChanged is true when any provider entry differs. Providers
	// are constructed once at startup, so this only takes effect on restart.
	ProvidersChanged bool

	// CarrierChanged is true when carrier credentials or numbers differ.
	CarrierChanged bool

	// PathsChanged is true when any data path differs. Stores keep their
	// original paths until restart.
	PathsChanged bool
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !providerEntryEqual(old.Providers.STT, new.Providers.STT) ||
		!providerEntryEqual(old.Providers.LLM, new.Providers.LLM) ||
		!providerEntryEqual(old.Providers.TTS, new.Providers.TTS) {
		d.ProvidersChanged = true
	}

	if old.Carrier != new.Carrier {
		d.CarrierChanged = true
	}

	if old.Paths != new.Paths {
		d.PathsChanged = true
	}

	return d
}

func providerEntryEqual(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	// Options may hold nested maps, so == is not available.
	return reflect.DeepEqual(a.Options, b.Options) &&
		reflect.DeepEqual(a.Fallbacks, b.Fallbacks)
}
