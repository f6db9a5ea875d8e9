package config

import (
	"maps"
	"reflect"
	"slices"

	"github.com/MrWong99/voxfill/internal/mapping"
)

// ConfigDiff describes what changed between two configs.
// Hot-reloadable changes are reported individually; everything else only sets
// RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// FieldMappingsChanged is true when any field rule was added, removed or
	// modified. ChangedFields lists the affected field names, sorted.
	FieldMappingsChanged bool
	ChangedFields        []string

	ParseSpeechLimitChanged  bool
	SpeechToTextLimitChanged bool

	// RestartRequired is true when a setting that is only read at startup
	// changed: server address, timeouts, providers, parser or rate-limit
	// backend.
	RestartRequired bool
}

// Empty reports whether d records no change at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.FieldMappingsChanged &&
		!d.ParseSpeechLimitChanged && !d.SpeechToTextLimitChanged && !d.RestartRequired
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	for _, name := range slices.Sorted(maps.Keys(unionKeys(old.FieldMappings, new.FieldMappings))) {
		o, inOld := old.FieldMappings[name]
		n, inNew := new.FieldMappings[name]
		if inOld != inNew || !ruleEqual(o, n) {
			d.ChangedFields = append(d.ChangedFields, name)
		}
	}
	d.FieldMappingsChanged = len(d.ChangedFields) > 0

	d.ParseSpeechLimitChanged = old.RateLimit.ParseSpeech != new.RateLimit.ParseSpeech
	d.SpeechToTextLimitChanged = old.RateLimit.SpeechToText != new.RateLimit.SpeechToText

	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	oldRL, newRL := old.RateLimit, new.RateLimit
	oldRL.ParseSpeech, newRL.ParseSpeech = LimitConfig{}, LimitConfig{}
	oldRL.SpeechToText, newRL.SpeechToText = LimitConfig{}, LimitConfig{}
	d.RestartRequired = !reflect.DeepEqual(oldServer, newServer) ||
		!reflect.DeepEqual(old.Providers, new.Providers) ||
		!reflect.DeepEqual(old.Parser, new.Parser) ||
		oldRL != newRL ||
		old.SchemaHTML != new.SchemaHTML ||
		!reflect.DeepEqual(old.Telemetry, new.Telemetry)

	return d
}

func unionKeys(a, b map[string]mapping.Rule) map[string]struct{} {
	out := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		out[k] = struct{}{}
	}
	for k := range b {
		out[k] = struct{}{}
	}
	return out
}

func ruleEqual(a, b mapping.Rule) bool {
	return slices.Equal(a.Transform, b.Transform) &&
		a.Validate.Required == b.Validate.Required &&
		a.Validate.Pattern == b.Validate.Pattern &&
		slices.Equal(a.Validate.OneOf, b.Validate.OneOf) &&
		a.Validate.MinLength == b.Validate.MinLength &&
		a.Validate.MaxLength == b.Validate.MaxLength &&
		a.Validate.Message == b.Validate.Message
}
