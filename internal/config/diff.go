package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked: provider and
// server topology changes require a restart.
type ConfigDiff struct {
	LogLevelChanged  bool
	NewLogLevel      LogLevel
	InterviewChanged bool // any interview tunable changed; applies to new sessions
	SpeechChanged    bool // any speech timing tunable changed; applies to new sessions
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Interview != new.Interview {
		d.InterviewChanged = true
	}
	if old.Speech != new.Speech {
		d.SpeechChanged = true
	}

	return d
}
