package config

type Config struct {
	// DataDir is the base directory for everything the engine persists:
	// uploads/, reports/, media/, ledger/ and the optional history store.
	DataDir string `json:"data_dir"`

	HTTP    HTTPConfig    `json:"http"`
	Logging LoggingConfig `json:"logging"`

	// Accounts lists the messaging account ids the engine manages.
	Accounts []string `json:"accounts"`

	Campaign CampaignConfig `json:"campaign"`
	Channel  ChannelConfig  `json:"channel"`

	// Storage controls the optional run-history store.
	// If omitted, history is disabled and runs are only reported via CSV.
	Storage *StorageConfig `json:"storage,omitempty"`
}

type HTTPConfig struct {
	Addr string `json:"addr"`
}

type LoggingConfig struct {
	Level   string         `json:"level"`
	Console bool           `json:"console"`
	File    FileLogConfig  `json:"file"`
	Events  EventLogConfig `json:"events"`
}

type FileLogConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// EventLogConfig controls forwarding of warn+ log records to observers
// as status events.
type EventLogConfig struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// CampaignConfig holds defaults for run options; a start-run request
// may override any of them per run.
//
// Delays are Go duration strings (e.g. "1500ms", "2s").
type CampaignConfig struct {
	CountryCode  string `json:"country_code"`
	DelayAfter   string `json:"delay_after,omitempty"`
	DelayBetween string `json:"delay_between,omitempty"`

	// Schedules registers recurring runs, armed at startup.
	Schedules []ScheduleConfig `json:"schedules,omitempty"`
}

// ScheduleConfig is one recurring run: a five-field cron expression
// (or @-descriptor) and the account it fires for. Mode "attachments"
// sends the media pair; anything else sends text.
type ScheduleConfig struct {
	Account string `json:"account"`
	Cron    string `json:"cron"`
	Mode    string `json:"mode,omitempty"`
}

// ChannelConfig selects the messaging channel driver.
// "sim" is the built-in deterministic in-memory driver.
type ChannelConfig struct {
	Driver string `json:"driver"`
}

// StorageConfig controls the run-history persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./data/history" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}
