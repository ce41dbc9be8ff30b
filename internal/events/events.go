// Package events defines the fixed event shapes the engine publishes.
//
// Field names (json tags) follow the wire contract consumed by observers;
// changing them breaks every attached client, so treat them as frozen.
package events

// Event type names as they appear on the wire.
const (
	TypeStatus            = "status"
	TypeReady             = "ready"
	TypeProgress          = "progress"
	TypePercent           = "percent"
	TypeAck               = "ack"
	TypeDone              = "done"
	TypeScheduled         = "scheduled"
	TypeScheduleCancelled = "schedule-cancelled"
	TypeHydrate           = "hydrate"
	TypeUpload            = "upload"
)

// Status levels.
const (
	LevelInfo    = "info"
	LevelWarn    = "warn"
	LevelError   = "error"
	LevelSuccess = "success"
)

// Status is a human-readable notice for the operator.
type Status struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// Ready signals that an account's channel reached (or left) the ready state.
type Ready struct {
	AccountID string `json:"accountId"`
	Ready     bool   `json:"ready"`
}

// Progress reports one processed row. Index is 1-based.
type Progress struct {
	AccountID string `json:"accountId"`
	Index     int    `json:"index"`
	Total     int    `json:"total"`
	Telefono  string `json:"telefono"`
	Negocio   string `json:"negocio"`
	Status    string `json:"status"`
}

// Percent reports overall run completion after every row.
type Percent struct {
	AccountID string `json:"accountId"`
	Processed int    `json:"processed"`
	Total     int    `json:"total"`
	Percent   int    `json:"percent"`
}

// Ack carries a delivery acknowledgement from the channel.
// Codes: -1 error, 0 pending, 1 server, 2 device, 3 read, 4 played.
type Ack struct {
	AccountID string `json:"accountId"`
	To        string `json:"to"`
	Ack       int    `json:"ack"`
}

// Done announces run completion together with the report locations.
type Done struct {
	AccountID        string `json:"accountId"`
	ReportURL        string `json:"reportUrl"`
	ReportValidURL   string `json:"reportValidUrl"`
	ReportInvalidURL string `json:"reportInvalidUrl"`
}

// Scheduled confirms a deferred run was armed. RunAt is unix millis.
type Scheduled struct {
	JobID     string `json:"jobId"`
	AccountID string `json:"accountId"`
	RunAt     int64  `json:"runAt"`
}

// ScheduleCancelled confirms a pending job was disarmed.
type ScheduleCancelled struct {
	JobID string `json:"jobId"`
}

// Upload reports a contact list replacement.
type Upload struct {
	Count    int    `json:"count"`
	Filename string `json:"filename"`
}

// AccountSnapshot is one account's slice of the hydration snapshot.
type AccountSnapshot struct {
	Ready     bool `json:"ready"`
	Sending   bool `json:"sending"`
	Processed int  `json:"processed"`
	Total     int  `json:"total"`
	Percent   int  `json:"percent"`
}

// ScheduledJob is one pending deferred run in the hydration snapshot.
type ScheduledJob struct {
	JobID     string `json:"jobId"`
	AccountID string `json:"accountId"`
	RunAt     int64  `json:"runAt"`
}

// Hydrate is the point-in-time snapshot sent to a newly attached
// observer so it can reconstruct state without replaying history.
type Hydrate struct {
	HasUpload bool                       `json:"hasUpload"`
	CSVCount  int                        `json:"csvCount"`
	Accounts  map[string]AccountSnapshot `json:"accounts"`
	Scheduled []ScheduledJob             `json:"scheduled"`
}
