package domain

// Frontend lifecycle states reported in snapshots.
const (
	StatusRunning = "running"
	StatusStopped = "stopped"
	StatusFailed  = "failed"
)

// Relay modes.
const (
	ModeTCP  = "tcp"
	ModeUDP  = "udp"
	ModeHTTP = "http"
)

// Session outcomes recorded in history.
const (
	SessionOK     = "ok"
	SessionFailed = "failed"
	SessionDenied = "denied"
)

// FilterRules is the persisted form of the IP filter membership.
type FilterRules struct {
	Blacklist []string `json:"blacklist"`
	Whitelist []string `json:"whitelist"`
}

// DomainSnapshot is the per-Host traffic breakdown of an HTTP frontend.
type DomainSnapshot struct {
	Requests      int64 `json:"requests"`
	BytesSent     int64 `json:"bytes_sent"`
	BytesReceived int64 `json:"bytes_received"`
}

// FrontendSnapshot is a point-in-time view of one frontend's counters.
// bytes_sent counts client-to-backend traffic, bytes_received the reverse.
type FrontendSnapshot struct {
	Name              string                    `json:"name"`
	Mode              string                    `json:"mode"`
	Bind              string                    `json:"bind"`
	Target            string                    `json:"target"`
	Status            string                    `json:"status"`
	UptimeSeconds     int64                     `json:"uptime_seconds"`
	BytesSent         int64                     `json:"bytes_sent"`
	BytesReceived     int64                     `json:"bytes_received"`
	ActiveConnections int64                     `json:"active_connections"`
	Connections       int64                     `json:"connections"`
	FailedConnections int64                     `json:"failed_connections"`
	Requests          int64                     `json:"requests,omitempty"`
	FailedRequests    int64                     `json:"failed_requests,omitempty"`
	PacketsIn         int64                     `json:"packets_in,omitempty"`
	PacketsOut        int64                     `json:"packets_out,omitempty"`
	BlockedIPs        int64                     `json:"blocked_ips"`
	AvgResponseMs     float64                   `json:"avg_response_ms,omitempty"`
	Domains           map[string]DomainSnapshot `json:"domains,omitempty"`
	LastError         string                    `json:"last_error,omitempty"`
}

// GlobalSnapshot aggregates over every configured frontend.
type GlobalSnapshot struct {
	Frontends     int   `json:"frontends"`
	Running       int   `json:"running"`
	BytesSent     int64 `json:"bytes_sent"`
	BytesReceived int64 `json:"bytes_received"`
	Connections   int64 `json:"connections"`
	Requests      int64 `json:"requests"`
	FailedTotal   int64 `json:"failed_total"`
	BlockedIPs    int64 `json:"blocked_ips"`
	UptimeSeconds int64 `json:"uptime_seconds"`
}

// SessionRecord describes one completed relay session, UDP flow, or HTTP
// exchange. Fed to the history archiver; flat strings and integers so the
// parquet schema stays fixed.
type SessionRecord struct {
	Time          string `json:"time"`
	Frontend      string `json:"frontend"`
	Mode          string `json:"mode"`
	Client        string `json:"client"`
	Backend       string `json:"backend"`
	Host          string `json:"host,omitempty"`
	BytesSent     int64  `json:"bytes_sent"`
	BytesReceived int64  `json:"bytes_received"`
	DurationMs    int64  `json:"duration_ms"`
	Status        string `json:"status"`
}
