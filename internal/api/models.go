package api

import (
	"github.com/n0needt0/goodies/switchyard/internal/domain"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	ServiceName string `json:"service_name"`
	Timestamp   string `json:"timestamp"`
	Frontends   int    `json:"frontends"`
	Running     int    `json:"running"`
}

type FrontendListResponse struct {
	Frontends []domain.FrontendSnapshot `json:"frontends"`
}

type StatsResponse struct {
	Global    domain.GlobalSnapshot     `json:"global"`
	Frontends []domain.FrontendSnapshot `json:"frontends"`
}

// ActionResponse acknowledges a lifecycle operation on a frontend.
type ActionResponse struct {
	Frontend string `json:"frontend"`
	Action   string `json:"action"`
	Status   string `json:"status"`
}

type FilterRulesResponse struct {
	Rules   domain.FilterRules `json:"rules"`
	Denials map[string]int64   `json:"denials"`
}

type FilterActionResponse struct {
	List   string `json:"list"`
	IP     string `json:"ip,omitempty"`
	Action string `json:"action"`
}

type frontendRequest struct {
	Name string `path:"name"`
}

type filterListRequest struct {
	List string `path:"list"`
}

type filterAddRequest struct {
	List string `path:"list"`
	IP   string `json:"ip"`
}

type filterRemoveRequest struct {
	List string `path:"list"`
	IP   string `path:"ip"`
}

// ConfigResponse represents the current system configuration
type ConfigResponse struct {
	App          AppConfig          `json:"app"`
	Server       ServerConfig       `json:"server"`
	Export       ExportConfig       `json:"export"`
	Otel         OtelConfig         `json:"otel"`
	Housekeeping HousekeepingConfig `json:"housekeeping"`
	Alerts       AlertsConfig       `json:"alerts"`
	Rules        RulesConfig        `json:"rules"`
	S3           S3ConfigMasked     `json:"s3"`
	History      HistoryConfig      `json:"history"`
	Frontends    int                `json:"frontends"`
	Backends     int                `json:"backends"`
	Dev          bool               `json:"dev"`
}

type AppConfig struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type ServerConfig struct {
	ApiPort int `json:"api_port"`
}

type ExportConfig struct {
	Enabled bool `json:"enabled"`
	Port    int  `json:"port"`
}

type OtelConfig struct {
	Enabled               bool   `json:"enabled"`
	Endpoint              string `json:"endpoint"`
	ScrapeIntervalSeconds int    `json:"scrape_interval_seconds"`
}

type HousekeepingConfig struct {
	Enabled         bool `json:"enabled"`
	IntervalSeconds int  `json:"interval_seconds"`
}

type AlertsConfig struct {
	Enabled        bool   `json:"enabled"`
	Endpoint       string `json:"endpoint"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

type RulesConfig struct {
	Source string `json:"source"`
	Path   string `json:"path"`
	S3Key  string `json:"s3_key"`
}

type S3ConfigMasked struct {
	BucketName string `json:"bucket_name"`
	Region     string `json:"region"`
	AccessKey  string `json:"access_key"` // This will be masked
	SecretKey  string `json:"secret_key"` // This will be masked
	Endpoint   string `json:"endpoint"`
	Ssl        bool   `json:"ssl"`
}

type HistoryConfig struct {
	Enabled      bool   `json:"enabled"`
	Directory    string `json:"directory"`
	BatchRows    int    `json:"batch_rows"`
	FlushSeconds int    `json:"flush_seconds"`
	Parquet      bool   `json:"parquet"`
	S3Upload     bool   `json:"s3_upload"`
	MaxFiles     int    `json:"max_files"`
}
