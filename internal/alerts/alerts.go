package alerts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/n0needt0/go-goodies/log"
)

// Client posts operational alerts to an external webhook. A disabled
// client drops alerts, logging them only in dev mode.
type Client struct {
	config Config
}

type Config struct {
	Enabled  bool
	Endpoint string
	Timeout  int

	AppName    string
	AppVersion string
	Dev        bool
}

type Payload struct {
	Service   string                 `json:"service"`
	Version   string                 `json:"version"`
	Severity  string                 `json:"severity"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details"`
	Timestamp string                 `json:"timestamp"`
}

func NewClient(config Config) *Client {
	return &Client{config: config}
}

func (c *Client) SendCriticalAlert(title, message, details string) error {
	return c.sendAlert("critical", title, message, details)
}

func (c *Client) SendWarningAlert(title, message, details string) error {
	return c.sendAlert("warning", title, message, details)
}

func (c *Client) SendInfoAlert(title, message, details string) error {
	return c.sendAlert("info", title, message, details)
}

// SendFrontendFailureAlert reports a frontend that could not bind or start.
func (c *Client) SendFrontendFailureAlert(frontend string, err error) error {
	return c.SendCriticalAlert(
		"Frontend Startup Failure",
		"A relay frontend failed to start",
		fmt.Sprintf("Frontend: %s, Error: %v", frontend, err),
	)
}

// SendUploadFailureAlert reports a history archive upload that keeps
// failing; the files stay on disk for manual recovery.
func (c *Client) SendUploadFailureAlert(file string, err error) error {
	return c.SendWarningAlert(
		"History Upload Failure",
		"Failed to upload a history archive batch",
		fmt.Sprintf("File: %s, Error: %v", file, err),
	)
}

func (c *Client) sendAlert(severity, title, message, details string) error {
	if !c.config.Enabled {
		if c.config.Dev {
			log.Infof("Alert [%s]: %s - %s (%s)", severity, title, message, details)
		}
		return nil
	}

	if c.config.Endpoint == "" {
		return fmt.Errorf("alert endpoint not configured")
	}

	payload := Payload{
		Service:  c.config.AppName,
		Version:  c.config.AppVersion,
		Severity: severity,
		Title:    title,
		Message:  message,
		Details: map[string]interface{}{
			"details": details,
		},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal alert payload: %w", err)
	}

	timeout := time.Duration(c.config.Timeout) * time.Second
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	httpClient := &http.Client{
		Timeout: timeout,
	}

	req, err := http.NewRequest("POST", c.config.Endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create alert request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", fmt.Sprintf("%s/%s", c.config.AppName, c.config.AppVersion))

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send alert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("alert request failed with status %d", resp.StatusCode)
	}

	log.Debugf("alert sent: %s", title)
	return nil
}
