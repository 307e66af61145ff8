package doorbell

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const historyLimit = 5

// Client talks to the doorbell vendor's cloud API. It implements Upstream.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

// NewClient creates a cloud API client with sane timeouts. Recording
// downloads can be tens of megabytes, hence the generous client timeout.
func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL: baseURL,
		Token:   token,
		HTTP:    &http.Client{Timeout: 60 * time.Second},
	}
}

type historyItem struct {
	ID        int64     `json:"id"`
	Kind      string    `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
}

// History returns the camera's most recent events, newest first.
func (c *Client) History(ctx context.Context, cameraID string) ([]Occurrence, error) {
	endpoint := fmt.Sprintf("%s/clients_api/doorbots/%s/history?limit=%d", c.BaseURL, url.PathEscape(cameraID), historyLimit)
	body, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch history for camera %s: %w", cameraID, err)
	}

	var items []historyItem
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("failed to decode history response: %w", err)
	}

	occurrences := make([]Occurrence, 0, len(items))
	for _, item := range items {
		occurrences = append(occurrences, Occurrence{
			ID:         item.ID,
			Kind:       normalizeKind(item.Kind),
			RecordedAt: item.CreatedAt,
		})
	}
	return occurrences, nil
}

// DownloadRecording fetches the MP4 clip for an event. The recording may not
// be transcoded yet; the API answers 404 or 202 until it is ready.
func (c *Client) DownloadRecording(ctx context.Context, occurrenceID int64) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/clients_api/dings/%d/recording", c.BaseURL, occurrenceID)
	body, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("recording %d not available: %w", occurrenceID, err)
	}
	return body, nil
}

type healthResponse struct {
	DeviceHealth struct {
		BatteryPercentage int `json:"battery_percentage"`
	} `json:"device_health"`
}

// BatteryLevel returns the camera's battery percentage.
func (c *Client) BatteryLevel(ctx context.Context, cameraID string) (int, error) {
	endpoint := fmt.Sprintf("%s/clients_api/doorbots/%s/health", c.BaseURL, url.PathEscape(cameraID))
	body, err := c.get(ctx, endpoint)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch health for camera %s: %w", cameraID, err)
	}

	var health healthResponse
	if err := json.Unmarshal(body, &health); err != nil {
		return 0, fmt.Errorf("failed to decode health response: %w", err)
	}
	return health.DeviceHealth.BatteryPercentage, nil
}

func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func normalizeKind(kind string) string {
	switch kind {
	case "ding", "ring":
		return KindRing
	default:
		return KindMotion
	}
}
