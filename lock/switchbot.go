package lock

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Controller operates a smart lock through the SwitchBot cloud API. Lock and
// Unlock report success as a bool: the caller records the outcome but never
// fails a pipeline cycle over an actuator error.
type Controller struct {
	BaseURL  string
	Token    string
	Secret   string
	DeviceID string
	HTTP     *http.Client
}

func NewController(baseURL, token, secret, deviceID string) *Controller {
	return &Controller{
		BaseURL:  baseURL,
		Token:    token,
		Secret:   secret,
		DeviceID: deviceID,
		HTTP:     &http.Client{Timeout: 15 * time.Second},
	}
}

// apiResponse is the envelope every SwitchBot endpoint returns. statusCode
// 100 means the command was accepted by the device.
type apiResponse struct {
	StatusCode int                    `json:"statusCode"`
	Message    string                 `json:"message"`
	Body       map[string]interface{} `json:"body"`
}

// Unlock sends the unlock command to the device.
func (c *Controller) Unlock(ctx context.Context) bool {
	return c.command(ctx, "unlock")
}

// Lock sends the lock command to the device.
func (c *Controller) Lock(ctx context.Context) bool {
	return c.command(ctx, "lock")
}

// Status returns the device status body, or nil when the query fails.
func (c *Controller) Status(ctx context.Context) map[string]interface{} {
	endpoint := fmt.Sprintf("%s/devices/%s/status", c.BaseURL, c.DeviceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		log.Printf("lock: failed to build status request: %v", err)
		return nil
	}
	c.sign(req)

	resp, err := c.do(req)
	if err != nil {
		log.Printf("lock: status query failed: %v", err)
		return nil
	}
	if resp.StatusCode != 100 {
		log.Printf("lock: status query rejected: statusCode=%d message=%s", resp.StatusCode, resp.Message)
		return nil
	}
	return resp.Body
}

func (c *Controller) command(ctx context.Context, command string) bool {
	payload, err := json.Marshal(map[string]string{
		"command":     command,
		"parameter":   "default",
		"commandType": "command",
	})
	if err != nil {
		log.Printf("lock: failed to build %s payload: %v", command, err)
		return false
	}

	endpoint := fmt.Sprintf("%s/devices/%s/commands", c.BaseURL, c.DeviceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		log.Printf("lock: failed to build %s request: %v", command, err)
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	c.sign(req)

	resp, err := c.do(req)
	if err != nil {
		log.Printf("lock: %s command failed: %v", command, err)
		return false
	}
	if resp.StatusCode != 100 {
		log.Printf("lock: %s command rejected: statusCode=%d message=%s", command, resp.StatusCode, resp.Message)
		return false
	}
	log.Printf("lock: %s command accepted", command)
	return true
}

// sign adds the SwitchBot v1.1 authentication headers: a millisecond
// timestamp, a random nonce, and an HMAC-SHA256 of token+timestamp+nonce
// keyed with the API secret.
func (c *Controller) sign(req *http.Request) {
	t := strconv.FormatInt(time.Now().UnixMilli(), 10)
	nonce := uuid.NewString()

	mac := hmac.New(sha256.New, []byte(c.Secret))
	mac.Write([]byte(c.Token + t + nonce))
	sign := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	req.Header.Set("Authorization", c.Token)
	req.Header.Set("sign", sign)
	req.Header.Set("t", t)
	req.Header.Set("nonce", nonce)
}

func (c *Controller) do(req *http.Request) (*apiResponse, error) {
	httpResp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected HTTP status %d", httpResp.StatusCode)
	}

	var resp apiResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &resp, nil
}
