// Package emqx provisions MQTT credentials for sensors in the EMQX
// built-in authentication database.
package emqx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ntentasd/acuamon-api/pkg/types"
)

var ErrUserExists = errors.New("emqx user already exists")

type Client struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	httpClient *http.Client
}

// New returns nil when baseURL is empty; a nil *Client provisions nothing.
func New(baseURL, apiKey, apiSecret string) *Client {
	if baseURL == "" {
		return nil
	}
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "http://" + baseURL
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		apiSecret: apiSecret,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

type CreateUserResponse struct {
	UserID      string `json:"user_id"`
	IsSuperuser bool   `json:"is_superuser"`
}

func (c *Client) CreateUser(ctx context.Context, userID, password string, isSuperuser bool) (*CreateUserResponse, error) {
	endpoint := c.baseURL + "/api/v5/authentication/password_based%3Abuilt_in_database/users"

	body, err := json.Marshal(map[string]any{
		"user_id":      userID,
		"password":     password,
		"is_superuser": isSuperuser,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode EMQX payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create EMQX request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.apiKey, c.apiSecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to contact EMQX: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated, http.StatusOK:
	case http.StatusConflict:
		return nil, fmt.Errorf("%w: %s", ErrUserExists, userID)
	default:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("emqx returned %s: %s", resp.Status, string(b))
	}

	var result CreateUserResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("invalid emqx response: %w", err)
	}
	return &result, nil
}

// ProvisionSensor registers the sensor's MQTT login with the broker.
func (c *Client) ProvisionSensor(ctx context.Context, creds types.SensorCredentials) error {
	if c == nil {
		return nil
	}
	_, err := c.CreateUser(ctx, creds.Username, creds.Password, false)
	return err
}
