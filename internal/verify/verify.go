// Package verify calls the external identity verifier and records its
// verdict on the account. Providers must pass before they can accept work.
package verify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Result is the verifier's verdict.
type Result struct {
	Passed bool    `json:"passed"`
	Score  float64 `json:"score"`
}

// Recorder persists the verdict on the account.
type Recorder interface {
	MarkVerified(ctx context.Context, id uuid.UUID, passed bool, score float64, at time.Time) error
}

type Client struct {
	baseURL  string
	http     *http.Client
	recorder Recorder
}

func NewClient(baseURL string, recorder Recorder) *Client {
	return &Client{
		baseURL:  baseURL,
		http:     &http.Client{Timeout: 15 * time.Second},
		recorder: recorder,
	}
}

type checkRequest struct {
	AccountID string `json:"account_id"`
	Email     string `json:"email"`
	FullName  string `json:"full_name"`
}

// Check submits the provider's details to the verifier and records the
// verdict, pass or fail.
func (c *Client) Check(ctx context.Context, accountID uuid.UUID, email, fullName string) (*Result, error) {
	body, err := json.Marshal(checkRequest{
		AccountID: accountID.String(),
		Email:     email,
		FullName:  fullName,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/checks", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("identity verifier unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("identity verifier returned status %d", resp.StatusCode)
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode verifier response: %w", err)
	}

	if err := c.recorder.MarkVerified(ctx, accountID, result.Passed, result.Score, time.Now().UTC()); err != nil {
		return nil, err
	}
	return &result, nil
}
