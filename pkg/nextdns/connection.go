package nextdns

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// testResponse is the body served by the connection test endpoint.
type testResponse struct {
	Status   string `json:"status"`
	Protocol string `json:"protocol"`
	Profile  string `json:"profile"`
	Server   string `json:"server"`
}

// ConnectionStatus asks the test endpoint whether this device resolves
// through NextDNS. The API key is not sent to the test endpoint.
func (c *Client) ConnectionStatus(ctx context.Context, profileID string) (ConnectionStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.testEndpoint, nil)
	if err != nil {
		return ConnectionStatus{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ConnectionStatus{}, fmt.Errorf("checking connection for %s: %w", profileID, wrapTransportError(err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return ConnectionStatus{}, fmt.Errorf("checking connection for %s: %w", profileID, wrapTransportError(err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ConnectionStatus{}, fmt.Errorf("checking connection for %s: %w", profileID, newAPIError(resp.StatusCode, body))
	}

	var tr testResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return ConnectionStatus{}, fmt.Errorf("parsing connection test response: %w", err)
	}

	return ConnectionStatus{
		Connected: tr.Status == "ok",
		ProfileID: tr.Profile,
		Protocol:  tr.Protocol,
		Server:    tr.Server,
	}, nil
}
