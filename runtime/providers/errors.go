package providers

import (
	"encoding/json"
	"fmt"
)

// ParseHTTPError extracts a human-readable error from an HTTP error response.
// It understands both {"error":{"message":"..."}} and {"message":"..."}
// bodies and falls back to the raw body.
func ParseHTTPError(provider string, statusCode int, body []byte) error {
	var errResp struct {
		Error *struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &errResp); err == nil {
		if errResp.Error != nil && errResp.Error.Message != "" {
			return fmt.Errorf("%s error (HTTP %d): %s", provider, statusCode, errResp.Error.Message)
		}
		if errResp.Message != "" {
			return fmt.Errorf("%s error (HTTP %d): %s", provider, statusCode, errResp.Message)
		}
	}
	return fmt.Errorf("%s error (HTTP %d): %s", provider, statusCode, string(body))
}
