package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// parseVerdict extracts the structured verdict from raw model output. The
// schema-less response is validated against the three required fields on
// receipt; any missing or out-of-range field is an error so the caller can
// treat the response as unavailable rather than propagate a malformed verdict.
func parseVerdict(content string) (VerifyResponse, error) {
	var jsonResp struct {
		IsDuplicate *bool    `json:"is_duplicate"`
		Confidence  *float64 `json:"confidence"`
		Reason      *string  `json:"reason"`
	}

	content = cleanMarkdownWrapper(content)

	if err := json.Unmarshal([]byte(content), &jsonResp); err != nil {
		return VerifyResponse{}, fmt.Errorf("failed to parse JSON response: %w", err)
	}

	if jsonResp.IsDuplicate == nil {
		return VerifyResponse{}, fmt.Errorf("no is_duplicate field in response")
	}
	if jsonResp.Confidence == nil {
		return VerifyResponse{}, fmt.Errorf("no confidence field in response")
	}
	if *jsonResp.Confidence < 0 || *jsonResp.Confidence > 1 {
		return VerifyResponse{}, fmt.Errorf("confidence %f out of range", *jsonResp.Confidence)
	}
	if jsonResp.Reason == nil || strings.TrimSpace(*jsonResp.Reason) == "" {
		return VerifyResponse{}, fmt.Errorf("no reason field in response")
	}

	return VerifyResponse{
		IsDuplicate: *jsonResp.IsDuplicate,
		Confidence:  *jsonResp.Confidence,
		Reason:      *jsonResp.Reason,
	}, nil
}

// cleanMarkdownWrapper strips a ```json fence the model sometimes wraps its
// output in.
func cleanMarkdownWrapper(content string) string {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(content, "```")
		content = strings.TrimSpace(content)
	}
	return content
}
