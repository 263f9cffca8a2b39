package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		expected VerifyResponse
		wantErr  bool
	}{
		{
			name:    "valid duplicate verdict",
			content: `{"is_duplicate": true, "confidence": 0.92, "reason": "same phone and address"}`,
			expected: VerifyResponse{
				IsDuplicate: true,
				Confidence:  0.92,
				Reason:      "same phone and address",
			},
		},
		{
			name:    "valid distinct verdict",
			content: `{"is_duplicate": false, "confidence": 0.85, "reason": "different owners at shared address"}`,
			expected: VerifyResponse{
				IsDuplicate: false,
				Confidence:  0.85,
				Reason:      "different owners at shared address",
			},
		},
		{
			name: "markdown fenced response",
			content: "```json\n" +
				`{"is_duplicate": true, "confidence": 0.9, "reason": "legal suffix differs"}` +
				"\n```",
			expected: VerifyResponse{
				IsDuplicate: true,
				Confidence:  0.9,
				Reason:      "legal suffix differs",
			},
		},
		{
			name:    "bare fence without language tag",
			content: "```\n" + `{"is_duplicate": false, "confidence": 0.7, "reason": "franchise locations"}` + "\n```",
			expected: VerifyResponse{
				IsDuplicate: false,
				Confidence:  0.7,
				Reason:      "franchise locations",
			},
		},
		{
			name:    "missing is_duplicate",
			content: `{"confidence": 0.9, "reason": "ok"}`,
			wantErr: true,
		},
		{
			name:    "missing confidence",
			content: `{"is_duplicate": true, "reason": "ok"}`,
			wantErr: true,
		},
		{
			name:    "missing reason",
			content: `{"is_duplicate": true, "confidence": 0.9}`,
			wantErr: true,
		},
		{
			name:    "blank reason",
			content: `{"is_duplicate": true, "confidence": 0.9, "reason": "  "}`,
			wantErr: true,
		},
		{
			name:    "confidence above range",
			content: `{"is_duplicate": true, "confidence": 1.5, "reason": "ok"}`,
			wantErr: true,
		},
		{
			name:    "confidence below range",
			content: `{"is_duplicate": true, "confidence": -0.1, "reason": "ok"}`,
			wantErr: true,
		},
		{
			name:    "not JSON",
			content: "I think these are the same business.",
			wantErr: true,
		},
		{
			name:    "empty response",
			content: "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := parseVerdict(tt.content)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, resp)
		})
	}
}

func TestCleanMarkdownWrapper(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "no fence", input: `{"a": 1}`, expected: `{"a": 1}`},
		{name: "json fence", input: "```json\n{\"a\": 1}\n```", expected: `{"a": 1}`},
		{name: "plain fence", input: "```\n{\"a\": 1}\n```", expected: `{"a": 1}`},
		{name: "surrounding whitespace", input: "  {\"a\": 1}  ", expected: `{"a": 1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, cleanMarkdownWrapper(tt.input))
		})
	}
}
