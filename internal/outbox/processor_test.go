package outbox

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/d3clan/dynamic-branch-env/internal/domain/environment"
	"github.com/d3clan/dynamic-branch-env/internal/usecase/lifecycle"
)

func TestBackoffDuration(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 10 * time.Second},
		{1, 10 * time.Second},
		{2, 20 * time.Second},
		{3, 40 * time.Second},
		{4, 80 * time.Second},
		{5, 160 * time.Second},
		{6, 300 * time.Second},
		{7, 300 * time.Second},
		{100, 300 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, backoffDuration(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestActionPayloadRoundTrip(t *testing.T) {
	action := lifecycle.Action{
		Type:          lifecycle.ActionCreate,
		EnvironmentID: "pr-42",
		Repository:    "acme/shop",
		Branch:        "feature/cart",
		CommitRef:     "abc1234",
		PR: environment.PullRequest{
			Number:     42,
			URL:        "https://github.com/acme/shop/pull/42",
			BaseBranch: "main",
		},
	}

	payload, err := json.Marshal(action)
	assert.NoError(t, err)

	var decoded lifecycle.Action
	assert.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, action, decoded)
}
