package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/d3clan/dynamic-branch-env/internal/domain/environment"
	"github.com/d3clan/dynamic-branch-env/internal/usecase/lifecycle"
)

type pullRequestEvent struct {
	Action      string `json:"action"`
	Number      int    `json:"number"`
	PullRequest struct {
		Number  int    `json:"number"`
		HTMLURL string `json:"html_url"`
		Merged  bool   `json:"merged"`
		Head    struct {
			Ref string `json:"ref"`
			SHA string `json:"sha"`
		} `json:"head"`
		Base struct {
			Ref string `json:"ref"`
		} `json:"base"`
	} `json:"pull_request"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
}

// HandleGitHubWebhook validates the HMAC signature, maps pull_request actions
// to lifecycle actions and enqueues them. Delivery to the controller is
// asynchronous; GitHub only needs to know the event was accepted.
func (r *Router) HandleGitHubWebhook(c *gin.Context) {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable payload"})
		return
	}

	if err := validateSignature(payload, []byte(r.cfg.GitHubWebhookSecret), c.GetHeader("X-Hub-Signature-256")); err != nil {
		r.logger.Warn("webhook_signature_rejected", zap.Error(err), zap.String("ip", c.ClientIP()))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	if event := c.GetHeader("X-GitHub-Event"); event != "pull_request" {
		c.Status(http.StatusNoContent)
		return
	}

	var event pullRequestEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	action, ok := mapPullRequestAction(event)
	if !ok {
		c.Status(http.StatusNoContent)
		return
	}

	if err := r.enqueuer.Enqueue(c.Request.Context(), action); err != nil {
		r.logger.Error("webhook_enqueue_failed", zap.Error(err), zap.String("environment_id", action.EnvironmentID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "enqueue failed"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"status":         "accepted",
		"action":         string(action.Type),
		"environment_id": action.EnvironmentID,
	})
}

func mapPullRequestAction(event pullRequestEvent) (lifecycle.Action, bool) {
	number := event.PullRequest.Number
	if number == 0 {
		number = event.Number
	}
	if number == 0 {
		return lifecycle.Action{}, false
	}

	action := lifecycle.Action{
		EnvironmentID: environment.IDForPR(number),
		Repository:    event.Repository.FullName,
		Branch:        event.PullRequest.Head.Ref,
		CommitRef:     event.PullRequest.Head.SHA,
		PR: environment.PullRequest{
			Number:     number,
			URL:        event.PullRequest.HTMLURL,
			BaseBranch: event.PullRequest.Base.Ref,
			Merged:     event.PullRequest.Merged,
		},
	}

	switch event.Action {
	case "opened", "reopened":
		action.Type = lifecycle.ActionCreate
	case "synchronize":
		action.Type = lifecycle.ActionUpdate
	case "closed":
		action.Type = lifecycle.ActionDestroy
	default:
		return lifecycle.Action{}, false
	}
	return action, true
}

func validateSignature(payload, secret []byte, provided string) error {
	if len(secret) == 0 {
		return errors.New("webhook secret not configured")
	}
	provided = strings.TrimPrefix(provided, "sha256=")
	if provided == "" {
		return errors.New("missing webhook signature")
	}
	hasher := hmac.New(sha256.New, secret)
	hasher.Write(payload)
	expected := hex.EncodeToString(hasher.Sum(nil))
	if !hmac.Equal([]byte(provided), []byte(expected)) {
		return errors.New("invalid webhook signature")
	}
	return nil
}
