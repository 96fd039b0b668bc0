package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/codeindexd/internal/config"
)

// webhookRunTimeout bounds a webhook-triggered ingestion run, which happens
// outside any request context.
const webhookRunTimeout = 30 * time.Minute

// handleGitHubWebhook accepts GitHub push events and triggers an
// incremental run for the matching repository. The run happens in the
// background; the webhook is acknowledged as soon as it is matched.
func (s *Server) handleGitHubWebhook(c echo.Context) error {
	r := c.Request()

	// 1MB cap mirrors GitHub's own payload limit.
	r.Body = http.MaxBytesReader(c.Response(), r.Body, 1<<20)

	payload, err := github.ValidatePayload(r, []byte(s.cfg.Server.WebhookSecret.Value()))
	if err != nil {
		s.logger.Warn("invalid webhook signature", zap.Error(err))
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid signature")
	}

	event, err := github.ParseWebHook(github.WebHookType(r), payload)
	if err != nil {
		s.logger.Warn("failed to parse webhook", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}

	switch e := event.(type) {
	case *github.PushEvent:
		return s.handlePushEvent(c, e)
	case *github.PingEvent:
		return c.JSON(http.StatusOK, map[string]string{"status": "pong"})
	default:
		s.logger.Debug("ignoring event type", zap.String("type", fmt.Sprintf("%T", event)))
		return c.JSON(http.StatusOK, map[string]string{"status": "ignored"})
	}
}

func (s *Server) handlePushEvent(c echo.Context, event *github.PushEvent) error {
	repo := s.matchPushEvent(event)
	if repo == nil {
		s.logger.Debug("push event matched no tracked repository",
			zap.String("repo", event.GetRepo().GetFullName()),
			zap.String("ref", event.GetRef()),
		)
		return c.JSON(http.StatusOK, map[string]string{"status": "ignored"})
	}

	s.logger.Info("push event accepted",
		zap.String("repo", repo.Name),
		zap.String("ref", event.GetRef()),
		zap.String("after", event.GetAfter()),
	)

	// Run in the background; the webhook must be acknowledged within
	// GitHub's delivery timeout. A concurrent run for the same repository
	// is rejected by the orchestrator's per-repo lock, which is fine: the
	// active run's state commit will re-surface this push on its next run.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), webhookRunTimeout)
		defer cancel()

		if _, err := s.ingestor.Run(ctx, repo, false); err != nil {
			s.logger.Error("webhook-triggered run failed",
				zap.String("repo", repo.Name),
				zap.Error(err),
			)
		}
	}()

	return c.JSON(http.StatusAccepted, map[string]string{"status": "accepted", "repo": repo.Name})
}

// matchPushEvent finds the tracked repository a push event belongs to,
// requiring both a URL match and a push to the tracked branch.
func (s *Server) matchPushEvent(event *github.PushEvent) *config.Repository {
	eventRepo := event.GetRepo()
	for i := range s.cfg.Repositories {
		repo := &s.cfg.Repositories[i]
		if !repo.Enabled {
			continue
		}
		if event.GetRef() != "refs/heads/"+repo.Branch {
			continue
		}
		if repoURLMatches(repo.URL, eventRepo.GetCloneURL()) ||
			repoURLMatches(repo.URL, eventRepo.GetSSHURL()) ||
			repoURLMatches(repo.URL, eventRepo.GetHTMLURL()) {
			return repo
		}
	}
	return nil
}

// repoURLMatches compares clone URLs ignoring a trailing ".git".
func repoURLMatches(configured, event string) bool {
	if configured == "" || event == "" {
		return false
	}
	return strings.TrimSuffix(configured, ".git") == strings.TrimSuffix(event, ".git")
}
