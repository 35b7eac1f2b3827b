package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/SSWConsulting/SSW.Tiger-sub000/internal/config"
)

// ChatNotifier posts short status messages to the configured chat webhook.
// Everything here is best-effort; callers log failures and move on.
type ChatNotifier struct {
	cfg    *config.ChatConfig
	http   *http.Client
	logger *zap.Logger
}

func NewChatNotifier(cfg *config.ChatConfig, logger *zap.Logger) *ChatNotifier {
	return &ChatNotifier{
		cfg:    cfg,
		http:   &http.Client{Timeout: 15 * time.Second},
		logger: logger,
	}
}

type chatMessage struct {
	Text        string `json:"text"`
	ExecutionID string `json:"execution_id,omitempty"`
}

// NotifyCancelled posts a "work was cancelled" message.
func (n *ChatNotifier) NotifyCancelled(ctx context.Context, executionID, reason string) error {
	return n.post(ctx, chatMessage{
		Text:        fmt.Sprintf("Transcript analysis %s was cancelled (%s)", executionID, reason),
		ExecutionID: executionID,
	})
}

// NotifyDeployed posts the deployed dashboard URL for a finished run.
func (n *ChatNotifier) NotifyDeployed(ctx context.Context, executionID, deployedURL string) error {
	return n.post(ctx, chatMessage{
		Text:        fmt.Sprintf("Transcript analysis %s finished: %s", executionID, deployedURL),
		ExecutionID: executionID,
	})
}

func (n *ChatNotifier) post(ctx context.Context, msg chatMessage) error {
	if n.cfg.WebhookURL == "" {
		return nil
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal chat message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if n.cfg.Secret != "" {
		signature, err := SignPayload(payload, n.cfg.Secret)
		if err != nil {
			return err
		}
		req.Header.Set("X-Tiger-Signature", signature)
	}

	resp, err := n.http.Do(req)
	if err != nil {
		return fmt.Errorf("chat webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4*1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("chat webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// SignPayload computes an HMAC SHA256 signature over payload, returned as
// sha256=<hex>.
func SignPayload(payload []byte, secret string) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("secret cannot be empty")
	}
	mac := hmac.New(sha256.New, []byte(secret))
	if _, err := mac.Write(payload); err != nil {
		return "", fmt.Errorf("failed to write payload to HMAC: %w", err)
	}
	return "sha256=" + hex.EncodeToString(mac.Sum(nil)), nil
}
