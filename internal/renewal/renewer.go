// Package renewal keeps the upstream push subscription alive by extending
// its expiry on a timer. A renewal failure is logged, never fatal; the
// process must outlive a flaky identity provider.
package renewal

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/SSWConsulting/SSW.Tiger-sub000/internal/config"
)

// Renewer periodically extends the subscription's lifetime.
type Renewer struct {
	cfg    *config.RenewalConfig
	http   *http.Client
	logger *zap.Logger

	maxAttempts int
	callTimeout time.Duration
	backoffBase time.Duration
	backoffCap  time.Duration
	sleep       func(time.Duration)
	rand        *rand.Rand
	now         func() time.Time

	stopChan chan struct{}
}

// NewRenewer creates a renewer with the default retry policy.
func NewRenewer(cfg *config.RenewalConfig, logger *zap.Logger) *Renewer {
	return &Renewer{
		cfg:         cfg,
		http:        &http.Client{},
		logger:      logger,
		maxAttempts: defaultMaxAttempts,
		callTimeout: defaultCallTimeout,
		backoffBase: defaultBackoffBase,
		backoffCap:  defaultBackoffCap,
		sleep:       time.Sleep,
		rand:        newRand(),
		now:         time.Now,
		stopChan:    make(chan struct{}),
	}
}

// Configured reports whether a subscription is set up to renew.
func (r *Renewer) Configured() bool {
	return r.cfg.SubscriptionID != ""
}

// Start launches the renewal loop. Without a configured subscription this
// is a no-op; the renewer is optional infrastructure.
func (r *Renewer) Start() {
	if !r.Configured() {
		r.logger.Info("No subscription configured, renewal loop disabled")
		return
	}

	r.logger.Info("Subscription renewal loop starting",
		zap.String("subscription_id", r.cfg.SubscriptionID),
		zap.Duration("interval", r.cfg.Interval),
		zap.Duration("extend_by", r.cfg.ExtendBy),
	)
	go r.loop()
}

// Stop terminates the renewal loop.
func (r *Renewer) Stop() {
	select {
	case <-r.stopChan:
	default:
		close(r.stopChan)
	}
}

func (r *Renewer) loop() {
	// Renew once at startup so a restart never burns most of a renewal
	// window waiting for the first tick.
	r.renewAndLog()

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopChan:
			r.logger.Info("Subscription renewal loop stopped")
			return
		case <-ticker.C:
			r.renewAndLog()
		}
	}
}

// renewAndLog is the tick handler. Every outcome is logged with attempt
// context; nothing escapes, a renewal failure must never crash the process.
func (r *Renewer) renewAndLog() {
	start := r.now()
	if err := r.RenewOnce(context.Background()); err != nil {
		r.logger.Error("Subscription renewal failed",
			zap.String("subscription_id", r.cfg.SubscriptionID),
			zap.Duration("duration", r.now().Sub(start)),
			zap.Error(err),
		)
		return
	}
	r.logger.Info("Subscription renewed",
		zap.String("subscription_id", r.cfg.SubscriptionID),
		zap.Duration("duration", r.now().Sub(start)),
	)
}

// RenewOnce acquires a fresh credential and extends the subscription
// expiry, each with the bounded retry policy.
func (r *Renewer) RenewOnce(ctx context.Context) error {
	if !r.Configured() {
		return nil
	}

	var token string
	err := r.withRetry(ctx, "acquire credential", func(ctx context.Context) error {
		var err error
		token, err = r.acquireCredential(ctx)
		return err
	})
	if err != nil {
		return err
	}

	// The extension window is deliberately shorter than the subscription's
	// maximum lifetime to absorb clock drift between us and the platform.
	newExpiry := r.now().UTC().Add(r.cfg.ExtendBy)
	return r.withRetry(ctx, "renew subscription", func(ctx context.Context) error {
		return r.renew(ctx, token, newExpiry)
	})
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

func (r *Renewer) acquireCredential(ctx context.Context) (string, error) {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {r.cfg.ClientID},
		"client_secret": {r.cfg.ClientSecret},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &httpStatusError{
			Status:     resp.StatusCode,
			RetryAfter: resp.Header.Get("Retry-After"),
			Body:       strings.TrimSpace(string(body)),
		}
	}

	var parsed tokenResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if parsed.AccessToken == "" {
		return "", fmt.Errorf("token response contained no access token")
	}
	return parsed.AccessToken, nil
}

type renewRequest struct {
	ExpirationDateTime string `json:"expirationDateTime"`
}

func (r *Renewer) renew(ctx context.Context, token string, newExpiry time.Time) error {
	payload, err := json.Marshal(renewRequest{
		ExpirationDateTime: newExpiry.Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal renew request: %w", err)
	}

	endpoint := strings.TrimRight(r.cfg.RenewURL, "/") + "/" + url.PathEscape(r.cfg.SubscriptionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, endpoint, strings.NewReader(string(payload)))
	if err != nil {
		return fmt.Errorf("failed to create renew request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.http.Do(req)
	if err != nil {
		return fmt.Errorf("renew request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &httpStatusError{
			Status:     resp.StatusCode,
			RetryAfter: resp.Header.Get("Retry-After"),
			Body:       strings.TrimSpace(string(body)),
		}
	}
	return nil
}
