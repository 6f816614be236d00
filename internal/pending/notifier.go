package pending

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
	"github.com/yourorg/vault-rewards/internal/model"
	"github.com/yourorg/vault-rewards/internal/security"
)

// NotifierConfig holds configuration for the webhook notifier
type NotifierConfig struct {
	// URL of the webhook, the notifier is disabled when empty
	URL    string
	APIKey string

	// BatchSize triggers an immediate export when reached
	BatchSize int

	// Interval between periodic exports
	Interval time.Duration

	Timeout time.Duration

	// Signer, when set, signs every posted body
	Signer *security.Signer
}

// Notifier batches registry changes and posts them to a webhook
type Notifier struct {
	config     NotifierConfig
	httpClient *retryablehttp.Client

	mutex      sync.Mutex
	batch      []model.PendingTransaction
	lastExport time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewNotifier creates a notifier and starts its periodic export. A notifier
// without URL accepts and drops everything.
func NewNotifier(config NotifierConfig) *Notifier {
	if config.BatchSize <= 0 {
		config.BatchSize = 20
	}
	if config.Interval <= 0 {
		config.Interval = time.Minute
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}

	n := &Notifier{config: config, done: make(chan struct{})}
	if config.URL == "" {
		close(n.done)
		return n
	}

	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 3 * time.Second
	client.HTTPClient.Timeout = config.Timeout
	client.Logger = nil
	n.httpClient = client

	ctx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel
	go n.periodicExport(ctx)

	logrus.WithField("url", config.URL).Info("Pending transaction webhook enabled")
	return n
}

// Enqueue adds tx to the batch. It has the Listener signature so it can be
// subscribed to a Registry directly.
func (n *Notifier) Enqueue(tx model.PendingTransaction) {
	if n.config.URL == "" {
		return
	}
	n.mutex.Lock()
	n.batch = append(n.batch, tx)
	full := len(n.batch) >= n.config.BatchSize
	n.mutex.Unlock()

	if full {
		go func() {
			if err := n.Flush(context.Background()); err != nil {
				logrus.Errorf("Failed to export pending transactions: %v", err)
			}
		}()
	}
}

// Flush posts the current batch, if any
func (n *Notifier) Flush(ctx context.Context) error {
	n.mutex.Lock()
	if len(n.batch) == 0 {
		n.mutex.Unlock()
		return nil
	}
	txs := n.batch
	n.batch = nil
	n.lastExport = time.Now()
	n.mutex.Unlock()

	if err := n.post(ctx, txs); err != nil {
		return err
	}
	logrus.Debugf("Exported %d pending transaction updates", len(txs))
	return nil
}

// Stop ends the periodic export and flushes what is left
func (n *Notifier) Stop(ctx context.Context) error {
	if n.cancel != nil {
		n.cancel()
	}
	select {
	case <-n.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if n.config.URL == "" {
		return nil
	}
	return n.Flush(ctx)
}

func (n *Notifier) periodicExport(ctx context.Context) {
	defer close(n.done)
	ticker := time.NewTicker(n.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := n.Flush(ctx); err != nil {
				logrus.Errorf("Failed to export pending transactions: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (n *Notifier) post(ctx context.Context, txs []model.PendingTransaction) error {
	payload := struct {
		Transactions []model.PendingTransaction `json:"transactions"`
		ExportTime   string                     `json:"export_time"`
		Count        int                        `json:"count"`
	}{
		Transactions: txs,
		ExportTime:   time.Now().UTC().Format(time.RFC3339),
		Count:        len(txs),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal transactions: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, n.config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if n.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+n.config.APIKey)
	}
	if n.config.Signer != nil {
		if err := n.config.Signer.SignRequest(req.Header, body); err != nil {
			return err
		}
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned error status: %d", resp.StatusCode)
	}
	return nil
}
