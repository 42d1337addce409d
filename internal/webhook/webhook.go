// Package webhook posts run and move summaries to a callback URL.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mediacheck/mediacheck/internal/batch"
	"github.com/mediacheck/mediacheck/internal/errors"
	"github.com/mediacheck/mediacheck/internal/results"
)

const (
	retryAttempts = 8
	retryBase     = time.Second
	retryCap      = 5 * time.Minute
)

// Payload is the JSON body of a callback.
type Payload struct {
	Event   batch.EventType      `json:"event"`
	Time    time.Time            `json:"time"`
	Run     int                  `json:"run"`
	Summary *results.Summary     `json:"summary,omitempty"`
	Move    *results.MoveSummary `json:"move,omitempty"`
}

// Notifier is a batch.Publisher that forwards batch_finished and
// move_finished events. Deliveries run in the background; 8 attempts max
// with full-jitter exponential backoff (cap 5 min), 30s timeout per request.
type Notifier struct {
	url          string
	allowPrivate bool
	ctx          context.Context
	client       *http.Client
	lookup       func(ctx context.Context, host string) ([]string, error)
	log          *zap.SugaredLogger
	wg           sync.WaitGroup

	attempts int
	base     time.Duration
	cap      time.Duration
}

// New returns a notifier for callbackURL. ctx bounds every delivery,
// including retries; cancel it on shutdown.
func New(ctx context.Context, callbackURL string, allowPrivate bool, log *zap.SugaredLogger) *Notifier {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Notifier{
		url:          callbackURL,
		allowPrivate: allowPrivate,
		ctx:          ctx,
		client:       &http.Client{Timeout: 30 * time.Second},
		lookup:       net.DefaultResolver.LookupHost,
		log:          log.Named("webhook"),
		attempts:     retryAttempts,
		base:         retryBase,
		cap:          retryCap,
	}
}

// Publish implements batch.Publisher.
func (n *Notifier) Publish(ev batch.Event) {
	if ev.Type != batch.EventBatchFinished && ev.Type != batch.EventMoveFinished {
		return
	}
	payload, err := json.Marshal(Payload{
		Event:   ev.Type,
		Time:    ev.Time,
		Run:     ev.Run,
		Summary: ev.Summary,
		Move:    ev.Move,
	})
	if err != nil {
		n.log.Errorw("encode webhook payload", "event", ev.Type, "error", err)
		return
	}
	n.Send(payload)
}

// Send dispatches the JSON payload asynchronously. The callback host is
// resolved and checked in the background, so Send never blocks the caller.
func (n *Notifier) Send(payload []byte) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := validateURL(n.ctx, n.url, n.allowPrivate, n.lookup); err != nil {
			n.log.Warnw("rejected callback URL", "url", n.url, "error", err)
			return
		}
		n.send(payload)
	}()
}

// Wait blocks until every in-flight delivery has finished or given up.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

// validateURL blocks non-HTTP schemes and, unless allowed, private and
// internal IP ranges.
func validateURL(ctx context.Context, rawURL string, allowPrivate bool, lookup func(context.Context, string) ([]string, error)) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return errors.Wrap(err, "invalid URL")
	}

	if u.Scheme != "https" && u.Scheme != "http" {
		return errors.Newf("unsupported scheme: %s", u.Scheme)
	}
	if allowPrivate {
		return nil
	}

	host := u.Hostname()
	ips, err := lookup(ctx, host)
	if err != nil {
		return errors.Wrap(err, "DNS lookup failed")
	}

	for _, ipStr := range ips {
		ip := net.ParseIP(ipStr)
		if ip == nil {
			continue
		}
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
			return errors.Newf("private/internal IP blocked: %s", ipStr)
		}
	}

	return nil
}

func (n *Notifier) send(payload []byte) {
	for attempt := 1; attempt <= n.attempts; attempt++ {
		if n.ctx.Err() != nil {
			return
		}
		err := n.post(payload)
		if err == nil {
			return
		}
		n.log.Warnw("webhook attempt failed", "attempt", attempt, "url", n.url, "error", err)
		if attempt < n.attempts {
			select {
			case <-time.After(n.jitter(attempt)):
			case <-n.ctx.Done():
				return
			}
		}
	}
	n.log.Errorw("all webhook retries exhausted", "url", n.url)
}

// jitter returns a random duration between 0 and min(cap, base * 2^attempt).
// Full jitter prevents synchronized retries when several deliveries fail at once.
func (n *Notifier) jitter(attempt int) time.Duration {
	exp := n.base * (1 << attempt)
	if exp > n.cap {
		exp = n.cap
	}
	if exp <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(exp)))
}

func (n *Notifier) post(payload []byte) error {
	req, err := http.NewRequestWithContext(n.ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "mediacheck-webhook")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Newf("non-2xx status: %d", resp.StatusCode)
	}
	return nil
}
