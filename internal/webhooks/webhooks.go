// Package webhooks delivers a wallet's credit events to the HTTP endpoints
// registered for it.
//
// A subscription names a wallet, a URL and the event types it wants:
//   - score_evaluated
//   - spend / repay
//   - overdue
//
// Payloads are the JSON-encoded events.Event, signed with the subscription's
// secret in the X-SwipeFi-Signature header.
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/avast/retry-go/v5"

	"github.com/swipefi/swipefi/internal/events"
	"github.com/swipefi/swipefi/internal/metrics"
)

var (
	ErrNotFound   = errors.New("webhook not found")
	ErrInvalidURL = errors.New("invalid webhook url")
)

// Headers set on every delivery.
const (
	HeaderEvent     = "X-SwipeFi-Event"
	HeaderTimestamp = "X-SwipeFi-Timestamp"
	HeaderSignature = "X-SwipeFi-Signature"
)

// MaxConsecutiveFailures deactivates a subscription after this many failed deliveries in a row.
const MaxConsecutiveFailures = 10

// Subscription represents a webhook subscription
type Subscription struct {
	ID                  string        `json:"id"`
	WalletAddr          string        `json:"walletAddress"`
	URL                 string        `json:"url"`
	Secret              string        `json:"-"` // Used for HMAC signing
	Events              []events.Type `json:"events"`
	Active              bool          `json:"active"`
	CreatedAt           time.Time     `json:"createdAt"`
	LastSuccess         *time.Time    `json:"lastSuccess,omitempty"`
	LastError           string        `json:"lastError,omitempty"`
	ConsecutiveFailures int           `json:"consecutiveFailures"`
}

// Wants reports whether the subscription receives events of type t.
func (s *Subscription) Wants(t events.Type) bool {
	for _, et := range s.Events {
		if et == t {
			return true
		}
	}
	return false
}

// Store persists webhook subscriptions
type Store interface {
	Create(ctx context.Context, sub *Subscription) error
	Get(ctx context.Context, id string) (*Subscription, error)
	ListByWallet(ctx context.Context, walletAddr string) ([]*Subscription, error)
	Update(ctx context.Context, sub *Subscription) error
	Delete(ctx context.Context, walletAddr, id string) error
}

// Dispatcher sends a wallet's events to its subscriptions. It implements
// events.Publisher; deliveries run in the background.
type Dispatcher struct {
	store        Store
	client       *http.Client
	logger       *slog.Logger
	attempts     uint
	delay        time.Duration
	urlValidator func(string) error

	wg sync.WaitGroup
	mu sync.Mutex // serializes delivery bookkeeping writes
}

// NewDispatcher creates a new webhook dispatcher
func NewDispatcher(store Store, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store: store,
		client: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 5 * time.Second,
					Control: publicOnly,
				}).DialContext,
				TLSHandshakeTimeout: 5 * time.Second,
				MaxIdleConnsPerHost: 4,
			},
		},
		logger:       logger,
		attempts:     3,
		delay:        500 * time.Millisecond,
		urlValidator: ValidateURL,
	}
}

var _ events.Publisher = (*Dispatcher)(nil)

// Publish queues e for every active subscription of its wallet that wants it.
func (d *Dispatcher) Publish(ctx context.Context, e *events.Event) error {
	subs, err := d.store.ListByWallet(ctx, e.Wallet)
	if err != nil {
		return fmt.Errorf("failed to get subscriptions: %w", err)
	}

	var payload []byte
	for _, sub := range subs {
		if !sub.Active || !sub.Wants(e.Type) {
			continue
		}
		if payload == nil {
			if payload, err = json.Marshal(e); err != nil {
				return fmt.Errorf("encode event: %w", err)
			}
		}

		d.wg.Add(1)
		go func(sub *Subscription) {
			defer d.wg.Done()
			sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			defer cancel()
			d.deliver(sendCtx, sub, e, payload)
		}(sub)
	}
	return nil
}

// Wait blocks until in-flight deliveries finish.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) deliver(ctx context.Context, sub *Subscription, e *events.Event, payload []byte) {
	if err := d.urlValidator(sub.URL); err != nil {
		d.recordFailure(ctx, sub, err.Error())
		return
	}

	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(d.attempts),
		retry.Delay(d.delay),
		retry.LastErrorOnly(true),
	)
	err := r.Do(func() error {
		return d.send(ctx, sub, e, payload)
	})
	if err != nil {
		d.recordFailure(ctx, sub, err.Error())
		return
	}
	d.recordSuccess(ctx, sub)
}

func (d *Dispatcher) send(ctx context.Context, sub *Subscription, e *events.Event, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(payload))
	if err != nil {
		return retry.Unrecoverable(fmt.Errorf("failed to create request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, string(e.Type))
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(e.Timestamp.Unix(), 10))
	if sub.Secret != "" {
		req.Header.Set(HeaderSignature, Sign(payload, sub.Secret))
	}

	resp, err := d.client.Do(req)
	if errors.Is(err, ErrInvalidURL) {
		return retry.Unrecoverable(err)
	}
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("status %d", resp.StatusCode)
	default:
		return retry.Unrecoverable(fmt.Errorf("status %d", resp.StatusCode))
	}
}

func (d *Dispatcher) recordSuccess(ctx context.Context, sub *Subscription) {
	metrics.WebhookDeliveriesTotal.WithLabelValues("ok").Inc()

	d.mu.Lock()
	defer d.mu.Unlock()
	sub = d.current(ctx, sub)
	now := time.Now()
	sub.LastSuccess = &now
	sub.LastError = ""
	sub.ConsecutiveFailures = 0
	if err := d.store.Update(ctx, sub); err != nil {
		d.logger.Warn("webhook bookkeeping failed", "webhook", sub.ID, "error", err)
	}
}

func (d *Dispatcher) recordFailure(ctx context.Context, sub *Subscription, errMsg string) {
	metrics.WebhookDeliveriesTotal.WithLabelValues("error").Inc()

	d.mu.Lock()
	defer d.mu.Unlock()
	sub = d.current(ctx, sub)
	sub.LastError = errMsg
	sub.ConsecutiveFailures++
	if sub.ConsecutiveFailures >= MaxConsecutiveFailures {
		sub.Active = false
	}
	d.logger.Warn("webhook delivery failed",
		"webhook", sub.ID,
		"wallet", sub.WalletAddr,
		"failures", sub.ConsecutiveFailures,
		"active", sub.Active,
		"error", errMsg,
	)
	if err := d.store.Update(ctx, sub); err != nil {
		d.logger.Warn("webhook bookkeeping failed", "webhook", sub.ID, "error", err)
	}
}

// current reloads sub so concurrent deliveries do not lose each other's counts.
func (d *Dispatcher) current(ctx context.Context, sub *Subscription) *Subscription {
	if fresh, err := d.store.Get(ctx, sub.ID); err == nil {
		return fresh
	}
	return sub
}

// Sign returns the hex HMAC-SHA256 of payload under secret.
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// Verify checks a signature produced by Sign.
func Verify(payload []byte, secret, signature string) bool {
	return hmac.Equal([]byte(Sign(payload, secret)), []byte(signature))
}

// ValidateURL accepts absolute http(s) URLs that do not point at loopback,
// private or link-local addresses.
func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ErrInvalidURL
	}
	host := strings.ToLower(u.Hostname())
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return fmt.Errorf("%w: local host", ErrInvalidURL)
	}
	if ip := net.ParseIP(host); ip != nil && !publicIP(ip) {
		return fmt.Errorf("%w: non-public address", ErrInvalidURL)
	}
	return nil
}

func publicIP(ip net.IP) bool {
	return !(ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast())
}

// publicOnly is a net.Dialer Control hook. It runs on the resolved address,
// so hostnames that point at internal addresses are refused too.
func publicOnly(network, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	ip := net.ParseIP(host)
	if ip == nil || !publicIP(ip) {
		return fmt.Errorf("%w: %s resolves to a non-public address", ErrInvalidURL, address)
	}
	return nil
}

// MemoryStore is an in-memory implementation for testing
type MemoryStore struct {
	subs map[string]*Subscription
	mu   sync.RWMutex
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subs: make(map[string]*Subscription),
	}
}

func (m *MemoryStore) Create(ctx context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *sub
	m.subs[sub.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if sub, ok := m.subs[id]; ok {
		cp := *sub
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) ListByWallet(ctx context.Context, walletAddr string) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Subscription
	for _, sub := range m.subs {
		if sub.WalletAddr == walletAddr {
			cp := *sub
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (m *MemoryStore) Update(ctx context.Context, sub *Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[sub.ID]; !ok {
		return ErrNotFound
	}
	cp := *sub
	m.subs[sub.ID] = &cp
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, walletAddr, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[id]
	if !ok || sub.WalletAddr != walletAddr {
		return ErrNotFound
	}
	delete(m.subs, id)
	return nil
}
