package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"voice-calendar-pipeline/internal/domain"
	"voice-calendar-pipeline/internal/domain/ports/adapter"
)

var _ adapter.CalendarClient = (*Client)(nil)

// Client talks to the calendar provider's REST API, authenticating with a
// short-lived HS256 service-account bearer minted from a shared secret.
type Client struct {
	base   string
	issuer string
	secret []byte
	ttl    time.Duration
	http   *http.Client

	mu       sync.Mutex
	token    string
	tokenExp time.Time
}

func NewClient(baseURL, issuer, secret string, tokenTTL time.Duration) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("calendar base url empty")
	}
	if secret == "" {
		return nil, errors.New("calendar secret empty")
	}
	if tokenTTL <= 0 {
		tokenTTL = 10 * time.Minute
	}
	return &Client{
		base:   strings.TrimRight(baseURL, "/"),
		issuer: issuer,
		secret: []byte(secret),
		ttl:    tokenTTL,
		http:   &http.Client{Timeout: 15 * time.Second},
	}, nil
}

type eventBody struct {
	Title       string    `json:"title"`
	StartsAt    time.Time `json:"starts_at"`
	EndsAt      time.Time `json:"ends_at"`
	Description string    `json:"description,omitempty"`
}

type eventResponse struct {
	ID   string `json:"id"`
	Link string `json:"link"`
}

func (c *Client) CreateEvent(ctx context.Context, d adapter.EventDetails) (adapter.EventRef, error) {
	var out eventResponse
	err := c.do(ctx, http.MethodPost, "/v1/events", toBody(d), &out)
	if err != nil {
		return adapter.EventRef{}, err
	}
	return adapter.EventRef{ID: out.ID, Link: out.Link}, nil
}

func (c *Client) UpdateEvent(ctx context.Context, eventID string, d adapter.EventDetails) (adapter.EventRef, error) {
	if eventID == "" {
		return adapter.EventRef{}, domain.NewValidationError(errors.New("empty event id"))
	}
	var out eventResponse
	err := c.do(ctx, http.MethodPut, "/v1/events/"+eventID, toBody(d), &out)
	if err != nil {
		return adapter.EventRef{}, err
	}
	if out.ID == "" {
		out.ID = eventID
	}
	return adapter.EventRef{ID: out.ID, Link: out.Link}, nil
}

func (c *Client) DeleteEvent(ctx context.Context, eventID string) error {
	if eventID == "" {
		return domain.NewValidationError(errors.New("empty event id"))
	}
	return c.do(ctx, http.MethodDelete, "/v1/events/"+eventID, nil, nil)
}

func toBody(d adapter.EventDetails) *eventBody {
	return &eventBody{
		Title:       d.Title,
		StartsAt:    d.StartsAt,
		EndsAt:      d.EndsAt,
		Description: d.Description,
	}
}

func (c *Client) do(ctx context.Context, method, path string, body *eventBody, out any) error {
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	tok, err := c.bearer()
	if err != nil {
		return fmt.Errorf("mint bearer: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("calendar %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		err := fmt.Errorf("calendar %s %s: http %d", method, path, resp.StatusCode)
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return domain.NewTransientError(err)
		case resp.StatusCode < 500:
			// Bad payloads and missing events fail identically on retry.
			return domain.NewPermanentError(err)
		default:
			return domain.NewTransientError(err)
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("calendar %s %s: decode: %w", method, path, err)
	}
	return nil
}

// bearer returns a cached service-account token, re-minting shortly before
// expiry so in-flight requests never carry a stale one.
func (c *Client) bearer() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if c.token != "" && now.Before(c.tokenExp.Add(-30*time.Second)) {
		return c.token, nil
	}

	claims := jwt.RegisteredClaims{
		Issuer:    c.issuer,
		Subject:   "voice-calendar-pipeline",
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", err
	}
	c.token = signed
	c.tokenExp = now.Add(c.ttl)
	return signed, nil
}
