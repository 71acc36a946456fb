package doordash

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/unicode/norm"

	"github.com/tbourn/go-delivery-relay/internal/config"
)

// Drive API endpoints.
const (
	pathQuotes     = "/drive/v2/quotes"
	pathDeliveries = "/drive/v2/deliveries"
	pathStores     = "/drive/v2/stores"
)

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 1 << 20

// emptyList is what SearchStores returns when the endpoint fails.
var emptyList = json.RawMessage("[]")

// Client calls the DoorDash Drive API on behalf of the relay.
//
// A Client is built once from configuration and is safe for concurrent use:
// it holds only immutable settings, one TokenSigner, and a shared http.Client.
// Credentials are checked on every call, not at construction, so a process
// with incomplete configuration still starts and reports the problem per call.
type Client struct {
	baseURL      string
	environment  string
	clientName   string
	tokenMinutes int
	creds        config.Credentials
	signer       *TokenSigner
	httpClient   *http.Client
	now          func() time.Time
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithClock sets the time source used for tokens and generated ids.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// NewClient constructs a Client from cfg.
func NewClient(cfg config.DoorDashConfig, opts ...Option) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = config.DefaultDoorDashBaseURL
	}
	minutes := int(cfg.TokenTTL / time.Minute)
	if minutes <= 0 {
		minutes = DefaultTokenExpiration
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	c := &Client{
		baseURL:      baseURL,
		environment:  cfg.Environment,
		clientName:   cfg.ClientName,
		tokenMinutes: minutes,
		creds:        cfg.Credentials,
		httpClient:   &http.Client{Timeout: timeout},
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.signer = NewTokenSigner(c.creds, c.now)
	return c
}

// Environment returns the configured environment name (sandbox|production).
func (c *Client) Environment() string { return c.environment }

// MissingCredentials returns the env names of absent credentials.
func (c *Client) MissingCredentials() []string { return c.creds.Missing() }

// GetDeliveryQuote requests a fee and ETA estimate. Both addresses are
// required; the quote's external id is generated here.
func (c *Client) GetDeliveryQuote(ctx context.Context, req QuoteRequest) (json.RawMessage, error) {
	pickup := normalizeAddress(req.PickupAddress)
	dropoff := normalizeAddress(req.DropoffAddress)
	if pickup == "" || dropoff == "" {
		return nil, &ValidationError{Field: "address", Message: "Pickup and dropoff addresses are required"}
	}

	payload := quotePayload{
		ExternalDeliveryID:    NewExternalID(PrefixQuote, c.now()),
		PickupAddress:         pickup,
		PickupExternalStoreID: strings.TrimSpace(req.StoreID),
		PickupPhoneNumber:     strings.TrimSpace(req.PickupPhoneNumber),
		DropoffAddress:        dropoff,
		DropoffPhoneNumber:    strings.TrimSpace(req.DropoffPhoneNumber),
		OrderValue:            req.OrderValue,
	}
	return c.call(ctx, "get_delivery_quote", http.MethodPost, pathQuotes, payload,
		attribute.String("doordash.external_delivery_id", payload.ExternalDeliveryID),
		attribute.String("doordash.store_id", payload.PickupExternalStoreID),
	)
}

// CreateDelivery creates a delivery for order. quoteID is accepted for
// correlation only; it is not verified against a prior quote.
func (c *Client) CreateDelivery(ctx context.Context, quoteID string, order OrderDetails) (json.RawMessage, error) {
	order.PickupAddress = normalizeAddress(order.PickupAddress)
	order.DropoffAddress = normalizeAddress(order.DropoffAddress)
	if order.PickupAddress == "" || order.DropoffAddress == "" {
		return nil, &ValidationError{Field: "address", Message: "Pickup and dropoff addresses are required"}
	}
	if order.OrderValue < MinOrderValue {
		return nil, &ValidationError{Field: "order_value", Message: "Order value must be at least $1.00 (100 cents)"}
	}

	payload := deliveryPayload{
		ExternalDeliveryID: NewExternalID(PrefixDelivery, c.now()),
		OrderDetails:       order,
	}
	return c.call(ctx, "create_delivery", http.MethodPost, pathDeliveries, payload,
		attribute.String("doordash.external_delivery_id", payload.ExternalDeliveryID),
		attribute.String("doordash.quote_id", quoteID),
		attribute.Int("doordash.order_value", order.OrderValue),
	)
}

// GetDeliveryStatus fetches the current state of a delivery. Status strings
// are passed through verbatim.
func (c *Client) GetDeliveryStatus(ctx context.Context, deliveryID string) (json.RawMessage, error) {
	id := strings.TrimSpace(deliveryID)
	if id == "" {
		return nil, &ValidationError{Field: "deliveryId", Message: "Delivery ID is required"}
	}
	return c.call(ctx, "get_delivery_status", http.MethodGet, pathDeliveries+"/"+url.PathEscape(id), nil,
		attribute.String("doordash.delivery_id", id),
	)
}

// CancelDelivery cancels a delivery. An empty reason is replaced with
// DefaultCancelReason.
func (c *Client) CancelDelivery(ctx context.Context, deliveryID, reason string) (json.RawMessage, error) {
	id := strings.TrimSpace(deliveryID)
	if id == "" {
		return nil, &ValidationError{Field: "deliveryId", Message: "Delivery ID is required"}
	}
	if strings.TrimSpace(reason) == "" {
		reason = DefaultCancelReason
	}
	return c.call(ctx, "cancel_delivery", http.MethodPut, pathDeliveries+"/"+url.PathEscape(id)+"/cancel",
		cancelPayload{Reason: reason},
		attribute.String("doordash.delivery_id", id),
	)
}

// SearchStores lists stores near a point. The endpoint is optional upstream,
// so any failure (including credentials) yields an empty list, never an error.
func (c *Client) SearchStores(ctx context.Context, lat, lng, radius float64) json.RawMessage {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lng", strconv.FormatFloat(lng, 'f', -1, 64))
	q.Set("radius", strconv.FormatFloat(radius, 'f', -1, 64))

	res, err := c.call(ctx, "search_stores", http.MethodGet, pathStores+"?"+q.Encode(), nil)
	if err != nil {
		log.Warn().Err(err).Msg("doordash store search unavailable; returning empty list")
		return emptyList
	}
	return res
}

// call wraps do with a span and metrics.
func (c *Client) call(ctx context.Context, op, method, endpoint string, body any, attrs ...attribute.KeyValue) (json.RawMessage, error) {
	ctx, span := otel.Tracer("doordash").Start(ctx, "doordash."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(append(attrs,
			attribute.String("http.request.method", method),
			attribute.String("doordash.environment", c.environment),
		)...),
	)
	defer span.End()

	start := time.Now()
	res, err := c.do(ctx, method, endpoint, body)
	observe(op, outcomeOf(err), time.Since(start))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status != 0 {
			span.SetAttributes(attribute.Int("http.response.status_code", apiErr.Status))
		}
		log.Debug().Err(err).Str("operation", op).Str("endpoint", endpoint).Msg("doordash call failed")
		return nil, err
	}
	log.Debug().Str("operation", op).Str("endpoint", endpoint).Dur("latency", time.Since(start)).Msg("doordash call succeeded")
	return res, nil
}

// do validates credentials, signs a fresh token and performs one request.
func (c *Client) do(ctx context.Context, method, endpoint string, body any) (json.RawMessage, error) {
	token, err := c.signer.GenerateToken(c.tokenMinutes)
	if err != nil {
		return nil, err
	}

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, rdr)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.clientName != "" {
		req.Header.Set("User-Agent", c.clientName)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &APIError{Message: "DoorDash API request failed: " + err.Error(), Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &APIError{Status: resp.StatusCode, Message: "DoorDash API response could not be read: " + err.Error(), Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newAPIError(resp.StatusCode, raw)
	}

	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return json.RawMessage("{}"), nil
	}
	if !json.Valid(raw) {
		return nil, &APIError{Status: resp.StatusCode, Message: "DoorDash API returned a non-JSON response"}
	}
	return json.RawMessage(raw), nil
}

func outcomeOf(err error) string {
	var apiErr *APIError
	switch {
	case err == nil:
		return outcomeSuccess
	case errors.Is(err, ErrConfiguration):
		return outcomeConfig
	case errors.As(err, &apiErr) && apiErr.Status == 0:
		return outcomeTransport
	case errors.As(err, &apiErr):
		return outcomeAPI
	default:
		return outcomeInternal
	}
}

// normalizeAddress trims and NFC-normalizes a free-form address so visually
// identical input from different keyboards reaches DoorDash byte-identical.
func normalizeAddress(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}
