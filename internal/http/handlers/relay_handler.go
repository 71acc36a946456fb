// Delivery relay handler.
//
//   - OPTIONS /delivery  (CORS preflight)
//   - POST    /delivery  (action dispatch)
//
// Each POST walks the same fixed sequence: credentials present, caller
// identified, action recognised, gateway call. Every stage that stops the
// request answers immediately; nothing is retried.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/singleflight"

	"github.com/tbourn/go-delivery-relay/internal/auth"
	"github.com/tbourn/go-delivery-relay/internal/config"
	"github.com/tbourn/go-delivery-relay/internal/domain"
	"github.com/tbourn/go-delivery-relay/internal/doordash"
	"github.com/tbourn/go-delivery-relay/internal/http/middleware"
	"github.com/tbourn/go-delivery-relay/internal/services"
)

// Relay actions.
const (
	ActionGetDeliveryQuote  = "getDeliveryQuote"
	ActionCreateDelivery    = "createDelivery"
	ActionGetDeliveryStatus = "getDeliveryStatus"
	ActionCancelDelivery    = "cancelDelivery"
	ActionSearchStores      = "searchStores"
)

// ValidActions lists the supported actions in the order they are reported.
var ValidActions = []string{
	ActionGetDeliveryQuote,
	ActionCreateDelivery,
	ActionGetDeliveryStatus,
	ActionCancelDelivery,
	ActionSearchStores,
}

// defaultSearchRadius applies when searchStores omits a radius.
const defaultSearchRadius = 5

//
// Collaborators
//

// DeliveryGateway is the outbound Drive API client (doordash.Client).
type DeliveryGateway interface {
	Environment() string
	MissingCredentials() []string
	GetDeliveryQuote(ctx context.Context, req doordash.QuoteRequest) (json.RawMessage, error)
	CreateDelivery(ctx context.Context, quoteID string, order doordash.OrderDetails) (json.RawMessage, error)
	GetDeliveryStatus(ctx context.Context, deliveryID string) (json.RawMessage, error)
	CancelDelivery(ctx context.Context, deliveryID, reason string) (json.RawMessage, error)
	SearchStores(ctx context.Context, lat, lng, radius float64) json.RawMessage
}

// AuditService records and lists executed relay calls.
type AuditService interface {
	Record(ctx context.Context, call *domain.RelayCall) error
	Get(ctx context.Context, userID, id string) (*domain.RelayCall, error)
	ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.RelayCall, int64, error)
	Stats(ctx context.Context, userID string) (int64, *time.Time, error)
}

// ReplayStore keeps createDelivery results addressable by Idempotency-Key.
// A key is claimed before the action runs, then completed with the response
// or released on failure.
type ReplayStore interface {
	Lookup(ctx context.Context, userID, action, key string) (status int, body []byte, found bool, err error)
	Claim(ctx context.Context, userID, action, key string) error
	Complete(ctx context.Context, userID, action, key string, status int, body []byte) error
	Release(ctx context.Context, userID, action, key string) error
}

// Handlers groups the relay and history endpoints.
type Handlers struct {
	gw       DeliveryGateway
	verifier auth.IdentityVerifier
	audit    AuditService
	replays  ReplayStore
	now      func() time.Time

	// inflight collapses concurrent requests for the same (user, key).
	inflight singleflight.Group
}

// New wires Handlers. audit and replays may be nil, which disables the
// audit trail and idempotent replay respectively.
func New(gw DeliveryGateway, verifier auth.IdentityVerifier, audit AuditService, replays ReplayStore) *Handlers {
	return &Handlers{gw: gw, verifier: verifier, audit: audit, replays: replays, now: time.Now}
}

//
// DTOs
//

// RelayRequest is the POST /delivery body: an action plus the parameters
// that action reads. Unused parameters are ignored.
type RelayRequest struct {
	Action string `json:"action" example:"getDeliveryStatus"`

	// getDeliveryQuote
	StoreID        string `json:"storeId,omitempty" example:"store_42"`
	PickupAddress  string `json:"pickupAddress,omitempty" example:"901 Market St, San Francisco, CA 94103"`
	DropoffAddress string `json:"dropoffAddress,omitempty" example:"1 Ferry Building, San Francisco, CA 94111"`

	// createDelivery
	QuoteID      string                 `json:"quoteId,omitempty" example:"quote_1700000000000_k3j9x2"`
	OrderDetails *doordash.OrderDetails `json:"orderDetails,omitempty"`

	// getDeliveryStatus, cancelDelivery
	DeliveryID string `json:"deliveryId,omitempty" example:"delivery_1700000000000_a81kq0"`
	Reason     string `json:"reason,omitempty" example:"Customer requested cancellation"`

	// searchStores
	Lat    float64 `json:"lat,omitempty" example:"37.7749"`
	Lng    float64 `json:"lng,omitempty" example:"-122.4194"`
	Radius float64 `json:"radius,omitempty" example:"5"`
}

//
// Handlers
//

// Preflight godoc
// @ID          relayPreflight
// @Summary     CORS preflight for the relay
// @Tags        Delivery
// @Success     200  {string}  string  "empty body"
// @Router      /delivery [options]
func (h *Handlers) Preflight(c *gin.Context) {
	c.Status(http.StatusOK)
}

// Relay godoc
// @ID          relayDelivery
// @Summary     Dispatch a delivery action
// @Description Runs one DoorDash Drive action for the authenticated caller and returns the upstream JSON unchanged.
// @Description createDelivery honours Idempotency-Key and replays the stored response for retries.
// @Tags        Delivery
// @Accept      json
// @Produce     json
//
// @Param       Authorization    header  string                  true   "Bearer session token"
// @Param       Idempotency-Key  header  string                  false  "Replay key for createDelivery"
// @Param       body             body    handlers.RelayRequest   true   "Action and parameters"
//
// @Success     200  {object}  object                        "Upstream JSON"
// @Header      200  {string}  Idempotent-Replay             "true when served from a stored result"
// @Failure     400  {object}  handlers.RelayErrorResponse   "Unknown action or malformed body"
// @Failure     401  {object}  handlers.RelayErrorResponse   "Unauthorized"
// @Failure     409  {object}  handlers.RelayErrorResponse   "Idempotency-Key still in progress"
// @Failure     500  {object}  handlers.RelayErrorResponse   "Configuration, validation or upstream error"
// @Security    BearerAuth
// @Router      /delivery [post]
func (h *Handlers) Relay(c *gin.Context) {
	if !h.credentialsPresent(c) {
		return
	}

	id, authed := h.identify(c)
	if !authed {
		relayFail(c, http.StatusUnauthorized, RelayErrorResponse{Error: "Unauthorized"})
		return
	}

	var req RelayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		relayFail(c, http.StatusBadRequest, RelayErrorResponse{
			Error:        "Invalid JSON body",
			ValidActions: ValidActions,
		})
		return
	}
	if !isValidAction(req.Action) {
		msg := "Invalid action"
		if req.Action == "" {
			msg = "Missing action"
		}
		relayFail(c, http.StatusBadRequest, RelayErrorResponse{Error: msg, ValidActions: ValidActions})
		return
	}

	idemKey, _ := middleware.GetIdempotencyKey(c)
	if req.Action == ActionCreateDelivery && idemKey != "" && h.replays != nil {
		h.relayOnce(c, id, req, idemKey)
		return
	}

	res, failure := h.perform(c, id, req)
	if failure != nil {
		relayFail(c, http.StatusInternalServerError, *failure)
		return
	}
	rawJSON(c, http.StatusOK, res)
}

// relayOutcome is a finished relay response that concurrent duplicates of a
// request can share.
type relayOutcome struct {
	status  int
	body    []byte
	failure *RelayErrorResponse
	replay  bool
}

// relayOnce runs req at most once per (user, key). Concurrent duplicates in
// this process wait for the first and receive its response; a key claimed
// elsewhere answers 409 until that request finishes.
func (h *Handlers) relayOnce(c *gin.Context, id *auth.Identity, req RelayRequest, key string) {
	leader := false
	v, _, _ := h.inflight.Do(id.UserID+"\x00"+key, func() (any, error) {
		leader = true
		return h.runClaimed(c, id, req, key), nil
	})
	out := v.(relayOutcome)
	if !leader && out.failure == nil {
		out.replay = true
	}

	if out.failure != nil {
		relayFail(c, out.status, *out.failure)
		return
	}
	if out.replay {
		middleware.MarkReplay(c)
		middleware.ObserveRelayAction(req.Action, "replay")
		c.Header(middleware.HeaderIdempotentReplay, "true")
	}
	rawJSON(c, out.status, out.body)
}

// runClaimed serves a stored result when one exists, otherwise claims the key,
// performs the action and stores or releases the claim.
func (h *Handlers) runClaimed(c *gin.Context, id *auth.Identity, req RelayRequest, key string) relayOutcome {
	ctx := c.Request.Context()
	if out, ok := h.stored(c, id.UserID, req.Action, key); ok {
		return out
	}

	if err := h.replays.Claim(ctx, id.UserID, req.Action, key); err != nil {
		if errors.Is(err, services.ErrReplayConflict) {
			// Claimed between our lookup and insert.
			if out, ok := h.stored(c, id.UserID, req.Action, key); ok {
				return out
			}
			return inProgressOutcome()
		}
		middleware.LoggerFrom(c).Error().Err(err).Str("action", req.Action).Msg("idempotency claim failed")
		return relayOutcome{
			status:  http.StatusInternalServerError,
			failure: &RelayErrorResponse{
				Error:     "Idempotency store unavailable",
				Code:      ErrCodeInternal,
				Timestamp: h.now().UTC().Format(time.RFC3339),
			},
		}
	}

	res, failure := h.perform(c, id, req)

	// The claim must settle even if the caller went away.
	settle, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()

	if failure != nil {
		if err := h.replays.Release(settle, id.UserID, req.Action, key); err != nil {
			middleware.LoggerFrom(c).Warn().Err(err).Str("action", req.Action).Msg("idempotency claim not released")
		}
		return relayOutcome{status: http.StatusInternalServerError, failure: failure}
	}
	if err := h.replays.Complete(settle, id.UserID, req.Action, key, http.StatusOK, res); err != nil {
		middleware.LoggerFrom(c).Warn().Err(err).Str("action", req.Action).Msg("idempotent result not stored")
	}
	return relayOutcome{status: http.StatusOK, body: res}
}

// stored looks up a finished or running claim for key. ok is false when the
// action should run.
func (h *Handlers) stored(c *gin.Context, userID, action, key string) (relayOutcome, bool) {
	status, body, found, err := h.replays.Lookup(c.Request.Context(), userID, action, key)
	switch {
	case errors.Is(err, services.ErrReplayInProgress):
		return inProgressOutcome(), true
	case err != nil:
		middleware.LoggerFrom(c).Warn().Err(err).Msg("idempotency lookup failed")
		return relayOutcome{}, false
	case found:
		return relayOutcome{status: status, body: body, replay: true}, true
	}
	return relayOutcome{}, false
}

func inProgressOutcome() relayOutcome {
	return relayOutcome{
		status:  http.StatusConflict,
		failure: &RelayErrorResponse{
			Error: "A request with this Idempotency-Key is still in progress",
			Code:  ErrCodeIdempotencyInProgress,
		},
	}
}

// perform runs the gateway call and records it. failure is set when the
// gateway returned an error.
func (h *Handlers) perform(c *gin.Context, id *auth.Identity, req RelayRequest) (json.RawMessage, *RelayErrorResponse) {
	start := h.now()
	res, err := h.execute(c.Request.Context(), req)
	elapsed := h.now().Sub(start)

	call := &domain.RelayCall{
		RequestID:          middleware.RequestIDFrom(c),
		UserID:             id.UserID,
		Action:             req.Action,
		ExternalDeliveryID: deliveryIDOf(req, res),
		DurationMS:         elapsed.Milliseconds(),
	}

	if err != nil {
		code := errorCode(err)
		call.Status = http.StatusInternalServerError
		call.ErrorCode = code
		call.ErrorMessage = err.Error()
		h.record(c, call)
		middleware.ObserveRelayAction(req.Action, code)

		return nil, &RelayErrorResponse{
			Error:       err.Error(),
			Code:        code,
			Timestamp:   h.now().UTC().Format(time.RFC3339),
			Environment: h.gw.Environment(),
		}
	}

	call.Status = http.StatusOK
	h.record(c, call)
	middleware.ObserveRelayAction(req.Action, "success")
	return res, nil
}

// RequireCredentials stops relay requests while DoorDash credentials are
// missing. Mounted ahead of identity resolution so a misconfigured
// deployment is reported as such without verifying the caller.
func (h *Handlers) RequireCredentials(c *gin.Context) {
	if h.credentialsPresent(c) {
		c.Next()
	}
}

func (h *Handlers) credentialsPresent(c *gin.Context) bool {
	missing := h.gw.MissingCredentials()
	if len(missing) == 0 {
		return true
	}
	relayFail(c, http.StatusInternalServerError, RelayErrorResponse{
		Error:             "Missing required DoorDash configuration",
		Code:              ErrCodeConfiguration,
		MissingVariables:  missing,
		RequiredVariables: config.RequiredVariables(),
	})
	return false
}

// identify returns the caller, reusing ResolveIdentity's result when the
// middleware ran.
func (h *Handlers) identify(c *gin.Context) (*auth.Identity, bool) {
	if id, ok := middleware.IdentityFrom(c); ok {
		return id, true
	}
	if h.verifier == nil {
		return nil, false
	}
	id, err := h.verifier.Verify(c.Request.Context(), c.GetHeader("Authorization"))
	if err != nil || id == nil {
		return nil, false
	}
	return id, true
}

// execute runs the gateway operation for req.Action.
func (h *Handlers) execute(ctx context.Context, req RelayRequest) (json.RawMessage, error) {
	switch req.Action {
	case ActionGetDeliveryQuote:
		return h.gw.GetDeliveryQuote(ctx, doordash.QuoteRequest{
			StoreID:        req.StoreID,
			PickupAddress:  req.PickupAddress,
			DropoffAddress: req.DropoffAddress,
		})
	case ActionCreateDelivery:
		var order doordash.OrderDetails
		if req.OrderDetails != nil {
			order = *req.OrderDetails
		}
		return h.gw.CreateDelivery(ctx, req.QuoteID, order)
	case ActionGetDeliveryStatus:
		return h.gw.GetDeliveryStatus(ctx, req.DeliveryID)
	case ActionCancelDelivery:
		return h.gw.CancelDelivery(ctx, req.DeliveryID, req.Reason)
	case ActionSearchStores:
		radius := req.Radius
		if radius <= 0 {
			radius = defaultSearchRadius
		}
		return h.gw.SearchStores(ctx, req.Lat, req.Lng, radius), nil
	}
	return nil, errors.New("unsupported action " + req.Action)
}

// record writes the audit row without letting a storage failure or a client
// disconnect affect the response.
func (h *Handlers) record(c *gin.Context, call *domain.RelayCall) {
	if h.audit == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), 2*time.Second)
	defer cancel()
	if err := h.audit.Record(ctx, call); err != nil {
		middleware.LoggerFrom(c).Warn().Err(err).Str("action", call.Action).Msg("relay audit write failed")
	}
}

func isValidAction(action string) bool {
	for _, a := range ValidActions {
		if a == action {
			return true
		}
	}
	return false
}

// errorCode maps a gateway error to its response code.
func errorCode(err error) string {
	switch {
	case errors.Is(err, doordash.ErrConfiguration):
		return ErrCodeConfiguration
	case errors.Is(err, doordash.ErrValidation):
		return ErrCodeValidation
	case errors.Is(err, doordash.ErrUpstream):
		return ErrCodeUpstream
	default:
		return ErrCodeInternal
	}
}

// deliveryIDOf returns the delivery an action refers to: the request's id for
// status and cancel, the generated id echoed by the API for create.
func deliveryIDOf(req RelayRequest, res json.RawMessage) string {
	if req.DeliveryID != "" {
		return req.DeliveryID
	}
	if req.Action != ActionCreateDelivery || len(res) == 0 {
		return ""
	}
	var v struct {
		ExternalDeliveryID string `json:"external_delivery_id"`
	}
	_ = json.Unmarshal(res, &v)
	return v.ExternalDeliveryID
}
