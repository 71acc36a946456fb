// Relay call history.
//
//   - GET /deliveries/calls        (paginated, ETag support)
//   - GET /deliveries/calls/{id}
//
// Both routes sit behind RequireIdentity and only ever show the caller's own
// calls. The rows are an audit trail, not delivery state; the current state
// of a delivery comes from getDeliveryStatus.
package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/go-delivery-relay/internal/domain"
	"github.com/tbourn/go-delivery-relay/internal/http/middleware"
	"github.com/tbourn/go-delivery-relay/internal/services"
	"github.com/tbourn/go-delivery-relay/internal/utils"
)

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListCallsResponse wraps a page of relay calls.
type ListCallsResponse struct {
	Calls      []domain.RelayCall `json:"calls"`
	Pagination Pagination         `json:"pagination"`
}

// clampPagination bounds page and page_size to [1, ∞) and [1, 100].
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.ClampInt(utils.AtoiDefault(c.Query("page_size"), defaultPageSize), 1, maxPageSize)
	return
}

// callerID returns the user resolved by RequireIdentity.
func callerID(c *gin.Context) string {
	if id, ok := middleware.IdentityFrom(c); ok {
		return id.UserID
	}
	return ""
}

// ListCalls godoc
// @ID          listRelayCalls
// @Summary     List my relay calls (paginated)
// @Description Newest first. Supports weak ETag via If-None-Match and may return 304.
// @Tags        History
// @Produce     json
//
// @Param       Authorization  header  string  true   "Bearer session token"
// @Param       If-None-Match  header  string  false  "Return 304 if ETag matches"
// @Param       page           query   int     false  "Page number"     minimum(1) default(1)
// @Param       page_size      query   int     false  "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListCallsResponse
// @Header      200  {string} ETag  "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     401  {object} handlers.ErrorResponse "Unauthorized"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Security    BearerAuth
// @Router      /deliveries/calls [get]
func (h *Handlers) ListCalls(c *gin.Context) {
	uid := callerID(c)
	if uid == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "Unauthorized")
		return
	}
	if h.audit == nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, "call history is not enabled")
		return
	}
	ctx := c.Request.Context()
	page, pageSize := clampPagination(c)

	// ETag pre-check (best effort).
	if count, maxTS, err := h.audit.Stats(ctx, uid); err == nil {
		var ts int64
		if maxTS != nil {
			ts = maxTS.UnixNano()
		}
		etag := fmt.Sprintf(`W/"calls:%s:%d:%d:%d:%d"`, uid, count, ts, page, pageSize)
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	items, total, err := h.audit.ListPage(ctx, uid, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	if items == nil {
		items = []domain.RelayCall{}
	}

	totalPages := utils.TotalPages(total, pageSize)
	ok(c, http.StatusOK, ListCallsResponse{
		Calls: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// GetCall godoc
// @ID          getRelayCall
// @Summary     Get one of my relay calls
// @Tags        History
// @Produce     json
//
// @Param       Authorization  header  string  true  "Bearer session token"
// @Param       id             path    string  true  "Relay call ID (UUID)"  format(uuid)
//
// @Success     200  {object} domain.RelayCall
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     401  {object} handlers.ErrorResponse "Unauthorized"
// @Failure     404  {object} handlers.ErrorResponse "Not found"
// @Security    BearerAuth
// @Router      /deliveries/calls/{id} [get]
func (h *Handlers) GetCall(c *gin.Context) {
	uid := callerID(c)
	if uid == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "Unauthorized")
		return
	}
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "call id must be a UUID")
		return
	}
	if h.audit == nil {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "relay call not found")
		return
	}

	call, err := h.audit.Get(c.Request.Context(), uid, id)
	switch {
	case errors.Is(err, services.ErrCallNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "relay call not found")
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	default:
		ok(c, http.StatusOK, call)
	}
}
