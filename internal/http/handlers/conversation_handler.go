// Operator API handlers.
//
// This file exposes the endpoints the operator dashboard drives:
//   - GET  /conversations                 (list, paginated, ETag)
//   - GET  /conversations/{id}/messages   (message log, paginated, ETag)
//   - POST /conversations/{id}/messages   (agent reply, Idempotency-Key)
//   - PUT  /conversations/{id}/status     (status transition)
//
// Idempotency:
// If IdempotencyValidator found a stored result for (operator, conversation,
// key), the handler returns that message with `Idempotency-Replayed: true`
// and does not message the customer again.
package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/whatsapp-storefront/internal/domain"
	"github.com/tbourn/whatsapp-storefront/internal/http/middleware"
	"github.com/tbourn/whatsapp-storefront/internal/repo"
	"github.com/tbourn/whatsapp-storefront/internal/services"
	"github.com/tbourn/whatsapp-storefront/internal/utils"
)

//
// DTOs
//

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ConversationSummary is a conversation with the customer fields the
// dashboard shows in its inbox.
type ConversationSummary struct {
	domain.Conversation
	CustomerPhone string `json:"customer_phone" example:"+233241234567"`
	CustomerName  string `json:"customer_name,omitempty" example:"Ama"`
}

// ListConversationsResponse wraps a page of conversations.
type ListConversationsResponse struct {
	Conversations []ConversationSummary `json:"conversations"`
	Pagination    Pagination            `json:"pagination"`
}

// ListMessagesResponse wraps a page of a conversation's message log.
type ListMessagesResponse struct {
	Messages   []domain.Message `json:"messages"`
	Pagination Pagination       `json:"pagination"`
}

// PostMessageRequest is the JSON payload for an agent reply.
type PostMessageRequest struct {
	Content string `json:"content" binding:"required,min=1" example:"Hi Ama, your mug ships tomorrow."`
}

// PostMessageResponse wraps the stored agent message.
type PostMessageResponse struct {
	Message *domain.Message `json:"message"`
}

// UpdateStatusRequest is the JSON payload for a status transition.
type UpdateStatusRequest struct {
	Status domain.ConversationStatus `json:"status" binding:"required" example:"RESOLVED"`
}

//
// Helpers
//

func pagination(p utils.Page, total int64) Pagination {
	totalPages := p.TotalPages(total)
	return Pagination{
		Page:       p.Number,
		PageSize:   p.Size,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    p.Number < totalPages,
	}
}

// nlCollapseRE collapses runs of 3+ newlines to two, preserving paragraphs.
var nlCollapseRE = regexp.MustCompile(`\n{3,}`)

// sanitizeContent converts CRLF/CR to LF, collapses blank-line runs and trims.
func sanitizeContent(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = nlCollapseRE.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// etagMatches sets ETag and reports whether If-None-Match already has it.
func etagMatches(c *gin.Context, etag string) bool {
	c.Header("ETag", etag)
	inm := c.GetHeader("If-None-Match")
	return inm != "" && inm == etag
}

// conversationID validates the :id path parameter.
func conversationID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "conversation id must be a UUID")
		return "", false
	}
	return id, true
}

// operatorError maps service errors onto the envelope. fallback is the code
// for unexpected failures.
func operatorError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, services.ErrConversationNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "conversation not found")
	case errors.Is(err, services.ErrInvalidStatus):
		fail(c, http.StatusBadRequest, ErrCodeInvalidStatus, "unknown conversation status")
	case errors.Is(err, services.ErrInvalidTransition):
		fail(c, http.StatusConflict, ErrCodeInvalidTransition, err.Error())
	case errors.Is(err, services.ErrEmptyContent):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
	case errors.Is(err, services.ErrTooLong):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content too long")
	default:
		fail(c, http.StatusInternalServerError, fallback, err.Error())
	}
}

//
// Handlers
//

// ListConversations godoc
// @ID          listConversations
// @Summary     List conversations (paginated)
// @Description Returns conversations, most recently updated first. Supports weak ETag via If-None-Match.
// @Tags        Conversations
// @Produce     json
// @Security    BearerAuth
//
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
// @Param       status         query   string  false "Filter by status"  Enums(ACTIVE, WAITING_FOR_AGENT, WITH_AGENT, RESOLVED, CLOSED)
// @Param       page           query   int     false "Page number"       minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"    minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListConversationsResponse
// @Header      200  {string} ETag  "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     400  {object} handlers.ErrorResponse "Unknown status"
// @Failure     401  {object} handlers.ErrorResponse "Unauthorized"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /api/v1/conversations [get]
func (h *Handlers) ListConversations(c *gin.Context) {
	ctx := c.Request.Context()
	status := domain.ConversationStatus(strings.ToUpper(strings.TrimSpace(c.Query("status"))))
	if status != "" && !status.Valid() {
		fail(c, http.StatusBadRequest, ErrCodeInvalidStatus, "unknown conversation status")
		return
	}
	p := utils.ParsePage(c.Query("page"), c.Query("page_size"))

	// ETag pre-check (best effort).
	if h.db != nil {
		if count, latest, err := repo.ConversationsStats(ctx, h.db, status); err == nil {
			var ts int64
			if latest != nil {
				ts = latest.UnixNano()
			}
			etag := fmt.Sprintf(`W/"conversations:%s:%d:%d:%d:%d"`, status, count, ts, p.Number, p.Size)
			if etagMatches(c, etag) {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	items, total, err := h.operator.ListConversations(ctx, status, p.Number, p.Size)
	if err != nil {
		operatorError(c, err, ErrCodeListFailed)
		return
	}

	out := make([]ConversationSummary, 0, len(items))
	for _, conv := range items {
		out = append(out, ConversationSummary{
			Conversation:  conv,
			CustomerPhone: conv.Customer.PhoneNumber,
			CustomerName:  conv.Customer.DisplayName(""),
		})
	}
	ok(c, http.StatusOK, ListConversationsResponse{Conversations: out, Pagination: pagination(p, total)})
}

// ListMessages godoc
// @ID          listConversationMessages
// @Summary     List a conversation's messages
// @Description Returns the message log oldest first. Supports weak ETag via If-None-Match.
// @Tags        Conversations
// @Produce     json
// @Security    BearerAuth
//
// @Param       id             path    string  true  "Conversation ID (UUID)"  format(uuid)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
// @Param       page           query   int     false "Page number"     minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListMessagesResponse
// @Success     304  {string} string "Not Modified"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Conversation not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /api/v1/conversations/{id}/messages [get]
func (h *Handlers) ListMessages(c *gin.Context) {
	ctx := c.Request.Context()
	convID, valid := conversationID(c)
	if !valid {
		return
	}
	p := utils.ParsePage(c.Query("page"), c.Query("page_size"))

	if h.db != nil {
		if count, latest, err := repo.MessagesStats(ctx, h.db, convID); err == nil && count > 0 {
			etag := fmt.Sprintf(`W/"messages:%s:%d:%d:%d:%d"`, convID, count, latest.UnixNano(), p.Number, p.Size)
			if etagMatches(c, etag) {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	items, total, err := h.operator.ListMessages(ctx, convID, p.Number, p.Size)
	if err != nil {
		operatorError(c, err, ErrCodeListFailed)
		return
	}
	ok(c, http.StatusOK, ListMessagesResponse{Messages: items, Pagination: pagination(p, total)})
}

// PostMessage godoc
// @ID          postAgentMessage
// @Summary     Reply to the customer as an agent
// @Description Sends the reply over WhatsApp and records it with sender AGENT. A conversation that is
// @Description ACTIVE or WAITING_FOR_AGENT moves to WITH_AGENT and is assigned to the caller.
// @Description Supports idempotency via the Idempotency-Key header (same key → same message, no resend).
// @Tags        Conversations
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       Idempotency-Key  header  string  false "Key for safe retries"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       id               path    string  true  "Conversation ID (UUID)"  format(uuid)
// @Param       body             body    handlers.PostMessageRequest  true  "Reply"
//
// @Success     201  {object}  handlers.PostMessageResponse  "Reply sent"
// @Success     200  {object}  handlers.PostMessageResponse  "Replayed result"
// @Failure     400  {object}  handlers.ErrorResponse        "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse        "Conversation not found"
// @Failure     409  {object}  handlers.ErrorResponse        "Conversation is closed"
// @Failure     502  {object}  handlers.ErrorResponse        "Stored but not delivered"
// @Router      /api/v1/conversations/{id}/messages [post]
func (h *Handlers) PostMessage(c *gin.Context) {
	ctx := c.Request.Context()
	convID, valid := conversationID(c)
	if !valid {
		return
	}
	operatorID := middleware.OperatorID(c)

	if msgID, replay := middleware.ReplayOf(c); replay && h.db != nil {
		if prev, err := repo.GetMessage(ctx, h.db, msgID); err == nil {
			c.Header("Idempotency-Replayed", "true")
			ok(c, http.StatusOK, PostMessageResponse{Message: prev})
			return
		}
	}

	var req PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
		return
	}
	content := sanitizeContent(req.Content)
	if content == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
		return
	}
	if limit := h.opts.MaxContentRunes; limit > 0 && utf8.RuneCountInString(content) > limit {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, fmt.Sprintf("content too long: max %d runes", limit))
		return
	}

	m, err := h.operator.Reply(ctx, operatorID, convID, content)
	if err != nil {
		if errors.Is(err, services.ErrDeliveryFailed) {
			// The message is in the log; a retry would store a second copy.
			fail(c, http.StatusBadGateway, ErrCodeDeliveryFailed, "reply stored but not delivered to the customer")
			return
		}
		operatorError(c, err, ErrCodeReplyFailed)
		return
	}

	if key, has := middleware.GetIdempotencyKey(c); has && h.db != nil {
		if _, err := repo.CreateIdempotency(ctx, h.db, operatorID, convID, key, m.ID, http.StatusCreated, h.opts.IdempotencyTTL); err != nil && !errors.Is(err, repo.ErrDuplicate) {
			middleware.LoggerFrom(c).Warn().Err(err).Msg("idempotency record not stored")
		}
	}

	ok(c, http.StatusCreated, PostMessageResponse{Message: m})
}

// UpdateStatus godoc
// @ID          updateConversationStatus
// @Summary     Change a conversation's status
// @Description Hands a conversation back to the AI (ACTIVE), takes it over (WITH_AGENT), or ends it
// @Description (RESOLVED, CLOSED). Terminal conversations cannot change.
// @Tags        Conversations
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       id    path  string  true  "Conversation ID (UUID)"  format(uuid)
// @Param       body  body  handlers.UpdateStatusRequest  true  "Target status"
//
// @Success     200  {object} domain.Conversation
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Conversation not found"
// @Failure     409  {object} handlers.ErrorResponse "Transition not allowed"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /api/v1/conversations/{id}/status [put]
func (h *Handlers) UpdateStatus(c *gin.Context) {
	convID, valid := conversationID(c)
	if !valid {
		return
	}
	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "status required")
		return
	}
	next := domain.ConversationStatus(strings.ToUpper(strings.TrimSpace(string(req.Status))))

	conv, err := h.operator.UpdateStatus(c.Request.Context(), middleware.OperatorID(c), convID, next)
	if err != nil {
		operatorError(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, conv)
}
