// Webhook HTTP handlers.
//
// This file exposes the endpoints called by upstream platforms:
//   - GET  /webhooks/whatsapp          (subscription handshake)
//   - POST /webhooks/whatsapp          (customer messages)
//   - POST /webhooks/whatsapp/status   (delivery receipts)
//   - POST /webhooks/paystack          (payment events)
//
// WhatsApp deliveries are always acknowledged with 200 once authenticated:
// Meta retries anything else, and redelivery is already a no-op downstream.
// Paystack gets 500 only for failures worth retrying.
package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/tbourn/whatsapp-storefront/internal/http/middleware"
	"github.com/tbourn/whatsapp-storefront/internal/payment"
	"github.com/tbourn/whatsapp-storefront/internal/whatsapp"
)

// hubSignatureHeader carries "sha256=<hex>" of the raw WhatsApp body.
const hubSignatureHeader = "X-Hub-Signature-256"

// VerifyWebhook godoc
// @ID          verifyWhatsAppWebhook
// @Summary     WhatsApp subscription handshake
// @Description Echoes hub.challenge when hub.mode is "subscribe" and hub.verify_token matches.
// @Tags        Webhooks
// @Produce     plain
//
// @Param       hub.mode          query  string  true  "Must be subscribe"
// @Param       hub.verify_token  query  string  true  "Pre-shared verify token"
// @Param       hub.challenge     query  string  true  "Value to echo"
//
// @Success     200  {string}  string                  "The challenge"
// @Failure     403  {object}  handlers.ErrorResponse  "Verification failed"
// @Router      /webhooks/whatsapp [get]
func (h *Handlers) VerifyWebhook(c *gin.Context) {
	challenge, valid := whatsapp.VerifyChallenge(
		c.Query("hub.mode"),
		c.Query("hub.verify_token"),
		c.Query("hub.challenge"),
		h.opts.VerifyToken,
	)
	if !valid {
		middleware.LoggerFrom(c).Warn().Str("mode", c.Query("hub.mode")).Msg("webhook verification rejected")
		fail(c, http.StatusForbidden, ErrCodeForbidden, "verification failed")
		return
	}
	c.String(http.StatusOK, challenge)
}

// ReceiveWhatsApp godoc
// @ID          receiveWhatsAppWebhook
// @Summary     Receive customer messages
// @Description Accepts a Cloud API webhook envelope. Messages are processed in delivery order;
// @Description malformed envelopes are acknowledged and dropped.
// @Tags        Webhooks
// @Accept      json
// @Produce     json
//
// @Param       X-Hub-Signature-256  header  string  false  "sha256=<hex>, required when an app secret is configured"
//
// @Success     200  {object}  handlers.AckResponse
// @Failure     401  {object}  handlers.ErrorResponse  "Invalid signature"
// @Router      /webhooks/whatsapp [post]
func (h *Handlers) ReceiveWhatsApp(c *gin.Context) {
	body, ok := h.readSigned(c)
	if !ok {
		return
	}
	lg := middleware.LoggerFrom(c)

	msgs, statuses, err := whatsapp.Parse(body)
	if err != nil {
		lg.Warn().Err(err).Int("bytes", len(body)).Msg("dropping malformed whatsapp webhook")
		ack(c)
		return
	}
	logStatuses(lg, statuses)
	if len(msgs) == 0 {
		ack(c)
		return
	}

	if h.opts.AsyncWebhooks {
		// Detach from the request so processing outlives the response.
		ctx := context.WithoutCancel(c.Request.Context())
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			h.process(ctx, msgs)
		}()
		ack(c)
		return
	}

	h.process(c.Request.Context(), msgs)
	ack(c)
}

// ReceiveStatus godoc
// @ID          receiveWhatsAppStatus
// @Summary     Receive delivery receipts
// @Description Logs sent/delivered/read/failed receipts for outbound messages and acknowledges.
// @Tags        Webhooks
// @Accept      json
// @Produce     json
//
// @Success     200  {object}  handlers.AckResponse
// @Failure     401  {object}  handlers.ErrorResponse  "Invalid signature"
// @Router      /webhooks/whatsapp/status [post]
func (h *Handlers) ReceiveStatus(c *gin.Context) {
	body, ok := h.readSigned(c)
	if !ok {
		return
	}
	lg := middleware.LoggerFrom(c)
	_, statuses, err := whatsapp.Parse(body)
	if err != nil {
		lg.Warn().Err(err).Msg("dropping malformed status callback")
		ack(c)
		return
	}
	logStatuses(lg, statuses)
	ack(c)
}

// PaystackWebhook godoc
// @ID          receivePaystackWebhook
// @Summary     Receive payment events
// @Description Verifies X-Paystack-Signature over the raw body, re-verifies charges with the provider
// @Description and reconciles the matching order. Unknown or unmatched events are acknowledged.
// @Tags        Webhooks
// @Accept      json
// @Produce     json
//
// @Param       X-Paystack-Signature  header  string  true  "hex HMAC-SHA512 of the body"
//
// @Success     200  {object}  handlers.AckResponse
// @Failure     401  {object}  handlers.ErrorResponse  "Invalid signature"
// @Failure     500  {object}  handlers.ErrorResponse  "Retryable failure"
// @Router      /webhooks/paystack [post]
func (h *Handlers) PaystackWebhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unreadable body")
		return
	}

	result, err := h.payments.HandleWebhook(c.Request.Context(), body, c.GetHeader(payment.SignatureHeader))
	switch {
	case errors.Is(err, payment.ErrInvalidSignature):
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid signature")
		return
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeWebhookFailed, "payment event not processed")
		return
	}
	middleware.LoggerFrom(c).Debug().Str("result", string(result)).Msg("payment webhook handled")
	ack(c)
}

// readSigned reads the body and, when an app secret is configured, checks the
// Meta signature. It writes the error response itself and reports false.
func (h *Handlers) readSigned(c *gin.Context) ([]byte, bool) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		// Oversized or truncated: nothing a retry would fix.
		middleware.LoggerFrom(c).Warn().Err(err).Msg("unreadable webhook body")
		ack(c)
		return nil, false
	}
	if h.opts.AppSecret != "" && !whatsapp.ValidSignature(h.opts.AppSecret, body, c.GetHeader(hubSignatureHeader)) {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid signature")
		return nil, false
	}
	return body, true
}

// process hands each message to the conversation core in delivery order.
// Failures are logged; the sender has already been or will be acknowledged.
func (h *Handlers) process(ctx context.Context, msgs []whatsapp.InboundMessage) {
	lg := zerolog.Ctx(ctx)
	for _, m := range msgs {
		out, err := h.inbound.HandleInbound(ctx, m)
		if err != nil {
			lg.Error().Err(err).Str("wamid", m.ID).Str("outcome", string(out)).Msg("inbound message failed")
			continue
		}
		lg.Debug().Str("wamid", m.ID).Str("outcome", string(out)).Msg("inbound message handled")
	}
}

func logStatuses(lg *zerolog.Logger, statuses []whatsapp.Status) {
	for _, s := range statuses {
		if s.Status == "failed" {
			ev := lg.Warn().Str("wamid", s.ID).Str("status", s.Status)
			if len(s.Errors) > 0 {
				ev = ev.Int("error_code", s.Errors[0].Code).Str("error", s.Errors[0].Title)
			}
			ev.Msg("outbound message failed")
			continue
		}
		lg.Debug().Str("wamid", s.ID).Str("status", s.Status).Msg("delivery status")
	}
}
