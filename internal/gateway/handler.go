package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// Broker is the upstream cloud print API.
type Broker interface {
	ListPrinters(ctx context.Context, cred Credential) ([]Printer, error)
	Printer(ctx context.Context, cred Credential, id int64) (*Printer, error)
	SubmitJob(ctx context.Context, cred Credential, printerID int64, title, contentB64 string) (int64, error)
}

type Handler struct {
	creds  *Credentials
	broker Broker
	logger *slog.Logger
	now    func() time.Time
}

func NewHandler(creds *Credentials, broker Broker, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		creds:  creds,
		broker: broker,
		logger: logger,
		now:    time.Now,
	}
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}

// Dispatch serves the action contract. The credential is resolved before
// any upstream call and is never echoed back.
func (h *Handler) Dispatch(c *gin.Context) {
	var req Request
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	switch req.Action {
	case ActionPrintReceipt, ActionPrintKOT, ActionCheckPrinter, ActionListPrinters:
	default:
		fail(c, http.StatusBadRequest, "invalid_action", "Unknown action: "+req.Action)
		return
	}

	cred, err := h.creds.Resolve(req.Tenant())
	if err != nil {
		h.logger.Warn("no credential for tenant", "tenant", req.Tenant(), "action", req.Action)
		fail(c, http.StatusInternalServerError, "credential_missing", "No print credential configured for this tenant")
		return
	}
	log := h.logger.With("tenant_key", cred, "action", req.Action)

	ctx := c.Request.Context()

	switch req.Action {
	case ActionListPrinters:
		printers, err := h.broker.ListPrinters(ctx, cred)
		if err != nil {
			h.upstreamFailed(c, log, err)
			return
		}
		succeed(c, printers, 0)

	case ActionCheckPrinter:
		id, ok := printerID(c, &req)
		if !ok {
			return
		}
		p, err := h.broker.Printer(ctx, cred, id)
		if err != nil {
			h.upstreamFailed(c, log, err)
			return
		}
		succeed(c, p, 0)

	default:
		id, ok := printerID(c, &req)
		if !ok {
			return
		}
		content := strings.TrimSpace(req.Content())
		if content == "" {
			fail(c, http.StatusBadRequest, "missing_content", "receipt_data or kot_data is required")
			return
		}
		if _, err := base64.StdEncoding.DecodeString(content); err != nil {
			fail(c, http.StatusBadRequest, "invalid_content", "Print data must be base64")
			return
		}
		title := req.Title
		if title == "" {
			title = strings.TrimPrefix(req.Action, "print_")
		}
		jobID, err := h.broker.SubmitJob(ctx, cred, id, title, content)
		if err != nil {
			h.upstreamFailed(c, log, err)
			return
		}
		log.Info("print job submitted", "printer_id", id, "broker_job", jobID)
		succeed(c, nil, jobID)
	}
}

func printerID(c *gin.Context, req *Request) (int64, bool) {
	if req.PrinterID == "" {
		fail(c, http.StatusBadRequest, "missing_printer_id", "printer_id is required")
		return 0, false
	}
	id, err := req.PrinterID.Int()
	if err != nil || id <= 0 {
		fail(c, http.StatusBadRequest, "invalid_printer_id", "printer_id must be a positive integer")
		return 0, false
	}
	return id, true
}

func (h *Handler) upstreamFailed(c *gin.Context, log *slog.Logger, err error) {
	log.Warn("broker request failed", "error", err)

	var be *BrokerError
	switch {
	case errors.As(err, &be) && be.StatusCode == http.StatusNotFound:
		fail(c, http.StatusNotFound, "printer_not_found", be.Message)
	case errors.Is(err, context.DeadlineExceeded):
		fail(c, http.StatusGatewayTimeout, "broker_timeout", "Cloud print broker timed out")
	case errors.As(err, &be):
		fail(c, http.StatusBadGateway, "broker_error", be.Message)
	default:
		fail(c, http.StatusBadGateway, "broker_unreachable", "Cloud print broker unreachable")
	}
}

func succeed(c *gin.Context, data any, jobID int64) {
	resp := Response{Success: true, JobID: jobID}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			fail(c, http.StatusInternalServerError, "encode_failed", "Failed to encode response")
			return
		}
		resp.Data = raw
	}
	c.JSON(http.StatusOK, resp)
}

func fail(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, Response{Success: false, Error: code, Message: message})
}

// RegisterRoutes mounts the gateway. guard runs before the dispatch
// handler, in order.
func RegisterRoutes(router gin.IRouter, h *Handler, guard ...gin.HandlerFunc) {
	router.GET("/health", h.Health)
	router.POST("/v1/dispatch", append(guard, h.Dispatch)...)
}
