package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/orrn/printdispatch/internal/core"
	"github.com/orrn/printdispatch/internal/db"
	"github.com/orrn/printdispatch/internal/document"
)

// HistoryReader is the read side of the job history store.
type HistoryReader interface {
	RecentJobs(ctx context.Context, printerID string, limit int) ([]db.HistoryEntry, error)
	PrintCount(ctx context.Context, printerID string, from, to time.Time) (int64, error)
	DailyCounts(ctx context.Context, printerID string, from, to time.Time) ([]db.DailyCount, error)
}

const (
	defaultHistoryDays = 7
	maxHistoryDays     = 90
)

// DispatchHandler serves the control surface. It validates shape and hands
// off to the registry; it never formats or talks to printers itself.
type DispatchHandler struct {
	registry *core.Registry
	history  HistoryReader
	location *time.Location
	now      func() time.Time
	logger   *slog.Logger
}

// NewDispatchHandler builds the handler. history may be nil.
func NewDispatchHandler(registry *core.Registry, history HistoryReader, loc *time.Location, logger *slog.Logger) *DispatchHandler {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DispatchHandler{
		registry: registry,
		history:  history,
		location: loc,
		now:      time.Now,
		logger:   logger,
	}
}

func (h *DispatchHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}

func (h *DispatchHandler) ListPrinters(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"printers": h.registry.Printers()})
}

func (h *DispatchHandler) GetStatus(c *gin.Context) {
	st, err := h.registry.Status(c.Request.Context(), c.Param("printerId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *DispatchHandler) Print(c *gin.Context) {
	var req PrintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}

	kind := document.KindKOT
	if req.DocumentKind != "" {
		k, err := document.ParseKind(req.DocumentKind)
		if err != nil || k == document.KindTest {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: "documentKind must be kot, receipt or raw"})
			return
		}
		kind = k
	}

	sub := core.Submission{PrinterID: req.PrinterID, Kind: kind}
	switch {
	case kind == document.KindRaw:
		sub.Raw = req.RawContent
		if req.PrintJob != nil {
			sub.Order = &document.Order{Number: req.PrintJob.OrderNumber}
		}
	case req.PrintJob == nil || len(req.PrintJob.Items) == 0:
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: "printJob with at least one item is required"})
		return
	default:
		order, err := req.PrintJob.toOrder(h.location)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: err.Error()})
			return
		}
		sub.Order = order
	}

	receipt, err := h.registry.Submit(sub)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, PrintResponse{JobID: receipt.JobID, QueuePosition: receipt.QueuePosition})
}

func (h *DispatchHandler) GetQueue(c *gin.Context) {
	q, err := h.registry.Queue(c.Param("printerId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toQueueResponse(q.Snapshot()))
}

func (h *DispatchHandler) ClearQueue(c *gin.Context) {
	n, err := h.registry.Clear(c.Param("printerId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"clearedCount": n})
}

// TestPrint enqueues the sample order. The body is optional.
func (h *DispatchHandler) TestPrint(c *gin.Context) {
	var req TestRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}

	printerID := req.PrinterID
	if printerID == "" {
		printerID = h.registry.DefaultPrinter()
	}
	receipt, err := h.registry.SubmitTest(printerID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, PrintResponse{JobID: receipt.JobID, QueuePosition: receipt.QueuePosition, PrinterID: printerID})
}

func (h *DispatchHandler) GetHistory(c *gin.Context) {
	printerID := c.Param("printerId")
	if _, err := h.registry.Queue(printerID); err != nil {
		h.respondError(c, err)
		return
	}
	if h.history == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "history_disabled", Message: "job history is not configured"})
		return
	}

	limit := db.DefaultHistoryLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: "limit must be a positive integer"})
			return
		}
		limit = n
	}

	days := defaultHistoryDays
	if v := c.Query("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxHistoryDays {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: fmt.Sprintf("days must be between 1 and %d", maxHistoryDays)})
			return
		}
		days = n
	}

	ctx := c.Request.Context()
	entries, err := h.history.RecentJobs(ctx, printerID, limit)
	if err != nil {
		h.logger.Error("failed to read history", "printer", printerID, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal", Message: "failed to read history"})
		return
	}

	today := h.now().UTC()
	printed, err := h.history.PrintCount(ctx, printerID, today, today)
	if err != nil {
		h.logger.Error("failed to read print counter", "printer", printerID, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal", Message: "failed to read print counter"})
		return
	}

	daily, err := h.history.DailyCounts(ctx, printerID, today.AddDate(0, 0, 1-days), today)
	if err != nil {
		h.logger.Error("failed to read daily counters", "printer", printerID, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal", Message: "failed to read print counter"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"printerId":   printerID,
		"printsToday": printed,
		"daily":       daily,
		"jobs":        entries,
	})
}

func (h *DispatchHandler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, core.ErrPrinterNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "printer_not_found", Message: err.Error()})
	case errors.Is(err, core.ErrEmptyPayload), errors.Is(err, core.ErrInvalidDocument):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: err.Error()})
	case errors.Is(err, core.ErrQueueStopped):
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "shutting_down", Message: err.Error()})
	default:
		h.logger.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal", Message: "internal error"})
	}
}
