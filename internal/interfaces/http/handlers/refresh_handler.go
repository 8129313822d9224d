package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/neverMEH/amzatlas-sub009/internal/bigquery"
	"github.com/neverMEH/amzatlas-sub009/internal/config"
	"github.com/neverMEH/amzatlas-sub009/internal/domain"
	"github.com/neverMEH/amzatlas-sub009/internal/orchestrator"
	"github.com/neverMEH/amzatlas-sub009/internal/repository"
	"github.com/neverMEH/amzatlas-sub009/pkg/api"
)

// OrchestrateRequest optionally restricts a run to specific tables.
type OrchestrateRequest struct {
	Tables []orchestrator.TableRef `json:"tables,omitempty"`
}

// TableStatus is one row of the status endpoint response.
type TableStatus struct {
	TableSchema   string               `json:"table_schema"`
	TableName     string               `json:"table_name"`
	Config        domain.RefreshConfig `json:"config"`
	SourceMaxDate string               `json:"source_max_date,omitempty"`
	Due           bool                 `json:"due"`
}

// StatusResponse is the refresh status endpoint response.
type StatusResponse struct {
	Tables            []TableStatus `json:"tables"`
	DueCount          int           `json:"due_count"`
	ActiveCheckpoints int           `json:"active_checkpoints"`
}

// RefreshHandler serves the refresh orchestration API.
type RefreshHandler struct {
	runner      *orchestrator.Orchestrator
	configs     repository.ConfigStore
	audits      repository.AuditStore
	checkpoints repository.CheckpointStore
	reader      bigquery.Reader
	registry    *config.MappingRegistry
	logger      *zap.Logger
}

// NewRefreshHandler creates a RefreshHandler.
func NewRefreshHandler(
	runner *orchestrator.Orchestrator,
	configs repository.ConfigStore,
	audits repository.AuditStore,
	checkpoints repository.CheckpointStore,
	reader bigquery.Reader,
	registry *config.MappingRegistry,
	logger *zap.Logger,
) *RefreshHandler {
	return &RefreshHandler{
		runner:      runner,
		configs:     configs,
		audits:      audits,
		checkpoints: checkpoints,
		reader:      reader,
		registry:    registry,
		logger:      logger,
	}
}

// Orchestrate runs an orchestration cycle and returns the aggregated result.
func (h *RefreshHandler) Orchestrate(w http.ResponseWriter, r *http.Request) {
	var req OrchestrateRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			api.Error(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	result, err := h.runner.Run(r.Context(), req.Tables, domain.RefreshTypeManual)
	if err != nil {
		h.logger.Error("Orchestration run failed", zap.Error(err))
		api.Error(w, http.StatusInternalServerError, "orchestration failed")
		return
	}

	api.JSON(w, http.StatusOK, result)
}

// SyncTable runs a manual sync for one table.
func (h *RefreshHandler) SyncTable(w http.ResponseWriter, r *http.Request) {
	schema := chi.URLParam(r, "schema")
	table := chi.URLParam(r, "table")

	if _, ok := h.registry.Lookup(schema, table); !ok {
		api.Error(w, http.StatusNotFound, "no table mapping configured for "+schema+"."+table)
		return
	}

	refs := []orchestrator.TableRef{{Schema: schema, Table: table}}
	result, err := h.runner.Run(r.Context(), refs, domain.RefreshTypeManual)
	if err != nil {
		h.logger.Error("Manual table sync failed",
			zap.String("table", schema+"."+table),
			zap.Error(err),
		)
		api.Error(w, http.StatusInternalServerError, "sync failed")
		return
	}

	api.JSON(w, http.StatusOK, result)
}

// Status returns refresh configs, due counts, and source freshness.
func (h *RefreshHandler) Status(w http.ResponseWriter, r *http.Request) {
	configs, err := h.configs.List(r.Context())
	if err != nil {
		api.Error(w, http.StatusInternalServerError, "failed to load refresh configs")
		return
	}

	active, err := h.checkpoints.ListActive(r.Context())
	if err != nil {
		api.Error(w, http.StatusInternalServerError, "failed to load checkpoints")
		return
	}

	resp := StatusResponse{ActiveCheckpoints: len(active)}
	for _, cfg := range configs {
		status := TableStatus{
			TableSchema: cfg.TableSchema,
			TableName:   cfg.TableName,
			Config:      cfg,
			Due:         cfg.IsDue(nowUTC()),
		}
		if status.Due {
			resp.DueCount++
		}

		if mapping, ok := h.registry.Lookup(cfg.TableSchema, cfg.TableName); ok {
			dateColumn := mapping.DateColumn
			if dateColumn == "" {
				dateColumn = "end_date"
			}
			if maxDate, err := h.reader.MaxDate(r.Context(), mapping.SourceTable, dateColumn); err == nil {
				status.SourceMaxDate = maxDate
			} else {
				h.logger.Warn("Source freshness probe failed",
					zap.String("table", cfg.TableSchema+"."+cfg.TableName),
					zap.Error(err),
				)
			}
		}
		resp.Tables = append(resp.Tables, status)
	}

	api.JSON(w, http.StatusOK, resp)
}

// Audit returns sync history, newest first.
func (h *RefreshHandler) Audit(w http.ResponseWriter, r *http.Request) {
	filter := repository.AuditFilter{
		TableSchema: r.URL.Query().Get("schema"),
		TableName:   r.URL.Query().Get("table"),
		Status:      domain.RefreshStatus(r.URL.Query().Get("status")),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			api.Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = limit
	}

	logs, err := h.audits.List(r.Context(), filter)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			api.JSON(w, http.StatusOK, []domain.RefreshAuditLog{})
			return
		}
		api.Error(w, http.StatusInternalServerError, "failed to load audit history")
		return
	}

	api.JSON(w, http.StatusOK, logs)
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

// Checkpoints returns all active checkpoints.
func (h *RefreshHandler) Checkpoints(w http.ResponseWriter, r *http.Request) {
	active, err := h.checkpoints.ListActive(r.Context())
	if err != nil {
		api.Error(w, http.StatusInternalServerError, "failed to load checkpoints")
		return
	}
	if active == nil {
		active = []domain.RefreshCheckpoint{}
	}
	api.JSON(w, http.StatusOK, active)
}
