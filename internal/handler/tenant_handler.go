package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/castla94/gestor-chatbot/internal/model"
	"github.com/castla94/gestor-chatbot/pkg/logger"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// Lifecycle runs the tenant state transitions
type Lifecycle interface {
	Create(ctx context.Context, t model.Tenant) error
	Start(ctx context.Context, id, name string) error
	Stop(ctx context.Context, id, name string) error
	Reset(ctx context.Context, id, name string) error
	Delete(ctx context.Context, name string) error
}

// Status reads the supervisor table and session state
type Status interface {
	ListStatuses(ctx context.Context) ([]model.TenantStatusView, error)
	ConnectionState(ctx context.Context, id, name string) (model.ConnectionState, error)
}

// TenantHandler serves the tenant control API
type TenantHandler struct {
	lifecycle Lifecycle
	status    Status
	logs      LogRelay
}

// NewTenantHandler creates the control API handler
func NewTenantHandler(lifecycle Lifecycle, status Status, logs LogRelay) *TenantHandler {
	return &TenantHandler{lifecycle: lifecycle, status: status, logs: logs}
}

// Register mounts every tenant route under /clientes
func (h *TenantHandler) Register(e *echo.Echo) {
	g := e.Group("/clientes")
	g.POST("/create", h.Create)
	g.POST("/start", h.Start)
	g.POST("/stop", h.Stop)
	g.POST("/reset", h.Reset)
	g.POST("/delete", h.Delete)
	g.GET("/status", h.ListStatus)
	g.POST("/bot-conextion", h.Connection)
	g.GET("/logs/:appName", h.StreamLogs)
	g.GET("/logs/:appName/ws", h.StreamLogsWS)
}

// flexString accepts a JSON string or number. Clients send id and port either way.
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", data)
	}
	*s = flexString(n.String())
	return nil
}

// CreateRequest is the body of POST /clientes/create
type CreateRequest struct {
	ID    flexString `json:"id"`
	Name  string     `json:"name"`
	Email string     `json:"email"`
	Port  flexString `json:"port"`
}

// TenantRequest identifies an existing tenant
type TenantRequest struct {
	ID   flexString `json:"id"`
	Name string     `json:"name"`
}

// DeleteRequest is the body of POST /clientes/delete
type DeleteRequest struct {
	Name string `json:"name"`
}

// errorMessages are the caller-facing texts of the mapped error kinds
type errorMessages struct {
	validation string
	invalid    string
	notFound   string
}

const (
	msgMissingCreate = "Faltan parámetros (id, name, email, port)"
	msgMissingTenant = "Faltan parámetros (id, name)"
	msgMissingName   = "Faltan parámetros (name)"

	msgInvalidTenant = "Parámetros inválidos (id, name)"
	msgInvalidName   = "Parámetros inválidos (name)"
)

func tenantMessages(name string) errorMessages {
	return errorMessages{
		validation: msgMissingTenant,
		invalid:    msgInvalidTenant,
		notFound:   fmt.Sprintf("Cliente %s no encontrado.", name),
	}
}

// respondError maps a lifecycle error onto the HTTP status and body
func respondError(c echo.Context, log *zap.Logger, err error, msgs errorMessages) error {
	switch {
	case errors.Is(err, model.ErrInvalidSegment):
		log.Warn("Invalid tenant identifier", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": msgs.invalid})
	case model.IsValidation(err):
		log.Warn("Missing request parameters", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": msgs.validation})
	case model.IsNotFound(err):
		log.Warn("Tenant not found", zap.Error(err))
		return c.JSON(http.StatusNotFound, echo.Map{"error": msgs.notFound})
	default:
		log.Error("Tenant operation failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": err.Error()})
	}
}

// Create provisions, configures and starts a new tenant
func (h *TenantHandler) Create(c echo.Context) error {
	log := logger.FromContext(c)

	var req CreateRequest
	if err := c.Bind(&req); err != nil {
		log.Warn("Invalid create request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": msgMissingCreate})
	}

	t := model.Tenant{ID: string(req.ID), Name: req.Name, Email: req.Email, Port: string(req.Port)}
	log = log.With(zap.String("tenant_id", t.ID), zap.String("tenant_name", t.Name))
	log.Info("Creating tenant", zap.String("port", t.Port))

	if err := h.lifecycle.Create(c.Request().Context(), t); err != nil {
		return respondError(c, log, err, errorMessages{validation: msgMissingCreate, invalid: msgInvalidTenant})
	}

	log.Info("Tenant created successfully")
	return c.JSON(http.StatusOK, echo.Map{
		"message": fmt.Sprintf("Cliente %s creado e iniciado en el puerto %s", t.Name, t.Port),
	})
}

// bindTenant decodes an id/name body, answering 400 itself on a malformed body
func bindTenant(c echo.Context, log *zap.Logger) (TenantRequest, bool, error) {
	var req TenantRequest
	if err := c.Bind(&req); err != nil {
		log.Warn("Invalid tenant request", zap.Error(err))
		return req, false, c.JSON(http.StatusBadRequest, echo.Map{"error": msgMissingTenant})
	}
	return req, true, nil
}

// Start launches the process of an existing tenant
func (h *TenantHandler) Start(c echo.Context) error {
	log := logger.FromContext(c)
	req, ok, err := bindTenant(c, log)
	if !ok {
		return err
	}
	log = log.With(zap.String("tenant_id", string(req.ID)), zap.String("tenant_name", req.Name))
	log.Info("Starting tenant")

	if err := h.lifecycle.Start(c.Request().Context(), string(req.ID), req.Name); err != nil {
		return respondError(c, log, err, tenantMessages(req.Name))
	}
	return c.JSON(http.StatusOK, echo.Map{"message": fmt.Sprintf("Cliente %s iniciado en PM2", req.Name)})
}

// Stop halts the process of a tenant and clears its session artifacts
func (h *TenantHandler) Stop(c echo.Context) error {
	log := logger.FromContext(c)
	req, ok, err := bindTenant(c, log)
	if !ok {
		return err
	}
	log = log.With(zap.String("tenant_id", string(req.ID)), zap.String("tenant_name", req.Name))
	log.Info("Stopping tenant")

	if err := h.lifecycle.Stop(c.Request().Context(), string(req.ID), req.Name); err != nil {
		return respondError(c, log, err, tenantMessages(req.Name))
	}
	return c.JSON(http.StatusOK, echo.Map{"message": fmt.Sprintf("Cliente %s detenido PM2", req.Name)})
}

// Reset restarts a tenant with a fresh session
func (h *TenantHandler) Reset(c echo.Context) error {
	log := logger.FromContext(c)
	req, ok, err := bindTenant(c, log)
	if !ok {
		return err
	}
	log = log.With(zap.String("tenant_id", string(req.ID)), zap.String("tenant_name", req.Name))
	log.Info("Resetting tenant")

	if err := h.lifecycle.Reset(c.Request().Context(), string(req.ID), req.Name); err != nil {
		return respondError(c, log, err, tenantMessages(req.Name))
	}
	return c.JSON(http.StatusOK, echo.Map{"message": fmt.Sprintf("Cliente %s reiniciado en PM2", req.Name)})
}

// Delete removes a tenant, looked up by name
func (h *TenantHandler) Delete(c echo.Context) error {
	log := logger.FromContext(c)

	var req DeleteRequest
	if err := c.Bind(&req); err != nil {
		log.Warn("Invalid delete request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": msgMissingName})
	}
	log = log.With(zap.String("tenant_name", req.Name))
	log.Info("Deleting tenant")

	if err := h.lifecycle.Delete(c.Request().Context(), req.Name); err != nil {
		return respondError(c, log, err, errorMessages{
			validation: msgMissingName,
			invalid:    msgInvalidName,
			notFound:   fmt.Sprintf("Cliente con ID %s no encontrado.", req.Name),
		})
	}
	return c.JSON(http.StatusOK, echo.Map{"message": fmt.Sprintf("Cliente con ID %s eliminado exitosamente.", req.Name)})
}

// ListStatus returns every supervisor entry as a status view
func (h *TenantHandler) ListStatus(c echo.Context) error {
	log := logger.FromContext(c)

	views, err := h.status.ListStatuses(c.Request().Context())
	if err != nil {
		log.Error("Failed to fetch supervisor status", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "Error fetching PM2 status"})
	}

	log.Info("Supervisor status retrieved", zap.Int("count", len(views)))
	return c.JSON(http.StatusOK, views)
}

// Connection reports whether the bot of a tenant holds a session
func (h *TenantHandler) Connection(c echo.Context) error {
	log := logger.FromContext(c)
	req, ok, err := bindTenant(c, log)
	if !ok {
		return err
	}
	log = log.With(zap.String("tenant_id", string(req.ID)), zap.String("tenant_name", req.Name))

	state, err := h.status.ConnectionState(c.Request().Context(), string(req.ID), req.Name)
	if err != nil {
		return respondError(c, log, err, tenantMessages(req.Name))
	}

	log.Info("Connection state checked", zap.String("session_status", string(state)))
	return c.JSON(http.StatusOK, echo.Map{
		"message":       fmt.Sprintf("Estado de sesión del cliente %s", req.Name),
		"sessionStatus": state,
	})
}
