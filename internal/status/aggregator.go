package status

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/castla94/gestor-chatbot/internal/model"
	"go.uber.org/zap"
)

// Lister returns the supervisor process table
type Lister interface {
	ListProcesses(ctx context.Context) ([]model.ProcessInfo, error)
}

// ConnectionProbe infers whether a tenant bot holds a live session
type ConnectionProbe interface {
	Probe(ctx context.Context, tenantPath string) (model.ConnectionState, error)
}

// SessionDirProbe counts entries of the session artifact directory. More than
// one entry means connected. This is a heuristic, not a protocol check.
type SessionDirProbe struct {
	DirName string
}

// Probe counts the session artifacts of the tenant; an absent directory counts as zero
func (p SessionDirProbe) Probe(ctx context.Context, tenantPath string) (model.ConnectionState, error) {
	entries, err := os.ReadDir(filepath.Join(tenantPath, p.DirName))
	if os.IsNotExist(err) {
		return model.Disconnected, nil
	}
	if err != nil {
		return model.Disconnected, err
	}
	if len(entries) > 1 {
		return model.Connected, nil
	}
	return model.Disconnected, nil
}

// Aggregator builds tenant status views
type Aggregator struct {
	lister      Lister
	probe       ConnectionProbe
	clientsRoot string
	log         *zap.Logger
}

// NewAggregator creates a status aggregator
func NewAggregator(lister Lister, probe ConnectionProbe, clientsRoot string, log *zap.Logger) *Aggregator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Aggregator{lister: lister, probe: probe, clientsRoot: clientsRoot, log: log}
}

// ListStatuses maps every supervisor entry into a status view. Entries are
// not cross-checked against tenant directories.
func (a *Aggregator) ListStatuses(ctx context.Context) ([]model.TenantStatusView, error) {
	procs, err := a.lister.ListProcesses(ctx)
	if err != nil {
		a.log.Error("Failed to list supervisor processes", zap.Error(err))
		return nil, err
	}

	views := make([]model.TenantStatusView, 0, len(procs))
	for _, p := range procs {
		views = append(views, View(p))
	}
	a.log.Debug("Supervisor process list retrieved", zap.Int("count", len(views)))
	return views, nil
}

// View renders a process entry for the API
func View(p model.ProcessInfo) model.TenantStatusView {
	return model.TenantStatusView{
		Name:   p.Name,
		Status: p.Status,
		Port:   p.Port,
		Uptime: p.Uptime,
		Memory: fmt.Sprintf("%.2f MB", p.MemoryMB),
		CPU:    strconv.FormatFloat(p.CPU, 'f', -1, 64) + "%",
	}
}

// ConnectionState probes the session state of the tenant with id
func (a *Aggregator) ConnectionState(ctx context.Context, id, name string) (model.ConnectionState, error) {
	if id == "" || name == "" {
		return model.Disconnected, fmt.Errorf("%w: id and name are required", model.ErrValidation)
	}
	if err := model.ValidateSegment("id", id); err != nil {
		return model.Disconnected, err
	}

	path := model.TenantPath(a.clientsRoot, id)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		a.log.Warn("Tenant directory not found", zap.String("tenant_id", id), zap.String("tenant_path", path))
		return model.Disconnected, &model.TenantError{Op: "connection", TenantID: id, Name: name, Err: model.ErrNotFound}
	} else if err != nil {
		a.log.Error("Failed to stat tenant directory", zap.String("tenant_id", id), zap.Error(err))
		return model.Disconnected, &model.TenantError{Op: "connection", Step: "stat", TenantID: id, Name: name, Err: err}
	}

	state, err := a.probe.Probe(ctx, path)
	if err != nil {
		a.log.Error("Connection probe failed", zap.String("tenant_id", id), zap.Error(err))
		return model.Disconnected, &model.TenantError{Op: "connection", Step: "probe", TenantID: id, Name: name, Err: err}
	}
	return state, nil
}
