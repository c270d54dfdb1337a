// Package lifecycle sequences provisioning, configuration and supervisor
// commands into the five tenant lifecycle operations.
//
// No tenant state is cached. Whether a tenant exists is decided by its
// directory on every call, and whether it runs is the supervisor's answer.
package lifecycle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/castla94/gestor-chatbot/internal/envfile"
	"github.com/castla94/gestor-chatbot/internal/model"
	"github.com/castla94/gestor-chatbot/internal/supervisor"
	"github.com/castla94/gestor-chatbot/prometheus"
	"go.uber.org/zap"
)

// Env keys written into every new tenant configuration
const (
	EnvPort       = "PORT"
	EnvEmailToken = "EMAIL_TOKEN"
)

// Directories provisions tenant directories
type Directories interface {
	Provision(ctx context.Context, tenantID string) (string, error)
	Deprovision(tenantPath string) error
	Exists(tenantPath string) bool
}

// Supervisor is the subset of the process supervisor used by lifecycle operations
type Supervisor interface {
	StartProcess(ctx context.Context, spec supervisor.StartSpec) error
	StopProcess(ctx context.Context, name string) error
	DeleteProcess(ctx context.Context, name string) error
	PersistState(ctx context.Context) error
}

// Layout locates tenant files
type Layout struct {
	ClientsRoot    string
	AppEntrypoint  string
	EnvFileName    string
	SessionDirName string
}

// TenantPath returns the directory for an id (or, for delete, a name)
func (l Layout) TenantPath(segment string) string {
	return model.TenantPath(l.ClientsRoot, segment)
}

// SessionDir returns the session artifact directory inside a tenant directory
func (l Layout) SessionDir(tenantPath string) string {
	return filepath.Join(tenantPath, l.SessionDirName)
}

// Manager runs tenant lifecycle operations
type Manager struct {
	layout  Layout
	dirs    Directories
	sup     Supervisor
	locks   *Locks
	log     *zap.Logger
	metrics *prometheus.Metrics
}

// NewManager creates a lifecycle manager
func NewManager(layout Layout, dirs Directories, sup Supervisor, log *zap.Logger, metrics *prometheus.Metrics) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		layout:  layout,
		dirs:    dirs,
		sup:     sup,
		locks:   NewLocks(),
		log:     log,
		metrics: metrics,
	}
}

// Layout returns the tenant file layout
func (m *Manager) Layout() Layout {
	return m.layout
}

// Exists reports whether the directory for segment is present
func (m *Manager) Exists(segment string) bool {
	return m.dirs.Exists(m.layout.TenantPath(segment))
}

// op carries the context of one lifecycle call
type op struct {
	name   string
	tenant model.Tenant
	log    *zap.Logger
}

func (m *Manager) begin(name string, t model.Tenant) *op {
	return &op{
		name:   name,
		tenant: t,
		log: m.log.With(
			zap.String("operation", name),
			zap.String("tenant_id", t.ID),
			zap.String("name", t.Name)),
	}
}

func (o *op) fail(step string, err error) error {
	o.log.Error("Lifecycle step failed", zap.String("step", step), zap.Error(err))
	return &model.TenantError{Op: o.name, Step: step, TenantID: o.tenant.ID, Name: o.tenant.Name, Err: err}
}

func (o *op) step(step string, fn func() error) error {
	o.log.Info("Running lifecycle step", zap.String("step", step))
	if err := fn(); err != nil {
		return o.fail(step, err)
	}
	return nil
}

func validate(fields map[string]string) error {
	var missing []string
	for _, name := range []string{"id", "name", "email", "port"} {
		if v, ok := fields[name]; ok && v == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %v", model.ErrValidation, missing)
	}
	// id and name become path segments under the clients root
	for _, name := range []string{"id", "name"} {
		if v, ok := fields[name]; ok {
			if err := model.ValidateSegment(name, v); err != nil {
				return err
			}
		}
	}
	return nil
}

// requireDir fails with model.ErrNotFound when the tenant directory is absent
func (m *Manager) requireDir(o *op, path string) error {
	if !m.dirs.Exists(path) {
		o.log.Warn("Tenant directory not found", zap.String("tenant_path", path))
		return &model.TenantError{Op: o.name, TenantID: o.tenant.ID, Name: o.tenant.Name, Err: model.ErrNotFound}
	}
	return nil
}

func (m *Manager) clearSessions(path string) error {
	return os.RemoveAll(m.layout.SessionDir(path))
}

// Create provisions a new tenant and starts its process.
// The tenant must not exist. When a step fails, the steps already done are undone in reverse order.
func (m *Manager) Create(ctx context.Context, t model.Tenant) (err error) {
	ctx = context.WithoutCancel(ctx)
	defer func() { m.metrics.RecordLifecycleOperation("create", err) }()

	if err := validate(map[string]string{"id": t.ID, "name": t.Name, "email": t.Email, "port": t.Port}); err != nil {
		return err
	}

	o := m.begin("create", t)
	path := m.layout.TenantPath(t.ID)
	unlock := m.locks.Lock(path)
	defer unlock()

	var undo undoStack
	defer func() {
		if err != nil {
			undo.run(o.log)
		}
	}()

	if err := o.step("provision", func() error {
		_, err := m.dirs.Provision(ctx, t.ID)
		return err
	}); err != nil {
		return err
	}
	undo.push("remove tenant directory", func() error { return m.dirs.Deprovision(path) })

	if err := o.step("configure", func() error { return m.writeConfig(path, t) }); err != nil {
		return err
	}

	if err := o.step("clear sessions", func() error { return m.clearSessions(path) }); err != nil {
		return err
	}

	processName := t.ProcessName()
	if err := o.step("start process", func() error {
		return m.sup.StartProcess(ctx, supervisor.StartSpec{
			Script: m.layout.AppEntrypoint,
			Name:   processName,
			Dir:    path,
			Env:    map[string]string{EnvPort: t.Port},
		})
	}); err != nil {
		return err
	}
	undo.push("delete supervisor process", func() error { return m.sup.DeleteProcess(ctx, processName) })

	if err := o.step("persist state", func() error { return m.sup.PersistState(ctx) }); err != nil {
		return err
	}

	o.log.Info("Tenant created", zap.String("port", t.Port), zap.String("process", processName))
	return nil
}

func (m *Manager) writeConfig(path string, t model.Tenant) error {
	envPath := filepath.Join(path, m.layout.EnvFileName)
	content, err := envfile.ReadOrEmpty(envPath)
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrConfigWrite, err)
	}
	content = envfile.UpsertAll(content,
		envfile.KV{Key: EnvPort, Value: t.Port},
		envfile.KV{Key: EnvEmailToken, Value: t.Email})
	if err := envfile.Write(envPath, content); err != nil {
		return fmt.Errorf("%w: %v", model.ErrConfigWrite, err)
	}
	return nil
}

// Start launches the process of an existing tenant
func (m *Manager) Start(ctx context.Context, id, name string) (err error) {
	ctx = context.WithoutCancel(ctx)
	defer func() { m.metrics.RecordLifecycleOperation("start", err) }()

	if err := validate(map[string]string{"id": id, "name": name}); err != nil {
		return err
	}

	t := model.Tenant{ID: id, Name: name}
	o := m.begin("start", t)
	path := m.layout.TenantPath(id)
	unlock := m.locks.Lock(path)
	defer unlock()

	if err := m.requireDir(o, path); err != nil {
		return err
	}
	if err := o.step("start process", func() error {
		return m.sup.StartProcess(ctx, supervisor.StartSpec{
			Script: m.layout.AppEntrypoint,
			Name:   t.ProcessName(),
			Dir:    path,
		})
	}); err != nil {
		return err
	}
	if err := o.step("persist state", func() error { return m.sup.PersistState(ctx) }); err != nil {
		return err
	}

	o.log.Info("Tenant started")
	return nil
}

// Stop stops the process of an existing tenant and discards its session artifacts
func (m *Manager) Stop(ctx context.Context, id, name string) (err error) {
	ctx = context.WithoutCancel(ctx)
	defer func() { m.metrics.RecordLifecycleOperation("stop", err) }()

	if err := validate(map[string]string{"id": id, "name": name}); err != nil {
		return err
	}

	t := model.Tenant{ID: id, Name: name}
	o := m.begin("stop", t)
	path := m.layout.TenantPath(id)
	unlock := m.locks.Lock(path)
	defer unlock()

	if err := m.requireDir(o, path); err != nil {
		return err
	}
	if err := o.step("stop process", func() error { return m.sup.StopProcess(ctx, t.ProcessName()) }); err != nil {
		return err
	}
	if err := o.step("persist state", func() error { return m.sup.PersistState(ctx) }); err != nil {
		return err
	}
	if err := o.step("clear sessions", func() error { return m.clearSessions(path) }); err != nil {
		return err
	}

	o.log.Info("Tenant stopped")
	return nil
}

// Reset stops the process, discards its session artifacts and starts it again
func (m *Manager) Reset(ctx context.Context, id, name string) (err error) {
	ctx = context.WithoutCancel(ctx)
	defer func() { m.metrics.RecordLifecycleOperation("reset", err) }()

	if err := validate(map[string]string{"id": id, "name": name}); err != nil {
		return err
	}

	t := model.Tenant{ID: id, Name: name}
	o := m.begin("reset", t)
	path := m.layout.TenantPath(id)
	unlock := m.locks.Lock(path)
	defer unlock()

	if err := m.requireDir(o, path); err != nil {
		return err
	}
	if err := o.step("stop process", func() error { return m.sup.StopProcess(ctx, t.ProcessName()) }); err != nil {
		return err
	}
	if err := o.step("clear sessions", func() error { return m.clearSessions(path) }); err != nil {
		return err
	}
	if err := o.step("start process", func() error {
		return m.sup.StartProcess(ctx, supervisor.StartSpec{
			Script: m.layout.AppEntrypoint,
			Name:   t.ProcessName(),
			Dir:    path,
		})
	}); err != nil {
		return err
	}
	if err := o.step("persist state", func() error { return m.sup.PersistState(ctx) }); err != nil {
		return err
	}

	o.log.Info("Tenant reset")
	return nil
}

// Delete removes the supervisor entry and then the directory of a tenant.
// The directory is looked up by name, not by id.
func (m *Manager) Delete(ctx context.Context, name string) (err error) {
	ctx = context.WithoutCancel(ctx)
	defer func() { m.metrics.RecordLifecycleOperation("delete", err) }()

	if err := validate(map[string]string{"name": name}); err != nil {
		return err
	}

	t := model.Tenant{Name: name}
	o := m.begin("delete", t)
	path := m.layout.TenantPath(name)
	unlock := m.locks.Lock(path)
	defer unlock()

	if err := m.requireDir(o, path); err != nil {
		return err
	}
	if err := o.step("delete process", func() error { return m.sup.DeleteProcess(ctx, t.ProcessName()) }); err != nil {
		return err
	}
	if err := o.step("persist state", func() error { return m.sup.PersistState(ctx) }); err != nil {
		return err
	}
	if err := o.step("remove directory", func() error { return m.dirs.Deprovision(path) }); err != nil {
		return err
	}

	o.log.Info("Tenant deleted")
	return nil
}
