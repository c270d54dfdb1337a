package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/castla94/gestor-chatbot/internal/lifecycle"
	"github.com/castla94/gestor-chatbot/internal/logstream"
	"github.com/castla94/gestor-chatbot/internal/model"
	"github.com/castla94/gestor-chatbot/internal/provision"
	"github.com/castla94/gestor-chatbot/internal/status"
	"github.com/castla94/gestor-chatbot/internal/supervisor"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memorySupervisor is an in-memory process table standing in for pm2
type memorySupervisor struct {
	mu      sync.Mutex
	procs   map[string]model.ProcessInfo
	failOn  map[string]error
	listErr error
	logs    map[string]string
}

func newMemorySupervisor() *memorySupervisor {
	return &memorySupervisor{
		procs:  make(map[string]model.ProcessInfo),
		failOn: make(map[string]error),
		logs:   make(map[string]string),
	}
}

func (s *memorySupervisor) StartProcess(ctx context.Context, spec supervisor.StartSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failOn["start"]; err != nil {
		return err
	}
	p, ok := s.procs[spec.Name]
	if !ok {
		p = model.ProcessInfo{Name: spec.Name, Port: model.NotAvailable, Uptime: "10/9/2025, 8:53:20 AM"}
	}
	if port, ok := spec.Env[lifecycle.EnvPort]; ok {
		p.Port = port
	}
	p.Status = model.StatusRunning
	p.MemoryMB = 50
	s.procs[spec.Name] = p
	return nil
}

func (s *memorySupervisor) StopProcess(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.procs[name]
	if !ok {
		return &supervisor.CommandError{Command: "pm2 stop", Args: []string{name}, Err: errors.New("process not found")}
	}
	p.Status = model.StatusStopped
	p.MemoryMB = 0
	s.procs[name] = p
	return nil
}

func (s *memorySupervisor) DeleteProcess(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.procs, name)
	return nil
}

func (s *memorySupervisor) PersistState(ctx context.Context) error {
	return nil
}

func (s *memorySupervisor) ListProcesses(ctx context.Context) ([]model.ProcessInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := make([]model.ProcessInfo, 0, len(s.procs))
	for _, p := range s.procs {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// StreamLogs replays the canned output of name and exits
func (s *memorySupervisor) StreamLogs(ctx context.Context, name string) (supervisor.Stream, error) {
	s.mu.Lock()
	out, ok := s.logs[name]
	s.mu.Unlock()
	if !ok {
		return nil, &supervisor.CommandError{Command: "pm2 logs", Args: []string{name}, Err: errors.New("exec: not started")}
	}
	return &cannedStream{stdout: strings.NewReader(out), stderr: strings.NewReader("")}, nil
}

type cannedStream struct {
	stdout, stderr io.Reader
}

func (s *cannedStream) Stdout() io.Reader { return s.stdout }
func (s *cannedStream) Stderr() io.Reader { return s.stderr }
func (s *cannedStream) Wait() error       { return nil }
func (s *cannedStream) Kill() error       { return nil }

type server struct {
	e    *echo.Echo
	sup  *memorySupervisor
	root string
}

func newServer(t *testing.T) *server {
	t.Helper()
	base := t.TempDir()
	tmpl := filepath.Join(base, "template")
	require.NoError(t, os.MkdirAll(filepath.Join(tmpl, "bot_sessions"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(tmpl, "app.js"), []byte("//bot"), 0644))
	root := filepath.Join(base, "clientes")

	sup := newMemorySupervisor()
	layout := lifecycle.Layout{ClientsRoot: root, AppEntrypoint: "app.js", EnvFileName: ".env", SessionDirName: "bot_sessions"}
	manager := lifecycle.NewManager(layout, provision.NewProvisioner(tmpl, root, provision.CopyCloner{}, nil), sup, nil, nil)
	agg := status.NewAggregator(sup, status.SessionDirProbe{DirName: "bot_sessions"}, root, nil)
	relay := logstream.NewRelay(sup, time.Second, nil, nil)

	e := echo.New()
	e.GET("/health", HealthCheck)
	NewTenantHandler(manager, agg, relay).Register(e)
	return &server{e: e, sup: sup, root: root}
}

func (s *server) do(t *testing.T, method, path, body string) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)

	var out map[string]interface{}
	if strings.HasPrefix(rec.Header().Get(echo.HeaderContentType), echo.MIMEApplicationJSON) && rec.Body.Len() > 0 && rec.Body.Bytes()[0] == '{' {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec.Code, out
}

func (s *server) statuses(t *testing.T) []model.TenantStatusView {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/clientes/status", nil)
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var views []model.TenantStatusView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	return views
}

func TestEndToEnd_CreateStopDelete(t *testing.T) {
	s := newServer(t)

	code, body := s.do(t, http.MethodPost, "/clientes/create", `{"id":"1","name":"acme","email":"a@x.com","port":"5001"}`)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "Cliente acme creado e iniciado en el puerto 5001", body["message"])

	views := s.statuses(t)
	require.Len(t, views, 1)
	assert.Equal(t, "bot-acme", views[0].Name)
	assert.Equal(t, model.StatusRunning, views[0].Status)
	assert.Equal(t, "5001", views[0].Port)
	assert.Equal(t, "50.00 MB", views[0].Memory)

	code, body = s.do(t, http.MethodPost, "/clientes/stop", `{"id":"1","name":"acme"}`)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "Cliente acme detenido PM2", body["message"])
	assert.Equal(t, model.StatusStopped, s.statuses(t)[0].Status)

	code, body = s.do(t, http.MethodPost, "/clientes/delete", `{"name":"acme"}`)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "Cliente con ID acme eliminado exitosamente.", body["message"])
	assert.Empty(t, s.statuses(t))

	code, body = s.do(t, http.MethodPost, "/clientes/start", `{"id":"1","name":"acme"}`)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "Cliente acme no encontrado.", body["error"])
}

func TestCreate_NumericFields(t *testing.T) {
	s := newServer(t)

	code, body := s.do(t, http.MethodPost, "/clientes/create", `{"id":7,"name":"acme","email":"a@x.com","port":5001}`)
	require.Equal(t, http.StatusOK, code, body)

	_, err := os.Stat(filepath.Join(s.root, "cliente_7"))
	assert.NoError(t, err)
	assert.Equal(t, "5001", s.statuses(t)[0].Port)
}

func TestCreate_MissingFields(t *testing.T) {
	s := newServer(t)

	code, body := s.do(t, http.MethodPost, "/clientes/create", `{"id":"1","name":"acme"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Faltan parámetros (id, name, email, port)", body["error"])

	_, err := os.Stat(s.root)
	assert.True(t, os.IsNotExist(err), "validation never touches the filesystem")
}

func TestCreate_MalformedBody(t *testing.T) {
	s := newServer(t)

	code, body := s.do(t, http.MethodPost, "/clientes/create", `{"id":true`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Faltan parámetros (id, name, email, port)", body["error"])
}

func TestCreate_DuplicateIsServerError(t *testing.T) {
	s := newServer(t)
	payload := `{"id":"1","name":"acme","email":"a@x.com","port":"5001"}`

	code, _ := s.do(t, http.MethodPost, "/clientes/create", payload)
	require.Equal(t, http.StatusOK, code)

	code, body := s.do(t, http.MethodPost, "/clientes/create", payload)
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Contains(t, body["error"], "already exists")
}

func TestCreate_SupervisorFailure(t *testing.T) {
	s := newServer(t)
	s.sup.failOn["start"] = &supervisor.CommandError{Command: "pm2 start", Err: errors.New("exit status 1")}

	code, body := s.do(t, http.MethodPost, "/clientes/create", `{"id":"1","name":"acme","email":"a@x.com","port":"5001"}`)
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Contains(t, body["error"], "supervisor command failed")
}

func TestTenantRoutes_Validation(t *testing.T) {
	s := newServer(t)

	tests := []struct {
		path string
		body string
		want string
	}{
		{"/clientes/start", `{"name":"acme"}`, "Faltan parámetros (id, name)"},
		{"/clientes/stop", `{"id":"1"}`, "Faltan parámetros (id, name)"},
		{"/clientes/reset", ``, "Faltan parámetros (id, name)"},
		{"/clientes/bot-conextion", `{"id":"1"}`, "Faltan parámetros (id, name)"},
		{"/clientes/delete", `{}`, "Faltan parámetros (name)"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			code, body := s.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, code)
			assert.Equal(t, tt.want, body["error"])
		})
	}
}

func TestTenantRoutes_RejectUnsafeSegments(t *testing.T) {
	s := newServer(t)
	outside := filepath.Join(filepath.Dir(s.root), "escaped")

	tests := []struct {
		path string
		body string
		want string
	}{
		{"/clientes/create", `{"id":"x/../../escaped","name":"acme","email":"a@x.com","port":"5001"}`, msgInvalidTenant},
		{"/clientes/create", `{"id":"1","name":"../acme","email":"a@x.com","port":"5001"}`, msgInvalidTenant},
		{"/clientes/start", `{"id":"../escaped","name":"acme"}`, msgInvalidTenant},
		{"/clientes/stop", `{"id":"1","name":"a/b"}`, msgInvalidTenant},
		{"/clientes/reset", `{"id":"..","name":"acme"}`, msgInvalidTenant},
		{"/clientes/bot-conextion", `{"id":"../escaped","name":"acme"}`, msgInvalidTenant},
		{"/clientes/delete", `{"name":"../../escaped"}`, msgInvalidName},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			code, body := s.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, code)
			assert.Equal(t, tt.want, body["error"])
		})
	}

	_, err := os.Stat(outside)
	assert.True(t, os.IsNotExist(err), "nothing is created outside the clients root")
	_, err = os.Stat(s.root)
	assert.True(t, os.IsNotExist(err))
}

func TestTenantRoutes_NotFound(t *testing.T) {
	s := newServer(t)

	tests := []struct {
		path string
		body string
		want string
	}{
		{"/clientes/start", `{"id":"9","name":"ghost"}`, "Cliente ghost no encontrado."},
		{"/clientes/stop", `{"id":"9","name":"ghost"}`, "Cliente ghost no encontrado."},
		{"/clientes/reset", `{"id":"9","name":"ghost"}`, "Cliente ghost no encontrado."},
		{"/clientes/bot-conextion", `{"id":"9","name":"ghost"}`, "Cliente ghost no encontrado."},
		{"/clientes/delete", `{"name":"ghost"}`, "Cliente con ID ghost no encontrado."},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			code, body := s.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, http.StatusNotFound, code)
			assert.Equal(t, tt.want, body["error"])
		})
	}
}

func TestReset_RestartsTenant(t *testing.T) {
	s := newServer(t)
	code, _ := s.do(t, http.MethodPost, "/clientes/create", `{"id":"1","name":"acme","email":"a@x.com","port":"5001"}`)
	require.Equal(t, http.StatusOK, code)

	code, body := s.do(t, http.MethodPost, "/clientes/reset", `{"id":"1","name":"acme"}`)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "Cliente acme reiniciado en PM2", body["message"])
	assert.Equal(t, model.StatusRunning, s.statuses(t)[0].Status)
}

func TestConnection_SessionStatus(t *testing.T) {
	s := newServer(t)
	code, _ := s.do(t, http.MethodPost, "/clientes/create", `{"id":"1","name":"acme","email":"a@x.com","port":"5001"}`)
	require.Equal(t, http.StatusOK, code)

	code, body := s.do(t, http.MethodPost, "/clientes/bot-conextion", `{"id":"1","name":"acme"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Desconectado", body["sessionStatus"])
	assert.Equal(t, "Estado de sesión del cliente acme", body["message"])

	sessions := filepath.Join(s.root, "cliente_1", "bot_sessions")
	require.NoError(t, os.MkdirAll(sessions, 0755))
	for _, f := range []string{"creds.json", "app-state.json"} {
		require.NoError(t, os.WriteFile(filepath.Join(sessions, f), []byte("{}"), 0644))
	}

	_, body = s.do(t, http.MethodPost, "/clientes/bot-conextion", `{"id":"1","name":"acme"}`)
	assert.Equal(t, "Conectado", body["sessionStatus"])
}

func TestListStatus_Failure(t *testing.T) {
	s := newServer(t)
	s.sup.listErr = errors.New("pm2: command not found")

	code, body := s.do(t, http.MethodGet, "/clientes/status", "")
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "Error fetching PM2 status", body["error"])
}

func TestHealthCheck(t *testing.T) {
	s := newServer(t)
	code, body := s.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
}

func TestFlexString(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`"5001"`, "5001"},
		{`5001`, "5001"},
		{`null`, ""},
	}
	for _, tt := range tests {
		var s flexString
		require.NoError(t, json.Unmarshal([]byte(tt.in), &s))
		assert.Equal(t, tt.want, string(s))
	}

	var s flexString
	assert.Error(t, json.Unmarshal([]byte(`true`), &s))
}
