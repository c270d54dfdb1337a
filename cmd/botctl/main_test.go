package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/castla94/gestor-chatbot/internal/logstream"
	"github.com/castla94/gestor-chatbot/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOps struct {
	calls   []string
	created model.Tenant
	err     error
}

func (f *fakeOps) Create(ctx context.Context, t model.Tenant) error {
	f.calls = append(f.calls, "create")
	f.created = t
	return f.err
}

func (f *fakeOps) Start(ctx context.Context, id, name string) error {
	f.calls = append(f.calls, "start "+id+" "+name)
	return f.err
}

func (f *fakeOps) Stop(ctx context.Context, id, name string) error {
	f.calls = append(f.calls, "stop "+id+" "+name)
	return f.err
}

func (f *fakeOps) Reset(ctx context.Context, id, name string) error {
	f.calls = append(f.calls, "reset "+id+" "+name)
	return f.err
}

func (f *fakeOps) Delete(ctx context.Context, name string) error {
	f.calls = append(f.calls, "delete "+name)
	return f.err
}

func (f *fakeOps) ListStatuses(ctx context.Context) ([]model.TenantStatusView, error) {
	return []model.TenantStatusView{
		{Name: "bot-acme", Status: model.StatusRunning, Port: "5001", Uptime: "N/A", Memory: "50.00 MB", CPU: "0%"},
	}, f.err
}

func (f *fakeOps) ConnectionState(ctx context.Context, id, name string) (model.ConnectionState, error) {
	return model.Connected, f.err
}

func (f *fakeOps) Stream(ctx context.Context, processName string, sink logstream.Sink) (logstream.Outcome, error) {
	_ = sink.WriteChunk([]byte("hello " + processName))
	_ = sink.WriteChunk([]byte(logstream.ClosedTrailer))
	return logstream.ClosedByProcess, sink.Close()
}

func execute(t *testing.T, ops *fakeOps, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd(ops, ops, ops)
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return buf.String(), err
}

func TestCreateCommand(t *testing.T) {
	ops := &fakeOps{}
	out, err := execute(t, ops, "create", "--id", "1", "--name", "acme", "--email", "a@x.com", "--port", "5001")
	require.NoError(t, err)

	assert.Equal(t, model.Tenant{ID: "1", Name: "acme", Email: "a@x.com", Port: "5001"}, ops.created)
	assert.Contains(t, out, "Cliente acme creado e iniciado en el puerto 5001")
}

func TestTenantCommands(t *testing.T) {
	tests := []struct {
		args []string
		call string
		out  string
	}{
		{[]string{"start", "--id", "1", "--name", "acme"}, "start 1 acme", "Cliente acme iniciado en PM2"},
		{[]string{"stop", "--id", "1", "--name", "acme"}, "stop 1 acme", "Cliente acme detenido PM2"},
		{[]string{"reset", "--id", "1", "--name", "acme"}, "reset 1 acme", "Cliente acme reiniciado en PM2"},
		{[]string{"delete", "--name", "acme"}, "delete acme", "Cliente con ID acme eliminado exitosamente."},
	}

	for _, tt := range tests {
		t.Run(tt.args[0], func(t *testing.T) {
			ops := &fakeOps{}
			out, err := execute(t, ops, tt.args...)
			require.NoError(t, err)
			assert.Equal(t, []string{tt.call}, ops.calls)
			assert.Contains(t, out, tt.out)
		})
	}
}

func TestCommandFailure(t *testing.T) {
	ops := &fakeOps{err: model.ErrNotFound}
	_, err := execute(t, ops, "start", "--id", "1", "--name", "acme")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestStatusCommand(t *testing.T) {
	out, err := execute(t, &fakeOps{}, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "bot-acme")
	assert.Contains(t, out, "50.00 MB")
}

func TestConnectionCommand(t *testing.T) {
	out, err := execute(t, &fakeOps{}, "connection", "--id", "1", "--name", "acme")
	require.NoError(t, err)
	assert.Equal(t, "Conectado\n", out)
}

func TestLogsCommand(t *testing.T) {
	out, err := execute(t, &fakeOps{}, "logs", "bot-acme")
	require.NoError(t, err)
	assert.Equal(t, "hello bot-acme"+logstream.ClosedTrailer+"\n", out)

	_, err = execute(t, &fakeOps{}, "logs")
	assert.Error(t, err)
}
