// Package supervisor drives the external pm2 process supervisor.
//
// Every operation maps to exactly one pm2 invocation. Nothing is retried:
// a non-zero exit or unparsable output is returned as a *CommandError and
// the caller decides what to do with it.
package supervisor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/castla94/gestor-chatbot/internal/model"
	"github.com/castla94/gestor-chatbot/prometheus"
	"go.uber.org/zap"
)

// UptimeLayout renders start timestamps the way en-US toLocaleString does
const UptimeLayout = "1/2/2006, 3:04:05 PM"

// StartSpec describes a process to launch
type StartSpec struct {
	Script string
	Name   string
	Dir    string
	Env    map[string]string
}

// PM2 is the supervisor command adapter
type PM2 struct {
	Bin     string
	Runner  Runner
	Log     *zap.Logger
	Metrics *prometheus.Metrics
	// Location is used to render start timestamps; nil means time.Local
	Location *time.Location
}

// NewPM2 creates an adapter invoking bin through runner
func NewPM2(bin string, runner Runner, log *zap.Logger, metrics *prometheus.Metrics) *PM2 {
	if bin == "" {
		bin = "pm2"
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &PM2{Bin: bin, Runner: runner, Log: log, Metrics: metrics}
}

func (p *PM2) run(ctx context.Context, command string, inv Invocation) ([]byte, error) {
	inv.Name = p.Bin
	done := p.Metrics.TrackSupervisorCommand(command)

	p.Log.Debug("Running supervisor command",
		zap.String("command", command),
		zap.Strings("args", inv.Args),
		zap.String("dir", inv.Dir))

	stdout, stderr, err := p.Runner.Run(ctx, inv)
	if err != nil {
		err = &CommandError{
			Command: p.Bin + " " + command,
			Args:    inv.Args[1:],
			Stderr:  strings.TrimSpace(string(stderr)),
			Err:     err,
		}
	}
	done(err)
	return stdout, err
}

// StartProcess runs `pm2 start <script> --name <name>` inside spec.Dir
func (p *PM2) StartProcess(ctx context.Context, spec StartSpec) error {
	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)
	_, err := p.run(ctx, "start", Invocation{
		Dir:  spec.Dir,
		Env:  env,
		Args: []string{"start", spec.Script, "--name", spec.Name},
	})
	return err
}

// StopProcess runs `pm2 stop <name>`
func (p *PM2) StopProcess(ctx context.Context, name string) error {
	_, err := p.run(ctx, "stop", Invocation{Args: []string{"stop", name}})
	return err
}

// RestartProcess runs `pm2 restart <name>`
func (p *PM2) RestartProcess(ctx context.Context, name string) error {
	_, err := p.run(ctx, "restart", Invocation{Args: []string{"restart", name}})
	return err
}

// DeleteProcess runs `pm2 delete <name>`
func (p *PM2) DeleteProcess(ctx context.Context, name string) error {
	_, err := p.run(ctx, "delete", Invocation{Args: []string{"delete", name}})
	return err
}

// PersistState runs `pm2 save --force` so the process table survives restarts
func (p *PM2) PersistState(ctx context.Context) error {
	_, err := p.run(ctx, "save", Invocation{Args: []string{"save", "--force"}})
	return err
}

// ListProcesses runs `pm2 jlist` and parses the listing
func (p *PM2) ListProcesses(ctx context.Context) ([]model.ProcessInfo, error) {
	stdout, err := p.run(ctx, "jlist", Invocation{Args: []string{"jlist"}})
	if err != nil {
		return nil, err
	}

	procs, err := ParseList(stdout, p.Location)
	if err != nil {
		return nil, &CommandError{Command: p.Bin + " jlist", Err: err}
	}
	return procs, nil
}

// StreamLogs starts `pm2 logs <name>`; the caller owns the returned stream
func (p *PM2) StreamLogs(ctx context.Context, name string) (Stream, error) {
	args := []string{"logs", name}
	done := p.Metrics.TrackSupervisorCommand("logs")
	stream, err := p.Runner.Start(ctx, Invocation{Name: p.Bin, Args: args})
	if err != nil {
		err = &CommandError{Command: p.Bin + " logs", Args: []string{name}, Err: err}
	}
	done(err)
	return stream, err
}

type jlistEntry struct {
	Name  string `json:"name"`
	Monit struct {
		Memory float64 `json:"memory"`
		CPU    float64 `json:"cpu"`
	} `json:"monit"`
	Env struct {
		Status   string         `json:"status"`
		PmUptime float64        `json:"pm_uptime"`
		Env      map[string]any `json:"env"`
	} `json:"pm2_env"`
}

// ParseList parses `pm2 jlist` output. Banner lines printed before the JSON
// array (for example when the daemon is spawned) are skipped.
func ParseList(out []byte, loc *time.Location) ([]model.ProcessInfo, error) {
	list := findJSONArray(out)
	if list == nil {
		return nil, errors.New("no process list in output")
	}

	var entries []jlistEntry
	// Decode reads only the first value, so trailing warnings are ignored
	if err := json.NewDecoder(bytes.NewReader(list)).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode process list: %w", err)
	}
	if loc == nil {
		loc = time.Local
	}

	procs := make([]model.ProcessInfo, 0, len(entries))
	for _, e := range entries {
		info := model.ProcessInfo{
			Name:     e.Name,
			Status:   mapStatus(e.Env.Status),
			Port:     model.NotAvailable,
			Uptime:   model.NotAvailable,
			MemoryMB: e.Monit.Memory / 1024 / 1024,
			CPU:      e.Monit.CPU,
		}
		if port, ok := e.Env.Env["PORT"]; ok && port != nil && fmt.Sprint(port) != "" {
			info.Port = fmt.Sprint(port)
		}
		if e.Env.PmUptime > 0 {
			info.Uptime = time.UnixMilli(int64(e.Env.PmUptime)).In(loc).Format(UptimeLayout)
		}
		procs = append(procs, info)
	}
	return procs, nil
}

// findJSONArray returns the output from the first line that opens a JSON
// array. pm2 banners such as "[PM2] Spawning PM2 daemon" also start with '['.
func findJSONArray(out []byte) []byte {
	offset := 0
	for _, line := range bytes.SplitAfter(out, []byte("\n")) {
		trimmed := bytes.TrimSpace(line)
		if bytes.HasPrefix(trimmed, []byte("[{")) || bytes.HasPrefix(trimmed, []byte("[]")) || bytes.Equal(trimmed, []byte("[")) {
			return out[offset:]
		}
		offset += len(line)
	}
	return nil
}

func mapStatus(s string) model.ProcessStatus {
	switch s {
	case "online":
		return model.StatusRunning
	case "stopped", "stopping":
		return model.StatusStopped
	case "errored":
		return model.StatusErrored
	default:
		return model.StatusUnknown
	}
}
