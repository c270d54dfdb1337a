// Package app wires the tenant control components from a configuration.
package app

import (
	"github.com/castla94/gestor-chatbot/internal/lifecycle"
	"github.com/castla94/gestor-chatbot/internal/logstream"
	"github.com/castla94/gestor-chatbot/internal/provision"
	"github.com/castla94/gestor-chatbot/internal/status"
	"github.com/castla94/gestor-chatbot/internal/supervisor"
	"github.com/castla94/gestor-chatbot/pkg/config"
	"github.com/castla94/gestor-chatbot/prometheus"
	"go.uber.org/zap"
)

// App holds the components shared by the HTTP server and the operator CLI
type App struct {
	Supervisor  *supervisor.PM2
	Provisioner *provision.Provisioner
	Manager     *lifecycle.Manager
	Status      *status.Aggregator
	Logs        *logstream.Relay
}

// New builds every component on top of the real pm2 binary. metrics may be nil.
func New(cfg *config.Config, log *zap.Logger, metrics *prometheus.Metrics) *App {
	pm2 := supervisor.NewPM2(cfg.Supervisor.Bin, supervisor.ExecRunner{}, log.Named("supervisor"), metrics)
	dirs := provision.NewProvisioner(
		cfg.Tenants.TemplatePath,
		cfg.Tenants.ClientsRoot,
		provision.NewCloner(cfg.Tenants.CloneMethod),
		log.Named("provision"),
	)
	layout := lifecycle.Layout{
		ClientsRoot:    cfg.Tenants.ClientsRoot,
		AppEntrypoint:  cfg.Tenants.AppEntrypoint,
		EnvFileName:    cfg.Tenants.EnvFileName,
		SessionDirName: cfg.Tenants.SessionDirName,
	}

	return &App{
		Supervisor:  pm2,
		Provisioner: dirs,
		Manager:     lifecycle.NewManager(layout, dirs, pm2, log.Named("lifecycle"), metrics),
		Status: status.NewAggregator(
			pm2,
			status.SessionDirProbe{DirName: cfg.Tenants.SessionDirName},
			cfg.Tenants.ClientsRoot,
			log.Named("status"),
		),
		Logs: logstream.NewRelay(pm2, cfg.Logs.Timeout, log.Named("logstream"), metrics),
	}
}
