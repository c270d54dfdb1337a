package model

import (
	"path/filepath"
)

const (
	// DirPrefix prefixes every tenant directory under the clients root
	DirPrefix = "cliente_"
	// ProcessPrefix prefixes every supervisor-visible process name
	ProcessPrefix = "bot-"
)

// Tenant is one isolated chat-bot instance
type Tenant struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Port  string `json:"port"`
}

// ProcessName returns bot-<name>
func (t Tenant) ProcessName() string {
	return ProcessName(t.Name)
}

// TenantPath derives the tenant directory from a path segment (an id, or a name for delete)
func TenantPath(root, segment string) string {
	return filepath.Join(root, DirPrefix+segment)
}

// ProcessName derives the supervisor process name from a tenant name
func ProcessName(name string) string {
	return ProcessPrefix + name
}

// ProcessStatus is the lifecycle status reported by the supervisor
type ProcessStatus string

const (
	StatusRunning ProcessStatus = "running"
	StatusStopped ProcessStatus = "stopped"
	StatusErrored ProcessStatus = "errored"
	StatusUnknown ProcessStatus = "unknown"
)

// NotAvailable is rendered for port and uptime when the supervisor has no value
const NotAvailable = "N/A"

// ProcessInfo is one parsed entry of the supervisor process listing
type ProcessInfo struct {
	Name     string
	Status   ProcessStatus
	Port     string
	Uptime   string
	MemoryMB float64
	CPU      float64
}

// TenantStatusView is the external representation of a supervisor entry
type TenantStatusView struct {
	Name   string        `json:"name"`
	Status ProcessStatus `json:"status"`
	Port   string        `json:"port"`
	Uptime string        `json:"uptime"`
	Memory string        `json:"memory"`
	CPU    string        `json:"cpu"`
}

// ConnectionState is the inferred session state of a tenant bot
type ConnectionState string

const (
	Connected    ConnectionState = "Conectado"
	Disconnected ConnectionState = "Desconectado"
)
