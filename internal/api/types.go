package api

import (
	"github.com/galeshell/gale/internal/builtin"
	"github.com/galeshell/gale/internal/job"
	"github.com/galeshell/gale/internal/modload"
)

// ErrorResponse is the standard error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	SessionID     string `json:"session_id"`
	Jobs          int    `json:"jobs"`
}

// StatusResponse is returned by GET /v1/status.
type StatusResponse struct {
	SessionID     string `json:"session_id"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Jobs          int    `json:"jobs"`
	Builtins      int    `json:"builtins"`
	Modules       int    `json:"modules"`
}

// JobsResponse is returned by GET /v1/jobs.
type JobsResponse struct {
	Jobs []job.Info `json:"jobs"`
}

// JobOutputResponse is returned by GET /v1/jobs/{id}/output.
type JobOutputResponse struct {
	ID     job.ID `json:"id"`
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
}

// BuiltinsResponse is returned by GET /v1/builtins.
type BuiltinsResponse struct {
	Builtins []builtin.EntryInfo `json:"builtins"`
}

// ModulesResponse is returned by GET /v1/modules.
type ModulesResponse struct {
	Modules []modload.ModuleInfo `json:"modules"`
}
