package app

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	clierr "github.com/ggonzalez94/semi-cli/internal/errors"
	"github.com/ggonzalez94/semi-cli/internal/model"
	"github.com/ggonzalez94/semi-cli/internal/out"
	"github.com/ggonzalez94/semi-cli/internal/version"
)

// diagnostics survive a failed command so its error envelope still carries
// the warnings and provider statuses gathered before the failure.
type diagnostics struct {
	warnings  []string
	providers []model.ProviderStatus
	partial   bool
}

func (s *runtimeState) record(warnings []string, providers []model.ProviderStatus, partial bool) {
	s.last = diagnostics{
		warnings:  append([]string(nil), warnings...),
		providers: append([]model.ProviderStatus(nil), providers...),
		partial:   partial,
	}
}

// emit writes a complete, uncached result for cmd.
func (s *runtimeState) emit(cmd *cobra.Command, data any, warnings ...string) error {
	return s.emitSuccess(trimRootPath(cmd.CommandPath()), data, warnings, bypassed(), nil, false)
}

// emitPartial finishes an uncached command whose result may be incomplete.
func (s *runtimeState) emitPartial(path string, data any, warnings []string, providers []model.ProviderStatus) error {
	partial := len(warnings) > 0
	s.record(warnings, providers, partial)
	if partial && s.settings.Strict {
		return clierr.New(clierr.CodePartialStrict, "partial results returned in strict mode")
	}
	return s.emitSuccess(path, data, warnings, bypassed(), providers, partial)
}

func (s *runtimeState) emitSuccess(path string, data any, warnings []string, cacheStatus model.CacheStatus, providers []model.ProviderStatus, partial bool) error {
	return out.Render(s.runner.stdout, model.Envelope{
		Version:  model.EnvelopeVersion,
		Success:  true,
		Data:     data,
		Warnings: warnings,
		Meta:     s.meta(path, cacheStatus, providers, partial),
	}, s.settings)
}

// renderError always writes a full JSON envelope to stderr, whatever the output flags.
func (s *runtimeState) renderError(path string, err error, d diagnostics) {
	if path == "" {
		path = version.CLIName
	}
	message := err.Error()
	if cErr, ok := clierr.As(err); ok {
		message = cErr.Message
		if cErr.Cause != nil {
			message = fmt.Sprintf("%s: %v", cErr.Message, cErr.Cause)
		}
	}

	settings := s.settings
	settings.ResultsOnly = false
	settings.SelectFields = nil
	if settings.OutputMode == "" {
		settings.OutputMode = "json"
	}
	_ = out.Render(s.runner.stderr, model.Envelope{
		Version: model.EnvelopeVersion,
		Success: false,
		Data:    []any{},
		Error: &model.ErrorBody{
			Code:    clierr.ExitCode(err),
			Type:    clierr.TypeName(err),
			Message: message,
		},
		Warnings: d.warnings,
		Meta:     s.meta(path, bypassed(), d.providers, d.partial),
	}, settings)
}

func (s *runtimeState) meta(path string, cacheStatus model.CacheStatus, providers []model.ProviderStatus, partial bool) model.EnvelopeMeta {
	return model.EnvelopeMeta{
		RequestID: newRequestID(),
		Timestamp: s.runner.now().UTC(),
		Command:   path,
		Providers: providers,
		Cache:     cacheStatus,
		Partial:   partial,
	}
}

func providerStatus(name string, start time.Time, err error) []model.ProviderStatus {
	status := "ok"
	if err != nil {
		status = "error"
		if cErr, ok := clierr.As(err); ok {
			switch cErr.Code {
			case clierr.CodeAuth:
				status = "auth_error"
			case clierr.CodeRateLimited:
				status = "rate_limited"
			case clierr.CodeUnavailable:
				status = "unavailable"
			}
		}
	}
	return []model.ProviderStatus{{Name: name, Status: status, LatencyMS: time.Since(start).Milliseconds()}}
}

func bypassed() model.CacheStatus { return model.CacheStatus{Status: "bypass"} }

func newRequestID() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}
