package office

import (
	"fmt"
	"log/slog"
)

// BackendConfig carries the backend-selection inputs.
type BackendConfig struct {
	// HeadingStylePattern overrides the package backend's heading style
	// regexp; empty uses the default.
	HeadingStylePattern string
	// BridgeURL of the native-automation bridge. Empty disables it.
	BridgeURL string
	// RetryAttempts bounds automation busy-retries.
	RetryAttempts int
}

// SelectBackend picks the backend for a document format, probing platform
// capability once: an answering automation bridge wins for Word formats
// because its anchors are exact and pagination-accurate; otherwise the
// library-only package backend is used. Legacy .doc requires the bridge.
func SelectBackend(format string, cfg BackendConfig) (Backend, error) {
	switch format {
	case "pdf":
		return NewPDFBackend(), nil

	case "docx":
		if ProbeAutomation(cfg.BridgeURL) {
			slog.Info("office: automation bridge available", "url", cfg.BridgeURL)
			return NewAutomationBackend(cfg.BridgeURL, cfg.RetryAttempts), nil
		}
		return NewPackageBackend(cfg.HeadingStylePattern)

	case "doc":
		if ProbeAutomation(cfg.BridgeURL) {
			return NewAutomationBackend(cfg.BridgeURL, cfg.RetryAttempts), nil
		}
		return nil, fmt.Errorf("legacy .doc requires the automation bridge; none configured or reachable")

	default:
		return nil, fmt.Errorf("no backend for format %q", format)
	}
}
