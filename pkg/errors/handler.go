package errors

import (
	"lesyd-bridge/pkg/logger"
)

// Observer receives a terse notification whenever the handler dispatches
// an error, keyed by diagnostic code. Metrics wiring implements this to
// keep per-category counters without the errors package importing metrics.
type Observer interface {
	ObserveError(code int, severity ErrorSeverity)
}

// Handler provides centralized, type-switched error handling for the five
// taxonomy categories in use across the bridge (ConfigError, TransportError,
// ProtocolError, CommandParseError, DeviceLivenessError). None of these
// propagate to terminate the bridge except ConfigError during startup.
type Handler struct {
	observer Observer
}

func NewHandler(observer Observer) *Handler {
	return &Handler{observer: observer}
}

// Handle logs err at the severity carried by its type and notifies the
// observer. It never returns a value: callers that need to act on fatal
// configuration errors check the type themselves (see IsFatal).
func (h *Handler) Handle(err error) {
	if err == nil {
		return
	}

	switch e := err.(type) {
	case *ConfigError:
		logger.LogError("🔴 config: %s", e.Error())
		h.notify(e.Code, e.Severity)
	case *TransportError:
		logger.LogWarn("⚠️ transport: %s", e.Error())
		h.notify(e.Code, e.Severity)
	case *ProtocolError:
		logger.LogError("❌ protocol: %s", e.Error())
		h.notify(e.Code, e.Severity)
	case *CommandParseError:
		logger.LogDebug("command dropped: %s", e.Error())
		h.notify(e.Code, e.Severity)
	case *DeviceLivenessError:
		logger.LogInfo("ℹ️ %s", e.Error())
		h.notify(e.Code, e.Severity)
	case *BridgeError:
		h.handleBridgeError(e)
	default:
		logger.LogError("❌ unclassified error: %v", err)
	}
}

func (h *Handler) handleBridgeError(e *BridgeError) {
	switch e.Severity {
	case SeverityCritical:
		logger.LogError("🔴 %s", e.Error())
	case SeverityError:
		logger.LogError("❌ %s", e.Error())
	case SeverityWarning:
		logger.LogWarn("⚠️ %s", e.Error())
	default:
		logger.LogInfo("ℹ️ %s", e.Error())
	}
	h.notify(e.Code, e.Severity)
}

func (h *Handler) notify(code int, severity ErrorSeverity) {
	if h.observer != nil {
		h.observer.ObserveError(code, severity)
	}
}

// IsFatal reports whether err should abort the process. Only ConfigError,
// which spec categorizes as unresolvable configuration, is fatal.
func IsFatal(err error) bool {
	_, ok := err.(*ConfigError)
	return ok
}
