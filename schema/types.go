package schema

// Action identifies the kind of editor activity an event describes.
type Action string

const (
	// ActionEdit is a buffer text change.
	ActionEdit Action = "edit"
	// ActionSelection is a selection or cursor range change.
	ActionSelection Action = "selection"
	// ActionFocus is an active pane change onto a text editor.
	ActionFocus Action = "focus"
	// ActionActivate is sent once when the editor integration starts.
	ActionActivate Action = "activate"
	// ActionSkip replaces the real action when the buffer is too large to send.
	ActionSkip Action = "skip"
)

// Endpoint is a daemon HTTP path.
type Endpoint string

const (
	// EndpointEvent receives merged editor activity.
	EndpointEvent Endpoint = "/clientapi/editor/event"
	// EndpointError receives ad-hoc error reports from the editor.
	EndpointError Endpoint = "/clientapi/editor/error"
	// EndpointCompletions answers completion requests.
	EndpointCompletions Endpoint = "/clientapi/editor/completions"
)

// State is the readiness of the local daemon as seen from the editor.
type State string

const (
	// StateUnsupported means the daemon does not run on this OS.
	StateUnsupported State = "unsupported"
	// StateUninstalled means the daemon is not installed.
	StateUninstalled State = "uninstalled"
	// StateInstalled means the daemon is installed but not running.
	StateInstalled State = "installed"
	// StateRunning means the process is up but not answering HTTP.
	StateRunning State = "running"
	// StateReachable means the daemon answers but no user is logged in.
	StateReachable State = "reachable"
	// StateAuthenticated means a user is logged in but the path is not enabled.
	StateAuthenticated State = "authenticated"
	// StateWhitelisted means the daemon is fully ready for the path.
	StateWhitelisted State = "whitelisted"
)

const (
	// DefaultDaemonAddr is where kited listens for editor traffic.
	DefaultDaemonAddr = "127.0.0.1:46624"
	// DefaultSource names the editor in outbound payloads.
	DefaultSource = "atom"
	// MaxContentLength is the largest buffer, in UTF-16 code units, sent to the daemon.
	MaxContentLength = 1 << 20
	// FileTooLargeText replaces buffer contents over MaxContentLength.
	FileTooLargeText = "file_too_large"
	// MaxPayloadSize caps a serialized request body in bytes.
	MaxPayloadSize = 2 << 20
)
