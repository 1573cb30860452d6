package controlplane

const (
	pathRegister     = "/register"
	pathHeartbeat    = "/heartbeat"
	pathCommands     = "/commands"
	pathRequestLease = "/request_ngrok_key"
	pathReleaseLease = "/release_ngrok_key"

	HeaderAPIKey = "X-API-Key"
)

type RegistrationRequest struct {
	DisplayName string `json:"displayName"`
}

type RegistrationResponse struct {
	ClientID string `json:"clientId"`
}

// ProcessStats is a resource usage sample for one process.
type ProcessStats struct {
	CPUPercent float64 `json:"cpuPercent"`
	MemoryMB   float64 `json:"memoryMb"`
}

// Status is the point-in-time snapshot sent with every heartbeat.
type Status struct {
	ServerRunning      bool         `json:"serverRunning"`
	ClientActive       bool         `json:"clientActive"`
	SystemStats        ProcessStats `json:"systemStats"`
	ServerProcessStats ProcessStats `json:"serverProcessStats"`
}

type HeartbeatPayload struct {
	ClientID  string            `json:"clientId"`
	Status    Status            `json:"status"`
	NgrokURLs map[string]string `json:"ngrokUrls"`
}

type HeartbeatResponse struct {
	Status string `json:"status,omitempty"`
}

// Command is a remote instruction. Only Command is interpreted by the
// agent; the rest is handed to the handler as-is.
type Command struct {
	ID      string         `json:"id,omitempty"`
	Command string         `json:"command"`
	Params  map[string]any `json:"params,omitempty"`
}

type CommandsResponse struct {
	Commands []Command `json:"commands"`
}

type RequestLeaseRequest struct {
	ClientID     string `json:"clientId"`
	HasCustomKey bool   `json:"hasCustomKey"`
}

type RequestLeaseResponse struct {
	NgrokKey string `json:"ngrokKey"`
}

type ReleaseLeaseRequest struct {
	ClientID string `json:"clientId"`
	Key      string `json:"key"`
}

// LeaseResult is delivered once on the channel returned by RequestLease.
type LeaseResult struct {
	Key string
	Err error
}
