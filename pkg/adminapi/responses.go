package adminapi

// BuildResponse is the success body of POST /api/v1/builds.
type BuildResponse struct {
	BuildID     string `json:"build_id"`
	VersionID   string `json:"version_id"`
	JobID       string `json:"job_id,omitempty"`
	Status      string `json:"status"`
	ProjectPath string `json:"project_path"`
}

// MessageResponse is the success body of POST /api/v1/projects/:projectId/messages.
type MessageResponse struct {
	MessageID string `json:"message_id"`
	Seq       int64  `json:"seq"`
	BuildID   string `json:"build_id,omitempty"`
	Status    string `json:"status"`
}

// RateLimitResponse mirrors models.RateLimitState for admin pause/resume/health.
type RateLimitResponse struct {
	Active bool   `json:"active"`
	ResetAt string `json:"reset_at,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// HealthResponse is the body of GET /health and GET /admin/health.
type HealthResponse struct {
	Status    string                `json:"status"` // healthy | degraded | error
	RateLimit RateLimitResponse     `json:"rate_limit"`
	Queues    map[string]QueueHealth `json:"queues"`
}

// QueueHealth summarizes one named queue's pool for the health response.
type QueueHealth struct {
	Healthy       bool `json:"healthy"`
	ActiveWorkers int  `json:"active_workers"`
	TotalWorkers  int  `json:"total_workers"`
	ActiveJobs    int  `json:"active_jobs"`
	QueueDepth    int  `json:"queue_depth"`
}

// CallbackAckResponse is returned to the deploy provider's callback.
type CallbackAckResponse struct {
	Acknowledged bool `json:"acknowledged"`
}
