package adminapi

// CreateBuildRequest is the body of POST /api/v1/builds.
type CreateBuildRequest struct {
	UserID            string `json:"user_id" binding:"required"`
	ProjectID         string `json:"project_id" binding:"required"`
	Prompt            string `json:"prompt" binding:"required"`
	Framework         string `json:"framework"`
	IsInitialBuild    bool   `json:"is_initial_build"`
	BaseVersionID     string `json:"base_version_id"`
	PreviousSessionID string `json:"previous_session_id"`
	OperationID       string `json:"operation_id"`
	Source            string `json:"source"`
}

// ChatMessageRequest is the body of POST /api/v1/projects/:projectId/messages.
type ChatMessageRequest struct {
	UserID      string `json:"user_id" binding:"required"`
	ClientMsgID string `json:"client_msg_id" binding:"required"`
	Mode        string `json:"mode" binding:"required,oneof=plan build"`
	Text        string `json:"text" binding:"required"`
}

// AdminPauseRequest is the body of POST /admin/pause.
type AdminPauseRequest struct {
	Reason string `json:"reason" binding:"required"`
	Until  string `json:"until"` // RFC3339Nano; empty means "until explicitly resumed"
}

// CloudflareDeployCallbackRequest is the body of
// POST /callbacks/cloudflare-deploy. deployment_id is the provider's own
// reference, echoed back for idempotency/logging; build_id is what this
// worker plane needs to resolve which Project/Build to transition (the
// provider-side deployment_id -> build_id mapping is established when the
// deploy is kicked off, out of this interface's scope).
type CloudflareDeployCallbackRequest struct {
	DeploymentID string `json:"deployment_id" binding:"required"`
	BuildID      string `json:"build_id" binding:"required"`
	Status       string `json:"status" binding:"required,oneof=success failure"`
	URL          string `json:"url"`
}
