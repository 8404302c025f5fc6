package handlers

// TriggerRequest names the target a stage should run against.
type TriggerRequest struct {
	TargetKind string `json:"target_kind" binding:"required"`
	TargetID   uint   `json:"target_id" binding:"required"`
}

type TriggerResponse struct {
	ScanID string `json:"scan_id"`
	Stage  string `json:"stage"`
}

type CreateTargetRequest struct {
	Name string `json:"name" binding:"required"`
}

type CreateSeedRequest struct {
	Type  string `json:"type" binding:"required"`
	Value string `json:"value" binding:"required"`
}
