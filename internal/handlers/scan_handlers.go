// Package handlers exposes the operator trigger surface over HTTP.
package handlers

import (
	"context"
	stderrors "errors"

	"reconpipe/internal/chain"
	"reconpipe/internal/models"
	"reconpipe/pkg/errors"
	"reconpipe/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Dispatcher is the slice of the coordinator the HTTP layer needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, stage string, target models.TargetRef, params map[string]string) (*models.ScanRecord, error)
}

// ScanStore is the slice of the scan DAO the HTTP layer needs.
type ScanStore interface {
	GetByUUID(uuid string) (*models.ScanRecord, error)
	ListByTarget(target models.TargetRef) ([]models.ScanRecord, error)
}

// TargetLookup reports whether a polymorphic target id exists.
type TargetLookup interface {
	TargetExists(kind models.TargetKind, id uint) (bool, error)
}

// stageTargets is the set of target kinds each stage accepts.
var stageTargets = map[string][]models.TargetKind{
	chain.StageDiscovery:      {models.KindSeed},
	chain.StageResolution:     {models.KindSeed},
	chain.StageClassification: {models.KindSeed},
	chain.StageURLDiscovery:   {models.KindSeed},
	chain.StageFetch:          {models.KindURL},
	chain.StageAnalysis:       {models.KindURL},
	chain.StagePortScan:       {models.KindIP},
	chain.StageVulnScan:       {models.KindURL, models.KindSubdomain, models.KindIP},
}

type ScanHandler struct {
	dispatcher Dispatcher
	scans      ScanStore
	lookup     TargetLookup
	logger     *logger.Logger
}

func NewScanHandler(dispatcher Dispatcher, scans ScanStore, lookup TargetLookup) *ScanHandler {
	return &ScanHandler{
		dispatcher: dispatcher,
		scans:      scans,
		lookup:     lookup,
		logger:     logger.NewLogger(logrus.InfoLevel),
	}
}

// TriggerStage starts one stage for one target, exactly as the chain would.
func (h *ScanHandler) TriggerStage(c *gin.Context) {
	stage := c.Param("stage")
	kinds, ok := stageTargets[stage]
	if !ok {
		c.JSON(404, gin.H{"error": "Unknown stage"})
		return
	}

	var req TriggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Failed to bind JSON:", logger.Fields{"error": err})
		c.JSON(400, gin.H{"error": "Invalid request payload"})
		return
	}

	kind := models.TargetKind(req.TargetKind)
	if !kindAllowed(kinds, kind) {
		c.JSON(400, gin.H{"error": "Stage does not accept this target kind"})
		return
	}

	exists, err := h.lookup.TargetExists(kind, req.TargetID)
	if err != nil {
		h.logger.Error("Target lookup failed:", logger.Fields{"error": err})
		c.JSON(500, gin.H{"error": "Failed to trigger stage"})
		return
	}
	if !exists {
		c.JSON(404, gin.H{"error": "Target not found"})
		return
	}

	scan, err := h.dispatcher.Dispatch(c.Request.Context(), stage, models.TargetRef{Kind: kind, ID: req.TargetID}, nil)
	if err != nil {
		var dup *errors.DuplicateActiveScanError
		if stderrors.As(err, &dup) {
			c.JSON(409, gin.H{"error": dup.Error()})
			return
		}
		h.logger.Error("Failed to trigger stage:", logger.Fields{"stage": stage, "error": err})
		c.JSON(500, gin.H{"error": "Failed to trigger stage"})
		return
	}

	c.JSON(202, TriggerResponse{ScanID: scan.UUID, Stage: stage})
}

func (h *ScanHandler) GetScanByUUID(c *gin.Context) {
	scanID := c.Param("id")
	scan, err := h.scans.GetByUUID(scanID)
	if err != nil {
		if stderrors.Is(err, errors.ErrNotFound) {
			c.JSON(404, gin.H{"error": "Scan not found"})
			return
		}
		h.logger.Error("Failed to get scan:", logger.Fields{"error": err})
		c.JSON(500, gin.H{"error": "Failed to get scan"})
		return
	}
	c.JSON(200, scan)
}

func kindAllowed(kinds []models.TargetKind, kind models.TargetKind) bool {
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}
