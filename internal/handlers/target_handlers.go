package handlers

import (
	stderrors "errors"
	"strconv"

	"reconpipe/internal/dao"
	"reconpipe/internal/models"
	"reconpipe/pkg/errors"
	"reconpipe/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type TargetHandler struct {
	seeds  dao.SeedDAO
	logger *logger.Logger
}

func NewTargetHandler(seeds dao.SeedDAO) *TargetHandler {
	return &TargetHandler{seeds: seeds, logger: logger.NewLogger(logrus.InfoLevel)}
}

func (h *TargetHandler) CreateTarget(c *gin.Context) {
	var req CreateTargetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": "Invalid request payload"})
		return
	}

	target := &models.Target{Name: req.Name}
	if err := h.seeds.CreateTarget(target); err != nil {
		h.logger.Error("Failed to create target:", logger.Fields{"error": err})
		c.JSON(500, gin.H{"error": "Failed to create target"})
		return
	}
	c.JSON(201, target)
}

func (h *TargetHandler) GetTarget(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(400, gin.H{"error": "Invalid target id"})
		return
	}

	target, err := h.seeds.GetTarget(uint(id))
	if err != nil {
		if stderrors.Is(err, errors.ErrNotFound) {
			c.JSON(404, gin.H{"error": "Target not found"})
			return
		}
		h.logger.Error("Failed to get target:", logger.Fields{"error": err})
		c.JSON(500, gin.H{"error": "Failed to get target"})
		return
	}
	c.JSON(200, target)
}

func (h *TargetHandler) ListTargets(c *gin.Context) {
	targets, err := h.seeds.ListTargets()
	if err != nil {
		h.logger.Error("Failed to list targets:", logger.Fields{"error": err})
		c.JSON(500, gin.H{"error": "Failed to list targets"})
		return
	}
	c.JSON(200, targets)
}

func (h *TargetHandler) CreateSeed(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(400, gin.H{"error": "Invalid target id"})
		return
	}

	var req CreateSeedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": "Invalid request payload"})
		return
	}

	seedType := models.SeedType(req.Type)
	switch seedType {
	case models.SeedDomain, models.SeedIPRange, models.SeedURL:
	default:
		c.JSON(400, gin.H{"error": "Invalid seed type"})
		return
	}

	if _, err := h.seeds.GetTarget(uint(id)); err != nil {
		if stderrors.Is(err, errors.ErrNotFound) {
			c.JSON(404, gin.H{"error": "Target not found"})
			return
		}
		h.logger.Error("Failed to get target:", logger.Fields{"error": err})
		c.JSON(500, gin.H{"error": "Failed to create seed"})
		return
	}

	seed := &models.Seed{TargetID: uint(id), Value: req.Value, Type: seedType, Active: true}
	if err := h.seeds.CreateSeed(seed); err != nil {
		h.logger.Error("Failed to create seed:", logger.Fields{"error": err})
		c.JSON(500, gin.H{"error": "Failed to create seed"})
		return
	}
	c.JSON(201, seed)
}
