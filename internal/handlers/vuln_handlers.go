package handlers

import (
	"strconv"

	"reconpipe/internal/models"
	"reconpipe/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// VulnStore is the slice of the vulnerability DAO the HTTP layer needs.
type VulnStore interface {
	ListBySeverity(severity string, limit int) ([]models.Vulnerability, error)
}

const defaultVulnLimit = 50

type VulnHandler struct {
	vulns  VulnStore
	logger *logger.Logger
}

func NewVulnHandler(vulns VulnStore) *VulnHandler {
	return &VulnHandler{
		vulns:  vulns,
		logger: logger.NewLogger(logrus.InfoLevel),
	}
}

// ListVulnerabilities returns recent findings, newest first, optionally
// filtered by severity.
func (h *VulnHandler) ListVulnerabilities(c *gin.Context) {
	limit := defaultVulnLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(400, gin.H{"error": "Invalid limit"})
			return
		}
		limit = parsed
	}

	vulns, err := h.vulns.ListBySeverity(c.Query("severity"), limit)
	if err != nil {
		h.logger.Error("Failed to list vulnerabilities:", logger.Fields{"error": err})
		c.JSON(500, gin.H{"error": "Failed to list vulnerabilities"})
		return
	}
	c.JSON(200, vulns)
}
