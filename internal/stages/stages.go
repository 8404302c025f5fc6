// Package stages implements the pipeline stage handlers dispatched by the
// chain coordinator. Every handler is idempotent: re-running one on the same
// inputs produces the same end state.
package stages

import (
	"fmt"
	"strconv"

	"reconpipe/internal/analysis"
	"reconpipe/internal/chain"
	"reconpipe/internal/config"
	"reconpipe/internal/dao"
	"reconpipe/internal/models"
	"reconpipe/internal/notification"
	"reconpipe/internal/queue"
	"reconpipe/internal/spider"
	"reconpipe/pkg/logger"
	"reconpipe/pkg/runner"
)

// rawOutputLimit bounds what a stage stores on its scan record.
const rawOutputLimit = 64 * 1024

// Deps wires everything the stage handlers need. One instance serves all
// workers.
type Deps struct {
	Seeds      dao.SeedDAO
	Subdomains dao.SubdomainDAO
	IPs        dao.IPDAO
	URLs       dao.URLDAO
	Vulns      dao.VulnDAO

	Runner      runner.CommandRunner
	Coordinator *chain.Coordinator
	Spider      *spider.Spider
	Analyzer    *analysis.Analyzer
	Notifier    *notification.Client

	Tools    config.ToolsConfig
	Classify config.ClassifyConfig

	Log *logger.Logger
}

// Register binds all stage handlers onto the coordinator.
func Register(c *chain.Coordinator, d *Deps) {
	c.Register(chain.StageDiscovery, d.Discovery)
	c.Register(chain.StageResolution, d.Resolution)
	c.Register(chain.StageClassification, d.Classification)
	c.Register(chain.StageURLDiscovery, d.URLDiscovery)
	c.Register(chain.StageFetch, d.Fetch)
	c.Register(chain.StageAnalysis, d.Analysis)
	c.Register(chain.StagePortScan, d.PortScan)
	c.Register(chain.StageVulnScan, d.VulnScan)
}

func targetID(task queue.Task) (uint, error) {
	raw := task.Param("target_id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid target id %q: %w", raw, err)
	}
	return uint(id), nil
}

func truncate(s string) string {
	if len(s) > rawOutputLimit {
		return s[:rawOutputLimit]
	}
	return s
}

func seedRef(id uint) models.TargetRef {
	return models.TargetRef{Kind: models.KindSeed, ID: id}
}
