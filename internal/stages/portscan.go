package stages

import (
	"context"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"reconpipe/internal/chain"
	"reconpipe/internal/models"
	"reconpipe/internal/queue"
	"reconpipe/pkg/errors"
	"reconpipe/pkg/parsers"
)

// PortScan probes one IP with the external port scanner and commits all
// parsed ports atomically. Arguments are built strictly from structured
// parameters; a parse failure commits nothing.
func (d *Deps) PortScan(ctx context.Context, task queue.Task) (*chain.StageResult, error) {
	ipID, err := targetID(task)
	if err != nil {
		return nil, err
	}
	ip, err := d.IPs.GetByID(ipID)
	if err != nil {
		return nil, err
	}
	scanID := task.Param("scan_id")

	args := []string{"-Pn", "--open", "-sV", "-oX", "-", ip.Address}
	result, err := d.Runner.Run(ctx, d.Tools.PortScanner, args)
	if err != nil {
		stderr := ""
		exitCode := -1
		if result != nil {
			stderr = result.Stderr
			exitCode = result.ExitCode
		}
		return nil, errors.NewToolExecutionError(d.Tools.PortScanner, exitCode, stderr, err)
	}

	run, err := parsers.ParseNmapXML([]byte(result.Stdout))
	if err != nil {
		// Atomic per-scan: a truncated document commits nothing.
		return nil, err
	}

	var ports []models.Port
	for _, host := range run.Hosts {
		for _, p := range host.Ports.PortList {
			number, convErr := strconv.Atoi(p.PortID)
			if convErr != nil {
				continue
			}
			ports = append(ports, models.Port{
				Number:         number,
				Protocol:       p.Protocol,
				State:          p.State.State,
				ServiceName:    p.Service.Name,
				ServiceVersion: strings.TrimSpace(p.Service.Product + " " + p.Service.Version),
			})
		}
	}

	if err := d.IPs.ReplacePorts(ipID, ports, scanID); err != nil {
		return nil, err
	}

	d.Log.WithScan(scanID, chain.StagePortScan).WithFields(logrus.Fields{
		"address": ip.Address,
		"ports":   len(ports),
	}).Info("Port scan committed")

	return &chain.StageResult{
		ItemsFound: len(ports),
		RawOutput:  truncate(result.Stdout),
	}, nil
}
