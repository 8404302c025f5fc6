// Package notification pushes scan alerts to Discord. An unconfigured
// client is a safe no-op so the pipeline never depends on it.
package notification

import (
	"fmt"
	"time"

	"reconpipe/internal/models"
	"reconpipe/pkg/errors"
	"reconpipe/pkg/logger"

	"github.com/bwmarrin/discordgo"
)

type Message struct {
	Title       string
	Description string
	Severity    string
	Fields      map[string]string
	Timestamp   time.Time
}

type Client struct {
	sg        *discordgo.Session
	channelID string
	log       *logger.Logger
}

// NewClient opens the Discord session. Empty token or channel yields a
// disabled client, not an error.
func NewClient(token, channelID string, log *logger.Logger) (*Client, error) {
	if token == "" || channelID == "" {
		return &Client{log: log}, nil
	}

	sg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	if err := sg.Open(); err != nil {
		return nil, err
	}

	return &Client{sg: sg, channelID: channelID, log: log}, nil
}

// Enabled reports whether alerts will actually be delivered.
func (c *Client) Enabled() bool {
	return c != nil && c.sg != nil
}

func severityColor(severity string) int {
	switch severity {
	case "critical":
		return 0x8B0000
	case "high":
		return 0xFF0000
	case "medium":
		return 0xFF8C00
	case "low":
		return 0xFFD700
	case "info":
		return 0x00BFFF
	default:
		return 0x808080
	}
}

func (c *Client) Send(msg Message) error {
	if !c.Enabled() {
		return errors.ErrDiscordNotConfigured
	}

	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	embed := &discordgo.MessageEmbed{
		Title:       msg.Title,
		Description: msg.Description,
		Color:       severityColor(msg.Severity),
		Timestamp:   msg.Timestamp.Format(time.RFC3339),
	}

	if len(msg.Fields) > 0 {
		fields := make([]*discordgo.MessageEmbedField, 0, len(msg.Fields))
		for key, value := range msg.Fields {
			fields = append(fields, &discordgo.MessageEmbedField{
				Name:   key,
				Value:  value,
				Inline: true,
			})
		}
		embed.Fields = fields
	}

	_, err := c.sg.ChannelMessageSendEmbed(c.channelID, embed)
	return err
}

// NotifyVulnerability fires an alert for a newly recorded finding. Delivery
// failures are logged, never propagated: alerting must not fail a scan.
func (c *Client) NotifyVulnerability(vuln *models.Vulnerability) {
	if !c.Enabled() {
		return
	}

	err := c.Send(Message{
		Title:       fmt.Sprintf("New %s finding: %s", vuln.Severity, vuln.Name),
		Description: vuln.MatchedAt,
		Severity:    vuln.Severity,
		Fields: map[string]string{
			"Template": vuln.TemplateID,
		},
	})
	if err != nil {
		c.log.WithFields(logger.Fields{
			"template": vuln.TemplateID,
			"error":    err.Error(),
		}).Error("Vulnerability notification failed")
	}
}

// NotifyScanFailure fires an alert for a terminally failed scan.
func (c *Client) NotifyScanFailure(scan *models.ScanRecord) {
	if !c.Enabled() {
		return
	}

	err := c.Send(Message{
		Title:       fmt.Sprintf("Scan failed: %s", scan.Tool),
		Description: scan.ErrorMessage,
		Severity:    "high",
		Fields: map[string]string{
			"Scan ID":     scan.UUID,
			"Target kind": string(scan.Target.Kind),
		},
	})
	if err != nil {
		c.log.WithFields(logger.Fields{
			"scan_id": scan.UUID,
			"error":   err.Error(),
		}).Error("Scan failure notification failed")
	}
}

func (c *Client) Close() error {
	if c.sg != nil {
		return c.sg.Close()
	}
	return nil
}
