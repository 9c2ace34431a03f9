package services

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mudler/roomkeeper/pkg/config"
	"github.com/mudler/roomkeeper/services/connectors"
)

const (
	// Connectors
	ConnectorIRC      = connectors.NetworkIRC
	ConnectorTelegram = connectors.NetworkTelegram
	ConnectorSlack    = connectors.NetworkSlack
	ConnectorDiscord  = connectors.NetworkDiscord
	ConnectorMatrix   = connectors.NetworkMatrix
)

var AvailableConnectors = []string{
	ConnectorIRC,
	ConnectorTelegram,
	ConnectorSlack,
	ConnectorDiscord,
	ConnectorMatrix,
}

var ErrUnknownConnector = errors.New("unknown connector type")

// ConnectorConfig is one entry of the connectors list. Config holds the
// connector's fields as a JSON object encoded in a string.
type ConnectorConfig struct {
	Type   string `json:"type"`
	Config string `json:"config"`
}

// ParseConnectorConfigs decodes a JSON list of connector configs
func ParseConnectorConfigs(data string) ([]ConnectorConfig, error) {
	if data == "" {
		return nil, nil
	}
	var configs []ConnectorConfig
	if err := json.Unmarshal([]byte(data), &configs); err != nil {
		return nil, fmt.Errorf("decoding connectors: %w", err)
	}
	return configs, nil
}

// Connectors builds a connector for each config. Every invalid entry is
// reported; none of them is skipped silently.
func Connectors(configs []ConnectorConfig) ([]connectors.Connector, error) {
	conns := []connectors.Connector{}
	var errs []error

	for n, c := range configs {
		var cfg map[string]string
		if c.Config != "" {
			if err := json.Unmarshal([]byte(c.Config), &cfg); err != nil {
				errs = append(errs, fmt.Errorf("connector %d (%s): %w", n, c.Type, err))
				continue
			}
		}

		conn, err := newConnector(c.Type, cfg)
		if err != nil {
			errs = append(errs, fmt.Errorf("connector %d (%s): %w", n, c.Type, err))
			continue
		}
		conns = append(conns, conn)
	}
	return conns, errors.Join(errs...)
}

func newConnector(kind string, cfg map[string]string) (connectors.Connector, error) {
	switch kind {
	case ConnectorTelegram:
		return connectors.NewTelegramConnector(cfg)
	case ConnectorSlack:
		return connectors.NewSlack(cfg)
	case ConnectorDiscord:
		return connectors.NewDiscord(cfg)
	case ConnectorIRC:
		return connectors.NewIRC(cfg)
	case ConnectorMatrix:
		return connectors.NewMatrix(cfg)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownConnector, kind)
}

func ConnectorsConfigMeta() []config.FieldGroup {
	return []config.FieldGroup{
		{
			Name:   ConnectorDiscord,
			Label:  "Discord",
			Fields: connectors.DiscordConfigMeta(),
		},
		{
			Name:   ConnectorSlack,
			Label:  "Slack",
			Fields: connectors.SlackConfigMeta(),
		},
		{
			Name:   ConnectorTelegram,
			Label:  "Telegram",
			Fields: connectors.TelegramConfigMeta(),
		},
		{
			Name:   ConnectorIRC,
			Label:  "IRC",
			Fields: connectors.IRCConfigMeta(),
		},
		{
			Name:   ConnectorMatrix,
			Label:  "Matrix",
			Fields: connectors.MatrixConfigMeta(),
		},
	}
}
