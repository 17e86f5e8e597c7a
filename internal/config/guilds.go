package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// GuildChannels holds the default workflow-channel mapping for one
// guild, applied when the guild has no stored channel configuration.
type GuildChannels struct {
	GuildID           int64 `yaml:"guild_id"`
	ListChannelID     int64 `yaml:"list_channel"`
	AcceptChannelID   int64 `yaml:"accept_channel"`
	SubmitChannelID   int64 `yaml:"submit_channel"`
	ApprovalChannelID int64 `yaml:"approval_channel"`
	NotifyChannelID   int64 `yaml:"notify_channel"`
}

// LoadGuildChannelDefaults reads per-guild channel defaults from a YAML
// file. A missing path is not an error; it just means no defaults.
func LoadGuildChannelDefaults(path string) (map[int64]GuildChannels, error) {
	if path == "" {
		return map[int64]GuildChannels{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[int64]GuildChannels{}, nil
		}
		return nil, fmt.Errorf("failed to read guild channel defaults: %w", err)
	}

	var file struct {
		Guilds []GuildChannels `yaml:"guilds"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse guild channel defaults: %w", err)
	}

	defaults := make(map[int64]GuildChannels, len(file.Guilds))
	for _, g := range file.Guilds {
		if g.GuildID == 0 {
			return nil, fmt.Errorf("guild channel defaults: entry without guild_id")
		}
		defaults[g.GuildID] = g
	}
	return defaults, nil
}
