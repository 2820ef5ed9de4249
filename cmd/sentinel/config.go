// Copyright (C) 2026 The Sentinel Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package main

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/sentinelfs/sentinel/lib/message"
)

type rootConfig struct {
	Path  string `yaml:"path"`
	Poll  bool   `yaml:"poll"`
	Split int    `yaml:"split"`
}

type config struct {
	Roots    []rootConfig `yaml:"roots"`
	Interval uint32       `yaml:"interval_ms"`
	Throttle uint32       `yaml:"throttle"`
	Log      string       `yaml:"log"`
	Listen   string       `yaml:"listen"`
}

// loadConfig merges the optional YAML file with the command line; roots
// given as arguments are appended to those from the file.
func loadConfig(params cli) (*config, error) {
	cfg := &config{
		Interval: params.Interval,
		Throttle: params.Throttle,
		Log:      params.Log,
		Listen:   params.Listen,
	}

	if params.Config != "" {
		raw, err := os.ReadFile(params.Config)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	for _, root := range params.Roots {
		cfg.Roots = append(cfg.Roots, rootConfig{Path: root, Poll: params.Poll, Split: params.Split})
	}
	for i := range cfg.Roots {
		if cfg.Roots[i].Split < 1 {
			cfg.Roots[i].Split = 1
		}
	}

	if len(cfg.Roots) == 0 {
		return nil, errors.New("no roots to watch; pass directories or a config file")
	}
	return cfg, nil
}

// commands translates the configuration into the startup command batch.
// Channel ids are assigned sequentially from one.
func (c *config) commands() []message.CommandPayload {
	var cmds []message.CommandPayload

	switch c.Log {
	case "", "disabled":
	case "stderr":
		cmds = append(cmds, message.CommandPayload{Action: message.CmdLogToStderr})
	case "stdout":
		cmds = append(cmds, message.CommandPayload{Action: message.CmdLogToStdout})
	default:
		cmds = append(cmds, message.CommandPayload{Action: message.CmdLogToFile, Root: c.Log})
	}

	cmds = append(cmds,
		message.CommandPayload{Action: message.CmdPollingInterval, Arg: c.Interval},
		message.CommandPayload{Action: message.CmdPollingThrottle, Arg: c.Throttle},
	)

	for i, root := range c.Roots {
		cmds = append(cmds, message.CommandPayload{
			Action:     message.CmdAdd,
			Root:       root.Path,
			Arg:        uint32(i + 1),
			SplitCount: root.Split,
			Poll:       root.Poll,
		})
	}
	return cmds
}
