package main

import (
	"ramp/internal/config"
	"ramp/internal/queue"
)

// commandContext carries lazily resolved configuration and shared flags
// between commands.
type commandContext struct {
	configFlag *string
	addrFlag   *string
	jsonFlag   *bool

	cfg *config.Config
}

func newCommandContext(configFlag, addrFlag *string, jsonFlag *bool) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		addrFlag:   addrFlag,
		jsonFlag:   jsonFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}
	cfg, _, _, err := config.Load(*c.configFlag)
	if err != nil {
		return nil, err
	}
	c.cfg = cfg
	return cfg, nil
}

// apiBase resolves the daemon API endpoint: the --addr flag wins, then the
// configured bind address.
func (c *commandContext) apiBase() (string, error) {
	if *c.addrFlag != "" {
		return "http://" + *c.addrFlag, nil
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return "", err
	}
	return "http://" + cfg.Paths.APIBind, nil
}

// openStore opens the job database directly for local administration
// commands that work without a running daemon.
func (c *commandContext) openStore() (*queue.Store, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return queue.Open(cfg)
}

func (c *commandContext) jsonOutput() bool {
	return c.jsonFlag != nil && *c.jsonFlag
}
