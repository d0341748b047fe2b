package main

import (
	"strings"
	"sync"

	"vidkeep/internal/api"
	"vidkeep/internal/config"
)

type commandContext struct {
	apiFlag    *string
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(apiFlag, configFlag *string) *commandContext {
	return &commandContext{
		apiFlag:    apiFlag,
		configFlag: configFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// client builds an API client for the daemon, preferring the --api flag over
// the configured bind address.
func (c *commandContext) client() (*api.Client, error) {
	bind := ""
	if c.apiFlag != nil {
		bind = strings.TrimSpace(*c.apiFlag)
	}
	if bind == "" {
		cfg, err := c.ensureConfig()
		if err != nil {
			return nil, err
		}
		bind = cfg.Paths.APIBind
	}
	return api.NewClient(bind), nil
}
