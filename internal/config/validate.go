package config

import (
	"errors"
	"fmt"

	"golang.org/x/text/language"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateBatch(); err != nil {
		return err
	}
	if err := c.validateEngine(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateBatch() error {
	if c.Batch.Concurrency < 1 {
		return errors.New("batch.concurrency must be at least 1")
	}
	if c.Batch.PerJobTimeout < 0 {
		return errors.New("batch.per_job_timeout must not be negative")
	}
	if c.Batch.EventBuffer < 0 {
		return errors.New("batch.event_buffer must not be negative")
	}
	return nil
}

func (c *Config) validateEngine() error {
	if _, err := language.Parse(c.Engine.SourceLang); err != nil {
		return fmt.Errorf("engine.source_lang: unknown language tag %q", c.Engine.SourceLang)
	}
	if _, err := language.Parse(c.Engine.TargetLang); err != nil {
		return fmt.Errorf("engine.target_lang: unknown language tag %q", c.Engine.TargetLang)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.RequestTimeout < 0 {
		return errors.New("notifications.request_timeout must not be negative")
	}
	return nil
}
