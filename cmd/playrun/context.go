package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"syscall"
	"time"

	"playrunaddict/internal/config"
	"playrunaddict/internal/ledger"
)

type commandContext struct {
	addrFlag   *string
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error

	httpClient *http.Client
}

func newCommandContext(addrFlag, configFlag *string) *commandContext {
	return &commandContext{
		addrFlag:   addrFlag,
		configFlag: configFlag,
		httpClient: &http.Client{Timeout: 30 * time.Second},
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
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) apiBase() string {
	if c.addrFlag != nil && strings.TrimSpace(*c.addrFlag) != "" {
		return "http://" + strings.TrimSpace(*c.addrFlag)
	}
	cfg, err := c.ensureConfig()
	if err != nil || cfg == nil {
		return ""
	}
	return "http://" + cfg.Paths.APIBind
}

// openLedger opens the ledger database directly. Read paths work whether
// or not the daemon is running.
func (c *commandContext) openLedger() (*ledger.Store, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return ledger.Open(cfg)
}

func (c *commandContext) getJSON(path string, out any) error {
	base := c.apiBase()
	if base == "" {
		return errors.New("daemon address unknown; pass --addr or fix the config")
	}
	resp, err := c.httpClient.Get(base + path)
	if err != nil {
		return wrapDialError(err, base)
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func (c *commandContext) postJSON(path string, out any) error {
	base := c.apiBase()
	if base == "" {
		return errors.New("daemon address unknown; pass --addr or fix the config")
	}
	resp, err := c.httpClient.Post(base+path, "application/json", bytes.NewReader(nil))
	if err != nil {
		return wrapDialError(err, base)
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out any) error {
	if resp.StatusCode >= 400 {
		var payload struct {
			Error string `json:"error"`
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
			return fmt.Errorf("daemon returned %d: %s", resp.StatusCode, payload.Error)
		}
		return fmt.Errorf("daemon returned %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func wrapDialError(err error, base string) error {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return fmt.Errorf("connect to daemon at %s: connection refused; start it with `playrund`", base)
	}
	return fmt.Errorf("connect to daemon at %s: %w", base, err)
}
