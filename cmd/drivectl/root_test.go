package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/identhost/drivesync/internal/config"
)

func TestHTTPClientForAppliesConfiguredTimeout(t *testing.T) {
	cfg := &config.Config{HTTPTimeoutSeconds: 5}
	assert.Equal(t, 5*time.Second, httpClientFor(cfg).Timeout)
}

func TestHTTPClientForDefaultsTimeout(t *testing.T) {
	assert.Equal(t, 30*time.Second, httpClientFor(&config.Config{}).Timeout)
}
