package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseThresholds(t *testing.T) {
	assert.Equal(t, []int{10, 5, 1}, parseThresholds("10,5,1"))
	assert.Equal(t, []int{15, 3}, parseThresholds(" 15 , 3 "))
	assert.Equal(t, []int{5}, parseThresholds("5,abc,-2,0"))
	assert.Equal(t, []int{10, 5, 1}, parseThresholds(""), "empty input falls back to defaults")
	assert.Equal(t, []int{10, 5, 1}, parseThresholds("x,y"))
}

func TestParseOrigins(t *testing.T) {
	assert.Nil(t, parseOrigins(""))
	assert.Equal(t, []string{"https://a.example", "https://b.example"},
		parseOrigins("https://a.example, https://b.example"))
	assert.Equal(t, []string{"https://a.example"}, parseOrigins("https://a.example,,"))
}

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, []int{10, 5, 1}, cfg.WarningThresholds)
	assert.Equal(t, int64(1000), cfg.TickInterval.Milliseconds())
	assert.Equal(t, 30.0, cfg.SyncInterval.Seconds())
	assert.NotEmpty(t, cfg.AgentStateDir)
}
