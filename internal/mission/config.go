package mission

import (
	"time"

	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/models"
	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/status"
	"github.com/saravanakumarvelayutham/clawsuite-sub000/internal/stream"
)

// Config holds the engine's tunables.
type Config struct {
	Topology           models.Topology
	MaxStreams         int
	PollInterval       time.Duration
	StreamStaleAfter   time.Duration
	MissingGrace       time.Duration
	SettleDelay        time.Duration
	Stagger            time.Duration
	ActiveWindow       time.Duration
	IdleWindow         time.Duration
	DefaultModel       string
	HistoryLimit       int
	ReportHistoryLimit int
	CostPer1KTokens    float64
	ActivityLimit      int
}

// DefaultConfig returns the standard engine settings.
func DefaultConfig() Config {
	w := status.DefaultWindows()
	return Config{
		Topology:           models.TopologyParallel,
		MaxStreams:         stream.DefaultMaxStreams,
		PollInterval:       5 * time.Second,
		StreamStaleAfter:   60 * time.Second,
		MissingGrace:       w.MissingGrace,
		SettleDelay:        5 * time.Second,
		Stagger:            30 * time.Second,
		ActiveWindow:       w.Active,
		IdleWindow:         w.Idle,
		HistoryLimit:       20,
		ReportHistoryLimit: 50,
		CostPer1KTokens:    0.01,
		ActivityLimit:      500,
	}
}

// withDefaults fills zero fields from DefaultConfig. Stagger may be zero.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Topology == "" {
		c.Topology = d.Topology
	}
	if c.MaxStreams <= 0 {
		c.MaxStreams = d.MaxStreams
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.StreamStaleAfter <= 0 {
		c.StreamStaleAfter = d.StreamStaleAfter
	}
	if c.MissingGrace <= 0 {
		c.MissingGrace = d.MissingGrace
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = d.SettleDelay
	}
	if c.Stagger < 0 {
		c.Stagger = 0
	}
	if c.ActiveWindow <= 0 {
		c.ActiveWindow = d.ActiveWindow
	}
	if c.IdleWindow <= 0 {
		c.IdleWindow = d.IdleWindow
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = d.HistoryLimit
	}
	if c.ReportHistoryLimit <= 0 {
		c.ReportHistoryLimit = d.ReportHistoryLimit
	}
	if c.CostPer1KTokens <= 0 {
		c.CostPer1KTokens = d.CostPer1KTokens
	}
	if c.ActivityLimit <= 0 {
		c.ActivityLimit = d.ActivityLimit
	}
	return c
}

func (c Config) windows() status.Windows {
	return status.Windows{Active: c.ActiveWindow, Idle: c.IdleWindow, MissingGrace: c.MissingGrace}
}
