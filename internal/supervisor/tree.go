// Package supervisor runs accessd's long-lived components under a suture
// tree so a crashed worker is restarted without taking the API down.
package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

type TreeConfig struct {
	// FailureThreshold is the number of failures before entering backoff.
	FailureThreshold float64
	// FailureDecay is the rate at which failures decay, in seconds.
	FailureDecay    float64
	FailureBackoff  time.Duration
	ShutdownTimeout time.Duration
}

func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5.0,
		FailureDecay:     30.0,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// Tree has two layers: background (cache sweeper, access-change consumer)
// and api (HTTP server). A failing worker restarts inside its own layer.
type Tree struct {
	root       *suture.Supervisor
	background *suture.Supervisor
	api        *suture.Supervisor
}

func NewTree(logger *slog.Logger, config TreeConfig) *Tree {
	defaults := DefaultTreeConfig()
	if config.FailureThreshold == 0 {
		config.FailureThreshold = defaults.FailureThreshold
	}
	if config.FailureDecay == 0 {
		config.FailureDecay = defaults.FailureDecay
	}
	if config.FailureBackoff == 0 {
		config.FailureBackoff = defaults.FailureBackoff
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = defaults.ShutdownTimeout
	}

	childSpec := suture.Spec{
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}
	rootSpec := childSpec
	rootSpec.EventHook = (&sutureslog.Handler{Logger: logger}).MustHook()

	root := suture.New("accessd", rootSpec)
	background := suture.New("background-layer", childSpec)
	api := suture.New("api-layer", childSpec)

	root.Add(background)
	root.Add(api)

	return &Tree{
		root:       root,
		background: background,
		api:        api,
	}
}

func (t *Tree) AddBackgroundService(svc suture.Service) suture.ServiceToken {
	return t.background.Add(svc)
}

func (t *Tree) AddAPIService(svc suture.Service) suture.ServiceToken {
	return t.api.Add(svc)
}

// Serve blocks until ctx is canceled and every service has stopped or timed out.
func (t *Tree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

func (t *Tree) ServeBackground(ctx context.Context) <-chan error {
	return t.root.ServeBackground(ctx)
}

// UnstoppedServiceReport lists services that outlived the shutdown timeout.
func (t *Tree) UnstoppedServiceReport() ([]suture.UnstoppedService, error) {
	return t.root.UnstoppedServiceReport()
}
