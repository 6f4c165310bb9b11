// Package launcher starts one hyperopt process per run, either on the host
// (in a terminal window or in-process) or inside a container.
package launcher

import (
	"context"
	"fmt"
	"strconv"
)

// Request is everything needed to start one optimizer run.
type Request struct {
	Hyperopt Hyperopt
	// LogPath receives the optimizer's combined output.
	LogPath string
	RunName string
}

// Handle tracks a launched optimizer.
type Handle interface {
	// Running reports whether the launched process is still alive.
	Running() bool
	// Close stops the process if needed and releases its resources.
	Close() error
}

// Launcher starts the optimizer. Launch returns once the process is started;
// completion is observed separately.
type Launcher interface {
	Launch(ctx context.Context, req Request) (Handle, error)
}

// LaunchError means the optimizer process could not be started.
type LaunchError struct {
	Op  string
	Err error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launching optimizer: %s: %v", e.Op, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

func (e *LaunchError) Kind() string { return "LaunchError" }

// Hyperopt holds the hyperopt command line options.
type Hyperopt struct {
	Config          string
	Loss            string
	Strategy        string
	Timerange       string
	TimeframeDetail string
	Spaces          []string
	Epochs          int
	Jobs            int
}

// Args returns the hyperopt arguments, without the freqtrade binary itself.
func (h Hyperopt) Args() []string {
	args := []string{"hyperopt"}
	if h.Config != "" {
		args = append(args, "--config", h.Config)
	}
	if h.Loss != "" {
		args = append(args, "--hyperopt-loss", h.Loss)
	}
	args = append(args, "--strategy", h.Strategy)
	if h.Timerange != "" {
		args = append(args, "--timerange", h.Timerange)
	}
	if h.TimeframeDetail != "" {
		args = append(args, "--timeframe-detail", h.TimeframeDetail)
	}
	if len(h.Spaces) > 0 {
		args = append(args, "--spaces")
		args = append(args, h.Spaces...)
	}
	if h.Epochs > 0 {
		args = append(args, "--epochs", strconv.Itoa(h.Epochs))
	}
	if h.Jobs != 0 {
		args = append(args, "-j", strconv.Itoa(h.Jobs))
	}
	return append(args, "--print-all")
}
