// Package docker runs the optimizer inside a container and streams its
// output into the run's log file.
package docker

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/api/types/mount"
	"github.com/moby/moby/client"
)

// Label marks containers started by hyperloop.
const Label = "hyperloop"

const logDrainTimeout = 5 * time.Second

type RunOpts struct {
	Image   string
	Command []string
	WorkDir string
	Env     []string
	Mounts  []Mount
	UserID  string
	RunName string
	// Log receives the combined container output as it is produced.
	Log io.Writer
}

type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

// Container is a started optimizer container.
type Container struct {
	ID string

	cli      *client.Client
	cancel   context.CancelFunc
	exited   atomic.Bool
	exitCode atomic.Int64
	done     chan struct{}
	logsDone chan struct{}
	once     sync.Once
}

// Start creates and starts a container and returns without waiting for it.
func Start(ctx context.Context, opts *RunOpts) (*Container, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}

	mounts := make([]mount.Mount, 0, len(opts.Mounts))
	for _, m := range opts.Mounts {
		mounts = append(mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}

	initTrue := true
	hostCfg := &container.HostConfig{
		Mounts: mounts,
		Init:   &initTrue,
	}
	// A TTY keeps the log stream raw, so no stdout/stderr demuxing is needed.
	containerCfg := &container.Config{
		Image:      opts.Image,
		Cmd:        opts.Command,
		Env:        opts.Env,
		WorkingDir: opts.WorkDir,
		Tty:        true,
		Labels:     map[string]string{Label: "true", Label + ".run": opts.RunName},
	}
	if opts.UserID != "" {
		containerCfg.User = opts.UserID
	}

	createResp, err := cli.ContainerCreate(ctx, client.ContainerCreateOptions{
		Config:     containerCfg,
		HostConfig: hostCfg,
	})
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("creating container: %w", err)
	}

	bg, cancel := context.WithCancel(context.Background())
	c := &Container{
		ID:       createResp.ID,
		cli:      cli,
		cancel:   cancel,
		done:     make(chan struct{}),
		logsDone: make(chan struct{}),
	}

	if _, err := cli.ContainerStart(ctx, c.ID, client.ContainerStartOptions{}); err != nil {
		cancel()
		cli.ContainerRemove(context.Background(), c.ID, client.ContainerRemoveOptions{Force: true})
		cli.Close()
		return nil, fmt.Errorf("starting container: %w", err)
	}

	go c.streamLogs(bg, opts.Log)
	go c.wait(bg)
	return c, nil
}

func (c *Container) streamLogs(ctx context.Context, w io.Writer) {
	defer close(c.logsDone)
	if w == nil {
		return
	}
	logReader, err := c.cli.ContainerLogs(ctx, c.ID, client.ContainerLogsOptions{ShowStdout: true, ShowStderr: true, Follow: true})
	if err != nil {
		fmt.Fprintf(w, "hyperloop: cannot attach to container logs: %v\n", err)
		return
	}
	defer logReader.Close()
	io.Copy(w, logReader)
}

func (c *Container) wait(ctx context.Context) {
	defer close(c.done)
	defer c.exited.Store(true)

	waitResult := c.cli.ContainerWait(ctx, c.ID, client.ContainerWaitOptions{
		Condition: container.WaitConditionNotRunning,
	})
	for {
		select {
		case err := <-waitResult.Error:
			if err != nil {
				c.exitCode.Store(-1)
				return
			}
			// nil error means no error on this channel; wait for result
		case status := <-waitResult.Result:
			c.exitCode.Store(status.StatusCode)
			return
		}
	}
}

// Running reports whether the container has not exited yet.
func (c *Container) Running() bool { return !c.exited.Load() }

// Done is closed once the container has exited.
func (c *Container) Done() <-chan struct{} { return c.done }

// ExitCode is the container's exit status, -1 when it could not be observed.
// It is only meaningful after Done is closed.
func (c *Container) ExitCode() int { return int(c.exitCode.Load()) }

// Close kills the container if it is still running, waits for the log stream
// to drain and removes the container.
func (c *Container) Close() error {
	c.once.Do(func() {
		if c.Running() {
			c.cli.ContainerKill(context.Background(), c.ID, client.ContainerKillOptions{Signal: "SIGKILL"})
		}
		<-c.done
		select {
		case <-c.logsDone:
		case <-time.After(logDrainTimeout):
		}
		c.cancel()
		c.cli.ContainerRemove(context.Background(), c.ID, client.ContainerRemoveOptions{Force: true})
		c.cli.Close()
	})
	return nil
}
