package launcher

import (
	"context"
	"os"
	"path/filepath"

	"github.com/7hr08ik/Freqtrade-HyperLoop/internal/docker"
)

// ContainerUserData is where user_data is mounted inside the image.
const ContainerUserData = "/freqtrade/user_data"

// DefaultImage is the published freqtrade image.
const DefaultImage = "freqtradeorg/freqtrade:stable"

// DockerOptions configures a container launcher.
type DockerOptions struct {
	Image    string
	UserData string
	EnvFile  string
	UserID   string
}

// Docker runs each hyperopt in a fresh freqtrade container. The image's
// entrypoint is freqtrade, so only the hyperopt arguments are passed.
type Docker struct {
	image    string
	userData string
	userID   string
	env      []string
}

func NewDocker(opts DockerOptions) (*Docker, error) {
	env, err := LoadEnvFile(opts.EnvFile)
	if err != nil {
		return nil, err
	}
	image := opts.Image
	if image == "" {
		image = DefaultImage
	}
	userData, err := filepath.Abs(opts.UserData)
	if err != nil {
		return nil, err
	}
	return &Docker{
		image:    image,
		userData: userData,
		userID:   opts.UserID,
		env:      env,
	}, nil
}

func (d *Docker) Launch(ctx context.Context, req Request) (Handle, error) {
	logFile, err := os.Create(req.LogPath)
	if err != nil {
		return nil, &LaunchError{Op: "creating log file", Err: err}
	}
	c, err := docker.Start(ctx, &docker.RunOpts{
		Image:   d.image,
		Command: req.Hyperopt.Args(),
		WorkDir: filepath.Dir(ContainerUserData),
		Env:     d.env,
		Mounts:  []docker.Mount{{Source: d.userData, Target: ContainerUserData}},
		UserID:  d.userID,
		RunName: req.RunName,
		Log:     logFile,
	})
	if err != nil {
		logFile.Close()
		return nil, &LaunchError{Op: "starting container " + d.image, Err: err}
	}
	return &containerHandle{c: c, logFile: logFile}, nil
}

type containerHandle struct {
	c       *docker.Container
	logFile *os.File
}

func (h *containerHandle) Running() bool { return h.c.Running() }

func (h *containerHandle) Close() error {
	h.c.Close()
	return h.logFile.Close()
}
