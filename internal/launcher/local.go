package launcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kballard/go-shellquote"
	"github.com/rs/zerolog/log"
)

// Terminal modes besides an explicit emulator name.
const (
	TerminalAuto = "auto"
	TerminalNone = "none"
)

// DefaultCloseGrace is how long Close waits for a running optimizer to exit
// before killing it.
const DefaultCloseGrace = 10 * time.Second

// knownTerminals are tried in order in auto mode.
var knownTerminals = []string{"konsole", "gnome-terminal", "xterm"}

// ErrFreqtradeNotFound is returned when no freqtrade executable can be located.
var ErrFreqtradeNotFound = errors.New("freqtrade executable not found")

// LocalOptions configures a host launcher.
type LocalOptions struct {
	// Freqtrade is the executable to run; empty means FindFreqtrade.
	Freqtrade string
	// Terminal is TerminalAuto, TerminalNone or an emulator name.
	Terminal string
	CondaEnv string
	EnvFile  string
	WorkDir  string
	// Console also receives the optimizer output in TerminalNone mode.
	Console io.Writer
	// CloseGrace overrides DefaultCloseGrace when positive.
	CloseGrace time.Duration
}

// Local runs freqtrade on the host.
type Local struct {
	freqtrade string
	terminal  string
	condaEnv  string
	env       []string
	workDir   string
	console   io.Writer
	grace     time.Duration
}

// NewLocal resolves the freqtrade executable, the terminal and the env file
// up front so a misconfiguration fails before the first run.
func NewLocal(opts LocalOptions) (*Local, error) {
	bin := opts.Freqtrade
	if bin == "" {
		found, err := FindFreqtrade()
		if err != nil {
			return nil, err
		}
		bin = found
	} else if resolved, err := exec.LookPath(bin); err == nil {
		bin = resolved
	} else {
		return nil, fmt.Errorf("%w: %s", ErrFreqtradeNotFound, bin)
	}

	env, err := LoadEnvFile(opts.EnvFile)
	if err != nil {
		return nil, err
	}
	grace := opts.CloseGrace
	if grace <= 0 {
		grace = DefaultCloseGrace
	}

	return &Local{
		freqtrade: bin,
		terminal:  SelectTerminal(opts.Terminal),
		condaEnv:  opts.CondaEnv,
		env:       env,
		workDir:   opts.WorkDir,
		console:   opts.Console,
		grace:     grace,
	}, nil
}

// Freqtrade returns the resolved executable.
func (l *Local) Freqtrade() string { return l.freqtrade }

// Terminal returns the terminal emulator in use, or TerminalNone.
func (l *Local) Terminal() string { return l.terminal }

// FindFreqtrade looks next to the active Python environment first and then
// on PATH.
func FindFreqtrade() (string, error) {
	for _, env := range []string{"VIRTUAL_ENV", "CONDA_PREFIX"} {
		root := os.Getenv(env)
		if root == "" {
			continue
		}
		candidate := filepath.Join(root, "bin", "freqtrade")
		if isExecutable(candidate) {
			return candidate, nil
		}
	}
	if p, err := exec.LookPath("freqtrade"); err == nil {
		return p, nil
	}
	return "", ErrFreqtradeNotFound
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir() && info.Mode()&0o111 != 0
}

// SelectTerminal maps the configured terminal to one that exists. Auto mode
// picks the first installed emulator; without any it falls back to
// TerminalNone.
func SelectTerminal(want string) string {
	switch want {
	case TerminalNone:
		return TerminalNone
	case "", TerminalAuto:
		for _, t := range knownTerminals {
			if _, err := exec.LookPath(t); err == nil {
				return t
			}
		}
		log.Warn().Msg("no terminal emulator found, running hyperopt in-process")
		return TerminalNone
	default:
		if _, err := exec.LookPath(want); err != nil {
			log.Warn().Str("terminal", want).Msg("terminal emulator not found, running hyperopt in-process")
			return TerminalNone
		}
		return want
	}
}

// TerminalArgs returns the argv that opens terminal running script.
func TerminalArgs(terminal, script string) []string {
	switch terminal {
	case "gnome-terminal":
		return []string{terminal, "--", "bash", "-c", script}
	default:
		return []string{terminal, "-e", "bash", "-c", script}
	}
}

// ShellScript builds the bash command run inside a terminal window: optional
// conda activation, env file exports, then freqtrade with its output tee'd
// into the log file.
func ShellScript(freqtrade string, args []string, logPath, condaEnv, workDir string, env []string) string {
	var steps []string
	if condaEnv != "" {
		steps = append(steps, `eval "$(conda shell.bash hook)"`, "conda activate "+shellquote.Join(condaEnv))
	}
	for _, kv := range env {
		k, v, _ := strings.Cut(kv, "=")
		steps = append(steps, "export "+k+"="+shellquote.Join(v))
	}
	if workDir != "" {
		steps = append(steps, "cd "+shellquote.Join(workDir))
	}
	run := shellquote.Join(append([]string{freqtrade}, args...)...) + " 2>&1 | tee " + shellquote.Join(logPath)
	steps = append(steps, run)
	return "set -o pipefail; " + strings.Join(steps, " && ")
}

func (l *Local) Launch(ctx context.Context, req Request) (Handle, error) {
	args := req.Hyperopt.Args()
	if l.terminal == TerminalNone {
		return l.launchInProcess(req, args)
	}

	script := ShellScript(l.freqtrade, args, req.LogPath, l.condaEnv, l.workDir, l.env)
	argv := TerminalArgs(l.terminal, script)
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = l.workDir
	cmd.Env = mergeEnv(l.env)
	if err := cmd.Start(); err != nil {
		return nil, &LaunchError{Op: "starting " + l.terminal, Err: err}
	}
	log.Debug().Str("terminal", l.terminal).Str("run", req.RunName).Int("pid", cmd.Process.Pid).Msg("hyperopt launched in terminal")
	return newProcessHandle(cmd, nil, l.grace), nil
}

func (l *Local) launchInProcess(req Request, args []string) (Handle, error) {
	logFile, err := os.Create(req.LogPath)
	if err != nil {
		return nil, &LaunchError{Op: "creating log file", Err: err}
	}
	var out io.Writer = logFile
	if l.console != nil {
		out = io.MultiWriter(logFile, l.console)
	}

	cmd := exec.Command(l.freqtrade, args...)
	cmd.Dir = l.workDir
	cmd.Env = mergeEnv(l.env)
	cmd.Stdout = out
	cmd.Stderr = out
	if err := cmd.Start(); err != nil {
		logFile.Close()
		return nil, &LaunchError{Op: "starting " + l.freqtrade, Err: err}
	}
	log.Debug().Str("run", req.RunName).Int("pid", cmd.Process.Pid).Msg("hyperopt launched")
	return newProcessHandle(cmd, logFile, l.grace), nil
}

type processHandle struct {
	cmd     *exec.Cmd
	logFile *os.File
	grace   time.Duration
	exited  atomic.Bool
	done    chan struct{}
}

func newProcessHandle(cmd *exec.Cmd, logFile *os.File, grace time.Duration) *processHandle {
	h := &processHandle{cmd: cmd, logFile: logFile, grace: grace, done: make(chan struct{})}
	go func() {
		cmd.Wait()
		h.exited.Store(true)
		close(h.done)
	}()
	return h
}

func (h *processHandle) Running() bool { return !h.exited.Load() }

// Close gives a running process the grace period to finish writing its
// output, then kills it. The log file is closed only after the process exits.
func (h *processHandle) Close() error {
	if h.Running() && h.cmd.Process != nil {
		timer := time.NewTimer(h.grace)
		select {
		case <-h.done:
		case <-timer.C:
			log.Warn().Int("pid", h.cmd.Process.Pid).Dur("grace", h.grace).Msg("optimizer still running, killing it")
			h.cmd.Process.Kill()
		}
		timer.Stop()
	}
	<-h.done
	if h.logFile != nil {
		return h.logFile.Close()
	}
	return nil
}
