// Package logging configures the process-wide zerolog logger: readable
// console output on stderr plus a JSON log file per campaign.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
)

const (
	filePrefix = "HyperLog_"
	fileSuffix = ".log"
)

// Options controls Setup.
type Options struct {
	Level string
	// Dir receives the campaign log file; empty disables file logging.
	Dir      string
	MaxFiles int
	Console  io.Writer
	Now      func() time.Time
}

// Session is an active logging setup.
type Session struct {
	// Path is the campaign log file, empty when file logging is off.
	Path string
	file *os.File
}

func (s *Session) Close() error {
	if s == nil || s.file == nil {
		return nil
	}
	return s.file.Close()
}

// Setup installs the global logger. Once the new log file exists, the oldest
// files beyond MaxFiles are removed.
func Setup(opts Options) (*Session, error) {
	level, err := zerolog.ParseLevel(opts.Level)
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}
	cw := zerolog.ConsoleWriter{
		Out:        console,
		TimeFormat: "15:04:05",
		NoColor:    !UseColor(console),
	}

	sess := &Session{}
	var out io.Writer = cw
	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating log dir: %w", err)
		}
		now := time.Now
		if opts.Now != nil {
			now = opts.Now
		}
		sess.Path = filepath.Join(opts.Dir, filePrefix+now().Format("20060102_150405")+fileSuffix)
		f, err := os.OpenFile(sess.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("creating log file: %w", err)
		}
		removed, err := CleanupOldLogs(opts.Dir, opts.MaxFiles, sess.Path)
		if err != nil {
			f.Close()
			return nil, err
		}
		sess.file = f
		out = zerolog.MultiLevelWriter(cw, f)
		defer func() {
			for _, name := range removed {
				log.Info().Str("file", name).Msg("removed old log file")
			}
		}()
	}

	zerolog.SetGlobalLevel(level)
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	return sess, nil
}

// UseColor reports whether w is a terminal and NO_COLOR is unset.
func UseColor(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return IsTerminal(w)
}

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// CleanupOldLogs keeps the newest maxFiles HyperLog files in dir and returns
// the names it removed. The current file is always kept. maxFiles <= 0 keeps
// everything.
func CleanupOldLogs(dir string, maxFiles int, current string) ([]string, error) {
	if maxFiles <= 0 {
		return nil, nil
	}
	matches, err := filepath.Glob(filepath.Join(dir, filePrefix+"*"+fileSuffix))
	if err != nil {
		return nil, fmt.Errorf("listing log files: %w", err)
	}
	type logFile struct {
		path string
		mod  time.Time
	}
	files := make([]logFile, 0, len(matches))
	for _, m := range matches {
		if m == current {
			continue
		}
		info, err := os.Stat(m)
		if err != nil {
			continue
		}
		files = append(files, logFile{m, info.ModTime()})
	}
	// Newest first; names carry the timestamp and break ties.
	sort.Slice(files, func(i, j int) bool {
		if !files[i].mod.Equal(files[j].mod) {
			return files[i].mod.After(files[j].mod)
		}
		return files[i].path > files[j].path
	})
	keep := maxFiles
	if current != "" {
		keep--
	}
	var removed []string
	for i := keep; i < len(files); i++ {
		if err := os.Remove(files[i].path); err != nil {
			log.Warn().Err(err).Str("file", files[i].path).Msg("could not remove old log file")
			continue
		}
		removed = append(removed, filepath.Base(files[i].path))
	}
	return removed, nil
}
