package sys

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

var (
	// Level colors
	infoColor  = color.New(color.FgHiBlack)
	warnColor  = color.New(color.FgHiYellow)
	errorColor = color.New(color.FgHiRed)
	fatalColor = color.New(color.FgHiRed, color.Bold)

	// Component colors
	voiceColor  = color.New(color.FgHiMagenta)
	cacheColor  = color.New(color.FgHiBlue)
	dbColor     = color.New(color.FgHiBlack)
	loaderColor = color.New(color.FgHiCyan)

	IsSilent  = false
	LogToFile = false

	// Global default logger
	Logger *slog.Logger

	logFile *os.File
	logMu   sync.Mutex
)

func init() {
	InitLogger(false, false)
}

// InitLogger initializes the global structured logger and returns the log
// filename if one was created.
func InitLogger(silent bool, saveToFile bool) string {
	logMu.Lock()
	defer logMu.Unlock()

	IsSilent = silent
	LogToFile = saveToFile
	level := slog.LevelInfo
	if strings.ToLower(os.Getenv("DEBUG")) == "true" {
		level = slog.LevelDebug
	}

	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}

	var writer io.Writer = os.Stdout
	var logName string

	if LogToFile {
		logName = GetProjectName() + ".log"
		f, err := os.OpenFile(logName, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open %s: %v\n", logName, err)
			logName = ""
		} else {
			logFile = f
			writer = io.MultiWriter(os.Stdout, logFile)
		}
	}

	handler := NewBotLogHandler(writer, &BotLogHandlerOptions{
		Silent: IsSilent,
		Level:  level,
	})
	Logger = slog.New(handler)
	slog.SetDefault(Logger)

	return logName
}

func SetSilentMode(silent bool) {
	InitLogger(silent, LogToFile)
}

// --- Log Functions ---

func LogInfo(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...))
}

func LogWarn(format string, v ...any) {
	slog.Warn(fmt.Sprintf(format, v...))
}

func LogError(format string, v ...any) {
	slog.Error(fmt.Sprintf(format, v...))
}

// LogFatal logs at the fatal level and panics so deferred cleanup still runs.
func LogFatal(format string, v ...any) {
	msg := fmt.Sprintf(format, v...)
	slog.Log(context.Background(), slog.LevelError+4, msg)
	panic(msg)
}

func LogDebug(format string, v ...any) {
	slog.Debug(fmt.Sprintf(format, v...))
}

func LogVoice(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...), slog.String("component", "voice"))
}

func LogCache(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...), slog.String("component", "cache"))
}

func LogDatabase(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...), slog.String("component", "database"))
}

func LogLoader(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...), slog.String("component", "loader"))
}

// --- Custom Slog Handler ---

type BotLogHandlerOptions struct {
	Silent bool
	Level  slog.Leveler
}

type BotLogHandler struct {
	w    io.Writer
	opts *BotLogHandlerOptions
	mu   *sync.Mutex
}

func NewBotLogHandler(w io.Writer, opts *BotLogHandlerOptions) *BotLogHandler {
	if opts == nil {
		opts = &BotLogHandlerOptions{Level: slog.LevelInfo}
	}
	return &BotLogHandler{
		w:    w,
		opts: opts,
		mu:   &sync.Mutex{},
	}
}

func (h *BotLogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if h.opts.Silent {
		return false
	}
	return level >= h.opts.Level.Level()
}

func (h *BotLogHandler) Handle(ctx context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.opts.Silent {
		return nil
	}

	timeStr := time.Now().Format("15:04:05")
	var levelStr string
	var levelColor *color.Color

	switch {
	case r.Level >= slog.LevelError+4:
		levelStr = "FATAL"
		levelColor = fatalColor
	case r.Level >= slog.LevelError:
		levelStr = "ERROR"
		levelColor = errorColor
	case r.Level >= slog.LevelWarn:
		levelStr = "WARN"
		levelColor = warnColor
	default:
		levelStr = "INFO"
		levelColor = infoColor
	}

	component := ""
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "component" {
			component = strings.ToUpper(a.Value.String())
			return false
		}
		return true
	})

	// Output: 15:04:05 [LEVEL] [COMPONENT] Message
	fmt.Fprintf(h.w, "%s", timeStr)

	if component != "" {
		// Component logs: level tag only shown above INFO, message bleeds component color
		if levelStr != "INFO" {
			fmt.Fprintf(h.w, " %s", levelColor.Sprintf("[%s]", levelStr))
		}
		compColor := getComponentColor(component)
		fmt.Fprintf(h.w, " %s\n", compColor.Sprintf("[%s] %s", component, r.Message))
	} else {
		fmt.Fprintf(h.w, " %s\n", levelColor.Sprintf("[%s] %s", levelStr, r.Message))
	}

	return nil
}

func (h *BotLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler { return h }
func (h *BotLogHandler) WithGroup(name string) slog.Handler       { return h }

func getComponentColor(name string) *color.Color {
	switch name {
	case "VOICE":
		return voiceColor
	case "CACHE":
		return cacheColor
	case "DATABASE":
		return dbColor
	case "LOADER":
		return loaderColor
	default:
		return color.New(color.FgCyan)
	}
}
