package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/disgoorg/disgo/bot"
	_ "github.com/leeineian/hibiki/home"
	_ "github.com/leeineian/hibiki/proc"
	"github.com/leeineian/hibiki/sys"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			os.Exit(1)
		}
	}()

	silent := flag.Bool("silent", false, "Disable all log output")
	skipReg := flag.Bool("skip-reg", false, "Skip command registration")
	forceReg := flag.Bool("force-reg", false, "Re-register commands even if unchanged")
	flag.Parse()

	if *silent {
		sys.SetSilentMode(true)
	}

	// Take over from a previous instance, if one is still running
	if pidData, err := os.ReadFile(".bot.pid"); err == nil {
		if oldPid, err := strconv.Atoi(string(pidData)); err == nil && oldPid != os.Getpid() {
			if process, err := os.FindProcess(oldPid); err == nil {
				if err := process.Signal(syscall.Signal(0)); err == nil {
					sys.LogInfo("Killing running instance... (PID: %d)", oldPid)
					if err := process.Signal(syscall.SIGTERM); err == nil {
						for i := 0; i < 50; i++ {
							if err := process.Signal(syscall.Signal(0)); err != nil {
								break
							}
							time.Sleep(100 * time.Millisecond)
						}
						sys.LogInfo("Old instance terminated.")
					} else {
						sys.LogWarn("Failed to kill old instance: %v", err)
					}
				}
			}
		}
	}

	if err := os.WriteFile(".bot.pid", []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
		sys.LogWarn("Failed to write PID file: %v", err)
	}
	defer os.Remove(".bot.pid")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()
	sys.SetAppContext(ctx)

	if err := run(ctx, *skipReg, *forceReg); err != nil {
		sys.LogFatal(sys.MsgGenericError, err)
	}
}

func run(ctx context.Context, skipReg, forceReg bool) error {
	cfg, err := sys.LoadConfig()
	if err != nil {
		return fmt.Errorf(sys.MsgConfigFailedToLoad, err)
	}

	sys.InitLogger(cfg.Silent, cfg.LogToFile)
	sys.LogInfo(sys.MsgInitializing, sys.GetProjectName())

	if err := sys.InitDatabase(ctx, cfg.DatabasePath); err != nil {
		return fmt.Errorf(sys.MsgDatabaseInitFail, err)
	}
	defer sys.CloseDatabase()

	var client bot.Client
	for attempt := 1; attempt <= 5; attempt++ {
		client, err = sys.CreateClient(ctx, cfg)
		if err == nil {
			break
		}
		sys.LogWarn(sys.MsgBotClientRetry, attempt, err)
		time.Sleep(5 * time.Second)
	}
	if err != nil {
		return fmt.Errorf(sys.MsgBotClientCreateFail, 5, err)
	}
	defer client.Close(context.Background())

	if skipReg {
		sys.LogInfo(sys.MsgBotSkipReg)
	} else {
		sys.SafeGo(func() {
			if err := sys.RegisterCommands(client, cfg.GuildID, forceReg); err != nil {
				sys.LogError(sys.MsgBotRegisterFail, err)
			}
		})
	}

	sys.LogInfo(sys.MsgBotStarting, sys.GetProjectName())
	if err := client.OpenGateway(ctx); err != nil {
		return fmt.Errorf(sys.MsgBotGatewayFail, err)
	}

	<-ctx.Done()
	sys.LogInfo(sys.MsgBotShutdown, sys.GetProjectName())
	sys.LogInfo(sys.MsgDaemonShutdown)
	sys.ShutdownDaemons(context.Background())
	return nil
}
