package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/vearne/pcaphub/biz"
	"github.com/vearne/pcaphub/capture"
	"github.com/vearne/pcaphub/config"
	"github.com/vearne/pcaphub/consts"
	slog "github.com/vearne/simplelog"
)

const banner string = `
                       __          __
   ____  _________ _  / /_  __  __/ /_
  / __ \/ ___/ __ ` + "`" + `/ / __ \/ / / / __ \
 / /_/ / /__/ /_/ / / / / / /_/ / /_/ /
/ .___/\___/\__,_/ /_/ /_/\__,_/_.___/
/_/
`

var settings = config.NewAppSettings()
var version bool
var exitCode int

var rootCmd = cobra.Command{
	Use:   "pcaphub interface1 interface2 [interface3 ...]",
	Short: "Repeats every frame received on one interface out of all the others",
	Long: `pcaphub joins two or more network interfaces into one broadcast domain,
like a physical multi-port hub. Requires *sudo* access:
                pcaphub eth0 eth1 eth2`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runHub,
}

func init() {
	flags := rootCmd.Flags()
	flags.BoolVar(&version, "version", false, "print version")

	flags.VarP(&config.MultiStringOption{Params: &settings.Interfaces}, "interface", "i",
		`interface to join, may be repeated, positional interfaces are appended:
                pcaphub -i eth0 -i eth1`)

	// #################### capture ######################
	flags.IntVar(&settings.SnapLen, "snaplen", settings.SnapLen,
		"maximum number of bytes captured and repeated per frame")
	flags.BoolVar(&settings.Promiscuous, "promisc", settings.Promiscuous,
		"capture frames not addressed to the interface")
	flags.DurationVar(&settings.ReadTimeout, "read-timeout", settings.ReadTimeout,
		"upper bound of a single blocking read")
	flags.Var(&settings.BufferSize, "buffer-size",
		"kernel capture buffer size, e.g. 8mb, 0 keeps the platform default")
	flags.Var(&settings.Engine, "engine", "capture engine: libpcap or raw_socket")
	flags.StringVar(&settings.BPFFilter, "bpf-filter", "",
		`only repeat frames matching the filter:
                pcaphub --bpf-filter="not stp" eth0 eth1`)

	// #################### runtime ######################
	flags.DurationVar(&settings.ExitAfter, "exit-after", 0, "exit after specified duration")
	flags.DurationVar(&settings.StopTimeout, "stop-timeout", settings.StopTimeout,
		"how long to wait for the capture workers on shutdown")
	flags.DurationVar(&settings.StatsInterval, "stats-interval", settings.StatsInterval,
		"how often capture statistics are collected, 0 disables it")
	flags.StringVar(&settings.HTTPStats, "http-stats", "",
		`expose counters on /debug/vars:
                pcaphub --http-stats="127.0.0.1:9100" eth0 eth1`)
}

func main() {
	fmt.Print(banner)

	adjustLogLevel()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(exitCode)
}

func runHub(cmd *cobra.Command, args []string) error {
	if version {
		fmt.Println("service: pcaphub")
		fmt.Println("Version", consts.Version)
		fmt.Println("BuildTime", consts.BuildTime)
		fmt.Println("GitTag", consts.GitTag)
		return nil
	}

	settings.Interfaces = append(settings.Interfaces, args...)
	if err := settings.Validate(); err != nil {
		if errors.Is(err, config.ErrTooFewInterfaces) {
			// nolint: errcheck
			cmd.Usage()
		}
		return err
	}

	printSettings(settings)

	set, err := biz.OpenHandleSet(settings.Interfaces, settings.PcapOptions(), capture.Open)
	if err != nil {
		return err
	}
	defer set.Close()

	if len(settings.HTTPStats) > 0 {
		go serveStats(settings.HTTPStats)
	}

	hub := biz.NewHub(set, settings)
	hub.Start(context.Background())
	slog.Info("hub started, %v", set)

	closeCh := make(chan int)
	if settings.ExitAfter > 0 {
		slog.Info("Running pcaphub for a duration of %s", settings.ExitAfter)

		time.AfterFunc(settings.ExitAfter, func() {
			slog.Info("run timeout %s", settings.ExitAfter)
			close(closeCh)
		})
	}
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGINT)
	select {
	case sig := <-c:
		slog.Info("received signal %v, exiting...", sig)
		exitCode = 1
	case <-closeCh:
		exitCode = 0
	case <-hub.Finished():
		slog.Warn("all capture workers returned")
		exitCode = 0
	}

	if err = hub.Stop(settings.StopTimeout); err != nil {
		slog.Warn("hub.Stop:%v", err)
	}
	return nil
}

func serveStats(addr string) {
	slog.Info("serving counters on http://%s/debug/vars", addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		slog.Error("serveStats, addr:%v, error:%v", addr, err)
	}
}

func printSettings(settings *config.AppSettings) {
	slog.Info("interfaces, %v", settings.Interfaces)
	slog.Info("engine, %v", settings.Engine.String())
	slog.Info("snaplen, %v", settings.SnapLen)
	slog.Info("promisc, %v", settings.Promiscuous)
	slog.Info("read-timeout, %v", settings.ReadTimeout)
	slog.Info("buffer-size, %v", settings.BufferSize.String())
	slog.Info("bpf-filter, %q", settings.BPFFilter)
	slog.Info("stats-interval, %v", settings.StatsInterval)
}

func adjustLogLevel() {
	logLevel := os.Getenv("SIMPLE_LOG_LEVEL")
	if len(logLevel) > 0 {
		return
	}
	slog.SetLevel(slog.InfoLevel)
}
