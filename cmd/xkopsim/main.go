package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/KevinKickass/xkop-gateway/internal/config"
	"github.com/KevinKickass/xkop-gateway/internal/logging"
	"github.com/KevinKickass/xkop-gateway/internal/simulator"
	"github.com/KevinKickass/xkop-gateway/internal/xkop"
	"github.com/jessevdk/go-flags"
	"go.uber.org/zap"
)

type Options struct {
	Listen   string        `short:"l" long:"listen" default:"0.0.0.0:8001" description:"TCP address to accept the gateway on"`
	Set      []string      `long:"set" description:"Initial idx=value memory entries"`
	Push     []string      `long:"push" description:"idx=value records pushed every --interval"`
	Interval time.Duration `long:"interval" default:"5s" description:"Push interval"`
	LogLevel string        `long:"log-level" default:"info" description:"debug, info, warn or error"`
	Quiet    bool          `short:"q" long:"quiet" description:"Do not read commands from stdin"`
}

func main() {
	var opts Options
	if _, err := flags.NewParser(&opts, flags.HelpFlag|flags.PassDoubleDash).Parse(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	logger, err := logging.New(config.LoggingConfig{Level: opts.LogLevel, Format: "console"}, nil)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(opts, logger); err != nil {
		logger.Fatal("Simulator failed", zap.Error(err))
	}
}

func run(opts Options, logger *zap.Logger) error {
	initial, err := xkop.ParseRecords(opts.Set)
	if err != nil {
		return err
	}
	push, err := xkop.ParseRecords(opts.Push)
	if err != nil {
		return err
	}

	ctrl := simulator.New(opts.Listen, logger)
	for _, r := range initial {
		ctrl.Set(r.Index, r.Value)
	}
	if err := ctrl.Listen(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if len(push) > 0 {
		go pushLoop(ctx, ctrl, push, opts.Interval, logger)
	}
	if !opts.Quiet {
		go commandLoop(ctx, ctrl, stop)
	}

	return ctrl.Serve(ctx)
}

func pushLoop(ctx context.Context, ctrl *simulator.Controller, records []xkop.Record, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ctrl.Push(records...); err != nil {
				logger.Debug("Push skipped", zap.Error(err))
			}
		}
	}
}

const help = `commands:
  send idx=value ...   push records to the client
  set idx=value ...    change memory without notifying
  get idx              print one memory entry
  list                 print all non-zero entries
  stats                print frame counters
  quit`

func commandLoop(ctx context.Context, ctrl *simulator.Controller, quit func()) {
	fmt.Println(help)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if err := execute(ctrl, fields[0], fields[1:]); err != nil {
			if errors.Is(err, errQuit) {
				quit()
				return
			}
			fmt.Println("error:", err)
		}
	}
}

var errQuit = errors.New("quit")

func execute(ctrl *simulator.Controller, cmd string, args []string) error {
	switch cmd {
	case "send", "push":
		records, err := xkop.ParseRecords(args)
		if err != nil {
			return err
		}
		for _, r := range records {
			ctrl.Set(r.Index, r.Value)
		}
		return ctrl.Push(records...)
	case "set":
		records, err := xkop.ParseRecords(args)
		if err != nil {
			return err
		}
		for _, r := range records {
			ctrl.Set(r.Index, r.Value)
		}
	case "get":
		if len(args) != 1 {
			return fmt.Errorf("usage: get idx")
		}
		r, err := xkop.ParseRecord(args[0] + "=0")
		if err != nil {
			return err
		}
		v := ctrl.Value(r.Index)
		fmt.Printf("%d = %d (0x%04X)\n", r.Index, v, v)
	case "list":
		values := ctrl.Values()
		idx := make([]int, 0, len(values))
		for i := range values {
			idx = append(idx, int(i))
		}
		sort.Ints(idx)
		for _, i := range idx {
			v := values[uint8(i)]
			fmt.Printf("%3d = %5d (0x%04X)\n", i, v, v)
		}
		if len(idx) == 0 {
			fmt.Println("memory empty")
		}
	case "stats":
		st := ctrl.Stats()
		fmt.Printf("in %d, out %d, dropped %d, connected %v\n", st.FramesIn, st.FramesOut, st.Dropped, ctrl.Connected())
	case "quit", "exit":
		return errQuit
	case "help":
		fmt.Println(help)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}
