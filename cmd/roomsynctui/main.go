package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/matheus3301/roomsync/internal/bus"
	"github.com/matheus3301/roomsync/internal/chat"
	"github.com/matheus3301/roomsync/internal/daemon"
	"github.com/matheus3301/roomsync/internal/engine"
	"github.com/matheus3301/roomsync/internal/profile"
	"github.com/matheus3301/roomsync/internal/tui"
)

func main() {
	profileFlag := pflag.StringP("profile", "p", "", "profile name (overrides config default)")
	offline := pflag.Bool("offline", false, "run against an in-process broker with a sample room")
	pflag.Parse()

	name := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(name); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	var (
		eng    *engine.Engine
		b      *bus.Bus
		logger *zap.Logger
	)
	app := fx.New(
		daemon.Core(daemon.Params{Profile: name, Process: "roomsynctui", Offline: *offline}),
		fx.Populate(&eng, &b, &logger),
		fx.NopLogger,
	)
	if err := app.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	startCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if *offline && len(eng.Rooms().RoomIDs()) == 0 {
		self := eng.Self()
		eng.AddRoom(chat.RoomSummary{
			ID:        "general",
			Type:      chat.RoomChannel,
			Name:      "general",
			CreatedAt: time.Now(),
		}, chat.Member{UserID: self.UserID, RoomID: "general", Role: chat.RoleOwner, Notify: chat.NotifyAll})
	}

	runErr := tui.NewApp(eng, b, name, logger.Named("tui")).Run()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown: %v\n", err)
	}
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", runErr)
		os.Exit(1)
	}
}
