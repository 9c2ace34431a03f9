package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/mudler/roomkeeper/core/behavior"
	"github.com/mudler/roomkeeper/core/inactivity"
	"github.com/mudler/roomkeeper/core/rooms"
	"github.com/mudler/roomkeeper/core/sse"
	"github.com/mudler/roomkeeper/pkg/config"
	"github.com/mudler/roomkeeper/services"
	"github.com/mudler/roomkeeper/services/commands"
	"github.com/mudler/roomkeeper/services/connectors"
	"github.com/mudler/roomkeeper/webui"
	"github.com/mudler/xlog"
)

var stateDir = os.Getenv("ROOMKEEPER_STATE_DIR")
var connectorsEnv = os.Getenv("ROOMKEEPER_CONNECTORS")
var cadence = os.Getenv("ROOMKEEPER_CADENCE")
var fillAfter = os.Getenv("ROOMKEEPER_FILL_AFTER")
var leaveAfter = os.Getenv("ROOMKEEPER_LEAVE_AFTER")
var farewell = os.Getenv("ROOMKEEPER_FAREWELL")
var dispatchTimeout = os.Getenv("ROOMKEEPER_DISPATCH_TIMEOUT")
var parallelism = os.Getenv("ROOMKEEPER_PARALLELISM")
var homeRooms = os.Getenv("ROOMKEEPER_HOME_ROOMS")
var quietRooms = os.Getenv("ROOMKEEPER_QUIET_ROOMS")
var commandPrefix = os.Getenv("ROOMKEEPER_COMMAND_PREFIX")
var imgurClientID = os.Getenv("ROOMKEEPER_IMGUR_CLIENT_ID")
var listenAddr = os.Getenv("ROOMKEEPER_LISTEN")
var apiKeysEnv = os.Getenv("ROOMKEEPER_API_KEYS")

func init() {
	if stateDir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			panic(err)
		}
		stateDir = filepath.Join(cwd, "state")
	}
	if cadence == "" {
		cadence = inactivity.DefaultCadence
	}
	if fillAfter == "" {
		fillAfter = "6h"
	}
	if leaveAfter == "" {
		leaveAfter = "72h"
	}
	if dispatchTimeout == "" {
		dispatchTimeout = "30s"
	}
	if parallelism == "" {
		parallelism = "8"
	}
	if commandPrefix == "" {
		commandPrefix = commands.DefaultPrefix
	}
	if listenAddr == "" {
		listenAddr = ":3000"
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		xlog.Error("roomkeeper stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// make sure state dir exists
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return err
	}

	fill, err := time.ParseDuration(fillAfter)
	if err != nil {
		return fmt.Errorf("ROOMKEEPER_FILL_AFTER: %w", err)
	}
	leave, err := time.ParseDuration(leaveAfter)
	if err != nil {
		return fmt.Errorf("ROOMKEEPER_LEAVE_AFTER: %w", err)
	}
	timeout, err := time.ParseDuration(dispatchTimeout)
	if err != nil {
		return fmt.Errorf("ROOMKEEPER_DISPATCH_TIMEOUT: %w", err)
	}
	workers, err := strconv.Atoi(parallelism)
	if err != nil {
		return fmt.Errorf("ROOMKEEPER_PARALLELISM: %w", err)
	}

	tags, err := rooms.NewJSONTagStore(filepath.Join(stateDir, "tags.json"))
	if err != nil {
		return err
	}
	if err := seedTags(tags, rooms.TagHome, homeRooms); err != nil {
		return err
	}
	if err := seedTags(tags, rooms.TagQuiet, quietRooms); err != nil {
		return err
	}

	configs, err := services.ParseConnectorConfigs(connectorsEnv)
	if err != nil {
		return fmt.Errorf("ROOMKEEPER_CONNECTORS: %w", err)
	}
	conns, err := services.Connectors(configs)
	if err != nil {
		return err
	}
	if len(conns) == 0 {
		xlog.Warn("No connectors configured, the agent will not join any room")
	}

	activity := rooms.NewActivityTracker()
	hub, err := connectors.NewHub(activity, conns...)
	if err != nil {
		return err
	}

	events := sse.NewBroadcaster(20)

	scheduler, err := newScheduler(hub, tags, events, fill, leave, timeout, workers)
	if err != nil {
		return err
	}

	router, err := newRouter(hub)
	if err != nil {
		return err
	}
	hub.Handle(router.Handle)

	if err := hub.Start(ctx); err != nil {
		xlog.Warn("Some connectors failed to start", "error", err)
	}

	scheduler.Start()
	defer scheduler.Stop()

	app, err := webui.NewApp(
		webui.WithScheduler(scheduler),
		webui.WithRooms(hub),
		webui.WithTags(tags),
		webui.WithEvents(events),
		webui.WithApiKeys(config.List(apiKeysEnv)...),
	)
	if err != nil {
		return err
	}

	listenErr := make(chan error, 1)
	go func() {
		xlog.Info("Status API listening", "address", listenAddr)
		listenErr <- app.Listen(listenAddr)
	}()

	select {
	case err := <-listenErr:
		return err
	case <-ctx.Done():
	}

	xlog.Info("Shutting down")
	return app.ShutdownWithTimeout(5 * time.Second)
}

func newScheduler(hub *connectors.Hub, tags rooms.TagStore, events *sse.Broadcaster, fill, leave, timeout time.Duration, workers int) (*inactivity.Scheduler, error) {
	scheduler, err := inactivity.NewScheduler(hub,
		inactivity.WithCadence(cadence),
		inactivity.WithDispatchTimeout(timeout),
		inactivity.WithParallelism(workers),
		inactivity.WithObserver(webui.DispatchEvents(events)),
	)
	if err != nil {
		return nil, err
	}

	fillSilence, err := behavior.NewFillSilence(hub, tags, fill)
	if err != nil {
		return nil, err
	}
	leaveRoom, err := behavior.NewLeaveRoom(hub, tags, leave, farewell)
	if err != nil {
		return nil, err
	}

	// fill-silence goes first, so a room reaching both thresholds in the
	// same pass hears the filler before the farewell
	for _, b := range []inactivity.Behavior{fillSilence, leaveRoom} {
		if err := scheduler.Register(b); err != nil {
			return nil, err
		}
	}
	return scheduler, nil
}

func newRouter(hub *connectors.Hub) (*commands.Router, error) {
	router := commands.NewRouter(hub, commands.WithPrefix(commandPrefix))

	slang, err := commands.NewSlang(nil)
	if err != nil {
		return nil, err
	}
	for _, c := range []commands.Command{commands.NewHTTPStatus(), slang} {
		if err := router.Register(c); err != nil {
			return nil, err
		}
	}

	if imgurClientID != "" {
		imgur, err := commands.NewImgur(map[string]string{"clientID": imgurClientID})
		if err != nil {
			return nil, err
		}
		router.Watch(imgur)
	}
	return router, nil
}

func seedTags(store rooms.TagStore, tag rooms.Tag, list string) error {
	for _, room := range config.List(list) {
		if err := store.AddTag(room, tag); err != nil {
			return fmt.Errorf("tagging %s as %s: %w", room, tag, err)
		}
	}
	return nil
}
