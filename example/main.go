package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jpalmerr/pulsefeed"
	"github.com/jpalmerr/pulsefeed/feeds/httpfeed"
)

var (
	Status      = pulsefeed.NewAttribute[string]("service.status", "Reported status")
	Up          = pulsefeed.NewAttribute[bool]("service.up", "Answers with 2xx")
	Connections = pulsefeed.NewAttribute[int]("db.connections", "Open connections")
	Latency     = pulsefeed.NewAttribute[time.Duration]("http.latency", "Request latency")
)

func main() {
	// start mock server (see mock_server.go)
	go StartMockServer(":9999")
	time.Sleep(100 * time.Millisecond)

	fleet, err := pulsefeed.New(
		pulsefeed.WithPort(8080),
		pulsefeed.WithAttributeCallback(func(c pulsefeed.AttributeChange) {
			if c.Attribute == Status.Name() {
				slog.Info("status sample", "entity", c.Entity, "value", c.Value)
			}
		}),
	)
	if err != nil {
		slog.Error("failed to create fleet", "error", err)
		os.Exit(1)
	}

	// 2 services x 2 envs = 4 entities, one stats feed each
	for _, svc := range []string{"users", "orders"} {
		for _, env := range []string{"prod", "staging"} {
			if err := addService(fleet, svc, env); err != nil {
				slog.Error("failed to add service", "svc", svc, "env", env, "error", err)
				os.Exit(1)
			}
		}
	}

	fmt.Println()
	fmt.Println("  pulsefeed demo")
	fmt.Println()
	fmt.Println("  Attributes:  http://localhost:8080/api/attributes")
	fmt.Println("  Live:        http://localhost:8080/api/sse")
	fmt.Println("  Metrics:     http://localhost:8080/metrics")
	fmt.Println()
	fmt.Println("  4 entities (2 services x 2 envs), each registering with")
	fmt.Println("  a mock coordinator before its stats are sampled.")
	fmt.Println()
	fmt.Println("  Press Ctrl+C to stop")
	fmt.Println()

	// set up context with signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := fleet.Run(ctx); err != nil {
		slog.Error("pulsefeed error", "error", err)
		os.Exit(1)
	}
}

func addService(fleet *pulsefeed.Fleet, svc, env string) error {
	id := svc + "-" + env
	entity, err := fleet.NewEntity(id)
	if err != nil {
		return err
	}

	feed, err := httpfeed.New(entity, "stats",
		fmt.Sprintf("http://localhost:9999/stats?svc=%s&env=%s", svc, env),
		httpfeed.WithTimeout(2*time.Second),
	)
	if err != nil {
		return err
	}

	guard, err := feed.RegisterWith("http://localhost:9999/register",
		[]byte(fmt.Sprintf(`{"id": %q}`, id)), 2*time.Second)
	if err != nil {
		return err
	}

	status := pulsefeed.NewPollConfig[*httpfeed.Response](Status, 5*time.Second).
		OnSuccess(httpfeed.Extract[string](nil, httpfeed.JSONPath("status"))).
		SuccessWhen(httpfeed.StatusIn(2, 5)).
		OnExceptionValue("unreachable").
		MustBuildPoll()

	up := pulsefeed.NewPollConfig[*httpfeed.Response](Up, 5*time.Second).
		SuccessWhen(httpfeed.IsSuccess).
		OnSuccess(func(*httpfeed.Response) (pulsefeed.Result[bool], error) {
			return pulsefeed.Value(true), nil
		}).
		OnFailureOrException(false).
		MustBuildPoll()

	connections := pulsefeed.NewPollConfig[*httpfeed.Response](Connections, 10*time.Second).
		SuccessWhen(httpfeed.IsSuccess).
		OnSuccess(httpfeed.Extract[int](nil, httpfeed.JSONPath("connections"))).
		MustBuildPoll()

	latency := pulsefeed.NewPollConfig[*httpfeed.Response](Latency, 5*time.Second).
		OnSuccess(httpfeed.Latency).
		MustBuildPoll()

	if err := httpfeed.PollGated(feed, guard, status); err != nil {
		return err
	}
	if err := httpfeed.PollGated(feed, guard, up); err != nil {
		return err
	}
	if err := httpfeed.PollGated(feed, guard, connections); err != nil {
		return err
	}
	return httpfeed.Poll(feed, latency)
}
