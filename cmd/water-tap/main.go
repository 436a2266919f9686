// Command water-tap drives a motorized water valve on behalf of a MySensors
// controller reached through an MQTT gateway.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/sweeney/water-tap/internal/actuator"
	"github.com/sweeney/water-tap/internal/gpio"
	"github.com/sweeney/water-tap/internal/metrics"
	"github.com/sweeney/water-tap/internal/mqtt"
	"github.com/sweeney/water-tap/internal/status"
	"github.com/sweeney/water-tap/internal/tap"
	"github.com/sweeney/water-tap/internal/web"
)

func main() {
	cfg, err := parseConfig(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if cfg.PrintConfig {
		out, err := cfg.printable()
		if err != nil {
			log.Fatalf("print config: %v", err)
		}
		os.Stdout.Write(out)
		return
	}

	if err := run(cfg); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func run(cfg config) error {
	// Outputs first: the valve must be in its safe state before anything
	// else can fail.
	out, err := gpio.NewRealWriter(cfg.Chip, cfg.pins())
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer out.Close()

	tracker := status.NewTracker(time.Now(), cfg.statusConfig())
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	transport, err := mqtt.NewRealTransport(mqtt.Config{
		Broker:         cfg.Broker,
		ClientID:       clientID(cfg.NodeID),
		Username:       cfg.Username,
		Password:       cfg.Password,
		NodeID:         cfg.NodeID,
		TopicIn:        cfg.TopicIn,
		TopicOut:       cfg.TopicOut,
		ConnectTimeout: cfg.ConnectTimeout,
		OnStatus: func(connected bool) {
			tracker.SetMQTTConnected(connected)
			m.SetConnected(connected)
		},
	})
	if err != nil {
		return fmt.Errorf("init mqtt: %w", err)
	}
	defer transport.Close()

	ctrl := tap.New(cfg.tapConfig(),
		actuator.NewDriver(out, cfg.Trip, nil),
		transport,
		tap.Options{
			Indicator: cfg.leds(out, nil),
			Tracker:   tracker,
			Metrics:   m,
		})
	if err := ctrl.PowerOn(); err != nil {
		return fmt.Errorf("power on: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	s, err := connectUntilSignal(transport.Connect, sigCh)
	if s != nil {
		log.Printf("received %v while connecting, shutting down", s)
		if err == nil {
			publishEvent(transport, tracker, "SHUTDOWN", signalName(s))
		}
		return nil
	}
	if err != nil {
		return err
	}

	publishEvent(transport, tracker, "STARTUP", "")

	if cfg.HTTP != "" {
		srv := web.New(cfg.HTTP, tracker, reg)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("http status server listening on %s", cfg.HTTP)
	}

	if err := ctrl.Present(); err != nil {
		log.Printf("presentation: %v", err)
	}

	log.Printf("started: node=%d trip=%v wait=%v wake=%v broker=%s",
		cfg.NodeID, cfg.Trip, cfg.Wait, cfg.Wake, cfg.Broker)

	return runLoop(ctrl, transport, tracker, sigCh)
}

// connectUntilSignal runs connect, cancelling it if a signal arrives first.
// It returns the signal it consumed, if any. A signal it did not consume is
// still in sig for the caller.
func connectUntilSignal(connect func(context.Context) error, sig <-chan os.Signal) (os.Signal, error) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	taken := make(chan os.Signal, 1)
	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		select {
		case s := <-sig:
			taken <- s
			cancel()
		case <-done:
		}
	}()

	err := connect(ctx)
	close(done)
	<-exited

	select {
	case s := <-taken:
		return s, err
	default:
		return nil, err
	}
}

// runLoop runs wake cycles until a signal arrives, then lets the current
// transition finish and announces the shutdown.
func runLoop(ctrl *tap.Controller, transport mqtt.Transport, tracker *status.Tracker, sig <-chan os.Signal) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- ctrl.Run(ctx)
	}()

	var s os.Signal
	select {
	case s = <-sig:
		log.Printf("received %v, shutting down", s)
		cancel()
	case err := <-done:
		return err
	}

	err := <-done
	publishEvent(transport, tracker, "SHUTDOWN", signalName(s))
	return err
}

func publishEvent(transport mqtt.Transport, tracker *status.Tracker, event, reason string) {
	if c, ok := transport.(mqtt.ConnectionStatus); ok {
		tracker.SetMQTTConnected(c.IsConnected())
	}
	snap := tracker.Snapshot()
	ev := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      event,
		Reason:     reason,
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, event, reason),
	}
	if err := transport.PublishSystem(ev); err != nil {
		log.Printf("failed to publish %s event: %v", event, err)
		return
	}
	log.Printf("published %s event", event)
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}

// clientID is unique per process so a restarted node never collides with
// its own stale session on the broker.
func clientID(node int) string {
	return fmt.Sprintf("water-tap-%d-%s", node, uuid.NewString()[:8])
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}
