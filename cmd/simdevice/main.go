package main

import (
	"context"
	"flag"
	"math/rand"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"telemetry-hub/internal/logging"
	"telemetry-hub/internal/telemetry"
)

// simdevice streams randomized readings from three simulated devices over a
// single device-ingestion connection: a thermometer every 3s, a smart plug
// every 1s and a motion sensor every 5s.
func main() {
	addr := flag.String("addr", "127.0.0.1:8080", "hub host:port")
	flag.Parse()

	log, err := logging.New("info")
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	u := url.URL{Scheme: "ws", Host: *addr, Path: "/ws/device"}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal("dial hub", zap.String("url", u.String()), zap.Error(err))
	}
	defer conn.Close()
	log.Info("device stream connected", zap.String("url", u.String()))

	// Reader: surfaces the terminal status frame and keeps control frames
	// (pings) flowing.
	go func() {
		for {
			var resp struct {
				Status string `json:"status"`
			}
			if err := conn.ReadJSON(&resp); err != nil {
				return
			}
			log.Info("stream response", zap.String("status", resp.Status))
		}
	}()

	queue := make(chan telemetry.Reading, 16)

	// Single writer drains the queue so producers never interleave frames.
	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		for {
			select {
			case <-ctx.Done():
				return
			case r := <-queue:
				if err := conn.WriteJSON(r); err != nil {
					log.Error("write reading", zap.Error(err))
					stop()
					return
				}
			}
		}
	}()

	emit := func(r telemetry.Reading) {
		select {
		case queue <- r:
		case <-ctx.Done():
		}
	}

	go produce(ctx, 3*time.Second, func(now string) telemetry.Reading {
		v := 60 + float64(rand.Intn(300))*0.1
		return telemetry.Reading{DeviceID: "therm_1", DeviceType: string(telemetry.Thermometer), Timestamp: now, Temperature: &v}
	}, emit)
	go produce(ctx, 1*time.Second, func(now string) telemetry.Reading {
		v := float64(rand.Intn(15000)) * 0.1
		return telemetry.Reading{DeviceID: "plug_2", DeviceType: string(telemetry.SmartPlug), Timestamp: now, Wattage: &v}
	}, emit)
	go produce(ctx, 5*time.Second, func(now string) telemetry.Reading {
		v := rand.Intn(2) == 1
		return telemetry.Reading{DeviceID: "motion_3", DeviceType: string(telemetry.MotionSensor), Timestamp: now, Motion: &v}
	}, emit)

	<-ctx.Done()

	// Close the stream cleanly so the hub answers with its terminal status.
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	select {
	case <-writeDone:
	case <-time.After(time.Second):
	}
}

func produce(ctx context.Context, every time.Duration, make func(now string) telemetry.Reading, emit func(telemetry.Reading)) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			emit(make(time.Now().UTC().Format(time.RFC3339)))
		}
	}
}
