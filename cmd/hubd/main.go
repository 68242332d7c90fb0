package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jhump/protoreflect/dynamic"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"telemetry-hub/internal/alertlog"
	"telemetry-hub/internal/bus/embeddednats"
	"telemetry-hub/internal/bus/natsjs"
	"telemetry-hub/internal/core/registry"
	"telemetry-hub/internal/core/webui"
	"telemetry-hub/internal/dispatch"
	"telemetry-hub/internal/events"
	"telemetry-hub/internal/ingest"
	"telemetry-hub/internal/logging"
	"telemetry-hub/internal/policy"
	"telemetry-hub/internal/session"
	"telemetry-hub/internal/settings"
	"telemetry-hub/internal/transport/ws"
	"telemetry-hub/internal/version"
)

func policyConfig(p settings.Policies) policy.Config {
	return policy.Config{
		TemperatureThreshold: p.TemperatureThreshold,
		WattageThreshold:     p.WattageThreshold,
		MotionNormal:         p.MotionNormal,
	}
}

func main() {
	cfgStore, err := settings.Open("data")
	if err != nil {
		panic(err)
	}
	cfg := cfgStore.Get()

	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	startedAt := time.Now()
	defer func() { _ = log.Sync() }()

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Embedded NATS (optional) — start before any client connections.
	var embMu sync.Mutex
	var emb *embeddednats.Server
	startEmbedded := func(s settings.Settings) {
		embMu.Lock()
		defer embMu.Unlock()
		if emb != nil {
			emb.Shutdown()
			emb = nil
		}
		if !s.EmbeddedNATS.Enabled {
			return
		}
		server, err := embeddednats.Start(embeddednats.Config{
			Host:     s.EmbeddedNATS.Host,
			Port:     s.EmbeddedNATS.Port,
			HTTPPort: s.EmbeddedNATS.HTTPPort,
			StoreDir: s.EmbeddedNATS.StoreDir,
		})
		if err != nil {
			log.Warn("embedded nats start failed", zap.Error(err))
			return
		}
		emb = server
		log.Info("embedded nats started",
			zap.String("host", s.EmbeddedNATS.Host),
			zap.Int("port", s.EmbeddedNATS.Port),
		)
	}
	startEmbedded(cfg)

	schema, err := events.LoadSchema()
	if err != nil {
		log.Fatal("load proto schema", zap.Error(err))
	}

	reg := registry.NewStore(cfg.ChannelDepth)
	policies := policy.NewSource(policy.NewRegistry(policyConfig(cfg.Policies)))
	dispatcher := dispatch.New(reg, schema, log)
	ingestPath := ingest.New(policies, dispatcher, log)
	sessions := session.New(reg, log)

	deviceWS := ws.NewDeviceHandler(ingestPath, log)
	alertWS := ws.NewAlertHandler(sessions, log)

	recent := alertlog.New(200)

	// NATS is optional at runtime: the hub must serve clients even if the
	// bus is down — only the alert mirror and /api/alerts go quiet.
	var natsMu sync.RWMutex
	var natsClient *natsjs.Client
	var natsConnected atomic.Bool
	var natsLastErr atomic.Value // string

	reconnectCh := make(chan struct{}, 1)
	requestReconnect := func() {
		select {
		case reconnectCh <- struct{}{}:
		default:
		}
	}

	// consumer loop (starts when connected)
	startConsumer := func(c *natsjs.Client) {
		ctx := rootCtx
		consumer, err := c.NewPullConsumer("hub-alerts", events.DomainAlert+".*", 4096)
		if err != nil {
			natsLastErr.Store(err.Error())
			return
		}
		go func() {
			for natsConnected.Load() {
				select {
				case <-ctx.Done():
					return
				default:
				}
				msgs, err := consumer.Fetch(ctx, 256, 2*time.Second)
				if err != nil {
					// An empty fetch surfaces as a deadline error and has
					// already waited; anything else backs off before retrying.
					if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, nats.ErrTimeout) {
						continue
					}
					select {
					case <-ctx.Done():
						return
					case <-time.After(2 * time.Second):
					}
					continue
				}
				for _, m := range msgs {
					envMsg, err := events.UnmarshalEnvelope(schema, m.Data())
					if err != nil {
						_ = m.Term()
						continue
					}

					subj := envMsg.GetFieldByName("subject").(string)
					if subj != events.AlertRaised {
						_ = m.Ack()
						continue
					}
					payload, ok := envMsg.GetFieldByName("alert_raised").(*dynamic.Message)
					if !ok || payload == nil {
						_ = m.Term()
						continue
					}
					recent.Append(alertlog.Entry{
						ID:         envMsg.GetFieldByName("id").(string),
						DeviceID:   payload.GetFieldByName("device_id").(string),
						Message:    payload.GetFieldByName("message").(string),
						Timestamp:  payload.GetFieldByName("timestamp").(string),
						Fanout:     int(payload.GetFieldByName("fanout").(int32)),
						ReceivedAt: time.Now().UTC(),
					})
					_ = m.Ack()
				}
			}
		}()
	}

	// connect loop
	go func() {
		for {
			select {
			case <-rootCtx.Done():
				natsMu.Lock()
				if natsClient != nil {
					_ = natsClient.Close()
					natsClient = nil
				}
				natsMu.Unlock()
				return
			default:
			}
			cfg := cfgStore.Get()

			c, err := natsjs.Connect(natsjs.Config{
				URL:     cfg.NATSURL,
				Prefix:  cfg.NATSPrefix,
				Timeout: 2 * time.Second,
			})
			if err != nil {
				natsConnected.Store(false)
				natsLastErr.Store(err.Error())
				select {
				case <-rootCtx.Done():
					return
				case <-time.After(2 * time.Second):
					continue
				case <-reconnectCh:
					continue
				}
			}
			if err := c.EnsureStreams(); err != nil {
				_ = c.Close()
				natsConnected.Store(false)
				natsLastErr.Store(err.Error())
				select {
				case <-rootCtx.Done():
					return
				case <-time.After(2 * time.Second):
					continue
				case <-reconnectCh:
					continue
				}
			}

			natsMu.Lock()
			if natsClient != nil {
				_ = natsClient.Close()
			}
			natsClient = c
			natsMu.Unlock()

			natsConnected.Store(true)
			natsLastErr.Store("")
			dispatcher.SetPublisher(c)
			startConsumer(c)

			// wait for explicit reconnect request
			select {
			case <-rootCtx.Done():
				natsConnected.Store(false)
				dispatcher.SetPublisher(nil)
				natsMu.Lock()
				if natsClient != nil {
					_ = natsClient.Close()
					natsClient = nil
				}
				natsMu.Unlock()
				return
			case <-reconnectCh:
			}
			natsConnected.Store(false)
			dispatcher.SetPublisher(nil)
		}
	}()

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/api/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "text/plain")
		_, _ = w.Write([]byte(version.String()))
	})
	r.Get("/api/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "application/json")
		errStr, _ := natsLastErr.Load().(string)
		embMu.Lock()
		embOn := emb != nil
		embMu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{
			"nats_connected": natsConnected.Load(),
			"nats_error":     errStr,
			"embedded_nats":  embOn,
			"started_at":     startedAt.Format(time.RFC3339),
			"uptime_s":       int64(time.Since(startedAt).Seconds()),
			"device_streams": deviceWS.Active(),
			"alert_sessions": alertWS.Active(),
			"readings":       ingestPath.Readings(),
			"alerts_raised":  ingestPath.Alerts(),
		})
	})
	r.Get("/api/subscriptions", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"subscriptions": reg.Snapshot(),
			"attached":      reg.Attached(),
		})
	})
	r.Get("/api/alerts", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "application/json")
		_ = json.NewEncoder(w).Encode(recent.List())
	})

	// Settings
	r.Get("/api/settings", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "application/json")
		_ = json.NewEncoder(w).Encode(cfgStore.Get())
	})
	r.Put("/api/settings", func(w http.ResponseWriter, r *http.Request) {
		var s settings.Settings
		if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		// basic normalization/defaults
		if s.Version == 0 {
			s.Version = 1
		}
		if s.HTTPAddr == "" {
			s.HTTPAddr = ":8080"
		}
		if s.LogLevel == "" {
			s.LogLevel = "info"
		}
		if s.NATSURL == "" {
			s.NATSURL = "nats://127.0.0.1:14222"
		}
		if s.NATSPrefix == "" {
			s.NATSPrefix = "hub"
		}
		if s.EmbeddedNATS.Host == "" {
			s.EmbeddedNATS.Host = "127.0.0.1"
		}
		if s.EmbeddedNATS.Port == 0 {
			s.EmbeddedNATS.Port = 14222
		}
		if s.EmbeddedNATS.HTTPPort == 0 {
			s.EmbeddedNATS.HTTPPort = 18222
		}
		if s.EmbeddedNATS.StoreDir == "" {
			s.EmbeddedNATS.StoreDir = "data/nats"
		}
		// ChannelDepth applies to channels created after restart; the
		// registry keeps the depth it was built with.
		if s.ChannelDepth <= 0 {
			s.ChannelDepth = 64
		}
		if err := cfgStore.Update(s); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		// New thresholds apply to readings evaluated from now on.
		policies.Swap(policy.NewRegistry(policyConfig(s.Policies)))
		startEmbedded(s)
		requestReconnect()
		w.Header().Set("content-type", "application/json")
		_ = json.NewEncoder(w).Encode(cfgStore.Get())
	})

	// Exit (ops convenience: UI -> Exit)
	exitCh := make(chan struct{}, 1)
	r.Post("/api/admin/exit", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("bye"))
		select {
		case exitCh <- struct{}{}:
		default:
		}
	})

	r.Get("/api/stream/alerts", func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusBadRequest)
			return
		}

		w.Header().Set("content-type", "text/event-stream")
		w.Header().Set("cache-control", "no-cache")
		w.Header().Set("connection", "keep-alive")

		ctx := r.Context()
		ch := recent.Watch(ctx)

		send := func() {
			b, _ := json.Marshal(recent.List())
			_, _ = fmt.Fprintf(w, "event: alerts\ndata: %s\n\n", b)
			flusher.Flush()
		}
		send()

		heartbeat := time.NewTicker(15 * time.Second)
		defer heartbeat.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ch:
				send()
			case <-heartbeat.C:
				_, _ = fmt.Fprint(w, "event: ping\ndata: 1\n\n")
				flusher.Flush()
			}
		}
	})

	r.Get("/api/stream/subscriptions", func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusBadRequest)
			return
		}

		w.Header().Set("content-type", "text/event-stream")
		w.Header().Set("cache-control", "no-cache")
		w.Header().Set("connection", "keep-alive")

		ctx := r.Context()
		ch := reg.Watch(ctx)

		send := func() {
			b, _ := json.Marshal(reg.Snapshot())
			_, _ = fmt.Fprintf(w, "event: subscriptions\ndata: %s\n\n", b)
			flusher.Flush()
		}
		send()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ch:
				send()
			}
		}
	})

	// Streaming endpoints
	r.Get("/ws/device", deviceWS.ServeHTTP)
	r.Get("/ws/alerts", alertWS.ServeHTTP)

	// UI (embedded)
	if uiFS, err := webui.FS(); err == nil {
		fileServer := http.FileServer(http.FS(uiFS))
		r.Handle("/*", fileServer)
	} else {
		log.Warn("web ui disabled", zap.Error(err))
	}

	addr := cfgStore.Get().HTTPAddr
	ln, actualAddr, err := listenWithFallback(addr)
	if err != nil {
		log.Fatal("http listen", zap.String("addr", addr), zap.Error(err))
	}
	if actualAddr != addr {
		log.Warn("http addr was busy; switched", zap.String("from", addr), zap.String("to", actualAddr))
		_ = cfgStore.Patch(func(s *settings.Settings) { s.HTTPAddr = actualAddr })
	}
	srv := &http.Server{Handler: r}
	go func() {
		log.Info("hub http listening", zap.String("addr", actualAddr))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http serve", zap.Error(err))
			select {
			case exitCh <- struct{}{}:
			default:
			}
		}
	}()

	// Wait for exit signal
	select {
	case <-rootCtx.Done():
	case <-exitCh:
	}

	// Stop NATS client
	natsConnected.Store(false)
	dispatcher.SetPublisher(nil)
	natsMu.Lock()
	if natsClient != nil {
		_ = natsClient.Close()
		natsClient = nil
	}
	natsMu.Unlock()

	// Stop embedded NATS
	embMu.Lock()
	if emb != nil {
		emb.Shutdown()
		emb = nil
	}
	embMu.Unlock()

	// Stop HTTP (closes websocket streams; sessions tear themselves down)
	ctxTimeout, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	_ = srv.Shutdown(ctxTimeout)
	cancel()
}

func listenWithFallback(addr string) (net.Listener, string, error) {
	ln, err := net.Listen("tcp", addr)
	if err == nil {
		return ln, addr, nil
	}

	// Try port+1..port+20 on "address already in use" only.
	if !isAddrInUse(err) {
		return nil, "", err
	}

	host, portStr, splitErr := net.SplitHostPort(addr)
	if splitErr != nil {
		// handle ":8080" which SplitHostPort accepts, but keep safe
		if len(addr) > 0 && addr[0] == ':' {
			host = ""
			portStr = addr[1:]
		} else {
			return nil, "", err
		}
	}
	var port int
	_, _ = fmt.Sscanf(portStr, "%d", &port)
	if port == 0 {
		return nil, "", err
	}

	for i := 1; i <= 20; i++ {
		tryAddr := net.JoinHostPort(host, fmt.Sprintf("%d", port+i))
		ln, e := net.Listen("tcp", tryAddr)
		if e == nil {
			return ln, tryAddr, nil
		}
	}
	return nil, "", err
}

func isAddrInUse(err error) bool {
	// String match keeps this portable; the Windows message differs.
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "address already in use") ||
		strings.Contains(msg, "only one usage of each socket address")
}
