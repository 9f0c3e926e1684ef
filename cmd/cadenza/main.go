package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cadenza-audio/cadenza/internal/audio"
	"github.com/cadenza-audio/cadenza/internal/bus"
	"github.com/cadenza-audio/cadenza/internal/config"
	"github.com/cadenza-audio/cadenza/internal/engine"
	"github.com/cadenza-audio/cadenza/internal/stream"
)

func main() {
	cfg := config.Load()
	log := logrus.New()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("cadenza starting up...")

	eng, err := engine.New(cfg, engine.Deps{})
	if err != nil {
		log.Fatalf("engine start failed: %v", err)
	}
	defer eng.Close()

	// Post office: websocket fan-out when a port is configured, debug
	// logging otherwise.
	if cfg.PostOfficePort > 0 {
		sink, err := bus.NewSocketSink(cfg.PostOfficePort, log)
		if err != nil {
			log.Fatalf("post office failed: %v", err)
		}
		defer sink.Close()
		eng.SetSink(sink)
		log.Infof("post office live on %s", sink.Addr())
	} else {
		eng.SetCallbackSink(func(payload []byte) {
			log.WithField("notification", string(payload)).Debug("engine notification")
		})
	}

	// Pull loop: one block every 20ms, fanned out to monitor listeners.
	blocks := make(chan []float32, 16)
	broadcaster := stream.NewBroadcaster()
	go broadcaster.Run(ctx, blocks)
	go func() {
		ticker := time.NewTicker(audio.BlockDuration)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				buf := make([]float32, audio.BlockSamples)
				if code := eng.Render(buf, audio.BlockFrames); code != engine.RenderOK {
					log.WithField("code", code).Warn("render fault, block is best-effort")
				}
				select {
				case blocks <- buf:
				default:
				}
			}
		}
	}()

	webrtcHandler := stream.NewWebRTCHandler(broadcaster, log)

	var nextRequest atomic.Int64

	mux := http.NewServeMux()
	mux.Handle("/monitor.pcm", stream.NewPCMHandler(broadcaster, log))
	mux.Handle("/offer", webrtcHandler)

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		faders := make([]float64, audio.NumTracks)
		for i := range faders {
			faders[i], _ = eng.Fader(i)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		json.NewEncoder(w).Encode(map[string]any{
			"beat":             eng.Beat(),
			"tempo":            eng.Tempo(),
			"faders":           faders,
			"pcm_listeners":    broadcaster.ListenerCount(),
			"webrtc_listeners": webrtcHandler.PeerCount(),
		})
	})

	mux.HandleFunc("/api/parameters", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		fmt.Fprint(w, eng.AudioParametersInfo())
	})

	mux.HandleFunc("/api/fader", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			Track    int     `json:"track"`
			Target   float64 `json:"target"`
			Duration float64 `json:"duration_beats"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
		if err := eng.RampFader(req.Track, req.Target, req.Duration); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"ok": true})
	})

	mux.HandleFunc("/api/cue", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			Experience int64 `json:"experience"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
		eng.CuePlayback(req.Experience)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"ok": true})
	})

	mux.HandleFunc("/api/shuffle", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}
		eng.ShuffleAll()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"ok": true})
	})

	mux.HandleFunc("/api/sync", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}
		ids := []int64{nextRequest.Add(1), nextRequest.Add(1)}
		if err := eng.CacheExperienceList(ids[0]); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		if err := eng.CacheArtistList(ids[1]); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"ok": true, "requests": ids})
	})

	mux.HandleFunc("/api/experiences", func(w http.ResponseWriter, r *http.Request) {
		force := r.URL.Query().Get("force") == "1"
		out, err := eng.ExperiencesGetAll(r.Context(), force)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		fmt.Fprint(w, out)
	})

	mux.HandleFunc("/api/transport", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			var req struct {
				BeatPeriod float64 `json:"beat_period"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, "invalid request", http.StatusBadRequest)
				return
			}
			if err := eng.StartTransportMsgs(req.BeatPeriod); err != nil {
				http.Error(w, err.Error(), http.StatusConflict)
				return
			}
		case http.MethodDelete:
			eng.StopTransportMsgs()
		default:
			http.Error(w, "POST or DELETE required", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"ok": true})
	})

	addr := fmt.Sprintf(":%d", cfg.MonitorPort)
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		log.Info("shutting down...")
		server.Close()
	}()

	log.Infof("cadenza monitor live on %s", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("HTTP server error: %v", err)
	}
}
