package stream

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/cadenza-audio/cadenza/internal/audio"
)

// PCMHandler streams the monitor mix as chunked raw PCM (s16le, 48kHz,
// stereo). Meant for local tooling; anything that can read a pipe can
// read this.
type PCMHandler struct {
	broadcaster *Broadcaster
	log         *logrus.Logger
}

func NewPCMHandler(b *Broadcaster, log *logrus.Logger) *PCMHandler {
	return &PCMHandler{broadcaster: b, log: log}
}

func (h *PCMHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "audio/L16;rate=48000;channels=2")
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Header().Set("Connection", "close")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	listener := h.broadcaster.Subscribe()
	defer h.broadcaster.Unsubscribe(listener)

	h.log.WithField("listeners", h.broadcaster.ListenerCount()).Info("pcm monitor connected")
	defer h.log.Info("pcm monitor disconnected")

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-listener.done:
			return
		case block, ok := <-listener.C:
			if !ok {
				return
			}
			pcm := audio.Int16ToBytes(audio.FloatsToInt16(block))
			if _, err := w.Write(pcm); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
