// Package engine is the control process of the generative audio core. It
// owns the beat clock, the fader ramps, the request registry and the
// notification bus, mediates between the host, the daughter cache, the
// mother database and the score collaborator, and exposes the single
// render entry point the host's audio thread pulls blocks through.
package engine

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/cadenza-audio/cadenza/internal/audio"
	"github.com/cadenza-audio/cadenza/internal/bus"
	"github.com/cadenza-audio/cadenza/internal/clock"
	"github.com/cadenza-audio/cadenza/internal/config"
	"github.com/cadenza-audio/cadenza/internal/fader"
	"github.com/cadenza-audio/cadenza/internal/mother"
	"github.com/cadenza-audio/cadenza/internal/request"
	"github.com/cadenza-audio/cadenza/internal/score"
	"github.com/cadenza-audio/cadenza/internal/store"
)

// tickQueueSize bounds the render-to-control tick channel. When the
// control goroutine falls behind, new ticks are dropped rather than
// blocking the audio thread.
const tickQueueSize = 128

// Deps are the collaborators an engine is built around. Zero values get
// working defaults: a silent score, an HTTP mother client, a file logger.
type Deps struct {
	Score  score.Score
	Syncer mother.Syncer
	Logger *logrus.Logger
	User   uuid.UUID
}

// Engine is the control process. All exported methods except Render are
// control-thread operations; Render alone is safe to call from the host's
// real-time audio thread.
type Engine struct {
	cfg     config.Config
	log     *logrus.Logger
	logPath string
	logFile *os.File

	clock    *clock.Clock
	faders   *fader.Engine
	bus      *bus.Bus
	registry *request.Registry
	score    score.Score
	syncer   mother.Syncer
	store    *store.Store

	userMu sync.RWMutex
	user   uuid.UUID

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool

	transport subscription
	rms       subscription
	ticks     chan tick

	// Render-thread-owned scratch. Only Render touches these.
	trackBufs    [audio.NumTracks][]float32
	transportTrk subTracker
	rmsTrk       subTracker
	sumsq        [audio.NumTracks]float64
	sumsqN       int
}

// New builds an engine from cfg, opens the daughter cache in the working
// directory and starts the control goroutine and request sweeper.
func New(cfg config.Config, deps Deps) (*Engine, error) {
	e := &Engine{
		cfg:    cfg,
		log:    deps.Logger,
		score:  deps.Score,
		syncer: deps.Syncer,
		user:   deps.User,
		clock:  clock.New(cfg.Tempo),
		faders: fader.New(),
		ticks:  make(chan tick, tickQueueSize),
	}
	if e.log == nil {
		e.log = e.openFileLogger()
	}
	if e.score == nil {
		e.score = score.Silent{}
	}
	if e.syncer == nil {
		e.syncer = mother.NewClient(cfg.MotherEndpoint, e.log)
	}

	db, err := store.Open(filepath.Join(cfg.WorkingDir, "daughter.db"), e.log)
	if err != nil {
		return nil, err
	}
	e.store = db

	e.bus = bus.New(e.log)
	e.registry = request.New(e.bus, e.log)
	e.transport.init()
	e.rms.init()

	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.wg.Add(2)
	go func() {
		defer e.wg.Done()
		e.registry.Run(e.ctx)
	}()
	go e.controlLoop()

	e.log.WithFields(logrus.Fields{
		"workingDir": cfg.WorkingDir,
		"tempo":      cfg.Tempo,
	}).Info("engine started")
	return e, nil
}

// Close stops the control goroutine and the sweeper, waits for in-flight
// collaborator calls and closes the daughter cache. The bus sink is owned
// by the host and is not closed here.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	e.cancel()
	e.wg.Wait()
	err := e.store.Close()
	if e.logFile != nil {
		e.logFile.Close()
	}
	return err
}

// SetSink swaps the notification sink. Pending requests resolve through
// whichever sink is installed when they complete.
func (e *Engine) SetSink(s bus.Sink) {
	e.bus.SetSink(s)
}

// SetCallbackSink installs a plain function sink.
func (e *Engine) SetCallbackSink(fn func(payload []byte)) {
	e.bus.SetSink(bus.NewCallbackSink(fn))
}

// SetLoginToken hands the auth token to the mother collaborator.
func (e *Engine) SetLoginToken(token string) {
	if c, ok := e.syncer.(interface{ SetToken(string) }); ok {
		c.SetToken(token)
	}
}

// SetLoginRole hands the database role to the mother collaborator.
func (e *Engine) SetLoginRole(role string) {
	if c, ok := e.syncer.(interface{ SetRole(string) }); ok {
		c.SetRole(role)
	}
}

// SetLoginUser sets the identity the preferences row is keyed by.
func (e *Engine) SetLoginUser(id uuid.UUID) {
	e.userMu.Lock()
	e.user = id
	e.userMu.Unlock()
}

func (e *Engine) currentUser() uuid.UUID {
	e.userMu.RLock()
	defer e.userMu.RUnlock()
	return e.user
}

// Beat returns the current beat position.
func (e *Engine) Beat() float64 {
	return e.clock.Now().Beat
}

// Tempo returns the current tempo in BPM.
func (e *Engine) Tempo() float64 {
	return e.clock.Now().Tempo
}

// SetTempo changes the tempo. Elapsed beats are preserved; only the
// beat-per-frame rate of future blocks changes.
func (e *Engine) SetTempo(bpm float64) {
	e.clock.SetTempo(bpm)
}

// Fader returns the current value of one user fader.
func (e *Engine) Fader(track int) (float64, error) {
	t := audio.Track(track)
	if !t.Valid() {
		return 0, ErrInvalidTrack
	}
	return e.faders.Get(t), nil
}

// RampFader starts (or queues) a linear ramp of the track fader to target
// over durationBeats beats.
func (e *Engine) RampFader(track int, target, durationBeats float64) error {
	t := audio.Track(track)
	if !t.Valid() {
		return ErrInvalidTrack
	}
	e.faders.Ramp(t, target, durationBeats, e.clock.Now().Beat)
	return nil
}

type audioParameter struct {
	Name    string     `json:"name"`
	Target  string     `json:"target"`
	Index   int        `json:"index"`
	Limits  [2]float64 `json:"limits"`
	Default float64    `json:"default"`
}

// AudioParametersInfo describes the seven user faders as a JSON array of
// parameter dictionaries for host UI construction.
func (e *Engine) AudioParametersInfo() string {
	params := make([]audioParameter, 0, audio.NumTracks)
	for i, name := range audio.TrackNames() {
		params = append(params, audioParameter{
			Name:    name,
			Target:  "user_fader",
			Index:   i,
			Limits:  [2]float64{fader.Min, fader.Max},
			Default: fader.DefaultValue,
		})
	}
	b, _ := json.Marshal(params)
	return string(b)
}

// Log writes a host message into the engine log. Levels run 0 (debug) to
// 5 (fault); out-of-range levels clamp.
func (e *Engine) Log(msg string, level int) {
	e.log.Log(logrusLevel(level), msg)
}

// LogFilename returns the path of the engine log file, or "" when logging
// to stderr.
func (e *Engine) LogFilename() string {
	return e.logPath
}

// controlLoop drains render-thread ticks and turns them into
// notifications. Sinks are never invoked on the audio thread.
func (e *Engine) controlLoop() {
	defer e.wg.Done()
	for {
		select {
		case <-e.ctx.Done():
			return
		case t := <-e.ticks:
			e.publishTick(t)
		}
	}
}

func (e *Engine) publishTick(t tick) {
	switch t.kind {
	case tickTransport:
		if !e.transport.state.Load().active {
			return
		}
		e.bus.Publish(bus.Notification{
			Tags: []string{"beat", "transport"},
			Result: map[string]any{
				"beat":    t.beat,
				"tempo":   t.snap.Tempo,
				"frame":   t.snap.Frame,
				"seconds": t.snap.Seconds,
				"time":    t.snap.Unix,
			},
		})
	case tickRMS:
		if !e.rms.state.Load().active {
			return
		}
		result := make(map[string]any, audio.NumTracks+1)
		result["beat"] = t.beat
		for i := 0; i < audio.NumTracks; i++ {
			result[trackKeys[i]] = t.rms[i]
		}
		e.bus.Publish(bus.Notification{
			Tags:   []string{"rms", "logger"},
			Result: result,
		})
	}
}

var trackKeys = [audio.NumTracks]string{"0", "1", "2", "3", "4", "5", "6"}

func (e *Engine) openFileLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrusLevel(e.cfg.LogLevel))
	path := filepath.Join(e.cfg.WorkingDir, "cadenza.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		log.WithError(err).Warn("cannot open log file, logging to stderr")
		return log
	}
	log.SetOutput(f)
	e.logPath = path
	e.logFile = f
	return log
}

// logrusLevel maps the 0 (debug) .. 5 (fault) host scale onto logrus.
func logrusLevel(level int) logrus.Level {
	switch {
	case level <= 0:
		return logrus.DebugLevel
	case level == 1:
		return logrus.InfoLevel
	case level == 2:
		return logrus.WarnLevel
	case level == 3:
		return logrus.ErrorLevel
	default:
		return logrus.FatalLevel
	}
}

// asyncTimeout is the per-request collaborator deadline.
func (e *Engine) asyncTimeout() time.Duration {
	if e.cfg.RequestTimeout > 0 {
		return e.cfg.RequestTimeout
	}
	return request.DefaultTimeout
}
