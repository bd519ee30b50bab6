package routing

import (
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/agentshell/internal/infrastructure/monitoring"
)

var (
	// ErrUnroutable means no live surface exists to receive an event.
	ErrUnroutable = errors.New("no live surface to deliver event")

	// ErrSurfaceClosed is returned by surfaces that can no longer deliver.
	ErrSurfaceClosed = errors.New("surface closed")

	// ErrRouterClosed is returned after Close.
	ErrRouterClosed = errors.New("router closed")
)

// Event kinds
const (
	KindNotification    = "notification"
	KindApproval        = "approval"
	KindUserInput       = "userInput"
	KindProcess         = "process"
	KindApprovalExpired = "approvalExpired"
)

// Event is what surfaces receive.
type Event struct {
	Kind      string          `json:"kind"`
	Type      string          `json:"type,omitempty"`
	Method    string          `json:"method,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Surface is a UI destination. The router never owns its lifecycle.
// Deliver must not block.
type Surface interface {
	ID() string
	Deliver(Event) error
	Alive() bool
}

// Delivery modes
const (
	ModeTargeted  = "targeted"
	ModeBroadcast = "broadcast"
	ModeGlobal    = "global"
	ModeDropped   = "dropped"
)

// Delivery reports where an event went.
type Delivery struct {
	Mode       string
	SurfaceIDs []string
}

// SurfaceInfo describes a registered surface.
type SurfaceInfo struct {
	ID       string   `json:"id"`
	Alive    bool     `json:"alive"`
	Sessions []string `json:"sessions"`
}

// Option configures a Router
type Option func(*Router)

// WithLogger sets the router logger
func WithLogger(l *zap.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMetrics attaches a metrics collector
func WithMetrics(m *monitoring.Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

// Router maps sessions to the surface that owns them and decides where
// each event goes. All state lives on one goroutine; every public method
// is a request to that goroutine.
type Router struct {
	logger  *zap.Logger
	metrics *monitoring.Metrics

	ops      chan func()
	quit     chan struct{}
	done     chan struct{}
	quitOnce sync.Once

	// owned by loop
	surfaces map[string]Surface
	order    []string
	sessions map[string]string
}

// NewRouter starts a router.
func NewRouter(opts ...Option) *Router {
	r := &Router{
		logger:   zap.NewNop(),
		ops:      make(chan func()),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		surfaces: make(map[string]Surface),
		sessions: make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	go r.loop()
	return r
}

func (r *Router) loop() {
	defer close(r.done)
	for {
		select {
		case op := <-r.ops:
			op()
		case <-r.quit:
			return
		}
	}
}

func (r *Router) do(fn func()) error {
	finished := make(chan struct{})
	select {
	case r.ops <- func() { fn(); close(finished) }:
	case <-r.done:
		return ErrRouterClosed
	}
	<-finished
	return nil
}

// Close stops the router. Surfaces are not touched.
func (r *Router) Close() {
	r.quitOnce.Do(func() { close(r.quit) })
	<-r.done
}

// Register adds a surface. A surface with the same id is replaced.
func (r *Router) Register(s Surface) error {
	return r.do(func() { r.register(s) })
}

func (r *Router) register(s Surface) {
	if _, ok := r.surfaces[s.ID()]; !ok {
		r.order = append(r.order, s.ID())
	}
	r.surfaces[s.ID()] = s
	r.metrics.SetSurfacesActive(len(r.surfaces))
}

// Unregister removes a surface and every session associated with it.
func (r *Router) Unregister(surfaceID string) error {
	return r.do(func() { r.unregister(surfaceID) })
}

func (r *Router) unregister(surfaceID string) {
	if _, ok := r.surfaces[surfaceID]; !ok {
		return
	}
	delete(r.surfaces, surfaceID)
	for i, sid := range r.order {
		if sid == surfaceID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	for session, owner := range r.sessions {
		if owner == surfaceID {
			delete(r.sessions, session)
		}
	}
	r.metrics.SetSurfacesActive(len(r.surfaces))
	r.logger.Debug("surface unregistered", zap.String("surface", surfaceID))
}

// Associate records s as the owner of sessionID, replacing any previous
// owner. s is registered if it is not already.
func (r *Router) Associate(sessionID string, s Surface) error {
	return r.do(func() {
		if cur, ok := r.surfaces[s.ID()]; !ok || cur != s {
			r.register(s)
		}
		if prev, ok := r.sessions[sessionID]; ok && prev != s.ID() {
			r.logger.Debug("session moved to another surface",
				zap.String("session", sessionID),
				zap.String("from", prev),
				zap.String("to", s.ID()),
			)
		}
		r.sessions[sessionID] = s.ID()
	})
}

// Dissociate forgets the owner of sessionID.
func (r *Router) Dissociate(sessionID string) error {
	return r.do(func() { delete(r.sessions, sessionID) })
}

// SurfaceFor returns the surface id associated with sessionID.
func (r *Router) SurfaceFor(sessionID string) (string, bool) {
	var owner string
	var ok bool
	_ = r.do(func() { owner, ok = r.sessions[sessionID] })
	return owner, ok
}

// RouteEvent delivers ev to the surface owning sessionID. With no owner, or
// an owner that is gone or refuses delivery, it broadcasts to every live
// surface instead. ErrUnroutable means nothing could take it.
func (r *Router) RouteEvent(sessionID string, ev Event) (Delivery, error) {
	var d Delivery
	var err error
	if derr := r.do(func() { d, err = r.route(sessionID, ev) }); derr != nil {
		return Delivery{Mode: ModeDropped}, derr
	}
	return d, err
}

func (r *Router) route(sessionID string, ev Event) (Delivery, error) {
	skip := ""
	if owner, ok := r.sessions[sessionID]; ok && sessionID != "" {
		s := r.surfaces[owner]
		if s != nil && s.Alive() {
			err := s.Deliver(ev)
			if err == nil {
				r.metrics.RecordRouted(ModeTargeted)
				return Delivery{Mode: ModeTargeted, SurfaceIDs: []string{owner}}, nil
			}
			r.logger.Debug("targeted delivery failed, broadcasting",
				zap.String("session", sessionID),
				zap.String("surface", owner),
				zap.Error(err),
			)
			skip = owner
			if errors.Is(err, ErrSurfaceClosed) {
				r.unregister(owner)
			}
		} else {
			r.unregister(owner)
		}
	}
	return r.broadcast(ev, ModeBroadcast, skip)
}

// RouteGlobal delivers ev to every live surface.
func (r *Router) RouteGlobal(ev Event) (Delivery, error) {
	var d Delivery
	var err error
	if derr := r.do(func() { d, err = r.broadcast(ev, ModeGlobal, "") }); derr != nil {
		return Delivery{Mode: ModeDropped}, derr
	}
	return d, err
}

func (r *Router) broadcast(ev Event, mode, skip string) (Delivery, error) {
	var delivered, dead []string
	for _, sid := range r.order {
		if sid == skip {
			continue
		}
		s := r.surfaces[sid]
		if !s.Alive() {
			dead = append(dead, sid)
			continue
		}
		if err := s.Deliver(ev); err != nil {
			r.logger.Debug("broadcast delivery failed",
				zap.String("surface", sid),
				zap.Error(err),
			)
			if errors.Is(err, ErrSurfaceClosed) {
				dead = append(dead, sid)
			}
			continue
		}
		delivered = append(delivered, sid)
	}
	for _, sid := range dead {
		r.unregister(sid)
	}

	if len(delivered) == 0 {
		r.metrics.RecordRouted(ModeDropped)
		r.logger.Warn("dropping unroutable event",
			zap.String("kind", ev.Kind),
			zap.String("method", ev.Method),
			zap.String("session", ev.SessionID),
		)
		return Delivery{Mode: ModeDropped}, ErrUnroutable
	}
	r.metrics.RecordRouted(mode)
	return Delivery{Mode: mode, SurfaceIDs: delivered}, nil
}

// Surfaces lists registered surfaces with the sessions each owns.
func (r *Router) Surfaces() []SurfaceInfo {
	var out []SurfaceInfo
	_ = r.do(func() {
		owned := make(map[string][]string)
		for session, owner := range r.sessions {
			owned[owner] = append(owned[owner], session)
		}
		for _, sid := range r.order {
			sessions := owned[sid]
			sort.Strings(sessions)
			if sessions == nil {
				sessions = []string{}
			}
			out = append(out, SurfaceInfo{ID: sid, Alive: r.surfaces[sid].Alive(), Sessions: sessions})
		}
	})
	return out
}

// Len returns the number of registered surfaces.
func (r *Router) Len() int {
	var n int
	_ = r.do(func() { n = len(r.surfaces) })
	return n
}
