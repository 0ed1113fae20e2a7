package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"doorknock/internal/auth"
	"doorknock/internal/config"
	"doorknock/internal/forward"
	"doorknock/internal/porthop"
)

type doorKey struct {
	port  uint16
	proto porthop.Protocol
}

// Server listens on every port of the knock range, grants sources that knock
// a full sequence of the current window, and forwards granted sources from
// the service port to the target. Door ports are indistinguishable from the
// rest of the range; a hit on any other port blocks the source.
type Server struct {
	cfg     config.ServerConfig
	target  string
	log     *slog.Logger
	tracker *auth.Tracker

	mu  sync.Mutex
	tcp map[doorKey]net.Listener
	udp map[doorKey]net.PacketConn

	now func() time.Time
}

func New(cfg config.ServerConfig, logger *slog.Logger) *Server {
	rotate := time.Duration(cfg.Knock.Params().RotateSeconds) * time.Second
	idle := rotate * time.Duration(2*cfg.SkewSteps+1)
	if cfg.Name != "" {
		logger = logger.With("route", cfg.Name)
	}
	return &Server{
		cfg:     cfg,
		target:  net.JoinHostPort(cfg.TargetAddr, itoa(cfg.TargetPort)),
		log:     logger,
		tracker: auth.NewTracker(time.Duration(cfg.GrantSeconds)*time.Second, idle),
		tcp:     map[doorKey]net.Listener{},
		udp:     map[doorKey]net.PacketConn{},
		now:     time.Now,
	}
}

func itoa(i int) string { return strconv.FormatInt(int64(i), 10) }

func (s *Server) addr(port int) string {
	return net.JoinHostPort(s.cfg.ListenIP, itoa(port))
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	svc, err := net.Listen("tcp", s.addr(s.cfg.ServicePort))
	if err != nil {
		return err
	}
	s.log.Info("service listening", "port", s.cfg.ServicePort, "target", s.target)
	go s.serviceLoop(svc)

	if err := s.listen(); err != nil {
		svc.Close()
		return err
	}
	if err := s.rotate(); err != nil {
		s.log.Error("rotation failed", "error", err)
	}

	p := s.cfg.Knock.Params()
	t := time.NewTimer(porthop.NextRotation(s.now(), p.RotateSeconds))
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			svc.Close()
			s.closeAll()
			return nil
		case <-t.C:
			if err := s.rotate(); err != nil {
				s.log.Error("rotation failed", "error", err)
			}
			s.tracker.Sweep()
			t.Reset(porthop.NextRotation(s.now(), p.RotateSeconds))
		}
	}
}

// protocols returns the door protocols the knock can produce that are
// observable through sockets.
func (s *Server) protocols() []porthop.Protocol {
	p := s.cfg.Knock.Params()
	if p.Proto != porthop.Dynamic {
		return []porthop.Protocol{porthop.Protocol(p.Proto)}
	}
	return []porthop.Protocol{porthop.ProtoTCP, porthop.ProtoUDP}
}

// listen opens the whole knock range on every served protocol.
func (s *Server) listen() error {
	p := s.cfg.Knock.Params()
	s.mu.Lock()
	defer s.mu.Unlock()

	failed := 0
	for port := int(p.PortMin); port <= int(p.PortMax); port++ {
		for _, proto := range s.protocols() {
			k := doorKey{port: uint16(port), proto: proto}
			if err := s.openDoor(k); err != nil {
				failed++
				s.log.Debug("open port failed", "port", k.port, "proto", k.proto.String(), "error", err)
			}
		}
	}
	if len(s.tcp)+len(s.udp) == 0 {
		return errors.New("no knock port could be opened")
	}
	if failed > 0 {
		s.log.Warn("knock ports unavailable", "failed", failed)
	}
	s.log.Info("knock range listening", "min", p.PortMin, "max", p.PortMax, "sockets", len(s.tcp)+len(s.udp))
	return nil
}

// rotate derives the window around the current slot and hands it to the
// tracker.
func (s *Server) rotate() error {
	p := s.cfg.Knock.Params()
	step := porthop.StepIndex(s.now(), p.RotateSeconds)
	seqs, err := porthop.Window(s.cfg.Knock.Digest(), p, step, s.cfg.SkewSteps)
	if err != nil {
		// no fallback sequence: nobody is admitted until derivation succeeds
		s.tracker.SetWindow(step, nil)
		return err
	}
	s.tracker.SetWindow(step-int64(s.cfg.SkewSteps), seqs)
	s.log.Info("doors rotated", "step", step, "doors", len(auth.Knockable(porthop.UniqueDoors(seqs...))))
	return nil
}

// openDoor must be called with s.mu held.
func (s *Server) openDoor(k doorKey) error {
	switch k.proto {
	case porthop.ProtoTCP:
		if _, ok := s.tcp[k]; ok {
			return nil
		}
		l, err := net.Listen("tcp", s.addr(int(k.port)))
		if err != nil {
			return err
		}
		s.tcp[k] = l
		go s.acceptLoop(k, l)
	case porthop.ProtoUDP:
		if _, ok := s.udp[k]; ok {
			return nil
		}
		c, err := net.ListenPacket("udp", s.addr(int(k.port)))
		if err != nil {
			return err
		}
		s.udp[k] = c
		go s.readLoop(k, c)
	default:
		return errors.New("unobservable protocol " + k.proto.String())
	}
	return nil
}

func (s *Server) acceptLoop(k doorKey, l net.Listener) {
	for {
		c, err := l.Accept()
		if err != nil {
			return
		}
		src := hostOf(c.RemoteAddr())
		c.Close()
		s.hit(src, k)
	}
}

func (s *Server) readLoop(k doorKey, c net.PacketConn) {
	buf := make([]byte, 1500)
	for {
		_, from, err := c.ReadFrom(buf)
		if err != nil {
			return
		}
		s.hit(hostOf(from), k)
	}
}

func (s *Server) hit(src string, k doorKey) {
	s.log.Debug("door hit", "source", src, "port", k.port, "proto", k.proto.String())
	g, ok := s.tracker.Observe(src, k.port, k.proto)
	if !ok {
		return
	}
	// the tracker window lags the clock until the next rotation
	step := porthop.StepIndex(s.now(), s.cfg.Knock.Params().RotateSeconds)
	if !porthop.ClampSkew(g.Slot, step, s.cfg.SkewSteps) {
		s.tracker.Revoke(src)
		s.log.Warn("grant outside window", "source", src, "grant", g.ID, "step", g.Slot, "current", step)
		return
	}
	s.log.Info("access granted", "source", src, "grant", g.ID, "step", g.Slot, "expires", g.Expires.UTC().Format(time.RFC3339))
}

func (s *Server) serviceLoop(l net.Listener) {
	for {
		c, err := l.Accept()
		if err != nil {
			return
		}
		go s.handleService(c)
	}
}

func (s *Server) handleService(c net.Conn) {
	src := hostOf(c.RemoteAddr())
	g, ok := s.tracker.Allowed(src)
	if !ok {
		s.log.Warn("service connection refused", "source", src)
		c.Close()
		return
	}
	s.log.Info("forwarding", "source", src, "grant", g.ID, "target", s.target)
	if err := forward.HandleTCP(c, s.target); err != nil {
		s.log.Warn("target unreachable", "target", s.target, "error", err)
	}
}

func (s *Server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, l := range s.tcp {
		l.Close()
		delete(s.tcp, k)
	}
	for k, c := range s.udp {
		c.Close()
		delete(s.udp, k)
	}
}

func hostOf(a net.Addr) string {
	host, _, err := net.SplitHostPort(a.String())
	if err != nil {
		return a.String()
	}
	return host
}
