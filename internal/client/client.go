package client

import (
	"context"
	"log/slog"
	"net"
	"strconv"
	"time"

	"doorknock/internal/auth"
	"doorknock/internal/config"
	"doorknock/internal/forward"
	"doorknock/internal/porthop"
)

// knockPayload is sent on UDP doors; the server only looks at the source.
var knockPayload = []byte{0}

type Client struct {
	cfg   config.ClientConfig
	log   *slog.Logger
	delay time.Duration
	now   func() time.Time
}

func New(cfg config.ClientConfig, logger *slog.Logger) *Client {
	if cfg.Name != "" {
		logger = logger.With("endpoint", cfg.Name)
	}
	return &Client{
		cfg:   cfg,
		log:   logger,
		delay: time.Duration(cfg.KnockDelayMS) * time.Millisecond,
		now:   time.Now,
	}
}

func itoa(i int) string { return strconv.FormatInt(int64(i), 10) }

// Doors derives the sequence for the current slot.
func (c *Client) Doors() ([]porthop.Door, int64, error) {
	p := c.cfg.Knock.Params()
	step := porthop.StepIndex(c.now(), p.RotateSeconds)
	doors, err := porthop.Generate(c.cfg.Knock.Digest(), p, step)
	return doors, step, err
}

// Knock hits every observable door of the current sequence in order.
func (c *Client) Knock(ctx context.Context) error {
	doors, step, err := c.Doors()
	if err != nil {
		return err
	}
	for i, d := range doors {
		if !auth.Observable(d) {
			c.log.Debug("skipping door", "door", d.String())
			continue
		}
		if i > 0 && c.delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.delay):
			}
		}
		if err := c.hit(ctx, d); err != nil {
			return err
		}
		c.log.Debug("door knocked", "door", d.String(), "step", step)
	}
	c.log.Info("knock sent", "server", c.cfg.ServerHost, "doors", len(doors), "step", step)
	return nil
}

func (c *Client) hit(ctx context.Context, d porthop.Door) error {
	addr := net.JoinHostPort(c.cfg.ServerHost, itoa(int(d.Port)))
	var dialer net.Dialer
	switch d.Protocol() {
	case porthop.ProtoTCP:
		dctx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		conn, err := dialer.DialContext(dctx, "tcp", addr)
		if err != nil {
			// a closed or filtered door still counts as knocked
			c.log.Debug("tcp knock not accepted", "addr", addr, "error", err)
			return ctx.Err()
		}
		return conn.Close()
	case porthop.ProtoUDP:
		conn, err := dialer.DialContext(ctx, "udp", addr)
		if err != nil {
			return err
		}
		defer conn.Close()
		_, err = conn.Write(knockPayload)
		return err
	}
	return nil
}

// Start listens on bind_ip:bind_port and, for every local connection, knocks
// and then forwards it to the server's service port.
func (c *Client) Start(ctx context.Context) error {
	l, err := net.Listen("tcp", net.JoinHostPort(c.cfg.BindIP, itoa(c.cfg.BindPort)))
	if err != nil {
		return err
	}
	c.log.Info("client listening", "bind", l.Addr().String())
	go func() {
		<-ctx.Done()
		l.Close()
	}()
	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go c.handleLocal(ctx, conn)
	}
}

func (c *Client) handleLocal(ctx context.Context, local net.Conn) {
	if err := c.Knock(ctx); err != nil {
		c.log.Warn("knock failed", "error", err)
		local.Close()
		return
	}
	target := net.JoinHostPort(c.cfg.ServerHost, itoa(c.cfg.ServicePort))
	c.log.Info("forwarding", "source", local.RemoteAddr().String(), "server", target)
	if err := forward.HandleTCP(local, target); err != nil {
		c.log.Warn("service unreachable", "server", target, "error", err)
	}
}
