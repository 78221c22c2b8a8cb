package debug

import (
	"bufio"
	"context"
	"log/slog"
	"net"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// RemoteBitbang serves the OpenOCD "remote_bitbang" wire protocol over
// TCP: each received byte is either a pin-set command ('0'-'7', setting
// TCK/TMS/TDI), a TDO sample request ('R'), a TAP reset ('r'), or a
// blink/no-op ('B'/'b'). 'Q' marks the client disconnecting.
type RemoteBitbang struct {
	listener net.Listener
	jtag     *JtagDriver
	log      *slog.Logger

	// limiter bounds how fast a single connection can drive TCK edges,
	// so a misbehaving client can't spin this goroutine at line rate.
	limiter *rate.Limiter
}

// NewRemoteBitbang binds a TCP listener at addr and wraps jtag.
func NewRemoteBitbang(addr string, jtag *JtagDriver) (*RemoteBitbang, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &RemoteBitbang{
		listener: ln,
		jtag:     jtag,
		log:      slog.Default().With("component", "debug.bitbang"),
		limiter:  rate.NewLimiter(rate.Limit(1_000_000), 1024),
	}, nil
}

func (r *RemoteBitbang) Addr() net.Addr { return r.listener.Addr() }

// Serve accepts connections until ctx is cancelled, handling each
// connection in its own goroutine via an errgroup so a single
// connection's error doesn't take down the others.
func (r *RemoteBitbang) Serve(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-ctx.Done()
		return r.listener.Close()
	})

	for {
		conn, err := r.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return g.Wait()
			default:
				return err
			}
		}
		g.Go(func() error {
			r.handleConn(ctx, conn)
			return nil
		})
	}
}

func (r *RemoteBitbang) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)
	defer writer.Flush()

	for {
		if err := ctx.Err(); err != nil {
			return
		}
		if err := r.limiter.Wait(ctx); err != nil {
			return
		}
		b, err := reader.ReadByte()
		if err != nil {
			return
		}

		switch {
		case b >= '0' && b <= '7':
			n := b - '0'
			tck := n&0b100 != 0
			tms := n&0b010 != 0
			tdi := n&0b001 != 0
			r.jtag.SetPins(tck, tms, tdi)
		case b == 'R':
			if r.jtag.TDO() {
				writer.WriteByte('1')
			} else {
				writer.WriteByte('0')
			}
			writer.Flush()
		case b == 'r':
			r.jtag.Reset()
		case b == 'Q':
			r.log.Debug("remote bitbang client disconnected")
			return
		case b == 'B', b == 'b':
			// Blink LED: no hardware to drive, intentional no-op.
		}
	}
}
