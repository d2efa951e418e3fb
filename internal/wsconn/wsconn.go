// Package wsconn moves whole frames over a websocket, keeping the payload
// type and bytes untouched so that frames can be relayed without parsing.
package wsconn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/net/websocket"
)

// ErrClosed is returned when using a connection after Close
var ErrClosed = errors.New("connection closed")

// Frame as received on the wire
type Frame struct {
	Data []byte
	// PayloadType is websocket.TextFrame or websocket.BinaryFrame
	PayloadType byte
}

func Text(data []byte) Frame {
	return Frame{Data: data, PayloadType: websocket.TextFrame}
}

// Conn is one endpoint of a persistent session
type Conn interface {
	ReadFrame() (Frame, error)
	WriteFrame(f Frame) error
	Close() error
	RemoteAddr() string
}

var frameCodec = websocket.Codec{
	Marshal: func(v any) ([]byte, byte, error) {
		f, ok := v.(Frame)
		if !ok {
			return nil, 0, fmt.Errorf("frameCodec can't marshal: %T", v)
		}
		pt := f.PayloadType
		if pt == 0 {
			pt = websocket.TextFrame
		}
		return f.Data, pt, nil
	},
	Unmarshal: func(data []byte, payloadType byte, v any) error {
		f, ok := v.(*Frame)
		if !ok {
			return fmt.Errorf("frameCodec can't unmarshal into: %T", v)
		}
		f.Data = append([]byte(nil), data...)
		f.PayloadType = payloadType
		return nil
	},
}

type wsConn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration

	wmu    sync.Mutex
	closed bool
	once   sync.Once
}

// Wrap a websocket connection, as handed out by websocket.Handler or
// websocket.Dial
func Wrap(ws *websocket.Conn, writeTimeout time.Duration) Conn {
	return &wsConn{ws: ws, writeTimeout: writeTimeout}
}

func (c *wsConn) ReadFrame() (Frame, error) {
	var f Frame
	if err := frameCodec.Receive(c.ws, &f); err != nil {
		return Frame{}, err
	}
	return f, nil
}

func (c *wsConn) WriteFrame(f Frame) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.writeTimeout > 0 {
		if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	return frameCodec.Send(c.ws, f)
}

func (c *wsConn) Close() error {
	var err error
	c.once.Do(func() {
		c.wmu.Lock()
		c.closed = true
		c.wmu.Unlock()
		err = c.ws.Close()
	})
	return err
}

func (c *wsConn) RemoteAddr() string {
	if c.ws.Request() != nil {
		return c.ws.Request().RemoteAddr
	}
	return c.ws.RemoteAddr().String()
}

// IsClosure reports if err is the ordinary end of a session rather than
// a fault worth logging
func IsClosure(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, ErrClosed) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}

// Dialer opens outbound sessions
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebsocketDialer dials using golang.org/x/net/websocket
type WebsocketDialer struct {
	// Origin header to present, defaults to http://localhost/
	Origin       string
	Timeout      time.Duration
	WriteTimeout time.Duration
}

func (d WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	origin := d.Origin
	if origin == "" {
		origin = "http://localhost/"
	}
	cfg, err := websocket.NewConfig(url, origin)
	if err != nil {
		return nil, fmt.Errorf("websocket config for '%v': %w", url, err)
	}
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}
	ws, err := cfg.DialContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("dial '%v': %w", url, err)
	}
	return Wrap(ws, d.WriteTimeout), nil
}
