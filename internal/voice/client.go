// Package voice defines the speech collaborator contract: synthesize a
// line of text with an emotion, or capture and transcribe speech. The
// VM consumes the Client interface and never touches the transport.
package voice

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	pkgerrors "github.com/pkg/errors"
	"go.uber.org/zap"
)

// ErrTimeout marks a voice operation that ran out of time. The VM maps
// it to a CollaboratorTimeout fault.
var ErrTimeout = fmt.Errorf("voice operation timed out")

// AudioHandle identifies synthesized audio on the voice service. The
// zero handle means live capture.
type AudioHandle string

// Client is the capability object injected into the VM.
type Client interface {
	// Synthesize speaks text with the given emotion and returns a
	// handle to the produced audio.
	Synthesize(ctx context.Context, text, emotion string) (AudioHandle, error)

	// Transcribe waits up to timeout for speech (live capture when
	// handle is zero) and returns the recognized text.
	Transcribe(ctx context.Context, handle AudioHandle, timeout time.Duration) (string, error)
}

// frame is the JSON message exchanged with the voice gateway.
type frame struct {
	Op      string `json:"op"`
	Text    string `json:"text,omitempty"`
	Emotion string `json:"emotion,omitempty"`
	Handle  string `json:"handle,omitempty"`
	Timeout int64  `json:"timeout_ms,omitempty"`
	Error   string `json:"error,omitempty"`
}

// GatewayClient speaks JSON frames over a websocket to the voice
// gateway. One request is in flight at a time; the VM is
// single-threaded, so no locking is needed.
type GatewayClient struct {
	conn   *websocket.Conn
	logger *zap.Logger
}

// DialGateway connects to the voice gateway at wsURL.
func DialGateway(ctx context.Context, wsURL string, logger *zap.Logger) (*GatewayClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "dial voice gateway %s", wsURL)
	}
	logger.Debug("voice gateway connected", zap.String("url", wsURL))
	return &GatewayClient{conn: conn, logger: logger}, nil
}

func (g *GatewayClient) Close() error { return g.conn.Close() }

func (g *GatewayClient) roundTrip(ctx context.Context, req frame) (frame, error) {
	if deadline, ok := ctx.Deadline(); ok {
		g.conn.SetWriteDeadline(deadline)
		g.conn.SetReadDeadline(deadline)
	} else {
		g.conn.SetWriteDeadline(time.Time{})
		g.conn.SetReadDeadline(time.Time{})
	}
	if err := g.conn.WriteJSON(req); err != nil {
		return frame{}, pkgerrors.Wrapf(err, "send %s frame", req.Op)
	}
	var resp frame
	if err := g.conn.ReadJSON(&resp); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return frame{}, ErrTimeout
		}
		return frame{}, pkgerrors.Wrapf(err, "read %s response", req.Op)
	}
	if resp.Error != "" {
		return frame{}, pkgerrors.Errorf("voice gateway: %s", resp.Error)
	}
	return resp, nil
}

func (g *GatewayClient) Synthesize(ctx context.Context, text, emotion string) (AudioHandle, error) {
	resp, err := g.roundTrip(ctx, frame{Op: "synthesize", Text: text, Emotion: emotion})
	if err != nil {
		return "", err
	}
	g.logger.Debug("synthesized speech",
		zap.String("emotion", emotion), zap.String("handle", resp.Handle))
	return AudioHandle(resp.Handle), nil
}

func (g *GatewayClient) Transcribe(ctx context.Context, handle AudioHandle, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	resp, err := g.roundTrip(ctx, frame{
		Op:      "transcribe",
		Handle:  string(handle),
		Timeout: timeout.Milliseconds(),
	})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// Console is the no-network fallback: say renders to a writer, listen
// reads one line from a reader. It keeps run and repl usable without a
// voice service.
type Console struct {
	out io.Writer
	in  *bufio.Reader
}

func NewConsole(out io.Writer, in io.Reader) *Console {
	return &Console{out: out, in: bufio.NewReader(in)}
}

func (c *Console) Synthesize(_ context.Context, text, emotion string) (AudioHandle, error) {
	if _, err := fmt.Fprintf(c.out, "[%s] %s\n", emotion, text); err != nil {
		return "", pkgerrors.Wrap(err, "write say output")
	}
	return "", nil
}

func (c *Console) Transcribe(ctx context.Context, _ AudioHandle, timeout time.Duration) (string, error) {
	type lineResult struct {
		text string
		err  error
	}
	ch := make(chan lineResult, 1)
	go func() {
		line, err := c.in.ReadString('\n')
		ch <- lineResult{strings.TrimRight(line, "\r\n"), err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case r := <-ch:
		if r.err != nil && r.text == "" {
			return "", pkgerrors.Wrap(r.err, "read listen input")
		}
		return r.text, nil
	case <-timer.C:
		return "", ErrTimeout
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return "", ErrTimeout
		}
		return "", ctx.Err()
	}
}
