// formcam-watch follows a capture session over its websocket and prints
// each state change. With -start it opens a session first; with -capture it
// freezes a frame as soon as the stream is live; with -preview it saves each
// frozen frame as a JPEG in the given directory.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/teslashibe/go-formcam/internal/httpc"
	"github.com/teslashibe/go-formcam/pkg/session"
	"github.com/teslashibe/go-formcam/pkg/web"
)

func main() {
	addr := flag.String("addr", "localhost:8080", "formcam server address")
	id := flag.String("session", "", "Session id to watch")
	start := flag.Bool("start", false, "Start a new session before watching")
	formID := flag.String("form", "", "Form id for -start")
	capture := flag.Bool("capture", false, "Capture once the stream is live")
	previewDir := flag.String("preview", "", "Directory to save frozen frames into")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	base := "http://" + *addr
	if *start {
		var st web.StateResponse
		if err := httpc.DoJSON(ctx, http.MethodPost, base+"/api/sessions", map[string]string{"form_id": *formID}, &st); err != nil {
			fatalf("❌ Start failed: %v", err)
		}
		*id = st.ID
		fmt.Printf("🎬 Started session %s\n", st.ID)
	}
	if *id == "" {
		fatalf("❌ -session or -start is required")
	}

	u := url.URL{Scheme: "ws", Host: *addr, Path: "/ws/sessions/" + *id}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		fatalf("❌ WebSocket dial error: %v", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		conn.Close()
	}()

	if *previewDir != "" {
		go watchPreview(ctx, *addr, *id, *previewDir)
	}

	captured := false
	var last session.State
	for {
		var st web.StateResponse
		if err := conn.ReadJSON(&st); err != nil {
			if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				fmt.Fprintf(os.Stderr, "⚠️  %v\n", err)
			}
			return
		}
		if st.State != last || st.Checking {
			printState(st)
			last = st.State
		}

		if *capture && !captured && st.State == session.StateStreaming && !st.Acquiring {
			captured = true
			if err := httpc.DoJSON(ctx, http.MethodPost, base+"/api/sessions/"+st.ID+"/capture", nil, nil); err != nil {
				fmt.Fprintf(os.Stderr, "⚠️  Capture failed: %v\n", err)
			}
		}
		if st.State.Terminal() {
			return
		}
	}
}

// watchPreview saves every binary frame pushed on the preview socket.
func watchPreview(ctx context.Context, addr, id, dir string) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Preview dir: %v\n", err)
		return
	}
	u := url.URL{Scheme: "ws", Host: addr, Path: "/ws/sessions/" + id + "/preview"}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Preview dial error: %v\n", err)
		return
	}
	defer conn.Close()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for n := 1; ; {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		path := filepath.Join(dir, fmt.Sprintf("%s-%03d.jpg", id, n))
		if err := os.WriteFile(path, data, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "⚠️  %v\n", err)
			continue
		}
		fmt.Printf("🖼️  Saved preview %s (%d bytes)\n", path, len(data))
		n++
	}
}

func printState(st web.StateResponse) {
	ts := st.UpdatedAt.Format("15:04:05.000")
	switch st.State {
	case session.StateScored:
		if st.Score == nil {
			break
		}
		fmt.Printf("[%s] %s score=%.1f verdict=%s checking=%v\n", ts, st.State, float64(*st.Score), st.Verdict, st.Checking)
	case session.StateStreamError:
		fmt.Printf("[%s] %s: %s\n", ts, st.State, st.Error)
	case session.StateStreaming:
		if st.Stream != nil {
			fmt.Printf("[%s] %s %dx%d (%s)\n", ts, st.State, st.Stream.Width, st.Stream.Height, st.Stream.DeviceID)
			return
		}
		fmt.Printf("[%s] %s\n", ts, st.State)
	default:
		fmt.Printf("[%s] %s generation=%d\n", ts, st.State, st.Generation)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
