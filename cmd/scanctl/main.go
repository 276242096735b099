// Command scanctl calls scanner bridge methods over the WebSocket channel
// and prints responses and events as JSON lines.
//
//	scanctl -follow start '{"formats":["qr"],"mode":"single"}'
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cloudacy/barcode-scanner/internal/bridge"
	"github.com/cloudacy/barcode-scanner/internal/logger"
)

var (
	addr     = flag.String("addr", "localhost:8080", "Scanner server address")
	follow   = flag.Bool("follow", false, "Keep printing events after the response")
	timeout  = flag.Duration("timeout", 30*time.Second, "Time to wait for the response")
	logLevel = flag.String("log-level", "warn", "Log level (debug, info, warn, error, silent)")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <method> [json-args]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	level, err := logger.ParseLevel(*logLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, false)

	req := bridge.Request{ID: "1", Method: flag.Arg(0)}
	if flag.NArg() > 1 {
		if !json.Valid([]byte(flag.Arg(1))) {
			log.Fatalf("Arguments are not valid JSON: %s", flag.Arg(1))
		}
		req.Args = json.RawMessage(flag.Arg(1))
	}

	u := url.URL{Scheme: "ws", Host: *addr, Path: "/ws"}
	logger.Debug("Main", "Connecting to %s", u.String())
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(req); err != nil {
		log.Fatalf("Failed to send request: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
	}()

	failed := false
	answered := false
	_ = conn.SetReadDeadline(time.Now().Add(*timeout))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !answered {
				log.Fatalf("No response: %v", err)
			}
			break
		}

		var msg struct {
			ID    string        `json:"id"`
			Event string        `json:"event"`
			Error *bridge.Error `json:"error"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Warn("Main", "Skipping malformed message: %v", err)
			continue
		}
		fmt.Println(string(data))

		if msg.Event == "" && msg.ID == req.ID {
			answered = true
			failed = msg.Error != nil
			if !*follow || failed {
				break
			}
			_ = conn.SetReadDeadline(time.Time{})
		}
	}

	if failed {
		os.Exit(1)
	}
}
