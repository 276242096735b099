// Package webrtc carries the bridge protocol over WebRTC data channels, for
// hosts that already hold a peer connection to the scanner.
package webrtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"

	"github.com/cloudacy/barcode-scanner/internal/bridge"
	"github.com/cloudacy/barcode-scanner/internal/logger"
)

var log = logger.Module("WebRTC")

// ErrTooManyClients is returned when the client limit is reached
var ErrTooManyClients = errors.New("maximum clients reached")

// Options configure the server
type Options struct {
	STUNServers []string
	MaxClients  int
	// Loopback adds 127.0.0.1 host candidates, for same-host peers
	Loopback bool
}

// Client represents a connected WebRTC client
type Client struct {
	id        string
	peerConn  *webrtc.PeerConnection
	ctx       context.Context
	cancel    context.CancelFunc
	subID     int
	subOK     bool
	mu        sync.Mutex
	sent      uint64
	dropped   uint64
	closeOnce sync.Once
}

// Server manages WebRTC connections
type Server struct {
	dispatcher *bridge.Dispatcher
	hub        *bridge.Hub

	clients    map[string]*Client
	clientsMu  sync.RWMutex
	config     webrtc.Configuration
	maxClients int
	api        *webrtc.API
}

// NewServer creates a new WebRTC server
func NewServer(d *bridge.Dispatcher, hub *bridge.Hub, opts Options) *Server {
	iceServers := make([]webrtc.ICEServer, 0, len(opts.STUNServers))
	for _, url := range opts.STUNServers {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs: []string{url},
		})
	}

	settingsEngine := webrtc.SettingEngine{}

	// Reduce DTLS retransmission timeout (faster connection, less CPU on retries)
	settingsEngine.SetDTLSRetransmissionInterval(time.Second * 2)
	settingsEngine.SetNetworkTypes([]webrtc.NetworkType{
		webrtc.NetworkTypeUDP4,
		webrtc.NetworkTypeUDP6,
	})
	settingsEngine.SetIncludeLoopbackCandidate(opts.Loopback)

	maxClients := opts.MaxClients
	if maxClients <= 0 {
		maxClients = 10
	}

	return &Server{
		dispatcher: d,
		hub:        hub,
		clients:    make(map[string]*Client),
		config: webrtc.Configuration{
			ICEServers: iceServers,
		},
		maxClients: maxClients,
		api:        webrtc.NewAPI(webrtc.WithSettingEngine(settingsEngine)),
	}
}

// HandleOffer handles a WebRTC offer and returns an answer. The client is
// expected to open a data channel; requests on it are answered on the same
// channel and bridge events are pushed to it.
func (s *Server) HandleOffer(offerJSON []byte) ([]byte, error) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(offerJSON, &offer); err != nil {
		return nil, fmt.Errorf("failed to parse offer: %w", err)
	}

	s.clientsMu.RLock()
	numClients := len(s.clients)
	s.clientsMu.RUnlock()

	if numClients >= s.maxClients {
		return nil, fmt.Errorf("%w (%d)", ErrTooManyClients, s.maxClients)
	}

	peerConn, err := s.api.NewPeerConnection(s.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := &Client{
		id:       uuid.NewString(),
		peerConn: peerConn,
		ctx:      ctx,
		cancel:   cancel,
	}

	peerConn.OnDataChannel(func(dc *webrtc.DataChannel) {
		log.Debug("Client %s opened data channel %q", client.id, dc.Label())
		dc.OnOpen(func() { s.forwardEvents(client, dc) })
		dc.OnMessage(func(msg webrtc.DataChannelMessage) { s.handleMessage(client, dc, msg) })
	})

	// Handle peer connection state changes (more comprehensive than ICE state)
	peerConn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Debug("Client %s connection state: %s", client.id, state.String())

		if state == webrtc.PeerConnectionStateDisconnected ||
			state == webrtc.PeerConnectionStateFailed ||
			state == webrtc.PeerConnectionStateClosed {
			log.Info("Client %s connection lost (Peer: %s), removing...", client.id, state.String())
			s.RemoveClient(client.id)
		}
	})

	if err := peerConn.SetRemoteDescription(offer); err != nil {
		s.closeClient(client)
		return nil, fmt.Errorf("failed to set remote description: %w", err)
	}

	answer, err := peerConn.CreateAnswer(nil)
	if err != nil {
		s.closeClient(client)
		return nil, fmt.Errorf("failed to create answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(peerConn)

	if err := peerConn.SetLocalDescription(answer); err != nil {
		s.closeClient(client)
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}

	// Answer carries all candidates; no trickle
	<-gatherComplete
	log.Debug("ICE gathering complete for client %s", client.id)

	s.clientsMu.Lock()
	s.clients[client.id] = client
	s.clientsMu.Unlock()

	log.Info("Client %s connected", client.id)

	localDesc := peerConn.LocalDescription()
	if localDesc == nil {
		s.RemoveClient(client.id)
		return nil, fmt.Errorf("no local description available")
	}

	answerJSON, err := json.Marshal(localDesc)
	if err != nil {
		s.RemoveClient(client.id)
		return nil, fmt.Errorf("failed to marshal answer: %w", err)
	}
	return answerJSON, nil
}

// forwardEvents pushes hub events to dc until the client goes away
func (s *Server) forwardEvents(client *Client, dc *webrtc.DataChannel) {
	client.mu.Lock()
	if client.ctx.Err() != nil || client.subOK {
		client.mu.Unlock()
		return
	}
	id, events := s.hub.Subscribe()
	client.subID, client.subOK = id, true
	client.mu.Unlock()

	go func() {
		for ev := range events {
			if err := dc.SendText(string(ev.JSONData)); err != nil {
				client.mu.Lock()
				client.dropped++
				client.mu.Unlock()
				if errors.Is(err, io.ErrClosedPipe) {
					return
				}
				log.Warn("Error sending %s event to client %s: %v", ev.Name, client.id, err)
				continue
			}
			client.mu.Lock()
			client.sent++
			client.mu.Unlock()
		}
	}()
}

func (s *Server) handleMessage(client *Client, dc *webrtc.DataChannel, msg webrtc.DataChannelMessage) {
	var req bridge.Request
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		log.Warn("Client %s sent malformed request: %v", client.id, err)
		s.reply(client, dc, bridge.Response{Error: &bridge.Error{Code: bridge.CodeInvalidArgument, Message: err.Error()}})
		return
	}

	// start can block on a permission prompt; keep the channel's read loop free
	go func() {
		s.reply(client, dc, s.dispatcher.Handle(client.ctx, req))
	}()
}

func (s *Server) reply(client *Client, dc *webrtc.DataChannel, resp bridge.Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		log.Error("Failed to marshal response for client %s: %v", client.id, err)
		return
	}
	if err := dc.SendText(string(data)); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		log.Warn("Error replying to client %s: %v", client.id, err)
	}
}

// RemoveClient removes a client by ID
func (s *Server) RemoveClient(clientID string) {
	s.clientsMu.Lock()
	client, exists := s.clients[clientID]
	delete(s.clients, clientID)
	s.clientsMu.Unlock()

	if !exists {
		return
	}
	s.closeClient(client)

	client.mu.Lock()
	sent, dropped := client.sent, client.dropped
	client.mu.Unlock()
	log.Info("Client %s disconnected (events sent: %d, dropped: %d)", clientID, sent, dropped)
}

func (s *Server) closeClient(client *Client) {
	client.closeOnce.Do(func() {
		client.mu.Lock()
		client.cancel()
		if client.subOK {
			s.hub.Unsubscribe(client.subID)
		}
		client.mu.Unlock()
		_ = client.peerConn.Close()
	})
}

// GetClientCount returns the number of connected clients
func (s *Server) GetClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// Close closes all client connections
func (s *Server) Close() error {
	s.clientsMu.RLock()
	ids := make([]string, 0, len(s.clients))
	for id := range s.clients {
		ids = append(ids, id)
	}
	s.clientsMu.RUnlock()

	for _, id := range ids {
		s.RemoveClient(id)
	}
	return nil
}

// Handler serves POST /api/webrtc/offer
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/webrtc/offer", s.handleOffer)
	return mux
}

func (s *Server) handleOffer(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, "Invalid offer data", http.StatusBadRequest)
		return
	}

	answer, err := s.HandleOffer(body)
	if err != nil {
		log.Warn("Offer rejected: %v", err)
		status := http.StatusBadRequest
		if errors.Is(err, ErrTooManyClients) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(answer)
}

func writeError(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
