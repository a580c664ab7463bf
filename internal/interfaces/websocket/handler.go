// Package websocket implements the WS /agent surface: a client opens one
// connection per run, sends a start request, and receives the agent loop's
// thinking/text/tool_use/tool_result frames live, followed by a terminal
// verification frame and a done frame. Connection bookkeeping (register,
// unregister, ping/pong keepalive, buffered per-client send queue) is
// ported from the teacher's internal/interfaces/websocket/handler.go Hub;
// the message vocabulary and run-triggering logic are this module's own,
// grounded on spec.md §6's WS frame contract.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/choiros/supervisor/internal/application/agentloop"
	"github.com/choiros/supervisor/internal/application/execution"
	"github.com/choiros/supervisor/internal/application/orchestrator"
	"github.com/choiros/supervisor/internal/domain/mood"
	"github.com/choiros/supervisor/internal/infrastructure/eventstore"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// FrameType is the server->client frame vocabulary.
type FrameType string

const (
	FrameThinking     FrameType = "thinking"
	FrameText         FrameType = "text"
	FrameToolUse      FrameType = "tool_use"
	FrameToolResult   FrameType = "tool_result"
	FrameError        FrameType = "error"
	FrameDone         FrameType = "done"
	FrameVerification FrameType = "verification"
	FrameRunStatus    FrameType = "run_status"
)

// Frame is one server->client WS message.
type Frame struct {
	Type    FrameType `json:"type"`
	Content any       `json:"content"`
}

// startRequest is the one client->server message this surface accepts: kick
// off a run and stream its frames back.
type startRequest struct {
	WorkItemID string `json:"work_item_id"`
	Mood       string `json:"mood"`
}

// Client is one open connection, good for exactly one run at a time.
type Client struct {
	ID     string
	UserID string
	conn   *websocket.Conn
	send   chan []byte
	hub    *Hub
	logger *zap.Logger
}

// Hub tracks open connections. Runs don't fan out across clients the way
// the teacher's chat broadcast does — each client drives its own run — but
// the connection lifecycle bookkeeping is the same shape.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	logger  *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{clients: make(map[string]*Client), logger: logger}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	h.mu.Unlock()
	h.logger.Info("agent ws client connected", zap.String("client_id", c.ID), zap.String("user_id", c.UserID))
}

// Broadcast pushes a frame to every connected client, independent of which
// run (if any) each client is driving. Used for run-lifecycle events
// published on the shared eventbus.Bus so a client just watching the
// status dashboard over WS sees state changes it didn't itself trigger.
func (h *Hub) Broadcast(f Frame) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		c.sendFrame(f)
	}
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.ID]; ok {
		delete(h.clients, c.ID)
		close(c.send)
	}
	h.mu.Unlock()
	h.logger.Info("agent ws client disconnected", zap.String("client_id", c.ID))
}

// Handler upgrades and serves the WS /agent surface.
type Handler struct {
	hub   *Hub
	orch  *orchestrator.Orchestrator
	store *eventstore.Store
	log   *zap.Logger
}

func NewHandler(hub *Hub, orch *orchestrator.Orchestrator, store *eventstore.Store, logger *zap.Logger) *Handler {
	return &Handler{hub: hub, orch: orch, store: store, log: logger}
}

// ServeWS upgrades the connection and starts its read/write pumps.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("ws upgrade failed", zap.Error(err))
		return
	}

	userID := r.URL.Query().Get("user_id")
	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		clientID = userID + "_" + time.Now().Format("20060102150405.000000000")
	}

	client := &Client{ID: clientID, UserID: userID, conn: conn, send: make(chan []byte, 256), hub: h.hub, logger: h.log}
	h.hub.register(client)

	go client.writePump()
	go h.readPump(client)
}

func (h *Handler) readPump(c *Client) {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512 * 1024)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Error("ws read error", zap.Error(err))
			}
			return
		}

		var req startRequest
		if err := json.Unmarshal(message, &req); err != nil {
			c.sendFrame(Frame{Type: FrameError, Content: "malformed start request"})
			continue
		}
		if req.WorkItemID == "" {
			c.sendFrame(Frame{Type: FrameError, Content: "work_item_id is required"})
			continue
		}
		h.runAndStream(c, req)
	}
}

// runAndStream drives one orchestrator run for the client's connection,
// forwarding every agentloop frame as it happens and finishing with a
// verification frame then a done frame, matching spec.md §7's
// "every terminal state produces a verification frame" guarantee.
func (h *Handler) runAndStream(c *Client, req startRequest) {
	moodSeed := mood.Mood(req.Mood)
	if moodSeed == "" || !mood.Valid(moodSeed) {
		moodSeed = mood.Calm
	}

	frameCh := make(chan agentloop.Frame, 64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for f := range frameCh {
			c.sendFrame(translateFrame(f))
		}
	}()

	ctx := execution.WithFrameSink(context.Background(), frameCh)
	run, err := h.orch.Run(ctx, req.WorkItemID, moodSeed)
	close(frameCh)
	<-done

	if err != nil {
		c.sendFrame(Frame{Type: FrameError, Content: err.Error()})
		c.sendFrame(Frame{Type: FrameDone})
		return
	}

	c.sendFrame(Frame{Type: FrameVerification, Content: h.verificationPayload(run)})
	c.sendFrame(Frame{Type: FrameDone})
}

func (h *Handler) verificationPayload(run *eventstore.RunModel) map[string]any {
	results := []map[string]any{}
	rows, err := h.store.GetRunVerifications(run.ID)
	if err != nil {
		h.log.Warn("load run verifications for ws frame failed", zap.String("run_id", run.ID), zap.Error(err))
	}
	for _, row := range rows {
		var attestation map[string]any
		if err := json.Unmarshal([]byte(row.Attestation), &attestation); err != nil {
			continue
		}
		status := "fail"
		if passed, _ := attestation["passed"].(bool); passed {
			status = "pass"
		}
		results = append(results, map[string]any{
			"id":     attestation["verifier_id"],
			"status": status,
		})
	}
	return map[string]any{
		"run":           run,
		"verifier_plan": run.VerifierPlanID,
		"results":       results,
	}
}

func translateFrame(f agentloop.Frame) Frame {
	switch f.Type {
	case agentloop.FrameThinking:
		return Frame{Type: FrameThinking, Content: f.Content}
	case agentloop.FrameText, agentloop.FrameMessage:
		return Frame{Type: FrameText, Content: f.Content}
	case agentloop.FrameToolUse:
		return Frame{Type: FrameToolUse, Content: map[string]any{"name": f.ToolName, "args": f.ToolArgs}}
	case agentloop.FrameToolResult:
		return Frame{Type: FrameToolResult, Content: map[string]any{"name": f.ToolName, "output": f.ToolOutput, "ok": f.ToolOK}}
	case agentloop.FrameError:
		return Frame{Type: FrameError, Content: f.Err}
	default:
		return Frame{Type: FrameDone}
	}
}

func (c *Client) sendFrame(f Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
