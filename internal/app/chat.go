package app

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"dispatch_engine/internal/hubs"
	"dispatch_engine/internal/security"
)

// ChatHubName is the name clients connect to at /hubs/chat
const ChatHubName = "Chat"

// Client-side events raised by the chat hub
const (
	EventMessage    = "message"
	EventWhisper    = "whisper"
	EventJoined     = "joined"
	EventLeft       = "left"
	EventJoinedRoom = "joinedRoom"
	EventLeftRoom   = "leftRoom"
	EventNote       = "noteCreated"
)

var (
	errEmptyMessage  = errors.New("message is empty")
	messageSanitizer = security.NewSanitizer(nil)
)

// ChatMessage is the payload of message and whisper events
type ChatMessage struct {
	From   string    `json:"from"`
	Room   string    `json:"room,omitempty"`
	Text   string    `json:"text"`
	SentAt time.Time `json:"sent_at"`
}

// ChatHub is a small room-based chat
type ChatHub struct {
	hubs.Hub
	logger *slog.Logger
}

// NewChatHub builds a hub instance; one is created per invocation
func NewChatHub(logger *slog.Logger) *ChatHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatHub{logger: logger}
}

func (h *ChatHub) OnConnected(ctx context.Context) error {
	h.Clients.Others().Send(ctx, EventJoined, h.ConnectionID)
	return nil
}

func (h *ChatHub) OnDisconnected(ctx context.Context) error {
	h.Clients.Others().Send(ctx, EventLeft, h.ConnectionID)
	return nil
}

func (h *ChatHub) message(room, text string) (ChatMessage, error) {
	text = messageSanitizer.Sanitize(text)
	if text == "" {
		return ChatMessage{}, errEmptyMessage
	}
	return ChatMessage{From: h.ConnectionID, Room: room, Text: text, SentAt: time.Now().UTC()}, nil
}

// Send broadcasts to every connection
func (h *ChatHub) Send(ctx context.Context, text string) error {
	msg, err := h.message("", text)
	if err != nil {
		return err
	}
	h.Clients.All().Send(ctx, EventMessage, msg)
	return nil
}

// Join puts the caller into room and tells the room
func (h *ChatHub) Join(ctx context.Context, room string) error {
	room = strings.TrimSpace(room)
	if room == "" {
		return errors.New("room is required")
	}
	h.Groups.Add(h.ConnectionID, room)
	h.Clients.Group(room).Send(ctx, EventJoinedRoom, room, h.ConnectionID)
	h.logger.Debug("chat room joined", "room", room, "connection_id", h.ConnectionID)
	return nil
}

// Leave takes the caller out of room; the remaining members are told
func (h *ChatHub) Leave(ctx context.Context, room string) error {
	h.Groups.Remove(h.ConnectionID, room)
	h.Clients.Group(room).Send(ctx, EventLeftRoom, room, h.ConnectionID)
	return nil
}

// SendToRoom delivers to the current members of room
func (h *ChatHub) SendToRoom(ctx context.Context, room, text string) error {
	msg, err := h.message(room, text)
	if err != nil {
		return err
	}
	h.Clients.Group(room).Send(ctx, EventMessage, msg)
	return nil
}

// Whisper delivers to one connection and echoes to the caller
func (h *ChatHub) Whisper(ctx context.Context, to, text string) (ChatMessage, error) {
	msg, err := h.message("", text)
	if err != nil {
		return ChatMessage{}, err
	}
	h.Clients.Client(to).Send(ctx, EventWhisper, msg)
	return msg, nil
}

// ChatDefinition registers the chat hub's callable methods
func ChatDefinition(logger *slog.Logger) *hubs.Definition {
	return hubs.Define(ChatHubName, func() *ChatHub { return NewChatHub(logger) },
		hubs.Func0("Whoami", func(h *ChatHub, _ context.Context) (string, error) {
			return h.ConnectionID, nil
		}),
		hubs.Action1("Send", (*ChatHub).Send),
		hubs.Action1("Join", (*ChatHub).Join),
		hubs.Action1("Leave", (*ChatHub).Leave),
		hubs.Action2("SendToRoom", (*ChatHub).SendToRoom),
		hubs.Func2("Whisper", (*ChatHub).Whisper),
	)
}
