package app

import (
	"context"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"

	"dispatch_engine/internal/backplane"
	"dispatch_engine/internal/config"
	"dispatch_engine/internal/dispatch"
	"dispatch_engine/internal/hubs"
	"dispatch_engine/internal/routing"
	"dispatch_engine/internal/stream"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// NotesChannel is the event-stream channel that receives note events
// (clients subscribe with /events/notes or ?channel=notes)
const NotesChannel = "notes"

// NoteCreatedEvent is the stream event raised for every new note
const NoteCreatedEvent = "note.created"

// HomeController serves the landing page
type HomeController struct {
	dispatch.Controller
	name   string
	routes int
	hubs   []string
}

type homeModel struct {
	Name   string
	Time   string
	Routes int
	Hubs   []string
}

func (c *HomeController) Index(context.Context) (any, error) {
	c.ViewData["Title"] = c.name
	return c.View(homeModel{
		Name:   c.name,
		Time:   time.Now().UTC().Format(time.RFC3339),
		Routes: c.routes,
		Hubs:   c.hubs,
	}), nil
}

func (c *HomeController) About(context.Context) (any, error) {
	return c.Content(c.name+" is running", ""), nil
}

// NotesController lists and creates notes. New notes are pushed to the
// notes stream channel and to every chat connection.
type NotesController struct {
	dispatch.Controller
	store  NoteStore
	events backplane.StreamFanout
	chat   *hubs.Clients
	logger *slog.Logger
}

type createNoteRequest struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

func (c *NotesController) Index(ctx context.Context) (any, error) {
	limit, _ := strconv.Atoi(c.Request.Query.Get("limit"))
	notes, err := c.store.List(ctx, limit)
	if err != nil {
		return nil, err
	}
	return c.JSON(map[string]any{"notes": notes, "count": len(notes)}), nil
}

// Feed renders the note list as an HTML fragment
func (c *NotesController) Feed(ctx context.Context) (any, error) {
	notes, err := c.store.List(ctx, DefaultListMax)
	if err != nil {
		return nil, err
	}
	return c.PartialView("List", notes), nil
}

func (c *NotesController) Show(ctx context.Context) (any, error) {
	id := c.Request.Query.Get("id")
	if id == "" {
		return badRequest("Missing note ID", ""), nil
	}
	note, err := c.store.Get(ctx, id)
	if errors.Is(err, ErrNoteNotFound) {
		return &dispatch.JSONResult{Status: http.StatusNotFound, Data: config.ErrorResponse{
			Error:   http.StatusText(http.StatusNotFound),
			Message: "Note not found",
		}}, nil
	}
	if err != nil {
		return nil, err
	}
	return note, nil
}

func (c *NotesController) Create(ctx context.Context) (any, error) {
	req, err := c.bind()
	if err != nil {
		return badRequest("Invalid request payload", err.Error()), nil
	}

	note, err := c.store.Create(ctx, req.Title, req.Body)
	if errors.Is(err, ErrInvalidNote) {
		return badRequest("Invalid note", err.Error()), nil
	}
	if err != nil {
		return nil, err
	}

	delivered := c.events.SendToChannel(ctx, NotesChannel, NoteCreatedEvent, note)
	c.chat.All().Send(ctx, EventNote, note)
	c.logger.Info("note created", "note_id", note.ID, "stream_deliveries", delivered)

	return &dispatch.JSONResult{Status: http.StatusCreated, Data: note}, nil
}

// bind reads a JSON body or form fields
func (c *NotesController) bind() (createNoteRequest, error) {
	var req createNoteRequest
	ct, _, _ := mime.ParseMediaType(c.Request.Header.Get("Content-Type"))
	if ct == "application/json" {
		err := json.Unmarshal(c.Request.Body, &req)
		return req, err
	}
	req.Title = c.Form.Get("title")
	req.Body = c.Form.Get("body")
	return req, nil
}

func badRequest(message, details string) *dispatch.JSONResult {
	return &dispatch.JSONResult{Status: http.StatusBadRequest, Data: config.ErrorResponse{
		Error:   http.StatusText(http.StatusBadRequest),
		Message: message,
		Details: details,
	}}
}

// DashboardController reports live engine figures under the Admin area
type DashboardController struct {
	dispatch.Controller
	store   NoteStore
	hubs    *hubs.Registry
	streams *stream.Manager
}

type dashboardStats struct {
	Notes             int      `json:"notes"`
	HubConnections    int      `json:"hub_connections"`
	Hubs              []string `json:"hubs"`
	StreamConnections int      `json:"stream_connections"`
	Channels          []string `json:"channels"`
}

func (c *DashboardController) Index(ctx context.Context) (any, error) {
	notes, err := c.store.Count(ctx)
	if err != nil {
		return nil, err
	}
	return c.JSON(dashboardStats{
		Notes:             notes,
		HubConnections:    c.hubs.ConnectionCount(),
		Hubs:              c.hubs.Hubs(),
		StreamConnections: c.streams.Count(),
		Channels:          c.streams.Channels(),
	}), nil
}

// Controllers returns the controller descriptors discovered at startup
func Controllers() []*routing.ControllerDescriptor {
	return []*routing.ControllerDescriptor{
		routing.Controller("HomeController", func() *HomeController { return &HomeController{name: "dispatch-engine"} },
			routing.Action("Index", (*HomeController).Index),
			routing.Action("About", (*HomeController).About, routing.Get("")),
		),
		routing.Controller("NotesController", func() *NotesController { return &NotesController{} },
			routing.Action("Index", (*NotesController).Index),
			routing.Action("Feed", (*NotesController).Feed),
			routing.Action("Show", (*NotesController).Show),
			routing.Action("Create", (*NotesController).Create, routing.Post("")),
		),
		routing.Controller("DashboardController", func() *DashboardController { return &DashboardController{} },
			routing.Action("Index", (*DashboardController).Index),
		).InArea("Admin"),
	}
}
