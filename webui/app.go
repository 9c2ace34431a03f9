package webui

import (
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	fiber "github.com/gofiber/fiber/v2"
	"github.com/mudler/roomkeeper/core/inactivity"
	"github.com/mudler/roomkeeper/core/rooms"
	"github.com/mudler/roomkeeper/services"
	"github.com/mudler/xlog"
)

const defaultDispatchLimit = 50

type App struct {
	config *Config
	*fiber.App
}

func NewApp(opts ...Option) (*App, error) {
	config := NewConfig(opts...)
	if config.Scheduler == nil || config.Rooms == nil || config.Tags == nil {
		return nil, errors.New("webui needs a scheduler, a room source and a tag store")
	}

	webapp := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	a := &App{
		config: config,
		App:    webapp,
	}
	if err := a.registerRoutes(webapp); err != nil {
		return nil, err
	}
	return a, nil
}

type roomStatus struct {
	Room           string      `json:"room"`
	LatestActivity *time.Time  `json:"latestActivity,omitempty"`
	SilentFor      string      `json:"silentFor,omitempty"`
	Tags           []rooms.Tag `json:"tags"`
}

func (a *App) roomStatus(c *fiber.Ctx, room string) roomStatus {
	status := roomStatus{
		Room: room,
		Tags: a.config.Tags.Tags(room),
	}
	if status.Tags == nil {
		status.Tags = []rooms.Tag{}
	}

	latest, err := a.config.Rooms.LatestActivity(c.UserContext(), room)
	if err != nil {
		xlog.Warn("Failed to read room activity", "room", room, "error", err)
		return status
	}
	if !latest.IsZero() {
		status.LatestActivity = &latest
		status.SilentFor = time.Since(latest).Round(time.Second).String()
	}
	return status
}

// ListRooms returns every occupied room with its activity and tags
func (a *App) ListRooms() func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		occupied, err := a.config.Rooms.OccupiedRooms(c.UserContext())
		if err != nil {
			return errorJSONMessage(c, http.StatusServiceUnavailable, err.Error())
		}
		slices.Sort(occupied)

		list := make([]roomStatus, 0, len(occupied))
		for _, room := range occupied {
			list = append(list, a.roomStatus(c, room))
		}
		return c.JSON(list)
	}
}

type updateTagsRequest struct {
	Room string   `json:"room"`
	Tags []string `json:"tags"`
}

// UpdateRoomTags replaces the tags of a room. Rooms need not be occupied,
// so tags can be prepared before joining.
func (a *App) UpdateRoomTags() func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		var req updateTagsRequest
		if err := c.BodyParser(&req); err != nil {
			return errorJSONMessage(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		}
		req.Room = strings.TrimSpace(req.Room)
		if req.Room == "" {
			return errorJSONMessage(c, http.StatusBadRequest, "room is required")
		}

		tags := make([]rooms.Tag, 0, len(req.Tags))
		for _, raw := range req.Tags {
			tag, err := rooms.ParseTag(raw)
			if err != nil {
				return errorJSONMessage(c, http.StatusBadRequest, err.Error())
			}
			tags = append(tags, tag)
		}

		if err := a.config.Tags.SetTags(req.Room, tags); err != nil {
			xlog.Error("Failed to store room tags", "room", req.Room, "error", err)
			return errorJSONMessage(c, http.StatusInternalServerError, err.Error())
		}
		xlog.Info("Room tags updated", "room", req.Room, "tags", tags)
		return c.JSON(a.roomStatus(c, req.Room))
	}
}

type roomTagRequest struct {
	Room string `json:"room"`
	Tag  string `json:"tag"`
}

// AddRoomTag attaches one tag to a room
func (a *App) AddRoomTag() func(c *fiber.Ctx) error {
	return a.changeRoomTag("added", a.config.Tags.AddTag)
}

// RemoveRoomTag detaches one tag from a room
func (a *App) RemoveRoomTag() func(c *fiber.Ctx) error {
	return a.changeRoomTag("removed", a.config.Tags.RemoveTag)
}

func (a *App) changeRoomTag(verb string, change func(room string, tag rooms.Tag) error) func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		var req roomTagRequest
		if err := c.BodyParser(&req); err != nil {
			return errorJSONMessage(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		}
		req.Room = strings.TrimSpace(req.Room)
		if req.Room == "" {
			return errorJSONMessage(c, http.StatusBadRequest, "room is required")
		}
		tag, err := rooms.ParseTag(req.Tag)
		if err != nil {
			return errorJSONMessage(c, http.StatusBadRequest, err.Error())
		}

		if err := change(req.Room, tag); err != nil {
			xlog.Error("Failed to store room tags", "room", req.Room, "error", err)
			return errorJSONMessage(c, http.StatusInternalServerError, err.Error())
		}
		xlog.Info("Room tag "+verb, "room", req.Room, "tag", tag)
		return c.JSON(a.roomStatus(c, req.Room))
	}
}

type behaviorsResponse struct {
	Cadence   string                     `json:"cadence"`
	Behaviors []string                   `json:"behaviors"`
	Triggers  []inactivity.TriggerRecord `json:"triggers"`
}

// ListBehaviors returns the behaviors in evaluation order and the rooms
// each one has fired in during the current silence period
func (a *App) ListBehaviors() func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		s := a.config.Scheduler
		resp := behaviorsResponse{
			Cadence:   s.Cadence(),
			Behaviors: []string{},
			Triggers:  s.Triggers(),
		}
		for _, b := range s.Behaviors() {
			resp.Behaviors = append(resp.Behaviors, b.Name())
		}
		if resp.Triggers == nil {
			resp.Triggers = []inactivity.TriggerRecord{}
		}
		return c.JSON(resp)
	}
}

func (a *App) ListDispatches() func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		limit := c.QueryInt("limit", defaultDispatchLimit)
		runs := a.config.Scheduler.Runs(limit)
		if runs == nil {
			runs = []inactivity.DispatchRun{}
		}
		return c.JSON(runs)
	}
}

// RunTick runs one evaluation pass right away
func (a *App) RunTick() func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		summary := a.config.Scheduler.Tick(c.UserContext())
		if summary.Error != "" {
			return c.Status(http.StatusServiceUnavailable).JSON(summary)
		}
		return c.JSON(summary)
	}
}

func (a *App) GetConnectorsMeta() func(c *fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		return c.JSON(services.ConnectorsConfigMeta())
	}
}

func errorJSONMessage(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(struct {
		Error string `json:"error"`
	}{Error: message})
}
