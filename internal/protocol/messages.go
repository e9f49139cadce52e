package protocol

import (
	"warefleet.ai/internal/sim/events"
	"warefleet.ai/internal/sim/grid"
)

// HELLO (client -> server)
type HelloMsg struct {
	Type            string            `json:"type"`
	ProtocolVersion string            `json:"protocol_version"`
	ClientName      string            `json:"client_name"`
	Capabilities    HelloCapabilities `json:"capabilities,omitempty"`
}

type HelloCapabilities struct {
	// Events the client is willing to buffer per frame; the server trims
	// batches to this.
	EventBuffer int `json:"event_buffer,omitempty"`
	// Observer connections receive frames but may not send commands.
	Observer bool `json:"observer,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	SessionID       string      `json:"session_id"`
	RunID           string      `json:"run_id"`
	World           WorldParams `json:"world"`
}

type WorldParams struct {
	Width      int   `json:"width"`
	Height     int   `json:"height"`
	TickRateHz int   `json:"tick_rate_hz"`
	Seed       int64 `json:"seed"`
}

// Command operations.
const (
	OpStart          = "START"
	OpPause          = "PAUSE"
	OpReset          = "RESET"
	OpAddRobot       = "ADD_ROBOT"
	OpEditRobot      = "EDIT_ROBOT"
	OpDeleteRobot    = "DELETE_ROBOT"
	OpAddItem        = "ADD_ITEM"
	OpEditItem       = "EDIT_ITEM"
	OpDeleteItem     = "DELETE_ITEM"
	OpAddObstacle    = "ADD_OBSTACLE"
	OpRemoveObstacle = "REMOVE_OBSTACLE"
	OpToggleObstacle = "TOGGLE_OBSTACLE"
	OpSetDropPoint   = "SET_DROP_POINT"
	OpResizeGrid     = "RESIZE_GRID"
	OpRandomLayout   = "RANDOM_LAYOUT"
)

// CMD (client -> server). Op selects the operation; the remaining fields are
// op-specific and ignored elsewhere.
type CommandMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id"`
	Op              string `json:"op"`

	ID       int64     `json:"id,omitempty"`
	Pos      *grid.Pos `json:"pos,omitempty"`
	Capacity int       `json:"capacity,omitempty"`
	Weight   int       `json:"weight,omitempty"`

	Class    string `json:"class,omitempty"` // obstacle class name
	Lifespan int    `json:"lifespan,omitempty"`

	Width  int `json:"width,omitempty"`
	Height int `json:"height,omitempty"`

	Robots  int     `json:"robots,omitempty"`
	Items   int     `json:"items,omitempty"`
	Density float64 `json:"density,omitempty"`
}

// ACK (server -> client)
type AckMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id"`
	Accepted        bool   `json:"accepted"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
	Tick            int64  `json:"tick"`
}

// STATE (server -> client): a full frame of world state.
type StateMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Tick            int64  `json:"tick"`
	RunID           string `json:"run_id"`

	Width  int       `json:"width"`
	Height int       `json:"height"`
	Drop   *grid.Pos `json:"drop,omitempty"`
	// Cells is the row-major grid, run-length encoded (see sim/encoding).
	Cells   string `json:"cells,omitempty"`
	Running bool   `json:"running"`

	Delivered  int `json:"delivered"`
	TotalSteps int `json:"total_steps"`

	Robots    []RobotView    `json:"robots"`
	Items     []ItemView     `json:"items"`
	Obstacles []ObstacleView `json:"obstacles"`
}

type RobotView struct {
	ID            int64    `json:"id"`
	Pos           grid.Pos `json:"pos"`
	Capacity      int      `json:"capacity"`
	CurrentWeight int      `json:"current_weight"`
	Carrying      []int64  `json:"carrying,omitempty"`
	Targets       []int64  `json:"targets,omitempty"`
	PathLen       int      `json:"path_len"`
	Steps         int      `json:"steps"`
}

type ItemView struct {
	ID       int64    `json:"id"`
	Pos      grid.Pos `json:"pos"`
	Weight   int      `json:"weight"`
	Picked   bool     `json:"picked"`
	Assigned bool     `json:"assigned"`
}

type ObstacleView struct {
	Pos        grid.Pos `json:"pos"`
	Class      string   `json:"class"`
	Confidence float64  `json:"confidence"`
	// Ticks until expiry, -1 for permanent.
	Remaining int `json:"remaining"`
}

// EVENT_BATCH (server -> client): everything the simulation published during
// one tick, in publish order.
type EventBatchMsg struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	Tick            int64          `json:"tick"`
	Events          []events.Event `json:"events"`
}
