package session

import (
	"time"

	"github.com/ppiankov/dxmap/internal/model"
)

// EventKind is the semantic class of one line from the cluster
type EventKind int

const (
	EventGenericInfo EventKind = iota
	EventLoginPrompt
	EventCallsignRequested
	EventNameRequested
	EventLocationRequested
	EventGridRequested
	EventConfirmRequested
	EventSpotLine
	EventMultiSpotLine
	EventClusterBanner
	EventLoggedIn
	EventInvalidCommand
	EventConnectionLost
	EventStatus // Raised by the session itself, not read from the wire
)

var eventNames = map[EventKind]string{
	EventGenericInfo:       "generic-information",
	EventLoginPrompt:       "login-prompt",
	EventCallsignRequested: "callsign-requested",
	EventNameRequested:     "name-requested",
	EventLocationRequested: "location-requested",
	EventGridRequested:     "grid-requested",
	EventConfirmRequested:  "confirm-requested",
	EventSpotLine:          "spot-line",
	EventMultiSpotLine:     "multi-spot-block-line",
	EventClusterBanner:     "cluster-banner",
	EventLoggedIn:          "logged-in",
	EventInvalidCommand:    "invalid-command",
	EventConnectionLost:    "connection-lost",
	EventStatus:            "status",
}

func (k EventKind) String() string {
	if s, ok := eventNames[k]; ok {
		return s
	}
	return "unknown"
}

// Dialect is the cluster software family announced by the banner
type Dialect int

const (
	DialectUnknown Dialect = iota
	DialectDXSpider
	DialectARCluster
	DialectCCCluster
	DialectVE7CC
)

func (d Dialect) String() string {
	switch d {
	case DialectDXSpider:
		return "DXSpider"
	case DialectARCluster:
		return "AR-Cluster"
	case DialectCCCluster:
		return "CC-Cluster"
	case DialectVE7CC:
		return "VE7CC"
	default:
		return "unknown"
	}
}

// Event is one classified line, or a status message raised by the session
type Event struct {
	Kind    EventKind
	Line    string
	Source  model.Source
	Dialect Dialect
	Err     error
	At      time.Time
}

// Handler receives session events. It is called from the session's read goroutine.
type Handler func(Event)

// State is the login state machine position
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateAwaitingLogin
	StateAwaitingCredentials
	StateLoggedIn
	StateAwaitingReconnect
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAwaitingLogin:
		return "awaiting-login"
	case StateAwaitingCredentials:
		return "awaiting-credentials"
	case StateLoggedIn:
		return "logged-in"
	case StateAwaitingReconnect:
		return "awaiting-reconnect"
	default:
		return "unknown"
	}
}

// CredentialStep orders the login questions
type CredentialStep int

const (
	StepNone CredentialStep = iota
	StepCallsign
	StepName
	StepQTH
	StepGrid
)

func (c CredentialStep) String() string {
	switch c {
	case StepCallsign:
		return "callsign"
	case StepName:
		return "name"
	case StepQTH:
		return "qth"
	case StepGrid:
		return "grid"
	default:
		return "none"
	}
}
