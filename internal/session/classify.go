package session

import (
	"strings"

	"github.com/ppiankov/dxmap/internal/parse"
)

type marker struct {
	substr string
	kind   EventKind
}

// markers are checked in order; the first match wins
var markers = []marker{
	{"login:", EventLoginPrompt},
	{"Please enter your call", EventCallsignRequested},
	{"Please enter your name", EventNameRequested},
	{"Please enter your QTH", EventLocationRequested},
	{"Please enter your location", EventLocationRequested},
	{"Please enter your QRA", EventGridRequested},
	{"Please enter your grid", EventGridRequested},
	{"Please enter your locator", EventGridRequested},
	{"Is this correct", EventConfirmRequested},
	{"command not found", EventInvalidCommand},
	{"Invalid command", EventInvalidCommand},
	{"not recognised", EventInvalidCommand},
	{"Connection closed", EventConnectionLost},
	{"Disconnected from", EventConnectionLost},
}

type dialectMarker struct {
	substr  string
	dialect Dialect
}

// loggedInMarkers are the prompts each dialect shows once login completes
var loggedInMarkers = []dialectMarker{
	{"dxspider >", DialectDXSpider},
	{"arc6>", DialectARCluster},
	{"arc >", DialectARCluster},
	{"CCC >", DialectCCCluster},
}

// banners identify the dialect from the welcome text
var banners = []dialectMarker{
	{"CC-Cluster", DialectCCCluster},
	{"CC Cluster", DialectCCCluster},
	{"CCC_Commands", DialectCCCluster},
	{"AR-Cluster", DialectARCluster},
	{"DXSpider", DialectDXSpider},
}

// Classify assigns a line to an event kind. Lines matching no marker are banner
// probes while connecting or awaiting the login prompt, and generic
// information otherwise.
func Classify(line string, st State, mycall string) Event {
	if strings.HasPrefix(line, "DX de ") || strings.HasPrefix(line, parse.HTMLMarker) {
		return Event{Kind: EventSpotLine, Line: line}
	}
	if parse.IsShowDX(line) {
		return Event{Kind: EventMultiSpotLine, Line: line}
	}

	for _, m := range markers {
		if strings.Contains(line, m.substr) {
			return Event{Kind: m.kind, Line: line}
		}
	}

	for _, m := range loggedInMarkers {
		if strings.Contains(line, m.substr) {
			return Event{Kind: EventLoggedIn, Line: line, Dialect: m.dialect}
		}
	}
	if isPersonalPrompt(line, mycall) {
		return Event{Kind: EventLoggedIn, Line: line}
	}

	if st == StateConnecting || st == StateAwaitingLogin {
		if d := DetectDialect(line); d != DialectUnknown {
			return Event{Kind: EventClusterBanner, Line: line, Dialect: d}
		}
	}

	return Event{Kind: EventGenericInfo, Line: line}
}

// DetectDialect looks for a cluster banner in line
func DetectDialect(line string) Dialect {
	for _, b := range banners {
		if strings.Contains(line, b.substr) {
			return b.dialect
		}
	}
	if strings.Contains(strings.ToUpper(line), "VE7CC") {
		return DialectVE7CC
	}
	return DialectUnknown
}

// isPersonalPrompt matches "W1AW de GB7DJK 17-Oct-2026 1234Z >" style prompts
func isPersonalPrompt(line, mycall string) bool {
	if mycall == "" {
		return false
	}
	trimmed := strings.TrimSpace(line)
	return strings.HasPrefix(strings.ToUpper(trimmed), strings.ToUpper(mycall)+" DE ") &&
		strings.HasSuffix(trimmed, ">")
}

// isPrompt reports whether an unterminated line is a prompt that waits for input
func isPrompt(ev Event) bool {
	switch ev.Kind {
	case EventLoginPrompt, EventCallsignRequested, EventNameRequested,
		EventLocationRequested, EventGridRequested, EventConfirmRequested, EventLoggedIn:
		return true
	}
	return false
}
