package session

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ppiankov/dxmap/internal/model"
)

// commandTemplates are the outbound commands a user can trigger by name
var commandTemplates = map[string]func(st model.StationConfig) string{
	"name":      func(st model.StationConfig) string { return "set/name " + st.Name },
	"qth":       func(st model.StationConfig) string { return "set/qth " + st.QTH },
	"qra":       func(st model.StationConfig) string { return "set/qra " + st.Grid },
	"ft8":       func(model.StationConfig) string { return "set/ft8" },
	"dx20":      func(model.StationConfig) string { return "show dx/20" },
	"dx50":      func(model.StationConfig) string { return "show dx/50" },
	"bye":       func(model.StationConfig) string { return "bye" },
	"keepalive": func(model.StationConfig) string { return KeepAliveCommand },
}

// NamedCommand expands a command name into the text sent to the cluster
func NamedCommand(name string, st model.StationConfig) (string, error) {
	tmpl, ok := commandTemplates[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
	cmd := tmpl(st)
	if strings.HasSuffix(cmd, " ") {
		return "", fmt.Errorf("%w: %s needs a configured value", ErrInvalidSessionState, name)
	}
	return cmd, nil
}

// CommandNames lists the accepted command names
func CommandNames() []string {
	names := make([]string, 0, len(commandTemplates))
	for name := range commandTemplates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
