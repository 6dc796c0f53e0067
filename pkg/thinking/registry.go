package thinking

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/tiermind/tiermind/pkg/config"
	"github.com/tiermind/tiermind/pkg/dispatch"
	"github.com/tiermind/tiermind/pkg/reasoning"
)

// Build constructs the tools named in the reasoning settings, in the
// order configured. Unknown names are a configuration error.
func Build(dispatcher *dispatch.Dispatcher, settings config.ReasoningSettings, logger *zap.Logger) ([]reasoning.Tool, error) {
	tools := make([]reasoning.Tool, 0, len(settings.Tools))
	for _, name := range settings.Tools {
		switch name {
		case "redteam":
			tools = append(tools, NewRedTeam(dispatcher, settings, logger))
		case "council":
			tools = append(tools, NewCouncil(dispatcher, settings, logger))
		case "first_principles":
			tools = append(tools, NewFirstPrinciples(dispatcher, settings, logger))
		default:
			return nil, fmt.Errorf("unknown thinking tool %q", name)
		}
	}
	return tools, nil
}
