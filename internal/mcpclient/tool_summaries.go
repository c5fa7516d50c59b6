package mcpclient

import (
	"encoding/json"

	"github.com/goosehq/goose/pkg/models"
)

// LLMTools returns every tool exposed by mgr's connected servers as
// models.Tool, named with the "<extension-name>__<tool-name>" fully
// qualified scheme from the data model's extension configuration section.
func LLMTools(mgr *Manager) []models.Tool {
	if mgr == nil {
		return nil
	}

	tools := listToolsSorted(mgr)
	used := make(map[string]struct{})
	out := make([]models.Tool, 0, len(tools))

	for _, entry := range tools {
		name := safeToolName(entry.serverID, entry.tool.Name, used)
		out = append(out, models.Tool{
			Name:        name,
			Description: entry.tool.Description,
			InputSchema: normalizedSchema(entry.tool.InputSchema),
		})
	}

	for _, serverID := range listServerIDs(mgr) {
		resListName := safeToolName(serverID, "resources_list", used)
		resReadName := safeToolName(serverID, "resource_read", used)
		promptListName := safeToolName(serverID, "prompts_list", used)
		promptGetName := safeToolName(serverID, "prompt_get", used)

		out = append(out,
			toolFromSummary(NewResourceListBridge(mgr, serverID, resListName)),
			toolFromSummary(NewResourceReadBridge(mgr, serverID, resReadName)),
			toolFromSummary(NewPromptListBridge(mgr, serverID, promptListName)),
			toolFromSummary(NewPromptGetBridge(mgr, serverID, promptGetName)),
		)
	}

	return out
}

type summaryTool interface {
	Name() string
	Description() string
	Schema() json.RawMessage
}

func toolFromSummary(tool summaryTool) models.Tool {
	if tool == nil {
		return models.Tool{}
	}
	return models.Tool{
		Name:        tool.Name(),
		Description: tool.Description(),
		InputSchema: normalizedSchema(tool.Schema()),
	}
}

func normalizedSchema(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte(`{"type":"object"}`)
	}
	return []byte(raw)
}
