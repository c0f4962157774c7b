package nlp

import (
	"fmt"
	"strings"

	"github.com/haasonsaas/parley/pkg/models"
)

// FormatTranscript renders the session's message and tool events as a
// plain-text transcript for inclusion in prompts. Status events are
// engine-internal and never shown to the model.
func FormatTranscript(events []models.Event) string {
	var sb strings.Builder
	for _, e := range events {
		switch e.Kind {
		case models.EventMessage:
			data, err := models.DecodeEventData[models.MessageEventData](e)
			if err != nil {
				continue
			}
			sb.WriteString(fmt.Sprintf("[%s] %s: %s\n", speakerLabel(e.Source), data.Participant.DisplayName, data.Message))
		case models.EventTool:
			data, err := models.DecodeEventData[models.ToolEventData](e)
			if err != nil {
				continue
			}
			for _, call := range data.ToolCalls {
				sb.WriteString(fmt.Sprintf("[tool] %s returned: %s\n", call.ToolID, summarizeResult(call.Result)))
			}
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

// LastCustomerMessage returns the text of the most recent customer message,
// or "" when there is none. Matching, retrieval, and journey relevance all
// key off this query.
func LastCustomerMessage(events []models.Event) string {
	for i := len(events) - 1; i >= 0; i-- {
		e := events[i]
		if e.Kind != models.EventMessage || e.Source != models.SourceCustomer {
			continue
		}
		data, err := models.DecodeEventData[models.MessageEventData](e)
		if err != nil {
			continue
		}
		return data.Message
	}
	return ""
}

// LastAgentMessage returns the payload of the most recent agent message
// event, with ok=false when the agent has not spoken yet.
func LastAgentMessage(events []models.Event) (models.MessageEventData, bool) {
	for i := len(events) - 1; i >= 0; i-- {
		e := events[i]
		if e.Kind != models.EventMessage || e.Source != models.SourceAIAgent {
			continue
		}
		data, err := models.DecodeEventData[models.MessageEventData](e)
		if err != nil {
			continue
		}
		return data, true
	}
	return models.MessageEventData{}, false
}

func speakerLabel(source models.EventSource) string {
	switch source {
	case models.SourceCustomer:
		return "customer"
	case models.SourceAIAgent, models.SourceHumanAgent:
		return "agent"
	default:
		return "system"
	}
}

func summarizeResult(result models.ToolResult) string {
	if result.Error != "" {
		return "error: " + result.Error
	}
	const maxLen = 2000
	s := string(result.Data)
	if len(s) > maxLen {
		s = s[:maxLen] + "…"
	}
	return s
}
