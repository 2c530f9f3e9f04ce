package discussion

import (
	"bytes"
	"encoding/json"
	"strings"
)

// CommandKind tags an inbound control signal.
type CommandKind int

const (
	// CommandUtterance carries free text from the human participant.
	CommandUtterance CommandKind = iota
	// CommandStart opens a discussion. Text, when set, is the kickoff.
	CommandStart
	// CommandRestart abandons the running discussion and opens a fresh one.
	CommandRestart
	// CommandTerminate ends the running discussion.
	CommandTerminate
	// CommandPing is a keepalive and is otherwise ignored.
	CommandPing
)

func (k CommandKind) String() string {
	switch k {
	case CommandUtterance:
		return "utterance"
	case CommandStart:
		return "start"
	case CommandRestart:
		return "restart"
	case CommandTerminate:
		return "terminate"
	case CommandPing:
		return "ping"
	default:
		return "unknown"
	}
}

// Command is a decoded inbound frame.
type Command struct {
	Kind CommandKind
	Text string
}

// exitWord ends the discussion when sent as the whole of a human message.
const exitWord = "exit"

// startWord used as a first message opens the discussion with the default
// kickoff.
const startWord = "start"

type inboundFrame struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// DecodeCommand turns one raw frame into a Command. Frames that are not a
// JSON object, or whose type is unknown, are treated as human text.
func DecodeCommand(raw []byte) Command {
	trimmed := bytes.TrimSpace(raw)
	var frame inboundFrame
	if len(trimmed) == 0 || trimmed[0] != '{' || json.Unmarshal(trimmed, &frame) != nil {
		return textCommand(string(raw))
	}

	if kind, ok := controlKind(frame.Type); ok {
		if kind == CommandStart {
			return Command{Kind: CommandStart, Text: strings.TrimSpace(frame.Content)}
		}
		return Command{Kind: kind}
	}

	switch strings.ToLower(strings.TrimSpace(frame.Type)) {
	case "command":
		if kind, ok := controlKind(frame.Content); ok {
			return Command{Kind: kind}
		}
		return textCommand(frame.Content)
	case "user_message", "message", "text":
		return textCommand(frame.Content)
	}

	if frame.Content != "" {
		return textCommand(frame.Content)
	}
	return textCommand(string(raw))
}

func controlKind(word string) (CommandKind, bool) {
	switch strings.ToLower(strings.TrimSpace(word)) {
	case "start", "start_discussion":
		return CommandStart, true
	case "restart", "restart_discussion":
		return CommandRestart, true
	case "terminate", "exit":
		return CommandTerminate, true
	case "ping", "keepalive":
		return CommandPing, true
	}
	return 0, false
}

func textCommand(text string) Command {
	text = strings.TrimSpace(text)
	if strings.EqualFold(text, exitWord) {
		return Command{Kind: CommandTerminate}
	}
	return Command{Kind: CommandUtterance, Text: text}
}

// Outbound event types.
const (
	EventSystemMessage = "system_message"
	EventAgentMessage  = "agent_message"
	EventAgentList     = "agent_list"
	EventError         = "error"
)

// Event is an outbound frame. Content is a string for messages and a list of
// names for agent_list.
type Event struct {
	Type    string `json:"type"`
	Agent   string `json:"agent,omitempty"`
	Content any    `json:"content,omitempty"`
	Message string `json:"message,omitempty"`
}

// SystemMessage builds a system_message event.
func SystemMessage(text string) Event {
	return Event{Type: EventSystemMessage, Content: text}
}

// AgentMessage builds an agent_message event.
func AgentMessage(agent, text string) Event {
	return Event{Type: EventAgentMessage, Agent: agent, Content: text}
}

// AgentList builds an agent_list event.
func AgentList(names []string) Event {
	return Event{Type: EventAgentList, Content: names}
}

// ErrorEvent builds an error event.
func ErrorEvent(message string) Event {
	return Event{Type: EventError, Message: message}
}

// Notices sent outside of speaker announcements.
const (
	GreetingNotice   = "Connection established! Waiting for your input..."
	BusyNotice       = "A discussion is already in progress."
	StartedNotice    = "Discussion started!"
	MaxRoundsNotice  = "Maximum number of rounds reached. The discussion has ended."
	TerminatedNotice = "The discussion was terminated. See you next time!"
	RestartedNotice  = "Discussion restarted."
)
