package channel

import "strings"

// Command is a canonical slash-command name.
type Command string

const (
	CommandNone    Command = ""
	CommandNew     Command = "new"
	CommandHistory Command = "history"
	CommandCredits Command = "credits"
	CommandHelp    Command = "help"
)

// CommandSet maps channel-specific aliases (case-insensitive, with or
// without a leading slash) to canonical commands.
type CommandSet struct {
	aliases map[string]Command
}

// NewCommandSet builds a command set from alias→canonical pairs.
func NewCommandSet(aliases map[string]Command) CommandSet {
	normalized := make(map[string]Command, len(aliases))
	for alias, cmd := range aliases {
		key := normalizeCommandToken(alias)
		if key == "" {
			continue
		}
		normalized[key] = cmd
	}
	return CommandSet{aliases: normalized}
}

// DefaultCommandSet returns the shared vocabulary: new/start, history,
// credits, help.
func DefaultCommandSet() CommandSet {
	return NewCommandSet(map[string]Command{
		"new":     CommandNew,
		"start":   CommandNew,
		"nuevo":   CommandNew,
		"history": CommandHistory,
		"credits": CommandCredits,
		"help":    CommandHelp,
		"ayuda":   CommandHelp,
	})
}

// Detect returns the canonical command for text, or CommandNone. Only an
// exact vocabulary match counts; any other text is a conversational answer.
func (s CommandSet) Detect(text string) Command {
	key := normalizeCommandToken(text)
	if key == "" {
		return CommandNone
	}
	cmd, ok := s.aliases[key]
	if !ok {
		return CommandNone
	}
	return cmd
}

func normalizeCommandToken(raw string) string {
	token := strings.ToLower(strings.TrimSpace(raw))
	token = strings.TrimPrefix(token, "/")
	// Telegram group commands arrive as /cmd@botname.
	if at := strings.IndexByte(token, '@'); at >= 0 {
		token = token[:at]
	}
	return token
}
