package filter

import (
	"strings"

	"golang.org/x/text/cases"
)

// Command is a parsed bot command such as "/ban@mybot 42 spam".
type Command struct {
	// Name is the lower-cased command without the leading slash or @mention.
	Name string
	// Args are the whitespace-separated tokens after the command.
	Args []string
	// Mention is the bot username from a "/cmd@bot" form, if present.
	Mention string
}

// ArgString returns the arguments joined by single spaces.
func (c Command) ArgString() string {
	return strings.Join(c.Args, " ")
}

// ParseCommand parses text as a bot command. It reports false when text does
// not start with "/" or the command name is empty.
func ParseCommand(text string) (Command, bool) {
	if !strings.HasPrefix(text, "/") {
		return Command{}, false
	}

	fields := strings.Fields(text)

	var cmd Command
	name := strings.TrimPrefix(fields[0], "/")
	if at := strings.IndexByte(name, '@'); at != -1 {
		cmd.Mention = name[at+1:]
		name = name[:at]
	}
	if name == "" {
		return Command{}, false
	}

	cmd.Name = foldCommand(name)
	if len(fields) > 1 {
		cmd.Args = fields[1:]
	}
	return cmd, true
}

// foldCommand lower-cases a command name with Unicode-aware folding.
// cases.Caser is stateful, so a fresh one is built per call.
func foldCommand(name string) string {
	return cases.Fold().String(name)
}
