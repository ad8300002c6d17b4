package telegram

import (
	"regexp"
	"strings"
)

// Intent is a recognised user request.
type Intent int

const (
	IntentNone Intent = iota
	IntentStartWorking
	IntentFinishWorking
	IntentHelp
	IntentTrack
	IntentUntrack
	IntentTimezone
	IntentTimesheet
	IntentDailyTimesheet
	IntentContributions
	IntentDebug
	IntentUnknown // addressed to the bot but not understood
)

var intentNames = [...]string{
	IntentNone:           "none",
	IntentStartWorking:   "start_working",
	IntentFinishWorking:  "finish_working",
	IntentHelp:           "help",
	IntentTrack:          "track",
	IntentUntrack:        "untrack",
	IntentTimezone:       "timezone",
	IntentTimesheet:      "timesheet",
	IntentDailyTimesheet: "daily_timesheet",
	IntentContributions:  "contributions",
	IntentDebug:          "debug",
	IntentUnknown:        "unknown",
}

func (i Intent) String() string {
	if i < 0 || int(i) >= len(intentNames) {
		return "invalid"
	}
	return intentNames[i]
}

// Match is the result of intent recognition; Arg holds the captured
// argument (zone name, debug query) when the intent takes one.
type Match struct {
	Intent Intent
	Arg    string
}

type pattern struct {
	intent Intent
	re     *regexp.Regexp
}

// Phrases recognised in any message, addressed or not.
var listenPatterns = []pattern{
	{IntentStartWorking, regexp.MustCompile(`作業を開始します`)},
	{IntentStartWorking, regexp.MustCompile(`(作業を)?再開します`)},
	{IntentStartWorking, regexp.MustCompile(`(?i)start(ed)? working`)},
	{IntentStartWorking, regexp.MustCompile(`(?i)continued? working`)},
	{IntentStartWorking, regexp.MustCompile(`(?i)resumed? working`)},

	{IntentFinishWorking, regexp.MustCompile(`作業を終了します`)},
	{IntentFinishWorking, regexp.MustCompile(`(作業を)?中断します`)},
	{IntentFinishWorking, regexp.MustCompile(`(?i)finish(ed)? working`)},
	{IntentFinishWorking, regexp.MustCompile(`(?i)report working`)},
	{IntentFinishWorking, regexp.MustCompile(`(?i)stop(ped)? working`)},
}

// Requests recognised only when the message is addressed to the bot.
var respondPatterns = []pattern{
	{IntentDebug, regexp.MustCompile(`(?s)^debug (.*)$`)},
	{IntentHelp, regexp.MustCompile(`(?i)^introduce yourself$`)},
	{IntentHelp, regexp.MustCompile(`^help$`)},
	{IntentTrack, regexp.MustCompile(`(?i)^track me$`)},
	{IntentUntrack, regexp.MustCompile(`(?i)^do not track me$`)},
	{IntentUntrack, regexp.MustCompile(`(?i)^don'?t track me$`)},
	{IntentTimezone, regexp.MustCompile(`(?i)set my time ?zone as (.*)$`)},
	{IntentTimezone, regexp.MustCompile(`(?i)my time ?zone is (.*)$`)},
	{IntentDailyTimesheet, regexp.MustCompile(`^(show )?(m[ey] )?daily timesheet$`)},
	{IntentDailyTimesheet, regexp.MustCompile(`^(show )?(m[ey] )?timesheet by day$`)},
	{IntentTimesheet, regexp.MustCompile(`^(show )?(m[ey] )?timesheet$`)},
	{IntentContributions, regexp.MustCompile(`contributions`)},
}

// Slash commands and their intents.
var commandIntents = map[string]Intent{
	"start":         IntentHelp,
	"help":          IntentHelp,
	"track":         IntentTrack,
	"untrack":       IntentUntrack,
	"timezone":      IntentTimezone,
	"timesheet":     IntentTimesheet,
	"daily":         IntentDailyTimesheet,
	"contributions": IntentContributions,
	"debug":         IntentDebug,
}

// Recognize maps free text to an intent. Addressed messages are first
// matched against the bot's requests; every message is then matched against
// the work phrases.
func Recognize(text string, addressed bool) Match {
	text = strings.TrimSpace(text)
	if addressed {
		for _, p := range respondPatterns {
			if m := p.re.FindStringSubmatch(text); m != nil {
				return Match{Intent: p.intent, Arg: lastGroup(p.intent, m)}
			}
		}
	}
	for _, p := range listenPatterns {
		if p.re.MatchString(text) {
			return Match{Intent: p.intent}
		}
	}
	if addressed {
		return Match{Intent: IntentUnknown}
	}
	return Match{Intent: IntentNone}
}

// RecognizeCommand maps a slash command (without the slash or @botname) to
// an intent.
func RecognizeCommand(command, args string) Match {
	intent, ok := commandIntents[strings.ToLower(command)]
	if !ok {
		return Match{Intent: IntentUnknown}
	}
	return Match{Intent: intent, Arg: strings.TrimSpace(args)}
}

func lastGroup(intent Intent, m []string) string {
	if intent != IntentTimezone && intent != IntentDebug {
		return ""
	}
	return strings.TrimSpace(m[len(m)-1])
}

// stripMention reports whether text is addressed to the bot by a leading
// @username and returns the text without it.
func stripMention(text, username string) (string, bool) {
	if username == "" {
		return text, false
	}
	trimmed := strings.TrimSpace(text)
	mention := "@" + username
	if len(trimmed) < len(mention) || !strings.EqualFold(trimmed[:len(mention)], mention) {
		return text, false
	}
	rest := trimmed[len(mention):]
	if rest != "" && !strings.ContainsAny(rest[:1], " :,\n\t") {
		// @botname_other is somebody else.
		return text, false
	}
	return strings.TrimLeft(rest, " :,\n\t"), true
}
