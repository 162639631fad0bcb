// Package slackexport is a tolerant, line-oriented parser for Slack's
// plain-text export dialect: channel/DM header blocks, date headers,
// three timestamp grammars, and five message-line grammars. It mirrors
// the shape of a ParseWithCallbacks(reader, ..., batchCallback,
// progressCallback) CSV parser, generalized from fixed-column records to
// this multi-grammar line dialect.
package slackexport

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/connect-llm/slackcorpus/pkg/slackmodel"
)

var (
	headerFieldRe  = regexp.MustCompile(`^([A-Za-z][A-Za-z ]*):\s?(.*)$`)
	headerSepRe    = regexp.MustCompile(`^#{3,}$`)
	privateDMRe    = regexp.MustCompile(`^Private conversation between (.+)$`)
	dateHeaderRe   = regexp.MustCompile(`^---- (\d{4}-\d{2}-\d{2}) ----$`)

	tsFullRe  = regexp.MustCompile(`^\[(\d{4})-(\d{2})-(\d{2}) (\d{2}):(\d{2}):(\d{2}) UTC\]\s*(.*)$`)
	tsAMPMRe  = regexp.MustCompile(`^\[(\d{1,2}):(\d{2}) (AM|PM)\]\s*(.*)$`)
	ts24Re    = regexp.MustCompile(`^\[(\d{1,2}):(\d{2})\]\s*(.*)$`)

	archiveSystemRe = regexp.MustCompile(`^\(([a-zA-Z_]+)\) <([^>]+)> (\{.*\})\s*$`)
	fileShare1Re    = regexp.MustCompile(`^<([^>]+)> shared a file: (.*)$`)
	fileShare2Re    = regexp.MustCompile(`^(\S+) shared file\(s\) <([^>]+)> with text:\s*$`)
	joinRe          = regexp.MustCompile(`^(\S+) joined the channel\s*$`)
	regularRe       = regexp.MustCompile(`^<([^>]+)> (.*)$`)

	reactionRe = regexp.MustCompile(`^:([^:]+): (.*)$`)

	editedSuffix = " (edited)"
)

// Callbacks receive parsed records as the file is scanned, mirroring the
// shape of a batch/progress-callback CSV parser but specialised to this
// dialect's per-file, per-conversation structure.
type Callbacks struct {
	OnConversation func(slackmodel.Conversation)
	OnMessage      func(slackmodel.Message)
	OnFailedImport func(slackmodel.FailedImport)
}

// ParseFile reads one export .txt file and invokes cb for the
// conversation header (if complete), every message in emission order,
// and every unparseable line. sourcePath is used only to annotate
// FailedImport records.
func ParseFile(r io.Reader, sourcePath string, cb Callbacks) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	p := &parser{sourcePath: sourcePath}
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		p.consume(lineNo, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		if cb.OnFailedImport != nil {
			cb.OnFailedImport(slackmodel.FailedImport{
				FilePath:    sourcePath,
				LineNumber:  -1,
				Description: fmt.Sprintf("read error: %v", err),
			})
		}
		return nil
	}

	if p.conversationValid() && cb.OnConversation != nil {
		cb.OnConversation(p.conversation())
	}
	if cb.OnMessage != nil {
		for _, m := range p.messages {
			m.ConversationID = p.channelID
			cb.OnMessage(m)
		}
	}
	if cb.OnFailedImport != nil {
		for _, f := range p.failedImports {
			cb.OnFailedImport(f)
		}
	}
	return nil
}

type parser struct {
	sourcePath string
	inHeader   bool
	seenSep    bool

	channelID   string
	channelName string
	typ         string
	created     string
	topic       string
	purpose     string
	members     []string

	currentDate string

	messages      []slackmodel.Message
	failedImports []slackmodel.FailedImport

	lastTopLevelIdx int // index into messages of the current reply/reaction target, -1 if none
	replyUsers      map[int]map[string]bool
	fileShareOpen   bool // true while attaching the indented body of a "shared file(s)...with text:" block
}

func (p *parser) init() {
	if p.replyUsers == nil {
		p.replyUsers = make(map[int]map[string]bool)
		p.lastTopLevelIdx = -1
		p.inHeader = true
	}
}

func (p *parser) consume(lineNo int, raw string) {
	p.init()

	if p.inHeader {
		p.consumeHeaderLine(lineNo, raw)
		return
	}

	p.consumeMessageLine(lineNo, raw)
}

func (p *parser) consumeHeaderLine(lineNo int, raw string) {
	line := strings.TrimRight(raw, "\r\n")

	if line == "Messages:" {
		p.inHeader = false
		return
	}
	if headerSepRe.MatchString(strings.TrimSpace(line)) {
		return
	}
	if line == "" {
		return
	}
	if m := privateDMRe.FindStringSubmatch(line); m != nil {
		for _, name := range strings.Split(m[1], ",") {
			p.members = append(p.members, strings.TrimSpace(name))
		}
		return
	}
	if m := headerFieldRe.FindStringSubmatch(line); m != nil {
		switch strings.TrimSpace(m[1]) {
		case "Channel Name":
			p.channelName = m[2]
		case "Channel ID":
			p.channelID = m[2]
		case "Created":
			p.created = m[2]
		case "Type":
			p.typ = m[2]
		case "Topic":
			p.topic = m[2]
		case "Purpose":
			p.purpose = m[2]
		}
		return
	}
	// Unrecognised header line: tolerated, per the parser's "absent
	// fields" design note. Not recorded as a FailedImport since the
	// header block has no strict grammar.
}

func (p *parser) consumeMessageLine(lineNo int, raw string) {
	line := strings.TrimRight(raw, "\r\n")

	if strings.TrimSpace(line) == "" {
		p.fileShareOpen = false
		return
	}

	if m := dateHeaderRe.FindStringSubmatch(line); m != nil {
		p.currentDate = m[1]
		p.fileShareOpen = false
		return
	}

	if indent, rest, isIndented := splitIndent(line); isIndented {
		p.consumeIndentedLine(lineNo, indent, rest)
		return
	}

	p.fileShareOpen = false
	p.consumeTopLevelLine(lineNo, line)
}

func splitIndent(line string) (indent string, rest string, ok bool) {
	trimmed := strings.TrimLeft(line, " \t")
	if len(trimmed) == len(line) {
		return "", line, false
	}
	return line[:len(line)-len(trimmed)], trimmed, true
}

func (p *parser) consumeIndentedLine(lineNo int, indent, rest string) {
	if p.fileShareOpen && p.lastTopLevelIdx >= 0 {
		m := &p.messages[p.lastTopLevelIdx]
		if m.Text != "" {
			m.Text += "\n"
		}
		m.Text += rest
		return
	}

	if m := reactionRe.FindStringSubmatch(rest); m != nil && p.lastTopLevelIdx >= 0 {
		users := splitUserList(m[2])
		target := &p.messages[p.lastTopLevelIdx]
		target.Reactions = append(target.Reactions, slackmodel.Reaction{Emoji: m[1], Users: users})
		return
	}

	// Otherwise, try parsing the indented line as a thread reply: it
	// carries its own leading timestamp just like a top-level message.
	ts, body, matched := p.matchTimestamp(rest)
	if matched {
		msg, ok := p.matchBody(lineNo, ts, body)
		if ok {
			if p.lastTopLevelIdx >= 0 {
				parentTS := p.messages[p.lastTopLevelIdx].TS
				msg.ThreadTS = &parentTS
				p.recordReply(p.lastTopLevelIdx, msg.User)
			}
			p.appendMessage(msg)
			return
		}
	}

	p.recordFailedImport(lineNo, fmt.Sprintf("unrecognised indented line: %q", rest))
}

func (p *parser) consumeTopLevelLine(lineNo int, line string) {
	ts, body, matched := p.matchTimestamp(line)
	if !matched {
		p.recordFailedImport(lineNo, fmt.Sprintf("no recognised timestamp: %q", line))
		return
	}

	msg, ok := p.matchBody(lineNo, ts, body)
	if !ok {
		p.recordFailedImport(lineNo, fmt.Sprintf("unrecognised message line: %q", line))
		return
	}

	p.appendMessage(msg)
	p.lastTopLevelIdx = len(p.messages) - 1
	p.fileShareOpen = msg.Type == slackmodel.MessageFile
}

func (p *parser) appendMessage(msg slackmodel.Message) {
	msg.Ordinal = len(p.messages)
	p.messages = append(p.messages, msg)
}

func (p *parser) recordReply(parentIdx int, user string) {
	p.messages[parentIdx].ReplyCount++
	set, ok := p.replyUsers[parentIdx]
	if !ok {
		set = make(map[string]bool)
		p.replyUsers[parentIdx] = set
	}
	if user != "" && !set[user] {
		set[user] = true
		p.messages[parentIdx].ReplyUsersCount++
	}
}

func (p *parser) recordFailedImport(lineNo int, desc string) {
	p.failedImports = append(p.failedImports, slackmodel.FailedImport{
		FilePath:    p.sourcePath,
		LineNumber:  lineNo,
		Description: desc,
	})
}

// matchTimestamp parses the leading bracketed token on a line against the
// three timestamp grammars, in order of preference, and returns the
// resolved UTC time and the remainder of the line.
func (p *parser) matchTimestamp(line string) (time.Time, string, bool) {
	if m := tsFullRe.FindStringSubmatch(line); m != nil {
		year, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		day, _ := strconv.Atoi(m[3])
		hour, _ := strconv.Atoi(m[4])
		minute, _ := strconv.Atoi(m[5])
		second, _ := strconv.Atoi(m[6])
		ts := time.Date(year, time.Month(month), day, hour, minute, second, 0, time.UTC)
		return ts, m[7], true
	}

	if p.currentDate == "" {
		return time.Time{}, "", false
	}
	date, err := time.Parse("2006-01-02", p.currentDate)
	if err != nil {
		return time.Time{}, "", false
	}

	if m := tsAMPMRe.FindStringSubmatch(line); m != nil {
		hour, _ := strconv.Atoi(m[1])
		minute, _ := strconv.Atoi(m[2])
		if strings.EqualFold(m[3], "PM") && hour != 12 {
			hour += 12
		}
		if strings.EqualFold(m[3], "AM") && hour == 12 {
			hour = 0
		}
		ts := time.Date(date.Year(), date.Month(), date.Day(), hour, minute, 0, 0, time.UTC)
		return ts, m[4], true
	}

	if m := ts24Re.FindStringSubmatch(line); m != nil {
		hour, _ := strconv.Atoi(m[1])
		minute, _ := strconv.Atoi(m[2])
		ts := time.Date(date.Year(), date.Month(), date.Day(), hour, minute, 0, 0, time.UTC)
		return ts, m[3], true
	}

	return time.Time{}, "", false
}

// matchBody applies the five message-line body grammars, in order, to
// the text following a parsed timestamp.
func (p *parser) matchBody(lineNo int, ts time.Time, body string) (slackmodel.Message, bool) {
	base := slackmodel.Message{TS: ts}

	if m := archiveSystemRe.FindStringSubmatch(body); m != nil {
		base.Type = slackmodel.MessageSystem
		base.SystemAction = m[1]
		base.User = m[2]
		base.Text = m[3]
		return base, true
	}

	if m := fileShare1Re.FindStringSubmatch(body); m != nil {
		base.Type = slackmodel.MessageFile
		base.User = m[1]
		base.Text = stripEdited(&base, m[2])
		return base, true
	}

	if m := fileShare2Re.FindStringSubmatch(body); m != nil {
		base.Type = slackmodel.MessageFile
		base.User = m[1]
		base.Files = []slackmodel.SharedFile{{ID: m[2]}}
		base.Text = ""
		return base, true
	}

	if m := joinRe.FindStringSubmatch(body); m != nil {
		base.Type = slackmodel.MessageJoin
		base.User = m[1]
		return base, true
	}

	if m := regularRe.FindStringSubmatch(body); m != nil {
		base.Type = slackmodel.MessageText
		base.User = m[1]
		base.Text = stripEdited(&base, m[2])
		return base, true
	}

	return slackmodel.Message{}, false
}

func stripEdited(m *slackmodel.Message, text string) string {
	if strings.HasSuffix(text, editedSuffix) {
		m.IsEdited = true
		return strings.TrimSuffix(text, editedSuffix)
	}
	return text
}

func splitUserList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func (p *parser) conversationValid() bool {
	return p.channelID != "" && p.typ != ""
}

func (p *parser) conversation() slackmodel.Conversation {
	return slackmodel.Conversation{
		ID:          p.channelID,
		Name:        p.channelName,
		Kind:        kindFromType(p.typ),
		MemberUsers: p.members,
		Topic:       p.topic,
		Purpose:     p.purpose,
	}
}

func kindFromType(typ string) slackmodel.ConversationKind {
	lower := strings.ToLower(typ)
	switch {
	case strings.Contains(lower, "multi"):
		return slackmodel.KindMultiPartyDM
	case strings.Contains(lower, "phone") || strings.Contains(lower, "call"):
		return slackmodel.KindPhoneCall
	case strings.Contains(lower, "direct") || strings.Contains(lower, "dm"):
		return slackmodel.KindDirectMsg
	default:
		return slackmodel.KindChannel
	}
}
