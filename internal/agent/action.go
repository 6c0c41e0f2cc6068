package agent

import (
	"fmt"
	"regexp"
	"strings"
)

// ActionKind enumerates the closed verb set of the action grammar.
type ActionKind string

const (
	ActionClick    ActionKind = "click"
	ActionSetValue ActionKind = "setValue"
	ActionScroll   ActionKind = "scroll"
	ActionFinish   ActionKind = "finish"
	ActionFail     ActionKind = "fail"
)

// ParsedAction is the structured form of a single grammar sentence.
type ParsedAction struct {
	Kind     ActionKind
	TargetID string
	Value    string
}

// Terminal reports whether the action ends the task rather than driving the
// page.
func (a ParsedAction) Terminal() bool {
	return a.Kind == ActionFinish || a.Kind == ActionFail
}

// String renders the action back into its canonical grammar form.
func (a ParsedAction) String() string {
	switch a.Kind {
	case ActionClick, ActionScroll:
		return fmt.Sprintf("%s(%s)", a.Kind, a.TargetID)
	case ActionSetValue:
		return fmt.Sprintf(`setValue(%s, "%s")`, a.TargetID, escapeQuoted(a.Value))
	case ActionFail:
		return fmt.Sprintf(`fail("%s")`, escapeQuoted(a.Value))
	default:
		return "finish()"
	}
}

// Element ids come straight from the DOM and feed back into CSS selectors, so
// the accepted charset is deliberately narrow.
var (
	clickRe    = regexp.MustCompile(`^click\(\s*([A-Za-z0-9_\-:.]+)\s*\)$`)
	scrollRe   = regexp.MustCompile(`^scroll\(\s*([A-Za-z0-9_\-:.]+)\s*\)$`)
	setValueRe = regexp.MustCompile(`^setValue\(\s*([A-Za-z0-9_\-:.]+)\s*,\s*"((?:[^"\\]|\\.)*)"\s*\)$`)
	finishRe   = regexp.MustCompile(`^finish\(\s*\)$`)
	failRe     = regexp.MustCompile(`^fail\(\s*"((?:[^"\\]|\\.)*)"\s*\)$`)
)

// ParseAction validates a raw action string against the grammar and returns
// its structured form. The grammar is strict: a single sentence, no trailing
// text, no unknown verbs.
func ParseAction(raw string) (ParsedAction, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ParsedAction{}, fmt.Errorf("empty action")
	}

	if m := clickRe.FindStringSubmatch(s); m != nil {
		return ParsedAction{Kind: ActionClick, TargetID: m[1]}, nil
	}
	if m := setValueRe.FindStringSubmatch(s); m != nil {
		return ParsedAction{Kind: ActionSetValue, TargetID: m[1], Value: unescapeQuoted(m[2])}, nil
	}
	if m := scrollRe.FindStringSubmatch(s); m != nil {
		return ParsedAction{Kind: ActionScroll, TargetID: m[1]}, nil
	}
	if finishRe.MatchString(s) {
		return ParsedAction{Kind: ActionFinish}, nil
	}
	if m := failRe.FindStringSubmatch(s); m != nil {
		return ParsedAction{Kind: ActionFail, Value: unescapeQuoted(m[1])}, nil
	}

	return ParsedAction{}, fmt.Errorf("action %q does not match the grammar", s)
}

func unescapeQuoted(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
			switch s[i] {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			default:
				b.WriteByte(s[i])
			}
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func escapeQuoted(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	s = strings.ReplaceAll(s, "\n", `\n`)
	return s
}
