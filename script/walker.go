package script

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/minios-linux/gametl/wrap"
)

// ---------------------------------------------------------------------------
// Units and plans
// ---------------------------------------------------------------------------

// Kind classifies an extracted unit by how it must be translated.
type Kind int

const (
	// Dialogue units are translated in batches.
	Dialogue Kind = iota
	// Choice units are translated one by one, briefly, with context.
	Choice
	// Scripted units are translated one by one with their rule's instruction.
	Scripted
)

func (k Kind) String() string {
	switch k {
	case Dialogue:
		return "dialogue"
	case Choice:
		return "choice"
	case Scripted:
		return "scripted"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Unit is one piece of text to translate.
type Unit struct {
	Kind Kind
	// Text is the cleaned source text.
	Text string
	// Speaker is the untranslated speaker of a dialogue unit.
	Speaker string
	// Instruction and FullPrompt select how a non-dialogue unit is sent.
	Instruction string
	FullPrompt  bool
	// Rule names the table entry that produced the unit.
	Rule string
}

// Translations carries everything Reinsert needs: one string per unit, in
// extraction order, and the translated form of every name in Plan.Names.
type Translations struct {
	Units []string
	Names map[string]string
}

// Plan is the result of Extract for one page.
type Plan struct {
	Units []Unit
	// Names lists distinct speaker and NPC names in first-seen order.
	Names []string

	ops  []op
	seen map[string]bool
}

// Empty reports whether the page has nothing to translate.
func (p *Plan) Empty() bool {
	return len(p.Units) == 0 && len(p.Names) == 0
}

func (p *Plan) addName(name string) {
	if name == "" || p.seen[name] {
		return
	}
	if p.seen == nil {
		p.seen = make(map[string]bool)
	}
	p.seen[name] = true
	p.Names = append(p.Names, name)
}

type side int

const (
	noTag side = iota
	prefixTag
	suffixTag
)

type opKind int

const (
	opDialogue opKind = iota
	opChoice
	opRule
	opName
)

// op records where a unit came from and how to put its translation back.
type op struct {
	kind  opKind
	start int
	end   int
	unit  int

	family      *textFamily
	speaker     string
	tagSide     side
	nametag     string
	bracketTag  string
	bracketName string
	se          string
	lead        string
	centered    bool

	choice int
	prefix string
	suffix string

	rule *rule
	name string
}

// ---------------------------------------------------------------------------
// Walker
// ---------------------------------------------------------------------------

// Options tunes text post-processing.
type Options struct {
	// Width wraps dialogue; 0 disables wrapping.
	Width int
	// BracketNames detects 【Name】 style speakers at the start of a run.
	BracketNames bool
	// BreakTag, when set, replaces newlines in wrapped dialogue (e.g. "<br>").
	BreakTag string
	// KeepLineBreaks keeps source newlines instead of flattening them.
	KeepLineBreaks bool
}

// Walker extracts and reinserts translatable text for one code table.
type Walker struct {
	table *compiledTable
	opts  Options
}

// New compiles a table into a Walker.
func New(t Table, opts Options) (*Walker, error) {
	ct, err := compile(t)
	if err != nil {
		return nil, err
	}
	return &Walker{table: ct, opts: opts}, nil
}

var (
	suffixSpeaker = regexp.MustCompile(`^(.*?)(\\+[nN][wWcC]?<(.*?)>.*)$`)
	prefixSpeaker = regexp.MustCompile(`^(.*\\+[nN][wWcC]?<(.*?)>)(.*)$`)
	bracketName   = regexp.MustCompile(`^(\\+[cC]\[[0-9]+\]【?(.+?)】?\\+[cC]\[[0-9]+\])|^(【(.+)】)`)
	soundEffect   = regexp.MustCompile(`^(.*\\+SE\[[^\]]*\])`)
	leadCodes     = regexp.MustCompile(`^(?:\\+[fFaA]+\[[^\]]*\])+`)
	waitCodes     = regexp.MustCompile(`\\+[!><.|#^{}]`)
	centerCode    = regexp.MustCompile(`\\+CL`)
	speakerLabel  = regexp.MustCompile(`^(.+?)\s?[|:]\s?`)

	choicePrefix = regexp.MustCompile(`^(?:en|if).+\)\s?`)
	choiceSuffix = regexp.MustCompile(`\s?(?:en|if).+$`)
)

var sourceCleanup = strings.NewReplacer(
	"ﾞ", "",
	"・", ".",
	"‶", "",
	"”", "",
	"―", "-",
	"ー", "-",
	"…", "...",
	"　", "",
)

var ellipsisRun = regexp.MustCompile(`\.{4,}`)

// Extract walks records and returns the units to translate. records is not
// modified.
func (w *Walker) Extract(records []Record) (*Plan, error) {
	p := &Plan{}
	pending := ""

	for i := 0; i < len(records); {
		r := records[i]

		if fam := w.table.textStart(r.Code); fam != nil {
			end := runEnd(records, i, fam)
			if err := w.extractDialogue(p, records, i, end, fam, pending); err != nil {
				return nil, err
			}
			pending = ""
			i = end
			continue
		}

		if cf := w.table.choice(r.Code); cf != nil {
			if err := w.extractChoices(p, r, i, cf); err != nil {
				return nil, err
			}
			i++
			continue
		}

		for _, ru := range w.table.rule(r.Code) {
			name, ok := w.extractRule(p, r, i, ru)
			if !ok {
				continue
			}
			if ru.Kind == RuleSpeaker {
				pending = name
			}
			break
		}
		i++
	}
	return p, nil
}

func runEnd(records []Record, start int, fam *textFamily) int {
	end := start + 1
	if fam.terminal(records[start].Code) {
		return end
	}
	for end < len(records) && fam.continues(records[end].Code) {
		end++
		if fam.terminal(records[end-1].Code) {
			break
		}
	}
	return end
}

func (w *Walker) extractDialogue(p *Plan, records []Record, start, end int, fam *textFamily, pending string) error {
	parts := make([]string, 0, end-start)
	for i := start; i < end; i++ {
		s, ok := records[i].String(0)
		if !ok {
			return structureError(i, records[i].Code, "parameter 0 is %T, want string", records[i].Param(0))
		}
		parts = append(parts, s)
	}
	text := strings.ReplaceAll(strings.Join(parts, fam.Join), "？", "?")
	if strings.TrimSpace(text) == "" {
		return nil
	}

	o := op{kind: opDialogue, start: start, end: end, family: fam, speaker: pending}

	if !strings.HasPrefix(text, `\`) {
		if m := suffixSpeaker.FindStringSubmatch(text); m != nil {
			o.tagSide, o.nametag, o.speaker = suffixTag, m[2], m[3]
			text = m[1]
		}
	} else if m := prefixSpeaker.FindStringSubmatch(text); m != nil {
		o.tagSide, o.nametag, o.speaker = prefixTag, m[1], m[2]
		text = m[3]
	}

	if w.opts.BracketNames {
		if m := bracketName.FindStringSubmatch(text); m != nil {
			o.bracketTag, o.bracketName = m[1], m[2]
			if o.bracketTag == "" {
				o.bracketTag, o.bracketName = m[3], m[4]
			}
			o.speaker = o.bracketName
			text = strings.TrimPrefix(text, o.bracketTag)
		}
	}

	if m := soundEffect.FindString(text); m != "" {
		o.se = m
		text = strings.TrimPrefix(text, m)
	}

	if !w.opts.KeepLineBreaks {
		text = strings.ReplaceAll(text, "<br>", " ")
		text = strings.ReplaceAll(text, "\r\n", " ")
		text = strings.ReplaceAll(text, "\n", " ")
	}

	text = ellipsisRun.ReplaceAllString(sourceCleanup.Replace(text), "...")

	if m := leadCodes.FindString(text); m != "" {
		o.lead = m
		text = strings.TrimPrefix(text, m)
	}
	if fam.furigana != nil {
		text = fam.furigana.ReplaceAllString(text, "${1}")
	}
	for _, re := range fam.strip {
		text = re.ReplaceAllString(text, "")
	}
	text = waitCodes.ReplaceAllString(text, "")
	if centerCode.MatchString(text) {
		o.centered = true
		text = centerCode.ReplaceAllString(text, "")
	}
	text = strings.TrimSpace(text)
	if text == "" && o.bracketTag == "" && o.tagSide == noTag {
		return nil
	}

	p.addName(o.speaker)
	o.unit = len(p.Units)
	p.Units = append(p.Units, Unit{Kind: Dialogue, Text: text, Speaker: o.speaker, Rule: fam.Name})
	p.ops = append(p.ops, o)
	return nil
}

func (w *Walker) extractChoices(p *Plan, r Record, index int, cf *ChoiceFamily) error {
	list, ok := r.Param(cf.Param).([]any)
	if !ok {
		return structureError(index, r.Code, "parameter %d is %T, want list", cf.Param, r.Param(cf.Param))
	}
	for ci, c := range list {
		s, ok := c.(string)
		if !ok {
			return structureError(index, r.Code, "choice %d is %T, want string", ci, c)
		}
		o := op{kind: opChoice, start: index, end: index + 1, choice: ci}
		o.prefix = choicePrefix.FindString(s)
		s = strings.TrimPrefix(s, o.prefix)
		if loc := choiceSuffix.FindStringIndex(s); loc != nil {
			o.suffix = s[loc[0]:]
			s = s[:loc[0]]
		}
		s = strings.TrimSpace(strings.ReplaceAll(s, " 。", "."))
		if s == "" {
			continue
		}
		o.unit = len(p.Units)
		p.Units = append(p.Units, Unit{Kind: Choice, Text: s, Instruction: ChoiceInstruction, Rule: cf.Name})
		p.ops = append(p.ops, o)
	}
	return nil
}

// ruleTarget returns the string a rule applies to.
func ruleTarget(r Record, ru *rule) (string, bool) {
	v := r.Param(ru.Param)
	if ru.Key != "" {
		m, ok := v.(map[string]any)
		if !ok {
			return "", false
		}
		v = m[ru.Key]
	}
	s, ok := v.(string)
	return s, ok
}

func (w *Walker) extractRule(p *Plan, r Record, index int, ru *rule) (string, bool) {
	s, ok := ruleTarget(r, ru)
	if !ok || strings.TrimSpace(s) == "" {
		return "", false
	}
	if ru.Require != "" && !strings.Contains(s, ru.Require) {
		return "", false
	}
	for _, skip := range ru.Skip {
		if strings.Contains(s, skip) {
			return "", false
		}
	}

	o := op{kind: opRule, start: index, end: index + 1, rule: ru}
	text := s
	if ru.pattern != nil {
		loc := ru.pattern.FindStringSubmatchIndex(s)
		if loc == nil || loc[2] < 0 {
			return "", false
		}
		o.prefix, text, o.suffix = s[:loc[2]], s[loc[2]:loc[3]], s[loc[3]:]
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", false
	}

	if ru.Kind == RuleSpeaker || ru.Kind == RuleName {
		o.kind = opName
		o.name = text
		p.addName(text)
		p.ops = append(p.ops, o)
		return text, true
	}

	u := Unit{
		Kind:        Scripted,
		Text:        text,
		Instruction: ru.Instruction,
		FullPrompt:  ru.FullPrompt,
		Rule:        ru.Name,
	}
	if ru.Kind == RuleChoice {
		u.Kind = Choice
		if u.Instruction == "" {
			u.Instruction = ChoiceInstruction
		}
	}
	o.unit = len(p.Units)
	p.Units = append(p.Units, u)
	p.ops = append(p.ops, o)
	return text, true
}

// ---------------------------------------------------------------------------
// Reinsertion
// ---------------------------------------------------------------------------

// Reinsert builds a new record list from records, the plan Extract returned
// for them, and the translations. Merged records are dropped.
func (w *Walker) Reinsert(records []Record, p *Plan, tr Translations) ([]Record, error) {
	if len(tr.Units) != len(p.Units) {
		return nil, fmt.Errorf("reinsert: %d translations for %d units", len(tr.Units), len(p.Units))
	}

	out := make([]Record, len(records))
	for i, r := range records {
		out[i] = r.Clone()
	}

	for _, o := range p.ops {
		switch o.kind {
		case opDialogue:
			w.reinsertDialogue(out, o, tr.Units[o.unit], tr.Names)
		case opChoice:
			list := out[o.start].Params[w.choiceParam(out[o.start].Code)].([]any)
			list[o.choice] = o.prefix + cleanChoice(tr.Units[o.unit]) + o.suffix
		case opRule:
			setRuleTarget(&out[o.start], o.rule, o.prefix+w.finishRule(o.rule, tr.Units[o.unit])+o.suffix)
		case opName:
			name := translatedName(tr.Names, o.name)
			if o.rule.SpaceTo != "" {
				name = strings.ReplaceAll(name, " ", o.rule.SpaceTo)
			}
			setRuleTarget(&out[o.start], o.rule, o.prefix+name+o.suffix)
		}
	}
	return Sweep(out), nil
}

func (w *Walker) choiceParam(code int) int {
	if cf := w.table.choice(code); cf != nil {
		return cf.Param
	}
	return 0
}

func translatedName(names map[string]string, raw string) string {
	if t, ok := names[raw]; ok && t != "" {
		return t
	}
	return raw
}

func (w *Walker) reinsertDialogue(out []Record, o op, translated string, names map[string]string) {
	text := strings.TrimSpace(translated)
	if o.speaker != "" {
		name := translatedName(names, o.speaker)
		switch {
		case strings.HasPrefix(text, name):
			text = strings.TrimLeft(strings.TrimPrefix(text, name), " :|")
		case strings.HasPrefix(text, o.speaker):
			text = strings.TrimLeft(strings.TrimPrefix(text, o.speaker), " :|")
		default:
			text = speakerLabel.ReplaceAllString(text, "")
		}
	}
	for _, e := range o.family.Escape {
		text = strings.ReplaceAll(text, e.From, e.To)
	}

	text = wrap.Fill(text, w.opts.Width)
	if w.opts.BreakTag != "" {
		text = strings.ReplaceAll(text, "\n", w.opts.BreakTag)
	}
	if o.centered {
		text = `\CL` + text
	}
	text = o.lead + text
	switch o.tagSide {
	case prefixTag:
		text = strings.Replace(o.nametag, o.speaker, translatedName(names, o.speaker), 1) + text
	case suffixTag:
		text += strings.Replace(o.nametag, o.speaker, translatedName(names, o.speaker), 1)
	}

	// A promoted name tag keeps its record; the text goes to the next one,
	// which also takes the carried params of the run's last record.
	first := &out[o.start]
	target := first
	promoted := o.bracketTag != "" && o.end-o.start >= 2
	if promoted {
		target = &out[o.start+1]
	}
	for _, idx := range o.family.Carry {
		if idx < len(out[o.end-1].Params) && idx < len(target.Params) {
			target.Params[idx] = out[o.end-1].Params[idx]
		}
	}

	body := o.se + text
	if o.bracketTag != "" {
		tag := strings.Replace(o.bracketTag, o.bracketName, translatedName(names, o.bracketName), 1)
		if promoted {
			first.Params[0] = tag
		} else {
			body = tag + body
		}
	}
	target.Params[0] = body

	slot := o.start + 1
	if promoted {
		slot++
	}
	for i := slot; i < o.end; i++ {
		out[i].Code = Deleted
	}
}

var choiceStrip = strings.NewReplacer(".", "", `"`, "", `\n`, "")

func cleanChoice(s string) string {
	return strings.TrimSpace(choiceStrip.Replace(s))
}

func (w *Walker) finishRule(ru *rule, s string) string {
	s = strings.TrimSpace(s)
	if ru.Kind == RuleChoice {
		s = cleanChoice(s)
	}
	for _, c := range ru.Remove {
		s = strings.ReplaceAll(s, string(c), "")
	}
	for _, e := range ru.Escape {
		s = strings.ReplaceAll(s, e.From, e.To)
	}
	if ru.SpaceTo != "" {
		s = strings.ReplaceAll(s, " ", ru.SpaceTo)
	}
	if ru.Width > 0 {
		s = wrap.Fill(s, ru.Width)
	}
	return s
}

func setRuleTarget(r *Record, ru *rule, value string) {
	if ru.Key != "" {
		if m, ok := r.Params[ru.Param].(map[string]any); ok {
			m[ru.Key] = value
		}
		return
	}
	r.Params[ru.Param] = value
}
