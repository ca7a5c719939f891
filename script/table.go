package script

import (
	"fmt"
	"regexp"
	"slices"
)

// ---------------------------------------------------------------------------
// Declarative code table
// ---------------------------------------------------------------------------

// Replacement is a literal substitution.
type Replacement struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// TextFamily describes a show-text style opcode whose consecutive records are
// merged into one dialogue unit.
type TextFamily struct {
	Name     string `yaml:"name"`
	Disabled bool   `yaml:"disabled,omitempty"`
	// Codes start a run.
	Codes []int `yaml:"codes"`
	// Continue are codes merged into a running run.
	Continue []int `yaml:"continue,omitempty"`
	// Terminal codes end the run after being merged.
	Terminal []int `yaml:"terminal,omitempty"`
	// Join separates the merged record texts.
	Join string `yaml:"join,omitempty"`
	// Carry lists parameter indexes copied from the last record of a run into
	// the record that receives the translation.
	Carry []int `yaml:"carry,omitempty"`
	// Furigana matches ruby annotations; the match is replaced by ${1}.
	Furigana string `yaml:"furigana,omitempty"`
	// Strip patterns are deleted from the source text.
	Strip []string `yaml:"strip,omitempty"`
	// Escape is applied to translated text before it is written back.
	Escape []Replacement `yaml:"escape,omitempty"`
}

// ChoiceFamily describes a choice-list opcode.
type ChoiceFamily struct {
	Name     string `yaml:"name"`
	Disabled bool   `yaml:"disabled,omitempty"`
	Code     int    `yaml:"code"`
	Param    int    `yaml:"param"`
}

// Rule kinds.
const (
	// RuleText translates the matched text as a scripted unit.
	RuleText = "text"
	// RuleSpeaker translates a name that becomes the speaker of the next
	// dialogue run.
	RuleSpeaker = "speaker"
	// RuleName translates a standalone name.
	RuleName = "name"
	// RuleChoice translates the matched text as a dialogue option.
	RuleChoice = "choice"
)

// Rule declares one plugin or scripted-text opcode.
type Rule struct {
	Name     string `yaml:"name"`
	Disabled bool   `yaml:"disabled,omitempty"`
	Kind     string `yaml:"kind,omitempty"`
	Codes    []int  `yaml:"codes"`
	Param    int    `yaml:"param"`
	// Key selects a field when the parameter is a map.
	Key string `yaml:"key,omitempty"`
	// Pattern selects the translatable part; its first group is translated,
	// the rest of the parameter is kept verbatim.
	Pattern string `yaml:"pattern,omitempty"`
	// Require and Skip filter parameters by substring.
	Require string   `yaml:"require,omitempty"`
	Skip    []string `yaml:"skip,omitempty"`
	// Instruction is sent alongside the text; {LANG} is substituted.
	Instruction string `yaml:"instruction,omitempty"`
	FullPrompt  bool   `yaml:"full_prompt,omitempty"`
	// Width wraps the translation; 0 leaves it on one line.
	Width int `yaml:"width,omitempty"`
	// Remove lists characters deleted from the translation.
	Remove string `yaml:"remove,omitempty"`
	// SpaceTo replaces spaces in the translation.
	SpaceTo string `yaml:"space_to,omitempty"`
	// Escape is applied to the translation after Remove.
	Escape []Replacement `yaml:"escape,omitempty"`
}

// Table is the full declarative description of an engine's translatable opcodes.
type Table struct {
	Text    []TextFamily   `yaml:"text,omitempty"`
	Choices []ChoiceFamily `yaml:"choices,omitempty"`
	Rules   []Rule         `yaml:"rules,omitempty"`
}

// Toggle returns a copy of t where every family or rule named in enabled is
// switched on or off. Names not present keep their setting.
func (t Table) Toggle(enabled map[string]bool) Table {
	out := Table{
		Text:    slices.Clone(t.Text),
		Choices: slices.Clone(t.Choices),
		Rules:   slices.Clone(t.Rules),
	}
	for i := range out.Text {
		if on, ok := enabled[out.Text[i].Name]; ok {
			out.Text[i].Disabled = !on
		}
	}
	for i := range out.Choices {
		if on, ok := enabled[out.Choices[i].Name]; ok {
			out.Choices[i].Disabled = !on
		}
	}
	for i := range out.Rules {
		if on, ok := enabled[out.Rules[i].Name]; ok {
			out.Rules[i].Disabled = !on
		}
	}
	return out
}

// WithRules returns a copy of t with extra rules appended.
func (t Table) WithRules(rules ...Rule) Table {
	out := t
	out.Rules = append(slices.Clone(t.Rules), rules...)
	return out
}

// Names lists every family and rule name in the table.
func (t Table) Names() []string {
	var names []string
	for _, f := range t.Text {
		names = append(names, f.Name)
	}
	for _, c := range t.Choices {
		names = append(names, c.Name)
	}
	for _, r := range t.Rules {
		names = append(names, r.Name)
	}
	return names
}

// ---------------------------------------------------------------------------
// Built-in tables
// ---------------------------------------------------------------------------

const (
	// ChoiceInstruction accompanies every choice option.
	ChoiceInstruction = "Keep your translation as brief as possible. Reply in the style of a dialogue option."
	// NameInstruction accompanies speaker and NPC names.
	NameInstruction = "Reply with only the {LANG} translation of the NPC name."
)

// MVTable is the code table for RPG Maker MV and MZ event lists.
func MVTable() Table {
	return Table{
		Text: []TextFamily{
			{Name: "show_text", Codes: []int{401}, Continue: []int{401},
				Furigana: `\\+r[bB]?\[([^,\]]*),[^\]]*\]`},
			{Name: "scroll_text", Codes: []int{405}, Continue: []int{405}, Join: " ", Disabled: true},
		},
		Choices: []ChoiceFamily{
			{Name: "choices", Code: 102, Param: 0},
		},
		Rules: []Rule{
			{Name: "name_box", Kind: RuleSpeaker, Codes: []int{101}, Param: 4},
			{Name: "name_pop", Kind: RuleName, Codes: []int{108}, Param: 0,
				Pattern: `<namePop:\s*([^>]+?)\s*>`, Disabled: true},
			{Name: "script_text", Codes: []int{122}, Param: 4, Pattern: `^"(.+)"$`,
				Disabled: true},
			{Name: "plugin_text", Codes: []int{357}, Param: 3, Key: "message", Disabled: true},
			{Name: "log_window", Codes: []int{355, 655}, Param: 0,
				Pattern: `addLog\(\s*["'](.+?)["']\s*\)`, Disabled: true},
			{Name: "d_text", Codes: []int{356}, Param: 0,
				Pattern: `^D_TEXT\s+(.+?)(?:\s+\d+)?$`, Width: 0, Disabled: true},
			{Name: "change_name", Codes: []int{320, 324}, Param: 1, Kind: RuleName, Disabled: true},
			{Name: "comment_text", Codes: []int{408}, Param: 0, Disabled: true},
		},
	}
}

// ACETable is the code table for RPG Maker VX Ace event lists.
func ACETable() Table {
	return Table{
		Text: []TextFamily{
			{Name: "show_text", Codes: []int{401}, Continue: []int{401}},
			{Name: "scroll_text", Codes: []int{405}, Continue: []int{405}, Join: " ", Disabled: true},
		},
		Choices: []ChoiceFamily{
			{Name: "choices", Code: 102, Param: 0},
		},
		Rules: []Rule{
			{Name: "script_text", Codes: []int{355, 655}, Param: 0,
				Pattern: `["'](.*[\p{Hiragana}\p{Katakana}\p{Han}].*?)["']`, Disabled: true},
			{Name: "change_name", Codes: []int{320, 324}, Param: 1, Kind: RuleName, Disabled: true},
		},
	}
}

// ---------------------------------------------------------------------------
// Compilation
// ---------------------------------------------------------------------------

type textFamily struct {
	TextFamily
	furigana *regexp.Regexp
	strip    []*regexp.Regexp
}

type rule struct {
	Rule
	pattern *regexp.Regexp
}

type compiledTable struct {
	text    []textFamily
	choices []ChoiceFamily
	rules   []rule
}

func compile(t Table) (*compiledTable, error) {
	ct := &compiledTable{}
	for _, f := range t.Text {
		if f.Disabled {
			continue
		}
		if len(f.Codes) == 0 {
			return nil, fmt.Errorf("text family %q has no codes", f.Name)
		}
		tf := textFamily{TextFamily: f}
		if f.Furigana != "" {
			re, err := regexp.Compile(f.Furigana)
			if err != nil {
				return nil, fmt.Errorf("text family %q: furigana: %w", f.Name, err)
			}
			tf.furigana = re
		}
		for _, s := range f.Strip {
			re, err := regexp.Compile(s)
			if err != nil {
				return nil, fmt.Errorf("text family %q: strip: %w", f.Name, err)
			}
			tf.strip = append(tf.strip, re)
		}
		ct.text = append(ct.text, tf)
	}
	for _, c := range t.Choices {
		if !c.Disabled {
			ct.choices = append(ct.choices, c)
		}
	}
	for _, r := range t.Rules {
		if r.Disabled {
			continue
		}
		if len(r.Codes) == 0 {
			return nil, fmt.Errorf("rule %q has no codes", r.Name)
		}
		switch r.Kind {
		case "":
			r.Kind = RuleText
		case RuleText, RuleSpeaker, RuleName, RuleChoice:
		default:
			return nil, fmt.Errorf("rule %q: unknown kind %q", r.Name, r.Kind)
		}
		cr := rule{Rule: r}
		if r.Pattern != "" {
			re, err := regexp.Compile(r.Pattern)
			if err != nil {
				return nil, fmt.Errorf("rule %q: %w", r.Name, err)
			}
			if re.NumSubexp() < 1 {
				return nil, fmt.Errorf("rule %q: pattern needs a capture group", r.Name)
			}
			cr.pattern = re
		}
		ct.rules = append(ct.rules, cr)
	}
	return ct, nil
}

func (ct *compiledTable) textStart(code int) *textFamily {
	for i := range ct.text {
		if slices.Contains(ct.text[i].Codes, code) {
			return &ct.text[i]
		}
	}
	return nil
}

func (ct *compiledTable) choice(code int) *ChoiceFamily {
	for i := range ct.choices {
		if ct.choices[i].Code == code {
			return &ct.choices[i]
		}
	}
	return nil
}

func (ct *compiledTable) rule(code int) []*rule {
	var out []*rule
	for i := range ct.rules {
		if slices.Contains(ct.rules[i].Codes, code) {
			out = append(out, &ct.rules[i])
		}
	}
	return out
}

func (f *textFamily) continues(code int) bool {
	return slices.Contains(f.Continue, code)
}

func (f *textFamily) terminal(code int) bool {
	return slices.Contains(f.Terminal, code)
}
