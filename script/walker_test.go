package script

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func text(code int, s string) Record {
	return Record{Code: code, Params: []any{s}}
}

func newMV(t *testing.T, opts Options, enable map[string]bool) *Walker {
	t.Helper()
	w, err := New(MVTable().Toggle(enable), opts)
	require.NoError(t, err)
	return w
}

// ---------------------------------------------------------------------------
// Show text
// ---------------------------------------------------------------------------

func TestTwoRecordRunMergesIntoFirst(t *testing.T) {
	w := newMV(t, Options{Width: 60}, nil)
	page := []Record{text(401, "こんにちは"), text(401, "世界")}

	plan, err := w.Extract(page)
	require.NoError(t, err)
	require.Len(t, plan.Units, 1)
	assert.Equal(t, "こんにちは世界", plan.Units[0].Text)
	assert.Equal(t, Dialogue, plan.Units[0].Kind)

	out, err := w.Reinsert(page, plan, Translations{Units: []string{"Hello world"}})
	require.NoError(t, err)
	assert.Equal(t, []Record{text(401, "Hello world")}, out)
}

func TestRunsAreSeparatedByOtherCodes(t *testing.T) {
	w := newMV(t, Options{}, nil)
	page := []Record{text(401, "一"), {Code: 0, Params: []any{}}, text(401, "二"), text(401, "三")}

	plan, err := w.Extract(page)
	require.NoError(t, err)
	require.Len(t, plan.Units, 2)
	assert.Equal(t, "二三", plan.Units[1].Text)

	out, err := w.Reinsert(page, plan, Translations{Units: []string{"one", "two three"}})
	require.NoError(t, err)
	assert.Equal(t, []Record{text(401, "one"), {Code: 0, Params: []any{}}, text(401, "two three")}, out)
}

func TestWrapAndBreakTag(t *testing.T) {
	w := newMV(t, Options{Width: 10, BreakTag: "<br>"}, nil)
	page := []Record{text(401, "長い文章")}
	plan, err := w.Extract(page)
	require.NoError(t, err)

	out, err := w.Reinsert(page, plan, Translations{Units: []string{"the quick brown fox"}})
	require.NoError(t, err)
	assert.Equal(t, "the quick<br>brown fox", out[0].Params[0])
}

func TestSuffixSpeakerTag(t *testing.T) {
	w := newMV(t, Options{}, nil)
	page := []Record{text(401, `こんにちは\n<雪音>`)}

	plan, err := w.Extract(page)
	require.NoError(t, err)
	require.Len(t, plan.Units, 1)
	assert.Equal(t, "こんにちは", plan.Units[0].Text)
	assert.Equal(t, "雪音", plan.Units[0].Speaker)
	assert.Equal(t, []string{"雪音"}, plan.Names)

	out, err := w.Reinsert(page, plan, Translations{
		Units: []string{"Yukine: Hello"},
		Names: map[string]string{"雪音": "Yukine"},
	})
	require.NoError(t, err)
	assert.Equal(t, `Hello\n<Yukine>`, out[0].Params[0])
}

func TestPrefixSpeakerTag(t *testing.T) {
	w := newMV(t, Options{}, nil)
	page := []Record{text(401, `\n<雪音>こんにちは`)}

	plan, err := w.Extract(page)
	require.NoError(t, err)
	assert.Equal(t, "こんにちは", plan.Units[0].Text)

	out, err := w.Reinsert(page, plan, Translations{
		Units: []string{"Yukine: Hi"},
		Names: map[string]string{"雪音": "Yukine"},
	})
	require.NoError(t, err)
	assert.Equal(t, `\n<Yukine>Hi`, out[0].Params[0])
}

func TestBracketNameMovesToFirstRecord(t *testing.T) {
	w := newMV(t, Options{BracketNames: true}, nil)
	page := []Record{text(401, "【雪音】"), text(401, "こんにちは")}

	plan, err := w.Extract(page)
	require.NoError(t, err)
	require.Len(t, plan.Units, 1)
	assert.Equal(t, "こんにちは", plan.Units[0].Text)
	assert.Equal(t, "雪音", plan.Units[0].Speaker)

	out, err := w.Reinsert(page, plan, Translations{
		Units: []string{"Yukine: Hello"},
		Names: map[string]string{"雪音": "Yukine"},
	})
	require.NoError(t, err)
	assert.Equal(t, []Record{text(401, "【Yukine】"), text(401, "Hello")}, out)
}

func TestSoundEffectAndLeadCodesAreKept(t *testing.T) {
	w := newMV(t, Options{}, nil)
	page := []Record{text(401, `\SE[1]\F[笑]やった`)}

	plan, err := w.Extract(page)
	require.NoError(t, err)
	assert.Equal(t, "やった", plan.Units[0].Text)

	out, err := w.Reinsert(page, plan, Translations{Units: []string{"Yay!"}})
	require.NoError(t, err)
	assert.Equal(t, `\SE[1]\F[笑]Yay!`, out[0].Params[0])
}

func TestWaitCodesDroppedAndCentering(t *testing.T) {
	w := newMV(t, Options{}, nil)
	page := []Record{text(401, `\CL\.こんにちは\!`)}

	plan, err := w.Extract(page)
	require.NoError(t, err)
	assert.Equal(t, "こんにちは", plan.Units[0].Text)

	out, err := w.Reinsert(page, plan, Translations{Units: []string{"Hello"}})
	require.NoError(t, err)
	assert.Equal(t, `\CLHello`, out[0].Params[0])
}

func TestSourceCleanup(t *testing.T) {
	w := newMV(t, Options{}, nil)
	plan, err := w.Extract([]Record{text(401, "待って……　本当？")})
	require.NoError(t, err)
	assert.Equal(t, "待って...本当?", plan.Units[0].Text)
}

func TestEmptyRunIsSkipped(t *testing.T) {
	w := newMV(t, Options{}, nil)
	page := []Record{text(401, ""), text(401, " ")}
	plan, err := w.Extract(page)
	require.NoError(t, err)
	assert.True(t, plan.Empty())

	out, err := w.Reinsert(page, plan, Translations{})
	require.NoError(t, err)
	assert.Equal(t, page, out)
}

func TestStructureError(t *testing.T) {
	w := newMV(t, Options{}, nil)
	_, err := w.Extract([]Record{{Code: 401, Params: []any{42}}})
	assert.ErrorIs(t, err, ErrStructure)
}

// ---------------------------------------------------------------------------
// Choices
// ---------------------------------------------------------------------------

func TestChoicesKeepConditionalAffixes(t *testing.T) {
	w := newMV(t, Options{}, nil)
	page := []Record{{Code: 102, Params: []any{[]any{"はい", "いいえ en(s[1])", "if(v[1]>3) 行く"}, 1}}}

	plan, err := w.Extract(page)
	require.NoError(t, err)
	require.Len(t, plan.Units, 3)
	for _, u := range plan.Units {
		assert.Equal(t, Choice, u.Kind)
		assert.Equal(t, ChoiceInstruction, u.Instruction)
	}
	assert.Equal(t, "いいえ", plan.Units[1].Text)
	assert.Equal(t, "行く", plan.Units[2].Text)

	out, err := w.Reinsert(page, plan, Translations{Units: []string{"Yes.", "No", `"Go"`}})
	require.NoError(t, err)
	assert.Equal(t, []any{"Yes", "No en(s[1])", "if(v[1]>3) Go"}, out[0].Params[0])

	// The input page is untouched.
	assert.Equal(t, "はい", page[0].Params[0].([]any)[0])
}

func TestChoiceStructureError(t *testing.T) {
	w := newMV(t, Options{}, nil)
	_, err := w.Extract([]Record{{Code: 102, Params: []any{"not a list"}}})
	assert.ErrorIs(t, err, ErrStructure)
}

// ---------------------------------------------------------------------------
// Rules
// ---------------------------------------------------------------------------

func TestNameBoxSetsSpeaker(t *testing.T) {
	w := newMV(t, Options{}, nil)
	page := []Record{
		{Code: 101, Params: []any{"Actor1", 0, 0, 2, "雪音"}},
		text(401, "こんにちは"),
		text(401, "二つ目"),
	}

	plan, err := w.Extract(page)
	require.NoError(t, err)
	assert.Equal(t, []string{"雪音"}, plan.Names)
	require.Len(t, plan.Units, 1)
	assert.Equal(t, "雪音", plan.Units[0].Speaker)

	out, err := w.Reinsert(page, plan, Translations{
		Units: []string{"Yukine: Hello there"},
		Names: map[string]string{"雪音": "Yukine"},
	})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "Yukine", out[0].Params[4])
	assert.Equal(t, "Hello there", out[1].Params[0])
}

func TestSpeakerLabelFallback(t *testing.T) {
	w := newMV(t, Options{}, nil)
	page := []Record{{Code: 101, Params: []any{"", 0, 0, 2, "店主"}}, text(401, "いらっしゃい")}
	plan, err := w.Extract(page)
	require.NoError(t, err)

	out, err := w.Reinsert(page, plan, Translations{
		Units: []string{"Owner: Welcome!"},
		Names: map[string]string{"店主": "Shopkeeper"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Welcome!", out[1].Params[0])
}

func TestPluginRuleWithKey(t *testing.T) {
	w := newMV(t, Options{}, map[string]bool{"plugin_text": true})
	page := []Record{{Code: 357, Params: []any{"Plugin", "Show", "", map[string]any{"message": "ようこそ", "x": "1"}}}}

	plan, err := w.Extract(page)
	require.NoError(t, err)
	require.Len(t, plan.Units, 1)
	assert.Equal(t, Scripted, plan.Units[0].Kind)
	assert.Equal(t, "plugin_text", plan.Units[0].Rule)

	out, err := w.Reinsert(page, plan, Translations{Units: []string{"Welcome"}})
	require.NoError(t, err)
	assert.Equal(t, "Welcome", out[0].Params[3].(map[string]any)["message"])
	assert.Equal(t, "ようこそ", page[0].Params[3].(map[string]any)["message"])
}

func TestPatternRuleKeepsSurroundings(t *testing.T) {
	w := newMV(t, Options{}, map[string]bool{"log_window": true})
	page := []Record{text(355, `addLog("敵が現れた")`)}

	plan, err := w.Extract(page)
	require.NoError(t, err)
	require.Len(t, plan.Units, 1)
	assert.Equal(t, "敵が現れた", plan.Units[0].Text)

	out, err := w.Reinsert(page, plan, Translations{Units: []string{"An enemy appeared"}})
	require.NoError(t, err)
	assert.Equal(t, `addLog("An enemy appeared")`, out[0].Params[0])
}

func TestChoiceRuleEscapes(t *testing.T) {
	w, err := New(Table{Rules: []Rule{{
		Name: "choice", Kind: RuleChoice, Codes: []int{4}, Param: 0,
		Pattern: `\[eval exp=.+?'(.+)'`,
		Escape:  []Replacement{{From: "'", To: `\'`}},
	}}}, Options{})
	require.NoError(t, err)

	page := []Record{text(4, `[eval exp="f.seltext1='行く'"]`)}
	plan, err := w.Extract(page)
	require.NoError(t, err)
	require.Len(t, plan.Units, 1)
	assert.Equal(t, Choice, plan.Units[0].Kind)
	assert.Equal(t, ChoiceInstruction, plan.Units[0].Instruction)

	out, err := w.Reinsert(page, plan, Translations{Units: []string{`"Let's go."`}})
	require.NoError(t, err)
	assert.Equal(t, `[eval exp="f.seltext1='Let\'s go'"]`, out[0].Params[0])
}

func TestDisabledRuleIgnored(t *testing.T) {
	w := newMV(t, Options{}, nil)
	plan, err := w.Extract([]Record{text(355, `addLog("敵が現れた")`)})
	require.NoError(t, err)
	assert.True(t, plan.Empty())
}

func TestRuleValidation(t *testing.T) {
	_, err := New(Table{Rules: []Rule{{Name: "x", Codes: []int{1}, Pattern: "no group"}}}, Options{})
	assert.Error(t, err)
	_, err = New(Table{Rules: []Rule{{Name: "x", Codes: []int{1}, Kind: "bogus"}}}, Options{})
	assert.Error(t, err)
	_, err = New(Table{Text: []TextFamily{{Name: "x"}}}, Options{})
	assert.Error(t, err)
}

// ---------------------------------------------------------------------------
// Carry and terminal codes
// ---------------------------------------------------------------------------

func TestTerminalAndCarry(t *testing.T) {
	w, err := New(Table{Text: []TextFamily{{
		Name: "lines", Codes: []int{1, 2}, Continue: []int{1, 2}, Terminal: []int{2}, Join: " ", Carry: []int{1},
	}}}, Options{})
	require.NoError(t, err)

	page := []Record{
		{Code: 1, Params: []any{"こんにちは", "[r]"}},
		{Code: 2, Params: []any{"世界", "[pcms]"}},
		{Code: 1, Params: []any{"次", "[r]"}},
		{Code: 2, Params: []any{"です", "[p]"}},
	}
	plan, err := w.Extract(page)
	require.NoError(t, err)
	require.Len(t, plan.Units, 2)
	assert.Equal(t, "こんにちは 世界", plan.Units[0].Text)

	out, err := w.Reinsert(page, plan, Translations{Units: []string{"Hello world", "Next"}})
	require.NoError(t, err)
	assert.Equal(t, []Record{
		{Code: 1, Params: []any{"Hello world", "[pcms]"}},
		{Code: 1, Params: []any{"Next", "[p]"}},
	}, out)
}

// ---------------------------------------------------------------------------
// Sweep and purity
// ---------------------------------------------------------------------------

func TestSweepIdempotent(t *testing.T) {
	in := []Record{text(401, "a"), {Code: Deleted}, text(0, ""), {Code: Deleted}}
	once := Sweep(in)
	assert.Equal(t, []Record{text(401, "a"), text(0, "")}, once)
	assert.Equal(t, once, Sweep(once))
}

func TestReinsertCountMismatch(t *testing.T) {
	w := newMV(t, Options{}, nil)
	page := []Record{text(401, "こんにちは")}
	plan, err := w.Extract(page)
	require.NoError(t, err)
	_, err = w.Reinsert(page, plan, Translations{})
	assert.Error(t, err)
}

func TestExtractDoesNotModifyInput(t *testing.T) {
	w := newMV(t, Options{}, nil)
	page := []Record{text(401, `\n<雪音>こんにちは`), text(401, "世界")}
	before := []Record{page[0].Clone(), page[1].Clone()}

	plan, err := w.Extract(page)
	require.NoError(t, err)
	_, err = w.Reinsert(page, plan, Translations{Units: []string{"x"}, Names: map[string]string{}})
	require.NoError(t, err)
	assert.Equal(t, before, page)
}

func TestTableToggleAndNames(t *testing.T) {
	tbl := MVTable().Toggle(map[string]bool{"scroll_text": true, "choices": false})
	assert.False(t, tbl.Text[1].Disabled)
	assert.True(t, tbl.Choices[0].Disabled)
	assert.True(t, MVTable().Text[1].Disabled)
	assert.Contains(t, tbl.Names(), "name_box")

	extended := tbl.WithRules(Rule{Name: "custom", Codes: []int{999}})
	assert.Len(t, extended.Rules, len(tbl.Rules)+1)
}
