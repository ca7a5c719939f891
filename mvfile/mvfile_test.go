package mvfile

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minios-linux/gametl/script"
)

const mapJSON = `{
"displayName":"はじまりの村",
"note":"<x>",
"scale":1.50,
"events":[null,{"id":1,"name":"EV001","pages":[{"list":[
{"code":101,"indent":0,"parameters":["Actor1",0,0,2,"雪音"]},
{"code":401,"indent":0,"parameters":["こんにちは"]},
{"code":401,"indent":0,"parameters":["世界"]},
{"code":0,"indent":0,"parameters":[]}
]}]}]
}`

func parse(t *testing.T, name, data string) *Document {
	t.Helper()
	doc, err := Codec{Width: 20}.Parse(name, []byte(data))
	require.NoError(t, err)
	return doc.(*Document)
}

func TestParseMap(t *testing.T) {
	d := parse(t, "data/Map001.json", mapJSON)

	pages := d.Pages()
	require.Len(t, pages, 1)
	assert.Equal(t, "events[1].pages[0]", pages[0].Name)
	require.Len(t, pages[0].Records, 4)
	assert.Equal(t, 101, pages[0].Records[0].Code)
	assert.Equal(t, "雪音", pages[0].Records[0].Params[4])
	assert.Equal(t, json.Number("0"), pages[0].Records[0].Params[1])

	fields := d.Fields()
	require.Len(t, fields, 1)
	assert.Equal(t, "displayName", fields[0].Name)
	assert.Equal(t, "はじまりの村", fields[0].Text)
	assert.Equal(t, LocationInstruction, fields[0].Instruction)
}

func TestMapRoundTrip(t *testing.T) {
	d := parse(t, "Map001.json", mapJSON)

	w, err := script.New(script.MVTable(), script.Options{})
	require.NoError(t, err)
	page := d.Pages()[0]
	plan, err := w.Extract(page.Records)
	require.NoError(t, err)
	require.Len(t, plan.Units, 1)
	assert.Equal(t, "こんにちは世界", plan.Units[0].Text)

	out, err := w.Reinsert(page.Records, plan, script.Translations{
		Units: []string{"Hello <b>world</b>"},
		Names: map[string]string{"雪音": "Yukine"},
	})
	require.NoError(t, err)
	d.SetPage(0, out)
	d.SetField(0, "Starting Village")

	data, err := d.Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"scale":1.50`)
	assert.Contains(t, string(data), `Hello <b>world</b>`)
	assert.NotContains(t, string(data), "\n")

	var back struct {
		DisplayName string `json:"displayName"`
		Events      []*struct {
			Pages []struct {
				List []struct {
					Code       int   `json:"code"`
					Parameters []any `json:"parameters"`
				} `json:"list"`
			} `json:"pages"`
		} `json:"events"`
	}
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, "Starting Village", back.DisplayName)
	assert.Nil(t, back.Events[0])
	list := back.Events[1].Pages[0].List
	require.Len(t, list, 3)
	assert.Equal(t, "Yukine", list[0].Parameters[4])
	assert.Equal(t, 401, list[1].Code)
	assert.Equal(t, "Hello <b>world</b>", list[1].Parameters[0])
	assert.Equal(t, []any{}, list[2].Parameters)
}

func TestParseCommonEventsAndTroops(t *testing.T) {
	ce := parse(t, "CommonEvents.json", `[null,{"id":1,"list":[{"code":401,"indent":0,"parameters":["あ"]}]},{"id":2,"list":[]}]`)
	pages := ce.Pages()
	require.Len(t, pages, 2)
	assert.Equal(t, "commonEvents[1]", pages[0].Name)
	assert.Empty(t, ce.Fields())

	tr := parse(t, "Troops.json", `[null,{"id":1,"name":"スライム*2","pages":[{"list":[{"code":401,"indent":0,"parameters":["い"]}]}]}]`)
	require.Len(t, tr.Pages(), 1)
	assert.Equal(t, "troops[1].pages[0]", tr.Pages()[0].Name)
	require.Len(t, tr.Fields(), 1)
	assert.Equal(t, TroopNameInstruction, tr.Fields()[0].Instruction)
}

func TestParseScenario(t *testing.T) {
	d := parse(t, "Scenario.json", `{"b":[{"code":401,"indent":0,"parameters":["二"]}],"a":[{"code":401,"indent":0,"parameters":["一"]}]}`)
	pages := d.Pages()
	require.Len(t, pages, 2)
	assert.Equal(t, "scenario[a]", pages[0].Name)
	assert.Equal(t, "scenario[b]", pages[1].Name)

	d.SetPage(1, []script.Record{{Code: 401, Params: []any{"two"}}})
	data, err := d.Marshal()
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":[{"code":401,"indent":0,"parameters":["一"]}],"b":[{"code":401,"indent":0,"parameters":["two"]}]}`, string(data))
}

func TestParseDatabase(t *testing.T) {
	d := parse(t, "Actors.json", `[null,{"id":1,"name":"ハル","nickname":"勇者","profile":"村の少年。","note":""},{"id":2,"name":"","nickname":"","profile":""}]`)
	fields := d.Fields()
	require.Len(t, fields, 3)
	assert.Equal(t, "Actors[1].name", fields[0].Name)
	assert.Equal(t, ActorNameInstruction, fields[0].Instruction)
	assert.Equal(t, "Actors[1].nickname", fields[1].Name)
	assert.Equal(t, "Actors[1].profile", fields[2].Name)
	assert.Equal(t, 20, fields[2].Width)

	d.SetField(0, "Haru")
	data, err := d.Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"name":"Haru"`)

	s := parse(t, "States.json", `[null,{"id":1,"name":"毒","message1":"は毒にかかった！","message2":""}]`)
	require.Len(t, s.Fields(), 2)
	assert.Equal(t, MessageInstruction, s.Fields()[1].Instruction)
}

func TestParseSystem(t *testing.T) {
	d := parse(t, "System.json", `{"gameTitle":"ゲーム","armorTypes":["","盾"],"elements":["","炎"],
"terms":{"basic":["レベル"],"commands":["戦う",null],"params":[],"messages":{"victory":"%1の勝利！","defeat":"全滅"}}}`)

	var names []string
	for _, f := range d.Fields() {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{
		"gameTitle", "armorTypes[1]", "elements[1]",
		"terms.basic[0]", "terms.commands[0]",
		"terms.messages.defeat", "terms.messages.victory",
	}, names)

	d.SetField(1, "Shield")
	data, err := d.Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"armorTypes":["","Shield"]`)
}

func TestParseErrors(t *testing.T) {
	_, err := Codec{}.Parse("Map001.json", []byte(`{`))
	assert.Error(t, err)

	_, err = Codec{}.Parse("Tilesets.json", []byte(`[]`))
	assert.Error(t, err)

	_, err = Codec{}.Parse("CommonEvents.json", []byte(`{}`))
	assert.ErrorIs(t, err, ErrFormat)

	_, err = Codec{}.Parse("CommonEvents.json", []byte(`[null,{"list":[{"code":"x"}]}]`))
	assert.ErrorIs(t, err, ErrFormat)
}

func TestSupported(t *testing.T) {
	for _, name := range []string{"Map001.json", "data/Map123.json", "CommonEvents.json", "Actors.json", "System.json", "MapInfos.json"} {
		assert.True(t, Supported(name), name)
	}
	for _, name := range []string{"Tilesets.json", "Animations.json", "Map001.yaml", "plugins.js"} {
		assert.False(t, Supported(name), name)
	}
}
