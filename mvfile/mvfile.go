// Package mvfile reads and writes RPG Maker MV and MZ data files.
//
// Event lists (maps, common events, troops and scenario files) become
// script pages; database entries (actors, items, skills, system terms)
// become standalone fields. Numbers are kept as written and HTML characters
// are not escaped on output.
package mvfile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/minios-linux/gametl/script"
)

// ErrFormat is returned when a file does not have the expected layout.
var ErrFormat = errors.New("unexpected data layout")

// Field instructions. {LANG} is replaced by the gateway.
const (
	ActorNameInstruction   = "Reply with only the {LANG} translation of the NPC name."
	NicknameInstruction    = "Reply with only the {LANG} translation of the NPC nickname."
	ItemNameInstruction    = "Reply with only the {LANG} translation of the RPG item name."
	EquipNameInstruction   = "Reply with only the {LANG} translation of the RPG equipment name."
	SkillNameInstruction   = "Reply with only the {LANG} translation of the RPG skill name."
	ClassNameInstruction   = "Reply with only the {LANG} translation of the RPG class name."
	EnemyNameInstruction   = "Reply with only the {LANG} translation of the enemy NPC name."
	LocationInstruction    = "Reply with only the {LANG} translation of the location name."
	DescriptionInstruction = "Reply with only the {LANG} translation of the description."
	MessageInstruction     = "Reply with only the gender neutral {LANG} translation of the battle message."
	TermInstruction        = "Reply with only the {LANG} translation of the UI textbox."
	TitleInstruction       = "Reply with only the {LANG} translation of the game title."
	TroopNameInstruction   = "Reply with only the {LANG} translation of the enemy group name."
)

var mapFile = regexp.MustCompile(`^Map\d+\.json$`)

// database describes the fields of a database file's entries.
type database struct {
	name, description, nickname, profile string
	messages                             bool
}

var databases = map[string]database{
	"Actors.json":   {name: ActorNameInstruction, nickname: NicknameInstruction, profile: DescriptionInstruction},
	"Armors.json":   {name: EquipNameInstruction, description: DescriptionInstruction},
	"Weapons.json":  {name: EquipNameInstruction, description: DescriptionInstruction},
	"Items.json":    {name: ItemNameInstruction, description: DescriptionInstruction},
	"Skills.json":   {name: SkillNameInstruction, description: DescriptionInstruction, messages: true},
	"States.json":   {name: SkillNameInstruction, messages: true},
	"Classes.json":  {name: ClassNameInstruction},
	"Enemies.json":  {name: EnemyNameInstruction},
	"MapInfos.json": {name: LocationInstruction},
}

// Supported reports whether a file name is one the codec translates.
func Supported(name string) bool {
	base := filepath.Base(name)
	if mapFile.MatchString(base) {
		return true
	}
	switch base {
	case "CommonEvents.json", "Troops.json", "Scenario.json", "System.json":
		return true
	}
	_, ok := databases[base]
	return ok
}

// Codec parses MV and MZ data files.
type Codec struct {
	// Width wraps descriptions and profiles; 0 keeps them as translated.
	Width int
}

// Document is a parsed data file. It implements script.Document.
type Document struct {
	root   any
	pages  []script.Page
	puts   []func([]any)
	fields []script.Field
	sets   []func(string)
}

var _ script.Document = (*Document)(nil)

// Parse decodes a data file. name selects the layout by its base name.
func (c Codec) Parse(name string, data []byte) (script.Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var root any
	if err := dec.Decode(&root); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", name, err)
	}

	d := &Document{root: root}
	base := filepath.Base(name)
	var err error
	switch {
	case mapFile.MatchString(base):
		err = d.parseMap(root)
	case base == "CommonEvents.json":
		err = d.parseCommonEvents(root)
	case base == "Troops.json":
		err = d.parseTroops(root)
	case base == "Scenario.json":
		err = d.parseScenario(root)
	case base == "System.json":
		err = d.parseSystem(root)
	default:
		db, ok := databases[base]
		if !ok {
			return nil, fmt.Errorf("%s: unsupported file", name)
		}
		err = d.parseDatabase(root, db, strings.TrimSuffix(base, ".json"), c.Width)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return d, nil
}

// ---------------------------------------------------------------------------
// Event lists
// ---------------------------------------------------------------------------

func (d *Document) parseMap(root any) error {
	m, ok := root.(map[string]any)
	if !ok {
		return fmt.Errorf("map is %T: %w", root, ErrFormat)
	}
	d.field("displayName", m, "displayName", LocationInstruction, 0)

	events, _ := m["events"].([]any)
	for i, e := range events {
		ev, ok := e.(map[string]any)
		if !ok {
			continue
		}
		if err := d.addPages(fmt.Sprintf("events[%d]", i), ev); err != nil {
			return err
		}
	}
	return nil
}

func (d *Document) parseCommonEvents(root any) error {
	list, ok := root.([]any)
	if !ok {
		return fmt.Errorf("common events are %T: %w", root, ErrFormat)
	}
	for i, e := range list {
		ce, ok := e.(map[string]any)
		if !ok {
			continue
		}
		if err := d.addList(fmt.Sprintf("commonEvents[%d]", i), ce); err != nil {
			return err
		}
	}
	return nil
}

func (d *Document) parseTroops(root any) error {
	list, ok := root.([]any)
	if !ok {
		return fmt.Errorf("troops are %T: %w", root, ErrFormat)
	}
	for i, e := range list {
		tr, ok := e.(map[string]any)
		if !ok {
			continue
		}
		d.field(fmt.Sprintf("troops[%d].name", i), tr, "name", TroopNameInstruction, 0)
		if err := d.addPages(fmt.Sprintf("troops[%d]", i), tr); err != nil {
			return err
		}
	}
	return nil
}

func (d *Document) parseScenario(root any) error {
	m, ok := root.(map[string]any)
	if !ok {
		return fmt.Errorf("scenario is %T: %w", root, ErrFormat)
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		list, ok := m[k].([]any)
		if !ok {
			continue
		}
		key := k
		if err := d.addRecords(fmt.Sprintf("scenario[%s]", k), list, func(v []any) { m[key] = v }); err != nil {
			return err
		}
	}
	return nil
}

// addPages adds every page of an event or troop.
func (d *Document) addPages(name string, owner map[string]any) error {
	pages, _ := owner["pages"].([]any)
	for j, p := range pages {
		page, ok := p.(map[string]any)
		if !ok {
			continue
		}
		if err := d.addList(fmt.Sprintf("%s.pages[%d]", name, j), page); err != nil {
			return err
		}
	}
	return nil
}

// addList adds the "list" of a page or common event.
func (d *Document) addList(name string, owner map[string]any) error {
	list, ok := owner["list"].([]any)
	if !ok {
		return nil
	}
	return d.addRecords(name, list, func(v []any) { owner["list"] = v })
}

func (d *Document) addRecords(name string, list []any, put func([]any)) error {
	recs, err := toRecords(list)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	d.pages = append(d.pages, script.Page{Name: name, Records: recs})
	d.puts = append(d.puts, put)
	return nil
}

func toRecords(list []any) ([]script.Record, error) {
	out := make([]script.Record, 0, len(list))
	for i, e := range list {
		m, ok := e.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("command %d is %T: %w", i, e, ErrFormat)
		}
		code, err := toInt(m["code"])
		if err != nil {
			return nil, fmt.Errorf("command %d code: %w", i, err)
		}
		indent, err := toInt(m["indent"])
		if err != nil && m["indent"] != nil {
			return nil, fmt.Errorf("command %d indent: %w", i, err)
		}
		params, _ := m["parameters"].([]any)
		out = append(out, script.Record{Code: code, Indent: indent, Params: params})
	}
	return out, nil
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		return int(i), err
	case float64:
		return int(n), nil
	case int:
		return n, nil
	}
	return 0, fmt.Errorf("%v is %T: %w", v, v, ErrFormat)
}

func fromRecords(recs []script.Record) []any {
	out := make([]any, len(recs))
	for i, r := range recs {
		params := r.Params
		if params == nil {
			params = []any{}
		}
		out[i] = map[string]any{"code": r.Code, "indent": r.Indent, "parameters": params}
	}
	return out
}

// ---------------------------------------------------------------------------
// Database fields
// ---------------------------------------------------------------------------

func (d *Document) parseDatabase(root any, db database, kind string, width int) error {
	list, ok := root.([]any)
	if !ok {
		return fmt.Errorf("%s is %T: %w", kind, root, ErrFormat)
	}
	for i, e := range list {
		m, ok := e.(map[string]any)
		if !ok {
			continue
		}
		prefix := fmt.Sprintf("%s[%d].", kind, i)
		if db.name != "" {
			d.field(prefix+"name", m, "name", db.name, 0)
		}
		if db.nickname != "" {
			d.field(prefix+"nickname", m, "nickname", db.nickname, 0)
		}
		if db.profile != "" {
			d.field(prefix+"profile", m, "profile", db.profile, width)
		}
		if db.description != "" {
			d.field(prefix+"description", m, "description", db.description, width)
		}
		if db.messages {
			for _, k := range []string{"message1", "message2", "message3", "message4"} {
				d.field(prefix+k, m, k, MessageInstruction, 0)
			}
		}
	}
	return nil
}

func (d *Document) parseSystem(root any) error {
	m, ok := root.(map[string]any)
	if !ok {
		return fmt.Errorf("system is %T: %w", root, ErrFormat)
	}
	d.field("gameTitle", m, "gameTitle", TitleInstruction, 0)
	for _, k := range []string{"armorTypes", "elements", "equipTypes", "skillTypes", "weaponTypes"} {
		d.items(k, m[k], TermInstruction)
	}

	terms, _ := m["terms"].(map[string]any)
	for _, k := range []string{"basic", "commands", "params"} {
		d.items("terms."+k, terms[k], TermInstruction)
	}
	if msgs, ok := terms["messages"].(map[string]any); ok {
		keys := make([]string, 0, len(msgs))
		for k := range msgs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			d.field("terms.messages."+k, msgs, k, TermInstruction, 0)
		}
	}
	return nil
}

// field adds m[key] when it is a non-blank string.
func (d *Document) field(name string, m map[string]any, key, instruction string, width int) {
	s, ok := m[key].(string)
	if !ok || strings.TrimSpace(s) == "" {
		return
	}
	d.fields = append(d.fields, script.Field{Name: name, Text: s, Instruction: instruction, Width: width})
	d.sets = append(d.sets, func(v string) { m[key] = v })
}

// items adds every non-blank string of a list.
func (d *Document) items(name string, v any, instruction string) {
	list, ok := v.([]any)
	if !ok {
		return
	}
	for i, e := range list {
		s, ok := e.(string)
		if !ok || strings.TrimSpace(s) == "" {
			continue
		}
		idx := i
		d.fields = append(d.fields, script.Field{Name: fmt.Sprintf("%s[%d]", name, i), Text: s, Instruction: instruction})
		d.sets = append(d.sets, func(v string) { list[idx] = v })
	}
}

// ---------------------------------------------------------------------------
// script.Document
// ---------------------------------------------------------------------------

// Pages returns the event lists in file order.
func (d *Document) Pages() []script.Page { return d.pages }

// SetPage replaces the records of page i.
func (d *Document) SetPage(i int, records []script.Record) {
	d.pages[i].Records = records
	d.puts[i](fromRecords(records))
}

// Fields returns the database strings in file order.
func (d *Document) Fields() []script.Field { return d.fields }

// SetField replaces the text of field i.
func (d *Document) SetField(i int, text string) {
	d.fields[i].Text = text
	d.sets[i](text)
}

// Marshal encodes the document as compact JSON.
func (d *Document) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(d.root); err != nil {
		return nil, fmt.Errorf("encoding: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
