// Package acefile reads and writes RPG Maker VX Ace data dumped to YAML.
//
// The package works on the yaml.Node tree so Ruby object tags, key order and
// untouched scalars survive the round trip. Strings written back are single
// quoted.
package acefile

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/minios-linux/gametl/mvfile"
	"github.com/minios-linux/gametl/script"
)

// ErrFormat is returned when a file does not have the expected layout.
var ErrFormat = errors.New("unexpected data layout")

var mapFile = regexp.MustCompile(`^Map\d+\.ya?ml$`)

type database struct {
	name, description, nickname string
	messages                    int
}

var databases = map[string]database{
	"Actors":   {name: mvfile.ActorNameInstruction, nickname: mvfile.NicknameInstruction, description: mvfile.DescriptionInstruction},
	"Armors":   {name: mvfile.EquipNameInstruction, description: mvfile.DescriptionInstruction},
	"Weapons":  {name: mvfile.EquipNameInstruction, description: mvfile.DescriptionInstruction},
	"Items":    {name: mvfile.ItemNameInstruction, description: mvfile.DescriptionInstruction},
	"Skills":   {name: mvfile.SkillNameInstruction, description: mvfile.DescriptionInstruction, messages: 2},
	"States":   {name: mvfile.SkillNameInstruction, messages: 4},
	"Classes":  {name: mvfile.ClassNameInstruction},
	"Enemies":  {name: mvfile.EnemyNameInstruction},
	"MapInfos": {name: mvfile.LocationInstruction},
}

func stem(name string) string {
	base := filepath.Base(name)
	return strings.TrimSuffix(strings.TrimSuffix(base, ".yaml"), ".yml")
}

// Supported reports whether a file name is one the codec translates.
func Supported(name string) bool {
	base := filepath.Base(name)
	if mapFile.MatchString(base) {
		return true
	}
	if ext := filepath.Ext(base); ext != ".yaml" && ext != ".yml" {
		return false
	}
	switch s := stem(name); s {
	case "CommonEvents", "Troops", "System":
		return true
	default:
		_, ok := databases[s]
		return ok
	}
}

// Codec parses VX Ace YAML dumps.
type Codec struct {
	// Width wraps descriptions; 0 keeps them as translated.
	Width int
}

type pageRef struct {
	list *yaml.Node
	// tag and style of the command mappings, reused for rewritten commands.
	tag   string
	style yaml.Style
}

// Document is a parsed data file. It implements script.Document.
type Document struct {
	node   *yaml.Node
	pages  []script.Page
	refs   []pageRef
	fields []script.Field
	nodes  []*yaml.Node
}

var _ script.Document = (*Document)(nil)

// Parse decodes a YAML dump. name selects the layout by its base name.
func (c Codec) Parse(name string, data []byte) (script.Document, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", name, err)
	}
	d := &Document{node: &doc}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return d, nil
	}
	root := doc.Content[0]

	var err error
	switch s := stem(name); {
	case mapFile.MatchString(filepath.Base(name)):
		err = d.parseMap(root)
	case s == "CommonEvents":
		err = d.parseCommonEvents(root)
	case s == "Troops":
		err = d.parseTroops(root)
	case s == "System":
		err = d.parseSystem(root)
	default:
		db, ok := databases[s]
		if !ok {
			return nil, fmt.Errorf("%s: unsupported file", name)
		}
		d.parseDatabase(root, db, s, c.Width)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return d, nil
}

// ---------------------------------------------------------------------------
// Node helpers
// ---------------------------------------------------------------------------

// get returns the value of key in a mapping node.
func get(node *yaml.Node, key string) *yaml.Node {
	if node == nil || node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}

func isString(node *yaml.Node) bool {
	return node != nil && node.Kind == yaml.ScalarNode && node.ShortTag() == "!!str"
}

// children returns the items of a sequence or the values of a mapping.
func children(node *yaml.Node) []*yaml.Node {
	switch {
	case node == nil:
		return nil
	case node.Kind == yaml.SequenceNode:
		return node.Content
	case node.Kind == yaml.MappingNode:
		out := make([]*yaml.Node, 0, len(node.Content)/2)
		for i := 1; i < len(node.Content); i += 2 {
			out = append(out, node.Content[i])
		}
		return out
	}
	return nil
}

func keyOf(node *yaml.Node, i int) string {
	if node.Kind == yaml.MappingNode {
		return node.Content[2*i].Value
	}
	return strconv.Itoa(i)
}

// ---------------------------------------------------------------------------
// Event lists
// ---------------------------------------------------------------------------

func (d *Document) parseMap(root *yaml.Node) error {
	if root.Kind != yaml.MappingNode {
		return fmt.Errorf("map: %w", ErrFormat)
	}
	d.field("display_name", get(root, "display_name"), mvfile.LocationInstruction, 0)

	events := get(root, "events")
	for i, ev := range children(events) {
		if err := d.addPages(fmt.Sprintf("events[%s]", keyOf(events, i)), ev); err != nil {
			return err
		}
	}
	return nil
}

func (d *Document) parseCommonEvents(root *yaml.Node) error {
	if root.Kind != yaml.SequenceNode {
		return fmt.Errorf("common events: %w", ErrFormat)
	}
	for i, ce := range root.Content {
		if err := d.addList(fmt.Sprintf("commonEvents[%d]", i), get(ce, "list")); err != nil {
			return err
		}
	}
	return nil
}

func (d *Document) parseTroops(root *yaml.Node) error {
	if root.Kind != yaml.SequenceNode {
		return fmt.Errorf("troops: %w", ErrFormat)
	}
	for i, tr := range root.Content {
		d.field(fmt.Sprintf("troops[%d].name", i), get(tr, "name"), mvfile.TroopNameInstruction, 0)
		if err := d.addPages(fmt.Sprintf("troops[%d]", i), tr); err != nil {
			return err
		}
	}
	return nil
}

func (d *Document) addPages(name string, owner *yaml.Node) error {
	for j, p := range children(get(owner, "pages")) {
		if err := d.addList(fmt.Sprintf("%s.pages[%d]", name, j), get(p, "list")); err != nil {
			return err
		}
	}
	return nil
}

func (d *Document) addList(name string, list *yaml.Node) error {
	if list == nil || list.Kind != yaml.SequenceNode {
		return nil
	}
	recs := make([]script.Record, 0, len(list.Content))
	ref := pageRef{list: list}
	for i, cmd := range list.Content {
		if cmd.Kind != yaml.MappingNode {
			return fmt.Errorf("%s: command %d: %w", name, i, ErrFormat)
		}
		if i == 0 {
			ref.tag, ref.style = cmd.Tag, cmd.Style
		}
		code, err := intValue(get(cmd, "code"))
		if err != nil {
			return fmt.Errorf("%s: command %d code: %w", name, i, err)
		}
		indent, _ := intValue(get(cmd, "indent"))
		var params []any
		if p := get(cmd, "parameters"); p != nil && p.Kind == yaml.SequenceNode {
			params = seqValues(p)
		}
		recs = append(recs, script.Record{Code: code, Indent: indent, Params: params})
	}
	d.pages = append(d.pages, script.Page{Name: name, Records: recs})
	d.refs = append(d.refs, ref)
	return nil
}

func intValue(node *yaml.Node) (int, error) {
	if node == nil || node.Kind != yaml.ScalarNode {
		return 0, ErrFormat
	}
	n, err := strconv.Atoi(node.Value)
	if err != nil {
		return 0, fmt.Errorf("%q: %w", node.Value, ErrFormat)
	}
	return n, nil
}

// seqValues converts parameters: strings become Go strings, plain sequences
// become []any, and everything else stays a *yaml.Node written back as is.
func seqValues(seq *yaml.Node) []any {
	out := make([]any, len(seq.Content))
	for i, n := range seq.Content {
		out[i] = value(n)
	}
	return out
}

func value(n *yaml.Node) any {
	switch {
	case isString(n):
		return n.Value
	case n.Kind == yaml.SequenceNode && n.ShortTag() == "!!seq":
		return seqValues(n)
	}
	return n
}

func toNode(v any) *yaml.Node {
	switch x := v.(type) {
	case *yaml.Node:
		return x
	case string:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: x, Style: yaml.SingleQuotedStyle}
	case int:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.Itoa(x)}
	case []any:
		n := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, e := range x {
			n.Content = append(n.Content, toNode(e))
		}
		return n
	case nil:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "~"}
	}
	n := &yaml.Node{}
	if err := n.Encode(v); err != nil {
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: fmt.Sprint(v)}
	}
	return n
}

func scalar(key string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}
}

func (ref pageRef) commands(recs []script.Record) []*yaml.Node {
	out := make([]*yaml.Node, len(recs))
	for i, r := range recs {
		params := toNode(r.Params)
		if r.Params == nil {
			params = &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq", Style: yaml.FlowStyle}
		}
		out[i] = &yaml.Node{
			Kind:  yaml.MappingNode,
			Tag:   ref.tag,
			Style: ref.style,
			Content: []*yaml.Node{
				scalar("code"), toNode(r.Code),
				scalar("indent"), toNode(r.Indent),
				scalar("parameters"), params,
			},
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Database fields
// ---------------------------------------------------------------------------

func (d *Document) parseDatabase(root *yaml.Node, db database, kind string, width int) {
	for i, e := range children(root) {
		prefix := fmt.Sprintf("%s[%s].", kind, keyOf(root, i))
		if db.name != "" {
			d.field(prefix+"name", get(e, "name"), db.name, 0)
		}
		if db.nickname != "" {
			d.field(prefix+"nickname", get(e, "nickname"), db.nickname, 0)
		}
		if db.description != "" {
			d.field(prefix+"description", get(e, "description"), db.description, width)
		}
		for m := 1; m <= db.messages; m++ {
			k := "message" + strconv.Itoa(m)
			d.field(prefix+k, get(e, k), mvfile.MessageInstruction, 0)
		}
	}
}

func (d *Document) parseSystem(root *yaml.Node) error {
	if root.Kind != yaml.MappingNode {
		return fmt.Errorf("system: %w", ErrFormat)
	}
	d.field("game_title", get(root, "game_title"), mvfile.TitleInstruction, 0)
	for _, k := range []string{"armor_types", "elements", "skill_types", "weapon_types"} {
		d.items(k, get(root, k))
	}
	terms := get(root, "terms")
	for _, k := range []string{"basic", "commands", "params", "etypes"} {
		d.items("terms."+k, get(terms, k))
	}
	return nil
}

func (d *Document) field(name string, node *yaml.Node, instruction string, width int) {
	if !isString(node) || strings.TrimSpace(node.Value) == "" {
		return
	}
	d.fields = append(d.fields, script.Field{Name: name, Text: node.Value, Instruction: instruction, Width: width})
	d.nodes = append(d.nodes, node)
}

func (d *Document) items(name string, seq *yaml.Node) {
	if seq == nil || seq.Kind != yaml.SequenceNode {
		return
	}
	for i, n := range seq.Content {
		d.field(fmt.Sprintf("%s[%d]", name, i), n, mvfile.TermInstruction, 0)
	}
}

// ---------------------------------------------------------------------------
// script.Document
// ---------------------------------------------------------------------------

// Pages returns the event lists in file order.
func (d *Document) Pages() []script.Page { return d.pages }

// SetPage replaces the commands of page i.
func (d *Document) SetPage(i int, records []script.Record) {
	d.pages[i].Records = records
	d.refs[i].list.Content = d.refs[i].commands(records)
}

// Fields returns the database strings in file order.
func (d *Document) Fields() []script.Field { return d.fields }

// SetField replaces the text of field i.
func (d *Document) SetField(i int, text string) {
	d.fields[i].Text = text
	n := d.nodes[i]
	n.Value, n.Tag, n.Style = text, "!!str", yaml.SingleQuotedStyle
}

// Marshal serialises the document back to YAML.
func (d *Document) Marshal() ([]byte, error) {
	if d.node.Kind == 0 {
		return nil, nil
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(d.node); err != nil {
		return nil, fmt.Errorf("encoding: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encoding: %w", err)
	}
	return buf.Bytes(), nil
}
