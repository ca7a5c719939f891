package script

// Page is one ordered record list of a document, such as an event page or a
// common event.
type Page struct {
	// Name locates the page in reports, e.g. "events[3].pages[0]".
	Name    string
	Records []Record
}

// Field is a standalone string outside any record list, such as an item
// name or a skill description.
type Field struct {
	Name        string
	Text        string
	Instruction string
	// Width wraps the translation; 0 leaves it as returned.
	Width int
}

// Document is a parsed game file. Pages and fields are addressed by their
// index in the slices returned by Pages and Fields, which must stay stable
// for the lifetime of the document.
type Document interface {
	Pages() []Page
	SetPage(i int, records []Record)
	Fields() []Field
	SetField(i int, text string)
	Marshal() ([]byte, error)
}
