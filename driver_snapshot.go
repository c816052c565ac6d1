package main

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

// SnapshotDriver is a read-only PageDriver over a saved HTML page. It lets
// selectors be checked against a captured page without a browser.
// Activations and typed values are recorded, not performed.
type SnapshotDriver struct {
	root  *html.Node
	pages map[string][]byte

	Activated []string
	Typed     map[string]string
	Visited   []string
}

type snapshotElement struct {
	node *html.Node
}

// NewSnapshotDriver parses document as the current page.
func NewSnapshotDriver(document []byte) (*SnapshotDriver, error) {
	d := &SnapshotDriver{
		pages: make(map[string][]byte),
		Typed: make(map[string]string),
	}
	if err := d.load(document); err != nil {
		return nil, err
	}
	return d, nil
}

// LoadSnapshotFile reads a saved page from disk.
func LoadSnapshotFile(path string) (*SnapshotDriver, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot %s: %w", path, err)
	}
	return NewSnapshotDriver(data)
}

// AddPage registers the document served when url is navigated to.
func (d *SnapshotDriver) AddPage(url string, document []byte) {
	d.pages[url] = document
}

func (d *SnapshotDriver) load(document []byte) error {
	root, err := html.Parse(bytes.NewReader(document))
	if err != nil {
		return fmt.Errorf("failed to parse snapshot: %w", err)
	}
	d.root = root
	return nil
}

func (d *SnapshotDriver) Locate(sel Selector, _ time.Duration) (Element, bool) {
	return snapshotLocate(d.root, sel)
}

func (d *SnapshotDriver) LocateAll(sel Selector, _ time.Duration) []Element {
	return snapshotQuery(d.root, sel)
}

func (d *SnapshotDriver) Activate(el Element) error {
	se, ok := el.(*snapshotElement)
	if !ok {
		return fmt.Errorf("element %T does not belong to this driver", el)
	}
	d.Activated = append(d.Activated, describeNode(se.node))
	return nil
}

func (d *SnapshotDriver) Type(el Element, text string) error {
	se, ok := el.(*snapshotElement)
	if !ok {
		return fmt.Errorf("element %T does not belong to this driver", el)
	}
	d.Typed[describeNode(se.node)] = text
	return nil
}

func (d *SnapshotDriver) Choose(el Element, option string) error {
	return d.Type(el, option)
}

func (d *SnapshotDriver) BodyText() (string, error) {
	return goquery.NewDocumentFromNode(d.root).Find("body").Text(), nil
}

// Navigate switches to a registered page; unknown URLs keep the current
// document, which makes refreshes of a single snapshot a no-op.
func (d *SnapshotDriver) Navigate(url string) error {
	d.Visited = append(d.Visited, url)
	if doc, ok := d.pages[url]; ok {
		return d.load(doc)
	}
	return nil
}

func (d *SnapshotDriver) Dispose() error {
	return nil
}

func (e *snapshotElement) Locate(sel Selector, _ time.Duration) (Element, bool) {
	return snapshotLocate(e.node, sel)
}

func (e *snapshotElement) LocateAll(sel Selector, _ time.Duration) []Element {
	return snapshotQuery(e.node, sel)
}

func (e *snapshotElement) Text() (string, error) {
	return goquery.NewDocumentFromNode(e.node).Text(), nil
}

func (e *snapshotElement) Attribute(name string) (string, bool) {
	for _, a := range e.node.Attr {
		if a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

func snapshotQuery(root *html.Node, sel Selector) []Element {
	var nodes []*html.Node
	if xpath, ok := sel.XPath(); ok {
		found, err := htmlquery.QueryAll(root, xpath)
		if err != nil {
			return nil
		}
		nodes = found
	} else {
		nodes = goquery.NewDocumentFromNode(root).Find(string(sel)).Nodes
	}

	out := make([]Element, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, &snapshotElement{node: n})
	}
	return out
}

func snapshotLocate(root *html.Node, sel Selector) (Element, bool) {
	els := snapshotQuery(root, sel)
	if len(els) == 0 {
		return nil, false
	}
	return els[0], true
}

// describeNode renders a node as tag#id.class for recording actions.
func describeNode(n *html.Node) string {
	s := goquery.NewDocumentFromNode(n).Selection
	desc := n.Data
	if id, ok := s.Attr("id"); ok && id != "" {
		desc += "#" + id
	}
	if class, ok := s.Attr("class"); ok && class != "" {
		desc += "." + class
	}
	return desc
}
