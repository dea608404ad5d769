// Package pages maps the fixed site menu to its static content.
package pages

import (
	_ "embed"
	"fmt"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

// Labels is the menu, in display order.
var Labels = []string{"Home", "About us", "Solutions", "Notice", "Contact"}

//go:embed content.yaml
var content []byte

type Page struct {
	Label    string    `yaml:"label"`
	Slug     string    `yaml:"slug"`
	Title    string    `yaml:"title"`
	Subtitle string    `yaml:"subtitle"`
	Intro    string    `yaml:"intro"`
	Sections []Section `yaml:"sections"`
	News     []News    `yaml:"news"`
	Tabs     []Tab     `yaml:"tabs"`
	Leader   *Profile  `yaml:"leader"`
	Office   *Office   `yaml:"office"`
	Form     bool      `yaml:"form"`
}

type Section struct {
	Heading string   `yaml:"heading"`
	Style   string   `yaml:"style"`
	Body    string   `yaml:"body"`
	Items   []string `yaml:"items"`
}

type News struct {
	Date  string `yaml:"date"`
	Title string `yaml:"title"`
	Tag   string `yaml:"tag"`
}

type Tab struct {
	Name    string   `yaml:"name"`
	Heading string   `yaml:"heading"`
	Items   []string `yaml:"items"`
}

type Profile struct {
	Name    string   `yaml:"name"`
	Role    string   `yaml:"role"`
	Quote   string   `yaml:"quote"`
	Records []string `yaml:"records"`
}

type Office struct {
	Address string `yaml:"address"`
	Email   string `yaml:"email"`
}

type MenuItem struct {
	Label  string
	Slug   string
	Active bool
}

type Router struct {
	pages []Page
}

// Load parses the embedded site content.
func Load() (*Router, error) {
	return Parse(content)
}

// Parse reads site content and checks it holds exactly the menu labels, in order.
func Parse(b []byte) (*Router, error) {
	var doc struct {
		Pages []Page `yaml:"pages"`
	}
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("parsing page content: %w", err)
	}
	if len(doc.Pages) != len(Labels) {
		return nil, fmt.Errorf("want %d pages, got %d", len(Labels), len(doc.Pages))
	}
	slugs := map[string]bool{}
	for i, p := range doc.Pages {
		if p.Label != Labels[i] {
			return nil, fmt.Errorf("page %d: want label %q, got %q", i, Labels[i], p.Label)
		}
		if p.Slug == "" || p.Slug[0] != '/' {
			return nil, fmt.Errorf("page %q: bad slug %q", p.Label, p.Slug)
		}
		if slugs[p.Slug] {
			return nil, fmt.Errorf("page %q: duplicate slug %q", p.Label, p.Slug)
		}
		slugs[p.Slug] = true
	}
	return &Router{pages: doc.Pages}, nil
}

func (r *Router) Lookup(label string) (Page, bool) {
	return lo.Find(r.pages, func(p Page) bool { return p.Label == label })
}

func (r *Router) BySlug(path string) (Page, bool) {
	return lo.Find(r.pages, func(p Page) bool { return p.Slug == path })
}

func (r *Router) Pages() []Page {
	return r.pages
}

// Menu returns the navigation with the page labelled active marked.
func (r *Router) Menu(active string) []MenuItem {
	return lo.Map(r.pages, func(p Page, _ int) MenuItem {
		return MenuItem{Label: p.Label, Slug: p.Slug, Active: p.Label == active}
	})
}
