package notification

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"promise-service.io/promise/internal/domain"
)

//go:embed catalog.yaml
var defaultCatalog []byte

const (
	catalogDateLayout = "2006-01-02 15:04"
	placeUndecided    = "TBD"
	reasonMissing     = "no reason given"
)

var placeholderRE = regexp.MustCompile(`#\{([a-z_]+)\}`)

type catalogFile struct {
	Link    string                   `yaml:"link"`
	Intents map[string]catalogIntent `yaml:"intents"`
}

type catalogIntent struct {
	TemplateCode string   `yaml:"template_code"`
	Variables    []string `yaml:"variables"`
	Text         string   `yaml:"text"`
}

// Message is one intent rendered for a specific meeting.
type Message struct {
	TemplateCode string
	Variables    map[string]string
	Text         string
	Link         string
}

// CatalogOptions controls how messages are rendered.
type CatalogOptions struct {
	// Path overrides the embedded catalog when set.
	Path     string
	BaseURL  string
	Location *time.Location
}

// Catalog maps intents to template codes and plain text bodies.
type Catalog struct {
	link       string
	intents    map[domain.Intent]catalogIntent
	byTemplate map[string]domain.Intent
	baseURL    string
	loc        *time.Location
}

// LoadCatalog parses the embedded catalog, or opts.Path when set, and checks
// that every known intent is present.
func LoadCatalog(opts CatalogOptions) (*Catalog, error) {
	data := defaultCatalog
	if opts.Path != "" {
		raw, err := os.ReadFile(opts.Path)
		if err != nil {
			return nil, fmt.Errorf("read catalog %s: %w", opts.Path, err)
		}
		data = raw
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	c := &Catalog{
		link:       file.Link,
		intents:    make(map[domain.Intent]catalogIntent, len(file.Intents)),
		byTemplate: make(map[string]domain.Intent, len(file.Intents)),
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		loc:        opts.Location,
	}
	if c.loc == nil {
		c.loc = time.UTC
	}

	for name, entry := range file.Intents {
		intent, err := domain.ParseIntent(name)
		if err != nil {
			return nil, fmt.Errorf("catalog: %w", err)
		}
		if entry.TemplateCode == "" || entry.Text == "" {
			return nil, fmt.Errorf("catalog: intent %s needs template_code and text", name)
		}
		c.intents[intent] = entry
		c.byTemplate[entry.TemplateCode] = intent
	}
	for _, intent := range []domain.Intent{
		domain.IntentMeetingInvited, domain.IntentMeetingConfirmed,
		domain.IntentMeetingCancelled, domain.IntentInvitationResponded,
	} {
		if _, ok := c.intents[intent]; !ok {
			return nil, fmt.Errorf("catalog: intent %s is missing", intent)
		}
	}
	return c, nil
}

// Render builds the message for intent from mc.
func (c *Catalog) Render(intent domain.Intent, mc domain.MessageContext) (Message, error) {
	entry, ok := c.intents[intent]
	if !ok {
		return Message{}, fmt.Errorf("unknown message intent %q", intent)
	}

	all := c.values(mc)
	vars := make(map[string]string, len(entry.Variables))
	for _, name := range entry.Variables {
		vars[name] = all[name]
	}
	return Message{
		TemplateCode: entry.TemplateCode,
		Variables:    vars,
		Text:         expand(entry.Text, all),
		Link:         all["link"],
	}, nil
}

// TextForTemplate renders the plain text form of a template from the
// variables that were prepared for the templated channel.
func (c *Catalog) TextForTemplate(templateCode string, vars map[string]string) (text, link string, found bool) {
	intent, ok := c.byTemplate[templateCode]
	if !ok {
		return "", "", false
	}
	return expand(c.intents[intent].Text, vars), vars["link"], true
}

func (c *Catalog) values(mc domain.MessageContext) map[string]string {
	m := mc.Meeting
	place := strings.TrimSpace(m.Location)
	if place == "" {
		place = placeUndecided
	}
	reason := strings.TrimSpace(mc.Reason)
	if reason == "" {
		reason = reasonMissing
	}
	inviter := mc.SenderName
	if inviter == "" {
		inviter = "user " + strconv.FormatInt(mc.SenderID, 10)
	}

	v := map[string]string{
		"inviter":    inviter,
		"title":      m.Title,
		"date":       m.ScheduledAt.In(c.loc).Format(catalogDateLayout),
		"place":      place,
		"reason":     reason,
		"response":   string(mc.Response),
		"meeting_id": strconv.FormatInt(m.ID, 10),
		"base_url":   c.baseURL,
	}
	v["link"] = expand(c.link, v)
	return v
}

func expand(text string, vars map[string]string) string {
	return placeholderRE.ReplaceAllStringFunc(text, func(ph string) string {
		name := ph[2 : len(ph)-1]
		if v, ok := vars[name]; ok {
			return v
		}
		return ph
	})
}
