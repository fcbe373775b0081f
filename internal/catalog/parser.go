package catalog

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"unicode"

	"modelplayground/internal/core"
)

type state int

const (
	stateOutside state = iota
	stateModelSection
	stateLoraSection
)

func (s state) String() string {
	switch s {
	case stateModelSection:
		return "in-model-section"
	case stateLoraSection:
		return "in-lora-section"
	default:
		return "outside"
	}
}

type lineKind int

const (
	kindOther lineKind = iota
	kindBlank
	kindHeader
	kindLoraMarker
	kindSectionEnd
	kindModel
	kindLoraEntry
	kindBullet
	kindAttribute
)

// transitions lists the state changes; line kinds missing for a state keep the state.
var transitions = map[state]map[lineKind]state{
	stateOutside: {
		kindHeader:     stateModelSection,
		kindLoraMarker: stateLoraSection,
	},
	stateModelSection: {
		kindHeader:     stateModelSection,
		kindLoraMarker: stateLoraSection,
		kindSectionEnd: stateOutside,
	},
	stateLoraSection: {
		kindHeader:     stateModelSection,
		kindSectionEnd: stateOutside,
	},
}

// The reference document is hand-edited, so dashes and quotes come in several encodings.
const (
	dashClass  = `(?:-|–|—|â€”)`
	quoteClass = `["“”„]`
	nameClass  = `[^"“”„]`
)

var (
	headerPattern     = regexp.MustCompile(`^\*{4,}(.*?)\*{4,}$`)
	loraMarkerPattern = regexp.MustCompile(`^(?:#+\s*)?LoR[Aa]s\s*` + dashClass + `\s*$`)
	loraEntryPattern  = regexp.MustCompile(`^-\s*` + quoteClass + `(` + nameClass + `+)` + quoteClass + `\s*:\s*(.+)$`)
	isStylePattern    = regexp.MustCompile(`(?i)\bis\s+style\s*=\s*` + quoteClass + `?(\w+)`)
	phrasePattern     = regexp.MustCompile(`(?i)\bphra[sd]e\s+reference\s*=\s*` + quoteClass + `(` + nameClass + `*)` + quoteClass)
	subjectPattern    = regexp.MustCompile(`(?i)\bsubject\s+reference\s+name\s*=\s*` + quoteClass + `(` + nameClass + `*)` + quoteClass)
)

// endpointPrefixes are namespaces served directly by the queue provider.
var endpointPrefixes = []string{"fal-ai/", "bria/", "tripo3d/", "sonauto/"}

// Catalog is the parsed reference document.
type Catalog struct {
	// Categories in first-seen order. Includes the LoRA category when the document has a LoRA section.
	Categories []string
	Models     map[string][]string
	Loras      []core.LoraOption
}

// LoadFile reads and parses a reference document. Only read errors are returned.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model references %s: %w", path, err)
	}
	return Parse(string(data)), nil
}

// Parse scans the document line by line. Malformed lines are skipped.
func Parse(content string) *Catalog {
	p := &parser{
		catalog: &Catalog{Models: make(map[string][]string)},
		lora:    -1,
	}
	for _, raw := range strings.Split(content, "\n") {
		p.feed(trimLine(raw))
	}
	return p.catalog
}

// trimLine strips whitespace and byte order marks, which editors leave at the start of a file.
func trimLine(raw string) string {
	return strings.TrimFunc(raw, func(r rune) bool {
		return unicode.IsSpace(r) || r == '\ufeff'
	})
}

type parser struct {
	catalog  *Catalog
	state    state
	category string
	// lora indexes the entry that attribute lines attach to, -1 when none.
	lora int
}

func (p *parser) feed(line string) {
	kind, match := classify(line, p.state)

	switch kind {
	case kindHeader:
		p.openCategory(match[0])
	case kindLoraMarker:
		p.openCategory(core.LorasCategory)
		p.lora = -1
	case kindModel:
		if p.category != "" {
			p.catalog.Models[p.category] = append(p.catalog.Models[p.category], match[0])
		}
	case kindLoraEntry:
		p.addLora(match[0], match[1])
	case kindBullet:
		p.lora = -1
	case kindAttribute:
		p.applyAttributes(line)
	}

	if next, ok := transitions[p.state][kind]; ok {
		p.state = next
		if next == stateOutside {
			p.category = ""
			p.lora = -1
		}
	}
}

// classify maps a trimmed line to its kind. Kinds that depend on the section are only
// produced while in that section.
func classify(line string, s state) (lineKind, []string) {
	if line == "" {
		return kindBlank, nil
	}
	if line == "---" {
		return kindSectionEnd, nil
	}
	if loraMarkerPattern.MatchString(line) {
		return kindLoraMarker, nil
	}
	if m := headerPattern.FindStringSubmatch(line); m != nil {
		if name := strings.TrimSpace(strings.Trim(m[1], "*")); name != "" {
			return kindHeader, []string{name}
		}
		return kindOther, nil
	}

	switch s {
	case stateModelSection:
		if strings.HasPrefix(line, "- ") && strings.Contains(line, "/") {
			return kindModel, []string{strings.TrimSpace(line[2:])}
		}
	case stateLoraSection:
		if m := loraEntryPattern.FindStringSubmatch(line); m != nil {
			name := strings.TrimSpace(m[1])
			if url := cleanURL(m[2]); name != "" && url != "" {
				return kindLoraEntry, []string{name, url}
			}
			return kindBullet, nil
		}
		if strings.HasPrefix(line, "-") {
			return kindBullet, nil
		}
		if isStylePattern.MatchString(line) || phrasePattern.MatchString(line) || subjectPattern.MatchString(line) {
			return kindAttribute, nil
		}
	}
	return kindOther, nil
}

// cleanURL accepts "[https://...]" or a bare "https://..." and returns "" for anything else.
func cleanURL(raw string) string {
	raw = strings.NewReplacer("[", " ", "]", " ", "<", " ", ">", " ").Replace(raw)
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return ""
	}
	url := fields[0]
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return ""
	}
	return url
}

func (p *parser) openCategory(name string) {
	p.category = name
	if _, seen := p.catalog.Models[name]; !seen {
		p.catalog.Models[name] = []string{}
		p.catalog.Categories = append(p.catalog.Categories, name)
	}
}

func (p *parser) addLora(name, url string) {
	p.catalog.Loras = append(p.catalog.Loras, core.LoraOption{Name: name, URL: url})
	p.catalog.Models[core.LorasCategory] = append(p.catalog.Models[core.LorasCategory], name)
	p.lora = len(p.catalog.Loras) - 1
}

func (p *parser) applyAttributes(line string) {
	if p.lora < 0 {
		return
	}
	entry := &p.catalog.Loras[p.lora]
	if m := isStylePattern.FindStringSubmatch(line); m != nil {
		entry.IsStyle = strings.EqualFold(m[1], "true")
	}
	if m := phrasePattern.FindStringSubmatch(line); m != nil {
		entry.PhraseReference = strings.TrimSpace(m[1])
	}
	if m := subjectPattern.FindStringSubmatch(line); m != nil {
		entry.SubjectReference = strings.TrimSpace(m[1])
	}
}

// Entries flattens the catalog for the model listing. Models come first in category order,
// then LoRA names under the LoRA category.
func (c *Catalog) Entries() []core.ModelEntry {
	entries := make([]core.ModelEntry, 0)
	for _, category := range c.Categories {
		if category == core.LorasCategory {
			continue
		}
		for _, name := range c.Models[category] {
			entries = append(entries, core.ModelEntry{
				Name:       name,
				Category:   category,
				EndpointID: EndpointID(name),
			})
		}
	}
	for _, lora := range c.Loras {
		entries = append(entries, core.ModelEntry{
			Name:     lora.Name,
			Category: core.LorasCategory,
			IsLora:   true,
		})
	}
	return entries
}

// EndpointID returns the model name when it belongs to a provider-served namespace, else nil.
func EndpointID(name string) *string {
	for _, prefix := range endpointPrefixes {
		if strings.HasPrefix(name, prefix) {
			id := name
			return &id
		}
	}
	return nil
}
