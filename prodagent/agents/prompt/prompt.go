// Package prompt turns a chat turn and its context into one completion
// request. Everything here is a pure function of its input.
package prompt

import (
	"fmt"
	"strings"

	"prodagent/prodagent/agents/configs"
	"prodagent/prodagent/agents/safety"
	"prodagent/prodagent/services/catalog"
	"prodagent/prodagent/services/retrieval"
	"prodagent/prodagent/utils/types"
)

const DefaultHistoryWindow = 6

// Directive names, in the order they appear in a request.
const (
	RetrievedKnowledge = "retrieved_knowledge"
	ProductFacts       = "product_facts"
	KnownIssue         = "known_issue"
	Identity           = "identity"
	ModeInstructions   = "mode"
	SafetyEscalation   = "safety_escalation"
	AntiHallucination  = "anti_hallucination"
	ImageNote          = "image_note"
	Language           = "language"
)

var order = []string{
	RetrievedKnowledge, ProductFacts, KnownIssue, Identity, ModeInstructions,
	SafetyEscalation, AntiHallucination, ImageNote, Language,
}

// Directive is one block of system instructions. Lower Priority wins when
// two directives disagree.
type Directive struct {
	Name     string
	Priority int
	Text     string
}

type Message struct {
	Role    types.Role
	Content string
	Images  []types.Image
}

type Input struct {
	Mode          types.Mode
	Brand         string
	ModelID       string
	Record        *catalog.Record
	Snippets      []retrieval.Snippet
	History       []types.Turn
	HistoryWindow int
	UserText      string
	Images        []types.Image
	Language      string
	// Issue forces a known issue into the request, e.g. when the user picked
	// an error code rather than typing it.
	Issue *catalog.KnownIssue
}

type Request struct {
	Directives []Directive
	Messages   []Message
	Language   string
	Issue      *catalog.KnownIssue
	Hazards    []safety.Category
}

// System renders the directives in priority order.
func (r Request) System() string {
	parts := make([]string, 0, len(r.Directives))
	for _, d := range r.Directives {
		parts = append(parts, strings.TrimSpace(d.Text))
	}
	return strings.Join(parts, "\n\n")
}

// HasImages reports whether any message carries an image.
func (r Request) HasImages() bool {
	for _, m := range r.Messages {
		if len(m.Images) > 0 {
			return true
		}
	}
	return false
}

// Has reports whether a directive with the given name is present.
func (r Request) Has(name string) bool {
	for _, d := range r.Directives {
		if d.Name == name {
			return true
		}
	}
	return false
}

type Assembler struct {
	cfg        *configs.AgentConfig
	classifier safety.Classifier
}

func NewAssembler(cfg *configs.AgentConfig, classifier safety.Classifier) *Assembler {
	if cfg == nil {
		cfg = configs.Default()
	}
	if classifier == nil {
		classifier = safety.NewKeywordClassifier()
	}
	return &Assembler{cfg: cfg, classifier: classifier}
}

func (a *Assembler) Config() *configs.AgentConfig { return a.cfg }

func (a *Assembler) Assemble(in Input) Request {
	mode := in.Mode
	if mode == "" {
		mode = types.ModePrePurchase
	}
	vars := a.vars(in)

	issue := in.Issue
	if issue == nil && in.Record != nil {
		if found, ok := in.Record.Model.MatchIssue(in.UserText); ok {
			issue = &found
		}
	}

	var hazards []safety.Category
	if mode == types.ModePostPurchase {
		texts := []string{in.UserText}
		if issue != nil {
			texts = append(texts, issue.Meaning, issue.Fix)
		}
		hazards = a.classifier.Classify(texts...)
	}

	texts := map[string]string{}
	if len(in.Snippets) > 0 {
		texts[RetrievedKnowledge] = configs.Render(a.cfg.Directives.RetrievedKnowledge, vars) + formatSnippets(in.Snippets)
	}
	if in.Record != nil {
		texts[ProductFacts] = configs.Render(a.cfg.Directives.ProductFacts, vars) + formatFacts(in.Record)
		texts[Identity] = configs.Render(a.cfg.Directives.Identity, vars)
	} else {
		texts[Identity] = configs.Render(a.cfg.Directives.UnknownProduct, vars)
	}
	if issue != nil {
		texts[KnownIssue] = a.cfg.Directives.KnownIssue +
			fmt.Sprintf("ERROR CODE: %s\nMEANING: %s\nFIX: %s", issue.Error, issue.Meaning, issue.Fix)
	}
	texts[ModeInstructions] = a.cfg.Modes[string(mode)]
	if len(hazards) > 0 {
		names := make([]string, len(hazards))
		for i, h := range hazards {
			names[i] = strings.ReplaceAll(string(h), "_", " ")
		}
		vars["categories"] = strings.Join(names, ", ")
		texts[SafetyEscalation] = configs.Render(a.cfg.Directives.Safety, vars)
	}
	texts[AntiHallucination] = a.cfg.Directives.AntiHallucination
	if len(in.Images) > 0 {
		vars["count"] = fmt.Sprint(len(in.Images))
		texts[ImageNote] = configs.Render(a.cfg.Directives.ImageNote, vars)
	}
	lang, langText := a.cfg.Language(in.Language)
	texts[Language] = langText

	req := Request{Language: lang, Issue: issue, Hazards: hazards}
	for i, name := range order {
		if t := strings.TrimSpace(texts[name]); t != "" {
			req.Directives = append(req.Directives, Directive{Name: name, Priority: i, Text: t})
		}
	}

	req.Messages = append(req.Messages, Message{Role: "system", Content: req.System()})
	for _, t := range Window(in.History, in.HistoryWindow) {
		req.Messages = append(req.Messages, Message{Role: t.Role, Content: t.Content})
	}
	req.Messages = append(req.Messages, Message{
		Role:    types.RoleUser,
		Content: a.UserContent(in.UserText, len(in.Images)),
		Images:  in.Images,
	})
	return req
}

// UserContent is the stored text of a user turn; image-only turns get a placeholder.
func (a *Assembler) UserContent(text string, images int) string {
	if strings.TrimSpace(text) == "" && images > 0 {
		return a.cfg.ImagePlaceholder
	}
	return text
}

// Window keeps the last n successful turns in order; n <= 0 uses the default.
func Window(history []types.Turn, n int) []types.Turn {
	if n <= 0 {
		n = DefaultHistoryWindow
	}
	kept := make([]types.Turn, 0, len(history))
	for _, t := range history {
		if t.Failed() || strings.TrimSpace(t.Content) == "" {
			continue
		}
		kept = append(kept, t)
	}
	if len(kept) > n {
		kept = kept[len(kept)-n:]
	}
	return kept
}

// OffTopicReply returns the canned scope reply when text asks about other
// products without naming this one.
func (a *Assembler) OffTopicReply(text string, rec *catalog.Record) (string, bool) {
	if rec == nil {
		return "", false
	}
	lower := strings.ToLower(text)
	name := strings.ToLower(rec.Product.Name)
	for _, ind := range a.cfg.OffTopicIndicators {
		if strings.Contains(lower, strings.ToLower(ind)) && (name == "" || !strings.Contains(lower, name)) {
			return configs.Render(a.cfg.ScopeReply, map[string]string{"product": rec.Product.Name}), true
		}
	}
	return "", false
}

// Suggestions returns the follow-up prompts offered in mode.
func (a *Assembler) Suggestions(mode types.Mode) []string {
	return append([]string(nil), a.cfg.Suggestions[string(mode)]...)
}

func (a *Assembler) vars(in Input) map[string]string {
	brand := in.Brand
	product := in.ModelID
	modelID := in.ModelID
	if in.Record != nil {
		if in.Record.Product.Brand != "" {
			brand = in.Record.Product.Brand
		}
		product = in.Record.Product.Name
		modelID = in.Record.Model.ModelID
	}
	return map[string]string{
		"brand":     brand,
		"product":   product,
		"model_id":  modelID,
		"namespace": retrieval.Namespace(modelID),
	}
}

func formatSnippets(snippets []retrieval.Snippet) string {
	var sb strings.Builder
	for i, s := range snippets {
		fmt.Fprintf(&sb, "\n[%d] (%s, relevance %.2f)\n%s\n", i+1, s.Section, s.Score, strings.TrimSpace(s.Text))
	}
	return sb.String()
}

func formatFacts(rec *catalog.Record) string {
	m := rec.Model
	var lines []string
	lines = append(lines, "Category: "+rec.Product.Category)
	if m.Color != "" {
		lines = append(lines, "Color: "+m.Color)
	}
	if len(m.DimensionsCM) == 3 {
		lines = append(lines, fmt.Sprintf("Dimensions: %gcm (H) x %gcm (W) x %gcm (D)", m.DimensionsCM[0], m.DimensionsCM[1], m.DimensionsCM[2]))
	}
	if m.Price > 0 {
		lines = append(lines, fmt.Sprintf("Price: %g", m.Price))
	}
	if m.WarrantyYears > 0 {
		lines = append(lines, fmt.Sprintf("Warranty: %g years", m.WarrantyYears))
	}
	if len(m.Features) > 0 {
		lines = append(lines, "Features: "+strings.Join(m.Features, ", "))
	}
	if m.Installation != "" {
		lines = append(lines, "Installation: "+m.Installation)
	}
	if m.Maintenance != "" {
		lines = append(lines, "Maintenance: "+m.Maintenance)
	}
	for _, issue := range m.CommonIssues {
		lines = append(lines, fmt.Sprintf("Error %s: %s (fix: %s)", issue.Error, issue.Meaning, issue.Fix))
	}
	return "\n" + strings.Join(lines, "\n")
}
