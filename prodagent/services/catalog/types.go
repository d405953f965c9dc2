package catalog

import (
	"regexp"
	"strings"
)

// Document is the catalog as stored: category -> products.
type Document map[string][]Product

type Product struct {
	ProductID   string  `yaml:"product_id" json:"product_id"`
	Name        string  `yaml:"name" json:"name"`
	Brand       string  `yaml:"brand" json:"brand"`
	Category    string  `yaml:"category" json:"category"`
	Description string  `yaml:"description,omitempty" json:"description,omitempty"`
	Manual      *Manual `yaml:"manual,omitempty" json:"manual,omitempty"`
	Models      []Model `yaml:"models" json:"models"`
}

type Model struct {
	ModelID       string       `yaml:"model_id" json:"model_id"`
	Color         string       `yaml:"color,omitempty" json:"color,omitempty"`
	HexColor      string       `yaml:"hex_color,omitempty" json:"hex_color,omitempty"`
	Price         float64      `yaml:"price,omitempty" json:"price,omitempty"`
	DimensionsCM  []float64    `yaml:"dimensions_cm,omitempty" json:"dimensions_cm,omitempty"`
	WarrantyYears float64      `yaml:"warranty_years,omitempty" json:"warranty_years,omitempty"`
	Features      []string     `yaml:"features,omitempty" json:"features,omitempty"`
	Installation  string       `yaml:"installation,omitempty" json:"installation,omitempty"`
	Maintenance   string       `yaml:"maintenance,omitempty" json:"maintenance,omitempty"`
	CommonIssues  []KnownIssue `yaml:"common_issues,omitempty" json:"common_issues,omitempty"`
}

type KnownIssue struct {
	Error   string `yaml:"error" json:"error"`
	Meaning string `yaml:"meaning" json:"meaning"`
	Fix     string `yaml:"fix" json:"fix"`
}

type Manual struct {
	Overview                string   `yaml:"overview,omitempty" json:"overview,omitempty"`
	InstallationSteps       []string `yaml:"installation_steps,omitempty" json:"installation_steps,omitempty"`
	FirstTimeUse            []string `yaml:"first_time_use,omitempty" json:"first_time_use,omitempty"`
	DailyUsage              []string `yaml:"daily_usage,omitempty" json:"daily_usage,omitempty"`
	SafetyGuidelines        []string `yaml:"safety_guidelines,omitempty" json:"safety_guidelines,omitempty"`
	DoNot                   []string `yaml:"do_not,omitempty" json:"do_not,omitempty"`
	EnvironmentalConditions string   `yaml:"environmental_conditions,omitempty" json:"environmental_conditions,omitempty"`
	Storage                 string   `yaml:"storage,omitempty" json:"storage,omitempty"`
}

// Record is a resolved model together with the product it belongs to.
type Record struct {
	Product Product `json:"product"`
	Model   Model   `json:"model"`
}

// Issue finds a known issue by its exact code, ignoring case.
func (m Model) Issue(code string) (KnownIssue, bool) {
	code = strings.TrimSpace(code)
	for _, issue := range m.CommonIssues {
		if strings.EqualFold(issue.Error, code) {
			return issue, true
		}
	}
	return KnownIssue{}, false
}

// MatchIssue returns the first known issue whose code appears as a whole
// token in text, e.g. "E01 error on my fridge" matches E01 but not E011.
func (m Model) MatchIssue(text string) (KnownIssue, bool) {
	for _, issue := range m.CommonIssues {
		if issue.Error == "" {
			continue
		}
		re := regexp.MustCompile(`(?i)(^|[^a-z0-9])` + regexp.QuoteMeta(issue.Error) + `($|[^a-z0-9])`)
		if re.MatchString(text) {
			return issue, true
		}
	}
	return KnownIssue{}, false
}
