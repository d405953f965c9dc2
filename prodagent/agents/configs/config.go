// Package configs holds the assistant's prompt texts. They ship embedded in
// the binary and can be overridden with a YAML file of the same shape.
package configs

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"prodagent/prodagent/utils/logging"
)

//go:embed agent.yaml
var defaultYAML []byte

type Directives struct {
	RetrievedKnowledge string `yaml:"retrieved_knowledge"`
	ProductFacts       string `yaml:"product_facts"`
	KnownIssue         string `yaml:"known_issue"`
	Identity           string `yaml:"identity"`
	UnknownProduct     string `yaml:"unknown_product"`
	Safety             string `yaml:"safety"`
	AntiHallucination  string `yaml:"anti_hallucination"`
	ImageNote          string `yaml:"image_note"`
}

type ErrorCodeTexts struct {
	Known   string `yaml:"known"`
	Unknown string `yaml:"unknown"`
}

type VisionTexts struct {
	Relevance      string            `yaml:"relevance"`
	Irrelevant     string            `yaml:"irrelevant"`
	Analysis       string            `yaml:"analysis"`
	Disclaimer     string            `yaml:"disclaimer"`
	ConfidenceNote string            `yaml:"confidence_note"`
	ColorMatch     string            `yaml:"color_match"`
	AssessFit      string            `yaml:"assess_fit"`
	Clearances     map[string]string `yaml:"clearances"`
}

type AgentConfig struct {
	AgentName          string              `yaml:"agent_name"`
	ImagePlaceholder   string              `yaml:"image_placeholder"`
	Directives         Directives          `yaml:"directives"`
	Modes              map[string]string   `yaml:"modes"`
	Languages          map[string]string   `yaml:"languages"`
	Suggestions        map[string][]string `yaml:"suggestions"`
	ModeSwitched       map[string]string   `yaml:"mode_switched"`
	OffTopicIndicators []string            `yaml:"off_topic_indicators"`
	ScopeReply         string              `yaml:"scope_reply"`
	ErrorCode          ErrorCodeTexts      `yaml:"error_code"`
	Recommend          string              `yaml:"recommend"`
	Vision             VisionTexts         `yaml:"vision"`
}

// Default returns the embedded configuration. It panics only if the embedded
// file is malformed, which the package tests rule out.
func Default() *AgentConfig {
	cfg, err := Parse(defaultYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded agent config: %v", err))
	}
	return cfg
}

func Parse(raw []byte) (*AgentConfig, error) {
	var cfg AgentConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadConfig reads path over the embedded defaults; an empty path or an
// unreadable file yields the defaults.
func LoadConfig(path string) *AgentConfig {
	cfg := Default()
	if path == "" {
		return cfg
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		logging.AppLogger.Error("Agent config load error, using defaults", zap.String("path", path), zap.Error(err))
		return cfg
	}
	// fields absent from the override keep their embedded values
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		logging.AppLogger.Error("Agent config parse error, using defaults", zap.String("path", path), zap.Error(err))
		return Default()
	}
	return cfg
}

// Render substitutes {{key}} placeholders in tmpl.
func Render(tmpl string, vars map[string]string) string {
	if len(vars) == 0 {
		return tmpl
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

// Language returns the instruction for tag, falling back to English.
func (c *AgentConfig) Language(tag string) (string, string) {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if text, ok := c.Languages[tag]; ok && tag != "" {
		return tag, text
	}
	return "en", c.Languages["en"]
}
