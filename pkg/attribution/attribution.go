// Package attribution parses captured LLM chat-request bodies into
// ContextAttribution records, classifying each message by the source that
// produced it. Parsing uses tidwall/gjson for tolerant, no-schema
// traversal, because chat-request bodies vary across providers and this
// engine never needs a full typed model of any one of them.
package attribution

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// SourceKind classifies who or what produced a piece of attributed content.
type SourceKind string

const (
	SourceFramework SourceKind = "Framework"
	SourceUser      SourceKind = "User"
	SourceMCPServer SourceKind = "McpServer"
	SourceSkill     SourceKind = "Skill"
)

// ContextAttribution is one attributed slice of a captured chat request.
type ContextAttribution struct {
	Source      SourceKind
	SourceName  string // backend name, when Source == McpServer
	Content     string
	ContentHash string
	TokenEstimate int
}

// namespacedToolPattern matches the router's `<prefix>__<backend>__<tool>`
// naming scheme, used to recognize tool-result content produced by a
// proxied backend and recover its originating backend name.
var namespacedToolPattern = regexp.MustCompile(`^[A-Za-z0-9]+(?:__[A-Za-z0-9]+)*__([A-Za-z0-9_.-]+)__[A-Za-z0-9_.-]+$`)

// Engine attributes captured request bodies, matching configured skill
// content patterns against the Skill source kind.
type Engine struct {
	skillPatterns []*regexp.Regexp
}

// NewEngine builds an Engine that recognizes content matching any of
// skillPatterns as Skill-sourced.
func NewEngine(skillPatterns []string) (*Engine, error) {
	compiled := make([]*regexp.Regexp, 0, len(skillPatterns))
	for _, p := range skillPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, re)
	}
	return &Engine{skillPatterns: compiled}, nil
}

// Attribute parses body as an LLM-style chat request and returns its
// attribution records. It is best-effort: a body that doesn't parse as a
// chat request (no "messages" array) yields no records and no error,
// since unparseable bodies must not fail the capture.
func (e *Engine) Attribute(body []byte) []ContextAttribution {
	if !gjson.ValidBytes(body) {
		return nil
	}
	root := gjson.ParseBytes(body)
	messages := root.Get("messages")
	if !messages.Exists() || !messages.IsArray() {
		return nil
	}

	var out []ContextAttribution

	if system := root.Get("system"); system.Exists() && system.String() != "" {
		out = append(out, e.classify(SourceFramework, "", system.String()))
	}

	for _, msg := range messages.Array() {
		role := msg.Get("role").String()
		content := flattenContent(msg.Get("content"))
		if content == "" {
			continue
		}

		if backend, ok := backendFromToolName(msg.Get("name").String()); ok {
			out = append(out, e.classify(SourceMCPServer, backend, content))
			continue
		}

		switch role {
		case "system":
			out = append(out, e.classify(SourceFramework, "", content))
		case "user", "assistant":
			out = append(out, e.classify(SourceUser, "", content))
		default:
			out = append(out, e.classify(SourceUser, "", content))
		}
	}

	return out
}

// classify applies skill-pattern matching on top of a default source kind:
// content matching a configured skill pattern is reattributed as Skill
// regardless of its structural role, per the spec's content-pattern rule.
func (e *Engine) classify(defaultSource SourceKind, sourceName, content string) ContextAttribution {
	source := defaultSource
	for _, re := range e.skillPatterns {
		if re.MatchString(content) {
			source = SourceSkill
			break
		}
	}
	return ContextAttribution{
		Source:        source,
		SourceName:    sourceName,
		Content:       content,
		ContentHash:   hashContent(content),
		TokenEstimate: estimateTokens(content),
	}
}

func backendFromToolName(name string) (string, bool) {
	if name == "" {
		return "", false
	}
	m := namespacedToolPattern.FindStringSubmatch(name)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// flattenContent handles both plain-string content and the multi-part
// content-block array shape some providers use, concatenating text parts.
func flattenContent(v gjson.Result) string {
	if v.Type == gjson.String {
		return v.String()
	}
	if v.IsArray() {
		var parts []string
		for _, block := range v.Array() {
			if text := block.Get("text"); text.Exists() {
				parts = append(parts, text.String())
			}
		}
		return strings.Join(parts, "\n")
	}
	return ""
}

func hashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// estimateTokens is a deterministic length-based estimator (~4 characters
// per token), an intentionally rough approximation the spec explicitly
// permits in place of an exact tokenizer.
func estimateTokens(content string) int {
	if len(content) == 0 {
		return 0
	}
	n := len(content) / 4
	if n == 0 {
		n = 1
	}
	return n
}
