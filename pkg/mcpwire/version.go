// Package mcpwire defines the wire-level representation of MCP messages and
// the closed set of protocol versions the proxy understands.
package mcpwire

// ProtocolVersion identifies one of the three MCP protocol revisions the
// proxy mediates between. It is a closed enumeration: new revisions require
// a code change, never runtime configuration.
type ProtocolVersion string

const (
	// V1 is the 2024-11-05 revision.
	V1 ProtocolVersion = "2024-11-05"
	// V2 is the 2025-03-26 revision.
	V2 ProtocolVersion = "2025-03-26"
	// V3 is the 2025-06-18 revision.
	V3 ProtocolVersion = "2025-06-18"
)

// Known reports whether v is one of the three supported revisions.
func (v ProtocolVersion) Known() bool {
	switch v {
	case V1, V2, V3:
		return true
	default:
		return false
	}
}

// rank orders revisions chronologically for "supports at least" comparisons.
func (v ProtocolVersion) rank() int {
	switch v {
	case V1:
		return 1
	case V2:
		return 2
	case V3:
		return 3
	default:
		return 0
	}
}

// AtLeast reports whether v is the same revision as or newer than other.
func (v ProtocolVersion) AtLeast(other ProtocolVersion) bool {
	return v.rank() >= other.rank()
}

// SupportsAudioContent reports whether this revision's content union
// includes audio content blocks (introduced in V2).
func (v ProtocolVersion) SupportsAudioContent() bool { return v.AtLeast(V2) }

// SupportsCompletions reports whether this revision defines the
// completion/complete request (introduced in V2).
func (v ProtocolVersion) SupportsCompletions() bool { return v.AtLeast(V2) }

// SupportsElicitation reports whether this revision defines the
// elicitation/create server request (introduced in V3).
func (v ProtocolVersion) SupportsElicitation() bool { return v.AtLeast(V3) }

// SupportsTitleField reports whether this revision's tool/prompt/resource
// descriptors carry a human-facing "title" distinct from "name" (V3).
func (v ProtocolVersion) SupportsTitleField() bool { return v.AtLeast(V3) }

// SupportsOutputSchema reports whether tool descriptors may declare an
// outputSchema (V3).
func (v ProtocolVersion) SupportsOutputSchema() bool { return v.AtLeast(V3) }

// SupportsStructuredContent reports whether tool call results may carry a
// structuredContent field alongside the content array (V3).
func (v ProtocolVersion) SupportsStructuredContent() bool { return v.AtLeast(V3) }

// RequiresResourceName reports whether this revision requires resources to
// declare a "name" field distinct from their URI (V3 tightened this; V1/V2
// treat it as optional).
func (v ProtocolVersion) RequiresResourceName() bool { return v.AtLeast(V3) }
