// internal/checkpoint/tools.go
package checkpoint

// ToolKind is the closed set of tools the tracker understands.
type ToolKind int

const (
	ToolUnsupported ToolKind = iota
	ToolRead
	ToolEdit
	ToolMultiEdit
	ToolWrite
	ToolBash
)

func (k ToolKind) String() string {
	switch k {
	case ToolRead:
		return "Read"
	case ToolEdit:
		return "Edit"
	case ToolMultiEdit:
		return "MultiEdit"
	case ToolWrite:
		return "Write"
	case ToolBash:
		return "Bash"
	default:
		return "Unsupported"
	}
}

var toolTable = map[string]ToolKind{
	"Read":            ToolRead,
	"mcp__acp__Read":  ToolRead,
	"Edit":            ToolEdit,
	"mcp__acp__Edit":  ToolEdit,
	"NotebookEdit":    ToolEdit,
	"MultiEdit":       ToolMultiEdit,
	"Write":           ToolWrite,
	"mcp__acp__Write": ToolWrite,
	"Bash":            ToolBash,
}

// ResolveTool maps a tool name to its kind; unknown names are unsupported.
func ResolveTool(name string) ToolKind {
	return toolTable[name]
}

// ToolInvocation is the "about to run" signal from the tool execution layer.
type ToolInvocation struct {
	ID         string                 `json:"id"`
	Name       string                 `json:"name"`
	Params     map[string]interface{} `json:"params"`
	ChangeUnit ChangeUnitID           `json:"change_unit_id"`
}

// TargetPath returns the file the tool operates on
func (inv ToolInvocation) TargetPath() string {
	return inv.param("file_path", "notebook_path", "path")
}

// Command returns the shell command of a Bash invocation
func (inv ToolInvocation) Command() string {
	return inv.param("command")
}

func (inv ToolInvocation) param(keys ...string) string {
	for _, key := range keys {
		if v, ok := inv.Params[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
