package router

import "strings"

// helpText lists every command with its usage, in **bold** markup.
func (r *Router) helpText() string {
	lines := []string{"📚 **Commands**"}
	for _, c := range r.sortedCommands() {
		line := "• " + c.Usage()
		if d := strings.TrimSpace(c.Description); d != "" {
			line += ": " + d
		}
		if c.Access == AccessManage {
			line += " 🔒"
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
