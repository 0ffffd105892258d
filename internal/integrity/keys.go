package integrity

// KeyEvent is a keyboard event as the shell sees it.
type KeyEvent struct {
	Key  string `json:"key"`
	Ctrl bool   `json:"ctrl"`
	Meta bool   `json:"meta"`
}

// suppressedCombos are the devtools/save/view-source shortcuts the shell
// cancels. Deterrence only, not authoritative: anyone can run the exam
// outside the shell.
var suppressedCombos = map[string]bool{
	"u": true,
	"s": true,
	"i": true,
}

// SuppressKey reports whether the shell should cancel a keyboard event.
func SuppressKey(ev KeyEvent) bool {
	if ev.Key == "F12" || ev.Key == "ContextMenu" {
		return true
	}
	if ev.Ctrl || ev.Meta {
		return suppressedCombos[ev.Key]
	}
	return false
}

// SuppressContextMenu reports whether the shell should cancel the context
// menu. Always true during a session.
func SuppressContextMenu() bool { return true }
