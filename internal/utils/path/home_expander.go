package pathutils

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	homeShortcutConstant = "~"
)

// HomeDirectoryProvider resolves the current user's home directory path.
type HomeDirectoryProvider func() (string, error)

// HomeExpander replaces a leading "~" in report and input paths with the user's home
// directory. The directory is looked up at most once.
type HomeExpander struct {
	provider   HomeDirectoryProvider
	lookupOnce sync.Once
	home       string
}

// NewHomeExpander constructs a HomeExpander backed by os.UserHomeDir.
func NewHomeExpander() *HomeExpander {
	return NewHomeExpanderWithProvider(nil)
}

// NewHomeExpanderWithProvider constructs a HomeExpander with a custom lookup.
func NewHomeExpanderWithProvider(provider HomeDirectoryProvider) *HomeExpander {
	if provider == nil {
		provider = os.UserHomeDir
	}
	return &HomeExpander{provider: provider}
}

// Expand trims candidatePath and expands "~" and "~/..." forms. "~user" forms and
// paths whose home directory cannot be resolved are returned trimmed but unchanged.
func (expander *HomeExpander) Expand(candidatePath string) string {
	trimmedPath := strings.TrimSpace(candidatePath)
	remainder, hasShortcut := strings.CutPrefix(trimmedPath, homeShortcutConstant)
	if expander == nil || !hasShortcut {
		return trimmedPath
	}
	if len(remainder) > 0 && remainder[0] != '/' && remainder[0] != os.PathSeparator {
		return trimmedPath
	}

	home := expander.homeDirectory()
	if len(home) == 0 {
		return trimmedPath
	}
	return filepath.Join(home, filepath.FromSlash(remainder))
}

func (expander *HomeExpander) homeDirectory() string {
	expander.lookupOnce.Do(func() {
		home, lookupError := expander.provider()
		if lookupError == nil {
			expander.home = home
		}
	})
	return expander.home
}
