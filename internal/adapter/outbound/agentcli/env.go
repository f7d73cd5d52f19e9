package agentcli

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultPathDirs are searched for the agent executable and form the
// child's PATH. A leading "~/" is expanded to the home directory.
var DefaultPathDirs = []string{
	"/opt/homebrew/bin",
	"/usr/local/bin",
	"~/.local/bin",
	"~/.npm-global/bin",
	"~/.cargo/bin",
	"/usr/bin",
	"/bin",
}

// DefaultPassEnv names host variables copied into the child when set.
var DefaultPassEnv = []string{"USER", "LOGNAME", "LANG", "LC_ALL", "TMPDIR"}

// Env describes the explicitly constructed child environment.
type Env struct {
	// PathDirs become PATH, in order. Empty means DefaultPathDirs.
	PathDirs []string
	// Home is HOME for the child. Empty means the current user's home.
	Home string
	// PassEnv names host variables copied when set. Nil means DefaultPassEnv.
	PassEnv []string
	// Set holds fixed values. They override everything except PATH.
	Set map[string]string
}

// Dirs returns PathDirs with "~/" expanded.
func (e Env) Dirs() []string {
	dirs := e.PathDirs
	if len(dirs) == 0 {
		dirs = DefaultPathDirs
	}
	home := e.home()
	out := make([]string, 0, len(dirs))
	for _, d := range dirs {
		if strings.HasPrefix(d, "~/") {
			if home == "" {
				continue
			}
			d = filepath.Join(home, d[2:])
		}
		out = append(out, d)
	}
	return out
}

func (e Env) home() string {
	if e.Home != "" {
		return e.Home
	}
	home, _ := os.UserHomeDir()
	return home
}

// Build returns the child environment as sorted KEY=VALUE pairs. lookup
// reads host variables; pass os.LookupEnv in production.
func (e Env) Build(lookup func(string) (string, bool)) []string {
	vars := map[string]string{"CI": "1"}
	if home := e.home(); home != "" {
		vars["HOME"] = home
	}

	pass := e.PassEnv
	if pass == nil {
		pass = DefaultPassEnv
	}
	for _, name := range pass {
		if v, ok := lookup(name); ok {
			vars[name] = v
		}
	}
	for k, v := range e.Set {
		vars[k] = v
	}
	vars["PATH"] = strings.Join(e.Dirs(), string(os.PathListSeparator))

	out := make([]string, 0, len(vars))
	for k, v := range vars {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
