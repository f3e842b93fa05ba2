package leaf

import (
	"sort"
	"strings"
)

// knownApps maps spoken app names to the binary launched for them. Anything
// not listed is tried verbatim as a command name.
var knownApps = map[string]string{
	"browser":    "firefox",
	"firefox":    "firefox",
	"chrome":     "google-chrome",
	"chromium":   "chromium",
	"editor":     "code",
	"code":       "code",
	"terminal":   "x-terminal-emulator",
	"files":      "nautilus",
	"calculator": "gnome-calculator",
	"music":      "rhythmbox",
	"video":      "vlc",
	"vlc":        "vlc",
}

// knownSites maps spoken site names to URLs for open_url shortcuts.
var knownSites = map[string]string{
	"youtube":   "https://www.youtube.com",
	"google":    "https://www.google.com",
	"gmail":     "https://mail.google.com",
	"maps":      "https://maps.google.com",
	"github":    "https://github.com",
	"wikipedia": "https://www.wikipedia.org",
	"reddit":    "https://www.reddit.com",
	"news":      "https://news.ycombinator.com",
}

func resolveApp(name string) string {
	key := strings.ToLower(strings.TrimSpace(name))
	if bin, ok := knownApps[key]; ok {
		return bin
	}
	return key
}

func resolveURL(raw string) string {
	key := strings.ToLower(strings.TrimSpace(raw))
	if url, ok := knownSites[key]; ok {
		return url
	}
	if strings.HasPrefix(key, "http://") || strings.HasPrefix(key, "https://") {
		return strings.TrimSpace(raw)
	}
	return "https://" + key
}

func knownAppNames() []string {
	names := make([]string, 0, len(knownApps))
	for name := range knownApps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
