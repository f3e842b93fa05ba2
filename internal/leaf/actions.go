package leaf

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/voicebridge/bridged/internal/action"
	"github.com/voicebridge/bridged/internal/model"
	"github.com/voicebridge/bridged/internal/security"
)

// RegisterActions wires every host-side action into the registry.
func (e *Executor) RegisterActions(r *action.Registry) {
	r.Register("open_app", e.OpenApp)
	r.Register("close_app", e.CloseApp)
	r.Register("list_apps", e.ListApps)
	r.Register("shell_execute", e.ShellExecute)
	r.Register("open_url", e.OpenURL)
	r.Alias("open_website", "open_url")
	r.Register("notification", e.Notification)
	r.Register("speak", e.Speak)
	r.Register("media_control", e.MediaControl)
	r.Register("volume_control", e.VolumeControl)
	r.Register("screenshot", e.Screenshot)
	r.Register("clipboard", e.Clipboard)
	r.Register("power_control", e.PowerControl)
	r.Alias("lock", "power_control")
	r.Register("wifi", e.Wifi)
	r.Register("kill_process", e.KillProcess)
	r.Register("download_file", e.DownloadFile)
	r.Register("git_status", e.GitStatus)
	r.Register("git_pull", e.GitPull)
}

// OpenApp launches an application by spoken name or binary name.
func (e *Executor) OpenApp(ctx context.Context, inv action.Invocation) model.Result {
	if inv.Target == "" {
		return model.Errorf("open_app needs an application name")
	}
	bin := resolveApp(inv.Target)
	if _, err := e.run(ctx, "sh", "-c", fmt.Sprintf("nohup %s >/dev/null 2>&1 &", bin)); err != nil {
		return model.Errorf(fmt.Sprintf("Failed to open %s: %v", inv.Target, err))
	}
	e.record(ctx, "open_app", map[string]string{"app": bin}, true, &model.Command{
		Action: "close_app",
		Target: inv.Target,
	})
	return model.Success(fmt.Sprintf("Opened %s", inv.Target)).With("binary", bin)
}

// CloseApp terminates an application's processes by name.
func (e *Executor) CloseApp(ctx context.Context, inv action.Invocation) model.Result {
	if inv.Target == "" {
		return model.Errorf("close_app needs an application name")
	}
	bin := resolveApp(inv.Target)
	if out, err := e.run(ctx, "pkill", "-f", bin); err != nil {
		return model.Warning(fmt.Sprintf("No running process matched %s", inv.Target)).
			With("output", strings.TrimSpace(out))
	}
	e.record(ctx, "close_app", map[string]string{"app": bin}, true, &model.Command{
		Action: "open_app",
		Target: inv.Target,
	})
	return model.Success(fmt.Sprintf("Closed %s", inv.Target))
}

// ListApps reports the spoken names the launcher understands.
func (e *Executor) ListApps(ctx context.Context, _ action.Invocation) model.Result {
	names := knownAppNames()
	return model.Success(fmt.Sprintf("%d known applications", len(names))).With("apps", names)
}

// ShellExecute runs an arbitrary shell line. Output lands in the history
// ledger redacted; it routinely carries secrets.
func (e *Executor) ShellExecute(ctx context.Context, inv action.Invocation) model.Result {
	line := inv.Payload
	if line == "" {
		line = inv.Target
	}
	if strings.TrimSpace(line) == "" {
		return model.Errorf("shell_execute needs a command")
	}
	out, elapsed, err := e.runShell(ctx, line)
	out = strings.TrimSpace(out)
	e.record(ctx, "shell_execute", map[string]string{
		"command": security.RedactPayload(line),
		"output":  security.RedactPayload(truncate(out, 1000)),
	}, false, nil)
	if err != nil {
		return model.Errorf(fmt.Sprintf("Command failed: %v", err)).With("output", out)
	}
	return model.Success(fmt.Sprintf("Command finished in %s", elapsed.Round(time.Millisecond))).With("output", out)
}

// OpenURL opens a URL or a known site shortcut in the default browser.
func (e *Executor) OpenURL(ctx context.Context, inv action.Invocation) model.Result {
	if inv.Target == "" {
		return model.Errorf("open_url needs a site name or URL")
	}
	url := resolveURL(inv.Target)
	if _, err := e.run(ctx, "xdg-open", url); err != nil {
		return model.Errorf(fmt.Sprintf("Failed to open %s: %v", url, err))
	}
	e.record(ctx, "open_url", map[string]string{"url": url}, false, nil)
	return model.Success(fmt.Sprintf("Opened %s", url)).With("url", url)
}

// Notification shows a desktop notification. Target is the title, payload
// the body.
func (e *Executor) Notification(ctx context.Context, inv action.Invocation) model.Result {
	title := inv.Target
	if title == "" {
		title = "Bridge"
	}
	if _, err := e.run(ctx, "notify-send", title, inv.Payload); err != nil {
		return model.Errorf(fmt.Sprintf("Failed to notify: %v", err))
	}
	return model.Success("Notification sent")
}

// Speak reads text aloud via the speech dispatcher.
func (e *Executor) Speak(ctx context.Context, inv action.Invocation) model.Result {
	text := inv.Payload
	if text == "" {
		text = inv.Target
	}
	if text == "" {
		return model.Errorf("speak needs text")
	}
	if _, err := e.run(ctx, "spd-say", text); err != nil {
		return model.Errorf(fmt.Sprintf("Failed to speak: %v", err))
	}
	return model.Success("Speaking")
}

// MediaControl drives the active media player: play, pause, next, previous,
// stop.
func (e *Executor) MediaControl(ctx context.Context, inv action.Invocation) model.Result {
	op := strings.ToLower(strings.TrimSpace(inv.Target))
	switch op {
	case "play", "pause", "play-pause", "next", "previous", "stop":
	case "":
		return model.Errorf("media_control needs an operation: play, pause, next, previous, stop")
	default:
		return model.Errorf(fmt.Sprintf("Unknown media operation: %s", op))
	}
	if op == "play" || op == "pause" {
		op = "play-pause"
	}
	if out, err := e.run(ctx, "playerctl", op); err != nil {
		return model.Errorf(fmt.Sprintf("Media control failed: %v", err)).With("output", strings.TrimSpace(out))
	}
	return model.Success(fmt.Sprintf("Media: %s", inv.Target))
}

// VolumeControl sets, nudges, or mutes the default sink. Target is one of
// up, down, mute, unmute, set; payload is the percentage for set.
func (e *Executor) VolumeControl(ctx context.Context, inv action.Invocation) model.Result {
	op := strings.ToLower(strings.TrimSpace(inv.Target))
	var args []string
	switch op {
	case "up":
		args = []string{"set-sink-volume", "@DEFAULT_SINK@", "+10%"}
	case "down":
		args = []string{"set-sink-volume", "@DEFAULT_SINK@", "-10%"}
	case "mute":
		args = []string{"set-sink-mute", "@DEFAULT_SINK@", "1"}
	case "unmute":
		args = []string{"set-sink-mute", "@DEFAULT_SINK@", "0"}
	case "set":
		pct, err := strconv.Atoi(strings.TrimSuffix(strings.TrimSpace(inv.Payload), "%"))
		if err != nil || pct < 0 || pct > 100 {
			return model.Errorf("volume set needs a percentage between 0 and 100")
		}
		args = []string{"set-sink-volume", "@DEFAULT_SINK@", fmt.Sprintf("%d%%", pct)}
	default:
		return model.Errorf("volume_control needs an operation: up, down, mute, unmute, set")
	}
	if out, err := e.run(ctx, "pactl", args...); err != nil {
		return model.Errorf(fmt.Sprintf("Volume control failed: %v", err)).With("output", strings.TrimSpace(out))
	}
	if op == "mute" {
		e.record(ctx, "volume_control", map[string]string{"op": op}, true, &model.Command{
			Action: "volume_control",
			Target: "unmute",
		})
	}
	return model.Success(fmt.Sprintf("Volume: %s", op))
}

// Screenshot captures the full screen into the target path, defaulting to a
// timestamped file in the home directory.
func (e *Executor) Screenshot(ctx context.Context, inv action.Invocation) model.Result {
	path := strings.TrimSpace(inv.Target)
	if path == "" {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, fmt.Sprintf("screenshot-%s.png", time.Now().Format("20060102-150405")))
	}
	if out, err := e.run(ctx, "sh", "-c", fmt.Sprintf("import -window root %q", path)); err != nil {
		return model.Errorf(fmt.Sprintf("Screenshot failed: %v", err)).With("output", strings.TrimSpace(out))
	}
	e.record(ctx, "screenshot", map[string]string{"path": path}, false, nil)
	return model.Success(fmt.Sprintf("Screenshot saved to %s", path)).With("path", path)
}

// Clipboard reads or writes the X selection. Target is get or set; payload is
// the text for set.
func (e *Executor) Clipboard(ctx context.Context, inv action.Invocation) model.Result {
	switch strings.ToLower(strings.TrimSpace(inv.Target)) {
	case "get":
		out, err := e.run(ctx, "xclip", "-selection", "clipboard", "-o")
		if err != nil {
			return model.Errorf(fmt.Sprintf("Clipboard read failed: %v", err))
		}
		return model.Success("Clipboard contents").With("text", out)
	case "set":
		if _, err := e.run(ctx, "sh", "-c", fmt.Sprintf("printf %%s %q | xclip -selection clipboard", inv.Payload)); err != nil {
			return model.Errorf(fmt.Sprintf("Clipboard write failed: %v", err))
		}
		return model.Success("Clipboard set")
	default:
		return model.Errorf("clipboard needs an operation: get, set")
	}
}

// PowerControl handles lock, sleep, shutdown, restart, logoff, and
// cancel_shutdown. Shutdown and restart go through a delay so
// cancel_shutdown can still catch them.
func (e *Executor) PowerControl(ctx context.Context, inv action.Invocation) model.Result {
	op := strings.ToLower(strings.TrimSpace(inv.Target))
	if op == "" {
		op = "lock"
	}
	var (
		name string
		args []string
	)
	switch op {
	case "lock":
		name, args = "loginctl", []string{"lock-session"}
	case "sleep", "suspend":
		name, args = "systemctl", []string{"suspend"}
	case "shutdown":
		name, args = "shutdown", []string{"-h", "+1"}
	case "restart":
		name, args = "shutdown", []string{"-r", "+1"}
	case "logoff", "logout":
		name, args = "sh", []string{"-c", `loginctl terminate-user "$USER"`}
	case "cancel_shutdown", "cancel":
		name, args = "shutdown", []string{"-c"}
	default:
		return model.Errorf(fmt.Sprintf("Unknown power operation: %s", op))
	}
	e.log.WithFields(logrus.Fields{"op": op}).Warn("power control requested")
	if out, err := e.run(ctx, name, args...); err != nil {
		return model.Errorf(fmt.Sprintf("Power control failed: %v", err)).With("output", strings.TrimSpace(out))
	}
	if op == "shutdown" || op == "restart" {
		e.record(ctx, "power_control", map[string]string{"op": op}, true, &model.Command{
			Action: "power_control",
			Target: "cancel_shutdown",
		})
		return model.Success(fmt.Sprintf("Scheduled %s in 1 minute, send cancel_shutdown to abort", op))
	}
	e.record(ctx, "power_control", map[string]string{"op": op}, false, nil)
	return model.Success(fmt.Sprintf("Power: %s", op))
}

// Wifi toggles the radio. Target is on or off.
func (e *Executor) Wifi(ctx context.Context, inv action.Invocation) model.Result {
	op := strings.ToLower(strings.TrimSpace(inv.Target))
	if op != "on" && op != "off" {
		return model.Errorf("wifi needs an operation: on, off")
	}
	if out, err := e.run(ctx, "nmcli", "radio", "wifi", op); err != nil {
		return model.Errorf(fmt.Sprintf("Wifi control failed: %v", err)).With("output", strings.TrimSpace(out))
	}
	inverse := "on"
	if op == "on" {
		inverse = "off"
	}
	e.record(ctx, "wifi", map[string]string{"op": op}, true, &model.Command{
		Action: "wifi",
		Target: inverse,
	})
	return model.Success(fmt.Sprintf("Wifi %s", op))
}

// KillProcess terminates processes matching the target name.
func (e *Executor) KillProcess(ctx context.Context, inv action.Invocation) model.Result {
	name := strings.TrimSpace(inv.Target)
	if name == "" {
		return model.Errorf("kill_process needs a process name")
	}
	if out, err := e.run(ctx, "pkill", "-f", name); err != nil {
		return model.Warning(fmt.Sprintf("No process matched %s", name)).With("output", strings.TrimSpace(out))
	}
	e.record(ctx, "kill_process", map[string]string{"process": name}, false, nil)
	return model.Success(fmt.Sprintf("Killed processes matching %s", name))
}

// DownloadFile fetches a URL into the payload path.
func (e *Executor) DownloadFile(ctx context.Context, inv action.Invocation) model.Result {
	url := strings.TrimSpace(inv.Target)
	if url == "" {
		return model.Errorf("download_file needs a URL")
	}
	dest := strings.TrimSpace(inv.Payload)
	if dest == "" {
		dest = filepath.Base(url)
	}
	out, _, err := e.runShell(ctx, fmt.Sprintf("curl -fsSL -o %q %q", dest, url))
	if err != nil {
		return model.Errorf(fmt.Sprintf("Download failed: %v", err)).With("output", strings.TrimSpace(out))
	}
	e.record(ctx, "download_file", map[string]string{"url": url, "dest": dest}, false, nil)
	return model.Success(fmt.Sprintf("Downloaded %s to %s", url, dest)).With("path", dest)
}

// GitStatus reports the short status of the repository at the target path.
func (e *Executor) GitStatus(ctx context.Context, inv action.Invocation) model.Result {
	dir := strings.TrimSpace(inv.Target)
	if dir == "" {
		dir = "."
	}
	out, err := e.run(ctx, "git", "-C", dir, "status", "--short", "--branch")
	if err != nil {
		return model.Errorf(fmt.Sprintf("git status failed: %v", err)).With("output", strings.TrimSpace(out))
	}
	return model.Success(fmt.Sprintf("Status of %s", dir)).With("output", strings.TrimSpace(out))
}

// GitPull fast-forwards the repository at the target path.
func (e *Executor) GitPull(ctx context.Context, inv action.Invocation) model.Result {
	dir := strings.TrimSpace(inv.Target)
	if dir == "" {
		dir = "."
	}
	out, err := e.run(ctx, "git", "-C", dir, "pull", "--ff-only")
	if err != nil {
		return model.Errorf(fmt.Sprintf("git pull failed: %v", err)).With("output", strings.TrimSpace(out))
	}
	e.record(ctx, "git_pull", map[string]string{"dir": dir}, false, nil)
	return model.Success(fmt.Sprintf("Pulled %s", dir)).With("output", strings.TrimSpace(out))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
