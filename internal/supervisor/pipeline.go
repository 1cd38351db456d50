package supervisor

import (
	"fmt"
	"os"
	"strings"

	"github.com/argus-sec/toolgate/internal/toolspec"
)

func envPath() string {
	if p := os.Getenv("PATH"); p != "" {
		return p
	}
	return "/usr/bin:/usr/local/bin:/bin"
}

// extractMode pulls the first non-flag token as the mode (for
// descriptors that declare allowedModes) and returns the remaining
// tokens. A second non-flag, non-value token before any flag is an
// error.
func extractMode(desc toolspec.ToolDescriptor, tokens []string) (string, []string, error) {
	var mode string
	var rest []string
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		if strings.HasPrefix(tok, "-") {
			rest = append(rest, tokens[i:]...)
			break
		}
		if mode == "" {
			if !desc.IsAllowedMode(tok) {
				return "", nil, fmt.Errorf("mode %q is not one of the allowed modes for %q", tok, desc.Name)
			}
			mode = tok
			continue
		}
		return "", nil, fmt.Errorf("unexpected second positional token %q after mode %q", tok, mode)
	}
	if mode == "" {
		return "", nil, fmt.Errorf("missing required mode for %q (one of %v)", desc.Name, desc.AllowedModes)
	}
	return mode, rest, nil
}

// filterAllowedTokens enforces the flag allow-list. A flag token
// (optionally carrying "=value") must exactly match an allowed flag;
// a bare value token is accepted only when it immediately follows an
// allowed value-taking flag that did not carry "=value" itself.
func filterAllowedTokens(desc toolspec.ToolDescriptor, tokens []string) ([]string, error) {
	out := make([]string, 0, len(tokens))
	expectingValueFor := ""
	for _, tok := range tokens {
		if expectingValueFor != "" {
			out = append(out, tok)
			expectingValueFor = ""
			continue
		}
		if !strings.HasPrefix(tok, "-") {
			return nil, fmt.Errorf("unexpected bare token %q (not a recognized flag value)", tok)
		}
		flag := tok
		hasInlineValue := false
		if idx := strings.Index(tok, "="); idx >= 0 {
			flag = tok[:idx]
			hasInlineValue = true
		}
		if !desc.IsAllowedFlag(flag) {
			return nil, fmt.Errorf("flag %q is not allowed for %q", flag, desc.Name)
		}
		out = append(out, tok)
		if !hasInlineValue {
			expectingValueFor = flag
		}
	}
	if expectingValueFor != "" {
		return nil, fmt.Errorf("flag %q expects a value", expectingValueFor)
	}
	return out, nil
}

// flagPresent reports whether any token in tokens sets flag (either
// as "-x" followed by a value, or "-x=value").
func flagPresent(tokens []string, flag string) bool {
	for _, tok := range tokens {
		if tok == flag {
			return true
		}
		if strings.HasPrefix(tok, flag+"=") {
			return true
		}
	}
	return false
}

// anyFlagPresent reports whether any of flags appears in tokens.
func anyFlagPresent(tokens []string, flags ...string) bool {
	for _, f := range flags {
		if flagPresent(tokens, f) {
			return true
		}
	}
	return false
}

// injectDefaults appends optimizerDefaults tokens whose governing flag
// is absent from the user-supplied tokens, and mode-specific thread
// defaults for descriptors that declare them. Injected tokens are
// re-validated against the allow-list (self-consistency check).
func injectDefaults(desc toolspec.ToolDescriptor, mode string, tokens []string) ([]string, error) {
	out := append([]string{}, tokens...)

	for _, def := range desc.OptimizerDefaults {
		flag := def
		if idx := strings.Index(def, "="); idx >= 0 {
			flag = def[:idx]
		}

		if desc.Name == "nmap" {
			switch {
			case strings.HasPrefix(flag, "-T"):
				if hasTimingFlag(out) {
					continue
				}
			case flag == "--max-parallelism":
				if flagPresent(out, flag) {
					continue
				}
			case flag == "-Pn":
				if anyFlagPresent(out, "-Pn", "-sn") {
					continue
				}
			default:
				if flagPresent(out, flag) {
					continue
				}
			}
		} else if flagPresent(out, flag) {
			continue
		}

		if !desc.IsAllowedFlag(flag) {
			return nil, fmt.Errorf("internal error: optimizer default flag %q is not itself allow-listed for %q", flag, desc.Name)
		}
		out = append(out, def)
	}

	if thread, ok := desc.ModeThreadDefaults[mode]; ok && !anyFlagPresent(out, "-t", "--threads") {
		out = append(out, "-t", thread)
	}

	return out, nil
}

func hasTimingFlag(tokens []string) bool {
	for _, tok := range tokens {
		if len(tok) == 3 && strings.HasPrefix(tok, "-T") {
			return true
		}
	}
	return false
}

// placeTarget inserts the target argument:
// mode-specific tools get "-u <target>" (dir/vhost) or "-d <target>"
// (dns) inserted if not already supplied; everything else appends the
// target as the final positional argument.
func placeTarget(desc toolspec.ToolDescriptor, mode, rawTarget string, tokens []string) []string {
	out := append([]string{}, tokens...)

	switch mode {
	case "dir", "vhost":
		if !anyFlagPresent(out, "-u", "--url") {
			out = append(out, "-u", rawTarget)
		}
		return out
	case "dns":
		if !anyFlagPresent(out, "-d", "--domain") {
			out = append(out, "-d", rawTarget)
		}
		return out
	}

	if desc.URLMode {
		if !anyFlagPresent(out, "-u", "--url") {
			out = append(out, "-u", rawTarget)
		}
		return out
	}

	out = append(out, rawTarget)
	return out
}
