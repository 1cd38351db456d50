package toolspec

import "testing"

func TestCatalogEntriesAreWellFormed(t *testing.T) {
	seen := map[string]bool{}
	for _, d := range Catalog() {
		if d.Name == "" || d.Command == "" {
			t.Fatalf("descriptor %+v has an empty Name or Command", d)
		}
		if seen[d.Name] {
			t.Fatalf("duplicate catalog entry for %q", d.Name)
		}
		seen[d.Name] = true
		if d.ConcurrencyLimit <= 0 {
			t.Fatalf("%s: ConcurrencyLimit must be positive, got %d", d.Name, d.ConcurrencyLimit)
		}
		if d.DefaultTimeoutSeconds <= 0 {
			t.Fatalf("%s: DefaultTimeoutSeconds must be positive, got %f", d.Name, d.DefaultTimeoutSeconds)
		}
		if d.CircuitBreaker.FailureThreshold <= 0 {
			t.Fatalf("%s: CircuitBreaker must be configured", d.Name)
		}
		for _, mode := range d.AllowedModes {
			if !d.IsAllowedMode(mode) {
				t.Fatalf("%s: AllowedModes %q should be recognized by IsAllowedMode", d.Name, mode)
			}
		}
		for flag, thread := range d.ModeThreadDefaults {
			if !d.IsAllowedMode(flag) {
				t.Fatalf("%s: ModeThreadDefaults key %q is not a declared mode", d.Name, flag)
			}
			if thread == "" {
				t.Fatalf("%s: ModeThreadDefaults for %q must not be empty", d.Name, flag)
			}
		}
	}
}

func TestCatalogIncludesAllFiveTools(t *testing.T) {
	want := []string{"nmap", "masscan", "gobuster", "hydra", "sqlmap"}
	got := map[string]bool{}
	for _, d := range Catalog() {
		got[d.Name] = true
	}
	for _, name := range want {
		if !got[name] {
			t.Fatalf("catalog is missing %q", name)
		}
	}
}

func TestNetworkMapperCapOnlyOnNmap(t *testing.T) {
	for _, d := range Catalog() {
		if d.Name == "nmap" && !d.NetworkMapper {
			t.Fatal("nmap must be flagged NetworkMapper for the 1024-host CIDR cap")
		}
		if d.Name != "nmap" && d.NetworkMapper {
			t.Fatalf("%s should not carry the network-mapper host cap", d.Name)
		}
	}
}

func TestURLModeToolsRequireScheme(t *testing.T) {
	for _, d := range Catalog() {
		switch d.Name {
		case "sqlmap":
			if !d.URLMode {
				t.Fatal("sqlmap is a URL-mode tool")
			}
		default:
			if d.URLMode && len(d.AllowedModes) == 0 {
				t.Fatalf("%s: URLMode without AllowedModes is unexpected in this catalog", d.Name)
			}
		}
	}
}

// gobuster never sets URLMode itself: its dir/vhost modes require an
// http(s) URL target, but that requirement is mode-scoped (enforced by
// the supervisor, not the descriptor), while dns takes a bare hostname.
func TestGobusterURLRequirementIsModeScopedNotDescriptorLevel(t *testing.T) {
	for _, d := range Catalog() {
		if d.Name != "gobuster" {
			continue
		}
		if d.URLMode {
			t.Fatal("gobuster must not set URLMode; its URL requirement is per-mode (dir, vhost), not global")
		}
		for _, mode := range []string{"dir", "dns", "vhost"} {
			if !d.IsAllowedMode(mode) {
				t.Fatalf("gobuster is missing expected mode %q", mode)
			}
		}
	}
}
