package toolspec

// Catalog returns the fixed set of tool descriptors the gateway
// exposes. Adding a new tool requires only a new entry here — the
// registry, supervisor, breaker, and metrics layers handle the rest.
func Catalog() []ToolDescriptor {
	return []ToolDescriptor{
		{
			Name:    "nmap",
			Command: "nmap",
			AllowedFlags: []string{
				"-sV", "-sC", "-sS", "-sU", "-sn", "-Pn", "-A", "-O",
				"-p", "--top-ports", "-T0", "-T1", "-T2", "-T3", "-T4", "-T5",
				"--max-parallelism", "--max-retries", "--host-timeout",
				"-oX", "-oN", "-oG", "-v", "-vv",
			},
			ConcurrencyLimit:      2,
			DefaultTimeoutSeconds: 300,
			CircuitBreaker:        DefaultCircuitBreakerConfig(),
			// Timing profile, parallelism ceiling, and host-discovery
			// default, injected only when the user omitted the
			// governing flag).
			OptimizerDefaults: []string{"-T4", "--max-parallelism=10", "-Pn"},
			NetworkMapper:     true,
		},
		{
			Name:    "masscan",
			Command: "masscan",
			AllowedFlags: []string{
				"-p", "--rate", "--banners", "--open", "-oX", "-oJ",
				"--router-ip", "--interface", "-e", "--ping",
			},
			ConcurrencyLimit:      2,
			DefaultTimeoutSeconds: 300,
			CircuitBreaker:        DefaultCircuitBreakerConfig(),
			OptimizerDefaults:     []string{"--rate=1000"},
		},
		{
			Name:    "gobuster",
			Command: "gobuster",
			AllowedFlags: []string{
				"-w", "--wordlist", "-u", "--url", "-d", "--domain",
				"-t", "--threads", "-x", "--extensions", "-s", "--status-codes",
				"-k", "--no-tls-validation", "-q", "--quiet", "-o", "--output",
			},
			AllowedModes:          []string{"dir", "dns", "vhost"},
			ConcurrencyLimit:      2,
			DefaultTimeoutSeconds: 300,
			CircuitBreaker:        DefaultCircuitBreakerConfig(),
			// Per-mode thread defaults (open question resolution, see
			// DESIGN.md): dir=50, dns=100, vhost=30.
			ModeThreadDefaults: map[string]string{
				"dir":   "50",
				"dns":   "100",
				"vhost": "30",
			},
		},
		{
			Name:    "hydra",
			Command: "hydra",
			AllowedFlags: []string{
				"-l", "-L", "-p", "-P", "-t", "-T", "-s", "-f", "-F",
				"-V", "-o", "-e",
			},
			ConcurrencyLimit:      1,
			DefaultTimeoutSeconds: 300,
			CircuitBreaker:        DefaultCircuitBreakerConfig(),
		},
		{
			Name:    "sqlmap",
			Command: "sqlmap",
			AllowedFlags: []string{
				"-u", "--url", "--batch", "--level", "--risk", "--dbs",
				"--tables", "--dump", "--threads", "--technique", "--crawl",
				"--forms", "-o",
			},
			ConcurrencyLimit:      2,
			DefaultTimeoutSeconds: 300,
			CircuitBreaker:        DefaultCircuitBreakerConfig(),
			URLMode:               true,
		},
	}
}
