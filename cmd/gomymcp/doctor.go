package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"

	mymcp "github.com/rickchristie/mysql-mcp"
	"github.com/rickchristie/mysql-mcp/internal/meta"
)

func runDoctor() error {
	fs := flag.NewFlagSet("doctor", flag.ExitOnError)
	configPath := fs.String("config", ".gomymcp/config.json", "Path to configuration file")
	fs.Parse(os.Args[2:])

	useColor := isTTY(os.Stderr.Fd())
	return doctor(os.Stderr, useColor, *configPath)
}

func doctor(w io.Writer, useColor bool, configPath string) error {
	printBanner(w, useColor)
	fmt.Fprintf(w, "gomymcp %s\n\n", meta.Version)

	envOK := doctorValidateEnv(w, useColor)

	// Load and validate the optional config file
	config, configOK := doctorValidateConfig(w, useColor, configPath)
	if !envOK || !configOK {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Fix the issues above and run 'gomymcp doctor' again.")
		return nil
	}

	// Print agent connection snippets
	fmt.Fprintln(w)
	printAgentSnippets(w, useColor, config)
	return nil
}

// doctorValidateEnv checks the MYSQL_* environment contract, printing check
// results. Returns true if all checks passed.
func doctorValidateEnv(w io.Writer, useColor bool) bool {
	allPassed := true

	for _, name := range []string{"MYSQL_USER", "MYSQL_PASS", "MYSQL_DB"} {
		if os.Getenv(name) == "" {
			printCheck(w, useColor, false, fmt.Sprintf("%s is set (required)", name))
			allPassed = false
		} else {
			printCheck(w, useColor, true, fmt.Sprintf("%s is set", name))
		}
	}

	socket := os.Getenv("MYSQL_SOCKET")
	host := os.Getenv("MYSQL_HOST")
	portRaw := os.Getenv("MYSQL_PORT")
	switch {
	case socket != "" && (host != "" || portRaw != ""):
		printCheck(w, useColor, false, "exactly one addressing mode (MYSQL_SOCKET and MYSQL_HOST/MYSQL_PORT are both set)")
		allPassed = false
	case socket != "":
		printCheck(w, useColor, true, fmt.Sprintf("addressing mode: unix socket (%s)", socket))
	case host != "" && portRaw != "":
		if port, err := strconv.Atoi(portRaw); err != nil || port <= 0 {
			printCheck(w, useColor, false, fmt.Sprintf("MYSQL_PORT is a positive integer (got %q)", portRaw))
			allPassed = false
		} else {
			printCheck(w, useColor, true, fmt.Sprintf("addressing mode: tcp (%s:%d)", host, port))
		}
	default:
		printCheck(w, useColor, false, "either MYSQL_SOCKET or both MYSQL_HOST and MYSQL_PORT are set")
		allPassed = false
	}

	if limitRaw := os.Getenv("MYSQL_POOL_LIMIT"); limitRaw != "" {
		if limit, err := strconv.Atoi(limitRaw); err != nil || limit <= 0 {
			printCheck(w, useColor, false, fmt.Sprintf("MYSQL_POOL_LIMIT is a positive integer (got %q)", limitRaw))
			allPassed = false
		} else {
			printCheck(w, useColor, true, fmt.Sprintf("MYSQL_POOL_LIMIT is a positive integer (%d)", limit))
		}
	} else {
		printCheck(w, useColor, true, "MYSQL_POOL_LIMIT not set, default 10")
	}

	return allPassed
}

// doctorValidateConfig loads and validates the config file, printing check
// results. The config file is optional: an absent file means defaults.
// Returns the parsed config and true if all checks passed.
func doctorValidateConfig(w io.Writer, useColor bool, configPath string) (*mymcp.ServerConfig, bool) {
	allPassed := true

	// Check 1: Config file exists and is valid JSON. Absence is fine, the
	// server runs on defaults without one.
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			printCheck(w, useColor, true, fmt.Sprintf("Config file absent (%s), defaults in effect", configPath))
			return &mymcp.ServerConfig{}, allPassed
		}
		printCheck(w, useColor, false, fmt.Sprintf("Config file readable (%s)", configPath))
		allPassed = false
		return nil, allPassed
	}
	printCheck(w, useColor, true, fmt.Sprintf("Config file readable (%s)", configPath))

	var config mymcp.ServerConfig
	if err := json.Unmarshal(data, &config); err != nil {
		printCheck(w, useColor, false, fmt.Sprintf("Config file is valid JSON: %v", err))
		allPassed = false
		return nil, allPassed
	}
	printCheck(w, useColor, true, "Config file is valid JSON")

	// Check 2: server.transport is stdio, http, or unset
	transport := config.Server.Transport
	switch transport {
	case "", "stdio":
		printCheck(w, useColor, true, "server.transport is stdio")
	case "http":
		printCheck(w, useColor, true, "server.transport is http")
	default:
		printCheck(w, useColor, false, fmt.Sprintf("server.transport is stdio or http (got %q)", transport))
		allPassed = false
	}

	// Check 3: server.port > 0 when transport is http
	if transport == "http" {
		if config.Server.Port <= 0 {
			printCheck(w, useColor, false, "server.port is > 0 (required for http transport)")
			allPassed = false
		} else {
			printCheck(w, useColor, true, fmt.Sprintf("server.port is > 0 (%d)", config.Server.Port))
		}
	}

	// Check 4: Health check path set when enabled
	if config.Server.HealthCheckEnabled {
		if config.Server.HealthCheckPath == "" {
			printCheck(w, useColor, false, "health_check_path is set (required when health_check_enabled)")
			allPassed = false
		} else {
			printCheck(w, useColor, true, fmt.Sprintf("health_check_path is set (%s)", config.Server.HealthCheckPath))
		}
	}

	// Check 5: Regex patterns compile
	regexOK := true

	for i, rule := range config.ErrorPrompts {
		if _, err := regexp.Compile(rule.Pattern); err != nil {
			printCheck(w, useColor, false, fmt.Sprintf("error_prompts[%d] regex compiles: %v", i, err))
			regexOK = false
			allPassed = false
		}
	}

	for i, rule := range config.Sanitization {
		if _, err := regexp.Compile(rule.Pattern); err != nil {
			printCheck(w, useColor, false, fmt.Sprintf("sanitization[%d] regex compiles: %v", i, err))
			regexOK = false
			allPassed = false
		}
	}

	for i, rule := range config.Query.TimeoutRules {
		if _, err := regexp.Compile(rule.Pattern); err != nil {
			printCheck(w, useColor, false, fmt.Sprintf("timeout_rules[%d] regex compiles: %v", i, err))
			regexOK = false
			allPassed = false
		}
	}

	for i, hook := range config.ServerHooks.BeforeQuery {
		if _, err := regexp.Compile(hook.Pattern); err != nil {
			printCheck(w, useColor, false, fmt.Sprintf("server_hooks.before_query[%d] regex compiles: %v", i, err))
			regexOK = false
			allPassed = false
		}
	}

	for i, hook := range config.ServerHooks.AfterQuery {
		if _, err := regexp.Compile(hook.Pattern); err != nil {
			printCheck(w, useColor, false, fmt.Sprintf("server_hooks.after_query[%d] regex compiles: %v", i, err))
			regexOK = false
			allPassed = false
		}
	}

	if regexOK {
		printCheck(w, useColor, true, "All regex patterns compile")
	}

	return &config, allPassed
}

// printCheck prints a colored ✓ or ✗ check line.
func printCheck(w io.Writer, useColor bool, pass bool, msg string) {
	if pass {
		if useColor {
			fmt.Fprintf(w, "  \033[32m✓\033[0m %s\n", msg)
		} else {
			fmt.Fprintf(w, "  ✓ %s\n", msg)
		}
	} else {
		if useColor {
			fmt.Fprintf(w, "  \033[31m✗\033[0m %s\n", msg)
		} else {
			fmt.Fprintf(w, "  ✗ %s\n", msg)
		}
	}
}

// printAgentSnippets prints MCP connection config snippets for various AI
// agents. stdio configs launch the server as a subprocess; http configs
// point at the streamable HTTP endpoint.
func printAgentSnippets(w io.Writer, useColor bool, config *mymcp.ServerConfig) {
	heading := func(title string) {
		if useColor {
			fmt.Fprintf(w, "\033[1;36m%s\033[0m\n", title)
		} else {
			fmt.Fprintln(w, title)
		}
	}

	subheading := func(title string) {
		if useColor {
			fmt.Fprintf(w, "  \033[1m%s\033[0m\n", title)
		} else {
			fmt.Fprintf(w, "  %s\n", title)
		}
	}

	heading("Agent Connection Snippets")
	fmt.Fprintln(w)

	if config.Server.Transport == "http" {
		printHTTPSnippets(w, subheading, config.Server.Port)
		return
	}
	printStdioSnippets(w, subheading)
}

func printStdioSnippets(w io.Writer, subheading func(string)) {
	// Claude Code
	subheading("Claude Code")
	fmt.Fprintf(w, "  Run this command to add the server:\n\n")
	fmt.Fprintf(w, "    claude mcp add mysql -- gomymcp serve\n\n")
	fmt.Fprintf(w, "  Or add to .mcp.json (project scope):\n\n")
	fmt.Fprint(w, `  {
    "mcpServers": {
      "mysql": {
        "command": "gomymcp",
        "args": ["serve"],
        "env": {
          "MYSQL_HOST": "localhost",
          "MYSQL_PORT": "3306",
          "MYSQL_USER": "...",
          "MYSQL_PASS": "...",
          "MYSQL_DB": "..."
        }
      }
    }
  }
`)
	fmt.Fprintln(w)

	// Copilot CLI
	subheading("Copilot CLI (~/.copilot/mcp-config.json)")
	fmt.Fprint(w, `  {
    "mcpServers": {
      "mysql": {
        "type": "local",
        "command": "gomymcp",
        "args": ["serve"]
      }
    }
  }
`)
	fmt.Fprintln(w)

	// Gemini CLI
	subheading("Gemini CLI (~/.gemini/settings.json)")
	fmt.Fprint(w, `  {
    "mcpServers": {
      "mysql": {
        "command": "gomymcp",
        "args": ["serve"]
      }
    }
  }
`)
	fmt.Fprintln(w)

	// OpenCode
	subheading("OpenCode (opencode.json)")
	fmt.Fprint(w, `  {
    "mcp": {
      "mysql": {
        "type": "local",
        "command": ["gomymcp", "serve"]
      }
    }
  }
`)
	fmt.Fprintln(w)

	// Cursor
	subheading("Cursor (.cursor/mcp.json)")
	fmt.Fprint(w, `  {
    "mcpServers": {
      "mysql": {
        "command": "gomymcp",
        "args": ["serve"]
      }
    }
  }
`)
	fmt.Fprintln(w)

	// Windsurf
	subheading("Windsurf (~/.codeium/windsurf/mcp_config.json)")
	fmt.Fprint(w, `  {
    "mcpServers": {
      "mysql": {
        "command": "gomymcp",
        "args": ["serve"]
      }
    }
  }
`)
}

func printHTTPSnippets(w io.Writer, subheading func(string), port int) {
	url := fmt.Sprintf("http://localhost:%d/mcp", port)

	// Claude Code
	subheading("Claude Code")
	fmt.Fprintf(w, "  Run this command to add the server:\n\n")
	fmt.Fprintf(w, "    claude mcp add --transport http mysql %s\n\n", url)
	fmt.Fprintf(w, "  Or add to .mcp.json (project scope):\n\n")
	fmt.Fprintf(w, `  {
    "mcpServers": {
      "mysql": {
        "type": "http",
        "url": "%s"
      }
    }
  }
`, url)
	fmt.Fprintln(w)

	// Copilot CLI
	subheading("Copilot CLI (~/.copilot/mcp-config.json)")
	fmt.Fprintf(w, `  {
    "mcpServers": {
      "mysql": {
        "type": "http",
        "url": "%s"
      }
    }
  }
`, url)
	fmt.Fprintln(w)

	// Gemini CLI
	subheading("Gemini CLI (~/.gemini/settings.json)")
	fmt.Fprintf(w, `  {
    "mcpServers": {
      "mysql": {
        "httpUrl": "%s"
      }
    }
  }
`, url)
	fmt.Fprintln(w)

	// OpenCode
	subheading("OpenCode (opencode.json)")
	fmt.Fprintf(w, `  {
    "mcp": {
      "mysql": {
        "type": "remote",
        "url": "%s"
      }
    }
  }
`, url)
	fmt.Fprintln(w)

	// Cursor
	subheading("Cursor (.cursor/mcp.json)")
	fmt.Fprintf(w, `  {
    "mcpServers": {
      "mysql": {
        "url": "%s"
      }
    }
  }
`, url)
	fmt.Fprintln(w)

	// Windsurf
	subheading("Windsurf (~/.codeium/windsurf/mcp_config.json)")
	fmt.Fprintf(w, `  {
    "mcpServers": {
      "mysql": {
        "serverUrl": "%s"
      }
    }
  }
`, url)
}
