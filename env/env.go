package env

import (
	"log"
	"os"
	"strings"

	"github.com/agentuity/transit-live/logger"
	"github.com/spf13/cobra"
)

type EnvLine struct {
	Key string `json:"key"`
	Val string `json:"val"`
}

// ParseEnvFile parses a dotenv file. A missing file yields no lines.
func ParseEnvFile(filename string) ([]EnvLine, error) {
	buf, err := os.ReadFile(filename)
	if os.IsNotExist(err) {
		return []EnvLine{}, nil
	}
	if err != nil {
		return nil, err
	}
	return ParseEnvBuffer(buf)
}

// LoadEnvFile parses a dotenv file into a map. Later keys win.
func LoadEnvFile(filename string) (map[string]string, error) {
	lines, err := ParseEnvFile(filename)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(lines))
	for _, l := range lines {
		out[l.Key] = l.Val
	}
	return out, nil
}

func dequote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '\'' && s[len(s)-1] == '\'') || (s[0] == '"' && s[len(s)-1] == '"') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// ProcessEnvLine splits a KEY=value line. An optional "export " prefix and
// matching quotes around the value are removed.
func ProcessEnvLine(line string) EnvLine {
	line = strings.TrimPrefix(line, "export ")
	key, val, ok := strings.Cut(line, "=")
	if !ok {
		return EnvLine{Key: strings.TrimSpace(line)}
	}
	return EnvLine{Key: strings.TrimSpace(key), Val: dequote(strings.TrimSpace(val))}
}

// interpolate replaces ${NAME} and ${NAME:-default} with values from vars.
// ${env:NAME} reads the process environment. Unresolved references without a
// default are kept as written.
func interpolate(input string, vars map[string]string) string {
	if !strings.Contains(input, "${") {
		return input
	}
	var sb strings.Builder
	rest := input
	for {
		start := strings.Index(rest, "${")
		if start < 0 {
			sb.WriteString(rest)
			return sb.String()
		}
		end := strings.IndexByte(rest[start:], '}')
		if end < 0 {
			sb.WriteString(rest)
			return sb.String()
		}
		end += start
		sb.WriteString(rest[:start])
		ref := rest[start : end+1]
		name, def, _ := strings.Cut(rest[start+2:end], ":-")

		var val string
		if envName, ok := strings.CutPrefix(name, "env:"); ok {
			val = os.Getenv(envName)
		} else {
			val = vars[name]
		}
		switch {
		case name == "":
			sb.WriteString(ref)
		case val != "":
			sb.WriteString(val)
		case def != "":
			sb.WriteString(def)
		default:
			sb.WriteString(ref)
		}
		rest = rest[end+1:]
	}
}

// ParseEnvBuffer parses dotenv content. Blank lines and # comments are
// skipped and values may reference keys defined anywhere in the buffer.
func ParseEnvBuffer(buf []byte) ([]EnvLine, error) {
	envs := make([]EnvLine, 0)
	vars := make(map[string]string)
	for _, line := range strings.Split(string(buf), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		el := ProcessEnvLine(line)
		if el.Key == "" {
			continue
		}
		el.Val = interpolate(el.Val, vars)
		vars[el.Key] = el.Val
		envs = append(envs, el)
	}
	// forward references
	for i := range envs {
		envs[i].Val = interpolate(envs[i].Val, vars)
	}
	return envs, nil
}

// FlagOrEnv returns the flag value when set, else the environment value,
// else defaultValue.
func FlagOrEnv(cmd *cobra.Command, flagName string, envName string, defaultValue string) string {
	if flagValue, _ := cmd.Flags().GetString(flagName); flagValue != "" {
		return flagValue
	}
	if val, ok := os.LookupEnv(envName); ok {
		return val
	}
	return defaultValue
}

// LogLevel reads --log-level, then TRANSIT_LOG_LEVEL, defaulting to info.
func LogLevel(cmd *cobra.Command) logger.LogLevel {
	return logger.ParseLevel(FlagOrEnv(cmd, "log-level", logger.EnvLogLevel, "info"))
}

// NewLogger returns a logger honoring --log-level and --log-format
// (TRANSIT_LOG_FORMAT), console by default.
func NewLogger(cmd *cobra.Command) logger.Logger {
	log.SetFlags(0)
	format := FlagOrEnv(cmd, "log-format", "TRANSIT_LOG_FORMAT", "console")
	return logger.New(format, LogLevel(cmd))
}
