// Package flagx lets several packages parse their own flags from one
// command line without tripping over each other's flags.
package flagx

import (
	"flag"
	"os"
	"strings"
)

// ConfigFileFlags name the JSON config file.
var ConfigFileFlags = []string{"-c", "-config"}

// ConfigFileEnv names the JSON config file when no flag does.
const ConfigFileEnv = "ZKDROP_CONFIG"

// FilterArgs keeps only the listed flags and their values.
//
// Values are recognized in two forms: "-c conf.json" and "-c=conf.json".
// A token starting with "-" is never taken as a value.
func FilterArgs(args []string, allowedFlags []string) []string {
	matched, _ := partition(args, allowedFlags)
	return matched
}

// StripArgs is the complement of FilterArgs: it drops the listed flags and
// their values and keeps everything else in order.
func StripArgs(args []string, flags []string) []string {
	_, rest := partition(args, flags)
	return rest
}

func partition(args []string, flags []string) (matched, rest []string) {
	known := make(map[string]struct{}, len(flags))
	for _, f := range flags {
		known[f] = struct{}{}
	}

	matched = make([]string, 0, len(args))
	rest = make([]string, 0, len(args))

	for i := 0; i < len(args); i++ {
		arg := args[i]

		name := arg
		if strings.HasPrefix(arg, "-") {
			name, _, _ = strings.Cut(arg, "=")
		}
		if _, ok := known[name]; !ok {
			rest = append(rest, arg)
			continue
		}

		matched = append(matched, arg)
		if name != arg {
			continue
		}
		if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			matched = append(matched, args[i+1])
			i++
		}
	}
	return matched, rest
}

// JsonConfigFlags returns the config file named by -c or -config, falling
// back to the ZKDROP_CONFIG environment variable. It returns "" when
// neither is set.
func JsonConfigFlags() string {
	var config string

	args := FilterArgs(os.Args[1:], ConfigFileFlags)

	fs := flag.NewFlagSet("json", flag.ContinueOnError)
	fs.StringVar(&config, "config", "", "Path to config file")
	fs.StringVar(&config, "c", "", "Path to config file (short)")
	_ = fs.Parse(args)

	if config == "" {
		config = os.Getenv(ConfigFileEnv)
	}
	return config
}
