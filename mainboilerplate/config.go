package mainboilerplate

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jessevdk/go-flags"
)

// Version and BuildDate are populated at link time
// (eg, -ldflags "-X .../mainboilerplate.Version=v1.2.3").
var (
	Version   = "development"
	BuildDate = "unknown"
)

// ConfigDirEnv names an environment variable of an additional directory
// which is searched for INI configuration.
const ConfigDirEnv = "LOGTOOL_CONFIG_ROOT"

// MustParseConfig requires that the Parser parse from the combination of an
// optional INI file, configured environment bindings, and explicit flags.
// An INI file matching |configName| is searched for in:
//  * The current working directory.
//  * ~/.config/logtool (under the users's $HOME or %UserProfile% directory).
//  * $LOGTOOL_CONFIG_ROOT
// The first file found is used.
func MustParseConfig(parser *flags.Parser, configName string) {
	var dirs = []string{
		".",
		filepath.Join(os.Getenv("HOME"), ".config", "logtool"),
		filepath.Join(os.Getenv("UserProfile"), ".config", "logtool"),
	}
	if d := os.Getenv(ConfigDirEnv); d != "" {
		dirs = append(dirs, d)
	}

	if _, err := parseIniFile(parser, configName, dirs); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	MustParseArgs(parser)
}

// parseIniFile parses the first |configName| found within |dirs| into the
// Parser, returning its path. An empty path is returned if none was found.
// Unknown INI options are ignored.
func parseIniFile(parser *flags.Parser, configName string, dirs []string) (string, error) {
	var origOptions = parser.Options
	parser.Options |= flags.IgnoreUnknown
	defer func() { parser.Options = origOptions }()

	var iniParser = flags.NewIniParser(parser)

	for _, dir := range dirs {
		var path = filepath.Join(dir, configName)

		if err := iniParser.ParseFile(path); err == nil {
			return path, nil
		} else if !os.IsNotExist(err) {
			return "", err
		}
	}
	return "", nil
}

// MustParseArgs requires that Parser be able to ParseArgs without error.
func MustParseArgs(parser *flags.Parser) {
	var _, err = parser.ParseArgs(os.Args[1:])
	if err == nil {
		return
	}
	var flagErr, ok = err.(*flags.Error)
	if !ok {
		Must(err, "fatal error")
	}

	switch flagErr.Type {
	case flags.ErrDuplicatedFlag, flags.ErrTag, flags.ErrInvalidTag, flags.ErrShortNameTooLong, flags.ErrMarshal:
		// The configuration struct itself is malformed.
		panic(err)

	case flags.ErrCommandRequired:
		os.Stderr.WriteString("\n")
		writeUsage(parser)

	case flags.ErrHelp:
		if parser.Options&flags.PrintErrors == 0 {
			writeUsage(parser)
		}
	}
	// Remaining errors are of input, and go-flags has already printed them.
	os.Exit(1)
}

func writeUsage(parser *flags.Parser) {
	parser.WriteHelp(os.Stderr)
	fmt.Fprintf(os.Stderr, "\nVersion %s, built at %s.\n", Version, BuildDate)
}

// AddPrintConfigCmd to the Parser. The "print-config" command exports all
// runtime configuration in INI format, so users can check what their
// combination of INI file, environment, and flags amounts to.
func AddPrintConfigCmd(parser *flags.Parser, configName string) {
	_, _ = parser.AddCommand("print-config", "Print combined configuration and exit", `
print-config parses the combined configuration from `+configName+`, flags,
and environment variables, and then writes the configuration to stdout in INI format.
`, &printConfig{parser})
}

type printConfig struct {
	*flags.Parser `no-flag:"t"`
}

func (p printConfig) Execute([]string) error {
	flags.NewIniParser(p.Parser).Write(os.Stdout,
		flags.IniIncludeComments|flags.IniCommentDefaults|flags.IniIncludeDefaults)
	return nil
}
