package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/tis24dev/cpanelsave/internal/types"
	"github.com/tis24dev/cpanelsave/internal/version"
)

const defaultConfigPath = "/etc/cpanelsave/cpanelsave.env"

// ErrUsage is returned when the command line cannot be parsed.
var ErrUsage = errors.New("invalid usage")

// Args holds the parsed command-line arguments
type Args struct {
	Host   string
	OutDir string

	User          string
	Password      string
	HTTPS         bool
	BackupTimeout int // seconds
	PollInterval  int // seconds
	CPanelSkin    string
	CPanelPort    int
	FTPPort       int
	NoVerify      bool
	NoDelete      bool

	ConfigPath  string
	LogLevel    types.LogLevel
	ShowVersion bool
	ShowHelp    bool

	set map[string]bool
	fs  *flag.FlagSet
}

// IsSet reports whether the named flag appeared on the command line.
func (a *Args) IsSet(name string) bool {
	return a != nil && a.set[name]
}

// Parse parses argv (without the program name).
func Parse(prog string, argv []string, stderr io.Writer) (*Args, error) {
	args := &Args{set: make(map[string]bool)}

	fs := flag.NewFlagSet(prog, flag.ContinueOnError)
	fs.SetOutput(stderr)
	args.fs = fs

	fs.StringVar(&args.User, "user", "", "Username for cPanel and FTP login")
	fs.StringVar(&args.Password, "password", "", "Password for cPanel and FTP login (prompted when omitted on a terminal)")
	fs.BoolVar(&args.HTTPS, "https", false, "Connect to cPanel using HTTPS (default HTTP)")
	fs.IntVar(&args.BackupTimeout, "backuptimeout", 300, "Seconds to wait for the backup to complete on the server")
	fs.IntVar(&args.PollInterval, "pollinterval", 15, "Seconds between checks while waiting for the backup")
	fs.StringVar(&args.CPanelSkin, "cpanelskin", "paper_lantern", "cPanel skin of your cPanel instance")
	fs.IntVar(&args.CPanelPort, "cpanelport", 0, "cPanel port (default 2082 for HTTP, 2083 for HTTPS)")
	fs.IntVar(&args.FTPPort, "ftpport", 21, "FTP control port")
	fs.BoolVar(&args.NoVerify, "noverify", false, "Skip verification of the downloaded backup")
	fs.BoolVar(&args.NoDelete, "nodelete", false, "Keep the backup on the remote server")

	fs.StringVar(&args.ConfigPath, "config", defaultConfigPath, "Path to configuration file (optional)")
	fs.StringVar(&args.ConfigPath, "c", defaultConfigPath, "Path to configuration file (shorthand)")
	var logLevelStr string
	fs.StringVar(&logLevelStr, "log-level", "", "Log level (debug|info|warning|error|critical|none)")
	fs.BoolVar(&args.ShowVersion, "version", false, "Show version information")
	fs.BoolVar(&args.ShowHelp, "help", false, "Show help message")
	fs.BoolVar(&args.ShowHelp, "h", false, "Show help message (shorthand)")

	// The caller prints help; flag still reports the parse error itself.
	fs.Usage = func() {}

	if err := fs.Parse(argv); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			args.ShowHelp = true
			return args, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrUsage, err)
	}
	fs.Visit(func(f *flag.Flag) {
		name := f.Name
		if name == "c" {
			name = "config"
		}
		args.set[name] = true
	})

	if logLevelStr != "" {
		args.LogLevel = types.ParseLogLevel(logLevelStr)
	} else {
		args.LogLevel = types.LogLevelNone // config decides
	}

	if args.ShowHelp || args.ShowVersion {
		return args, nil
	}

	rest := fs.Args()
	switch len(rest) {
	case 0:
	case 1:
		args.Host = rest[0]
	case 2:
		args.Host, args.OutDir = rest[0], rest[1]
	default:
		return nil, fmt.Errorf("%w: unexpected arguments: %s", ErrUsage, strings.Join(rest[2:], " "))
	}
	return args, nil
}

// PrintHelp writes the usage text, including the option defaults.
func (a *Args) PrintHelp(w io.Writer) {
	printHelp(w, a.fs)
}

func printHelp(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintln(w, "Usage: cpanelsave [options] <host> [outdir]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Triggers a cPanel full backup, downloads it over FTP and verifies it.")
	fmt.Fprintln(w, "")
	if fs != nil {
		fmt.Fprintln(w, "Options:")
		fs.SetOutput(w)
		fs.PrintDefaults()
		fmt.Fprintln(w, "")
	}
	fmt.Fprintln(w, "Examples:")
	fmt.Fprintln(w, "  cpanelsave -user alice cp.example.com /srv/backups")
	fmt.Fprintln(w, "  cpanelsave -user alice -https -nodelete cp.example.com")
	fmt.Fprintln(w, "  cpanelsave -config /etc/cpanelsave/site.env")
}

// PrintVersion writes version information.
func PrintVersion(w io.Writer) {
	fmt.Fprintln(w, "cpanelsave")
	fmt.Fprintf(w, "Version: %s\n", version.String())
	if version.Commit != "" {
		fmt.Fprintf(w, "Commit: %s\n", version.Commit)
	}
	if version.Date != "" {
		fmt.Fprintf(w, "Build: %s\n", version.Date)
	}
}
