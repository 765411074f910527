package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"library-registry/config"
	"library-registry/library"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
)

// app carries what every command needs. It is built by the root command's
// PersistentPreRunE and torn down by PersistentPostRunE.
type app struct {
	configFile string

	cfg    *config.Config
	logger *slog.Logger
	mgr    *library.LibraryManager

	in           *bufio.Reader
	readPassword func(prompt string) (string, error)
}

func main() {
	a := &app{in: bufio.NewReader(os.Stdin)}
	a.readPassword = a.promptPassword
	os.Exit(run(a, os.Args[1:], os.Stdout, os.Stderr))
}

func run(a *app, args []string, stdout, stderr io.Writer) int {
	defer a.close()

	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitCode(err)
	}
	return exitSuccess
}

// exitCode tells rule violations and bad input apart from failures of the
// machinery underneath.
func exitCode(err error) int {
	for _, userErr := range []error{
		library.ErrUnauthorized,
		library.ErrNotFound,
		library.ErrAlreadyHeld,
		library.ErrUnavailable,
		library.ErrNotHeldByCaller,
		library.ErrNoRecords,
		library.ErrAlreadyExists,
		library.ErrMemberNotFound,
		library.ErrMemberExists,
		library.ErrInvalidCredentials,
		library.ErrEmptyPassword,
		library.ErrInvalidInput,
		errUsage,
	} {
		if errors.Is(err, userErr) {
			return exitUserError
		}
	}
	return exitSysError
}

var errUsage = errors.New("usage")

// open loads the configuration and the library database.
func (a *app) open(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configFile, cmd.Flags())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a.cfg = cfg
	a.logger = config.NewLogger(cfg.LogLevel)

	mgr, err := library.NewLibraryManager(cfg.DBPath,
		library.WithOwner(cfg.Owner),
		library.WithReaddPolicy(cfg.ReaddPolicy),
		library.WithLogger(a.logger),
	)
	if err != nil {
		return fmt.Errorf("open library: %w", err)
	}
	a.mgr = mgr
	return nil
}

func (a *app) close() error {
	if a.mgr == nil {
		return nil
	}
	err := a.mgr.Close()
	a.mgr = nil
	return err
}

// promptPassword securely reads a password with masking. When stdin is not a
// terminal the password is read as a plain line.
func (a *app) promptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	fd := int(syscall.Stdin)
	if !term.IsTerminal(fd) {
		line, err := a.in.ReadString('\n')
		if err != nil && (!errors.Is(err, io.EOF) || line == "") {
			return "", err
		}
		return strings.TrimSpace(line), nil
	}
	bytePassword, err := term.ReadPassword(fd)
	if err != nil {
		return "", err
	}
	fmt.Fprintln(os.Stderr) // Add newline after password input
	return strings.TrimSpace(string(bytePassword)), nil
}

// actor resolves who a state-changing command acts as: --as, the configured
// member, or the owner.
func (a *app) actor() library.Identity {
	if a.cfg.Member != "" {
		return a.cfg.Member
	}
	return a.mgr.Owner()
}

// authenticate asks for who's password and returns their identity.
func (a *app) authenticate(who library.Identity) (library.Identity, error) {
	password, err := a.readPassword(fmt.Sprintf("Password for %s: ", who))
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	m, err := a.mgr.AuthenticateMember(string(who), password)
	if err != nil {
		return "", err
	}
	return m.Identity(), nil
}
