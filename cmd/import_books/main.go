package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"library-registry/config"
	"library-registry/library"
)

// seedBook is one entry of the seed file.
type seedBook struct {
	Title  string `json:"title"`
	Author string `json:"author"`
	Copies uint64 `json:"copies"`
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr, promptPassword))
}

// run imports the seed file as the library owner, who must authenticate
// first. Exit status 1 means bad input or rejected entries, 2 a storage
// failure.
func run(args []string, stdout, stderr io.Writer, readPassword func(prompt string) (string, error)) int {
	fs := pflag.NewFlagSet("import_books", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	configFile := fs.String("config", "", "config file (default: ./library.yaml)")
	file := fs.String("file", "books.json", "JSON seed file: [{\"title\",\"author\",\"copies\"}]")
	fs.String("db", "", "path to the library database (default: library.db)")
	fs.String("owner", "", "owner recorded when the database is created (default: admin)")
	fs.String("readd-policy", "", "re-add policy recorded when the database is created: overwrite, reject or merge")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := config.Load(*configFile, fs)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading config: %v\n", err)
		return 1
	}

	data, err := os.ReadFile(*file)
	if err != nil {
		fmt.Fprintf(stderr, "Error reading seed file: %v\n", err)
		return 1
	}
	var books []seedBook
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(data, &books); err != nil {
		fmt.Fprintf(stderr, "Error parsing %s: %v\n", *file, err)
		return 1
	}

	manager, err := library.NewLibraryManager(cfg.DBPath,
		library.WithOwner(cfg.Owner),
		library.WithReaddPolicy(cfg.ReaddPolicy),
		library.WithLogger(config.NewLogger(cfg.LogLevel)),
	)
	if err != nil {
		fmt.Fprintf(stderr, "Error opening database: %v\n", err)
		return 2
	}
	defer manager.Close()

	// Books are added as whoever owns the database.
	owner := manager.Owner()
	password, err := readPassword(fmt.Sprintf("Password for %s: ", owner))
	if err != nil {
		fmt.Fprintf(stderr, "Error reading password: %v\n", err)
		return 1
	}
	if _, err := manager.AuthenticateMember(string(owner), password); err != nil {
		fmt.Fprintf(stderr, "Error: %v (create the owner's account with 'library init')\n", err)
		if errors.Is(err, library.ErrInvalidCredentials) {
			return 1
		}
		return 2
	}

	fmt.Fprintf(stdout, "Importing %d books from %s as %s...\n", len(books), *file, owner)

	successCount := 0
	errorCount := 0
	for _, b := range books {
		fmt.Fprintf(stdout, "Importing: %s by %s... ", b.Title, b.Author)
		id, _, err := manager.AddBook(owner, b.Title, b.Author, b.Copies)
		if err != nil {
			fmt.Fprintf(stdout, "ERROR - %v\n", err)
			errorCount++
			continue
		}
		fmt.Fprintf(stdout, "SUCCESS (ID: %s)\n", id.Short())
		successCount++
	}

	fmt.Fprintf(stdout, "\nImport complete!\n")
	fmt.Fprintf(stdout, "Successfully imported: %d books\n", successCount)
	fmt.Fprintf(stdout, "Errors: %d\n", errorCount)

	if successCount > 0 {
		fmt.Fprintln(stdout, "\nCatalog:")
		fmt.Fprintf(stdout, "%-14s %-30s %-25s %-6s\n", "ID", "Title", "Author", "Copies")
		fmt.Fprintln(stdout, strings.Repeat("-", 78))
		for _, book := range manager.GetAllBooks() {
			fmt.Fprintln(stdout, library.PrettyBook(book))
		}
	}
	if errorCount > 0 {
		return 1
	}
	return 0
}

// promptPassword reads the owner's password with masking, or as a plain line
// when stdin is not a terminal.
func promptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	fd := int(syscall.Stdin)
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && (!errors.Is(err, io.EOF) || line == "") {
			return "", err
		}
		return strings.TrimSpace(line), nil
	}
	bytePassword, err := term.ReadPassword(fd)
	if err != nil {
		return "", err
	}
	fmt.Fprintln(os.Stderr)
	return strings.TrimSpace(string(bytePassword)), nil
}
