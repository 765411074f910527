package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"library-registry/library"
)

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "library",
		Short: "Book-lending registry",
		Long: `library keeps a catalog of books with a limited number of copies,
tracks who holds a copy right now, who ever borrowed a book, and every
borrow/return with its timestamps.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch cmd.Name() {
			case "version", "help":
				return nil
			}
			return a.open(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
	}

	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", errUsage, err)
	})
	root.PersistentFlags().StringVar(&a.configFile, "config", "", "config file (default: ./library.yaml)")
	root.PersistentFlags().String("db", "", "path to the library database (default: library.db)")
	root.PersistentFlags().String("as", "", "member to act as (default: the owner)")

	root.AddCommand(
		versionCmd(),
		initCmd(a),
		addBookCmd(a),
		borrowCmd(a),
		returnCmd(a),
		bookCmd(a),
		booksCmd(a),
		availableCmd(a),
		loansCmd(a),
		historyCmd(a),
		userHistoryCmd(a),
		logCmd(a),
		countCmd(a),
		addMemberCmd(a),
		membersCmd(a),
		resetPasswordCmd(a),
		shellCmd(a),
	)
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "library v0.1.0")
		},
	}
}

func initCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the database and the owner's member account",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner := a.mgr.Owner()
			if _, err := a.mgr.GetMember(string(owner)); err == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "Library already initialized, owner is %s\n", owner)
				return nil
			}
			password, err := a.readPassword(fmt.Sprintf("Choose a password for %s: ", owner))
			if err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}
			if _, err := a.mgr.AddMember(string(owner), password); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Library initialized, owner is %s\n", owner)
			return nil
		},
	}
}

func addBookCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "add-book TITLE AUTHOR COPIES",
		Short: "Add a book to the catalog (owner only)",
		Args:  usageArgs(cobra.ExactArgs(3)),
		RunE: func(cmd *cobra.Command, args []string) error {
			copies, err := parseCopies(args[2])
			if err != nil {
				return err
			}
			caller, err := a.authenticate(a.actor())
			if err != nil {
				return err
			}
			return a.addBook(cmd.OutOrStdout(), caller, args[0], args[1], copies)
		},
	}
}

func borrowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "borrow BOOK",
		Short: "Borrow a copy of a book (BOOK is an id or a title)",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := resolveBookID(args[0])
			if err != nil {
				return err
			}
			caller, err := a.authenticate(a.actor())
			if err != nil {
				return err
			}
			return a.borrow(cmd.OutOrStdout(), caller, id)
		},
	}
}

func returnCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "return BOOK",
		Short: "Return a book you hold (BOOK is an id or a title)",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := resolveBookID(args[0])
			if err != nil {
				return err
			}
			caller, err := a.authenticate(a.actor())
			if err != nil {
				return err
			}
			return a.giveBack(cmd.OutOrStdout(), caller, id)
		},
	}
}

func bookCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "book BOOK",
		Short: "Show one catalog record",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := resolveBookID(args[0])
			if err != nil {
				return err
			}
			return a.showBook(cmd.OutOrStdout(), id)
		},
	}
}

func booksCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "books",
		Short: "List the catalog",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			a.listBooks(cmd.OutOrStdout())
			return nil
		},
	}
}

func availableCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "available",
		Short: "List books with at least one free copy",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.listAvailable(cmd.OutOrStdout())
		},
	}
}

func loansCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "loans [MEMBER]",
		Short: "List the books a member holds right now",
		Args:  usageArgs(cobra.MaximumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.listLoans(cmd.OutOrStdout(), a.subject(args))
		},
	}
}

func historyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "history BOOK",
		Short: "List everyone who ever borrowed a book",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := resolveBookID(args[0])
			if err != nil {
				return err
			}
			return a.bookHistory(cmd.OutOrStdout(), id)
		},
	}
}

func userHistoryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "user-history [MEMBER]",
		Short: "List every book a member ever borrowed",
		Args:  usageArgs(cobra.MaximumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.userHistory(cmd.OutOrStdout(), a.subject(args))
		},
	}
}

func logCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "log BOOK [MEMBER]",
		Short: "Show every borrow/return of a book by a member",
		Args:  usageArgs(cobra.RangeArgs(1, 2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := resolveBookID(args[0])
			if err != nil {
				return err
			}
			return a.loanLog(cmd.OutOrStdout(), id, a.subject(args[1:]))
		},
	}
}

func countCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Print how many distinct books were ever added",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "Total books count in library is: %d\n", a.mgr.BooksCount())
			return nil
		},
	}
}

func addMemberCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "add-member NAME",
		Short: "Register a member; the name is their identity",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.TrimSpace(args[0])
			password, err := a.readPassword(fmt.Sprintf("Enter password for %s: ", name))
			if err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}
			return a.addMember(cmd.OutOrStdout(), name, password)
		},
	}
}

func membersCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "members",
		Short: "List registered members",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.listMembers(cmd.OutOrStdout())
		},
	}
}

func resetPasswordCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reset-password NAME",
		Short: "Set a new password for a member (owner only)",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := a.authenticate(a.mgr.Owner()); err != nil {
				return err
			}
			name := strings.TrimSpace(args[0])
			password, err := a.readPassword(fmt.Sprintf("Enter new password for %s: ", name))
			if err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}
			if err := a.mgr.ResetMemberPassword(name, password); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Password successfully reset for %s\n", name)
			return nil
		},
	}
}

// usageArgs marks positional argument errors as usage errors.
func usageArgs(validate cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := validate(cmd, args); err != nil {
			return fmt.Errorf("%w: %v", errUsage, err)
		}
		return nil
	}
}

// subject is the member named in args, or whoever the command acts as.
func (a *app) subject(args []string) library.Identity {
	if len(args) > 0 && strings.TrimSpace(args[0]) != "" {
		return library.Identity(strings.TrimSpace(args[0]))
	}
	return a.actor()
}

// resolveBookID accepts either the 0x-prefixed id or the book's title.
func resolveBookID(arg string) (library.BookID, error) {
	arg = strings.TrimSpace(arg)
	if strings.HasPrefix(arg, "0x") {
		if id, err := library.ParseBookID(arg); err == nil {
			return id, nil
		}
	}
	if arg == "" {
		return library.BookID{}, fmt.Errorf("%w: book id or title required", errUsage)
	}
	return library.BookIDFromTitle(arg), nil
}

func parseCopies(s string) (uint64, error) {
	copies, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid copies %q", errUsage, s)
	}
	return copies, nil
}

// ------------------ Actions shared with the shell ------------------

func (a *app) addBook(out io.Writer, caller library.Identity, title, author string, copies uint64) error {
	id, events, err := a.mgr.AddBook(caller, title, author, copies)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Added book %s\n", id)
	printEvents(out, events)
	return nil
}

func (a *app) borrow(out io.Writer, caller library.Identity, id library.BookID) error {
	events, err := a.mgr.BorrowBook(id, caller)
	if err != nil {
		return err
	}
	book, _ := a.mgr.GetBook(id)
	fmt.Fprintf(out, "Book '%s' borrowed by %s\n", book.Title, caller)
	printEvents(out, events)
	return nil
}

func (a *app) giveBack(out io.Writer, caller library.Identity, id library.BookID) error {
	events, err := a.mgr.ReturnBook(id, caller)
	if err != nil {
		return err
	}
	book, _ := a.mgr.GetBook(id)
	fmt.Fprintf(out, "Book '%s' returned by %s\n", book.Title, caller)
	printEvents(out, events)
	return nil
}

func (a *app) showBook(out io.Writer, id library.BookID) error {
	b, err := a.mgr.GetBook(id)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "  BookId    : %s\n  Title     : %s\n  Author    : %s\n  Available : %d copies\n",
		b.ID, b.Title, b.Author, b.AvailableCopies)
	return nil
}

func (a *app) listBooks(out io.Writer) {
	books := a.mgr.GetAllBooks()
	if len(books) == 0 {
		fmt.Fprintln(out, "No books in library.")
		return
	}
	printBookHeader(out)
	for _, b := range books {
		fmt.Fprintln(out, library.PrettyBook(b))
	}
}

func (a *app) listAvailable(out io.Writer) error {
	ids := a.mgr.ListAvailableBooks()
	if len(ids) == 0 {
		fmt.Fprintln(out, "No books available.")
		return nil
	}
	printBookHeader(out)
	for _, id := range ids {
		b, err := a.mgr.GetBook(id)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, library.PrettyBook(b))
	}
	return nil
}

func (a *app) listLoans(out io.Writer, who library.Identity) error {
	ids := a.mgr.ListCurrentLoans(who)
	if len(ids) == 0 {
		fmt.Fprintf(out, "%s holds no books.\n", who)
		return nil
	}
	fmt.Fprintf(out, "Current books for %s:\n", who)
	printBookHeader(out)
	for _, id := range ids {
		b, err := a.mgr.GetBook(id)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, library.PrettyBook(b))
	}
	return nil
}

func (a *app) bookHistory(out io.Writer, id library.BookID) error {
	who, err := a.mgr.GetBookHistory(id)
	if err != nil {
		return err
	}
	if len(who) == 0 {
		fmt.Fprintln(out, "Nobody has borrowed this book yet.")
		return nil
	}
	for i, w := range who {
		fmt.Fprintf(out, "%d. %s\n", i+1, w)
	}
	return nil
}

func (a *app) userHistory(out io.Writer, who library.Identity) error {
	ids := a.mgr.GetUserHistory(who)
	if len(ids) == 0 {
		fmt.Fprintf(out, "%s has never borrowed a book.\n", who)
		return nil
	}
	printBookHeader(out)
	for _, id := range ids {
		b, err := a.mgr.GetBook(id)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, library.PrettyBook(b))
	}
	return nil
}

func (a *app) loanLog(out io.Writer, id library.BookID, who library.Identity) error {
	entries, err := a.mgr.GetLoanLog(id, who)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%-4s %-20s %-25s %-25s\n", "#", "Borrower", "Borrowed", "Returned")
	fmt.Fprintln(out, strings.Repeat("-", 76))
	for i, e := range entries {
		returned := "-"
		if !e.Open() {
			returned = e.ReturnedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(out, "%-4d %-20s %-25s %-25s\n", i+1, e.Borrower, e.BorrowedAt.Format(time.RFC3339), returned)
	}
	return nil
}

func (a *app) addMember(out io.Writer, name, password string) error {
	id, err := a.mgr.AddMember(name, password)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Added member '%s' with ID %d\n", name, id)
	return nil
}

func (a *app) listMembers(out io.Writer) error {
	members, err := a.mgr.GetAllMembers()
	if err != nil {
		return err
	}
	if len(members) == 0 {
		fmt.Fprintln(out, "No members registered.")
		return nil
	}
	fmt.Fprintf(out, "%-5s %-30s %-6s\n", "ID", "Name", "Owner")
	fmt.Fprintln(out, strings.Repeat("-", 43))
	for _, m := range members {
		isOwner := ""
		if m.Identity() == a.mgr.Owner() {
			isOwner = "yes"
		}
		fmt.Fprintf(out, "%-5d %-30s %-6s\n", m.ID, m.Name, isOwner)
	}
	return nil
}

func printBookHeader(out io.Writer) {
	fmt.Fprintf(out, "%-14s %-30s %-25s %-6s\n", "ID", "Title", "Author", "Copies")
	fmt.Fprintln(out, strings.Repeat("-", 78))
}

func printEvents(out io.Writer, events []library.Event) {
	for _, e := range events {
		fmt.Fprintf(out, "  event: %s\n", e)
	}
}

// isRuleViolation reports whether err is one the user can act on, as opposed
// to a storage failure.
func isRuleViolation(err error) bool {
	return exitCode(err) == exitUserError
}
