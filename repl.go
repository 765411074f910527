package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"library-registry/library"
)

func shellCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive session acting as one member",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			caller, err := a.authenticate(a.actor())
			if err != nil {
				return err
			}
			return a.shell(cmd.OutOrStdout(), caller)
		},
	}
}

// shell runs the prompt loop until "exit" or end of input. Rule violations are
// printed and the loop continues; storage failures end the session.
func (a *app) shell(out io.Writer, caller library.Identity) error {
	fmt.Fprintf(out, "Welcome to the library, %s!\n", caller)
	fmt.Fprintln(out, "Available commands:")
	fmt.Fprintln(out, "  Books: add book, book, list books, available, count")
	fmt.Fprintln(out, "  Circulation: borrow, return, loans")
	fmt.Fprintln(out, "  History: history, user history, log")
	fmt.Fprintln(out, "  Members: add member, list members")
	fmt.Fprintln(out, "  System: exit")

	for {
		fmt.Fprint(out, "\n> ")
		line, ok := a.readLine()
		if !ok {
			return nil
		}

		var err error
		switch line {
		case "add book":
			err = a.handleAddBook(out, caller)
		case "book":
			err = a.withBook(out, func(id library.BookID) error { return a.showBook(out, id) })
		case "list books":
			a.listBooks(out)
		case "available":
			err = a.listAvailable(out)
		case "count":
			fmt.Fprintf(out, "Total books count in library is: %d\n", a.mgr.BooksCount())
		case "borrow":
			err = a.withBook(out, func(id library.BookID) error { return a.borrow(out, caller, id) })
		case "return":
			err = a.withBook(out, func(id library.BookID) error { return a.giveBack(out, caller, id) })
		case "loans":
			err = a.listLoans(out, a.askMember(out, caller))
		case "history":
			err = a.withBook(out, func(id library.BookID) error { return a.bookHistory(out, id) })
		case "user history":
			err = a.userHistory(out, a.askMember(out, caller))
		case "log":
			err = a.withBook(out, func(id library.BookID) error {
				return a.loanLog(out, id, a.askMember(out, caller))
			})
		case "add member":
			err = a.handleAddMember(out)
		case "list members":
			err = a.listMembers(out)
		case "exit":
			fmt.Fprintln(out, "Goodbye!")
			return nil
		case "":
		default:
			fmt.Fprintln(out, "Unknown command. Type one of the available commands listed above.")
		}

		if err != nil {
			if !isRuleViolation(err) {
				return err
			}
			fmt.Fprintf(out, "Error: %v\n", err)
		}
	}
}

// readLine returns the next trimmed input line; ok is false once input is
// exhausted.
func (a *app) readLine() (string, bool) {
	line, err := a.in.ReadString('\n')
	if err != nil && line == "" {
		return "", false
	}
	return strings.TrimSpace(line), true
}

func (a *app) ask(out io.Writer, prompt string) (string, bool) {
	fmt.Fprint(out, prompt)
	return a.readLine()
}

func (a *app) withBook(out io.Writer, fn func(library.BookID) error) error {
	arg, ok := a.ask(out, "Book ID or title: ")
	if !ok {
		return nil
	}
	id, err := resolveBookID(arg)
	if err != nil {
		return err
	}
	return fn(id)
}

// askMember prompts for a member name; an empty answer means the caller.
func (a *app) askMember(out io.Writer, caller library.Identity) library.Identity {
	name, _ := a.ask(out, fmt.Sprintf("Member (Enter for %s): ", caller))
	if name == "" {
		return caller
	}
	return library.Identity(name)
}

func (a *app) handleAddBook(out io.Writer, caller library.Identity) error {
	title, ok := a.ask(out, "Title: ")
	if !ok {
		return nil
	}
	author, ok := a.ask(out, "Author: ")
	if !ok {
		return nil
	}
	copiesStr, ok := a.ask(out, "Copies: ")
	if !ok {
		return nil
	}
	copies, err := parseCopies(copiesStr)
	if err != nil {
		return err
	}
	return a.addBook(out, caller, title, author, copies)
}

func (a *app) handleAddMember(out io.Writer) error {
	name, ok := a.ask(out, "Name: ")
	if !ok {
		return nil
	}
	password, err := a.readPassword(fmt.Sprintf("Enter password for %s: ", name))
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}
	return a.addMember(out, name, password)
}
