package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"library-lending/library"
)

const defaultDBFile = "library.db"

// appEnv bundles the store, the loaded state and the lending service for
// one CLI invocation.
type appEnv struct {
	store   *library.Store
	state   *library.State
	service *library.LendingService
}

func openEnv() (*appEnv, error) {
	dbPath := os.Getenv("LIBRARY_DB")
	if dbPath == "" {
		dbPath = defaultDBFile
	}

	store, err := library.OpenStore(dbPath)
	if err != nil {
		return nil, err
	}
	state, err := store.LoadState()
	if err != nil {
		store.Close()
		return nil, err
	}

	opts := []library.Option{
		library.WithMemberRegistry(state.Members),
		library.WithReservations(state.Reservations),
		library.WithLogger(slog.Default()),
		library.WithNotifier(library.NotifierFunc(printEvent)),
	}
	if v := os.Getenv("LOAN_PERIOD_DAYS"); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil || days <= 0 {
			store.Close()
			return nil, fmt.Errorf("invalid LOAN_PERIOD_DAYS %q", v)
		}
		opts = append(opts, library.WithLoanPeriod(days))
	}

	svc := library.NewLendingService(state.Catalog, state.Ledger, opts...)
	return &appEnv{store: store, state: state, service: svc}, nil
}

func (e *appEnv) close() { e.store.Close() }

// save writes the state back after a mutation.
func (e *appEnv) save() error { return e.store.SaveState(e.state) }

func printEvent(ev library.Event) {
	switch ev.Type {
	case library.EventLoanCreated:
		fmt.Printf("Loan %s created for book %s.\n", ev.LoanID, ev.BookID)
	case library.EventLoanReturned:
		fmt.Printf("Loan %s returned.\n", ev.LoanID)
	case library.EventLoanRenewed:
		fmt.Printf("Loan %s renewed.\n", ev.LoanID)
	case library.EventReservationQueued:
		fmt.Printf("Reservation queued for book %s.\n", ev.BookID)
	case library.EventReservationFulfilled:
		fmt.Printf("Reserved book %s handed over as loan %s.\n", ev.BookID, ev.LoanID)
	}
}

// readPassword securely reads a password with masking.
func readPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return "", err
	}
	fmt.Println()
	return strings.TrimSpace(string(bytePassword)), nil
}

// login authenticates the caller from --email plus a password prompt.
func login(env *appEnv, email string) (library.Identity, error) {
	if email == "" {
		return library.Identity{}, errors.New("--email is required")
	}
	password, err := readPassword("Password: ")
	if err != nil {
		return library.Identity{}, fmt.Errorf("read password: %w", err)
	}
	return env.state.Members.Authenticate(email, password)
}

// errorMessage maps error kinds to the message shown to the user.
func errorMessage(err error) string {
	switch {
	case errors.Is(err, library.ErrValidation):
		return fmt.Sprintf("invalid input: %v", err)
	case errors.Is(err, library.ErrNotFound):
		return fmt.Sprintf("no such record: %v", err)
	case errors.Is(err, library.ErrConflict):
		return fmt.Sprintf("not possible right now: %v", err)
	case errors.Is(err, library.ErrInvalidState):
		return fmt.Sprintf("not allowed in this state: %v", err)
	case errors.Is(err, library.ErrAuthorization):
		return fmt.Sprintf("permission denied: %v", err)
	case errors.Is(err, library.ErrConsistency):
		return fmt.Sprintf("INTERNAL INCONSISTENCY, contact an administrator: %v", err)
	default:
		return err.Error()
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "library-lending",
		Short:         "Library catalog and lending tracker",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var email string
	root.PersistentFlags().StringVar(&email, "email", "", "account email used to authenticate")

	root.AddCommand(
		newRegisterCmd(),
		newAddBookCmd(&email),
		newUpdateBookCmd(&email),
		newListBooksCmd(),
		newSearchCmd(),
		newBorrowCmd(&email),
		newReturnCmd(&email),
		newRenewCmd(&email),
		newLoansCmd(&email),
		newAllLoansCmd(&email),
		newReserveCmd(&email),
		newCancelReservationCmd(&email),
		newMembersCmd(&email),
		newSuspendCmd(&email, true),
		newSuspendCmd(&email, false),
	)
	return root
}

func newRegisterCmd() *cobra.Command {
	var name, email, role string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a new member account",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnv()
			if err != nil {
				return err
			}
			defer env.close()

			password, err := readPassword("Choose a password: ")
			if err != nil {
				return err
			}
			confirm, err := readPassword("Repeat the password: ")
			if err != nil {
				return err
			}
			if password != confirm {
				return errors.New("passwords do not match")
			}

			m, err := env.state.Members.Register(name, email, password, library.Role(role), time.Now())
			if err != nil {
				return err
			}
			if err := env.save(); err != nil {
				return err
			}
			fmt.Printf("Registered %s (%s) as %s. Member id: %s\n", m.Name, m.Email, m.Role, m.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "full name")
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&role, "role", string(library.RoleStudent), "role: admin or student")
	return cmd
}

func newAddBookCmd(email *string) *cobra.Command {
	var fields library.BookFields
	cmd := &cobra.Command{
		Use:   "add-book",
		Short: "Add a book to the catalog (admin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnv()
			if err != nil {
				return err
			}
			defer env.close()

			ident, err := login(env, *email)
			if err != nil {
				return err
			}
			book, err := env.service.AddBook(ident, fields, time.Now())
			if err != nil {
				return err
			}
			if err := env.save(); err != nil {
				return err
			}
			fmt.Printf("Added %q (%s). Book id: %s\n", book.Title, book.ISBN, book.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&fields.Title, "title", "", "book title")
	cmd.Flags().StringVar(&fields.Author, "author", "", "author name")
	cmd.Flags().StringVar(&fields.ISBN, "isbn", "", "ISBN")
	cmd.Flags().StringVar(&fields.Category, "category", "", "category")
	cmd.Flags().IntVar(&fields.PublishedYear, "year", 0, "publication year")
	cmd.Flags().StringVar(&fields.Description, "description", "", "short description")
	cmd.Flags().StringVar(&fields.CoverURL, "cover", "", "cover image URL")
	return cmd
}

func newUpdateBookCmd(email *string) *cobra.Command {
	var (
		title, author, category string
		description, cover      string
		year                    int
	)
	cmd := &cobra.Command{
		Use:   "update-book BOOK_ID",
		Short: "Edit catalog metadata of a book (admin); omitted flags keep their value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnv()
			if err != nil {
				return err
			}
			defer env.close()

			ident, err := login(env, *email)
			if err != nil {
				return err
			}

			// Only flags the caller actually set become part of the update.
			var upd library.BookUpdate
			if cmd.Flags().Changed("title") {
				upd.Title = &title
			}
			if cmd.Flags().Changed("author") {
				upd.Author = &author
			}
			if cmd.Flags().Changed("category") {
				upd.Category = &category
			}
			if cmd.Flags().Changed("year") {
				upd.PublishedYear = &year
			}
			if cmd.Flags().Changed("description") {
				upd.Description = &description
			}
			if cmd.Flags().Changed("cover") {
				upd.CoverURL = &cover
			}

			book, err := env.service.UpdateBook(ident, args[0], upd)
			if err != nil {
				return err
			}
			if err := env.save(); err != nil {
				return err
			}
			fmt.Printf("Updated %q (%s).\n", book.Title, book.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "book title")
	cmd.Flags().StringVar(&author, "author", "", "author name")
	cmd.Flags().StringVar(&category, "category", "", "category")
	cmd.Flags().IntVar(&year, "year", 0, "publication year")
	cmd.Flags().StringVar(&description, "description", "", "short description")
	cmd.Flags().StringVar(&cover, "cover", "", "cover image URL")
	return cmd
}

func newListBooksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-books",
		Short: "List the full catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnv()
			if err != nil {
				return err
			}
			defer env.close()

			printBooks(env.state.Catalog.ListBooks())
			return nil
		},
	}
}

func newSearchCmd() *cobra.Command {
	var category, sortBy string
	cmd := &cobra.Command{
		Use:   "search [TERM]",
		Short: "Search the catalog by title, author or description",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnv()
			if err != nil {
				return err
			}
			defer env.close()

			term := ""
			if len(args) == 1 {
				term = args[0]
			}
			results := library.SearchBooks(env.state.Catalog.ListBooks(), library.Query{
				Term:     term,
				Category: category,
				SortBy:   library.SortKey(sortBy),
			})
			available, unavailable := library.PartitionByAvailability(results)
			if len(available) > 0 {
				fmt.Println("Available:")
				printBooks(available)
			}
			if len(unavailable) > 0 {
				fmt.Println("Currently on loan:")
				printBooks(unavailable)
			}
			if len(results) == 0 {
				fmt.Println("No books found.")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "exact category filter")
	cmd.Flags().StringVar(&sortBy, "sort", string(library.SortByTitle), "sort key: title, author or year")
	return cmd
}

func newBorrowCmd(email *string) *cobra.Command {
	return &cobra.Command{
		Use:   "borrow BOOK_ID",
		Short: "Borrow an available book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withIdentity(email, func(env *appEnv, ident library.Identity) error {
				loan, err := env.service.Borrow(ident, args[0], time.Now())
				if err != nil {
					return err
				}
				fmt.Printf("Due back on %s.\n", loan.DueDate.Format("2006-01-02"))
				return nil
			})
		},
	}
}

func newReturnCmd(email *string) *cobra.Command {
	return &cobra.Command{
		Use:   "return LOAN_ID",
		Short: "Return a borrowed book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withIdentity(email, func(env *appEnv, ident library.Identity) error {
				_, err := env.service.ReturnBook(ident, args[0], time.Now())
				return err
			})
		},
	}
}

func newRenewCmd(email *string) *cobra.Command {
	return &cobra.Command{
		Use:   "renew LOAN_ID",
		Short: "Extend a loan by the configured period",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withIdentity(email, func(env *appEnv, ident library.Identity) error {
				loan, err := env.service.Renew(ident, args[0], time.Now())
				if err != nil {
					return err
				}
				fmt.Printf("New due date: %s.\n", loan.DueDate.Format("2006-01-02"))
				return nil
			})
		},
	}
}

func newLoansCmd(email *string) *cobra.Command {
	return &cobra.Command{
		Use:   "loans [BORROWER_ID]",
		Short: "List open loans of a borrower (defaults to yourself)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnv()
			if err != nil {
				return err
			}
			defer env.close()

			ident, err := login(env, *email)
			if err != nil {
				return err
			}
			borrower := ident.MemberID
			if len(args) == 1 {
				borrower = args[0]
			}
			loans, err := env.service.ListOpenLoansForBorrower(ident, borrower, time.Now())
			if err != nil {
				return err
			}
			printLoans(loans)
			return nil
		},
	}
}

func newAllLoansCmd(email *string) *cobra.Command {
	return &cobra.Command{
		Use:   "all-loans",
		Short: "List every loan, history included",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnv()
			if err != nil {
				return err
			}
			defer env.close()

			ident, err := login(env, *email)
			if err != nil {
				return err
			}
			printLoans(env.service.ListAllLoans(ident, time.Now()))
			return nil
		},
	}
}

func newReserveCmd(email *string) *cobra.Command {
	return &cobra.Command{
		Use:   "reserve BOOK_ID",
		Short: "Reserve a book; borrows it right away if available",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withIdentity(email, func(env *appEnv, ident library.Identity) error {
				_, err := env.service.Reserve(ident, args[0], time.Now())
				return err
			})
		},
	}
}

func newCancelReservationCmd(email *string) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel-reservation BOOK_ID",
		Short: "Withdraw your reservation on a book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withIdentity(email, func(env *appEnv, ident library.Identity) error {
				if err := env.service.CancelReservation(ident, args[0]); err != nil {
					return err
				}
				fmt.Println("Reservation cancelled.")
				return nil
			})
		},
	}
}

func newMembersCmd(email *string) *cobra.Command {
	return &cobra.Command{
		Use:   "members [TERM]",
		Short: "List members, optionally filtered by name or email (admin)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnv()
			if err != nil {
				return err
			}
			defer env.close()

			ident, err := login(env, *email)
			if err != nil {
				return err
			}
			if ident.Role != library.RoleAdmin {
				return fmt.Errorf("%w: listing members requires the admin role", library.ErrAuthorization)
			}
			term := ""
			if len(args) == 1 {
				term = args[0]
			}
			for _, m := range env.state.Members.SearchMembers(term) {
				fmt.Printf("%-36s %-25s %-30s %-8s %s\n", m.ID, m.Name, m.Email, m.Role, m.Status)
			}
			return nil
		},
	}
}

func newSuspendCmd(email *string, suspend bool) *cobra.Command {
	use, short := "suspend MEMBER_ID", "Suspend a member (admin)"
	if !suspend {
		use, short = "reactivate MEMBER_ID", "Reactivate a suspended member (admin)"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openEnv()
			if err != nil {
				return err
			}
			defer env.close()

			ident, err := login(env, *email)
			if err != nil {
				return err
			}
			if ident.Role != library.RoleAdmin {
				return fmt.Errorf("%w: changing member status requires the admin role", library.ErrAuthorization)
			}
			if suspend {
				err = env.state.Members.Suspend(args[0])
			} else {
				err = env.state.Members.Reactivate(args[0])
			}
			if err != nil {
				return err
			}
			return env.save()
		},
	}
}

// withIdentity handles the open/login/save plumbing shared by the mutating
// single-argument commands.
func withIdentity(email *string, run func(*appEnv, library.Identity) error) error {
	env, err := openEnv()
	if err != nil {
		return err
	}
	defer env.close()

	ident, err := login(env, *email)
	if err != nil {
		return err
	}
	if err := run(env, ident); err != nil {
		return err
	}
	return env.save()
}

func printBooks(books []library.Book) {
	for _, b := range books {
		status := "available"
		if !b.Available {
			status = "on loan"
		}
		fmt.Printf("%-36s %-35s %-25s %-20s %4d  %s\n", b.ID, b.Title, b.Author, b.Category, b.PublishedYear, status)
	}
}

func printLoans(loans []library.Loan) {
	if len(loans) == 0 {
		fmt.Println("No loans.")
		return
	}
	now := time.Now()
	for _, l := range loans {
		line := fmt.Sprintf("%-36s book=%s borrower=%s borrowed=%s due=%s status=%s",
			l.ID, l.BookID, l.BorrowerID,
			l.BorrowDate.Format("2006-01-02"), l.DueDate.Format("2006-01-02"), l.Status)
		if l.Status != library.LoanReturned {
			line += fmt.Sprintf(" days_left=%d", library.DaysUntilDue(l, now))
		}
		fmt.Println(line)
	}
}
