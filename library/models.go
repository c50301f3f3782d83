package library

import "time"

// Role is the authorization level carried by a caller identity.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleStudent Role = "student"
)

// Identity is the authenticated caller passed to every service operation.
// It is supplied by the identity provider (the member registry here, or any
// external session layer); the core only inspects the id and the role.
type Identity struct {
	MemberID string
	Role     Role
}

// Book represents a catalog entry. Available is derived state: it is false
// exactly while an open loan references the book, and only the lending
// service may change it.
type Book struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Author        string `json:"author"`
	ISBN          string `json:"isbn"`
	Category      string `json:"category"`
	PublishedYear int    `json:"published_year"`
	Description   string `json:"description"`
	CoverURL      string `json:"cover_url,omitempty"`
	Available     bool   `json:"available"`
}

// LoanStatus is the lifecycle state of a loan. Overdue is a classification
// computed against a point in time, not independent stored truth.
type LoanStatus string

const (
	LoanActive   LoanStatus = "active"
	LoanOverdue  LoanStatus = "overdue"
	LoanReturned LoanStatus = "returned"
)

// Loan ties a book to a borrower for a period. ReturnDate stays zero until
// the loan is closed.
type Loan struct {
	ID         string     `json:"id"`
	BookID     string     `json:"book_id"`
	BorrowerID string     `json:"borrower_id"`
	BorrowDate time.Time  `json:"borrow_date"`
	DueDate    time.Time  `json:"due_date"`
	ReturnDate time.Time  `json:"return_date,omitempty"`
	Status     LoanStatus `json:"status"`
}

// MemberStatus marks whether a member may borrow.
type MemberStatus string

const (
	MemberActive    MemberStatus = "active"
	MemberSuspended MemberStatus = "suspended"
)

// Member represents a registered library member.
type Member struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Email        string       `json:"email"`
	Role         Role         `json:"role"`
	Status       MemberStatus `json:"status"`
	JoinDate     time.Time    `json:"join_date"`
	PasswordHash string       `json:"-"` // Don't serialize password hash
}

// Reservation is a queued claim on an unavailable book. Queues are FIFO per
// book; the head is handed the book when it comes back.
type Reservation struct {
	BookID   string    `json:"book_id"`
	MemberID string    `json:"member_id"`
	PlacedAt time.Time `json:"placed_at"`
}
