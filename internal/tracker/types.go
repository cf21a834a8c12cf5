package tracker

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"trullo.app/internal/auth"
	"trullo.app/internal/ids"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrConflict           = errors.New("conflict")
	ErrInvalidCredentials = errors.New("wrong credentials")
)

// User is a registered account. PasswordHash never leaves the process.
type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         auth.Role `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Project groups tasks. The owner is implicitly a member and is not listed
// in Members.
type Project struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	OwnerID     string    `json:"ownerId"`
	Members     []string  `json:"members"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// HasMember reports whether userID owns or belongs to the project.
func (p Project) HasMember(userID string) bool {
	if userID == "" {
		return false
	}
	if p.OwnerID == userID {
		return true
	}
	for _, m := range p.Members {
		if m == userID {
			return true
		}
	}
	return false
}

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	StatusToDo       TaskStatus = "TO_DO"
	StatusInProgress TaskStatus = "IN_PROGRESS"
	StatusBlocked    TaskStatus = "BLOCKED"
	StatusDone       TaskStatus = "DONE"
)

// Statuses lists every task status in workflow order.
var Statuses = []TaskStatus{StatusToDo, StatusInProgress, StatusBlocked, StatusDone}

// ParseStatus validates s.
func ParseStatus(s string) (TaskStatus, error) {
	st := TaskStatus(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Statuses {
		if st == known {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: unknown status %q", ErrInvalidInput, s)
}

// Task is a unit of work inside a project.
type Task struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"projectId"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      TaskStatus `json:"status"`
	AssignedTo  string     `json:"assignedTo,omitempty"`
	FinishedAt  *time.Time `json:"finishedAt,omitempty"`
	FinishedBy  string     `json:"finishedBy,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

const (
	DefaultPage  = 1
	DefaultLimit = 25
)

// PageRequest selects a page. Limit <= 0 returns every item.
type PageRequest struct {
	Page  int
	Limit int
}

// DefaultPageRequest is used when a caller supplies no paging arguments.
func DefaultPageRequest() PageRequest {
	return PageRequest{Page: DefaultPage, Limit: DefaultLimit}
}

func (p PageRequest) normalized() PageRequest {
	if p.Page < 1 {
		p.Page = DefaultPage
	}
	return p
}

// Offset returns the number of items to skip.
func (p PageRequest) Offset() int {
	p = p.normalized()
	if p.Limit <= 0 {
		return 0
	}
	return (p.Page - 1) * p.Limit
}

// Page is one slice of a listing.
type Page[T any] struct {
	Items           []T  `json:"items"`
	TotalCount      int  `json:"totalCount"`
	HasNextPage     bool `json:"hasNextPage"`
	HasPreviousPage bool `json:"hasPreviousPage"`
	CurrentPage     int  `json:"currentPage"`
	TotalPages      int  `json:"totalPages"`
}

// NewPage builds page metadata for items taken at req from total results.
func NewPage[T any](items []T, total int, req PageRequest) Page[T] {
	req = req.normalized()
	if items == nil {
		items = []T{}
	}
	totalPages := 1
	if req.Limit > 0 {
		totalPages = (total + req.Limit - 1) / req.Limit
	}
	return Page[T]{
		Items:           items,
		TotalCount:      total,
		HasNextPage:     req.Offset()+len(items) < total,
		HasPreviousPage: req.Page > 1,
		CurrentPage:     req.Page,
		TotalPages:      totalPages,
	}
}

// Paginate slices an already filtered and ordered result set.
func Paginate[T any](all []T, req PageRequest) Page[T] {
	req = req.normalized()
	total := len(all)
	if req.Limit <= 0 {
		return NewPage(all, total, req)
	}
	start := min(req.Offset(), total)
	end := min(start+req.Limit, total)
	return NewPage(all[start:end], total, req)
}

func validID(kind, id string) error {
	if !ids.Valid(strings.TrimSpace(id)) {
		return fmt.Errorf("%w: invalid %s id", ErrInvalidInput, kind)
	}
	return nil
}

func notFound(kind string, err error) error {
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%s %w", kind, ErrNotFound)
	}
	return err
}
