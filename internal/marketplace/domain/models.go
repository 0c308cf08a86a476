// Package domain holds the read model of the marketplace CRUD layer that the
// notification engine enriches events from.
package domain

import (
	"context"
	"errors"
	"time"
)

type ProjectStatus string

const (
	ProjectStatusActive    ProjectStatus = "active"
	ProjectStatusCompleted ProjectStatus = "completed"
	ProjectStatusCancelled ProjectStatus = "cancelled"
)

type UserRole string

const (
	RoleFreelancer   UserRole = "freelancer"
	RoleCommissioner UserRole = "commissioner"
)

type Project struct {
	ID             string        `json:"id"`
	Title          string        `json:"title"`
	CommissionerID int64         `json:"commissionerId"`
	FreelancerID   int64         `json:"freelancerId"`
	OrganizationID string        `json:"organizationId,omitempty"`
	Status         ProjectStatus `json:"status"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

// Task is one milestone of a project. Rate is in minor currency units.
type Task struct {
	ID            string     `json:"id"`
	ProjectID     string     `json:"projectId"`
	Title         string     `json:"title"`
	Status        string     `json:"status"`
	Approved      bool       `json:"approved"`
	ApprovedAt    *time.Time `json:"approvedAt,omitempty"`
	InvoiceNumber string     `json:"invoiceNumber,omitempty"`
	Rate          int64      `json:"rate"`
}

type User struct {
	ID             int64    `json:"id"`
	Name           string   `json:"name"`
	Role           UserRole `json:"role"`
	OrganizationID string   `json:"organizationId,omitempty"`
}

type Organization struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

var ErrNotFound = errors.New("not_found")

type Repository interface {
	GetProject(ctx context.Context, id string) (*Project, error)
	ListProjects(ctx context.Context) ([]Project, error)
	SaveProject(ctx context.Context, p Project) error

	GetTask(ctx context.Context, projectID, taskID string) (*Task, error)
	ListTasks(ctx context.Context, projectID string) ([]Task, error)
	SaveTask(ctx context.Context, t Task) error

	GetUser(ctx context.Context, id int64) (*User, error)
	SaveUser(ctx context.Context, u User) error

	GetOrganization(ctx context.Context, id string) (*Organization, error)
	SaveOrganization(ctx context.Context, o Organization) error
}

// AllTasksApproved reports whether a project has tasks and every one of them is approved.
func AllTasksApproved(tasks []Task) bool {
	if len(tasks) == 0 {
		return false
	}
	for _, t := range tasks {
		if !t.Approved {
			return false
		}
	}
	return true
}
