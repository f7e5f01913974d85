package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/fieldserve/client-go/apierror"
	"github.com/fieldserve/client-go/internal/transport"
)

// Work-order lifecycle states.
type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// Dispatch priorities.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// WorkOrder is a maintenance task.
type WorkOrder struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      Status     `json:"status"`
	Priority    Priority   `json:"priority"`
	AssignedTo  *int64     `json:"assigned_to,omitempty"`
	LocationID  *int64     `json:"location_id,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// WorkOrderList is one page of results.
type WorkOrderList struct {
	Items    []WorkOrder `json:"items"`
	Total    int         `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
}

// ListFilter narrows a List call. Zero values mean "no filter".
type ListFilter struct {
	Status     Status
	Priority   Priority
	AssignedTo int64
	Page       int
	PageSize   int
}

func (f ListFilter) values() url.Values {
	v := url.Values{}
	if f.Status != "" {
		v.Set("status", string(f.Status))
	}
	if f.Priority != "" {
		v.Set("priority", string(f.Priority))
	}
	if f.AssignedTo != 0 {
		v.Set("assigned_to", strconv.FormatInt(f.AssignedTo, 10))
	}
	if f.Page > 0 {
		v.Set("page", strconv.Itoa(f.Page))
	}
	if f.PageSize > 0 {
		v.Set("page_size", strconv.Itoa(f.PageSize))
	}
	return v
}

// CreateWorkOrder are the fields accepted on creation.
type CreateWorkOrder struct {
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Priority    Priority   `json:"priority,omitempty"`
	AssignedTo  *int64     `json:"assigned_to,omitempty"`
	LocationID  *int64     `json:"location_id,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
}

// UpdateWorkOrder is a partial update; nil fields are left unchanged.
type UpdateWorkOrder struct {
	Title       *string    `json:"title,omitempty"`
	Description *string    `json:"description,omitempty"`
	Status      *Status    `json:"status,omitempty"`
	Priority    *Priority  `json:"priority,omitempty"`
	AssignedTo  *int64     `json:"assigned_to,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
}

// WorkOrderService is the work-order API surface. Every call runs through
// the breaker, the retry policy, and the work-order error classifier.
type WorkOrderService struct {
	c *Client
}

// List returns a page of work orders matching the filter.
func (s *WorkOrderService) List(ctx context.Context, filter ListFilter) (*WorkOrderList, error) {
	return doJSON[*WorkOrderList](ctx, s.c, transport.Request{
		Method:  http.MethodGet,
		Path:    "/workorders",
		Query:   filter.values(),
		Handler: apierror.WorkOrderHandler(),
	})
}

// Get fetches one work order by id.
func (s *WorkOrderService) Get(ctx context.Context, id int64) (*WorkOrder, error) {
	return doJSON[*WorkOrder](ctx, s.c, transport.Request{
		Method:  http.MethodGet,
		Path:    woPath(id),
		Handler: apierror.WorkOrderHandler(),
	})
}

// Create opens a new work order.
func (s *WorkOrderService) Create(ctx context.Context, in CreateWorkOrder) (*WorkOrder, error) {
	return doJSON[*WorkOrder](ctx, s.c, transport.Request{
		Method:  http.MethodPost,
		Path:    "/workorders",
		Body:    in,
		Handler: apierror.WorkOrderHandler(),
	})
}

// Update applies a partial update.
func (s *WorkOrderService) Update(ctx context.Context, id int64, in UpdateWorkOrder) (*WorkOrder, error) {
	return doJSON[*WorkOrder](ctx, s.c, transport.Request{
		Method:  http.MethodPatch,
		Path:    woPath(id),
		Body:    in,
		Handler: apierror.WorkOrderHandler(),
	})
}

// Delete removes a work order.
func (s *WorkOrderService) Delete(ctx context.Context, id int64) error {
	return doEmpty(ctx, s.c, transport.Request{
		Method:  http.MethodDelete,
		Path:    woPath(id),
		Handler: apierror.WorkOrderHandler(),
	})
}

// Complete marks a work order completed.
func (s *WorkOrderService) Complete(ctx context.Context, id int64) (*WorkOrder, error) {
	return doJSON[*WorkOrder](ctx, s.c, transport.Request{
		Method:  http.MethodPost,
		Path:    woPath(id) + "/complete",
		Handler: apierror.WorkOrderHandler(),
	})
}

func woPath(id int64) string {
	return fmt.Sprintf("/workorders/%d", id)
}
