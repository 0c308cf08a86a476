package autopay

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/smallbiznis/gigledger/internal/eventbus"
	"github.com/smallbiznis/gigledger/internal/events"
	invoicedomain "github.com/smallbiznis/gigledger/internal/invoice/domain"
	marketdomain "github.com/smallbiznis/gigledger/internal/marketplace/domain"
)

// TaskReader resolves the invoice an approved task bills for.
type TaskReader interface {
	GetTask(ctx context.Context, projectID, taskID string) (*marketdomain.Task, error)
}

// ApprovalCharger charges the milestone invoice of a task once the
// commissioner approves it.
type ApprovalCharger struct {
	svc   *Service
	tasks TaskReader
}

func NewApprovalCharger(svc *Service, tasks TaskReader) *ApprovalCharger {
	return &ApprovalCharger{svc: svc, tasks: tasks}
}

// Register subscribes the charger to task approvals.
func Register(bus *eventbus.Bus, c *ApprovalCharger) {
	bus.On(events.NameTaskApproved, c.TaskApproved)
}

// TaskApproved returns a nil value when there is nothing to charge: no linked
// invoice, a manual invoice, or one that already left sent.
func (c *ApprovalCharger) TaskApproved(ctx context.Context, payload any) (any, error) {
	var ev events.TaskApproved
	switch v := payload.(type) {
	case events.TaskApproved:
		ev = v
	case *events.TaskApproved:
		if v == nil {
			return nil, fmt.Errorf("unexpected payload %T", payload)
		}
		ev = *v
	default:
		return nil, fmt.Errorf("unexpected payload %T", payload)
	}

	task, err := c.tasks.GetTask(ctx, ev.ProjectID, ev.TaskID)
	if errors.Is(err, marketdomain.ErrNotFound) || (err == nil && task == nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	number := strings.TrimSpace(task.InvoiceNumber)
	if number == "" {
		return nil, nil
	}

	att, err := c.svc.AttemptInitial(ctx, number)
	switch {
	case err == nil:
		return att, nil
	case errors.Is(err, invoicedomain.ErrNotAutoMilestone),
		errors.Is(err, invoicedomain.ErrInvalidTransition),
		errors.Is(err, invoicedomain.ErrInvoiceNotFound):
		return nil, nil
	default:
		return nil, err
	}
}
