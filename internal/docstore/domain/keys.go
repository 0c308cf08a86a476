package domain

import (
	"fmt"
	"time"
)

const (
	PrefixEvents         = "events/"
	PrefixEventIndexUser = "event_index/user/"
	PrefixEventIndexProj = "event_index/project/"
	PrefixEventIndexID   = "event_index/id/"
	PrefixEventState     = "event_state/"
	PrefixDedup          = "dedup/"
	PrefixInvoices       = "invoices/"
	PrefixProjects       = "projects/"
	PrefixTasks          = "tasks/"
	PrefixUsers          = "users/"
	PrefixOrganizations  = "organizations/"
	PrefixWallets        = "wallets/"
	PrefixReconRuns      = "reconciliation/runs/"
)

// EventKey partitions events by UTC day.
func EventKey(ts time.Time, eventID string) string {
	return fmt.Sprintf("%s%s/%s", PrefixEvents, ts.UTC().Format("2006-01-02"), eventID)
}

func UserIndexKey(userID int64, eventID string) string {
	return fmt.Sprintf("%s%d/%s", PrefixEventIndexUser, userID, eventID)
}

func UserIndexPrefix(userID int64) string {
	return fmt.Sprintf("%s%d/", PrefixEventIndexUser, userID)
}

func ProjectIndexKey(projectID, eventID string) string {
	return PrefixEventIndexProj + projectID + "/" + eventID
}

func ProjectIndexPrefix(projectID string) string {
	return PrefixEventIndexProj + projectID + "/"
}

func EventIDIndexKey(eventID string) string {
	return PrefixEventIndexID + eventID
}

func EventStateKey(eventID string, userID int64) string {
	return fmt.Sprintf("%s%s/%d", PrefixEventState, eventID, userID)
}

func DedupKey(fingerprint string) string {
	return PrefixDedup + fingerprint
}

func InvoiceKey(invoiceNumber string) string {
	return PrefixInvoices + invoiceNumber
}

func ProjectKey(projectID string) string {
	return PrefixProjects + projectID
}

func TaskKey(projectID, taskID string) string {
	return PrefixTasks + projectID + "/" + taskID
}

func TaskPrefix(projectID string) string {
	return PrefixTasks + projectID + "/"
}

func UserKey(userID int64) string {
	return fmt.Sprintf("%s%d", PrefixUsers, userID)
}

func OrganizationKey(orgID string) string {
	return PrefixOrganizations + orgID
}

func WalletKey(userID int64) string {
	return fmt.Sprintf("%s%d", PrefixWallets, userID)
}

func ReconciliationRunKey(runID string) string {
	return PrefixReconRuns + runID
}
