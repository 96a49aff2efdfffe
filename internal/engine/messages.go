package engine

import (
	"fmt"

	"examline/internal/domain"
	"examline/internal/notify"
)

// Message kinds, also sent as the webhook kind header.
const (
	KindAssigned       = "item.assigned"
	KindReassignedAway = "item.reassigned_away"
	KindIdleReminder   = "item.idle_reminder"
	KindBatchAssigned  = "items.distributed"
)

func recipient(w domain.Worker) string {
	if w.Email != "" {
		return w.Email
	}
	return w.ID
}

func assignedMessage(w domain.Worker, it domain.WorkItem) notify.Message {
	return notify.Message{
		To:       recipient(w),
		WorkerID: w.ID,
		Kind:     KindAssigned,
		Subject:  "New copy assigned",
		Body:     fmt.Sprintf("Hello %s,\n\nCopy %s of job %s has been assigned to you.", w.Name, it.ID, it.JobID),
	}
}

func reassignedAwayMessage(w domain.Worker, it domain.WorkItem, reason string) notify.Message {
	body := fmt.Sprintf("Hello %s,\n\nCopy %s of job %s has been reassigned to another examiner.", w.Name, it.ID, it.JobID)
	if reason == domain.ReasonAutomatic {
		body += " It had no activity for longer than the allowed period."
	}
	return notify.Message{
		To:       recipient(w),
		WorkerID: w.ID,
		Kind:     KindReassignedAway,
		Subject:  "Copy reassigned",
		Body:     body,
	}
}

func idleReminderMessage(w domain.Worker, it domain.WorkItem, idleHours, deadlineHours float64) notify.Message {
	body := fmt.Sprintf("Hello %s,\n\nCopy %s of job %s has been waiting for %.0f hours. It will be reassigned after %.0f hours without completion.",
		w.Name, it.ID, it.JobID, idleHours, deadlineHours)
	return notify.Message{
		To:       recipient(w),
		WorkerID: w.ID,
		Kind:     KindIdleReminder,
		Subject:  "Reminder: pending copy",
		Body:     body,
	}
}

func batchAssignedMessage(w domain.Worker, jobID string, count int) notify.Message {
	return notify.Message{
		To:       recipient(w),
		WorkerID: w.ID,
		Kind:     KindBatchAssigned,
		Subject:  "New copies assigned",
		Body:     fmt.Sprintf("Hello %s,\n\n%d copies of job %s have been assigned to you.", w.Name, count, jobID),
	}
}
