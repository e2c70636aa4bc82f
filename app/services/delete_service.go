package services

import (
	"context"
	"fmt"
	"log"

	"inkpost/internal/core"
	"inkpost/pkg/device"
	"inkpost/pkg/transfer"
)

// DeleteService runs recursive folder deletes as jobs. The count pass and
// the delete itself are separate operations: front ends show the count in
// their confirmation prompt, then start the job.
type DeleteService struct {
	ctx     context.Context
	logger  *log.Logger
	deleter *transfer.Deleter
	jobs    *core.JobManager
	events  *LogService
}

// NewDeleteService creates a DeleteService over the shared session.
func NewDeleteService(ctx context.Context, logger *log.Logger, session *device.Session, jobs *core.JobManager, events *LogService) *DeleteService {
	return &DeleteService{
		ctx:     ctx,
		logger:  logger,
		deleter: transfer.NewDeleter(session, logger),
		jobs:    jobs,
		events:  events,
	}
}

// CountItems counts the files, subfolders and the folder itself without
// mutating anything. Used for confirmation prompts and progress totals.
func (s *DeleteService) CountItems(ctx context.Context, folderPath string) (int, error) {
	return s.deleter.CountItems(ctx, folderPath)
}

// DeleteTree starts the recursive delete of folderPath as a job and
// returns its id.
func (s *DeleteService) DeleteTree(folderPath string) (string, error) {
	if folderPath == "" || folderPath == "/" {
		return "", fmt.Errorf("refusing to delete device root")
	}

	jobID, jobCtx, err := s.jobs.StartJob(s.ctx, core.JobTypeDelete, fmt.Sprintf("Deleting %s", folderPath), map[string]string{"path": folderPath})
	if err != nil {
		return "", err
	}

	go s.runDelete(jobCtx, jobID, folderPath)
	return jobID, nil
}

func (s *DeleteService) runDelete(ctx context.Context, jobID, folderPath string) {
	result, err := s.deleter.DeleteTree(ctx, folderPath, func(processed, total int) {
		s.jobs.UpdateProgress(jobID, core.JobProgress{
			Phase:     "deleting",
			Processed: processed,
			Total:     total,
		}, "")
	})
	if err != nil {
		s.events.Error(CategoryDelete, fmt.Sprintf("Delete of %s failed: %v", folderPath, err))
		s.jobs.FailJob(jobID, &core.JobError{Message: jobErrorMessage(err)})
		return
	}

	switch result.Outcome {
	case transfer.DeleteComplete:
		s.events.Info(CategoryDelete, fmt.Sprintf("Deleted %s (%d items)", folderPath, result.Deleted))
		s.jobs.CompleteJob(jobID, fmt.Sprintf("Deleted %d items", result.Deleted))
	case transfer.DeletePartial:
		s.events.Warn(CategoryDelete, fmt.Sprintf("Partially deleted %s: %d removed, %d skipped", folderPath, result.Deleted, len(result.Skipped)))
		s.jobs.FailJob(jobID, &core.JobError{
			Message: fmt.Sprintf("Partially deleted: %d items could not be removed", len(result.Skipped)),
		})
	default:
		s.events.Error(CategoryDelete, fmt.Sprintf("Delete of %s failed: %d removed, %d skipped, aborted=%v", folderPath, result.Deleted, len(result.Skipped), result.Aborted))
		s.jobs.FailJob(jobID, &core.JobError{
			Message: "Delete failed: the folder survives on the device",
		})
	}
}
