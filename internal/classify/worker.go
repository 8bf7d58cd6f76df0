package classify

import (
	"context"
	"log"
	"time"
)

// Classifier is the external collaborator contract; *Client satisfies it.
type Classifier interface {
	Classify(ctx context.Context, submissionID string) (Result, error)
}

// ResultStore is the durable sink for classification results. SaveClassification
// reports whether the result was applied; a false return means the submission
// already moved past classification and the verdict was discarded.
type ResultStore interface {
	SaveClassification(ctx context.Context, submissionID, category string, confidence float64) (bool, error)
}

// Worker drains the queue and persists results. Each job gets maxAttempts
// tries with linear backoff; an exhausted job is dropped with a log line.
type Worker struct {
	queue       *Queue
	classifier  Classifier
	store       ResultStore
	maxAttempts int
	backoff     time.Duration
}

func NewWorker(queue *Queue, classifier Classifier, store ResultStore) *Worker {
	return &Worker{
		queue:       queue,
		classifier:  classifier,
		store:       store,
		maxAttempts: 3,
		backoff:     5 * time.Second,
	}
}

// Run processes jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, ok, err := w.queue.Dequeue(ctx, 5*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("classify: dequeue: %v", err)
			time.Sleep(w.backoff)
			continue
		}
		if !ok {
			continue
		}
		w.process(ctx, job)
	}
}

func (w *Worker) process(ctx context.Context, job Job) {
	job.Attempts++

	result, err := w.classifier.Classify(ctx, job.SubmissionID)
	if err != nil {
		if job.Attempts >= w.maxAttempts {
			log.Printf("classify: submission %s failed after %d attempts: %v", job.SubmissionID, job.Attempts, err)
			return
		}
		log.Printf("classify: submission %s attempt %d: %v (will retry)", job.SubmissionID, job.Attempts, err)
		time.Sleep(w.backoff * time.Duration(job.Attempts))
		if err := w.queue.push(ctx, job); err != nil {
			log.Printf("classify: requeue submission %s: %v", job.SubmissionID, err)
		}
		return
	}

	applied, err := w.store.SaveClassification(ctx, job.SubmissionID, result.Category, result.Confidence)
	if err != nil {
		log.Printf("classify: persist result for %s: %v", job.SubmissionID, err)
		return
	}
	if !applied {
		log.Printf("classify: submission %s already past classification, result dropped", job.SubmissionID)
		return
	}
	log.Printf("classify: submission %s classified as %s (%.2f)", job.SubmissionID, result.Category, result.Confidence)
}
