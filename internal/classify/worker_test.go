package classify

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeClassifier struct {
	classifyFn func(ctx context.Context, submissionID string) (Result, error)
}

func (f *fakeClassifier) Classify(ctx context.Context, submissionID string) (Result, error) {
	return f.classifyFn(ctx, submissionID)
}

type fakeResultStore struct {
	saved []string
	stale bool
	err   error
}

func (f *fakeResultStore) SaveClassification(_ context.Context, submissionID, category string, confidence float64) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.stale {
		return false, nil
	}
	f.saved = append(f.saved, submissionID+"="+category)
	return true, nil
}

func newTestWorker(queue *Queue, classifier Classifier, store ResultStore) *Worker {
	worker := NewWorker(queue, classifier, store)
	worker.backoff = time.Millisecond
	return worker
}

func TestWorkerPersistsResult(t *testing.T) {
	queue := testQueue(t)
	results := &fakeResultStore{}
	worker := newTestWorker(queue, &fakeClassifier{
		classifyFn: func(_ context.Context, submissionID string) (Result, error) {
			return Result{Category: "expedited", Confidence: 0.91}, nil
		},
	}, results)

	ctx := context.Background()
	if err := queue.Enqueue(ctx, "sub_1"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	job, ok, err := queue.Dequeue(ctx, time.Second)
	if err != nil || !ok {
		t.Fatalf("dequeue: ok=%v err=%v", ok, err)
	}

	worker.process(ctx, job)

	if len(results.saved) != 1 || results.saved[0] != "sub_1=expedited" {
		t.Fatalf("unexpected saves %v", results.saved)
	}
}

func TestWorkerRetriesThenSucceeds(t *testing.T) {
	queue := testQueue(t)
	results := &fakeResultStore{}
	attempts := 0
	worker := newTestWorker(queue, &fakeClassifier{
		classifyFn: func(context.Context, string) (Result, error) {
			attempts++
			if attempts < 2 {
				return Result{}, errors.New("classifier warming up")
			}
			return Result{Category: "full_board", Confidence: 0.77}, nil
		},
	}, results)

	ctx := context.Background()
	if err := queue.Enqueue(ctx, "sub_1"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// First attempt fails and requeues; the second drains the requeued job.
	for i := 0; i < 2; i++ {
		job, ok, err := queue.Dequeue(ctx, time.Second)
		if err != nil || !ok {
			t.Fatalf("dequeue %d: ok=%v err=%v", i, ok, err)
		}
		worker.process(ctx, job)
	}

	if attempts != 2 {
		t.Fatalf("expected 2 classify attempts, got %d", attempts)
	}
	if len(results.saved) != 1 {
		t.Fatalf("expected result persisted after retry, got %v", results.saved)
	}
}

func TestWorkerDropsStaleResult(t *testing.T) {
	queue := testQueue(t)
	results := &fakeResultStore{stale: true}
	worker := newTestWorker(queue, &fakeClassifier{
		classifyFn: func(context.Context, string) (Result, error) {
			return Result{Category: "expedited", Confidence: 0.88}, nil
		},
	}, results)

	ctx := context.Background()
	worker.process(ctx, Job{SubmissionID: "sub_1"})

	if len(results.saved) != 0 {
		t.Fatalf("stale result must not be recorded, got %v", results.saved)
	}
	if _, ok, _ := queue.Dequeue(ctx, 50*time.Millisecond); ok {
		t.Fatalf("stale job must not be requeued")
	}
}

func TestWorkerDropsExhaustedJob(t *testing.T) {
	queue := testQueue(t)
	results := &fakeResultStore{}
	worker := newTestWorker(queue, &fakeClassifier{
		classifyFn: func(context.Context, string) (Result, error) {
			return Result{}, errors.New("permanently broken")
		},
	}, results)

	ctx := context.Background()
	worker.process(ctx, Job{SubmissionID: "sub_1", Attempts: worker.maxAttempts - 1})

	if _, ok, _ := queue.Dequeue(ctx, 50*time.Millisecond); ok {
		t.Fatalf("exhausted job must not be requeued")
	}
	if len(results.saved) != 0 {
		t.Fatalf("nothing should be saved, got %v", results.saved)
	}
}
