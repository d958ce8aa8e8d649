package receipt

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/hibiken/asynq"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// mockEnqueuer is a mock implementation of Enqueuer
type mockEnqueuer struct {
	tasks  []*asynq.Task
	opts   [][]asynq.Option
	err    error
	closed bool
}

func (m *mockEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.tasks = append(m.tasks, task)
	m.opts = append(m.opts, opts)
	return &asynq.TaskInfo{ID: "task-1", Queue: "receipts"}, nil
}

func (m *mockEnqueuer) Close() error {
	m.closed = true
	return nil
}

var _ = Describe("QueueDispatcher", func() {
	var (
		client     *mockEnqueuer
		dispatcher *QueueDispatcher
		job        Job
		err        error
	)

	BeforeEach(func() {
		client = &mockEnqueuer{}
		job = Job{ReceiptID: "rcpt-1", ContentType: "image/png", Image: []byte{1, 2, 3}, Record: parsedRecord()}
	})

	JustBeforeEach(func() {
		dispatcher = NewQueueDispatcherWithClient(client, QueueConfig{})
		err = dispatcher.Dispatch(context.Background(), job)
	})

	It("enqueues a side effect task with the job as payload", func() {
		Expect(err).NotTo(HaveOccurred())
		Expect(client.tasks).To(HaveLen(1))
		Expect(client.tasks[0].Type()).To(Equal(TypeSideEffects))

		var decodedJob Job
		Expect(json.Unmarshal(client.tasks[0].Payload(), &decodedJob)).To(Succeed())
		Expect(decodedJob.ReceiptID).To(Equal("rcpt-1"))
		Expect(decodedJob.Image).To(Equal([]byte{1, 2, 3}))
		Expect(decodedJob.Record.Totals.Total.String()).To(Equal("245.00"))
		Expect(decodedJob.Record.Items[0].Title).To(Equal("Pad Kaling Kaling"))
	})

	It("applies the default queue options", func() {
		Expect(dispatcher.cfg).To(Equal(QueueConfig{Queue: "receipts", MaxRetry: 5, Concurrency: 4}))
	})

	When("enqueueing fails", func() {
		BeforeEach(func() {
			client.err = errBoom
		})

		It("returns the error", func() {
			Expect(err).To(MatchError(errBoom))
			Expect(err.Error()).To(ContainSubstring("enqueueing task"))
		})
	})

	It("closes the client", func() {
		Expect(dispatcher.Close()).To(Succeed())
		Expect(client.closed).To(BeTrue())
	})
})

var _ = Describe("QueueWorker", func() {
	var (
		runner *mockRunner
		worker *QueueWorker
	)

	BeforeEach(func() {
		runner = &mockRunner{}
		worker = &QueueWorker{runner: runner}
	})

	It("runs the decoded job", func() {
		payload, err := json.Marshal(Job{ReceiptID: "rcpt-1", Record: parsedRecord()})
		Expect(err).NotTo(HaveOccurred())

		Expect(worker.HandleTask(context.Background(), asynq.NewTask(TypeSideEffects, payload))).To(Succeed())
		Expect(runner.ran()).To(Equal([]string{"rcpt-1"}))
	})

	It("returns runner errors so the task is retried", func() {
		runner.err = errBoom
		Expect(worker.HandleTask(context.Background(), asynq.NewTask(TypeSideEffects, []byte(`{"receipt_id":"x"}`)))).To(MatchError(errBoom))
	})

	It("skips retries for malformed payloads", func() {
		err := worker.HandleTask(context.Background(), asynq.NewTask(TypeSideEffects, []byte("{")))
		Expect(errors.Is(err, asynq.SkipRetry)).To(BeTrue())
		Expect(runner.ran()).To(BeEmpty())
	})
})
