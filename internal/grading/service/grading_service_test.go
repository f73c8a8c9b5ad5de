package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"codeassess/internal/common/mq"
	"codeassess/internal/grading"
	"codeassess/internal/grading/repository"
	"codeassess/internal/grading/service"
	"codeassess/internal/judge/model"
	appErr "codeassess/pkg/errors"
)

type fakeGrader struct {
	called int
	cfg    grading.GradingConfig
	result *grading.HybridGradingResult
	err    error
}

func (f *fakeGrader) Grade(ctx context.Context, sub grading.Submission, cfg grading.GradingConfig, taskDescription string) (*grading.HybridGradingResult, error) {
	f.called++
	f.cfg = cfg
	if f.err != nil {
		return nil, f.err
	}
	out := *f.result
	out.SubmissionID = sub.ID
	return &out, nil
}

type fakeRecords struct {
	saves    int
	statuses []repository.Status
	records  map[string]repository.GradingRecord
	saveErr  error
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{records: make(map[string]repository.GradingRecord)}
}

func (f *fakeRecords) Get(ctx context.Context, submissionID string) (*repository.GradingRecord, error) {
	record, ok := f.records[submissionID]
	if !ok {
		return nil, appErr.New(appErr.SubmissionNotFound)
	}
	return &record, nil
}

func (f *fakeRecords) Save(ctx context.Context, record *repository.GradingRecord) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saves++
	f.statuses = append(f.statuses, record.Status)
	f.records[record.SubmissionID] = *record
	return nil
}

type fakeEvents struct {
	called int
	last   repository.GradingRecord
}

func (f *fakeEvents) PublishFinal(ctx context.Context, record *repository.GradingRecord) error {
	f.called++
	f.last = *record
	return nil
}

type publishedMessage struct {
	topic string
	msg   *mq.Message
}

type fakeQueue struct {
	published []publishedMessage
}

func (f *fakeQueue) Publish(ctx context.Context, topic string, message *mq.Message) error {
	f.published = append(f.published, publishedMessage{topic: topic, msg: message})
	return nil
}

type harness struct {
	grader  *fakeGrader
	records *fakeRecords
	events  *fakeEvents
	queue   *fakeQueue
	svc     *service.Service
}

func newHarness(t *testing.T, grader *fakeGrader) *harness {
	t.Helper()
	h := &harness{
		grader:  grader,
		records: newFakeRecords(),
		events:  &fakeEvents{},
		queue:   &fakeQueue{},
	}
	svc, err := service.New(service.Config{
		Grader:        grader,
		Records:       h.records,
		Events:        h.events,
		Queue:         h.queue,
		BusyRetry:     service.BusyRetryPolicy{Topic: "grading.tasks.retry", DeadLetter: "grading.tasks.dead", MaxAttempts: 2},
		DefaultConfig: grading.DefaultGradingConfig(),
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	h.svc = svc
	return h
}

func taskMessage(t *testing.T, task service.GradingTask) *mq.Message {
	t.Helper()
	body, err := json.Marshal(task)
	if err != nil {
		t.Fatalf("marshal task: %v", err)
	}
	msg := mq.NewMessage(body)
	msg.ID = task.SubmissionID
	return msg
}

func validTask() service.GradingTask {
	return service.GradingTask{
		SubmissionID: "s-1",
		Language:     model.LanguagePython,
		Source:       "print(input())\n",
		Tests:        []model.TestCase{{ID: "t1", Input: "1\n", Output: "1\n"}},
		Limits:       model.Limits{TimeLimitMs: 1000, MemoryLimitMB: 256},
	}
}

func gradedResult() *grading.HybridGradingResult {
	return &grading.HybridGradingResult{Stage: grading.StageAggregate, Passed: true, FinalScore: 0.9, GradePoints: 11, MaxPoints: 12}
}

func TestHandleMessageGradesAndPublishes(t *testing.T) {
	h := newHarness(t, &fakeGrader{result: gradedResult()})

	if err := h.svc.HandleMessage(context.Background(), taskMessage(t, validTask())); err != nil {
		t.Fatalf("handle: %v", err)
	}
	want := []repository.Status{repository.StatusPending, repository.StatusRunning, repository.StatusFinished}
	if len(h.records.statuses) != len(want) {
		t.Fatalf("statuses = %v, want %v", h.records.statuses, want)
	}
	for i := range want {
		if h.records.statuses[i] != want[i] {
			t.Fatalf("statuses = %v, want %v", h.records.statuses, want)
		}
	}
	if h.grader.called != 1 || h.grader.cfg.MaxPoints != grading.DefaultMaxPoints {
		t.Fatalf("grader called=%d cfg=%+v", h.grader.called, h.grader.cfg)
	}
	if h.events.called != 1 || h.events.last.Result == nil || h.events.last.Result.GradePoints != 11 {
		t.Fatalf("events = %+v", h.events)
	}
	if h.records.records["s-1"].Attempts != 1 {
		t.Fatalf("attempts = %d", h.records.records["s-1"].Attempts)
	}
}

func TestHandleMessageUsesTaskConfig(t *testing.T) {
	h := newHarness(t, &fakeGrader{result: gradedResult()})
	task := validTask()
	cfg := grading.DefaultGradingConfig()
	cfg.MaxPoints = 100
	task.Config = &cfg

	if err := h.svc.HandleMessage(context.Background(), taskMessage(t, task)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if h.grader.cfg.MaxPoints != 100 {
		t.Fatalf("max points = %d, want task override", h.grader.cfg.MaxPoints)
	}
}

func TestHandleMessageAlreadyFinished(t *testing.T) {
	h := newHarness(t, &fakeGrader{result: gradedResult()})
	h.records.records["s-1"] = repository.GradingRecord{SubmissionID: "s-1", Status: repository.StatusFinished, Result: gradedResult()}

	if err := h.svc.HandleMessage(context.Background(), taskMessage(t, validTask())); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if h.grader.called != 0 || h.records.saves != 0 {
		t.Fatalf("finished task must not be regraded: grader=%d saves=%d", h.grader.called, h.records.saves)
	}
	if h.events.called != 1 {
		t.Fatalf("final event must be republished, got %d", h.events.called)
	}
}

func TestHandleMessageBusyRequeues(t *testing.T) {
	h := newHarness(t, &fakeGrader{err: appErr.Busy("")})
	msg := taskMessage(t, validTask())

	if err := h.svc.HandleMessage(context.Background(), msg); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(h.queue.published) != 1 || h.queue.published[0].topic != "grading.tasks.retry" {
		t.Fatalf("published = %+v", h.queue.published)
	}
	if got := service.ParseBusyRetryCount(h.queue.published[0].msg.Headers); got != 1 {
		t.Fatalf("retry count = %d", got)
	}
	if h.records.records["s-1"].Status != repository.StatusPending || h.events.called != 0 {
		t.Fatalf("busy task must go back to pending without a final event: %+v", h.records.records["s-1"])
	}
}

func TestHandleMessageBusyExhaustedGoesToDeadLetter(t *testing.T) {
	h := newHarness(t, &fakeGrader{err: appErr.Busy("")})
	msg := taskMessage(t, validTask())
	msg.SetHeader("x-busy-retry", "2")

	if err := h.svc.HandleMessage(context.Background(), msg); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(h.queue.published) != 1 || h.queue.published[0].topic != "grading.tasks.dead" {
		t.Fatalf("published = %+v", h.queue.published)
	}
}

func TestHandleMessageProtocolErrorFails(t *testing.T) {
	h := newHarness(t, &fakeGrader{err: appErr.New(appErr.JudgeBadJSON).WithMessage("worker printed garbage")})

	if err := h.svc.HandleMessage(context.Background(), taskMessage(t, validTask())); err != nil {
		t.Fatalf("protocol errors must not be redelivered: %v", err)
	}
	record := h.records.records["s-1"]
	if record.Status != repository.StatusFailed || record.ErrorName != "JUDGE_BAD_JSON" {
		t.Fatalf("record = %+v", record)
	}
	if h.events.called != 1 || len(h.queue.published) != 0 {
		t.Fatalf("events=%d published=%d", h.events.called, len(h.queue.published))
	}
}

func TestHandleMessageInvalidTaskFails(t *testing.T) {
	h := newHarness(t, &fakeGrader{result: gradedResult()})
	task := validTask()
	task.Language = "rust"

	if err := h.svc.HandleMessage(context.Background(), taskMessage(t, task)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if h.grader.called != 0 {
		t.Fatal("invalid task must not be graded")
	}
	record := h.records.records["s-1"]
	if record.Status != repository.StatusFailed || record.ErrorCode != int(appErr.LanguageNotSupported) {
		t.Fatalf("record = %+v", record)
	}
}

func TestHandleMessageUndecodableIsDropped(t *testing.T) {
	h := newHarness(t, &fakeGrader{result: gradedResult()})
	if err := h.svc.HandleMessage(context.Background(), mq.NewMessage([]byte("{not json"))); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if h.records.saves != 0 || h.grader.called != 0 {
		t.Fatalf("saves=%d grader=%d", h.records.saves, h.grader.called)
	}
}

func TestHandleMessageInfrastructureErrorRedelivers(t *testing.T) {
	boom := errors.New("redis down")
	h := newHarness(t, &fakeGrader{err: boom})
	if err := h.svc.HandleMessage(context.Background(), taskMessage(t, validTask())); !errors.Is(err, boom) {
		t.Fatalf("expected grader error, got %v", err)
	}
	if h.records.records["s-1"].Status != repository.StatusRunning || h.events.called != 0 {
		t.Fatalf("record = %+v events=%d", h.records.records["s-1"], h.events.called)
	}
}

func TestHandleMessageSaveErrorRedelivers(t *testing.T) {
	h := newHarness(t, &fakeGrader{result: gradedResult()})
	h.records.saveErr = appErr.New(appErr.CacheError)
	if err := h.svc.HandleMessage(context.Background(), taskMessage(t, validTask())); !appErr.Is(err, appErr.CacheError) {
		t.Fatalf("expected CacheError, got %v", err)
	}
	if h.grader.called != 0 {
		t.Fatal("grading must not start before the pending record is stored")
	}
}

func TestNewRequiresDependencies(t *testing.T) {
	t.Parallel()
	if _, err := service.New(service.Config{}); err == nil {
		t.Fatal("expected error without grader")
	}
	if _, err := service.New(service.Config{Grader: &fakeGrader{}}); err == nil {
		t.Fatal("expected error without record store")
	}
}

func TestComputeBusyBackoff(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		retry int
		base  time.Duration
		max   time.Duration
		want  time.Duration
	}{
		{name: "zero base", retry: 3, base: 0, max: time.Second, want: 0},
		{name: "first", retry: 0, base: 100 * time.Millisecond, max: time.Second, want: 100 * time.Millisecond},
		{name: "doubles", retry: 2, base: 100 * time.Millisecond, max: time.Second, want: 400 * time.Millisecond},
		{name: "capped", retry: 10, base: 100 * time.Millisecond, max: time.Second, want: time.Second},
		{name: "base above max", retry: 0, base: 2 * time.Second, max: time.Second, want: time.Second},
		{name: "no cap", retry: 3, base: time.Millisecond, max: 0, want: 8 * time.Millisecond},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := service.ComputeBusyBackoff(tt.retry, tt.base, tt.max); got != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestParseBusyRetryCount(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		headers map[string]string
		want    int
	}{
		{name: "nil", headers: nil, want: 0},
		{name: "invalid", headers: map[string]string{"x-busy-retry": "bad"}, want: 0},
		{name: "negative", headers: map[string]string{"x-busy-retry": "-1"}, want: 0},
		{name: "ok", headers: map[string]string{"x-busy-retry": "3"}, want: 3},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := service.ParseBusyRetryCount(tt.headers); got != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestRequeueBusyPublishesWithNotBefore(t *testing.T) {
	t.Parallel()
	queue := &fakeQueue{}
	policy := service.BusyRetryPolicy{Topic: "retry", BaseDelay: time.Hour, MaxDelay: 2 * time.Hour}
	msg := mq.NewMessage([]byte("task"))
	msg.Headers["x-busy-retry"] = "1"
	start := time.Now()
	if err := service.RequeueBusy(context.Background(), queue, policy, msg); err != nil {
		t.Fatalf("RequeueBusy: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("RequeueBusy blocked for %v", elapsed)
	}
	if len(queue.published) != 1 {
		t.Fatalf("published = %+v", queue.published)
	}
	got := queue.published[0].msg
	if got.Headers["x-busy-retry"] != "2" {
		t.Fatalf("retry header = %q", got.Headers["x-busy-retry"])
	}
	if wait := got.NotBefore.Sub(start); wait < 2*time.Hour-time.Minute || wait > 2*time.Hour+time.Minute {
		t.Fatalf("NotBefore is %v after start, want about 2h", wait)
	}
}

func TestRequeueBusyDeadLetterHasNoDelay(t *testing.T) {
	t.Parallel()
	queue := &fakeQueue{}
	policy := service.BusyRetryPolicy{Topic: "retry", DeadLetter: "dead", MaxAttempts: 1, BaseDelay: time.Hour}
	msg := mq.NewMessage(nil)
	msg.Headers["x-busy-retry"] = "1"
	if err := service.RequeueBusy(context.Background(), queue, policy, msg); err != nil {
		t.Fatalf("RequeueBusy: %v", err)
	}
	if len(queue.published) != 1 || queue.published[0].topic != "dead" {
		t.Fatalf("published = %+v", queue.published)
	}
	if !queue.published[0].msg.NotBefore.IsZero() {
		t.Fatalf("dead letter NotBefore = %v", queue.published[0].msg.NotBefore)
	}
}

func TestRequeueBusyWithoutRetryTopic(t *testing.T) {
	t.Parallel()
	err := service.RequeueBusy(context.Background(), &fakeQueue{}, service.BusyRetryPolicy{}, mq.NewMessage(nil))
	if !appErr.Is(err, appErr.ServiceUnavailable) {
		t.Fatalf("expected ServiceUnavailable, got %v", err)
	}
}
