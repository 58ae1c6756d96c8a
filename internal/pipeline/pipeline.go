// Package pipeline runs one dispatch: pick a draft, rewrite it (falling
// back to the original on any failure), and deliver it to the topic.
package pipeline

import (
	"context"
	"errors"
	"math/rand"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"versecast/internal/eventbus"
	"versecast/internal/message"
	"versecast/internal/push"
	"versecast/internal/rewrite"
	logx "versecast/pkg/logx"
)

type Deps struct {
	Picker Picker
	// Rewriter may be nil: drafts are then delivered as picked.
	Rewriter Rewriter
	Sender   Sender

	Log      logx.Logger
	Bus      eventbus.Bus
	Recorder Recorder
	// Rand drives retry jitter. Nil means time-seeded.
	Rand *rand.Rand
}

type Config struct {
	RewriteRetry  RetryPolicy
	DeliveryRetry RetryPolicy
}

type Pipeline struct {
	deps Deps
	cfg  Config
	log  logx.Logger
	rng  *lockedRand

	mu   sync.Mutex
	last *RunResult
}

func New(deps Deps, cfg Config) *Pipeline {
	if deps.Bus == nil {
		deps.Bus = eventbus.Nop{}
	}
	r := deps.Rand
	if r == nil {
		r = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Pipeline{
		deps: deps,
		cfg:  cfg,
		log:  deps.Log.With(logx.String("comp", "pipeline")),
		rng:  &lockedRand{r: r},
	}
}

// RunOnce performs one run. It never panics and never returns an error:
// every failure is folded into the RunResult.
func (p *Pipeline) RunOnce(ctx context.Context) RunResult {
	res := RunResult{ID: uuid.NewString(), StartedAt: time.Now()}
	log := p.log.With(logx.String("run_id", res.ID))

	if err := guard("pick", func() error {
		res.Selected = p.deps.Picker.PickRandom()
		return nil
	}); err != nil {
		res.Outcome = OutcomeDeliveryFailed
		res.DeliveryErr = err
		log.Error("pick failed", logx.Err(err), panicStack(err))
		return p.finish(log, res)
	}
	log.Info("draft picked", logx.String("title", res.Selected.Title))

	draft := p.rewrite(ctx, log, &res)
	res.Delivered = draft

	res.DeliveryAttempts, res.DeliveryErr = p.cfg.DeliveryRetry.run(ctx, p.rng, push.IsTemporary, func(ctx context.Context) error {
		return guard("deliver", func() error {
			var err error
			res.Receipt, err = p.deps.Sender.Send(ctx, draft)
			return err
		})
	})

	switch {
	case res.DeliveryErr == nil && res.RewriteErr != nil:
		res.Outcome = OutcomeDeliveredFallback
	case res.DeliveryErr == nil:
		res.Outcome = OutcomeDelivered
	case ctx.Err() != nil:
		res.Outcome = OutcomeCanceled
	default:
		res.Outcome = OutcomeDeliveryFailed
	}
	return p.finish(log, res)
}

// rewrite returns the draft to deliver. Any failure yields res.Selected unchanged.
func (p *Pipeline) rewrite(ctx context.Context, log logx.Logger, res *RunResult) message.Draft {
	orig := res.Selected
	if p.deps.Rewriter == nil {
		return orig
	}

	var out message.Draft
	res.RewriteAttempts, res.RewriteErr = p.cfg.RewriteRetry.run(ctx, p.rng, rewriteRetryable, func(ctx context.Context) error {
		return guard("rewrite", func() error {
			d, err := p.deps.Rewriter.Rewrite(ctx, orig)
			if err != nil {
				return err
			}
			// A rewriter that breaks the draft will break it again.
			if d.Title != orig.Title {
				return noRetry(errAlteredTitle)
			}
			if err := d.Validate(); err != nil {
				return noRetry(err)
			}
			out = d
			return nil
		})
	})
	if res.RewriteErr != nil {
		log.Warn("rewrite failed; using original",
			logx.Err(res.RewriteErr),
			logx.String("kind", rewriteKind(res.RewriteErr)),
			logx.Int("attempts", res.RewriteAttempts),
			panicStack(res.RewriteErr),
		)
		return orig
	}
	res.Rewritten = true
	log.Debug("rewrite applied", logx.String("body", out.Body))
	return out
}

func (p *Pipeline) finish(log logx.Logger, res RunResult) RunResult {
	res.Duration = time.Since(res.StartedAt)

	fields := []logx.Field{
		logx.String("outcome", string(res.Outcome)),
		logx.String("title", res.Delivered.Title),
		logx.Bool("rewritten", res.Rewritten),
		logx.Int("delivery_attempts", res.DeliveryAttempts),
		logx.Duration("took", res.Duration),
	}
	switch res.Outcome {
	case OutcomeDelivered, OutcomeDeliveredFallback:
		log.Info("run finished", append(fields, logx.String("message_id", res.Receipt.MessageID))...)
	case OutcomeCanceled:
		log.Warn("run canceled", append(fields, logx.Err(res.DeliveryErr))...)
	default:
		log.Error("run failed", append(fields, logx.Err(res.DeliveryErr), panicStack(res.DeliveryErr))...)
	}

	p.mu.Lock()
	cp := res
	p.last = &cp
	p.mu.Unlock()

	if p.deps.Recorder != nil {
		p.deps.Recorder.ObserveRun(res)
	}
	p.deps.Bus.Publish(eventbus.Event{Type: eventbus.TypeRunFinished, Data: res.Summary()})
	return res
}

// Last returns the most recent result, if any run has finished.
func (p *Pipeline) Last() (RunResult, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return RunResult{}, false
	}
	return *p.last, true
}

// Job adapts RunOnce to a scheduler job: a run that did not deliver is
// reported as an error so it shows up in scheduler history.
func (p *Pipeline) Job() func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return p.RunOnce(ctx).Err()
	}
}

var errAlteredTitle = errors.New("rewriter altered the title")

func rewriteRetryable(err error) bool {
	var re *rewrite.Error
	if errors.As(err, &re) {
		return re.Temporary()
	}
	var pe *PanicError
	return !errors.As(err, &pe)
}

func rewriteKind(err error) string {
	var re *rewrite.Error
	if errors.As(err, &re) {
		return string(re.Kind)
	}
	var pe *PanicError
	if errors.As(err, &pe) {
		return "panic"
	}
	return "invalid"
}

func panicStack(err error) logx.Field {
	var pe *PanicError
	if errors.As(err, &pe) {
		return logx.Stack(pe.Stack)
	}
	return nil
}

// guard runs fn and converts a panic into a *PanicError.
func guard(stage string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Stage: stage, Value: r, Stack: string(debug.Stack())}
		}
	}()
	return fn()
}
