package authorization

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

const inboxSize = 32

// Actor owns a Session and applies jobs to it one at a time. Commands
// returned by the session run on their own goroutines and post their result
// back into the inbox, so the session itself is never touched concurrently.
type Actor struct {
	session *Session
	inbox   chan func()
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	cmds    sync.WaitGroup
	logger  *zap.Logger
}

// NewActor starts an actor for session and runs its initial evaluation.
func NewActor(session *Session, logger *zap.Logger) *Actor {
	ctx, cancel := context.WithCancel(context.Background())
	a := &Actor{
		session: session,
		inbox:   make(chan func(), inboxSize),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		logger:  logger,
	}
	a.inbox <- func() { a.spawn(session.Start()) }
	go a.loop()
	return a
}

func (a *Actor) loop() {
	defer close(a.done)
	for {
		select {
		case job := <-a.inbox:
			job()
		case <-a.ctx.Done():
			return
		}
	}
}

// Do runs fn on the actor's goroutine and waits for it to finish. A Command
// returned by fn is started in the background.
func (a *Actor) Do(ctx context.Context, fn func(*Session) Command) error {
	finished := make(chan struct{})
	job := func() {
		a.spawn(fn(a.session))
		close(finished)
	}

	select {
	case a.inbox <- job:
	case <-a.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-finished:
		return nil
	case <-a.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send applies ev and returns the resulting snapshot together with the
// session's verdict on the event.
func (a *Actor) Send(ctx context.Context, ev Event) (Snapshot, error) {
	var (
		snap      Snapshot
		handleErr error
	)
	err := a.Do(ctx, func(s *Session) Command {
		cmd, err := s.Handle(ev)
		handleErr = err
		snap = s.Snapshot()
		return cmd
	})
	if err != nil {
		return Snapshot{}, err
	}
	return snap, handleErr
}

// Snapshot returns the current render state.
func (a *Actor) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := a.Do(ctx, func(s *Session) Command {
		snap = s.Snapshot()
		return nil
	})
	return snap, err
}

// Post queues ev without waiting. onResult, if set, receives the session's
// verdict on the event from the actor goroutine.
func (a *Actor) Post(ev Event, onResult func(error)) {
	job := func() {
		cmd, err := a.session.Handle(ev)
		if onResult != nil {
			onResult(err)
		} else if err != nil && !errors.Is(err, ErrStaleHandoff) {
			a.logger.Warn("Background event rejected", zap.Error(err))
		}
		a.spawn(cmd)
	}
	select {
	case a.inbox <- job:
	case <-a.ctx.Done():
	}
}

func (a *Actor) spawn(cmd Command) {
	if cmd == nil {
		return
	}
	a.cmds.Add(1)
	go func() {
		defer a.cmds.Done()
		if ev := cmd(a.ctx); ev != nil {
			a.Post(ev, nil)
		}
	}()
}

// Close stops the actor. Outstanding commands see their context cancelled;
// their results are discarded.
func (a *Actor) Close() {
	a.cancel()
	<-a.done
	a.cmds.Wait()
}
