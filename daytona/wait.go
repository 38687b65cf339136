package daytona

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/daytonaio/sdk-go/internal/api"
	"github.com/daytonaio/sdk-go/internal/backoff"
	"github.com/daytonaio/sdk-go/internal/eventbus"
)

// 状态等待的轮询间隔。
const (
	// eventSafetyPollInterval 是收到事件推送时的兜底轮询间隔，重连期间可能丢失事件
	eventSafetyPollInterval = 3 * time.Second
	fallbackPollInterval    = 100 * time.Millisecond
)

func isState(targets ...SandboxState) func(SandboxState) bool {
	return func(state SandboxState) bool {
		for _, t := range targets {
			if state == t {
				return true
			}
		}
		return false
	}
}

// WaitForState 等待沙箱进入 targets 中的任意状态，进入 failures 中的状态时返回错误。
func (s *Sandbox) WaitForState(ctx context.Context, targets, failures []SandboxState, opts ...Option) error {
	const op = "Failed to wait for sandbox state"
	ctx, cancel, o, err := begin(ctx, op, opts)
	defer cancel()
	if err != nil {
		return err
	}
	return s.waitFor(ctx, op, isState(targets...), failures, o.pollPeriod)
}

// WaitForStart 等待沙箱进入 started 状态。
func (s *Sandbox) WaitForStart(ctx context.Context, opts ...Option) error {
	const op = "Failed to wait for sandbox start"
	ctx, cancel, o, err := begin(ctx, op, opts)
	defer cancel()
	if err != nil {
		return err
	}
	return s.waitFor(ctx, op, isState(StateStarted), []SandboxState{StateError, StateBuildFailed}, o.pollPeriod)
}

// WaitForStop 等待沙箱进入 stopped 状态，停止后被删除的沙箱视为已停止。
func (s *Sandbox) WaitForStop(ctx context.Context, opts ...Option) error {
	const op = "Failed to wait for sandbox stop"
	ctx, cancel, o, err := begin(ctx, op, opts)
	defer cancel()
	if err != nil {
		return err
	}
	return s.waitFor(ctx, op, isState(StateStopped, StateDestroyed), []SandboxState{StateError}, o.pollPeriod)
}

// WaitForResize 等待沙箱离开 resizing 状态。
func (s *Sandbox) WaitForResize(ctx context.Context, opts ...Option) error {
	const op = "Failed to wait for sandbox resize"
	ctx, cancel, o, err := begin(ctx, op, opts)
	defer cancel()
	if err != nil {
		return err
	}
	done := func(state SandboxState) bool { return state != StateResizing }
	return s.waitFor(ctx, op, done, []SandboxState{StateError, StateBuildFailed}, o.pollPeriod)
}

// waitFor 实现状态等待：已满足时立即返回；事件总线可用时订阅事件并以 3 秒间隔兜底轮询，
// 否则每 100 毫秒轮询一次。不假设状态单调变化。
func (s *Sandbox) waitFor(ctx context.Context, op string, done func(SandboxState) bool, failures []SandboxState, pollPeriod time.Duration) error {
	failed := isState(failures...)
	check := func() (bool, error) {
		s.mu.RLock()
		state, reason := s.info.State, s.info.ErrorReason
		s.mu.RUnlock()
		switch {
		case done(state):
			return true, nil
		case failed(state), state.IsTerminal():
			msg := fmt.Sprintf("sandbox %s entered state %s", s.ID(), state)
			if reason != "" {
				msg += ", error reason: " + reason
			}
			return false, &Error{Kind: KindGeneric, Op: op, Message: msg}
		}
		return false, nil
	}

	if ok, err := check(); ok || err != nil {
		return err
	}

	var err error
	if bus := s.client.bus; bus != nil && !bus.IsFailed() {
		var subscribed bool
		subscribed, err = s.waitWithEvents(ctx, bus, check, pollPeriod)
		if subscribed {
			return s.waitError(op, err)
		}
		s.client.logger.Debug("event bus unavailable, falling back to polling", zap.String("sandboxId", s.ID()), zap.Error(err))
	}

	interval := fallbackPollInterval
	if pollPeriod > 0 {
		interval = pollPeriod
	}
	_, err = pollLoop(ctx, backoff.Fixed(interval), func(ctx context.Context) (bool, struct{}, error) {
		if err := s.refreshAfterRemoval(ctx); err != nil {
			return false, struct{}{}, err
		}
		ok, err := check()
		return ok, struct{}{}, err
	})
	return s.waitError(op, err)
}

func (s *Sandbox) waitError(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsTimeout(wrapError(op, err)) {
		return &Error{Kind: KindTimeout, Op: op, Message: fmt.Sprintf("sandbox %s did not reach the expected state in time (current state %s)", s.ID(), s.State()), Err: err}
	}
	return wrapError(op, err)
}

// waitWithEvents 订阅沙箱事件等待状态变化。订阅失败时返回 false，由调用方改为轮询。
func (s *Sandbox) waitWithEvents(ctx context.Context, bus *eventbus.Bus, check func() (bool, error), pollPeriod time.Duration) (bool, error) {
	notify := make(chan struct{}, 1)
	unsubscribe, err := bus.Subscribe(ctx, s.ID(), func(ev eventbus.Event) {
		s.applyEvent(ev)
		select {
		case notify <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return false, err
	}
	defer unsubscribe()

	interval := eventSafetyPollInterval
	if pollPeriod > 0 {
		interval = pollPeriod
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case <-notify:
		case <-ticker.C:
			if err := s.refreshAfterRemoval(ctx); err != nil {
				return true, err
			}
		}
		if ok, err := check(); ok || err != nil {
			return true, err
		}
	}
}

type sandboxEvent struct {
	Sandbox         *api.Sandbox     `json:"sandbox"`
	NewState        api.SandboxState `json:"newState"`
	NewDesiredState string           `json:"newDesiredState"`
}

// applyEvent 把事件中的部分视图合并到本地信息。
func (s *Sandbox) applyEvent(ev eventbus.Event) {
	var payload sandboxEvent
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		s.client.logger.Debug("ignoring malformed sandbox event", zap.String("event", ev.Name), zap.Error(err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch ev.Name {
	case eventbus.EventStateUpdated:
		state := payload.NewState
		if state == "" && payload.Sandbox != nil {
			state = payload.Sandbox.State
		}
		if state != "" {
			s.info.State = state
		}
		if payload.Sandbox != nil {
			s.info.ErrorReason = payload.Sandbox.ErrorReason
			s.info.Recoverable = payload.Sandbox.Recoverable
			if t := parseTime(payload.Sandbox.UpdatedAt); !t.IsZero() {
				s.info.UpdatedAt = t
			}
		}
	case eventbus.EventDesiredStateUpdated:
		if payload.NewDesiredState != "" {
			s.info.DesiredState = payload.NewDesiredState
		} else if payload.Sandbox != nil {
			s.info.DesiredState = payload.Sandbox.DesiredState
		}
	case eventbus.EventCreated:
		if payload.Sandbox != nil && payload.Sandbox.ID == s.info.ID {
			s.info = sandboxInfoFromAPI(payload.Sandbox)
		}
	}
}
