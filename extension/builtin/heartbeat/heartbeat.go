// Package heartbeat is a built-in extension that publishes a periodic
// beat. It shows how an extension uses the host collaborators: a service,
// a repeating task, event subscriptions, messaging channels and a command.
package heartbeat

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/ncobase/hostkit/extension/command"
	"github.com/ncobase/hostkit/extension/event"
	"github.com/ncobase/hostkit/extension/loader"
	"github.com/ncobase/hostkit/extension/messaging"
	"github.com/ncobase/hostkit/extension/scheduler"
	"github.com/ncobase/hostkit/extension/service"
	"github.com/ncobase/hostkit/extension/types"
	"github.com/ncobase/hostkit/logging/logger"
)

// Main is the factory key manifests use to select this extension
const Main = "hostkit.heartbeat"

// ServiceName is the service the extension provides
const ServiceName = "heartbeat"

const (
	beatChannel = "heartbeat:beat"
	pingChannel = "heartbeat:ping"
)

// KindBeat is published on every beat
var KindBeat = event.NewKind("HeartbeatBeat", nil)

// BeatEvent carries the beat counter
type BeatEvent struct {
	event.Base
	Count int64
}

// Host holds the collaborators the extension registers with
type Host struct {
	Bus       *event.Bus
	Scheduler *scheduler.Scheduler
	Services  *service.Registry
	Messenger *messaging.Messenger
	// Interval between beats, defaults to 30s
	Interval time.Duration
}

// Heartbeat is the runtime instance
type Heartbeat struct {
	*types.Base
	host  *Host
	beats atomic.Int64
	pings atomic.Int64
}

// Register binds the heartbeat factory to factories
func Register(factories *loader.Factories, host *Host) error {
	if host == nil || host.Bus == nil || host.Scheduler == nil || host.Services == nil || host.Messenger == nil {
		return fmt.Errorf("heartbeat needs a bus, scheduler, services and messenger")
	}
	return factories.Register(Main, func(desc *types.Descriptor) (types.Extension, error) {
		return New(desc, host), nil
	})
}

// New creates a heartbeat bound to desc
func New(desc *types.Descriptor, host *Host) *Heartbeat {
	return &Heartbeat{Base: types.NewBase(desc), host: host}
}

// Beats returns the number of beats published so far
func (h *Heartbeat) Beats() int64 { return h.beats.Load() }

// Pings returns the number of ping messages received
func (h *Heartbeat) Pings() int64 { return h.pings.Load() }

// OnEnable wires the extension into the host
func (h *Heartbeat) OnEnable(ctx context.Context) error {
	if _, err := h.host.Services.Register(ctx, ServiceName, h, h, service.Normal); err != nil {
		return err
	}

	for _, kind := range []*event.Kind{event.KindExtensionEnable, event.KindExtensionDisable} {
		if _, err := h.host.Bus.Subscribe(kind, h, h, event.Monitor, false, h.onLifecycle); err != nil {
			return err
		}
	}

	if err := h.host.Messenger.RegisterOutgoing(h, beatChannel); err != nil {
		return err
	}
	if _, err := h.host.Messenger.RegisterIncoming(h, pingChannel, h.onPing); err != nil {
		return err
	}

	interval := h.host.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if _, err := h.host.Scheduler.RunTaskTimer(h, h.beat, interval, interval); err != nil {
		return err
	}

	logger.Infof(ctx, "Heartbeat every %s", interval)
	return nil
}

func (h *Heartbeat) beat(ctx context.Context) error {
	count := h.beats.Add(1)
	if err := h.host.Bus.Publish(ctx, &BeatEvent{Base: event.NewAsyncBase(KindBeat), Count: count}); err != nil {
		return err
	}
	return h.host.Messenger.Send(ctx, h, beatChannel, []byte(strconv.FormatInt(count, 10)))
}

func (h *Heartbeat) onLifecycle(ctx context.Context, ev event.Event) error {
	e, ok := ev.(*event.ExtensionEvent)
	if !ok || e.Extension == nil {
		return nil
	}
	logger.Debugf(ctx, "Observed %s of %s", ev.Kind(), e.Extension.Name())
	return nil
}

func (h *Heartbeat) onPing(ctx context.Context, channel string, source any, msg []byte) error {
	h.pings.Add(1)
	logger.Debugf(ctx, "Ping on %s from %v: %s", channel, source, msg)
	return nil
}

// OnCommand handles the beats command
func (h *Heartbeat) OnCommand(_ context.Context, sender command.Sender, _ *command.Command, _ string, args []string) (bool, error) {
	if len(args) > 0 {
		return false, nil
	}
	logger.Infof(nil, "%s asked for beats: %d", sender.Name(), h.Beats())
	return true, nil
}
