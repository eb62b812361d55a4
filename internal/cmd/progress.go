package cmd

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Iron-Ham/conductor/internal/event"
)

// subscribeProgress prints one line per settled unit of work to w.
func subscribeProgress(bus *event.Bus, w io.Writer) {
	st := newStyles(w)
	var mu sync.Mutex
	printf := func(format string, args ...any) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(w, format+"\n", args...)
	}

	bus.Subscribe(event.TypeStageFinished, func(e event.Event) {
		ev := e.(event.StageFinishedEvent)
		printf("%s %s/%s %s (attempts: %d)", st.Muted.Render("stage"), ev.Pipeline, ev.Stage, st.code(ev.Code), ev.Attempts)
	})
	bus.Subscribe(event.TypeWorkerFinished, func(e event.Event) {
		ev := e.(event.WorkerFinishedEvent)
		printf("%s %s %s", st.Muted.Render("worker"), ev.Domain, st.code(ev.Code))
	})
	bus.Subscribe(event.TypePhaseFinished, func(e event.Event) {
		ev := e.(event.PhaseFinishedEvent)
		if ev.Skipped {
			printf("%s %s %s", st.Muted.Render("phase"), ev.Phase, st.Warning.Render("skipped"))
			return
		}
		printf("%s %s %s", st.Muted.Render("phase"), ev.Phase, st.code(ev.Code))
	})
	bus.Subscribe(event.TypeCircuitDenied, func(e event.Event) {
		ev := e.(event.CircuitDeniedEvent)
		printf("%s %s open until %s", st.Error.Render("circuit"), ev.AgentType, ev.RetryAfter.Format(time.Kitchen))
	})
	bus.Subscribe(event.TypeCampaignTransition, func(e event.Event) {
		ev := e.(event.CampaignTransitionEvent)
		printf("%s %s → %s", st.Title.Render("campaign"), ev.From, ev.To)
	})
}
