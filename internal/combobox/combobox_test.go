package combobox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// manualScheduler fires timers only when the test advances its clock.
type manualScheduler struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*manualTimer
}

type manualTimer struct {
	at      time.Duration
	f       func()
	stopped bool
	fired   bool
	sched   *manualScheduler
}

func (t *manualTimer) Stop() bool {
	t.sched.mu.Lock()
	defer t.sched.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

func (s *manualScheduler) AfterFunc(d time.Duration, f func()) stopper {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &manualTimer{at: s.now + d, f: f, sched: s}
	s.timers = append(s.timers, t)
	return t
}

func (s *manualScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	s.now += d
	var due []*manualTimer
	for _, t := range s.timers {
		if !t.stopped && !t.fired && t.at <= s.now {
			t.fired = true
			due = append(due, t)
		}
	}
	s.mu.Unlock()
	for _, t := range due {
		t.f()
	}
}

// recordingSearch filters a fixed option set and records every query it sees.
type recordingSearch struct {
	mu      sync.Mutex
	options []Option
	queries []string
	err     error
}

func (r *recordingSearch) Search(_ context.Context, query string) ([]Option, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queries = append(r.queries, query)
	if r.err != nil {
		return nil, r.err
	}
	var out []Option
	needle := strings.ToLower(query)
	for _, opt := range r.options {
		if strings.Contains(strings.ToLower(opt.Name), needle) {
			out = append(out, opt)
		}
	}
	return out, nil
}

func (r *recordingSearch) Queries() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.queries...)
}

type changeRecorder struct {
	mu  sync.Mutex
	ids []string
}

func (c *changeRecorder) OnChange(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = append(c.ids, id)
}

func (c *changeRecorder) IDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.ids...)
}

var twoOptions = []Option{
	{ID: "1", Name: "Option 1"},
	{ID: "2", Name: "Option 2"},
}

func newTestCombobox(t *testing.T, search SearchFunc, onChange func(string)) (*Combobox, *manualScheduler) {
	t.Helper()
	sched := &manualScheduler{}
	cb := newWithScheduler(Config{
		Label:    "Manager",
		OnSearch: search,
		OnChange: onChange,
	}, sched)
	t.Cleanup(cb.Close)
	return cb, sched
}

func TestNew_Defaults(t *testing.T) {
	cb := New(Config{Label: "Employee"})
	defer cb.Close()

	view := cb.View()
	assert.Equal(t, "Employee", view.Label)
	assert.Equal(t, DefaultPlaceholder, view.Placeholder)
	assert.Equal(t, DefaultDebounce, cb.debounce)
	assert.False(t, view.Open)
	assert.Empty(t, view.Options)
	assert.NotNil(t, cb.logger)
}

func TestFocus_SearchesDefaultSuggestionsOnce(t *testing.T) {
	search := &recordingSearch{options: twoOptions}
	cb, _ := newTestCombobox(t, search.Search, nil)

	cb.Focus()
	cb.Wait()

	view := cb.View()
	assert.True(t, view.Open)
	assert.Equal(t, twoOptions, view.Options)
	assert.Equal(t, []string{""}, search.Queries())

	cb.Dismiss()
	cb.Focus()
	cb.Wait()
	assert.Equal(t, []string{""}, search.Queries(), "options already loaded")
}

func TestInput_SearchesAfterDebounceAndNotBefore(t *testing.T) {
	search := &recordingSearch{options: twoOptions}
	cb, sched := newTestCombobox(t, search.Search, nil)

	cb.Input("  Option ")
	sched.Advance(DefaultDebounce - time.Millisecond)
	cb.Wait()
	assert.Empty(t, search.Queries())

	sched.Advance(time.Millisecond)
	cb.Wait()
	assert.Equal(t, []string{"  Option "}, search.Queries(), "query is passed untrimmed")
}

func TestInput_KeystrokeResetsDebounce(t *testing.T) {
	search := &recordingSearch{options: twoOptions}
	cb, sched := newTestCombobox(t, search.Search, nil)

	cb.Input("O")
	sched.Advance(200 * time.Millisecond)
	cb.Input("Op")
	sched.Advance(200 * time.Millisecond)
	cb.Wait()
	assert.Empty(t, search.Queries())

	sched.Advance(100 * time.Millisecond)
	cb.Wait()
	assert.Equal(t, []string{"Op"}, search.Queries())
}

func TestInput_NoSearchWhenDropdownClosed(t *testing.T) {
	search := &recordingSearch{options: twoOptions}
	cb, sched := newTestCombobox(t, search.Search, nil)

	cb.Input("Opt")
	cb.Dismiss()
	sched.Advance(time.Second)
	cb.Wait()
	assert.Empty(t, search.Queries())
}

func TestSearch_RepeatedQueryIsServedFromCache(t *testing.T) {
	search := &recordingSearch{options: twoOptions}
	cb, sched := newTestCombobox(t, search.Search, nil)

	cb.Input("Option 1")
	sched.Advance(DefaultDebounce)
	cb.Wait()
	cb.Input("Option")
	sched.Advance(DefaultDebounce)
	cb.Wait()
	cb.Input("OPTION 1")
	sched.Advance(DefaultDebounce)
	cb.Wait()

	assert.Equal(t, []string{"Option 1", "Option"}, search.Queries())
	assert.Equal(t, []Option{{ID: "1", Name: "Option 1"}}, cb.View().Options)
}

func TestSearch_OldestQueryEvictedAfterElevenDistinct(t *testing.T) {
	search := &recordingSearch{options: twoOptions}
	cb, sched := newTestCombobox(t, search.Search, nil)

	for i := 0; i < 11; i++ {
		cb.Input(fmt.Sprintf("q%d", i))
		sched.Advance(DefaultDebounce)
		cb.Wait()
	}
	require.Len(t, search.Queries(), 11)

	cb.Input("q1")
	sched.Advance(DefaultDebounce)
	cb.Wait()
	assert.Len(t, search.Queries(), 11, "q1 is still cached")

	cb.Input("q0")
	sched.Advance(DefaultDebounce)
	cb.Wait()
	queries := search.Queries()
	require.Len(t, queries, 12)
	assert.Equal(t, "q0", queries[11])
}

func TestSelect_ReportsIDOnceAndCloses(t *testing.T) {
	search := &recordingSearch{options: twoOptions}
	changes := &changeRecorder{}
	cb, _ := newTestCombobox(t, search.Search, changes.OnChange)

	cb.Focus()
	cb.Wait()
	cb.Select(twoOptions[1])

	view := cb.View()
	assert.Equal(t, []string{"2"}, changes.IDs())
	assert.Equal(t, "Option 2", view.Text)
	assert.Equal(t, "2", view.Value)
	assert.True(t, view.Selected)
	assert.False(t, view.Open)
}

func TestClear_ReportsEmptyAndKeepsCache(t *testing.T) {
	search := &recordingSearch{options: twoOptions}
	changes := &changeRecorder{}
	cb, _ := newTestCombobox(t, search.Search, changes.OnChange)

	cb.Focus()
	cb.Wait()
	cb.Select(twoOptions[0])
	cb.Clear()

	view := cb.View()
	assert.Equal(t, []string{"1", ""}, changes.IDs())
	assert.Equal(t, "", view.Text)
	assert.Equal(t, "", view.Value)
	assert.False(t, view.Selected)

	cb.Focus()
	cb.Wait()
	assert.Equal(t, []string{""}, search.Queries(), "default suggestions come from the cache")
	assert.Equal(t, twoOptions, cb.View().Options)
}

func TestInput_EditingAfterSelectionClearsValue(t *testing.T) {
	search := &recordingSearch{options: twoOptions}
	changes := &changeRecorder{}
	cb, _ := newTestCombobox(t, search.Search, changes.OnChange)

	cb.Select(twoOptions[0])
	cb.Input("Option")
	cb.Input("Optio")

	view := cb.View()
	assert.Equal(t, []string{"1", ""}, changes.IDs())
	assert.Equal(t, "Optio", view.Text)
	assert.Equal(t, "", view.Value)
	assert.False(t, view.Selected)
}

func TestSearch_RejectionBecomesEmptyOptions(t *testing.T) {
	search := &recordingSearch{options: twoOptions, err: errors.New("boom")}
	cb, sched := newTestCombobox(t, search.Search, nil)

	cb.Focus()
	cb.Wait()
	assert.Empty(t, cb.View().Options)
	assert.False(t, cb.View().Loading)

	cb.Input("Option")
	sched.Advance(DefaultDebounce)
	cb.Wait()
	assert.Empty(t, cb.View().Options)

	cb.Input("Option")
	sched.Advance(DefaultDebounce)
	cb.Wait()
	assert.Equal(t, []string{"", "Option", "Option"}, search.Queries(), "failures are not cached")
}

func TestSearch_PanicIsContained(t *testing.T) {
	cb, _ := newTestCombobox(t, func(context.Context, string) ([]Option, error) {
		panic("search exploded")
	}, nil)

	assert.NotPanics(t, func() {
		cb.Focus()
		cb.Wait()
	})
	assert.Empty(t, cb.View().Options)
}

func TestSearch_LateResponseDoesNotOverwriteNewerResults(t *testing.T) {
	release := make(chan struct{})
	search := func(_ context.Context, query string) ([]Option, error) {
		if query == "slow" {
			<-release
			return []Option{{ID: "slow", Name: "slow"}}, nil
		}
		return []Option{{ID: "fast", Name: "fast"}}, nil
	}
	cb, sched := newTestCombobox(t, search, nil)

	cb.Input("slow")
	sched.Advance(DefaultDebounce)
	cb.Input("fast")
	sched.Advance(DefaultDebounce)

	require.Eventually(t, func() bool {
		opts := cb.View().Options
		return len(opts) == 1 && opts[0].ID == "fast"
	}, time.Second, time.Millisecond)

	close(release)
	cb.Wait()
	assert.Equal(t, []Option{{ID: "fast", Name: "fast"}}, cb.View().Options)

	cb.Input("slow")
	sched.Advance(DefaultDebounce)
	cb.Wait()
	assert.Equal(t, []Option{{ID: "slow", Name: "slow"}}, cb.View().Options, "late result was still cached")
}

func TestDisabled_IgnoresInteraction(t *testing.T) {
	search := &recordingSearch{options: twoOptions}
	changes := &changeRecorder{}
	sched := &manualScheduler{}
	cb := newWithScheduler(Config{OnSearch: search.Search, OnChange: changes.OnChange, Disabled: true}, sched)
	defer cb.Close()

	cb.Focus()
	cb.Input("Option")
	cb.Select(twoOptions[0])
	sched.Advance(time.Second)
	cb.Wait()

	assert.Empty(t, search.Queries())
	assert.Empty(t, changes.IDs())
	assert.True(t, cb.View().Disabled)
}

func TestSetValue_ControlledByOwner(t *testing.T) {
	search := &recordingSearch{options: twoOptions}
	changes := &changeRecorder{}
	cb, _ := newTestCombobox(t, search.Search, changes.OnChange)

	cb.Focus()
	cb.Wait()
	cb.SetValue("2")
	view := cb.View()
	assert.Equal(t, "2", view.Value)
	assert.Equal(t, "Option 2", view.Text)

	cb.SetValue("")
	view = cb.View()
	assert.Equal(t, "", view.Value)
	assert.Equal(t, "", view.Text)
	assert.Empty(t, changes.IDs(), "controlled updates are not echoed")
}

func TestInput_EditingOwnerSuppliedValueReportsEmpty(t *testing.T) {
	changes := &changeRecorder{}
	sched := &manualScheduler{}
	cb := newWithScheduler(Config{
		Value:    "7",
		OnSearch: (&recordingSearch{options: twoOptions}).Search,
		OnChange: changes.OnChange,
	}, sched)
	t.Cleanup(cb.Close)

	cb.Input("abc")
	view := cb.View()
	assert.Equal(t, "", view.Value)
	assert.Equal(t, "abc", view.Text)
	assert.Equal(t, []string{""}, changes.IDs())

	cb.Input("abcd")
	assert.Equal(t, []string{""}, changes.IDs(), "already empty")
}

func TestSetValue_UnloadedIDClearsStaleText(t *testing.T) {
	search := &recordingSearch{options: twoOptions}
	changes := &changeRecorder{}
	cb, _ := newTestCombobox(t, search.Search, changes.OnChange)

	cb.Focus()
	cb.Wait()
	cb.Select(twoOptions[0])
	cb.SetValue("99")

	view := cb.View()
	assert.Equal(t, "99", view.Value)
	assert.Equal(t, "", view.Text)
	assert.False(t, view.Selected)

	cb.Input("x")
	assert.Equal(t, []string{"1", ""}, changes.IDs())
	assert.Equal(t, "", cb.View().Value)
}

func TestFocus_NoSecondSearchWhileDefaultIsLoading(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	var calls int
	search := func(_ context.Context, query string) ([]Option, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		<-release
		return twoOptions, nil
	}
	cb, _ := newTestCombobox(t, search, nil)

	cb.Focus()
	cb.Dismiss()
	cb.Focus()
	assert.True(t, cb.View().Loading)

	close(release)
	cb.Wait()
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
	assert.Equal(t, twoOptions, cb.View().Options)
}

func TestClose_CancelsPendingWork(t *testing.T) {
	search := &recordingSearch{options: twoOptions}
	sched := &manualScheduler{}
	cb := newWithScheduler(Config{OnSearch: search.Search}, sched)

	cb.Input("Option")
	cb.Close()
	sched.Advance(time.Second)

	assert.Empty(t, search.Queries())
	cb.Focus()
	assert.False(t, cb.View().Open)
}

func TestOnUpdate_CalledWhenSearchCompletes(t *testing.T) {
	var mu sync.Mutex
	updates := 0
	search := &recordingSearch{options: twoOptions}
	cb := newWithScheduler(Config{
		OnSearch: search.Search,
		OnUpdate: func() {
			mu.Lock()
			updates++
			mu.Unlock()
		},
	}, &manualScheduler{})
	defer cb.Close()

	cb.Focus()
	cb.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, updates, 2, "one for opening, one for results")
}

func TestScenario_FocusTypePick(t *testing.T) {
	search := &recordingSearch{options: twoOptions}
	changes := &changeRecorder{}
	cb, sched := newTestCombobox(t, search.Search, changes.OnChange)

	cb.Focus()
	cb.Wait()
	require.Equal(t, twoOptions, cb.View().Options)

	cb.Input("Option 1")
	sched.Advance(DefaultDebounce)
	cb.Wait()
	view := cb.View()
	require.Equal(t, []Option{{ID: "1", Name: "Option 1"}}, view.Options)

	cb.Select(view.Options[0])
	view = cb.View()
	assert.Equal(t, []string{"1"}, changes.IDs())
	assert.Equal(t, "Option 1", view.Text)
	assert.False(t, view.Open)
}

func TestRealTimer_DebouncedSearchRuns(t *testing.T) {
	search := &recordingSearch{options: twoOptions}
	cb := New(Config{OnSearch: search.Search, Debounce: 5 * time.Millisecond})
	defer cb.Close()

	cb.Input("Option 2")
	require.Eventually(t, func() bool {
		return len(search.Queries()) == 1
	}, time.Second, time.Millisecond)
	cb.Wait()
	assert.Equal(t, []Option{{ID: "2", Name: "Option 2"}}, cb.View().Options)
}
