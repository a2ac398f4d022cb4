// Package combobox provides a headless asynchronous search-and-pick input.
//
// A Combobox owns the free-text query, the debounce timer, a small per-instance
// result cache and the currently selected option. Hosts (terminal models, web
// handlers, tests) drive it through Focus, Input, Select, Clear and Dismiss and
// read back a View snapshot to render. Only the selected option's ID is ever
// reported upward through OnChange.
package combobox

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultPlaceholder is shown when the caller does not supply one.
	DefaultPlaceholder = "Search..."
	// DefaultDebounce is the idle time after the last keystroke before searching.
	DefaultDebounce = 300 * time.Millisecond

	cacheLimit = 10
)

// Option is a single pickable search result.
type Option struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Code string `json:"code,omitempty"`
}

// SearchFunc returns the options matching query. It receives the query exactly
// as typed, untrimmed.
type SearchFunc func(ctx context.Context, query string) ([]Option, error)

// Config holds the caller-supplied contract of a Combobox.
type Config struct {
	Label       string
	Placeholder string

	// Value is the initially selected ID.
	Value    string
	OnChange func(id string)
	OnSearch SearchFunc

	Error    string
	Disabled bool

	// Debounce defaults to 300ms if not set.
	Debounce time.Duration

	// OnUpdate is invoked, outside of any lock, whenever the visible state
	// changes, including when an asynchronous search completes.
	OnUpdate func()

	Logger *zap.Logger
}

// View is a point-in-time snapshot for rendering.
type View struct {
	Label       string
	Placeholder string
	Text        string
	Open        bool
	Loading     bool
	Options     []Option
	Value       string
	Selected    bool
	Error       string
	Disabled    bool
}

// Combobox is safe for concurrent use.
type Combobox struct {
	mu sync.Mutex

	label       string
	placeholder string
	errText     string
	disabled    bool
	debounce    time.Duration

	onChange func(string)
	onSearch SearchFunc
	onUpdate func()
	logger   *zap.Logger
	sched    scheduler

	value    string
	text     string
	selected *Option
	options  []Option
	open     bool
	loading  bool
	cache    *resultCache

	timer    stopper
	timerGen uint64
	// searchSeq identifies the latest issued search; only its results may
	// replace the visible options.
	searchSeq uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

// New creates a Combobox in the closed state.
func New(cfg Config) *Combobox {
	return newWithScheduler(cfg, timeScheduler{})
}

func newWithScheduler(cfg Config, sched scheduler) *Combobox {
	placeholder := cfg.Placeholder
	if placeholder == "" {
		placeholder = DefaultPlaceholder
	}
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Combobox{
		label:       cfg.Label,
		placeholder: placeholder,
		errText:     cfg.Error,
		disabled:    cfg.Disabled,
		debounce:    debounce,
		onChange:    cfg.OnChange,
		onSearch:    cfg.OnSearch,
		onUpdate:    cfg.OnUpdate,
		logger:      logger,
		sched:       sched,
		value:       cfg.Value,
		options:     []Option{},
		cache:       newResultCache(cacheLimit),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// View returns a snapshot of the current state.
func (c *Combobox) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return View{
		Label:       c.label,
		Placeholder: c.placeholder,
		Text:        c.text,
		Open:        c.open,
		Loading:     c.loading,
		Options:     cloneOptions(c.options),
		Value:       c.value,
		Selected:    c.selected != nil,
		Error:       c.errText,
		Disabled:    c.disabled,
	}
}

// Focus opens the dropdown. With nothing loaded and an empty query it runs a
// search for "" to show the default suggestions.
func (c *Combobox) Focus() {
	c.mu.Lock()
	if c.disabled || c.closed {
		c.mu.Unlock()
		return
	}
	c.open = true
	if len(c.options) == 0 && c.text == "" && !c.loading {
		c.searchLocked("")
	}
	c.mu.Unlock()
	c.notify()
}

// Input replaces the query text. Editing the text while a value is set, whether
// picked here or supplied by the owner, clears it and reports an empty ID. A
// search for the current text runs once the debounce interval passes without
// further input.
func (c *Combobox) Input(text string) {
	c.mu.Lock()
	if c.disabled || c.closed {
		c.mu.Unlock()
		return
	}
	deselected := false
	if c.selected != nil || c.value != "" {
		c.selected = nil
		c.value = ""
		deselected = true
	}
	c.text = text
	c.open = true
	c.resetTimerLocked()
	c.mu.Unlock()

	if deselected {
		c.emitChange("")
	}
	c.notify()
}

// Select picks opt, shows its name, reports its ID and closes the dropdown.
func (c *Combobox) Select(opt Option) {
	c.mu.Lock()
	if c.disabled || c.closed {
		c.mu.Unlock()
		return
	}
	c.stopTimerLocked()
	picked := opt
	c.selected = &picked
	c.value = opt.ID
	c.text = opt.Name
	c.open = false
	c.mu.Unlock()

	c.emitChange(opt.ID)
	c.notify()
}

// Clear drops the selection and query and reports an empty ID. The result
// cache survives; loaded options do not, so the next Focus searches again.
func (c *Combobox) Clear() {
	c.mu.Lock()
	if c.disabled || c.closed {
		c.mu.Unlock()
		return
	}
	c.stopTimerLocked()
	c.selected = nil
	c.value = ""
	c.text = ""
	c.options = []Option{}
	c.loading = false
	c.searchSeq++
	c.mu.Unlock()

	c.emitChange("")
	c.notify()
}

// Dismiss closes the dropdown. Hosts call it when the user interacts outside
// the widget.
func (c *Combobox) Dismiss() {
	c.mu.Lock()
	if c.closed || !c.open {
		c.mu.Unlock()
		return
	}
	c.stopTimerLocked()
	c.open = false
	c.mu.Unlock()
	c.notify()
}

// SetValue applies a controlled value from the owner without reporting it
// back through OnChange.
func (c *Combobox) SetValue(id string) {
	c.mu.Lock()
	if c.closed || id == c.value {
		c.mu.Unlock()
		return
	}
	c.value = id
	switch {
	case id == "":
		if c.selected != nil {
			c.selected = nil
			c.text = ""
		}
	default:
		// An id that is not loaded has no name to show.
		c.selected = nil
		c.text = ""
		for _, opt := range c.options {
			if opt.ID == id {
				picked := opt
				c.selected = &picked
				c.text = opt.Name
				break
			}
		}
	}
	c.mu.Unlock()
	c.notify()
}

// SetError replaces the validation message shown under the input.
func (c *Combobox) SetError(message string) {
	c.mu.Lock()
	c.errText = message
	c.mu.Unlock()
	c.notify()
}

// SetDisabled toggles whether user interaction is accepted.
func (c *Combobox) SetDisabled(disabled bool) {
	c.mu.Lock()
	c.disabled = disabled
	if disabled {
		c.stopTimerLocked()
		c.open = false
	}
	c.mu.Unlock()
	c.notify()
}

// Wait blocks until every search started so far has finished.
func (c *Combobox) Wait() {
	c.wg.Wait()
}

// Close stops the debounce timer, cancels in-flight searches and waits for
// them to return. The Combobox ignores all calls afterwards.
func (c *Combobox) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.open = false
	c.stopTimerLocked()
	c.cancel()
	c.mu.Unlock()
	c.wg.Wait()
}

func (c *Combobox) resetTimerLocked() {
	c.stopTimerLocked()
	gen := c.timerGen
	c.timer = c.sched.AfterFunc(c.debounce, func() { c.fire(gen) })
}

func (c *Combobox) stopTimerLocked() {
	c.timerGen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Combobox) fire(gen uint64) {
	c.mu.Lock()
	if c.closed || gen != c.timerGen {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	if !c.open {
		c.mu.Unlock()
		return
	}
	c.searchLocked(c.text)
	c.mu.Unlock()
	c.notify()
}

// searchLocked serves query from the cache or starts an asynchronous search.
func (c *Combobox) searchLocked(query string) {
	key := strings.ToLower(query)
	c.searchSeq++
	seq := c.searchSeq

	if cached, ok := c.cache.get(key); ok {
		c.logger.Debug("combobox cache hit",
			zap.String("label", c.label),
			zap.String("query", query),
		)
		c.options = cached
		c.loading = false
		return
	}

	c.loading = true
	c.wg.Add(1)
	go c.runSearch(c.ctx, seq, query, key)
}

func (c *Combobox) runSearch(ctx context.Context, seq uint64, query, key string) {
	defer c.wg.Done()

	opts, err := c.callSearch(ctx, query)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if err != nil {
		c.logger.Warn("combobox search failed",
			zap.String("label", c.label),
			zap.String("query", query),
			zap.Error(err),
		)
		opts = []Option{}
	} else {
		c.cache.put(key, opts)
	}
	if seq != c.searchSeq {
		c.logger.Debug("discarding stale combobox results",
			zap.Uint64("expectedSeq", c.searchSeq),
			zap.Uint64("actualSeq", seq),
		)
		c.mu.Unlock()
		return
	}
	c.options = cloneOptions(opts)
	c.loading = false
	c.mu.Unlock()
	c.notify()
}

// callSearch shields the combobox from a misbehaving search function.
func (c *Combobox) callSearch(ctx context.Context, query string) (opts []Option, err error) {
	if c.onSearch == nil {
		return []Option{}, nil
	}
	defer func() {
		if r := recover(); r != nil {
			opts = nil
			err = fmt.Errorf("search panicked: %v", r)
		}
	}()
	return c.onSearch(ctx, query)
}

func (c *Combobox) emitChange(id string) {
	if c.onChange != nil {
		c.onChange(id)
	}
}

func (c *Combobox) notify() {
	if c.onUpdate != nil {
		c.onUpdate()
	}
}
