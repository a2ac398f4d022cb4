package lookup

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phillip-england/hrsuite/internal/combobox"
)

type fakeSearch struct {
	mu      sync.Mutex
	queries []string
}

func (f *fakeSearch) search(_ context.Context, query string) ([]combobox.Option, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.mu.Unlock()

	all := []combobox.Option{
		{ID: "e1", Name: "Wendy Li", Code: "wendy@example.com"},
		{ID: "e2", Name: "Walter Ng", Code: "walter@example.com"},
		{ID: "e3", Name: "Ada Byron"},
	}
	var out []combobox.Option
	for _, opt := range all {
		if strings.Contains(strings.ToLower(opt.Name), strings.ToLower(query)) {
			out = append(out, opt)
		}
	}
	return out, nil
}

func newTestModel(t *testing.T) (*Model, *fakeSearch) {
	t.Helper()
	fs := &fakeSearch{}
	m := New(Config{Label: "Employee", Search: fs.search, Debounce: 10 * time.Millisecond})
	t.Cleanup(m.shutdown)
	return m, fs
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case "up":
		return tea.KeyMsg{Type: tea.KeyUp}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "ctrl+u":
		return tea.KeyMsg{Type: tea.KeyCtrlU}
	case "ctrl+c":
		return tea.KeyMsg{Type: tea.KeyCtrlC}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestModel_InitShowsDefaultSuggestions(t *testing.T) {
	m, fs := newTestModel(t)
	m.Init()
	m.box.Wait()
	m.Update(refreshMsg{})

	assert.Equal(t, []string{""}, fs.queries)
	out := m.View()
	assert.Contains(t, out, "Employee")
	assert.Contains(t, out, "> Wendy Li")
	assert.Contains(t, out, "Ada Byron")
}

func TestModel_TypingSearchesAfterDebounce(t *testing.T) {
	m, fs := newTestModel(t)
	m.Init()
	m.box.Wait()

	m.Update(key("w"))
	m.Update(key("a"))
	assert.Equal(t, "wa", m.box.View().Text)

	require.Eventually(t, func() bool {
		fs.mu.Lock()
		defer fs.mu.Unlock()
		return fs.queries[len(fs.queries)-1] == "wa"
	}, time.Second, 5*time.Millisecond)
	m.box.Wait()
	m.Update(refreshMsg{})

	view := m.box.View()
	require.Len(t, view.Options, 1)
	assert.Equal(t, "Walter Ng", view.Options[0].Name)
}

func TestModel_SelectThenConfirm(t *testing.T) {
	m, _ := newTestModel(t)
	m.Init()
	m.box.Wait()
	m.Update(refreshMsg{})

	m.Update(key("down"))
	_, cmd := m.Update(key("enter"))
	assert.Nil(t, cmd)

	opt, ok := m.Selected()
	require.True(t, ok)
	assert.Equal(t, "e2", opt.ID)
	assert.Equal(t, "Walter Ng", m.input.Value())
	assert.False(t, m.box.View().Open)
	assert.Equal(t, "e2", m.box.View().Value)

	_, cmd = m.Update(key("enter"))
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}

func TestModel_ClearDropsSelection(t *testing.T) {
	m, _ := newTestModel(t)
	m.Init()
	m.box.Wait()
	m.Update(refreshMsg{})
	m.Update(key("enter"))

	m.Update(key("ctrl+u"))
	_, ok := m.Selected()
	assert.False(t, ok)
	assert.Equal(t, "", m.input.Value())
	assert.Equal(t, "", m.box.View().Value)
}

func TestModel_EscDismissesThenQuits(t *testing.T) {
	m, _ := newTestModel(t)
	m.Init()
	m.box.Wait()

	_, cmd := m.Update(key("esc"))
	assert.Nil(t, cmd)
	assert.False(t, m.box.View().Open)

	_, cmd = m.Update(key("esc"))
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
	assert.Equal(t, "", m.View())
}

func TestModel_CursorStaysInRange(t *testing.T) {
	m, _ := newTestModel(t)
	m.Init()
	m.box.Wait()
	m.Update(refreshMsg{})

	for i := 0; i < 10; i++ {
		m.Update(key("down"))
	}
	assert.Equal(t, 2, m.cursor)
	for i := 0; i < 10; i++ {
		m.Update(key("up"))
	}
	assert.Equal(t, 0, m.cursor)
}

func TestWaitForUpdate_StopsOnShutdown(t *testing.T) {
	m, _ := newTestModel(t)
	cmd := m.waitForUpdate()
	m.shutdown()
	assert.Nil(t, cmd())
}
